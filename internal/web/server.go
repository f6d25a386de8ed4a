package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kozaktomas/face-scan/internal/catalog"
	"github.com/kozaktomas/face-scan/internal/config"
	"github.com/kozaktomas/face-scan/internal/constants"
	"github.com/kozaktomas/face-scan/internal/scanner"
	"github.com/kozaktomas/face-scan/internal/web/handlers"
	"github.com/kozaktomas/face-scan/internal/web/middleware"
)

// Server represents the web server
type Server struct {
	config     *config.Config
	catalog    *catalog.Catalog
	detector   scanner.Detector
	logger     *zap.Logger
	router     *chi.Mux
	httpServer *http.Server
	jobManager *handlers.JobManager

	stopPrune chan struct{}
	stopOnce  sync.Once
}

// NewServer creates a new web server
func NewServer(cfg *config.Config, cat *catalog.Catalog, det scanner.Detector, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := chi.NewRouter()

	s := &Server{
		config:     cfg,
		catalog:    cat,
		detector:   det,
		logger:     logger,
		router:     r,
		jobManager: handlers.NewJobManager(),
		stopPrune:  make(chan struct{}),
	}

	// Set up middleware stack
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(5 * time.Minute))
	r.Use(middleware.CORS(cfg.Web.AllowedOrigins))

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.Web.Host, strconv.Itoa(cfg.Web.Port)),
		Handler:      r,
		ReadTimeout:  60 * time.Second, // base64 images in request bodies
		WriteTimeout: 5 * time.Minute,  // Long timeout for SSE
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start starts the HTTP server and the finished-job janitor.
func (s *Server) Start() error {
	go s.pruneJobs(constants.JobRetention)

	s.logger.Info("starting web server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown stops running scans and gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down web server")

	s.stopOnce.Do(func() { close(s.stopPrune) })
	if n := s.jobManager.CancelAll(); n > 0 {
		s.logger.Info("cancelled running scan jobs", zap.Int("count", n))
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// pruneJobs drops finished jobs older than retention until Shutdown.
func (s *Server) pruneJobs(retention time.Duration) {
	ticker := time.NewTicker(retention / 4)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopPrune:
			return
		case <-ticker.C:
			if n := s.jobManager.Prune(time.Now().Add(-retention)); n > 0 {
				s.logger.Debug("pruned finished scan jobs", zap.Int("count", n))
			}
		}
	}
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Jobs returns the job manager for testing
func (s *Server) Jobs() *handlers.JobManager {
	return s.jobManager
}
