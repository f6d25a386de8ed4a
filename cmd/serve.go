package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kozaktomas/face-scan/internal/catalog"
	"github.com/kozaktomas/face-scan/internal/config"
	"github.com/kozaktomas/face-scan/internal/constants"
	"github.com/kozaktomas/face-scan/internal/database"
	"github.com/kozaktomas/face-scan/internal/database/postgres"
	"github.com/kozaktomas/face-scan/internal/detector"
	"github.com/kozaktomas/face-scan/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start the Face Scan HTTP API.

The server manages named candidate sets and runs pooled scans as async jobs
with progress streamed over server-sent events. When DATABASE_URL is set,
detected templates are persisted to PostgreSQL and indexed for nearest
template lookups; otherwise everything is kept in memory.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (0 = WEB_PORT or default)")
	serveCmd.Flags().String("host", "", "Host to bind to (empty = WEB_HOST or default)")
}

// initTemplateIndexes loads or builds the HNSW index of every persisted set.
func initTemplateIndexes(ctx context.Context, repo *postgres.TemplateRepository, indexDir string, logger *zap.Logger) {
	sets, err := repo.ListSets(ctx)
	if err != nil {
		logger.Warn("failed to list template sets, nearest lookups will use PostgreSQL", zap.Error(err))
		return
	}

	rebuilder := database.GetIndexRebuilder()
	for _, s := range sets {
		loaded, err := repo.LoadIndex(ctx, indexDir, s.Name)
		if err != nil {
			logger.Warn("failed to load template index", zap.String("set", s.Name), zap.Error(err))
		}
		if !loaded && rebuilder != nil {
			if err := rebuilder.RebuildIndex(ctx, s.Name); err != nil {
				logger.Warn("failed to build template index", zap.String("set", s.Name), zap.Error(err))
				continue
			}
		}
		count := 0
		if rebuilder != nil {
			count = rebuilder.IndexCount(s.Name)
		}
		logger.Info("template index ready",
			zap.String("set", s.Name),
			zap.Int("templates", count),
			zap.Bool("loaded", loaded))
	}
}

// saveTemplateIndexes writes every built index to disk during shutdown.
func saveTemplateIndexes(repo *postgres.TemplateRepository, indexDir string, logger *zap.Logger) {
	if repo == nil || indexDir == "" {
		return
	}
	if err := repo.SaveIndexes(indexDir); err != nil {
		logger.Warn("failed to save template indexes", zap.Error(err))
		return
	}
	logger.Info("template indexes saved", zap.String("dir", indexDir))
}

// resolveServeAddr applies --host and --port over the configuration.
func resolveServeAddr(cmd *cobra.Command, cfg *config.Config) {
	if port := mustGetInt(cmd, "port"); port > 0 {
		cfg.Web.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		cfg.Web.Host = host
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	resolveServeAddr(cmd, cfg)

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, closeStore, err := openTemplateStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	var cat *catalog.Catalog
	if pg != nil {
		initTemplateIndexes(ctx, pg, cfg.Database.HNSWIndexPath, logger)
		cat = catalog.New(pg, logger)
		logger.Info("using PostgreSQL template store")
	} else {
		cat = catalog.New(nil, logger)
		logger.Info("DATABASE_URL not set, templates are kept in memory")
	}

	det := detector.NewClient(cfg.Detector.URL, cfg.Detector.Timeout, logger).WithMaxDimension(cfg.Detector.MaxDimension)
	server := web.NewServer(cfg, cat, det, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-sigChan
		logger.Info("shutting down")

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("error during shutdown", zap.Error(err))
		}

		done := make(chan struct{})
		go func() {
			saveTemplateIndexes(pg, cfg.Database.HNSWIndexPath, logger)
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(constants.IndexSaveTimeout):
			logger.Warn("timed out saving template indexes")
		}
	}()

	fmt.Printf("Starting Face Scan API on http://%s:%d\n", cfg.Web.Host, cfg.Web.Port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	<-shutdownDone
	return nil
}
