package web

import (
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kozaktomas/face-scan/internal/scanner"
	"github.com/kozaktomas/face-scan/internal/web/handlers"
)

func (s *Server) setupRoutes() {
	setsHandler := handlers.NewSetsHandler(s.catalog, s.logger)
	scansHandler := handlers.NewScansHandler(s.catalog, s.detector, scanner.Config{
		Threshold: s.config.Match.Threshold,
		UnitScale: s.config.Match.UnitScale,
	}, s.config.Scan.Workers, s.jobManager, s.logger)

	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", handlers.HealthCheck)

		// Candidate sets
		r.Post("/sets", setsHandler.Create)
		r.Get("/sets", setsHandler.List)
		r.Get("/sets/{name}", setsHandler.Get)
		r.Delete("/sets/{name}", setsHandler.Delete)
		r.Post("/sets/{name}/nearest", setsHandler.Nearest)

		// Scans (long-running operations)
		r.Post("/scans", scansHandler.Start)
		r.Get("/scans", scansHandler.List)
		r.Get("/scans/{jobId}", scansHandler.Status)
		r.Get("/scans/{jobId}/events", scansHandler.Events)
		r.Delete("/scans/{jobId}", scansHandler.Cancel)
	})
}
