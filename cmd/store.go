package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kozaktomas/face-scan/internal/config"
	"github.com/kozaktomas/face-scan/internal/database/postgres"
	"github.com/kozaktomas/face-scan/internal/scanner"
)

// openTemplateStore connects to PostgreSQL when DATABASE_URL is configured.
// It returns nil without error when templates should stay in memory.
func openTemplateStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*postgres.TemplateRepository, func(), error) {
	if cfg.Database.URL == "" {
		return nil, func() {}, nil
	}
	logger.Info("connecting to PostgreSQL")
	repo, err := postgres.Initialize(ctx, &cfg.Database, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	cleanup := func() {
		if pool := postgres.GetGlobalPool(); pool != nil {
			if err := pool.Close(); err != nil {
				logger.Warn("failed to close PostgreSQL pool", zap.Error(err))
			}
		}
	}
	return repo, cleanup, nil
}

// addMatchFlags registers the flags shared by commands that run scans.
func addMatchFlags(cmd *cobra.Command) {
	cmd.Flags().Float64("threshold", 0, "Maximum feature distance for a match (0 = MATCH_THRESHOLD or default)")
	cmd.Flags().Int("workers", 0, "Number of scan workers (0 = SCAN_WORKERS or default)")
}

// matchSettings resolves scanner config and pool size from flags over config.
func matchSettings(cmd *cobra.Command, cfg *config.Config) (scanner.Config, int) {
	sc := scanner.Config{Threshold: cfg.Match.Threshold, UnitScale: cfg.Match.UnitScale}
	if t := mustGetFloat64(cmd, "threshold"); t > 0 {
		sc.Threshold = t
	}
	workers := cfg.Scan.Workers
	if w := mustGetInt(cmd, "workers"); w > 0 {
		workers = w
	}
	return sc, workers
}
