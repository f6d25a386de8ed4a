package cmd

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kozaktomas/face-scan/internal/config"
	"github.com/kozaktomas/face-scan/internal/detector"
	"github.com/kozaktomas/face-scan/internal/scanner"
	"github.com/kozaktomas/face-scan/internal/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run one scan worker over stdin/stdout",
	Long: `Run a single scan worker as a child process.

Commands are read from stdin and events written to stdout as length prefixed
JSON frames (4 byte big-endian length, then the payload). Logs go to stderr.
The worker exits when stdin is closed.`,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)

	workerCmd.Flags().String("id", "worker-0", "Worker id reported in events")
	addMatchFlags(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	scanCfg, _ := matchSettings(cmd, cfg)

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	id := mustGetString(cmd, "id")
	logger = logger.With(zap.String("worker", id))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	det := detector.NewClient(cfg.Detector.URL, cfg.Detector.Timeout, logger).WithMaxDimension(cfg.Detector.MaxDimension)
	w := worker.New(id, scanner.New(det, scanCfg, logger), logger)

	logger.Info("worker started")
	if err := w.Serve(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	logger.Info("worker stopped")
	return nil
}
