package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kozaktomas/face-scan/internal/catalog"
	"github.com/kozaktomas/face-scan/internal/config"
	"github.com/kozaktomas/face-scan/internal/constants"
	"github.com/kozaktomas/face-scan/internal/database/postgres"
	"github.com/kozaktomas/face-scan/internal/detector"
	"github.com/kozaktomas/face-scan/internal/facematch"
	"github.com/kozaktomas/face-scan/internal/worker"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Find the best match for a probe face in a directory of images",
	Long: `Scan a directory of candidate images for the face closest to the probe.

The candidates are split across a pool of workers. Every image is sent to the
landmark detector once; when DATABASE_URL is set the detected templates are
persisted under the set name, so later scans of the same directory skip
detection.

Examples:
  # Scan a directory with the default pool size
  face-scan scan --probe me.jpg --dir candidates/

  # Use 8 workers and a stricter threshold
  face-scan scan --probe me.jpg --dir candidates/ --workers 8 --threshold 0.05

  # Output as JSON
  face-scan scan --probe me.jpg --dir candidates/ --json`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().String("probe", "", "Path to the probe image (required)")
	scanCmd.Flags().String("dir", "", "Directory of candidate images (required)")
	scanCmd.Flags().String("set", "", "Template set name (defaults to the directory name)")
	scanCmd.Flags().Bool("json", false, "Output as JSON")
	addMatchFlags(scanCmd)
	_ = scanCmd.MarkFlagRequired("probe")
	_ = scanCmd.MarkFlagRequired("dir")
}

// ScanMatch is the winning candidate of a local scan
type ScanMatch struct {
	Index      int     `json:"index"`
	File       string  `json:"file"`
	Confidence float64 `json:"confidence"`
}

// ScanReport is the result of a local scan
type ScanReport struct {
	Set        string         `json:"set"`
	Items      int            `json:"items"`
	Detected   int            `json:"detected"`
	Status     string         `json:"status"`
	Match      *ScanMatch     `json:"match"`
	Partitions []worker.Event `json:"partitions"`
}

// isImageFile reports whether the file name has a known image extension.
func isImageFile(name string) bool {
	return slices.Contains(constants.ImageExtensions, strings.ToLower(filepath.Ext(name)))
}

// loadCandidateImages reads every image file of dir in name order.
// Oversized files are skipped.
func loadCandidateImages(dir string, logger *zap.Logger) ([]string, [][]byte, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("reading candidate directory: %w", err)
	}

	var names []string
	var images [][]byte
	for _, entry := range entries {
		if entry.IsDir() || !isImageFile(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, nil, fmt.Errorf("stat %s: %w", entry.Name(), err)
		}
		if info.Size() > constants.MaxImageFileSize {
			logger.Warn("skipping oversized image", zap.String("file", entry.Name()), zap.Int64("size", info.Size()))
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, nil, fmt.Errorf("reading %s: %w", entry.Name(), err)
		}
		names = append(names, entry.Name())
		images = append(images, data)
	}
	return names, images, nil
}

// probeFeature detects the probe face and builds its feature vector.
func probeFeature(ctx context.Context, det *detector.Client, path string, unitScale float64) (facematch.FeatureVector, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading probe image: %w", err)
	}
	l, err := det.Detect(ctx, data)
	if errors.Is(err, detector.ErrNoFace) {
		return nil, fmt.Errorf("no face found in probe image %s", path)
	}
	if err != nil {
		return nil, fmt.Errorf("detecting probe face: %w", err)
	}
	fv := facematch.NewFace(l, unitScale).Feature()
	if len(fv) == 0 {
		return nil, fmt.Errorf("probe face in %s has no usable landmarks", path)
	}
	return fv, nil
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	jsonOutput := mustGetBool(cmd, "json")
	dir := mustGetString(cmd, "dir")
	setName := mustGetString(cmd, "set")
	if setName == "" {
		setName = filepath.Base(filepath.Clean(dir))
	}
	scanCfg, workers := matchSettings(cmd, cfg)

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	det := detector.NewClient(cfg.Detector.URL, cfg.Detector.Timeout, logger).WithMaxDimension(cfg.Detector.MaxDimension)
	probe, err := probeFeature(ctx, det, mustGetString(cmd, "probe"), scanCfg.UnitScale)
	if err != nil {
		return err
	}

	names, images, err := loadCandidateImages(dir, logger)
	if err != nil {
		return err
	}
	if len(images) == 0 {
		return fmt.Errorf("no images found in %s", dir)
	}

	pg, closeStore, err := openTemplateStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()
	cat := catalog.New(nil, logger)
	if pg != nil {
		cat = catalog.New(pg, logger)
	}

	set, err := cat.Open(ctx, setName, images)
	if err != nil {
		return err
	}
	if pg != nil {
		pruneStaleTemplates(ctx, pg, set.Name(), len(images), logger)
	}

	pending := 0
	for i, n := 0, set.Len(); i < n; i++ {
		if !set.Slot(i).Resolved() {
			pending++
		}
	}
	if !jsonOutput {
		fmt.Printf("Scanning %d images (%d cached) with %d workers\n", len(images), len(images)-pending, workers)
	}

	var bar *progressbar.ProgressBar
	if !jsonOutput {
		bar = progressbar.NewOptions(pending,
			progressbar.OptionSetDescription("Detecting faces"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("images"),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionFullWidth(),
		)
	}

	pool := worker.NewPool(workers, det, scanCfg, logger)
	defer pool.Close()

	detected := 0
	out, err := pool.Scan(ctx, uuid.New().String(), probe, set, func(e worker.Event) {
		if e.Type != worker.EventUpdate {
			return
		}
		detected++
		if bar != nil {
			_ = bar.Add(1)
		}
		if cat.Persistent() {
			if perr := cat.Persist(context.WithoutCancel(ctx), set, e.Index, e.Slot); perr != nil {
				logger.Warn("failed to persist template", zap.Int("index", e.Index), zap.Error(perr))
			}
		}
	})
	if bar != nil {
		_ = bar.Finish()
		fmt.Fprintln(os.Stderr)
	}
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	report := ScanReport{
		Set:        set.Name(),
		Items:      len(images),
		Detected:   detected,
		Status:     out.Status,
		Partitions: out.Partitions,
	}
	if out.Matched != nil {
		report.Match = &ScanMatch{
			Index:      out.Matched.Label,
			File:       names[out.Matched.Label],
			Confidence: out.Matched.Confidence,
		}
	}

	if jsonOutput {
		return outputJSON(report)
	}
	printScanReport(report)
	return nil
}

// pruneStaleTemplates drops templates of indices beyond the current directory size.
func pruneStaleTemplates(ctx context.Context, pg *postgres.TemplateRepository, set string, n int, logger *zap.Logger) {
	templates, err := pg.GetTemplates(ctx, set)
	if err != nil {
		logger.Warn("failed to list templates for pruning", zap.String("set", set), zap.Error(err))
		return
	}
	var stale []int
	for _, t := range templates {
		if t.Index >= n {
			stale = append(stale, t.Index)
		}
	}
	if len(stale) == 0 {
		return
	}
	if err := pg.DeleteTemplates(ctx, set, stale); err != nil {
		logger.Warn("failed to prune stale templates", zap.String("set", set), zap.Error(err))
		return
	}
	logger.Info("pruned stale templates", zap.String("set", set), zap.Int("count", len(stale)))
}

func printScanReport(r ScanReport) {
	fmt.Printf("\nSet:      %s\n", r.Set)
	fmt.Printf("Status:   %s\n", r.Status)
	fmt.Printf("Detected: %d of %d images\n", r.Detected, r.Items)
	if r.Match == nil {
		fmt.Println("\nNo candidate within the match threshold.")
		return
	}
	fmt.Printf("\nBest match: %s (index %d, confidence %.4f)\n", r.Match.File, r.Match.Index, r.Match.Confidence)
}
