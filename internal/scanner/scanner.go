// Package scanner resolves a contiguous range of candidate items into feature
// vectors and finds the best match for a probe inside that range.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kozaktomas/face-scan/internal/detector"
	"github.com/kozaktomas/face-scan/internal/facematch"
	"github.com/kozaktomas/face-scan/internal/landmark"
	"github.com/kozaktomas/face-scan/internal/metrics"
)

// Detector turns an image into the landmarks of its primary face.
type Detector interface {
	Detect(ctx context.Context, image []byte) (*landmark.Landmark, error)
}

// DetectorFunc adapts a function to the Detector interface.
type DetectorFunc func(ctx context.Context, image []byte) (*landmark.Landmark, error)

func (f DetectorFunc) Detect(ctx context.Context, image []byte) (*landmark.Landmark, error) {
	return f(ctx, image)
}

// State of a scanner.
type State int32

const (
	StateIdle State = iota
	StateScanning
	StateCompleted
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Request describes one partition scan. Start and End are inclusive.
type Request struct {
	WorkID string
	Probe  facematch.FeatureVector
	Items  ItemStore
	Start  int
	End    int
}

// MatchResult is the best candidate of a partition, by absolute index.
type MatchResult struct {
	Index      int
	Confidence float64
}

// Result is the outcome of a partition scan. Match is nil when the scan was
// cancelled, failed, or nothing was within the threshold.
type Result struct {
	WorkID    string
	Status    State
	Match     *MatchResult
	Processed int
}

// UpdateFunc receives every slot the scanner resolved, in index order.
// It runs on the scan goroutine and must not block.
type UpdateFunc func(index int, slot Slot)

// Config tunes matching.
type Config struct {
	Threshold float64
	UnitScale float64
}

// DefaultConfig returns the standard matching parameters.
func DefaultConfig() Config {
	return Config{
		Threshold: facematch.DefaultThreshold,
		UnitScale: landmark.UnitScale,
	}
}

// Scanner runs partition scans one at a time.
type Scanner struct {
	detector Detector
	cfg      Config
	logger   *zap.Logger
	state    atomic.Int32
}

// New creates a scanner. Zero config values are replaced by defaults.
func New(det Detector, cfg Config, logger *zap.Logger) *Scanner {
	def := DefaultConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.UnitScale <= 0 {
		cfg.UnitScale = def.UnitScale
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{detector: det, cfg: cfg, logger: logger}
}

// State returns the state of the current or last scan.
func (s *Scanner) State() State {
	return State(s.state.Load())
}

// Scan walks [req.Start, req.End] in ascending order. Cancelling ctx stops the scan
// before the next index; the detector call for the current index always finishes.
// Scan never returns an error: faults are logged and reported as StateFailed with
// no match.
func (s *Scanner) Scan(ctx context.Context, req Request, onUpdate UpdateFunc) (res Result) {
	started := time.Now()
	logger := s.logger.With(zap.String("work", req.WorkID), zap.Int("start", req.Start), zap.Int("end", req.End))
	s.state.Store(int32(StateScanning))

	run := &scanRun{Scanner: s, ctx: ctx, req: req, onUpdate: onUpdate, logger: logger}
	defer func() {
		if r := recover(); r != nil {
			logger.Error("scan panicked", zap.Any("panic", r), zap.Int("processed", run.processed))
			res = Result{WorkID: req.WorkID, Status: StateFailed, Processed: run.processed}
		}
		s.state.Store(int32(res.Status))
		metrics.ScansTotal.WithLabelValues(res.Status.String()).Inc()
		metrics.ScanDurationSeconds.Observe(time.Since(started).Seconds())
		logger.Debug("scan finished",
			zap.Stringer("status", res.Status),
			zap.Int("processed", res.Processed),
			zap.Bool("matched", res.Match != nil),
			zap.Duration("elapsed", time.Since(started)))
	}()

	match, status, err := run.execute()
	if err != nil {
		logger.Error("scan failed", zap.Error(err), zap.Int("processed", run.processed))
		return Result{WorkID: req.WorkID, Status: StateFailed, Processed: run.processed}
	}
	return Result{WorkID: req.WorkID, Status: status, Match: match, Processed: run.processed}
}

// scanRun is the state of one Scan call.
type scanRun struct {
	*Scanner
	ctx       context.Context
	req       Request
	onUpdate  UpdateFunc
	logger    *zap.Logger
	processed int
}

func (r *scanRun) execute() (*MatchResult, State, error) {
	if r.req.Items == nil {
		return nil, StateCompleted, nil
	}
	start, end := clampRange(r.req.Start, r.req.End, r.req.Items.Len())
	if end < start {
		return nil, StateCompleted, nil
	}

	var (
		candidates []facematch.FeatureVector
		positions  []int
	)
	for i := start; i <= end; i++ {
		if r.ctx.Err() != nil {
			r.logger.Info("scan cancelled", zap.Int("next", i), zap.Int("processed", r.processed))
			return nil, StateCancelled, nil
		}
		fv, ok := r.resolve(i)
		r.processed++
		if !ok {
			continue
		}
		candidates = append(candidates, fv)
		positions = append(positions, i)
	}

	if len(candidates) == 0 {
		return nil, StateCompleted, nil
	}

	best, ok, err := facematch.FindBest(r.req.Probe, candidates, r.cfg.Threshold)
	if err != nil {
		return nil, StateFailed, fmt.Errorf("failed to rank candidates: %w", err)
	}
	if !ok {
		return nil, StateCompleted, nil
	}
	return &MatchResult{Index: positions[best.Index], Confidence: best.Confidence()}, StateCompleted, nil
}

// resolve returns the feature of item i, running detection on a cache miss.
// ok is false for items without a face.
func (r *scanRun) resolve(i int) (facematch.FeatureVector, bool) {
	slot := r.req.Items.Slot(i)
	switch slot.Kind {
	case SlotFeature:
		metrics.ItemsResolvedTotal.WithLabelValues(metrics.ResolutionCacheHit).Inc()
		return slot.Feature, true
	case SlotNoFace:
		metrics.ItemsResolvedTotal.WithLabelValues(metrics.ResolutionCacheHit).Inc()
		return nil, false
	}

	next := r.detect(i, slot.Raw)
	r.req.Items.SetSlot(i, next)
	if r.onUpdate != nil {
		r.onUpdate(i, next)
	}
	if next.Kind != SlotFeature {
		return nil, false
	}
	return next.Feature, true
}

func (r *scanRun) detect(i int, image []byte) Slot {
	// a stop must not abort the in-flight call for this index
	l, err := r.detector.Detect(context.WithoutCancel(r.ctx), image)
	switch {
	case errors.Is(err, detector.ErrNoFace):
		r.logger.Debug("no face", zap.Int("index", i))
	case err != nil:
		metrics.DetectorErrorsTotal.Inc()
		r.logger.Warn("detection failed", zap.Int("index", i), zap.Error(err))
	case l == nil:
		r.logger.Debug("detector returned no landmark", zap.Int("index", i))
	default:
		fv := facematch.NewFace(l, r.cfg.UnitScale).Feature()
		if len(fv) > 0 {
			metrics.ItemsResolvedTotal.WithLabelValues(metrics.ResolutionDetected).Inc()
			return FeatureSlot(fv)
		}
		r.logger.Debug("face has no feature groups", zap.Int("index", i))
	}
	metrics.ItemsResolvedTotal.WithLabelValues(metrics.ResolutionNoFace).Inc()
	return NoFaceSlot()
}

// clampRange limits the inclusive range [start, end] to [0, n-1].
func clampRange(start, end, n int) (int, int) {
	if start < 0 {
		start = 0
	}
	if end > n-1 {
		end = n - 1
	}
	return start, end
}
