package worker

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kozaktomas/face-scan/internal/facematch"
	"github.com/kozaktomas/face-scan/internal/scanner"
)

// Range is an inclusive index range assigned to one worker.
type Range struct {
	Start int
	End   int
}

// Len returns the number of indices in the range.
func (r Range) Len() int {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start + 1
}

// Partition splits [0, n) into at most parts contiguous, non-empty ranges whose
// sizes differ by at most one.
func Partition(n, parts int) []Range {
	if n <= 0 {
		return nil
	}
	if parts <= 0 {
		parts = 1
	}
	if parts > n {
		parts = n
	}
	size, rem := n/parts, n%parts
	ranges := make([]Range, 0, parts)
	start := 0
	for i := 0; i < parts; i++ {
		l := size
		if i < rem {
			l++
		}
		ranges = append(ranges, Range{Start: start, End: start + l - 1})
		start += l
	}
	return ranges
}

// Outcome is the merged result of one pooled scan.
type Outcome struct {
	WorkID  string
	Matched *Matched
	Status  string
	// Partitions holds the done event of every partition, in range order.
	Partitions []Event
}

// Pool is an in-process host: it partitions a candidate set across its workers,
// forwards their events and merges the results.
type Pool struct {
	workers []*Worker
	logger  *zap.Logger
	mu      sync.Mutex
}

// NewPool creates size workers, each with its own scanner.
func NewPool(size int, det scanner.Detector, cfg scanner.Config, logger *zap.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{logger: logger}
	for i := 0; i < size; i++ {
		id := fmt.Sprintf("worker-%d", i)
		p.workers = append(p.workers, New(id, scanner.New(det, cfg, logger), logger))
	}
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return len(p.workers)
}

// Scan runs one scan of items across the pool and blocks until every partition
// reported done. onEvent receives update and done events one at a time; it may be
// nil. Cancelling ctx stops every worker; the partial outcome is still returned.
func (p *Pool) Scan(ctx context.Context, workID string, probe facematch.FeatureVector, items scanner.ItemStore, onEvent func(Event)) (Outcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := Outcome{WorkID: workID, Status: StatusCompleted}
	if items == nil {
		return out, nil
	}
	ranges := Partition(items.Len(), len(p.workers))
	if len(ranges) == 0 {
		return out, nil
	}

	var emitMu sync.Mutex
	emit := func(e Event) {
		if onEvent == nil {
			return
		}
		emitMu.Lock()
		defer emitMu.Unlock()
		onEvent(e)
	}

	dones := make([]Event, len(ranges))
	g, gctx := errgroup.WithContext(ctx)
	for i, r := range ranges {
		i := i
		w := p.workers[i]
		req := scanner.Request{WorkID: workID, Probe: probe, Items: items, Start: r.Start, End: r.End}
		g.Go(func() error {
			if err := w.Do(gctx, req); err != nil {
				return fmt.Errorf("%s: %w", w.ID(), err)
			}
			for e := range w.Events() {
				if e.Work != workID {
					continue
				}
				emit(e)
				if e.Type == EventDone {
					dones[i] = e
					return nil
				}
			}
			return fmt.Errorf("%s: event stream closed", w.ID())
		})
	}
	err := g.Wait()

	out.Partitions = dones
	out.Matched = Merge(dones)
	out.Status = mergeStatus(dones)
	if ctx.Err() != nil {
		out.Status = StatusCancelled
	}
	p.logger.Info("pooled scan finished",
		zap.String("work", workID),
		zap.Int("partitions", len(ranges)),
		zap.String("status", out.Status),
		zap.Bool("matched", out.Matched != nil))
	return out, err
}

// Merge picks the highest confidence among partition results. Equal confidences
// resolve to the lowest label.
func Merge(dones []Event) *Matched {
	var best *Matched
	for _, d := range dones {
		m := d.Matched
		if m == nil {
			continue
		}
		if best == nil || m.Confidence > best.Confidence ||
			(m.Confidence == best.Confidence && m.Label < best.Label) {
			best = &Matched{Label: m.Label, Confidence: m.Confidence}
		}
	}
	return best
}

func mergeStatus(dones []Event) string {
	status := StatusCompleted
	for _, d := range dones {
		switch d.Status {
		case StatusCancelled:
			return StatusCancelled
		case StatusFailed, StatusRejected, "":
			status = StatusFailed
		}
	}
	return status
}

// Close shuts down every worker.
func (p *Pool) Close() {
	for _, w := range p.workers {
		w := w
		go func() {
			for range w.Events() {
			}
		}()
		w.Close()
	}
}
