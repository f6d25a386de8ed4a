// Package worker drives partition scans from do/stop commands and reports
// update and done events to the host.
package worker

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/kozaktomas/face-scan/internal/scanner"
)

// ErrBusy is returned by Do while a scan is running.
var ErrBusy = errors.New("worker busy")

// Worker runs at most one scan at a time. Events are delivered in emission
// order on Events(); emitting never blocks the scan.
type Worker struct {
	id      string
	scanner *scanner.Scanner
	logger  *zap.Logger
	out     *outbox

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a worker around a scanner.
func New(id string, sc *scanner.Scanner, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id:      id,
		scanner: sc,
		logger:  logger.With(zap.String("worker", id)),
		out:     newOutbox(),
	}
}

// ID returns the worker id reported in events.
func (w *Worker) ID() string {
	return w.id
}

// Events returns the ordered event stream. It is closed by Close.
func (w *Worker) Events() <-chan Event {
	return w.out.events
}

// Busy reports whether a scan is running.
func (w *Worker) Busy() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cancel != nil
}

// Do starts a scan in the background. The scan stops early when ctx is cancelled
// or Stop is called. A do received while busy is answered with a rejected done
// event and ErrBusy.
func (w *Worker) Do(ctx context.Context, req scanner.Request) error {
	w.mu.Lock()
	if w.cancel != nil {
		w.mu.Unlock()
		w.logger.Warn("do rejected, scan in progress", zap.String("work", req.WorkID))
		w.emit(Event{Type: EventDone, Work: req.WorkID, Status: StatusRejected})
		return ErrBusy
	}
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.wg.Add(1)
	w.mu.Unlock()

	go func() {
		defer w.wg.Done()
		w.run(ctx, req)
	}()
	return nil
}

func (w *Worker) run(ctx context.Context, req scanner.Request) {
	res := w.scanner.Scan(ctx, req, func(index int, slot scanner.Slot) {
		w.emit(Event{Type: EventUpdate, Work: req.WorkID, Index: index, Slot: slot})
	})

	done := Event{Type: EventDone, Work: req.WorkID, Status: statusOf(res.Status)}
	if res.Match != nil {
		done.Matched = &Matched{Label: res.Match.Index, Confidence: res.Match.Confidence}
	}
	w.logger.Info("work done",
		zap.String("work", req.WorkID),
		zap.String("status", done.Status),
		zap.Int("processed", res.Processed),
		zap.Bool("matched", done.Matched != nil))

	// done is queued before the worker turns idle, so the next scan's events follow it
	w.mu.Lock()
	w.cancel()
	w.cancel = nil
	w.emit(done)
	w.mu.Unlock()
}

// Stop raises the cancellation signal of the running scan. It is a no-op when idle.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		w.cancel()
	}
}

// Handle applies one decoded command.
func (w *Worker) Handle(ctx context.Context, cmd Command) error {
	switch cmd.Type {
	case CommandStop:
		w.Stop()
		return nil
	case CommandDo:
		req, err := cmd.Request()
		if err != nil {
			workID := ""
			if cmd.Work != nil {
				workID = cmd.Work.ID
			}
			w.logger.Error("invalid do command", zap.String("work", workID), zap.Error(err))
			w.emit(Event{Type: EventDone, Work: workID, Status: StatusFailed})
			return err
		}
		return w.Do(ctx, req)
	default:
		return errors.New("unknown command type " + cmd.Type)
	}
}

// Wait blocks until the running scan, if any, has emitted its done event.
func (w *Worker) Wait() {
	w.wg.Wait()
}

// Close stops any scan, waits for it and closes the event stream after all
// queued events were delivered.
func (w *Worker) Close() {
	w.Stop()
	w.wg.Wait()
	w.out.close()
}

func (w *Worker) emit(e Event) {
	e.Worker = w.id
	w.out.push(e)
}
