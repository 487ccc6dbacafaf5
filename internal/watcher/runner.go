package watcher

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"

	"tracescan/internal/errors"
	"tracescan/internal/report"
)

// ScanFunc runs one scan. It must stop promptly when ctx is cancelled.
type ScanFunc func(ctx context.Context) (*report.Report, error)

// ResultHandler receives the outcome of every scan that was not superseded.
type ResultHandler func(rep *report.Report, err error)

// Runner keeps at most one scan in flight. Triggering a new scan cancels the
// running one, and the cancelled scan's outcome is discarded.
type Runner struct {
	scan     ScanFunc
	onResult ResultHandler
	logger   *slog.Logger

	mu         sync.Mutex
	generation uint64
	cancel     context.CancelFunc
	superseded int
	wg         sync.WaitGroup
}

// NewRunner creates a runner.
func NewRunner(scan ScanFunc, onResult ResultHandler, logger *slog.Logger) *Runner {
	return &Runner{scan: scan, onResult: onResult, logger: logger}
}

// Trigger starts a scan derived from ctx, superseding any scan in flight.
func (r *Runner) Trigger(ctx context.Context) {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.generation++
	gen := r.generation
	scanCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		defer cancel()

		rep, err := r.scan(scanCtx)

		r.mu.Lock()
		defer r.mu.Unlock()
		if gen != r.generation || stderrors.Is(err, errors.ErrSuperseded) {
			r.superseded++
			r.logger.Debug("Discarding superseded scan", "generation", gen)
			return
		}
		r.cancel = nil
		if r.onResult != nil {
			r.onResult(rep, err)
		}
	}()
}

// Stop cancels the scan in flight and waits for every scan goroutine.
func (r *Runner) Stop() {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.mu.Unlock()
	r.wg.Wait()
}

// Wait blocks until every triggered scan has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Superseded returns how many scans were discarded.
func (r *Runner) Superseded() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.superseded
}
