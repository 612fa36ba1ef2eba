package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/retailhub/lottery-sync/internal/cloud"
	"github.com/retailhub/lottery-sync/internal/domain"
	"github.com/retailhub/lottery-sync/internal/repository"
)

// Cycle runs one sync pass. A returned error ends the pass; the worker
// tries again on the next tick.
type Cycle func(ctx context.Context) error

// DepthFunc reads the outbox counters reported after every cycle.
type DepthFunc func(ctx context.Context) (repository.PendingCounts, error)

// MetricHooks carries the metric callback functions injected by main.
type MetricHooks struct {
	OnCycle      func(dir domain.Direction, elapsed time.Duration, err error)
	OnQueueDepth func(counts repository.PendingCounts)
}

// SyncWorker runs a Cycle on a ticker, plus on demand via Trigger.
// At most one cycle is in flight per worker.
type SyncWorker struct {
	dir      domain.Direction
	cycle    Cycle
	depth    DepthFunc
	interval time.Duration
	trigger  chan struct{}
	hooks    MetricHooks
	logger   *zap.Logger
}

// New constructs a worker. depth may be nil.
func New(dir domain.Direction, cycle Cycle, depth DepthFunc, interval time.Duration, hooks MetricHooks, logger *zap.Logger) *SyncWorker {
	return &SyncWorker{
		dir:      dir,
		cycle:    cycle,
		depth:    depth,
		interval: interval,
		trigger:  make(chan struct{}, 1),
		hooks:    hooks,
		logger:   logger.With(zap.String("direction", string(dir))),
	}
}

func (w *SyncWorker) Direction() domain.Direction { return w.dir }

// Trigger requests an immediate cycle. Requests made while one is already
// pending coalesce into it and report false.
func (w *SyncWorker) Trigger() bool {
	select {
	case w.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Run performs a first cycle straight away, then one per interval, until
// ctx is cancelled.
func (w *SyncWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("sync worker started", zap.Duration("interval", w.interval))
	w.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("sync worker stopping")
			return
		case <-ticker.C:
			w.runCycle(ctx)
		case <-w.trigger:
			w.runCycle(ctx)
		}
	}
}

func (w *SyncWorker) runCycle(ctx context.Context) {
	start := time.Now()
	err := w.cycle(ctx)
	elapsed := time.Since(start)

	if ctx.Err() != nil {
		return
	}
	if w.hooks.OnCycle != nil {
		w.hooks.OnCycle(w.dir, elapsed, err)
	}

	switch {
	case err == nil:
	case errors.Is(err, cloud.ErrUnavailable):
		w.logger.Info("cloud unavailable, cycle skipped", zap.Error(err))
	case errors.Is(err, domain.ErrSyncRevoked):
		w.logger.Error("store sync access revoked", zap.Error(err))
	default:
		w.logger.Warn("sync cycle failed", zap.Error(err), zap.Duration("elapsed", elapsed))
	}

	w.reportDepth(ctx)
}

func (w *SyncWorker) reportDepth(ctx context.Context) {
	if w.depth == nil || w.hooks.OnQueueDepth == nil {
		return
	}
	counts, err := w.depth(ctx)
	if err != nil {
		w.logger.Warn("could not read queue depth", zap.Error(err))
		return
	}
	w.hooks.OnQueueDepth(counts)
}
