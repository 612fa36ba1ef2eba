package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/retailhub/lottery-sync/internal/domain"
	"github.com/retailhub/lottery-sync/internal/repository"
	"github.com/retailhub/lottery-sync/internal/service"
)

type PushRunner interface {
	RunOnce(ctx context.Context) (service.PushResult, error)
}

type PullRunner interface {
	RunOnce(ctx context.Context) (service.PullResult, error)
}

// NewPushWorker drains the outbox every interval. Retry timing is held in
// the database, so a restart resumes where the last process left off.
func NewPushWorker(
	svc PushRunner,
	queue repository.SyncQueueRepository,
	storeID string,
	interval time.Duration,
	hooks MetricHooks,
	logger *zap.Logger,
) *SyncWorker {
	cycle := func(ctx context.Context) error {
		_, err := svc.RunOnce(ctx)
		return err
	}
	return New(domain.DirectionPush, cycle, depthOf(queue, storeID), interval, hooks, logger)
}

// NewPullWorker reconciles cloud reference data every interval.
func NewPullWorker(
	svc PullRunner,
	queue repository.SyncQueueRepository,
	storeID string,
	interval time.Duration,
	hooks MetricHooks,
	logger *zap.Logger,
) *SyncWorker {
	cycle := func(ctx context.Context) error {
		_, err := svc.RunOnce(ctx)
		return err
	}
	return New(domain.DirectionPull, cycle, depthOf(queue, storeID), interval, hooks, logger)
}

func depthOf(queue repository.SyncQueueRepository, storeID string) DepthFunc {
	return func(ctx context.Context) (repository.PendingCounts, error) {
		return queue.GetPendingCount(ctx, storeID)
	}
}
