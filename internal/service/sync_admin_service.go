package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/retailhub/lottery-sync/internal/domain"
	"github.com/retailhub/lottery-sync/internal/repository"
)

// SyncStatus is the operator view of one store's outbox.
type SyncStatus struct {
	StoreID      string                   `json:"store_id"`
	Pending      repository.PendingCounts `json:"pending"`
	PullMarkers  []*domain.SyncQueueItem  `json:"pull_markers"`
	DeadLetter   *domain.DeadLetterStats  `json:"dead_letter"`
	BreakerState string                   `json:"breaker_state,omitempty"`
}

// SyncAdminService exposes outbox state and dead-letter recovery to the
// local API and the CLI.
type SyncAdminService struct {
	queue   repository.SyncQueueRepository
	breaker func() string
	logger  *zap.Logger
}

// NewSyncAdminService builds the service. breaker reports the cloud circuit
// breaker state and may be nil.
func NewSyncAdminService(queue repository.SyncQueueRepository, breaker func() string, logger *zap.Logger) *SyncAdminService {
	return &SyncAdminService{queue: queue, breaker: breaker, logger: logger}
}

func (s *SyncAdminService) Status(ctx context.Context, storeID string) (*SyncStatus, error) {
	pending, err := s.queue.GetPendingCount(ctx, storeID)
	if err != nil {
		return nil, err
	}
	markers, err := s.queue.ListPendingPullMarkers(ctx, storeID)
	if err != nil {
		return nil, err
	}
	stats, err := s.queue.GetDeadLetterStats(ctx, storeID)
	if err != nil {
		return nil, err
	}

	st := &SyncStatus{
		StoreID:     storeID,
		Pending:     pending,
		PullMarkers: markers,
		DeadLetter:  stats,
	}
	if st.PullMarkers == nil {
		st.PullMarkers = []*domain.SyncQueueItem{}
	}
	if s.breaker != nil {
		st.BreakerState = s.breaker()
	}
	return st, nil
}

func (s *SyncAdminService) DeadLetterStats(ctx context.Context, storeID string) (*domain.DeadLetterStats, error) {
	return s.queue.GetDeadLetterStats(ctx, storeID)
}

func (s *SyncAdminService) DeadLetterItems(ctx context.Context, storeID string, page domain.Page) ([]*domain.SyncQueueItem, int, error) {
	return s.queue.GetDeadLetterItems(ctx, storeID, page)
}

func (s *SyncAdminService) GetItem(ctx context.Context, storeID, id string) (*domain.SyncQueueItem, error) {
	return s.queue.GetByID(ctx, storeID, id)
}

// Restore returns a dead-lettered item to the retry cycle with a fresh
// attempt budget.
func (s *SyncAdminService) Restore(ctx context.Context, storeID, id string) (*domain.SyncQueueItem, error) {
	if err := s.queue.RestoreFromDeadLetter(ctx, storeID, id); err != nil {
		return nil, err
	}
	s.logger.Info("sync item restored from dead-letter queue",
		zap.String("store_id", storeID),
		zap.String("item_id", id),
	)
	return s.queue.GetByID(ctx, storeID, id)
}
