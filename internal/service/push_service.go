package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/retailhub/lottery-sync/internal/backoff"
	"github.com/retailhub/lottery-sync/internal/classifier"
	"github.com/retailhub/lottery-sync/internal/cloud"
	"github.com/retailhub/lottery-sync/internal/domain"
	"github.com/retailhub/lottery-sync/internal/repository"
)

// PushConfig tunes one push cycle.
type PushConfig struct {
	StoreID   string
	BatchSize int
	// CycleLimit caps how many eligible items one cycle picks up.
	CycleLimit int
	Backoff    backoff.Policy
	Now        func() time.Time
}

// PushResult tallies one push cycle.
type PushResult struct {
	SessionID    string `json:"session_id"`
	Attempted    int    `json:"attempted"`
	Pushed       int    `json:"pushed"`
	Failed       int    `json:"failed"`
	DeadLettered int    `json:"dead_lettered"`
}

// PushService drains the PUSH side of the outbox to the cloud.
// It never holds a database transaction across a network call: items are
// read first, and each outcome is written back by primary key afterwards.
type PushService struct {
	queue    repository.SyncQueueRepository
	client   cloud.Client
	recorder *failureRecorder
	hooks    SyncHooks
	cfg      PushConfig
	logger   *zap.Logger
}

func NewPushService(
	queue repository.SyncQueueRepository,
	client cloud.Client,
	cls *classifier.Classifier,
	cfg PushConfig,
	hooks SyncHooks,
	logger *zap.Logger,
) *PushService {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.CycleLimit <= 0 {
		cfg.CycleLimit = cfg.BatchSize * 4
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	logger = logger.With(zap.String("component", "push"), zap.String("store_id", cfg.StoreID))

	return &PushService{
		queue:  queue,
		client: client,
		recorder: &failureRecorder{
			queue:      queue,
			classifier: cls,
			backoff:    cfg.Backoff,
			hooks:      hooks,
			now:        cfg.Now,
			logger:     logger,
		},
		hooks:  hooks,
		cfg:    cfg,
		logger: logger,
	}
}

// RunOnce runs a single push cycle: open a session, push every eligible item
// once, record each outcome, and close the session. An unreachable cloud
// ends the cycle early without counting attempts against any item.
func (s *PushService) RunOnce(ctx context.Context) (PushResult, error) {
	var res PushResult

	items, err := s.queue.GetRetryableItems(ctx, s.cfg.StoreID, s.cfg.Now(), s.cfg.CycleLimit)
	if err != nil {
		return res, fmt.Errorf("load retryable items: %w", err)
	}
	if len(items) == 0 {
		return res, nil
	}

	session, err := s.client.StartSync(ctx)
	if err != nil {
		return res, fmt.Errorf("start sync session: %w", err)
	}
	if session.Revoked {
		s.logger.Warn("sync access revoked by cloud, push skipped")
		return res, domain.ErrSyncRevoked
	}
	res.SessionID = session.SessionID

	runErr := s.pushItems(ctx, session.SessionID, items, &res)

	if runErr == nil || !isOffline(ctx, runErr) {
		err := s.client.CompleteSync(ctx, cloud.CompleteSyncRequest{
			SessionID: session.SessionID,
			Pushed:    res.Pushed,
			Failed:    res.Failed,
		})
		if err != nil {
			s.logger.Warn("complete sync session failed", zap.Error(err))
		}
	}

	s.logger.Info("push cycle finished",
		zap.String("session_id", res.SessionID),
		zap.Int("attempted", res.Attempted),
		zap.Int("pushed", res.Pushed),
		zap.Int("failed", res.Failed),
		zap.Int("dead_lettered", res.DeadLettered),
	)
	return res, runErr
}

// pushItems walks the items in queue order. Regular items are grouped into
// batches; a day_close item flushes the pending batch first so the cloud sees
// pack events before the close that references them.
func (s *PushService) pushItems(ctx context.Context, sessionID string, items []*domain.SyncQueueItem, res *PushResult) error {
	batch := make([]*domain.SyncQueueItem, 0, s.cfg.BatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := s.pushBatch(ctx, sessionID, batch, res)
		batch = batch[:0]
		return err
	}

	for _, item := range items {
		if v := classifier.ValidatePayloadStructure(item.EntityType, item.Operation, item.Payload); !v.Valid {
			res.Attempted++
			s.fail(ctx, item, failure{message: classifier.ValidationMessage(item.EntityType, item.Operation, v)}, res)
			continue
		}

		if item.EntityType == domain.EntityDayClose {
			if err := flush(); err != nil {
				return err
			}
			if err := s.pushDayClose(ctx, item, res); err != nil {
				return err
			}
			continue
		}

		batch = append(batch, item)
		if len(batch) == s.cfg.BatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

func (s *PushService) pushBatch(ctx context.Context, sessionID string, batch []*domain.SyncQueueItem, res *PushResult) error {
	payload := make([]cloud.PushItem, len(batch))
	for i, it := range batch {
		payload[i] = cloud.PushItem{
			ID:             it.ID,
			EntityType:     it.EntityType,
			EntityID:       it.EntityID,
			Operation:      it.Operation,
			Payload:        it.Payload,
			IdempotencyKey: it.IdempotencyKey,
			CreatedAt:      it.CreatedAt,
		}
	}

	resp, err := s.client.PushBatch(ctx, sessionID, payload)
	if err != nil {
		if isOffline(ctx, err) {
			return err
		}
		f := failureFromError(err, cloud.EndpointBatch)
		for _, it := range batch {
			res.Attempted++
			s.fail(ctx, it, f, res)
		}
		return nil
	}

	results := make(map[string]cloud.PushItemResult, len(resp.Results))
	for _, r := range resp.Results {
		results[r.ID] = r
	}

	for _, it := range batch {
		res.Attempted++
		r, ok := results[it.ID]
		switch {
		case !ok:
			s.fail(ctx, it, failure{endpoint: cloud.EndpointBatch, message: "batch response carried no result for item"}, res)
		case r.Success:
			s.succeed(ctx, it, res)
		default:
			msg := r.Message
			if msg == "" {
				msg = r.Error
			}
			s.fail(ctx, it, failure{endpoint: cloud.EndpointBatch, status: r.StatusCode, message: msg}, res)
		}
	}
	return nil
}

// pushDayClose replays a locally committed close through the cloud's
// prepare/commit pair. A failed commit cancels the server-side preparation.
func (s *PushService) pushDayClose(ctx context.Context, item *domain.SyncQueueItem, res *PushResult) error {
	res.Attempted++

	v, err := domain.DecodePayload(item.EntityType, item.Operation, item.Payload)
	if err != nil {
		s.fail(ctx, item, failure{message: "invalid payload: " + err.Error()}, res)
		return nil
	}
	dc, ok := v.(*domain.DayClosePayload)
	if !ok {
		s.fail(ctx, item, failure{message: "invalid payload: not a day close"}, res)
		return nil
	}

	closings := make([]domain.PackClosing, len(dc.Packs))
	for i, p := range dc.Packs {
		closings[i] = domain.PackClosing{PackID: p.PackID, ClosingSerial: p.EndingSerial, SoldOut: p.SoldOut}
	}

	prepareEndpoint := cloud.DayCloseEndpoint(dc.DayID, "prepare-close")
	prepared, err := s.client.PrepareDayClose(ctx, cloud.PrepareDayCloseRequest{
		DayID:        dc.DayID,
		BusinessDate: dc.BusinessDate,
		Closings:     closings,
	})
	if err != nil {
		if isOffline(ctx, err) {
			res.Attempted--
			return err
		}
		s.fail(ctx, item, failureFromError(err, prepareEndpoint), res)
		return nil
	}
	if len(prepared.Discrepancies) > 0 {
		s.logger.Warn("cloud reported day close discrepancies",
			zap.String("day_id", dc.DayID),
			zap.Strings("discrepancies", prepared.Discrepancies),
		)
	}

	_, err = s.client.CommitDayClose(ctx, cloud.CommitDayCloseRequest{
		DayID:           dc.DayID,
		ValidationToken: prepared.ValidationToken,
		Close:           *dc,
		IdempotencyKey:  item.IdempotencyKey,
	})
	if err == nil {
		s.succeed(ctx, item, res)
		return nil
	}

	cancelErr := s.client.CancelDayClose(ctx, cloud.CancelDayCloseRequest{
		DayID:           dc.DayID,
		ValidationToken: prepared.ValidationToken,
		Reason:          "commit failed: " + err.Error(),
	})
	if cancelErr != nil {
		s.logger.Warn("cancel day close failed", zap.String("day_id", dc.DayID), zap.Error(cancelErr))
	}

	if isOffline(ctx, err) {
		res.Attempted--
		return err
	}
	s.fail(ctx, item, failureFromError(err, cloud.DayCloseEndpoint(dc.DayID, "commit-close")), res)
	return nil
}

func (s *PushService) succeed(ctx context.Context, item *domain.SyncQueueItem, res *PushResult) {
	err := s.queue.MarkSynced(ctx, item.ID, item.PayloadVersion)
	switch {
	case errors.Is(err, domain.ErrPayloadSuperseded):
		s.logger.Info("payload changed during push, item stays pending", zap.String("item_id", item.ID))
		return
	case errors.Is(err, domain.ErrItemDeadLettered):
		s.logger.Warn("pushed item was dead-lettered meanwhile", zap.String("item_id", item.ID))
		return
	case err != nil:
		s.logger.Error("mark synced failed", zap.String("item_id", item.ID), zap.Error(err))
		return
	}
	res.Pushed++
	s.hooks.pushed(item.EntityType)
}

func (s *PushService) fail(ctx context.Context, item *domain.SyncQueueItem, f failure, res *PushResult) {
	res.Failed++
	out, err := s.recorder.record(ctx, item, f)
	if err != nil {
		s.logger.Error("record push failure", zap.String("item_id", item.ID), zap.Error(err))
		return
	}
	if out.deadLettered {
		res.DeadLettered++
	}
}
