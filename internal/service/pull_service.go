package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/retailhub/lottery-sync/internal/backoff"
	"github.com/retailhub/lottery-sync/internal/classifier"
	"github.com/retailhub/lottery-sync/internal/cloud"
	"github.com/retailhub/lottery-sync/internal/db"
	"github.com/retailhub/lottery-sync/internal/domain"
	"github.com/retailhub/lottery-sync/internal/repository"
)

// PullConfig tunes the pull reconciler.
type PullConfig struct {
	StoreID  string
	PageSize int
	// MarkerStaleAfter is the age beyond which leftover markers of an action
	// are removed once a pull of that action succeeds.
	MarkerStaleAfter time.Duration
	Backoff          backoff.Policy
	Now              func() time.Time
}

// ActionResult tallies the pull of one action.
type ActionResult struct {
	Action   domain.PullAction `json:"action"`
	Pages    int               `json:"pages"`
	Applied  int               `json:"applied"`
	Stale    int               `json:"stale"`
	Foreign  int               `json:"foreign"`
	Cursor   int64             `json:"cursor"`
	Deferred bool              `json:"deferred,omitempty"`
}

// PullResult tallies one pull cycle.
type PullResult struct {
	SessionID string         `json:"session_id"`
	Actions   []ActionResult `json:"actions"`
	Failed    int            `json:"failed"`
}

// Applied is the number of records written locally across all actions.
func (r PullResult) Applied() int {
	n := 0
	for _, a := range r.Actions {
		n += a.Applied
	}
	return n
}

// PullService applies remote deltas to local inventory. Each action's
// progress is tracked by a PULL marker row in the outbox and a cursor in
// sync_cursors; every page is applied in one transaction with its cursor.
type PullService struct {
	conn      *sql.DB
	queue     repository.SyncQueueRepository
	inventory repository.InventoryRepository
	client    cloud.Client
	recorder  *failureRecorder
	hooks     SyncHooks
	cfg       PullConfig
	logger    *zap.Logger
}

func NewPullService(
	conn *sql.DB,
	queue repository.SyncQueueRepository,
	inventory repository.InventoryRepository,
	client cloud.Client,
	cls *classifier.Classifier,
	cfg PullConfig,
	hooks SyncHooks,
	logger *zap.Logger,
) *PullService {
	if cfg.PageSize <= 0 || cfg.PageSize > cloud.MaxPullLimit {
		cfg.PageSize = cloud.MaxPullLimit
	}
	if cfg.MarkerStaleAfter <= 0 {
		cfg.MarkerStaleAfter = 24 * time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	logger = logger.With(zap.String("component", "pull"), zap.String("store_id", cfg.StoreID))

	return &PullService{
		conn:      conn,
		queue:     queue,
		inventory: inventory,
		client:    client,
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

// RunOnce pulls every allowlisted action in dependency order. A failing
// action is recorded on its marker and the cycle moves on; an unreachable
// cloud ends the cycle.
func (s *PullService) RunOnce(ctx context.Context) (PullResult, error) {
	var res PullResult

	session, err := s.client.StartSync(ctx)
	if err != nil {
		return res, fmt.Errorf("start sync session: %w", err)
	}
	if session.Revoked {
		s.logger.Warn("sync access revoked by cloud, pull skipped")
		return res, domain.ErrSyncRevoked
	}
	res.SessionID = session.SessionID

	var runErr error
	for _, action := range domain.PullActions {
		ar, err := s.PullAction(ctx, session.SessionID, action)
		res.Actions = append(res.Actions, ar)
		if err == nil {
			continue
		}
		if isOffline(ctx, err) {
			runErr = err
			break
		}
		res.Failed++
		s.logger.Warn("pull action failed", zap.String("action", string(action)), zap.Error(err))
	}

	if runErr == nil {
		err := s.client.CompleteSync(ctx, cloud.CompleteSyncRequest{
			SessionID: session.SessionID,
			Failed:    res.Failed,
			Pulled:    res.Applied(),
		})
		if err != nil {
			s.logger.Warn("complete sync session failed", zap.Error(err))
		}
	}

	s.logger.Info("pull cycle finished",
		zap.String("session_id", res.SessionID),
		zap.Int("applied", res.Applied()),
		zap.Int("failed_actions", res.Failed),
	)
	return res, runErr
}

// PullAction fetches and applies all pages of one action after its cursor.
// A marker whose retry_after is still in the future defers the action.
func (s *PullService) PullAction(ctx context.Context, sessionID string, action domain.PullAction) (ActionResult, error) {
	ar := ActionResult{Action: action}
	if !action.IsValid() {
		return ar, domain.ErrUnknownPullAction
	}

	cursor, err := s.inventory.GetCursor(ctx, s.cfg.StoreID, action)
	if err != nil {
		return ar, err
	}
	ar.Cursor = cursor

	marker, err := s.marker(ctx, action, cursor)
	if err != nil {
		return ar, err
	}
	if marker.RetryAfter != nil && marker.RetryAfter.After(s.cfg.Now()) {
		ar.Deferred = true
		return ar, nil
	}

	endpoint := cloud.PullEndpoint(action)
	for {
		page, err := s.client.Pull(ctx, cloud.PullRequest{
			SessionID:     sessionID,
			Action:        action,
			SinceSequence: cursor,
			Limit:         s.cfg.PageSize,
		})
		if err != nil {
			if isOffline(ctx, err) {
				return ar, err
			}
			s.recordFailure(ctx, marker, failureFromError(err, endpoint))
			return ar, fmt.Errorf("pull %s: %w", action, err)
		}

		if err := s.applyPage(ctx, action, page, &ar); err != nil {
			s.recordFailure(ctx, marker, failure{endpoint: endpoint, message: err.Error()})
			return ar, fmt.Errorf("apply %s page: %w", action, err)
		}
		ar.Pages++

		if page.NextSequence > cursor {
			cursor = page.NextSequence
			ar.Cursor = cursor
		} else if page.HasMore {
			s.logger.Warn("pull cursor did not advance, stopping action",
				zap.String("action", string(action)),
				zap.Int64("cursor", cursor),
			)
			break
		}
		if !page.HasMore {
			break
		}
	}

	if err := s.queue.MarkSynced(ctx, marker.ID, marker.PayloadVersion); err != nil && !errors.Is(err, domain.ErrPayloadSuperseded) {
		return ar, fmt.Errorf("mark pull marker synced: %w", err)
	}
	cutoff := s.cfg.Now().Add(-s.cfg.MarkerStaleAfter)
	removed, err := s.queue.CleanupStalePullTracking(ctx, s.cfg.StoreID, action, marker.ID, cutoff)
	if err != nil {
		s.logger.Warn("cleanup stale pull markers failed", zap.String("action", string(action)), zap.Error(err))
	}
	s.hooks.pulled(action, ar.Applied)

	s.logger.Debug("pull action finished",
		zap.String("action", string(action)),
		zap.Int("pages", ar.Pages),
		zap.Int("applied", ar.Applied),
		zap.Int("stale", ar.Stale),
		zap.Int("foreign", ar.Foreign),
		zap.Int64("cursor", ar.Cursor),
		zap.Int64("markers_removed", removed),
	)
	return ar, nil
}

// marker returns the active PULL marker of action, creating it if none is
// in flight. An existing marker keeps its attempt history across restarts.
func (s *PullService) marker(ctx context.Context, action domain.PullAction, cursor int64) (*domain.SyncQueueItem, error) {
	m, err := s.queue.GetPendingPullItemByAction(ctx, s.cfg.StoreID, action)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("lookup pull marker: %w", err)
	}

	var res repository.EnqueueResult
	err = db.WithTx(ctx, s.conn, func(tx *sql.Tx) error {
		var err error
		res, err = s.queue.Enqueue(ctx, tx, repository.EnqueueRequest{
			StoreID:    s.cfg.StoreID,
			EntityType: domain.EntityPullTracking,
			EntityID:   string(action),
			Operation:  domain.OperationCreate,
			Payload: domain.PullMarkerPayload{
				Action:        action,
				SinceSequence: cursor,
				StartedAt:     s.cfg.Now(),
			},
			Priority:  domain.PriorityLow,
			Direction: domain.DirectionPull,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create pull marker: %w", err)
	}
	return s.queue.GetByID(ctx, s.cfg.StoreID, res.ID)
}

func (s *PullService) recordFailure(ctx context.Context, marker *domain.SyncQueueItem, f failure) {
	if _, err := s.recorder.record(ctx, marker, f); err != nil {
		s.logger.Error("record pull failure", zap.String("marker_id", marker.ID), zap.Error(err))
	}
}

// applyPage writes one page and advances the cursor in a single transaction.
// Records stamped with another store are skipped.
func (s *PullService) applyPage(ctx context.Context, action domain.PullAction, page *cloud.PullResponse, ar *ActionResult) error {
	var applied, stale, foreign int

	err := db.WithTx(ctx, s.conn, func(tx *sql.Tx) error {
		inv := s.inventory.WithTx(tx)
		for i, raw := range page.Records {
			ok, own, err := s.applyRecord(ctx, inv, action, raw)
			if err != nil {
				return fmt.Errorf("record %d: %w", i, err)
			}
			switch {
			case !own:
				foreign++
			case ok:
				applied++
			default:
				stale++
			}
		}
		return inv.AdvanceCursor(ctx, s.cfg.StoreID, action, page.NextSequence, s.cfg.Now())
	})
	if err != nil {
		return err
	}

	ar.Applied += applied
	ar.Stale += stale
	ar.Foreign += foreign
	return nil
}

// applyRecord decodes raw according to the action's entity and upserts it.
// own is false when the record belongs to another store.
func (s *PullService) applyRecord(ctx context.Context, inv repository.InventoryRepository, action domain.PullAction, raw json.RawMessage) (applied, own bool, err error) {
	switch action.Entity() {
	case "game":
		var g domain.Game
		if err := json.Unmarshal(raw, &g); err != nil {
			return false, false, fmt.Errorf("invalid payload: game: %w", err)
		}
		if g.StoreID != s.cfg.StoreID {
			return false, false, nil
		}
		applied, err = inv.UpsertGame(ctx, &g)
		return applied, true, err

	case "bin":
		var b domain.Bin
		if err := json.Unmarshal(raw, &b); err != nil {
			return false, false, fmt.Errorf("invalid payload: bin: %w", err)
		}
		if b.StoreID != s.cfg.StoreID {
			return false, false, nil
		}
		applied, err = inv.UpsertBin(ctx, &b)
		return applied, true, err

	case "pack":
		var p domain.Pack
		if err := json.Unmarshal(raw, &p); err != nil {
			return false, false, fmt.Errorf("invalid payload: pack: %w", err)
		}
		if p.StoreID != s.cfg.StoreID {
			return false, false, nil
		}
		if !p.Status.IsValid() {
			return false, true, fmt.Errorf("invalid payload: pack %s status %q", p.ID, p.Status)
		}
		applied, err = inv.UpsertPack(ctx, &p)
		return applied, true, err
	}
	return false, false, domain.ErrUnknownPullAction
}
