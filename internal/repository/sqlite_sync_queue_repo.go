package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/retailhub/lottery-sync/internal/classifier"
	"github.com/retailhub/lottery-sync/internal/domain"
)

const (
	defaultDeadLetterPageSize = 20
	maxDeadLetterPageSize     = 100
	defaultRetryableLimit     = 50
	maxStoredResponseBody     = 4096
)

const syncQueueColumns = `
	id, store_id, entity_type, entity_id, operation, payload, priority, synced,
	sync_attempts, max_attempts, last_sync_error, last_attempt_at, created_at, synced_at,
	sync_direction, api_endpoint, http_status, response_body, dead_lettered,
	dead_letter_reason, dead_lettered_at, error_category, retry_after, idempotency_key,
	payload_version`

// QueueConfig holds the per-direction attempt policy applied at enqueue.
type QueueConfig struct {
	PushMaxAttempts int
	PullMaxAttempts int
	// Now defaults to time.Now.
	Now func() time.Time
}

type sqliteSyncQueueRepository struct {
	db      *sql.DB
	pushMax int
	pullMax int
	now     func() time.Time
}

// NewSQLiteSyncQueueRepository returns a SyncQueueRepository backed by SQLite.
func NewSQLiteSyncQueueRepository(db *sql.DB, cfg QueueConfig) SyncQueueRepository {
	if cfg.PushMaxAttempts < 1 {
		cfg.PushMaxAttempts = 5
	}
	if cfg.PullMaxAttempts < 1 {
		cfg.PullMaxAttempts = 2
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &sqliteSyncQueueRepository{
		db:      db,
		pushMax: cfg.PushMaxAttempts,
		pullMax: cfg.PullMaxAttempts,
		now:     cfg.Now,
	}
}

func (r *sqliteSyncQueueRepository) Enqueue(ctx context.Context, q DBTX, req EnqueueRequest) (EnqueueResult, error) {
	if req.StoreID == "" {
		return EnqueueResult{}, domain.ErrStoreRequired
	}
	if req.EntityType == "" || req.EntityID == "" {
		return EnqueueResult{}, domain.ErrInvalidEntityType
	}
	if !req.Operation.IsValid() {
		return EnqueueResult{}, domain.ErrInvalidOperation
	}

	payload, err := marshalPayload(req.Payload)
	if err != nil {
		return EnqueueResult{}, err
	}

	direction := req.Direction
	if direction == "" {
		direction = domain.DirectionPush
	}
	maxAttempts := req.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = r.pushMax
		if direction == domain.DirectionPull {
			maxAttempts = r.pullMax
		}
	}
	if direction == domain.DirectionPull {
		v, err := domain.DecodePayload(domain.EntityPullTracking, domain.OperationCreate, payload)
		marker, ok := v.(*domain.PullMarkerPayload)
		if err != nil || !ok || !marker.Action.IsValid() {
			return EnqueueResult{}, domain.ErrUnknownPullAction
		}
	}

	key := req.IdempotencyKey
	if key == "" {
		key = IdempotencyKey(req.EntityType, req.EntityID, req.Operation, req.Discriminator)
	}
	now := r.now().UTC()

	// Structurally invalid payloads never enter the retry cycle.
	var invalid string
	if v := classifier.ValidatePayloadStructure(req.EntityType, req.Operation, payload); !v.Valid {
		invalid = classifier.ValidationMessage(req.EntityType, req.Operation, v)
	} else if _, err := domain.DecodePayload(req.EntityType, req.Operation, payload); err != nil {
		invalid = "invalid format: " + err.Error()
	}
	if invalid != "" {
		id := uuid.NewString()
		_, err := q.ExecContext(ctx, `
			INSERT INTO sync_queue
				(id, store_id, entity_type, entity_id, operation, payload, priority,
				 max_attempts, created_at, sync_direction, idempotency_key, last_sync_error,
				 error_category, dead_lettered, dead_letter_reason, dead_lettered_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
			id, req.StoreID, req.EntityType, req.EntityID, req.Operation, string(payload), req.Priority,
			maxAttempts, now, direction, key, invalid,
			domain.CategoryStructural, domain.ReasonStructuralFailure, now,
		)
		if err != nil {
			return EnqueueResult{}, fmt.Errorf("insert dead-lettered sync item: %w", err)
		}
		return EnqueueResult{ID: id, DeadLettered: true}, nil
	}

	var existingID string
	err = q.QueryRowContext(ctx, `
		SELECT id FROM sync_queue
		WHERE store_id = ? AND idempotency_key = ? AND synced = 0 AND dead_lettered = 0`,
		req.StoreID, key).Scan(&existingID)
	switch {
	case err == nil:
		// A push of the previous payload may be in flight; bumping the
		// version keeps that push from marking the row synced.
		if _, err := q.ExecContext(ctx, `
			UPDATE sync_queue
			SET payload = ?, priority = MAX(priority, ?), payload_version = payload_version + 1
			WHERE id = ?`,
			string(payload), req.Priority, existingID); err != nil {
			return EnqueueResult{}, fmt.Errorf("replace sync item payload: %w", err)
		}
		return EnqueueResult{ID: existingID, Deduplicated: true}, nil
	case !errors.Is(err, sql.ErrNoRows):
		return EnqueueResult{}, fmt.Errorf("lookup sync item by key: %w", err)
	}

	id := uuid.NewString()
	_, err = q.ExecContext(ctx, `
		INSERT INTO sync_queue
			(id, store_id, entity_type, entity_id, operation, payload, priority,
			 max_attempts, created_at, sync_direction, idempotency_key)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, req.StoreID, req.EntityType, req.EntityID, req.Operation, string(payload), req.Priority,
		maxAttempts, now, direction, key,
	)
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("insert sync item: %w", err)
	}
	return EnqueueResult{ID: id}, nil
}

func (r *sqliteSyncQueueRepository) GetByID(ctx context.Context, storeID, id string) (*domain.SyncQueueItem, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+syncQueueColumns+` FROM sync_queue WHERE id = ? AND store_id = ?`, id, storeID)

	item, err := scanSyncItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return item, err
}

func (r *sqliteSyncQueueRepository) GetPendingCount(ctx context.Context, storeID string) (PendingCounts, error) {
	var c PendingCounts
	err := r.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN synced = 0 AND dead_lettered = 0 AND sync_direction = 'PUSH' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN synced = 0 AND dead_lettered = 0 AND sync_direction = 'PULL' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(dead_lettered), 0)
		FROM sync_queue
		WHERE store_id = ?`, storeID).Scan(&c.Push, &c.Pull, &c.DeadLettered)
	if err != nil {
		return PendingCounts{}, fmt.Errorf("count pending sync items: %w", err)
	}
	return c, nil
}

func (r *sqliteSyncQueueRepository) GetRetryableItems(ctx context.Context, storeID string, now time.Time, limit int) ([]*domain.SyncQueueItem, error) {
	if limit < 1 {
		limit = defaultRetryableLimit
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+syncQueueColumns+`
		FROM sync_queue
		WHERE store_id = ?
		  AND synced = 0
		  AND dead_lettered = 0
		  AND sync_direction = 'PUSH'
		  AND (retry_after IS NULL OR retry_after <= ?)
		ORDER BY priority DESC, created_at ASC, rowid ASC
		LIMIT ?`, storeID, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("find retryable sync items: %w", err)
	}
	defer rows.Close()
	return scanSyncItems(rows)
}

func (r *sqliteSyncQueueRepository) MarkSynced(ctx context.Context, id string, payloadVersion int) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sync_queue
		SET synced = 1, synced_at = ?, retry_after = NULL
		WHERE id = ? AND payload_version = ? AND synced = 0 AND dead_lettered = 0`,
		r.now().UTC(), id, payloadVersion)
	if err != nil {
		return fmt.Errorf("mark sync item synced: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	// Already synced is a no-op; a dead-lettered row must be restored first.
	synced, deadLettered, err := r.itemState(ctx, id)
	switch {
	case err != nil:
		return err
	case deadLettered:
		return domain.ErrItemDeadLettered
	case synced:
		return nil
	}

	// Still pending under a newer payload: make it eligible right away.
	if _, err := r.db.ExecContext(ctx,
		`UPDATE sync_queue SET retry_after = NULL WHERE id = ? AND synced = 0 AND dead_lettered = 0`, id); err != nil {
		return fmt.Errorf("release superseded sync item: %w", err)
	}
	return domain.ErrPayloadSuperseded
}

func (r *sqliteSyncQueueRepository) IncrementAttempts(ctx context.Context, id, errMsg string, attempt *AttemptContext) (int, error) {
	var endpoint, status, body, category any
	if attempt != nil {
		endpoint = nullIfEmpty(attempt.Endpoint)
		if attempt.HTTPStatus > 0 {
			status = attempt.HTTPStatus
		}
		body = nullIfEmpty(truncate(attempt.ResponseBody, maxStoredResponseBody))
		category = nullIfEmpty(string(attempt.Category))
	}

	var attempts int
	err := r.db.QueryRowContext(ctx, `
		UPDATE sync_queue
		SET sync_attempts   = sync_attempts + 1,
		    last_attempt_at = ?,
		    last_sync_error = ?,
		    api_endpoint    = COALESCE(?, api_endpoint),
		    http_status     = COALESCE(?, http_status),
		    response_body   = COALESCE(?, response_body),
		    error_category  = COALESCE(?, error_category)
		WHERE id = ? AND synced = 0 AND dead_lettered = 0
		RETURNING sync_attempts`,
		r.now().UTC(), errMsg, endpoint, status, body, category, id,
	).Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		synced, deadLettered, lookupErr := r.itemState(ctx, id)
		switch {
		case lookupErr != nil:
			return 0, lookupErr
		case synced:
			return 0, domain.ErrAlreadySynced
		case deadLettered:
			return 0, domain.ErrItemDeadLettered
		}
		return 0, domain.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("increment sync attempts: %w", err)
	}
	return attempts, nil
}

func (r *sqliteSyncQueueRepository) SetRetryAfter(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sync_queue SET retry_after = ? WHERE id = ?`, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("set retry after: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *sqliteSyncQueueRepository) DeadLetter(ctx context.Context, id string, reason domain.DeadLetterReason) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sync_queue
		SET dead_lettered = 1, dead_letter_reason = ?, dead_lettered_at = ?
		WHERE id = ? AND synced = 0 AND dead_lettered = 0`, reason, r.now().UTC(), id)
	if err != nil {
		return fmt.Errorf("dead-letter sync item: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	synced, _, err := r.itemState(ctx, id)
	if err != nil {
		return err
	}
	if synced {
		return domain.ErrAlreadySynced
	}
	// Already dead-lettered: the first reason stands.
	return nil
}

func (r *sqliteSyncQueueRepository) RestoreFromDeadLetter(ctx context.Context, storeID, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var key string
	var deadLettered bool
	err = tx.QueryRowContext(ctx,
		`SELECT idempotency_key, dead_lettered FROM sync_queue WHERE id = ? AND store_id = ?`,
		id, storeID).Scan(&key, &deadLettered)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load dead-lettered item: %w", err)
	}
	if !deadLettered {
		return domain.ErrNotDeadLettered
	}

	var holder string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM sync_queue
		WHERE store_id = ? AND idempotency_key = ? AND synced = 0 AND dead_lettered = 0`,
		storeID, key).Scan(&holder)
	if err == nil {
		return fmt.Errorf("%w (held by %s)", domain.ErrIdempotencyConflict, holder)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("check idempotency key: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE sync_queue
		SET dead_lettered      = 0,
		    dead_letter_reason = NULL,
		    dead_lettered_at   = NULL,
		    sync_attempts      = 0,
		    last_sync_error    = NULL,
		    error_category     = NULL,
		    retry_after        = NULL
		WHERE id = ?`, id); err != nil {
		return fmt.Errorf("restore sync item: %w", err)
	}
	return tx.Commit()
}

func (r *sqliteSyncQueueRepository) GetDeadLetterStats(ctx context.Context, storeID string) (*domain.DeadLetterStats, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT dead_letter_reason, entity_type, COUNT(*)
		FROM sync_queue
		WHERE store_id = ? AND dead_lettered = 1
		GROUP BY dead_letter_reason, entity_type`, storeID)
	if err != nil {
		return nil, fmt.Errorf("dead-letter stats: %w", err)
	}
	defer rows.Close()

	stats := &domain.DeadLetterStats{
		ByReason:     make(map[domain.DeadLetterReason]int),
		ByEntityType: make(map[domain.EntityType]int),
	}
	for rows.Next() {
		var reason domain.DeadLetterReason
		var entity domain.EntityType
		var n int
		if err := rows.Scan(&reason, &entity, &n); err != nil {
			return nil, fmt.Errorf("scan dead-letter stats: %w", err)
		}
		stats.Total += n
		stats.ByReason[reason] += n
		stats.ByEntityType[entity] += n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if stats.Total > 0 {
		var oldest time.Time
		err := r.db.QueryRowContext(ctx, `
			SELECT dead_lettered_at FROM sync_queue
			WHERE store_id = ? AND dead_lettered = 1
			ORDER BY dead_lettered_at ASC
			LIMIT 1`, storeID).Scan(&oldest)
		if err != nil {
			return nil, fmt.Errorf("oldest dead-lettered item: %w", err)
		}
		stats.OldestAt = &oldest
	}
	return stats, nil
}

func (r *sqliteSyncQueueRepository) GetDeadLetterItems(ctx context.Context, storeID string, page domain.Page) ([]*domain.SyncQueueItem, int, error) {
	if page.Limit < 1 {
		page.Limit = defaultDeadLetterPageSize
	} else if page.Limit > maxDeadLetterPageSize {
		page.Limit = maxDeadLetterPageSize
	}

	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_queue WHERE store_id = ? AND dead_lettered = 1`,
		storeID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count dead-lettered items: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+syncQueueColumns+`
		FROM sync_queue
		WHERE store_id = ? AND dead_lettered = 1
		ORDER BY dead_lettered_at DESC, rowid DESC
		LIMIT ? OFFSET ?`, storeID, page.Limit, page.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("list dead-lettered items: %w", err)
	}
	defer rows.Close()

	items, err := scanSyncItems(rows)
	return items, total, err
}

func (r *sqliteSyncQueueRepository) GetPendingPullItemByAction(ctx context.Context, storeID string, action domain.PullAction) (*domain.SyncQueueItem, error) {
	if !action.IsValid() {
		return nil, domain.ErrUnknownPullAction
	}

	row := r.db.QueryRowContext(ctx, `
		SELECT `+syncQueueColumns+`
		FROM sync_queue
		WHERE store_id = ?
		  AND sync_direction = 'PULL'
		  AND synced = 0
		  AND dead_lettered = 0
		  AND json_extract(payload, '$.action') = ?
		ORDER BY created_at ASC, rowid ASC
		LIMIT 1`, storeID, string(action))

	item, err := scanSyncItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return item, err
}

func (r *sqliteSyncQueueRepository) ListPendingPullMarkers(ctx context.Context, storeID string) ([]*domain.SyncQueueItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+syncQueueColumns+`
		FROM sync_queue
		WHERE store_id = ? AND sync_direction = 'PULL' AND synced = 0 AND dead_lettered = 0
		ORDER BY created_at ASC, rowid ASC`, storeID)
	if err != nil {
		return nil, fmt.Errorf("list pull markers: %w", err)
	}
	defer rows.Close()
	return scanSyncItems(rows)
}

func (r *sqliteSyncQueueRepository) CleanupStalePullTracking(ctx context.Context, storeID string, action domain.PullAction, excludeID string, cutoff time.Time) (int64, error) {
	if !action.IsValid() {
		return 0, domain.ErrUnknownPullAction
	}

	res, err := r.db.ExecContext(ctx, `
		DELETE FROM sync_queue
		WHERE store_id = ?
		  AND sync_direction = 'PULL'
		  AND json_extract(payload, '$.action') = ?
		  AND id <> ?
		  AND created_at < ?`, storeID, string(action), excludeID, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("cleanup pull markers: %w", err)
	}
	return res.RowsAffected()
}

// itemState reports the terminal flags of an item, or ErrNotFound.
func (r *sqliteSyncQueueRepository) itemState(ctx context.Context, id string) (synced, deadLettered bool, err error) {
	err = r.db.QueryRowContext(ctx,
		`SELECT synced, dead_lettered FROM sync_queue WHERE id = ?`, id).Scan(&synced, &deadLettered)
	if errors.Is(err, sql.ErrNoRows) {
		return false, false, domain.ErrNotFound
	}
	if err != nil {
		return false, false, fmt.Errorf("load sync item state: %w", err)
	}
	return synced, deadLettered, nil
}

// --- helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSyncItem(row rowScanner) (*domain.SyncQueueItem, error) {
	var it domain.SyncQueueItem
	var payload string
	err := row.Scan(
		&it.ID, &it.StoreID, &it.EntityType, &it.EntityID, &it.Operation, &payload, &it.Priority, &it.Synced,
		&it.SyncAttempts, &it.MaxAttempts, &it.LastSyncError, &it.LastAttemptAt, &it.CreatedAt, &it.SyncedAt,
		&it.Direction, &it.APIEndpoint, &it.HTTPStatus, &it.ResponseBody, &it.DeadLettered,
		&it.DeadLetterReason, &it.DeadLetteredAt, &it.ErrorCategory, &it.RetryAfter, &it.IdempotencyKey,
		&it.PayloadVersion,
	)
	if err != nil {
		return nil, err
	}
	it.Payload = json.RawMessage(payload)
	return &it, nil
}

func scanSyncItems(rows *sql.Rows) ([]*domain.SyncQueueItem, error) {
	var items []*domain.SyncQueueItem
	for rows.Next() {
		it, err := scanSyncItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sync item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func marshalPayload(v any) (json.RawMessage, error) {
	if raw, ok := v.(json.RawMessage); ok {
		if !json.Valid(raw) {
			return nil, domain.ErrInvalidPayload
		}
		return raw, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	return b, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
