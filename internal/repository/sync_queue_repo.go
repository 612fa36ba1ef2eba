package repository

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"time"

	"github.com/retailhub/lottery-sync/internal/domain"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx, so writes can join a
// caller's transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SyncQueueRepository defines all persistence operations on the outbox.
// The SQLite implementation is in sqlite_sync_queue_repo.go.
type SyncQueueRepository interface {
	Enqueue(ctx context.Context, q DBTX, req EnqueueRequest) (EnqueueResult, error)
	GetByID(ctx context.Context, storeID, id string) (*domain.SyncQueueItem, error)
	GetPendingCount(ctx context.Context, storeID string) (PendingCounts, error)
	GetRetryableItems(ctx context.Context, storeID string, now time.Time, limit int) ([]*domain.SyncQueueItem, error)
	// MarkSynced succeeds only while the row still holds payloadVersion.
	// Otherwise the row stays pending and ErrPayloadSuperseded is returned.
	MarkSynced(ctx context.Context, id string, payloadVersion int) error
	IncrementAttempts(ctx context.Context, id, errMsg string, attempt *AttemptContext) (int, error)
	SetRetryAfter(ctx context.Context, id string, at time.Time) error

	DeadLetter(ctx context.Context, id string, reason domain.DeadLetterReason) error
	RestoreFromDeadLetter(ctx context.Context, storeID, id string) error
	GetDeadLetterStats(ctx context.Context, storeID string) (*domain.DeadLetterStats, error)
	GetDeadLetterItems(ctx context.Context, storeID string, page domain.Page) ([]*domain.SyncQueueItem, int, error)

	GetPendingPullItemByAction(ctx context.Context, storeID string, action domain.PullAction) (*domain.SyncQueueItem, error)
	ListPendingPullMarkers(ctx context.Context, storeID string) ([]*domain.SyncQueueItem, error)
	CleanupStalePullTracking(ctx context.Context, storeID string, action domain.PullAction, excludeID string, cutoff time.Time) (int64, error)
}

// EnqueueRequest describes one outbox write. Payload is marshaled to JSON;
// a json.RawMessage is stored as-is.
type EnqueueRequest struct {
	StoreID    string
	EntityType domain.EntityType
	EntityID   string
	Operation  domain.Operation
	Payload    any
	Priority   int
	Direction  domain.Direction
	// MaxAttempts overrides the per-direction default when positive.
	MaxAttempts int
	// IdempotencyKey overrides the derived key when set.
	IdempotencyKey string
	// Discriminator distinguishes otherwise identical events that must not
	// collapse, e.g. two closes of the same pack on different days.
	Discriminator string
}

// EnqueueResult reports where the event landed.
type EnqueueResult struct {
	ID           string
	Deduplicated bool
	// DeadLettered is set when the payload failed structural validation and
	// was stored directly in the dead-letter queue.
	DeadLettered bool
}

// AttemptContext carries the API context of a failed delivery.
type AttemptContext struct {
	Endpoint     string
	HTTPStatus   int
	ResponseBody string
	Category     domain.ErrorCategory
}

// PendingCounts summarises the outbox for one store.
type PendingCounts struct {
	Push         int `json:"pending_push"`
	Pull         int `json:"pending_pull"`
	DeadLettered int `json:"dead_lettered"`
}

const idempotencyDomain = "lottery-sync/idempotency/v1"

// IdempotencyKey derives the stable key of an event. Components are
// NUL-separated so ("ab","c") and ("a","bc") hash differently.
func IdempotencyKey(entityType domain.EntityType, entityID string, op domain.Operation, discriminator string) string {
	h := sha256.New()
	h.Write([]byte(idempotencyDomain))
	for _, part := range []string{string(entityType), entityID, string(op), discriminator} {
		h.Write([]byte{0x00})
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}
