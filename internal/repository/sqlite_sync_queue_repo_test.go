package repository_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retailhub/lottery-sync/internal/classifier"
	"github.com/retailhub/lottery-sync/internal/db"
	"github.com/retailhub/lottery-sync/internal/db/dbtest"
	"github.com/retailhub/lottery-sync/internal/domain"
	"github.com/retailhub/lottery-sync/internal/repository"
)

const storeA = "store-a"

type fixedClock struct{ t time.Time }

func (c *fixedClock) Now() time.Time { return c.t }

func (c *fixedClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newQueue(t *testing.T) (*sql.DB, repository.SyncQueueRepository, *fixedClock) {
	t.Helper()
	conn := dbtest.New(t)
	dbtest.SeedStore(t, conn, storeA)
	clock := &fixedClock{t: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
	repo := repository.NewSQLiteSyncQueueRepository(conn, repository.QueueConfig{
		PushMaxAttempts: 5,
		PullMaxAttempts: 2,
		Now:             clock.Now,
	})
	return conn, repo, clock
}

func receivedPayload(packID, gameID string, at time.Time) domain.PackReceivedPayload {
	return domain.PackReceivedPayload{PackID: packID, GameID: gameID, PackNumber: "0001", ReceivedAt: at}
}

func enqueue(t *testing.T, conn *sql.DB, repo repository.SyncQueueRepository, req repository.EnqueueRequest) repository.EnqueueResult {
	t.Helper()
	var res repository.EnqueueResult
	err := db.WithTx(context.Background(), conn, func(tx *sql.Tx) error {
		var err error
		res, err = repo.Enqueue(context.Background(), tx, req)
		return err
	})
	require.NoError(t, err)
	return res
}

func packCreate(packID string, payload any) repository.EnqueueRequest {
	return repository.EnqueueRequest{
		StoreID:    storeA,
		EntityType: domain.EntityPack,
		EntityID:   packID,
		Operation:  domain.OperationCreate,
		Payload:    payload,
		Priority:   domain.PriorityNormal,
	}
}

func TestIdempotencyKey_Stable(t *testing.T) {
	k1 := repository.IdempotencyKey(domain.EntityPack, "p1", domain.OperationCreate, "")
	k2 := repository.IdempotencyKey(domain.EntityPack, "p1", domain.OperationCreate, "")
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 64)

	assert.NotEqual(t, k1, repository.IdempotencyKey(domain.EntityPack, "p1", domain.OperationUpdate, ""))
	assert.NotEqual(t, k1, repository.IdempotencyKey(domain.EntityPack, "p1", domain.OperationCreate, "d1"))
	assert.NotEqual(t,
		repository.IdempotencyKey(domain.EntityPack, "ab", domain.OperationCreate, "c"),
		repository.IdempotencyKey(domain.EntityPack, "a", domain.OperationCreate, "bc"))
}

func TestEnqueue_ValidatesRequest(t *testing.T) {
	conn, repo, clock := newQueue(t)
	ctx := context.Background()
	valid := receivedPayload("p1", "g1", clock.Now())

	tests := []struct {
		name    string
		req     repository.EnqueueRequest
		wantErr error
	}{
		{"missing store", repository.EnqueueRequest{EntityType: domain.EntityPack, EntityID: "p1", Operation: domain.OperationCreate, Payload: valid}, domain.ErrStoreRequired},
		{"missing entity", repository.EnqueueRequest{StoreID: storeA, EntityID: "p1", Operation: domain.OperationCreate, Payload: valid}, domain.ErrInvalidEntityType},
		{"bad operation", repository.EnqueueRequest{StoreID: storeA, EntityType: domain.EntityPack, EntityID: "p1", Operation: "MERGE", Payload: valid}, domain.ErrInvalidOperation},
		{"bad json", repository.EnqueueRequest{StoreID: storeA, EntityType: domain.EntityPack, EntityID: "p1", Operation: domain.OperationCreate, Payload: json.RawMessage(`{`)}, domain.ErrInvalidPayload},
		{"pull action not allowlisted", repository.EnqueueRequest{
			StoreID: storeA, EntityType: domain.EntityPullTracking, EntityID: "x", Operation: domain.OperationCreate,
			Direction: domain.DirectionPull, Payload: map[string]any{"action": "pull_everything'; --"},
		}, domain.ErrUnknownPullAction},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := repo.Enqueue(ctx, conn, tc.req)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestEnqueue_DeduplicatesActiveKey(t *testing.T) {
	conn, repo, clock := newQueue(t)
	ctx := context.Background()

	var first repository.EnqueueResult
	for i := 0; i < 5; i++ {
		payload := receivedPayload("p1", "g1", clock.Now())
		payload.PackNumber = string(rune('A' + i))
		res := enqueue(t, conn, repo, packCreate("p1", payload))
		if i == 0 {
			first = res
			assert.False(t, res.Deduplicated)
			continue
		}
		assert.True(t, res.Deduplicated)
		assert.Equal(t, first.ID, res.ID)
	}

	counts, err := repo.GetPendingCount(ctx, storeA)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Push)

	item, err := repo.GetByID(ctx, storeA, first.ID)
	require.NoError(t, err)
	var got domain.PackReceivedPayload
	require.NoError(t, json.Unmarshal(item.Payload, &got))
	assert.Equal(t, "E", got.PackNumber)
	assert.Equal(t, 5, item.PayloadVersion)
	assert.Equal(t, 5, item.MaxAttempts)
	assert.Equal(t, domain.DirectionPush, item.Direction)
}

func TestEnqueue_TerminalRowFreesKey(t *testing.T) {
	conn, repo, clock := newQueue(t)
	ctx := context.Background()

	first := enqueue(t, conn, repo, packCreate("p1", receivedPayload("p1", "g1", clock.Now())))
	require.NoError(t, repo.MarkSynced(ctx, first.ID, 1))

	second := enqueue(t, conn, repo, packCreate("p1", receivedPayload("p1", "g1", clock.Now())))
	assert.False(t, second.Deduplicated)
	assert.NotEqual(t, first.ID, second.ID)

	require.NoError(t, repo.DeadLetter(ctx, second.ID, domain.ReasonManual))
	third := enqueue(t, conn, repo, packCreate("p1", receivedPayload("p1", "g1", clock.Now())))
	assert.False(t, third.Deduplicated)
	assert.NotEqual(t, second.ID, third.ID)
}

func TestEnqueue_RollbackLeavesNothing(t *testing.T) {
	conn, repo, clock := newQueue(t)
	ctx := context.Background()
	dbtest.SeedGame(t, conn, storeA, "g1", "5.00", 300)
	boom := errors.New("domain write failed")

	err := db.WithTx(ctx, conn, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO packs (pack_id, store_id, game_id, pack_number, status, received_at, updated_at)
			VALUES ('p1', ?, 'g1', '0001', 'RECEIVED', ?, ?)`, storeA, clock.Now(), clock.Now())
		require.NoError(t, err)
		_, err = repo.Enqueue(ctx, tx, packCreate("p1", receivedPayload("p1", "g1", clock.Now())))
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	var packs, items int
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM packs`).Scan(&packs))
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM sync_queue`).Scan(&items))
	assert.Zero(t, packs)
	assert.Zero(t, items)
}

func TestEnqueue_UnknownStoreAbortsTransaction(t *testing.T) {
	conn, repo, clock := newQueue(t)
	ctx := context.Background()

	req := packCreate("p1", receivedPayload("p1", "g1", clock.Now()))
	req.StoreID = "no-such-store"
	err := db.WithTx(ctx, conn, func(tx *sql.Tx) error {
		_, err := repo.Enqueue(ctx, tx, req)
		return err
	})
	require.Error(t, err)

	var items int
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM sync_queue`).Scan(&items))
	assert.Zero(t, items)
}

// Missing game_id is caught before the item can burn any attempts.
func TestEnqueue_StructuralPayloadIsDeadLettered(t *testing.T) {
	conn, repo, clock := newQueue(t)
	ctx := context.Background()

	payload := domain.PackReceivedPayload{PackID: "p1", PackNumber: "0001", ReceivedAt: clock.Now()}
	res := enqueue(t, conn, repo, packCreate("p1", payload))
	assert.True(t, res.DeadLettered)

	item, err := repo.GetByID(ctx, storeA, res.ID)
	require.NoError(t, err)
	assert.True(t, item.DeadLettered)
	assert.False(t, item.Synced)
	assert.Equal(t, 0, item.SyncAttempts)
	require.NotNil(t, item.DeadLetterReason)
	assert.Equal(t, domain.ReasonStructuralFailure, *item.DeadLetterReason)
	require.NotNil(t, item.ErrorCategory)
	assert.Equal(t, domain.CategoryStructural, *item.ErrorCategory)
	require.NotNil(t, item.LastSyncError)
	assert.Equal(t, "missing required field: game_id", *item.LastSyncError)

	cls := classifier.New().Classify(0, *item.LastSyncError, "")
	assert.Equal(t, domain.CategoryStructural, cls.Category)
}

func TestEnqueue_UndecodablePayloadIsDeadLettered(t *testing.T) {
	conn, repo, _ := newQueue(t)
	ctx := context.Background()

	raw := json.RawMessage(`{"pack_id":"p1","game_id":"g1","pack_number":1,"received_at":"2026-03-14T09:00:00Z"}`)
	res := enqueue(t, conn, repo, packCreate("p1", raw))
	assert.True(t, res.DeadLettered)

	item, err := repo.GetByID(ctx, storeA, res.ID)
	require.NoError(t, err)
	require.NotNil(t, item.DeadLetterReason)
	assert.Equal(t, domain.ReasonStructuralFailure, *item.DeadLetterReason)
	require.NotNil(t, item.LastSyncError)
	assert.Contains(t, *item.LastSyncError, "invalid format")

	cls := classifier.New().Classify(0, *item.LastSyncError, "")
	assert.Equal(t, domain.CategoryStructural, cls.Category)

	counts, err := repo.GetPendingCount(ctx, storeA)
	require.NoError(t, err)
	assert.Zero(t, counts.Push)
	assert.Equal(t, 1, counts.DeadLettered)
}

func TestGetRetryableItems_OrderAndRetryAfter(t *testing.T) {
	conn, repo, clock := newQueue(t)
	ctx := context.Background()

	low := packCreate("p-low", receivedPayload("p-low", "g1", clock.Now()))
	low.Priority = domain.PriorityLow
	lowRes := enqueue(t, conn, repo, low)

	clock.Advance(time.Second)
	high := packCreate("p-high", receivedPayload("p-high", "g1", clock.Now()))
	high.Priority = domain.PriorityHigh
	highRes := enqueue(t, conn, repo, high)

	clock.Advance(time.Second)
	older := enqueue(t, conn, repo, packCreate("p-old", receivedPayload("p-old", "g1", clock.Now())))
	clock.Advance(time.Second)
	newer := enqueue(t, conn, repo, packCreate("p-new", receivedPayload("p-new", "g1", clock.Now())))

	items, err := repo.GetRetryableItems(ctx, storeA, clock.Now(), 10)
	require.NoError(t, err)
	require.Len(t, items, 4)
	assert.Equal(t, []string{highRes.ID, older.ID, newer.ID, lowRes.ID},
		[]string{items[0].ID, items[1].ID, items[2].ID, items[3].ID})

	require.NoError(t, repo.SetRetryAfter(ctx, highRes.ID, clock.Now().Add(time.Minute)))
	items, err = repo.GetRetryableItems(ctx, storeA, clock.Now(), 10)
	require.NoError(t, err)
	assert.Len(t, items, 3)

	items, err = repo.GetRetryableItems(ctx, storeA, clock.Now().Add(2*time.Minute), 10)
	require.NoError(t, err)
	assert.Len(t, items, 4)
}

func TestIncrementAttempts_RecordsContext(t *testing.T) {
	conn, repo, clock := newQueue(t)
	ctx := context.Background()
	res := enqueue(t, conn, repo, packCreate("p1", receivedPayload("p1", "g1", clock.Now())))

	n, err := repo.IncrementAttempts(ctx, res.ID, "Bad Request", &repository.AttemptContext{
		Endpoint:     "/api/v1/sync/batch",
		HTTPStatus:   400,
		ResponseBody: `{"error":"bad_request"}`,
		Category:     domain.CategoryPermanent,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = repo.IncrementAttempts(ctx, res.ID, "connection refused", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	item, err := repo.GetByID(ctx, storeA, res.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, item.SyncAttempts)
	assert.Equal(t, "connection refused", *item.LastSyncError)
	assert.Equal(t, 400, *item.HTTPStatus)
	assert.Equal(t, "/api/v1/sync/batch", *item.APIEndpoint)
	assert.Equal(t, domain.CategoryPermanent, *item.ErrorCategory)
	require.NotNil(t, item.LastAttemptAt)
	assert.True(t, item.LastAttemptAt.Equal(clock.Now()))
	assert.False(t, item.DeadLettered)

	_, err = repo.IncrementAttempts(ctx, "missing", "x", nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// recordFailure mirrors the push loop: record, classify, route.
func recordFailure(t *testing.T, repo repository.SyncQueueRepository, id string, status int, msg, retryAfter string) (classifier.Classification, classifier.Decision) {
	t.Helper()
	ctx := context.Background()
	cls := classifier.New().Classify(status, msg, retryAfter)
	attempts, err := repo.IncrementAttempts(ctx, id, msg, &repository.AttemptContext{HTTPStatus: status, Category: cls.Category})
	require.NoError(t, err)
	item, err := repo.GetByID(ctx, storeA, id)
	require.NoError(t, err)
	decision := classifier.Router{}.ShouldDeadLetter(attempts, item.MaxAttempts, cls.Category)
	if decision.DeadLetter {
		require.NoError(t, repo.DeadLetter(ctx, id, decision.Reason))
	}
	if cls.RetryAfter != nil {
		require.NoError(t, repo.SetRetryAfter(ctx, id, *cls.RetryAfter))
	}
	return cls, decision
}

func TestDeadLetter_PermanentAtMaxAttempts(t *testing.T) {
	conn, repo, clock := newQueue(t)
	ctx := context.Background()
	res := enqueue(t, conn, repo, packCreate("p1", receivedPayload("p1", "g1", clock.Now())))

	for i := 1; i <= 5; i++ {
		cls, decision := recordFailure(t, repo, res.ID, 400, "Bad Request", "")
		assert.Equal(t, domain.CategoryPermanent, cls.Category)
		assert.Equal(t, classifier.ActionDeadLetter, cls.Action)
		assert.Equal(t, i == 5, decision.DeadLetter, "attempt %d", i)
	}

	item, err := repo.GetByID(ctx, storeA, res.ID)
	require.NoError(t, err)
	assert.True(t, item.DeadLettered)
	assert.False(t, item.Synced)
	assert.Equal(t, domain.ReasonPermanentError, *item.DeadLetterReason)
	assert.Equal(t, 5, item.SyncAttempts)
	assert.Equal(t, 400, *item.HTTPStatus)
}

func TestDeadLetter_TransientAtTwiceMaxAttempts(t *testing.T) {
	conn, repo, clock := newQueue(t)
	ctx := context.Background()
	res := enqueue(t, conn, repo, packCreate("p1", receivedPayload("p1", "g1", clock.Now())))

	for i := 1; i <= 10; i++ {
		_, decision := recordFailure(t, repo, res.ID, 503, "Service Unavailable", "")
		if i < 10 {
			assert.False(t, decision.DeadLetter, "attempt %d", i)
		} else {
			assert.True(t, decision.DeadLetter)
		}
	}

	item, err := repo.GetByID(ctx, storeA, res.ID)
	require.NoError(t, err)
	assert.True(t, item.DeadLettered)
	assert.Equal(t, domain.ReasonMaxAttemptsExceeded, *item.DeadLetterReason)
	assert.Equal(t, 10, item.SyncAttempts)
}

func TestSetRetryAfter_RateLimitDefersItem(t *testing.T) {
	conn, repo, clock := newQueue(t)
	ctx := context.Background()
	res := enqueue(t, conn, repo, packCreate("p1", receivedPayload("p1", "g1", clock.Now())))

	before := time.Now()
	cls, decision := recordFailure(t, repo, res.ID, 429, "Too Many Requests", "60")
	assert.Equal(t, domain.CategoryTransient, cls.Category)
	assert.True(t, cls.ExtendedBackoff)
	assert.False(t, decision.DeadLetter)

	item, err := repo.GetByID(ctx, storeA, res.ID)
	require.NoError(t, err)
	require.NotNil(t, item.RetryAfter)
	assert.WithinDuration(t, before.Add(60*time.Second), *item.RetryAfter, 5*time.Second)

	items, err := repo.GetRetryableItems(ctx, storeA, before, 10)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestDeadLetter_NeverOnSyncedItem(t *testing.T) {
	conn, repo, clock := newQueue(t)
	ctx := context.Background()
	res := enqueue(t, conn, repo, packCreate("p1", receivedPayload("p1", "g1", clock.Now())))

	require.NoError(t, repo.MarkSynced(ctx, res.ID, 1))
	assert.ErrorIs(t, repo.DeadLetter(ctx, res.ID, domain.ReasonManual), domain.ErrAlreadySynced)
	assert.ErrorIs(t, repo.DeadLetter(ctx, "missing", domain.ReasonManual), domain.ErrNotFound)
}

func TestMarkSynced_StalePayloadVersionStaysPending(t *testing.T) {
	conn, repo, clock := newQueue(t)
	ctx := context.Background()
	res := enqueue(t, conn, repo, packCreate("p1", receivedPayload("p1", "g1", clock.Now())))

	sent, err := repo.GetByID(ctx, storeA, res.ID)
	require.NoError(t, err)
	require.Equal(t, 1, sent.PayloadVersion)
	require.NoError(t, repo.SetRetryAfter(ctx, res.ID, clock.Now().Add(time.Hour)))

	replaced := receivedPayload("p1", "g1", clock.Now())
	replaced.PackNumber = "0002"
	again := enqueue(t, conn, repo, packCreate("p1", replaced))
	require.True(t, again.Deduplicated)

	assert.ErrorIs(t, repo.MarkSynced(ctx, res.ID, sent.PayloadVersion), domain.ErrPayloadSuperseded)

	item, err := repo.GetByID(ctx, storeA, res.ID)
	require.NoError(t, err)
	assert.False(t, item.Synced)
	assert.Equal(t, 2, item.PayloadVersion)
	assert.Nil(t, item.RetryAfter)

	require.NoError(t, repo.MarkSynced(ctx, res.ID, item.PayloadVersion))
	item, err = repo.GetByID(ctx, storeA, res.ID)
	require.NoError(t, err)
	assert.True(t, item.Synced)
}

func TestMarkSynced_RefusesDeadLettered(t *testing.T) {
	conn, repo, clock := newQueue(t)
	ctx := context.Background()
	res := enqueue(t, conn, repo, packCreate("p1", receivedPayload("p1", "g1", clock.Now())))

	require.NoError(t, repo.DeadLetter(ctx, res.ID, domain.ReasonManual))
	assert.ErrorIs(t, repo.MarkSynced(ctx, res.ID, 1), domain.ErrItemDeadLettered)

	item, err := repo.GetByID(ctx, storeA, res.ID)
	require.NoError(t, err)
	assert.False(t, item.Synced)
	assert.True(t, item.DeadLettered)
}

func TestRestoreFromDeadLetter_FullReset(t *testing.T) {
	conn, repo, clock := newQueue(t)
	ctx := context.Background()
	res := enqueue(t, conn, repo, packCreate("p1", receivedPayload("p1", "g1", clock.Now())))

	for i := 0; i < 5; i++ {
		recordFailure(t, repo, res.ID, 400, "Bad Request", "")
	}
	require.NoError(t, repo.SetRetryAfter(ctx, res.ID, clock.Now().Add(time.Hour)))

	require.NoError(t, repo.RestoreFromDeadLetter(ctx, storeA, res.ID))

	item, err := repo.GetByID(ctx, storeA, res.ID)
	require.NoError(t, err)
	assert.False(t, item.DeadLettered)
	assert.Nil(t, item.DeadLetterReason)
	assert.Nil(t, item.DeadLetteredAt)
	assert.Equal(t, 0, item.SyncAttempts)
	assert.Nil(t, item.LastSyncError)
	assert.Nil(t, item.ErrorCategory)
	assert.Nil(t, item.RetryAfter)

	items, err := repo.GetRetryableItems(ctx, storeA, clock.Now(), 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, res.ID, items[0].ID)

	assert.ErrorIs(t, repo.RestoreFromDeadLetter(ctx, storeA, res.ID), domain.ErrNotDeadLettered)
	assert.ErrorIs(t, repo.RestoreFromDeadLetter(ctx, "store-b", res.ID), domain.ErrNotFound)
}

func TestRestoreFromDeadLetter_ConflictsWithActiveKey(t *testing.T) {
	conn, repo, clock := newQueue(t)
	ctx := context.Background()

	first := enqueue(t, conn, repo, packCreate("p1", receivedPayload("p1", "g1", clock.Now())))
	require.NoError(t, repo.DeadLetter(ctx, first.ID, domain.ReasonManual))
	second := enqueue(t, conn, repo, packCreate("p1", receivedPayload("p1", "g1", clock.Now())))
	require.NotEqual(t, first.ID, second.ID)

	err := repo.RestoreFromDeadLetter(ctx, storeA, first.ID)
	assert.ErrorIs(t, err, domain.ErrIdempotencyConflict)

	require.NoError(t, repo.MarkSynced(ctx, second.ID, 1))
	assert.NoError(t, repo.RestoreFromDeadLetter(ctx, storeA, first.ID))
}

func TestDeadLetterStatsAndItems(t *testing.T) {
	conn, repo, clock := newQueue(t)
	ctx := context.Background()
	dbtest.SeedStore(t, conn, "store-b")

	for i := 0; i < 3; i++ {
		id := string(rune('a' + i))
		res := enqueue(t, conn, repo, packCreate(id, receivedPayload(id, "g1", clock.Now())))
		require.NoError(t, repo.DeadLetter(ctx, res.ID, domain.ReasonPermanentError))
		clock.Advance(time.Minute)
	}
	enqueue(t, conn, repo, packCreate("bad", domain.PackReceivedPayload{PackID: "bad"}))

	other := packCreate("b1", receivedPayload("b1", "g1", clock.Now()))
	other.StoreID = "store-b"
	otherRes := enqueue(t, conn, repo, other)
	require.NoError(t, repo.DeadLetter(ctx, otherRes.ID, domain.ReasonManual))

	stats, err := repo.GetDeadLetterStats(ctx, storeA)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 3, stats.ByReason[domain.ReasonPermanentError])
	assert.Equal(t, 1, stats.ByReason[domain.ReasonStructuralFailure])
	assert.Equal(t, 4, stats.ByEntityType[domain.EntityPack])
	require.NotNil(t, stats.OldestAt)
	assert.True(t, stats.OldestAt.Equal(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)))

	items, total, err := repo.GetDeadLetterItems(ctx, storeA, domain.Page{Page: 1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.Len(t, items, 2)
	for _, it := range items {
		assert.Equal(t, storeA, it.StoreID)
	}

	items, _, err = repo.GetDeadLetterItems(ctx, storeA, domain.Page{Page: 2, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, items, 2)

	_, _, err = repo.GetDeadLetterItems(ctx, storeA, domain.Page{Page: 1, Limit: 10_000})
	assert.NoError(t, err)

	empty, err := repo.GetDeadLetterStats(ctx, "store-c")
	require.NoError(t, err)
	assert.Zero(t, empty.Total)
	assert.Nil(t, empty.OldestAt)
}

func pullMarker(action domain.PullAction, at time.Time) repository.EnqueueRequest {
	return repository.EnqueueRequest{
		StoreID:    storeA,
		EntityType: domain.EntityPullTracking,
		EntityID:   string(action),
		Operation:  domain.OperationCreate,
		Direction:  domain.DirectionPull,
		Payload:    domain.PullMarkerPayload{Action: action, StartedAt: at},
	}
}

func TestPullMarkers_LookupAndCleanup(t *testing.T) {
	conn, repo, clock := newQueue(t)
	ctx := context.Background()

	_, err := repo.GetPendingPullItemByAction(ctx, storeA, "pull_%")
	assert.ErrorIs(t, err, domain.ErrUnknownPullAction)

	_, err = repo.GetPendingPullItemByAction(ctx, storeA, domain.PullReturnedPacks)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	old := enqueue(t, conn, repo, pullMarker(domain.PullReturnedPacks, clock.Now()))
	require.NoError(t, repo.MarkSynced(ctx, old.ID, 1))

	clock.Advance(48 * time.Hour)
	current := enqueue(t, conn, repo, pullMarker(domain.PullReturnedPacks, clock.Now()))
	again := enqueue(t, conn, repo, pullMarker(domain.PullReturnedPacks, clock.Now()))
	assert.True(t, again.Deduplicated)
	assert.Equal(t, current.ID, again.ID)
	games := enqueue(t, conn, repo, pullMarker(domain.PullGames, clock.Now()))

	_, err = repo.IncrementAttempts(ctx, current.ID, "timeout", nil)
	require.NoError(t, err)

	got, err := repo.GetPendingPullItemByAction(ctx, storeA, domain.PullReturnedPacks)
	require.NoError(t, err)
	assert.Equal(t, current.ID, got.ID)
	assert.Equal(t, 2, got.MaxAttempts)
	assert.Equal(t, 1, got.SyncAttempts)
	assert.Equal(t, "timeout", *got.LastSyncError)

	pushable, err := repo.GetRetryableItems(ctx, storeA, clock.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, pushable)

	markers, err := repo.ListPendingPullMarkers(ctx, storeA)
	require.NoError(t, err)
	assert.Len(t, markers, 2)

	require.NoError(t, repo.MarkSynced(ctx, current.ID, got.PayloadVersion))
	n, err := repo.CleanupStalePullTracking(ctx, storeA, domain.PullReturnedPacks, current.ID, clock.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = repo.GetByID(ctx, storeA, old.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = repo.GetByID(ctx, storeA, current.ID)
	assert.NoError(t, err)
	_, err = repo.GetByID(ctx, storeA, games.ID)
	assert.NoError(t, err)

	_, err = repo.CleanupStalePullTracking(ctx, storeA, "bogus", "", clock.Now())
	assert.ErrorIs(t, err, domain.ErrUnknownPullAction)
}
