package service_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/retailhub/lottery-sync/internal/cloud"
	"github.com/retailhub/lottery-sync/internal/db"
	"github.com/retailhub/lottery-sync/internal/db/dbtest"
	"github.com/retailhub/lottery-sync/internal/domain"
	"github.com/retailhub/lottery-sync/internal/repository"
)

const (
	storeA = "store-a"
	storeB = "store-b"
)

type fixedClock struct{ t time.Time }

func (c *fixedClock) Now() time.Time { return c.t }

func (c *fixedClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type env struct {
	conn      *sql.DB
	queue     repository.SyncQueueRepository
	inventory repository.InventoryRepository
	days      repository.BusinessDayRepository
	clock     *fixedClock
}

func newEnv(t *testing.T) *env {
	t.Helper()
	conn := dbtest.New(t)
	dbtest.SeedStore(t, conn, storeA)
	dbtest.SeedStore(t, conn, storeB)
	clock := &fixedClock{t: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
	queue := repository.NewSQLiteSyncQueueRepository(conn, repository.QueueConfig{
		PushMaxAttempts: 5,
		PullMaxAttempts: 2,
		Now:             clock.Now,
	})
	return &env{
		conn:      conn,
		queue:     queue,
		inventory: repository.NewSQLiteInventoryRepository(conn),
		days:      repository.NewSQLiteBusinessDayRepository(conn),
		clock:     clock,
	}
}

func (e *env) enqueue(t *testing.T, req repository.EnqueueRequest) string {
	t.Helper()
	var res repository.EnqueueResult
	err := db.WithTx(context.Background(), e.conn, func(tx *sql.Tx) error {
		var err error
		res, err = e.queue.Enqueue(context.Background(), tx, req)
		return err
	})
	require.NoError(t, err)
	return res.ID
}

func (e *env) enqueuePackCreate(t *testing.T, packID string) string {
	t.Helper()
	return e.enqueue(t, repository.EnqueueRequest{
		StoreID:    storeA,
		EntityType: domain.EntityPack,
		EntityID:   packID,
		Operation:  domain.OperationCreate,
		Payload: domain.PackReceivedPayload{
			PackID: packID, GameID: "g1", PackNumber: "0001", ReceivedAt: e.clock.Now(),
		},
		Priority: domain.PriorityNormal,
	})
}

func (e *env) item(t *testing.T, id string) *domain.SyncQueueItem {
	t.Helper()
	it, err := e.queue.GetByID(context.Background(), storeA, id)
	require.NoError(t, err)
	return it
}

// fakeCloud is a scriptable cloud.Client. Unset hooks succeed.
type fakeCloud struct {
	mu sync.Mutex

	startFn   func() (*cloud.StartSyncResponse, error)
	batchFn   func(items []cloud.PushItem) (*cloud.PushBatchResponse, error)
	pullFn    func(req cloud.PullRequest) (*cloud.PullResponse, error)
	prepareFn func(req cloud.PrepareDayCloseRequest) (*cloud.PrepareDayCloseResponse, error)
	commitFn  func(req cloud.CommitDayCloseRequest) (json.RawMessage, error)
	cancelled []cloud.CancelDayCloseRequest
	completed []cloud.CompleteSyncRequest
	batches   [][]cloud.PushItem
	pulls     []cloud.PullRequest
	commits   []cloud.CommitDayCloseRequest
}

func (f *fakeCloud) StartSync(context.Context) (*cloud.StartSyncResponse, error) {
	if f.startFn != nil {
		return f.startFn()
	}
	return &cloud.StartSyncResponse{SessionID: "sess-1"}, nil
}

func (f *fakeCloud) PushBatch(_ context.Context, _ string, items []cloud.PushItem) (*cloud.PushBatchResponse, error) {
	f.mu.Lock()
	f.batches = append(f.batches, items)
	f.mu.Unlock()
	if f.batchFn != nil {
		return f.batchFn(items)
	}
	resp := &cloud.PushBatchResponse{}
	for _, it := range items {
		resp.Results = append(resp.Results, cloud.PushItemResult{ID: it.ID, Success: true})
	}
	return resp, nil
}

func (f *fakeCloud) Pull(_ context.Context, req cloud.PullRequest) (*cloud.PullResponse, error) {
	f.mu.Lock()
	f.pulls = append(f.pulls, req)
	f.mu.Unlock()
	if f.pullFn != nil {
		return f.pullFn(req)
	}
	return &cloud.PullResponse{NextSequence: req.SinceSequence}, nil
}

func (f *fakeCloud) CompleteSync(_ context.Context, req cloud.CompleteSyncRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, req)
	return nil
}

func (f *fakeCloud) PrepareDayClose(_ context.Context, req cloud.PrepareDayCloseRequest) (*cloud.PrepareDayCloseResponse, error) {
	if f.prepareFn != nil {
		return f.prepareFn(req)
	}
	return &cloud.PrepareDayCloseResponse{ValidationToken: "cloud-token"}, nil
}

func (f *fakeCloud) CommitDayClose(_ context.Context, req cloud.CommitDayCloseRequest) (json.RawMessage, error) {
	f.mu.Lock()
	f.commits = append(f.commits, req)
	f.mu.Unlock()
	if f.commitFn != nil {
		return f.commitFn(req)
	}
	return json.RawMessage(`{}`), nil
}

func (f *fakeCloud) CancelDayClose(_ context.Context, req cloud.CancelDayCloseRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, req)
	return nil
}

var _ cloud.Client = (*fakeCloud)(nil)

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}
