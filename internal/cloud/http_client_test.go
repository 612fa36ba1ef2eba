package cloud_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/retailhub/lottery-sync/internal/cloud"
	"github.com/retailhub/lottery-sync/internal/domain"
)

func newClient(t *testing.T, h http.HandlerFunc) *cloud.HTTPClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return cloud.NewHTTPClient(cloud.Config{
		BaseURL:             srv.URL,
		APIKey:              "secret",
		StoreID:             "store-a",
		Timeout:             2 * time.Second,
		ConsecutiveFailures: 3,
		OpenTimeout:         time.Minute,
	}, nil, zap.NewNop())
}

func writeData(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "data": data})
}

func TestStartSync_SendsAuthHeaders(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, cloud.EndpointStart, r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "store-a", r.Header.Get("X-Store-ID"))
		writeData(w, map[string]any{"session_id": "sess-1", "revoked": false})
	})

	resp, err := c.StartSync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sess-1", resp.SessionID)
	assert.False(t, resp.Revoked)
}

func TestPushBatch_SetsIdempotencyKeyAndDecodesResults(t *testing.T) {
	keys := make(chan string, 2)
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		keys <- r.Header.Get("Idempotency-Key")
		var body struct {
			SessionID string           `json:"session_id"`
			Items     []cloud.PushItem `json:"items"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "sess-1", body.SessionID)
		require.Len(t, body.Items, 2)
		writeData(w, map[string]any{"results": []map[string]any{
			{"id": body.Items[0].ID, "success": true},
			{"id": body.Items[1].ID, "success": false, "status_code": 400, "message": "missing required field: bin_id"},
		}})
	})

	items := []cloud.PushItem{
		{ID: "q1", EntityType: domain.EntityPack, EntityID: "p1", Operation: domain.OperationCreate, Payload: json.RawMessage(`{}`), IdempotencyKey: "k1"},
		{ID: "q2", EntityType: domain.EntityPack, EntityID: "p2", Operation: domain.OperationActivate, Payload: json.RawMessage(`{}`), IdempotencyKey: "k2"},
	}
	for i := 0; i < 2; i++ {
		resp, err := c.PushBatch(context.Background(), "sess-1", items)
		require.NoError(t, err)
		require.Len(t, resp.Results, 2)
		assert.True(t, resp.Results[0].Success)
		assert.Equal(t, 400, resp.Results[1].StatusCode)
	}
	first, second := <-keys, <-keys
	assert.NotEmpty(t, first)
	assert.Equal(t, first, second)
}

func TestPull_ClampsLimit(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v1/sync/packs/returned", r.URL.Path)
		assert.Equal(t, "1000", r.URL.Query().Get("limit"))
		assert.Equal(t, "42", r.URL.Query().Get("since_sequence"))
		assert.Equal(t, "sess-1", r.URL.Query().Get("session_id"))
		writeData(w, map[string]any{"records": []any{}, "next_sequence": 42, "has_more": false})
	})

	resp, err := c.Pull(context.Background(), cloud.PullRequest{
		SessionID: "sess-1", Action: domain.PullReturnedPacks, SinceSequence: 42, Limit: 50_000,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), resp.NextSequence)
	assert.False(t, resp.HasMore)
}

func TestPull_RejectsUnknownAction(t *testing.T) {
	var calls atomic.Int32
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) { calls.Add(1) })

	_, err := c.Pull(context.Background(), cloud.PullRequest{Action: "../admin"})
	assert.ErrorIs(t, err, domain.ErrUnknownPullAction)
	assert.Zero(t, calls.Load())
}

func TestAPIError_CarriesStatusMessageAndRetryAfter(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "60")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"success":false,"error":"rate_limited","message":"Too Many Requests"}`))
	})

	_, err := c.StartSync(context.Background())
	var apiErr *cloud.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Equal(t, "rate_limited", apiErr.Code)
	assert.Equal(t, "Too Many Requests", apiErr.Message)
	assert.Equal(t, "60", apiErr.RetryAfter)
	assert.Contains(t, apiErr.Body, "rate_limited")
}

func TestAPIError_NonJSONBody(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html>bad gateway</html>"))
	})

	err := c.CompleteSync(context.Background(), cloud.CompleteSyncRequest{SessionID: "s"})
	var apiErr *cloud.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "Bad Gateway", apiErr.Message)
}

func TestBreaker_OpensOnServerErrorsOnly(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusBadRequest)
	var calls atomic.Int32
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(int(status.Load()))
		_, _ = w.Write([]byte(`{"success":false,"error":"x","message":"x"}`))
	})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := c.StartSync(ctx)
		assert.False(t, errors.Is(err, cloud.ErrUnavailable))
	}
	assert.Equal(t, "closed", c.BreakerState())

	status.Store(http.StatusServiceUnavailable)
	for i := 0; i < 3; i++ {
		_, _ = c.StartSync(ctx)
	}
	assert.Equal(t, "open", c.BreakerState())

	before := calls.Load()
	_, err := c.StartSync(ctx)
	assert.ErrorIs(t, err, cloud.ErrUnavailable)
	assert.Equal(t, before, calls.Load())
}

func TestCommitDayClose_ReturnsRawSummary(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/sync/days/d1/commit-close", r.URL.Path)
		assert.Equal(t, "close-key", r.Header.Get("Idempotency-Key"))
		writeData(w, map[string]any{"day_id": "d1", "total_sales": "400"})
	})

	raw, err := c.CommitDayClose(context.Background(), cloud.CommitDayCloseRequest{
		DayID: "d1", ValidationToken: "tok", IdempotencyKey: "close-key",
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"day_id":"d1","total_sales":"400"}`, string(raw))
}
