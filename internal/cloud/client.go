// Package cloud talks to the central sync service over HTTP.
package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/retailhub/lottery-sync/internal/domain"
)

// MaxPullLimit is the largest page the server is ever asked for.
const MaxPullLimit = 1000

// Endpoint paths. Pull paths are built by PullEndpoint.
const (
	EndpointStart    = "/api/v1/sync/start"
	EndpointBatch    = "/api/v1/sync/batch"
	EndpointComplete = "/api/v1/sync/complete"
)

// PullEndpoint returns the delta endpoint serving action.
func PullEndpoint(action domain.PullAction) string {
	return "/api/v1/sync/" + action.Endpoint()
}

// DayCloseEndpoint returns the path of a day-close step ("prepare-close",
// "commit-close" or "cancel-close").
func DayCloseEndpoint(dayID, step string) string {
	return "/api/v1/sync/days/" + dayID + "/" + step
}

// ErrUnavailable is returned while the circuit breaker is open. Callers treat
// it as "offline", not as a delivery failure.
var ErrUnavailable = errors.New("cloud service unavailable")

// APIError is a non-success response from the cloud service.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	// RetryAfter is the raw Retry-After header, if any.
	RetryAfter string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" && e.Code != e.Message {
		return fmt.Sprintf("cloud api %d: %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("cloud api %d: %s", e.StatusCode, e.Message)
}

// StartSyncResponse opens a sync session.
type StartSyncResponse struct {
	SessionID  string    `json:"session_id"`
	Revoked    bool      `json:"revoked"`
	ServerTime time.Time `json:"server_time"`
}

// PushItem is one outbox row as sent in a batch.
type PushItem struct {
	ID             string            `json:"id"`
	EntityType     domain.EntityType `json:"entity_type"`
	EntityID       string            `json:"entity_id"`
	Operation      domain.Operation  `json:"operation"`
	Payload        json.RawMessage   `json:"payload"`
	IdempotencyKey string            `json:"idempotency_key"`
	CreatedAt      time.Time         `json:"created_at"`
}

// PushItemResult is the server's verdict on one pushed item.
type PushItemResult struct {
	ID         string `json:"id"`
	Success    bool   `json:"success"`
	StatusCode int    `json:"status_code,omitempty"`
	Error      string `json:"error,omitempty"`
	Message    string `json:"message,omitempty"`
}

// PushBatchResponse carries one result per pushed item.
type PushBatchResponse struct {
	Results []PushItemResult `json:"results"`
}

// PullRequest asks for records of one action after a cursor.
type PullRequest struct {
	SessionID     string
	Action        domain.PullAction
	SinceSequence int64
	Limit         int
}

// PullResponse is one page of delta records. Records are decoded by the
// caller according to the action.
type PullResponse struct {
	Records      []json.RawMessage `json:"records"`
	NextSequence int64             `json:"next_sequence"`
	HasMore      bool              `json:"has_more"`
}

// CompleteSyncRequest closes a sync session with its tallies.
type CompleteSyncRequest struct {
	SessionID string `json:"session_id"`
	Pushed    int    `json:"pushed"`
	Failed    int    `json:"failed"`
	Pulled    int    `json:"pulled"`
}

// PrepareDayCloseRequest submits a local close for server-side validation.
type PrepareDayCloseRequest struct {
	DayID        string               `json:"day_id"`
	BusinessDate string               `json:"business_date"`
	Closings     []domain.PackClosing `json:"closings"`
}

// PrepareDayCloseResponse is the server's preview of a close.
type PrepareDayCloseResponse struct {
	ValidationToken string          `json:"validation_token"`
	ExpiresAt       time.Time       `json:"expires_at"`
	TotalSales      decimal.Decimal `json:"total_sales"`
	Warnings        []string        `json:"warnings"`
	Discrepancies   []string        `json:"discrepancies"`
}

// CommitDayCloseRequest finalises a prepared close.
type CommitDayCloseRequest struct {
	DayID           string                 `json:"day_id"`
	ValidationToken string                 `json:"validation_token"`
	Close           domain.DayClosePayload `json:"close"`
	IdempotencyKey  string                 `json:"-"`
}

// CancelDayCloseRequest abandons a prepared close.
type CancelDayCloseRequest struct {
	DayID           string `json:"day_id"`
	ValidationToken string `json:"validation_token"`
	Reason          string `json:"reason,omitempty"`
}

// Client abstracts the cloud sync API.
// Tests substitute a fake or point HTTPClient at an httptest.Server.
type Client interface {
	StartSync(ctx context.Context) (*StartSyncResponse, error)
	PushBatch(ctx context.Context, sessionID string, items []PushItem) (*PushBatchResponse, error)
	Pull(ctx context.Context, req PullRequest) (*PullResponse, error)
	CompleteSync(ctx context.Context, req CompleteSyncRequest) error

	PrepareDayClose(ctx context.Context, req PrepareDayCloseRequest) (*PrepareDayCloseResponse, error)
	CommitDayClose(ctx context.Context, req CommitDayCloseRequest) (json.RawMessage, error)
	CancelDayClose(ctx context.Context, req CancelDayCloseRequest) error
}
