package domain

import (
	"encoding/json"
	"time"
)

// Operation is the kind of mutation a sync item carries.
type Operation string

const (
	OperationCreate   Operation = "CREATE"
	OperationUpdate   Operation = "UPDATE"
	OperationDelete   Operation = "DELETE"
	OperationActivate Operation = "ACTIVATE"
)

func (o Operation) IsValid() bool {
	switch o {
	case OperationCreate, OperationUpdate, OperationDelete, OperationActivate:
		return true
	}
	return false
}

// Direction tells whether a queue row is an outbound mutation or a pull marker.
type Direction string

const (
	DirectionPush Direction = "PUSH"
	DirectionPull Direction = "PULL"
)

// ErrorCategory is the classifier's verdict for a failed delivery.
type ErrorCategory string

const (
	CategoryPermanent  ErrorCategory = "PERMANENT"
	CategoryTransient  ErrorCategory = "TRANSIENT"
	CategoryStructural ErrorCategory = "STRUCTURAL"
	CategoryUnknown    ErrorCategory = "UNKNOWN"
)

// DeadLetterReason records why an item left the retry cycle.
type DeadLetterReason string

const (
	ReasonStructuralFailure   DeadLetterReason = "STRUCTURAL_FAILURE"
	ReasonPermanentError      DeadLetterReason = "PERMANENT_ERROR"
	ReasonMaxAttemptsExceeded DeadLetterReason = "MAX_ATTEMPTS_EXCEEDED"
	ReasonManual              DeadLetterReason = "MANUAL"
)

// Queue priorities. Higher values are pushed first.
const (
	PriorityLow    = 0
	PriorityNormal = 5
	PriorityHigh   = 10
)

// SyncQueueItem is a row of the sync_queue outbox table.
type SyncQueueItem struct {
	ID               string            `json:"id"`
	StoreID          string            `json:"store_id"`
	EntityType       EntityType        `json:"entity_type"`
	EntityID         string            `json:"entity_id"`
	Operation        Operation         `json:"operation"`
	Payload          json.RawMessage   `json:"payload"`
	Priority         int               `json:"priority"`
	Synced           bool              `json:"synced"`
	SyncAttempts     int               `json:"sync_attempts"`
	MaxAttempts      int               `json:"max_attempts"`
	LastSyncError    *string           `json:"last_sync_error,omitempty"`
	LastAttemptAt    *time.Time        `json:"last_attempt_at,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	SyncedAt         *time.Time        `json:"synced_at,omitempty"`
	Direction        Direction         `json:"sync_direction"`
	APIEndpoint      *string           `json:"api_endpoint,omitempty"`
	HTTPStatus       *int              `json:"http_status,omitempty"`
	ResponseBody     *string           `json:"response_body,omitempty"`
	DeadLettered     bool              `json:"dead_lettered"`
	DeadLetterReason *DeadLetterReason `json:"dead_letter_reason,omitempty"`
	DeadLetteredAt   *time.Time        `json:"dead_lettered_at,omitempty"`
	ErrorCategory    *ErrorCategory    `json:"error_category,omitempty"`
	RetryAfter       *time.Time        `json:"retry_after,omitempty"`
	IdempotencyKey   string            `json:"idempotency_key"`
	// PayloadVersion increases each time deduplication replaces Payload.
	PayloadVersion   int               `json:"payload_version"`
}

// IsActive reports whether the item is still eligible for delivery at some point.
func (i *SyncQueueItem) IsActive() bool {
	return !i.Synced && !i.DeadLettered
}

// DeadLetterStats groups dead-lettered item counts for operator dashboards.
type DeadLetterStats struct {
	Total        int                      `json:"total"`
	ByReason     map[DeadLetterReason]int `json:"by_reason"`
	ByEntityType map[EntityType]int       `json:"by_entity_type"`
	OldestAt     *time.Time               `json:"oldest_at,omitempty"`
}

// Page holds pagination parameters. Page is 1-based.
type Page struct {
	Page  int
	Limit int
}

// Offset returns the row offset for the page.
func (p Page) Offset() int {
	if p.Page < 1 {
		return 0
	}
	return (p.Page - 1) * p.Limit
}
