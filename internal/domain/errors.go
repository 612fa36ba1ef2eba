package domain

import "errors"

// Sentinel errors used throughout the application.
// Handlers translate these to HTTP status codes via a single mapError function.
var (
	ErrNotFound            = errors.New("not found")
	ErrIdempotencyConflict = errors.New("conflict: another active sync item holds this idempotency key")
	ErrUnknownPullAction   = errors.New("unknown pull action")
	ErrInvalidEntityType   = errors.New("invalid entity type")
	ErrInvalidOperation    = errors.New("invalid operation: must be CREATE, UPDATE, DELETE, or ACTIVATE")
	ErrInvalidPayload      = errors.New("payload must be a JSON object")
	ErrStoreRequired       = errors.New("store id is required")
	ErrNotDeadLettered     = errors.New("sync item is not dead-lettered")
	ErrAlreadySynced       = errors.New("sync item is already synced")
	ErrItemDeadLettered    = errors.New("sync item is dead-lettered")
	ErrPayloadSuperseded   = errors.New("sync item payload changed while it was being delivered")
	ErrSyncRevoked         = errors.New("store sync access has been revoked")
	ErrUnknownDirection    = errors.New("unknown sync direction: must be PUSH or PULL")

	// Inventory and business-day errors.
	ErrTenantIsolation        = errors.New("tenant isolation: pack belongs to a different store")
	ErrPackNotActive          = errors.New("pack is not ACTIVE")
	ErrPackNotReceived        = errors.New("pack is not in RECEIVED status")
	ErrPackNotReturnable      = errors.New("pack cannot be returned in its current status")
	ErrPackExists             = errors.New("pack already exists")
	ErrBinRequired            = errors.New("bin id is required")
	ErrInvalidSerial          = errors.New("serial must not be negative")
	ErrPackFieldsRequired     = errors.New("pack id, game id, and pack number are required")
	ErrDuplicateClosing       = errors.New("pack appears more than once in closings")
	ErrNoClosings             = errors.New("at least one pack closing is required")
	ErrUserRequired           = errors.New("user id is required")
	ErrInvalidClosingSerial   = errors.New("closing serial is outside the unsold range of the pack")
	ErrInvalidDayTransition   = errors.New("business day cannot make this status transition")
	ErrNoOpenDay              = errors.New("store has no OPEN business day")
	ErrNoPendingClose         = errors.New("business day has no prepared close")
	ErrValidationTokenExpired = errors.New("day close validation token has expired")
	ErrValidationTokenInvalid = errors.New("day close validation token does not match")
)
