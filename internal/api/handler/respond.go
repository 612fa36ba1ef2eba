package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/retailhub/lottery-sync/internal/domain"
)

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

// mapError translates domain sentinel errors to HTTP status codes.
// All mapping lives here so individual handlers stay concise.
func mapError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrTenantIsolation):
		respondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrValidationTokenExpired):
		respondError(w, http.StatusGone, err.Error())
	case errors.Is(err, domain.ErrIdempotencyConflict),
		errors.Is(err, domain.ErrNotDeadLettered),
		errors.Is(err, domain.ErrAlreadySynced),
		errors.Is(err, domain.ErrItemDeadLettered),
		errors.Is(err, domain.ErrPackExists),
		errors.Is(err, domain.ErrPackNotActive),
		errors.Is(err, domain.ErrPackNotReceived),
		errors.Is(err, domain.ErrPackNotReturnable),
		errors.Is(err, domain.ErrInvalidDayTransition),
		errors.Is(err, domain.ErrNoOpenDay),
		errors.Is(err, domain.ErrNoPendingClose),
		errors.Is(err, domain.ErrValidationTokenInvalid):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInvalidEntityType),
		errors.Is(err, domain.ErrInvalidOperation),
		errors.Is(err, domain.ErrInvalidPayload),
		errors.Is(err, domain.ErrStoreRequired),
		errors.Is(err, domain.ErrUnknownPullAction),
		errors.Is(err, domain.ErrUnknownDirection),
		errors.Is(err, domain.ErrBinRequired),
		errors.Is(err, domain.ErrInvalidSerial),
		errors.Is(err, domain.ErrPackFieldsRequired),
		errors.Is(err, domain.ErrDuplicateClosing),
		errors.Is(err, domain.ErrNoClosings),
		errors.Is(err, domain.ErrUserRequired),
		errors.Is(err, domain.ErrInvalidClosingSerial):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal server error")
	}
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func parsePage(r *http.Request) domain.Page {
	q := r.URL.Query()
	page := domain.Page{Page: 1, Limit: 20}

	if p, err := strconv.Atoi(q.Get("page")); err == nil && p > 0 {
		page.Page = p
	}
	if l, err := strconv.Atoi(q.Get("limit")); err == nil && l > 0 && l <= 100 {
		page.Limit = l
	}
	return page
}
