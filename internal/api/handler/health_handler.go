package handler

import (
	"context"
	"net/http"
	"time"
)

type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthHandler serves the liveness probe endpoint.
type HealthHandler struct {
	db      Pinger
	breaker func() string
}

// NewHealthHandler builds the handler. breaker reports the cloud circuit
// breaker state and may be nil.
func NewHealthHandler(db Pinger, breaker func() string) *HealthHandler {
	return &HealthHandler{db: db, breaker: breaker}
}

// Health handles GET /health
//
// The terminal stays usable offline, so an open breaker is reported but
// does not fail the probe. An unreachable database does.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	body := map[string]string{"status": "ok", "database": "ok"}
	if h.breaker != nil {
		body["cloud_breaker"] = h.breaker()
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.db.PingContext(ctx); err != nil {
		body["status"] = "degraded"
		body["database"] = err.Error()
		respondJSON(w, http.StatusServiceUnavailable, body)
		return
	}
	respondJSON(w, http.StatusOK, body)
}
