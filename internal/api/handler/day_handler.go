package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apimw "github.com/retailhub/lottery-sync/internal/api/middleware"
	"github.com/retailhub/lottery-sync/internal/domain"
	"github.com/retailhub/lottery-sync/internal/service"
)

// DayHandler exposes the two-phase day close.
type DayHandler struct {
	svc    *service.DayCloseService
	logger *zap.Logger
}

func NewDayHandler(svc *service.DayCloseService, logger *zap.Logger) *DayHandler {
	return &DayHandler{svc: svc, logger: logger}
}

// PrepareClose handles POST /api/v1/stores/{storeID}/days/{dayID}/prepare-close
//
// Returns the preview and the validation token to pass to commit-close.
func (h *DayHandler) PrepareClose(w http.ResponseWriter, r *http.Request) {
	var req domain.PrepareCloseRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	preview, err := h.svc.PrepareClose(r.Context(), chi.URLParam(r, "storeID"), chi.URLParam(r, "dayID"), req.Closings)
	if err != nil {
		h.warn(r, "prepare close failed", err)
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, preview)
}

// CommitClose handles POST /api/v1/stores/{storeID}/days/{dayID}/commit-close
func (h *DayHandler) CommitClose(w http.ResponseWriter, r *http.Request) {
	var req domain.CommitCloseRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	summary, err := h.svc.CommitClose(r.Context(), chi.URLParam(r, "storeID"), chi.URLParam(r, "dayID"), req.UserID, req.ValidationToken)
	if err != nil {
		h.warn(r, "commit close failed", err)
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

// CancelClose handles POST /api/v1/stores/{storeID}/days/{dayID}/cancel-close
func (h *DayHandler) CancelClose(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.CancelClose(r.Context(), chi.URLParam(r, "storeID"), chi.URLParam(r, "dayID")); err != nil {
		mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *DayHandler) warn(r *http.Request, msg string, err error) {
	h.logger.Warn(msg,
		zap.String("correlation_id", apimw.GetCorrelationID(r.Context())),
		zap.String("day_id", chi.URLParam(r, "dayID")),
		zap.Error(err),
	)
}
