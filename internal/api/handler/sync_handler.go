package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apimw "github.com/retailhub/lottery-sync/internal/api/middleware"
	"github.com/retailhub/lottery-sync/internal/domain"
	"github.com/retailhub/lottery-sync/internal/service"
)

// Triggerer starts an out-of-band sync cycle.
type Triggerer interface {
	Trigger(dir domain.Direction) (bool, error)
}

// SyncHandler serves outbox status, manual sync runs and the dead-letter
// queue.
type SyncHandler struct {
	svc     *service.SyncAdminService
	trigger Triggerer
	logger  *zap.Logger
}

func NewSyncHandler(svc *service.SyncAdminService, trigger Triggerer, logger *zap.Logger) *SyncHandler {
	return &SyncHandler{svc: svc, trigger: trigger, logger: logger}
}

// Status handles GET /api/v1/stores/{storeID}/sync/status
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Status(r.Context(), chi.URLParam(r, "storeID"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}

// Run handles POST /api/v1/stores/{storeID}/sync/run?direction=push|pull
//
// The cycle runs on the worker; the response only says whether the request
// was accepted or joined one already pending.
func (h *SyncHandler) Run(w http.ResponseWriter, r *http.Request) {
	if h.trigger == nil {
		respondError(w, http.StatusServiceUnavailable, "sync workers are not running")
		return
	}

	dir := domain.Direction(strings.ToUpper(r.URL.Query().Get("direction")))
	queued, err := h.trigger.Trigger(dir)
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{
		"direction": dir,
		"queued":    queued,
	})
}

// DeadLetterItems handles GET /api/v1/stores/{storeID}/sync/dlq
func (h *SyncHandler) DeadLetterItems(w http.ResponseWriter, r *http.Request) {
	page := parsePage(r)
	items, total, err := h.svc.DeadLetterItems(r.Context(), chi.URLParam(r, "storeID"), page)
	if err != nil {
		mapError(w, err)
		return
	}
	if items == nil {
		items = []*domain.SyncQueueItem{}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"data":  items,
		"total": total,
		"page":  page.Page,
		"limit": page.Limit,
	})
}

// DeadLetterStats handles GET /api/v1/stores/{storeID}/sync/dlq/stats
func (h *SyncHandler) DeadLetterStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.DeadLetterStats(r.Context(), chi.URLParam(r, "storeID"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// GetItem handles GET /api/v1/stores/{storeID}/sync/items/{itemID}
func (h *SyncHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.svc.GetItem(r.Context(), chi.URLParam(r, "storeID"), chi.URLParam(r, "itemID"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, item)
}

// Restore handles POST /api/v1/stores/{storeID}/sync/dlq/{itemID}/restore
func (h *SyncHandler) Restore(w http.ResponseWriter, r *http.Request) {
	storeID, itemID := chi.URLParam(r, "storeID"), chi.URLParam(r, "itemID")
	item, err := h.svc.Restore(r.Context(), storeID, itemID)
	if err != nil {
		h.logger.Warn("restore from dead-letter queue failed",
			zap.String("correlation_id", apimw.GetCorrelationID(r.Context())),
			zap.String("item_id", itemID),
			zap.Error(err),
		)
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, item)
}
