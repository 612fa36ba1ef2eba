package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apimw "github.com/retailhub/lottery-sync/internal/api/middleware"
	"github.com/retailhub/lottery-sync/internal/domain"
	"github.com/retailhub/lottery-sync/internal/service"
)

// PackHandler handles the pack lifecycle endpoints.
type PackHandler struct {
	svc    *service.PackService
	logger *zap.Logger
}

func NewPackHandler(svc *service.PackService, logger *zap.Logger) *PackHandler {
	return &PackHandler{svc: svc, logger: logger}
}

// Get handles GET /api/v1/stores/{storeID}/packs/{packID}
func (h *PackHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.GetPack(r.Context(), chi.URLParam(r, "storeID"), chi.URLParam(r, "packID"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// Receive handles POST /api/v1/stores/{storeID}/packs
func (h *PackHandler) Receive(w http.ResponseWriter, r *http.Request) {
	var req domain.ReceivePackRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	p, err := h.svc.ReceivePack(r.Context(), chi.URLParam(r, "storeID"), req)
	if err != nil {
		h.warn(r, "receive pack failed", err)
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, p)
}

// Activate handles POST /api/v1/stores/{storeID}/packs/{packID}/activate
func (h *PackHandler) Activate(w http.ResponseWriter, r *http.Request) {
	var req domain.ActivatePackRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	p, err := h.svc.ActivatePack(r.Context(), chi.URLParam(r, "storeID"), chi.URLParam(r, "packID"), req)
	if err != nil {
		h.warn(r, "activate pack failed", err)
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// Return handles POST /api/v1/stores/{storeID}/packs/{packID}/return
func (h *PackHandler) Return(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.ReturnPack(r.Context(), chi.URLParam(r, "storeID"), chi.URLParam(r, "packID"))
	if err != nil {
		h.warn(r, "return pack failed", err)
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (h *PackHandler) warn(r *http.Request, msg string, err error) {
	h.logger.Warn(msg,
		zap.String("correlation_id", apimw.GetCorrelationID(r.Context())),
		zap.String("pack_id", chi.URLParam(r, "packID")),
		zap.Error(err),
	)
}
