// Package handlers provides HTTP handlers for rebalancing operations.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/modules/rebalancing"
	"github.com/aristath/rebalancer/internal/utils"
)

// Handler handles rebalancing HTTP requests
type Handler struct {
	service *rebalancing.Service
	log     zerolog.Logger
}

// NewHandler creates a new rebalancing handler
func NewHandler(service *rebalancing.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "rebalancing").Logger(),
	}
}

// HandleCheckThreshold handles GET /api/portfolios/{id}/threshold
func (h *Handler) HandleCheckThreshold(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.CheckThreshold(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}
	utils.WriteData(w, http.StatusOK, report, h.log)
}

// HandlePreview handles POST /api/portfolios/{id}/rebalance/preview
func (h *Handler) HandlePreview(w http.ResponseWriter, r *http.Request) {
	overrides, ok := h.decodeOverrides(w, r)
	if !ok {
		return
	}

	result, err := h.service.PreviewRebalance(r.Context(), chi.URLParam(r, "id"), overrides)
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}
	utils.WriteData(w, http.StatusOK, result, h.log)
}

// HandleExecute handles POST /api/portfolios/{id}/rebalance/execute
func (h *Handler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	overrides, ok := h.decodeOverrides(w, r)
	if !ok {
		return
	}

	result, err := h.service.ExecuteRebalance(r.Context(), chi.URLParam(r, "id"), overrides)
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}
	utils.WriteData(w, http.StatusOK, result, h.log)
}

// decodeOverrides reads optional run overrides. An empty body means none.
func (h *Handler) decodeOverrides(w http.ResponseWriter, r *http.Request) (*domain.Overrides, bool) {
	var overrides domain.Overrides
	err := json.NewDecoder(r.Body).Decode(&overrides)
	if errors.Is(err, io.EOF) {
		return nil, true
	}
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to decode request body")
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return nil, false
	}
	return &overrides, true
}
