// Package handlers provides HTTP handlers for portfolio configuration and
// rebalance history.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/events"
	"github.com/aristath/rebalancer/internal/modules/history"
	"github.com/aristath/rebalancer/internal/modules/portfolios"
	"github.com/aristath/rebalancer/internal/utils"
)

const (
	eventModule         = "portfolios"
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// Reloader is notified after a portfolio changes so schedules follow it
type Reloader interface {
	Reload() error
}

// Handler handles portfolio HTTP requests
type Handler struct {
	portfolios *portfolios.Repository
	history    *history.Repository
	events     *events.Manager
	reloader   Reloader
	log        zerolog.Logger
}

// NewHandler creates a new portfolio handler. eventManager and reloader may be nil.
func NewHandler(
	portfolioRepo *portfolios.Repository,
	historyRepo *history.Repository,
	eventManager *events.Manager,
	reloader Reloader,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		portfolios: portfolioRepo,
		history:    historyRepo,
		events:     eventManager,
		reloader:   reloader,
		log:        log.With().Str("handler", "portfolios").Logger(),
	}
}

// HandleList handles GET /api/portfolios
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	list, err := h.portfolios.List()
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}
	utils.WriteData(w, http.StatusOK, list, h.log)
}

// HandleGet handles GET /api/portfolios/{id}
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	p, err := h.portfolios.GetByID(chi.URLParam(r, "id"))
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}
	utils.WriteData(w, http.StatusOK, p, h.log)
}

// HandlePut handles PUT /api/portfolios/{id}. The path id wins over the body.
func (h *Handler) HandlePut(w http.ResponseWriter, r *http.Request) {
	var p domain.Portfolio
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		h.log.Error().Err(err).Msg("Failed to decode request body")
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	p.ID = chi.URLParam(r, "id")

	if err := h.portfolios.Upsert(p); err != nil {
		utils.WriteError(w, err, h.log)
		return
	}

	stored, err := h.portfolios.GetByID(p.ID)
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}

	h.log.Info().Str("portfolio_id", p.ID).Msg("Portfolio saved")
	h.changed(p.ID, false)
	utils.WriteData(w, http.StatusOK, stored, h.log)
}

// HandleDelete handles DELETE /api/portfolios/{id}. History is kept.
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.portfolios.Delete(id); err != nil {
		utils.WriteError(w, err, h.log)
		return
	}

	h.log.Info().Str("portfolio_id", id).Msg("Portfolio deleted")
	h.changed(id, true)
	w.WriteHeader(http.StatusNoContent)
}

// HandleHistory handles GET /api/portfolios/{id}/history?limit=N
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.portfolios.GetByID(id); err != nil {
		utils.WriteError(w, err, h.log)
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	entries, err := h.history.ListByPortfolio(id, limit)
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}
	utils.WriteData(w, http.StatusOK, entries, h.log)
}

// HandleHistoryEntry handles GET /api/history/{resultId}
func (h *Handler) HandleHistoryEntry(w http.ResponseWriter, r *http.Request) {
	result, err := h.history.GetByID(chi.URLParam(r, "resultId"))
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}
	utils.WriteData(w, http.StatusOK, result, h.log)
}

// changed publishes the change and reconciles the scheduler
func (h *Handler) changed(id string, deleted bool) {
	if h.events != nil {
		h.events.EmitTyped(eventModule, &events.PortfolioChangedData{PortfolioID: id, Deleted: deleted})
	}
	if h.reloader != nil {
		if err := h.reloader.Reload(); err != nil {
			h.log.Warn().Err(err).Str("portfolio_id", id).Msg("Failed to reload schedules")
		}
	}
}

// RegisterRoutes registers all portfolio routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/portfolios", h.HandleList)
	r.Get("/portfolios/{id}", h.HandleGet)
	r.Put("/portfolios/{id}", h.HandlePut)
	r.Delete("/portfolios/{id}", h.HandleDelete)
	r.Get("/portfolios/{id}/history", h.HandleHistory)
	r.Get("/history/{resultId}", h.HandleHistoryEntry)
}
