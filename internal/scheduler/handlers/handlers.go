// Package handlers provides HTTP handlers for the portfolio scheduler.
package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/rebalancer/internal/scheduler"
	"github.com/aristath/rebalancer/internal/utils"
)

// Handler handles scheduler HTTP requests
type Handler struct {
	scheduler *scheduler.Scheduler
	log       zerolog.Logger
}

// NewHandler creates a new scheduler handler
func NewHandler(s *scheduler.Scheduler, log zerolog.Logger) *Handler {
	return &Handler{
		scheduler: s,
		log:       log.With().Str("handler", "scheduler").Logger(),
	}
}

// HandleStatus handles GET /api/scheduler/status
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	utils.WriteData(w, http.StatusOK, h.scheduler.Status(), h.log)
}

// HandleStart handles POST /api/scheduler/start
func (h *Handler) HandleStart(w http.ResponseWriter, r *http.Request) {
	if err := h.scheduler.Start(); err != nil {
		utils.WriteError(w, err, h.log)
		return
	}
	utils.WriteData(w, http.StatusOK, h.scheduler.Status(), h.log)
}

// HandleStop handles POST /api/scheduler/stop
func (h *Handler) HandleStop(w http.ResponseWriter, r *http.Request) {
	h.scheduler.Stop()
	utils.WriteData(w, http.StatusOK, h.scheduler.Status(), h.log)
}

// HandleTrigger handles POST /api/portfolios/{id}/trigger
func (h *Handler) HandleTrigger(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h.dispatched(w, id, "rebalance", h.scheduler.TriggerManualRebalance(id))
}

// HandleCheck handles POST /api/portfolios/{id}/check
func (h *Handler) HandleCheck(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h.dispatched(w, id, "check", h.scheduler.TriggerPortfolioCheck(id))
}

func (h *Handler) dispatched(w http.ResponseWriter, id, action string, err error) {
	if errors.Is(err, scheduler.ErrSchedulerStopped) {
		h.log.Warn().Str("portfolio_id", id).Str("action", action).Msg("Trigger rejected, scheduler not running")
		utils.WriteJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"error": map[string]interface{}{"message": err.Error(), "kind": "scheduler_stopped"},
		}, h.log)
		return
	}
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}
	utils.WriteData(w, http.StatusAccepted, map[string]string{
		"portfolioId": id,
		"action":      action,
		"status":      "dispatched",
	}, h.log)
}

// RegisterRoutes registers all scheduler routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/scheduler", func(r chi.Router) {
		r.Get("/status", h.HandleStatus)
		r.Post("/start", h.HandleStart)
		r.Post("/stop", h.HandleStop)
	})
	r.Post("/portfolios/{id}/trigger", h.HandleTrigger)
	r.Post("/portfolios/{id}/check", h.HandleCheck)
}
