package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all rebalancing routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/portfolios/{id}/threshold", h.HandleCheckThreshold)
	r.Post("/portfolios/{id}/rebalance/preview", h.HandlePreview)
	r.Post("/portfolios/{id}/rebalance/execute", h.HandleExecute)
}
