package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all analysis routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/markowitz", func(r chi.Router) {
		r.Get("/analyze", h.HandleAnalyze)
		r.Post("/analyze", h.HandleAnalyzeInline)
		r.Get("/symbols", h.HandleListSymbols)
	})
}
