package http

import (
	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/RunForge/internal/adapter/ws"
)

// MountRoutes registers all admin API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers, hub *ws.Hub) {
	r.Get("/health", h.HandleHealth)
	if hub != nil {
		r.Get("/ws", hub.HandleWS)
	}

	r.Route("/responses", func(r chi.Router) {
		// Runs
		r.Get("/runs", h.ListRuns)
		r.Post("/runs", h.StartRun)
		r.Get("/runs/{id}", h.GetRun)
		r.Get("/runs/{id}/timeline", h.GetTimeline)
		r.Post("/runs/{id}/retry", h.RetryRun)
		r.Post("/runs/{id}/rollback", h.RollbackRun)
		r.Post("/runs/{id}/moderation-notes", h.AddModerationNote)
		r.Post("/runs/{id}/export", h.ExportRun)

		// Operations
		r.Get("/ops/summary", h.OpsSummary)
		r.Get("/ops/incidents", h.ListIncidents)
		r.Post("/ops/incidents/{id}/resolve", h.ResolveIncident)
		r.Post("/ops/prune", h.Prune)
	})
}
