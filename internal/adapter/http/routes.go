package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers the health probes and the /api/v1 routes. The
// optional mutating middleware wraps every POST route, e.g. rate limiting
// and idempotency. The /triage routes exist only when h.Triage is set.
func MountRoutes(r chi.Router, h *Handlers, mutating ...func(http.Handler) http.Handler) {
	r.Get("/health", h.Health)
	r.Get("/health/ready", h.Ready)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"version": h.Version})
		})

		r.Get("/agents", h.ListAgents)
		r.Get("/agents/{name}", h.GetAgent)

		r.Get("/memory/stats", h.MemoryStats)
		r.Get("/memory/summary", h.MemorySummary)
		r.Get("/memory/export", h.MemoryExport)

		r.Get("/sessions", h.ListSessions)
		r.Delete("/sessions/{id}", h.DeleteSession)

		r.Get("/safety/phrases", h.SafetyPhrases)

		r.Group(func(r chi.Router) {
			r.Use(mutating...)
			r.Post("/orchestrate", h.Orchestrate)
			r.Post("/analyze", h.Analyze)
			r.Post("/agents/{name}/query", h.QueryAgent)
			r.Post("/memory/clear", h.ClearMemory)
			r.Post("/sessions", h.CreateSession)
		})

		if h.Triage != nil {
			r.Route("/triage", func(r chi.Router) {
				r.Get("/sessions/{id}", h.GetTriageSession)
				r.Delete("/sessions/{id}", h.DeleteTriageSession)
				r.Group(func(r chi.Router) {
					r.Use(mutating...)
					r.Post("/start", h.StartTriage)
					r.Post("/interview", h.TriageInterview)
					r.Post("/analyze", h.TriageAnalyze)
				})
			})
		}
	})
}
