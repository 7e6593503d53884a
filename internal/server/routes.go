package server

import (
	"github.com/go-chi/chi/v5"

	"github.com/gangplank-systems/gangplank/internal/server/handlers"
)

func (s *Server) registerRoutes(r chi.Router) {
	h := handlers.New(s.manager, s.store)

	r.Route("/api", func(r chi.Router) {
		// Health
		r.Get("/health", h.Health)

		// Sessions
		r.Get("/sessions", h.ListSessions)
		r.Post("/sessions", h.StartSession)
		r.Get("/sessions/{sessionID}", h.GetSnapshot)
		r.Post("/sessions/{sessionID}/cancel", h.CancelSession)
		r.Post("/sessions/{sessionID}/resume", h.ResumeSession)

		// Stage outcomes (the only external write path into the registry)
		r.Post("/sessions/{sessionID}/stages/{stageID}/outcome", h.ReportOutcome)
		r.Post("/sessions/{sessionID}/stages/{stageID}/extend", h.ExtendSLA)

		// SLA (on-demand re-check; the manager also polls)
		r.Post("/sessions/{sessionID}/sla", h.CheckSLA)

		// Escalations
		r.Get("/sessions/{sessionID}/escalations", h.ListEscalations)
		r.Post("/sessions/{sessionID}/escalations/{eventID}/ack", h.AcknowledgeEscalation)

		// Audit trail
		r.Get("/sessions/{sessionID}/events", h.ListEvents)

		// Circuit breakers (shared across sessions)
		r.Get("/circuits", h.ListCircuits)
	})
}
