package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/fieldbus-core/internal/auth"
)

// healthCheckTimeout bounds each component check behind /healthz.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Unauthenticated probes
	r.Get("/healthz", s.handleHealthz)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Ticket-authenticated; the ticket comes from POST /ws-ticket
		r.Get("/ws", s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/ws-ticket", s.handleWSTicket)

			r.Group(func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermStateRead))
				r.Route("/devices", func(r chi.Router) {
					r.Get("/", s.handleListDevices)
					r.Get("/{id}", s.handleGetDevice)
				})
				r.Get("/alerts", s.handleListAlerts)
				r.Get("/locks", s.handleListLocks)
				r.Get("/decisions", s.handleListDecisions)
			})

			r.With(s.requirePermission(auth.PermAuditRead)).Get("/audit", s.handleListAudit)
			r.With(s.requirePermission(auth.PermSystemRead)).Get("/system", s.handleSystem)
		})
	})

	return r
}

// handleHealthz runs every registered component check. Any failure turns
// the response into 503 with per-component detail.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	components := make(map[string]string, len(names))
	status, code := "ok", http.StatusOK
	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := s.checks[name].HealthCheck(ctx)
		cancel()
		if err != nil {
			components[name] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		components[name] = "ok"
	}

	writeJSON(w, code, map[string]any{
		"status":     status,
		"version":    s.version,
		"components": components,
	})
}
