package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// healthCheckTimeout bounds each dependency probe on /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the router with all routes and middleware.
//
// Reads are public; anything that moves a relay, places a call or changes
// configuration needs an operator token.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(withRequestID, accessLog(s.logger), cors(s.cfg.CORS), limitBody)

	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)
		r.Get("/relays", s.handleRelays)
		r.Get("/config", s.handleGetConfig)
		r.Get("/events", s.handleListEvents)
		r.Get("/calls", s.handleListCalls)
		r.Get("/ws", s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(s.requireOperator)

			r.Post("/doorbell", s.handleDoorbell)
			r.Post("/trigger", s.handleTrigger)
			r.Post("/execute", s.handleExecute)

			r.Route("/call", func(r chi.Router) {
				r.Post("/", s.handleInitiateCall)
				r.Post("/hangup", s.handleTerminateCall)
			})

			r.Put("/config", s.handlePutConfig)
			r.Put("/dtmf", s.handleSetDTMF)
			r.Post("/stats/reset", s.handleResetStats)
			r.Post("/errors/reset", s.handleResetErrors)
		})
	})

	return r
}

// handleHealth reports the version and each dependency. Any failing
// dependency makes the response 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	checks := make(map[string]string, len(s.checks))
	for name, c := range s.checks {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := c.HealthCheck(ctx)
		cancel()
		if err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	writeJSON(w, status, map[string]any{
		"status":  overall,
		"version": s.version,
		"checks":  checks,
	})
}
