package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Prometheus scrape endpoint
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/system", s.handleSystem)

		r.Get("/state", s.handleState)
		r.Get("/variables", s.handleVariables)
		r.Get("/feedbacks/{kind}", s.handleFeedback)
		r.Get("/buffers/choices", s.handleBufferChoices)

		r.Route("/actions", func(r chi.Router) {
			r.Get("/", s.handleListActions)
			r.Post("/{action}", s.handleAction)
		})

		r.Get("/journal", s.handleJournal)

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth returns the server health status together with the
// device connection and, when available, the bridge health.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"status":           "ok",
		"version":          s.version,
		"device_connected": s.device.IsConnected(),
		"queue_length":     s.device.QueueLength(),
	}
	if s.health != nil {
		status, reason := s.health.Status()
		resp["bridge_status"] = status
		if reason != "" {
			resp["reason"] = reason
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
