package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)
			r.Get("/stats", s.handleDeviceStats)
			r.Post("/scan", s.handleScanDevices)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Post("/commands", s.handleEnqueueCommand)
				r.Get("/commands", s.handleListDeviceCommands)
				r.Get("/queue", s.handleQueueStatus)
				r.Delete("/queue", s.handleClearQueue)
				r.Post("/simulation/{action}", s.handleSimulationAction)
			})
		})

		r.Get("/commands/{id}", s.handleGetCommand)
		r.Get("/alerts", s.handleListAlerts)

		// WebSocket live channels (devices, alerts, status)
		r.Get("/ws/{channel}", s.handleWebSocket)
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
