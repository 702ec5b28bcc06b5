package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// defaultWSPath is used when the WebSocket config leaves the path empty.
const defaultWSPath = "/api/v1/ws"

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)
		r.Get("/session", s.handleGetSession)

		r.Route("/device", func(r chi.Router) {
			r.Get("/", s.handleGetDevice)
			r.Get("/state", s.handleGetDeviceState)
			r.Post("/refresh", s.handleRefresh)

			r.Post("/door/open", s.handleCommand("door_open", s.controller.OpenDoor))
			r.Post("/door/close", s.handleCommand("door_close", s.controller.CloseDoor))
			r.Post("/light/on", s.handleCommand("light_on", s.controller.TurnOnLight))
			r.Post("/light/off", s.handleCommand("light_off", s.controller.TurnOffLight))
			r.Post("/vacation/on", s.handleCommand("vacation_on", s.setVacation(true)))
			r.Post("/vacation/off", s.handleCommand("vacation_off", s.setVacation(false)))
		})
	})

	wsPath := s.wsCfg.Path
	if wsPath == "" {
		wsPath = defaultWSPath
	}
	r.Get(wsPath, s.handleWebSocket)

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"version":   s.version,
		"device_id": s.controller.DeviceID(),
		"session":   s.controller.SessionStatus().State.String(),
	})
}
