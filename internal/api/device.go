package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/gray-logic-gdo/internal/bridges/ryobi"
)

// commandFunc is a controller command taking the force flag.
type commandFunc func(ctx context.Context, force bool) (ryobi.CommandResult, error)

// CommandResponse is returned by the command endpoints.
type CommandResponse struct {
	Command  string `json:"command"`
	DeviceID string `json:"device_id"`
	Sent     bool   `json:"sent"`
	ID       string `json:"id,omitempty"`
}

// DeviceStateResponse is the flattened device state.
type DeviceStateResponse struct {
	DeviceID string         `json:"device_id"`
	Seeded   bool           `json:"seeded"`
	State    map[string]any `json:"state"`
}

// handleGetDevice returns the full entity model copy.
func (s *Server) handleGetDevice(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.controller.State())
}

// handleGetDeviceState returns the flat state map also published over MQTT.
func (s *Server) handleGetDeviceState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, flatState(s.controller.State()))
}

// handleGetSession returns live session status and counters.
func (s *Server) handleGetSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.controller.SessionStatus())
}

// handleRefresh re-seeds the model from a fresh snapshot.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.Refresh(r.Context()); err != nil {
		s.logger.Warn("refresh failed", "error", err)
		switch {
		case errors.Is(err, ryobi.ErrDeviceNotFound):
			writeNotFound(w, err.Error())
		case errors.Is(err, context.DeadlineExceeded):
			writeError(w, http.StatusGatewayTimeout, ErrCodeTimeout, err.Error())
		default:
			writeError(w, http.StatusBadGateway, ErrCodeUpstream, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, flatState(s.controller.State()))
}

// handleCommand wraps a controller command. The optional force query
// parameter bypasses the already-in-state check.
func (s *Server) handleCommand(name string, fn commandFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		force := false
		if v := r.URL.Query().Get("force"); v != "" {
			parsed, err := strconv.ParseBool(v)
			if err != nil {
				writeBadRequest(w, "force must be true or false")
				return
			}
			force = parsed
		}

		start := time.Now()
		result, err := fn(r.Context(), force)
		if err != nil {
			s.logger.Warn("command failed", "command", name, "error", err)
			writeCommandError(w, err)
			return
		}

		resp := CommandResponse{
			Command:  name,
			DeviceID: s.controller.DeviceID(),
			Sent:     result.Sent,
			ID:       result.ID,
		}
		if !result.Sent {
			writeJSON(w, http.StatusOK, resp)
			return
		}
		s.logger.Info("command sent via api",
			"command", name,
			"id", result.ID,
			"force", force,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		writeJSON(w, http.StatusAccepted, resp)
	}
}

func (s *Server) setVacation(on bool) commandFunc {
	return func(ctx context.Context, force bool) (ryobi.CommandResult, error) {
		return s.controller.SetVacationMode(ctx, on, force)
	}
}

// writeCommandError maps controller errors to HTTP responses.
func writeCommandError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ryobi.ErrNotConnected):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
	case errors.Is(err, ryobi.ErrTransport):
		writeError(w, http.StatusBadGateway, ErrCodeUpstream, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, ErrCodeTimeout, err.Error())
	default:
		writeInternalError(w, err.Error())
	}
}

func flatState(state ryobi.DeviceState) DeviceStateResponse {
	return DeviceStateResponse{
		DeviceID: state.DeviceID,
		Seeded:   state.Seeded,
		State:    ryobi.FlattenState(state),
	}
}
