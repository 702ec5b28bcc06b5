package api

import (
	"net/http"
	"runtime"
	"time"
)

// SystemMetrics is the metrics endpoint response.
type SystemMetrics struct {
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Runtime       RuntimeMetrics `json:"runtime"`
	WebSocket     WSMetrics      `json:"websocket"`
	MQTT          *MQTTMetrics   `json:"mqtt,omitempty"`
	Session       SessionMetrics `json:"session"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Connected bool `json:"connected"`
}

// SessionMetrics contains live session counters.
type SessionMetrics struct {
	State          string `json:"state"`
	FailedAttempts int    `json:"failed_attempts"`
	ConnectsTotal  uint64 `json:"connects_total"`
	FramesRx       uint64 `json:"frames_rx"`
	FramesTx       uint64 `json:"frames_tx"`
	DecodeErrors   uint64 `json:"decode_errors"`
	PendingAcks    int    `json:"pending_acks"`
}

const bytesPerMB = 1024 * 1024

// handleMetrics returns runtime and session metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	status := s.controller.SessionStatus()

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / bytesPerMB,
			MemoryTotalMB: float64(memStats.TotalAlloc) / bytesPerMB,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
		},
		Session: SessionMetrics{
			State:          status.State.String(),
			FailedAttempts: status.FailedAttempts,
			ConnectsTotal:  status.ConnectsTotal,
			FramesRx:       status.FramesRx,
			FramesTx:       status.FramesTx,
			DecodeErrors:   status.DecodeErrors,
			PendingAcks:    status.PendingAcks,
		},
	}
	if s.mqtt != nil {
		metrics.MQTT = &MQTTMetrics{Connected: s.mqtt.IsConnected()}
	}

	writeJSON(w, http.StatusOK, metrics)
}
