package ryobi

import (
	"encoding/json"
	"fmt"
	"time"
)

// Protocol is the protocol identifier used in MQTT payloads and topics.
const Protocol = "ryobi"

// MQTT message types exchanged between Gray Logic Core and the garage door bridge.

// CommandMessage is sent from Core to the bridge to operate the opener.
// Topic: graylogic/command/ryobi/{device_id}
type CommandMessage struct {
	// ID uniquely identifies this command for correlation with acknowledgments.
	ID string `json:"id"`

	// Timestamp is when the command was issued (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// DeviceID is the opener's varName.
	DeviceID string `json:"device_id"`

	// Command is one of the Command* names.
	Command string `json:"command"`

	// Parameters contains command-specific values.
	// Examples:
	//   {"force": true} to send even if the model already shows the target
	Parameters map[string]any `json:"parameters,omitempty"`

	// Source indicates where the command originated.
	// Values: "api", "automation", "voice", "scene"
	Source string `json:"source"`

	// UserID is the user who triggered the command (if applicable).
	UserID string `json:"user_id,omitempty"`
}

// Command names accepted on the command topic.
const (
	CommandOpen        = "open"
	CommandClose       = "close"
	CommandLightOn     = "light_on"
	CommandLightOff    = "light_off"
	CommandVacationOn  = "vacation_on"
	CommandVacationOff = "vacation_off"
)

// Force reports whether the "force" parameter is set.
func (m CommandMessage) Force() (bool, error) {
	v, ok := m.Parameters["force"]
	if !ok || v == nil {
		return false, nil
	}
	force, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("'force' must be a boolean")
	}
	return force, nil
}

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckAccepted indicates the command was sent to the vendor server.
	AckAccepted AckStatus = "accepted"

	// AckUnchanged indicates the device already showed the target state,
	// so nothing was sent.
	AckUnchanged AckStatus = "unchanged"

	// AckCompleted indicates the vendor server acknowledged the command.
	AckCompleted AckStatus = "completed"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"

	// AckTimeout indicates the server did not respond within the timeout.
	AckTimeout AckStatus = "timeout"
)

// AckMessage is sent from the bridge to Core to acknowledge a command.
// A sent command gets an "accepted" ack followed by a final one.
// Topic: graylogic/ack/ryobi/{device_id}
type AckMessage struct {
	// CommandID is the ID from the original command.
	CommandID string `json:"command_id"`

	// Timestamp is when the acknowledgment was sent (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// DeviceID is the opener's varName.
	DeviceID string `json:"device_id"`

	// Status indicates the acknowledgment status.
	Status AckStatus `json:"status"`

	// Protocol is the protocol identifier ("ryobi").
	Protocol string `json:"protocol"`

	// RequestID is the JSON-RPC request id, once sent.
	RequestID string `json:"request_id,omitempty"`

	// Error contains details if status is "failed" or "timeout".
	Error *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	// Code is the error code (e.g., "DEVICE_UNREACHABLE", "INVALID_COMMAND").
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`
}

// Error codes for command failures.
const (
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeProtocolError     = "PROTOCOL_ERROR"
	ErrCodeRejected          = "REJECTED"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeNotConfigured     = "NOT_CONFIGURED"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// StateMessage is sent from the bridge to Core when the device state changes.
// Topic: graylogic/state/ryobi/{device_id}
// QoS: 1, Retained: Yes
type StateMessage struct {
	// DeviceID is the opener's varName.
	DeviceID string `json:"device_id"`

	// Timestamp is when the state was observed (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// State contains the flattened device state. See FlattenState.
	State map[string]any `json:"state"`

	// Changed lists the attribute keys that caused this update, if any.
	Changed []string `json:"changed,omitempty"`

	// Protocol is the protocol identifier ("ryobi").
	Protocol string `json:"protocol"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy indicates the bridge is operating normally.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the bridge is operating with issues.
	HealthDegraded HealthStatus = "degraded"

	// HealthUnhealthy indicates the bridge is not operating correctly.
	HealthUnhealthy HealthStatus = "unhealthy"

	// HealthOffline indicates the bridge is not connected (from LWT).
	HealthOffline HealthStatus = "offline"

	// HealthStarting indicates the bridge is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is sent from the bridge to Core to report operational status.
// Topic: graylogic/health/ryobi
// QoS: 1, Retained: Yes
// Interval: Every 30 seconds
type HealthMessage struct {
	// Bridge is the bridge identifier.
	Bridge string `json:"bridge"`

	// Timestamp is when the health status was generated (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Status indicates the current operational status.
	Status HealthStatus `json:"status"`

	// Version is the bridge software version.
	Version string `json:"version"`

	// UptimeSeconds is how long the bridge has been running.
	UptimeSeconds int64 `json:"uptime_seconds"`

	// Connection contains live session details.
	Connection *ConnectionStatus `json:"connection,omitempty"`

	// Statistics contains operational metrics.
	Statistics *BridgeStatistics `json:"statistics,omitempty"`

	// DevicesManaged is the number of openers handled by this bridge.
	DevicesManaged int `json:"devices_managed"`

	// Reason explains the status (especially for offline/degraded).
	Reason string `json:"reason,omitempty"`
}

// ConnectionStatus describes the live session.
type ConnectionStatus struct {
	// Status is the session state name (e.g. "connected", "error").
	Status string `json:"status"`

	// Address is the live-session endpoint.
	Address string `json:"address"`

	// ConnectedSince is when the current connection completed its handshake.
	ConnectedSince *time.Time `json:"connected_since,omitempty"`

	// FailedAttempts counts failed attempts since the session started.
	FailedAttempts int `json:"failed_attempts"`
}

// BridgeStatistics contains operational metrics.
type BridgeStatistics struct {
	// MessagesReceived is the total number of frames received.
	MessagesReceived uint64 `json:"messages_received"`

	// MessagesSent is the total number of frames sent.
	MessagesSent uint64 `json:"messages_sent"`

	// Errors is the total number of undecodable frames.
	Errors uint64 `json:"errors"`
}

// RequestMessage is sent from Core to the bridge for request/response operations.
// Topic: graylogic/request/ryobi/{request_id}
type RequestMessage struct {
	// RequestID uniquely identifies this request for correlation.
	RequestID string `json:"request_id"`

	// Timestamp is when the request was issued (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Action is the requested operation.
	// Values: "read_state", "refresh"
	Action string `json:"action"`

	// DeviceID is the target device.
	DeviceID string `json:"device_id,omitempty"`
}

// Request actions.
const (
	ActionReadState = "read_state"
	ActionRefresh   = "refresh"
)

// ResponseMessage is sent from the bridge to Core in response to a request.
// Topic: graylogic/response/ryobi/{request_id}
type ResponseMessage struct {
	// RequestID is the ID from the original request.
	RequestID string `json:"request_id"`

	// Timestamp is when the response was generated (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Success indicates whether the request succeeded.
	Success bool `json:"success"`

	// Data contains the response payload (if successful).
	Data map[string]any `json:"data,omitempty"`

	// Error contains error details (if failed).
	Error *ResponseError `json:"error,omitempty"`
}

// ResponseError contains error details for failed requests.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MarshalJSON marshals a CommandMessage with an RFC 3339 timestamp.
func (m *CommandMessage) MarshalJSON() ([]byte, error) {
	type Alias CommandMessage
	return json.Marshal(&struct {
		*Alias
		Timestamp string `json:"timestamp"`
	}{
		Alias:     (*Alias)(m),
		Timestamp: m.Timestamp.UTC().Format(time.RFC3339),
	})
}

// UnmarshalJSON unmarshals a CommandMessage. A missing timestamp is allowed.
func (m *CommandMessage) UnmarshalJSON(data []byte) error {
	type Alias CommandMessage
	aux := &struct {
		*Alias
		Timestamp string `json:"timestamp"`
	}{
		Alias: (*Alias)(m),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return fmt.Errorf("unmarshal command message: %w", err)
	}
	if aux.Timestamp != "" {
		t, err := time.Parse(time.RFC3339, aux.Timestamp)
		if err != nil {
			return fmt.Errorf("parse timestamp: %w", err)
		}
		m.Timestamp = t
	}
	return nil
}

// NewAckMessage creates an acknowledgment message for a command.
func NewAckMessage(cmd CommandMessage, status AckStatus, requestID string) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  cmd.DeviceID,
		Status:    status,
		Protocol:  Protocol,
		RequestID: requestID,
	}
}

// NewAckError creates an acknowledgment with error details.
func NewAckError(cmd CommandMessage, requestID, code, message string) AckMessage {
	status := AckFailed
	if code == ErrCodeTimeout {
		status = AckTimeout
	}
	ack := NewAckMessage(cmd, status, requestID)
	ack.Error = &AckError{Code: code, Message: message}
	return ack
}

// NewStateMessage creates a state message from a device state copy.
func NewStateMessage(state DeviceState, changed []string) StateMessage {
	return StateMessage{
		DeviceID:  state.DeviceID,
		Timestamp: time.Now().UTC(),
		State:     FlattenState(state),
		Changed:   changed,
		Protocol:  Protocol,
	}
}

// FlattenState renders the device state as the flat map carried in
// state messages. Unknown values are omitted.
func FlattenState(state DeviceState) map[string]any {
	out := map[string]any{
		"door": state.DoorStatus(),
	}
	putKnown(out, "door_position", state.GarageDoor.DoorPosition)
	putKnown(out, "vacation_mode", state.GarageDoor.VacationMode)
	putKnown(out, "sensor", state.GarageDoor.SensorFlag)
	putKnown(out, "light", state.GarageLight.LightState)
	putKnown(out, "light_timer", state.GarageLight.LightTimer)

	if state.Metadata.Name != "" {
		out["name"] = state.Metadata.Name
	}
	if state.LastUpdate != nil {
		out["last_update"] = state.LastUpdate.UTC().Format(time.RFC3339)
	}
	return out
}

func putKnown[T Scalar](out map[string]any, key string, attr Attribute[T]) {
	if v, ok := attr.Get(); ok {
		out[key] = v
	}
}

// NewHealthMessage creates a health status message.
func NewHealthMessage(bridgeID, version string, status HealthStatus, session SessionStatus, deviceCount int, startTime time.Time) HealthMessage {
	msg := HealthMessage{
		Bridge:         bridgeID,
		Timestamp:      time.Now().UTC(),
		Status:         status,
		Version:        version,
		UptimeSeconds:  int64(time.Since(startTime).Seconds()),
		DevicesManaged: deviceCount,
	}

	msg.Connection = &ConnectionStatus{
		Status:         session.State.String(),
		FailedAttempts: session.FailedAttempts,
	}
	if !session.ConnectedSince.IsZero() {
		since := session.ConnectedSince.UTC()
		msg.Connection.ConnectedSince = &since
	}

	msg.Statistics = &BridgeStatistics{
		MessagesReceived: session.FramesRx,
		MessagesSent:     session.FramesTx,
		Errors:           session.DecodeErrors,
	}

	return msg
}

// NewLWTMessage creates a Last Will and Testament message for MQTT.
// This message is published by the broker if the bridge disconnects unexpectedly.
func NewLWTMessage(bridgeID string) HealthMessage {
	return HealthMessage{
		Bridge:    bridgeID,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}

// Topic helpers

const (
	// TopicPrefix is the base topic for all Gray Logic messages.
	TopicPrefix = "graylogic"
)

// CommandTopic returns the MQTT topic for commands to a device.
// Example: graylogic/command/ryobi/GD0123
func CommandTopic(deviceID string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, Protocol, deviceID)
}

// AckTopic returns the MQTT topic for command acknowledgments.
// Example: graylogic/ack/ryobi/GD0123
func AckTopic(deviceID string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefix, Protocol, deviceID)
}

// StateTopic returns the MQTT topic for state updates.
// Example: graylogic/state/ryobi/GD0123
func StateTopic(deviceID string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, Protocol, deviceID)
}

// HealthTopic returns the MQTT topic for health status.
// Example: graylogic/health/ryobi
func HealthTopic() string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, Protocol)
}

// RequestTopic returns the MQTT topic for requests.
// Example: graylogic/request/ryobi/req-123
func RequestTopic(requestID string) string {
	return fmt.Sprintf("%s/request/%s/%s", TopicPrefix, Protocol, requestID)
}

// ResponseTopic returns the MQTT topic for responses.
// Example: graylogic/response/ryobi/req-123
func ResponseTopic(requestID string) string {
	return fmt.Sprintf("%s/response/%s/%s", TopicPrefix, Protocol, requestID)
}

// CommandSubscribeTopic returns the MQTT subscription pattern for all commands.
// Example: graylogic/command/ryobi/+
func CommandSubscribeTopic() string {
	return fmt.Sprintf("%s/command/%s/+", TopicPrefix, Protocol)
}

// RequestSubscribeTopic returns the MQTT subscription pattern for all requests.
// Example: graylogic/request/ryobi/+
func RequestSubscribeTopic() string {
	return fmt.Sprintf("%s/request/%s/+", TopicPrefix, Protocol)
}
