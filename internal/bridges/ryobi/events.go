package ryobi

import (
	"encoding/json"
	"time"
)

// Event is emitted by the session and the controller. Consumers switch on
// the concrete type:
//
//	switch e := ev.(type) {
//	case ConnectionStateEvent:
//	case EntityUpdateEvent:
//	case CommandAckEvent:
//	case ModelChangedEvent:
//	case ModelFaultEvent:
//	}
type Event interface {
	eventKind() string
}

// ConnectionStateEvent is emitted on every session state transition.
type ConnectionStateEvent struct {
	State          SessionState
	Err            error // reason for Closed, Error or Stopped; nil otherwise
	FailedAttempts int
	At             time.Time
}

// EntityUpdateEvent carries one inbound notification frame.
type EntityUpdateEvent struct {
	Notification Notification
	At           time.Time
}

// CommandAckEvent reports the outcome of a request sent with Send.
// Err is the server's JSON-RPC error, ErrTransport if the connection was
// lost first, or context.DeadlineExceeded if no response arrived in time.
type CommandAckEvent struct {
	ID      string
	Method  string
	Result  json.RawMessage
	Err     error
	Latency time.Duration
}

// ModelChangedEvent is emitted by the controller after a notification or
// snapshot changed the entity model.
type ModelChangedEvent struct {
	Keys    []string             // applied "<module>.<field>" keys; nil after a snapshot
	LastSet map[string]time.Time // lastSet supplied per key, if any
	State   DeviceState
}

// ModelFaultEvent is emitted when the model and server disagree on the
// door state enum.
type ModelFaultEvent struct {
	Err error
}

func (ConnectionStateEvent) eventKind() string { return "session.state_changed" }
func (EntityUpdateEvent) eventKind() string    { return "entity.update" }
func (CommandAckEvent) eventKind() string      { return "command.ack" }
func (ModelChangedEvent) eventKind() string    { return "device.state_changed" }
func (ModelFaultEvent) eventKind() string      { return "device.fault" }

// EventType returns the wire name used when relaying ev to local clients.
func EventType(ev Event) string {
	return ev.eventKind()
}
