package ryobi

import (
	"errors"
	"fmt"
)

// Domain errors for the Ryobi bridge package.
var (
	// ErrNotConnected is returned by Send when the session is not in the
	// Connected state.
	ErrNotConnected = errors.New("ryobi: session not connected")

	// ErrTransport is returned when the socket fails to dial, read or write.
	ErrTransport = errors.New("ryobi: transport failure")

	// ErrHandshake is returned when the auth or subscribe step is rejected.
	ErrHandshake = errors.New("ryobi: handshake failed")

	// ErrProtocolDecode is returned when a frame or notification cannot be
	// decoded against the known schema.
	ErrProtocolDecode = errors.New("ryobi: protocol decode failed")

	// ErrRetryBudgetExhausted is returned by Run once the configured number
	// of failed attempts has been exceeded.
	ErrRetryBudgetExhausted = errors.New("ryobi: retry budget exhausted")

	// ErrEnumConsistency is returned when a door state value falls outside
	// the declared enum.
	ErrEnumConsistency = errors.New("ryobi: door state outside enum")

	// ErrSnapshotDecode is returned when a snapshot document lacks required fields.
	ErrSnapshotDecode = errors.New("ryobi: snapshot decode failed")

	// ErrLoginFailed is returned when the cloud rejects the credentials.
	ErrLoginFailed = errors.New("ryobi: login failed")

	// ErrSessionUsed is returned when Run is called on a session that has
	// already been run.
	ErrSessionUsed = errors.New("ryobi: session already used")

	// ErrDeviceNotFound is returned when no garage door opener is found on
	// the account.
	ErrDeviceNotFound = errors.New("ryobi: device not found")
)

// HandshakeStep identifies which half of the handshake failed.
type HandshakeStep string

// Handshake steps.
const (
	StepAuth      HandshakeStep = "auth"
	StepSubscribe HandshakeStep = "subscribe"
)

// HandshakeError describes a rejected auth or subscribe exchange.
type HandshakeError struct {
	Step   HandshakeStep
	Reason string
	Err    error // underlying decode error, if any
}

func (e *HandshakeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ryobi: handshake %s: %s: %v", e.Step, e.Reason, e.Err)
	}
	return fmt.Sprintf("ryobi: handshake %s: %s", e.Step, e.Reason)
}

// Unwrap allows errors.Is(err, ErrHandshake).
func (e *HandshakeError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrHandshake, e.Err}
	}
	return []error{ErrHandshake}
}

// EnumConsistencyError reports a door state value with no label.
type EnumConsistencyError struct {
	Key     string
	Value   int
	EnumLen int
}

func (e *EnumConsistencyError) Error() string {
	return fmt.Sprintf("ryobi: %s value %d outside enum of %d labels", e.Key, e.Value, e.EnumLen)
}

// Unwrap allows errors.Is(err, ErrEnumConsistency).
func (e *EnumConsistencyError) Unwrap() error {
	return ErrEnumConsistency
}

// SnapshotError reports the snapshot field that could not be decoded.
type SnapshotError struct {
	Field string
	Err   error
}

func (e *SnapshotError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ryobi: snapshot field %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("ryobi: snapshot field %s missing", e.Field)
}

// Unwrap allows errors.Is(err, ErrSnapshotDecode).
func (e *SnapshotError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrSnapshotDecode, e.Err}
	}
	return []error{ErrSnapshotDecode}
}
