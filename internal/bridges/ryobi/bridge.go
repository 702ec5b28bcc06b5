package ryobi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Bridge operation constants.
const (
	// minTopicParts is the minimum number of parts in a valid MQTT topic.
	minTopicParts = 4

	// commandTimeout bounds writing one command to the live session.
	commandTimeout = 5 * time.Second

	// refreshTimeout bounds a snapshot refresh requested over MQTT.
	refreshTimeout = 15 * time.Second

	// ackRetention is how long an unmatched command or server ack is kept
	// for correlation.
	ackRetention = 2 * time.Minute
)

// DeviceController is the controller surface used by the bridge and the
// HTTP API. *Controller satisfies it.
type DeviceController interface {
	SessionStatusSource

	DeviceID() string
	State() DeviceState
	Refresh(ctx context.Context) error
	AddObserver(fn func(Event))

	OpenDoor(ctx context.Context, force bool) (CommandResult, error)
	CloseDoor(ctx context.Context, force bool) (CommandResult, error)
	TurnOnLight(ctx context.Context, force bool) (CommandResult, error)
	TurnOffLight(ctx context.Context, force bool) (CommandResult, error)
	SetVacationMode(ctx context.Context, on, force bool) (CommandResult, error)
}

// Ensure *Controller implements DeviceController.
var _ DeviceController = (*Controller)(nil)

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool

	// Disconnect closes the connection gracefully.
	Disconnect(quiesce uint)
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// BridgeID identifies this bridge in health messages.
	BridgeID string

	// Version is reported in health messages.
	Version string

	// HealthInterval is how often health is republished. Default: 30 seconds.
	HealthInterval time.Duration

	// Address is the live-session endpoint reported in health messages.
	Address string

	// MQTTClient is the MQTT client implementation.
	MQTTClient MQTTClient

	// Controller operates the opener.
	Controller DeviceController

	// Logger is optional structured logger.
	Logger Logger
}

type inflightCommand struct {
	cmd CommandMessage
	at  time.Time
}

type earlyAck struct {
	ev CommandAckEvent
	at time.Time
}

// Bridge translates between Gray Logic MQTT topics and the device controller:
//   - commands from Core become controller intents, acknowledged on the ack topic
//   - model changes are published as retained state
//   - session transitions and model faults drive health reporting
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	bridgeID   string
	mqtt       MQTTClient
	controller DeviceController
	health     *HealthReporter

	// Commands awaiting a server response, by JSON-RPC id. Responses can
	// arrive before Send returns, so unmatched acks are parked in early.
	inflight   map[string]inflightCommand
	early      map[string]earlyAck
	inflightMu sync.Mutex

	// Shutdown coordination
	done      chan struct{}
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc

	logger   Logger
	loggerMu sync.RWMutex
}

// NewBridge creates a new bridge instance. Call Start to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Controller == nil {
		return nil, fmt.Errorf("controller is required")
	}
	bridgeID := opts.BridgeID
	if bridgeID == "" {
		bridgeID = Protocol
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		bridgeID:   bridgeID,
		mqtt:       opts.MQTTClient,
		controller: opts.Controller,
		inflight:   make(map[string]inflightCommand),
		early:      make(map[string]earlyAck),
		done:       make(chan struct{}),
		ctx:        ctx,
		ctxCancel:  ctxCancel,
		logger:     opts.Logger,
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  bridgeID,
		Version:   opts.Version,
		Interval:  opts.HealthInterval,
		Publisher: opts.MQTTClient,
		Session:   opts.Controller,
		Address:   opts.Address,
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Health returns the bridge's health reporter.
func (b *Bridge) Health() *HealthReporter {
	return b.health
}

// Start subscribes to command and request topics, registers for controller
// events and starts health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	b.controller.AddObserver(b.handleEvent)

	commandTopic := CommandSubscribeTopic()
	if err := b.mqtt.Subscribe(commandTopic, 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	requestTopic := RequestSubscribeTopic()
	if err := b.mqtt.Subscribe(requestTopic, 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to requests: %w", err)
	}
	b.logInfo("subscribed to requests", "topic", requestTopic)

	b.health.Start(ctx)

	b.logInfo("bridge started",
		"bridge_id", b.bridgeID,
		"device_id", b.controller.DeviceID())

	return nil
}

// Stop gracefully shuts down the bridge.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		b.ctxCancel()

		// Publishes "stopping"
		b.health.Stop()

		b.logInfo("bridge stopped")
	})
}

// handleMQTTMessage routes incoming MQTT messages to appropriate handlers.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) {
	parts := strings.Split(topic, "/")
	if len(parts) < minTopicParts {
		b.logError("invalid topic format", fmt.Errorf("topic: %s", topic))
		return
	}

	switch messageType := parts[1]; messageType {
	case "command":
		b.handleCommand(parts[3], payload)
	case "request":
		b.handleRequest(payload)
	default:
		b.logError("unknown message type", fmt.Errorf("type: %s", messageType))
	}
}

// handleCommand processes a command message from Core.
func (b *Bridge) handleCommand(topicDevice string, payload []byte) {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logError("failed to parse command", err)
		return
	}
	if cmd.DeviceID == "" {
		cmd.DeviceID = topicDevice
	}

	b.logInfo("received command",
		"command_id", cmd.ID,
		"device_id", cmd.DeviceID,
		"command", cmd.Command)

	if cmd.DeviceID != b.controller.DeviceID() {
		b.publishAckError(cmd, "", ErrCodeNotConfigured,
			fmt.Sprintf("device %s not configured", cmd.DeviceID))
		return
	}

	force, err := cmd.Force()
	if err != nil {
		b.publishAckError(cmd, "", ErrCodeInvalidParameters, err.Error())
		return
	}

	result, err := b.executeCommand(cmd.Command, force)
	if err != nil {
		b.logError("command execution failed", err)
		switch {
		case errors.Is(err, errUnknownCommand):
			b.publishAckError(cmd, "", ErrCodeInvalidCommand, err.Error())
		case errors.Is(err, ErrNotConnected), errors.Is(err, ErrTransport):
			b.publishAckError(cmd, "", ErrCodeDeviceUnreachable, err.Error())
		default:
			b.publishAckError(cmd, "", ErrCodeBridgeError, err.Error())
		}
		return
	}

	if !result.Sent {
		b.publishAck(cmd, AckUnchanged, "")
		return
	}

	b.publishAck(cmd, AckAccepted, result.ID)
	b.track(result.ID, cmd)
}

var errUnknownCommand = errors.New("unknown command")

// executeCommand maps a command name onto the controller.
func (b *Bridge) executeCommand(name string, force bool) (CommandResult, error) {
	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	switch name {
	case CommandOpen:
		return b.controller.OpenDoor(ctx, force)
	case CommandClose:
		return b.controller.CloseDoor(ctx, force)
	case CommandLightOn:
		return b.controller.TurnOnLight(ctx, force)
	case CommandLightOff:
		return b.controller.TurnOffLight(ctx, force)
	case CommandVacationOn:
		return b.controller.SetVacationMode(ctx, true, force)
	case CommandVacationOff:
		return b.controller.SetVacationMode(ctx, false, force)
	default:
		return CommandResult{}, fmt.Errorf("%w: %s", errUnknownCommand, name)
	}
}

// track records a sent command, or completes it at once if its server
// ack has already arrived.
func (b *Bridge) track(requestID string, cmd CommandMessage) {
	now := time.Now()

	b.inflightMu.Lock()
	if early, ok := b.early[requestID]; ok {
		delete(b.early, requestID)
		b.inflightMu.Unlock()
		b.publishFinalAck(cmd, early.ev)
		return
	}
	for id, c := range b.inflight {
		if now.Sub(c.at) > ackRetention {
			delete(b.inflight, id)
		}
	}
	b.inflight[requestID] = inflightCommand{cmd: cmd, at: now}
	b.inflightMu.Unlock()
}

// resolveAck completes the command a server ack belongs to.
func (b *Bridge) resolveAck(ev CommandAckEvent) {
	now := time.Now()

	b.inflightMu.Lock()
	entry, ok := b.inflight[ev.ID]
	if ok {
		delete(b.inflight, ev.ID)
	} else {
		for id, e := range b.early {
			if now.Sub(e.at) > ackRetention {
				delete(b.early, id)
			}
		}
		b.early[ev.ID] = earlyAck{ev: ev, at: now}
	}
	b.inflightMu.Unlock()

	if ok {
		b.publishFinalAck(entry.cmd, ev)
	}
}

func (b *Bridge) publishFinalAck(cmd CommandMessage, ev CommandAckEvent) {
	if ev.Err == nil {
		b.publishAck(cmd, AckCompleted, ev.ID)
		return
	}

	var rpcErr *RPCError
	switch {
	case errors.Is(ev.Err, context.DeadlineExceeded):
		b.publishAckError(cmd, ev.ID, ErrCodeTimeout, "no response from server")
	case errors.Is(ev.Err, ErrTransport):
		b.publishAckError(cmd, ev.ID, ErrCodeDeviceUnreachable, ev.Err.Error())
	case errors.As(ev.Err, &rpcErr):
		b.publishAckError(cmd, ev.ID, ErrCodeRejected, rpcErr.Error())
	default:
		b.publishAckError(cmd, ev.ID, ErrCodeProtocolError, ev.Err.Error())
	}
}

// handleEvent relays controller events. It runs on the session goroutine.
func (b *Bridge) handleEvent(ev Event) {
	select {
	case <-b.done:
		return
	default:
	}

	switch e := ev.(type) {
	case ModelChangedEvent:
		b.health.SetFault(nil)
		b.publishState(e.State, e.Keys)
	case ModelFaultEvent:
		b.health.SetFault(e.Err)
		if err := b.health.PublishNow(); err != nil {
			b.logError("failed to publish health", err)
		}
	case ConnectionStateEvent:
		if err := b.health.PublishNow(); err != nil {
			b.logError("failed to publish health", err)
		}
	case CommandAckEvent:
		b.resolveAck(e)
	}
}

// publishState publishes retained device state.
func (b *Bridge) publishState(state DeviceState, changed []string) {
	payload, err := json.Marshal(NewStateMessage(state, changed))
	if err != nil {
		b.logError("failed to marshal state", err)
		return
	}

	if err := b.mqtt.Publish(StateTopic(state.DeviceID), payload, 1, true); err != nil {
		b.logError("failed to publish state", err)
		return
	}

	b.logDebug("published state", "device_id", state.DeviceID, "door", state.DoorStatus())
}

// publishAck publishes a command acknowledgment.
func (b *Bridge) publishAck(cmd CommandMessage, status AckStatus, requestID string) {
	b.publishAckMessage(NewAckMessage(cmd, status, requestID))
}

// publishAckError publishes a failed command acknowledgment.
func (b *Bridge) publishAckError(cmd CommandMessage, requestID, code, message string) {
	b.publishAckMessage(NewAckError(cmd, requestID, code, message))
}

func (b *Bridge) publishAckMessage(ack AckMessage) {
	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("failed to marshal ack", err)
		return
	}

	deviceID := ack.DeviceID
	if deviceID == "" {
		deviceID = b.controller.DeviceID()
	}
	if err := b.mqtt.Publish(AckTopic(deviceID), payload, 1, false); err != nil {
		b.logError("failed to publish ack", err)
	}
}

// handleRequest processes a request message from Core.
func (b *Bridge) handleRequest(payload []byte) {
	var req RequestMessage
	if err := json.Unmarshal(payload, &req); err != nil {
		b.logError("failed to parse request", err)
		return
	}

	b.logInfo("received request",
		"request_id", req.RequestID,
		"action", req.Action)

	var resp ResponseMessage
	switch {
	case req.DeviceID != "" && req.DeviceID != b.controller.DeviceID():
		resp = errorResponse(req, ErrCodeNotConfigured,
			fmt.Sprintf("device %s not configured", req.DeviceID))
	case req.Action == ActionReadState:
		resp = b.stateResponse(req)
	case req.Action == ActionRefresh:
		ctx, cancel := context.WithTimeout(b.ctx, refreshTimeout)
		err := b.controller.Refresh(ctx)
		cancel()
		if err != nil {
			resp = errorResponse(req, ErrCodeDeviceUnreachable, err.Error())
		} else {
			resp = b.stateResponse(req)
		}
	default:
		resp = errorResponse(req, ErrCodeInvalidCommand,
			fmt.Sprintf("unknown action: %s", req.Action))
	}

	respPayload, err := json.Marshal(resp)
	if err != nil {
		b.logError("failed to marshal response", err)
		return
	}

	if err := b.mqtt.Publish(ResponseTopic(req.RequestID), respPayload, 1, false); err != nil {
		b.logError("failed to publish response", err)
	}
}

func (b *Bridge) stateResponse(req RequestMessage) ResponseMessage {
	state := b.controller.State()
	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   true,
		Data: map[string]any{
			"device_id": state.DeviceID,
			"state":     FlattenState(state),
			"session":   b.controller.SessionStatus().State.String(),
		},
	}
}

func errorResponse(req RequestMessage, code, message string) ResponseMessage {
	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   false,
		Error:     &ResponseError{Code: code, Message: message},
	}
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()

	if b.health != nil {
		b.health.SetLogger(logger)
	}
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

// logInfo logs an info message if logger is set.
func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (b *Bridge) logError(msg string, err error) {
	if logger := b.getLogger(); logger != nil {
		logger.Error(msg, "error", err)
	}
}

// logDebug logs a debug message if logger is set.
func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
