package ryobi

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Command attributes sent in moduleMsg.
const (
	attrDoorCommand  = "doorCommand"
	attrLightState   = "lightState"
	attrVacationMode = "vacationMode"
)

// Door command values.
const (
	doorCommandClose = 0
	doorCommandOpen  = 1
)

// Transport is the live session as seen by the controller.
// *Session satisfies it; tests substitute mocks.
type Transport interface {
	Run(ctx context.Context) error
	Send(ctx context.Context, method string, params any) (string, error)
	RequestStop()
	SetEventHandler(handler func(Event))
	Status() SessionStatus
}

// SnapshotSource fetches the full device document used to seed the model.
// *CloudClient satisfies it.
type SnapshotSource interface {
	DeviceSnapshot(ctx context.Context, deviceID string) ([]byte, error)
}

// Ensure *Session implements Transport.
var _ Transport = (*Session)(nil)

// CommandResult describes what a controller command did.
type CommandResult struct {
	// ID is the JSON-RPC request id; empty when nothing was sent.
	ID string `json:"id,omitempty"`

	// Sent is false when the model already showed the target state.
	Sent bool `json:"sent"`
}

// ControllerOptions holds the collaborators of a Controller.
type ControllerOptions struct {
	// DeviceID is the opener's varName.
	DeviceID string

	// Transport is the live session. Required.
	Transport Transport

	// Snapshots seeds the model in Start and Refresh. Optional.
	Snapshots SnapshotSource

	// Logger is optional.
	Logger Logger
}

// Controller routes session events into the entity model and observers,
// and turns intents into module commands.
//
// Thread Safety: All methods are safe for concurrent use.
type Controller struct {
	deviceID  string
	transport Transport
	snapshots SnapshotSource
	model     *EntityModel

	observers   []func(Event)
	observersMu sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex
}

// NewController creates a controller with an empty entity model and
// registers itself as the transport's event handler.
func NewController(opts ControllerOptions) (*Controller, error) {
	if opts.DeviceID == "" {
		return nil, fmt.Errorf("device ID is required")
	}
	if opts.Transport == nil {
		return nil, fmt.Errorf("transport is required")
	}

	c := &Controller{
		deviceID:  opts.DeviceID,
		transport: opts.Transport,
		snapshots: opts.Snapshots,
		model:     NewEntityModel(opts.DeviceID),
		logger:    opts.Logger,
	}
	opts.Transport.SetEventHandler(c.HandleEvent)
	return c, nil
}

// DeviceID returns the controlled device.
func (c *Controller) DeviceID() string {
	return c.deviceID
}

// Model returns the entity model.
func (c *Controller) Model() *EntityModel {
	return c.model
}

// State returns a copy of the device state.
func (c *Controller) State() DeviceState {
	return c.model.Snapshot()
}

// SessionStatus returns the transport status.
func (c *Controller) SessionStatus() SessionStatus {
	return c.transport.Status()
}

// AddObserver registers fn for every event the controller relays.
// Observers run synchronously on the session goroutine and must not block.
func (c *Controller) AddObserver(fn func(Event)) {
	c.observersMu.Lock()
	c.observers = append(c.observers, fn)
	c.observersMu.Unlock()
}

// SetLogger sets the logger for this controller.
func (c *Controller) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// Start seeds the model from a snapshot, if a source is configured, then
// runs the transport until it stops. See Session.Run for return values.
func (c *Controller) Start(ctx context.Context) error {
	if c.snapshots != nil {
		if err := c.Refresh(ctx); err != nil {
			return fmt.Errorf("seeding device state: %w", err)
		}
	}
	return c.transport.Run(ctx)
}

// Stop requests the transport to stop.
func (c *Controller) Stop() {
	c.transport.RequestStop()
}

// Refresh replaces the model from a fresh snapshot.
func (c *Controller) Refresh(ctx context.Context) error {
	if c.snapshots == nil {
		return fmt.Errorf("no snapshot source configured")
	}

	doc, err := c.snapshots.DeviceSnapshot(ctx, c.deviceID)
	if err != nil {
		return err
	}

	if err := c.model.ReplaceFromSnapshot(doc); err != nil {
		if errors.Is(err, ErrEnumConsistency) {
			c.notify(ModelFaultEvent{Err: err})
		}
		return err
	}

	state := c.model.Snapshot()
	c.logInfo("device state seeded",
		"device_id", c.deviceID,
		"name", state.Metadata.Name,
		"door", state.DoorStatus())
	c.notify(ModelChangedEvent{State: state})
	return nil
}

// OpenDoor opens the door unless it already reads Open and force is false.
func (c *Controller) OpenDoor(ctx context.Context, force bool) (CommandResult, error) {
	if !force && c.doorIs(DoorOpen) {
		c.logDebug("door already open, no command sent")
		return CommandResult{}, nil
	}
	return c.sendCommand(ctx, attrDoorCommand, doorCommandOpen)
}

// CloseDoor closes the door unless it already reads Closed and force is false.
func (c *Controller) CloseDoor(ctx context.Context, force bool) (CommandResult, error) {
	if !force && c.doorIs(DoorClosed) {
		c.logDebug("door already closed, no command sent")
		return CommandResult{}, nil
	}
	return c.sendCommand(ctx, attrDoorCommand, doorCommandClose)
}

// TurnOnLight switches the light on unless it already reads on and force is false.
func (c *Controller) TurnOnLight(ctx context.Context, force bool) (CommandResult, error) {
	if on, known := c.model.LightOn(); !force && known && on {
		c.logDebug("light already on, no command sent")
		return CommandResult{}, nil
	}
	return c.sendCommand(ctx, attrLightState, true)
}

// TurnOffLight switches the light off unless it already reads off and force is false.
func (c *Controller) TurnOffLight(ctx context.Context, force bool) (CommandResult, error) {
	if on, known := c.model.LightOn(); !force && known && !on {
		c.logDebug("light already off, no command sent")
		return CommandResult{}, nil
	}
	return c.sendCommand(ctx, attrLightState, false)
}

// SetVacationMode sets vacation mode unless it already matches and force is false.
func (c *Controller) SetVacationMode(ctx context.Context, on, force bool) (CommandResult, error) {
	if cur, known := c.model.VacationMode(); !force && known && cur == on {
		c.logDebug("vacation mode unchanged, no command sent", "vacation_mode", on)
		return CommandResult{}, nil
	}
	return c.sendCommand(ctx, attrVacationMode, on)
}

func (c *Controller) doorIs(label string) bool {
	status, err := c.model.DoorStatus()
	if err != nil {
		c.logWarn("door state unreadable, sending command", "error", err)
		return false
	}
	return status == label
}

func (c *Controller) sendCommand(ctx context.Context, attribute string, value any) (CommandResult, error) {
	id, err := c.transport.Send(ctx, MethodModuleCommand, NewModuleCommand(c.deviceID, attribute, value))
	if err != nil {
		return CommandResult{}, fmt.Errorf("send %s: %w", attribute, err)
	}
	c.logInfo("command sent", "attribute", attribute, "value", value, "id", id)
	return CommandResult{ID: id, Sent: true}, nil
}

// HandleEvent dispatches one session event. It is registered with the
// transport by NewController.
func (c *Controller) HandleEvent(ev Event) {
	switch e := ev.(type) {
	case ConnectionStateEvent:
		c.notify(e)
	case EntityUpdateEvent:
		c.applyNotification(e.Notification)
	case CommandAckEvent:
		if e.Err != nil {
			c.logWarn("command not acknowledged", "id", e.ID, "method", e.Method, "error", e.Err)
		}
		c.notify(e)
	default:
		c.notify(ev)
	}
}

func (c *Controller) applyNotification(n Notification) {
	result, err := c.model.ApplyUpdate(n)

	for _, r := range result.Rejected {
		if !errors.Is(r.Err, ErrEnumConsistency) {
			c.logWarn("notification key rejected", "key", r.Key, "error", r.Err)
		}
	}

	if err != nil {
		if errors.Is(err, ErrEnumConsistency) {
			c.logError("door state out of sync with server enum", err)
			c.notify(ModelFaultEvent{Err: err})
		} else {
			c.logWarn("notification dropped", "method", n.Method, "error", err)
			return
		}
	}

	if result.Changed {
		c.notify(ModelChangedEvent{Keys: result.Applied, LastSet: result.LastSet, State: c.model.Snapshot()})
	}
}

// notify delivers ev to every observer, recovering observer panics.
func (c *Controller) notify(ev Event) {
	c.observersMu.RLock()
	observers := make([]func(Event), len(c.observers))
	copy(observers, c.observers)
	c.observersMu.RUnlock()

	for _, fn := range observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logError("observer panic", fmt.Errorf("%v", r))
				}
			}()
			fn(ev)
		}()
	}
}

func (c *Controller) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

func (c *Controller) logInfo(msg string, keysAndValues ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (c *Controller) logDebug(msg string, keysAndValues ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

func (c *Controller) logWarn(msg string, keysAndValues ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (c *Controller) logError(msg string, err error) {
	if logger := c.getLogger(); logger != nil {
		logger.Error(msg, "error", err)
	}
}
