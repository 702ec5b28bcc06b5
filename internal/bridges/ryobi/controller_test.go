package ryobi

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

// mockTransport implements Transport for testing.
type mockTransport struct {
	mu      sync.Mutex
	sent    []mockSend
	handler func(Event)
	sendErr error
	onSend  func(id string) // called after Send records a frame
	runErr  error
	runs    int
	stops   int
	status  SessionStatus
}

type mockSend struct {
	Method string
	Params ModuleCommand
}

func newMockTransport() *mockTransport {
	return &mockTransport{status: SessionStatus{State: StateConnected}}
}

func (m *mockTransport) Run(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs++
	return m.runErr
}

func (m *mockTransport) Send(_ context.Context, method string, params any) (string, error) {
	m.mu.Lock()
	if m.sendErr != nil {
		m.mu.Unlock()
		return "", m.sendErr
	}
	cmd, _ := params.(ModuleCommand)
	m.sent = append(m.sent, mockSend{Method: method, Params: cmd})
	id := fmt.Sprintf("req-%d", len(m.sent))
	onSend := m.onSend
	m.mu.Unlock()

	if onSend != nil {
		onSend(id)
	}
	return id, nil
}

func (m *mockTransport) RequestStop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops++
}

func (m *mockTransport) SetEventHandler(handler func(Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = handler
}

func (m *mockTransport) Status() SessionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *mockTransport) getSent() []mockSend {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]mockSend, len(m.sent))
	copy(out, m.sent)
	return out
}

// deliver simulates the session emitting an event.
func (m *mockTransport) deliver(ev Event) {
	m.mu.Lock()
	handler := m.handler
	m.mu.Unlock()
	handler(ev)
}

// mockSnapshots implements SnapshotSource for testing.
type mockSnapshots struct {
	mu    sync.Mutex
	doc   string
	err   error
	calls int
}

func (m *mockSnapshots) DeviceSnapshot(_ context.Context, deviceID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if deviceID != testDeviceID {
		return nil, ErrDeviceNotFound
	}
	return []byte(m.doc), nil
}

func newTestController(t *testing.T) (*Controller, *mockTransport, *eventRecorder) {
	t.Helper()
	tr := newMockTransport()
	c, err := NewController(ControllerOptions{
		DeviceID:  testDeviceID,
		Transport: tr,
		Snapshots: &mockSnapshots{doc: testSnapshot},
	})
	if err != nil {
		t.Fatalf("NewController() error = %v", err)
	}
	rec := newEventRecorder()
	c.AddObserver(rec.handle)
	return c, tr, rec
}

func setDoor(t *testing.T, c *Controller, value int) {
	t.Helper()
	n := notification(fmt.Sprintf(`{"garageDoor_4.doorState":{"value":%d}}`, value))
	if _, err := c.Model().ApplyUpdate(n); err != nil {
		t.Fatalf("ApplyUpdate() error = %v", err)
	}
}

func TestNewController_Validation(t *testing.T) {
	if _, err := NewController(ControllerOptions{Transport: newMockTransport()}); err == nil {
		t.Error("missing device ID accepted")
	}
	if _, err := NewController(ControllerOptions{DeviceID: testDeviceID}); err == nil {
		t.Error("missing transport accepted")
	}
}

func TestController_StartSeedsThenRuns(t *testing.T) {
	c, tr, rec := newTestController(t)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if tr.runs != 1 {
		t.Errorf("transport runs = %d, want 1", tr.runs)
	}

	ev := waitEvent[ModelChangedEvent](t, rec, nil)
	if ev.Keys != nil || !ev.State.Seeded || ev.State.DoorStatus() != DoorClosed {
		t.Errorf("seed event = %+v", ev)
	}
}

func TestController_StartFailsWhenSnapshotFails(t *testing.T) {
	tr := newMockTransport()
	c, err := NewController(ControllerOptions{
		DeviceID:  testDeviceID,
		Transport: tr,
		Snapshots: &mockSnapshots{err: errors.New("503")},
	})
	if err != nil {
		t.Fatalf("NewController() error = %v", err)
	}

	if err := c.Start(context.Background()); err == nil {
		t.Fatal("Start() error = nil")
	}
	if tr.runs != 0 {
		t.Error("transport started without a seeded model")
	}
}

func TestController_OpenDoorShortCircuit(t *testing.T) {
	c, tr, _ := newTestController(t)
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	setDoor(t, c, 1) // Open

	res, err := c.OpenDoor(context.Background(), false)
	if err != nil {
		t.Fatalf("OpenDoor() error = %v", err)
	}
	if res.Sent || len(tr.getSent()) != 0 {
		t.Fatalf("OpenDoor(force=false) on open door sent %d frames", len(tr.getSent()))
	}

	res, err = c.OpenDoor(context.Background(), true)
	if err != nil {
		t.Fatalf("OpenDoor(force) error = %v", err)
	}
	sent := tr.getSent()
	if !res.Sent || res.ID != "req-1" || len(sent) != 1 {
		t.Fatalf("OpenDoor(force=true) result = %+v, frames = %d", res, len(sent))
	}
	if sent[0].Method != MethodModuleCommand || sent[0].Params.ModuleMsg[attrDoorCommand] != doorCommandOpen {
		t.Errorf("sent = %+v", sent[0])
	}
	if sent[0].Params.Topic != testDeviceID {
		t.Errorf("topic = %q", sent[0].Params.Topic)
	}
}

func TestController_Commands(t *testing.T) {
	tests := []struct {
		name      string
		door      int  // door value before the call
		light     bool // light state before the call
		vacation  bool
		call      func(*Controller, bool) (CommandResult, error)
		wantSent  bool
		wantAttr  string
		wantValue any
	}{
		{
			name:     "close when closed",
			door:     0,
			call:     func(c *Controller, f bool) (CommandResult, error) { return c.CloseDoor(context.Background(), f) },
			wantSent: false,
		},
		{
			name:      "close when open",
			door:      1,
			call:      func(c *Controller, f bool) (CommandResult, error) { return c.CloseDoor(context.Background(), f) },
			wantSent:  true,
			wantAttr:  attrDoorCommand,
			wantValue: doorCommandClose,
		},
		{
			name:      "open while closing",
			door:      2,
			call:      func(c *Controller, f bool) (CommandResult, error) { return c.OpenDoor(context.Background(), f) },
			wantSent:  true,
			wantAttr:  attrDoorCommand,
			wantValue: doorCommandOpen,
		},
		{
			name:      "light on when off",
			call:      func(c *Controller, f bool) (CommandResult, error) { return c.TurnOnLight(context.Background(), f) },
			wantSent:  true,
			wantAttr:  attrLightState,
			wantValue: true,
		},
		{
			name:     "light on when on",
			light:    true,
			call:     func(c *Controller, f bool) (CommandResult, error) { return c.TurnOnLight(context.Background(), f) },
			wantSent: false,
		},
		{
			name:     "light off when off",
			call:     func(c *Controller, f bool) (CommandResult, error) { return c.TurnOffLight(context.Background(), f) },
			wantSent: false,
		},
		{
			name:      "light off when on",
			light:     true,
			call:      func(c *Controller, f bool) (CommandResult, error) { return c.TurnOffLight(context.Background(), f) },
			wantSent:  true,
			wantAttr:  attrLightState,
			wantValue: false,
		},
		{
			name: "vacation on when off",
			call: func(c *Controller, f bool) (CommandResult, error) {
				return c.SetVacationMode(context.Background(), true, f)
			},
			wantSent:  true,
			wantAttr:  attrVacationMode,
			wantValue: true,
		},
		{
			name:     "vacation on when on",
			vacation: true,
			call: func(c *Controller, f bool) (CommandResult, error) {
				return c.SetVacationMode(context.Background(), true, f)
			},
			wantSent: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, tr, _ := newTestController(t)
			if err := c.Refresh(context.Background()); err != nil {
				t.Fatalf("Refresh() error = %v", err)
			}
			n := notification(fmt.Sprintf(`{
			  "garageDoor_4.doorState": {"value": %d},
			  "garageDoor_4.vacationMode": {"value": %t},
			  "garageLight_5.lightState": {"value": %t}
			}`, tt.door, tt.vacation, tt.light))
			if _, err := c.Model().ApplyUpdate(n); err != nil {
				t.Fatalf("ApplyUpdate() error = %v", err)
			}

			res, err := tt.call(c, false)
			if err != nil {
				t.Fatalf("call error = %v", err)
			}
			sent := tr.getSent()
			if res.Sent != tt.wantSent || (len(sent) == 1) != tt.wantSent {
				t.Fatalf("sent = %v (%d frames), want %v", res.Sent, len(sent), tt.wantSent)
			}
			if tt.wantSent {
				if got := sent[0].Params.ModuleMsg[tt.wantAttr]; got != tt.wantValue {
					t.Errorf("moduleMsg[%s] = %v, want %v", tt.wantAttr, got, tt.wantValue)
				}
				return
			}

			// force always sends exactly one frame
			if _, err := tt.call(c, true); err != nil {
				t.Fatalf("forced call error = %v", err)
			}
			if n := len(tr.getSent()); n != 1 {
				t.Errorf("forced call sent %d frames, want 1", n)
			}
		})
	}
}

func TestController_UnknownStateAlwaysSends(t *testing.T) {
	c, tr, _ := newTestController(t)

	if _, err := c.OpenDoor(context.Background(), false); err != nil {
		t.Fatalf("OpenDoor() error = %v", err)
	}
	if _, err := c.TurnOffLight(context.Background(), false); err != nil {
		t.Fatalf("TurnOffLight() error = %v", err)
	}
	if _, err := c.SetVacationMode(context.Background(), false, false); err != nil {
		t.Fatalf("SetVacationMode() error = %v", err)
	}
	if n := len(tr.getSent()); n != 3 {
		t.Errorf("sent %d frames with unknown state, want 3", n)
	}
}

func TestController_SendError(t *testing.T) {
	c, tr, _ := newTestController(t)
	tr.sendErr = ErrNotConnected

	res, err := c.CloseDoor(context.Background(), true)
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("CloseDoor() error = %v, want ErrNotConnected", err)
	}
	if res.Sent {
		t.Error("Sent = true on failure")
	}
}

func TestController_NotificationUpdatesModel(t *testing.T) {
	c, tr, rec := newTestController(t)
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	waitEvent[ModelChangedEvent](t, rec, nil) // seed

	n := notification(`{"garageDoor_4.doorState":{"value":1}}`)
	tr.deliver(EntityUpdateEvent{Notification: n})

	ev := waitEvent[ModelChangedEvent](t, rec, nil)
	if len(ev.Keys) != 1 || ev.Keys[0] != "garageDoor_4.doorState" {
		t.Errorf("Keys = %v", ev.Keys)
	}
	if ev.State.DoorStatus() != DoorOpen {
		t.Errorf("door = %q, want Open", ev.State.DoorStatus())
	}

	// Redelivery changes nothing and emits nothing.
	tr.deliver(EntityUpdateEvent{Notification: n})
	tr.deliver(ConnectionStateEvent{State: StateClosed})
	if e := waitEvent[ConnectionStateEvent](t, rec, nil); e.State != StateClosed {
		t.Errorf("forwarded state = %v", e.State)
	}
	rec.mu.Lock()
	var changed int
	for _, ev := range rec.all {
		if _, ok := ev.(ModelChangedEvent); ok {
			changed++
		}
	}
	rec.mu.Unlock()
	if changed != 2 {
		t.Errorf("ModelChangedEvents = %d, want 2", changed)
	}
}

func TestController_EnumFaultSurfaces(t *testing.T) {
	c, tr, rec := newTestController(t)
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	tr.deliver(EntityUpdateEvent{Notification: notification(`{"garageDoor_4.doorState":{"value":12}}`)})

	ev := waitEvent[ModelFaultEvent](t, rec, nil)
	if !errors.Is(ev.Err, ErrEnumConsistency) {
		t.Errorf("fault = %v", ev.Err)
	}
}

func TestController_ForwardsAcksAndStates(t *testing.T) {
	c, tr, rec := newTestController(t)
	_ = c

	tr.deliver(ConnectionStateEvent{State: StateStopped, Err: ErrRetryBudgetExhausted})
	st := waitEvent[ConnectionStateEvent](t, rec, nil)
	if st.State != StateStopped || !errors.Is(st.Err, ErrRetryBudgetExhausted) {
		t.Errorf("forwarded = %+v", st)
	}

	tr.deliver(CommandAckEvent{ID: "req-9", Method: MethodModuleCommand})
	if ack := waitEvent[CommandAckEvent](t, rec, nil); ack.ID != "req-9" {
		t.Errorf("forwarded ack = %+v", ack)
	}
}

func TestController_MalformedNotificationIgnored(t *testing.T) {
	c, tr, rec := newTestController(t)
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	before := c.State()

	tr.deliver(EntityUpdateEvent{Notification: notification(`{"varName":"GD9999","garageDoor_4.doorState":{"value":1}}`)})
	tr.deliver(ConnectionStateEvent{State: StateConnected})
	waitEvent[ConnectionStateEvent](t, rec, nil)

	if c.State().DoorStatus() != before.DoorStatus() {
		t.Error("notification for another device was applied")
	}
}

func TestController_ObserverPanicIsContained(t *testing.T) {
	c, tr, rec := newTestController(t)
	c.AddObserver(func(Event) { panic("bad observer") })

	tr.deliver(ConnectionStateEvent{State: StateConnected})
	waitEvent[ConnectionStateEvent](t, rec, nil)
}

func TestController_Stop(t *testing.T) {
	c, tr, _ := newTestController(t)
	c.Stop()
	if tr.stops != 1 {
		t.Errorf("RequestStop calls = %d, want 1", tr.stops)
	}
}

func TestController_RefreshWithoutSource(t *testing.T) {
	c, err := NewController(ControllerOptions{DeviceID: testDeviceID, Transport: newMockTransport()})
	if err != nil {
		t.Fatalf("NewController() error = %v", err)
	}
	if err := c.Refresh(context.Background()); err == nil {
		t.Error("Refresh() without source error = nil")
	}
	if err := c.Start(context.Background()); err != nil {
		t.Errorf("Start() without source = %v", err)
	}
}
