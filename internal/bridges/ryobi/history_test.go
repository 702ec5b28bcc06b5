package ryobi

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type historyPoint struct {
	DeviceID  string
	Attribute string
	Value     any
	Label     string
	At        time.Time
}

type sessionPoint struct {
	DeviceID       string
	State          string
	FailedAttempts int
}

type mockHistory struct {
	mu       sync.Mutex
	points   []historyPoint
	sessions []sessionPoint
}

func (m *mockHistory) WriteAttribute(deviceID, attribute string, value any, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points = append(m.points, historyPoint{DeviceID: deviceID, Attribute: attribute, Value: value, At: at})
}

func (m *mockHistory) WriteDoorState(deviceID string, value int, label string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points = append(m.points, historyPoint{DeviceID: deviceID, Attribute: "door", Value: value, Label: label, At: at})
}

func (m *mockHistory) WriteSessionState(deviceID, state string, failedAttempts int, _ time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = append(m.sessions, sessionPoint{deviceID, state, failedAttempts})
}

func (m *mockHistory) byAttribute() map[string]historyPoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]historyPoint, len(m.points))
	for _, p := range m.points {
		out[p.Attribute] = p
	}
	return out
}

// recordNotification applies params to m and feeds the resulting change
// to record, the way the controller does.
func recordNotification(t *testing.T, m *EntityModel, record func(Event), params string) {
	t.Helper()
	result, err := m.ApplyUpdate(notification(params))
	if err != nil {
		t.Fatalf("ApplyUpdate() error = %v", err)
	}
	record(ModelChangedEvent{Keys: result.Applied, LastSet: result.LastSet, State: m.Snapshot()})
}

func TestRecordHistory_Snapshot(t *testing.T) {
	h := &mockHistory{}
	record := RecordHistory(h, testDeviceID)

	before := time.Now()
	record(ModelChangedEvent{State: seededModel(t).Snapshot()})

	got := h.byAttribute()
	want := map[string]any{
		"door":          0,
		"door_position": 0,
		"vacation_mode": false,
		"sensor":        false,
		"light":         false,
		"light_timer":   0,
	}
	if len(h.points) != len(want) {
		t.Fatalf("wrote %d points, want %d: %v", len(h.points), len(want), h.points)
	}
	for name, v := range want {
		p, ok := got[name]
		if !ok {
			t.Errorf("no point for %q", name)
			continue
		}
		if p.Value != v {
			t.Errorf("%s = %v, want %v", name, p.Value, v)
		}
		if p.DeviceID != testDeviceID {
			t.Errorf("%s device_id = %q", name, p.DeviceID)
		}
		if p.At.Before(before) {
			t.Errorf("%s at = %v, want the time of the snapshot", name, p.At)
		}
	}
	if got["door"].Label != DoorClosed {
		t.Errorf("door label = %q, want %q", got["door"].Label, DoorClosed)
	}
}

func TestRecordHistory_NotificationWritesAppliedKeysOnly(t *testing.T) {
	m := seededModel(t)
	h := &mockHistory{}

	before := time.Now()
	recordNotification(t, m, RecordHistory(h, testDeviceID), `{
	  "varName": "GD0123",
	  "garageDoor_4.doorState": {"value": 1, "lastSet": 1700000005000},
	  "garageLight_5.lightState": {"value": true}
	}`)

	got := h.byAttribute()
	if len(got) != 2 {
		t.Fatalf("wrote %v, want door and light", h.points)
	}
	if got["door"].Value != 1 || got["door"].Label != DoorOpen {
		t.Errorf("door = %v %q, want 1 %q", got["door"].Value, got["door"].Label, DoorOpen)
	}
	if got["light"].Value != true {
		t.Errorf("light = %v, want true", got["light"].Value)
	}

	wantAt := time.UnixMilli(t0Millis + 5000)
	if !got["door"].At.Equal(wantAt) {
		t.Errorf("door at = %v, want its lastSet %v", got["door"].At, wantAt)
	}
	if got["light"].At.Before(before) {
		t.Errorf("light at = %v, want the current time for a value-only update", got["light"].At)
	}
}

// A value-only update must not reuse an earlier lastSet, or the second
// point would replace the first in the time series.
func TestRecordHistory_ValueOnlyUpdateGetsOwnTimestamp(t *testing.T) {
	m := seededModel(t)
	h := &mockHistory{}
	record := RecordHistory(h, testDeviceID)

	recordNotification(t, m, record, `{"garageDoor_4.doorState": {"value": 3, "lastSet": 1700000000000}}`)
	recordNotification(t, m, record, `{"garageDoor_4.doorState": {"value": 1}}`)

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.points) != 2 {
		t.Fatalf("wrote %v, want two door points", h.points)
	}
	first, second := h.points[0], h.points[1]
	if first.Label != "Opening" || second.Label != DoorOpen {
		t.Errorf("labels = %q, %q; want %q, %q", first.Label, second.Label, "Opening", DoorOpen)
	}
	if !first.At.Equal(time.UnixMilli(t0Millis)) {
		t.Errorf("first at = %v, want its lastSet", first.At)
	}
	if !second.At.After(first.At) {
		t.Errorf("second at = %v, want after %v", second.At, first.At)
	}
}

func TestRecordHistory_ClearedValueSkipped(t *testing.T) {
	m := seededModel(t)
	h := &mockHistory{}

	recordNotification(t, m, RecordHistory(h, testDeviceID), `{
	  "varName": "GD0123",
	  "garageLight_5.lightTimer": {"value": null}
	}`)

	if len(h.points) != 0 {
		t.Errorf("wrote %v, want nothing for a cleared value", h.points)
	}
}

func TestRecordHistory_SessionTransitions(t *testing.T) {
	h := &mockHistory{}
	record := RecordHistory(h, testDeviceID)

	record(ConnectionStateEvent{State: StateConnected, At: time.Now()})
	record(ConnectionStateEvent{State: StateError, Err: errors.New("dial failed"), FailedAttempts: 3, At: time.Now()})
	record(CommandAckEvent{ID: "1"})
	record(ModelFaultEvent{Err: errors.New("enum")})

	want := []sessionPoint{
		{testDeviceID, "connected", 0},
		{testDeviceID, "error", 3},
	}
	if len(h.sessions) != len(want) {
		t.Fatalf("sessions = %v, want %v", h.sessions, want)
	}
	for i := range want {
		if h.sessions[i] != want[i] {
			t.Errorf("sessions[%d] = %v, want %v", i, h.sessions[i], want[i])
		}
	}
	if len(h.points) != 0 {
		t.Errorf("attribute points = %v, want none", h.points)
	}
}
