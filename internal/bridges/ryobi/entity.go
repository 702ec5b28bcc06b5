package ryobi

import (
	"slices"
	"sync"
	"time"
)

// DoorStateUnknown is reported before the door state has been seen.
const DoorStateUnknown = "Unknown"

// DefaultDoorEnum is the door state label set used until a snapshot
// supplies one.
var DefaultDoorEnum = []string{"Closed", "Open", "Closing", "Opening", "Fault"}

// Door state labels used for command short-circuits.
const (
	DoorClosed = "Closed"
	DoorOpen   = "Open"
)

// Scalar is the set of attribute value types.
type Scalar interface {
	~bool | ~int | ~string
}

// Attribute is a timestamped device value with the value it replaced.
// A nil pointer means the server has not supplied that member.
type Attribute[T Scalar] struct {
	LastSet   *time.Time `json:"lastSet"`
	LastValue *T         `json:"lastValue"`
	Value     *T         `json:"value"`
}

// Get returns the current value and whether it is known.
func (a Attribute[T]) Get() (T, bool) {
	if a.Value == nil {
		var zero T
		return zero, false
	}
	return *a.Value, true
}

// Is reports whether the current value is known and equal to v.
func (a Attribute[T]) Is(v T) bool {
	cur, ok := a.Get()
	return ok && cur == v
}

func (a Attribute[T]) clone() Attribute[T] {
	return Attribute[T]{
		LastSet:   clonePtr(a.LastSet),
		LastValue: clonePtr(a.LastValue),
		Value:     clonePtr(a.Value),
	}
}

// apply merges the members present in d and reports whether anything changed.
func (a *Attribute[T]) apply(d fieldDelta[T]) bool {
	changed := false
	if d.hasValue && !ptrEqual(a.Value, d.value) {
		a.Value = clonePtr(d.value)
		changed = true
	}
	if d.hasLastSet && !timePtrEqual(a.LastSet, d.lastSet) {
		a.LastSet = clonePtr(d.lastSet)
		changed = true
	}
	if d.hasLastValue && !ptrEqual(a.LastValue, d.lastValue) {
		a.LastValue = clonePtr(d.lastValue)
		changed = true
	}
	return changed
}

// DoorStateAttribute is the door position index with its label set.
type DoorStateAttribute struct {
	Attribute[int]
	Enum  []string `json:"enum"`
	State string   `json:"state"`
}

// label returns Enum[v] or an EnumConsistencyError.
func (d DoorStateAttribute) label(key string, v int) (string, error) {
	if v < 0 || v >= len(d.Enum) {
		return "", &EnumConsistencyError{Key: key, Value: v, EnumLen: len(d.Enum)}
	}
	return d.Enum[v], nil
}

func (d DoorStateAttribute) clone() DoorStateAttribute {
	return DoorStateAttribute{
		Attribute: d.Attribute.clone(),
		Enum:      slices.Clone(d.Enum),
		State:     d.State,
	}
}

// Metadata is replaced wholesale by each snapshot.
type Metadata struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Version     string     `json:"version"`
	LastSeen    *time.Time `json:"last_seen,omitempty"`
	Serial      string     `json:"serial"`
	MAC         string     `json:"mac"`
	WifiVersion string     `json:"wifi_version"`
}

// GarageDoor holds the door module attributes.
type GarageDoor struct {
	VacationMode Attribute[bool]    `json:"vacationMode"`
	SensorFlag   Attribute[bool]    `json:"sensorFlag"`
	DoorState    DoorStateAttribute `json:"doorState"`
	DoorPosition Attribute[int]     `json:"doorPosition"`
}

// GarageLight holds the light module attributes.
type GarageLight struct {
	LightState Attribute[bool] `json:"lightState"`
	LightTimer Attribute[int]  `json:"lightTimer"`
}

// DeviceState is a copy of the entity model handed to readers.
type DeviceState struct {
	DeviceID    string      `json:"device_id"`
	Metadata    Metadata    `json:"metadata"`
	GarageDoor  GarageDoor  `json:"garage_door"`
	GarageLight GarageLight `json:"garage_light"`

	// Modules are the deviceTypeMap keys seen in the last snapshot.
	Modules []string `json:"modules,omitempty"`

	// LastUpdate is the newest lastSet timestamp applied from a notification.
	LastUpdate *time.Time `json:"last_update,omitempty"`

	// Seeded is true once a snapshot has been applied.
	Seeded bool `json:"seeded"`
}

func (s DeviceState) clone() DeviceState {
	out := s
	out.Metadata.LastSeen = clonePtr(s.Metadata.LastSeen)
	out.GarageDoor = GarageDoor{
		VacationMode: s.GarageDoor.VacationMode.clone(),
		SensorFlag:   s.GarageDoor.SensorFlag.clone(),
		DoorState:    s.GarageDoor.DoorState.clone(),
		DoorPosition: s.GarageDoor.DoorPosition.clone(),
	}
	out.GarageLight = GarageLight{
		LightState: s.GarageLight.LightState.clone(),
		LightTimer: s.GarageLight.LightTimer.clone(),
	}
	out.Modules = slices.Clone(s.Modules)
	out.LastUpdate = clonePtr(s.LastUpdate)
	return out
}

// DoorStatus returns the door label, or DoorStateUnknown if not yet seen.
func (s DeviceState) DoorStatus() string {
	if s.GarageDoor.DoorState.State == "" {
		return DoorStateUnknown
	}
	return s.GarageDoor.DoorState.State
}

// EntityModel mirrors one device's attributes.
//
// Thread Safety:
//   - All methods are safe for concurrent use. Notifications are applied
//     on the session goroutine while command paths read from others.
type EntityModel struct {
	mu    sync.RWMutex
	state DeviceState
}

// NewEntityModel creates an empty model with the default door enum.
func NewEntityModel(deviceID string) *EntityModel {
	return &EntityModel{state: emptyState(deviceID)}
}

func emptyState(deviceID string) DeviceState {
	return DeviceState{
		DeviceID: deviceID,
		GarageDoor: GarageDoor{
			DoorState: DoorStateAttribute{Enum: slices.Clone(DefaultDoorEnum)},
		},
	}
}

// DeviceID returns the device the model mirrors.
func (m *EntityModel) DeviceID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.DeviceID
}

// Snapshot returns a deep copy of the current state.
func (m *EntityModel) Snapshot() DeviceState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.clone()
}

// DoorStatus returns the derived door label. It fails with an
// EnumConsistencyError if the stored value has no label.
func (m *EntityModel) DoorStatus() (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ds := m.state.GarageDoor.DoorState
	v, ok := ds.Get()
	if !ok {
		return DoorStateUnknown, nil
	}
	return ds.label(fieldKey(ModuleGarageDoor, FieldDoorState), v)
}

// LightOn returns the light state and whether it is known.
func (m *EntityModel) LightOn() (on, known bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.GarageLight.LightState.Get()
}

// VacationMode returns the vacation mode flag and whether it is known.
func (m *EntityModel) VacationMode() (on, known bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.GarageDoor.VacationMode.Get()
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func ptrEqual[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
