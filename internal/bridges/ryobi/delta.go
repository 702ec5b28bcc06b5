package ryobi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Module families recognised in notification keys. Keys carry a numbered
// instance, e.g. "garageDoor_4".
const (
	ModuleGarageDoor  = "garageDoor"
	ModuleGarageLight = "garageLight"
)

// Attribute fields by wire name.
const (
	FieldDoorState       = "doorState"
	FieldDoorPercentOpen = "doorPercentOpen"
	FieldDoorPosition    = "doorPosition" // alias of doorPercentOpen
	FieldVacationMode    = "vacationMode"
	FieldSensorFlag      = "sensorFlag"
	FieldLightState      = "lightState"
	FieldLightTimer      = "lightTimer"
)

// Envelope keys in notification params that are not attributes.
const (
	paramVarName = "varName"
	paramTopic   = "topic"
)

type fieldKind int

const (
	kindBool fieldKind = iota
	kindInt
)

// attributeSchema maps module family → field → value kind.
var attributeSchema = map[string]map[string]fieldKind{
	ModuleGarageDoor: {
		FieldDoorState:       kindInt,
		FieldDoorPercentOpen: kindInt,
		FieldDoorPosition:    kindInt,
		FieldVacationMode:    kindBool,
		FieldSensorFlag:      kindBool,
	},
	ModuleGarageLight: {
		FieldLightState: kindBool,
		FieldLightTimer: kindInt,
	},
}

// AttributePath is a validated "<module>.<field>" notification key.
type AttributePath struct {
	ModuleKey string // as received, e.g. "garageDoor_4"
	Module    string // family, e.g. "garageDoor"
	Field     string // canonical field name
}

func fieldKey(module, field string) string {
	return module + "." + field
}

// ParseAttributePath validates a notification key against the schema.
func ParseAttributePath(key string) (AttributePath, error) {
	moduleKey, field, ok := strings.Cut(key, ".")
	if !ok || moduleKey == "" || field == "" {
		return AttributePath{}, fmt.Errorf("%w: key %q is not <module>.<field>", ErrProtocolDecode, key)
	}

	var module string
	switch {
	case strings.Contains(moduleKey, ModuleGarageDoor):
		module = ModuleGarageDoor
	case strings.Contains(moduleKey, ModuleGarageLight):
		module = ModuleGarageLight
	default:
		return AttributePath{}, fmt.Errorf("%w: unrecognised module %q", ErrProtocolDecode, moduleKey)
	}

	if _, ok := attributeSchema[module][field]; !ok {
		return AttributePath{}, fmt.Errorf("%w: unrecognised field %q for %s", ErrProtocolDecode, field, module)
	}
	if field == FieldDoorPosition {
		field = FieldDoorPercentOpen
	}

	return AttributePath{ModuleKey: moduleKey, Module: module, Field: field}, nil
}

// fieldDelta holds the members supplied for one attribute. has* flags
// distinguish an absent member from an explicit null.
type fieldDelta[T Scalar] struct {
	hasValue     bool
	value        *T
	hasLastSet   bool
	lastSet      *time.Time
	hasLastValue bool
	lastValue    *T
}

// rawAttribute is the wire shape of one attribute, in notifications and snapshots.
type rawAttribute struct {
	Value     json.RawMessage `json:"value"`
	LastSet   json.RawMessage `json:"lastSet"`
	LastValue json.RawMessage `json:"lastValue"`
	Enum      []string        `json:"enum"`
}

// delta is one decoded attribute update.
type delta struct {
	key   string
	path  AttributePath
	bools fieldDelta[bool]
	ints  fieldDelta[int]
}

// RejectedKey is a notification key that was not applied.
type RejectedKey struct {
	Key string
	Err error
}

// ApplyResult reports the outcome of ApplyUpdate.
type ApplyResult struct {
	// Applied lists the keys merged into the model.
	Applied []string

	// Rejected lists keys that failed schema or type validation, or whose
	// door value had no enum label.
	Rejected []RejectedKey

	// LastSet holds the lastSet supplied by the notification, per applied
	// key. Keys updated without a lastSet are absent.
	LastSet map[string]time.Time

	// Changed is true if any attribute member differs from before.
	Changed bool
}

// decodeNotification decodes params into typed deltas against the schema.
// Envelope failures return ErrProtocolDecode; per-key failures are
// reported as rejections.
func decodeNotification(n Notification, deviceID string) ([]delta, []RejectedKey, error) {
	if n.Method != MethodAttributeUpdate {
		return nil, nil, fmt.Errorf("%w: unexpected method %q", ErrProtocolDecode, n.Method)
	}

	var params map[string]json.RawMessage
	if err := json.Unmarshal(n.Params, &params); err != nil {
		return nil, nil, fmt.Errorf("%w: params: %w", ErrProtocolDecode, err)
	}
	if params == nil {
		return nil, nil, fmt.Errorf("%w: params missing", ErrProtocolDecode)
	}

	if raw, ok := params[paramVarName]; ok && deviceID != "" {
		var varName string
		if err := json.Unmarshal(raw, &varName); err == nil && varName != "" && varName != deviceID {
			return nil, nil, fmt.Errorf("%w: notification for device %q", ErrProtocolDecode, varName)
		}
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		if k == paramVarName || k == paramTopic {
			continue
		}
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var deltas []delta
	var rejected []RejectedKey
	for _, key := range keys {
		d, err := decodeDelta(key, params[key])
		if err != nil {
			rejected = append(rejected, RejectedKey{Key: key, Err: err})
			continue
		}
		deltas = append(deltas, d)
	}

	return deltas, rejected, nil
}

func decodeDelta(key string, raw json.RawMessage) (delta, error) {
	path, err := ParseAttributePath(key)
	if err != nil {
		return delta{}, err
	}

	var attr rawAttribute
	if err := json.Unmarshal(raw, &attr); err != nil {
		return delta{}, fmt.Errorf("%w: %s: %w", ErrProtocolDecode, key, err)
	}

	d := delta{key: key, path: path}
	switch attributeSchema[path.Module][path.Field] {
	case kindBool:
		d.bools, err = decodeFieldDelta(attr, decodeBool)
	default:
		d.ints, err = decodeFieldDelta(attr, decodeInt)
	}
	if err != nil {
		return delta{}, fmt.Errorf("%w: %s: %w", ErrProtocolDecode, key, err)
	}
	if !d.bools.hasValue && !d.bools.hasLastSet && !d.bools.hasLastValue &&
		!d.ints.hasValue && !d.ints.hasLastSet && !d.ints.hasLastValue {
		return delta{}, fmt.Errorf("%w: %s: no attribute members", ErrProtocolDecode, key)
	}
	return d, nil
}

func decodeFieldDelta[T Scalar](attr rawAttribute, decode func(json.RawMessage) (*T, error)) (fieldDelta[T], error) {
	var d fieldDelta[T]
	var err error

	if len(attr.Value) > 0 {
		d.hasValue = true
		if d.value, err = decode(attr.Value); err != nil {
			return d, fmt.Errorf("value: %w", err)
		}
	}
	if len(attr.LastValue) > 0 {
		d.hasLastValue = true
		if d.lastValue, err = decode(attr.LastValue); err != nil {
			return d, fmt.Errorf("lastValue: %w", err)
		}
	}
	if len(attr.LastSet) > 0 {
		d.hasLastSet = true
		if d.lastSet, err = decodeTimestamp(attr.LastSet); err != nil {
			return d, fmt.Errorf("lastSet: %w", err)
		}
	}
	return d, nil
}

// ApplyUpdate merges one attribute notification into the model.
//
// Recognised keys are applied and unrecognised keys are reported in
// ApplyResult.Rejected. Only the members present in each key overwrite
// the stored attribute. A door value with no enum label is not applied
// and is returned as an *EnumConsistencyError.
func (m *EntityModel) ApplyUpdate(n Notification) (ApplyResult, error) {
	deltas, rejected, err := decodeNotification(n, m.DeviceID())
	if err != nil {
		return ApplyResult{}, err
	}

	result := ApplyResult{Rejected: rejected}
	var faults []error

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, d := range deltas {
		changed, err := m.applyDelta(d)
		if err != nil {
			result.Rejected = append(result.Rejected, RejectedKey{Key: d.key, Err: err})
			faults = append(faults, err)
			continue
		}
		result.Applied = append(result.Applied, d.key)
		result.Changed = result.Changed || changed

		if ts := d.lastSetTime(); ts != nil {
			if result.LastSet == nil {
				result.LastSet = make(map[string]time.Time, len(deltas))
			}
			result.LastSet[d.key] = *ts
			if m.state.LastUpdate == nil || ts.After(*m.state.LastUpdate) {
				m.state.LastUpdate = clonePtr(ts)
			}
		}
	}

	return result, errors.Join(faults...)
}

// applyDelta merges d. Callers hold m.mu.
func (m *EntityModel) applyDelta(d delta) (bool, error) {
	door := &m.state.GarageDoor
	light := &m.state.GarageLight

	switch d.path.Field {
	case FieldDoorState:
		next := door.DoorState.Attribute
		next.apply(d.ints)
		state := ""
		if v, ok := next.Get(); ok {
			label, err := door.DoorState.label(d.key, v)
			if err != nil {
				return false, err
			}
			state = label
		}
		changed := door.DoorState.Attribute.apply(d.ints)
		door.DoorState.State = state
		return changed, nil
	case FieldDoorPercentOpen:
		return door.DoorPosition.apply(d.ints), nil
	case FieldVacationMode:
		return door.VacationMode.apply(d.bools), nil
	case FieldSensorFlag:
		return door.SensorFlag.apply(d.bools), nil
	case FieldLightState:
		return light.LightState.apply(d.bools), nil
	case FieldLightTimer:
		return light.LightTimer.apply(d.ints), nil
	default:
		return false, fmt.Errorf("%w: no handler for %s", ErrProtocolDecode, d.key)
	}
}

func (d delta) lastSetTime() *time.Time {
	if d.bools.hasLastSet {
		return d.bools.lastSet
	}
	if d.ints.hasLastSet {
		return d.ints.lastSet
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// decodeBool accepts JSON booleans, 0/1 and "true"/"false".
func decodeBool(raw json.RawMessage) (*bool, error) {
	if isNull(raw) {
		return nil, nil
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return &b, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		switch n.String() {
		case "0":
			b = false
			return &b, nil
		case "1":
			b = true
			return &b, nil
		}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.ParseBool(s); err == nil {
			return &v, nil
		}
	}
	return nil, fmt.Errorf("not a boolean: %s", raw)
}

// decodeInt accepts integral JSON numbers and numeric strings.
func decodeInt(raw json.RawMessage) (*int, error) {
	if isNull(raw) {
		return nil, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("not a number: %s", raw)
		}
		n = json.Number(strings.TrimSpace(s))
	}
	if i, err := n.Int64(); err == nil {
		v := int(i)
		return &v, nil
	}
	f, err := n.Float64()
	if err != nil || f != float64(int64(f)) {
		return nil, fmt.Errorf("not an integer: %s", raw)
	}
	v := int(f)
	return &v, nil
}

// Timestamp layouts accepted in string form.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05-0700",
}

// decodeTimestamp accepts epoch milliseconds or an RFC 3339 string.
func decodeTimestamp(raw json.RawMessage) (*time.Time, error) {
	if isNull(raw) {
		return nil, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		ms, err := n.Int64()
		if err != nil {
			f, ferr := n.Float64()
			if ferr != nil {
				return nil, fmt.Errorf("bad epoch %s", raw)
			}
			ms = int64(f)
		}
		t := time.UnixMilli(ms).UTC()
		return &t, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("not a timestamp: %s", raw)
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("unparseable timestamp %q", s)
}
