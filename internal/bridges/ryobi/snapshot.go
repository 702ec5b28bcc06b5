package ryobi

import (
	"encoding/json"
	"maps"
	"slices"
	"strings"
)

// Module key of the opener's main board in the snapshot deviceTypeMap.
const moduleMasterUnit = "masterUnit"

type snapshotDocument struct {
	Result []snapshotDevice `json:"result"`
}

type snapshotDevice struct {
	VarName       string                    `json:"varName"`
	MetaData      *snapshotMetaData         `json:"metaData"`
	DeviceTypeMap map[string]snapshotModule `json:"deviceTypeMap"`
}

type snapshotMetaData struct {
	Name        json.RawMessage `json:"name"`
	Description json.RawMessage `json:"description"`
	Version     json.RawMessage `json:"version"`
	Sys         struct {
		LastSeen json.RawMessage `json:"lastSeen"`
	} `json:"sys"`
}

type snapshotModule struct {
	At map[string]rawAttribute `json:"at"`
}

// ReplaceFromSnapshot replaces the whole model from a device snapshot
// document (the body of GET /devices/{id}).
//
// On failure the model is left untouched and the error is a
// *SnapshotError wrapping ErrSnapshotDecode, or an *EnumConsistencyError
// if the door value has no label.
func (m *EntityModel) ReplaceFromSnapshot(doc []byte) error {
	deviceID := m.DeviceID()

	next, err := decodeSnapshot(doc, deviceID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.state = next
	m.mu.Unlock()
	return nil
}

func decodeSnapshot(doc []byte, deviceID string) (DeviceState, error) {
	var parsed snapshotDocument
	if err := json.Unmarshal(doc, &parsed); err != nil {
		return DeviceState{}, &SnapshotError{Field: "document", Err: err}
	}
	if len(parsed.Result) == 0 {
		return DeviceState{}, &SnapshotError{Field: "result"}
	}
	dev := parsed.Result[0]

	if dev.MetaData == nil {
		return DeviceState{}, &SnapshotError{Field: "result[0].metaData"}
	}
	if len(dev.DeviceTypeMap) == 0 {
		return DeviceState{}, &SnapshotError{Field: "result[0].deviceTypeMap"}
	}

	doorKey := findModule(dev.DeviceTypeMap, ModuleGarageDoor)
	if doorKey == "" {
		return DeviceState{}, &SnapshotError{Field: "deviceTypeMap." + ModuleGarageDoor}
	}
	lightKey := findModule(dev.DeviceTypeMap, ModuleGarageLight)
	if lightKey == "" {
		return DeviceState{}, &SnapshotError{Field: "deviceTypeMap." + ModuleGarageLight}
	}

	state := emptyState(deviceID)
	state.Seeded = true
	state.Modules = slices.Sorted(maps.Keys(dev.DeviceTypeMap))

	var err error
	if state.Metadata, err = decodeMetadata(dev); err != nil {
		return DeviceState{}, err
	}

	door := dev.DeviceTypeMap[doorKey].At
	doorStateRaw, ok := door[FieldDoorState]
	if !ok {
		return DeviceState{}, &SnapshotError{Field: doorKey + "." + FieldDoorState}
	}
	if len(doorStateRaw.Enum) > 0 {
		state.GarageDoor.DoorState.Enum = slices.Clone(doorStateRaw.Enum)
	}

	if state.GarageDoor.DoorState.Attribute, err = snapshotAttribute(door, doorKey, FieldDoorState, decodeInt); err != nil {
		return DeviceState{}, err
	}
	if v, ok := state.GarageDoor.DoorState.Get(); ok {
		label, err := state.GarageDoor.DoorState.label(doorKey+"."+FieldDoorState, v)
		if err != nil {
			return DeviceState{}, err
		}
		state.GarageDoor.DoorState.State = label
	}

	positionField := FieldDoorPercentOpen
	if _, ok := door[positionField]; !ok {
		if _, ok := door[FieldDoorPosition]; ok {
			positionField = FieldDoorPosition
		}
	}
	if state.GarageDoor.DoorPosition, err = snapshotAttribute(door, doorKey, positionField, decodeInt); err != nil {
		return DeviceState{}, err
	}
	if state.GarageDoor.VacationMode, err = snapshotAttribute(door, doorKey, FieldVacationMode, decodeBool); err != nil {
		return DeviceState{}, err
	}
	if state.GarageDoor.SensorFlag, err = snapshotAttribute(door, doorKey, FieldSensorFlag, decodeBool); err != nil {
		return DeviceState{}, err
	}

	light := dev.DeviceTypeMap[lightKey].At
	if state.GarageLight.LightState, err = snapshotAttribute(light, lightKey, FieldLightState, decodeBool); err != nil {
		return DeviceState{}, err
	}
	if state.GarageLight.LightTimer, err = snapshotAttribute(light, lightKey, FieldLightTimer, decodeInt); err != nil {
		return DeviceState{}, err
	}

	return state, nil
}

// snapshotAttribute builds a full attribute. The attribute and its value
// member must be present; an explicit null value is accepted, and absent
// lastSet or lastValue members become nil.
func snapshotAttribute[T Scalar](at map[string]rawAttribute, moduleKey, field string, decode func(json.RawMessage) (*T, error)) (Attribute[T], error) {
	path := moduleKey + "." + field
	raw, ok := at[field]
	if !ok {
		return Attribute[T]{}, &SnapshotError{Field: path}
	}
	if len(raw.Value) == 0 {
		return Attribute[T]{}, &SnapshotError{Field: path + ".value"}
	}
	d, err := decodeFieldDelta(raw, decode)
	if err != nil {
		return Attribute[T]{}, &SnapshotError{Field: path, Err: err}
	}
	return Attribute[T]{LastSet: d.lastSet, LastValue: d.lastValue, Value: d.value}, nil
}

func decodeMetadata(dev snapshotDevice) (Metadata, error) {
	md := dev.MetaData
	required := []struct {
		field string
		raw   json.RawMessage
	}{
		{"metaData.name", md.Name},
		{"metaData.description", md.Description},
		{"metaData.version", md.Version},
		{"metaData.sys.lastSeen", md.Sys.LastSeen},
	}
	for _, r := range required {
		if len(r.raw) == 0 {
			return Metadata{}, &SnapshotError{Field: r.field}
		}
	}

	meta := Metadata{
		Name:        flexString(md.Name),
		Description: flexString(md.Description),
		Version:     flexString(md.Version),
	}
	ts, err := decodeTimestamp(md.Sys.LastSeen)
	if err != nil {
		return Metadata{}, &SnapshotError{Field: "metaData.sys.lastSeen", Err: err}
	}
	meta.LastSeen = ts

	master, ok := dev.DeviceTypeMap[moduleMasterUnit]
	if !ok {
		return Metadata{}, &SnapshotError{Field: "deviceTypeMap." + moduleMasterUnit}
	}
	masterValue := func(field string) (string, error) {
		attr, ok := master.At[field]
		if !ok || len(attr.Value) == 0 {
			return "", &SnapshotError{Field: moduleMasterUnit + "." + field}
		}
		return flexString(attr.Value), nil
	}
	if meta.Serial, err = masterValue("serialNumber"); err != nil {
		return Metadata{}, err
	}
	if meta.MAC, err = masterValue("macAddress"); err != nil {
		return Metadata{}, err
	}
	if meta.WifiVersion, err = masterValue("appVersion"); err != nil {
		return Metadata{}, err
	}
	return meta, nil
}

// findModule returns the lowest-sorted deviceTypeMap key containing family.
func findModule(modules map[string]snapshotModule, family string) string {
	var match []string
	for k := range modules {
		if strings.Contains(k, family) {
			match = append(match, k)
		}
	}
	if len(match) == 0 {
		return ""
	}
	slices.Sort(match)
	return match[0]
}

// flexString renders a string or number member as text.
func flexString(raw json.RawMessage) string {
	if len(raw) == 0 || isNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}
