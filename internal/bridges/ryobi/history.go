package ryobi

import "time"

// HistoryWriter receives device history points. *influxdb.Client
// satisfies it.
type HistoryWriter interface {
	WriteAttribute(deviceID, attribute string, value any, at time.Time)
	WriteDoorState(deviceID string, value int, label string, at time.Time)
	WriteSessionState(deviceID, state string, failedAttempts int, at time.Time)
}

// flatNames maps canonical attribute fields to FlattenState keys.
var flatNames = map[string]string{
	FieldDoorState:       "door",
	FieldDoorPercentOpen: "door_position",
	FieldVacationMode:    "vacation_mode",
	FieldSensorFlag:      "sensor",
	FieldLightState:      "light",
	FieldLightTimer:      "light_timer",
}

// RecordHistory returns a controller observer that writes attribute
// changes and session transitions for deviceID to w.
//
// After a notification only the applied keys are written, each stamped
// with the lastSet the notification supplied for it, or the current time.
// After a snapshot every known attribute is written at the current time.
// Cleared values are skipped.
func RecordHistory(w HistoryWriter, deviceID string) func(Event) {
	return func(ev Event) {
		switch e := ev.(type) {
		case ConnectionStateEvent:
			w.WriteSessionState(deviceID, e.State.String(), e.FailedAttempts, e.At)
		case ModelChangedEvent:
			writeAttributes(w, e)
		}
	}
}

func writeAttributes(w HistoryWriter, e ModelChangedEvent) {
	flat := FlattenState(e.State)
	now := time.Now()

	if e.Keys == nil {
		for field := range flatNames {
			writeAttribute(w, e.State, flat, field, now)
		}
		return
	}

	seen := make(map[string]bool, len(e.Keys))
	for _, key := range e.Keys {
		path, err := ParseAttributePath(key)
		if err != nil {
			continue
		}
		field := path.Field
		if seen[field] {
			continue
		}
		seen[field] = true

		at := now
		if ts, ok := e.LastSet[key]; ok {
			at = ts
		}
		writeAttribute(w, e.State, flat, field, at)
	}
}

func writeAttribute(w HistoryWriter, state DeviceState, flat map[string]any, field string, at time.Time) {
	if field == FieldDoorState {
		if v, ok := state.GarageDoor.DoorState.Get(); ok {
			w.WriteDoorState(state.DeviceID, v, state.GarageDoor.DoorState.State, at)
		}
		return
	}
	name, ok := flatNames[field]
	if !ok {
		return
	}
	if v, ok := flat[name]; ok {
		w.WriteAttribute(state.DeviceID, name, v, at)
	}
}
