package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementAttribute = "gdo_attribute"
	MeasurementSession   = "gdo_session"
)

// Attribute field names. Each value type has its own field so one
// measurement never mixes types under a single field.
const (
	FieldValueBool  = "value_bool"
	FieldValueInt   = "value_int"
	FieldValueFloat = "value_float"
	FieldLabel      = "label"
)

// WriteAttribute records one device attribute value.
//
// The field name follows the value type: bools go to value_bool, integers
// to value_int, floats to value_float and strings to label. Values of any
// other type are dropped.
//
// Example:
//
//	client.WriteAttribute("GD0123", "light", true, time.Now())
func (c *Client) WriteAttribute(deviceID, attribute string, value any, at time.Time) {
	fields, ok := attributeFields(value)
	if !ok {
		return
	}
	c.writePoint(MeasurementAttribute, attributeTags(deviceID, attribute), fields, at)
}

// WriteDoorState records the door state as its enum index with the label
// alongside, so transitions can be graphed and read.
func (c *Client) WriteDoorState(deviceID string, value int, label string, at time.Time) {
	c.writePoint(MeasurementAttribute,
		attributeTags(deviceID, "door"),
		map[string]any{
			FieldValueInt: int64(value),
			FieldLabel:    label,
		},
		at,
	)
}

func attributeTags(deviceID, attribute string) map[string]string {
	return map[string]string{
		"device_id": deviceID,
		"attribute": attribute,
	}
}

func attributeFields(value any) (map[string]any, bool) {
	switch v := value.(type) {
	case bool:
		return map[string]any{FieldValueBool: v}, true
	case int:
		return map[string]any{FieldValueInt: int64(v)}, true
	case int64:
		return map[string]any{FieldValueInt: v}, true
	case float64:
		return map[string]any{FieldValueFloat: v}, true
	case string:
		return map[string]any{FieldLabel: v}, true
	default:
		return nil, false
	}
}

// WriteSessionState records a live-session state transition.
func (c *Client) WriteSessionState(deviceID, state string, failedAttempts int, at time.Time) {
	c.writePoint(MeasurementSession,
		map[string]string{
			"device_id": deviceID,
			"state":     state,
		},
		map[string]any{"failed_attempts": failedAttempts},
		at,
	)
}

func (c *Client) writePoint(measurement string, tags map[string]string, fields map[string]any, at time.Time) {
	if !c.IsConnected() {
		return
	}
	if at.IsZero() {
		at = time.Now()
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, at))
}
