// Package influxdb records garage door history in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, non-blocking batched writes and health checks.
//
// # Measurements
//
//   - gdo_attribute: one point per changed attribute (door, light,
//     door_position, vacation_mode, ...), tagged device_id and attribute.
//     Fields are typed by name: value_bool, value_int, value_float, label.
//     The door carries both value_int (enum index) and label.
//   - gdo_session: one point per live-session transition, tagged
//     device_id and state, with the failed attempt count
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteDoorState("GD0123", 1, "Open", time.Now())
//
// # Error Handling
//
// Writes never block and never return errors; batch failures are delivered
// to the SetOnError callback. Connection and health check errors are
// returned directly.
package influxdb
