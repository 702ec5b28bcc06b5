// Package api implements the local HTTP REST API and WebSocket relay for
// the garage door bridge.
//
// This package provides:
//   - REST endpoints to read device and session state and to send door,
//     light and vacation mode commands
//   - WebSocket hub relaying controller events to local clients
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Commands
//
// Command endpoints return 202 Accepted with the request id when a command
// was sent, and 200 OK with "sent": false when the device already reads the
// target state. Add ?force=true to send regardless.
//
// # Events
//
// WebSocket clients subscribe to event types by name:
//
//	{"type":"subscribe","id":"1","payload":{"channels":["device.state_changed"]}}
//
// Known types are session.state_changed, entity.update, command.ack,
// device.state_changed and device.fault.
package api
