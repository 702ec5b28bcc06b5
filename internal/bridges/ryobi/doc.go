// Package ryobi implements the Ryobi garage door opener bridge for Gray Logic.
//
// The opener is reached through the vendor cloud. A request/response API
// issues the account API key and the full device document; a WebSocket
// JSON-RPC session then streams attribute notifications and carries
// commands.
//
// # Architecture
//
//	┌─────────────┐  MQTT  ┌────────┐  events  ┌────────────┐  JSON-RPC  ┌──────────────┐
//	│ Gray Logic  │◄──────►│ Bridge │◄─────────│ Controller │◄──────────►│ Session (WS) │◄──► vendor
//	│    Core     │        └────────┘          │  + Model   │            └──────────────┘     cloud
//	└─────────────┘                            └────────────┘
//
// # Key Responsibilities
//
//   - Session: dial, authenticate, subscribe, keepalive and reconnect with
//     backoff until stopped or the retry budget is spent
//   - EntityModel: mirror the door and light attributes, merging partial
//     notification deltas and full snapshots
//   - Controller: route session events into the model and turn intents
//     (open, close, light, vacation mode) into module commands, skipping
//     commands the model shows are already satisfied
//   - Bridge: expose the controller on graylogic/{command,ack,state,health}/ryobi
//
// # Session Lifecycle
//
//	NotStarted → Starting → Connected → Closed ─┐
//	                 │                          │ backoff
//	                 └──────→ Error ────────────┴──→ Starting ...
//
// Any state moves to Stopped on RequestStop, context cancellation or an
// exhausted retry budget. Stopped is terminal.
//
// Example:
//
//	sess, err := ryobi.NewSession(ryobi.SessionConfig{
//	    URL:      ryobi.DefaultWSURL,
//	    Username: "user@example.com",
//	    APIKey:   key,
//	    DeviceID: "GD0123",
//	})
//	if err != nil {
//	    return err
//	}
//	ctrl, err := ryobi.NewController(ryobi.ControllerOptions{
//	    DeviceID:  "GD0123",
//	    Transport: sess,
//	    Snapshots: cloud,
//	})
//	go ctrl.Start(ctx)
//	_, err = ctrl.OpenDoor(ctx, false)
//
// # Thread Safety
//
// All exported types are safe for concurrent use unless noted. Events are
// delivered synchronously on the session goroutine; handlers must not block.
package ryobi
