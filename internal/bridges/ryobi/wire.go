package ryobi

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// JSON-RPC methods spoken on the live session.
const (
	jsonRPCVersion = "2.0"

	MethodAuth            = "srvWebSocketAuth"
	MethodSubscribe       = "wskSubscribe"
	MethodAttributeUpdate = "wskAttributeUpdateNtfy"
	MethodModuleCommand   = "gdoModuleCommand"
)

// Fixed addressing for garage door module commands.
const (
	commandMsgType    = 16
	commandModuleType = 5
	commandPortID     = 7
)

// Request is an outbound JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// RPCError is the error member of a JSON-RPC response.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Frame is any inbound JSON-RPC envelope. Notifications carry Method and
// Params; responses carry ID and Result or Error.
type Frame struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// IDString returns the request id as text. The server echoes whatever
// type was sent, so both numbers and strings are accepted.
func (f Frame) IDString() string {
	raw := bytes.TrimSpace(f.ID)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if raw[0] == '"' && json.Unmarshal(raw, &s) == nil {
		return s
	}
	return string(raw)
}

// IsNotification reports whether the frame is a server-initiated notification.
func (f Frame) IsNotification() bool {
	return f.Method != ""
}

// decodeFrame parses one text frame.
func decodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %w", ErrProtocolDecode, err)
	}
	if f.Method == "" && len(f.Result) == 0 && f.Error == nil {
		return Frame{}, fmt.Errorf("%w: frame has neither method nor result", ErrProtocolDecode)
	}
	return f, nil
}

type authParams struct {
	VarName string `json:"varName"`
	APIKey  string `json:"apiKey"`
}

type authResult struct {
	Authorized bool   `json:"authorized"`
	VarName    string `json:"varName"`
	ACnt       int    `json:"aCnt"`
}

type subscribeParams struct {
	Topic string `json:"topic"`
}

type subscribeResult struct {
	Result string `json:"result"`
	ACnt   int    `json:"aCnt"`
}

// subscribeTopic returns the notification topic for a device.
func subscribeTopic(deviceID string) string {
	return deviceID + "." + MethodAttributeUpdate
}

// ModuleCommand is the params body of a gdoModuleCommand request.
type ModuleCommand struct {
	MsgType    int            `json:"msgType"`
	ModuleType int            `json:"moduleType"`
	PortID     int            `json:"portId"`
	ModuleMsg  map[string]any `json:"moduleMsg"`
	Topic      string         `json:"topic"`
}

// NewModuleCommand builds a command setting one module attribute.
func NewModuleCommand(deviceID, attribute string, value any) ModuleCommand {
	return ModuleCommand{
		MsgType:    commandMsgType,
		ModuleType: commandModuleType,
		PortID:     commandPortID,
		ModuleMsg:  map[string]any{attribute: value},
		Topic:      deviceID,
	}
}

// Notification is the method and raw params of an inbound notification.
type Notification struct {
	Method string
	Params json.RawMessage
}
