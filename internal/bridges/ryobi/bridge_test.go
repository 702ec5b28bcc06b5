package ryobi

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
)

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu            sync.Mutex
	published     []mockPublish
	subscriptions []mockSubscription
	connected     bool
	handlers      map[string]func(topic string, payload []byte)
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

type mockSubscription struct {
	Topic string
	QoS   byte
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		connected: true,
		handlers:  make(map[string]func(topic string, payload []byte)),
	}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, mockPublish{
		Topic:    topic,
		Payload:  payload,
		QoS:      qos,
		Retained: retained,
	})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = append(m.subscriptions, mockSubscription{Topic: topic, QoS: qos})
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) Disconnect(uint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
}

// GetPublished returns the messages published to topic.
func (m *MockMQTTClient) GetPublished(topic string) []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []mockPublish
	for _, p := range m.published {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

func (m *MockMQTTClient) GetSubscriptions() []mockSubscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]mockSubscription, len(m.subscriptions))
	copy(out, m.subscriptions)
	return out
}

// SimulateMessage delivers payload to the handler whose filter matches topic.
func (m *MockMQTTClient) SimulateMessage(topic string, payload []byte) {
	m.mu.Lock()
	var handler func(string, []byte)
	for filter, h := range m.handlers {
		if topicMatches(filter, topic) {
			handler = h
			break
		}
	}
	m.mu.Unlock()
	if handler != nil {
		handler(topic, payload)
	}
}

// topicMatches supports the single-level '+' wildcard.
func topicMatches(filter, topic string) bool {
	fp := strings.Split(filter, "/")
	tp := strings.Split(topic, "/")
	if len(fp) != len(tp) {
		return false
	}
	for i := range fp {
		if fp[i] != "+" && fp[i] != tp[i] {
			return false
		}
	}
	return true
}

type bridgeFixture struct {
	bridge    *Bridge
	ctrl      *Controller
	transport *mockTransport
	mqtt      *MockMQTTClient
}

func newBridgeFixture(t *testing.T) *bridgeFixture {
	t.Helper()
	tr := newMockTransport()
	ctrl, err := NewController(ControllerOptions{
		DeviceID:  testDeviceID,
		Transport: tr,
		Snapshots: &mockSnapshots{doc: testSnapshot},
	})
	if err != nil {
		t.Fatalf("NewController() error = %v", err)
	}

	mqtt := NewMockMQTTClient()
	b, err := NewBridge(BridgeOptions{
		Version:    "1.0.0",
		Address:    DefaultWSURL,
		MQTTClient: mqtt,
		Controller: ctrl,
	})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(b.Stop)

	if err := ctrl.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	return &bridgeFixture{bridge: b, ctrl: ctrl, transport: tr, mqtt: mqtt}
}

func (f *bridgeFixture) command(t *testing.T, id, command string, params map[string]any) {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":         id,
		"timestamp":  "2026-01-15T10:00:00Z",
		"command":    command,
		"parameters": params,
		"source":     "api",
	})
	if err != nil {
		t.Fatal(err)
	}
	f.mqtt.SimulateMessage(CommandTopic(testDeviceID), payload)
}

func (f *bridgeFixture) acks(t *testing.T) []AckMessage {
	t.Helper()
	var out []AckMessage
	for _, p := range f.mqtt.GetPublished(AckTopic(testDeviceID)) {
		var ack AckMessage
		if err := json.Unmarshal(p.Payload, &ack); err != nil {
			t.Fatalf("unmarshal ack: %v", err)
		}
		out = append(out, ack)
	}
	return out
}

func (f *bridgeFixture) lastAck(t *testing.T) AckMessage {
	t.Helper()
	acks := f.acks(t)
	if len(acks) == 0 {
		t.Fatal("no ack published")
	}
	return acks[len(acks)-1]
}

func TestNewBridge_Validation(t *testing.T) {
	if _, err := NewBridge(BridgeOptions{Controller: &Controller{}}); err == nil {
		t.Error("missing MQTT client accepted")
	}
	if _, err := NewBridge(BridgeOptions{MQTTClient: NewMockMQTTClient()}); err == nil {
		t.Error("missing controller accepted")
	}
}

func TestBridge_StartSubscribes(t *testing.T) {
	f := newBridgeFixture(t)

	subs := f.mqtt.GetSubscriptions()
	want := []string{CommandSubscribeTopic(), RequestSubscribeTopic()}
	if len(subs) != len(want) {
		t.Fatalf("subscriptions = %+v", subs)
	}
	for i, s := range subs {
		if s.Topic != want[i] || s.QoS != 1 {
			t.Errorf("subscription %d = %+v, want %s QoS 1", i, s, want[i])
		}
	}

	health := f.mqtt.GetPublished(HealthTopic())
	if len(health) == 0 {
		t.Fatal("no health published")
	}
	var first HealthMessage
	if err := json.Unmarshal(health[0].Payload, &first); err != nil {
		t.Fatal(err)
	}
	if first.Status != HealthStarting || !health[0].Retained {
		t.Errorf("first health = %+v retained=%v", first, health[0].Retained)
	}
}

func TestBridge_SeedPublishesRetainedState(t *testing.T) {
	f := newBridgeFixture(t)

	states := f.mqtt.GetPublished(StateTopic(testDeviceID))
	if len(states) != 1 || !states[0].Retained || states[0].QoS != 1 {
		t.Fatalf("state publishes = %+v", states)
	}
	var msg StateMessage
	if err := json.Unmarshal(states[0].Payload, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.State["door"] != DoorClosed || msg.State["light"] != false || msg.Protocol != Protocol {
		t.Errorf("state = %+v", msg)
	}
}

func TestBridge_CommandAcceptedThenCompleted(t *testing.T) {
	f := newBridgeFixture(t)

	f.command(t, "cmd-1", CommandOpen, nil)

	sent := f.transport.getSent()
	if len(sent) != 1 || sent[0].Params.ModuleMsg[attrDoorCommand] != doorCommandOpen {
		t.Fatalf("sent = %+v", sent)
	}
	ack := f.lastAck(t)
	if ack.Status != AckAccepted || ack.CommandID != "cmd-1" || ack.RequestID != "req-1" {
		t.Fatalf("ack = %+v", ack)
	}

	f.transport.deliver(CommandAckEvent{ID: "req-1", Method: MethodModuleCommand})

	ack = f.lastAck(t)
	if ack.Status != AckCompleted || ack.CommandID != "cmd-1" || ack.Error != nil {
		t.Errorf("final ack = %+v", ack)
	}
}

func TestBridge_CommandAlreadySatisfied(t *testing.T) {
	f := newBridgeFixture(t)

	f.command(t, "cmd-1", CommandClose, nil)

	if n := len(f.transport.getSent()); n != 0 {
		t.Errorf("sent %d frames for a closed door", n)
	}
	if ack := f.lastAck(t); ack.Status != AckUnchanged {
		t.Errorf("ack = %+v, want unchanged", ack)
	}

	f.command(t, "cmd-2", CommandClose, map[string]any{"force": true})
	if n := len(f.transport.getSent()); n != 1 {
		t.Errorf("forced close sent %d frames, want 1", n)
	}
}

func TestBridge_EarlyServerAck(t *testing.T) {
	f := newBridgeFixture(t)
	f.transport.onSend = func(id string) {
		f.transport.deliver(CommandAckEvent{ID: id, Method: MethodModuleCommand})
	}

	f.command(t, "cmd-1", CommandLightOn, nil)

	acks := f.acks(t)
	if len(acks) != 2 {
		t.Fatalf("acks = %+v", acks)
	}
	// The server ack is parked until the command is tracked, so accepted
	// still precedes completed.
	if acks[0].Status != AckAccepted || acks[1].Status != AckCompleted {
		t.Errorf("statuses = %s, %s", acks[0].Status, acks[1].Status)
	}
}

func TestBridge_FinalAckErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus AckStatus
		wantCode   string
	}{
		{"timeout", context.DeadlineExceeded, AckTimeout, ErrCodeTimeout},
		{"connection lost", ErrTransport, AckFailed, ErrCodeDeviceUnreachable},
		{"server error", &RPCError{Code: -32000, Message: "busy"}, AckFailed, ErrCodeRejected},
		{"other", errors.New("garbled"), AckFailed, ErrCodeProtocolError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newBridgeFixture(t)
			f.command(t, "cmd-1", CommandOpen, nil)
			f.transport.deliver(CommandAckEvent{ID: "req-1", Err: tt.err})

			ack := f.lastAck(t)
			if ack.Status != tt.wantStatus || ack.Error == nil || ack.Error.Code != tt.wantCode {
				t.Errorf("ack = %+v, want %s/%s", ack, tt.wantStatus, tt.wantCode)
			}
		})
	}
}

func TestBridge_CommandErrors(t *testing.T) {
	tests := []struct {
		name     string
		command  string
		params   map[string]any
		sendErr  error
		topicID  string
		wantCode string
	}{
		{name: "unknown command", command: "dim", wantCode: ErrCodeInvalidCommand},
		{name: "bad force", command: CommandOpen, params: map[string]any{"force": "yes"}, wantCode: ErrCodeInvalidParameters},
		{name: "not connected", command: CommandOpen, sendErr: ErrNotConnected, wantCode: ErrCodeDeviceUnreachable},
		{name: "other device", command: CommandOpen, topicID: "GD9999", wantCode: ErrCodeNotConfigured},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newBridgeFixture(t)
			f.transport.sendErr = tt.sendErr

			deviceID := testDeviceID
			if tt.topicID != "" {
				deviceID = tt.topicID
			}
			payload, _ := json.Marshal(map[string]any{
				"id": "cmd-1", "command": tt.command, "parameters": tt.params,
			})
			f.mqtt.SimulateMessage(CommandTopic(deviceID), payload)

			acks := f.mqtt.GetPublished(AckTopic(deviceID))
			if len(acks) != 1 {
				t.Fatalf("acks = %d, want 1", len(acks))
			}
			var ack AckMessage
			if err := json.Unmarshal(acks[0].Payload, &ack); err != nil {
				t.Fatal(err)
			}
			if ack.Status != AckFailed || ack.Error == nil || ack.Error.Code != tt.wantCode {
				t.Errorf("ack = %+v, want %s", ack, tt.wantCode)
			}
		})
	}
}

func TestBridge_MalformedMessagesIgnored(t *testing.T) {
	f := newBridgeFixture(t)

	f.bridge.handleMQTTMessage("graylogic/command", []byte(`{}`))
	f.mqtt.SimulateMessage(CommandTopic(testDeviceID), []byte(`not json`))

	if acks := f.acks(t); len(acks) != 0 {
		t.Errorf("acks = %+v, want none", acks)
	}
}

func TestBridge_NotificationPublishesChangedKeys(t *testing.T) {
	f := newBridgeFixture(t)

	f.transport.deliver(EntityUpdateEvent{Notification: notification(`{"garageLight_5.lightState":{"value":true}}`)})

	states := f.mqtt.GetPublished(StateTopic(testDeviceID))
	if len(states) != 2 {
		t.Fatalf("state publishes = %d, want 2", len(states))
	}
	var msg StateMessage
	if err := json.Unmarshal(states[1].Payload, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.State["light"] != true || len(msg.Changed) != 1 || msg.Changed[0] != "garageLight_5.lightState" {
		t.Errorf("state = %+v", msg)
	}
}

func TestBridge_ModelFaultDegradesHealth(t *testing.T) {
	f := newBridgeFixture(t)

	f.transport.deliver(EntityUpdateEvent{Notification: notification(`{"garageDoor_4.doorState":{"value":9}}`)})

	status, reason := f.bridge.Health().determineStatus()
	if status != HealthDegraded || !strings.Contains(reason, "outside enum") {
		t.Errorf("health = %s %q", status, reason)
	}

	// A clean update clears the fault.
	f.transport.deliver(EntityUpdateEvent{Notification: notification(`{"garageDoor_4.doorState":{"value":1}}`)})
	if status, _ := f.bridge.Health().determineStatus(); status != HealthHealthy {
		t.Errorf("health after recovery = %s", status)
	}
}

func TestBridge_Requests(t *testing.T) {
	tests := []struct {
		name        string
		action      string
		deviceID    string
		snapshotErr error
		wantSuccess bool
		wantCode    string
	}{
		{name: "read state", action: ActionReadState, wantSuccess: true},
		{name: "refresh", action: ActionRefresh, deviceID: testDeviceID, wantSuccess: true},
		{name: "refresh fails", action: ActionRefresh, snapshotErr: errors.New("503"), wantCode: ErrCodeDeviceUnreachable},
		{name: "unknown action", action: "reboot", wantCode: ErrCodeInvalidCommand},
		{name: "other device", action: ActionReadState, deviceID: "GD9999", wantCode: ErrCodeNotConfigured},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newBridgeFixture(t)
			f.ctrl.snapshots.(*mockSnapshots).err = tt.snapshotErr

			payload, _ := json.Marshal(RequestMessage{
				RequestID: "req-abc",
				Action:    tt.action,
				DeviceID:  tt.deviceID,
			})
			f.mqtt.SimulateMessage(RequestTopic("req-abc"), payload)

			resps := f.mqtt.GetPublished(ResponseTopic("req-abc"))
			if len(resps) != 1 {
				t.Fatalf("responses = %d, want 1", len(resps))
			}
			var resp ResponseMessage
			if err := json.Unmarshal(resps[0].Payload, &resp); err != nil {
				t.Fatal(err)
			}
			if resp.Success != tt.wantSuccess {
				t.Fatalf("response = %+v", resp)
			}
			if !tt.wantSuccess {
				if resp.Error == nil || resp.Error.Code != tt.wantCode {
					t.Errorf("error = %+v, want %s", resp.Error, tt.wantCode)
				}
				return
			}
			state, _ := resp.Data["state"].(map[string]any)
			if resp.Data["device_id"] != testDeviceID || state["door"] != DoorClosed || resp.Data["session"] != "connected" {
				t.Errorf("data = %+v", resp.Data)
			}
		})
	}
}

func TestBridge_StopIgnoresEvents(t *testing.T) {
	f := newBridgeFixture(t)
	f.bridge.Stop()
	f.bridge.Stop()

	f.transport.deliver(EntityUpdateEvent{Notification: notification(`{"garageLight_5.lightState":{"value":true}}`)})

	if n := len(f.mqtt.GetPublished(StateTopic(testDeviceID))); n != 1 {
		t.Errorf("state publishes after Stop = %d, want 1", n)
	}

	health := f.mqtt.GetPublished(HealthTopic())
	var last HealthMessage
	if err := json.Unmarshal(health[len(health)-1].Payload, &last); err != nil {
		t.Fatal(err)
	}
	if last.Status != HealthStopping {
		t.Errorf("last health = %s, want stopping", last.Status)
	}
}
