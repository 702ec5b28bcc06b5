package mqtt

import (
	"fmt"
)

// maxPayloadSize bounds a single message (1MB), in line with typical broker limits.
const maxPayloadSize = 1 << 20

// Publish sends a message to the specified MQTT topic.
//
// QoS 1 is used for everything the bridge publishes: acks and responses
// are not retained, state and health are retained so Core sees the last
// value after a restart.
//
// Returns ErrNotConnected when the broker link is down; callers do not
// queue, the next state change or health tick republishes.
//
// Example:
//
//	topic := "graylogic/state/ryobi/GD0123"
//	err := client.Publish(topic, []byte(`{"door":"Open"}`), 1, true)
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	return nil
}
