// Package mqtt provides MQTT client connectivity for the garage door bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//
// # Architecture
//
// MQTT is the bus between Gray Logic Core and its protocol bridges. This
// process is one such bridge: it subscribes to graylogic/command/ryobi/+
// and publishes acks, state and health under the same scheme.
//
//	Gray Logic Core ↔ MQTT Broker ↔ Ryobi bridge ↔ vendor cloud
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT,
//	    mqtt.WithWill(bridge.Health().GetLWTTopic(), lwtPayload))
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe("graylogic/command/ryobi/+", 1,
//	    func(topic string, payload []byte) error {
//	        return handle(topic, payload)
//	    })
//
// # Security Considerations
//
//   - TLS should be enabled outside a trusted LAN (cfg.Broker.TLS=true)
//   - Anonymous access is only for local development
package mqtt
