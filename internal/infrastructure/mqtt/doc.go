// Package mqtt provides MQTT client connectivity for the DCT bridge.
//
// This package manages:
//   - Connection to the Gray Logic broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support, restored on reconnect
//   - Last Will and Testament (LWT) for offline detection
//
// The bridge sits on the same bus as the other Gray Logic protocol bridges:
//
//	Gray Logic Core <-> MQTT Broker <-> DCT bridge <-> recorder
//
// # Security Considerations
//
//   - Enable TLS (cfg.Broker.TLS=true) outside a trusted LAN
//   - Credentials are validated against broker ACL
//   - Message payloads are not encrypted beyond TLS transport
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT,
//	    mqtt.WithWill(mqtt.Topics{}.BridgeHealth("dct"), lwtPayload))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe("graylogic/command/dct/#", 1,
//	    func(topic string, payload []byte) error {
//	        return handle(topic, payload)
//	    })
package mqtt
