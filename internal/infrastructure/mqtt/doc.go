// Package mqtt provides MQTT client connectivity for the adbfleet message bus.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// The fleet bus is optional. When enabled, the controller publishes device
// status snapshots and alerts, and accepts command requests from external
// producers:
//
//	adbfleet/status                      controller online/offline (retained)
//	adbfleet/device/{id}/status          device snapshots (retained)
//	adbfleet/device/{id}/command         inbound command requests
//	adbfleet/command/{id}/result         terminal command outcomes
//	adbfleet/alert/{level}               alerts by severity
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllDeviceCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
package mqtt
