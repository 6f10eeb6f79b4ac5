// Package mqtt binds link.Transport to an MQTT broker using Eclipse Paho.
//
// The binding manages:
//   - Connection with ordered fallback across candidate brokers
//   - TCP, TLS and WebSocket endpoints (ws:// when a path is configured)
//   - Automatic reconnection with a configurable attempt limit
//   - Subscriptions with SUBACK failure detection
//   - Translating Paho callbacks into one ordered link.Event queue
//
// # Architecture
//
// Paho invokes its handlers on internal goroutines. The client converts each
// callback into a link.Event and pushes it onto a single buffered channel:
//
//	Paho OnConnect          ──► EventConnected
//	Paho ConnectionLost     ──► EventConnectionLost
//	Paho Reconnecting       ──► EventReconnecting (or EventGaveUp past the limit)
//	subscription handler    ──► EventMessage
//
// Subscriptions are not restored by the client. The broker session is clean,
// so the owner of the client re-subscribes on EventConnected.
//
// # Usage
//
//	client := mqtt.NewClient(cfg.Endpoint, cfg.Transport, clientID, logger)
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Disconnect()
//
//	err = client.Subscribe(ctx, "data/picalor/core/+")
//	for ev := range client.Events() { ... }
package mqtt
