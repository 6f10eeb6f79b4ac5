package mqtt

import (
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/devlink/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultOperationTimeout bounds subscribe, unsubscribe and publish acks.
	defaultOperationTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 250 // milliseconds

	// defaultKeepAlive is the keepalive interval for the connection.
	defaultKeepAlive = 30 * time.Second

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// brokerURLs builds one URL per host/port pair, in order.
//
//	path ""      → tcp://host:port or ssl://host:port
//	path "/mqtt" → ws://host:port/mqtt or wss://host:port/mqtt
func brokerURLs(endpoint config.EndpointConfig) []string {
	var scheme string
	switch {
	case endpoint.Path != "" && endpoint.TLS:
		scheme = "wss"
	case endpoint.Path != "":
		scheme = "ws"
	case endpoint.TLS:
		scheme = "ssl"
	default:
		scheme = "tcp"
	}

	path := endpoint.Path
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	urls := make([]string, 0, len(endpoint.Hosts))
	for i, host := range endpoint.Hosts {
		urls = append(urls, fmt.Sprintf("%s://%s:%d%s", scheme, host, endpoint.Ports[i], path))
	}
	return urls
}

// buildClientOptions creates paho options from the endpoint and transport config.
//
// This configures:
//   - One broker URL per candidate host, tried in order
//   - Client ID and optional credentials
//   - Clean session (subscriptions are restored by the session owner)
//   - Automatic reconnection with a capped backoff
//   - TLS when enabled
//
// Connection callbacks are attached by NewClient.
func buildClientOptions(endpoint config.EndpointConfig, tc config.TransportConfig, clientID string) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	for _, url := range brokerURLs(endpoint) {
		opts.AddBroker(url)
	}

	opts.SetClientID(clientID)

	if tc.Auth.Username != "" {
		opts.SetUsername(tc.Auth.Username)
		opts.SetPassword(tc.Auth.Password)
	}

	opts.SetCleanSession(true)
	opts.SetOrderMatters(true)

	// Initial connect fails fast so Connect can report it; only established
	// connections are retried.
	opts.SetConnectRetry(false)
	opts.SetAutoReconnect(tc.Reconnect.Enabled)
	if tc.Reconnect.MaxDelay > 0 {
		opts.SetMaxReconnectInterval(time.Duration(tc.Reconnect.MaxDelay) * time.Second)
	}

	opts.SetConnectTimeout(time.Duration(endpoint.Timeout) * time.Second)
	opts.SetKeepAlive(defaultKeepAlive)

	if endpoint.TLS {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tlsMinVersion,
		})
	}

	return opts
}
