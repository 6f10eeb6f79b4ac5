package mqtt

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/devlink/internal/infrastructure/config"
	"github.com/nerrad567/devlink/internal/link"
)

const (
	// eventBufferSize is the capacity of the event queue.
	eventBufferSize = 256

	// eventSendTimeout bounds how long an inbound message waits on a full
	// queue before it is dropped.
	eventSendTimeout = 5 * time.Second
)

// Client wraps paho.mqtt.golang as a link.Transport.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Subscriptions are NOT restored on reconnection; consume EventConnected.
type Client struct {
	client  pahomqtt.Client
	options *pahomqtt.ClientOptions
	qos     byte
	brokers string

	maxAttempts int
	attempts    atomic.Int32
	gaveUp      atomic.Bool

	// hasConnected distinguishes the first OnConnect after Connect from
	// automatic reconnects.
	hasConnected atomic.Bool

	// connected tracks current connection state.
	connected bool
	connMu    sync.RWMutex

	events *link.EventQueue
	logger link.Logger
}

// NewClient creates a client for the configured brokers. It does not connect.
// logger may be nil.
func NewClient(endpoint config.EndpointConfig, tc config.TransportConfig, clientID string, logger link.Logger) *Client {
	opts := buildClientOptions(endpoint, tc, clientID)

	c := &Client{
		options:     opts,
		qos:         byte(tc.QoS),
		brokers:     strings.Join(brokerURLs(endpoint), ","),
		maxAttempts: tc.Reconnect.MaxAttempts,
		events:      link.NewEventQueue(eventBufferSize, eventSendTimeout, logger),
		logger:      logger,
	}

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})

	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleConnectionLost(err)
	})

	opts.SetReconnectingHandler(func(_ pahomqtt.Client, _ *pahomqtt.ClientOptions) {
		c.handleReconnecting()
	})

	c.client = pahomqtt.NewClient(opts)
	return c
}

// Connect establishes a connection, trying each broker in order.
//
// Returns:
//   - error: wraps ErrConnectionFailed if no broker accepted the connection
//     or ctx ended first
func (c *Client) Connect(ctx context.Context) error {
	c.hasConnected.Store(false)
	c.attempts.Store(0)
	c.gaveUp.Store(false)

	token := c.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		c.client.Disconnect(0)
		return fmt.Errorf("%w: %w", ErrConnectionFailed, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// OnConnect runs asynchronously and may not have executed yet.
	c.setConnected(true)
	return nil
}

// handleConnect is called on every successful (re)connection.
func (c *Client) handleConnect() {
	c.setConnected(true)
	c.attempts.Store(0)
	reconnect := c.hasConnected.Swap(true)

	c.emit(link.Event{Kind: link.EventConnected, Reconnect: reconnect, Broker: c.brokers})
}

// handleConnectionLost is called when an established connection drops.
func (c *Client) handleConnectionLost(err error) {
	c.setConnected(false)
	c.emit(link.Event{Kind: link.EventConnectionLost, Err: err})
}

// handleReconnecting is called by paho before each reconnect attempt.
func (c *Client) handleReconnecting() {
	attempt := int(c.attempts.Add(1))
	if c.maxAttempts > 0 && attempt > c.maxAttempts {
		if c.gaveUp.CompareAndSwap(false, true) {
			// Disconnect stops paho's reconnect loop; it must not run on
			// paho's own callback goroutine.
			go c.client.Disconnect(0)
			c.emit(link.Event{
				Kind: link.EventGaveUp,
				Err:  fmt.Errorf("%w after %d attempts", ErrGaveUp, c.maxAttempts),
			})
		}
		return
	}
	c.emit(link.Event{Kind: link.EventReconnecting, Attempt: attempt})
}

// Disconnect closes the connection. Paho does not invoke the
// connection-lost handler for a requested disconnect.
func (c *Client) Disconnect() {
	if c.client.IsConnectionOpen() || c.client.IsConnected() {
		c.client.Disconnect(defaultDisconnectQuiesce)
	}
	c.setConnected(false)
}

// Events returns the client's ordered event queue.
func (c *Client) Events() <-chan link.Event {
	return c.events.Events()
}

// DroppedMessages returns how many inbound messages were discarded because
// the event consumer fell behind.
func (c *Client) DroppedMessages() uint64 {
	return c.events.Dropped()
}

// HealthCheck verifies the MQTT connection is alive.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the current connection state.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client.IsConnectionOpen()
}

func (c *Client) setConnected(v bool) {
	c.connMu.Lock()
	c.connected = v
	c.connMu.Unlock()
}

// emit pushes ev onto the event queue.
func (c *Client) emit(ev link.Event) {
	c.events.Push(ev)
}

// messageHandler converts inbound publishes into events, with panic recovery.
func (c *Client) messageHandler() pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.logError("MQTT handler panic recovered",
					"topic", msg.Topic(),
					"panic", r,
				)
			}
		}()

		c.emit(link.Event{
			Kind:    link.EventMessage,
			Topic:   msg.Topic(),
			Payload: msg.Payload(),
		})
	}
}

func (c *Client) logError(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Error(msg, args...)
	}
}

// waitToken waits for token, ctx or the operation timeout, whichever is first.
func waitToken(ctx context.Context, token pahomqtt.Token) error {
	timer := time.NewTimer(defaultOperationTimeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("timeout after %v", defaultOperationTimeout)
	}
}
