package link

import "context"

// EventKind identifies what a transport Event carries.
type EventKind int

// Transport event kinds.
const (
	// EventMessage carries an inbound publish (Topic, Payload).
	EventMessage EventKind = iota
	// EventConnected is emitted after every successful (re)connection.
	// Reconnect distinguishes automatic reconnects from the initial connect.
	EventConnected
	// EventConnectionLost is emitted when an established connection drops.
	EventConnectionLost
	// EventReconnecting is emitted before each automatic reconnect attempt.
	EventReconnecting
	// EventGaveUp is emitted when automatic reconnection stops retrying.
	EventGaveUp
)

func (k EventKind) String() string {
	switch k {
	case EventMessage:
		return "message"
	case EventConnected:
		return "connected"
	case EventConnectionLost:
		return "connection_lost"
	case EventReconnecting:
		return "reconnecting"
	case EventGaveUp:
		return "gave_up"
	default:
		return "unknown"
	}
}

// Event is a single item on a transport's ordered event queue.
type Event struct {
	Kind    EventKind
	Topic   string
	Payload []byte

	Reconnect bool   // EventConnected
	Broker    string // EventConnected
	Attempt   int    // EventReconnecting
	Err       error  // EventConnectionLost, EventGaveUp
}

// Transport is the publish/subscribe binding a Session drives.
//
// Implementations push every inbound message and connection state change
// onto the channel returned by Events, in the order they occur. They own
// host fallback and automatic reconnection.
type Transport interface {
	// Connect establishes the connection, trying candidate endpoints in order.
	Connect(ctx context.Context) error

	// Subscribe subscribes to a topic filter ("+" and "#" wildcards) and
	// returns once the broker acknowledged it.
	Subscribe(ctx context.Context, filter string) error

	// Unsubscribe removes topic filters.
	Unsubscribe(ctx context.Context, filters ...string) error

	// Publish sends payload on topic. It does not wait for delivery.
	Publish(topic string, payload []byte) error

	// Disconnect closes the connection. It is safe to call when not connected
	// and does not emit EventConnectionLost.
	Disconnect()

	// Events returns the transport's event queue. The channel is never closed
	// while the transport is in use.
	Events() <-chan Event
}

// Logger is the logging interface used by link. *logging.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
