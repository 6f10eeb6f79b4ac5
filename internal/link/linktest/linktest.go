// Package linktest provides an in-memory broker and transport for testing
// code built on package link without a real message broker.
package linktest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/nerrad567/devlink/internal/link"
)

const eventBuffer = 256

// Message is a publish recorded by a Transport.
type Message struct {
	Topic   string
	Payload []byte
}

// Broker routes publishes between the Transports attached to it.
type Broker struct {
	mu         sync.Mutex
	transports []*Transport
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{}
}

// NewTransport attaches a new disconnected transport to the broker.
func (b *Broker) NewTransport() *Transport {
	t := &Transport{
		broker:     b,
		events:     make(chan link.Event, eventBuffer),
		filters:    make(map[string]struct{}),
		subFailure: make(map[string]error),
	}
	b.mu.Lock()
	b.transports = append(b.transports, t)
	b.mu.Unlock()
	return t
}

func (b *Broker) deliver(topic string, payload []byte) {
	b.mu.Lock()
	targets := make([]*Transport, len(b.transports))
	copy(targets, b.transports)
	b.mu.Unlock()

	for _, t := range targets {
		if t.matches(topic) {
			t.emit(link.Event{Kind: link.EventMessage, Topic: topic, Payload: append([]byte(nil), payload...)})
		}
	}
}

// Transport is an in-memory link.Transport. Subscriptions are dropped on
// Disconnect and DropConnection, like a clean broker session.
type Transport struct {
	broker *Broker
	events chan link.Event

	mu          sync.Mutex
	connected   bool
	connects    int
	filters     map[string]struct{}
	published   []Message
	subscribes  []string
	connectErr  error
	subFailure  map[string]error
	unsubscribe [][]string
}

// Connect implements link.Transport.
func (t *Transport) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	if t.connectErr != nil {
		err := t.connectErr
		t.mu.Unlock()
		return err
	}
	t.connected = true
	t.connects++
	t.mu.Unlock()

	t.emit(link.Event{Kind: link.EventConnected, Broker: "memory://"})
	return nil
}

// Subscribe implements link.Transport.
func (t *Transport) Subscribe(ctx context.Context, filter string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected {
		return link.ErrNotConnected
	}
	t.subscribes = append(t.subscribes, filter)
	if err := t.subFailure[filter]; err != nil {
		return err
	}
	t.filters[filter] = struct{}{}
	return nil
}

// Unsubscribe implements link.Transport.
func (t *Transport) Unsubscribe(_ context.Context, filters ...string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.unsubscribe = append(t.unsubscribe, filters)
	if !t.connected {
		return link.ErrNotConnected
	}
	for _, f := range filters {
		delete(t.filters, f)
	}
	return nil
}

// Publish implements link.Transport.
func (t *Transport) Publish(topic string, payload []byte) error {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return link.ErrNotConnected
	}
	t.published = append(t.published, Message{Topic: topic, Payload: append([]byte(nil), payload...)})
	t.mu.Unlock()

	t.broker.deliver(topic, payload)
	return nil
}

// Disconnect implements link.Transport.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = false
	clear(t.filters)
}

// Events implements link.Transport.
func (t *Transport) Events() <-chan link.Event {
	return t.events
}

// FailConnect makes subsequent Connect calls return err. Pass nil to clear.
func (t *Transport) FailConnect(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connectErr = err
}

// FailSubscribe makes Subscribe refuse filter with err. Pass nil to clear.
func (t *Transport) FailSubscribe(filter string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err == nil {
		delete(t.subFailure, filter)
		return
	}
	t.subFailure[filter] = err
}

// DropConnection simulates the broker connection dropping.
func (t *Transport) DropConnection(err error) {
	t.mu.Lock()
	t.connected = false
	clear(t.filters)
	t.mu.Unlock()

	t.emit(link.Event{Kind: link.EventConnectionLost, Err: err})
}

// Restore simulates a successful automatic reconnect.
func (t *Transport) Restore() {
	t.mu.Lock()
	t.connected = true
	t.connects++
	t.mu.Unlock()

	t.emit(link.Event{Kind: link.EventConnected, Reconnect: true, Broker: "memory://"})
}

// Emit pushes an arbitrary event onto the transport's queue.
func (t *Transport) Emit(ev link.Event) {
	t.emit(ev)
}

// Inject delivers a message to this transport only, as if the broker sent it,
// regardless of subscriptions.
func (t *Transport) Inject(topic string, payload []byte) {
	t.emit(link.Event{Kind: link.EventMessage, Topic: topic, Payload: payload})
}

// Connected reports whether the transport is connected.
func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// Connects returns how many times the transport has connected.
func (t *Transport) Connects() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connects
}

// Subscribed reports whether filter is currently subscribed.
func (t *Transport) Subscribed(filter string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.filters[filter]
	return ok
}

// SubscribeCalls returns every filter passed to Subscribe, in call order.
func (t *Transport) SubscribeCalls() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.subscribes...)
}

// UnsubscribeCalls returns the filter lists passed to Unsubscribe.
func (t *Transport) UnsubscribeCalls() [][]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([][]string(nil), t.unsubscribe...)
}

// Published returns every message published through this transport.
func (t *Transport) Published() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Message(nil), t.published...)
}

func (t *Transport) matches(topic string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return false
	}
	for f := range t.filters {
		if Match(f, topic) {
			return true
		}
	}
	return false
}

func (t *Transport) emit(ev link.Event) {
	select {
	case t.events <- ev:
	default:
		panic(fmt.Sprintf("linktest: event buffer full, dropping %s on %q", ev.Kind, ev.Topic))
	}
}

// Match reports whether topic matches an MQTT-style filter with "+" (one
// level) and "#" (remaining levels) wildcards.
func Match(filter, topic string) bool {
	fs := strings.Split(filter, "/")
	ts := strings.Split(topic, "/")
	for i, f := range fs {
		if f == "#" {
			return true
		}
		if i >= len(ts) {
			return false
		}
		if f != "+" && f != ts[i] {
			return false
		}
	}
	return len(fs) == len(ts)
}
