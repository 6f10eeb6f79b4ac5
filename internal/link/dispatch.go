package link

import (
	"context"
	"fmt"
	"sync"
)

// run consumes transport events until Close. Routing, state changes and query
// resolution happen here; user callbacks are handed to the callback queue so
// a callback that blocks, for example on Query, never stalls resolution.
func (s *Session) run() {
	defer s.wg.Done()

	events := s.transport.Events()
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-events:
			if !ok {
				s.logger.Warn("transport event channel closed")
				return
			}
			s.handleEvent(ev)
		}
	}
}

func (s *Session) handleEvent(ev Event) {
	switch ev.Kind {
	case EventMessage:
		s.dispatchMessage(ev.Topic, ev.Payload)

	case EventConnected:
		// Subscribing waits on broker acks and on lifecycleMu, which a
		// concurrent Connect may hold, so it must not block the loop.
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.restore(ev)
		}()

	case EventConnectionLost:
		if s.State() == StateDisconnected {
			return
		}
		if s.autoReconnect {
			s.setState(StateConnecting)
		} else {
			s.setState(StateDisconnected)
		}
		s.logger.Warn("connection lost", "error", ev.Err, "auto_reconnect", s.autoReconnect)
		for _, fn := range s.lost.snapshot(hookKey) {
			s.callbacks.push(func() { s.safeCall("connection_lost", "", fn) })
		}

	case EventReconnecting:
		s.logger.Info("reconnecting", "attempt", ev.Attempt)
		for _, fn := range s.reconnecting.snapshot(hookKey) {
			s.callbacks.push(func() { s.safeCall("reconnecting", "", func() { fn(ev.Attempt) }) })
		}

	case EventGaveUp:
		s.setState(StateDisconnected)
		s.logger.Error("transport gave up reconnecting", "error", ev.Err)
		for _, fn := range s.gaveUp.snapshot(hookKey) {
			s.callbacks.push(func() { s.safeCall("gave_up", "", func() { fn(ev.Err) }) })
		}

	default:
		s.logger.Debug("ignoring transport event", "kind", ev.Kind.String())
	}
}

// restore re-subscribes after the transport (re)connected and then queues the
// connected callbacks. Subscriptions do not survive a broker-level reconnect.
func (s *Session) restore(ev Event) {
	s.lifecycleMu.Lock()
	if s.State() == StateDisconnected || s.isClosed() {
		// Stale event from a connection that was since closed on purpose.
		s.lifecycleMu.Unlock()
		return
	}

	// Ready means Connect subscribed on this connection while holding the lock.
	if s.State() != StateReady {
		if err := s.resubscribe(); err != nil {
			s.lifecycleMu.Unlock()
			s.logger.Error("re-subscribing after connect failed", "error", err, "broker", ev.Broker)
			return
		}
		s.setState(StateReady)
	}
	s.lifecycleMu.Unlock()

	s.logger.Info("connected", "broker", ev.Broker, "reconnect", ev.Reconnect)
	for _, fn := range s.connected.snapshot(hookKey) {
		s.callbacks.push(func() { s.safeCall("connected", "", fn) })
	}
}

func (s *Session) resubscribe() error {
	ctx, cancel := context.WithTimeout(context.Background(), resubscribeTimeout)
	defer cancel()
	go func() {
		select {
		case <-s.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	s.setState(StateSubscribing)
	return s.subscribeAll(ctx)
}

// dispatchMessage routes one inbound publish. The pending query is resolved
// before the response callbacks are queued. Decode failures are logged and
// dropped.
func (s *Session) dispatchMessage(topic string, payload []byte) {
	msg, err := s.topics.route(topic, payload)
	if err != nil {
		s.logger.Warn("dropping undecodable message", "topic", topic, "error", err)
		return
	}

	switch msg.kind {
	case kindTelemetry:
		for _, fn := range s.telemetry.snapshot(msg.key) {
			s.callbacks.push(func() { s.safeCall("telemetry", msg.key, func() { fn(msg.value) }) })
		}

	case kindResponse:
		if !s.resolveOldest(msg.key, msg.value, msg.ok) && s.responses.count(msg.key) == 0 {
			s.logger.Debug("response with no waiter", "command", msg.key, "ok", msg.ok)
		}
		for _, fn := range s.responses.snapshot(msg.key) {
			s.callbacks.push(func() { s.safeCall("response", msg.key, func() { fn(msg.value, msg.ok) }) })
		}

	default:
		s.logger.Debug("dropping message on unrecognized topic", "topic", topic)
	}
}

// safeCall runs fn, recovering and logging any panic.
func (s *Session) safeCall(kind, key string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in callback",
				"kind", kind,
				"key", key,
				"panic", fmt.Sprintf("%v", r),
			)
		}
	}()
	fn()
}

// callbackQueue is an unbounded FIFO of callback invocations run one at a
// time by runCallbacks, in the order they were pushed.
type callbackQueue struct {
	mu    sync.Mutex
	items []func()
	ready chan struct{}
}

func newCallbackQueue() *callbackQueue {
	return &callbackQueue{ready: make(chan struct{}, 1)}
}

func (q *callbackQueue) push(fn func()) {
	q.mu.Lock()
	q.items = append(q.items, fn)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// take removes and returns every queued invocation.
func (q *callbackQueue) take() []func() {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

// runCallbacks drains the callback queue until Close.
func (s *Session) runCallbacks() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return
		case <-s.callbacks.ready:
		}
		for _, fn := range s.callbacks.take() {
			select {
			case <-s.done:
				return
			default:
			}
			fn()
		}
	}
}
