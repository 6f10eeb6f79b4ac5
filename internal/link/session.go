package link

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// State is the session connection state.
type State int32

// Session states.
const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribing
	StateReady
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribing:
		return "subscribing"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

const (
	// DefaultTimeout is the query timeout used when Options.Timeout is zero.
	DefaultTimeout = 15 * time.Second

	// resubscribeTimeout bounds re-subscription after an automatic reconnect.
	resubscribeTimeout = 10 * time.Second

	// closeTimeout bounds the unsubscribe performed by Close.
	closeTimeout = 5 * time.Second
)

// TelemetryFunc receives a decoded telemetry value.
type TelemetryFunc func(value any)

// ResponseFunc receives a decoded command response and its outcome.
type ResponseFunc func(value any, ok bool)

// Options configures a Session.
type Options struct {
	// Transport is the pub/sub binding. Required.
	Transport Transport

	// Topics are the namespace prefixes. Required.
	Topics Topics

	// Timeout is the per-query timeout. Defaults to DefaultTimeout.
	Timeout time.Duration

	// ClientID is the identity the transport connects with, for logging and
	// health reporting.
	ClientID string

	// AutoReconnect records whether the transport retries on its own. When
	// false a lost connection moves the session to StateDisconnected.
	AutoReconnect bool

	Logger Logger
}

// Session is the client side of the device protocol.
type Session struct {
	transport     Transport
	topics        Topics
	timeout       time.Duration
	clientID      string
	autoReconnect bool
	logger        Logger

	state atomic.Int32

	// lifecycleMu serialises Connect, Disconnect, Reconnect and
	// re-subscription after an automatic reconnect.
	lifecycleMu sync.Mutex

	telemetry    *registry[TelemetryFunc]
	responses    *registry[ResponseFunc]
	connected    *registry[func()]
	lost         *registry[func()]
	reconnecting *registry[func(attempt int)]
	gaveUp       *registry[func(err error)]

	pendingMu sync.Mutex
	pending   map[string][]*pendingQuery

	callbacks *callbackQueue
	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Single keys used for the lifecycle hook registries.
const hookKey = ""

// New creates a Session and starts its dispatch loop. The session does not
// connect until Connect is called.
func New(opts Options) (*Session, error) {
	if opts.Transport == nil {
		return nil, errors.New("link: transport is required")
	}
	if err := opts.Topics.Validate(); err != nil {
		return nil, fmt.Errorf("link: %w", err)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger{}
	}

	s := &Session{
		transport:     opts.Transport,
		topics:        opts.Topics,
		timeout:       opts.Timeout,
		clientID:      opts.ClientID,
		autoReconnect: opts.AutoReconnect,
		logger:        opts.Logger,
		telemetry:     newRegistry[TelemetryFunc](),
		responses:     newRegistry[ResponseFunc](),
		connected:     newRegistry[func()](),
		lost:          newRegistry[func()](),
		reconnecting:  newRegistry[func(int)](),
		gaveUp:        newRegistry[func(error)](),
		pending:       make(map[string][]*pendingQuery),
		callbacks:     newCallbackQueue(),
		done:          make(chan struct{}),
	}

	s.wg.Add(2)
	go s.run()
	go s.runCallbacks()

	return s, nil
}

// State returns the current connection state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// ClientID returns the broker client identity.
func (s *Session) ClientID() string {
	return s.clientID
}

// Topics returns the session's topic prefixes.
func (s *Session) Topics() Topics {
	return s.topics
}

// Timeout returns the per-query timeout.
func (s *Session) Timeout() time.Duration {
	return s.timeout
}

// HealthCheck returns nil when the session is ready.
func (s *Session) HealthCheck(_ context.Context) error {
	if s.isClosed() {
		return ErrClosed
	}
	if state := s.State(); state != StateReady {
		return fmt.Errorf("%w: state %s", ErrNotReady, state)
	}
	return nil
}

func (s *Session) setState(state State) {
	old := State(s.state.Swap(int32(state)))
	if old != state {
		s.logger.Debug("session state changed", "from", old.String(), "to", state.String())
	}
}

func (s *Session) isClosed() bool {
	return s.closed.Load()
}

// filters returns the topic filters the session keeps subscribed.
func (s *Session) filters() []string {
	return []string{s.topics.TelemetryFilter(), s.topics.ResponseFilter()}
}

// Connect connects the transport and subscribes to the telemetry and response
// filters. It returns once both subscriptions are acknowledged. A refused
// subscription is reported as a *SubscribeError and leaves the session
// disconnected.
func (s *Session) Connect(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.isClosed() {
		return ErrClosed
	}
	return s.connectLocked(ctx)
}

func (s *Session) connectLocked(ctx context.Context) error {
	if s.State() == StateReady {
		return nil
	}

	s.setState(StateConnecting)
	if err := s.transport.Connect(ctx); err != nil {
		s.setState(StateDisconnected)
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	s.setState(StateSubscribing)
	if err := s.subscribeAll(ctx); err != nil {
		s.setState(StateDisconnected)
		s.transport.Disconnect()
		return err
	}

	s.setState(StateReady)
	s.logger.Info("session ready", "client_id", s.clientID)
	return nil
}

// subscribeAll subscribes to every session filter in parallel.
func (s *Session) subscribeAll(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, filter := range s.filters() {
		g.Go(func() error {
			if err := s.transport.Subscribe(gctx, filter); err != nil {
				return &SubscribeError{Filter: filter, Err: err}
			}
			s.logger.Debug("subscribed", "filter", filter)
			return nil
		})
	}
	return g.Wait()
}

// Disconnect unsubscribes and closes the transport. It never fails and does
// not fire connection-lost callbacks. Pending queries keep their timers.
func (s *Session) Disconnect(ctx context.Context) {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	s.disconnectLocked(ctx)
}

func (s *Session) disconnectLocked(ctx context.Context) {
	// Set first so a connection-lost event racing with the close is ignored.
	prev := State(s.state.Swap(int32(StateDisconnected)))
	if prev == StateDisconnected {
		s.logger.Debug("disconnect on idle session")
		s.transport.Disconnect()
		return
	}

	if err := s.transport.Unsubscribe(ctx, s.filters()...); err != nil {
		s.logger.Warn("unsubscribe during disconnect failed", "error", err)
	}
	s.transport.Disconnect()
	s.logger.Info("session disconnected", "client_id", s.clientID)
}

// Reconnect disconnects and then connects again. In-flight queries are not
// cancelled.
func (s *Session) Reconnect(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.isClosed() {
		return ErrClosed
	}
	s.disconnectLocked(ctx)
	return s.connectLocked(ctx)
}

// Close disconnects and stops the dispatch and callback goroutines. Queries
// still waiting return ErrClosed. Close is idempotent. It must not be called
// from inside a session callback.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()

		s.Disconnect(ctx)
		s.closed.Store(true)
		close(s.done)
		s.wg.Wait()
	})
	return nil
}

// OnTelemetry registers fn for telemetry key. Callbacks for a key run in
// registration order.
func (s *Session) OnTelemetry(key string, fn TelemetryFunc) Handle {
	return s.telemetry.add(key, fn)
}

// RemoveTelemetry unregisters a telemetry callback. It reports whether the
// handle was registered.
func (s *Session) RemoveTelemetry(key string, h Handle) bool {
	return s.telemetry.remove(key, h)
}

// TelemetryKeys returns the keys that currently have callbacks, sorted.
func (s *Session) TelemetryKeys() []string {
	return s.telemetry.keys()
}

// OnResponse registers fn for every response to command, including
// responses that also resolve a pending Query.
func (s *Session) OnResponse(command string, fn ResponseFunc) Handle {
	return s.responses.add(command, fn)
}

// RemoveResponse unregisters a command response callback.
func (s *Session) RemoveResponse(command string, h Handle) bool {
	return s.responses.remove(command, h)
}

// OnConnected registers fn to run after every successful (re)connection,
// once the topic filters are subscribed again.
func (s *Session) OnConnected(fn func()) Handle {
	return s.connected.add(hookKey, fn)
}

// OnConnectionLost registers fn to run when the transport connection drops.
// It does not run for Disconnect.
func (s *Session) OnConnectionLost(fn func()) Handle {
	return s.lost.add(hookKey, fn)
}

// OnReconnecting registers fn to run before each automatic reconnect attempt.
func (s *Session) OnReconnecting(fn func(attempt int)) Handle {
	return s.reconnecting.add(hookKey, fn)
}

// OnGaveUp registers fn to run when the transport stops reconnecting.
func (s *Session) OnGaveUp(fn func(err error)) Handle {
	return s.gaveUp.add(hookKey, fn)
}

// RemoveHook unregisters a lifecycle hook added with OnConnected,
// OnConnectionLost, OnReconnecting or OnGaveUp.
func (s *Session) RemoveHook(h Handle) bool {
	return s.connected.remove(hookKey, h) ||
		s.lost.remove(hookKey, h) ||
		s.reconnecting.remove(hookKey, h) ||
		s.gaveUp.remove(hookKey, h)
}
