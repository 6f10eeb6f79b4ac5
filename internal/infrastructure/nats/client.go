package nats

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	natsio "github.com/nats-io/nats.go"

	"github.com/nerrad567/devlink/internal/infrastructure/config"
	"github.com/nerrad567/devlink/internal/link"
)

const (
	eventBufferSize  = 256
	eventSendTimeout = 5 * time.Second
	pingInterval     = 5 * time.Second
	maxPingsOut      = 3
	flushTimeout     = 5 * time.Second
)

// Errors returned by the NATS binding.
var (
	// ErrNotConnected matches link.ErrNotConnected.
	ErrNotConnected = fmt.Errorf("nats: %w", link.ErrNotConnected)

	// ErrConnectionFailed wraps connect failures.
	ErrConnectionFailed = errors.New("nats: connection failed")

	// ErrGaveUp is carried by link.EventGaveUp when reconnects are exhausted.
	ErrGaveUp = errors.New("nats: reconnect attempts exhausted")
)

// conn is one physical connection. Handlers registered for a connection
// ignore events once it was closed on purpose.
type conn struct {
	nc      *natsio.Conn
	closing atomic.Bool
}

// Client implements link.Transport over core NATS publish/subscribe.
type Client struct {
	urls     []string
	clientID string
	timeout  time.Duration
	tc       config.TransportConfig
	tls      bool

	mu   sync.Mutex
	cur  *conn
	subs map[string]*natsio.Subscription

	attempts atomic.Int32
	events   *link.EventQueue
	logger   link.Logger
}

// NewClient creates a NATS client for the configured servers. It does not
// connect. logger may be nil.
func NewClient(endpoint config.EndpointConfig, tc config.TransportConfig, clientID string, logger link.Logger) *Client {
	return &Client{
		urls:     serverURLs(endpoint),
		clientID: clientID,
		timeout:  time.Duration(endpoint.Timeout) * time.Second,
		tc:       tc,
		tls:      endpoint.TLS,
		subs:     make(map[string]*natsio.Subscription),
		events:   link.NewEventQueue(eventBufferSize, eventSendTimeout, logger),
		logger:   logger,
	}
}

// serverURLs builds one URL per host/port pair, in order.
func serverURLs(endpoint config.EndpointConfig) []string {
	scheme := "nats"
	if endpoint.TLS {
		scheme = "tls"
	}
	urls := make([]string, 0, len(endpoint.Hosts))
	for i, host := range endpoint.Hosts {
		urls = append(urls, fmt.Sprintf("%s://%s:%d", scheme, host, endpoint.Ports[i]))
	}
	return urls
}

// options builds the connection options for cn.
func (c *Client) options(cn *conn) []natsio.Option {
	opts := []natsio.Option{
		natsio.Name(c.clientID),
		natsio.DontRandomize(),
		natsio.PingInterval(pingInterval),
		natsio.MaxPingsOutstanding(maxPingsOut),
		natsio.DisconnectErrHandler(func(_ *natsio.Conn, err error) {
			if cn.closing.Load() {
				return
			}
			c.emit(link.Event{Kind: link.EventConnectionLost, Err: err})
		}),
		natsio.ReconnectHandler(func(nc *natsio.Conn) {
			c.attempts.Store(0)
			c.emit(link.Event{Kind: link.EventConnected, Reconnect: true, Broker: nc.ConnectedUrlRedacted()})
		}),
		natsio.ReconnectErrHandler(func(_ *natsio.Conn, err error) {
			if cn.closing.Load() {
				return
			}
			attempt := int(c.attempts.Add(1))
			c.logDebug("nats reconnect attempt failed", "attempt", attempt, "error", err)
			c.emit(link.Event{Kind: link.EventReconnecting, Attempt: attempt})
		}),
		natsio.ClosedHandler(func(_ *natsio.Conn) {
			if cn.closing.Load() || !c.tc.Reconnect.Enabled {
				return
			}
			c.emit(link.Event{Kind: link.EventGaveUp, Err: ErrGaveUp})
		}),
	}

	if c.timeout > 0 {
		opts = append(opts, natsio.Timeout(c.timeout))
	}
	if c.tc.Auth.Username != "" {
		opts = append(opts, natsio.UserInfo(c.tc.Auth.Username, c.tc.Auth.Password))
	}
	if c.tls {
		opts = append(opts, natsio.Secure())
	}

	if !c.tc.Reconnect.Enabled {
		opts = append(opts, natsio.NoReconnect())
		return opts
	}
	if c.tc.Reconnect.InitialDelay > 0 {
		opts = append(opts, natsio.ReconnectWait(time.Duration(c.tc.Reconnect.InitialDelay)*time.Second))
	}
	maxReconnects := -1
	if c.tc.Reconnect.MaxAttempts > 0 {
		maxReconnects = c.tc.Reconnect.MaxAttempts
	}
	opts = append(opts, natsio.MaxReconnects(maxReconnects))
	return opts
}

// Connect connects to the first reachable server.
func (c *Client) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c.mu.Lock()
	if c.cur != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	cn := &conn{}
	nc, err := natsio.Connect(strings.Join(c.urls, ","), c.options(cn)...)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	cn.nc = nc

	c.mu.Lock()
	c.cur = cn
	c.subs = make(map[string]*natsio.Subscription)
	c.mu.Unlock()

	c.attempts.Store(0)
	c.emit(link.Event{Kind: link.EventConnected, Broker: nc.ConnectedUrlRedacted()})
	return nil
}

// Subscribe subscribes to a topic filter and flushes so the server has
// processed the interest before returning. Subscribing to a filter that is
// already subscribed is a no-op.
func (c *Client) Subscribe(ctx context.Context, filter string) error {
	subject, err := subjectFromTopic(filter, true)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cur == nil {
		return ErrNotConnected
	}
	if sub, ok := c.subs[filter]; ok && sub.IsValid() {
		return nil
	}

	sub, err := c.cur.nc.Subscribe(subject, c.messageHandler())
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flushTimeout)
		defer cancel()
	}
	if err := c.cur.nc.FlushWithContext(ctx); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}
	c.subs[filter] = sub
	return nil
}

// Unsubscribe removes the subscriptions for filters.
func (c *Client) Unsubscribe(_ context.Context, filters ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cur == nil {
		return ErrNotConnected
	}
	var errs []error
	for _, f := range filters {
		sub, ok := c.subs[f]
		if !ok {
			continue
		}
		delete(c.subs, f)
		if err := sub.Unsubscribe(); err != nil {
			errs = append(errs, fmt.Errorf("nats unsubscribe %s: %w", f, err))
		}
	}
	return errors.Join(errs...)
}

// Publish sends payload on the subject for topic.
func (c *Client) Publish(topic string, payload []byte) error {
	subject, err := subjectFromTopic(topic, false)
	if err != nil {
		return err
	}

	c.mu.Lock()
	cn := c.cur
	c.mu.Unlock()
	if cn == nil || !cn.nc.IsConnected() {
		return ErrNotConnected
	}
	if err := cn.nc.Publish(subject, payload); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// Disconnect closes the connection without draining. It does not emit
// EventConnectionLost.
func (c *Client) Disconnect() {
	c.mu.Lock()
	cn := c.cur
	c.cur = nil
	c.subs = make(map[string]*natsio.Subscription)
	c.mu.Unlock()

	if cn == nil {
		return
	}
	cn.closing.Store(true)
	cn.nc.Close()
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

// IsConnected reports whether the client has a live connection.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur != nil && c.cur.nc.IsConnected()
}

func (c *Client) messageHandler() natsio.MsgHandler {
	return func(msg *natsio.Msg) {
		c.emit(link.Event{
			Kind:    link.EventMessage,
			Topic:   topicFromSubject(msg.Subject),
			Payload: msg.Data,
		})
	}
}

func (c *Client) emit(ev link.Event) {
	c.events.Push(ev)
}

func (c *Client) logDebug(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, args...)
	}
}
