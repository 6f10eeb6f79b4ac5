// Package responder implements the device side of the link protocol: it
// answers command requests and publishes telemetry.
//
// Each request on {cmd_req}/{command} is dispatched to the handler registered
// for command. The handler's result is published on {cmd_resp}/ok/{command};
// an error is published as the JSON string "Core: <message>" on
// {cmd_resp}/err/{command}. A handler returning (nil, nil) sends no reply.
package responder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/nerrad567/devlink/internal/link"
)

// errorPrefix is prepended to error replies and pushed error strings.
const errorPrefix = "Core: "

// ErrUnknownCommand is reported for requests with no registered handler.
var ErrUnknownCommand = errors.New("unknown command")

// HandlerFunc handles one command request. value is the decoded request
// payload (true when the client sent no argument).
type HandlerFunc func(ctx context.Context, value any) (any, error)

// Options configures a Responder.
type Options struct {
	Transport link.Transport
	Topics    link.Topics
	Logger    link.Logger
}

// Responder serves command requests over a transport.
type Responder struct {
	transport link.Transport
	topics    link.Topics
	logger    link.Logger

	mu       sync.RWMutex
	handlers map[string]HandlerFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Responder. Register handlers with Handle before Start.
func New(opts Options) (*Responder, error) {
	if opts.Transport == nil {
		return nil, errors.New("responder: transport is required")
	}
	if err := opts.Topics.Validate(); err != nil {
		return nil, fmt.Errorf("responder: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = discard{}
	}
	return &Responder{
		transport: opts.Transport,
		topics:    opts.Topics,
		logger:    logger,
		handlers:  make(map[string]HandlerFunc),
	}, nil
}

// Handle registers h for command, replacing any previous handler.
func (r *Responder) Handle(command string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[command] = h
}

// Start connects, subscribes to the request filter and serves requests until
// ctx is cancelled or Stop is called.
func (r *Responder) Start(ctx context.Context) error {
	if err := r.transport.Connect(ctx); err != nil {
		return fmt.Errorf("responder: connecting: %w", err)
	}
	if err := r.transport.Subscribe(ctx, r.topics.RequestFilter()); err != nil {
		r.transport.Disconnect()
		return fmt.Errorf("responder: subscribing to %s: %w", r.topics.RequestFilter(), err)
	}

	r.ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go r.run()

	r.logger.Info("responder started", "filter", r.topics.RequestFilter())
	return nil
}

// Stop stops serving and disconnects the transport.
func (r *Responder) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	r.wg.Wait()
	r.transport.Disconnect()
	r.logger.Info("responder stopped")
}

func (r *Responder) run() {
	defer r.wg.Done()

	events := r.transport.Events()
	for {
		select {
		case <-r.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Kind {
			case link.EventMessage:
				r.dispatch(ev.Topic, ev.Payload)
			case link.EventConnected:
				if ev.Reconnect {
					if err := r.transport.Subscribe(r.ctx, r.topics.RequestFilter()); err != nil {
						r.logger.Error("re-subscribing after reconnect failed", "error", err)
					}
				}
			case link.EventConnectionLost:
				r.logger.Warn("connection lost", "error", ev.Err)
			}
		}
	}
}

// dispatch serves one request. Requests are handled sequentially in arrival
// order.
func (r *Responder) dispatch(topic string, payload []byte) {
	command, ok := strings.CutPrefix(topic, r.topics.Request+"/")
	if !ok || command == "" || strings.Contains(command, "/") {
		r.logger.Debug("ignoring message on unexpected topic", "topic", topic)
		return
	}

	value, err := link.DecodePayload(payload)
	if err != nil {
		r.replyError(command, fmt.Errorf("invalid request payload: %w", err))
		return
	}

	r.mu.RLock()
	h, found := r.handlers[command]
	r.mu.RUnlock()
	if !found {
		r.replyError(command, fmt.Errorf("%w: %s", ErrUnknownCommand, command))
		return
	}

	result, err := r.call(h, value)
	if err != nil {
		r.replyError(command, err)
		return
	}
	if result == nil {
		return
	}

	data, err := encode(result)
	if err != nil {
		r.replyError(command, err)
		return
	}
	if err := r.transport.Publish(r.topics.CommandResponse(command, true), data); err != nil {
		r.logger.Error("publishing response failed", "command", command, "error", err)
	}
}

// call runs h, converting a panic into an error reply.
func (r *Responder) call(h HandlerFunc, value any) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("panic in command handler", "panic", fmt.Sprintf("%v", rec))
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return h(r.ctx, value)
}

func (r *Responder) replyError(command string, cause error) {
	r.logger.Warn("command failed", "command", command, "error", cause)
	data, err := json.Marshal(errorPrefix + cause.Error())
	if err != nil {
		return
	}
	if err := r.transport.Publish(r.topics.CommandResponse(command, false), data); err != nil {
		r.logger.Error("publishing error response failed", "command", command, "error", err)
	}
}

// PushTelemetry publishes value on the telemetry topic for key.
func (r *Responder) PushTelemetry(key string, value any) error {
	if key == "" {
		return link.ErrInvalidKey
	}
	data, err := encode(value)
	if err != nil {
		return fmt.Errorf("telemetry %s: %w", key, err)
	}
	return r.PushRaw(key, data)
}

// PushRaw publishes an already encoded payload on the telemetry topic for key.
// It allows payloads that are not strict JSON, such as bare NaN readings.
func (r *Responder) PushRaw(key string, payload []byte) error {
	if key == "" {
		return link.ErrInvalidKey
	}
	if err := r.transport.Publish(r.topics.Telemetry(key), payload); err != nil {
		return fmt.Errorf("telemetry %s: %w", key, err)
	}
	return nil
}

// PushError publishes msg, prefixed like error replies, on the errors topic.
func (r *Responder) PushError(msg string) error {
	data, err := json.Marshal(errorPrefix + msg)
	if err != nil {
		return err
	}
	return r.transport.Publish(r.topics.TelemetryErrors(), data)
}

func encode(v any) ([]byte, error) {
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding result: %w", err)
	}
	return data, nil
}

type discard struct{}

func (discard) Debug(string, ...any) {}
func (discard) Info(string, ...any)  {}
func (discard) Warn(string, ...any)  {}
func (discard) Error(string, ...any) {}
