package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/devlink/internal/infrastructure/config"
	"github.com/nerrad567/devlink/internal/infrastructure/logging"
	"github.com/nerrad567/devlink/internal/link"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Logger  *logging.Logger
	Session *link.Session
	Version string
}

// Server is the HTTP gateway in front of a link session.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
type Server struct {
	cfg     config.APIConfig
	wsCfg   config.WebSocketConfig
	logger  *logging.Logger
	session *link.Session
	version string

	server   *http.Server
	listener net.Listener
	hub      *Hub
	cancel   context.CancelFunc
	done     chan struct{}

	// relays holds the telemetry callbacks feeding WebSocket channels,
	// registered on first subscription to a key.
	relayMu sync.Mutex
	relays  map[string]link.Handle
	hooks   []link.Handle
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Session == nil {
		return nil, fmt.Errorf("link session is required")
	}

	s := &Server{
		cfg:     deps.Config,
		wsCfg:   deps.WS,
		logger:  deps.Logger,
		session: deps.Session,
		version: deps.Version,
		relays:  make(map[string]link.Handle),
	}
	s.hub = NewHub(s.wsCfg, s.logger, s.ensureRelays)
	return s, nil
}

// Start binds the listener, registers lifecycle relays and serves HTTP in a
// background goroutine. The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	s.relayMu.Lock()
	s.hooks = append(s.hooks,
		s.session.OnConnected(func() {
			s.hub.Broadcast(ChannelConnected, map[string]any{"client_id": s.session.ClientID()})
		}),
		s.session.OnConnectionLost(func() {
			s.hub.Broadcast(ChannelConnectionLost, map[string]any{"client_id": s.session.ClientID()})
		}),
	)
	s.relayMu.Unlock()

	s.listener = ln
	s.done = make(chan struct{})
	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	s.logger.Info("API server starting", "address", ln.Addr().String())
	go func() {
		defer close(s.done)
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server and removes its session callbacks.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}
	s.removeRelays()

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	<-s.done
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}

// ensureRelays registers a telemetry relay for every telemetry.{key} channel
// not yet relayed.
func (s *Server) ensureRelays(channels []string) {
	s.relayMu.Lock()
	defer s.relayMu.Unlock()

	for _, ch := range channels {
		key, ok := telemetryKey(ch)
		if !ok {
			continue
		}
		if _, exists := s.relays[key]; exists {
			continue
		}
		channel := ch
		s.relays[key] = s.session.OnTelemetry(key, func(v any) {
			s.hub.Broadcast(channel, v)
		})
		s.logger.Debug("relaying telemetry to websocket", "key", key)
	}
}

func (s *Server) removeRelays() {
	s.relayMu.Lock()
	defer s.relayMu.Unlock()

	for key, h := range s.relays {
		s.session.RemoveTelemetry(key, h)
	}
	for _, h := range s.hooks {
		s.session.RemoveHook(h)
	}
	clear(s.relays)
	s.hooks = nil
}
