package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method not allowed")
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/commands/{command}", func(r chi.Router) {
			r.Post("/", s.handleSend)
			r.Post("/query", s.handleQuery)
		})

		r.Get(s.wsPath(), s.handleWebSocket)
	})

	return r
}

func (s *Server) wsPath() string {
	if s.wsCfg.Path == "" {
		return "/ws"
	}
	return s.wsCfg.Path
}

// handleHealth reports the session state. It answers 503 until the session
// is subscribed.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	health := "ok"
	if err := s.session.HealthCheck(r.Context()); err != nil {
		status = http.StatusServiceUnavailable
		health = "degraded"
	}
	writeJSON(w, status, map[string]any{
		"status":            health,
		"version":           s.version,
		"state":             s.session.State().String(),
		"client_id":         s.session.ClientID(),
		"websocket_clients": s.hub.ClientCount(),
	})
}
