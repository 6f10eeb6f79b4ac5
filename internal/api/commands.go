package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/devlink/internal/link"
)

// QueryResponse is the body of a successful query.
type QueryResponse struct {
	Command    string `json:"command"`
	Value      any    `json:"value"`
	DurationMS int64  `json:"duration_ms"`
}

// handleQuery runs a correlated query. The request body, if any, is the JSON
// argument; an optional ?timeout= duration shortens the session timeout.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	command := chi.URLParam(r, "command")
	value, ok := readValue(w, r)
	if !ok {
		return
	}

	if st := s.session.State(); st != link.StateReady {
		writeNotReady(w, "session is "+st.String())
		return
	}

	ctx := r.Context()
	if raw := r.URL.Query().Get("timeout"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeBadRequest(w, "invalid timeout: "+raw)
			return
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	start := time.Now()
	result, err := s.session.Query(ctx, command, value)
	if err != nil {
		s.writeQueryError(w, r, command, err)
		return
	}

	writeJSON(w, http.StatusOK, QueryResponse{
		Command:    command,
		Value:      result,
		DurationMS: time.Since(start).Milliseconds(),
	})
}

// handleSend publishes a request without waiting for the response.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	command := chi.URLParam(r, "command")
	value, ok := readValue(w, r)
	if !ok {
		return
	}

	if st := s.session.State(); st != link.StateReady {
		writeNotReady(w, "session is "+st.String())
		return
	}

	if err := s.session.Send(command, value); err != nil {
		s.writeQueryError(w, r, command, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"command": command,
		"status":  "sent",
	})
}

func (s *Server) writeQueryError(w http.ResponseWriter, r *http.Request, command string, err error) {
	var remote *link.RemoteError
	switch {
	case errors.As(err, &remote):
		writeJSON(w, http.StatusBadGateway, Error{
			Status:  http.StatusBadGateway,
			Code:    ErrCodeRemote,
			Message: "device reported an error for " + command,
			Detail:  remote.Value,
		})
	case errors.Is(err, link.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, ErrCodeTimeout, "no response to "+command)
	case errors.Is(err, link.ErrInvalidCommand):
		writeBadRequest(w, err.Error())
	case errors.Is(err, link.ErrNotConnected), errors.Is(err, link.ErrClosed):
		writeNotReady(w, err.Error())
	default:
		s.logger.Error("command failed",
			"command", command,
			"error", err,
			"request_id", requestID(r.Context()),
		)
		writeInternalError(w, "command failed")
	}
}

// readValue decodes the optional JSON request body. An empty body yields nil,
// which the session sends as true.
func readValue(w http.ResponseWriter, r *http.Request) (any, bool) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "reading request body: "+err.Error())
		return nil, false
	}
	if len(data) == 0 {
		return nil, true
	}
	if !json.Valid(data) {
		writeBadRequest(w, "request body is not valid JSON")
		return nil, false
	}
	return json.RawMessage(data), true
}
