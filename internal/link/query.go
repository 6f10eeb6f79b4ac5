package link

import (
	"context"
	"fmt"
	"time"
)

type queryResult struct {
	value any
	ok    bool
}

// pendingQuery is one in-flight Query waiting for its response.
type pendingQuery struct {
	result chan queryResult
}

// Query publishes value on the request topic for command and waits for the
// correlated response. A nil value is sent as JSON true.
//
// It returns the decoded response value, a *RemoteError when the device
// answered on the err topic, a *TimeoutError when no response arrived within
// the session timeout, ctx.Err() wrapped when ctx ends first, or ErrClosed
// when the session is closed while waiting. Query may be called from inside
// any session callback.
func (s *Session) Query(ctx context.Context, command string, value any) (any, error) {
	if command == "" {
		return nil, ErrInvalidCommand
	}
	if s.isClosed() {
		return nil, ErrClosed
	}

	payload, err := EncodeValue(value)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", command, err)
	}

	// Register before publishing so a fast reply cannot be missed.
	pq := s.addPending(command)
	if err := s.transport.Publish(s.topics.CommandRequest(command), payload); err != nil {
		s.removePending(command, pq)
		return nil, fmt.Errorf("query %s: publishing request: %w", command, err)
	}

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case res := <-pq.result:
		return queryOutcome(command, res)
	case <-timer.C:
		if !s.removePending(command, pq) {
			// Resolved concurrently with the timer; the result is buffered.
			return queryOutcome(command, <-pq.result)
		}
		s.logger.Warn("query timed out", "command", command, "timeout", s.timeout)
		return nil, &TimeoutError{Command: command, Timeout: s.timeout}
	case <-ctx.Done():
		if !s.removePending(command, pq) {
			return queryOutcome(command, <-pq.result)
		}
		return nil, fmt.Errorf("query %s: %w", command, ctx.Err())
	case <-s.done:
		if !s.removePending(command, pq) {
			return queryOutcome(command, <-pq.result)
		}
		return nil, ErrClosed
	}
}

func queryOutcome(command string, res queryResult) (any, error) {
	if !res.ok {
		return nil, &RemoteError{Command: command, Value: res.value}
	}
	return res.value, nil
}

// Send publishes value on the request topic for command without waiting for
// a response. A nil value is sent as JSON true.
func (s *Session) Send(command string, value any) error {
	if command == "" {
		return ErrInvalidCommand
	}
	if s.isClosed() {
		return ErrClosed
	}
	payload, err := EncodeValue(value)
	if err != nil {
		return fmt.Errorf("send %s: %w", command, err)
	}
	if err := s.transport.Publish(s.topics.CommandRequest(command), payload); err != nil {
		return fmt.Errorf("send %s: %w", command, err)
	}
	return nil
}

// PendingQueries returns the number of in-flight queries for command.
func (s *Session) PendingQueries(command string) int {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	return len(s.pending[command])
}

func (s *Session) addPending(command string) *pendingQuery {
	pq := &pendingQuery{result: make(chan queryResult, 1)}
	s.pendingMu.Lock()
	s.pending[command] = append(s.pending[command], pq)
	s.pendingMu.Unlock()
	return pq
}

// removePending reports whether pq was still waiting.
func (s *Session) removePending(command string, pq *pendingQuery) bool {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	queue := s.pending[command]
	for i, p := range queue {
		if p != pq {
			continue
		}
		queue = append(queue[:i:i], queue[i+1:]...)
		if len(queue) == 0 {
			delete(s.pending, command)
		} else {
			s.pending[command] = queue
		}
		return true
	}
	return false
}

// resolveOldest hands a response to the oldest waiting query for command.
// The result is sent while holding the lock so removePending never observes
// a query that was dequeued but not yet resolved.
func (s *Session) resolveOldest(command string, value any, ok bool) bool {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	queue := s.pending[command]
	if len(queue) == 0 {
		return false
	}
	pq := queue[0]
	if len(queue) == 1 {
		delete(s.pending, command)
	} else {
		s.pending[command] = queue[1:]
	}
	pq.result <- queryResult{value: value, ok: ok}
	return true
}
