package link

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for link operations.
var (
	// ErrNotConnected is returned by transports when an operation needs a live connection.
	ErrNotConnected = errors.New("link: not connected")

	// ErrNotReady is returned by HealthCheck when the session is not subscribed.
	ErrNotReady = errors.New("link: session not ready")

	// ErrConnectionFailed wraps transport connect failures.
	ErrConnectionFailed = errors.New("link: connection failed")

	// ErrClosed is returned after Close has been called.
	ErrClosed = errors.New("link: session closed")

	// ErrInvalidCommand is returned for empty command names.
	ErrInvalidCommand = errors.New("link: invalid command name")

	// ErrInvalidKey is returned for empty telemetry keys.
	ErrInvalidKey = errors.New("link: invalid telemetry key")

	// ErrTimeout matches every *TimeoutError via errors.Is.
	ErrTimeout = errors.New("link: query timed out")

	// ErrRemoteFailure matches every *RemoteError via errors.Is.
	ErrRemoteFailure = errors.New("link: remote command failed")

	// ErrSubscribeFailed matches every *SubscribeError via errors.Is.
	ErrSubscribeFailed = errors.New("link: subscribe failed")
)

// SubscribeError reports a topic filter the broker refused.
type SubscribeError struct {
	Filter string
	Err    error
}

func (e *SubscribeError) Error() string {
	return fmt.Sprintf("link: subscribing to %q: %v", e.Filter, e.Err)
}

func (e *SubscribeError) Unwrap() error { return e.Err }

func (e *SubscribeError) Is(target error) bool { return target == ErrSubscribeFailed }

// TimeoutError is returned by Query when no response arrived in time.
type TimeoutError struct {
	Command string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("link: query %q timed out after %s", e.Command, e.Timeout)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// RemoteError is returned by Query when the device answered on the err topic.
// Value holds the decoded error payload.
type RemoteError struct {
	Command string
	Value   any
}

func (e *RemoteError) Error() string {
	if s, ok := e.Value.(string); ok {
		return fmt.Sprintf("link: command %q failed: %s", e.Command, s)
	}
	return fmt.Sprintf("link: command %q failed: %v", e.Command, e.Value)
}

func (e *RemoteError) Is(target error) bool { return target == ErrRemoteFailure }
