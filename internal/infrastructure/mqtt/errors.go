package mqtt

import (
	"errors"
	"fmt"

	"github.com/nerrad567/devlink/internal/link"
)

// Domain-specific errors for MQTT operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when attempting operations on a disconnected client.
	// It matches link.ErrNotConnected.
	ErrNotConnected = fmt.Errorf("mqtt: %w", link.ErrNotConnected)

	// ErrConnectionFailed is returned when the initial connection attempt fails.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrPublishFailed is returned when a publish operation fails.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed is returned when a subscribe operation fails.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrSubscriptionRefused is returned when the broker answers a SUBSCRIBE
	// with the 0x80 failure code, usually an ACL denial.
	ErrSubscriptionRefused = errors.New("mqtt: subscription refused by broker")

	// ErrUnsubscribeFailed is returned when an unsubscribe operation fails.
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	// ErrInvalidTopic is returned for empty topics or misplaced wildcards.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")

	// ErrGaveUp is carried by link.EventGaveUp when the reconnect limit is reached.
	ErrGaveUp = errors.New("mqtt: reconnect attempts exhausted")
)
