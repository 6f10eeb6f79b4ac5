package mqtt

import (
	"context"
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// subackFailure is the SUBACK return code for a refused subscription.
const subackFailure = 0x80

// Subscribe subscribes to a topic filter and waits for the SUBACK.
//
// Topics can include MQTT wildcards:
//   - + (single-level): "data/picalor/core/+" matches every telemetry key
//   - # (multi-level): "cmd/#" matches everything under cmd
//
// Matching messages are delivered on Events as link.EventMessage.
//
// Returns:
//   - error: wraps ErrSubscriptionRefused when the broker rejected the
//     filter, ErrSubscribeFailed for other failures
func (c *Client) Subscribe(ctx context.Context, filter string) error {
	if err := validateFilter(filter); err != nil {
		return err
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Subscribe(filter, c.qos, c.messageHandler())
	if err := waitToken(ctx, token); err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	if st, ok := token.(*pahomqtt.SubscribeToken); ok {
		if code, found := st.Result()[filter]; found && code == subackFailure {
			return fmt.Errorf("%w: %q", ErrSubscriptionRefused, filter)
		}
	}
	return nil
}

// Unsubscribe removes subscriptions for the given filters.
//
// Returns:
//   - error: ErrNotConnected when there is no connection, which callers
//     tearing down a session can ignore
func (c *Client) Unsubscribe(ctx context.Context, filters ...string) error {
	if len(filters) == 0 {
		return nil
	}
	for _, f := range filters {
		if err := validateFilter(f); err != nil {
			return err
		}
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Unsubscribe(filters...)
	if err := waitToken(ctx, token); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
	}
	return nil
}
