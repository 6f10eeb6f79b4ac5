// Package nats binds link.Transport to a NATS server.
//
// Topics map onto NATS subjects level by level:
//
//	data/picalor/core/results   ⇄  data.picalor.core.results
//	cmd/picalor/core/resp/+/+    →  cmd.picalor.core.resp.*.*
//	cmd/#                        →  cmd.>
//
// Topic levels therefore must not contain '.', '*', '>' or whitespace.
//
// Candidate servers are tried in configured order. The NATS client restores
// its own subscriptions after a reconnect, so Subscribe is idempotent per
// filter and the session's re-subscription on EventConnected is a no-op.
package nats
