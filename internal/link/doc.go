// Package link implements the command/response and telemetry protocol that
// devlink speaks with a device over a publish/subscribe transport.
//
// The transport offers no request/response concept. link layers one on top
// using three topic namespaces:
//
//	{cmd_req}/{command}          request, payload is the JSON argument
//	{cmd_resp}/ok/{command}      successful reply
//	{cmd_resp}/err/{command}     failed reply
//	{data}/{key}                 telemetry stream
//
// # Architecture
//
// A Session owns a Transport and consumes its Events channel on a single
// dispatch goroutine:
//
//	Transport.Events() ──► dispatch loop ──► router ──┬──► pending queries (FIFO per command)
//	                                                  ├──► command response callbacks
//	                                                  └──► telemetry callbacks
//
// Lifecycle events (connected, connection lost, reconnecting, gave up) are
// delivered on the same goroutine, so callbacks for a key always observe
// messages in transport delivery order.
//
// # Correlation
//
// The wire protocol carries no per-call identifier, only the command name.
// Concurrent queries for the same command are resolved oldest first, one
// response per query. Callers that need strict correlation must not overlap
// queries for the same command.
//
// # Usage
//
//	sess, err := link.New(link.Options{
//	    Transport: mqttClient,
//	    Topics:    link.Topics{Data: "data/picalor/core", Request: "cmd/picalor/core/req", Response: "cmd/picalor/core/resp"},
//	    Timeout:   15 * time.Second,
//	    Logger:    logger,
//	})
//	if err := sess.Connect(ctx); err != nil {
//	    return err
//	}
//	defer sess.Close()
//
//	sess.OnTelemetry("results", func(v any) { ... })
//	cfg, err := sess.Query(ctx, "get__config", nil)
//
// # Thread Safety
//
// All Session methods are safe for concurrent use. Callbacks run on the
// dispatch goroutine and should return quickly.
package link
