// Package api implements the HTTP and WebSocket gateway for devlink.
//
// This package provides:
//   - REST endpoints that run command queries and fire-and-forget sends
//     against the device session
//   - A WebSocket hub relaying telemetry and link lifecycle events
//   - Middleware stack (request ID, logging, recovery, body size limit)
//
// # Endpoints
//
//	GET  /api/v1/health                      session state and client identity
//	POST /api/v1/commands/{command}/query    query, body is the JSON argument
//	POST /api/v1/commands/{command}          send without waiting (202)
//	GET  /api/v1/ws                          WebSocket relay
//
// Query results map to status codes: 200 on an ok response, 502 when the
// device answered on the err topic, 504 when no answer arrived in time and
// 503 while the session is not ready.
//
// # WebSocket channels
//
//   - telemetry.{key}: every telemetry value published under key
//   - link.connected, link.connection_lost: session lifecycle
package api
