// Package httpserver serves the daemon's local HTTP endpoints.
//
//   - GET /health: liveness
//   - GET /ready: 503 while the engine runs on a fallback tier
//   - GET /metrics: Prometheus exposition
//   - GET /v1/status: storage, scheduler and build information
//
// The listen address is host:port, or UnixPrefix and a socket path for
// local-only access.
//
// Every route runs behind RequestID, Recover and AccessLog.
package httpserver
