// Package server exposes a running dashboard session read-only over HTTP,
// so a plan or apply can be watched from another machine while the TUI
// owns the local terminal.
//
// # Endpoints
//
//   - POST /api/login - exchange the share password for a session token
//   - GET /api/state - latest state snapshot as JSON
//   - GET /api/events - SSE stream: latest snapshot, then live updates
//   - GET /api/runs - recorded runs from the history store
//   - GET /api/runs/{id}/events - one run's raw event log as NDJSON
//   - GET /metrics - prometheus metrics
//   - GET / - embedded status page
//
// # Authentication
//
// With a password configured (argon2id hash in the server config), the
// /api endpoints other than login require a bearer session token; login
// is rate limited per client IP. Without one the server is open, which is
// the right default for sharing on localhost.
package server
