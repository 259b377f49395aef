// Package api implements the HTTP REST API and WebSocket server for the DCT bridge.
//
// This package provides:
//   - Read endpoints for the device state, the variable projection,
//     feedback conditions and buffer choices
//   - POST /api/v1/actions/{action}, running the same action table as MQTT
//     commands, with an optional rate limit
//   - The command journal, paged and filtered by kind
//   - A WebSocket hub streaming variables (and optionally full state)
//   - Prometheus metrics on /metrics
//
// # Status Codes
//
// Accepted actions answer 202. Locally refused actions answer 409, bad
// parameters 400, unknown actions 404, an unreachable device 503 and a
// tripped rate limit 429. Error bodies are {status, code, message}.
//
// # Graceful Degradation
//
// The journal and database are optional; without them the related
// endpoints answer 503 and everything else keeps working.
package api
