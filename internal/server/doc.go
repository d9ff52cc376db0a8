// Package server exposes device events and metrics over HTTP.
//
// Routes:
//   - /events: websocket stream of discovery and device events
//   - /metrics: Prometheus metrics (when a gatherer is configured)
//   - /devices: JSON list of known devices
//   - /healthz: liveness probe
//
// # Event Stream
//
// Every event is sent as a JSON text frame:
//
//	{"type":"event","event_type":"power-on","timestamp":"...","payload":{...device snapshot...}}
//
// Clients receive every event until they subscribe to specific ones:
//
//	{"type":"subscribe","payload":{"events":["offline","in-use"]}}
//
// Slow clients have messages dropped rather than blocking discovery.
package server
