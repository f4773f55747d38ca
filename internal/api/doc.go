// Package api implements the ops HTTP server for the field bus core.
//
// It serves:
//   - /healthz with per-component infrastructure checks
//   - /metrics (Prometheus exposition) when a collector is wired
//   - read-only plant state under /api/v1: devices, alerts, locks, decisions, audit
//   - a WebSocket event stream fed by the relay
//
// # Security
//
// Every /api/v1 route except /ws requires an HS256 bearer token signed with
// security.jwt.secret (see package auth). The token's role gates each route:
// state reads need state:read, /audit needs audit:read and /system needs
// system:read.
// WebSocket connections use single-use tickets from POST /api/v1/ws-ticket so
// the token never appears in a URL.
//
// # Event stream
//
// A client sends {"type":"subscribe","channels":[...],"devices":[...]} to
// select relay channels (device.snapshot, alert.event, control.action,
// maintenance.changed) and optionally narrow them to devices. Event frames
// carry a per-hub sequence number; frames for a client whose queue is full
// are dropped and counted in /api/v1/system.
//
// The API is read-only. Writes to devices happen only through the control
// engine.
package api
