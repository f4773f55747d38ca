// Package relay connects the in-process event bus to the outside world.
//
// Outbound, a Relay subscribes to DEVICE_SNAPSHOT, ALERT_EVENT and
// CONTROL_ACTION and forwards each event to:
//   - MQTT: fieldcore/state/{device} (retained), fieldcore/alert/{device}/{code}
//     and fieldcore/control/{device}/{parameter}
//   - the historical sink (InfluxDB)
//   - WebSocket clients of the ops API
//
// Inbound, it listens on fieldcore/command/maintenance for
// {"snapshots_allowed": bool, "reason": "..."} and republishes it on the bus
// as SNAPSHOT_ALLOWED, which pauses the alert and control engines.
package relay
