// Package alert runs alert rules against device snapshots and keeps one
// state machine per (device, alert code).
//
//	          true                 true, confirm elapsed
//	NORMAL ─────────► TRIGGERED ─────────────────────────► ACTIVE
//	  ▲                  │ false                             │ false
//	  │ next cycle       ▼                                   │
//	  └───────────── RESOLVED ◄──────────────────────────────┘
//
// A notification (ALERT_EVENT on the bus) is emitted once per run, at
// TRIGGERED or ACTIVE per rule, and once on RESOLVED for a run that was
// notified. Delivery to people is somebody else's job; the engine never
// blocks on it.
//
// Rules are declared per device model and may be overridden per device
// instance by code (see Merge). States are persisted to SQLite so a restart
// resumes runs rather than re-notifying them.
package alert
