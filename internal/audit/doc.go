// Package audit keeps a durable trail of alert transitions and control
// writes in the audit_logs SQLite table.
//
// A Recorder subscribes to ALERT_EVENT and CONTROL_ACTION on the event bus
// and writes one row per event; the ops API lists rows through the
// Repository. Rows older than the configured retention are pruned hourly.
package audit
