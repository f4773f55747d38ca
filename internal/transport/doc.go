// Package transport provides the raw fieldbus request contract and the
// decorators that make it safe to share.
//
// A device's transport is composed outermost first:
//
//	Breaker (per device) ──► Retrying (per device) ──► Segment (shared token) ──► wire
//
// Segment guarantees one in-flight request per physical bus segment. Retrying
// retries transient failures with bounded exponential backoff and releases
// the segment between attempts. Breaker fails fast for a device that keeps
// failing.
//
// Wire framing is not implemented here; Simulator stands in for the wire in
// tests and in simulator mode.
package transport
