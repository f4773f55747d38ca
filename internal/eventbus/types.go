package eventbus

import (
	"context"
	"fmt"
	"time"
)

// Topic names a stream of events.
type Topic string

// Core topics.
const (
	TopicDeviceSnapshot  Topic = "DEVICE_SNAPSHOT"
	TopicAlertEvent      Topic = "ALERT_EVENT"
	TopicControlAction   Topic = "CONTROL_ACTION"
	TopicSnapshotAllowed Topic = "SNAPSHOT_ALLOWED"
)

// Event is one published message. Payloads are shared between subscribers
// and must be treated as read-only.
type Event struct {
	ID      string    `json:"id"`
	Topic   Topic     `json:"topic"`
	Time    time.Time `json:"time"`
	Payload any       `json:"payload"`
}

// Handler consumes events for one subscriber. A returned error is logged;
// a panic is recovered and logged. Neither stops delivery.
type Handler func(ctx context.Context, ev Event) error

// OverflowPolicy decides what Publish does when a subscriber queue is full.
type OverflowPolicy string

// Overflow policies.
const (
	// DropOldest discards the oldest queued event to make room.
	DropOldest OverflowPolicy = "drop_oldest"
	// Block makes the publisher wait for room.
	Block OverflowPolicy = "block"
)

// Valid reports whether the policy is known.
func (p OverflowPolicy) Valid() bool {
	return p == DropOldest || p == Block
}

// ParsePolicy converts a config string into a policy. Empty means DropOldest.
func ParsePolicy(s string) (OverflowPolicy, error) {
	if s == "" {
		return DropOldest, nil
	}
	p := OverflowPolicy(s)
	if !p.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidPolicy, s)
	}
	return p, nil
}

// SnapshotAllowed is the payload of TopicSnapshotAllowed.
type SnapshotAllowed struct {
	Allowed bool   `json:"snapshots_allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Metrics receives per-subscriber delivery signals.
type Metrics interface {
	EventPublished(topic string)
	EventDelivered(subscriber string)
	EventDropped(subscriber string)
	SubscriberPanic(subscriber string)
	QueueDepth(subscriber string, depth int)
}

type noopMetrics struct{}

func (noopMetrics) EventPublished(string)  {}
func (noopMetrics) EventDelivered(string)  {}
func (noopMetrics) EventDropped(string)    {}
func (noopMetrics) SubscriberPanic(string) {}
func (noopMetrics) QueueDepth(string, int) {}

// Logger defines the logging interface used by the bus.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
