package eventbus

import "errors"

// Domain errors for the event bus.
var (
	// ErrClosed is returned when publishing to or subscribing on a closed bus.
	ErrClosed = errors.New("eventbus: closed")

	// ErrNoTopics is returned when subscribing without any topic.
	ErrNoTopics = errors.New("eventbus: no topics")

	// ErrInvalidPolicy is returned for an unknown overflow policy.
	ErrInvalidPolicy = errors.New("eventbus: invalid overflow policy")
)
