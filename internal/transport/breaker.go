package transport

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerConfig configures a per-device circuit breaker.
type BreakerConfig struct {
	// ConsecutiveFailures trips the breaker.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before a probe.
	OpenTimeout time.Duration
	// Interval clears the failure counts while closed. Zero never clears.
	Interval time.Duration
}

// Breaker isolates one misbehaving device: after enough consecutive
// failures its requests fail fast with a transient ErrCircuitOpen until the
// breaker half-opens, so a dead device stops eating bus time.
type Breaker struct {
	next   Transport
	cb     *gobreaker.CircuitBreaker
	logger Logger
}

// NewBreaker wraps next with a breaker named after the device.
func NewBreaker(name string, next Transport, cfg BreakerConfig) *Breaker {
	b := &Breaker{next: next, logger: noopLogger{}}
	failures := cfg.ConsecutiveFailures
	if failures == 0 {
		failures = 1
	}
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     name,
		Interval: cfg.Interval,
		Timeout:  cfg.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			// Only bus-level failures count against the device.
			return err == nil || !(IsTransient(err) || IsFatal(err))
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.logger.Warn("device breaker state changed", "device_id", name, "from", from.String(), "to", to.String())
		},
	})
	return b
}

// SetLogger sets the logger used for breaker state changes.
func (b *Breaker) SetLogger(logger Logger) {
	if logger != nil {
		b.logger = logger
	}
}

// State returns the breaker state name (closed, half-open, open).
func (b *Breaker) State() string {
	return b.cb.State().String()
}

// Read passes the read through the breaker.
func (b *Breaker) Read(ctx context.Context, req Request) ([]uint16, error) {
	out, err := b.cb.Execute(func() (any, error) {
		return b.next.Read(ctx, req)
	})
	if err != nil {
		return nil, b.mapErr(err, req.Unit, req.Address)
	}
	words, _ := out.([]uint16)
	return words, nil
}

// Write passes the write through the breaker.
func (b *Breaker) Write(ctx context.Context, unit uint8, address uint16, words []uint16) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, b.next.Write(ctx, unit, address, words)
	})
	return b.mapErr(err, unit, address)
}

func (b *Breaker) mapErr(err error, unit uint8, address uint16) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &Error{Kind: Transient, Unit: unit, Address: address, Err: ErrCircuitOpen}
	}
	return err
}
