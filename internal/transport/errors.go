package transport

import (
	"errors"
	"fmt"
)

// Kind classifies a transport failure.
type Kind int

const (
	// Transient failures (timeout, bus busy) are worth retrying.
	Transient Kind = iota
	// Fatal failures (device removed, config mismatch) take the device offline
	// until restart.
	Fatal
)

// String returns the lowercase kind name.
func (k Kind) String() string {
	if k == Fatal {
		return "fatal"
	}
	return "transient"
}

// Error is a failed transport request.
type Error struct {
	Kind    Kind
	Unit    uint8
	Address uint16
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("transport: %s error unit=%d addr=%d: %v", e.Kind, e.Unit, e.Address, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Domain errors for the transport package.
var (
	// ErrTimeout is the cause of a request that got no answer in time.
	ErrTimeout = errors.New("transport: timeout")

	// ErrNoDevice is the cause when no device answers at a unit address.
	ErrNoDevice = errors.New("transport: no device at unit")

	// ErrIllegalAddress is the cause when a register range is not mapped on the device.
	ErrIllegalAddress = errors.New("transport: illegal data address")

	// ErrCircuitOpen is the cause when a device's breaker is rejecting requests.
	ErrCircuitOpen = errors.New("transport: circuit open")
)

// IsTransient reports whether err is a transient transport error.
func IsTransient(err error) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind == Transient
	}
	return false
}

// IsFatal reports whether err is a fatal transport error.
func IsFatal(err error) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind == Fatal
	}
	return false
}
