package transport

import (
	"context"
	"errors"
)

// Request describes one raw register read.
type Request struct {
	Unit    uint8  // bus address of the device
	Address uint16 // first register
	Count   uint16 // number of 16-bit registers
}

// Transport is the raw fieldbus capability. Framing, parity and checksums
// belong to implementations.
//
// Both calls honour the context deadline as the request timeout. Failures are
// returned as *Error so callers can tell transient from fatal.
type Transport interface {
	Read(ctx context.Context, req Request) ([]uint16, error)
	Write(ctx context.Context, unit uint8, address uint16, words []uint16) error
}

// Logger defines the logging interface used by the transport decorators.
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

// classify converts a context expiry into a transient *Error and passes
// everything else through.
func classify(err error, unit uint8, address uint16) error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: Transient, Unit: unit, Address: address, Err: ErrTimeout}
	}
	return err
}
