package transport

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig bounds the retries of transient failures.
type RetryConfig struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration

	// AttemptTimeout bounds each attempt. Zero leaves the caller's deadline alone.
	AttemptTimeout time.Duration
}

// Retrying retries transient failures with exponential backoff. Fatal
// failures are returned at once.
type Retrying struct {
	next   Transport
	cfg    RetryConfig
	logger Logger
}

// NewRetrying wraps next with bounded exponential retries.
func NewRetrying(next Transport, cfg RetryConfig) *Retrying {
	return &Retrying{next: next, cfg: cfg, logger: noopLogger{}}
}

// SetLogger sets the logger used to report retries.
func (r *Retrying) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

func (r *Retrying) policy(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	if r.cfg.InitialInterval > 0 {
		bo.InitialInterval = r.cfg.InitialInterval
	}
	if r.cfg.MaxInterval > 0 {
		bo.MaxInterval = r.cfg.MaxInterval
	}
	bo.MaxElapsedTime = 0 // bounded by retry count instead
	return backoff.WithContext(backoff.WithMaxRetries(bo, r.cfg.MaxRetries), ctx)
}

func (r *Retrying) attemptCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.cfg.AttemptTimeout > 0 {
		return context.WithTimeout(ctx, r.cfg.AttemptTimeout)
	}
	return ctx, func() {}
}

// permanentUnlessTransient stops the retry loop for anything but a
// transient transport error.
func permanentUnlessTransient(err error) error {
	if err == nil || IsTransient(err) {
		return err
	}
	return backoff.Permanent(err)
}

// Read retries transient read failures.
func (r *Retrying) Read(ctx context.Context, req Request) ([]uint16, error) {
	op := func() ([]uint16, error) {
		actx, cancel := r.attemptCtx(ctx)
		defer cancel()
		words, err := r.next.Read(actx, req)
		return words, permanentUnlessTransient(classify(err, req.Unit, req.Address))
	}
	notify := func(err error, wait time.Duration) {
		r.logger.Debug("retrying read", "unit", req.Unit, "address", req.Address, "wait", wait, "error", err)
	}
	return backoff.RetryNotifyWithData(op, r.policy(ctx), notify)
}

// Write retries transient write failures.
func (r *Retrying) Write(ctx context.Context, unit uint8, address uint16, words []uint16) error {
	op := func() error {
		actx, cancel := r.attemptCtx(ctx)
		defer cancel()
		return permanentUnlessTransient(classify(r.next.Write(actx, unit, address, words), unit, address))
	}
	notify := func(err error, wait time.Duration) {
		r.logger.Debug("retrying write", "unit", unit, "address", address, "wait", wait, "error", err)
	}
	return backoff.RetryNotify(op, r.policy(ctx), notify)
}
