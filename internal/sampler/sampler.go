package sampler

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/fieldbus-core/internal/device"
	"github.com/nerrad567/fieldbus-core/internal/eventbus"
	"github.com/nerrad567/fieldbus-core/internal/transport"
)

// Default configuration values.
const (
	DefaultPeriod = 5 * time.Second
)

// Logger defines the logging interface used by the sampler.
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

// Publisher is the part of the event bus the sampler needs.
type Publisher interface {
	Publish(ctx context.Context, topic eventbus.Topic, payload any) (eventbus.Event, error)
}

// Composer derives extra snapshots from a cycle's physical snapshots.
type Composer interface {
	Compose(physical []*device.Snapshot) []*device.Snapshot
}

// Metrics receives sampler degradation signals.
type Metrics interface {
	CycleCompleted(d time.Duration)
	CycleOverrun()
	DeviceSampled(deviceID string, online bool)
	DeviceReadFailed(deviceID, kind string)
}

type noopMetrics struct{}

func (noopMetrics) CycleCompleted(time.Duration)    {}
func (noopMetrics) CycleOverrun()                   {}
func (noopMetrics) DeviceSampled(string, bool)      {}
func (noopMetrics) DeviceReadFailed(string, string) {}

// Config holds sampler settings.
type Config struct {
	// Period is the target cycle length.
	Period time.Duration
}

// Sampler reads every device once per cycle, in registry order, and
// publishes one snapshot per device on DEVICE_SNAPSHOT.
//
// One device failing never aborts a cycle. A fatal device gets no further
// I/O but still publishes an offline snapshot every cycle.
//
// Thread Safety:
//   - Run and RunCycle must not be called concurrently.
type Sampler struct {
	reg     *device.Registry
	bus     Publisher
	cfg     Config
	logger  Logger
	metrics Metrics
	nowFunc func() time.Time

	onOverrun func(elapsed time.Duration)
	composer  Composer

	mu     sync.Mutex // protects lastTS
	lastTS map[string]time.Time
}

// New creates a sampler over the registry's devices.
func New(reg *device.Registry, bus Publisher, cfg Config) *Sampler {
	if cfg.Period <= 0 {
		cfg.Period = DefaultPeriod
	}
	return &Sampler{
		reg:     reg,
		bus:     bus,
		cfg:     cfg,
		logger:  noopLogger{},
		metrics: noopMetrics{},
		nowFunc: time.Now,
		lastTS:  make(map[string]time.Time),
	}
}

// SetLogger sets the logger for the sampler.
func (s *Sampler) SetLogger(logger Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetMetrics sets the metrics sink.
func (s *Sampler) SetMetrics(m Metrics) {
	if m != nil {
		s.metrics = m
	}
}

// SetOverrunHandler registers a callback invoked when a cycle exceeds the period.
func (s *Sampler) SetOverrunHandler(fn func(elapsed time.Duration)) {
	s.onOverrun = fn
}

// SetComposer registers virtual devices composed after every cycle.
func (s *Sampler) SetComposer(c Composer) {
	s.composer = c
}

// Run samples until ctx is cancelled. Cancellation is checked before each
// cycle and while waiting; a cycle in progress completes its I/O.
//
// Returns nil on cancellation.
func (s *Sampler) Run(ctx context.Context) error {
	s.logger.Info("sampler started", "period", s.cfg.Period, "devices", len(s.reg.Handles()))
	defer s.logger.Info("sampler stopped")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
		// An expired timer and a cancelled ctx can both be ready.
		if ctx.Err() != nil {
			return nil
		}

		start := s.nowFunc()
		s.RunCycle(ctx)
		elapsed := s.nowFunc().Sub(start)
		s.metrics.CycleCompleted(elapsed)

		wait := s.cfg.Period - elapsed
		if wait <= 0 {
			s.metrics.CycleOverrun()
			s.logger.Warn("sampler cycle overran period", "elapsed", elapsed, "period", s.cfg.Period)
			if s.onOverrun != nil {
				s.onOverrun(elapsed)
			}
			wait = 0
		}
		timer.Reset(wait)
	}
}

// RunCycle samples every device once and returns the published snapshots
// in device order, followed by any composed virtual snapshots.
func (s *Sampler) RunCycle(ctx context.Context) []*device.Snapshot {
	// In-flight I/O is not interrupted by shutdown.
	ioCtx := context.WithoutCancel(ctx)

	handles := s.reg.Handles()
	out := make([]*device.Snapshot, 0, len(handles))
	for _, h := range handles {
		snap := s.sample(ioCtx, h)
		s.reg.RecordSnapshot(snap)
		s.metrics.DeviceSampled(snap.DeviceID, snap.Online)

		if _, err := s.bus.Publish(ctx, eventbus.TopicDeviceSnapshot, snap); err != nil {
			s.logger.Warn("snapshot publish failed", "device_id", snap.DeviceID, "error", err)
		}
		out = append(out, snap)
	}

	if s.composer == nil {
		return out
	}
	for _, snap := range s.composer.Compose(out) {
		if _, err := s.bus.Publish(ctx, eventbus.TopicDeviceSnapshot, snap); err != nil {
			s.logger.Warn("snapshot publish failed", "device_id", snap.DeviceID, "error", err)
		}
		out = append(out, snap)
	}
	return out
}

// sample reads one device and builds its snapshot.
func (s *Sampler) sample(ctx context.Context, h *device.Handle) *device.Snapshot {
	dev := h.Device()
	names := append(h.Map().RawReadOrder(), h.Map().ComputedOrder()...)

	if s.reg.IsFatal(dev.ID) {
		return device.SentinelSnapshot(dev.ID, s.stamp(dev.ID), names)
	}

	values, labels, err := h.ReadAll(ctx)
	if err != nil {
		kind := "error"
		if transport.IsFatal(err) {
			kind = "fatal"
			s.reg.MarkFatal(dev.ID, err)
		}
		s.metrics.DeviceReadFailed(dev.ID, kind)
		s.logger.Warn("device read failed", "device_id", dev.ID, "kind", kind, "error", err)
		return device.SentinelSnapshot(dev.ID, s.stamp(dev.ID), names)
	}

	snap := device.NewSnapshot(dev.ID, s.stamp(dev.ID), values, labels)
	if !snap.Online {
		s.metrics.DeviceReadFailed(dev.ID, "transient")
		s.logger.Debug("device unreachable this cycle", "device_id", dev.ID)
	}
	return snap
}

// stamp returns a timestamp that never goes backwards for a device.
func (s *Sampler) stamp(deviceID string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.nowFunc().UTC()
	if last, ok := s.lastTS[deviceID]; ok && ts.Before(last) {
		ts = last
	}
	s.lastTS[deviceID] = ts
	return ts
}
