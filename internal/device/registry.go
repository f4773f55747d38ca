package device

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// entry is the mutable runtime state of one device, guarded by its own mutex
// so one device never blocks another.
type entry struct {
	handle *Handle

	mu       sync.RWMutex
	health   HealthStatus
	fatalErr error
	last     *Snapshot
	lastSeen time.Time
}

// Registry holds every device handle in a fixed order plus per-device health
// and the latest snapshot.
//
// Handles are registered once at startup; the order of registration is the
// sampling order.
//
// All public methods are thread-safe.
type Registry struct {
	mu     sync.RWMutex // protects order and byID
	order  []*entry
	byID   map[string]*entry
	logger Logger
}

// NewRegistry creates an empty device registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[string]*entry),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// Register appends a handle to the sampling order.
// Returns ErrDeviceExists if the ID is already registered.
func (r *Registry) Register(h *Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := h.Device().ID
	if _, ok := r.byID[id]; ok {
		return fmt.Errorf("%w: %s", ErrDeviceExists, id)
	}
	e := &entry{handle: h, health: HealthUnknown}
	r.byID[id] = e
	r.order = append(r.order, e)

	r.logger.Debug("device registered", "device_id", id, "model", h.Device().Model, "unit", h.Device().Unit)
	return nil
}

func (r *Registry) get(id string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	return e, nil
}

// Handle returns the handle of a device.
func (r *Registry) Handle(id string) (*Handle, error) {
	e, err := r.get(id)
	if err != nil {
		return nil, err
	}
	return e.handle, nil
}

// Handles returns every handle in sampling order.
func (r *Registry) Handles() []*Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Handle, len(r.order))
	for i, e := range r.order {
		out[i] = e.handle
	}
	return out
}

// Devices returns every device identity in sampling order.
func (r *Registry) Devices() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Device, len(r.order))
	for i, e := range r.order {
		out[i] = e.handle.Device()
	}
	return out
}

// MarkFatal takes a device out of I/O until restart.
func (r *Registry) MarkFatal(id string, cause error) {
	e, err := r.get(id)
	if err != nil {
		return
	}
	e.mu.Lock()
	already := e.health == HealthFatal
	e.health = HealthFatal
	e.fatalErr = cause
	e.mu.Unlock()

	if !already {
		r.logger.Error("device marked fatal, skipping until restart", "device_id", id, "error", cause)
	}
}

// IsFatal reports whether a device has been taken out of I/O.
func (r *Registry) IsFatal(id string) bool {
	e, err := r.get(id)
	if err != nil {
		return false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.health == HealthFatal
}

// RecordSnapshot stores the latest snapshot and updates health from its
// online flag. A fatal device stays fatal.
func (r *Registry) RecordSnapshot(s *Snapshot) {
	e, err := r.get(s.DeviceID)
	if err != nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.last = s
	if s.Online {
		e.lastSeen = s.Timestamp
	}
	if e.health == HealthFatal {
		return
	}
	prev := e.health
	if s.Online {
		e.health = HealthOnline
	} else {
		e.health = HealthOffline
	}
	if prev != e.health && prev != HealthUnknown {
		r.logger.Info("device health changed", "device_id", s.DeviceID, "from", prev, "to", e.health)
	}
}

// LastSnapshot returns the most recently recorded snapshot of a device.
func (r *Registry) LastSnapshot(id string) (*Snapshot, bool) {
	e, err := r.get(id)
	if err != nil {
		return nil, false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.last, e.last != nil
}

// Status is a point-in-time view of one device for the ops surface.
type Status struct {
	Device   Device       `json:"device"`
	Health   HealthStatus `json:"health"`
	LastSeen *time.Time   `json:"last_seen,omitempty"`
	Error    string       `json:"error,omitempty"`
	Snapshot *Snapshot    `json:"snapshot,omitempty"`
}

// Statuses returns the status of every device in sampling order.
func (r *Registry) Statuses() []Status {
	r.mu.RLock()
	entries := append([]*entry(nil), r.order...)
	r.mu.RUnlock()

	out := make([]Status, 0, len(entries))
	for _, e := range entries {
		e.mu.RLock()
		st := Status{
			Device:   e.handle.Device(),
			Health:   e.health,
			Snapshot: e.last,
		}
		if !e.lastSeen.IsZero() {
			seen := e.lastSeen
			st.LastSeen = &seen
		}
		if e.fatalErr != nil {
			st.Error = e.fatalErr.Error()
		}
		e.mu.RUnlock()
		out = append(out, st)
	}
	return out
}

// Write writes one parameter of a device through its handle.
//
// Returns:
//   - float64: The value actually written after pre-write hooks
//   - error: ErrDeviceNotFound, ErrDeviceOffline for fatal devices, or the handle's error
func (r *Registry) Write(ctx context.Context, deviceID, param string, value float64) (float64, error) {
	e, err := r.get(deviceID)
	if err != nil {
		return value, err
	}
	if r.IsFatal(deviceID) {
		return value, fmt.Errorf("%w: %s", ErrDeviceOffline, deviceID)
	}

	written, err := e.handle.Write(ctx, param, value)
	if err != nil {
		r.logger.Warn("device write failed", "device_id", deviceID, "parameter", param, "value", value, "error", err)
		return written, err
	}
	r.logger.Debug("device write", "device_id", deviceID, "parameter", param, "value", written)
	return written, nil
}

// Stats returns registry statistics for monitoring.
type Stats struct {
	TotalDevices   int
	ByModel        map[string]int
	ByHealthStatus map[HealthStatus]int
}

// GetStats returns current registry statistics.
func (r *Registry) GetStats() Stats {
	r.mu.RLock()
	entries := append([]*entry(nil), r.order...)
	r.mu.RUnlock()

	stats := Stats{
		TotalDevices:   len(entries),
		ByModel:        make(map[string]int),
		ByHealthStatus: make(map[HealthStatus]int),
	}
	for _, e := range entries {
		stats.ByModel[e.handle.Device().Model]++
		e.mu.RLock()
		stats.ByHealthStatus[e.health]++
		e.mu.RUnlock()
	}
	return stats
}
