package device

import (
	"fmt"
	"maps"
	"time"

	"github.com/nerrad567/fieldbus-core/internal/registermap"
)

// Device is one physical field device: a model at a bus address on a segment.
// Identity never changes at runtime.
type Device struct {
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	Model   string `json:"model"`
	Segment string `json:"segment"`
	Unit    uint8  `json:"unit"`
}

// Validate checks the fields every device needs.
func (d Device) Validate() error {
	switch {
	case d.ID == "":
		return fmt.Errorf("%w: id is required", ErrInvalidDevice)
	case d.Model == "":
		return fmt.Errorf("%w: %s: model is required", ErrInvalidDevice, d.ID)
	case d.Segment == "":
		return fmt.Errorf("%w: %s: segment is required", ErrInvalidDevice, d.ID)
	}
	return nil
}

// HealthStatus is the liveness of a device as seen by the sampler.
type HealthStatus string

// Health statuses.
const (
	HealthUnknown HealthStatus = "unknown"
	HealthOnline  HealthStatus = "online"
	HealthOffline HealthStatus = "offline"
	// HealthFatal devices are skipped for I/O until restart.
	HealthFatal HealthStatus = "fatal"
)

// Snapshot is one consistent set of a device's values at a sample time.
// It is immutable once built; use the accessors rather than the maps.
type Snapshot struct {
	DeviceID  string             `json:"device_id"`
	Timestamp time.Time          `json:"timestamp"`
	Values    map[string]float64 `json:"values"`
	Labels    map[string]string  `json:"labels,omitempty"`
	Online    bool               `json:"online"`
}

// NewSnapshot builds a snapshot and computes its online flag. The maps are
// copied.
func NewSnapshot(deviceID string, ts time.Time, values map[string]float64, labels map[string]string) *Snapshot {
	s := &Snapshot{
		DeviceID:  deviceID,
		Timestamp: ts,
		Values:    maps.Clone(values),
		Labels:    maps.Clone(labels),
	}
	if s.Values == nil {
		s.Values = map[string]float64{}
	}
	s.Online = IsOnline(s.Values)
	return s
}

// SentinelSnapshot builds an offline snapshot with every name set to the sentinel.
func SentinelSnapshot(deviceID string, ts time.Time, names []string) *Snapshot {
	values := make(map[string]float64, len(names))
	for _, n := range names {
		values[n] = registermap.Sentinel
	}
	return NewSnapshot(deviceID, ts, values, nil)
}

// IsOnline reports whether at least one value differs from the sentinel.
// An empty value set is offline.
func IsOnline(values map[string]float64) bool {
	for _, v := range values {
		if v != registermap.Sentinel {
			return true
		}
	}
	return false
}

// Value returns a parameter value and whether it is present and not the sentinel.
func (s *Snapshot) Value(name string) (float64, bool) {
	v, ok := s.Values[name]
	if !ok || v == registermap.Sentinel {
		return v, false
	}
	return v, true
}

// Has reports whether the snapshot carries the parameter, sentinel or not.
func (s *Snapshot) Has(name string) bool {
	_, ok := s.Values[name]
	return ok
}
