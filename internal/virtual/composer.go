package virtual

import (
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/nerrad567/fieldbus-core/internal/device"
	"github.com/nerrad567/fieldbus-core/internal/registermap"
)

// Logger defines the logging interface used by the composer.
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

// Compiled is a validated virtual device with its sources resolved.
type Compiled struct {
	ID      string
	Name    string
	Model   string
	Sources []string
	Fields  []Field
}

// Compile validates spec and resolves its source devices from the physical
// devices of the site.
//
// Parameters:
//   - spec: The virtual device definition
//   - physical: Every physical device, in catalog order
//
// Returns:
//   - *Compiled: The resolved virtual device
//   - error: Wrapping ErrInvalidSpec
func Compile(spec Spec, physical []device.Device) (*Compiled, error) {
	if spec.ID == "" {
		return nil, fmt.Errorf("%w: id is required", ErrInvalidSpec)
	}
	if spec.Source.Model == "" {
		return nil, fmt.Errorf("%w: %s: source model is required", ErrInvalidSpec, spec.ID)
	}
	if len(spec.Fields) == 0 {
		return nil, fmt.Errorf("%w: %s: at least one field is required", ErrInvalidSpec, spec.ID)
	}

	sources, err := resolveSources(spec, physical)
	if err != nil {
		return nil, err
	}
	fields, err := compileFields(spec)
	if err != nil {
		return nil, err
	}
	return &Compiled{
		ID:      spec.ID,
		Name:    spec.Name,
		Model:   spec.Source.Model,
		Sources: sources,
		Fields:  fields,
	}, nil
}

func resolveSources(spec Spec, physical []device.Device) ([]string, error) {
	byID := make(map[string]device.Device, len(physical))
	for _, d := range physical {
		byID[d.ID] = d
	}

	var out []string
	if len(spec.Source.Devices) == 0 {
		for _, d := range physical {
			if d.Model == spec.Source.Model {
				out = append(out, d.ID)
			}
		}
	} else {
		for _, id := range spec.Source.Devices {
			d, ok := byID[id]
			switch {
			case !ok:
				return nil, fmt.Errorf("%w: %s: unknown source device %q", ErrInvalidSpec, spec.ID, id)
			case d.Model != spec.Source.Model:
				return nil, fmt.Errorf("%w: %s: source %s is model %s, not %s",
					ErrInvalidSpec, spec.ID, id, d.Model, spec.Source.Model)
			case slices.Contains(out, id):
				return nil, fmt.Errorf("%w: %s: source %s listed twice", ErrInvalidSpec, spec.ID, id)
			}
			out = append(out, id)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s: no devices of model %s", ErrInvalidSpec, spec.ID, spec.Source.Model)
	}
	return out, nil
}

func compileFields(spec Spec) ([]Field, error) {
	fields := slices.Clone(spec.Fields)
	method := make(map[string]Method, len(fields))
	for i, f := range fields {
		if f.Name == "" {
			return nil, fmt.Errorf("%w: %s: fields[%d].name is required", ErrInvalidSpec, spec.ID, i)
		}
		if _, dup := method[f.Name]; dup {
			return nil, fmt.Errorf("%w: %s: duplicate field %q", ErrInvalidSpec, spec.ID, f.Name)
		}
		switch f.Method {
		case MethodSum, MethodAvg, MethodMin, MethodMax:
		case MethodPowerFactor:
			if f.Active == "" {
				fields[i].Active = DefaultActive
			}
			if f.Apparent == "" {
				fields[i].Apparent = DefaultApparent
			}
		default:
			return nil, fmt.Errorf("%w: %s: field %s: unknown method %q", ErrInvalidSpec, spec.ID, f.Name, f.Method)
		}
		method[f.Name] = f.Method
	}

	for _, f := range fields {
		if f.Method != MethodPowerFactor {
			continue
		}
		for _, dep := range []string{f.Active, f.Apparent} {
			m, ok := method[dep]
			if !ok || m == MethodPowerFactor {
				return nil, fmt.Errorf("%w: %s: field %s needs an aggregated field %q",
					ErrInvalidSpec, spec.ID, f.Name, dep)
			}
		}
	}
	return fields, nil
}

// Device returns the virtual device as a device identity with no bus address.
func (c *Compiled) Device() device.Device {
	return device.Device{ID: c.ID, Name: c.Name, Model: c.Model}
}

// Names returns the field names in declaration order.
func (c *Compiled) Names() []string {
	out := make([]string, len(c.Fields))
	for i, f := range c.Fields {
		out[i] = f.Name
	}
	return out
}

// SourceParameters returns the fields read from the source devices.
func (c *Compiled) SourceParameters() []string {
	var out []string
	for _, f := range c.Fields {
		if f.Method != MethodPowerFactor {
			out = append(out, f.Name)
		}
	}
	return out
}

// Compose builds the virtual snapshot from the cycle's physical snapshots,
// keyed by device id. A source absent from byID counts as failed. The
// timestamp is the newest source timestamp.
func (c *Compiled) Compose(byID map[string]*device.Snapshot) *device.Snapshot {
	var ts time.Time
	for _, id := range c.Sources {
		if s, ok := byID[id]; ok && s.Timestamp.After(ts) {
			ts = s.Timestamp
		}
	}

	values := make(map[string]float64, len(c.Fields))
	for _, f := range c.Fields {
		if f.Method != MethodPowerFactor {
			values[f.Name] = c.aggregate(f, byID)
		}
	}
	for _, f := range c.Fields {
		if f.Method == MethodPowerFactor {
			values[f.Name] = powerFactor(values[f.Active], values[f.Apparent])
		}
	}
	return device.NewSnapshot(c.ID, ts, values, nil)
}

func (c *Compiled) aggregate(f Field, byID map[string]*device.Snapshot) float64 {
	var acc float64
	for i, id := range c.Sources {
		s, ok := byID[id]
		if !ok {
			return registermap.Sentinel
		}
		v, ok := s.Value(f.Name)
		if !ok {
			return registermap.Sentinel
		}
		switch {
		case i == 0:
			acc = v
		case f.Method == MethodMin:
			acc = math.Min(acc, v)
		case f.Method == MethodMax:
			acc = math.Max(acc, v)
		default:
			acc += v
		}
	}
	if f.Method == MethodAvg {
		acc /= float64(len(c.Sources))
	}
	return acc
}

// powerFactor is kw/kva capped to [-1, 1]. Zero apparent power gives 0.
func powerFactor(kw, kva float64) float64 {
	if kw == registermap.Sentinel || kva == registermap.Sentinel {
		return registermap.Sentinel
	}
	if kva == 0 {
		return 0
	}
	return max(-1, min(1, kw/kva))
}

// Composer composes every virtual device once per sampler cycle.
//
// Thread Safety:
//   - Immutable after NewComposer; safe for concurrent use.
type Composer struct {
	devices []*Compiled
	logger  Logger
}

// NewComposer creates a composer over the compiled virtual devices.
func NewComposer(devices ...*Compiled) (*Composer, error) {
	seen := make(map[string]struct{}, len(devices))
	for _, d := range devices {
		if _, dup := seen[d.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %q", ErrInvalidSpec, d.ID)
		}
		seen[d.ID] = struct{}{}
	}
	return &Composer{devices: devices, logger: noopLogger{}}, nil
}

// SetLogger sets the logger for the composer.
func (c *Composer) SetLogger(logger Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// Len returns the number of virtual devices.
func (c *Composer) Len() int {
	return len(c.devices)
}

// Compose returns one snapshot per virtual device, in declaration order.
func (c *Composer) Compose(physical []*device.Snapshot) []*device.Snapshot {
	if len(c.devices) == 0 {
		return nil
	}
	byID := make(map[string]*device.Snapshot, len(physical))
	for _, s := range physical {
		byID[s.DeviceID] = s
	}

	out := make([]*device.Snapshot, 0, len(c.devices))
	for _, d := range c.devices {
		snap := d.Compose(byID)
		if !snap.Online {
			c.logger.Warn("virtual device has no valid fields", "device_id", d.ID, "sources", d.Sources)
		} else {
			c.logger.Debug("virtual device composed", "device_id", d.ID, "sources", len(d.Sources))
		}
		out = append(out, snap)
	}
	return out
}
