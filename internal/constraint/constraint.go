// Package constraint is the single validation point for parameter bounds
// before any write reaches a device.
package constraint

import (
	"errors"
	"fmt"
	"math"
)

// ErrConstraintViolation is returned when a proposed value is out of range.
var ErrConstraintViolation = errors.New("constraint: violation")

// Bounds is an optional {min, max} pair. A nil side is unbounded.
type Bounds struct {
	Min *float64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max *float64 `yaml:"max,omitempty" json:"max,omitempty"`
}

// IsZero reports whether neither side is set.
func (b Bounds) IsZero() bool { return b.Min == nil && b.Max == nil }

// Range is a resolved constraint with its origin.
type Range struct {
	Min, Max float64 // -Inf/+Inf when unbounded
	Source   string  // "instance", "model", "global" or "" when unconstrained
}

// Unconstrained reports whether no level defined a bound.
func (r Range) Unconstrained() bool { return r.Source == "" }

// Gate resolves bounds by precedence instance > model > global. It holds
// only immutable tables and is safe for concurrent use.
type Gate struct {
	instance map[string]map[string]Bounds // device id -> parameter
	model    map[string]map[string]Bounds // model -> parameter
	global   map[string]Bounds            // parameter
	models   map[string]string            // device id -> model
}

// Tables is the configuration form of a Gate.
type Tables struct {
	Instance map[string]map[string]Bounds
	Model    map[string]map[string]Bounds
	Global   map[string]Bounds
	// DeviceModels maps device id to model name for the model level.
	DeviceModels map[string]string
}

// NewGate builds a Gate from t. Bounds with min greater than max are rejected.
func NewGate(t Tables) (*Gate, error) {
	check := func(level, scope, param string, b Bounds) error {
		if b.Min != nil && b.Max != nil && *b.Min > *b.Max {
			return fmt.Errorf("constraint: %s %s.%s: min %v greater than max %v", level, scope, param, *b.Min, *b.Max)
		}
		return nil
	}
	for dev, params := range t.Instance {
		for p, b := range params {
			if err := check("instance", dev, p, b); err != nil {
				return nil, err
			}
		}
	}
	for model, params := range t.Model {
		for p, b := range params {
			if err := check("model", model, p, b); err != nil {
				return nil, err
			}
		}
	}
	for p, b := range t.Global {
		if err := check("global", "*", p, b); err != nil {
			return nil, err
		}
	}
	return &Gate{
		instance: t.Instance,
		model:    t.Model,
		global:   t.Global,
		models:   t.DeviceModels,
	}, nil
}

// Resolve returns the applicable range for deviceID.param. The first level
// that defines bounds for the parameter wins as a whole.
func (g *Gate) Resolve(deviceID, param string) Range {
	if b, ok := g.instance[deviceID][param]; ok && !b.IsZero() {
		return toRange(b, "instance")
	}
	if b, ok := g.model[g.models[deviceID]][param]; ok && !b.IsZero() {
		return toRange(b, "model")
	}
	if b, ok := g.global[param]; ok && !b.IsZero() {
		return toRange(b, "global")
	}
	return Range{Min: math.Inf(-1), Max: math.Inf(1)}
}

// Check rejects value if it lies outside the resolved range.
//
// Returns:
//   - error: nil, or ErrConstraintViolation naming the bound and its level
func (g *Gate) Check(deviceID, param string, value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("%w: %s.%s: value %v is not finite", ErrConstraintViolation, deviceID, param, value)
	}
	r := g.Resolve(deviceID, param)
	if value < r.Min {
		return fmt.Errorf("%w: %s.%s: %v below %s minimum %v", ErrConstraintViolation, deviceID, param, value, r.Source, r.Min)
	}
	if value > r.Max {
		return fmt.Errorf("%w: %s.%s: %v above %s maximum %v", ErrConstraintViolation, deviceID, param, value, r.Source, r.Max)
	}
	return nil
}

// Clamp moves value into the resolved range.
func (g *Gate) Clamp(deviceID, param string, value float64) float64 {
	r := g.Resolve(deviceID, param)
	return math.Min(math.Max(value, r.Min), r.Max)
}

func toRange(b Bounds, source string) Range {
	r := Range{Min: math.Inf(-1), Max: math.Inf(1), Source: source}
	if b.Min != nil {
		r.Min = *b.Min
	}
	if b.Max != nil {
		r.Max = *b.Max
	}
	return r
}
