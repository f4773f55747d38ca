package control

import (
	"fmt"
	"math"

	"github.com/nerrad567/fieldbus-core/internal/condition"
)

// Gate validates proposed writes. constraint.Gate satisfies it.
type Gate interface {
	Check(deviceID, param string, value float64) error
	Clamp(deviceID, param string, value float64) float64
}

// target computes the value a candidate wants to write.
//
// Incremental policies are clamped into the gate's range; the others are
// returned as computed and checked by the caller.
func target(c Candidate, in condition.Input, gate Gate) (float64, error) {
	p := c.Policy
	if p.Kind == PolicyDiscrete {
		return *p.Value, nil
	}

	input, err := policyInput(p.Input, in)
	if err != nil {
		return 0, err
	}
	step := p.Gain * (input - p.Reference)

	var v float64
	switch p.Kind {
	case PolicyAbsoluteLinear:
		v = p.Base + step
	case PolicyIncrementalLinear:
		current, ok := in.Value(c.Parameter)
		if !ok {
			return 0, fmt.Errorf("%w: current %s", ErrInvalidInput, c.Parameter)
		}
		v = gate.Clamp(c.DeviceID, c.Parameter, current+step)
	default:
		return 0, fmt.Errorf("%w: unknown policy %q", ErrInvalidInput, p.Kind)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: computed value %v", ErrInvalidInput, v)
	}
	return v, nil
}

func policyInput(pi PolicyInput, in condition.Input) (float64, error) {
	read := func(name string) (float64, error) {
		v, ok := in.Value(name)
		if !ok {
			return 0, fmt.Errorf("%w: %s", ErrInvalidInput, name)
		}
		return v, nil
	}

	switch pi.Kind {
	case InputThreshold:
		return read(pi.Source)
	case InputDifference:
		a, err := read(pi.Sources[0])
		if err != nil {
			return 0, err
		}
		b, err := read(pi.Sources[1])
		if err != nil {
			return 0, err
		}
		d := a - b
		if pi.Abs {
			d = math.Abs(d)
		}
		return d, nil
	}
	return 0, fmt.Errorf("%w: unknown input %q", ErrInvalidInput, pi.Kind)
}
