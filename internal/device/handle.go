package device

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/nerrad567/fieldbus-core/internal/registermap"
	"github.com/nerrad567/fieldbus-core/internal/transport"
)

// verifyEpsilon is the minimum read-back tolerance of a verify hook.
const verifyEpsilon = 1e-9

// Handle owns one device's register map and its path onto the bus.
//
// All I/O goes through the transport, which is expected to hold the
// segment token for the duration of each request.
//
// Thread Safety:
//   - Safe for concurrent use; serialisation is the transport's job.
type Handle struct {
	dev Device
	rm  *registermap.Map
	tr  transport.Transport
}

// NewHandle binds a device to its register map and transport.
func NewHandle(dev Device, rm *registermap.Map, tr transport.Transport) (*Handle, error) {
	if err := dev.Validate(); err != nil {
		return nil, err
	}
	if rm == nil || tr == nil {
		return nil, fmt.Errorf("%w: %s: register map and transport are required", ErrInvalidDevice, dev.ID)
	}
	return &Handle{dev: dev, rm: rm, tr: tr}, nil
}

// Device returns the device identity.
func (h *Handle) Device() Device {
	return h.dev
}

// Map returns the device's register map.
func (h *Handle) Map() *registermap.Map {
	return h.rm
}

// Read returns the scaled value of one parameter.
//
// A computed parameter reads its raw inputs first. A table miss or a
// computed field with an unreadable input yields the sentinel without error.
//
// Returns:
//   - float64: Scaled value or registermap.Sentinel
//   - error: registermap access errors or a transport error
func (h *Handle) Read(ctx context.Context, name string) (float64, error) {
	p, err := h.rm.CheckRead(name)
	if err != nil {
		return registermap.Sentinel, err
	}
	if !p.Computed() {
		v, _, err := h.readRaw(ctx, p)
		return v, err
	}

	inputs, err := h.rm.RawInputs(name)
	if err != nil {
		return registermap.Sentinel, err
	}
	values := make(map[string]float64, len(inputs))
	for _, in := range inputs {
		ip, _ := h.rm.Lookup(in)
		v, _, err := h.readRaw(ctx, ip)
		if err != nil {
			return registermap.Sentinel, err
		}
		values[in] = v
	}
	h.rm.Derive(values)
	return values[name], nil
}

// ReadAll reads every readable raw parameter in declaration order, then
// derives the computed fields.
//
// A transient failure marks that parameter as sentinel and moves on. A
// fatal failure stops the pass and is returned; the values read so far are
// discarded by the caller.
//
// Returns:
//   - map[string]float64: Every readable parameter, sentinel where unknown
//   - map[string]string: Table labels for parameters that have one
//   - error: The first fatal transport error, or ctx.Err()
func (h *Handle) ReadAll(ctx context.Context) (map[string]float64, map[string]string, error) {
	names := h.rm.RawReadOrder()
	values := make(map[string]float64, len(names)+len(h.rm.ComputedOrder()))
	labels := make(map[string]string)

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		p, _ := h.rm.Lookup(name)
		v, label, err := h.readRaw(ctx, p)
		if err != nil {
			if transport.IsFatal(err) {
				return nil, nil, err
			}
			v = registermap.Sentinel
		}
		values[name] = v
		if label != "" {
			labels[name] = label
		}
	}

	h.rm.Derive(values)
	return values, labels, nil
}

// readRaw performs one transport read for a non-computed parameter.
func (h *Handle) readRaw(ctx context.Context, p *registermap.Parameter) (float64, string, error) {
	words, err := h.tr.Read(ctx, transport.Request{
		Unit:    h.dev.Unit,
		Address: p.Address,
		Count:   uint16(p.Words()), //nolint:gosec // at most two words
	})
	if err != nil {
		return registermap.Sentinel, "", err
	}
	return p.Decode(words)
}

// Write runs the pre-write hooks, encodes and writes the value, then runs
// the post-write hooks.
//
// Parameters:
//   - name: Writable parameter
//   - value: Engineering value before hooks
//
// Returns:
//   - float64: The value actually written (after pre-write hooks)
//   - error: registermap access/encoding errors, ErrHookFailed, or a transport error
func (h *Handle) Write(ctx context.Context, name string, value float64) (float64, error) {
	p, err := h.rm.CheckWrite(name)
	if err != nil {
		return value, err
	}

	for i, hook := range p.PreWrite {
		value, err = applyPreHook(hook, value)
		if err != nil {
			return value, fmt.Errorf("%w: %s.%s pre_write[%d] %s: %v", ErrHookFailed, h.dev.ID, name, i, hook.Kind, err)
		}
	}

	words, err := p.Encode(value)
	if err != nil {
		return value, err
	}
	if err := h.tr.Write(ctx, h.dev.Unit, p.Address, words); err != nil {
		return value, err
	}

	for i, hook := range p.PostWrite {
		if err := h.verify(ctx, p, hook, value); err != nil {
			return value, fmt.Errorf("%w: %s.%s post_write[%d] %s: %v", ErrHookFailed, h.dev.ID, name, i, hook.Kind, err)
		}
	}
	return value, nil
}

// applyPreHook transforms a value before encoding.
func applyPreHook(hook registermap.Hook, v float64) (float64, error) {
	switch hook.Kind {
	case registermap.HookMultiply:
		v *= hook.Factor
	case registermap.HookRound:
		scale := math.Pow(10, float64(hook.Decimals))
		v = math.Round(v*scale) / scale
	case registermap.HookClamp:
		if hook.Min != nil && v < *hook.Min {
			v = *hook.Min
		}
		if hook.Max != nil && v > *hook.Max {
			v = *hook.Max
		}
	default:
		return v, fmt.Errorf("unsupported pre-write hook %q", hook.Kind)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v, errors.New("result is not finite")
	}
	return v, nil
}

// verify reads the parameter back and compares it with the written value.
func (h *Handle) verify(ctx context.Context, p *registermap.Parameter, hook registermap.Hook, written float64) error {
	if hook.Kind != registermap.HookVerify {
		return fmt.Errorf("unsupported post-write hook %q", hook.Kind)
	}
	got, _, err := h.readRaw(ctx, p)
	if err != nil {
		return fmt.Errorf("read-back: %w", err)
	}
	if math.Abs(got-written) > math.Max(hook.Tolerance, verifyEpsilon) {
		return fmt.Errorf("read back %v, wrote %v", got, written)
	}
	return nil
}
