package registermap

import (
	"fmt"
	"sort"
	"strings"
)

// Map is the immutable register map of one device model.
//
// It is built once by Compile and shared read-only by every device handle of
// the model.
//
// Thread Safety:
//   - Safe for concurrent use; nothing mutates a Map after Compile.
type Map struct {
	model    string
	params   map[string]*Parameter
	order    []string // declaration order
	raw      []string // readable, non-computed, declaration order
	computed []string // topological order
}

// Compile validates parameter definitions and builds a Map.
//
// Defaults applied: format u16, word order big, access r.
// Every problem is reported, then wrapped in one error; a computed-field cycle
// wraps ErrCycle, an unknown formula input wraps ErrParameterUnknown.
//
// Parameters:
//   - model: Device model name (for error messages)
//   - params: Parameter definitions in declaration order
//
// Returns:
//   - *Map: Compiled register map
//   - error: Load-time configuration error
func Compile(model string, params []Parameter) (*Map, error) {
	m := &Map{
		model:  model,
		params: make(map[string]*Parameter, len(params)),
	}

	var errs []string
	for i := range params {
		p := params[i]
		applyDefaults(&p)

		if p.Name == "" {
			errs = append(errs, fmt.Sprintf("parameter %d: name is required", i))
			continue
		}
		if _, dup := m.params[p.Name]; dup {
			errs = append(errs, fmt.Sprintf("%s: duplicate parameter name", p.Name))
			continue
		}
		errs = append(errs, validateParameter(&p)...)

		m.params[p.Name] = &p
		m.order = append(m.order, p.Name)
		if !p.Computed() && p.Access.Readable() {
			m.raw = append(m.raw, p.Name)
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: model %s: %s", ErrInvalidParameter, model, strings.Join(errs, "; "))
	}

	computed, err := m.sortComputed()
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", model, err)
	}
	m.computed = computed

	return m, nil
}

func applyDefaults(p *Parameter) {
	if p.Format == "" {
		p.Format = FormatU16
	}
	if p.WordOrder == "" {
		p.WordOrder = WordOrderBig
	}
	if p.Access == "" {
		p.Access = AccessRead
	}
}

// validateParameter returns every problem found in a single definition.
func validateParameter(p *Parameter) []string {
	var errs []string
	bad := func(format string, args ...any) {
		errs = append(errs, p.Name+": "+fmt.Sprintf(format, args...))
	}

	if p.Format.Words() == 0 {
		bad("unknown format %q", p.Format)
	}
	if p.WordOrder != WordOrderBig && p.WordOrder != WordOrderLittle {
		bad("unknown word order %q", p.WordOrder)
	}
	if !p.Access.Readable() && !p.Access.Writable() {
		bad("unknown access %q", p.Access)
	}
	if p.Bit != nil {
		if p.Format.Words() != 1 || *p.Bit > maxBit {
			bad("bit %d requires a 16-bit format and 0..15", *p.Bit)
		}
		if p.Access.Writable() {
			bad("bit parameters are read-only")
		}
	}
	if p.Min != nil && p.Max != nil && *p.Min > *p.Max {
		bad("min %v greater than max %v", *p.Min, *p.Max)
	}

	switch p.Scale.Kind {
	case ScaleNone, ScaleLinear:
	case ScaleTable:
		if len(p.Scale.Table) == 0 {
			bad("table scale needs at least one entry")
		}
	case ScaleFormula:
		if p.Scale.Formula == nil {
			bad("formula scale needs a formula")
			break
		}
		if err := p.Scale.Formula.validate(); err != nil {
			bad("%v", err)
		}
		if p.Access != AccessRead {
			bad("computed parameters are read-only")
		}
	default:
		bad("unknown scale kind %q", p.Scale.Kind)
	}

	if (len(p.PreWrite) > 0 || len(p.PostWrite) > 0) && !p.Access.Writable() {
		bad("write hooks on a read-only parameter")
	}
	for _, h := range p.PreWrite {
		switch h.Kind {
		case HookMultiply, HookRound, HookClamp:
		case HookVerify:
			bad("verify is a post-write hook")
		default:
			bad("unknown hook kind %q", h.Kind)
		}
	}
	for _, h := range p.PostWrite {
		switch h.Kind {
		case HookVerify:
			if !p.Access.Readable() {
				bad("verify needs a readable parameter")
			}
		case HookMultiply, HookRound, HookClamp:
			bad("%s is a pre-write hook", h.Kind)
		default:
			bad("unknown hook kind %q", h.Kind)
		}
	}
	return errs
}

// sortComputed orders computed fields so every field follows its inputs
// (Kahn's algorithm). Leftover nodes form a cycle.
func (m *Map) sortComputed() ([]string, error) {
	indegree := make(map[string]int)
	dependents := make(map[string][]string)

	var names []string
	for _, name := range m.order {
		p := m.params[name]
		if !p.Computed() {
			continue
		}
		names = append(names, name)
		indegree[name] += 0
		for _, in := range p.Scale.Formula.Inputs {
			dep, ok := m.params[in]
			if !ok {
				return nil, fmt.Errorf("%w: %s: formula input %q", ErrParameterUnknown, name, in)
			}
			if in == name {
				return nil, fmt.Errorf("%w: %s depends on itself", ErrCycle, name)
			}
			if !dep.Access.Readable() {
				return nil, fmt.Errorf("%w: %s: formula input %q", ErrNotReadable, name, in)
			}
			if dep.Computed() {
				indegree[name]++
				dependents[in] = append(dependents[in], name)
			}
		}
	}

	var queue, sorted []string
	for _, name := range names {
		if indegree[name] == 0 {
			queue = append(queue, name)
		}
	}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		sorted = append(sorted, n)
		for _, d := range dependents[n] {
			indegree[d]--
			if indegree[d] == 0 {
				queue = append(queue, d)
			}
		}
	}

	if len(sorted) != len(names) {
		var stuck []string
		for _, name := range names {
			if indegree[name] > 0 {
				stuck = append(stuck, name)
			}
		}
		sort.Strings(stuck)
		return nil, fmt.Errorf("%w: %s", ErrCycle, strings.Join(stuck, ", "))
	}
	return sorted, nil
}

// Model returns the device model name.
func (m *Map) Model() string {
	return m.model
}

// Lookup returns the parameter definition or ErrParameterUnknown.
// The returned pointer must not be modified.
func (m *Map) Lookup(name string) (*Parameter, error) {
	p, ok := m.params[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrParameterUnknown, m.model, name)
	}
	return p, nil
}

// CheckRead returns the parameter if it exists and is readable.
func (m *Map) CheckRead(name string) (*Parameter, error) {
	p, err := m.Lookup(name)
	if err != nil {
		return nil, err
	}
	if !p.Access.Readable() {
		return nil, fmt.Errorf("%w: %s.%s", ErrNotReadable, m.model, name)
	}
	return p, nil
}

// CheckWrite returns the parameter if it exists and is writable.
func (m *Map) CheckWrite(name string) (*Parameter, error) {
	p, err := m.Lookup(name)
	if err != nil {
		return nil, err
	}
	if !p.Access.Writable() || p.Computed() {
		return nil, fmt.Errorf("%w: %s.%s", ErrNotWritable, m.model, name)
	}
	return p, nil
}

// Names returns every parameter name in declaration order.
func (m *Map) Names() []string {
	return append([]string(nil), m.order...)
}

// RawReadOrder returns the readable, non-computed parameters in declaration order.
func (m *Map) RawReadOrder() []string {
	return append([]string(nil), m.raw...)
}

// ComputedOrder returns computed parameters in dependency order.
func (m *Map) ComputedOrder() []string {
	return append([]string(nil), m.computed...)
}

// RawInputs returns the non-computed parameters a computed parameter
// transitively depends on, in declaration order. For a raw parameter it
// returns the parameter itself.
func (m *Map) RawInputs(name string) ([]string, error) {
	if _, err := m.Lookup(name); err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var walk func(n string)
	walk = func(n string) {
		if seen[n] {
			return
		}
		seen[n] = true
		p := m.params[n]
		if p.Computed() {
			for _, in := range p.Scale.Formula.Inputs {
				walk(in)
			}
		}
	}
	walk(name)

	var out []string
	for _, n := range m.order {
		if seen[n] && !m.params[n].Computed() {
			out = append(out, n)
		}
	}
	return out, nil
}

// Derive fills every computed parameter into values, in dependency order.
// Inputs absent from values count as Sentinel.
func (m *Map) Derive(values map[string]float64) {
	for _, name := range m.computed {
		f := m.params[name].Scale.Formula
		in := make([]float64, len(f.Inputs))
		for i, src := range f.Inputs {
			v, ok := values[src]
			if !ok {
				v = Sentinel
			}
			in[i] = v
		}
		values[name] = m.params[name].round(f.Eval(in))
	}
}
