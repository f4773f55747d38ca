package condition

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
)

// eqEpsilon is the tolerance of eq and ne.
const eqEpsilon = 1e-9

// leafState is the per-rule memory of one leaf.
type leafState struct {
	held         bool // last reported true
	pending      bool // raw condition true, debounce running
	pendingSince time.Time
}

// Evaluator evaluates compiled trees and owns the hysteresis and debounce
// state of every leaf, keyed by (rule id, leaf id).
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Evaluations of the same rule id must be serialised by the caller for
//     debounce timing to be meaningful.
type Evaluator struct {
	mu    sync.Mutex
	state map[string]map[string]*leafState
}

// NewEvaluator creates an evaluator with empty timer state.
func NewEvaluator() *Evaluator {
	return &Evaluator{state: make(map[string]map[string]*leafState)}
}

// Evaluate runs tree for ruleID against in. at is the snapshot time; it
// drives debounce timers and schedule leaves.
//
// Returns:
//   - Result: satisfaction, observed leaf values and a reason summary
//   - error: ErrMissingSource or ErrSourceUnavailable from the first leaf
//     that could not be evaluated. Leaf state is not changed by a failed leaf.
func (e *Evaluator) Evaluate(ruleID string, tree *Tree, in Input, at time.Time) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	states := e.state[ruleID]
	if states == nil {
		states = make(map[string]*leafState, tree.leaves)
		e.state[ruleID] = states
	}

	run := &evaluation{states: states, in: in, at: at}
	ok, err := run.node(tree.root)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Satisfied:    ok,
		Observations: run.obs,
		Reason:       strings.Join(run.reasons, "; "),
	}, nil
}

// Forget drops all timer state of ruleID.
func (e *Evaluator) Forget(ruleID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.state, ruleID)
}

// Held reports whether the given leaf of ruleID is currently latched true.
func (e *Evaluator) Held(ruleID, leafID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s := e.state[ruleID][leafID]; s != nil {
		return s.held
	}
	return false
}

type evaluation struct {
	states  map[string]*leafState
	in      Input
	at      time.Time
	obs     []Observation
	reasons []string
}

func (ev *evaluation) node(c *compiled) (bool, error) {
	switch c.kind {
	case nodeNot:
		v, err := ev.node(c.children[0])
		return !v, err
	case nodeAnd:
		for _, child := range c.children {
			v, err := ev.node(child)
			if err != nil || !v {
				return false, err
			}
		}
		return true, nil
	case nodeOr:
		for _, child := range c.children {
			v, err := ev.node(child)
			if err != nil || v {
				return v, err
			}
		}
		return false, nil
	default:
		return ev.leaf(c.leaf)
	}
}

func (ev *evaluation) leaf(l *leaf) (bool, error) {
	var (
		value float64
		raw   bool
	)
	if l.kind == KindSchedule {
		raw = l.sched.Active(ev.at)
	} else {
		v, err := ev.value(l)
		if err != nil {
			return false, err
		}
		value = v
		raw = compare(l.op, v, l.threshold, l.min, l.max, 0)
	}

	st := ev.states[l.id]
	if st == nil {
		st = &leafState{}
		ev.states[l.id] = st
	}

	switch {
	case st.held:
		still := raw
		if l.kind != KindSchedule && l.hysteresis > 0 {
			still = compare(heldOp(l.op), value, l.threshold, l.min, l.max, l.hysteresis)
		}
		if !still {
			st.held = false
		}
		if !raw {
			st.pending = false
		}
	case !raw:
		st.pending = false
	case l.debounce <= 0:
		st.held = true
	default:
		if !st.pending {
			st.pending = true
			st.pendingSince = ev.at
		}
		if ev.at.Sub(st.pendingSince) >= l.debounce {
			st.held = true
		}
	}

	if l.kind != KindSchedule {
		ev.obs = append(ev.obs, Observation{LeafID: l.id, Label: l.label(), Value: value})
		ev.reasons = append(ev.reasons, l.reason(value))
	} else {
		ev.reasons = append(ev.reasons, fmt.Sprintf("%s=%t", l.label(), raw))
	}
	return st.held, nil
}

// value resolves the compared quantity of a value leaf.
func (ev *evaluation) value(l *leaf) (float64, error) {
	vals := make([]float64, len(l.sources))
	for i, s := range l.sources {
		if !ev.in.Has(s) {
			return 0, fmt.Errorf("%w: %s", ErrMissingSource, s)
		}
		v, ok := ev.in.Value(s)
		if !ok {
			return 0, fmt.Errorf("%w: %s", ErrSourceUnavailable, s)
		}
		vals[i] = v
	}

	switch l.kind {
	case KindDifference:
		d := vals[0] - vals[1]
		if l.abs {
			d = math.Abs(d)
		}
		return d, nil
	case KindAggregate:
		return aggregate(l.agg, vals), nil
	default:
		return vals[0], nil
	}
}

func aggregate(fn AggregateFunc, vals []float64) float64 {
	out := vals[0]
	switch fn {
	case AggMin:
		for _, v := range vals[1:] {
			out = math.Min(out, v)
		}
	case AggMax:
		for _, v := range vals[1:] {
			out = math.Max(out, v)
		}
	default:
		for _, v := range vals[1:] {
			out += v
		}
		if fn == AggAverage {
			out /= float64(len(vals))
		}
	}
	return out
}

// compare applies op. slack widens the true region by that amount on the
// release side; it is zero for the raw comparison.
// heldOp widens strict operators to their inclusive form, so a held leaf
// stays true on the release edge itself.
func heldOp(op Op) Op {
	switch op {
	case OpGT:
		return OpGE
	case OpLT:
		return OpLE
	}
	return op
}

func compare(op Op, v, threshold, lo, hi, slack float64) bool {
	switch op {
	case OpGT:
		return v > threshold-slack
	case OpGE:
		return v >= threshold-slack
	case OpLT:
		return v < threshold+slack
	case OpLE:
		return v <= threshold+slack
	case OpEQ:
		return math.Abs(v-threshold) <= eqEpsilon+slack
	case OpNE:
		return math.Abs(v-threshold) > eqEpsilon
	case OpBetween:
		return v >= lo-slack && v <= hi+slack
	}
	return false
}

func (l *leaf) reason(v float64) string {
	if l.op == OpBetween {
		return fmt.Sprintf("%s=%.1f between %s..%s", l.label(), v, formatNum(l.min), formatNum(l.max))
	}
	return fmt.Sprintf("%s=%.1f %s %s", l.label(), v, l.op, formatNum(l.threshold))
}
