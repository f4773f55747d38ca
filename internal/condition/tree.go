package condition

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/fieldbus-core/internal/schedule"
)

// Validation limits.
const (
	MaxDepth    = 10
	MaxChildren = 20
)

type nodeKind int

const (
	nodeLeaf nodeKind = iota
	nodeAnd
	nodeOr
	nodeNot
)

// Tree is a compiled, immutable condition tree. One Tree may be shared by
// many rules; per-rule timer state lives in the Evaluator.
type Tree struct {
	root    *compiled
	sources []string
	leaves  int
}

type compiled struct {
	kind     nodeKind
	children []*compiled
	leaf     *leaf
}

type leaf struct {
	id         string
	kind       Kind
	sources    []string
	abs        bool
	agg        AggregateFunc
	sched      *schedule.Compiled
	op         Op
	threshold  float64
	min, max   float64
	hysteresis float64
	debounce   time.Duration
}

// Compile validates n and builds a Tree. Schedule leaves are resolved
// against schedules, which may be nil when no leaf refers to a schedule.
func Compile(n Node, schedules *schedule.Set) (*Tree, error) {
	t := &Tree{}
	seen := make(map[string]struct{})
	root, err := t.compile(n, "0", 1, schedules, seen)
	if err != nil {
		return nil, err
	}
	t.root = root
	return t, nil
}

func (t *Tree) compile(n Node, path string, depth int, schedules *schedule.Set, seen map[string]struct{}) (*compiled, error) {
	if depth > MaxDepth {
		return nil, fmt.Errorf("%w: %s: deeper than %d levels", ErrInvalidTree, path, MaxDepth)
	}

	groups := 0
	if n.All != nil {
		groups++
	}
	if n.Any != nil {
		groups++
	}
	if n.Not != nil {
		groups++
	}
	switch {
	case groups > 1:
		return nil, fmt.Errorf("%w: %s: node has more than one of all/any/not", ErrInvalidTree, path)
	case groups == 1 && n.Type != "":
		return nil, fmt.Errorf("%w: %s: node is both a group and a %s leaf", ErrInvalidTree, path, n.Type)
	case groups == 0 && n.Type == "":
		return nil, fmt.Errorf("%w: %s: node is neither a group nor a leaf", ErrInvalidTree, path)
	}

	if n.Not != nil {
		child, err := t.compile(*n.Not, path+".0", depth+1, schedules, seen)
		if err != nil {
			return nil, err
		}
		return &compiled{kind: nodeNot, children: []*compiled{child}}, nil
	}

	if groups == 1 {
		kind, children := nodeAnd, n.All
		if n.Any != nil {
			kind, children = nodeOr, n.Any
		}
		if len(children) == 0 {
			return nil, fmt.Errorf("%w: %s: empty group", ErrInvalidTree, path)
		}
		if len(children) > MaxChildren {
			return nil, fmt.Errorf("%w: %s: more than %d children", ErrInvalidTree, path, MaxChildren)
		}
		c := &compiled{kind: kind, children: make([]*compiled, 0, len(children))}
		for i, child := range children {
			cc, err := t.compile(child, path+"."+strconv.Itoa(i), depth+1, schedules, seen)
			if err != nil {
				return nil, err
			}
			c.children = append(c.children, cc)
		}
		return c, nil
	}

	l, err := compileLeaf(n, path, schedules)
	if err != nil {
		return nil, err
	}
	for _, s := range l.sources {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			t.sources = append(t.sources, s)
		}
	}
	t.leaves++
	return &compiled{kind: nodeLeaf, leaf: l}, nil
}

func compileLeaf(n Node, path string, schedules *schedule.Set) (*leaf, error) {
	l := &leaf{
		id:         path,
		kind:       n.Type,
		abs:        n.Abs,
		agg:        n.Aggregate,
		op:         n.Operator,
		hysteresis: n.Hysteresis,
	}
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s: %s", ErrInvalidTree, path, fmt.Sprintf(format, args...))
	}

	if n.Hysteresis < 0 || math.IsNaN(n.Hysteresis) {
		return nil, fail("hysteresis must be >= 0")
	}
	if n.DebounceSec < 0 || math.IsNaN(n.DebounceSec) {
		return nil, fail("debounce_sec must be >= 0")
	}
	l.debounce = time.Duration(n.DebounceSec * float64(time.Second))

	switch n.Type {
	case KindThreshold:
		if n.Source == "" {
			return nil, fail("threshold leaf needs a source")
		}
		l.sources = []string{n.Source}
	case KindDifference:
		if len(n.Sources) != 2 || n.Sources[0] == "" || n.Sources[1] == "" {
			return nil, fail("difference leaf needs exactly two sources")
		}
		l.sources = append([]string(nil), n.Sources...)
	case KindAggregate:
		if len(n.Sources) == 0 {
			return nil, fail("aggregate leaf needs at least one source")
		}
		switch n.Aggregate {
		case AggAverage, AggSum, AggMin, AggMax:
		default:
			return nil, fail("unknown aggregate %q", n.Aggregate)
		}
		l.sources = append([]string(nil), n.Sources...)
	case KindSchedule:
		c, ok := schedules.Get(n.Schedule)
		if !ok {
			return nil, fail("unknown schedule %q", n.Schedule)
		}
		l.sched = c
		return l, nil
	default:
		return nil, fail("unknown leaf type %q", n.Type)
	}

	if !n.Operator.Valid() {
		return nil, fail("unknown operator %q", n.Operator)
	}
	if n.Operator == OpBetween {
		if n.Min == nil || n.Max == nil {
			return nil, fail("between needs min and max")
		}
		if *n.Min > *n.Max {
			return nil, fail("min %v greater than max %v", *n.Min, *n.Max)
		}
		l.min, l.max = *n.Min, *n.Max
		return l, nil
	}
	if n.Threshold == nil {
		return nil, fail("%s needs a threshold", n.Operator)
	}
	l.threshold = *n.Threshold
	return l, nil
}

// Sources returns every parameter the tree reads, in first-use order.
func (t *Tree) Sources() []string {
	return append([]string(nil), t.sources...)
}

// Leaves returns the number of leaves in the tree.
func (t *Tree) Leaves() int {
	return t.leaves
}

// String returns a static summary, e.g. "all(threshold(temp gt 60), not(...))".
func (t *Tree) String() string {
	var b strings.Builder
	t.root.describe(&b)
	return b.String()
}

func (c *compiled) describe(b *strings.Builder) {
	switch c.kind {
	case nodeLeaf:
		b.WriteString(c.leaf.describe())
	case nodeNot:
		b.WriteString("not(")
		c.children[0].describe(b)
		b.WriteString(")")
	default:
		if c.kind == nodeAnd {
			b.WriteString("all(")
		} else {
			b.WriteString("any(")
		}
		for i, child := range c.children {
			if i > 0 {
				b.WriteString(", ")
			}
			child.describe(b)
		}
		b.WriteString(")")
	}
}

func (l *leaf) describe() string {
	if l.kind == KindSchedule {
		return "schedule(" + l.sched.ID() + ")"
	}
	subject := l.label()
	if l.op == OpBetween {
		return fmt.Sprintf("%s(%s between %s..%s)", l.kind, subject, formatNum(l.min), formatNum(l.max))
	}
	return fmt.Sprintf("%s(%s %s %s)", l.kind, subject, l.op, formatNum(l.threshold))
}

// label names the compared quantity in reasons and observations.
func (l *leaf) label() string {
	switch l.kind {
	case KindDifference:
		s := l.sources[0] + "-" + l.sources[1]
		if l.abs {
			return "|" + s + "|"
		}
		return s
	case KindAggregate:
		return string(l.agg) + "(" + strings.Join(l.sources, ",") + ")"
	case KindSchedule:
		return "schedule:" + l.sched.ID()
	default:
		return l.sources[0]
	}
}

func formatNum(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
