package condition

// Kind identifies a leaf's value source.
type Kind string

// Leaf kinds.
const (
	KindThreshold  Kind = "threshold"  // one source
	KindDifference Kind = "difference" // sources[0] - sources[1]
	KindAggregate  Kind = "aggregate"  // Aggregate over sources
	KindSchedule   Kind = "schedule"   // inside a schedule window
)

// Op is a leaf comparison operator.
type Op string

// Comparison operators.
const (
	OpGT      Op = "gt"
	OpLT      Op = "lt"
	OpGE      Op = "ge"
	OpLE      Op = "le"
	OpEQ      Op = "eq"
	OpNE      Op = "ne"
	OpBetween Op = "between"
)

// Valid reports whether o is a known operator.
func (o Op) Valid() bool {
	switch o {
	case OpGT, OpLT, OpGE, OpLE, OpEQ, OpNE, OpBetween:
		return true
	}
	return false
}

// AggregateFunc folds several source values into one.
type AggregateFunc string

// Aggregate functions.
const (
	AggAverage AggregateFunc = "average"
	AggSum     AggregateFunc = "sum"
	AggMin     AggregateFunc = "min"
	AggMax     AggregateFunc = "max"
)

// Node is the configuration form of a condition tree.
//
// A node is either a group (exactly one of All, Any, Not) or a leaf (Type
// set). All is AND, Any is OR.
type Node struct {
	All []Node `yaml:"all,omitempty" json:"all,omitempty"`
	Any []Node `yaml:"any,omitempty" json:"any,omitempty"`
	Not *Node  `yaml:"not,omitempty" json:"not,omitempty"`

	Type      Kind          `yaml:"type,omitempty" json:"type,omitempty"`
	Source    string        `yaml:"source,omitempty" json:"source,omitempty"`
	Sources   []string      `yaml:"sources,omitempty" json:"sources,omitempty"`
	Abs       bool          `yaml:"abs,omitempty" json:"abs,omitempty"`
	Aggregate AggregateFunc `yaml:"aggregate,omitempty" json:"aggregate,omitempty"`
	Schedule  string        `yaml:"schedule,omitempty" json:"schedule,omitempty"`

	Operator  Op       `yaml:"operator,omitempty" json:"operator,omitempty"`
	Threshold *float64 `yaml:"threshold,omitempty" json:"threshold,omitempty"`
	Min       *float64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max       *float64 `yaml:"max,omitempty" json:"max,omitempty"`

	// Hysteresis is the release band. A held leaf stays true until the value
	// moves past threshold ∓ hysteresis.
	Hysteresis float64 `yaml:"hysteresis,omitempty" json:"hysteresis,omitempty"`

	// DebounceSec is how long the raw comparison must hold before the leaf
	// reports true.
	DebounceSec float64 `yaml:"debounce_sec,omitempty" json:"debounce_sec,omitempty"`
}

// Input is the read side of a snapshot as seen by the evaluator.
type Input interface {
	// Value returns the parameter value, or false if it holds the sentinel.
	Value(name string) (float64, bool)
	// Has reports whether the parameter is present at all.
	Has(name string) bool
}

// Observation is the value a leaf compared on one evaluation.
type Observation struct {
	LeafID string  `json:"leaf_id"`
	Label  string  `json:"label"`
	Value  float64 `json:"value"`
}

// Result is the outcome of evaluating a tree against one snapshot.
type Result struct {
	Satisfied bool

	// Observations lists the leaves that were evaluated, in evaluation
	// order. Short-circuited leaves are absent.
	Observations []Observation

	// Reason is a one-line summary such as "temp=61.0 gt 60".
	Reason string
}

// Value returns the first observed leaf value, or false if no value leaf ran.
func (r Result) Value() (float64, bool) {
	if len(r.Observations) == 0 {
		return 0, false
	}
	return r.Observations[0].Value, true
}
