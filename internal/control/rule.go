package control

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/nerrad567/fieldbus-core/internal/condition"
	"github.com/nerrad567/fieldbus-core/internal/schedule"
)

// PolicyKind selects how a rule computes the value it writes.
type PolicyKind string

// Policy kinds.
const (
	// PolicyDiscrete writes a fixed value.
	PolicyDiscrete PolicyKind = "discrete_setpoint"
	// PolicyAbsoluteLinear writes base + gain*(input - reference).
	PolicyAbsoluteLinear PolicyKind = "absolute_linear"
	// PolicyIncrementalLinear writes current + gain*(input - reference),
	// clamped into the constraint range.
	PolicyIncrementalLinear PolicyKind = "incremental_linear"
)

// InputKind selects the quantity a linear policy is driven by.
type InputKind string

// Policy input kinds.
const (
	InputThreshold  InputKind = "threshold"  // one source
	InputDifference InputKind = "difference" // sources[0] - sources[1]
)

// PolicyInput names the parameters a linear policy reads.
type PolicyInput struct {
	Kind    InputKind `yaml:"kind" json:"kind"`
	Source  string    `yaml:"source,omitempty" json:"source,omitempty"`
	Sources []string  `yaml:"sources,omitempty" json:"sources,omitempty"`
	Abs     bool      `yaml:"abs,omitempty" json:"abs,omitempty"`
}

// Policy is the configuration form of a rule action's value computation.
type Policy struct {
	Kind      PolicyKind  `yaml:"kind" json:"kind"`
	Value     *float64    `yaml:"value,omitempty" json:"value,omitempty"`
	Input     PolicyInput `yaml:"input,omitempty" json:"input,omitempty"`
	Base      float64     `yaml:"base,omitempty" json:"base,omitempty"`
	Gain      float64     `yaml:"gain,omitempty" json:"gain,omitempty"`
	Reference float64     `yaml:"reference,omitempty" json:"reference,omitempty"`
}

// Rule is the configuration form of a condition-driven control rule.
type Rule struct {
	Code     string `yaml:"code" json:"code"`
	Name     string `yaml:"name,omitempty" json:"name,omitempty"`
	DeviceID string `yaml:"device" json:"device"`

	// Priority orders rules; lower numbers win.
	Priority          int            `yaml:"priority" json:"priority"`
	Condition         condition.Node `yaml:"condition" json:"condition"`
	Parameter         string         `yaml:"parameter" json:"parameter"`
	Policy            Policy         `yaml:"policy" json:"policy"`
	EmergencyOverride bool           `yaml:"emergency_override,omitempty" json:"emergency_override,omitempty"`
	LockTTLSec        float64        `yaml:"lock_ttl_sec,omitempty" json:"lock_ttl_sec,omitempty"`
}

// ScheduleRule writes one value inside a schedule window and optionally
// another outside it.
type ScheduleRule struct {
	Code     string `yaml:"code" json:"code"`
	DeviceID string `yaml:"device" json:"device"`
	Priority int    `yaml:"priority" json:"priority"`

	// Schedule names the calendar; empty means the device's own schedule
	// id, falling back to "default".
	Schedule   string   `yaml:"schedule,omitempty" json:"schedule,omitempty"`
	Parameter  string   `yaml:"parameter" json:"parameter"`
	Inside     float64  `yaml:"inside" json:"inside"`
	Outside    *float64 `yaml:"outside,omitempty" json:"outside,omitempty"`
	LockTTLSec float64  `yaml:"lock_ttl_sec,omitempty" json:"lock_ttl_sec,omitempty"`
}

// CompiledRule is a validated control rule.
type CompiledRule struct {
	Rule
	tree *condition.Tree
	ttl  time.Duration
}

// Tree returns the compiled condition.
func (r *CompiledRule) Tree() *condition.Tree { return r.tree }

// CompiledScheduleRule is a validated schedule rule bound to its calendar.
type CompiledScheduleRule struct {
	ScheduleRule
	sched *schedule.Compiled
	ttl   time.Duration
}

// Compile validates r and compiles its condition.
func Compile(r Rule, schedules *schedule.Set) (*CompiledRule, error) {
	if err := validateCommon(r.Code, r.DeviceID, r.Parameter, r.LockTTLSec); err != nil {
		return nil, err
	}
	if err := r.Policy.validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidRule, r.Code, err)
	}
	if r.Name == "" {
		r.Name = r.Code
	}
	tree, err := condition.Compile(r.Condition, schedules)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidRule, r.Code, err)
	}
	return &CompiledRule{Rule: r, tree: tree, ttl: seconds(r.LockTTLSec)}, nil
}

// CompileSchedule validates r and resolves its calendar.
func CompileSchedule(r ScheduleRule, schedules *schedule.Set) (*CompiledScheduleRule, error) {
	if err := validateCommon(r.Code, r.DeviceID, r.Parameter, r.LockTTLSec); err != nil {
		return nil, err
	}
	id := r.Schedule
	if id == "" {
		id = r.DeviceID
	}
	sched, ok := schedules.Resolve(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s: no schedule %q and no %q fallback", ErrInvalidRule, r.Code, id, schedule.DefaultID)
	}
	return &CompiledScheduleRule{ScheduleRule: r, sched: sched, ttl: seconds(r.LockTTLSec)}, nil
}

func validateCommon(code, deviceID, param string, ttl float64) error {
	switch {
	case strings.TrimSpace(code) == "":
		return fmt.Errorf("%w: code is required", ErrInvalidRule)
	case deviceID == "":
		return fmt.Errorf("%w: %s: device is required", ErrInvalidRule, code)
	case param == "":
		return fmt.Errorf("%w: %s: parameter is required", ErrInvalidRule, code)
	case ttl < 0 || math.IsNaN(ttl):
		return fmt.Errorf("%w: %s: lock_ttl_sec must be >= 0", ErrInvalidRule, code)
	}
	return nil
}

func (p Policy) validate() error {
	switch p.Kind {
	case PolicyDiscrete:
		if p.Value == nil {
			return fmt.Errorf("%s needs a value", p.Kind)
		}
		return nil
	case PolicyAbsoluteLinear, PolicyIncrementalLinear:
	default:
		return fmt.Errorf("unknown policy %q", p.Kind)
	}

	switch p.Input.Kind {
	case InputThreshold:
		if p.Input.Source == "" {
			return fmt.Errorf("%s input needs a source", p.Input.Kind)
		}
	case InputDifference:
		if len(p.Input.Sources) != 2 {
			return fmt.Errorf("%s input needs exactly two sources", p.Input.Kind)
		}
	default:
		return fmt.Errorf("unknown policy input %q", p.Input.Kind)
	}
	if math.IsNaN(p.Gain) || math.IsInf(p.Gain, 0) {
		return fmt.Errorf("gain must be finite")
	}
	return nil
}

// Sources returns the parameters the policy reads, excluding the target.
func (p Policy) Sources() []string {
	switch p.Input.Kind {
	case InputThreshold:
		return []string{p.Input.Source}
	case InputDifference:
		return append([]string(nil), p.Input.Sources...)
	}
	return nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
