package alert

import (
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/nerrad567/fieldbus-core/internal/condition"
	"github.com/nerrad567/fieldbus-core/internal/schedule"
)

// Severity grades an alert. It never influences control arbitration.
type Severity string

// Severities.
const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// NotifyOn selects which transition of a run emits the notification.
type NotifyOn string

// Notification points.
const (
	NotifyOnTriggered NotifyOn = "triggered"
	NotifyOnActive    NotifyOn = "active"
)

// Rule is the configuration form of an alert rule.
type Rule struct {
	Code       string         `yaml:"code" json:"code"`
	Name       string         `yaml:"name" json:"name"`
	Severity   Severity       `yaml:"severity" json:"severity"`
	Condition  condition.Node `yaml:"condition" json:"condition"`
	ConfirmSec float64        `yaml:"confirm_sec,omitempty" json:"confirm_sec,omitempty"`
	NotifyOn   NotifyOn       `yaml:"notify_on,omitempty" json:"notify_on,omitempty"`

	// Message is an optional text/template rendered with MessageData.
	Message string `yaml:"message,omitempty" json:"message,omitempty"`
}

// CompiledRule is a validated rule ready for evaluation.
type CompiledRule struct {
	Rule
	tree    *condition.Tree
	confirm time.Duration
	tmpl    *template.Template
}

// Tree returns the compiled condition.
func (r *CompiledRule) Tree() *condition.Tree { return r.tree }

// Compile validates r, applies defaults and compiles its condition and
// message template.
func Compile(r Rule, schedules *schedule.Set) (*CompiledRule, error) {
	if strings.TrimSpace(r.Code) == "" {
		return nil, fmt.Errorf("%w: code is required", ErrInvalidRule)
	}
	if r.Name == "" {
		r.Name = r.Code
	}
	switch r.Severity {
	case SeverityInfo, SeverityWarning, SeverityCritical:
	case "":
		r.Severity = SeverityWarning
	default:
		return nil, fmt.Errorf("%w: %s: unknown severity %q", ErrInvalidRule, r.Code, r.Severity)
	}
	switch r.NotifyOn {
	case NotifyOnTriggered, NotifyOnActive:
	case "":
		r.NotifyOn = NotifyOnTriggered
	default:
		return nil, fmt.Errorf("%w: %s: unknown notify_on %q", ErrInvalidRule, r.Code, r.NotifyOn)
	}
	if r.ConfirmSec < 0 {
		return nil, fmt.Errorf("%w: %s: confirm_sec must be >= 0", ErrInvalidRule, r.Code)
	}

	tree, err := condition.Compile(r.Condition, schedules)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidRule, r.Code, err)
	}

	c := &CompiledRule{
		Rule:    r,
		tree:    tree,
		confirm: time.Duration(r.ConfirmSec * float64(time.Second)),
	}
	if r.Message != "" {
		tmpl, err := template.New(r.Code).Option("missingkey=error").Parse(r.Message)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: message template: %w", ErrInvalidRule, r.Code, err)
		}
		c.tmpl = tmpl
	}
	return c, nil
}

// Merge combines a device model's rules with a device instance's overrides.
// An instance rule replaces the model rule with the same code in place;
// instance-only rules follow in their declared order.
//
// Returns:
//   - []Rule: The effective rule set
//   - error: ErrDuplicateCode if either scope repeats a code
func Merge(model, instance []Rule) ([]Rule, error) {
	modelIdx, err := indexByCode("model", model)
	if err != nil {
		return nil, err
	}
	instIdx, err := indexByCode("instance", instance)
	if err != nil {
		return nil, err
	}

	out := make([]Rule, 0, len(model)+len(instance))
	for _, r := range model {
		if i, ok := instIdx[r.Code]; ok {
			out = append(out, instance[i])
			continue
		}
		out = append(out, r)
	}
	for _, r := range instance {
		if _, ok := modelIdx[r.Code]; !ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func indexByCode(scope string, rules []Rule) (map[string]int, error) {
	idx := make(map[string]int, len(rules))
	for i, r := range rules {
		if _, dup := idx[r.Code]; dup {
			return nil, fmt.Errorf("%w: %q in %s rules", ErrDuplicateCode, r.Code, scope)
		}
		idx[r.Code] = i
	}
	return idx, nil
}
