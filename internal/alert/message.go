package alert

import (
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/fieldbus-core/internal/condition"
)

// MessageData is the data available to a rule's message template.
type MessageData struct {
	DeviceID  string
	Code      string
	Name      string
	Severity  Severity
	State     State
	Value     float64
	Source    string // label of the first observed leaf
	Reason    string // evaluation summary, e.g. "temp=61.0 gt 60"
	Condition string // static tree summary
	Time      time.Time
}

func messageData(deviceID string, r *CompiledRule, state State, res condition.Result, at time.Time) MessageData {
	d := MessageData{
		DeviceID:  deviceID,
		Code:      r.Code,
		Name:      r.Name,
		Severity:  r.Severity,
		State:     state,
		Reason:    res.Reason,
		Condition: r.tree.String(),
		Time:      at,
	}
	if len(res.Observations) > 0 {
		d.Source = res.Observations[0].Label
		d.Value = res.Observations[0].Value
	}
	return d
}

// render produces the notification text for a transition into state.
func (r *CompiledRule) render(d MessageData) string {
	if r.tmpl != nil {
		var b strings.Builder
		if err := r.tmpl.Execute(&b, d); err == nil {
			return b.String()
		}
	}
	if d.State == StateResolved {
		return fmt.Sprintf("[RESOLVED] %s: %s=%.1f returned to normal (%s)", d.Name, d.Source, d.Value, d.Condition)
	}
	return fmt.Sprintf("[%s] %s: %s", strings.ToUpper(string(d.Severity)), d.Name, d.Reason)
}
