package control

import (
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/fieldbus-core/internal/condition"
	"github.com/nerrad567/fieldbus-core/internal/schedule"
)

func TestCompile(t *testing.T) {
	cond := gt("temp", 30)
	tests := []struct {
		name    string
		rule    Rule
		wantErr error
	}{
		{
			name: "discrete",
			rule: Rule{Code: "A", DeviceID: "d", Condition: cond, Parameter: "fan", Policy: discrete(1)},
		},
		{
			name: "linear difference",
			rule: Rule{Code: "A", DeviceID: "d", Condition: cond, Parameter: "fan", Policy: Policy{
				Kind: PolicyAbsoluteLinear, Input: PolicyInput{Kind: InputDifference, Sources: []string{"a", "b"}}, Gain: 1,
			}},
		},
		{
			name:    "missing code",
			rule:    Rule{DeviceID: "d", Condition: cond, Parameter: "fan", Policy: discrete(1)},
			wantErr: ErrInvalidRule,
		},
		{
			name:    "missing parameter",
			rule:    Rule{Code: "A", DeviceID: "d", Condition: cond, Policy: discrete(1)},
			wantErr: ErrInvalidRule,
		},
		{
			name:    "discrete without value",
			rule:    Rule{Code: "A", DeviceID: "d", Condition: cond, Parameter: "fan", Policy: Policy{Kind: PolicyDiscrete}},
			wantErr: ErrInvalidRule,
		},
		{
			name: "difference with one source",
			rule: Rule{Code: "A", DeviceID: "d", Condition: cond, Parameter: "fan", Policy: Policy{
				Kind: PolicyIncrementalLinear, Input: PolicyInput{Kind: InputDifference, Sources: []string{"a"}},
			}},
			wantErr: ErrInvalidRule,
		},
		{
			name:    "unknown policy",
			rule:    Rule{Code: "A", DeviceID: "d", Condition: cond, Parameter: "fan", Policy: Policy{Kind: "pid"}},
			wantErr: ErrInvalidRule,
		},
		{
			name:    "negative ttl",
			rule:    Rule{Code: "A", DeviceID: "d", Condition: cond, Parameter: "fan", Policy: discrete(1), LockTTLSec: -1},
			wantErr: ErrInvalidRule,
		},
		{
			name:    "bad condition",
			rule:    Rule{Code: "A", DeviceID: "d", Condition: condition.Node{Type: condition.KindThreshold}, Parameter: "fan", Policy: discrete(1)},
			wantErr: condition.ErrInvalidTree,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Compile(tt.rule, nil)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Compile() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Compile() error = %v", err)
			}
			if c.Name != c.Code {
				t.Errorf("Name = %q, want code default", c.Name)
			}
		})
	}
}

func TestCompile_LockTTL(t *testing.T) {
	c := mustRule(t, Rule{Code: "A", Condition: gt("temp", 1), Parameter: "fan", Policy: discrete(1), LockTTLSec: 1.5})
	if c.ttl != 1500*time.Millisecond {
		t.Errorf("ttl = %v, want 1.5s", c.ttl)
	}
}

func TestCompileSchedule_Resolution(t *testing.T) {
	def, _ := schedule.Compile(schedule.Schedule{ID: schedule.DefaultID, Intervals: []schedule.Interval{{Start: "08:00", End: "18:00"}}}, "")
	own, _ := schedule.Compile(schedule.Schedule{ID: "ahu1", Intervals: []schedule.Interval{{Start: "22:00", End: "06:00"}}}, "")
	set, err := schedule.NewSet(def, own)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		rule   ScheduleRule
		wantID string
	}{
		{"device schedule", ScheduleRule{Code: "S", DeviceID: "ahu1", Parameter: "sp"}, "ahu1"},
		{"fallback", ScheduleRule{Code: "S", DeviceID: "ahu2", Parameter: "sp"}, schedule.DefaultID},
		{"named", ScheduleRule{Code: "S", DeviceID: "ahu2", Parameter: "sp", Schedule: "ahu1"}, "ahu1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := CompileSchedule(tt.rule, set)
			if err != nil {
				t.Fatalf("CompileSchedule() error = %v", err)
			}
			if c.sched.ID() != tt.wantID {
				t.Errorf("schedule = %s, want %s", c.sched.ID(), tt.wantID)
			}
		})
	}

	if _, err := CompileSchedule(ScheduleRule{Code: "S", DeviceID: "x", Parameter: "sp"}, nil); !errors.Is(err, ErrInvalidRule) {
		t.Errorf("nil set error = %v, want ErrInvalidRule", err)
	}
}
