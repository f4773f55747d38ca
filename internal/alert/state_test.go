package alert

import (
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func TestStep_Transitions(t *testing.T) {
	type obs struct {
		at        time.Duration
		satisfied bool
		want      State
		notify    bool
	}

	tests := []struct {
		name     string
		confirm  time.Duration
		notifyOn NotifyOn
		steps    []obs
	}{
		{
			name:     "notify on trigger, no confirm period",
			notifyOn: NotifyOnTriggered,
			steps: []obs{
				{0, false, StateNormal, false},
				{1 * time.Second, true, StateTriggered, true},
				{2 * time.Second, true, StateActive, false},
				{3 * time.Second, true, StateActive, false},
				{4 * time.Second, false, StateResolved, true},
				{5 * time.Second, false, StateNormal, false},
				{6 * time.Second, false, StateNormal, false},
			},
		},
		{
			name:     "confirm period holds TRIGGERED",
			confirm:  10 * time.Second,
			notifyOn: NotifyOnActive,
			steps: []obs{
				{0, true, StateTriggered, false},
				{5 * time.Second, true, StateTriggered, false},
				{10 * time.Second, true, StateActive, true},
				{15 * time.Second, true, StateActive, false},
				{20 * time.Second, false, StateResolved, true},
				{25 * time.Second, false, StateNormal, false},
			},
		},
		{
			name:     "run cleared before confirmation is not notified",
			confirm:  10 * time.Second,
			notifyOn: NotifyOnActive,
			steps: []obs{
				{0, true, StateTriggered, false},
				{5 * time.Second, false, StateResolved, false},
				{6 * time.Second, false, StateNormal, false},
			},
		},
		{
			name:     "retrigger from RESOLVED",
			notifyOn: NotifyOnTriggered,
			steps: []obs{
				{0, true, StateTriggered, true},
				{1 * time.Second, false, StateResolved, true},
				{2 * time.Second, true, StateTriggered, true},
				{3 * time.Second, false, StateResolved, true},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := newRecord("pump-1", "HIGH_TEMP", t0)
			for i, o := range tt.steps {
				tr := step(&rec, o.satisfied, t0.Add(o.at), tt.confirm, tt.notifyOn)
				if rec.State != o.want {
					t.Fatalf("step %d: state = %s, want %s", i, rec.State, o.want)
				}
				if tr.notify != o.notify {
					t.Errorf("step %d (%s): notify = %v, want %v", i, rec.State, tr.notify, o.notify)
				}
			}
		})
	}
}

func TestStep_AtMostOneNotificationPerRun(t *testing.T) {
	// Alternating runs of varying length.
	pattern := []bool{true, true, true, false, false, true, false, true, true, true, true, false, false, false}

	for _, notifyOn := range []NotifyOn{NotifyOnTriggered, NotifyOnActive} {
		t.Run(string(notifyOn), func(t *testing.T) {
			rec := newRecord("d", "c", t0)
			var (
				prev                       = false
				triggerNotes, resolveNotes int
			)
			for i, v := range pattern {
				if v != prev {
					triggerNotes, resolveNotes = 0, 0
					prev = v
				}
				tr := step(&rec, v, t0.Add(time.Duration(i)*time.Second), 0, notifyOn)
				if !tr.notify {
					continue
				}
				if tr.to == StateResolved {
					resolveNotes++
				} else {
					triggerNotes++
				}
				if triggerNotes > 1 || resolveNotes > 1 {
					t.Fatalf("index %d: duplicate notification in one run", i)
				}
			}
		})
	}
}

func TestStep_Timestamps(t *testing.T) {
	rec := newRecord("d", "c", t0)
	step(&rec, true, t0.Add(time.Second), 0, NotifyOnTriggered)
	step(&rec, false, t0.Add(2*time.Second), 0, NotifyOnTriggered)

	if rec.LastTriggered == nil || !rec.LastTriggered.Equal(t0.Add(time.Second)) {
		t.Errorf("LastTriggered = %v", rec.LastTriggered)
	}
	if rec.LastResolved == nil || !rec.LastResolved.Equal(t0.Add(2*time.Second)) {
		t.Errorf("LastResolved = %v", rec.LastResolved)
	}
	if !rec.Since.Equal(t0.Add(2 * time.Second)) {
		t.Errorf("Since = %v", rec.Since)
	}
}
