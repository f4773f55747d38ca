package control

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/fieldbus-core/internal/condition"
	"github.com/nerrad567/fieldbus-core/internal/constraint"
	"github.com/nerrad567/fieldbus-core/internal/device"
	"github.com/nerrad567/fieldbus-core/internal/eventbus"
	"github.com/nerrad567/fieldbus-core/internal/registermap"
	"github.com/nerrad567/fieldbus-core/internal/schedule"
)

// ─── Mock Dependencies ─────────────────────────────────────────────

type write struct {
	device, param string
	value         float64
}

type mockWriter struct {
	mu     sync.Mutex
	writes []write
	err    error
}

func (m *mockWriter) Write(_ context.Context, deviceID, param string, value float64) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	m.writes = append(m.writes, write{deviceID, param, value})
	return value, nil
}

func (m *mockWriter) all() []write {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]write(nil), m.writes...)
}

type mockPublisher struct {
	mu      sync.Mutex
	actions []Action
}

func (m *mockPublisher) Publish(_ context.Context, topic eventbus.Topic, payload any) (eventbus.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if topic == eventbus.TopicControlAction {
		m.actions = append(m.actions, payload.(Action))
	}
	return eventbus.Event{Topic: topic, Payload: payload}, nil
}

type countingMetrics struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (c *countingMetrics) ControlDecision(outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.outcomes == nil {
		c.outcomes = map[string]int{}
	}
	c.outcomes[outcome]++
}

// passThroughGate clamps nothing and rejects everything above max.
type passThroughGate struct{ max float64 }

func (g passThroughGate) Check(deviceID, param string, value float64) error {
	if value > g.max {
		return fmt.Errorf("%w: %s.%s=%v above %v", constraint.ErrConstraintViolation, deviceID, param, value, g.max)
	}
	return nil
}

func (passThroughGate) Clamp(_, _ string, value float64) float64 { return value }

// ─── Helpers ───────────────────────────────────────────────────────

var t0 = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func f(v float64) *float64 { return &v }

func gt(source string, threshold float64) condition.Node {
	return condition.Node{Type: condition.KindThreshold, Source: source, Operator: condition.OpGT, Threshold: f(threshold)}
}

func discrete(v float64) Policy {
	return Policy{Kind: PolicyDiscrete, Value: f(v)}
}

func mustRule(t *testing.T, r Rule) *CompiledRule {
	t.Helper()
	if r.DeviceID == "" {
		r.DeviceID = "ahu1"
	}
	c, err := Compile(r, nil)
	if err != nil {
		t.Fatalf("Compile(%s) error = %v", r.Code, err)
	}
	return c
}

func newGate(t *testing.T, tables constraint.Tables) *constraint.Gate {
	t.Helper()
	g, err := constraint.NewGate(tables)
	if err != nil {
		t.Fatalf("NewGate() error = %v", err)
	}
	return g
}

func snap(at time.Time, values map[string]float64) *device.Snapshot {
	return device.NewSnapshot("ahu1", at, values, nil)
}

func newEngine(t *testing.T, gate Gate, rules ...*CompiledRule) (*Engine, *mockWriter, *mockPublisher) {
	t.Helper()
	w := &mockWriter{}
	p := &mockPublisher{}
	if gate == nil {
		gate = newGate(t, constraint.Tables{})
	}
	e := NewEngine(w, gate, p, Config{DefaultLockTTL: time.Minute})
	if err := e.Register("ahu1", rules, nil); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	return e, w, p
}

func outcomes(ds []Decision) map[string]Outcome {
	out := make(map[string]Outcome, len(ds))
	for _, d := range ds {
		out[d.RuleCode] = d.Outcome
	}
	return out
}

// ─── Tests ─────────────────────────────────────────────────────────

func TestCycle_HigherPriorityWins(t *testing.T) {
	p1 := mustRule(t, Rule{Code: "P1", Priority: 1, Condition: gt("temp", 30), Parameter: "fan", Policy: discrete(100)})
	p2 := mustRule(t, Rule{Code: "P2", Priority: 2, Condition: gt("temp", 20), Parameter: "fan", Policy: discrete(40)})
	e, w, p := newEngine(t, nil, p2, p1)

	ds := e.Cycle(context.Background(), snap(t0, map[string]float64{"temp": 35, "fan": 0}))
	got := outcomes(ds)
	if got["P1"] != OutcomeApplied || got["P2"] != OutcomeSuperseded {
		t.Fatalf("outcomes = %v, want P1 applied and P2 superseded", got)
	}
	writes := w.all()
	if len(writes) != 1 || writes[0].value != 100 {
		t.Fatalf("writes = %+v, want one write of 100", writes)
	}
	if len(p.actions) != 1 || p.actions[0].RuleCode != "P1" || p.actions[0].Priority != 1 {
		t.Errorf("actions = %+v, want one P1 action", p.actions)
	}

	locks := e.Locks(t0)
	if len(locks) != 1 || locks[0].RuleCode != "P1" || !locks[0].ExpiresAt.Equal(t0.Add(time.Minute)) {
		t.Errorf("locks = %+v, want P1 lock expiring at %v", locks, t0.Add(time.Minute))
	}
}

func TestExecute_LowerPriorityBlockedByLock(t *testing.T) {
	p1 := mustRule(t, Rule{Code: "P1", Priority: 1, Condition: gt("temp", 30), Parameter: "fan", Policy: discrete(100)})
	p2 := mustRule(t, Rule{Code: "P2", Priority: 2, Condition: gt("temp", 20), Parameter: "fan", Policy: discrete(40)})
	e, w, _ := newEngine(t, nil, p1, p2)

	e.Cycle(context.Background(), snap(t0, map[string]float64{"temp": 35, "fan": 0}))

	d := e.Execute(context.Background(), Candidate{
		RuleCode: "P2", DeviceID: "ahu1", Parameter: "fan", Priority: 2, Policy: discrete(40),
	}, snap(t0.Add(10*time.Second), map[string]float64{"temp": 35, "fan": 100}))
	if d.Outcome != OutcomeLocked {
		t.Fatalf("Outcome = %s, want locked", d.Outcome)
	}
	if len(w.all()) != 1 {
		t.Errorf("writes = %d, want 1", len(w.all()))
	}
}

func TestCycle_LockHoldsWhileHolderUnavailable(t *testing.T) {
	p1 := mustRule(t, Rule{Code: "P1", Priority: 1, Condition: gt("co2", 1000), Parameter: "fan", Policy: discrete(100)})
	p2 := mustRule(t, Rule{Code: "P2", Priority: 2, Condition: gt("temp", 20), Parameter: "fan", Policy: discrete(40)})
	e, w, _ := newEngine(t, nil, p1, p2)
	ctx := context.Background()

	e.Cycle(ctx, snap(t0, map[string]float64{"co2": 1200, "temp": 25, "fan": 0}))

	// co2 reads the sentinel: P1 cannot be evaluated, so its lock stays.
	ds := e.Cycle(ctx, snap(t0.Add(5*time.Second), map[string]float64{"co2": registermap.Sentinel, "temp": 25, "fan": 100}))
	got := outcomes(ds)
	if got["P1"] != OutcomeInvalidInput || got["P2"] != OutcomeLocked {
		t.Fatalf("outcomes = %v, want P1 invalid_input and P2 locked", got)
	}
	if len(w.all()) != 1 {
		t.Errorf("writes = %d, want 1", len(w.all()))
	}
}

func TestCycle_LockReleasedWhenHolderFalse(t *testing.T) {
	p1 := mustRule(t, Rule{Code: "P1", Priority: 1, Condition: gt("temp", 30), Parameter: "fan", Policy: discrete(100)})
	p2 := mustRule(t, Rule{Code: "P2", Priority: 2, Condition: gt("temp", 20), Parameter: "fan", Policy: discrete(40)})
	e, w, _ := newEngine(t, nil, p1, p2)
	ctx := context.Background()

	e.Cycle(ctx, snap(t0, map[string]float64{"temp": 35, "fan": 0}))
	ds := e.Cycle(ctx, snap(t0.Add(5*time.Second), map[string]float64{"temp": 25, "fan": 100}))

	if got := outcomes(ds); got["P2"] != OutcomeApplied {
		t.Fatalf("outcomes = %v, want P2 applied", got)
	}
	writes := w.all()
	if len(writes) != 2 || writes[1].value != 40 {
		t.Fatalf("writes = %+v, want second write of 40", writes)
	}
	locks := e.Locks(t0.Add(5 * time.Second))
	if len(locks) != 1 || locks[0].RuleCode != "P2" {
		t.Errorf("locks = %+v, want P2", locks)
	}
}

func TestExecute_LockExpires(t *testing.T) {
	p1 := mustRule(t, Rule{Code: "P1", Priority: 1, Condition: gt("temp", 30), Parameter: "fan", Policy: discrete(100), LockTTLSec: 30})
	e, _, _ := newEngine(t, nil, p1)
	e.Cycle(context.Background(), snap(t0, map[string]float64{"temp": 35, "fan": 0}))

	c := Candidate{RuleCode: "P2", DeviceID: "ahu1", Parameter: "fan", Priority: 2, Policy: discrete(40)}
	tests := []struct {
		name string
		at   time.Time
		want Outcome
	}{
		{"before expiry", t0.Add(29 * time.Second), OutcomeLocked},
		{"at expiry", t0.Add(30 * time.Second), OutcomeApplied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := e.Execute(context.Background(), c, snap(tt.at, map[string]float64{"temp": 35, "fan": 100}))
			if d.Outcome != tt.want {
				t.Errorf("Outcome = %s, want %s", d.Outcome, tt.want)
			}
		})
	}
}

func TestExecute_EmergencyOverrideBypassesLock(t *testing.T) {
	p1 := mustRule(t, Rule{Code: "P1", Priority: 1, Condition: gt("temp", 30), Parameter: "fan", Policy: discrete(100)})
	e, w, p := newEngine(t, nil, p1)
	e.Cycle(context.Background(), snap(t0, map[string]float64{"temp": 35, "fan": 0}))

	d := e.Execute(context.Background(), Candidate{
		RuleCode: "FIRE", DeviceID: "ahu1", Parameter: "fan", Priority: 9,
		EmergencyOverride: true, Policy: discrete(0),
	}, snap(t0.Add(time.Second), map[string]float64{"temp": 35, "fan": 100}))

	if d.Outcome != OutcomeApplied {
		t.Fatalf("Outcome = %s (%s), want applied", d.Outcome, d.Error)
	}
	if ws := w.all(); ws[len(ws)-1].value != 0 {
		t.Errorf("last write = %v, want 0", ws[len(ws)-1].value)
	}
	locks := e.Locks(t0.Add(time.Second))
	if len(locks) != 1 || locks[0].RuleCode != "FIRE" || locks[0].Priority != 9 || !locks[0].EmergencyOverride {
		t.Errorf("locks = %+v, want FIRE override lock at priority 9", locks)
	}
	if !p.actions[len(p.actions)-1].EmergencyOverride {
		t.Error("action not flagged as emergency override")
	}
}

func TestCycle_EmergencyOverrideOrderedFirst(t *testing.T) {
	p1 := mustRule(t, Rule{Code: "P1", Priority: 1, Condition: gt("temp", 30), Parameter: "fan", Policy: discrete(100)})
	fire := mustRule(t, Rule{Code: "FIRE", Priority: 50, Condition: gt("smoke", 0), Parameter: "fan", Policy: discrete(0), EmergencyOverride: true})
	e, _, _ := newEngine(t, nil, p1, fire)

	ds := e.Cycle(context.Background(), snap(t0, map[string]float64{"temp": 35, "smoke": 1, "fan": 50}))
	if len(ds) != 2 || ds[0].RuleCode != "FIRE" || ds[0].Outcome != OutcomeApplied || ds[1].Outcome != OutcomeSuperseded {
		t.Errorf("decisions = %+v, want FIRE applied then P1 superseded", ds)
	}
}

func TestCycle_ConstraintViolationFallsThrough(t *testing.T) {
	gate := newGate(t, constraint.Tables{
		Global: map[string]constraint.Bounds{"setpoint": {Min: f(0), Max: f(60)}},
	})
	p1 := mustRule(t, Rule{Code: "HOT", Priority: 1, Condition: gt("temp", 30), Parameter: "setpoint", Policy: discrete(70)})
	p2 := mustRule(t, Rule{Code: "WARM", Priority: 2, Condition: gt("temp", 20), Parameter: "setpoint", Policy: discrete(55)})
	e, w, _ := newEngine(t, gate, p1, p2)

	ds := e.Cycle(context.Background(), snap(t0, map[string]float64{"temp": 35, "setpoint": 40}))
	got := outcomes(ds)
	if got["HOT"] != OutcomeConstraintViolation || got["WARM"] != OutcomeApplied {
		t.Fatalf("outcomes = %v, want HOT constraint_violation and WARM applied", got)
	}
	for _, wr := range w.all() {
		if wr.value == 70 {
			t.Error("out of range value reached the writer")
		}
	}
}

func TestCycle_RedundantWriteSkippedLockRefreshed(t *testing.T) {
	p1 := mustRule(t, Rule{Code: "P1", Priority: 1, Condition: gt("temp", 30), Parameter: "fan", Policy: discrete(100)})
	e, w, _ := newEngine(t, nil, p1)
	ctx := context.Background()

	e.Cycle(ctx, snap(t0, map[string]float64{"temp": 35, "fan": 0}))
	later := t0.Add(40 * time.Second)
	ds := e.Cycle(ctx, snap(later, map[string]float64{"temp": 35, "fan": 100}))

	if ds[0].Outcome != OutcomeRedundant {
		t.Fatalf("Outcome = %s, want redundant", ds[0].Outcome)
	}
	if len(w.all()) != 1 {
		t.Errorf("writes = %d, want 1", len(w.all()))
	}
	locks := e.Locks(later)
	if len(locks) != 1 || !locks[0].ExpiresAt.Equal(later.Add(time.Minute)) || !locks[0].AcquiredAt.Equal(t0) {
		t.Errorf("lock = %+v, want acquired %v expiring %v", locks, t0, later.Add(time.Minute))
	}
}

func TestCycle_IncrementalClamped(t *testing.T) {
	gate := newGate(t, constraint.Tables{
		Global: map[string]constraint.Bounds{"valve": {Min: f(0), Max: f(100)}},
	})
	r := mustRule(t, Rule{
		Code: "TRIM", Priority: 1, Condition: gt("temp", 0), Parameter: "valve",
		Policy: Policy{
			Kind:      PolicyIncrementalLinear,
			Input:     PolicyInput{Kind: InputThreshold, Source: "temp"},
			Gain:      2,
			Reference: 21,
		},
	})
	e, w, _ := newEngine(t, gate, r)

	tests := []struct {
		name  string
		temp  float64
		valve float64
		want  float64
	}{
		{"step up", 23, 50, 54},
		{"clamped high", 41, 90, 100},
		{"clamped low", 1, 10, 0},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			at := t0.Add(time.Duration(i) * time.Second)
			ds := e.Cycle(context.Background(), snap(at, map[string]float64{"temp": tt.temp, "valve": tt.valve}))
			if len(ds) != 1 || ds[0].Outcome != OutcomeApplied {
				t.Fatalf("decisions = %+v, want one applied", ds)
			}
			ws := w.all()
			if got := ws[len(ws)-1].value; got != tt.want {
				t.Errorf("written = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCycle_IncrementalCheckedByGate(t *testing.T) {
	r := mustRule(t, Rule{
		Code: "TRIM", Priority: 1, Condition: gt("temp", 0), Parameter: "valve",
		Policy: Policy{
			Kind:      PolicyIncrementalLinear,
			Input:     PolicyInput{Kind: InputThreshold, Source: "temp"},
			Gain:      2,
			Reference: 21,
		},
	})
	e, w, _ := newEngine(t, passThroughGate{max: 100}, r)

	ds := e.Cycle(context.Background(), snap(t0, map[string]float64{"temp": 41, "valve": 90}))
	if len(ds) != 1 || ds[0].Outcome != OutcomeConstraintViolation {
		t.Fatalf("decisions = %+v, want one constraint_violation", ds)
	}
	if len(w.all()) != 0 {
		t.Errorf("writes = %+v, want none", w.all())
	}
	if len(e.Locks(t0)) != 0 {
		t.Error("rejected write armed a lock")
	}
}

func TestCycle_AbsoluteLinearDifference(t *testing.T) {
	r := mustRule(t, Rule{
		Code: "DELTA", Priority: 1, Condition: gt("supply", 0), Parameter: "speed",
		Policy: Policy{
			Kind:  PolicyAbsoluteLinear,
			Input: PolicyInput{Kind: InputDifference, Sources: []string{"supply", "return"}, Abs: true},
			Base:  20,
			Gain:  5,
		},
	})
	e, w, _ := newEngine(t, nil, r)

	e.Cycle(context.Background(), snap(t0, map[string]float64{"supply": 12, "return": 18, "speed": 0}))
	ws := w.all()
	if len(ws) != 1 || ws[0].value != 50 {
		t.Errorf("writes = %+v, want 50", ws)
	}
}

func TestCycle_WriteFailedStopsGroup(t *testing.T) {
	p1 := mustRule(t, Rule{Code: "P1", Priority: 1, Condition: gt("temp", 30), Parameter: "fan", Policy: discrete(100)})
	p2 := mustRule(t, Rule{Code: "P2", Priority: 2, Condition: gt("temp", 20), Parameter: "fan", Policy: discrete(40)})
	e, w, p := newEngine(t, nil, p1, p2)
	w.err = errors.New("bus timeout")

	ds := e.Cycle(context.Background(), snap(t0, map[string]float64{"temp": 35, "fan": 0}))
	got := outcomes(ds)
	if got["P1"] != OutcomeWriteFailed || got["P2"] != OutcomeSuperseded {
		t.Fatalf("outcomes = %v, want P1 write_failed and P2 superseded", got)
	}
	if len(e.Locks(t0)) != 0 {
		t.Error("lock armed after failed write")
	}
	if len(p.actions) != 0 {
		t.Error("action published after failed write")
	}
}

func TestCycle_OfflineDevice(t *testing.T) {
	p1 := mustRule(t, Rule{Code: "P1", Priority: 1, Condition: gt("temp", 30), Parameter: "fan", Policy: discrete(100)})
	e, w, _ := newEngine(t, nil, p1)
	m := &countingMetrics{}
	e.SetMetrics(m)

	ds := e.Cycle(context.Background(), device.SentinelSnapshot("ahu1", t0, []string{"temp", "fan"}))
	if len(ds) != 1 || ds[0].Outcome != OutcomeDeviceOffline {
		t.Fatalf("decisions = %+v, want one device_offline", ds)
	}
	if len(w.all()) != 0 {
		t.Error("write attempted on offline device")
	}
	if m.outcomes[string(OutcomeDeviceOffline)] != 1 {
		t.Errorf("metrics = %v", m.outcomes)
	}
}

func TestCycle_ScheduleRule(t *testing.T) {
	day, err := schedule.Compile(schedule.Schedule{
		ID:        schedule.DefaultID,
		Intervals: []schedule.Interval{{Start: "08:00", End: "18:00"}},
	}, "UTC")
	if err != nil {
		t.Fatalf("schedule.Compile() error = %v", err)
	}
	set, err := schedule.NewSet(day)
	if err != nil {
		t.Fatalf("NewSet() error = %v", err)
	}
	sr, err := CompileSchedule(ScheduleRule{
		Code: "OCC", DeviceID: "ahu1", Priority: 5, Parameter: "setpoint", Inside: 21, Outside: f(16),
	}, set)
	if err != nil {
		t.Fatalf("CompileSchedule() error = %v", err)
	}

	w := &mockWriter{}
	e := NewEngine(w, newGate(t, constraint.Tables{}), &mockPublisher{}, Config{})
	if err := e.Register("ahu1", nil, []*CompiledScheduleRule{sr}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	ctx := context.Background()

	e.Cycle(ctx, snap(t0, map[string]float64{"setpoint": 16}))
	ds := e.Cycle(ctx, snap(t0.Add(time.Minute), map[string]float64{"setpoint": 21}))
	if ds[0].Outcome != OutcomeRedundant {
		t.Errorf("second cycle = %s, want redundant", ds[0].Outcome)
	}
	e.Cycle(ctx, snap(t0.Add(7*time.Hour), map[string]float64{"setpoint": 21}))

	ws := w.all()
	if len(ws) != 2 || ws[0].value != 21 || ws[1].value != 16 {
		t.Errorf("writes = %+v, want 21 then 16", ws)
	}
}

func TestRegister_Validation(t *testing.T) {
	a := mustRule(t, Rule{Code: "A", Priority: 1, Condition: gt("temp", 30), Parameter: "fan", Policy: discrete(1)})
	other := mustRule(t, Rule{Code: "B", DeviceID: "ahu2", Priority: 1, Condition: gt("temp", 30), Parameter: "fan", Policy: discrete(1)})
	e := NewEngine(&mockWriter{}, newGate(t, constraint.Tables{}), &mockPublisher{}, Config{})

	tests := []struct {
		name  string
		rules []*CompiledRule
		want  error
	}{
		{"duplicate code", []*CompiledRule{a, a}, ErrDuplicateCode},
		{"wrong device", []*CompiledRule{other}, ErrInvalidRule},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := e.Register("ahu1", tt.rules, nil); !errors.Is(err, tt.want) {
				t.Errorf("Register() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestHandle_SnapshotsSuppressedDuringMaintenance(t *testing.T) {
	p1 := mustRule(t, Rule{Code: "P1", Priority: 1, Condition: gt("temp", 30), Parameter: "fan", Policy: discrete(100)})
	e, w, _ := newEngine(t, nil, p1)
	ctx := context.Background()

	_ = e.Handle(ctx, eventbus.Event{Topic: eventbus.TopicSnapshotAllowed, Payload: eventbus.SnapshotAllowed{Allowed: false}})
	_ = e.Handle(ctx, eventbus.Event{Topic: eventbus.TopicDeviceSnapshot, Payload: snap(t0, map[string]float64{"temp": 35, "fan": 0})})
	if len(w.all()) != 0 {
		t.Fatal("write during maintenance")
	}

	_ = e.Handle(ctx, eventbus.Event{Topic: eventbus.TopicSnapshotAllowed, Payload: eventbus.SnapshotAllowed{Allowed: true}})
	_ = e.Handle(ctx, eventbus.Event{Topic: eventbus.TopicDeviceSnapshot, Payload: snap(t0, map[string]float64{"temp": 35, "fan": 0})})
	if len(w.all()) != 1 {
		t.Errorf("writes = %d, want 1", len(w.all()))
	}
}

func TestHandle_NoActuationAfterShutdown(t *testing.T) {
	p1 := mustRule(t, Rule{Code: "P1", Priority: 1, Condition: gt("temp", 30), Parameter: "fan", Policy: discrete(100)})
	e, w, _ := newEngine(t, nil, p1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_ = e.Handle(ctx, eventbus.Event{Topic: eventbus.TopicDeviceSnapshot, Payload: snap(t0, map[string]float64{"temp": 35, "fan": 0})})
	if len(w.all()) != 0 {
		t.Errorf("writes = %+v, want none after shutdown", w.all())
	}
	if len(e.Decisions()) != 0 {
		t.Errorf("decisions = %+v, want none", e.Decisions())
	}
}

func TestDecisions_RingKeepsNewest(t *testing.T) {
	p1 := mustRule(t, Rule{Code: "P1", Priority: 1, Condition: gt("temp", 30), Parameter: "fan", Policy: discrete(100)})
	e := NewEngine(&mockWriter{}, newGate(t, constraint.Tables{}), &mockPublisher{}, Config{History: 3})
	if err := e.Register("ahu1", []*CompiledRule{p1}, nil); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		e.Cycle(context.Background(), device.SentinelSnapshot("ahu1", t0.Add(time.Duration(i)*time.Second), []string{"temp"}))
	}

	ds := e.Decisions()
	if len(ds) != 3 {
		t.Fatalf("len = %d, want 3", len(ds))
	}
	if !ds[0].Timestamp.Equal(t0.Add(2*time.Second)) || !ds[2].Timestamp.Equal(t0.Add(4*time.Second)) {
		t.Errorf("decisions not oldest-first: %v .. %v", ds[0].Timestamp, ds[2].Timestamp)
	}
}
