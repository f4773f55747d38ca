package alert

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/fieldbus-core/internal/condition"
	"github.com/nerrad567/fieldbus-core/internal/device"
	"github.com/nerrad567/fieldbus-core/internal/eventbus"
)

// ─── Mock Dependencies ─────────────────────────────────────────────

type mockPublisher struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (m *mockPublisher) Publish(_ context.Context, topic eventbus.Topic, payload any) (eventbus.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return eventbus.Event{}, m.err
	}
	if topic == eventbus.TopicAlertEvent {
		m.events = append(m.events, payload.(Event))
	}
	return eventbus.Event{Topic: topic, Payload: payload}, nil
}

func (m *mockPublisher) published() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

type memRepo struct {
	mu      sync.Mutex
	records map[string]Record
	saves   int
}

func newMemRepo(recs ...Record) *memRepo {
	r := &memRepo{records: map[string]Record{}}
	for _, rec := range recs {
		r.records[rec.DeviceID+"/"+rec.Code] = rec
	}
	return r
}

func (r *memRepo) LoadAll(context.Context) ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	return out, nil
}

func (r *memRepo) Save(_ context.Context, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[rec.DeviceID+"/"+rec.Code] = rec
	r.saves++
	return nil
}

func (r *memRepo) get(id string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	return rec, ok
}

type countingMetrics struct {
	mu       sync.Mutex
	failures map[string]int
}

func (m *countingMetrics) AlertTransition(string, string) {}
func (m *countingMetrics) AlertNotified(string, string)   {}
func (m *countingMetrics) AlertEvaluationFailed(code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[code]++
}

// ─── Helpers ───────────────────────────────────────────────────────

func f(v float64) *float64 { return &v }

func highTemp(t *testing.T, message string) *CompiledRule {
	t.Helper()
	r, err := Compile(Rule{
		Code:     "HIGH_TEMP",
		Name:     "High temperature",
		Severity: SeverityCritical,
		Condition: condition.Node{
			Type: condition.KindThreshold, Source: "temp",
			Operator: condition.OpGT, Threshold: f(60), Hysteresis: 2,
		},
		Message: message,
	}, nil)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	return r
}

func lowFlow(t *testing.T) *CompiledRule {
	t.Helper()
	r, err := Compile(Rule{
		Code: "LOW_FLOW",
		Condition: condition.Node{
			Type: condition.KindThreshold, Source: "flow",
			Operator: condition.OpLT, Threshold: f(1),
		},
	}, nil)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	return r
}

func snapAt(sec int, values map[string]float64) *device.Snapshot {
	return device.NewSnapshot("pump-1", t0.Add(time.Duration(sec)*time.Second), values, nil)
}

// ─── Tests ─────────────────────────────────────────────────────────

func TestEngine_NotifiesOncePerRun(t *testing.T) {
	pub := &mockPublisher{}
	repo := newMemRepo()
	e := NewEngine(pub, repo)
	ctx := context.Background()
	if err := e.Register(ctx, "pump-1", []*CompiledRule{highTemp(t, "")}); err != nil {
		t.Fatal(err)
	}

	temps := []float64{50, 61, 62, 63, 60, 59.5, 58, 57.5, 57}
	for i, v := range temps {
		e.Evaluate(ctx, snapAt(i, map[string]float64{"temp": v}))
	}

	events := pub.published()
	if len(events) != 2 {
		t.Fatalf("published %d events, want 2: %+v", len(events), events)
	}
	if events[0].NewState != StateTriggered || events[0].OldState != StateNormal {
		t.Errorf("first event = %s -> %s", events[0].OldState, events[0].NewState)
	}
	if events[0].Message != "[CRITICAL] High temperature: temp=61.0 gt 60" {
		t.Errorf("trigger message = %q", events[0].Message)
	}
	if events[0].Severity != SeverityCritical || events[0].Value != 61 {
		t.Errorf("trigger event = %+v", events[0])
	}
	// Hysteresis holds the alert down to 58.
	if events[1].NewState != StateResolved || events[1].Value != 57.5 {
		t.Errorf("second event = %+v", events[1])
	}
	if !strings.HasPrefix(events[1].Message, "[RESOLVED] High temperature: temp=57.5 returned to normal") {
		t.Errorf("resolve message = %q", events[1].Message)
	}

	rec, err := e.State("pump-1", "HIGH_TEMP")
	if err != nil || rec.State != StateNormal {
		t.Errorf("final state = %+v, %v", rec, err)
	}
	stored, ok := repo.get("pump-1/HIGH_TEMP")
	if !ok || stored.State != StateNormal {
		t.Errorf("stored state = %+v", stored)
	}
}

func TestEngine_FailedRuleDoesNotBlockOthers(t *testing.T) {
	pub := &mockPublisher{}
	metrics := &countingMetrics{failures: map[string]int{}}
	e := NewEngine(pub, nil)
	e.SetMetrics(metrics)
	ctx := context.Background()
	if err := e.Register(ctx, "pump-1", []*CompiledRule{lowFlow(t), highTemp(t, "")}); err != nil {
		t.Fatal(err)
	}

	// No flow parameter in the snapshot at all.
	e.Evaluate(ctx, snapAt(0, map[string]float64{"temp": 70}))

	if rec, _ := e.State("pump-1", "LOW_FLOW"); rec.State != StateNormal {
		t.Errorf("LOW_FLOW state = %s, want unchanged NORMAL", rec.State)
	}
	if rec, _ := e.State("pump-1", "HIGH_TEMP"); rec.State != StateTriggered {
		t.Errorf("HIGH_TEMP state = %s, want TRIGGERED", rec.State)
	}
	if metrics.failures["LOW_FLOW"] != 1 {
		t.Errorf("failures = %v", metrics.failures)
	}
}

func TestEngine_OfflineSnapshotLeavesState(t *testing.T) {
	e := NewEngine(&mockPublisher{}, nil)
	ctx := context.Background()
	_ = e.Register(ctx, "pump-1", []*CompiledRule{highTemp(t, "")})

	e.Evaluate(ctx, snapAt(0, map[string]float64{"temp": 70}))
	e.Evaluate(ctx, device.SentinelSnapshot("pump-1", t0.Add(time.Second), []string{"temp"}))

	if rec, _ := e.State("pump-1", "HIGH_TEMP"); rec.State != StateTriggered {
		t.Errorf("state after offline snapshot = %s", rec.State)
	}
}

func TestEngine_TemplateMessage(t *testing.T) {
	pub := &mockPublisher{}
	e := NewEngine(pub, nil)
	ctx := context.Background()
	_ = e.Register(ctx, "pump-1", []*CompiledRule{
		highTemp(t, "{{.DeviceID}} {{.Code}} {{.State}} at {{printf \"%.0f\" .Value}}"),
	})

	e.Evaluate(ctx, snapAt(0, map[string]float64{"temp": 65}))

	events := pub.published()
	if len(events) != 1 || events[0].Message != "pump-1 HIGH_TEMP TRIGGERED at 65" {
		t.Errorf("events = %+v", events)
	}
}

func TestEngine_GateSuppressesSnapshots(t *testing.T) {
	pub := &mockPublisher{}
	e := NewEngine(pub, nil)
	ctx := context.Background()
	_ = e.Register(ctx, "pump-1", []*CompiledRule{highTemp(t, "")})

	deliver := func(topic eventbus.Topic, payload any) {
		if err := e.Handle(ctx, eventbus.Event{Topic: topic, Payload: payload}); err != nil {
			t.Fatalf("Handle() error = %v", err)
		}
	}

	deliver(eventbus.TopicSnapshotAllowed, eventbus.SnapshotAllowed{Allowed: false, Reason: "maintenance"})
	deliver(eventbus.TopicDeviceSnapshot, snapAt(0, map[string]float64{"temp": 70}))
	if n := len(pub.published()); n != 0 {
		t.Fatalf("published %d events during maintenance", n)
	}

	deliver(eventbus.TopicSnapshotAllowed, eventbus.SnapshotAllowed{Allowed: true})
	deliver(eventbus.TopicDeviceSnapshot, snapAt(1, map[string]float64{"temp": 70}))
	if n := len(pub.published()); n != 1 {
		t.Errorf("published %d events after maintenance, want 1", n)
	}
}

func TestEngine_RestoreResumesState(t *testing.T) {
	triggered := t0.Add(-time.Minute)
	repo := newMemRepo(Record{
		DeviceID: "pump-1", Code: "HIGH_TEMP", State: StateActive,
		Since: triggered, LastTriggered: &triggered, Notified: true,
	})
	pub := &mockPublisher{}
	e := NewEngine(pub, repo)
	ctx := context.Background()

	if err := e.Restore(ctx); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	_ = e.Register(ctx, "pump-1", []*CompiledRule{highTemp(t, ""), lowFlow(t)})

	if rec, _ := e.State("pump-1", "HIGH_TEMP"); rec.State != StateActive {
		t.Fatalf("restored state = %s", rec.State)
	}
	if _, ok := repo.get("pump-1/LOW_FLOW"); !ok {
		t.Error("new rule state not persisted at registration")
	}

	// Still true: no repeat notification. Then false: one RESOLVED.
	e.Evaluate(ctx, snapAt(0, map[string]float64{"temp": 70, "flow": 5}))
	e.Evaluate(ctx, snapAt(1, map[string]float64{"temp": 40, "flow": 5}))

	events := pub.published()
	if len(events) != 1 || events[0].NewState != StateResolved {
		t.Errorf("events = %+v", events)
	}
}

func TestEngine_PublishFailureKeepsState(t *testing.T) {
	pub := &mockPublisher{err: eventbus.ErrClosed}
	e := NewEngine(pub, nil)
	ctx := context.Background()
	_ = e.Register(ctx, "pump-1", []*CompiledRule{highTemp(t, "")})

	e.Evaluate(ctx, snapAt(0, map[string]float64{"temp": 70}))
	if rec, _ := e.State("pump-1", "HIGH_TEMP"); rec.State != StateTriggered {
		t.Errorf("state = %s", rec.State)
	}
}

func TestEngine_RegisterRejectsDuplicates(t *testing.T) {
	e := NewEngine(&mockPublisher{}, nil)
	err := e.Register(context.Background(), "pump-1", []*CompiledRule{highTemp(t, ""), highTemp(t, "")})
	if !errors.Is(err, ErrDuplicateCode) {
		t.Errorf("Register() error = %v", err)
	}
	if _, err := e.State("pump-9", "X"); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("State(unknown) error = %v", err)
	}
}

func TestEngine_StatesSorted(t *testing.T) {
	e := NewEngine(&mockPublisher{}, nil)
	ctx := context.Background()
	_ = e.Register(ctx, "pump-2", []*CompiledRule{highTemp(t, "")})
	_ = e.Register(ctx, "pump-1", []*CompiledRule{lowFlow(t), highTemp(t, "")})

	got := e.States()
	want := []string{"pump-1/HIGH_TEMP", "pump-1/LOW_FLOW", "pump-2/HIGH_TEMP"}
	if len(got) != len(want) {
		t.Fatalf("States() len = %d", len(got))
	}
	for i, rec := range got {
		if rec.DeviceID+"/"+rec.Code != want[i] {
			t.Errorf("States()[%d] = %s/%s, want %s", i, rec.DeviceID, rec.Code, want[i])
		}
	}
}
