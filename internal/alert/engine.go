package alert

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/fieldbus-core/internal/condition"
	"github.com/nerrad567/fieldbus-core/internal/device"
	"github.com/nerrad567/fieldbus-core/internal/eventbus"
)

// Logger defines the logging interface used by the alert engine.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Publisher is the part of the event bus the engine needs.
type Publisher interface {
	Publish(ctx context.Context, topic eventbus.Topic, payload any) (eventbus.Event, error)
}

// Metrics receives alert transition and failure signals.
type Metrics interface {
	AlertTransition(code, state string)
	AlertNotified(code, state string)
	AlertEvaluationFailed(code string)
}

type noopMetrics struct{}

func (noopMetrics) AlertTransition(string, string) {}
func (noopMetrics) AlertNotified(string, string)   {}
func (noopMetrics) AlertEvaluationFailed(string)   {}

// Event is the payload of eventbus.TopicAlertEvent.
type Event struct {
	DeviceID  string    `json:"device_id"`
	Code      string    `json:"code"`
	OldState  State     `json:"old_state"`
	NewState  State     `json:"new_state"`
	Value     float64   `json:"value"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type stateKey struct {
	device, code string
}

// entry guards one (device, code) state.
type entry struct {
	mu  sync.Mutex
	rec Record
}

// Engine evaluates alert rules on every device snapshot and drives the
// per-(device, code) state machine.
//
// A rule that cannot be evaluated (missing or unavailable source) is
// reported and its state is left unchanged; the other rules still run.
//
// Thread Safety:
//   - Register must complete before snapshots are delivered.
//   - Handle, States and State are safe for concurrent use. Each state has
//     its own lock; no lock spans devices.
type Engine struct {
	bus     Publisher
	repo    Repository
	eval    *condition.Evaluator
	gate    *eventbus.Gate
	logger  Logger
	metrics Metrics

	mu     sync.RWMutex
	rules  map[string][]*CompiledRule
	states map[stateKey]*entry
	stored map[stateKey]Record
}

// NewEngine creates an alert engine. repo may be nil to keep state in memory only.
func NewEngine(bus Publisher, repo Repository) *Engine {
	return &Engine{
		bus:     bus,
		repo:    repo,
		eval:    condition.NewEvaluator(),
		gate:    eventbus.NewGate(),
		logger:  noopLogger{},
		metrics: noopMetrics{},
		rules:   make(map[string][]*CompiledRule),
		states:  make(map[stateKey]*entry),
	}
}

// SetLogger sets the logger for the engine.
func (e *Engine) SetLogger(logger Logger) {
	if logger != nil {
		e.logger = logger
	}
}

// SetMetrics sets the metrics sink.
func (e *Engine) SetMetrics(m Metrics) {
	if m != nil {
		e.metrics = m
	}
}

// Topics returns the topics Handle expects to be subscribed to.
func (e *Engine) Topics() []eventbus.Topic {
	return []eventbus.Topic{eventbus.TopicDeviceSnapshot, eventbus.TopicSnapshotAllowed}
}

// Restore loads persisted state. Records for rules registered later are
// resumed instead of starting at NORMAL.
func (e *Engine) Restore(ctx context.Context) error {
	if e.repo == nil {
		return nil
	}
	recs, err := e.repo.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("restoring alert states: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stored = make(map[stateKey]Record, len(recs))
	for _, rec := range recs {
		e.stored[stateKey{rec.DeviceID, rec.Code}] = rec
	}
	e.logger.Info("alert states restored", "count", len(recs))
	return nil
}

// Register installs the effective rule set of one device and creates a
// NORMAL state for every code without a stored one.
func (e *Engine) Register(ctx context.Context, deviceID string, rules []*CompiledRule) error {
	seen := make(map[string]struct{}, len(rules))
	for _, r := range rules {
		if _, dup := seen[r.Code]; dup {
			return fmt.Errorf("%w: %q for device %s", ErrDuplicateCode, r.Code, deviceID)
		}
		seen[r.Code] = struct{}{}
	}

	now := time.Now().UTC()
	var fresh []Record

	e.mu.Lock()
	e.rules[deviceID] = rules
	for _, r := range rules {
		key := stateKey{deviceID, r.Code}
		if _, ok := e.states[key]; ok {
			continue
		}
		rec, ok := e.stored[key]
		if !ok {
			rec = newRecord(deviceID, r.Code, now)
			fresh = append(fresh, rec)
		}
		e.states[key] = &entry{rec: rec}
	}
	e.mu.Unlock()

	for _, rec := range fresh {
		e.persist(ctx, rec)
	}
	return nil
}

// Handle is the bus handler for DEVICE_SNAPSHOT and SNAPSHOT_ALLOWED events.
func (e *Engine) Handle(ctx context.Context, ev eventbus.Event) error {
	if e.gate.Observe(ev) {
		return nil
	}
	snap, ok := ev.Payload.(*device.Snapshot)
	if !ok {
		return nil
	}
	if !e.gate.Allowed() {
		return nil
	}
	e.Evaluate(ctx, snap)
	return nil
}

// Evaluate runs every rule of the snapshot's device. An offline snapshot
// leaves all states unchanged.
func (e *Engine) Evaluate(ctx context.Context, snap *device.Snapshot) {
	if !snap.Online {
		e.logger.Debug("skipping alert evaluation for offline device", "device_id", snap.DeviceID)
		return
	}

	e.mu.RLock()
	rules := e.rules[snap.DeviceID]
	e.mu.RUnlock()

	for _, r := range rules {
		e.evaluateRule(ctx, snap, r)
	}
}

func (e *Engine) evaluateRule(ctx context.Context, snap *device.Snapshot, r *CompiledRule) {
	res, err := e.eval.Evaluate(snap.DeviceID+"/"+r.Code, r.tree, snap, snap.Timestamp)
	if err != nil {
		e.metrics.AlertEvaluationFailed(r.Code)
		e.logger.Warn("alert rule evaluation failed",
			"device_id", snap.DeviceID, "alert_code", r.Code, "error", err)
		return
	}

	e.mu.RLock()
	ent := e.states[stateKey{snap.DeviceID, r.Code}]
	e.mu.RUnlock()
	if ent == nil {
		return
	}

	ent.mu.Lock()
	if v, ok := res.Value(); ok {
		ent.rec.LastValue = &v
	}
	t := step(&ent.rec, res.Satisfied, snap.Timestamp, r.confirm, r.NotifyOn)
	rec := ent.rec
	ent.mu.Unlock()

	if !t.changed() {
		return
	}

	e.metrics.AlertTransition(r.Code, string(t.to))
	e.logger.Info("alert state changed",
		"device_id", snap.DeviceID, "alert_code", r.Code,
		"from", t.from, "to", t.to, "reason", res.Reason)
	e.persist(ctx, rec)

	if !t.notify {
		return
	}
	data := messageData(snap.DeviceID, r, t.to, res, snap.Timestamp)
	out := Event{
		DeviceID:  snap.DeviceID,
		Code:      r.Code,
		OldState:  t.from,
		NewState:  t.to,
		Value:     data.Value,
		Severity:  r.Severity,
		Message:   r.render(data),
		Reason:    res.Reason,
		Timestamp: snap.Timestamp,
	}
	if _, err := e.bus.Publish(ctx, eventbus.TopicAlertEvent, out); err != nil {
		e.logger.Warn("alert event publish failed", "device_id", snap.DeviceID, "alert_code", r.Code, "error", err)
		return
	}
	e.metrics.AlertNotified(r.Code, string(t.to))
}

func (e *Engine) persist(ctx context.Context, rec Record) {
	if e.repo == nil {
		return
	}
	if err := e.repo.Save(context.WithoutCancel(ctx), rec); err != nil {
		e.logger.Error("persisting alert state failed",
			"device_id", rec.DeviceID, "alert_code", rec.Code, "error", err)
	}
}

// State returns the current record for (deviceID, code).
func (e *Engine) State(deviceID, code string) (Record, error) {
	e.mu.RLock()
	ent := e.states[stateKey{deviceID, code}]
	e.mu.RUnlock()
	if ent == nil {
		return Record{}, fmt.Errorf("%w: %s/%s", ErrUnknownDevice, deviceID, code)
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	return ent.rec, nil
}

// States returns a copy of every record, ordered by device and code.
func (e *Engine) States() []Record {
	e.mu.RLock()
	entries := make([]*entry, 0, len(e.states))
	for _, ent := range e.states {
		entries = append(entries, ent)
	}
	e.mu.RUnlock()

	out := make([]Record, 0, len(entries))
	for _, ent := range entries {
		ent.mu.Lock()
		out = append(out, ent.rec)
		ent.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DeviceID != out[j].DeviceID {
			return out[i].DeviceID < out[j].DeviceID
		}
		return out[i].Code < out[j].Code
	})
	return out
}
