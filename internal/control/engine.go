package control

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/fieldbus-core/internal/condition"
	"github.com/nerrad567/fieldbus-core/internal/device"
	"github.com/nerrad567/fieldbus-core/internal/eventbus"
)

// DefaultLockTTL applies when neither the rule nor the config sets one.
const DefaultLockTTL = 5 * time.Minute

// defaultHistory is the number of recent decisions kept for inspection.
const defaultHistory = 256

// equalEpsilon is the tolerance for the redundant-write comparison.
const equalEpsilon = 1e-9

// Logger defines the logging interface used by the control engine.
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

// Writer performs a parameter write and returns the value applied.
// device.Registry satisfies it.
type Writer interface {
	Write(ctx context.Context, deviceID, param string, value float64) (float64, error)
}

// Publisher is the part of the event bus the engine needs.
type Publisher interface {
	Publish(ctx context.Context, topic eventbus.Topic, payload any) (eventbus.Event, error)
}

// Metrics receives one signal per decision.
type Metrics interface {
	ControlDecision(outcome string)
}

type noopMetrics struct{}

func (noopMetrics) ControlDecision(string) {}

// Config holds control engine settings.
type Config struct {
	// DefaultLockTTL is used for rules without lock_ttl_sec.
	DefaultLockTTL time.Duration

	// History is the number of recent decisions retained. Zero means 256.
	History int
}

// deviceRules is the registered rule set of one device.
type deviceRules struct {
	rules     []*CompiledRule
	schedules []*CompiledScheduleRule

	// order lists every rule code in declaration order: condition rules
	// first, then schedule rules.
	order map[string]int
}

// Engine evaluates control rules on each device snapshot, arbitrates
// competing writes per (device, parameter) and executes the winner through
// the Constraint Gate and the device writer.
//
// Arbitration for one parameter, in order:
//  1. emergency overrides first, then ascending priority number, then
//     declaration order
//  2. the first candidate that applies, is redundant, or fails to write
//     ends the group; later candidates are superseded
//  3. locked, invalid or out-of-range candidates fall through to the next
//
// Thread Safety:
//   - Register must complete before snapshots are delivered.
//   - Cycle may run concurrently for different devices. The lock table is
//     guarded per (device, parameter).
type Engine struct {
	writer  Writer
	gate    Gate
	bus     Publisher
	cfg     Config
	eval    *condition.Evaluator
	locks   *LockTable
	allowed *eventbus.Gate
	logger  Logger
	metrics Metrics

	mu      sync.RWMutex
	devices map[string]*deviceRules

	histMu  sync.Mutex
	history []Decision
	next    int
	filled  bool
}

// NewEngine creates a control engine.
func NewEngine(writer Writer, gate Gate, bus Publisher, cfg Config) *Engine {
	if cfg.DefaultLockTTL <= 0 {
		cfg.DefaultLockTTL = DefaultLockTTL
	}
	if cfg.History <= 0 {
		cfg.History = defaultHistory
	}
	return &Engine{
		writer:  writer,
		gate:    gate,
		bus:     bus,
		cfg:     cfg,
		eval:    condition.NewEvaluator(),
		locks:   NewLockTable(),
		allowed: eventbus.NewGate(),
		logger:  noopLogger{},
		metrics: noopMetrics{},
		devices: make(map[string]*deviceRules),
		history: make([]Decision, cfg.History),
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

// Register installs the rules of one device. Codes must be unique across
// both rule kinds and every rule must target deviceID.
func (e *Engine) Register(deviceID string, rules []*CompiledRule, schedules []*CompiledScheduleRule) error {
	dr := &deviceRules{
		rules:     rules,
		schedules: schedules,
		order:     make(map[string]int, len(rules)+len(schedules)),
	}
	add := func(code, owner string) error {
		if owner != deviceID {
			return fmt.Errorf("%w: %s targets device %q, registered for %q", ErrInvalidRule, code, owner, deviceID)
		}
		if _, dup := dr.order[code]; dup {
			return fmt.Errorf("%w: %q for device %s", ErrDuplicateCode, code, deviceID)
		}
		dr.order[code] = len(dr.order)
		return nil
	}
	for _, r := range rules {
		if err := add(r.Code, r.DeviceID); err != nil {
			return err
		}
	}
	for _, r := range schedules {
		if err := add(r.Code, r.DeviceID); err != nil {
			return err
		}
	}

	e.mu.Lock()
	e.devices[deviceID] = dr
	e.mu.Unlock()
	return nil
}

// Handle is the bus handler for DEVICE_SNAPSHOT and SNAPSHOT_ALLOWED events.
func (e *Engine) Handle(ctx context.Context, ev eventbus.Event) error {
	if e.allowed.Observe(ev) {
		return nil
	}
	snap, ok := ev.Payload.(*device.Snapshot)
	if !ok || !e.allowed.Allowed() {
		return nil
	}
	if ctx.Err() != nil {
		e.logger.Debug("shutting down, snapshot not actuated", "device_id", snap.DeviceID)
		return nil
	}
	e.Cycle(ctx, snap)
	return nil
}

// Cycle runs one evaluation and arbitration pass for the snapshot's device
// and returns a decision for every rule that produced one.
func (e *Engine) Cycle(ctx context.Context, snap *device.Snapshot) []Decision {
	e.mu.RLock()
	dr := e.devices[snap.DeviceID]
	e.mu.RUnlock()
	if dr == nil {
		return nil
	}

	var decisions []Decision
	if !snap.Online {
		for _, r := range dr.rules {
			decisions = append(decisions, e.record(offline(snap, r.Code, r.Priority, r.Parameter, r.Policy.Kind)))
		}
		for _, r := range dr.schedules {
			decisions = append(decisions, e.record(offline(snap, r.Code, r.Priority, r.Parameter, PolicyDiscrete)))
		}
		e.logger.Debug("control cycle skipped for offline device", "device_id", snap.DeviceID)
		return decisions
	}

	var candidates []Candidate
	for _, r := range dr.rules {
		res, err := e.eval.Evaluate(snap.DeviceID+"/"+r.Code, r.tree, snap, snap.Timestamp)
		if err != nil {
			d := e.record(Decision{
				DeviceID:  snap.DeviceID,
				Parameter: r.Parameter,
				RuleCode:  r.Code,
				Priority:  r.Priority,
				Policy:    r.Policy.Kind,
				Outcome:   OutcomeInvalidInput,
				Error:     err.Error(),
				Timestamp: snap.Timestamp,
			})
			e.logger.Warn("control rule evaluation failed",
				"device_id", snap.DeviceID, "rule_code", r.Code, "error", err)
			decisions = append(decisions, d)
			continue
		}
		if !res.Satisfied {
			e.release(snap.DeviceID, r.Parameter, r.Code)
			continue
		}
		candidates = append(candidates, Candidate{
			RuleCode:          r.Code,
			Origin:            OriginRule,
			DeviceID:          snap.DeviceID,
			Parameter:         r.Parameter,
			Priority:          r.Priority,
			EmergencyOverride: r.EmergencyOverride,
			Policy:            r.Policy,
			TTL:               e.ttl(r.ttl),
			Reason:            res.Reason,
		})
	}
	for _, r := range dr.schedules {
		c, ok := r.candidate(snap.Timestamp)
		if !ok {
			e.release(snap.DeviceID, r.Parameter, r.Code)
			continue
		}
		c.TTL = e.ttl(r.ttl)
		candidates = append(candidates, c)
	}

	for _, group := range groupByParameter(candidates, dr.order) {
		decisions = append(decisions, e.arbitrate(ctx, group, snap)...)
	}
	return decisions
}

// candidate returns the schedule rule's standing candidate at t. A rule
// outside its window without an outside value has none.
func (r *CompiledScheduleRule) candidate(t time.Time) (Candidate, bool) {
	active := r.sched.Active(t)
	v := r.Inside
	if !active {
		if r.Outside == nil {
			return Candidate{}, false
		}
		v = *r.Outside
	}
	return Candidate{
		RuleCode:  r.Code,
		Origin:    OriginSchedule,
		DeviceID:  r.DeviceID,
		Parameter: r.Parameter,
		Priority:  r.Priority,
		Policy:    Policy{Kind: PolicyDiscrete, Value: &v},
		Reason:    fmt.Sprintf("schedule:%s=%t", r.sched.ID(), active),
	}, true
}

// groupByParameter splits candidates per parameter and orders each group
// for arbitration. Groups follow the parameter's first appearance.
func groupByParameter(cs []Candidate, order map[string]int) [][]Candidate {
	idx := make(map[string]int)
	var groups [][]Candidate
	for _, c := range cs {
		i, ok := idx[c.Parameter]
		if !ok {
			i = len(groups)
			idx[c.Parameter] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], c)
	}
	for _, g := range groups {
		sort.SliceStable(g, func(i, j int) bool {
			a, b := g[i], g[j]
			if a.EmergencyOverride != b.EmergencyOverride {
				return a.EmergencyOverride
			}
			if a.Priority != b.Priority {
				return a.Priority < b.Priority
			}
			return order[a.RuleCode] < order[b.RuleCode]
		})
	}
	return groups
}

func (e *Engine) arbitrate(ctx context.Context, group []Candidate, snap *device.Snapshot) []Decision {
	out := make([]Decision, 0, len(group))
	done := false
	for _, c := range group {
		if done {
			out = append(out, e.record(Decision{
				DeviceID:  c.DeviceID,
				Parameter: c.Parameter,
				RuleCode:  c.RuleCode,
				Priority:  c.Priority,
				Policy:    c.Policy.Kind,
				Outcome:   OutcomeSuperseded,
				Reason:    c.Reason,
				Timestamp: snap.Timestamp,
			}))
			continue
		}
		d := e.Execute(ctx, c, snap)
		out = append(out, d)
		switch d.Outcome {
		case OutcomeApplied, OutcomeRedundant, OutcomeWriteFailed:
			done = true
		}
	}
	return out
}

// Execute runs a single candidate against the lock table, the Constraint
// Gate and the writer. The snapshot supplies policy inputs, the current
// parameter value and the decision time.
func (e *Engine) Execute(ctx context.Context, c Candidate, snap *device.Snapshot) Decision {
	now := snap.Timestamp
	d := Decision{
		DeviceID:  c.DeviceID,
		Parameter: c.Parameter,
		RuleCode:  c.RuleCode,
		Priority:  c.Priority,
		Policy:    c.Policy.Kind,
		Reason:    c.Reason,
		Timestamp: now,
	}
	if c.TTL <= 0 {
		c.TTL = e.cfg.DefaultLockTTL
	}

	v, err := target(c, snap, e.gate)
	if err != nil {
		d.Outcome = OutcomeInvalidInput
		d.Error = err.Error()
		return e.record(d)
	}
	d.Value = v

	if l, blocked := e.locks.Blocking(c, now); blocked {
		d.Outcome = OutcomeLocked
		d.Error = fmt.Errorf("%w: held by %s (priority %d) until %s",
			ErrLocked, l.RuleCode, l.Priority, l.ExpiresAt.Format(time.RFC3339)).Error()
		return e.record(d)
	}

	if err := e.gate.Check(c.DeviceID, c.Parameter, v); err != nil {
		d.Outcome = OutcomeConstraintViolation
		d.Error = err.Error()
		e.logger.Warn("control write rejected by constraint",
			"device_id", c.DeviceID, "rule_code", c.RuleCode, "parameter", c.Parameter, "value", v, "error", err)
		return e.record(d)
	}

	if cur, ok := snap.Value(c.Parameter); ok && math.Abs(cur-v) <= equalEpsilon {
		e.locks.Arm(c, v, now)
		d.Outcome = OutcomeRedundant
		return e.record(d)
	}

	applied, err := e.writer.Write(ctx, c.DeviceID, c.Parameter, v)
	if err != nil {
		d.Outcome = OutcomeWriteFailed
		d.Error = err.Error()
		e.logger.Error("control write failed",
			"device_id", c.DeviceID, "rule_code", c.RuleCode, "parameter", c.Parameter, "error", err)
		return e.record(d)
	}
	d.Value = applied
	d.Outcome = OutcomeApplied
	e.locks.Arm(c, applied, now)

	e.logger.Info("control action applied",
		"device_id", c.DeviceID, "rule_code", c.RuleCode, "parameter", c.Parameter,
		"value", applied, "priority", c.Priority, "override", c.EmergencyOverride)

	action := Action{
		DeviceID:          c.DeviceID,
		Parameter:         c.Parameter,
		RuleCode:          c.RuleCode,
		Priority:          c.Priority,
		Value:             applied,
		Policy:            c.Policy.Kind,
		EmergencyOverride: c.EmergencyOverride,
		Reason:            c.Reason,
		Timestamp:         now,
	}
	if _, err := e.bus.Publish(ctx, eventbus.TopicControlAction, action); err != nil && !errors.Is(err, context.Canceled) {
		e.logger.Warn("control action publish failed", "device_id", c.DeviceID, "rule_code", c.RuleCode, "error", err)
	}
	return e.record(d)
}

func (e *Engine) release(deviceID, param, code string) {
	if e.locks.Release(deviceID, param, code) {
		e.logger.Debug("priority lock released", "device_id", deviceID, "parameter", param, "rule_code", code)
	}
}

func (e *Engine) ttl(rule time.Duration) time.Duration {
	if rule > 0 {
		return rule
	}
	return e.cfg.DefaultLockTTL
}

func offline(snap *device.Snapshot, code string, priority int, param string, kind PolicyKind) Decision {
	return Decision{
		DeviceID:  snap.DeviceID,
		Parameter: param,
		RuleCode:  code,
		Priority:  priority,
		Policy:    kind,
		Outcome:   OutcomeDeviceOffline,
		Timestamp: snap.Timestamp,
	}
}

// record counts d and appends it to the history ring.
func (e *Engine) record(d Decision) Decision {
	e.metrics.ControlDecision(string(d.Outcome))

	e.histMu.Lock()
	e.history[e.next] = d
	e.next = (e.next + 1) % len(e.history)
	if e.next == 0 {
		e.filled = true
	}
	e.histMu.Unlock()
	return d
}

// Decisions returns the retained decisions, oldest first.
func (e *Engine) Decisions() []Decision {
	e.histMu.Lock()
	defer e.histMu.Unlock()
	if !e.filled {
		return append([]Decision(nil), e.history[:e.next]...)
	}
	out := make([]Decision, 0, len(e.history))
	out = append(out, e.history[e.next:]...)
	return append(out, e.history[:e.next]...)
}

// Locks returns the live priority locks at now.
func (e *Engine) Locks(now time.Time) []Lock {
	return e.locks.Snapshot(now)
}
