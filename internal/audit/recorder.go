package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/fieldbus-core/internal/alert"
	"github.com/nerrad567/fieldbus-core/internal/control"
	"github.com/nerrad567/fieldbus-core/internal/eventbus"
)

// Actions recorded in the audit trail.
const (
	ActionAlertTransition = "alert_transition"
	ActionControlWrite    = "control_write"
)

// Entity types and sources.
const (
	EntityDevice        = "device"
	SourceAlertEngine   = "alert_engine"
	SourceControlEngine = "control_engine"
)

const pruneInterval = time.Hour

// Logger defines the logging interface used by the recorder.
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

// Recorder turns ALERT_EVENT and CONTROL_ACTION bus events into audit rows
// and prunes rows older than the retention period.
type Recorder struct {
	repo      Repository
	retention time.Duration
	logger    Logger
	now       func() time.Time
}

// NewRecorder creates a recorder. A zero retention disables pruning.
func NewRecorder(repo Repository, retention time.Duration) *Recorder {
	return &Recorder{
		repo:      repo,
		retention: retention,
		logger:    noopLogger{},
		now:       time.Now,
	}
}

// SetLogger sets the logger for the recorder.
func (r *Recorder) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// Topics lists the bus topics Handle consumes.
func (r *Recorder) Topics() []eventbus.Topic {
	return []eventbus.Topic{eventbus.TopicAlertEvent, eventbus.TopicControlAction}
}

// Handle is the bus handler. Unknown topics and payloads are ignored.
func (r *Recorder) Handle(ctx context.Context, ev eventbus.Event) error {
	entry, ok := entryFor(ev)
	if !ok {
		return nil
	}
	// Events already observed are recorded even while shutting down.
	if err := r.repo.Create(context.WithoutCancel(ctx), entry); err != nil {
		return fmt.Errorf("recording %s: %w", ev.Topic, err)
	}
	return nil
}

func entryFor(ev eventbus.Event) (*AuditLog, bool) {
	switch p := ev.Payload.(type) {
	case alert.Event:
		return alertEntry(p), true
	case *alert.Event:
		if p != nil {
			return alertEntry(*p), true
		}
	case control.Action:
		return controlEntry(p), true
	case *control.Action:
		if p != nil {
			return controlEntry(*p), true
		}
	}
	return nil, false
}

func alertEntry(e alert.Event) *AuditLog {
	return &AuditLog{
		Action:     ActionAlertTransition,
		EntityType: EntityDevice,
		EntityID:   e.DeviceID,
		Source:     SourceAlertEngine,
		Details: map[string]any{
			"code":      e.Code,
			"old_state": string(e.OldState),
			"new_state": string(e.NewState),
			"severity":  string(e.Severity),
			"value":     e.Value,
			"message":   e.Message,
		},
		CreatedAt: e.Timestamp,
	}
}

func controlEntry(a control.Action) *AuditLog {
	details := map[string]any{
		"parameter": a.Parameter,
		"rule_code": a.RuleCode,
		"priority":  a.Priority,
		"value":     a.Value,
		"policy":    string(a.Policy),
	}
	if a.EmergencyOverride {
		details["emergency_override"] = true
	}
	if a.Reason != "" {
		details["reason"] = a.Reason
	}
	return &AuditLog{
		Action:     ActionControlWrite,
		EntityType: EntityDevice,
		EntityID:   a.DeviceID,
		Source:     SourceControlEngine,
		Details:    details,
		CreatedAt:  a.Timestamp,
	}
}

// Prune deletes rows older than the retention period. It is a no-op when
// retention is zero.
func (r *Recorder) Prune(ctx context.Context) (int64, error) {
	if r.retention <= 0 {
		return 0, nil
	}
	return r.repo.Prune(ctx, r.now().Add(-r.retention))
}

// Run prunes once at start and then hourly until ctx is cancelled.
func (r *Recorder) Run(ctx context.Context) error {
	if r.retention <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		n, err := r.Prune(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			r.logger.Warn("audit prune failed", "error", err)
		case n > 0:
			r.logger.Info("audit logs pruned", "rows", n, "retention", r.retention.String())
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
