package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/fieldbus-core/internal/alert"
	"github.com/nerrad567/fieldbus-core/internal/control"
	"github.com/nerrad567/fieldbus-core/internal/device"
	"github.com/nerrad567/fieldbus-core/internal/eventbus"
	"github.com/nerrad567/fieldbus-core/internal/infrastructure/mqtt"
)

// WebSocket channels events are broadcast on.
const (
	ChannelSnapshot    = "device.snapshot"
	ChannelAlert       = "alert.event"
	ChannelControl     = "control.action"
	ChannelMaintenance = "maintenance.changed"
)

// MQTT is the subset of the MQTT client used by the relay.
type MQTT interface {
	PublishJSON(topic string, v any, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Sink records history. The InfluxDB client satisfies it.
type Sink interface {
	WriteSnapshot(deviceID string, online bool, values map[string]float64, ts time.Time)
	WriteControlAction(deviceID, param, ruleCode string, value float64, ts time.Time)
	WriteAlertEvent(deviceID, code, severity string, active bool, ts time.Time)
}

// Broadcaster pushes events to live clients. The API WebSocket hub satisfies it.
type Broadcaster interface {
	Broadcast(channel string, payload any)
}

// Publisher publishes onto the event bus.
type Publisher interface {
	Publish(ctx context.Context, topic eventbus.Topic, payload any) (eventbus.Event, error)
}

// Logger defines the logging interface used by the relay.
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

// Option configures a Relay. Outputs that are not configured are skipped.
type Option func(*Relay)

// WithMQTT enables MQTT publication and the maintenance command input.
func WithMQTT(c MQTT) Option {
	return func(r *Relay) { r.mqtt = c }
}

// WithSink enables the historical sink.
func WithSink(s Sink) Option {
	return func(r *Relay) { r.sink = s }
}

// WithBroadcaster enables WebSocket fan-out.
func WithBroadcaster(b Broadcaster) Option {
	return func(r *Relay) { r.ws = b }
}

// Relay fans bus events out to MQTT, the historical sink and WebSocket
// clients, and turns MQTT maintenance commands into SNAPSHOT_ALLOWED events.
//
// Thread Safety:
//   - Handle is called from the relay's own bus subscription goroutine.
//   - Start and Stop may be called from any goroutine.
type Relay struct {
	bus    Publisher
	mqtt   MQTT
	sink   Sink
	ws     Broadcaster
	topics mqtt.Topics
	qos    byte
	logger Logger

	mu        sync.Mutex
	cmdCtx    context.Context //nolint:containedctx // lifetime of the maintenance subscription
	cmdCancel context.CancelFunc
}

// New creates a relay that publishes maintenance commands onto bus.
func New(bus Publisher, opts ...Option) *Relay {
	r := &Relay{
		bus:    bus,
		qos:    1,
		logger: noopLogger{},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// SetLogger sets the logger for the relay.
func (r *Relay) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// Topics lists the bus topics Handle consumes.
func (r *Relay) Topics() []eventbus.Topic {
	return []eventbus.Topic{
		eventbus.TopicDeviceSnapshot,
		eventbus.TopicAlertEvent,
		eventbus.TopicControlAction,
		eventbus.TopicSnapshotAllowed,
	}
}

// Start subscribes to the MQTT maintenance command topic. Commands received
// after ctx is cancelled are dropped. Start is a no-op without MQTT.
func (r *Relay) Start(ctx context.Context) error {
	if r.mqtt == nil {
		return nil
	}

	r.mu.Lock()
	r.cmdCtx, r.cmdCancel = context.WithCancel(ctx)
	r.mu.Unlock()

	topic := r.topics.Maintenance()
	if err := r.mqtt.Subscribe(topic, r.qos, r.handleMaintenance); err != nil {
		return fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	r.logger.Info("maintenance command subscription active", "topic", topic)
	return nil
}

// Stop removes the maintenance subscription.
func (r *Relay) Stop() {
	r.mu.Lock()
	cancel := r.cmdCancel
	r.cmdCancel = nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if err := r.mqtt.Unsubscribe(r.topics.Maintenance()); err != nil {
		r.logger.Debug("maintenance unsubscribe failed", "error", err)
	}
}

// Handle is the bus handler.
func (r *Relay) Handle(_ context.Context, ev eventbus.Event) error {
	switch p := ev.Payload.(type) {
	case *device.Snapshot:
		if p != nil {
			return r.relaySnapshot(p)
		}
	case alert.Event:
		return r.relayAlert(p)
	case control.Action:
		return r.relayControl(p)
	case eventbus.SnapshotAllowed:
		r.broadcast(ChannelMaintenance, p)
	}
	return nil
}

func (r *Relay) relaySnapshot(snap *device.Snapshot) error {
	if r.sink != nil {
		values := make(map[string]float64, len(snap.Values))
		for name := range snap.Values {
			if v, ok := snap.Value(name); ok {
				values[name] = v
			}
		}
		r.sink.WriteSnapshot(snap.DeviceID, snap.Online, values, snap.Timestamp)
	}
	r.broadcast(ChannelSnapshot, snap)
	return r.publish(r.topics.State(snap.DeviceID), snap, true)
}

func (r *Relay) relayAlert(ev alert.Event) error {
	if r.sink != nil {
		r.sink.WriteAlertEvent(ev.DeviceID, ev.Code, string(ev.Severity), ev.NewState != alert.StateResolved, ev.Timestamp)
	}
	r.broadcast(ChannelAlert, ev)
	return r.publish(r.topics.Alert(ev.DeviceID, ev.Code), ev, false)
}

func (r *Relay) relayControl(a control.Action) error {
	if r.sink != nil {
		r.sink.WriteControlAction(a.DeviceID, a.Parameter, a.RuleCode, a.Value, a.Timestamp)
	}
	r.broadcast(ChannelControl, a)
	return r.publish(r.topics.Control(a.DeviceID, a.Parameter), a, false)
}

func (r *Relay) broadcast(channel string, payload any) {
	if r.ws != nil {
		r.ws.Broadcast(channel, payload)
	}
}

func (r *Relay) publish(topic string, v any, retained bool) error {
	if r.mqtt == nil {
		return nil
	}
	if err := r.mqtt.PublishJSON(topic, v, retained); err != nil {
		return fmt.Errorf("publishing %s: %w", topic, err)
	}
	return nil
}

// maintenanceCommand is the payload of the maintenance command topic.
type maintenanceCommand struct {
	SnapshotsAllowed *bool  `json:"snapshots_allowed"`
	Reason           string `json:"reason,omitempty"`
}

func parseMaintenance(payload []byte) (eventbus.SnapshotAllowed, error) {
	var cmd maintenanceCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return eventbus.SnapshotAllowed{}, fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}
	if cmd.SnapshotsAllowed == nil {
		return eventbus.SnapshotAllowed{}, fmt.Errorf("%w: snapshots_allowed is required", ErrInvalidCommand)
	}
	return eventbus.SnapshotAllowed{Allowed: *cmd.SnapshotsAllowed, Reason: cmd.Reason}, nil
}

func (r *Relay) handleMaintenance(topic string, payload []byte) error {
	signal, err := parseMaintenance(payload)
	if err != nil {
		r.logger.Warn("ignoring maintenance command", "topic", topic, "error", err)
		return nil
	}

	r.mu.Lock()
	ctx := r.cmdCtx
	r.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return nil
	}

	if _, err := r.bus.Publish(ctx, eventbus.TopicSnapshotAllowed, signal); err != nil {
		return fmt.Errorf("publishing snapshot allowed: %w", err)
	}
	r.logger.Info("maintenance signal received", "snapshots_allowed", signal.Allowed, "reason", signal.Reason)
	return nil
}
