// Package metrics exposes the core's degradation and throughput signals as
// Prometheus collectors on a private registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fieldcore"

// Collectors holds every metric the core reports.
//
// It satisfies the narrow metrics interfaces of the sampler, event bus,
// alert engine and control engine, so those packages never import
// Prometheus directly.
type Collectors struct {
	registry *prometheus.Registry

	samplerCycles        prometheus.Counter
	samplerOverruns      prometheus.Counter
	samplerCycleDuration prometheus.Histogram
	deviceOnline         *prometheus.GaugeVec
	deviceReadErrors     *prometheus.CounterVec

	busPublished  *prometheus.CounterVec
	busDelivered  *prometheus.CounterVec
	busDropped    *prometheus.CounterVec
	busPanics     *prometheus.CounterVec
	busQueueDepth *prometheus.GaugeVec

	alertTransitions   *prometheus.CounterVec
	alertNotifications *prometheus.CounterVec
	alertEvalErrors    *prometheus.CounterVec

	controlDecisions *prometheus.CounterVec
}

// New creates and registers all collectors, plus the Go runtime and process
// collectors.
func New() *Collectors {
	c := &Collectors{
		registry: prometheus.NewRegistry(),

		samplerCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sampler",
			Name: "cycles_total", Help: "Completed sampler cycles",
		}),
		samplerOverruns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sampler",
			Name: "overruns_total", Help: "Sampler cycles that took longer than the period",
		}),
		samplerCycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "sampler",
			Name: "cycle_duration_seconds", Help: "Wall time of one sampler cycle",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		deviceOnline: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "device",
			Name: "online", Help: "1 if the device's last snapshot was online",
		}, []string{"device_id"}),
		deviceReadErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "device",
			Name: "read_errors_total", Help: "Device read passes that failed",
		}, []string{"device_id", "kind"}),

		busPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bus",
			Name: "published_total", Help: "Events published per topic",
		}, []string{"topic"}),
		busDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bus",
			Name: "delivered_total", Help: "Events handled per subscriber",
		}, []string{"subscriber"}),
		busDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bus",
			Name: "dropped_total", Help: "Events dropped from full subscriber queues",
		}, []string{"subscriber"}),
		busPanics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bus",
			Name: "subscriber_panics_total", Help: "Recovered subscriber panics",
		}, []string{"subscriber"}),
		busQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "bus",
			Name: "queue_depth", Help: "Events waiting in a subscriber queue",
		}, []string{"subscriber"}),

		alertTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "alert",
			Name: "transitions_total", Help: "Alert state transitions",
		}, []string{"code", "state"}),
		alertNotifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "alert",
			Name: "notifications_total", Help: "Alert notifications emitted",
		}, []string{"code", "state"}),
		alertEvalErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "alert",
			Name: "evaluation_errors_total", Help: "Alert rule evaluations that failed",
		}, []string{"code"}),

		controlDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "control",
			Name: "decisions_total", Help: "Control arbitration outcomes",
		}, []string{"outcome"}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.samplerCycles, c.samplerOverruns, c.samplerCycleDuration,
		c.deviceOnline, c.deviceReadErrors,
		c.busPublished, c.busDelivered, c.busDropped, c.busPanics, c.busQueueDepth,
		c.alertTransitions, c.alertNotifications, c.alertEvalErrors,
		c.controlDecisions,
	)
	return c
}

// Registry returns the underlying Prometheus registry.
func (c *Collectors) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns the /metrics HTTP handler.
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// ─── Sampler ───────────────────────────────────────────────────────

// CycleCompleted records one sampler cycle.
func (c *Collectors) CycleCompleted(d time.Duration) {
	c.samplerCycles.Inc()
	c.samplerCycleDuration.Observe(d.Seconds())
}

// CycleOverrun records a cycle that exceeded its period.
func (c *Collectors) CycleOverrun() {
	c.samplerOverruns.Inc()
}

// DeviceSampled records a device's online state after a read pass.
func (c *Collectors) DeviceSampled(deviceID string, online bool) {
	v := 0.0
	if online {
		v = 1
	}
	c.deviceOnline.WithLabelValues(deviceID).Set(v)
}

// DeviceReadFailed records a failed read pass.
func (c *Collectors) DeviceReadFailed(deviceID, kind string) {
	c.deviceReadErrors.WithLabelValues(deviceID, kind).Inc()
}

// ─── Event bus ─────────────────────────────────────────────────────

// EventPublished implements eventbus.Metrics.
func (c *Collectors) EventPublished(topic string) {
	c.busPublished.WithLabelValues(topic).Inc()
}

// EventDelivered implements eventbus.Metrics.
func (c *Collectors) EventDelivered(subscriber string) {
	c.busDelivered.WithLabelValues(subscriber).Inc()
}

// EventDropped implements eventbus.Metrics.
func (c *Collectors) EventDropped(subscriber string) {
	c.busDropped.WithLabelValues(subscriber).Inc()
}

// SubscriberPanic implements eventbus.Metrics.
func (c *Collectors) SubscriberPanic(subscriber string) {
	c.busPanics.WithLabelValues(subscriber).Inc()
}

// QueueDepth implements eventbus.Metrics.
func (c *Collectors) QueueDepth(subscriber string, depth int) {
	c.busQueueDepth.WithLabelValues(subscriber).Set(float64(depth))
}

// ─── Alerts and control ────────────────────────────────────────────

// AlertTransition records an alert state change.
func (c *Collectors) AlertTransition(code, state string) {
	c.alertTransitions.WithLabelValues(code, state).Inc()
}

// AlertNotified records an emitted alert notification.
func (c *Collectors) AlertNotified(code, state string) {
	c.alertNotifications.WithLabelValues(code, state).Inc()
}

// AlertEvaluationFailed records a rule that could not be evaluated.
func (c *Collectors) AlertEvaluationFailed(code string) {
	c.alertEvalErrors.WithLabelValues(code).Inc()
}

// ControlDecision records one arbitration outcome.
func (c *Collectors) ControlDecision(outcome string) {
	c.controlDecisions.WithLabelValues(outcome).Inc()
}
