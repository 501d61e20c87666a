package metrics

import (
	"bytes"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

// Metrics holds all Prometheus instruments. Every invocation builds its own
// registry; nothing registers globally.
type Metrics struct {
	registry *prometheus.Registry

	// Resilience metrics
	CallsTotal       *prometheus.CounterVec
	CallDuration     *prometheus.HistogramVec
	RetriesTotal     *prometheus.CounterVec
	TransitionsTotal *prometheus.CounterVec
	RejectedTotal    *prometheus.CounterVec

	// Queue metrics
	QueueDepth       *prometheus.GaugeVec
	EnqueuedTotal    *prometheus.CounterVec
	ReplaysTotal     *prometheus.CounterVec
	DeadLettersTotal prometheus.Counter

	// Scan metrics
	ScanDuration  prometheus.Histogram
	TasksFound    *prometheus.CounterVec
	ManifestsRead prometheus.Counter

	// Outbound HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// New creates a metrics collector backed by its own registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		CallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devtask_resilience_calls_total",
				Help: "Total operations routed through the resilience layer",
			},
			[]string{"feature", "outcome"},
		),
		CallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "devtask_resilience_call_duration_seconds",
				Help:    "Operation duration including local retries",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"feature"},
		),
		RetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devtask_resilience_retries_total",
				Help: "Total local retry attempts",
			},
			[]string{"feature"},
		),
		TransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devtask_breaker_transitions_total",
				Help: "Total circuit breaker state transitions",
			},
			[]string{"feature", "to", "reason"},
		),
		RejectedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devtask_breaker_rejected_total",
				Help: "Calls rejected without invoking the operation",
			},
			[]string{"feature"},
		),

		QueueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "devtask_queue_depth",
				Help: "Pending offline operations per feature",
			},
			[]string{"feature"},
		),
		EnqueuedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devtask_queue_enqueued_total",
				Help: "Operations deferred to the offline queue",
			},
			[]string{"feature"},
		),
		ReplaysTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devtask_queue_replays_total",
				Help: "Replay attempts by outcome",
			},
			[]string{"feature", "outcome"},
		),
		DeadLettersTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "devtask_queue_dead_letters_total",
				Help: "Operations moved to the dead-letter list",
			},
		),

		ScanDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "devtask_scan_duration_seconds",
				Help:    "Manifest discovery pass duration",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5},
			},
		),
		TasksFound: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devtask_scan_tasks_total",
				Help: "Tasks discovered per ecosystem",
			},
			[]string{"ecosystem"},
		),
		ManifestsRead: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "devtask_scan_manifests_total",
				Help: "Manifest files parsed",
			},
		),

		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devtask_http_requests_total",
				Help: "Outbound HTTP requests",
			},
			[]string{"host", "status"},
		),
		HTTPDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "devtask_http_request_duration_seconds",
				Help:    "Outbound HTTP request duration",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"host"},
		),
	}
}

// RecordCall records one resilience-layer operation and its outcome tag.
func (m *Metrics) RecordCall(feature, outcome string, duration time.Duration) {
	m.CallsTotal.WithLabelValues(feature, outcome).Inc()
	m.CallDuration.WithLabelValues(feature).Observe(duration.Seconds())
}

// RecordRetry records one local retry attempt.
func (m *Metrics) RecordRetry(feature string) {
	m.RetriesTotal.WithLabelValues(feature).Inc()
}

// RecordTransition records a breaker state change.
func (m *Metrics) RecordTransition(feature, to, reason string) {
	m.TransitionsTotal.WithLabelValues(feature, to, reason).Inc()
}

// RecordRejected records a call rejected by an open breaker.
func (m *Metrics) RecordRejected(feature string) {
	m.RejectedTotal.WithLabelValues(feature).Inc()
}

// RecordEnqueued records a deferred operation.
func (m *Metrics) RecordEnqueued(feature string) {
	m.EnqueuedTotal.WithLabelValues(feature).Inc()
}

// RecordReplay records one replay attempt outcome.
func (m *Metrics) RecordReplay(feature, outcome string) {
	m.ReplaysTotal.WithLabelValues(feature, outcome).Inc()
}

// RecordDeadLetter records an operation exhausting its replay budget.
func (m *Metrics) RecordDeadLetter() {
	m.DeadLettersTotal.Inc()
}

// SetQueueDepth sets the pending gauge for a feature.
func (m *Metrics) SetQueueDepth(feature string, depth int) {
	m.QueueDepth.WithLabelValues(feature).Set(float64(depth))
}

// RecordScan records a completed discovery pass.
func (m *Metrics) RecordScan(duration time.Duration) {
	m.ScanDuration.Observe(duration.Seconds())
}

// RecordTasks records discovered tasks per ecosystem.
func (m *Metrics) RecordTasks(ecosystem string, count int) {
	m.TasksFound.WithLabelValues(ecosystem).Add(float64(count))
}

// RecordManifest records one parsed manifest.
func (m *Metrics) RecordManifest() {
	m.ManifestsRead.Inc()
}

// RecordHTTPRequest records an outbound HTTP request.
func (m *Metrics) RecordHTTPRequest(host, status string, duration time.Duration) {
	m.HTTPRequests.WithLabelValues(host, status).Inc()
	m.HTTPDuration.WithLabelValues(host).Observe(duration.Seconds())
}

// Render gathers the registry and renders it as Prometheus text exposition,
// consumed by `devtask status --metrics`.
func (m *Metrics) Render() (string, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return "", fmt.Errorf("gather metrics: %w", err)
	}

	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, family := range families {
		if err := enc.Encode(family); err != nil {
			return "", fmt.Errorf("encode metric family: %w", err)
		}
	}
	return buf.String(), nil
}
