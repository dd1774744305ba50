// Package telemetry implements the event recorder port on Prometheus and
// OpenTelemetry, and builds the process tracer and meter providers.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/clinicore/actiongate/internal/port/outbound"
)

const namespace = "actiongate"

// Metrics holds all Prometheus metrics for actiongate.
// It is also an outbound.EventRecorder.
type Metrics struct {
	StageDuration        *prometheus.HistogramVec
	Events               *prometheus.CounterVec
	AdminRequestsTotal   *prometheus.CounterVec
	AdminRequestDuration *prometheus.HistogramVec
	PendingApprovals     prometheus.Gauge
	RateLimitKeys        prometheus.Gauge
}

// Compile-time check that Metrics implements outbound.EventRecorder.
var _ outbound.EventRecorder = (*Metrics)(nil)

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		StageDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Latency of pipeline stages",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"stage", "outcome"},
		),
		Events: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_total",
				Help:      "Governance outcomes by event and outcome",
			},
			[]string{"event", "outcome"},
		),
		AdminRequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "admin_requests_total",
				Help:      "Total number of admin API requests",
			},
			[]string{"method", "status"}, // status class: 2xx, 4xx, 5xx
		),
		AdminRequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "admin_request_duration_seconds",
				Help:      "Admin API request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		PendingApprovals: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pending_approvals",
				Help:      "Number of plans waiting for a human decision",
			},
		),
		RateLimitKeys: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "rate_limit_keys",
				Help:      "Number of active rate limit keys",
			},
		),
	}
}

// RecordLatency implements outbound.EventRecorder.
func (m *Metrics) RecordLatency(stage outbound.Stage, outcome string, d time.Duration) {
	m.StageDuration.WithLabelValues(string(stage), outcome).Observe(d.Seconds())
}

// RecordEvent implements outbound.EventRecorder.
func (m *Metrics) RecordEvent(event outbound.Event, outcome string) {
	m.Events.WithLabelValues(string(event), outcome).Inc()
}
