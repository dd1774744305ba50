package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/clinicore/actiongate/internal/port/outbound"
)

// InstrumentationName is the meter and tracer name used by actiongate.
const InstrumentationName = "github.com/clinicore/actiongate"

// MeterRecorder records events on OpenTelemetry instruments.
type MeterRecorder struct {
	duration metric.Float64Histogram
	events   metric.Int64Counter
}

// Compile-time check that MeterRecorder implements outbound.EventRecorder.
var _ outbound.EventRecorder = (*MeterRecorder)(nil)

// NewMeterRecorder creates the instruments on a meter from mp.
func NewMeterRecorder(mp metric.MeterProvider) (*MeterRecorder, error) {
	meter := mp.Meter(InstrumentationName)

	duration, err := meter.Float64Histogram("actiongate.stage.duration",
		metric.WithDescription("Latency of pipeline stages"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create stage duration histogram: %w", err)
	}
	events, err := meter.Int64Counter("actiongate.events",
		metric.WithDescription("Governance outcomes by event and outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("create events counter: %w", err)
	}
	return &MeterRecorder{duration: duration, events: events}, nil
}

// RecordLatency implements outbound.EventRecorder.
func (r *MeterRecorder) RecordLatency(stage outbound.Stage, outcome string, d time.Duration) {
	r.duration.Record(context.Background(), d.Seconds(), metric.WithAttributes(
		attribute.String("stage", string(stage)),
		attribute.String("outcome", outcome),
	))
}

// RecordEvent implements outbound.EventRecorder.
func (r *MeterRecorder) RecordEvent(event outbound.Event, outcome string) {
	r.events.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("event", string(event)),
		attribute.String("outcome", outcome),
	))
}

// Multi fans every call out to each recorder in order.
type Multi []outbound.EventRecorder

// Compile-time check that Multi implements outbound.EventRecorder.
var _ outbound.EventRecorder = Multi(nil)

// RecordLatency implements outbound.EventRecorder.
func (m Multi) RecordLatency(stage outbound.Stage, outcome string, d time.Duration) {
	for _, r := range m {
		r.RecordLatency(stage, outcome, d)
	}
}

// RecordEvent implements outbound.EventRecorder.
func (m Multi) RecordEvent(event outbound.Event, outcome string) {
	for _, r := range m {
		r.RecordEvent(event, outcome)
	}
}
