// Package observe provides application-wide observability primitives for
// Sauti: OpenTelemetry metrics, tracing helpers, and structured logging
// enrichment.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via a standard /metrics endpoint. Tests should use [NewMetrics]
// with a custom [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Sauti metrics.
const meterName = "github.com/sauti-health/sauti"

// Metrics holds all OpenTelemetry metric instruments for the voice turn
// pipeline. All fields are safe for concurrent use — the underlying OTel
// types handle their own synchronisation.
type Metrics struct {
	// --- Latency histograms per turn stage ---

	// TurnDuration tracks the full round trip: submit → settle.
	TurnDuration metric.Float64Histogram

	// TransferDuration tracks the network round trip inside the transfer
	// manager (upload + remote processing under one watchdog).
	TransferDuration metric.Float64Histogram

	// PlaybackDuration tracks synthesized-speech playback time.
	PlaybackDuration metric.Float64Histogram

	// --- Counters ---

	// Turns counts settled turns. Use with attribute:
	//   attribute.String("status", "ok"|"error"|"cancelled")
	Turns metric.Int64Counter

	// TurnErrors counts classified turn failures. Use with attribute:
	//   attribute.String("kind", ...)
	TurnErrors metric.Int64Counter

	// CrisisAlerts counts crisis threshold crossings.
	CrisisAlerts metric.Int64Counter

	// --- Gauges ---

	// ActiveTurns tracks turns currently between submit and settle.
	// The Idle gating keeps this at 0 or 1 per machine.
	ActiveTurns metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice round-trip latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TurnDuration, err = m.Float64Histogram("sauti.turn.duration",
		metric.WithDescription("Full voice turn latency from submit to settle."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TransferDuration, err = m.Float64Histogram("sauti.transfer.duration",
		metric.WithDescription("Network round-trip latency of the processing request."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PlaybackDuration, err = m.Float64Histogram("sauti.playback.duration",
		metric.WithDescription("Synthesized speech playback time."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Turns, err = m.Int64Counter("sauti.turns",
		metric.WithDescription("Settled voice turns by status."),
	); err != nil {
		return nil, err
	}
	if met.TurnErrors, err = m.Int64Counter("sauti.turn.errors",
		metric.WithDescription("Classified turn failures by kind."),
	); err != nil {
		return nil, err
	}
	if met.CrisisAlerts, err = m.Int64Counter("sauti.crisis.alerts",
		metric.WithDescription("Crisis threshold crossings."),
	); err != nil {
		return nil, err
	}

	// Gauges.
	if met.ActiveTurns, err = m.Int64UpDownCounter("sauti.turns.active",
		metric.WithDescription("Turns currently in flight."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// RecordTurn records one settled turn with its duration and status. m may be
// nil, in which case the call is a no-op; this lets components treat metrics
// as optional without nil checks at every site.
func (m *Metrics) RecordTurn(ctx context.Context, d time.Duration, status string) {
	if m == nil {
		return
	}
	m.TurnDuration.Record(ctx, d.Seconds())
	m.Turns.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordTransfer records the network round-trip duration. m may be nil.
func (m *Metrics) RecordTransfer(ctx context.Context, d time.Duration) {
	if m == nil {
		return
	}
	m.TransferDuration.Record(ctx, d.Seconds())
}

// RecordPlayback records a playback duration. m may be nil.
func (m *Metrics) RecordPlayback(ctx context.Context, d time.Duration) {
	if m == nil {
		return
	}
	m.PlaybackDuration.Record(ctx, d.Seconds())
}

// RecordError counts a classified failure. m may be nil.
func (m *Metrics) RecordError(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.TurnErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordCrisisAlert counts one crisis alert. m may be nil.
func (m *Metrics) RecordCrisisAlert(ctx context.Context) {
	if m == nil {
		return
	}
	m.CrisisAlerts.Add(ctx, 1)
}

// TurnStarted marks a turn in flight. m may be nil.
func (m *Metrics) TurnStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveTurns.Add(ctx, 1)
}

// TurnSettled marks a turn settled. m may be nil.
func (m *Metrics) TurnSettled(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveTurns.Add(ctx, -1)
}
