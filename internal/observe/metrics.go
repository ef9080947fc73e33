package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"drivemail/internal/ports"
)

// meterName is the instrumentation scope for every drivemail instrument.
const meterName = "drivemail"

// latencyBuckets are histogram boundaries in seconds. Remote calls in a turn
// run from tens of milliseconds up to the request timeout.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30,
}

var _ ports.TurnMetrics = (*Metrics)(nil)

// Metrics holds the OpenTelemetry instruments for a voice turn.
type Metrics struct {
	TranscriptionDuration metric.Float64Histogram
	IntentDuration        metric.Float64Histogram
	SendDuration          metric.Float64Histogram

	// Turns counts finished turns by outcome.
	Turns metric.Int64Counter
}

// NewMetrics creates the instruments on mp. A nil mp uses the global
// provider, which is a no-op until one is installed.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TranscriptionDuration, err = m.Float64Histogram("drivemail.transcription.duration",
		metric.WithDescription("Latency of speech transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.IntentDuration, err = m.Float64Histogram("drivemail.intent.duration",
		metric.WithDescription("Latency of intent resolution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SendDuration, err = m.Float64Histogram("drivemail.send.duration",
		metric.WithDescription("Latency of sending a confirmed draft."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Turns, err = m.Int64Counter("drivemail.turns",
		metric.WithDescription("Finished voice turns by outcome."),
	); err != nil {
		return nil, err
	}
	return met, nil
}

// RecordStage records the latency of one remote stage. Unknown stages are
// dropped.
func (m *Metrics) RecordStage(ctx context.Context, stage string, d time.Duration, err error) {
	var h metric.Float64Histogram
	switch stage {
	case "transcription":
		h = m.TranscriptionDuration
	case "intent":
		h = m.IntentDuration
	case "send":
		h = m.SendDuration
	default:
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	h.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("status", status)))
}

// RecordTurn counts a finished turn.
func (m *Metrics) RecordTurn(ctx context.Context, outcome string) {
	m.Turns.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
