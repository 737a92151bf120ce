package embeddings

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/fyrsmithlabs/neron/internal/embeddings"

// Metrics holds embedding-related instruments.
type Metrics struct {
	meter    metric.Meter
	duration metric.Float64Histogram
	errors   metric.Int64Counter
}

// NewMetrics creates metric instruments for the embedding service.
// Instrument creation failures are tolerated; recording checks for nil.
func NewMetrics() *Metrics {
	m := &Metrics{
		meter: otel.Meter(instrumentationName),
	}
	m.duration, _ = m.meter.Float64Histogram(
		"neron.embedding.generation_duration_seconds",
		metric.WithDescription("Duration of query embedding generation in seconds, labeled by model"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	m.errors, _ = m.meter.Int64Counter(
		"neron.embedding.errors_total",
		metric.WithDescription("Total embedding generation errors by model"),
		metric.WithUnit("{error}"),
	)
	return m
}

// RecordGeneration records a single embedding call.
func (m *Metrics) RecordGeneration(ctx context.Context, model string, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("model", model),
	}
	if m.duration != nil {
		m.duration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	}
	if err != nil && m.errors != nil {
		m.errors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}
