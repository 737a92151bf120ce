package http

import (
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const httpInstrumentationName = "github.com/fyrsmithlabs/neron/internal/http"

// HTTPMetrics holds HTTP-related instruments.
type HTTPMetrics struct {
	meter          metric.Meter
	requestsTotal  metric.Int64Counter
	requestDur     metric.Float64Histogram
	activeRequests metric.Int64UpDownCounter
	authFailures   metric.Int64Counter
}

// NewHTTPMetrics creates HTTP metric instruments.
// Instrument creation failures are tolerated; recording checks for nil.
func NewHTTPMetrics() *HTTPMetrics {
	m := &HTTPMetrics{
		meter: otel.Meter(httpInstrumentationName),
	}
	m.requestsTotal, _ = m.meter.Int64Counter(
		"neron.http.requests_total",
		metric.WithDescription("Total HTTP requests labeled by method, endpoint and status code"),
		metric.WithUnit("{request}"),
	)
	m.requestDur, _ = m.meter.Float64Histogram(
		"neron.http.request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds, labeled by method, endpoint and status"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	m.activeRequests, _ = m.meter.Int64UpDownCounter(
		"neron.http.active_requests",
		metric.WithDescription("Number of currently active HTTP requests"),
		metric.WithUnit("{request}"),
	)
	m.authFailures, _ = m.meter.Int64Counter(
		"neron.http.auth_failures_total",
		metric.WithDescription("Requests rejected with 401, labeled by endpoint"),
		metric.WithUnit("{request}"),
	)
	return m
}

// MetricsMiddleware returns an echo middleware recording HTTP metrics.
func (m *HTTPMetrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			ctx := req.Context()

			if m.activeRequests != nil {
				m.activeRequests.Add(ctx, 1)
			}

			err := next(c)

			status := c.Response().Status
			attrs := []attribute.KeyValue{
				attribute.String("method", req.Method),
				attribute.String("endpoint", c.Path()),
				attribute.Int("status", status),
			}

			if m.requestsTotal != nil {
				m.requestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
			}
			if m.requestDur != nil {
				m.requestDur.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attrs...))
			}
			if status == 401 && m.authFailures != nil {
				m.authFailures.Add(ctx, 1, metric.WithAttributes(
					attribute.String("endpoint", c.Path()),
				))
			}
			if m.activeRequests != nil {
				m.activeRequests.Add(ctx, -1)
			}

			return err
		}
	}
}
