// Package observe provides application-wide observability primitives for the
// SpeechRAG bridge: OpenTelemetry metrics, distributed tracing, structured
// logging, and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all bridge metrics.
const meterName = "github.com/ranhill/speechrag"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// EncodeDuration tracks audio-embedding latency against the encoder
	// service.
	EncodeDuration metric.Float64Histogram

	// SearchDuration tracks similarity-index query latency.
	SearchDuration metric.Float64Histogram

	// DecideDuration tracks the full retrieval cycle: encode + search +
	// acceptance decision ("time to context").
	DecideDuration metric.Float64Histogram

	// --- Counters ---

	// WindowsTriggered counts stride triggers, i.e. windows handed to the
	// retrieval path.
	WindowsTriggered metric.Int64Counter

	// WindowsCoalesced counts windows dropped by the newest-window-wins
	// mailbox because a retrieval cycle was already in flight.
	WindowsCoalesced metric.Int64Counter

	// Injections counts accepted matches delivered as context injections.
	Injections metric.Int64Counter

	// GatewayErrors counts recoverable gateway failures. Use with attribute:
	//   attribute.String("stage", "encode"|"search"|"deliver")
	GatewayErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live audio sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for the sub-second latencies of a speculative retrieval pipeline.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.EncodeDuration, err = m.Float64Histogram("speechrag.encode.duration",
		metric.WithDescription("Latency of audio embedding requests."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SearchDuration, err = m.Float64Histogram("speechrag.search.duration",
		metric.WithDescription("Latency of similarity index queries."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DecideDuration, err = m.Float64Histogram("speechrag.decide.duration",
		metric.WithDescription("End-to-end retrieval cycle latency (time to context)."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.WindowsTriggered, err = m.Int64Counter("speechrag.windows.triggered",
		metric.WithDescription("Total stride triggers handed to the retrieval path."),
	); err != nil {
		return nil, err
	}
	if met.WindowsCoalesced, err = m.Int64Counter("speechrag.windows.coalesced",
		metric.WithDescription("Windows replaced by a newer one while a retrieval cycle was in flight."),
	); err != nil {
		return nil, err
	}
	if met.Injections, err = m.Int64Counter("speechrag.injections",
		metric.WithDescription("Context injections delivered to live sessions."),
	); err != nil {
		return nil, err
	}
	if met.GatewayErrors, err = m.Int64Counter("speechrag.gateway.errors",
		metric.WithDescription("Recoverable gateway failures by pipeline stage."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("speechrag.active_sessions",
		metric.WithDescription("Number of live audio sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("speechrag.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordGatewayError records a recoverable gateway failure for the given
// pipeline stage ("encode", "search", or "deliver").
func (m *Metrics) RecordGatewayError(ctx context.Context, stage string) {
	m.GatewayErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}
