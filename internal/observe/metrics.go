// Package observe provides application-wide observability primitives for
// dispatchmap: OpenTelemetry metrics and the HTTP middleware that records
// them.
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
	"errors"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all dispatchmap metrics.
const meterName = "github.com/dispatchmap/dispatchmap"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks per-call transcription latency.
	STTDuration metric.Float64Histogram

	// ExtractionDuration tracks LLM address-extraction latency.
	ExtractionDuration metric.Float64Histogram

	// GeocodeDuration tracks geocoding backend latency.
	GeocodeDuration metric.Float64Histogram

	// PipelineDuration tracks end-to-end resolution latency per transcript.
	PipelineDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// CallsProcessed counts pipeline runs. Use with attribute:
	//   attribute.String("outcome", "resolved"|"no_address"|"rejected"|"extractor_down")
	CallsProcessed metric.Int64Counter

	// CandidateRejections counts address candidates dropped before
	// resolution. Use with attribute:
	//   attribute.String("reason", ...)
	CandidateRejections metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveRuns tracks the number of pipeline runs currently in flight.
	ActiveRuns metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Geocoder
// round-trips sit under a second; LLM extraction on local hardware can take
// several.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)

	var errs []error
	latency := func(name, desc string) metric.Float64Histogram {
		h, err := meter.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
		errs = append(errs, err)
		return h
	}
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		errs = append(errs, err)
		return c
	}

	met := &Metrics{
		STTDuration:        latency("dispatchmap.stt.duration", "Latency of per-call transcription."),
		ExtractionDuration: latency("dispatchmap.extraction.duration", "Latency of LLM address extraction."),
		GeocodeDuration:    latency("dispatchmap.geocode.duration", "Latency of geocoding backend queries."),
		PipelineDuration:   latency("dispatchmap.pipeline.duration", "End-to-end address resolution latency per transcript."),

		ProviderRequests:    counter("dispatchmap.provider.requests", "Total provider API requests by provider, kind, and status."),
		CallsProcessed:      counter("dispatchmap.calls.processed", "Total pipeline runs by outcome."),
		CandidateRejections: counter("dispatchmap.candidate.rejections", "Total address candidates rejected before resolution, by reason."),
		ProviderErrors:      counter("dispatchmap.provider.errors", "Total provider errors by provider and kind."),
	}

	var err error
	met.ActiveRuns, err = meter.Int64UpDownCounter("dispatchmap.active_runs",
		metric.WithDescription("Number of pipeline runs currently in flight."))
	errs = append(errs, err)

	// The HTTP histogram keeps the SDK's default boundaries; request
	// latency here is sub-millisecond scrape traffic, not pipeline work.
	met.HTTPRequestDuration, err = meter.Float64Histogram("dispatchmap.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"))
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest records a provider request counter increment with the
// standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordCallProcessed records a completed pipeline run with its outcome.
func (m *Metrics) RecordCallProcessed(ctx context.Context, outcome string) {
	m.CallsProcessed.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordCandidateRejection records one dropped address candidate.
func (m *Metrics) RecordCandidateRejection(ctx context.Context, reason string) {
	m.CandidateRejections.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
