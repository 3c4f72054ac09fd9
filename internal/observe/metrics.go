// Package observe holds the observability plumbing shared by the pipeline,
// the service layer and the HTTP server: OpenTelemetry instruments, spans,
// request-scoped loggers and the HTTP middleware that ties them together.
//
// Instruments are exported to Prometheus by the provider from
// [InitProvider]. Code that runs without one records into [DefaultMetrics],
// which is backed by the global meter provider and is a no-op until one is
// installed.
package observe

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all copyedit metrics.
const meterName = "github.com/MrWong99/copyedit"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// LLMDuration tracks latency of a single LLM rewrite call.
	LLMDuration metric.Float64Histogram

	// PipelineDuration tracks latency of a full pipeline run. Use with
	// attribute:
	//   attribute.String("mode", ...)
	PipelineDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...),
	//   attribute.String("status_class", ...)
	HTTPRequestDuration metric.Float64Histogram

	// PipelinePasses records how many passes a run needed before it became
	// stable or hit the cap.
	PipelinePasses metric.Int64Histogram

	// --- Counters ---

	// ChangesEmitted counts changes in final results. Use with attributes:
	//   attribute.String("source", "rules"|"llm"|"fallback"), attribute.Bool("located", ...)
	ChangesEmitted metric.Int64Counter

	// ProviderRequests counts LLM calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts failed LLM calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// CacheLookups counts result cache lookups. Use with attribute:
	//   attribute.String("result", "hit"|"miss"|"error")
	CacheLookups metric.Int64Counter

	// SharedRuns counts callers that joined an identical in-flight run
	// instead of starting their own.
	SharedRuns metric.Int64Counter

	// RateLimited counts requests rejected by the rate limiter.
	RateLimited metric.Int64Counter

	// --- Gauges ---

	// InflightRuns tracks the number of pipeline runs currently executing.
	InflightRuns metric.Int64UpDownCounter
}

// latencyBuckets are histogram boundaries in seconds. LLM calls dominate
// and routinely take several seconds.
var latencyBuckets = []float64{
	0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// instruments collects the first creation error so NewMetrics can declare
// every instrument in one flat list.
type instruments struct {
	meter metric.Meter
	err   error
}

func (b *instruments) seconds(name, desc string, buckets ...float64) metric.Float64Histogram {
	opts := []metric.Float64HistogramOption{metric.WithDescription(desc), metric.WithUnit("s")}
	if len(buckets) > 0 {
		opts = append(opts, metric.WithExplicitBucketBoundaries(buckets...))
	}
	h, err := b.meter.Float64Histogram(name, opts...)
	b.err = errors.Join(b.err, err)
	return h
}

func (b *instruments) counter(name, desc string) metric.Int64Counter {
	c, err := b.meter.Int64Counter(name, metric.WithDescription(desc))
	b.err = errors.Join(b.err, err)
	return c
}

// NewMetrics creates every instrument on mp. Tests pass a provider backed by
// a manual reader; production code uses [DefaultMetrics] or the provider from
// [InitProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	b := &instruments{meter: mp.Meter(meterName)}
	met := &Metrics{
		LLMDuration:         b.seconds("copyedit.llm.duration", "Latency of a single LLM rewrite call.", latencyBuckets...),
		PipelineDuration:    b.seconds("copyedit.pipeline.duration", "Latency of a full pipeline run.", latencyBuckets...),
		HTTPRequestDuration: b.seconds("copyedit.http.request.duration", "HTTP request latency by method and route."),

		ChangesEmitted:   b.counter("copyedit.changes", "Changes emitted by source and location status."),
		ProviderRequests: b.counter("copyedit.provider.requests", "LLM provider calls by provider and outcome."),
		ProviderErrors:   b.counter("copyedit.provider.errors", "LLM provider failures by provider and error kind."),
		CacheLookups:     b.counter("copyedit.cache.lookups", "Result cache lookups by outcome."),
		SharedRuns:       b.counter("copyedit.inflight.shared", "Requests that joined an identical in-flight run."),
		RateLimited:      b.counter("copyedit.ratelimit.rejected", "Requests rejected by the rate limiter."),
	}

	var err error
	met.PipelinePasses, err = b.meter.Int64Histogram("copyedit.pipeline.passes",
		metric.WithDescription("Passes needed per pipeline run."),
		metric.WithExplicitBucketBoundaries(1, 2, 3, 4, 5),
	)
	b.err = errors.Join(b.err, err)
	met.InflightRuns, err = b.meter.Int64UpDownCounter("copyedit.inflight.runs",
		metric.WithDescription("Pipeline runs currently executing."),
	)
	b.err = errors.Join(b.err, err)

	if b.err != nil {
		return nil, fmt.Errorf("observe: create instruments: %w", b.err)
	}
	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
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

// RecordProviderRequest counts one LLM call. status is "ok" or the error
// kind of the failure.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, status string) {
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("status", status),
	))
}

// RecordProviderError counts one failed LLM call by error kind, as returned
// by types.ErrorKind.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
	))
}

// RecordChanges records located and unlocated change counts for one source.
func (m *Metrics) RecordChanges(ctx context.Context, source string, located, unlocated int) {
	if located > 0 {
		m.ChangesEmitted.Add(ctx, int64(located), metric.WithAttributes(
			attribute.String("source", source), attribute.Bool("located", true)))
	}
	if unlocated > 0 {
		m.ChangesEmitted.Add(ctx, int64(unlocated), metric.WithAttributes(
			attribute.String("source", source), attribute.Bool("located", false)))
	}
}

// RecordCacheLookup records one cache lookup outcome ("hit", "miss" or
// "error").
func (m *Metrics) RecordCacheLookup(ctx context.Context, result string) {
	m.CacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordPasses records the pass count of a finished run.
func (m *Metrics) RecordPasses(ctx context.Context, mode string, passes int) {
	m.PipelinePasses.Record(ctx, int64(passes), metric.WithAttributes(attribute.String("mode", mode)))
}
