// Package observe provides application-wide observability primitives for
// notestream: OpenTelemetry metrics, distributed tracing, trace-aware
// logging, and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
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

// meterName is the instrumentation scope name used for all notestream metrics.
const meterName = "github.com/MrWong99/notestream"

// Outcome values used as the "outcome" attribute on queue and generation
// instruments.
const (
	OutcomeSuccess  = "success"
	OutcomeRetry    = "retry"
	OutcomeFailed   = "failed"
	OutcomeRejected = "rejected"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// GenerateDuration tracks one model invocation, successful or not. Use
	// with attributes:
	//   attribute.String("model", ...), attribute.String("outcome", ...)
	GenerateDuration metric.Float64Histogram

	// ToolExecutionDuration tracks MCP tool execution latency.
	ToolExecutionDuration metric.Float64Histogram

	// --- Counters ---

	// BatchesEmitted counts transcript batches handed to a queue. Use with
	// attribute:
	//   attribute.String("trigger", "threshold"|"flush"|"manual")
	BatchesEmitted metric.Int64Counter

	// QueueAttempts counts processing attempts. Use with attribute:
	//   attribute.String("outcome", "success"|"retry"|"failed")
	QueueAttempts metric.Int64Counter

	// QueueResults counts terminal results, one per submitted batch. Use
	// with attribute:
	//   attribute.String("outcome", "success"|"failed"|"rejected")
	QueueResults metric.Int64Counter

	// BlocksAppended counts content blocks appended to notes. Use with
	// attribute:
	//   attribute.String("kind", ...)
	BlocksAppended metric.Int64Counter

	// ToolCalls counts MCP tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// HTTPRequests counts HTTP requests. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...),
	//   attribute.Int("status", ...)
	HTTPRequests metric.Int64Counter

	// --- Error counters ---

	// GenerateErrors counts failed model invocations. Use with attributes:
	//   attribute.String("model", ...), attribute.String("kind", ...)
	GenerateErrors metric.Int64Counter

	// --- Gauges ---

	// QueueDepth tracks batches waiting in or being processed by a queue.
	QueueDepth metric.Int64UpDownCounter

	// ActiveSessions tracks the number of live note sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes:
	//   attribute.String("method", ...), attribute.String("route", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// generateBuckets defines histogram bucket boundaries (in seconds) for
// structured-output completions, which routinely take several seconds.
var generateBuckets = []float64{
	0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 120,
}

// latencyBuckets covers fast local operations such as tool calls.
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.GenerateDuration, err = m.Float64Histogram("notestream.generate.duration",
		metric.WithDescription("Latency of a single note generation attempt."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(generateBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolExecutionDuration, err = m.Float64Histogram("notestream.tool_execution.duration",
		metric.WithDescription("Latency of MCP tool execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.BatchesEmitted, err = m.Int64Counter("notestream.batches.emitted",
		metric.WithDescription("Transcript batches submitted for processing, by trigger."),
	); err != nil {
		return nil, err
	}
	if met.QueueAttempts, err = m.Int64Counter("notestream.queue.attempts",
		metric.WithDescription("Processing attempts by outcome."),
	); err != nil {
		return nil, err
	}
	if met.QueueResults, err = m.Int64Counter("notestream.queue.results",
		metric.WithDescription("Terminal batch results by outcome."),
	); err != nil {
		return nil, err
	}
	if met.BlocksAppended, err = m.Int64Counter("notestream.blocks.appended",
		metric.WithDescription("Content blocks appended to notes, by kind."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("notestream.tool.calls",
		metric.WithDescription("Total tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequests, err = m.Int64Counter("notestream.http.requests",
		metric.WithDescription("HTTP requests by method, route and status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.GenerateErrors, err = m.Int64Counter("notestream.generate.errors",
		metric.WithDescription("Failed note generation attempts by model and error kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.QueueDepth, err = m.Int64UpDownCounter("notestream.queue.depth",
		metric.WithDescription("Batches pending or in flight across all queues."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("notestream.active_sessions",
		metric.WithDescription("Number of live note sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("notestream.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordBatch records one emitted transcript batch.
func (m *Metrics) RecordBatch(ctx context.Context, trigger string) {
	m.BatchesEmitted.Add(ctx, 1, metric.WithAttributes(attribute.String("trigger", trigger)))
}

// RecordAttempt records one processing attempt and its latency.
func (m *Metrics) RecordAttempt(ctx context.Context, model, outcome string, seconds float64) {
	m.QueueAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	m.GenerateDuration.Record(ctx, seconds,
		metric.WithAttributes(
			attribute.String("model", model),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordResult records one terminal queue result.
func (m *Metrics) RecordResult(ctx context.Context, outcome string) {
	m.QueueResults.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordGenerateError records a failed model invocation classified by kind.
func (m *Metrics) RecordGenerateError(ctx context.Context, model, kind string) {
	m.GenerateErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("model", model),
			attribute.String("kind", kind),
		),
	)
}

// RecordBlocks records appended content blocks by kind.
func (m *Metrics) RecordBlocks(ctx context.Context, kind string, n int) {
	m.BlocksAppended.Add(ctx, int64(n), metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordToolCall is a convenience method that records a tool call counter
// increment and its latency with the standard attribute set.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string, seconds float64) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
	m.ToolExecutionDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("tool", tool)))
}
