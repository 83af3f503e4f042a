// Package observe provides application-wide observability primitives for
// voxdeck: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
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

// meterName is the instrumentation scope name used for all voxdeck metrics.
const meterName = "github.com/MrWong99/voxdeck"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// SynthesisDuration tracks on-device utterance duration from start to
	// completion. Use with attribute.String("status", ...).
	SynthesisDuration metric.Float64Histogram

	// RemoteDuration tracks remote TTS request latency. Use with attributes:
	//   attribute.String("style", ...), attribute.String("status", ...)
	RemoteDuration metric.Float64Histogram

	// CaptureDuration tracks the length of captured audio in seconds.
	CaptureDuration metric.Float64Histogram

	// --- Counters ---

	// Utterances counts on-device utterances. Use with attributes:
	//   attribute.String("status", ...), attribute.Bool("recorded", ...)
	Utterances metric.Int64Counter

	// RemoteRequests counts remote TTS requests. Use with attributes:
	//   attribute.String("style", ...), attribute.String("status", ...)
	RemoteRequests metric.Int64Counter

	// Recordings counts artifacts added to the registry. Use with attribute:
	//   attribute.String("source", ...)
	Recordings metric.Int64Counter

	// ToolCalls counts MCP tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// EventsDropped counts events discarded for slow event stream clients.
	// Use with attribute: attribute.String("type", ...)
	EventsDropped metric.Int64Counter

	// --- Error counters ---

	// Errors counts user-visible failures by kind (permission_denied,
	// capture_open, remote_request, synthesis_unavailable, ...).
	Errors metric.Int64Counter

	// --- Gauges ---

	// ActiveCaptures tracks the number of open capture sessions (0 or 1).
	ActiveCaptures metric.Int64UpDownCounter

	// EventSubscribers tracks the number of connected event stream clients.
	EventSubscribers metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// request latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// utteranceBuckets defines histogram bucket boundaries (in seconds) for
// spoken audio lengths.
var utteranceBuckets = []float64{
	0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.SynthesisDuration, err = m.Float64Histogram("voxdeck.synthesis.duration",
		metric.WithDescription("Duration of on-device utterances from start to completion."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(utteranceBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RemoteDuration, err = m.Float64Histogram("voxdeck.remote.duration",
		metric.WithDescription("Latency of remote TTS requests."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CaptureDuration, err = m.Float64Histogram("voxdeck.capture.duration",
		metric.WithDescription("Length of captured audio."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(utteranceBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Utterances, err = m.Int64Counter("voxdeck.utterances",
		metric.WithDescription("Total on-device utterances by status and whether they were recorded."),
	); err != nil {
		return nil, err
	}
	if met.RemoteRequests, err = m.Int64Counter("voxdeck.remote.requests",
		metric.WithDescription("Total remote TTS requests by style and status."),
	); err != nil {
		return nil, err
	}
	if met.Recordings, err = m.Int64Counter("voxdeck.recordings",
		metric.WithDescription("Total artifacts registered by source."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("voxdeck.tool.calls",
		metric.WithDescription("Total MCP tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}

	if met.EventsDropped, err = m.Int64Counter("voxdeck.events.dropped",
		metric.WithDescription("Total events dropped because a subscriber buffer was full."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.Errors, err = m.Int64Counter("voxdeck.errors",
		metric.WithDescription("Total user-visible failures by kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveCaptures, err = m.Int64UpDownCounter("voxdeck.active_captures",
		metric.WithDescription("Number of open microphone capture sessions."),
	); err != nil {
		return nil, err
	}
	if met.EventSubscribers, err = m.Int64UpDownCounter("voxdeck.event_subscribers",
		metric.WithDescription("Number of connected event stream clients."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxdeck.http.request.duration",
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordUtterance records a finished on-device utterance.
func (m *Metrics) RecordUtterance(ctx context.Context, status string, recorded bool, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("status", status),
		attribute.Bool("recorded", recorded),
	)
	m.Utterances.Add(ctx, 1, attrs)
	m.SynthesisDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("status", status)))
}

// RecordRemoteRequest records one remote TTS request and its latency.
func (m *Metrics) RecordRemoteRequest(ctx context.Context, style, status string, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("style", style),
		attribute.String("status", status),
	)
	m.RemoteRequests.Add(ctx, 1, attrs)
	m.RemoteDuration.Record(ctx, seconds, attrs)
}

// RecordRecording records an artifact added to the registry.
func (m *Metrics) RecordRecording(ctx context.Context, source string) {
	m.Recordings.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

// RecordToolCall is a convenience method that records a tool call counter
// increment with the standard attribute set.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordError is a convenience method that records a failure counter
// increment.
func (m *Metrics) RecordError(ctx context.Context, kind string) {
	m.Errors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
