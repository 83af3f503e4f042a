package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumFor returns the value of the data point carrying key=value.
func sumFor(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value
		}
	}
	t.Fatalf("metric %q has no data point with %s=%s", name, key, value)
	return 0
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"voxdeck.synthesis.duration", m.SynthesisDuration},
		{"voxdeck.remote.duration", m.RemoteDuration},
		{"voxdeck.capture.duration", m.CaptureDuration},
	}

	for _, tc := range histograms {
		tc.h.Record(ctx, 0.123)
		tc.h.Record(ctx, 0.456)
	}

	rm := collect(t, reader)

	for _, tc := range histograms {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a histogram", tc.name)
			}
			if len(hist.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := hist.DataPoints[0].Count; got != 2 {
				t.Errorf("sample count = %d, want 2", got)
			}
		})
	}
}

func TestRecordUtterance(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordUtterance(ctx, "ok", true, 1.5)
	m.RecordUtterance(ctx, "ok", true, 2.5)
	m.RecordUtterance(ctx, "cancelled", false, 0.2)

	rm := collect(t, reader)
	if got := sumFor(t, rm, "voxdeck.utterances", "status", "cancelled"); got != 1 {
		t.Errorf("cancelled utterances = %d, want 1", got)
	}
	met := findMetric(rm, "voxdeck.synthesis.duration")
	if met == nil {
		t.Fatal("synthesis duration not recorded")
	}
}

func TestRecordRemoteRequest(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordRemoteRequest(ctx, "kaitom", "ok", 0.3)
	m.RecordRemoteRequest(ctx, "kaitom", "ok", 0.4)
	m.RecordRemoteRequest(ctx, "cee", "error", 0.1)

	rm := collect(t, reader)
	if got := sumFor(t, rm, "voxdeck.remote.requests", "status", "ok"); got != 2 {
		t.Errorf("ok requests = %d, want 2", got)
	}
	if got := sumFor(t, rm, "voxdeck.remote.requests", "style", "cee"); got != 1 {
		t.Errorf("cee requests = %d, want 1", got)
	}
}

func TestRecordRecordingAndError(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordRecording(ctx, "capture")
	m.RecordRecording(ctx, "remote")
	m.RecordRecording(ctx, "remote")
	m.RecordError(ctx, "permission_denied")

	rm := collect(t, reader)
	if got := sumFor(t, rm, "voxdeck.recordings", "source", "remote"); got != 2 {
		t.Errorf("remote recordings = %d, want 2", got)
	}
	if got := sumFor(t, rm, "voxdeck.errors", "kind", "permission_denied"); got != 1 {
		t.Errorf("permission errors = %d, want 1", got)
	}
}

func TestToolCallsCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordToolCall(ctx, "speak", "ok")
	m.RecordToolCall(ctx, "speak", "error")

	rm := collect(t, reader)
	if got := sumFor(t, rm, "voxdeck.tool.calls", "status", "ok"); got != 1 {
		t.Errorf("counter value = %d, want 1", got)
	}
}

func TestGauges(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveCaptures.Add(ctx, 1)
	m.ActiveCaptures.Add(ctx, 1)
	m.ActiveCaptures.Add(ctx, -1)
	m.EventSubscribers.Add(ctx, 3)

	rm := collect(t, reader)

	gauges := []struct {
		name string
		want int64
	}{
		{"voxdeck.active_captures", 1},
		{"voxdeck.event_subscribers", 3},
	}

	for _, tc := range gauges {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %q is not a sum", tc.name)
			}
			if len(sum.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := sum.DataPoints[0].Value; got != tc.want {
				t.Errorf("gauge value = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestHTTPRequestDuration(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.HTTPRequestDuration.Record(ctx, 0.05,
		metric.WithAttributes(
			attribute.String("method", "GET"),
			attribute.String("path", "/healthz"),
		),
	)

	rm := collect(t, reader)
	met := findMetric(rm, "voxdeck.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	if got := hist.DataPoints[0].Count; got != 1 {
		t.Errorf("sample count = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
