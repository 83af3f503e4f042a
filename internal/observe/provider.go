package observe

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ProviderConfig configures the OpenTelemetry SDK providers.
type ProviderConfig struct {
	// ServiceName is the service name reported in telemetry. Default: "voxdeck".
	ServiceName string

	// ServiceVersion is the service version reported in telemetry.
	ServiceVersion string

	// TraceExporter is an optional span exporter. When nil, spans are
	// recorded but not exported.
	TraceExporter sdktrace.SpanExporter

	// Registry receives the Prometheus collectors of the metric exporter.
	// When nil a fresh registry is created; use [Telemetry.Handler] to serve
	// it.
	Registry *prometheus.Registry
}

// Telemetry is the result of [InitProvider].
type Telemetry struct {
	// Metrics are the instruments bound to the SDK meter provider.
	Metrics *Metrics

	registry  *prometheus.Registry
	shutdowns []func(context.Context) error
}

// Handler returns the Prometheus scrape handler for /metrics.
func (t *Telemetry) Handler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and closes the exporters.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range t.shutdowns {
		if e := fn(ctx); e != nil {
			errs = append(errs, e)
		}
	}
	return errors.Join(errs...)
}

// InitProvider initialises the OTel SDK with the given config. It sets up:
//
//   - A [sdkmetric.MeterProvider] with a Prometheus exporter registered on
//     cfg.Registry so metrics can be scraped via /metrics.
//   - A [sdktrace.TracerProvider] with the configured exporter (or none).
//
// Both providers are registered as the global OTel providers. Call
// [Telemetry.Shutdown] in a defer from main().
func InitProvider(ctx context.Context, cfg ProviderConfig) (*Telemetry, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "voxdeck"
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	tel := &Telemetry{registry: cfg.Registry}

	// --- Metrics: Prometheus exporter bridge ---
	promExp, err := promexporter.New(promexporter.WithRegisterer(cfg.Registry))
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExp),
	)
	otel.SetMeterProvider(mp)
	tel.shutdowns = append(tel.shutdowns, mp.Shutdown)

	// --- Traces ---
	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
	}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)
	tel.shutdowns = append(tel.shutdowns, tp.Shutdown)

	if tel.Metrics, err = NewMetrics(mp); err != nil {
		_ = tel.Shutdown(ctx)
		return nil, err
	}
	return tel, nil
}
