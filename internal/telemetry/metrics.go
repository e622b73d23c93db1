package telemetry

import (
	"context"

	"sitemirror/internal/config"
	"sitemirror/internal/errors"
	"sitemirror/internal/logger"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const serviceName = "sitemirror"

// Metrics counts crawl outcomes. Every counter is safe to call when
// telemetry is disabled.
type Metrics struct {
	PageVisited    func(count int64)
	FileDownloaded func(count int64)
	FileSkipped    func(count int64)
	FileFailed     func(count int64)
	FileRecovered  func(count int64)
	Close          func()
}

// Nop returns metrics that record nothing
func Nop() *Metrics {
	noop := func(int64) {}
	return &Metrics{
		PageVisited:    noop,
		FileDownloaded: noop,
		FileSkipped:    noop,
		FileFailed:     noop,
		FileRecovered:  noop,
		Close:          func() {},
	}
}

// SetupMetrics exports run counters over OTLP/HTTP when telemetry is enabled
func SetupMetrics(ctx context.Context, cfg *config.Config, instanceID string, log *logger.Logger) (*Metrics, error) {
	if !cfg.TelemetryEnabled {
		return Nop(), nil
	}

	exporter, err := otlpmetrichttp.New(ctx,
		otlpmetrichttp.WithEndpoint(cfg.TelemetryCollectorURL),
		otlpmetrichttp.WithInsecure())
	if err != nil {
		return nil, errors.Wrap(err, errors.ConfigurationError, "failed to create metric exporter")
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(newResource(instanceID)),
	)
	otel.SetMeterProvider(meterProvider)

	m, err := NewMetrics(ctx, otel.Meter(serviceName))
	if err != nil {
		_ = meterProvider.Shutdown(ctx)
		return nil, err
	}
	m.Close = func() {
		// the run context may already be canceled, flush regardless
		if err := meterProvider.Shutdown(context.WithoutCancel(ctx)); err != nil {
			log.Error("failed to shutdown metrics provider", map[string]interface{}{"error": err})
		}
	}
	return m, nil
}

// NewMetrics creates the run counters on meter
func NewMetrics(ctx context.Context, meter metric.Meter) (*Metrics, error) {
	counter := func(name, description string) (func(int64), error) {
		c, err := meter.Int64Counter(name,
			metric.WithDescription(description),
			metric.WithUnit("{count}"))
		if err != nil {
			return nil, errors.Wrap(err, errors.ConfigurationError, "failed to create counter "+name)
		}
		return func(count int64) { c.Add(context.WithoutCancel(ctx), count) }, nil
	}

	m := &Metrics{Close: func() {}}
	var err error
	if m.PageVisited, err = counter("sitemirror.pages.visited", "The number of pages the crawler loaded"); err != nil {
		return nil, err
	}
	if m.FileDownloaded, err = counter("sitemirror.files.downloaded", "The number of files written to the mirror"); err != nil {
		return nil, err
	}
	if m.FileSkipped, err = counter("sitemirror.files.skipped", "The number of files skipped as already present or unreachable"); err != nil {
		return nil, err
	}
	if m.FileFailed, err = counter("sitemirror.files.failed", "The number of file downloads that failed"); err != nil {
		return nil, err
	}
	if m.FileRecovered, err = counter("sitemirror.files.recovered", "The number of missing files obtained by reconciliation"); err != nil {
		return nil, err
	}
	return m, nil
}

// newResource describes this process with a single schema, so it never
// conflicts with the schema the SDK ships for its defaults
func newResource(instanceID string) *resource.Resource {
	return resource.NewWithAttributes(semconv.SchemaURL,
		semconv.ServiceName(serviceName),
		semconv.ServiceInstanceID(instanceID),
		semconv.TelemetrySDKName("opentelemetry"),
		semconv.TelemetrySDKLanguageGo,
	)
}
