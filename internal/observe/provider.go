package observe

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ProviderConfig configures the process-wide OpenTelemetry providers.
type ProviderConfig struct {
	// ServiceName identifies the bridge in exported telemetry.
	// Default "auricle".
	ServiceName string

	// ServiceVersion is reported alongside the service name.
	ServiceVersion string

	// TraceExporter receives finished spans. Nil keeps spans in-process,
	// which still yields correlation IDs for logs and tests.
	TraceExporter sdktrace.SpanExporter
}

// InitProvider installs the global meter and tracer providers. Metrics flow
// into a Prometheus registry scraped via /metrics; spans go to the configured
// exporter when one is set. The returned function shuts both providers down;
// defer it from main.
func InitProvider(ctx context.Context, cfg ProviderConfig) (func(context.Context) error, error) {
	name := cfg.ServiceName
	if name == "" {
		name = "auricle"
	}
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(name),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	promExp, err := promexporter.New()
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExp),
	)
	otel.SetMeterProvider(mp)

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)

	shutdown := func(ctx context.Context) error {
		return errors.Join(mp.Shutdown(ctx), tp.Shutdown(ctx))
	}
	return shutdown, nil
}
