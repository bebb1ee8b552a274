package observe

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

// ProviderConfig configures process-wide telemetry.
type ProviderConfig struct {
	// ServiceName defaults to "livescribe".
	ServiceName    string
	ServiceVersion string

	// Registerer receives the Prometheus collector backing /metrics.
	// Default: prometheus.DefaultRegisterer, the registry promhttp.Handler serves.
	Registerer prometheus.Registerer

	// TraceExporter receives handshake and HTTP spans. Without one, spans
	// only feed correlation ids.
	TraceExporter sdktrace.SpanExporter
}

// InitProvider installs the global meter provider, tracer provider and W3C
// trace context propagator for one livescribe process. Every process gets a
// fresh service.instance.id so that scrapes from concurrent runs on the same
// host stay apart.
//
// The returned function stops the tracer provider first, so pending spans
// are flushed while metrics are still collectable, then the meter provider.
func InitProvider(ctx context.Context, cfg ProviderConfig) (func(context.Context) error, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "livescribe"
	}
	if cfg.Registerer == nil {
		cfg.Registerer = prometheus.DefaultRegisterer
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.ServiceInstanceID(uuid.NewString()),
	))
	if err != nil {
		return nil, fmt.Errorf("observe: build resource: %w", err)
	}

	collector, err := promexporter.New(promexporter.WithRegisterer(cfg.Registerer))
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(collector))

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}
