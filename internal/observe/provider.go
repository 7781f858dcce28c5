package observe

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Telemetry holds the SDK providers created by [Setup].
type Telemetry struct {
	// Meter is backed by the Prometheus bridge. Hand it to [NewMetrics].
	Meter *sdkmetric.MeterProvider

	// Registry is what /metrics serves. It also carries the Go runtime and
	// process collectors.
	Registry *prometheus.Registry

	tracer *sdktrace.TracerProvider
}

type setupConfig struct {
	service  string
	version  string
	registry *prometheus.Registry
	spans    sdktrace.SpanExporter
	runtime  bool
}

// SetupOption configures [Setup].
type SetupOption func(*setupConfig)

// WithService sets service.name and service.version on the resource.
func WithService(name, version string) SetupOption {
	return func(c *setupConfig) {
		if name != "" {
			c.service = name
		}
		c.version = version
	}
}

// WithRegistry exports into reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) SetupOption {
	return func(c *setupConfig) { c.registry = reg }
}

// WithSpanExporter batches finished spans to exp. Without it spans are
// sampled for correlation ids but never leave the process.
func WithSpanExporter(exp sdktrace.SpanExporter) SetupOption {
	return func(c *setupConfig) { c.spans = exp }
}

// WithoutRuntimeMetrics skips the Go and process collectors. Tests that
// share a registry use it.
func WithoutRuntimeMetrics() SetupOption {
	return func(c *setupConfig) { c.runtime = false }
}

// Setup builds the meter provider and installs a global tracer provider so
// [StartSpan] and [Middleware] record spans.
func Setup(ctx context.Context, opts ...SetupOption) (*Telemetry, error) {
	cfg := setupConfig{service: "hudlink", runtime: true}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.registry == nil {
		cfg.registry = prometheus.NewRegistry()
	}

	res, err := resource.New(ctx,
		resource.WithTelemetrySDK(),
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.service),
			semconv.ServiceVersion(cfg.version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("observe: resource: %w", err)
	}

	if cfg.runtime {
		if err := cfg.registry.Register(collectors.NewGoCollector()); err != nil {
			return nil, fmt.Errorf("observe: go collector: %w", err)
		}
		if err := cfg.registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
			return nil, fmt.Errorf("observe: process collector: %w", err)
		}
	}

	bridge, err := promexporter.New(promexporter.WithRegisterer(cfg.registry))
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus bridge: %w", err)
	}

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.spans != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.spans))
	}
	t := &Telemetry{
		Meter:    sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(bridge)),
		Registry: cfg.registry,
		tracer:   sdktrace.NewTracerProvider(tpOpts...),
	}
	otel.SetTracerProvider(t.tracer)
	return t, nil
}

// Shutdown flushes pending spans and stops both providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(t.tracer.Shutdown(ctx), t.Meter.Shutdown(ctx))
}
