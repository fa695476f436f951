// SPDX-License-Identifier: BSD-3-Clause

package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
	oteltrace "go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	otelmetric "go.opentelemetry.io/otel/metric"
)

// Provider encapsulates the OpenTelemetry tracer and meter providers used
// by cabinetd's components. No exporter is wired by default: spans and
// measurements are generated and sampled but stay in-process, matching a
// deployment where cabinetd runs standalone rather than beside a collector.
type Provider struct {
	config        *Config
	traceProvider *trace.TracerProvider
	meterProvider *metric.MeterProvider
	resource      *resource.Resource
}

// NewProvider creates a telemetry provider from the given options.
func NewProvider(opts ...Option) (*Provider, error) {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(config)
	}

	if config.serviceName == "" {
		return nil, fmt.Errorf("%w: service name cannot be empty", ErrInvalidConfiguration)
	}
	if config.samplingRatio < 0 || config.samplingRatio > 1 {
		return nil, fmt.Errorf("%w: sampling ratio must be between 0 and 1", ErrInvalidConfiguration)
	}

	res, err := createResource(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	p := &Provider{config: config, resource: res}

	if config.enableTraces {
		p.traceProvider = trace.NewTracerProvider(
			trace.WithResource(res),
			trace.WithSampler(trace.TraceIDRatioBased(config.samplingRatio)),
		)
	}
	if config.enableMetrics {
		p.meterProvider = metric.NewMeterProvider(metric.WithResource(res))
	}

	propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})

	return p, nil
}

// Tracer returns a tracer with the given instrumentation name.
func (p *Provider) Tracer(name string) oteltrace.Tracer {
	if p.traceProvider == nil {
		return tracenoop.NewTracerProvider().Tracer(name)
	}
	return p.traceProvider.Tracer(name)
}

// Meter returns a meter with the given instrumentation name.
func (p *Provider) Meter(name string) otelmetric.Meter {
	if p.meterProvider == nil {
		return metricnoop.NewMeterProvider().Meter(name)
	}
	return p.meterProvider.Meter(name)
}

// Shutdown flushes and stops the underlying providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	if p.traceProvider != nil {
		if err := p.traceProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("trace provider shutdown: %w", err))
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("telemetry shutdown: %v", errs)
	}
	return nil
}

func createResource(config *Config) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(config.serviceName),
		semconv.ServiceVersion(config.serviceVersion),
	}
	for k, v := range config.resourceAttrs {
		attrs = append(attrs, attribute.String(k, v))
	}
	return resource.Merge(resource.Default(), resource.NewWithAttributes(semconv.SchemaURL, attrs...))
}
