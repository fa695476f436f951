// SPDX-License-Identifier: BSD-3-Clause

// Package telemetry wires the OpenTelemetry tracer and meter providers
// used across cabinetd's components.
package telemetry

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

var (
	setupMutex     sync.Mutex
	globalProvider *Provider
)

// Setup initializes the global telemetry provider. It returns a shutdown
// function that must be called once, typically via defer in main.
func Setup(ctx context.Context, opts ...Option) (func(context.Context) error, error) {
	setupMutex.Lock()
	defer setupMutex.Unlock()

	if globalProvider != nil {
		return nil, ErrAlreadyInitialized
	}

	provider, err := NewProvider(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create telemetry provider: %w", err)
	}
	globalProvider = provider

	return func(shutdownCtx context.Context) error {
		setupMutex.Lock()
		defer setupMutex.Unlock()
		if globalProvider == nil {
			return nil
		}
		err := globalProvider.Shutdown(shutdownCtx)
		globalProvider = nil
		return err
	}, nil
}

// GetTracer returns a tracer from the global provider, initializing a
// default provider first if Setup has not been called.
func GetTracer(name string) trace.Tracer {
	setupMutex.Lock()
	if globalProvider == nil {
		setupMutex.Unlock()
		if _, err := Setup(context.Background()); err != nil {
			return tracenoop.NewTracerProvider().Tracer(name)
		}
		setupMutex.Lock()
	}
	defer setupMutex.Unlock()
	return globalProvider.Tracer(name)
}

// GetMeter returns a meter from the global provider, initializing a
// default provider first if Setup has not been called.
func GetMeter(name string) metric.Meter {
	setupMutex.Lock()
	if globalProvider == nil {
		setupMutex.Unlock()
		if _, err := Setup(context.Background()); err != nil {
			return metricnoop.NewMeterProvider().Meter(name)
		}
		setupMutex.Lock()
	}
	defer setupMutex.Unlock()
	return globalProvider.Meter(name)
}

// IsInitialized reports whether a global telemetry provider is active.
func IsInitialized() bool {
	setupMutex.Lock()
	defer setupMutex.Unlock()
	return globalProvider != nil
}
