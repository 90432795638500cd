// Package telemetry wires up an OpenTelemetry TracerProvider exporting
// spans over OTLP/gRPC when configured, and a no-op provider otherwise.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Options configures the TracerProvider. Endpoint empty disables export
// entirely and Tracer calls return a no-op tracer.
type Options struct {
	Endpoint    string
	ServiceName string
}

// Shutdown flushes and stops a configured TracerProvider. A no-op when
// telemetry was never configured.
type Shutdown func(ctx context.Context) error

// Init sets the global TracerProvider per opts and returns its Shutdown.
func Init(ctx context.Context, opts Options) (Shutdown, error) {
	if opts.Endpoint == "" {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(opts.Endpoint), otlptracegrpc.WithInsecure())
	if err != nil {
		return nil, fmt.Errorf("telemetry: creating otlp exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(attribute.String("service.name", opts.ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("telemetry: building resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	return func(shutdownCtx context.Context) error {
		return provider.Shutdown(shutdownCtx)
	}, nil
}

// Tracer returns the named tracer off the global provider, a convenience
// wrapper so callers don't import go.opentelemetry.io/otel directly.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
