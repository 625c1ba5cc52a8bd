// Package tracing installs the OpenTelemetry tracer provider used by the import pipeline.
package tracing

import (
	"context"
	"fmt"
	"io"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
	"go.uber.org/zap"
)

// Config selects whether spans are exported and where.
type Config struct {
	Enabled     bool
	ServiceName string
	// Output receives pretty-printed spans; stdout when nil.
	Output io.Writer
	Logger *zap.Logger
}

// Init installs a global tracer provider. When tracing is disabled the global no-op provider
// stays in place and the returned shutdown does nothing.
func Init(ctx context.Context, config Config) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	if !config.Enabled {
		return noop, nil
	}
	serviceName := strings.TrimSpace(config.ServiceName)
	if serviceName == "" {
		serviceName = "coursepack"
	}
	options := []stdouttrace.Option{stdouttrace.WithPrettyPrint()}
	if config.Output != nil {
		options = append(options, stdouttrace.WithWriter(config.Output))
	}
	exporter, err := stdouttrace.New(options...)
	if err != nil {
		return noop, fmt.Errorf("tracing: create exporter: %w", err)
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	if err != nil && config.Logger != nil {
		config.Logger.Warn("otel resource init failed (continuing)", zap.Error(err))
	}
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	if config.Logger != nil {
		config.Logger.Info("otel tracing initialized", zap.String("service", serviceName))
	}
	return provider.Shutdown, nil
}
