// cmd/ocr/tracing.go
package main

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.uber.org/zap"
)

const serviceVersion = "1.0.0"

// initTracer installs a global tracer provider that exports spans to w.
func initTracer(w io.Writer, endpoint string, logger *zap.Logger) (*sdktrace.TracerProvider, error) {
	if endpoint != "" {
		// OTLP export needs the otlptrace exporters; spans go to w until then.
		logger.Info("Using stdout trace exporter", zap.String("otlp_endpoint", endpoint))
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	return tp, nil
}

func shutdownTracer(tp *sdktrace.TracerProvider, logger *zap.Logger) {
	if tp == nil {
		return
	}
	if err := tp.Shutdown(context.Background()); err != nil {
		logger.Warn("Tracer shutdown failed", zap.Error(err))
	}
}
