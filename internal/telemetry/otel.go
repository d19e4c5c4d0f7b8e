// Package telemetry bootstraps OpenTelemetry tracing
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/credentials"
)

// TracerName is the instrumentation scope of spans started by this module
const TracerName = "github.com/raaihank/contract-sentinel"

// Config describes the telemetry bootstrap options
type Config struct {
	ServiceName string
	Version     string
	Endpoint    string
	Insecure    bool
	SampleRatio float64
	Headers     map[string]string
}

// ShutdownFunc flushes buffered spans
type ShutdownFunc func(context.Context) error

// SetupProvider installs the process-wide tracer provider. With no endpoint
// the global no-op provider is left in place.
func SetupProvider(ctx context.Context, cfg Config) (ShutdownFunc, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if cfg.Endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	clientOpts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		clientOpts = append(clientOpts, otlptracegrpc.WithInsecure())
	} else {
		clientOpts = append(clientOpts, otlptracegrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, "")))
	}
	if len(cfg.Headers) > 0 {
		clientOpts = append(clientOpts, otlptracegrpc.WithHeaders(cfg.Headers))
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	exporter, err := otlptracegrpc.New(dialCtx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithSchemaURL(semconv.SchemaURL),
		resource.WithAttributes(resourceAttributes(cfg)...),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithMaxExportBatchSize(100), sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
	)
	otel.SetTracerProvider(provider)

	return provider.Shutdown, nil
}

func resourceAttributes(cfg Config) []attribute.KeyValue {
	name := cfg.ServiceName
	if name == "" {
		name = "contract-sentinel"
	}
	attrs := []attribute.KeyValue{semconv.ServiceName(name)}
	if cfg.Version != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.Version))
	}
	return attrs
}

// sampler honours the parent decision; ratio 0 or >= 1 samples everything
func sampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

// Tracer returns the module tracer from the global provider
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// StartScanSpan starts a span around one scan. Only sizes and counts are
// recorded; scanned text never becomes an attribute.
func StartScanSpan(ctx context.Context, source string, textBytes int) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "sentinel.scan",
		trace.WithAttributes(
			attribute.String("sentinel.source", source),
			attribute.Int("sentinel.text_bytes", textBytes),
		))
}

// EndScanSpan annotates span with the scan outcome and ends it
func EndScanSpan(span trace.Span, total int, riskLevel string, err error) {
	span.SetAttributes(
		attribute.Int("sentinel.items", total),
		attribute.String("sentinel.risk_level", riskLevel),
	)
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}
