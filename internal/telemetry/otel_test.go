package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSetupProviderWithoutEndpoint(t *testing.T) {
	shutdown, err := SetupProvider(context.Background(), Config{})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestScanSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	_, span := StartScanSpan(context.Background(), "api", 42)
	EndScanSpan(span, 3, "HIGH", errors.New("boom"))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "sentinel.scan", spans[0].Name())

	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range spans[0].Attributes() {
		attrs[kv.Key] = kv.Value
	}
	assert.Equal(t, "api", attrs["sentinel.source"].AsString())
	assert.Equal(t, int64(42), attrs["sentinel.text_bytes"].AsInt64())
	assert.Equal(t, int64(3), attrs["sentinel.items"].AsInt64())
	assert.Equal(t, "HIGH", attrs["sentinel.risk_level"].AsString())
	assert.Len(t, spans[0].Events(), 1)
}

func TestSampler(t *testing.T) {
	assert.Contains(t, sampler(0).Description(), "AlwaysOnSampler")
	assert.Contains(t, sampler(1).Description(), "AlwaysOnSampler")
	assert.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased{0.25}")
}

func TestResourceAttributes(t *testing.T) {
	attrs := resourceAttributes(Config{Version: "1.2.0"})
	require.Len(t, attrs, 2)
	assert.Equal(t, "contract-sentinel", attrs[0].Value.AsString())
	assert.Equal(t, "1.2.0", attrs[1].Value.AsString())
}
