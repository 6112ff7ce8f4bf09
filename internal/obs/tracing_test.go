// Copyright 2025 James Ross
package obs

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/mammothbox/mammothbox/internal/config"
	"github.com/mammothbox/mammothbox/internal/queue"
)

func TestMaybeInitTracing(t *testing.T) {
	tests := []struct {
		name      string
		config    *config.Config
		expectNil bool
	}{
		{
			name: "tracing disabled",
			config: &config.Config{
				Observability: config.ObservabilityConfig{
					Tracing: config.TracingConfig{Enabled: false},
				},
			},
			expectNil: true,
		},
		{
			name: "tracing enabled with endpoint",
			config: &config.Config{
				Observability: config.ObservabilityConfig{
					Tracing: config.TracingConfig{
						Enabled:          true,
						Endpoint:         "http://localhost:4318/v1/traces",
						Environment:      "test",
						SamplingStrategy: "always",
						SamplingRate:     1.0,
					},
				},
			},
			expectNil: false,
		},
		{
			name: "tracing enabled without endpoint",
			config: &config.Config{
				Observability: config.ObservabilityConfig{
					Tracing: config.TracingConfig{Enabled: true},
				},
			},
			expectNil: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			otel.SetTracerProvider(trace.NewNoopTracerProvider())

			tp, err := MaybeInitTracing(tt.config)
			if err != nil {
				t.Fatalf("MaybeInitTracing() error = %v", err)
			}
			if tt.expectNil && tp != nil {
				t.Errorf("expected nil tracer provider, got %v", tp)
			}
			if !tt.expectNil && tp == nil {
				t.Errorf("expected non-nil tracer provider")
			}
			if tp != nil {
				tp.Shutdown(context.Background())
			}
		})
	}
}

func TestContextWithJobSpan(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer tp.Shutdown(context.Background())

	msgs := []queue.Message{
		{JobID: "job-123", JobType: "json", Priority: 5, RetryCount: 0, CreatedAt: time.Now()},
		{JobID: "job-456", JobType: "media", Priority: 1, RetryCount: 2, CreatedAt: time.Now()},
	}

	for _, msg := range msgs {
		ctx := context.Background()
		_, span := ContextWithJobSpan(ctx, msg)
		if span == nil {
			t.Fatal("expected non-nil span")
		}
		if !span.IsRecording() {
			t.Error("expected span to be recording")
		}
		span.End()
		if !span.SpanContext().IsValid() {
			t.Error("expected valid span context")
		}
	}
}

func TestStartEnqueueSpan(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer tp.Shutdown(context.Background())

	ctx := context.Background()
	_, span := StartEnqueueSpan(ctx, "json", 5)
	if span == nil {
		t.Fatal("expected non-nil span")
	}
	if !span.IsRecording() {
		t.Error("expected span to be recording")
	}
	span.End()
	if !span.SpanContext().IsValid() {
		t.Error("expected valid span context")
	}
}

func TestStartDequeueSpan(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer tp.Shutdown(context.Background())

	ctx := context.Background()
	_, span := StartDequeueSpan(ctx)
	if span == nil {
		t.Fatal("expected non-nil span")
	}
	if !span.IsRecording() {
		t.Error("expected span to be recording")
	}
	span.End()
	if !span.SpanContext().IsValid() {
		t.Error("expected valid span context")
	}
}

func TestRecordError(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer tp.Shutdown(context.Background())

	tracer := otel.Tracer("test")
	ctx, span := tracer.Start(context.Background(), "test-span")
	defer span.End()

	RecordError(ctx, &testError{message: "boom"})
	RecordError(ctx, nil)
	RecordError(context.Background(), &testError{message: "boom"})
}

func TestSetSpanSuccess(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer tp.Shutdown(context.Background())

	tracer := otel.Tracer("test")
	ctx, span := tracer.Start(context.Background(), "test-span")
	defer span.End()

	SetSpanSuccess(ctx)
	SetSpanSuccess(context.Background())
}

func TestExtractInjectTraceContext(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer tp.Shutdown(context.Background())

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	tracer := otel.Tracer("test")
	ctx, span := tracer.Start(context.Background(), "test-span")
	defer span.End()

	carrier := InjectTraceContext(ctx)
	if len(carrier) == 0 {
		t.Error("expected non-empty carrier after injection")
	}

	newCtx := ExtractTraceContext(context.Background(), carrier)
	if !trace.SpanContextFromContext(newCtx).IsValid() {
		t.Error("expected valid span context after extraction")
	}

	emptyCtx := ExtractTraceContext(context.Background(), map[string]string{})
	if trace.SpanContextFromContext(emptyCtx).IsValid() {
		t.Error("expected invalid span context with empty carrier")
	}
}

func TestGetTraceAndSpanID(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer tp.Shutdown(context.Background())

	tracer := otel.Tracer("test")
	ctx, span := tracer.Start(context.Background(), "test-span")
	defer span.End()

	traceID, spanID := GetTraceAndSpanID(ctx)
	if len(traceID) != 32 {
		t.Errorf("expected trace ID length 32, got %d", len(traceID))
	}
	if len(spanID) != 16 {
		t.Errorf("expected span ID length 16, got %d", len(spanID))
	}

	emptyTraceID, emptySpanID := GetTraceAndSpanID(context.Background())
	if emptyTraceID != "" || emptySpanID != "" {
		t.Error("expected empty IDs for context without span")
	}
}

func TestAddEventAndAttributes(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer tp.Shutdown(context.Background())

	tracer := otel.Tracer("test")
	ctx, span := tracer.Start(context.Background(), "test-span")
	defer span.End()

	AddEvent(ctx, "test-event", attribute.String("key1", "value1"), attribute.Int("key2", 42))
	AddEvent(ctx, "simple-event")
	AddEvent(context.Background(), "no-span-event")

	AddSpanAttributes(ctx, attribute.String("attr1", "value1"), attribute.Bool("attr3", true))
	AddSpanAttributes(context.Background(), attribute.String("no-span", "value"))
}

func TestTracerShutdown(t *testing.T) {
	if err := TracerShutdown(context.Background(), nil); err != nil {
		t.Errorf("expected no error for nil tracer provider, got %v", err)
	}

	tp := sdktrace.NewTracerProvider()
	if err := TracerShutdown(context.Background(), tp); err != nil {
		t.Errorf("unexpected error shutting down tracer provider: %v", err)
	}
}

func TestKeyValue(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		value    interface{}
		expected attribute.Type
	}{
		{"string", "key", "value", attribute.STRING},
		{"int", "key", 42, attribute.INT64},
		{"int64", "key", int64(42), attribute.INT64},
		{"float64", "key", 3.14, attribute.FLOAT64},
		{"bool", "key", true, attribute.BOOL},
		{"other", "key", struct{}{}, attribute.STRING},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kv := KeyValue(tt.key, tt.value)
			if kv.Key != attribute.Key(tt.key) {
				t.Errorf("expected key %s, got %s", tt.key, kv.Key)
			}
			if kv.Value.Type() != tt.expected {
				t.Errorf("expected type %v, got %v", tt.expected, kv.Value.Type())
			}
		})
	}
}

func TestTracingSampling(t *testing.T) {
	tests := []struct {
		name     string
		strategy string
		rate     float64
	}{
		{"always", "always", 1.0},
		{"never", "never", 0.0},
		{"probabilistic", "probabilistic", 0.5},
		{"default", "unknown", 0.1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{
				Observability: config.ObservabilityConfig{
					Tracing: config.TracingConfig{
						Enabled:          true,
						Endpoint:         "http://localhost:4318/v1/traces",
						SamplingStrategy: tt.strategy,
						SamplingRate:     tt.rate,
					},
				},
			}

			tp, err := MaybeInitTracing(cfg)
			if err != nil {
				t.Fatalf("MaybeInitTracing() error = %v", err)
			}
			if tp == nil {
				t.Fatal("expected non-nil tracer provider")
			}
			tp.Shutdown(context.Background())
		})
	}
}

func TestPropagationRoundTrip(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer tp.Shutdown(context.Background())

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	tracer := otel.Tracer("test")
	originalCtx, originalSpan := tracer.Start(context.Background(), "original-span")
	defer originalSpan.End()

	originalTraceID, originalSpanID := GetTraceAndSpanID(originalCtx)

	carrier := InjectTraceContext(originalCtx)
	newCtx := ExtractTraceContext(context.Background(), carrier)

	newCtx, childSpan := tracer.Start(newCtx, "child-span")
	defer childSpan.End()

	childTraceID, childSpanID := GetTraceAndSpanID(newCtx)

	if childTraceID != originalTraceID {
		t.Errorf("expected same trace ID, got original=%s, child=%s", originalTraceID, childTraceID)
	}
	if childSpanID == originalSpanID {
		t.Error("expected different span IDs for parent and child")
	}
}

type testError struct {
	message string
}

func (e *testError) Error() string { return e.message }

func BenchmarkStartSpan(b *testing.B) {
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer tp.Shutdown(context.Background())

	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, span := StartEnqueueSpan(ctx, "json", 5)
		span.End()
	}
}

func BenchmarkInjectExtract(b *testing.B) {
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer tp.Shutdown(context.Background())

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	tracer := otel.Tracer("test")
	ctx, span := tracer.Start(context.Background(), "test-span")
	defer span.End()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		carrier := InjectTraceContext(ctx)
		ExtractTraceContext(context.Background(), carrier)
	}
}
