package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.ServiceName != "callmesh" {
		t.Errorf("expected service name 'callmesh', got '%s'", cfg.ServiceName)
	}
	if cfg.Enabled {
		t.Error("expected tracing disabled by default")
	}
	if cfg.SampleRate != 1.0 {
		t.Errorf("expected sample rate 1.0, got %f", cfg.SampleRate)
	}
}

func TestInit_Disabled(t *testing.T) {
	tp, err := Init(Config{Enabled: false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Errorf("shutdown of disabled provider should not fail: %v", err)
	}
}

func TestStartSpan(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "test.operation")
	if span == nil {
		t.Fatal("expected non-nil span")
	}
	AddSpanAttributes(ctx, attribute.String("test.key", "value"))
	RecordError(ctx, errors.New("test error"))
	span.End()
}

func TestTraceRegistryEvent(t *testing.T) {
	_, span := TraceRegistryEvent(context.Background(), "stream-add", "u1")
	if span == nil {
		t.Fatal("expected non-nil span")
	}
	span.End()
}
