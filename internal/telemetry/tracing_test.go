package telemetry

import (
	"context"
	"io"
	"log"
	"testing"
)

func TestSetupTracingDisabled(t *testing.T) {
	shutdown, err := SetupTracing(context.Background(), TraceConfig{Exporter: "none"}, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestSetupTracingStdout(t *testing.T) {
	shutdown, err := SetupTracing(context.Background(), TraceConfig{Exporter: "stdout", ServiceName: "pixelconv-test"}, nil)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestSetupTracingRejectsBadConfig(t *testing.T) {
	if _, err := SetupTracing(context.Background(), TraceConfig{Exporter: "otlp"}, nil); err == nil {
		t.Fatal("expected otlp without endpoint to fail")
	}
	if _, err := SetupTracing(context.Background(), TraceConfig{Exporter: "zipkin"}, nil); err == nil {
		t.Fatal("expected unknown exporter to fail")
	}
}
