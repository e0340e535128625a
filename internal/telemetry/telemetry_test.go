package telemetry

import (
	"context"
	"os"
	"testing"
)

func TestSetup_NoEndpointReturnsNoopProvider(t *testing.T) {
	os.Unsetenv(endpointEnv)

	p, err := Setup(context.Background())
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if p.tracer == nil {
		t.Fatal("expected a non-nil tracer even in the no-op case")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown on no-op provider should not error: %v", err)
	}
}

func TestStartMessageSpan_AttachesAttributesWithoutPanicking(t *testing.T) {
	os.Unsetenv(endpointEnv)
	p, err := Setup(context.Background())
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}

	ctx, span := p.StartMessageSpan(context.Background(), "guild-1", "evt-1")
	if ctx == nil {
		t.Fatal("expected non-nil context")
	}
	AnnotateAction(span, "delete_message", "ok")
	span.End()
}

func TestStartJoinSpan_AttachesAttributesWithoutPanicking(t *testing.T) {
	os.Unsetenv(endpointEnv)
	p, err := Setup(context.Background())
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}

	_, span := p.StartJoinSpan(context.Background(), "guild-1", "user-1")
	span.End()
}
