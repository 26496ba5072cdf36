package tool_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/flemzord/toolgate/internal/tool"
	"github.com/flemzord/toolgate/internal/tool/tooltest"
)

func TestGateSetPolicy(t *testing.T) {
	t.Parallel()

	mt := tooltest.SimpleTool("read_file")
	g := newGate(t, tool.GateConfig{}, mt)

	if _, err := dispatch(g, "read_file", `{}`); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if err := g.SetPolicy(tool.Policy{Deny: []string{"read_file"}}); err != nil {
		t.Fatalf("SetPolicy: %v", err)
	}
	if _, err := dispatch(g, "read_file", `{}`); !errors.Is(err, tool.ErrDenied) {
		t.Fatalf("expected ErrDenied after SetPolicy, got %v", err)
	}
	if got := g.Policy().Deny; len(got) != 1 || got[0] != "read_file" {
		t.Errorf("Policy().Deny = %v", got)
	}
}

func TestGateSetPolicy_RejectsInvalid(t *testing.T) {
	t.Parallel()

	g := newGate(t, tool.GateConfig{Policy: tool.Policy{Deny: []string{"x"}}})
	err := g.SetPolicy(tool.Policy{Default: "sometimes"})
	if err == nil {
		t.Fatal("expected error for invalid policy")
	}
	if got := g.Policy().Deny; len(got) != 1 {
		t.Errorf("policy replaced despite error: %+v", g.Policy())
	}
}

func TestGateDispatch_Spans(t *testing.T) {
	t.Parallel()

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(t.Context()) })

	failing := tooltest.SimpleTool("broken")
	failing.RunFunc = func(context.Context, json.RawMessage) (string, error) {
		return "", errors.New("disk on fire")
	}

	g := newGate(t, tool.GateConfig{Tracer: tp.Tracer("test")}, tooltest.SimpleTool("echo"), failing)

	if _, err := dispatch(g, "echo", `{}`); err != nil {
		t.Fatalf("Dispatch echo: %v", err)
	}
	if _, err := dispatch(g, "broken", `{}`); err == nil {
		t.Fatal("expected tool error")
	}

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("spans = %d, want 2", len(spans))
	}
	for _, s := range spans {
		if s.Name != "tool.run" {
			t.Errorf("span name = %q", s.Name)
		}
	}
	if spans[0].Status.Code == codes.Error {
		t.Error("successful call recorded as error")
	}
	if spans[1].Status.Code != codes.Error || spans[1].Status.Description != "disk on fire" {
		t.Errorf("failed span status = %+v", spans[1].Status)
	}
}
