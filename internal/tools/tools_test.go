package tools

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/Damitimo/Google-Reserva/pkg/live"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestRegistryDispatch(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(discardLogger())
	reg.Register(live.ToolDeclaration{Name: "echo"}, func(_ context.Context, args map[string]any) (map[string]any, error) {
		return map[string]any{"got": args["value"]}, nil
	})

	payload := reg.Dispatch(context.Background(), live.ToolCall{
		ID:   "fc-1",
		Name: "echo",
		Args: map[string]any{"value": "hello"},
	})
	if payload["got"] != "hello" {
		t.Errorf("payload = %v, want the echoed argument", payload)
	}
}

func TestRegistryDispatchUnknownTool(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(discardLogger())
	payload := reg.Dispatch(context.Background(), live.ToolCall{ID: "fc-2", Name: "teleport"})

	msg, ok := payload["error"].(string)
	if !ok || msg == "" {
		t.Fatalf("payload = %v, want an error-shaped response", payload)
	}
}

func TestRegistryDispatchHandlerError(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(discardLogger())
	reg.Register(live.ToolDeclaration{Name: "broken"}, func(context.Context, map[string]any) (map[string]any, error) {
		return nil, errors.New("backend unavailable")
	})

	payload := reg.Dispatch(context.Background(), live.ToolCall{ID: "fc-3", Name: "broken"})
	if payload["error"] != "backend unavailable" {
		t.Errorf("payload = %v, want the handler error surfaced", payload)
	}
}

func TestRegistryDispatchHandlerPanic(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(discardLogger())
	reg.Register(live.ToolDeclaration{Name: "explosive"}, func(context.Context, map[string]any) (map[string]any, error) {
		panic("boom")
	})

	payload := reg.Dispatch(context.Background(), live.ToolCall{ID: "fc-4", Name: "explosive"})
	if _, ok := payload["error"].(string); !ok {
		t.Fatalf("payload = %v, want an error-shaped response after a panic", payload)
	}
}

func TestRegistryDeclarationsInRegistrationOrder(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(discardLogger())
	noop := func(context.Context, map[string]any) (map[string]any, error) { return nil, nil }
	reg.Register(live.ToolDeclaration{Name: "first"}, noop)
	reg.Register(live.ToolDeclaration{Name: "second"}, noop)
	reg.Register(live.ToolDeclaration{Name: "first"}, noop) // replace, no duplicate decl

	decls := reg.Declarations()
	if len(decls) != 2 || decls[0].Name != "first" || decls[1].Name != "second" {
		t.Errorf("Declarations() = %+v, want [first second]", decls)
	}
}
