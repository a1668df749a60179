// Package tools implements the local functions the concierge model can
// call during a voice session: calendar checks, reservations, deposit
// payments and reminders. Declarations are advertised in the session
// setup frame; calls are routed through a [Registry] that guarantees an
// error-shaped response instead of a dropped or propagated failure.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Damitimo/Google-Reserva/internal/observe"
	"github.com/Damitimo/Google-Reserva/pkg/live"
)

// Handler executes one tool call. The returned map is forwarded to the
// model verbatim as the functionResponse payload.
type Handler func(ctx context.Context, args map[string]any) (map[string]any, error)

// Registry routes tool calls by name. The zero value is not usable;
// create one with [NewRegistry].
type Registry struct {
	handlers map[string]Handler
	decls    []live.ToolDeclaration
	log      *slog.Logger
	metrics  *observe.Metrics
}

// NewRegistry returns an empty registry logging through log. A nil log
// uses [slog.Default].
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		handlers: make(map[string]Handler),
		log:      log,
		metrics:  observe.DefaultMetrics(),
	}
}

// Register adds a named tool. Re-registering a name replaces the
// previous handler but keeps only the first declaration.
func (r *Registry) Register(decl live.ToolDeclaration, h Handler) {
	if _, exists := r.handlers[decl.Name]; !exists {
		r.decls = append(r.decls, decl)
	}
	r.handlers[decl.Name] = h
}

// Declarations returns the tool declarations for [live.SessionConfig].
func (r *Registry) Declarations() []live.ToolDeclaration {
	return r.decls
}

// Dispatch executes the named tool and always returns a payload to send
// back to the model. Unknown tools, handler errors and handler panics
// all become an error-shaped map; Dispatch never returns an error and
// never panics.
func (r *Registry) Dispatch(ctx context.Context, call live.ToolCall) (payload map[string]any) {
	start := time.Now()
	status := "ok"

	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("tool handler panicked", "tool", call.Name, "panic", rec)
			status = "panic"
			payload = map[string]any{"error": fmt.Sprintf("tool %s failed", call.Name)}
		}
		r.metrics.RecordToolCall(ctx, call.Name, status, time.Since(start))
	}()

	h, ok := r.handlers[call.Name]
	if !ok {
		r.log.Warn("unknown tool requested", "tool", call.Name, "id", call.ID)
		status = "unknown"
		return map[string]any{"error": fmt.Sprintf("Unknown tool: %s", call.Name)}
	}

	result, err := h(ctx, call.Args)
	if err != nil {
		r.log.Error("tool handler failed", "tool", call.Name, "id", call.ID, "error", err)
		status = "error"
		return map[string]any{"error": err.Error()}
	}

	r.log.Debug("tool executed", "tool", call.Name, "id", call.ID, "duration", time.Since(start))
	return result
}

// ── Argument helpers ─────────────────────────────────────────────────────────

// JSON numbers arrive as float64, but be lenient about models sending
// quoted numbers or ints.

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func numberArg(args map[string]any, key string) (float64, bool) {
	switch v := args[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		var f float64
		if _, err := fmt.Sscanf(v, "%g", &f); err == nil {
			return f, true
		}
	}
	return 0, false
}
