package api

import (
	"context"
	"log/slog"

	"github.com/tributary-data/tributary/internal/logbus"
)

// ContextHandler is an slog.Handler that enriches log records with the
// correlation ids carried in the context: the request id set by the
// RequestID middleware and the pipeline id set by the run executor. With
// both attached, process logs line up with access logs and with the
// per-pipeline SSE stream without handlers threading ids explicitly.
//
// Usage in main.go:
//
//	base := slog.NewJSONHandler(os.Stdout, nil)
//	slog.SetDefault(slog.New(api.NewContextHandler(base)))
type ContextHandler struct {
	inner slog.Handler
}

// NewContextHandler creates a ContextHandler wrapping the given handler.
func NewContextHandler(inner slog.Handler) *ContextHandler {
	return &ContextHandler{inner: inner}
}

// Enabled delegates to the inner handler.
func (h *ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle enriches the record with context values before delegating.
func (h *ContextHandler) Handle(ctx context.Context, record slog.Record) error {
	if reqID := RequestIDFromContext(ctx); reqID != "" {
		record.AddAttrs(slog.String("request_id", reqID))
	}
	if id, ok := logbus.PipelineIDFromContext(ctx); ok {
		record.AddAttrs(slog.String("pipeline_id", id.String()))
	}
	return h.inner.Handle(ctx, record)
}

// WithAttrs returns a new ContextHandler wrapping the inner handler with additional attributes.
func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{inner: h.inner.WithAttrs(attrs)}
}

// WithGroup returns a new ContextHandler wrapping the inner handler with a group prefix.
func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{inner: h.inner.WithGroup(name)}
}
