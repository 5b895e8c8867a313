package logbus

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/tributary-data/tributary/internal/domain"
)

// Handler is an slog.Handler that mirrors records onto the bus. When the
// context carries a pipeline id tag, the record is converted to a
// RunLogEvent and published before being delegated to the inner handler.
// Attaching the pipeline_id attribute to the process log line is the
// api.ContextHandler's job; this handler only feeds the stream.
//
// Usage in main.go:
//
//	base := slog.NewJSONHandler(os.Stdout, nil)
//	slog.SetDefault(slog.New(logbus.NewHandler(base, bus)))
type Handler struct {
	inner slog.Handler
	bus   *Bus
}

// NewHandler wraps inner, publishing tagged records to bus.
func NewHandler(inner slog.Handler, bus *Bus) *Handler {
	return &Handler{inner: inner, bus: bus}
}

// Enabled delegates to the inner handler.
func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle publishes tagged records to the bus, then delegates.
func (h *Handler) Handle(ctx context.Context, record slog.Record) error {
	if id, ok := PipelineIDFromContext(ctx); ok && h.bus != nil {
		h.bus.Publish(eventFromRecord(id, record))
	}
	return h.inner.Handle(ctx, record)
}

// WithAttrs returns a new Handler wrapping the inner handler with additional attributes.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{inner: h.inner.WithAttrs(attrs), bus: h.bus}
}

// WithGroup returns a new Handler wrapping the inner handler with a group prefix.
func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{inner: h.inner.WithGroup(name), bus: h.bus}
}

func eventFromRecord(id uuid.UUID, record slog.Record) domain.RunLogEvent {
	ev := domain.RunLogEvent{
		PipelineID: id,
		Level:      record.Level.String(),
		Message:    record.Message,
		Timestamp:  record.Time,
	}
	if record.NumAttrs() > 0 {
		ev.Tags = make(map[string]string, record.NumAttrs())
		record.Attrs(func(a slog.Attr) bool {
			ev.Tags[a.Key] = a.Value.String()
			return true
		})
	}
	return ev
}
