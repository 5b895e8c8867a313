package api

import (
	"context"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tributary-data/tributary/internal/logbus"
)

// capturingHandler keeps handled records so tests can inspect attributes.
type capturingHandler struct {
	records []map[string]string
}

func (h *capturingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *capturingHandler) Handle(_ context.Context, r slog.Record) error {
	attrs := make(map[string]string, r.NumAttrs())
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.String()
		return true
	})
	h.records = append(h.records, attrs)
	return nil
}

func (h *capturingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *capturingHandler) WithGroup(string) slog.Handler      { return h }

func TestContextHandlerEnrichesCorrelationIDs(t *testing.T) {
	inner := &capturingHandler{}
	logger := slog.New(NewContextHandler(inner))

	id := uuid.New()
	ctx := context.WithValue(context.Background(), requestIDKey{}, "req-123")
	ctx = logbus.WithPipelineID(ctx, id)

	logger.InfoContext(ctx, "run started")
	logger.Info("plain record")

	require.Len(t, inner.records, 2)
	assert.Equal(t, "req-123", inner.records[0]["request_id"])
	assert.Equal(t, id.String(), inner.records[0]["pipeline_id"])

	_, hasReq := inner.records[1]["request_id"]
	assert.False(t, hasReq)
	_, hasPipe := inner.records[1]["pipeline_id"]
	assert.False(t, hasPipe)
}
