package logbus

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey struct{}

// WithPipelineID tags a context so log records emitted under it are routed
// to the pipeline's stream subscribers. The tag follows the context through
// every call and goroutine the executor hands it to.
func WithPipelineID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// PipelineIDFromContext extracts the pipeline tag, if any.
func PipelineIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(ctxKey{}).(uuid.UUID)
	return id, ok
}
