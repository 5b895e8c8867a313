// Package store defines the persistence contracts for pipelines and run
// results, plus in-memory implementations used by default and in tests.
package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/tributary-data/tributary/internal/domain"
)

// PipelineStore persists pipeline records. Get and GetAll return deep copies;
// mutating a returned pipeline never affects the stored record until Save.
// Get returns (nil, nil) when the pipeline does not exist.
type PipelineStore interface {
	Save(ctx context.Context, p *domain.Pipeline) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Pipeline, error)
	GetAll(ctx context.Context) ([]domain.Pipeline, error)
	Delete(ctx context.Context, id uuid.UUID) (bool, error)
}

// ResultStore persists the latest successful run output per pipeline.
// GetResult returns (nil, nil) when no result has been stored.
type ResultStore interface {
	SaveResult(ctx context.Context, pipelineID uuid.UUID, out *domain.OutputData) error
	GetResult(ctx context.Context, pipelineID uuid.UUID) (*domain.OutputData, error)
	DeleteResult(ctx context.Context, pipelineID uuid.UUID) error
}
