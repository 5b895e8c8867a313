package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tributary-data/tributary/internal/domain"
)

// PipelineStore implements store.PipelineStore on a JSONB document table.
type PipelineStore struct {
	pool *pgxpool.Pool
}

// NewPipelineStore creates a PipelineStore using the given pool.
func NewPipelineStore(pool *pgxpool.Pool) *PipelineStore {
	return &PipelineStore{pool: pool}
}

// Save upserts the pipeline document.
func (s *PipelineStore) Save(ctx context.Context, p *domain.Pipeline) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal pipeline: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO pipelines (id, data, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()
	`, p.ID, doc)
	if err != nil {
		return fmt.Errorf("save pipeline: %w", err)
	}
	return nil
}

// Get returns one pipeline, or (nil, nil) if absent.
func (s *PipelineStore) Get(ctx context.Context, id uuid.UUID) (*domain.Pipeline, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, "SELECT data FROM pipelines WHERE id = $1", id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pipeline: %w", err)
	}

	var p domain.Pipeline
	if err := json.Unmarshal(doc, &p); err != nil {
		return nil, fmt.Errorf("unmarshal pipeline %s: %w", id, err)
	}
	return &p, nil
}

// GetAll returns every pipeline.
func (s *PipelineStore) GetAll(ctx context.Context) ([]domain.Pipeline, error) {
	rows, err := s.pool.Query(ctx, "SELECT data FROM pipelines ORDER BY data->>'created_at'")
	if err != nil {
		return nil, fmt.Errorf("list pipelines: %w", err)
	}
	defer rows.Close()

	var pipelines []domain.Pipeline
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan pipeline: %w", err)
		}
		var p domain.Pipeline
		if err := json.Unmarshal(doc, &p); err != nil {
			return nil, fmt.Errorf("unmarshal pipeline: %w", err)
		}
		pipelines = append(pipelines, p)
	}
	return pipelines, rows.Err()
}

// Delete removes a pipeline, reporting whether it existed.
func (s *PipelineStore) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM pipelines WHERE id = $1", id)
	if err != nil {
		return false, fmt.Errorf("delete pipeline: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ResultStore implements store.ResultStore on a JSONB document table.
type ResultStore struct {
	pool *pgxpool.Pool
}

// NewResultStore creates a ResultStore using the given pool.
func NewResultStore(pool *pgxpool.Pool) *ResultStore {
	return &ResultStore{pool: pool}
}

// SaveResult replaces the stored output for a pipeline.
func (s *ResultStore) SaveResult(ctx context.Context, pipelineID uuid.UUID, out *domain.OutputData) error {
	doc, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO pipeline_results (pipeline_id, data, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (pipeline_id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()
	`, pipelineID, doc)
	if err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	return nil
}

// GetResult returns the stored output, or (nil, nil) if absent.
func (s *ResultStore) GetResult(ctx context.Context, pipelineID uuid.UUID) (*domain.OutputData, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx,
		"SELECT data FROM pipeline_results WHERE pipeline_id = $1", pipelineID).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get result: %w", err)
	}

	var out domain.OutputData
	if err := json.Unmarshal(doc, &out); err != nil {
		return nil, fmt.Errorf("unmarshal result %s: %w", pipelineID, err)
	}
	return &out, nil
}

// DeleteResult removes the stored output, if any.
func (s *ResultStore) DeleteResult(ctx context.Context, pipelineID uuid.UUID) error {
	if _, err := s.pool.Exec(ctx,
		"DELETE FROM pipeline_results WHERE pipeline_id = $1", pipelineID); err != nil {
		return fmt.Errorf("delete result: %w", err)
	}
	return nil
}
