package store

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/tributary-data/tributary/internal/domain"
)

// MemoryPipelineStore is a map-backed PipelineStore. Safe for concurrent use.
type MemoryPipelineStore struct {
	mu        sync.RWMutex
	pipelines map[uuid.UUID]*domain.Pipeline
}

// NewMemoryPipelineStore returns an empty in-memory store.
func NewMemoryPipelineStore() *MemoryPipelineStore {
	return &MemoryPipelineStore{pipelines: make(map[uuid.UUID]*domain.Pipeline)}
}

// Save upserts a pipeline. The store keeps its own copy.
func (s *MemoryPipelineStore) Save(_ context.Context, p *domain.Pipeline) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pipelines[p.ID] = p.Clone()
	return nil
}

// Get returns a copy of the pipeline, or (nil, nil) if absent.
func (s *MemoryPipelineStore) Get(_ context.Context, id uuid.UUID) (*domain.Pipeline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pipelines[id].Clone(), nil
}

// GetAll returns copies of every stored pipeline, in unspecified order.
func (s *MemoryPipelineStore) GetAll(_ context.Context) ([]domain.Pipeline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Pipeline, 0, len(s.pipelines))
	for _, p := range s.pipelines {
		out = append(out, *p.Clone())
	}
	return out, nil
}

// Delete removes a pipeline, reporting whether it existed.
func (s *MemoryPipelineStore) Delete(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pipelines[id]
	delete(s.pipelines, id)
	return ok, nil
}

// MemoryResultStore is a map-backed ResultStore. Safe for concurrent use.
type MemoryResultStore struct {
	mu      sync.RWMutex
	results map[uuid.UUID]*domain.OutputData
}

// NewMemoryResultStore returns an empty in-memory result store.
func NewMemoryResultStore() *MemoryResultStore {
	return &MemoryResultStore{results: make(map[uuid.UUID]*domain.OutputData)}
}

// SaveResult stores a copy of the run output, replacing any previous result.
func (s *MemoryResultStore) SaveResult(_ context.Context, pipelineID uuid.UUID, out *domain.OutputData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[pipelineID] = out.Clone()
	return nil
}

// GetResult returns a copy of the stored output, or (nil, nil) if absent.
func (s *MemoryResultStore) GetResult(_ context.Context, pipelineID uuid.UUID) (*domain.OutputData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.results[pipelineID].Clone(), nil
}

// DeleteResult removes the stored output for a pipeline, if any.
func (s *MemoryResultStore) DeleteResult(_ context.Context, pipelineID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.results, pipelineID)
	return nil
}
