// Package service is the pipeline control plane: CRUD over the store,
// manual triggers, latest-result lookup, and the run executor the scheduler
// dispatches into.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tributary-data/tributary/internal/domain"
	"github.com/tributary-data/tributary/internal/ingest"
	"github.com/tributary-data/tributary/internal/recurrence"
	"github.com/tributary-data/tributary/internal/store"
)

// SchedulerNotifier is the slice of the scheduler the service talks to.
// The scheduler in turn calls Run, so the link is established after both
// are constructed (SetScheduler).
type SchedulerNotifier interface {
	Schedule(ctx context.Context, p *domain.Pipeline)
	Unschedule(pipelineID uuid.UUID)
	TriggerNow(ctx context.Context, pipelineID uuid.UUID) error
}

// Service implements pipeline operations and run execution.
type Service struct {
	pipelines store.PipelineStore
	results   store.ResultStore
	ingestor  *ingest.Orchestrator
	sched     SchedulerNotifier // nil until SetScheduler; set once at boot

	// runLocks serializes the INACTIVE check and ACTIVE marker write per
	// pipeline (see claimRun). Entries are removed on pipeline delete.
	runLocks sync.Map // uuid.UUID -> *sync.Mutex
}

// New creates a Service. Call SetScheduler before serving traffic.
func New(pipelines store.PipelineStore, results store.ResultStore, ingestor *ingest.Orchestrator) *Service {
	return &Service{pipelines: pipelines, results: results, ingestor: ingestor}
}

// SetScheduler wires the scheduler after construction.
func (s *Service) SetScheduler(sched SchedulerNotifier) {
	s.sched = sched
}

// PipelineInput is the user-supplied part of a pipeline.
type PipelineInput struct {
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Frequency   domain.RunFrequency `json:"run_frequency"`
	Ingest      domain.IngestConfig `json:"ingestor_config"`
}

func (in *PipelineInput) validate() error {
	if in.Name == "" {
		return &domain.ConfigError{Msg: "pipeline name is required"}
	}
	if !domain.ValidFrequency(string(in.Frequency)) {
		return &domain.ConfigError{Msg: fmt.Sprintf("invalid run frequency %q", in.Frequency)}
	}
	if len(in.Ingest.Sources) == 0 {
		return &domain.ConfigError{Msg: "at least one source is required"}
	}
	return nil
}

// Create registers a new pipeline. The first next_run is seeded from the
// frequency with no last_run, and the pipeline is scheduled immediately.
func (s *Service) Create(ctx context.Context, in PipelineInput) (*domain.Pipeline, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	next, err := recurrence.NextRun(in.Frequency, nil, now)
	if err != nil {
		return nil, &domain.ConfigError{Msg: err.Error()}
	}

	p := &domain.Pipeline{
		ID:          uuid.New(),
		Name:        in.Name,
		Description: in.Description,
		Status:      domain.StatusInactive,
		Config: domain.PipelineConfig{
			Ingest:       in.Ingest,
			RunFrequency: in.Frequency,
			NextRun:      &next,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.pipelines.Save(ctx, p); err != nil {
		return nil, fmt.Errorf("save pipeline: %w", err)
	}
	if s.sched != nil {
		s.sched.Schedule(ctx, p)
	}
	return p, nil
}

// Update overwrites a pipeline's user-supplied fields. next_run is
// recomputed only when the frequency changed; last_run is always preserved.
func (s *Service) Update(ctx context.Context, id uuid.UUID, in PipelineInput) (*domain.Pipeline, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	p, err := s.pipelines.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get pipeline: %w", err)
	}
	if p == nil {
		return nil, domain.ErrNotFound
	}

	now := time.Now().UTC()
	if in.Frequency != p.Config.RunFrequency {
		next, err := recurrence.NextRun(in.Frequency, p.Config.LastRun, now)
		if err != nil {
			return nil, &domain.ConfigError{Msg: err.Error()}
		}
		p.Config.NextRun = &next
	}
	p.Name = in.Name
	p.Description = in.Description
	p.Config.RunFrequency = in.Frequency
	p.Config.Ingest = in.Ingest
	p.UpdatedAt = now

	if err := s.pipelines.Save(ctx, p); err != nil {
		return nil, fmt.Errorf("save pipeline: %w", err)
	}
	if s.sched != nil {
		s.sched.Schedule(ctx, p)
	}
	return p, nil
}

// Delete unschedules the pipeline first, then removes its record and any
// stored result. Ordering matters: the scheduler must not fire a pipeline
// that is about to disappear.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if s.sched != nil {
		s.sched.Unschedule(id)
	}
	ok, err := s.pipelines.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("delete pipeline: %w", err)
	}
	if !ok {
		return domain.ErrNotFound
	}
	s.runLocks.Delete(id)
	if err := s.results.DeleteResult(ctx, id); err != nil {
		return fmt.Errorf("delete result: %w", err)
	}
	return nil
}

// Get returns one pipeline.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.Pipeline, error) {
	p, err := s.pipelines.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get pipeline: %w", err)
	}
	if p == nil {
		return nil, domain.ErrNotFound
	}
	return p, nil
}

// List returns all pipelines.
func (s *Service) List(ctx context.Context) ([]domain.Pipeline, error) {
	pipelines, err := s.pipelines.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pipelines: %w", err)
	}
	return pipelines, nil
}

// RunNow queues an immediate manual run through the scheduler's one-shot
// path. Refused while the pipeline is ACTIVE; the scheduler re-checks at
// dispatch, so the pre-check here only exists to fail fast.
func (s *Service) RunNow(ctx context.Context, id uuid.UUID) error {
	p, err := s.pipelines.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("get pipeline: %w", err)
	}
	if p == nil {
		return domain.ErrNotFound
	}
	if p.Status == domain.StatusActive {
		return domain.ErrPipelineActive
	}
	if s.sched == nil {
		go s.Run(context.WithoutCancel(ctx), id)
		return nil
	}
	return s.sched.TriggerNow(ctx, id)
}

// LatestResults returns the output of the last successful run, or nil when
// the pipeline has never succeeded.
func (s *Service) LatestResults(ctx context.Context, id uuid.UUID) (*domain.OutputData, error) {
	p, err := s.pipelines.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get pipeline: %w", err)
	}
	if p == nil {
		return nil, domain.ErrNotFound
	}
	out, err := s.results.GetResult(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get result: %w", err)
	}
	return out, nil
}
