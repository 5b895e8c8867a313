package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tributary-data/tributary/internal/domain"
	"github.com/tributary-data/tributary/internal/logbus"
	"github.com/tributary-data/tributary/internal/recurrence"
)

// Run executes one pipeline run to completion. It is the scheduler's
// Runner; errors are terminal per run and are logged, not returned.
//
// State machine: INACTIVE → ACTIVE → INACTIVE (success, last_run advanced)
// or FAILED (last_run untouched). Every log emitted here carries the
// pipeline tag, so stream subscribers see the run as it happens.
func (s *Service) Run(ctx context.Context, id uuid.UUID) {
	ctx = logbus.WithPipelineID(ctx, id)

	p, ok := s.claimRun(ctx, id)
	if !ok {
		return
	}
	startedAt := p.UpdatedAt
	slog.InfoContext(ctx, "pipeline run started", "name", p.Name, "frequency", p.Config.RunFrequency)

	out, runErr := s.ingestor.Run(ctx, p.Config.Ingest)

	// Reload: the pipeline may have been updated or deleted while
	// ingestion ran. A deleted pipeline leaves nothing to finalize.
	p, err := s.pipelines.Get(ctx, id)
	if err != nil {
		slog.ErrorContext(ctx, "cannot reload pipeline after run, it may be stuck active", "error", err)
		return
	}
	if p == nil {
		slog.WarnContext(ctx, "pipeline deleted during run, dropping orphan schedule")
		if s.sched != nil {
			s.sched.Unschedule(id)
		}
		return
	}

	finishedAt := time.Now().UTC()
	if runErr != nil {
		p.Status = domain.StatusFailed
		slog.ErrorContext(ctx, "pipeline run failed", "error", runErr)
	} else {
		p.Status = domain.StatusInactive
		p.Config.LastRun = &startedAt
		if err := s.results.SaveResult(ctx, id, out); err != nil {
			slog.ErrorContext(ctx, "failed to persist run results", "error", err)
		}
		slog.InfoContext(ctx, "pipeline run succeeded",
			"records", len(out.Records), "duration", finishedAt.Sub(startedAt))
	}

	next, err := recurrence.NextRun(p.Config.RunFrequency, p.Config.LastRun, finishedAt)
	if err != nil {
		slog.ErrorContext(ctx, "cannot compute next run", "error", err)
	} else {
		p.Config.NextRun = &next
	}
	p.UpdatedAt = finishedAt

	if err := s.pipelines.Save(ctx, p); err != nil {
		// The pipeline stays ACTIVE in the store until an operator or a
		// later write repairs it.
		slog.ErrorContext(ctx, "failed to finalize run, pipeline may be stuck active", "error", err)
		return
	}
	if s.sched != nil {
		s.sched.Schedule(ctx, p)
	}
}

// claimRun transitions the pipeline to ACTIVE, or reports that the run must
// not proceed. The load, the ACTIVE check, and the marker write happen under
// a per-pipeline mutex: without it, two concurrent runs could both observe
// INACTIVE before either persisted the marker, and both would ingest. The
// mutex covers only the claim; ingestion runs outside it.
func (s *Service) claimRun(ctx context.Context, id uuid.UUID) (*domain.Pipeline, bool) {
	v, _ := s.runLocks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	p, err := s.pipelines.Get(ctx, id)
	if err != nil {
		slog.ErrorContext(ctx, "run aborted: cannot load pipeline", "error", err)
		return nil, false
	}
	if p == nil {
		slog.WarnContext(ctx, "run aborted: pipeline no longer exists")
		return nil, false
	}
	if p.Status == domain.StatusActive {
		// At-most-one: another run holds the pipeline.
		slog.WarnContext(ctx, "run skipped: pipeline already active", "name", p.Name)
		return nil, false
	}

	p.Status = domain.StatusActive
	p.UpdatedAt = time.Now().UTC()
	if err := s.pipelines.Save(ctx, p); err != nil {
		// Without the ACTIVE marker persisted there is no mutual
		// exclusion, so the run must not proceed.
		slog.ErrorContext(ctx, "run aborted: cannot mark pipeline active", "error", err)
		return nil, false
	}
	return p, true
}
