// Package scheduler maintains the process-local fire table for pipelines
// and dispatches runs when their next_run instant arrives.
//
// The table is advisory: the pipeline store is the source of truth, and a
// periodic reconciliation pass (default 60s) realigns the table with it —
// adding entries for schedulable pipelines, correcting drifted fire times,
// and dropping entries whose pipelines are gone. Mutations from the service
// layer (create/update/delete/manual trigger) land immediately through
// Schedule, Unschedule, and TriggerNow; reconciliation is the safety net.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tributary-data/tributary/internal/domain"
	"github.com/tributary-data/tributary/internal/recurrence"
	"github.com/tributary-data/tributary/internal/store"
)

// Runner executes one pipeline run to completion. The service layer
// satisfies this; the indirection exists because the service also calls
// back into the scheduler.
type Runner interface {
	Run(ctx context.Context, pipelineID uuid.UUID)
}

// firePoll is how often the fire table is checked for due entries. The
// reconcile interval only controls store realignment.
const firePoll = time.Second

type entryState int

const (
	statePending entryState = iota
	stateDispatching
)

// entry is one scheduled fire. Recurring entries mirror a pipeline's
// next_run; one-shot entries come from manual triggers and never coalesce.
type entry struct {
	pipelineID uuid.UUID
	fireAt     time.Time
	state      entryState
	oneShot    bool
}

// Scheduler owns the fire table. All table access is serialized by mu; the
// lock is never held across a run.
type Scheduler struct {
	pipelines     store.PipelineStore
	runner        Runner
	checkInterval time.Duration
	misfireGrace  time.Duration

	mu       sync.Mutex
	entries  map[uuid.UUID]*entry // recurring, keyed by pipeline
	oneShots []*entry

	running bool // poll loop active, guarded by mu

	sem    chan struct{} // bounds concurrent runs across pipelines
	wg     sync.WaitGroup
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Scheduler. maxConcurrent bounds simultaneous runs; entries
// that cannot acquire a slot stay pending and retry on the next poll.
func New(pipelines store.PipelineStore, checkInterval, misfireGrace time.Duration, maxConcurrent int) *Scheduler {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Scheduler{
		pipelines:     pipelines,
		checkInterval: checkInterval,
		misfireGrace:  misfireGrace,
		entries:       make(map[uuid.UUID]*entry),
		sem:           make(chan struct{}, maxConcurrent),
	}
}

// SetRunner wires the run executor. Must be called before Start.
func (s *Scheduler) SetRunner(r Runner) {
	s.runner = r
}

// Start reconciles once, then runs the poll/reconcile loop in a background
// goroutine until Stop or ctx cancellation.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	s.reconcile(ctx)

	go func() {
		defer close(s.done)
		defer func() {
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
		}()
		fire := time.NewTicker(firePoll)
		defer fire.Stop()
		reconcile := time.NewTicker(s.checkInterval)
		defer reconcile.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-fire.C:
				s.fireDue(ctx, time.Now().UTC())
			case <-reconcile.C:
				s.reconcile(ctx)
			}
		}
	}()
}

// Stop halts the loop and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
	s.wg.Wait()
}

// Schedule aligns the fire table with one pipeline's current state: an
// INACTIVE pipeline with a next_run gets an entry, anything else loses its
// entry. Entries mid-dispatch are left alone.
func (s *Scheduler) Schedule(_ context.Context, p *domain.Pipeline) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduleLocked(p)
}

func (s *Scheduler) scheduleLocked(p *domain.Pipeline) {
	cur, exists := s.entries[p.ID]
	if exists && cur.state == stateDispatching {
		return
	}

	schedulable := p.Status == domain.StatusInactive && p.Config.NextRun != nil
	if !schedulable {
		if exists {
			delete(s.entries, p.ID)
			slog.Debug("scheduler: entry removed", "pipeline_id", p.ID, "status", p.Status)
		}
		return
	}

	fireAt := p.Config.NextRun.UTC()
	if exists && cur.fireAt.Equal(fireAt) {
		return
	}
	s.entries[p.ID] = &entry{pipelineID: p.ID, fireAt: fireAt}
	slog.Debug("scheduler: entry set", "pipeline_id", p.ID, "fire_at", fireAt)
}

// Unschedule drops a pipeline's recurring entry and any pending one-shots.
// A run already dispatched is not interrupted.
func (s *Scheduler) Unschedule(pipelineID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, pipelineID)
	kept := s.oneShots[:0]
	for _, e := range s.oneShots {
		if e.pipelineID != pipelineID || e.state == stateDispatching {
			kept = append(kept, e)
		}
	}
	s.oneShots = kept
}

// TriggerNow queues an immediate one-shot run, distinct from the recurring
// entry. Refused when the pipeline is missing or already running.
func (s *Scheduler) TriggerNow(ctx context.Context, pipelineID uuid.UUID) error {
	p, err := s.pipelines.Get(ctx, pipelineID)
	if err != nil {
		return err
	}
	if p == nil {
		return domain.ErrNotFound
	}
	if p.Status == domain.StatusActive {
		return domain.ErrPipelineActive
	}

	s.mu.Lock()
	for _, e := range s.oneShots {
		if e.pipelineID == pipelineID && e.state == statePending {
			s.mu.Unlock()
			return domain.ErrPipelineActive
		}
	}
	// Without a poll loop (scheduler not started, or a replica that lost
	// leader election) queued one-shots would never fire, so run directly.
	if !s.running {
		s.mu.Unlock()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runner.Run(context.WithoutCancel(ctx), pipelineID)
		}()
		slog.Info("scheduler: manual run dispatched directly", "pipeline_id", pipelineID)
		return nil
	}
	s.oneShots = append(s.oneShots, &entry{pipelineID: pipelineID, fireAt: time.Now().UTC(), oneShot: true})
	s.mu.Unlock()
	slog.Info("scheduler: manual run queued", "pipeline_id", pipelineID)
	return nil
}

// reconcile realigns the fire table with the store.
func (s *Scheduler) reconcile(ctx context.Context) {
	pipelines, err := s.pipelines.GetAll(ctx)
	if err != nil {
		slog.Error("scheduler: failed to list pipelines", "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[uuid.UUID]struct{}, len(pipelines))
	for i := range pipelines {
		p := &pipelines[i]
		seen[p.ID] = struct{}{}
		s.scheduleLocked(p)
	}
	for id, e := range s.entries {
		if _, ok := seen[id]; !ok && e.state != stateDispatching {
			delete(s.entries, id)
			slog.Warn("scheduler: dropping entry for deleted pipeline", "pipeline_id", id)
		}
	}
}

// fireDue dispatches every pending entry whose fire time has arrived.
// Recurring entries that missed their window by more than the misfire grace
// are coalesced: the stale occurrence is abandoned with a warning and the
// pipeline's next_run is advanced to the next instant on its cadence, so the
// pipeline keeps recurring instead of stranding on a fire time in the past.
// One-shots always fire.
func (s *Scheduler) fireDue(ctx context.Context, now time.Time) {
	s.mu.Lock()
	var due, stale []*entry
	for _, e := range s.entries {
		if e.state != statePending || e.fireAt.After(now) {
			continue
		}
		if now.Sub(e.fireAt) > s.misfireGrace {
			slog.Warn("scheduler: misfire beyond grace, skipping to next occurrence",
				"pipeline_id", e.pipelineID, "fire_at", e.fireAt, "grace", s.misfireGrace)
			delete(s.entries, e.pipelineID)
			stale = append(stale, e)
			continue
		}
		due = append(due, e)
	}
	for _, e := range s.oneShots {
		if e.state == statePending && !e.fireAt.After(now) {
			due = append(due, e)
		}
	}
	s.mu.Unlock()

	for _, e := range stale {
		s.advancePastMisfire(ctx, e, now)
	}
	for _, e := range due {
		s.dispatch(ctx, e)
	}
}

// advancePastMisfire recomputes and persists the next_run of a pipeline
// whose occurrence was abandoned past the grace window. Persisting matters:
// the store keeps a next_run in the past otherwise, and every reconcile
// would re-add the same stale entry only to drop it again. If the pipeline
// changed underneath (updated or deleted while the table was stale), the
// store's newer state wins.
func (s *Scheduler) advancePastMisfire(ctx context.Context, e *entry, now time.Time) {
	p, err := s.pipelines.Get(ctx, e.pipelineID)
	if err != nil {
		slog.Error("scheduler: cannot load pipeline to advance past misfire",
			"pipeline_id", e.pipelineID, "error", err)
		return
	}
	if p == nil {
		return
	}
	if p.Config.NextRun == nil || !p.Config.NextRun.UTC().Equal(e.fireAt) {
		s.Schedule(ctx, p)
		return
	}

	next, err := recurrence.NextRun(p.Config.RunFrequency, p.Config.LastRun, now)
	if err != nil {
		slog.Error("scheduler: cannot compute next run after misfire",
			"pipeline_id", e.pipelineID, "error", err)
		return
	}
	p.Config.NextRun = &next
	p.UpdatedAt = now
	if err := s.pipelines.Save(ctx, p); err != nil {
		// Reconciliation re-adds the stale entry and this retries.
		slog.Error("scheduler: cannot persist advanced next run",
			"pipeline_id", e.pipelineID, "error", err)
		return
	}
	slog.Info("scheduler: next run advanced past misfire",
		"pipeline_id", e.pipelineID, "missed", e.fireAt, "next_run", next)
	s.Schedule(ctx, p)
}

// dispatch moves an entry into the runner, bounded by the semaphore. When
// all slots are taken the entry stays pending for the next poll.
func (s *Scheduler) dispatch(ctx context.Context, e *entry) {
	select {
	case s.sem <- struct{}{}:
	default:
		slog.Warn("scheduler: at max concurrent runs, will retry next tick", "pipeline_id", e.pipelineID)
		return
	}

	s.mu.Lock()
	if e.state != statePending {
		s.mu.Unlock()
		<-s.sem
		return
	}
	e.state = stateDispatching
	s.removeLocked(e)
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { <-s.sem }()
		s.runner.Run(ctx, e.pipelineID)
	}()
}

func (s *Scheduler) removeLocked(e *entry) {
	if e.oneShot {
		for i, o := range s.oneShots {
			if o == e {
				s.oneShots = append(s.oneShots[:i], s.oneShots[i+1:]...)
				return
			}
		}
		return
	}
	if cur, ok := s.entries[e.pipelineID]; ok && cur == e {
		delete(s.entries, e.pipelineID)
	}
}
