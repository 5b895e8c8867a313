package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tributary-data/tributary/internal/domain"
	"github.com/tributary-data/tributary/internal/ingest"
	"github.com/tributary-data/tributary/internal/store"
)

// mockNotifier records scheduler notifications in call order.
type mockNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (m *mockNotifier) Schedule(_ context.Context, p *domain.Pipeline) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "schedule:"+p.ID.String())
}

func (m *mockNotifier) Unschedule(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "unschedule:"+id.String())
}

func (m *mockNotifier) TriggerNow(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "trigger:"+id.String())
	return nil
}

func (m *mockNotifier) callList() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func newTestService(t *testing.T) (*Service, *store.MemoryPipelineStore, *store.MemoryResultStore, *mockNotifier) {
	t.Helper()
	pipelines := store.NewMemoryPipelineStore()
	results := store.NewMemoryResultStore()
	svc := New(pipelines, results, ingest.New(ingest.Defaults{APITimeout: 5 * time.Second}, nil))
	notifier := &mockNotifier{}
	svc.SetScheduler(notifier)
	return svc, pipelines, results, notifier
}

func jsonFileInput(name, content string) PipelineInput {
	return PipelineInput{
		Name:      name,
		Frequency: domain.FrequencyDaily,
		Ingest: domain.IngestConfig{
			Sources: []domain.SourceConfig{{
				Type: domain.SourceFile,
				File: &domain.FileConfig{
					Content:  []byte(content),
					Filename: "data.json",
					Format:   domain.FormatJSON,
				},
			}},
		},
	}
}

func TestCreateSeedsNextRunAndSchedules(t *testing.T) {
	svc, pipelines, _, notifier := newTestService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, jsonFileInput("orders", `{"k":"v"}`))
	require.NoError(t, err)

	assert.Equal(t, domain.StatusInactive, p.Status)
	assert.Nil(t, p.Config.LastRun)
	require.NotNil(t, p.Config.NextRun)
	assert.True(t, p.Config.NextRun.After(time.Now().UTC()))

	stored, err := pipelines.Get(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, []string{"schedule:" + p.ID.String()}, notifier.callList())
}

func TestCreateValidation(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   PipelineInput
	}{
		{"empty name", PipelineInput{Frequency: domain.FrequencyDaily}},
		{"bad frequency", PipelineInput{Name: "x", Frequency: "HOURLY"}},
		{"no sources", PipelineInput{Name: "x", Frequency: domain.FrequencyDaily}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tt.in)
			var cfgErr *domain.ConfigError
			require.Error(t, err)
			assert.ErrorAs(t, err, &cfgErr)
		})
	}
}

func TestUpdateKeepsNextRunWhenFrequencyUnchanged(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, jsonFileInput("orders", `{"k":"v"}`))
	require.NoError(t, err)
	origNext := *p.Config.NextRun

	in := jsonFileInput("orders-renamed", `{"k":"v"}`)
	updated, err := svc.Update(ctx, p.ID, in)
	require.NoError(t, err)

	assert.Equal(t, "orders-renamed", updated.Name)
	assert.Equal(t, origNext, *updated.Config.NextRun)
}

func TestUpdateRecomputesNextRunOnFrequencyChange(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, jsonFileInput("orders", `{"k":"v"}`))
	require.NoError(t, err)

	in := jsonFileInput("orders", `{"k":"v"}`)
	in.Frequency = domain.FrequencyMonthly
	updated, err := svc.Update(ctx, p.ID, in)
	require.NoError(t, err)

	assert.Equal(t, domain.FrequencyMonthly, updated.Config.RunFrequency)
	now := time.Now().UTC()
	want := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	assert.Equal(t, want, *updated.Config.NextRun)
}

func TestUpdateMissingPipeline(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	_, err := svc.Update(context.Background(), uuid.New(), jsonFileInput("x", `{}`))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDeleteUnschedulesBeforeRemoving(t *testing.T) {
	svc, pipelines, results, notifier := newTestService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, jsonFileInput("orders", `{"k":"v"}`))
	require.NoError(t, err)
	require.NoError(t, results.SaveResult(ctx, p.ID, &domain.OutputData{Metadata: map[string]any{}}))

	require.NoError(t, svc.Delete(ctx, p.ID))

	calls := notifier.callList()
	require.Len(t, calls, 2)
	assert.Equal(t, "unschedule:"+p.ID.String(), calls[1])

	stored, err := pipelines.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Nil(t, stored)

	out, err := results.GetResult(ctx, p.ID)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestDeleteMissingPipeline(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	err := svc.Delete(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRunNow(t *testing.T) {
	svc, _, _, notifier := newTestService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, jsonFileInput("orders", `{"k":"v"}`))
	require.NoError(t, err)

	require.NoError(t, svc.RunNow(ctx, p.ID))
	assert.Contains(t, notifier.callList(), "trigger:"+p.ID.String())
}

func TestRunNowRejectsActivePipeline(t *testing.T) {
	svc, pipelines, _, _ := newTestService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, jsonFileInput("orders", `{"k":"v"}`))
	require.NoError(t, err)
	p.Status = domain.StatusActive
	require.NoError(t, pipelines.Save(ctx, p))

	err = svc.RunNow(ctx, p.ID)
	assert.ErrorIs(t, err, domain.ErrPipelineActive)
}

func TestRunSuccess(t *testing.T) {
	svc, pipelines, results, _ := newTestService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, jsonFileInput("orders", `[{"id":1},{"id":2}]`))
	require.NoError(t, err)

	before := time.Now().UTC()
	svc.Run(ctx, p.ID)

	after, err := pipelines.Get(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, after)

	assert.Equal(t, domain.StatusInactive, after.Status)
	require.NotNil(t, after.Config.LastRun)
	assert.False(t, after.Config.LastRun.Before(before))
	require.NotNil(t, after.Config.NextRun)
	assert.True(t, after.Config.NextRun.After(*after.Config.LastRun))

	out, err := results.GetResult(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Len(t, out.Records, 2)
	assert.Equal(t, 2, out.Metadata["record_count"])
}

func TestRunFailureKeepsLastRun(t *testing.T) {
	svc, pipelines, results, _ := newTestService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, jsonFileInput("orders", `{"k":"v"}`))
	require.NoError(t, err)

	// An unknown strategy makes ingestion fail as a whole.
	p.Config.Ingest.Strategy = "bogus"
	last := time.Now().UTC().Add(-24 * time.Hour)
	p.Config.LastRun = &last
	require.NoError(t, pipelines.Save(ctx, p))

	svc.Run(ctx, p.ID)

	after, err := pipelines.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, after.Status)
	assert.Equal(t, last, *after.Config.LastRun)
	require.NotNil(t, after.Config.NextRun)

	out, err := results.GetResult(ctx, p.ID)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestRunSkipsActivePipeline(t *testing.T) {
	svc, pipelines, results, _ := newTestService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, jsonFileInput("orders", `{"k":"v"}`))
	require.NoError(t, err)
	p.Status = domain.StatusActive
	require.NoError(t, pipelines.Save(ctx, p))

	svc.Run(ctx, p.ID)

	after, err := pipelines.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, after.Status)

	out, err := results.GetResult(ctx, p.ID)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestRunMissingPipeline(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	// Must be a no-op, not a panic.
	svc.Run(context.Background(), uuid.New())
}

func TestRunUnschedulesPipelineDeletedMidRun(t *testing.T) {
	pipelines := &deletingPipelineStore{MemoryPipelineStore: store.NewMemoryPipelineStore()}
	results := store.NewMemoryResultStore()
	svc := New(pipelines, results, ingest.New(ingest.Defaults{}, nil))
	notifier := &mockNotifier{}
	svc.SetScheduler(notifier)
	ctx := context.Background()

	p, err := svc.Create(ctx, jsonFileInput("orders", `{"k":"v"}`))
	require.NoError(t, err)
	pipelines.deleteAfterSave = p.ID

	svc.Run(ctx, p.ID)

	assert.Contains(t, notifier.callList(), "unschedule:"+p.ID.String())
	out, err := results.GetResult(ctx, p.ID)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestLatestResults(t *testing.T) {
	svc, _, results, _ := newTestService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, jsonFileInput("orders", `{"k":"v"}`))
	require.NoError(t, err)

	out, err := svc.LatestResults(ctx, p.ID)
	require.NoError(t, err)
	assert.Nil(t, out)

	require.NoError(t, results.SaveResult(ctx, p.ID, &domain.OutputData{
		Records:  []domain.AdapterRecord{{Source: "s", Data: map[string]any{}}},
		Metadata: map[string]any{"record_count": 1},
	}))

	out, err = svc.LatestResults(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Len(t, out.Records, 1)

	_, err = svc.LatestResults(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// deletingPipelineStore simulates a delete racing a run: the pipeline
// vanishes right after it is marked active.
type deletingPipelineStore struct {
	*store.MemoryPipelineStore
	deleteAfterSave uuid.UUID
	deleted         bool
}

func (s *deletingPipelineStore) Save(ctx context.Context, p *domain.Pipeline) error {
	if err := s.MemoryPipelineStore.Save(ctx, p); err != nil {
		return err
	}
	if !s.deleted && p.ID == s.deleteAfterSave && p.Status == domain.StatusActive {
		s.deleted = true
		_, err := s.MemoryPipelineStore.Delete(ctx, p.ID)
		return err
	}
	return nil
}

// failingPipelineStore fails Save to exercise the abort path.
type failingPipelineStore struct {
	*store.MemoryPipelineStore
	failSave bool
}

func (s *failingPipelineStore) Save(ctx context.Context, p *domain.Pipeline) error {
	if s.failSave {
		return errors.New("store unavailable")
	}
	return s.MemoryPipelineStore.Save(ctx, p)
}

// slowReadPipelineStore widens the window between reading a pipeline and
// acting on what was read, so overlapping runs actually overlap.
type slowReadPipelineStore struct {
	*store.MemoryPipelineStore
	delay time.Duration
}

func (s *slowReadPipelineStore) Get(ctx context.Context, id uuid.UUID) (*domain.Pipeline, error) {
	p, err := s.MemoryPipelineStore.Get(ctx, id)
	time.Sleep(s.delay)
	return p, err
}

// countingResultStore counts completed runs by their result writes.
type countingResultStore struct {
	*store.MemoryResultStore
	saves atomic.Int32
}

func (s *countingResultStore) SaveResult(ctx context.Context, id uuid.UUID, out *domain.OutputData) error {
	s.saves.Add(1)
	return s.MemoryResultStore.SaveResult(ctx, id, out)
}

func TestConcurrentRunsExecuteAtMostOnce(t *testing.T) {
	pipelines := &slowReadPipelineStore{
		MemoryPipelineStore: store.NewMemoryPipelineStore(),
		delay:               10 * time.Millisecond,
	}
	results := &countingResultStore{MemoryResultStore: store.NewMemoryResultStore()}
	svc := New(pipelines, results, ingest.New(ingest.Defaults{}, nil))
	ctx := context.Background()

	p, err := svc.Create(ctx, jsonFileInput("orders", `{"k":"v"}`))
	require.NoError(t, err)

	// Both callers read INACTIVE-era state; only one may claim the run.
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.Run(ctx, p.ID)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), results.saves.Load())

	after, err := pipelines.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInactive, after.Status)
}

func TestRunAbortsWhenActivationWriteFails(t *testing.T) {
	pipelines := &failingPipelineStore{MemoryPipelineStore: store.NewMemoryPipelineStore()}
	results := store.NewMemoryResultStore()
	svc := New(pipelines, results, ingest.New(ingest.Defaults{}, nil))
	ctx := context.Background()

	p, err := svc.Create(ctx, jsonFileInput("orders", `{"k":"v"}`))
	require.NoError(t, err)

	pipelines.failSave = true
	svc.Run(ctx, p.ID)

	// Nothing ran: no results, status untouched.
	after, err := pipelines.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInactive, after.Status)

	out, err := results.GetResult(ctx, p.ID)
	require.NoError(t, err)
	assert.Nil(t, out)
}
