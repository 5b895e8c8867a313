package leader

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLock struct {
	mu       sync.Mutex
	acquired bool
	err      error
	calls    int
}

func (m *mockLock) tryLock(_ context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.acquired, m.err
}

func (m *mockLock) setAcquired(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acquired = v
}

func (m *mockLock) getCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func TestElectorAcquiresLockAndStartsWorkers(t *testing.T) {
	lock := &mockLock{acquired: true}
	var elected atomic.Bool

	elector := New(lock.tryLock, 50*time.Millisecond, func(_ context.Context) func() {
		elected.Store(true)
		return func() {}
	})

	elector.Start(context.Background())
	defer elector.Stop()

	time.Sleep(30 * time.Millisecond)

	assert.True(t, elected.Load())
	assert.True(t, elector.IsLeader())
}

func TestElectorLockHeldElsewhere(t *testing.T) {
	lock := &mockLock{acquired: false}
	var elected atomic.Bool

	elector := New(lock.tryLock, 50*time.Millisecond, func(_ context.Context) func() {
		elected.Store(true)
		return func() {}
	})

	elector.Start(context.Background())
	defer elector.Stop()

	// Covers the immediate attempt plus one retry.
	time.Sleep(80 * time.Millisecond)

	assert.False(t, elected.Load())
	assert.False(t, elector.IsLeader())
	assert.GreaterOrEqual(t, lock.getCalls(), 2)
}

func TestElectorTakesOverAfterRetry(t *testing.T) {
	lock := &mockLock{acquired: false}
	var elected atomic.Bool

	elector := New(lock.tryLock, 50*time.Millisecond, func(_ context.Context) func() {
		elected.Store(true)
		return func() {}
	})

	elector.Start(context.Background())
	defer elector.Stop()

	time.Sleep(30 * time.Millisecond)
	require.False(t, elected.Load())

	lock.setAcquired(true)
	time.Sleep(80 * time.Millisecond)

	assert.True(t, elected.Load())
	assert.True(t, elector.IsLeader())
}

func TestElectorSurvivesLockErrors(t *testing.T) {
	lock := &mockLock{err: fmt.Errorf("connection refused")}
	var elected atomic.Bool

	elector := New(lock.tryLock, 50*time.Millisecond, func(_ context.Context) func() {
		elected.Store(true)
		return func() {}
	})

	elector.Start(context.Background())
	defer elector.Stop()

	time.Sleep(80 * time.Millisecond)

	assert.False(t, elected.Load())
	assert.Greater(t, lock.getCalls(), 0)
}

func TestElectorStopStopsWorkers(t *testing.T) {
	lock := &mockLock{acquired: true}
	var stopped atomic.Bool

	elector := New(lock.tryLock, 50*time.Millisecond, func(_ context.Context) func() {
		return func() { stopped.Store(true) }
	})

	elector.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	require.True(t, elector.IsLeader())

	elector.Stop()

	assert.True(t, stopped.Load())
	assert.False(t, elector.IsLeader())
}

func TestElectorElectsOnlyOnce(t *testing.T) {
	lock := &mockLock{acquired: true}
	var electCount atomic.Int32

	elector := New(lock.tryLock, 30*time.Millisecond, func(_ context.Context) func() {
		electCount.Add(1)
		return func() {}
	})

	elector.Start(context.Background())
	defer elector.Stop()

	// Several retry cycles pass while already leading.
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, int32(1), electCount.Load())
}

func TestElectorStopBeforeStart(t *testing.T) {
	elector := New((&mockLock{}).tryLock, time.Minute, func(_ context.Context) func() {
		return func() {}
	})

	assert.False(t, elector.IsLeader())
	elector.Stop()
}
