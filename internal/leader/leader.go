// Package leader elects a single scheduler owner across tributaryd
// replicas using a Postgres advisory lock. Without it, every replica
// would reconcile and fire the same pipelines.
//
// The winner holds pg_try_advisory_lock for the life of its session;
// Postgres releases the lock when that session dies, and another
// replica takes over on its next retry.
package leader

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// LockID is the advisory lock key for scheduler leadership.
// Derived from: SELECT hashtext('tributary-scheduler').
const LockID int64 = 530412883

// RetryInterval is how often a non-leader replica retries the lock.
const RetryInterval = 30 * time.Second

// TryLockFunc attempts to acquire the advisory lock, reporting whether
// this session now holds it. Callers wrap pool.QueryRow over
// SELECT pg_try_advisory_lock($1).
type TryLockFunc func(ctx context.Context) (bool, error)

// OnElected starts the scheduler (or other single-owner workers) when
// leadership is won. The returned stop function runs when leadership
// ends.
type OnElected func(ctx context.Context) (stop func())

// Elector runs the election loop.
type Elector struct {
	tryLock       TryLockFunc
	retryInterval time.Duration
	onElected     OnElected

	mu       sync.Mutex
	isLeader bool
	stopFn   func()
	cancel   context.CancelFunc
	done     chan struct{}
}

// New creates an Elector. onElected is invoked at most once per
// leadership term, with a context that stays valid until Stop.
func New(tryLock TryLockFunc, retryInterval time.Duration, onElected OnElected) *Elector {
	return &Elector{
		tryLock:       tryLock,
		retryInterval: retryInterval,
		onElected:     onElected,
	}
}

// Start tries the lock immediately, then keeps retrying on a ticker
// until elected or stopped.
func (e *Elector) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})

	go func() {
		defer close(e.done)

		e.tryAcquire(ctx)

		ticker := time.NewTicker(e.retryInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				e.relinquish()
				return
			case <-ticker.C:
				e.tryAcquire(ctx)
			}
		}
	}()
}

// Stop ends the election loop, stopping the workers first if this
// replica is the leader.
func (e *Elector) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	if e.done != nil {
		<-e.done
	}
}

// IsLeader reports whether this replica currently holds the lock.
func (e *Elector) IsLeader() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isLeader
}

func (e *Elector) tryAcquire(ctx context.Context) {
	e.mu.Lock()
	leading := e.isLeader
	e.mu.Unlock()
	if leading {
		return
	}

	acquired, err := e.tryLock(ctx)
	if err != nil {
		slog.Error("leader election lock attempt failed", "error", err)
		return
	}
	if !acquired {
		slog.Debug("scheduler lock held by another replica")
		return
	}

	slog.Info("scheduler lock acquired, this replica schedules runs")

	e.mu.Lock()
	e.isLeader = true
	e.mu.Unlock()

	stopFn := e.onElected(ctx)

	e.mu.Lock()
	e.stopFn = stopFn
	e.mu.Unlock()
}

func (e *Elector) relinquish() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.isLeader {
		return
	}
	slog.Info("giving up scheduler leadership")
	if e.stopFn != nil {
		e.stopFn()
		e.stopFn = nil
	}
	e.isLeader = false
}
