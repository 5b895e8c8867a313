// Package logbus routes per-run log events to live stream subscribers.
//
// The executor tags its context with a pipeline id; every slog record emitted
// under that context is converted to a RunLogEvent and fanned out to the
// subscribers of that pipeline. Delivery is best-effort: subscriber queues
// are bounded and events are dropped, not buffered, when a consumer lags.
// There is no replay — subscribers only see events published after they join.
package logbus

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/tributary-data/tributary/internal/domain"
)

// DefaultQueueSize is the per-subscriber queue bound when none is configured.
const DefaultQueueSize = 1000

// Bus is a many-producer, many-consumer log event broker. Safe for
// concurrent use.
type Bus struct {
	queueSize int

	mu     sync.Mutex
	closed bool
	subs   map[uuid.UUID]map[*Subscription]struct{}
	global map[*Subscription]struct{}
}

// Subscription is one consumer's bounded event queue.
type Subscription struct {
	pipelineID uuid.UUID // uuid.Nil for global subscriptions
	ch         chan domain.RunLogEvent

	// dropWarned suppresses repeated overflow warnings; reset on a
	// successful send. Guarded by the bus mutex.
	dropWarned bool
}

// Events returns the subscription's receive channel. It is closed when the
// subscription is cancelled or the bus shuts down.
func (s *Subscription) Events() <-chan domain.RunLogEvent {
	return s.ch
}

// New creates a bus with the given per-subscriber queue size.
func New(queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Bus{
		queueSize: queueSize,
		subs:      make(map[uuid.UUID]map[*Subscription]struct{}),
		global:    make(map[*Subscription]struct{}),
	}
}

// Subscribe registers a consumer for one pipeline's events.
func (b *Bus) Subscribe(pipelineID uuid.UUID) *Subscription {
	sub := &Subscription{pipelineID: pipelineID, ch: make(chan domain.RunLogEvent, b.queueSize)}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub
	}
	set, ok := b.subs[pipelineID]
	if !ok {
		set = make(map[*Subscription]struct{})
		b.subs[pipelineID] = set
	}
	set[sub] = struct{}{}
	return sub
}

// SubscribeAll registers a consumer for every pipeline's events.
func (b *Bus) SubscribeAll() *Subscription {
	sub := &Subscription{ch: make(chan domain.RunLogEvent, b.queueSize)}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.global[sub] = struct{}{}
	return sub
}

// Unsubscribe removes a subscription and closes its channel. Safe to call
// more than once.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	if set, ok := b.subs[sub.pipelineID]; ok {
		if _, member := set[sub]; member {
			delete(set, sub)
			if len(set) == 0 {
				delete(b.subs, sub.pipelineID)
			}
			close(sub.ch)
			return
		}
	}
	if _, member := b.global[sub]; member {
		delete(b.global, sub)
		close(sub.ch)
	}
}

// Publish delivers an event to the pipeline's subscribers and all global
// subscribers. Never blocks: a full queue drops the event with a single
// warning per overflow episode.
func (b *Bus) Publish(ev domain.RunLogEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for sub := range b.subs[ev.PipelineID] {
		b.send(sub, ev)
	}
	for sub := range b.global {
		b.send(sub, ev)
	}
}

func (b *Bus) send(sub *Subscription, ev domain.RunLogEvent) {
	select {
	case sub.ch <- ev:
		sub.dropWarned = false
	default:
		if !sub.dropWarned {
			sub.dropWarned = true
			slog.Warn("log subscriber queue full, dropping events",
				"pipeline_id", ev.PipelineID, "queue_size", b.queueSize)
		}
	}
}

// Close shuts the bus down, closing every subscriber channel. Publish and
// Subscribe become no-ops afterwards.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, set := range b.subs {
		for sub := range set {
			close(sub.ch)
		}
	}
	for sub := range b.global {
		close(sub.ch)
	}
	b.subs = nil
	b.global = nil
}
