package broadcast

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/Strob0t/MedOrch/internal/domain/event"
)

type queuedEvent struct {
	ctx       context.Context
	eventType event.Type
	payload   any
}

// Queue hands events to next on a single goroutine, in publish order.
// BroadcastEvent never blocks: when the buffer is full the event is dropped
// and counted.
type Queue struct {
	next    Broadcaster
	ch      chan queuedEvent
	done    chan struct{}
	dropped atomic.Int64

	mu     sync.RWMutex
	closed bool
}

// NewQueue starts delivering to next with room for size pending events.
func NewQueue(next Broadcaster, size int) *Queue {
	if size < 1 {
		size = 1
	}
	q := &Queue{
		next: next,
		ch:   make(chan queuedEvent, size),
		done: make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *Queue) run() {
	defer close(q.done)
	for ev := range q.ch {
		q.next.BroadcastEvent(ev.ctx, ev.eventType, ev.payload)
	}
}

// BroadcastEvent implements Broadcaster.
func (q *Queue) BroadcastEvent(ctx context.Context, eventType event.Type, payload any) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.dropped.Add(1)
		return
	}
	select {
	case q.ch <- queuedEvent{ctx: context.WithoutCancel(ctx), eventType: eventType, payload: payload}:
	default:
		q.dropped.Add(1)
		slog.WarnContext(ctx, "event queue full, dropping event", "event", eventType)
	}
}

// Dropped returns how many events were discarded.
func (q *Queue) Dropped() int64 { return q.dropped.Load() }

// Close stops accepting events and waits for the pending ones to be
// delivered. Safe to call twice.
func (q *Queue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	q.mu.Unlock()
	<-q.done
}
