// Package broadcast defines the port for pushing orchestration events to subscribers.
package broadcast

import (
	"context"

	"github.com/Strob0t/MedOrch/internal/domain/event"
)

// Broadcaster sends typed events to every interested subscriber.
type Broadcaster interface {
	BroadcastEvent(ctx context.Context, eventType event.Type, payload any)
}

// Nop discards all events.
type Nop struct{}

// BroadcastEvent implements Broadcaster.
func (Nop) BroadcastEvent(context.Context, event.Type, any) {}

// Fanout forwards every event to each of its broadcasters in order.
type Fanout []Broadcaster

// BroadcastEvent implements Broadcaster.
func (f Fanout) BroadcastEvent(ctx context.Context, eventType event.Type, payload any) {
	for _, b := range f {
		if b != nil {
			b.BroadcastEvent(ctx, eventType, payload)
		}
	}
}
