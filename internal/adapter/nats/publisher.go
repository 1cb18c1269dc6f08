package nats

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/Strob0t/MedOrch/internal/domain/event"
	"github.com/Strob0t/MedOrch/internal/port/messagequeue"
)

// subjects maps terminal orchestration events and triage results to broker
// subjects.
var subjects = map[event.Type]string{
	event.TypeOrchestrationCompleted: messagequeue.SubjectOrchestrationCompleted,
	event.TypeOrchestrationEmergency: messagequeue.SubjectOrchestrationEmergency,
	event.TypeOrchestrationFailed:    messagequeue.SubjectOrchestrationFailed,
	event.TypeTriageAnalyzed:         messagequeue.SubjectTriageAnalyzed,
}

const publishTimeout = 5 * time.Second

// AuditPublisher is a broadcast.Broadcaster that publishes the audit
// record carried by terminal orchestration events, and triage results.
// Other events are ignored. Publishes wait for the JetStream ack in the background.
type AuditPublisher struct {
	q  messagequeue.Queue
	wg sync.WaitGroup
}

// NewAuditPublisher creates an AuditPublisher over q.
func NewAuditPublisher(q messagequeue.Queue) *AuditPublisher {
	return &AuditPublisher{q: q}
}

// Wait blocks until every in-flight publish has finished.
func (p *AuditPublisher) Wait() { p.wg.Wait() }

// BroadcastEvent implements broadcast.Broadcaster.
func (p *AuditPublisher) BroadcastEvent(ctx context.Context, eventType event.Type, payload any) {
	subject, ok := subjects[eventType]
	if !ok {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.ErrorContext(ctx, "audit publish: marshal failed", "event", eventType, "error", err)
		return
	}
	if err := messagequeue.Validate(subject, data); err != nil {
		slog.ErrorContext(ctx, "audit publish: invalid payload", "event", eventType, "error", err)
		return
	}

	ctx = context.WithoutCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
		defer cancel()
		if err := p.q.Publish(pubCtx, subject, data); err != nil {
			slog.WarnContext(ctx, "audit publish failed", "subject", subject, "error", err)
		}
	}()
}
