package nats

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/MedOrch/internal/domain/event"
	"github.com/Strob0t/MedOrch/internal/domain/memory"
	"github.com/Strob0t/MedOrch/internal/logger"
	"github.com/Strob0t/MedOrch/internal/port/messagequeue"
)

// fakeQueue records published messages.
type fakeQueue struct {
	mu   sync.Mutex
	msgs map[string][][]byte
	err  error
	hold chan struct{} // when set, Publish waits for it to close
}

func (f *fakeQueue) Publish(_ context.Context, subject string, data []byte) error {
	if f.hold != nil {
		<-f.hold
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.msgs == nil {
		f.msgs = make(map[string][][]byte)
	}
	f.msgs[subject] = append(f.msgs[subject], data)
	return nil
}

func (f *fakeQueue) Subscribe(context.Context, string, messagequeue.Handler) (func(), error) {
	return func() {}, nil
}
func (f *fakeQueue) Drain() error      { return nil }
func (f *fakeQueue) Close() error      { return nil }
func (f *fakeQueue) IsConnected() bool { return true }

func (f *fakeQueue) count(subject string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs[subject])
}

func TestAuditPublisherSubjects(t *testing.T) {
	tests := []struct {
		eventType event.Type
		subject   string
	}{
		{event.TypeOrchestrationCompleted, messagequeue.SubjectOrchestrationCompleted},
		{event.TypeOrchestrationEmergency, messagequeue.SubjectOrchestrationEmergency},
		{event.TypeOrchestrationFailed, messagequeue.SubjectOrchestrationFailed},
	}
	for _, tt := range tests {
		t.Run(string(tt.eventType), func(t *testing.T) {
			q := &fakeQueue{}
			p := NewAuditPublisher(q)
			p.BroadcastEvent(context.Background(), tt.eventType, memory.Event{ID: "ev-1", Query: "q"})
			p.Wait()
			if got := q.count(tt.subject); got != 1 {
				t.Fatalf("published %d messages to %s, want 1", got, tt.subject)
			}
			var ev memory.Event
			if err := json.Unmarshal(q.msgs[tt.subject][0], &ev); err != nil {
				t.Fatal(err)
			}
			if ev.ID != "ev-1" {
				t.Errorf("id = %q", ev.ID)
			}
		})
	}
}

func TestAuditPublisherTriageResult(t *testing.T) {
	q := &fakeQueue{}
	p := NewAuditPublisher(q)
	p.BroadcastEvent(context.Background(), event.TypeTriageAnalyzed, event.TriageAnalyzedPayload{SessionID: "tri-1", Category: 2})
	p.BroadcastEvent(context.Background(), event.TypeTriageAnalyzed, event.TriageAnalyzedPayload{SessionID: "tri-2"})
	p.Wait()

	if got := q.count(messagequeue.SubjectTriageAnalyzed); got != 1 {
		t.Fatalf("published %d triage results, want 1", got)
	}
	var got event.TriageAnalyzedPayload
	if err := json.Unmarshal(q.msgs[messagequeue.SubjectTriageAnalyzed][0], &got); err != nil {
		t.Fatal(err)
	}
	if got.SessionID != "tri-1" || got.Category != 2 {
		t.Errorf("payload = %+v", got)
	}
}

func TestAuditPublisherIgnoresOtherEvents(t *testing.T) {
	q := &fakeQueue{}
	p := NewAuditPublisher(q)
	p.BroadcastEvent(context.Background(), event.TypeOrchestrationStarted, event.StartedPayload{Query: "q"})
	p.BroadcastEvent(context.Background(), event.TypeMemoryCleared, event.MemoryClearedPayload{Tier: "all"})
	p.Wait()
	if len(q.msgs) != 0 {
		t.Errorf("published %d subjects, want none", len(q.msgs))
	}
}

func TestAuditPublisherDropsEventWithoutID(t *testing.T) {
	q := &fakeQueue{}
	p := NewAuditPublisher(q)
	p.BroadcastEvent(context.Background(), event.TypeOrchestrationCompleted, memory.Event{Query: "q"})
	p.Wait()
	if q.count(messagequeue.SubjectOrchestrationCompleted) != 0 {
		t.Error("event without id was published")
	}
}

func TestAuditPublisherDoesNotWaitForAck(t *testing.T) {
	q := &fakeQueue{hold: make(chan struct{})}
	p := NewAuditPublisher(q)

	returned := make(chan struct{})
	go func() {
		p.BroadcastEvent(context.Background(), event.TypeOrchestrationEmergency, memory.Event{ID: "ev-2", Query: "q"})
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("BroadcastEvent blocked on the broker")
	}

	close(q.hold)
	p.Wait()
	if q.count(messagequeue.SubjectOrchestrationEmergency) != 1 {
		t.Error("emergency event was not published")
	}
}

// Integration tests below need a running NATS server with JetStream.

func connectOrSkip(t *testing.T) *Queue {
	t.Helper()
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set, skipping NATS integration test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	q, err := Connect(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func TestPublishSubscribe(t *testing.T) {
	q := connectOrSkip(t)
	if !q.IsConnected() {
		t.Fatal("expected connected")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	type received struct {
		data      []byte
		requestID string
	}
	got := make(chan received, 1)
	stop, err := q.Subscribe(ctx, messagequeue.SubjectOrchestrationCompleted, func(hctx context.Context, _ string, data []byte) error {
		got <- received{data: data, requestID: logger.RequestID(hctx)}
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer stop()

	payload, _ := json.Marshal(memory.Event{ID: "it-1", Query: "q", Success: true})
	pubCtx := logger.WithRequestID(ctx, "req-42")
	if err := q.Publish(pubCtx, messagequeue.SubjectOrchestrationCompleted, payload); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case r := <-got:
		if r.requestID != "req-42" {
			t.Errorf("request id = %q, want req-42", r.requestID)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for message")
	}
}

func TestInvalidMessageGoesToDLQ(t *testing.T) {
	q := connectOrSkip(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dlq := make(chan []byte, 1)
	stopDLQ, err := q.Subscribe(ctx, messagequeue.SubjectOrchestrationFailed+dlqSuffix, func(_ context.Context, _ string, data []byte) error {
		dlq <- data
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe dlq: %v", err)
	}
	defer stopDLQ()

	stop, err := q.Subscribe(ctx, messagequeue.SubjectOrchestrationFailed, func(context.Context, string, []byte) error {
		t.Error("handler called for invalid message")
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer stop()

	if err := q.Publish(ctx, messagequeue.SubjectOrchestrationFailed, []byte(`{"query":"no id"}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case <-dlq:
	case <-ctx.Done():
		t.Fatal("invalid message never reached the dlq")
	}
}
