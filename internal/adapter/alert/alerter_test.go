package alert

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/MedOrch/internal/domain/event"
	"github.com/Strob0t/MedOrch/internal/domain/memory"
	"github.com/Strob0t/MedOrch/internal/domain/routing"
	"github.com/Strob0t/MedOrch/internal/port/notifier"
)

type recorder struct {
	name string
	err  error

	mu   sync.Mutex
	sent []notifier.Notification
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) Send(_ context.Context, n notifier.Notification) error { //nolint:gocritic // port signature
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return r.err
}

func (r *recorder) notifications() []notifier.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notifier.Notification(nil), r.sent...)
}

func emergencyEvent() memory.Event {
	return memory.Event{
		ID:        "evt-1",
		SessionID: "s-42",
		Query:     "my father has chest pain and cannot move his arm",
		RoutingDecision: &routing.Decision{
			Urgency:     routing.UrgencyEmergency,
			SafetyFlags: []string{"chest pain"},
		},
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestAlerterSendsEmergency(t *testing.T) {
	slack := &recorder{name: "slack"}
	discord := &recorder{name: "discord"}
	a := New(time.Second, slack, discord)

	a.BroadcastEvent(context.Background(), event.TypeOrchestrationEmergency, emergencyEvent())
	a.Wait()

	for _, r := range []*recorder{slack, discord} {
		got := r.notifications()
		if len(got) != 1 {
			t.Fatalf("%s: sent %d notifications, want 1", r.name, len(got))
		}
		n := got[0]
		if n.Level != notifier.LevelCritical {
			t.Errorf("%s: level = %q", r.name, n.Level)
		}
		if !strings.Contains(n.Message, "chest pain") {
			t.Errorf("%s: message missing flags: %q", r.name, n.Message)
		}
		if strings.Contains(n.Message, "father") {
			t.Errorf("%s: message leaks the query text", r.name)
		}
		if n.Fields[0].Value != "s-42" || n.Fields[1].Value != "evt-1" || n.Fields[2].Value != "2026-03-01T12:00:00Z" {
			t.Errorf("%s: fields = %+v", r.name, n.Fields)
		}
	}
}

func TestAlerterAcceptsPointerPayload(t *testing.T) {
	r := &recorder{name: "slack"}
	a := New(0, r)
	ev := emergencyEvent()

	a.BroadcastEvent(context.Background(), event.TypeOrchestrationEmergency, &ev)
	a.BroadcastEvent(context.Background(), event.TypeOrchestrationEmergency, (*memory.Event)(nil))
	a.Wait()

	if len(r.notifications()) != 1 {
		t.Errorf("sent %d, want 1", len(r.notifications()))
	}
}

func TestAlerterIgnoresOtherEvents(t *testing.T) {
	r := &recorder{name: "slack"}
	a := New(time.Second, r)

	a.BroadcastEvent(context.Background(), event.TypeOrchestrationCompleted, emergencyEvent())
	a.BroadcastEvent(context.Background(), event.TypeOrchestrationFailed, emergencyEvent())
	a.BroadcastEvent(context.Background(), event.TypeOrchestrationEmergency, "not an event")
	a.Wait()

	if got := r.notifications(); len(got) != 0 {
		t.Errorf("sent %d notifications, want 0", len(got))
	}
}

func TestAlerterSendFailureDoesNotStopOthers(t *testing.T) {
	bad := &recorder{name: "slack", err: errors.New("webhook down")}
	good := &recorder{name: "discord"}
	a := New(time.Second, bad, good)

	a.BroadcastEvent(context.Background(), event.TypeOrchestrationEmergency, emergencyEvent())
	a.Wait()

	if len(good.notifications()) != 1 {
		t.Error("healthy notifier did not receive the alert")
	}
}

func TestAlerterOutlivesCallerContext(t *testing.T) {
	r := &recorder{name: "slack"}
	a := New(time.Second, r)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a.BroadcastEvent(ctx, event.TypeOrchestrationEmergency, emergencyEvent())
	a.Wait()

	if len(r.notifications()) != 1 {
		t.Error("alert dropped after the request context ended")
	}
}

func TestEmergencyNotificationWithoutFlags(t *testing.T) {
	n := emergencyNotification(&memory.Event{ID: "e"})
	if !strings.Contains(n.Message, "none recorded") {
		t.Errorf("message = %q", n.Message)
	}
	if n.Fields[0].Value != "default" {
		t.Errorf("session = %q, want default", n.Fields[0].Value)
	}
}

func TestAlerterPagesHighAcuityTriage(t *testing.T) {
	tests := []struct {
		name     string
		category int
		want     int
	}{
		{"category 1", 1, 1},
		{"category 2", 2, 1},
		{"category 3", 3, 0},
		{"category 5", 5, 0},
		{"unset", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &recorder{name: "slack"}
			a := New(time.Second, r)

			a.BroadcastEvent(context.Background(), event.TypeTriageAnalyzed, event.TriageAnalyzedPayload{
				SessionID:  "tri-7",
				Category:   tt.category,
				Urgency:    "Emergency (Imminently life-threatening)",
				SeenWithin: "10 minutes",
				RedFlags:   []string{"crushing chest pain"},
			})
			a.Wait()

			got := r.notifications()
			if len(got) != tt.want {
				t.Fatalf("sent %d notifications, want %d", len(got), tt.want)
			}
			if tt.want == 0 {
				return
			}
			if got[0].Source != string(event.TypeTriageAnalyzed) {
				t.Errorf("source = %q", got[0].Source)
			}
			if !strings.Contains(got[0].Message, "crushing chest pain") || !strings.Contains(got[0].Message, "10 minutes") {
				t.Errorf("message = %q", got[0].Message)
			}
			if got[0].Fields[0].Value != "tri-7" {
				t.Errorf("fields = %+v", got[0].Fields)
			}
		})
	}
}
