// Package alert pages operators through the configured notifiers when a
// query trips the emergency screen or a triage lands in ATS 1 or 2.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Strob0t/MedOrch/internal/domain/event"
	"github.com/Strob0t/MedOrch/internal/domain/memory"
	"github.com/Strob0t/MedOrch/internal/port/notifier"
)

const defaultTimeout = 10 * time.Second

// Alerter is a broadcast.Broadcaster that turns high-acuity events into
// notifications. Sends run in the background so the caller's
// guidance is never delayed by a slow webhook.
type Alerter struct {
	notifiers []notifier.Notifier
	timeout   time.Duration
	wg        sync.WaitGroup
}

// New creates an Alerter. A timeout <= 0 selects 10s per send.
func New(timeout time.Duration, notifiers ...notifier.Notifier) *Alerter {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Alerter{notifiers: notifiers, timeout: timeout}
}

// Len returns the number of notifiers.
func (a *Alerter) Len() int { return len(a.notifiers) }

// BroadcastEvent implements broadcast.Broadcaster. It pages on emergency
// orchestrations and on triage assessments in ATS category 1 or 2.
func (a *Alerter) BroadcastEvent(ctx context.Context, eventType event.Type, payload any) {
	if len(a.notifiers) == 0 {
		return
	}
	var nt notifier.Notification
	var id string
	switch eventType {
	case event.TypeOrchestrationEmergency:
		ev, ok := auditEvent(payload)
		if !ok {
			return
		}
		nt, id = emergencyNotification(&ev), ev.ID
	case event.TypeTriageAnalyzed:
		p, ok := payload.(event.TriageAnalyzedPayload)
		if !ok || p.Category < 1 || p.Category > 2 {
			return
		}
		nt, id = triageNotification(&p), p.SessionID
	default:
		return
	}
	a.dispatch(ctx, nt, id)
}

func auditEvent(payload any) (memory.Event, bool) {
	switch p := payload.(type) {
	case memory.Event:
		return p, true
	case *memory.Event:
		if p != nil {
			return *p, true
		}
	}
	return memory.Event{}, false
}

func (a *Alerter) dispatch(ctx context.Context, nt notifier.Notification, id string) {
	ctx = context.WithoutCancel(ctx)
	for _, n := range a.notifiers {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			sendCtx, cancel := context.WithTimeout(ctx, a.timeout)
			defer cancel()
			if err := n.Send(sendCtx, nt); err != nil {
				slog.WarnContext(ctx, "alert failed", "notifier", n.Name(), "source", nt.Source, "id", id, "error", err)
				return
			}
			slog.InfoContext(ctx, "alert sent", "notifier", n.Name(), "source", nt.Source, "id", id)
		}()
	}
}

// Wait blocks until every in-flight send has finished.
func (a *Alerter) Wait() { a.wg.Wait() }

// emergencyNotification describes ev without the query text.
func emergencyNotification(ev *memory.Event) notifier.Notification {
	flags := "none recorded"
	if ev.RoutingDecision != nil && len(ev.RoutingDecision.SafetyFlags) > 0 {
		flags = strings.Join(ev.RoutingDecision.SafetyFlags, ", ")
	}
	session := ev.SessionID
	if session == "" {
		session = "default"
	}
	return notifier.Notification{
		Title:   "Emergency query detected",
		Message: "A query matched emergency red flags and was answered with emergency guidance. Red flags: " + flags,
		Level:   notifier.LevelCritical,
		Source:  string(event.TypeOrchestrationEmergency),
		Fields: []notifier.Field{
			{Name: "Session", Value: session},
			{Name: "Event", Value: ev.ID},
			{Name: "Time", Value: ev.Timestamp.UTC().Format(time.RFC3339)},
		},
	}
}

// triageNotification describes a high-acuity triage result without any
// interview text.
func triageNotification(p *event.TriageAnalyzedPayload) notifier.Notification {
	flags := "none recorded"
	if len(p.RedFlags) > 0 {
		flags = strings.Join(p.RedFlags, ", ")
	}
	return notifier.Notification{
		Title:   fmt.Sprintf("Triage ATS category %d", p.Category),
		Message: fmt.Sprintf("A triage interview was assessed as %s, to be seen within %s. Red flags: %s", p.Urgency, p.SeenWithin, flags),
		Level:   notifier.LevelCritical,
		Source:  string(event.TypeTriageAnalyzed),
		Fields: []notifier.Field{
			{Name: "Session", Value: p.SessionID},
			{Name: "Category", Value: strconv.Itoa(p.Category)},
		},
	}
}
