package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	medotel "github.com/Strob0t/MedOrch/internal/adapter/otel"
	"github.com/Strob0t/MedOrch/internal/domain"
	"github.com/Strob0t/MedOrch/internal/domain/event"
	"github.com/Strob0t/MedOrch/internal/domain/memory"
	"github.com/Strob0t/MedOrch/internal/domain/orchestration"
	"github.com/Strob0t/MedOrch/internal/domain/routing"
	"github.com/Strob0t/MedOrch/internal/domain/specialist"
	"github.com/Strob0t/MedOrch/internal/logger"
	"github.com/Strob0t/MedOrch/internal/port/broadcast"
)

// Deps are the components shared by every session's orchestrator.
type Deps struct {
	Router      *Router
	Executor    *Executor
	Synthesizer *Synthesizer
	Broadcaster broadcast.Broadcaster
	Metrics     *medotel.Metrics
}

// Orchestrator drives one query through safety screening, routing,
// execution and synthesis, and records it in its session Memory.
//
// Orchestrate is safe to call concurrently, but two interleaved calls on
// the same Orchestrator share one conversation; use Sessions to give each
// conversation its own Orchestrator.
type Orchestrator struct {
	sessionID string
	deps      Deps
	memory    *Memory
}

// NewOrchestrator creates an Orchestrator for sessionID. A nil mem starts
// with empty memory.
func NewOrchestrator(sessionID string, deps Deps, mem *Memory) *Orchestrator {
	if mem == nil {
		mem = NewMemory()
	}
	if deps.Broadcaster == nil {
		deps.Broadcaster = broadcast.Nop{}
	}
	return &Orchestrator{sessionID: sessionID, deps: deps, memory: mem}
}

// SessionID returns the session this orchestrator belongs to.
func (o *Orchestrator) SessionID() string { return o.sessionID }

// Memory returns the session memory.
func (o *Orchestrator) Memory() *Memory { return o.memory }

// AnalyzeQuery returns the routing decision without executing anything.
func (o *Orchestrator) AnalyzeQuery(ctx context.Context, query string, c specialist.Context) routing.Decision {
	return o.deps.Router.AnalyzeQuery(ctx, query, c)
}

// AvailableAgents returns the registered specialist names.
func (o *Orchestrator) AvailableAgents() []string { return o.deps.Executor.Names() }

// AgentStatus maps each specialist to whether it is initialized.
func (o *Orchestrator) AgentStatus() map[string]bool { return o.deps.Executor.Status() }

// Agents describes every registered specialist.
func (o *Orchestrator) Agents() []specialist.Info { return o.deps.Executor.Info() }

// Consult runs one named specialist directly, bypassing routing. The
// consultation is logged to Tier 2 on success.
func (o *Orchestrator) Consult(ctx context.Context, agent, query string, c specialist.Context) (specialist.Response, error) {
	ctx = logger.WithSessionID(ctx, o.sessionID)
	return o.deps.Executor.ExecuteSingle(ctx, agent, query, c, o.memory)
}

// ClearMemory empties the given tier and notifies subscribers.
func (o *Orchestrator) ClearMemory(ctx context.Context, t memory.Tier) {
	o.memory.Clear(t)
	o.deps.Broadcaster.BroadcastEvent(ctx, event.TypeMemoryCleared, event.MemoryClearedPayload{
		SessionID: o.sessionID,
		Tier:      string(t),
	})
	slog.InfoContext(ctx, "memory cleared", "session_id", o.sessionID, "tier", t)
}

// callState carries the state of one Orchestrate call.
type callState struct {
	start    time.Time
	query    string
	decision *routing.Decision
	logged   bool
}

// Orchestrate answers query. It never returns a Go error: every failure is
// reported through Result.Error, and exactly one audit event is logged per
// call.
func (o *Orchestrator) Orchestrate(ctx context.Context, query string, c specialist.Context) (res orchestration.Result) {
	ctx = logger.WithSessionID(ctx, o.sessionID)
	ctx, span := medotel.StartOrchestrateSpan(ctx, o.sessionID)
	defer span.End()

	r := &callState{start: time.Now(), query: query}
	defer func() {
		if p := recover(); p != nil {
			slog.ErrorContext(ctx, "orchestration panicked", "panic", p)
			res = o.fail(ctx, r, fmt.Errorf("internal error: %v", p))
		}
	}()

	o.deps.Broadcaster.BroadcastEvent(ctx, event.TypeOrchestrationStarted, event.StartedPayload{
		SessionID: o.sessionID,
		Query:     query,
		StartedAt: r.start.UTC(),
	})
	o.memory.AddUserMessage(query, nil)

	routeCtx, routeSpan := medotel.StartRouteSpan(ctx)
	decision, cacheHit := o.deps.Router.route(routeCtx, query, c)
	routeSpan.End()
	r.decision = &decision
	if cacheHit {
		o.deps.Metrics.RecordCacheHit(ctx)
	}

	if decision.IsEmergency() {
		return o.emergency(ctx, r)
	}

	o.deps.Broadcaster.BroadcastEvent(ctx, event.TypeOrchestrationRouted, event.RoutedPayload{
		SessionID:     o.sessionID,
		PrimaryAgent:  decision.PrimaryAgent,
		Agents:        decision.Agents(),
		ExecutionMode: string(decision.ExecutionMode),
		Urgency:       string(decision.Urgency),
		Confidence:    decision.Confidence,
		CacheHit:      cacheHit,
	})

	responses, err := o.deps.Executor.Execute(ctx, &decision, query, c, o.memory)
	if err != nil {
		return o.fail(ctx, r, err)
	}

	output := o.deps.Synthesizer.Synthesize(ctx, responses, query)

	agents := make([]string, 0, len(responses))
	var sum float64
	for _, resp := range responses {
		agents = append(agents, resp.AgentName)
		sum += resp.Confidence
	}
	confidence := 0.0
	if len(responses) > 0 {
		confidence = domain.ClampConfidence(sum / float64(len(responses)))
	}

	elapsed := time.Since(r.start).Seconds()
	ev := o.logEvent(r, agents, decision.ExecutionMode, elapsed, nil)
	o.memory.AddAssistantMessage(output, map[string]any{
		"agents_consulted": agents,
		"confidence":       confidence,
	})
	o.deps.Broadcaster.BroadcastEvent(ctx, event.TypeOrchestrationCompleted, ev)
	o.deps.Metrics.RecordOrchestration(ctx, string(decision.ExecutionMode), "success", elapsed)

	slog.InfoContext(ctx, "orchestration completed",
		"execution_mode", decision.ExecutionMode,
		"agents", agents,
		"confidence", confidence,
		"duration_s", elapsed,
	)

	return orchestration.Result{
		Query:             query,
		RoutingDecision:   r.decision,
		AgentResponses:    responses,
		SynthesizedOutput: output,
		Confidence:        confidence,
		ProcessingTime:    elapsed,
		AgentsConsulted:   agents,
		Metadata: map[string]any{
			orchestration.MetaRoutingConfidence: decision.Confidence,
			orchestration.MetaExecutionMode:     string(decision.ExecutionMode),
			orchestration.MetaNumAgents:         len(responses),
			orchestration.MetaCacheHit:          cacheHit,
			orchestration.MetaSessionID:         o.sessionID,
		},
	}
}

func (o *Orchestrator) emergency(ctx context.Context, r *callState) orchestration.Result {
	flags := r.decision.SafetyFlags
	output := EmergencyGuidance(flags)

	elapsed := time.Since(r.start).Seconds()
	ev := o.logEvent(r, nil, routing.ModeEmergency, elapsed, nil)
	o.memory.AddAssistantMessage(output, map[string]any{"emergency": true})
	o.deps.Broadcaster.BroadcastEvent(ctx, event.TypeOrchestrationEmergency, ev)
	o.deps.Metrics.RecordOrchestration(ctx, string(routing.ModeEmergency), "emergency", elapsed)

	slog.WarnContext(ctx, "emergency guidance returned", "flags", flags)

	return orchestration.Result{
		Query:             r.query,
		RoutingDecision:   r.decision,
		AgentResponses:    []specialist.Response{},
		SynthesizedOutput: output,
		Confidence:        1.0,
		ProcessingTime:    elapsed,
		AgentsConsulted:   []string{},
		Metadata: map[string]any{
			orchestration.MetaEmergency:   true,
			orchestration.MetaSafetyFlags: flags,
			orchestration.MetaSessionID:   o.sessionID,
		},
	}
}

func (o *Orchestrator) fail(ctx context.Context, r *callState, err error) orchestration.Result {
	elapsed := time.Since(r.start).Seconds()
	mode := routing.ExecutionMode("")
	if r.decision != nil {
		mode = r.decision.ExecutionMode
	}
	if !r.logged {
		ev := o.logEvent(r, nil, mode, elapsed, err)
		o.deps.Broadcaster.BroadcastEvent(ctx, event.TypeOrchestrationFailed, ev)
	}
	o.deps.Metrics.RecordOrchestration(ctx, string(mode), "failure", elapsed)

	slog.ErrorContext(ctx, "orchestration failed", "error", err, "execution_mode", mode)

	return orchestration.Result{
		Query:             r.query,
		RoutingDecision:   r.decision,
		AgentResponses:    []specialist.Response{},
		SynthesizedOutput: "",
		Confidence:        0,
		ProcessingTime:    elapsed,
		AgentsConsulted:   []string{},
		Error:             err.Error(),
		Metadata: map[string]any{
			orchestration.MetaErrorType: errorKind(err),
			orchestration.MetaSessionID: o.sessionID,
		},
	}
}

// logEvent writes the call's single Tier 3 record.
func (o *Orchestrator) logEvent(r *callState, agents []string, mode routing.ExecutionMode, elapsed float64, err error) memory.Event {
	if agents == nil {
		agents = []string{}
	}
	ev := memory.Event{
		ID:                  uuid.NewString(),
		SessionID:           o.sessionID,
		Query:               r.query,
		RoutingDecision:     r.decision,
		AgentsConsulted:     agents,
		ExecutionMode:       mode,
		TotalProcessingTime: elapsed,
		Success:             err == nil,
		Timestamp:           time.Now().UTC(),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	o.memory.LogEvent(ev)
	r.logged = true
	return ev
}

// EmergencyGuidance renders the fixed emergency response for flags.
func EmergencyGuidance(flags []string) string {
	out, err := renderPrompt("emergency.tmpl", struct{ Flags []string }{flags})
	if err != nil {
		return "EMERGENCY DETECTED. Red flags identified: " + strings.Join(flags, ", ") +
			". Call 000 (Emergency Services) now."
	}
	return out
}
