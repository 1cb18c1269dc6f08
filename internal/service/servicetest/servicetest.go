// Package servicetest wires a service stack over in-memory fakes for
// adapter tests.
package servicetest

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Strob0t/MedOrch/internal/config"
	"github.com/Strob0t/MedOrch/internal/domain/specialist"
	"github.com/Strob0t/MedOrch/internal/port/broadcast"
	"github.com/Strob0t/MedOrch/internal/port/llm"
	portspec "github.com/Strob0t/MedOrch/internal/port/specialist"
	"github.com/Strob0t/MedOrch/internal/service"
	"github.com/Strob0t/MedOrch/internal/workerpool"
)

// Model names the fake completer answers for.
const (
	RouterModel    = "test-router"
	SynthesisModel = "test-synthesis"
	TriageModel    = "test-triage"
)

// LLMConfig returns an LLM config pointing at the fake models.
func LLMConfig() config.LLM {
	return config.LLM{
		RouterModel:        RouterModel,
		RouterMaxTokens:    256,
		SynthesisModel:     SynthesisModel,
		SynthesisMaxTokens: 512,
		Timeout:            2 * time.Second,
	}
}

// TriageConfig returns a triage config pointing at the fake model.
func TriageConfig() config.Triage {
	return config.Triage{Enabled: true, Model: TriageModel, MaxTokens: 256, Temperature: 0.7, MaxQuestions: 15}
}

// RouteReply formats a router answer.
func RouteReply(primary, additional, mode, confidence string) string {
	return fmt.Sprintf("SELECTED_AGENT: %s\nADDITIONAL_AGENTS: %s\nEXECUTION_MODE: %s\nREQUIRES_IMAGE: No\nURGENCY: routine\nCONFIDENCE: %s\nREASONING: test routing",
		primary, additional, mode, confidence)
}

// Completer answers router, synthesis and triage prompts with fixed text.
// A non-nil Err fails every call.
type Completer struct {
	RouterReply    string
	SynthesisReply string
	TriageReply    string
	Err            error
	calls          atomic.Int32
}

// Complete implements llm.Completer.
func (c *Completer) Complete(_ context.Context, req llm.Request) (string, error) {
	c.calls.Add(1)
	if c.Err != nil {
		return "", c.Err
	}
	switch req.Model {
	case RouterModel:
		return c.RouterReply, nil
	case TriageModel:
		return c.TriageReply, nil
	}
	return c.SynthesisReply, nil
}

// Calls returns how many completions were requested.
func (c *Completer) Calls() int { return int(c.calls.Load()) }

// Responder is a specialist returning a fixed answer, or Fail as its error.
type Responder struct {
	AgentName  string
	Image      bool
	Confidence float64
	Fail       string
	NoInit     bool
}

func (r *Responder) Name() string        { return r.AgentName }
func (r *Responder) Description() string { return r.AgentName + " specialist" }
func (r *Responder) RequiresImage() bool { return r.Image }

func (r *Responder) Initialize(context.Context) bool { return !r.NoInit }

func (r *Responder) Validate(query string, c specialist.Context) bool {
	if r.Image && !c.HasImage() {
		return false
	}
	return len(query) >= 3
}

func (r *Responder) Process(_ context.Context, query string, _ specialist.Context) specialist.Response {
	resp := specialist.Response{
		AgentName:      r.AgentName,
		InputQuery:     query,
		Confidence:     r.Confidence,
		ProcessingTime: 0.01,
		CreatedAt:      time.Now().UTC(),
	}
	if r.Fail != "" {
		resp.Error = r.Fail
		return resp
	}
	resp.Output = r.AgentName + " answer"
	return resp
}

// Stack is a wired service layer.
type Stack struct {
	Screener *service.SafetyScreener
	Router   *service.Router
	Executor *service.Executor
	Sessions *service.Sessions
	Triage   *service.Triage
	Deps     service.Deps
}

// NewStack wires a stack over completer and responders. A nil b discards
// events.
func NewStack(t testing.TB, completer llm.Completer, b broadcast.Broadcaster, responders ...portspec.Responder) *Stack {
	t.Helper()
	screener := service.NewSafetyScreener(nil)
	exec, err := service.NewExecutor(responders, workerpool.New(4))
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}
	router := service.NewRouter(screener, completer, LLMConfig(), specialist.General, responders)
	deps := service.Deps{
		Router:      router,
		Executor:    exec,
		Synthesizer: service.NewSynthesizer(completer, LLMConfig()),
		Broadcaster: b,
	}
	tri := service.NewTriage(completer, screener, TriageConfig(), LLMConfig().Timeout, config.Sessions{MaxSessions: 10})
	tri.SetBroadcaster(b)
	return &Stack{
		Screener: screener,
		Router:   router,
		Executor: exec,
		Sessions: service.NewSessions(deps, config.Sessions{MaxSessions: 10}),
		Triage:   tri,
		Deps:     deps,
	}
}

// Specialists returns the five built-in specialist names as fakes.
func Specialists() []portspec.Responder {
	return []portspec.Responder{
		&Responder{AgentName: specialist.General, Confidence: 0.85},
		&Responder{AgentName: specialist.Treatment, Confidence: 0.8},
		&Responder{AgentName: specialist.Dermatology, Image: true, Confidence: 0.75},
		&Responder{AgentName: specialist.Radiology, Image: true, Confidence: 0.7},
		&Responder{AgentName: specialist.Pathology, Confidence: 0.7},
	}
}

// ErrUpstream is a ready-made completer failure.
var ErrUpstream = errors.New("upstream unavailable")
