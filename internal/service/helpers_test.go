package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Strob0t/MedOrch/internal/config"
	"github.com/Strob0t/MedOrch/internal/domain/event"
	"github.com/Strob0t/MedOrch/internal/domain/specialist"
	"github.com/Strob0t/MedOrch/internal/port/llm"
	portspec "github.com/Strob0t/MedOrch/internal/port/specialist"
	"github.com/Strob0t/MedOrch/internal/workerpool"
)

const (
	testRouterModel    = "router-model"
	testSynthesisModel = "synthesis-model"
)

func testLLMConfig() config.LLM {
	return config.LLM{
		RouterModel:        testRouterModel,
		RouterMaxTokens:    256,
		SynthesisModel:     testSynthesisModel,
		SynthesisMaxTokens: 512,
		Timeout:            2 * time.Second,
	}
}

// fakeCompleter records requests and answers through respond.
type fakeCompleter struct {
	mu      sync.Mutex
	calls   []llm.Request
	respond func(req llm.Request) (string, error)
}

func (f *fakeCompleter) Complete(ctx context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	respond := f.respond
	f.mu.Unlock()
	if respond == nil {
		return "", fmt.Errorf("no response configured")
	}
	return respond(req)
}

func (f *fakeCompleter) callsFor(model string) []llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []llm.Request
	for _, c := range f.calls {
		if c.Model == model {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeCompleter) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// scriptedCompleter routes with routerReply and synthesizes with synthReply.
func scriptedCompleter(routerReply, synthReply string) *fakeCompleter {
	return &fakeCompleter{respond: func(req llm.Request) (string, error) {
		if req.Model == testRouterModel {
			return routerReply, nil
		}
		return synthReply, nil
	}}
}

func routeReply(primary, additional, mode, confidence string) string {
	return fmt.Sprintf(`SELECTED_AGENT: %s
ADDITIONAL_AGENTS: %s
EXECUTION_MODE: %s
REQUIRES_IMAGE: No
URGENCY: routine
CONFIDENCE: %s
REASONING: test routing`, primary, additional, mode, confidence)
}

// fakeResponder is a configurable specialist.
type fakeResponder struct {
	name      string
	image     bool
	initOK    bool
	initCalls atomic.Int32
	init      func(ctx context.Context) bool
	calls     atomic.Int32
	validate  func(query string, c specialist.Context) bool
	process   func(ctx context.Context, query string, c specialist.Context) specialist.Response
}

func newFake(name string, confidence float64) *fakeResponder {
	return &fakeResponder{
		name:   name,
		initOK: true,
		process: func(_ context.Context, query string, _ specialist.Context) specialist.Response {
			return specialist.Response{
				AgentName:  name,
				InputQuery: query,
				Output:     name + " answer",
				Confidence: confidence,
				CreatedAt:  time.Now(),
			}
		},
	}
}

func (f *fakeResponder) Name() string        { return f.name }
func (f *fakeResponder) Description() string { return f.name + " specialist" }
func (f *fakeResponder) RequiresImage() bool { return f.image }

func (f *fakeResponder) Initialize(ctx context.Context) bool {
	f.initCalls.Add(1)
	if f.init != nil {
		return f.init(ctx)
	}
	return f.initOK
}

func (f *fakeResponder) Validate(query string, c specialist.Context) bool {
	if f.validate != nil {
		return f.validate(query, c)
	}
	return len(query) >= 5
}

func (f *fakeResponder) Process(ctx context.Context, query string, c specialist.Context) specialist.Response {
	f.calls.Add(1)
	return f.process(ctx, query, c)
}

func failing(name, msg string) *fakeResponder {
	f := newFake(name, 0)
	f.process = func(_ context.Context, query string, _ specialist.Context) specialist.Response {
		return specialist.Response{AgentName: name, InputQuery: query, Error: msg}
	}
	return f
}

// recordingBroadcaster captures every event type and payload.
type recordingBroadcaster struct {
	mu       sync.Mutex
	types    []event.Type
	payloads []any
}

func (b *recordingBroadcaster) BroadcastEvent(_ context.Context, t event.Type, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.types = append(b.types, t)
	b.payloads = append(b.payloads, payload)
}

func (b *recordingBroadcaster) seen() []event.Type {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]event.Type(nil), b.types...)
}

func asResponders(fakes ...*fakeResponder) []portspec.Responder {
	out := make([]portspec.Responder, len(fakes))
	for i, f := range fakes {
		out[i] = f
	}
	return out
}

type testStack struct {
	orch      *Orchestrator
	completer *fakeCompleter
	hub       *recordingBroadcaster
	deps      Deps
}

// newTestStack wires an orchestrator over fakes. A nil screener uses the
// default phrase list.
func newTestStack(t *testing.T, completer *fakeCompleter, screener *SafetyScreener, fakes ...*fakeResponder) *testStack {
	t.Helper()
	if screener == nil {
		screener = NewSafetyScreener(nil)
	}
	responders := asResponders(fakes...)
	exec, err := NewExecutor(responders, workerpool.New(4))
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}
	hub := &recordingBroadcaster{}
	deps := Deps{
		Router:      NewRouter(screener, completer, testLLMConfig(), specialist.General, responders),
		Executor:    exec,
		Synthesizer: NewSynthesizer(completer, testLLMConfig()),
		Broadcaster: hub,
	}
	return &testStack{
		orch:      NewOrchestrator("test", deps, nil),
		completer: completer,
		hub:       hub,
		deps:      deps,
	}
}
