package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	medotel "github.com/Strob0t/MedOrch/internal/adapter/otel"
	"github.com/Strob0t/MedOrch/internal/domain"
	"github.com/Strob0t/MedOrch/internal/domain/routing"
	"github.com/Strob0t/MedOrch/internal/domain/specialist"
	portspec "github.com/Strob0t/MedOrch/internal/port/specialist"
	"github.com/Strob0t/MedOrch/internal/workerpool"
)

// ErrorKind classifies an execution failure.
type ErrorKind string

const (
	KindNotFound     ErrorKind = "not_found"
	KindInitFailed   ErrorKind = "init_failed"
	KindInvalidInput ErrorKind = "invalid_input"
	KindAgentError   ErrorKind = "agent_error"
	KindAggregate    ErrorKind = "aggregate"
)

// ExecutionError reports why a specialist could not produce a response.
type ExecutionError struct {
	Agent string
	Kind  ErrorKind
	Msg   string
}

func (e *ExecutionError) Error() string { return e.Msg }

// Unwrap maps the failure onto the domain sentinels.
func (e *ExecutionError) Unwrap() error {
	switch e.Kind {
	case KindNotFound:
		return domain.ErrNotFound
	case KindInvalidInput:
		return domain.ErrValidation
	case KindInitFailed:
		return domain.ErrUnavailable
	}
	return nil
}

// ConsultationLogger receives every successful specialist response.
type ConsultationLogger interface {
	LogConsultation(r specialist.Response)
}

// initTimeout bounds one specialist initialization.
const initTimeout = 30 * time.Second

// agentSlot memoizes the first completed initialization of one specialist.
// initMu serializes Initialize calls; mu guards the state read by Status.
type agentSlot struct {
	responder portspec.Responder

	initMu    sync.Mutex
	mu        sync.Mutex
	attempted bool
	ready     bool
}

func (s *agentSlot) state() (attempted, ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempted, s.ready
}

// ensureInitialized runs Initialize detached from the caller's cancellation.
// A failure seen after the caller has gone away is not memoized.
func (s *agentSlot) ensureInitialized(ctx context.Context) bool {
	if attempted, ready := s.state(); attempted {
		return ready
	}
	s.initMu.Lock()
	defer s.initMu.Unlock()
	if attempted, ready := s.state(); attempted {
		return ready
	}

	initCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), initTimeout)
	defer cancel()
	ready := s.responder.Initialize(initCtx)
	if !ready && ctx.Err() != nil {
		slog.Warn("specialist initialization abandoned", "agent", s.responder.Name(), "error", ctx.Err())
		return false
	}

	s.mu.Lock()
	s.attempted, s.ready = true, ready
	s.mu.Unlock()
	if !ready {
		slog.Error("specialist initialization failed", "agent", s.responder.Name())
	}
	return ready
}

func (s *agentSlot) initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// Executor runs specialists in single, parallel or sequential mode. The
// registry is fixed at construction and shared by every session.
type Executor struct {
	names   []string
	slots   map[string]*agentSlot
	pool    *workerpool.Pool
	metrics *medotel.Metrics
}

// NewExecutor registers responders in order. Duplicate names are rejected.
func NewExecutor(responders []portspec.Responder, pool *workerpool.Pool) (*Executor, error) {
	e := &Executor{
		names: make([]string, 0, len(responders)),
		slots: make(map[string]*agentSlot, len(responders)),
		pool:  pool,
	}
	for _, r := range responders {
		name := r.Name()
		if _, dup := e.slots[name]; dup {
			return nil, fmt.Errorf("register specialist %q: duplicate name: %w", name, domain.ErrValidation)
		}
		e.names = append(e.names, name)
		e.slots[name] = &agentSlot{responder: r}
	}
	return e, nil
}

// SetMetrics attaches metric instruments.
func (e *Executor) SetMetrics(m *medotel.Metrics) { e.metrics = m }

// Names returns the registered specialist names in registration order.
func (e *Executor) Names() []string {
	return append([]string(nil), e.names...)
}

// Responders returns the registered specialists in registration order.
func (e *Executor) Responders() []portspec.Responder {
	out := make([]portspec.Responder, 0, len(e.names))
	for _, n := range e.names {
		out = append(out, e.slots[n].responder)
	}
	return out
}

// Status maps each specialist to whether it has been initialized successfully.
func (e *Executor) Status() map[string]bool {
	out := make(map[string]bool, len(e.names))
	for _, n := range e.names {
		out[n] = e.slots[n].initialized()
	}
	return out
}

// Info describes every registered specialist in registration order.
func (e *Executor) Info() []specialist.Info {
	out := make([]specialist.Info, 0, len(e.names))
	for _, n := range e.names {
		s := e.slots[n]
		out = append(out, specialist.Info{
			Name:          n,
			Description:   s.responder.Description(),
			RequiresImage: s.responder.RequiresImage(),
			Initialized:   s.initialized(),
		})
	}
	return out
}

// Lookup returns the named specialist's description.
func (e *Executor) Lookup(name string) (specialist.Info, bool) {
	s, ok := e.slots[name]
	if !ok {
		return specialist.Info{}, false
	}
	return specialist.Info{
		Name:          name,
		Description:   s.responder.Description(),
		RequiresImage: s.responder.RequiresImage(),
		Initialized:   s.initialized(),
	}, true
}

// Initialize eagerly initializes every specialist and reports whether at
// least one is ready. Results are memoized like first-use initialization.
func (e *Executor) Initialize(ctx context.Context) bool {
	ready := false
	for _, n := range e.names {
		if e.slots[n].ensureInitialized(ctx) {
			ready = true
		}
	}
	return ready
}

// Execute dispatches on the decision's execution mode.
func (e *Executor) Execute(ctx context.Context, d *routing.Decision, query string, c specialist.Context, log ConsultationLogger) ([]specialist.Response, error) {
	switch d.ExecutionMode {
	case routing.ModeParallel:
		return e.ExecuteParallel(ctx, d.Agents(), query, c, log)
	case routing.ModeSequential:
		return e.ExecuteSequential(ctx, d.Agents(), query, c, log)
	default:
		r, err := e.ExecuteSingle(ctx, d.PrimaryAgent, query, c, log)
		if err != nil {
			return nil, err
		}
		return []specialist.Response{r}, nil
	}
}

// ExecuteSingle runs one specialist: lookup, lazy initialization, input
// validation, then Process. Successful responses are logged before return.
func (e *Executor) ExecuteSingle(ctx context.Context, agent, query string, c specialist.Context, log ConsultationLogger) (specialist.Response, error) {
	return e.run(ctx, agent, query, c, log, routing.ModeSingle)
}

func (e *Executor) run(ctx context.Context, agent, query string, c specialist.Context, log ConsultationLogger, mode routing.ExecutionMode) (specialist.Response, error) {
	slot, ok := e.slots[agent]
	if !ok {
		return specialist.Response{}, &ExecutionError{
			Agent: agent,
			Kind:  KindNotFound,
			Msg:   fmt.Sprintf("Agent '%s' not found. Available: %v", agent, e.names),
		}
	}
	if !slot.ensureInitialized(ctx) {
		return specialist.Response{}, &ExecutionError{
			Agent: agent,
			Kind:  KindInitFailed,
			Msg:   fmt.Sprintf("Failed to initialize agent '%s'", agent),
		}
	}
	if !slot.responder.Validate(query, c) {
		return specialist.Response{}, &ExecutionError{
			Agent: agent,
			Kind:  KindInvalidInput,
			Msg:   fmt.Sprintf("Invalid input for agent '%s'", agent),
		}
	}

	ctx, span := medotel.StartSpecialistSpan(ctx, agent, string(mode))
	defer span.End()

	resp := e.process(ctx, slot.responder, query, c)
	e.metrics.RecordSpecialistCall(ctx, agent, !resp.Failed())
	if resp.Failed() {
		slog.Warn("specialist returned an error", "agent", agent, "error", resp.Error)
		return specialist.Response{}, &ExecutionError{Agent: agent, Kind: KindAgentError, Msg: resp.Error}
	}

	resp.Confidence = domain.ClampConfidence(resp.Confidence)
	if resp.AgentName == "" {
		resp.AgentName = agent
	}
	if log != nil {
		log.LogConsultation(resp)
	}
	return resp, nil
}

// process calls the responder, converting a panic into an error response.
func (e *Executor) process(ctx context.Context, r portspec.Responder, query string, c specialist.Context) (resp specialist.Response) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			slog.Error("specialist panicked", "agent", r.Name(), "panic", p)
			resp = specialist.Response{
				AgentName:      r.Name(),
				InputQuery:     query,
				Error:          fmt.Sprintf("panic: %v", p),
				ProcessingTime: time.Since(start).Seconds(),
				CreatedAt:      time.Now().UTC(),
			}
		}
	}()
	return r.Process(ctx, query, c)
}

// ExecuteParallel fans agents out on the worker pool and waits for all of
// them. Successful responses come back in dispatch order; the call fails
// only when every agent failed.
func (e *Executor) ExecuteParallel(ctx context.Context, agents []string, query string, c specialist.Context, log ConsultationLogger) ([]specialist.Response, error) {
	futures := make([]*workerpool.Future[specialist.Response], len(agents))
	for i, name := range agents {
		futures[i] = workerpool.Submit(ctx, e.pool, func(ctx context.Context) (specialist.Response, error) {
			return e.run(ctx, name, query, c, log, routing.ModeParallel)
		})
	}

	responses := make([]specialist.Response, 0, len(agents))
	var failures []string
	for i, f := range futures {
		resp, err := f.Wait()
		if err != nil {
			msg := fmt.Sprintf("Error executing %s: %s", agents[i], err.Error())
			slog.Warn("parallel specialist failed", "agent", agents[i], "error", err)
			failures = append(failures, msg)
			continue
		}
		responses = append(responses, resp)
	}

	if len(responses) == 0 && len(failures) > 0 {
		return nil, &ExecutionError{
			Kind: KindAggregate,
			Msg:  "All parallel agents failed: " + strings.Join(failures, "; "),
		}
	}
	return responses, nil
}

// ExecuteSequential runs agents in order. Each step sees a copy of the
// caller's context extended with every earlier step's output and
// confidence. A failing step aborts the pipeline.
func (e *Executor) ExecuteSequential(ctx context.Context, agents []string, query string, c specialist.Context, log ConsultationLogger) ([]specialist.Response, error) {
	current := c.Clone()
	pipeline := make([]string, 0, len(agents))
	responses := make([]specialist.Response, 0, len(agents))

	for i, name := range agents {
		resp, err := e.run(ctx, name, query, current, log, routing.ModeSequential)
		if err != nil {
			slog.Warn("sequential pipeline aborted",
				"agent", name,
				"step", i+1,
				"error", err,
			)
			return nil, err
		}
		responses = append(responses, resp)

		current = current.Clone()
		current[specialist.OutputKey(name)] = resp.Output
		current[specialist.ConfidenceKey(name)] = resp.Confidence
		pipeline = append(pipeline, name)
		current[specialist.KeyPipeline] = append([]string(nil), pipeline...)
	}
	return responses, nil
}

// errorKind returns the failure class of err for result metadata.
func errorKind(err error) string {
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return string(ee.Kind)
	}
	return "internal"
}
