package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/Strob0t/MedOrch/internal/config"
	"github.com/Strob0t/MedOrch/internal/domain/routing"
	"github.com/Strob0t/MedOrch/internal/domain/specialist"
	"github.com/Strob0t/MedOrch/internal/port/cache"
	"github.com/Strob0t/MedOrch/internal/port/llm"
	portspec "github.com/Strob0t/MedOrch/internal/port/specialist"
)

// noContextDescription is used when the caller supplied no image or patient data.
const noContextDescription = "No additional context provided."

// routerPromptData provides data for the router prompt template.
type routerPromptData struct {
	Specialists  []specialist.Info
	DefaultAgent string
	Query        string
	Context      string
	Available    string
}

// Router turns a query into a routing.Decision: a safety screen first, then
// a templated LLM call whose line-prefixed answer is parsed deterministically.
type Router struct {
	screener     *SafetyScreener
	llm          llm.Completer
	cfg          config.LLM
	defaultAgent string
	targets      []specialist.Info

	cache    cache.Cache
	cacheTTL time.Duration
}

// NewRouter creates a Router over the given specialists.
func NewRouter(screener *SafetyScreener, completer llm.Completer, cfg config.LLM, defaultAgent string, responders []portspec.Responder) *Router {
	if defaultAgent == "" {
		defaultAgent = specialist.General
	}
	targets := make([]specialist.Info, 0, len(responders))
	for _, r := range responders {
		targets = append(targets, specialist.Info{
			Name:          r.Name(),
			Description:   r.Description(),
			RequiresImage: r.RequiresImage(),
		})
	}
	return &Router{
		screener:     screener,
		llm:          completer,
		cfg:          cfg,
		defaultAgent: defaultAgent,
		targets:      targets,
	}
}

// SetCache enables caching of model-produced decisions.
func (r *Router) SetCache(c cache.Cache, ttl time.Duration) {
	r.cache = c
	r.cacheTTL = ttl
}

// Screener returns the safety screener used by the router.
func (r *Router) Screener() *SafetyScreener { return r.screener }

// AnalyzeQuery returns the routing decision for query. It never fails:
// upstream errors degrade to a fallback decision for the default agent.
func (r *Router) AnalyzeQuery(ctx context.Context, query string, c specialist.Context) routing.Decision {
	d, _ := r.route(ctx, query, c)
	return d
}

// route is AnalyzeQuery plus whether the decision came from the cache.
func (r *Router) route(ctx context.Context, query string, c specialist.Context) (routing.Decision, bool) {
	check := r.screener.Check(query)
	if check.IsEmergency {
		slog.Warn("router: emergency phrases detected", "flags", check.Flags)
		return routing.Decision{
			Query:            query,
			PrimaryAgent:     routing.EmergencyAgent,
			AdditionalAgents: []string{},
			ExecutionMode:    routing.ModeSingle,
			Urgency:          routing.UrgencyEmergency,
			Reasoning:        "Emergency keywords detected: " + strings.Join(check.Flags, ", "),
			Confidence:       1.0,
			SafetyFlags:      check.Flags,
			CreatedAt:        time.Now().UTC(),
		}, false
	}

	desc := describeContext(c)
	key := routeCacheKey(query, desc)
	if d, ok := r.cached(ctx, key); ok {
		d.Query = query
		d.CreatedAt = time.Now().UTC()
		return d, true
	}

	d, err := r.ask(ctx, query, desc)
	if err != nil {
		slog.Warn("router: model call failed, using default agent",
			"error", err,
			"default_agent", r.defaultAgent,
		)
		return r.fallback(query, err), false
	}
	d.SafetyFlags = check.Flags
	r.store(ctx, key, d)

	slog.Info("router: query routed",
		"primary_agent", d.PrimaryAgent,
		"additional_agents", d.AdditionalAgents,
		"execution_mode", d.ExecutionMode,
		"confidence", d.Confidence,
	)
	return d, false
}

func (r *Router) ask(ctx context.Context, query, desc string) (routing.Decision, error) {
	names := make([]string, 0, len(r.targets))
	for _, t := range r.targets {
		names = append(names, t.Name)
	}
	prompt, err := renderPrompt("router.tmpl", routerPromptData{
		Specialists:  r.targets,
		DefaultAgent: r.defaultAgent,
		Query:        sanitizePromptInput(query),
		Context:      desc,
		Available:    strings.Join(names, ", "),
	})
	if err != nil {
		return routing.Decision{}, err
	}

	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}
	content, err := r.llm.Complete(ctx, llm.Request{
		Model:       r.cfg.RouterModel,
		Prompt:      prompt,
		Temperature: r.cfg.Temperature,
		MaxTokens:   r.cfg.RouterMaxTokens,
	})
	if err != nil {
		return routing.Decision{}, fmt.Errorf("router LLM call: %w", err)
	}

	if !reSelectedAgent.MatchString(content) {
		slog.Warn("router: reply has no SELECTED_AGENT line, using defaults",
			"content", truncate(content, 200),
		)
	}
	d := parseRouting(content, r.defaultAgent)
	d.Query = query
	return d, nil
}

func (r *Router) fallback(query string, err error) routing.Decision {
	return routing.Decision{
		Query:            query,
		PrimaryAgent:     r.defaultAgent,
		AdditionalAgents: []string{},
		ExecutionMode:    routing.ModeSingle,
		Urgency:          routing.UrgencyRoutine,
		Reasoning:        "Default routing due to error: " + err.Error(),
		Confidence:       0.5,
		SafetyFlags:      []string{},
		CreatedAt:        time.Now().UTC(),
	}
}

func (r *Router) cached(ctx context.Context, key string) (routing.Decision, bool) {
	if r.cache == nil {
		return routing.Decision{}, false
	}
	data, ok, err := r.cache.Get(ctx, key)
	if err != nil || !ok {
		return routing.Decision{}, false
	}
	var d routing.Decision
	if err := json.Unmarshal(data, &d); err != nil {
		slog.Warn("router: dropping unreadable cache entry", "error", err)
		_ = r.cache.Delete(ctx, key)
		return routing.Decision{}, false
	}
	return d, true
}

func (r *Router) store(ctx context.Context, key string, d routing.Decision) {
	if r.cache == nil {
		return
	}
	data, err := json.Marshal(d)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, key, data, r.cacheTTL); err != nil {
		slog.Debug("router: cache set failed", "error", err)
	}
}

// describeContext summarizes the caller's context for the router prompt.
func describeContext(c specialist.Context) string {
	var parts []string
	if c.HasImage() {
		parts = append(parts, "User has uploaded an image")
	}
	if t := c.String(specialist.KeyImageType); t != "" {
		parts = append(parts, "Image type: "+t)
	}
	if c.HasPatientData() {
		parts = append(parts, "Patient context data available")
	}
	if len(parts) == 0 {
		return noContextDescription
	}
	return strings.Join(parts, ", ")
}

// routeCacheKey normalizes case and whitespace so trivially different
// spellings of a query share an entry.
func routeCacheKey(query, desc string) string {
	norm := strings.Join(strings.Fields(strings.ToLower(query)), " ")
	sum := sha256.Sum256([]byte(norm + "\x00" + desc))
	return "route:" + hex.EncodeToString(sum[:])
}

var (
	// Values never span lines: an empty field must not capture the next one.
	reSelectedAgent    = regexp.MustCompile(`SELECTED_AGENT:[ \t]*([^\n]*)`)
	reAdditionalAgents = regexp.MustCompile(`ADDITIONAL_AGENTS:[ \t]*([^\n]*)`)
	reExecutionMode    = regexp.MustCompile(`(?i)EXECUTION_MODE:[ \t]*(single|parallel|sequential)`)
	reRequiresImage    = regexp.MustCompile(`(?i)REQUIRES_IMAGE:[ \t]*(yes|no)`)
	reUrgency          = regexp.MustCompile(`(?i)URGENCY:[ \t]*(emergency|urgent|routine)`)
	reConfidence       = regexp.MustCompile(`(?i)CONFIDENCE:[ \t]*(high|medium|low)`)
	reReasoning        = regexp.MustCompile(`REASONING:[ \t]*([^\n]*)`)
)

var confidenceLevels = map[string]float64{
	"high":   0.9,
	"medium": 0.7,
	"low":    0.5,
}

// parseRouting extracts a decision from the router's line-prefixed answer.
// Missing or malformed fields fall back to defaults; agent names are taken
// verbatim and checked later by the executor.
func parseRouting(content, defaultAgent string) routing.Decision {
	d := routing.Decision{
		PrimaryAgent:     defaultAgent,
		AdditionalAgents: []string{},
		ExecutionMode:    routing.ModeSingle,
		Urgency:          routing.UrgencyRoutine,
		Reasoning:        "Default routing",
		Confidence:       0.7,
		SafetyFlags:      []string{},
		CreatedAt:        time.Now().UTC(),
	}

	if m := reSelectedAgent.FindStringSubmatch(content); m != nil {
		if name := cleanField(m[1]); name != "" {
			d.PrimaryAgent = name
		}
	}
	if m := reAdditionalAgents.FindStringSubmatch(content); m != nil {
		d.AdditionalAgents = parseAgentList(m[1])
	}
	if m := reExecutionMode.FindStringSubmatch(content); m != nil {
		d.ExecutionMode, _ = routing.ParseMode(m[1])
	}
	if m := reRequiresImage.FindStringSubmatch(content); m != nil {
		d.RequiresImage = strings.EqualFold(m[1], "yes")
	}
	if m := reUrgency.FindStringSubmatch(content); m != nil {
		d.Urgency = routing.Urgency(strings.ToLower(m[1]))
	}
	if m := reConfidence.FindStringSubmatch(content); m != nil {
		d.Confidence = confidenceLevels[strings.ToLower(m[1])]
	}
	if m := reReasoning.FindStringSubmatch(content); m != nil {
		if reason := strings.TrimSpace(m[1]); reason != "" {
			d.Reasoning = reason
		}
	}
	return d
}

func parseAgentList(s string) []string {
	s = cleanField(s)
	switch strings.ToLower(s) {
	case "", "none", "n/a":
		return []string{}
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if name := cleanField(part); name != "" {
			out = append(out, name)
		}
	}
	if out == nil {
		return []string{}
	}
	return out
}

// cleanField trims whitespace and the markdown emphasis or brackets models
// sometimes wrap values in.
func cleanField(s string) string {
	return strings.Trim(strings.TrimSpace(s), "*[]` ")
}
