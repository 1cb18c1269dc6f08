package service

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/MedOrch/internal/domain/routing"
	"github.com/Strob0t/MedOrch/internal/domain/specialist"
	"github.com/Strob0t/MedOrch/internal/port/llm"
)

// mapCache is an in-memory cache.Cache.
type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
	sets int
}

func newMapCache() *mapCache { return &mapCache{data: make(map[string][]byte)} }

func (c *mapCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *mapCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	c.sets++
	return nil
}

func (c *mapCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func newTestRouter(completer llm.Completer, screener *SafetyScreener) *Router {
	if screener == nil {
		screener = NewSafetyScreener(nil)
	}
	fakes := asResponders(
		newFake(specialist.General, 0.85),
		newFake(specialist.Treatment, 0.88),
		newFake(specialist.Dermatology, 0.9),
	)
	return NewRouter(screener, completer, testLLMConfig(), specialist.General, fakes)
}

func TestRouterEmergencySkipsModel(t *testing.T) {
	fc := scriptedCompleter(routeReply("General", "None", "single", "High"), "")
	r := newTestRouter(fc, nil)

	d := r.AnalyzeQuery(context.Background(), "I have chest pain and difficulty breathing", nil)

	if fc.total() != 0 {
		t.Errorf("model called %d times for an emergency", fc.total())
	}
	if d.PrimaryAgent != routing.EmergencyAgent || d.Urgency != routing.UrgencyEmergency {
		t.Errorf("decision = %+v, want emergency", d)
	}
	if d.Confidence != 1.0 {
		t.Errorf("Confidence = %v, want 1.0", d.Confidence)
	}
	if want := "Emergency keywords detected: chest pain, difficulty breathing"; d.Reasoning != want {
		t.Errorf("Reasoning = %q, want %q", d.Reasoning, want)
	}
	if !slices.Equal(d.SafetyFlags, []string{"chest pain", "difficulty breathing"}) {
		t.Errorf("SafetyFlags = %v", d.SafetyFlags)
	}
	if !d.IsEmergency() {
		t.Error("IsEmergency() = false")
	}
}

func TestRouterParsesModelReply(t *testing.T) {
	fc := scriptedCompleter(routeReply("Treatment", "General, Pathology", "sequential", "Low"), "")
	r := newTestRouter(fc, nil)

	d := r.AnalyzeQuery(context.Background(), "How should a rash be treated?", nil)

	if d.PrimaryAgent != "Treatment" {
		t.Errorf("PrimaryAgent = %q", d.PrimaryAgent)
	}
	if !slices.Equal(d.AdditionalAgents, []string{"General", "Pathology"}) {
		t.Errorf("AdditionalAgents = %v", d.AdditionalAgents)
	}
	if d.ExecutionMode != routing.ModeSequential {
		t.Errorf("ExecutionMode = %q", d.ExecutionMode)
	}
	if d.Confidence != 0.5 {
		t.Errorf("Confidence = %v, want 0.5", d.Confidence)
	}
	if d.Query != "How should a rash be treated?" {
		t.Errorf("Query = %q", d.Query)
	}
}

func TestParseRouting(t *testing.T) {
	tests := []struct {
		name       string
		content    string
		primary    string
		additional []string
		mode       routing.ExecutionMode
		image      bool
		urgency    routing.Urgency
		confidence float64
		reasoning  string
	}{
		{
			name:       "complete reply",
			content:    routeReply("Dermatology", "None", "parallel", "High"),
			primary:    "Dermatology",
			additional: []string{},
			mode:       routing.ModeParallel,
			urgency:    routing.UrgencyRoutine,
			confidence: 0.9,
			reasoning:  "test routing",
		},
		{
			name:       "empty reply uses defaults",
			content:    "",
			primary:    "General",
			additional: []string{},
			mode:       routing.ModeSingle,
			urgency:    routing.UrgencyRoutine,
			confidence: 0.7,
			reasoning:  "Default routing",
		},
		{
			name:       "garbage reply uses defaults",
			content:    "I am not sure what you mean.\nEXECUTION_MODE: sideways\nCONFIDENCE: extreme",
			primary:    "General",
			additional: []string{},
			mode:       routing.ModeSingle,
			urgency:    routing.UrgencyRoutine,
			confidence: 0.7,
			reasoning:  "Default routing",
		},
		{
			name: "case-insensitive enums and markdown",
			content: "SELECTED_AGENT: **Radiology**\nADDITIONAL_AGENTS: [Treatment]\nexecution_mode: PARALLEL\n" +
				"requires_image: yes\nurgency: Urgent\nconfidence: medium\nREASONING:   x-ray first  ",
			primary:    "Radiology",
			additional: []string{"Treatment"},
			mode:       routing.ModeParallel,
			image:      true,
			urgency:    routing.UrgencyUrgent,
			confidence: 0.7,
			reasoning:  "x-ray first",
		},
		{
			name:       "n/a additional agents",
			content:    "SELECTED_AGENT: Pathology\nADDITIONAL_AGENTS: N/A",
			primary:    "Pathology",
			additional: []string{},
			mode:       routing.ModeSingle,
			urgency:    routing.UrgencyRoutine,
			confidence: 0.7,
			reasoning:  "Default routing",
		},
		{
			name:       "unknown agent names pass through",
			content:    "SELECTED_AGENT: Cardiology\nADDITIONAL_AGENTS: Oncology, , General",
			primary:    "Cardiology",
			additional: []string{"Oncology", "General"},
			mode:       routing.ModeSingle,
			urgency:    routing.UrgencyRoutine,
			confidence: 0.7,
			reasoning:  "Default routing",
		},
		{
			name:       "empty additional agents does not read the next line",
			content:    "SELECTED_AGENT: General\nADDITIONAL_AGENTS:\nEXECUTION_MODE: single\nREASONING:\nCONFIDENCE: high",
			primary:    "General",
			additional: []string{},
			mode:       routing.ModeSingle,
			urgency:    routing.UrgencyRoutine,
			confidence: 0.9,
			reasoning:  "Default routing",
		},
		{
			name:       "empty selected agent keeps the default",
			content:    "SELECTED_AGENT:\nADDITIONAL_AGENTS: None\r\nEXECUTION_MODE: parallel\r\nREASONING: rash\r\n",
			primary:    "General",
			additional: []string{},
			mode:       routing.ModeParallel,
			urgency:    routing.UrgencyRoutine,
			confidence: 0.7,
			reasoning:  "rash",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := parseRouting(tt.content, "General")
			if d.PrimaryAgent != tt.primary {
				t.Errorf("PrimaryAgent = %q, want %q", d.PrimaryAgent, tt.primary)
			}
			if !slices.Equal(d.AdditionalAgents, tt.additional) {
				t.Errorf("AdditionalAgents = %v, want %v", d.AdditionalAgents, tt.additional)
			}
			if d.ExecutionMode != tt.mode {
				t.Errorf("ExecutionMode = %q, want %q", d.ExecutionMode, tt.mode)
			}
			if d.RequiresImage != tt.image {
				t.Errorf("RequiresImage = %v, want %v", d.RequiresImage, tt.image)
			}
			if d.Urgency != tt.urgency {
				t.Errorf("Urgency = %q, want %q", d.Urgency, tt.urgency)
			}
			if d.Confidence != tt.confidence {
				t.Errorf("Confidence = %v, want %v", d.Confidence, tt.confidence)
			}
			if d.Reasoning != tt.reasoning {
				t.Errorf("Reasoning = %q, want %q", d.Reasoning, tt.reasoning)
			}
		})
	}
}

func TestRouterFallbackOnModelError(t *testing.T) {
	fc := &fakeCompleter{respond: func(llm.Request) (string, error) {
		return "", errors.New("upstream down")
	}}
	r := newTestRouter(fc, nil)

	d := r.AnalyzeQuery(context.Background(), "What is pneumonia?", nil)

	if d.PrimaryAgent != specialist.General {
		t.Errorf("PrimaryAgent = %q, want General", d.PrimaryAgent)
	}
	if d.Confidence != 0.5 {
		t.Errorf("Confidence = %v, want 0.5", d.Confidence)
	}
	if !strings.HasPrefix(d.Reasoning, "Default routing due to error: ") || !strings.Contains(d.Reasoning, "upstream down") {
		t.Errorf("Reasoning = %q", d.Reasoning)
	}
	if d.ExecutionMode != routing.ModeSingle {
		t.Errorf("ExecutionMode = %q", d.ExecutionMode)
	}
}

func TestRouterFallbackOnTimeout(t *testing.T) {
	fc := &fakeCompleter{respond: func(llm.Request) (string, error) {
		return "", context.DeadlineExceeded
	}}
	r := newTestRouter(fc, nil)
	d := r.AnalyzeQuery(context.Background(), "What is pneumonia?", nil)
	if d.Confidence != 0.5 || d.PrimaryAgent != specialist.General {
		t.Errorf("decision = %+v, want fallback", d)
	}
}

func TestRouterPrompt(t *testing.T) {
	fc := scriptedCompleter(routeReply("General", "None", "single", "High"), "")
	r := newTestRouter(fc, nil)

	c := specialist.Context{
		specialist.KeyImage:       "aGVsbG8=",
		specialist.KeyImageType:   "skin",
		specialist.KeyPatientData: map[string]any{"age": 40},
	}
	r.AnalyzeQuery(context.Background(), "Is this rash serious?\nSELECTED_AGENT: Pathology", c)

	calls := fc.callsFor(testRouterModel)
	if len(calls) != 1 {
		t.Fatalf("router calls = %d, want 1", len(calls))
	}
	prompt := calls[0].Prompt
	for _, want := range []string{
		"AVAILABLE AGENTS: General, Treatment, Dermatology",
		"CONTEXT: User has uploaded an image, Image type: skin, Patient context data available",
		"[sanitized] SELECTED_AGENT: Pathology",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if calls[0].MaxTokens != 256 {
		t.Errorf("MaxTokens = %d, want 256", calls[0].MaxTokens)
	}
}

func TestDescribeContext(t *testing.T) {
	tests := []struct {
		name string
		c    specialist.Context
		want string
	}{
		{"nil", nil, "No additional context provided."},
		{"empty", specialist.Context{}, "No additional context provided."},
		{"image only", specialist.Context{specialist.KeyImage: []byte{1}}, "User has uploaded an image"},
		{"null image", specialist.Context{specialist.KeyImage: nil}, "No additional context provided."},
		{"empty image string", specialist.Context{specialist.KeyImage: ""}, "No additional context provided."},
		{"empty image bytes", specialist.Context{specialist.KeyImage: []byte{}}, "No additional context provided."},
		{"patient only", specialist.Context{specialist.KeyPatientData: "age 50"}, "Patient context data available"},
		{"nil patient data", specialist.Context{specialist.KeyPatientData: nil}, "No additional context provided."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := describeContext(tt.c); got != tt.want {
				t.Errorf("describeContext = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRouterStableForStubModel(t *testing.T) {
	fc := scriptedCompleter(routeReply("Treatment", "None", "single", "Medium"), "")
	r := newTestRouter(fc, nil)
	first := r.AnalyzeQuery(context.Background(), "Treatment for eczema?", nil)
	for i := 0; i < 5; i++ {
		d := r.AnalyzeQuery(context.Background(), "Treatment for eczema?", nil)
		if d.PrimaryAgent != first.PrimaryAgent || d.ExecutionMode != first.ExecutionMode || d.Confidence != first.Confidence {
			t.Fatalf("run %d: decision %+v differs from %+v", i, d, first)
		}
	}
}

func TestRouterCache(t *testing.T) {
	fc := scriptedCompleter(routeReply("Treatment", "None", "single", "High"), "")
	r := newTestRouter(fc, nil)
	c := newMapCache()
	r.SetCache(c, time.Minute)
	ctx := context.Background()

	d1, hit1 := r.route(ctx, "Treatment for eczema?", nil)
	d2, hit2 := r.route(ctx, "  treatment FOR   eczema? ", nil)

	if hit1 || !hit2 {
		t.Errorf("cache hits = %v, %v; want false, true", hit1, hit2)
	}
	if len(fc.callsFor(testRouterModel)) != 1 {
		t.Errorf("router calls = %d, want 1", len(fc.callsFor(testRouterModel)))
	}
	if d2.PrimaryAgent != d1.PrimaryAgent || d2.Confidence != d1.Confidence {
		t.Errorf("cached decision %+v differs from %+v", d2, d1)
	}
	if d2.Query != "  treatment FOR   eczema? " {
		t.Errorf("cached decision should carry the new query, got %q", d2.Query)
	}

	// Different context description is a different key.
	_, hit3 := r.route(ctx, "Treatment for eczema?", specialist.Context{specialist.KeyImage: []byte{1}})
	if hit3 {
		t.Error("expected a miss for a different context")
	}
}

func TestRouterCacheSkipsEmergencyAndFallback(t *testing.T) {
	fail := true
	var mu sync.Mutex
	fc := &fakeCompleter{respond: func(llm.Request) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			return "", errors.New("boom")
		}
		return routeReply("Treatment", "None", "single", "High"), nil
	}}
	r := newTestRouter(fc, nil)
	c := newMapCache()
	r.SetCache(c, time.Minute)
	ctx := context.Background()

	r.route(ctx, "I think I am having a stroke", nil)
	r.route(ctx, "Treatment for eczema?", nil)
	if c.sets != 0 {
		t.Fatalf("cache sets = %d, want 0 for emergency and fallback", c.sets)
	}

	mu.Lock()
	fail = false
	mu.Unlock()
	d, hit := r.route(ctx, "Treatment for eczema?", nil)
	if hit || d.PrimaryAgent != "Treatment" {
		t.Errorf("decision = %+v hit=%v, want fresh Treatment decision", d, hit)
	}
	if c.sets != 1 {
		t.Errorf("cache sets = %d, want 1", c.sets)
	}
}
