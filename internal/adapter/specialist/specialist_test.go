package specialist

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/Strob0t/MedOrch/internal/adapter/inference"
	"github.com/Strob0t/MedOrch/internal/config"
	"github.com/Strob0t/MedOrch/internal/domain/specialist"
	"github.com/Strob0t/MedOrch/internal/port/llm"
)

type fakeCompleter struct {
	mu      sync.Mutex
	out     string
	err     error
	healthy bool
	prompts []llm.Request
}

func (f *fakeCompleter) Complete(_ context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, req)
	return f.out, f.err
}

func (f *fakeCompleter) Health(context.Context) (bool, error) {
	if !f.healthy {
		return false, errors.New("down")
	}
	return true, nil
}

func (f *fakeCompleter) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return ""
	}
	return f.prompts[len(f.prompts)-1].Prompt
}

type fakeClassifier struct {
	labels []inference.Label
	err    error
}

func (f *fakeClassifier) Classify(context.Context, string, []byte, int) ([]inference.Label, error) {
	return f.labels, f.err
}

func newGeneral(c llm.Completer) *Text {
	return NewText(TextConfig{
		Name: specialist.General, Model: "m", Template: "general.tmpl", Confidence: generalConfidence,
	}, c)
}

func TestTextValidate(t *testing.T) {
	s := newGeneral(&fakeCompleter{})
	tests := []struct {
		query string
		want  bool
	}{
		{"", false},
		{"  hi  ", false},
		{"fever", true},
		{strings.Repeat("a", 5000), true},
		{strings.Repeat("a", 5001), false},
	}
	for _, tt := range tests {
		if got := s.Validate(tt.query, nil); got != tt.want {
			t.Errorf("Validate(len=%d) = %v, want %v", len(tt.query), got, tt.want)
		}
	}
}

func TestTextInitializeProbesBackend(t *testing.T) {
	if newGeneral(&fakeCompleter{healthy: false}).Initialize(context.Background()) {
		t.Error("expected init failure with unhealthy backend")
	}
	if !newGeneral(&fakeCompleter{healthy: true}).Initialize(context.Background()) {
		t.Error("expected init success with healthy backend")
	}
	if newGeneral(nil).Initialize(context.Background()) {
		t.Error("expected init failure without backend")
	}
}

func TestTextProcess(t *testing.T) {
	fc := &fakeCompleter{out: "  Type 2 diabetes causes thirst.  ", healthy: true}
	s := newGeneral(fc)

	resp := s.Process(context.Background(), "What are the symptoms of type 2 diabetes?", nil)
	if resp.Failed() {
		t.Fatalf("unexpected error: %s", resp.Error)
	}
	if resp.Output != "Type 2 diabetes causes thirst." {
		t.Errorf("output = %q", resp.Output)
	}
	if resp.Confidence != generalConfidence {
		t.Errorf("confidence = %v", resp.Confidence)
	}
	if resp.AgentName != specialist.General {
		t.Errorf("agent = %q", resp.AgentName)
	}
	if !strings.Contains(fc.lastPrompt(), "type 2 diabetes") {
		t.Errorf("prompt missing query: %q", fc.lastPrompt())
	}
}

func TestTextProcessError(t *testing.T) {
	s := newGeneral(&fakeCompleter{err: errors.New("timeout")})
	resp := s.Process(context.Background(), "headache for a week", nil)
	if !resp.Failed() {
		t.Fatal("expected error response")
	}
	if resp.Confidence != 0 {
		t.Errorf("failed response confidence = %v", resp.Confidence)
	}
}

func TestTreatmentPromptIncludesPatientDataAndPriorFindings(t *testing.T) {
	fc := &fakeCompleter{out: "plan"}
	s := NewText(TextConfig{Name: specialist.Treatment, Model: "m", Template: "treatment.tmpl"}, fc)

	c := specialist.Context{
		specialist.KeyPatientData:                      "62yo, eGFR 40",
		specialist.KeyPipeline:                         []string{specialist.Radiology},
		specialist.OutputKey(specialist.Radiology):     "right lower lobe consolidation",
		specialist.ConfidenceKey(specialist.Radiology): 0.81,
	}
	_ = s.Process(context.Background(), "How should this pneumonia be treated?", c)

	prompt := fc.lastPrompt()
	for _, want := range []string{"62yo, eGFR 40", "right lower lobe consolidation", "Radiology (confidence 81%)"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestImageValidateRequiresImage(t *testing.T) {
	s := NewImage(ImageConfig{Name: specialist.Dermatology, Model: "m", Template: "dermatology.tmpl"}, &fakeClassifier{})
	if s.Validate("what is this rash", nil) {
		t.Error("expected rejection without image")
	}
	if s.Validate("q", specialist.Context{specialist.KeyImage: "not base64!!"}) {
		t.Error("expected rejection of undecodable image")
	}
	img := base64.StdEncoding.EncodeToString([]byte("jpeg"))
	if !s.Validate("q", specialist.Context{specialist.KeyImage: img}) {
		t.Error("expected acceptance of base64 image")
	}
	if !s.Validate("q", specialist.Context{specialist.KeyImage: []byte("jpeg")}) {
		t.Error("expected acceptance of raw image bytes")
	}
}

func TestImageProcessFormatsFindings(t *testing.T) {
	fc := &fakeClassifier{labels: []inference.Label{
		{Label: "melanoma", Score: 0.734},
		{Label: "nevus", Score: 0.2},
	}}
	s := NewImage(ImageConfig{
		Name: specialist.Dermatology, Model: "m", Template: "dermatology.tmpl", DefaultQuery: "Automated analysis.",
	}, fc)

	resp := s.Process(context.Background(), "", specialist.Context{
		specialist.KeyImage:                 []byte("jpeg"),
		specialist.KeyLesionCharacteristics: "asymmetric, 7mm",
	})
	if resp.Failed() {
		t.Fatalf("unexpected error: %s", resp.Error)
	}
	for _, want := range []string{"- melanoma: 73.4% confidence", "- nevus: 20.0% confidence", "asymmetric, 7mm", "Automated analysis."} {
		if !strings.Contains(resp.Output, want) {
			t.Errorf("output missing %q:\n%s", want, resp.Output)
		}
	}
	if resp.Confidence != 0.734 {
		t.Errorf("confidence = %v, want top score", resp.Confidence)
	}
}

func TestImageProcessWithoutImage(t *testing.T) {
	s := NewImage(ImageConfig{Name: specialist.Radiology, Model: "m", Template: "radiology.tmpl"}, &fakeClassifier{})
	if resp := s.Process(context.Background(), "read this film", nil); !resp.Failed() {
		t.Fatal("expected error without image")
	}
}

func TestImageInitialize(t *testing.T) {
	var nilClient *inference.Client
	if NewImage(ImageConfig{Name: "x", Model: "m"}, nilClient).Initialize(context.Background()) {
		t.Error("nil inference client should fail init")
	}
	if !NewImage(ImageConfig{Name: "x", Model: "m"}, inference.NewClient("http://hf", "")).Initialize(context.Background()) {
		t.Error("configured client should init")
	}
}

func TestBuiltin(t *testing.T) {
	cfg := config.Defaults().Specialists
	rs, err := Builtin(cfg, &fakeCompleter{}, &fakeClassifier{})
	if err != nil {
		t.Fatalf("Builtin: %v", err)
	}
	if len(rs) != 5 {
		t.Fatalf("expected 5 specialists, got %d", len(rs))
	}
	for i, name := range cfg.Enabled {
		if rs[i].Name() != name {
			t.Errorf("specialist %d = %s, want %s", i, rs[i].Name(), name)
		}
		if rs[i].Description() == "" {
			t.Errorf("%s has no description", name)
		}
	}
	if !rs[2].RequiresImage() || rs[0].RequiresImage() {
		t.Error("unexpected RequiresImage flags")
	}

	cfg.Enabled = []string{"General", "Oncology"}
	if _, err := Builtin(cfg, &fakeCompleter{}, &fakeClassifier{}); err == nil {
		t.Error("expected error for unknown specialist")
	}
	cfg.Enabled = []string{"General", "General"}
	if _, err := Builtin(cfg, &fakeCompleter{}, &fakeClassifier{}); err == nil {
		t.Error("expected error for duplicate specialist")
	}
}
