package specialist

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/Strob0t/MedOrch/internal/domain/specialist"
	"github.com/Strob0t/MedOrch/internal/port/llm"
)

// Query length bounds accepted by text specialists.
const (
	minQueryLen = 5
	maxQueryLen = 5000
)

// TextConfig describes one chat-model specialist.
type TextConfig struct {
	Name        string
	Description string
	Model       string
	Template    string  // name of the embedded prompt template
	Confidence  float64 // reported on success
	MaxTokens   int
	Temperature float64
}

// Text is a specialist that answers by prompting a chat model.
type Text struct {
	cfg TextConfig
	llm llm.Completer
}

// NewText creates a text specialist on top of completer.
func NewText(cfg TextConfig, completer llm.Completer) *Text {
	return &Text{cfg: cfg, llm: completer}
}

// Name implements specialist.Responder.
func (s *Text) Name() string { return s.cfg.Name }

// Description implements specialist.Responder.
func (s *Text) Description() string { return s.cfg.Description }

// RequiresImage implements specialist.Responder.
func (s *Text) RequiresImage() bool { return false }

// Initialize probes the model backend when it supports health checks.
func (s *Text) Initialize(ctx context.Context) bool {
	if s.llm == nil || s.cfg.Model == "" {
		slog.Error("specialist has no model backend", "agent", s.cfg.Name)
		return false
	}
	if hc, ok := s.llm.(llm.HealthChecker); ok {
		if healthy, err := hc.Health(ctx); !healthy {
			slog.Error("specialist backend unhealthy", "agent", s.cfg.Name, "error", err)
			return false
		}
	}
	slog.Info("specialist initialized", "agent", s.cfg.Name, "model", s.cfg.Model)
	return true
}

// Validate accepts queries whose trimmed length is within bounds.
func (s *Text) Validate(query string, _ specialist.Context) bool {
	n := len(strings.TrimSpace(query))
	return n >= minQueryLen && n <= maxQueryLen
}

type textPromptData struct {
	Query           string
	PatientData     string
	ClinicalHistory string
	Prior           []priorFinding
}

// Process renders the specialist prompt and asks the model.
func (s *Text) Process(ctx context.Context, query string, c specialist.Context) specialist.Response {
	start := time.Now()
	resp := specialist.Response{
		AgentName:  s.cfg.Name,
		InputQuery: query,
		Metadata:   map[string]any{"model": s.cfg.Model},
	}
	finish := func() specialist.Response {
		resp.ProcessingTime = time.Since(start).Seconds()
		resp.CreatedAt = time.Now()
		resp.Metadata["processing_time"] = resp.ProcessingTime
		return resp
	}

	prompt, err := render(s.cfg.Template, textPromptData{
		Query:           strings.TrimSpace(query),
		PatientData:     stringify(c[specialist.KeyPatientData]),
		ClinicalHistory: c.String(specialist.KeyClinicalHistory),
		Prior:           priorFindings(c),
	})
	if err != nil {
		resp.Error = err.Error()
		return finish()
	}

	out, err := s.llm.Complete(ctx, llm.Request{
		Model:       s.cfg.Model,
		Prompt:      prompt,
		Temperature: s.cfg.Temperature,
		MaxTokens:   s.cfg.MaxTokens,
	})
	if err != nil {
		slog.Warn("specialist call failed", "agent", s.cfg.Name, "error", err)
		resp.Error = err.Error()
		return finish()
	}

	resp.Output = strings.TrimSpace(out)
	resp.Confidence = s.cfg.Confidence
	return finish()
}
