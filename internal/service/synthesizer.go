package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	medotel "github.com/Strob0t/MedOrch/internal/adapter/otel"
	"github.com/Strob0t/MedOrch/internal/config"
	"github.com/Strob0t/MedOrch/internal/domain/specialist"
	"github.com/Strob0t/MedOrch/internal/port/llm"
)

// synthesisPromptData provides data for the synthesis prompt template.
type synthesisPromptData struct {
	Query     string
	Responses string
}

// Synthesizer merges several specialist responses into one answer.
type Synthesizer struct {
	llm llm.Completer
	cfg config.LLM
}

// NewSynthesizer creates a Synthesizer.
func NewSynthesizer(completer llm.Completer, cfg config.LLM) *Synthesizer {
	return &Synthesizer{llm: completer, cfg: cfg}
}

// Synthesize returns a single response's output verbatim and merges several
// through the model. It never fails: upstream errors fall back to a plain
// per-specialist listing.
func (s *Synthesizer) Synthesize(ctx context.Context, responses []specialist.Response, query string) string {
	switch len(responses) {
	case 0:
		return ""
	case 1:
		return responses[0].Output
	}

	ctx, span := medotel.StartSynthesisSpan(ctx, len(responses))
	defer span.End()

	out, err := s.merge(ctx, responses, query)
	if err != nil {
		slog.Warn("synthesis failed, returning separate results", "error", err, "responses", len(responses))
		return fallbackSynthesis(responses)
	}
	return out
}

func (s *Synthesizer) merge(ctx context.Context, responses []specialist.Response, query string) (string, error) {
	blocks := make([]string, 0, len(responses))
	for _, r := range responses {
		blocks = append(blocks, fmt.Sprintf("**%s:**\n%s\n(Confidence: %.0f%%)", r.AgentName, r.Output, r.Confidence*100))
	}
	prompt, err := renderPrompt("synthesis.tmpl", synthesisPromptData{
		Query:     sanitizePromptInput(query),
		Responses: strings.Join(blocks, "\n\n"),
	})
	if err != nil {
		return "", err
	}

	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}
	out, err := s.llm.Complete(ctx, llm.Request{
		Model:       s.cfg.SynthesisModel,
		Prompt:      prompt,
		Temperature: s.cfg.Temperature,
		MaxTokens:   s.cfg.SynthesisMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("synthesis LLM call: %w", err)
	}
	if strings.TrimSpace(out) == "" {
		return "", fmt.Errorf("synthesis LLM call: empty output")
	}
	return out, nil
}

func fallbackSynthesis(responses []specialist.Response) string {
	var b strings.Builder
	b.WriteString("## Multi-Agent Consultation Results\n\n")
	for _, r := range responses {
		fmt.Fprintf(&b, "### %s\n%s\n\n", r.AgentName, r.Output)
	}
	b.WriteString("\nNote: Automatic synthesis failed. Results shown separately.")
	return b.String()
}
