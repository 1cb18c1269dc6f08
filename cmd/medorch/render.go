package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/Strob0t/MedOrch/internal/domain/orchestration"
	"github.com/Strob0t/MedOrch/internal/domain/routing"
)

// renderer formats results for the terminal. Styles are only applied when
// the output is a TTY; pipes get plain text.
type renderer struct {
	styled bool

	title   lipgloss.Style
	label   lipgloss.Style
	urgent  lipgloss.Style
	muted   lipgloss.Style
	failure lipgloss.Style
	answer  lipgloss.Style
}

func newRenderer(out io.Writer) *renderer {
	styled := false
	if f, ok := out.(*os.File); ok {
		styled = term.IsTerminal(int(f.Fd())) //nolint:gosec // G115: fd fits in int
	}
	return newRendererStyled(styled)
}

func newRendererStyled(styled bool) *renderer {
	r := &renderer{styled: styled}
	if !styled {
		return r
	}
	r.title = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#01cdfe"))
	r.label = lipgloss.NewStyle().Foreground(lipgloss.Color("#8a8a8a"))
	r.urgent = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ff5f5f"))
	r.muted = lipgloss.NewStyle().Faint(true)
	r.failure = lipgloss.NewStyle().Foreground(lipgloss.Color("#ff5f5f"))
	r.answer = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#05ffa1")).
		Padding(0, 1)
	return r
}

func (r *renderer) style(s lipgloss.Style, text string) string {
	if !r.styled {
		return text
	}
	return s.Render(text)
}

func (r *renderer) field(b *strings.Builder, name, value string) {
	fmt.Fprintf(b, "%s %s\n", r.style(r.label, name+":"), value)
}

func (r *renderer) decision(d *routing.Decision) string {
	var b strings.Builder
	b.WriteString(r.style(r.title, "Routing decision") + "\n")

	agents := d.PrimaryAgent
	if len(d.AdditionalAgents) > 0 {
		agents += " + " + strings.Join(d.AdditionalAgents, ", ")
	}
	r.field(&b, "agents", agents)
	r.field(&b, "mode", string(d.ExecutionMode))

	urgency := string(d.Urgency)
	if d.Urgency == routing.UrgencyEmergency {
		urgency = r.style(r.urgent, strings.ToUpper(urgency))
	}
	r.field(&b, "urgency", urgency)
	r.field(&b, "confidence", fmt.Sprintf("%.2f", d.Confidence))
	if len(d.SafetyFlags) > 0 {
		r.field(&b, "safety flags", strings.Join(d.SafetyFlags, ", "))
	}
	r.field(&b, "reasoning", d.Reasoning)
	return b.String()
}

func (r *renderer) result(res *orchestration.Result) string {
	var b strings.Builder
	if res.RoutingDecision != nil {
		b.WriteString(r.decision(res.RoutingDecision))
		b.WriteString("\n")
	}

	for i := range res.AgentResponses {
		resp := &res.AgentResponses[i]
		if resp.Failed() {
			fmt.Fprintf(&b, "%s\n", r.style(r.failure, fmt.Sprintf("%s failed: %s", resp.AgentName, resp.Error)))
			continue
		}
		fmt.Fprintf(&b, "%s\n", r.style(r.muted, fmt.Sprintf("%s answered in %.1fs (confidence %.2f)",
			resp.AgentName, resp.ProcessingTime, resp.Confidence)))
	}

	if res.Failed() {
		fmt.Fprintf(&b, "%s\n", r.style(r.failure, "Error: "+res.Error))
		return b.String()
	}

	b.WriteString("\n")
	b.WriteString(r.style(r.answer, strings.TrimSpace(res.SynthesizedOutput)))
	b.WriteString("\n")
	fmt.Fprintf(&b, "%s\n", r.style(r.muted, fmt.Sprintf("confidence %.2f, %.1fs", res.Confidence, res.ProcessingTime)))
	return b.String()
}
