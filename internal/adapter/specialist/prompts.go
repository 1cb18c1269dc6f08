// Package specialist implements the built-in specialist responders: text
// specialists backed by a chat model and image specialists backed by an
// image-classification endpoint.
package specialist

import (
	"bytes"
	"embed"
	"fmt"
	"text/template"

	"github.com/Strob0t/MedOrch/internal/domain/specialist"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.tmpl"))

// priorFinding is an earlier pipeline step as seen by a later specialist.
type priorFinding struct {
	Agent      string
	Output     string
	Confidence string
}

// priorFindings collects the outputs of specialists that ran earlier in a
// sequential pipeline, in pipeline order.
func priorFindings(c specialist.Context) []priorFinding {
	var out []priorFinding
	for _, agent := range c.Pipeline() {
		text := c.String(specialist.OutputKey(agent))
		if text == "" {
			continue
		}
		conf := "confidence unknown"
		if v, ok := c[specialist.ConfidenceKey(agent)].(float64); ok {
			conf = fmt.Sprintf("confidence %.0f%%", v*100)
		}
		out = append(out, priorFinding{Agent: agent, Output: text, Confidence: conf})
	}
	return out
}

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("execute %s: %w", name, err)
	}
	return buf.String(), nil
}

// stringify renders free-form context values (patient data may be a map).
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}
