// Package llm defines the port for single-turn text completion.
package llm

import "context"

// Request is a single-turn prompt.
type Request struct {
	Model       string
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// Completer turns a prompt into text. Implementations must honour ctx
// deadlines; a timeout is reported as an error.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// HealthChecker is implemented by backends that can be probed before first use.
type HealthChecker interface {
	Health(ctx context.Context) (bool, error)
}
