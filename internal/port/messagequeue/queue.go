// Package messagequeue defines the message broker port (interface).
package messagequeue

import "context"

// Handler processes a message received from the broker.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue publishes and consumes orchestration audit and triage messages.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Drain processes pending messages, then closes the connection.
	Drain() error

	// Close shuts down the connection immediately.
	Close() error

	// IsConnected reports whether the broker connection is up.
	IsConnected() bool
}

// Subjects used by MedOrch.
const (
	SubjectOrchestrationCompleted = "medorch.orchestration.completed"
	SubjectOrchestrationEmergency = "medorch.orchestration.emergency"
	SubjectOrchestrationFailed    = "medorch.orchestration.failed"
	SubjectTriageAnalyzed         = "medorch.triage.analyzed"
)
