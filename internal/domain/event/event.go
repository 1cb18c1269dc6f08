// Package event defines the orchestration lifecycle events pushed to live
// subscribers and the message broker.
package event

import "time"

// Type identifies the kind of orchestration event.
//
// The terminal orchestration events (completed, emergency and failed) carry
// the Tier 3 audit record, memory.Event, as payload.
type Type string

const (
	TypeOrchestrationStarted   Type = "orchestration.started"
	TypeOrchestrationRouted    Type = "orchestration.routed"
	TypeOrchestrationCompleted Type = "orchestration.completed"
	TypeOrchestrationEmergency Type = "orchestration.emergency"
	TypeOrchestrationFailed    Type = "orchestration.failed"
	TypeMemoryCleared          Type = "memory.cleared"
	TypeTriageAnalyzed         Type = "triage.analyzed"
)

// StartedPayload is sent when a query enters the orchestrator.
type StartedPayload struct {
	SessionID string    `json:"session_id"`
	Query     string    `json:"query"`
	StartedAt time.Time `json:"started_at"`
}

// RoutedPayload is sent once the routing decision is known.
type RoutedPayload struct {
	SessionID     string   `json:"session_id"`
	PrimaryAgent  string   `json:"primary_agent"`
	Agents        []string `json:"agents"`
	ExecutionMode string   `json:"execution_mode"`
	Urgency       string   `json:"urgency_level"`
	Confidence    float64  `json:"confidence"`
	CacheHit      bool     `json:"cache_hit"`
}

// MemoryClearedPayload is sent when a memory tier is cleared.
type MemoryClearedPayload struct {
	SessionID string `json:"session_id"`
	Tier      string `json:"tier"`
}

// TriageAnalyzedPayload is sent when a triage interview has been assessed.
// It carries no interview text.
type TriageAnalyzedPayload struct {
	SessionID  string   `json:"session_id"`
	Category   int      `json:"ats_category"`
	Urgency    string   `json:"urgency"`
	SeenWithin string   `json:"seen_within"`
	RedFlags   []string `json:"red_flags"`
}
