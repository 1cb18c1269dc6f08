// Package routing defines the routing decision produced for every query.
package routing

import (
	"slices"
	"strings"
	"time"
)

// ExecutionMode selects how the chosen specialists are invoked.
type ExecutionMode string

const (
	ModeSingle     ExecutionMode = "single"
	ModeParallel   ExecutionMode = "parallel"
	ModeSequential ExecutionMode = "sequential"

	// ModeEmergency is recorded in the audit trail for short-circuited queries.
	// It is never produced by the router for execution.
	ModeEmergency ExecutionMode = "emergency"
)

// ParseMode maps a case-insensitive mode name to an ExecutionMode.
func ParseMode(s string) (ExecutionMode, bool) {
	switch ExecutionMode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeSingle:
		return ModeSingle, true
	case ModeParallel:
		return ModeParallel, true
	case ModeSequential:
		return ModeSequential, true
	}
	return "", false
}

// Urgency classifies how quickly a query needs attention.
type Urgency string

const (
	UrgencyEmergency Urgency = "emergency"
	UrgencyUrgent    Urgency = "urgent"
	UrgencyRoutine   Urgency = "routine"
)

// EmergencyAgent is the pseudo agent id used for short-circuited emergencies.
const EmergencyAgent = "emergency"

// Decision is the router's verdict for one query. It is built once and
// treated as read-only afterwards.
type Decision struct {
	Query            string        `json:"query"`
	PrimaryAgent     string        `json:"primary_agent"`
	AdditionalAgents []string      `json:"additional_agents"`
	ExecutionMode    ExecutionMode `json:"execution_mode"`
	RequiresImage    bool          `json:"requires_image"`
	Urgency          Urgency       `json:"urgency_level"`
	MedicalDomain    string        `json:"medical_domain,omitempty"`
	Reasoning        string        `json:"reasoning"`
	Confidence       float64       `json:"confidence"`
	SafetyFlags      []string      `json:"safety_flags"`
	CreatedAt        time.Time     `json:"created_at"`
}

// IsEmergency reports whether the decision short-circuits to emergency guidance.
func (d *Decision) IsEmergency() bool {
	return d.Urgency == UrgencyEmergency && d.PrimaryAgent == EmergencyAgent
}

// Agents returns the primary agent followed by the additional agents.
func (d *Decision) Agents() []string {
	out := make([]string, 0, 1+len(d.AdditionalAgents))
	out = append(out, d.PrimaryAgent)
	return append(out, d.AdditionalAgents...)
}

// Clone returns a deep copy so audit snapshots never share slices with the caller.
func (d Decision) Clone() Decision {
	d.AdditionalAgents = slices.Clone(d.AdditionalAgents)
	d.SafetyFlags = slices.Clone(d.SafetyFlags)
	return d
}
