// Package orchestration defines the terminal output of one orchestration call.
package orchestration

import (
	"github.com/Strob0t/MedOrch/internal/domain/routing"
	"github.com/Strob0t/MedOrch/internal/domain/specialist"
)

// Metadata keys set on a Result.
const (
	MetaEmergency         = "emergency"
	MetaSafetyFlags       = "safety_flags"
	MetaRoutingConfidence = "routing_confidence"
	MetaExecutionMode     = "execution_mode"
	MetaNumAgents         = "num_agents"
	MetaErrorType         = "error_type"
	MetaCacheHit          = "routing_cache_hit"
	MetaSessionID         = "session_id"
)

// Result is what Orchestrate returns. AgentsConsulted always lines up with
// AgentResponses; both are empty for emergencies and failures.
type Result struct {
	Query             string                `json:"query"`
	RoutingDecision   *routing.Decision     `json:"routing_decision,omitempty"`
	AgentResponses    []specialist.Response `json:"agent_responses"`
	SynthesizedOutput string                `json:"synthesized_output"`
	Confidence        float64               `json:"confidence"`
	ProcessingTime    float64               `json:"processing_time"` // seconds
	AgentsConsulted   []string              `json:"agents_consulted"`
	Metadata          map[string]any        `json:"metadata"`
	Error             string                `json:"error,omitempty"`
}

// Failed reports whether the orchestration ended in the error state.
func (r *Result) Failed() bool {
	return r.Error != ""
}
