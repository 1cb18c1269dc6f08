// Package memory provides the entry types of the three-tier session memory:
// conversation turns, specialist consultations and the orchestration audit trail.
package memory

import (
	"time"

	"github.com/Strob0t/MedOrch/internal/domain/routing"
)

// Role identifies who authored a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a Tier 1 conversation entry.
type Message struct {
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Consultation is a Tier 2 record of one successful specialist invocation.
type Consultation struct {
	AgentName      string         `json:"agent_name"`
	Query          string         `json:"query"`
	Response       string         `json:"response"`
	Confidence     float64        `json:"confidence"`
	ProcessingTime float64        `json:"processing_time"`
	Timestamp      time.Time      `json:"timestamp"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Event is a Tier 3 audit record. Exactly one is written per orchestration.
type Event struct {
	ID                  string                `json:"id"`
	SessionID           string                `json:"session_id,omitempty"`
	Query               string                `json:"query"`
	RoutingDecision     *routing.Decision     `json:"routing_decision,omitempty"`
	AgentsConsulted     []string              `json:"agents_consulted"`
	ExecutionMode       routing.ExecutionMode `json:"execution_mode"`
	TotalProcessingTime float64               `json:"total_processing_time"`
	Success             bool                  `json:"success"`
	Error               string                `json:"error,omitempty"`
	Timestamp           time.Time             `json:"timestamp"`
}

// Stats is derived from the Tier 3 log on every read.
type Stats struct {
	TotalQueries      int      `json:"total_queries"`
	Successful        int      `json:"successful"`
	Failed            int      `json:"failed"`
	SuccessRate       float64  `json:"success_rate"`
	AvgProcessingTime float64  `json:"avg_processing_time"`
	AgentsUsed        []string `json:"agents_used"`
}

// Size reports the number of entries held per tier.
type Size struct {
	ConversationMessages int `json:"conversation_messages"`
	AgentsConsulted      int `json:"agents_consulted"`
	TotalConsultations   int `json:"total_consultations"`
	OrchestrationEvents  int `json:"orchestration_events"`
}

// Tier names a clearable section of memory.
type Tier string

const (
	TierConversation  Tier = "conversation"
	TierConsultations Tier = "consultations"
	TierAudit         Tier = "audit"
	TierAll           Tier = "all"
)

// ParseTier maps a tier name; ok is false for unknown names.
func ParseTier(s string) (Tier, bool) {
	switch t := Tier(s); t {
	case TierConversation, TierConsultations, TierAudit, TierAll:
		return t, true
	}
	return "", false
}
