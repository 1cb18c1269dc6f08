package service

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Strob0t/MedOrch/internal/domain/memory"
	"github.com/Strob0t/MedOrch/internal/domain/specialist"
)

// Memory is the three-tier session memory: conversation turns (Tier 1),
// specialist consultations (Tier 2) and the orchestration audit trail
// (Tier 3). Entries are append-only until their tier is cleared. All
// methods are safe for concurrent use.
type Memory struct {
	mu            sync.RWMutex
	conversation  []memory.Message
	consultations map[string][]memory.Consultation
	agentOrder    []string
	events        []memory.Event
}

// NewMemory creates an empty Memory.
func NewMemory() *Memory {
	return &Memory{consultations: make(map[string][]memory.Consultation)}
}

// --- Tier 1: conversation ---

// AddUserMessage appends a user turn.
func (m *Memory) AddUserMessage(content string, meta map[string]any) {
	m.addMessage(memory.RoleUser, content, meta)
}

// AddAssistantMessage appends an assistant turn.
func (m *Memory) AddAssistantMessage(content string, meta map[string]any) {
	m.addMessage(memory.RoleAssistant, content, meta)
}

func (m *Memory) addMessage(role memory.Role, content string, meta map[string]any) {
	msg := memory.Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
		Metadata:  maps.Clone(meta),
	}
	m.mu.Lock()
	m.conversation = append(m.conversation, msg)
	m.mu.Unlock()
}

// ContextSummary renders the last n messages as "Role: content" lines.
// n <= 0 renders the whole conversation.
func (m *Memory) ContextSummary(n int) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.conversation) == 0 {
		return "No previous conversation."
	}
	msgs := m.conversation
	if n > 0 && len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	lines := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		lines = append(lines, fmt.Sprintf("%s: %s", roleTitle(msg.Role), msg.Content))
	}
	return strings.Join(lines, "\n")
}

// FullContext returns a copy of the whole conversation.
func (m *Memory) FullContext() []memory.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.conversation)
}

func roleTitle(r memory.Role) string {
	switch r {
	case memory.RoleUser:
		return "User"
	case memory.RoleAssistant:
		return "Assistant"
	}
	return string(r)
}

// --- Tier 2: consultations ---

// LogConsultation records a successful specialist response. It satisfies
// ConsultationLogger.
func (m *Memory) LogConsultation(r specialist.Response) {
	c := memory.Consultation{
		AgentName:      r.AgentName,
		Query:          r.InputQuery,
		Response:       r.Output,
		Confidence:     r.Confidence,
		ProcessingTime: r.ProcessingTime,
		Timestamp:      time.Now().UTC(),
		Metadata:       maps.Clone(r.Metadata),
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, seen := m.consultations[c.AgentName]; !seen {
		m.agentOrder = append(m.agentOrder, c.AgentName)
	}
	m.consultations[c.AgentName] = append(m.consultations[c.AgentName], c)
}

// RecentConsultation returns the agent's latest consultation, or nil.
func (m *Memory) RecentConsultation(agent string) *memory.Consultation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.consultations[agent]
	if len(list) == 0 {
		return nil
	}
	c := list[len(list)-1]
	return &c
}

// Consultations returns a copy of the agent's consultations.
func (m *Memory) Consultations(agent string) []memory.Consultation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.consultations[agent])
}

// ConsultationsSummary renders one "name: N consultation(s)" line per agent
// in first-consulted order.
func (m *Memory) ConsultationsSummary() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.agentOrder) == 0 {
		return "No agent consultations yet."
	}
	lines := make([]string, 0, len(m.agentOrder))
	for _, name := range m.agentOrder {
		lines = append(lines, fmt.Sprintf("%s: %d consultation(s)", name, len(m.consultations[name])))
	}
	return strings.Join(lines, "\n")
}

// --- Tier 3: audit ---

// LogEvent appends an audit event.
func (m *Memory) LogEvent(e memory.Event) {
	e.AgentsConsulted = slices.Clone(e.AgentsConsulted)
	if e.RoutingDecision != nil {
		d := e.RoutingDecision.Clone()
		e.RoutingDecision = &d
	}
	m.mu.Lock()
	m.events = append(m.events, e)
	m.mu.Unlock()
}

// Events returns a copy of the audit trail.
func (m *Memory) Events() []memory.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.events)
}

// Stats derives aggregate statistics from the audit trail.
func (m *Memory) Stats() memory.Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := memory.Stats{AgentsUsed: []string{}}
	if len(m.events) == 0 {
		return st
	}
	var total float64
	used := make(map[string]struct{})
	for _, e := range m.events {
		if e.Success {
			st.Successful++
		} else {
			st.Failed++
		}
		total += e.TotalProcessingTime
		for _, a := range e.AgentsConsulted {
			used[a] = struct{}{}
		}
	}
	st.TotalQueries = len(m.events)
	st.SuccessRate = float64(st.Successful) / float64(st.TotalQueries)
	st.AvgProcessingTime = total / float64(st.TotalQueries)
	st.AgentsUsed = slices.Sorted(maps.Keys(used))
	return st
}

// --- clearing and introspection ---

// ClearConversation empties Tier 1 only.
func (m *Memory) ClearConversation() {
	m.mu.Lock()
	m.conversation = nil
	m.mu.Unlock()
}

// ClearConsultations empties Tier 2 only.
func (m *Memory) ClearConsultations() {
	m.mu.Lock()
	m.consultations = make(map[string][]memory.Consultation)
	m.agentOrder = nil
	m.mu.Unlock()
}

// ClearAudit empties Tier 3 only.
func (m *Memory) ClearAudit() {
	m.mu.Lock()
	m.events = nil
	m.mu.Unlock()
}

// ClearAll empties every tier.
func (m *Memory) ClearAll() {
	m.ClearConversation()
	m.ClearConsultations()
	m.ClearAudit()
}

// Clear empties the named tier.
func (m *Memory) Clear(t memory.Tier) {
	switch t {
	case memory.TierConversation:
		m.ClearConversation()
	case memory.TierConsultations:
		m.ClearConsultations()
	case memory.TierAudit:
		m.ClearAudit()
	case memory.TierAll:
		m.ClearAll()
	}
}

// Size reports the number of entries per tier.
func (m *Memory) Size() memory.Size {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := 0
	for _, list := range m.consultations {
		total += len(list)
	}
	return memory.Size{
		ConversationMessages: len(m.conversation),
		AgentsConsulted:      len(m.consultations),
		TotalConsultations:   total,
		OrchestrationEvents:  len(m.events),
	}
}

// Export returns a plain snapshot of all tiers for callers that want to
// persist memory themselves.
func (m *Memory) Export() map[string]any {
	m.mu.RLock()
	consultations := make(map[string][]memory.Consultation, len(m.consultations))
	for name, list := range m.consultations {
		consultations[name] = slices.Clone(list)
	}
	out := map[string]any{
		"conversation":  slices.Clone(m.conversation),
		"consultations": consultations,
		"audit":         slices.Clone(m.events),
	}
	m.mu.RUnlock()

	out["stats"] = m.Stats()
	out["size"] = m.Size()
	return out
}
