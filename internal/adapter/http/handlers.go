package http

import (
	"net/http"

	"github.com/Strob0t/MedOrch/internal/domain/memory"
	"github.com/Strob0t/MedOrch/internal/domain/specialist"
	"github.com/Strob0t/MedOrch/internal/domain/triage"
	"github.com/Strob0t/MedOrch/internal/service"
)

const (
	maxQueryLength       = 5000
	defaultBodyLimit     = 10 << 20
	defaultSummaryLength = 10
)

// Handlers holds the services the HTTP handlers call into.
type Handlers struct {
	Sessions  *service.Sessions
	Executor  *service.Executor
	Screener  *service.SafetyScreener
	Triage    *service.Triage // nil when triage is disabled
	BodyLimit int64 // bytes; images arrive base64 encoded
	Version   string
}

func (h *Handlers) bodyLimit() int64 {
	if h.BodyLimit > 0 {
		return h.BodyLimit
	}
	return defaultBodyLimit
}

type queryRequest struct {
	Query     string             `json:"query"`
	Context   specialist.Context `json:"context"`
	SessionID string             `json:"session_id"`
}

// session resolves the session named by the request, creating it on first
// use. It writes the error response itself.
func (h *Handlers) session(w http.ResponseWriter, id string) (*service.Orchestrator, bool) {
	o, err := h.Sessions.GetOrCreate(id)
	if err != nil {
		writeDomainError(w, err, "session not found")
		return nil, false
	}
	return o, true
}

// existingSession resolves a session without creating it.
func (h *Handlers) existingSession(w http.ResponseWriter, r *http.Request) (*service.Orchestrator, bool) {
	id := r.URL.Query().Get("session_id")
	if id == "" {
		return h.Sessions.Default(), true
	}
	o, ok := h.Sessions.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return o, true
}

// --- Health ---

// Health reports liveness.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"version":  h.Version,
		"agents":   len(h.Executor.Names()),
		"sessions": h.Sessions.Len(),
	})
}

// Ready reports whether at least one specialist can serve requests.
func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	if !h.Executor.Initialize(r.Context()) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unavailable",
			"agents": h.Executor.Status(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
		"agents": h.Executor.Status(),
	})
}

// --- Orchestration ---

// Orchestrate runs a query through the full pipeline. Failures are part of
// the result, reported in its error field.
func (h *Handlers) Orchestrate(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[queryRequest](w, r, h.bodyLimit())
	if !ok {
		return
	}
	query, ok := requireQuery(w, req.Query)
	if !ok {
		return
	}
	orch, ok := h.session(w, req.SessionID)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, orch.Orchestrate(r.Context(), query, req.Context))
}

// Analyze returns the routing decision for a query without executing it.
func (h *Handlers) Analyze(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[queryRequest](w, r, h.bodyLimit())
	if !ok {
		return
	}
	query, ok := requireQuery(w, req.Query)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.Sessions.Default().AnalyzeQuery(r.Context(), query, req.Context))
}

// --- Agents ---

// ListAgents describes every registered specialist.
func (h *Handlers) ListAgents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Executor.Info())
}

// GetAgent describes one specialist.
func (h *Handlers) GetAgent(w http.ResponseWriter, r *http.Request) {
	info, ok := h.Executor.Lookup(urlParam(r, "name"))
	if !ok {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// QueryAgent consults one specialist directly, bypassing routing.
func (h *Handlers) QueryAgent(w http.ResponseWriter, r *http.Request) {
	name := urlParam(r, "name")
	if _, ok := h.Executor.Lookup(name); !ok {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}
	req, ok := readJSON[queryRequest](w, r, h.bodyLimit())
	if !ok {
		return
	}
	query, ok := requireQuery(w, req.Query)
	if !ok {
		return
	}
	orch, ok := h.session(w, req.SessionID)
	if !ok {
		return
	}
	resp, err := orch.Consult(r.Context(), name, query, req.Context)
	if err != nil {
		writeDomainError(w, err, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- Memory ---

// MemoryStats returns audit statistics and tier sizes for a session.
func (h *Handlers) MemoryStats(w http.ResponseWriter, r *http.Request) {
	orch, ok := h.existingSession(w, r)
	if !ok {
		return
	}
	mem := orch.Memory()
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": orch.SessionID(),
		"stats":      mem.Stats(),
		"size":       mem.Size(),
	})
}

// MemorySummary returns the recent conversation and the consultation digest.
func (h *Handlers) MemorySummary(w http.ResponseWriter, r *http.Request) {
	orch, ok := h.existingSession(w, r)
	if !ok {
		return
	}
	mem := orch.Memory()
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":    orch.SessionID(),
		"conversation":  mem.ContextSummary(defaultSummaryLength),
		"consultations": mem.ConsultationsSummary(),
	})
}

// MemoryExport dumps every tier of a session.
func (h *Handlers) MemoryExport(w http.ResponseWriter, r *http.Request) {
	orch, ok := h.existingSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, orch.Memory().Export())
}

type clearRequest struct {
	Tier      string `json:"tier"`
	SessionID string `json:"session_id"`
}

// ClearMemory empties one tier, or all of them.
func (h *Handlers) ClearMemory(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[clearRequest](w, r, h.bodyLimit())
	if !ok {
		return
	}
	if req.Tier == "" {
		req.Tier = string(memory.TierAll)
	}
	tier, ok := memory.ParseTier(req.Tier)
	if !ok {
		writeError(w, http.StatusBadRequest, "tier must be one of conversation, consultations, audit, all")
		return
	}
	orch := h.Sessions.Default()
	if req.SessionID != "" {
		if orch, ok = h.Sessions.Get(req.SessionID); !ok {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
	}
	orch.ClearMemory(r.Context(), tier)
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": orch.SessionID(),
		"cleared":    tier,
		"size":       orch.Memory().Size(),
	})
}

// --- Sessions ---

// ListSessions describes every live session.
func (h *Handlers) ListSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Sessions.List())
}

// CreateSession starts a session with a generated id.
func (h *Handlers) CreateSession(w http.ResponseWriter, _ *http.Request) {
	o := h.Sessions.Create()
	writeJSON(w, http.StatusCreated, map[string]string{"session_id": o.SessionID()})
}

// DeleteSession ends a session.
func (h *Handlers) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.Sessions.Delete(urlParam(r, "id")); err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Safety ---

// SafetyPhrases lists the active emergency phrases.
func (h *Handlers) SafetyPhrases(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"phrases": h.Screener.Phrases()})
}

// --- Triage ---

type triageStartRequest struct {
	SessionID   string `json:"session_id"`
	PatientName string `json:"patient_name"`
}

type triageInterviewRequest struct {
	SessionID   string `json:"session_id"`
	UserMessage string `json:"user_message"`
}

type triageAnalyzeRequest struct {
	SessionID string           `json:"session_id"`
	Messages  []triage.Message `json:"messages"`
}

// StartTriage opens an intake interview. An empty body starts one with a
// generated id.
func (h *Handlers) StartTriage(w http.ResponseWriter, r *http.Request) {
	var req triageStartRequest
	if r.ContentLength != 0 {
		var ok bool
		if req, ok = readJSON[triageStartRequest](w, r, h.bodyLimit()); !ok {
			return
		}
	}
	s, err := h.Triage.Start(req.SessionID, req.PatientName)
	if err != nil {
		writeDomainError(w, err, "triage session not found")
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

// TriageInterview records one patient answer and returns the next question.
func (h *Handlers) TriageInterview(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[triageInterviewRequest](w, r, h.bodyLimit())
	if !ok {
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}
	if len(req.UserMessage) > maxQueryLength {
		writeError(w, http.StatusBadRequest, "user_message too long")
		return
	}
	reply, err := h.Triage.Interview(r.Context(), req.SessionID, req.UserMessage)
	if err != nil {
		writeDomainError(w, err, "triage session not found")
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

// TriageAnalyze writes the pre-visit report and ATS category.
func (h *Handlers) TriageAnalyze(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[triageAnalyzeRequest](w, r, h.bodyLimit())
	if !ok {
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}
	a, err := h.Triage.Analyze(r.Context(), req.SessionID, req.Messages)
	if err != nil {
		writeDomainError(w, err, "triage session not found")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// GetTriageSession returns a triage session with its transcript.
func (h *Handlers) GetTriageSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.Triage.Get(urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "triage session not found")
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// DeleteTriageSession discards a triage session.
func (h *Handlers) DeleteTriageSession(w http.ResponseWriter, r *http.Request) {
	if err := h.Triage.Delete(urlParam(r, "id")); err != nil {
		writeDomainError(w, err, "triage session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
