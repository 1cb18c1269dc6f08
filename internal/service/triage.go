package service

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/Strob0t/MedOrch/internal/config"
	"github.com/Strob0t/MedOrch/internal/domain"
	"github.com/Strob0t/MedOrch/internal/domain/event"
	"github.com/Strob0t/MedOrch/internal/domain/triage"
	"github.com/Strob0t/MedOrch/internal/logger"
	"github.com/Strob0t/MedOrch/internal/port/broadcast"
	"github.com/Strob0t/MedOrch/internal/port/llm"
)

const (
	// minCompleteHistory is the number of messages, including the latest
	// answer, before an interview may end.
	minCompleteHistory   = 6
	maxChiefComplaintLen = 200
	maxSymptoms          = 5
	triageConfidence     = 0.85
	defaultTriageAction  = "Seek immediate medical attention"
	noChiefComplaint     = "No chief complaint recorded"
)

// interviewDoneMarkers appear in the assistant's closing line.
var interviewDoneMarkers = []string{
	"have all the information",
	"have everything needed",
	"proceed with",
	"complete the assessment",
	"generate the report",
	"that's all i need",
	"end interview",
}

// commonSymptoms are picked out of the patient's answers, in report order.
var commonSymptoms = []string{
	"pain", "fever", "cough", "headache", "nausea", "vomiting",
	"dizziness", "shortness of breath", "chest pain", "bleeding",
	"rash", "fatigue", "weakness",
}

// reATSCategory is tried in order. Markdown emphasis around the label is
// tolerated.
var reATSCategory = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ATS[ \t]*Category[ \t*]*[:-]?[ \t*]*([1-5])`),
	regexp.MustCompile(`(?i)Category[ \t*]*[:-]?[ \t*]*([1-5])`),
	regexp.MustCompile(`(?i)ATS[ \t*]*[:-]?[ \t*]*([1-5])`),
}

// InterviewReply is the assistant's next turn.
type InterviewReply struct {
	SessionID    string           `json:"session_id"`
	AgentMessage string           `json:"agent_message"`
	IsComplete   bool             `json:"is_complete"`
	Emergency    bool             `json:"emergency"`
	SafetyFlags  []string         `json:"safety_flags"`
	Messages     []triage.Message `json:"messages"`
}

type interviewPromptData struct {
	Transcript   string
	Asked        int
	MaxQuestions int
}

// Triage runs pre-visit intake interviews and assesses them on the
// Australasian Triage Scale. Sessions live in memory and expire like
// orchestration sessions.
type Triage struct {
	llm         llm.Completer
	screener    *SafetyScreener
	cfg         config.Triage
	timeout     time.Duration
	limits      config.Sessions
	broadcaster broadcast.Broadcaster
	now         func() time.Time

	mu       sync.Mutex
	sessions map[string]*triage.Session
}

// NewTriage creates a Triage service. timeout bounds each model call.
func NewTriage(completer llm.Completer, screener *SafetyScreener, cfg config.Triage, timeout time.Duration, limits config.Sessions) *Triage {
	return &Triage{
		llm:         completer,
		screener:    screener,
		cfg:         cfg,
		timeout:     timeout,
		limits:      limits,
		broadcaster: broadcast.Nop{},
		now:         time.Now,
		sessions:    make(map[string]*triage.Session),
	}
}

// SetBroadcaster routes triage.analyzed events to b.
func (t *Triage) SetBroadcaster(b broadcast.Broadcaster) {
	if b != nil {
		t.broadcaster = b
	}
}

// Start opens a session. An empty id is replaced by a uuid; an existing id
// restarts that interview.
func (t *Triage) Start(id, patientName string) (triage.Session, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if len(id) > maxSessionIDLen {
		return triage.Session{}, fmt.Errorf("session id longer than %d characters: %w", maxSessionIDLen, domain.ErrValidation)
	}

	now := t.now().UTC()
	s := &triage.Session{
		ID:          id,
		PatientName: strings.TrimSpace(patientName),
		Phase:       triage.PhaseWelcome,
		Messages:    []triage.Message{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.sessions[id]; !ok && t.limits.MaxSessions > 0 && len(t.sessions) >= t.limits.MaxSessions {
		t.evictOldestLocked()
	}
	t.sessions[id] = s
	slog.Info("triage session started", "session_id", id)
	return s.Clone(), nil
}

// Get returns a snapshot of the session.
func (t *Triage) Get(id string) (triage.Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[id]
	if !ok {
		return triage.Session{}, fmt.Errorf("triage session %q: %w", id, domain.ErrNotFound)
	}
	return s.Clone(), nil
}

// Delete discards a session.
func (t *Triage) Delete(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.sessions[id]; !ok {
		return fmt.Errorf("triage session %q: %w", id, domain.ErrNotFound)
	}
	delete(t.sessions, id)
	return nil
}

// Len returns the number of live triage sessions.
func (t *Triage) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// Interview records the patient's answer and asks the next question. An
// answer containing an emergency phrase ends the interview with the fixed
// emergency guidance and no model call. A model failure leaves the
// session unchanged so the answer can be resent.
func (t *Triage) Interview(ctx context.Context, id, answer string) (InterviewReply, error) {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return InterviewReply{}, fmt.Errorf("user_message is required: %w", domain.ErrValidation)
	}
	ctx = logger.WithSessionID(ctx, id)

	history, err := t.history(id)
	if err != nil {
		return InterviewReply{}, err
	}
	history = append(history, triage.Message{Role: triage.RoleUser, Content: answer, Timestamp: t.now().UTC()})

	var reply string
	var complete bool
	check := t.screener.Check(answer)
	if check.IsEmergency {
		slog.WarnContext(ctx, "triage: emergency phrase in interview answer", "flags", check.Flags)
		reply, complete = EmergencyGuidance(check.Flags), true
	} else {
		reply, err = t.nextQuestion(ctx, history)
		if err != nil {
			return InterviewReply{}, err
		}
		complete = interviewComplete(len(history), reply)
	}
	history = append(history, triage.Message{Role: triage.RoleAssistant, Content: reply, Timestamp: t.now().UTC()})

	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[id]
	if !ok {
		return InterviewReply{}, fmt.Errorf("triage session %q: %w", id, domain.ErrNotFound)
	}
	s.Messages = append(s.Messages, history[len(history)-2:]...)
	s.Phase = triage.PhaseInterview
	if complete {
		s.Phase = triage.PhaseAnalysis
	}
	s.UpdatedAt = t.now().UTC()

	return InterviewReply{
		SessionID:    id,
		AgentMessage: reply,
		IsComplete:   complete,
		Emergency:    check.IsEmergency,
		SafetyFlags:  check.Flags,
		Messages:     append([]triage.Message(nil), s.Messages...),
	}, nil
}

// history returns a copy of the session's messages.
func (t *Triage) history(id string) ([]triage.Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[id]
	if !ok {
		return nil, fmt.Errorf("triage session %q: %w", id, domain.ErrNotFound)
	}
	if s.Phase == triage.PhaseComplete {
		return nil, fmt.Errorf("triage session %q is already assessed: %w", id, domain.ErrValidation)
	}
	return append([]triage.Message(nil), s.Messages...), nil
}

func (t *Triage) nextQuestion(ctx context.Context, history []triage.Message) (string, error) {
	asked := 0
	for _, m := range history {
		if m.Role == triage.RoleAssistant {
			asked++
		}
	}
	prompt, err := renderPrompt("triage_interview.tmpl", interviewPromptData{
		Transcript:   transcript(history),
		Asked:        asked,
		MaxQuestions: t.cfg.MaxQuestions,
	})
	if err != nil {
		return "", err
	}
	return t.complete(ctx, prompt, t.cfg.Temperature)
}

// Analyze writes the pre-visit report and assigns an ATS category. When
// messages is empty the session's own interview is assessed. A patient
// answer containing an emergency phrase raises the category to at least 2.
func (t *Triage) Analyze(ctx context.Context, id string, messages []triage.Message) (triage.Analysis, error) {
	start := time.Now()
	ctx = logger.WithSessionID(ctx, id)

	t.mu.Lock()
	s, ok := t.sessions[id]
	if ok && len(messages) == 0 {
		messages = append([]triage.Message(nil), s.Messages...)
	}
	t.mu.Unlock()
	if !ok {
		return triage.Analysis{}, fmt.Errorf("triage session %q: %w", id, domain.ErrNotFound)
	}

	answers := patientAnswers(messages)
	if len(answers) == 0 {
		return triage.Analysis{}, fmt.Errorf("interview has no patient answers: %w", domain.ErrValidation)
	}

	text := transcript(messages)
	reportPrompt, err := renderPrompt("triage_report.tmpl", struct{ Transcript string }{text})
	if err != nil {
		return triage.Analysis{}, err
	}
	report, err := t.complete(ctx, reportPrompt, 0)
	if err != nil {
		return triage.Analysis{}, fmt.Errorf("pre-visit report: %w", err)
	}

	atsPrompt, err := renderPrompt("triage_ats.tmpl", struct{ Report string }{sanitizePromptInput(report)})
	if err != nil {
		return triage.Analysis{}, err
	}
	assessment, err := t.complete(ctx, atsPrompt, 0)
	if err != nil {
		return triage.Analysis{}, fmt.Errorf("ats assessment: %w", err)
	}

	level := parseATSCategory(assessment)
	check := t.screener.Check(strings.Join(answers, "\n"))
	if check.IsEmergency && level > 2 {
		slog.WarnContext(ctx, "triage: raising category for red flags", "parsed", level, "flags", check.Flags)
		level = 2
	}

	a := triage.Analysis{
		SessionID:         id,
		Level:             level,
		Category:          level.Label(),
		Urgency:           level.Urgency(),
		SeenWithin:        level.SeenWithin(),
		CarePathway:       fieldValue(assessment, "CARE PATHWAY"),
		ChiefComplaint:    chiefComplaint(messages),
		Symptoms:          extractSymptoms(answers),
		RedFlags:          check.Flags,
		RecommendedAction: recommendedAction(assessment),
		Report:            report,
		Confidence:        triageConfidence,
		ProcessingTime:    time.Since(start).Seconds(),
		Metadata:          map[string]any{"model": t.cfg.Model},
		CreatedAt:         t.now().UTC(),
	}

	t.mu.Lock()
	if s, ok := t.sessions[id]; ok {
		stored := a
		s.Analysis = &stored
		s.Phase = triage.PhaseComplete
		s.UpdatedAt = a.CreatedAt
	}
	t.mu.Unlock()

	slog.InfoContext(ctx, "triage: assessment complete", "ats_category", int(level), "red_flags", len(check.Flags))
	t.broadcaster.BroadcastEvent(ctx, event.TypeTriageAnalyzed, event.TriageAnalyzedPayload{
		SessionID:  id,
		Category:   int(level),
		Urgency:    a.Urgency,
		SeenWithin: a.SeenWithin,
		RedFlags:   a.RedFlags,
	})
	return a, nil
}

func (t *Triage) complete(ctx context.Context, prompt string, temperature float64) (string, error) {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	out, err := t.llm.Complete(ctx, llm.Request{
		Model:       t.cfg.Model,
		Prompt:      prompt,
		Temperature: temperature,
		MaxTokens:   t.cfg.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("triage LLM call: %v: %w", err, domain.ErrUnavailable)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", fmt.Errorf("triage LLM call: empty output: %w", domain.ErrUnavailable)
	}
	return out, nil
}

func (t *Triage) evictOldestLocked() {
	var oldestID string
	var oldest time.Time
	for id, s := range t.sessions {
		if oldestID == "" || s.UpdatedAt.Before(oldest) {
			oldestID, oldest = id, s.UpdatedAt
		}
	}
	if oldestID != "" {
		delete(t.sessions, oldestID)
		slog.Info("triage session evicted, registry full", "session_id", oldestID)
	}
}

// Sweep removes sessions idle for longer than the configured timeout.
func (t *Triage) Sweep() int {
	if t.limits.IdleTimeout <= 0 {
		return 0
	}
	cutoff := t.now().Add(-t.limits.IdleTimeout)

	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for id, s := range t.sessions {
		if s.UpdatedAt.Before(cutoff) {
			delete(t.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		slog.Info("idle triage sessions expired", "removed", removed, "remaining", len(t.sessions))
	}
	return removed
}

// Run sweeps idle sessions every SweepInterval until ctx is done.
func (t *Triage) Run(ctx context.Context) {
	if t.limits.SweepInterval <= 0 || t.limits.IdleTimeout <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(t.limits.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Sweep()
		}
	}
}

// interviewComplete reports whether reply closes an interview of n messages.
func interviewComplete(n int, reply string) bool {
	if n < minCompleteHistory {
		return false
	}
	lower := strings.ToLower(reply)
	for _, m := range interviewDoneMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

func transcript(messages []triage.Message) string {
	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		lines = append(lines, strings.ToUpper(string(m.Role))+": "+sanitizePromptInput(m.Content))
	}
	return strings.Join(lines, "\n")
}

func patientAnswers(messages []triage.Message) []string {
	var out []string
	for _, m := range messages {
		if m.Role == triage.RoleUser && strings.TrimSpace(m.Content) != "" {
			out = append(out, m.Content)
		}
	}
	return out
}

// parseATSCategory reads the first category number in the assessment,
// defaulting to triage.DefaultCategory.
func parseATSCategory(content string) triage.Category {
	for _, re := range reATSCategory {
		if m := re.FindStringSubmatch(content); m != nil {
			n, _ := strconv.Atoi(m[1])
			return triage.Category(n)
		}
	}
	return triage.DefaultCategory
}

// fieldValue returns the text after "LABEL:" on the first line carrying it.
func fieldValue(content, label string) string {
	prefix := label + ":"
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if len(line) >= len(prefix) && strings.EqualFold(line[:len(prefix)], prefix) {
			return cleanField(line[len(prefix):])
		}
	}
	return ""
}

func recommendedAction(content string) string {
	if v := fieldValue(content, "RECOMMENDED IMMEDIATE ACTIONS"); v != "" {
		return v
	}
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		if strings.Contains(strings.ToLower(line), "recommend") {
			end := min(i+3, len(lines))
			return strings.TrimSpace(strings.Join(lines[i:end], "\n"))
		}
	}
	return defaultTriageAction
}

func chiefComplaint(messages []triage.Message) string {
	for _, m := range messages {
		if m.Role == triage.RoleUser && len(m.Content) > 20 {
			return cutAtRune(m.Content, maxChiefComplaintLen)
		}
	}
	return noChiefComplaint
}

func extractSymptoms(answers []string) []string {
	text := strings.ToLower(strings.Join(answers, " "))
	title := cases.Title(language.English)
	out := []string{}
	for _, s := range commonSymptoms {
		if strings.Contains(text, s) {
			out = append(out, title.String(s))
			if len(out) == maxSymptoms {
				break
			}
		}
	}
	return out
}
