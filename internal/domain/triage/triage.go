// Package triage models the pre-visit intake interview and its assessment
// on the Australasian Triage Scale (ATS).
package triage

import (
	"fmt"
	"maps"
	"time"
)

// Phase is the stage a triage session is in.
type Phase string

const (
	PhaseWelcome   Phase = "welcome"
	PhaseInterview Phase = "interview"
	PhaseAnalysis  Phase = "analysis" // interview finished, assessment pending
	PhaseComplete  Phase = "complete"
)

// Role identifies the author of an interview message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of the interview.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is a single patient's interview.
type Session struct {
	ID          string    `json:"session_id"`
	PatientName string    `json:"patient_name,omitempty"`
	Phase       Phase     `json:"phase"`
	Messages    []Message `json:"messages"`
	Analysis    *Analysis `json:"analysis,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Clone returns a copy that shares no slices with s.
func (s *Session) Clone() Session {
	c := *s
	c.Messages = append([]Message(nil), s.Messages...)
	if s.Analysis != nil {
		a := *s.Analysis
		a.Symptoms = append([]string(nil), s.Analysis.Symptoms...)
		a.RedFlags = append([]string(nil), s.Analysis.RedFlags...)
		a.Metadata = maps.Clone(s.Analysis.Metadata)
		c.Analysis = &a
	}
	return c
}

// Category is an ATS category, 1 (immediately life-threatening) to 5
// (less urgent).
type Category int

// DefaultCategory is assumed when an assessment names no category.
const DefaultCategory Category = 3

var categoryInfo = map[Category]struct {
	urgency    string
	seenWithin string
}{
	1: {"Immediate (Life-threatening)", "Immediate"},
	2: {"Emergency (Imminently life-threatening)", "10 minutes"},
	3: {"Urgent (Potentially life-threatening)", "30 minutes"},
	4: {"Semi-urgent (Potentially serious)", "60 minutes"},
	5: {"Non-urgent (Less urgent)", "120 minutes"},
}

// Valid reports whether c is on the scale.
func (c Category) Valid() bool { return c >= 1 && c <= 5 }

// Label is the display form, e.g. "Category 2".
func (c Category) Label() string { return fmt.Sprintf("Category %d", int(c)) }

// Urgency describes the category's clinical urgency.
func (c Category) Urgency() string {
	if info, ok := categoryInfo[c]; ok {
		return info.urgency
	}
	return "Urgent"
}

// SeenWithin is the maximum wait for the category.
func (c Category) SeenWithin() string {
	return categoryInfo[c].seenWithin
}

// Emergency reports whether the category needs emergency care.
func (c Category) Emergency() bool { return c == 1 || c == 2 }

// Analysis is the outcome of assessing a finished interview.
type Analysis struct {
	SessionID         string         `json:"session_id"`
	Level             Category       `json:"ats_level"`
	Category          string         `json:"ats_category"`
	Urgency           string         `json:"urgency"`
	SeenWithin        string         `json:"seen_within"`
	CarePathway       string         `json:"care_pathway,omitempty"`
	ChiefComplaint    string         `json:"chief_complaint"`
	Symptoms          []string       `json:"symptoms"`
	RedFlags          []string       `json:"red_flags"`
	RecommendedAction string         `json:"recommended_action"`
	Report            string         `json:"report"`
	Confidence        float64        `json:"confidence"`
	ProcessingTime    float64        `json:"processing_time"`
	Metadata          map[string]any `json:"metadata"`
	CreatedAt         time.Time      `json:"created_at"`
}
