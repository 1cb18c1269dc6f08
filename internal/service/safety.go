package service

import (
	"bufio"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/Strob0t/MedOrch/internal/domain/routing"
)

// DefaultEmergencyPhrases is the built-in red-flag list, in report order.
var DefaultEmergencyPhrases = []string{
	"chest pain",
	"can't breathe",
	"difficulty breathing",
	"unconscious",
	"seizure",
	"stroke",
	"severe bleeding",
	"choking",
	"heart attack",
	"anaphylaxis",
	"can't move",
	"severe headache",
	"crushing chest",
	"shortness of breath",
}

// SafetyCheck is the outcome of screening one query.
type SafetyCheck struct {
	IsEmergency bool            `json:"is_emergency"`
	Flags       []string        `json:"flags"`
	Urgency     routing.Urgency `json:"urgency"`
}

// SafetyScreener flags queries containing emergency phrases. Check is pure
// with respect to the phrase list in effect; SetPhrases swaps the list
// atomically so in-flight checks see either the old or the new list.
type SafetyScreener struct {
	phrases atomic.Pointer[[]string]
}

// NewSafetyScreener creates a screener over phrases. A nil or empty list
// selects DefaultEmergencyPhrases.
func NewSafetyScreener(phrases []string) *SafetyScreener {
	s := &SafetyScreener{}
	s.SetPhrases(phrases)
	return s
}

// SetPhrases replaces the phrase list. Phrases are lowercased and trimmed;
// blanks and duplicates are dropped.
func (s *SafetyScreener) SetPhrases(phrases []string) {
	if len(phrases) == 0 {
		phrases = DefaultEmergencyPhrases
	}
	norm := make([]string, 0, len(phrases))
	for _, p := range phrases {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" || slices.Contains(norm, p) {
			continue
		}
		norm = append(norm, p)
	}
	s.phrases.Store(&norm)
}

// Phrases returns a copy of the active phrase list.
func (s *SafetyScreener) Phrases() []string {
	return slices.Clone(*s.phrases.Load())
}

// Check screens query with a case-insensitive substring match. Flags are
// reported in phrase-list order.
func (s *SafetyScreener) Check(query string) SafetyCheck {
	q := strings.ToLower(query)
	var flags []string
	for _, p := range *s.phrases.Load() {
		if strings.Contains(q, p) {
			flags = append(flags, p)
		}
	}
	if len(flags) == 0 {
		return SafetyCheck{Flags: []string{}, Urgency: routing.UrgencyRoutine}
	}
	return SafetyCheck{IsEmergency: true, Flags: flags, Urgency: routing.UrgencyEmergency}
}

// LoadPhrasesFile reads one phrase per line. Blank lines and lines starting
// with '#' are skipped.
func LoadPhrasesFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open phrases file: %w", err)
	}
	defer f.Close()

	var phrases []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		phrases = append(phrases, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read phrases file: %w", err)
	}
	return phrases, nil
}
