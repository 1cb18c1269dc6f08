package messagequeue

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Strob0t/MedOrch/internal/domain/event"
	"github.com/Strob0t/MedOrch/internal/domain/memory"
)

// Validate checks that data is JSON and, for the orchestration subjects,
// that it decodes into an audit event with an id. Triage results need a
// session id and a category on the scale. Unknown subjects only need to be
// valid JSON.
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}

	switch subject {
	case SubjectOrchestrationCompleted, SubjectOrchestrationEmergency, SubjectOrchestrationFailed:
	case SubjectTriageAnalyzed:
		return validateTriage(subject, data)
	default:
		return nil
	}

	var ev memory.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("schema validation failed for %s: %w", subject, err)
	}
	if ev.ID == "" {
		return fmt.Errorf("schema validation failed for %s: %w", subject, errors.New("missing id"))
	}
	return nil
}

func validateTriage(subject string, data []byte) error {
	var p event.TriageAnalyzedPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("schema validation failed for %s: %w", subject, err)
	}
	if p.SessionID == "" {
		return fmt.Errorf("schema validation failed for %s: %w", subject, errors.New("missing session_id"))
	}
	if p.Category < 1 || p.Category > 5 {
		return fmt.Errorf("schema validation failed for %s: ats_category %d out of range", subject, p.Category)
	}
	return nil
}
