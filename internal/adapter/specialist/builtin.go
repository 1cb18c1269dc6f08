package specialist

import (
	"fmt"

	"github.com/Strob0t/MedOrch/internal/config"
	"github.com/Strob0t/MedOrch/internal/domain"
	"github.com/Strob0t/MedOrch/internal/domain/specialist"
	"github.com/Strob0t/MedOrch/internal/port/llm"
	portspec "github.com/Strob0t/MedOrch/internal/port/specialist"
)

// Reported confidences of the text specialists.
const (
	generalConfidence   = 0.85
	treatmentConfidence = 0.88
	pathologyConfidence = 0.82
)

// Descriptions are shown to the router and in agent listings.
var descriptions = map[string]string{
	specialist.General:     "General medical questions, symptom analysis, health and disease information",
	specialist.Treatment:   "Treatment plans, medication information, drug interactions and dosing",
	specialist.Dermatology: "Skin lesion and rash image analysis (requires image)",
	specialist.Radiology:   "Chest X-ray image interpretation (requires image)",
	specialist.Pathology:   "Histopathology, biopsy and pathology report interpretation",
}

// Builtin constructs the enabled built-in specialists in the configured order.
func Builtin(cfg config.Specialists, completer llm.Completer, classifier Classifier) ([]portspec.Responder, error) {
	out := make([]portspec.Responder, 0, len(cfg.Enabled))
	seen := make(map[string]bool, len(cfg.Enabled))
	for _, name := range cfg.Enabled {
		if seen[name] {
			return nil, fmt.Errorf("specialist %q listed twice: %w", name, domain.ErrValidation)
		}
		seen[name] = true

		r, err := builtin(name, cfg, completer, classifier)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func builtin(name string, cfg config.Specialists, completer llm.Completer, classifier Classifier) (portspec.Responder, error) {
	text := func(model, tmpl string, conf float64) portspec.Responder {
		return NewText(TextConfig{
			Name:        name,
			Description: descriptions[name],
			Model:       model,
			Template:    tmpl,
			Confidence:  conf,
			MaxTokens:   cfg.MaxTokens,
			Temperature: 0.2,
		}, completer)
	}

	switch name {
	case specialist.General:
		return text(cfg.GeneralModel, "general.tmpl", generalConfidence), nil
	case specialist.Treatment:
		return text(cfg.TreatmentModel, "treatment.tmpl", treatmentConfidence), nil
	case specialist.Pathology:
		return text(cfg.PathologyModel, "pathology.tmpl", pathologyConfidence), nil
	case specialist.Dermatology:
		return NewImage(ImageConfig{
			Name:         name,
			Description:  descriptions[name],
			Model:        cfg.DermatologyModel,
			Template:     "dermatology.tmpl",
			TopK:         cfg.TopK,
			DefaultQuery: "Automated analysis of skin lesion.",
		}, classifier), nil
	case specialist.Radiology:
		return NewImage(ImageConfig{
			Name:         name,
			Description:  descriptions[name],
			Model:        cfg.RadiologyModel,
			Template:     "radiology.tmpl",
			TopK:         cfg.TopK,
			DefaultQuery: "Automated chest X-ray analysis.",
		}, classifier), nil
	}
	return nil, fmt.Errorf("unknown specialist %q: %w", name, domain.ErrValidation)
}
