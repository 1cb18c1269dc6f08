package specialist

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Strob0t/MedOrch/internal/adapter/inference"
	"github.com/Strob0t/MedOrch/internal/domain"
	"github.com/Strob0t/MedOrch/internal/domain/specialist"
)

// Classifier scores an image against a model's label set.
type Classifier interface {
	Classify(ctx context.Context, model string, image []byte, topK int) ([]inference.Label, error)
}

// ImageConfig describes one image-classification specialist.
type ImageConfig struct {
	Name         string
	Description  string
	Model        string
	Template     string
	TopK         int
	DefaultQuery string // used when the caller sends only an image
}

// Image is a specialist that classifies an uploaded image.
type Image struct {
	cfg        ImageConfig
	classifier Classifier
}

// NewImage creates an image specialist.
func NewImage(cfg ImageConfig, classifier Classifier) *Image {
	if cfg.TopK < 1 {
		cfg.TopK = 5
	}
	return &Image{cfg: cfg, classifier: classifier}
}

// Name implements specialist.Responder.
func (s *Image) Name() string { return s.cfg.Name }

// Description implements specialist.Responder.
func (s *Image) Description() string { return s.cfg.Description }

// RequiresImage implements specialist.Responder.
func (s *Image) RequiresImage() bool { return true }

// Initialize checks that an inference endpoint is configured.
func (s *Image) Initialize(_ context.Context) bool {
	if s.classifier == nil || s.cfg.Model == "" {
		slog.Error("image specialist has no classifier", "agent", s.cfg.Name)
		return false
	}
	if c, ok := s.classifier.(interface{ Configured() bool }); ok && !c.Configured() {
		slog.Error("image specialist endpoint not configured", "agent", s.cfg.Name)
		return false
	}
	return true
}

// Validate requires a decodable image in the context.
func (s *Image) Validate(_ string, c specialist.Context) bool {
	_, ok := c.Image()
	return ok
}

type imagePromptData struct {
	Findings   string
	LesionInfo string
	Query      string
}

// Process classifies the image and formats the top findings.
func (s *Image) Process(ctx context.Context, query string, c specialist.Context) specialist.Response {
	start := time.Now()
	resp := specialist.Response{
		AgentName:  s.cfg.Name,
		InputQuery: query,
		Metadata:   map[string]any{"model": s.cfg.Model},
	}
	finish := func() specialist.Response {
		resp.ProcessingTime = time.Since(start).Seconds()
		resp.CreatedAt = time.Now()
		resp.Metadata["processing_time"] = resp.ProcessingTime
		return resp
	}

	img, ok := c.Image()
	if !ok {
		resp.Error = fmt.Sprintf("image required for %s analysis", strings.ToLower(s.cfg.Name))
		return finish()
	}

	labels, err := s.classifier.Classify(ctx, s.cfg.Model, img, s.cfg.TopK)
	if err != nil {
		slog.Warn("image classification failed", "agent", s.cfg.Name, "error", err)
		resp.Error = err.Error()
		return finish()
	}

	lines := make([]string, 0, len(labels))
	top := 0.0
	for _, l := range labels {
		lines = append(lines, fmt.Sprintf("- %s: %.1f%% confidence", l.Label, l.Score*100))
		top = max(top, l.Score)
	}

	q := strings.TrimSpace(query)
	if q == "" {
		q = s.cfg.DefaultQuery
	}
	lesion := stringify(c[specialist.KeyLesionCharacteristics])

	out, err := render(s.cfg.Template, imagePromptData{
		Findings:   strings.Join(lines, "\n"),
		LesionInfo: lesion,
		Query:      q,
	})
	if err != nil {
		resp.Error = err.Error()
		return finish()
	}

	resp.Output = strings.TrimSpace(out)
	resp.Confidence = domain.ClampConfidence(top)
	resp.Metadata["findings"] = labels
	resp.Metadata["image_analyzed"] = true
	if t := c.String(specialist.KeyImageType); t != "" {
		resp.Metadata["image_type"] = t
	}
	if lesion != "" {
		resp.Metadata["lesion_characteristics"] = lesion
	}
	return finish()
}
