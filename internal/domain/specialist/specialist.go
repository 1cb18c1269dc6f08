// Package specialist defines the domain model shared by all specialist responders.
package specialist

import (
	"encoding/base64"
	"maps"
	"strings"
	"time"
)

// Built-in specialist names.
const (
	General     = "General"
	Treatment   = "Treatment"
	Dermatology = "Dermatology"
	Radiology   = "Radiology"
	Pathology   = "Pathology"
)

// Well-known context keys.
const (
	KeyImage                 = "image"
	KeyImageType             = "image_type"
	KeyPatientData           = "patient_data"
	KeyLesionCharacteristics = "lesion_characteristics"
	KeyClinicalHistory       = "clinical_history"

	// KeyPipeline lists, in order, the specialists that already ran in a
	// sequential pipeline.
	KeyPipeline = "pipeline_agents"
)

// OutputKey is the context key carrying a prior specialist's output.
func OutputKey(agent string) string { return agent + "_output" }

// ConfidenceKey is the context key carrying a prior specialist's confidence.
func ConfidenceKey(agent string) string { return agent + "_confidence" }

// Context is the open key/value bag passed alongside a query.
type Context map[string]any

// Clone returns a shallow copy. A nil receiver yields an empty, writable map.
func (c Context) Clone() Context {
	out := make(Context, len(c)+4)
	maps.Copy(out, c)
	return out
}

// Image returns the raw image payload. Strings are treated as base64.
func (c Context) Image() ([]byte, bool) {
	switch v := c[KeyImage].(type) {
	case []byte:
		return v, len(v) > 0
	case string:
		if v == "" {
			return nil, false
		}
		if i := strings.Index(v, ";base64,"); i >= 0 {
			v = v[i+len(";base64,"):]
		}
		data, err := base64.StdEncoding.DecodeString(v)
		if err != nil || len(data) == 0 {
			return nil, false
		}
		return data, true
	}
	return nil, false
}

// HasImage reports whether the context carries a non-empty image.
func (c Context) HasImage() bool {
	switch v := c[KeyImage].(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(v) != ""
	case []byte:
		return len(v) > 0
	default:
		return true
	}
}

// String returns the value at key if it is a string.
func (c Context) String(key string) string {
	s, _ := c[key].(string)
	return s
}

// Pipeline returns the agents recorded under KeyPipeline.
func (c Context) Pipeline() []string {
	switch v := c[KeyPipeline].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, a := range v {
			if s, ok := a.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// HasPatientData reports whether free-form patient data was supplied.
func (c Context) HasPatientData() bool {
	v, ok := c[KeyPatientData]
	return ok && v != nil
}

// Response is the outcome of one specialist invocation.
type Response struct {
	AgentName      string         `json:"agent_name"`
	InputQuery     string         `json:"input_query"`
	Output         string         `json:"output"`
	Confidence     float64        `json:"confidence"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Error          string         `json:"error,omitempty"`
	ProcessingTime float64        `json:"processing_time"` // seconds
	CreatedAt      time.Time      `json:"created_at"`
}

// Failed reports whether the specialist returned an error.
func (r *Response) Failed() bool {
	return r.Error != ""
}

// Info describes a registered specialist for listings and status endpoints.
type Info struct {
	Name          string `json:"name"`
	Description   string `json:"description"`
	RequiresImage bool   `json:"requires_image"`
	Initialized   bool   `json:"initialized"`
}
