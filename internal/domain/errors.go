// Package domain provides shared domain-level sentinel errors.
package domain

import (
	"errors"
	"math"
)

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrValidation indicates the caller supplied invalid input.
var ErrValidation = errors.New("validation failed")

// ErrUnavailable indicates a backend (model, inference endpoint, broker) could not be reached.
var ErrUnavailable = errors.New("backend unavailable")

// ClampConfidence bounds a confidence score to [0, 1]. NaN maps to 0.
func ClampConfidence(c float64) float64 {
	switch {
	case math.IsNaN(c), c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}
