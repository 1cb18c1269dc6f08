// Package specialist defines the capability port every specialist responder implements.
package specialist

import (
	"context"

	"github.com/Strob0t/MedOrch/internal/domain/specialist"
)

// Responder answers domain-specific medical queries.
//
// Initialize prepares the backing model and reports success; callers memoize
// the result. Validate is a cheap gate run before Process; a false return is
// a normal rejection, not a fault. Process never panics by contract, and
// reports failures through Response.Error.
type Responder interface {
	Name() string
	Description() string
	RequiresImage() bool
	Initialize(ctx context.Context) bool
	Validate(query string, c specialist.Context) bool
	Process(ctx context.Context, query string, c specialist.Context) specialist.Response
}
