// Package idgen generates opaque, time-ordered identifiers for catalog rows,
// substituting for the original implementation's ulid-based IDs with a
// UUIDv7 (also time-ordered, also opaque, also sorts lexically by creation
// order) — the library both the teacher and the rest of the example pack
// already depend on.
package idgen

import "github.com/google/uuid"

// New returns a new time-ordered opaque ID.
func New() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails if the system clock/rand source is broken beyond
		// repair; fall back to a random v4 rather than panic a live deploy.
		return uuid.NewString()
	}
	return id.String()
}
