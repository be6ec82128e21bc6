package core

import "github.com/google/uuid"

// newID returns a time-ordered, opaque 128-bit identifier for a new aggregate.
// UUIDv7 embeds a millisecond timestamp in its high bits, so natural ordering
// of generated IDs approximates creation order without exposing a sequence.
func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails if the system clock/random source is unavailable;
		// fall back to a random v4 rather than panicking a request handler.
		return uuid.NewString()
	}
	return id.String()
}
