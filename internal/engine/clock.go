package engine

import (
	"time"

	"github.com/google/uuid"
)

// Clock supplies timestamps and the reaper's notion of now.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// newID returns a unique identifier with a readable prefix, e.g. run-<uuid>.
func newID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}
