package pipeline

import "time"

// Clock abstracts wall-clock reads so tests and replay can run against
// a fixed time source.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the real wall clock in UTC.
type SystemClock struct{}

// Now returns the current time in UTC.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
