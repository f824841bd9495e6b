package testutil

import (
	"sync"
	"time"
)

// DeterministicClock is a thread-safe manual clock for tests.
//
// Time only moves when the test calls Advance or Set, so lease expiry
// and TTL behavior are testable without sleeping, and repeated runs
// produce identical timestamps.
//
// Thread-safety: all methods are safe for concurrent use via internal
// mutex.
type DeterministicClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewDeterministicClock creates a clock frozen at start.
func NewDeterministicClock(start time.Time) *DeterministicClock {
	return &DeterministicClock{now: start.UTC()}
}

// Now returns the current frozen time.
//
// Implements pipeline.Clock.
func (c *DeterministicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *DeterministicClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set jumps the clock to t.
//
// Used for test reuse; scenarios can rewind to a known instant.
func (c *DeterministicClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t.UTC()
}
