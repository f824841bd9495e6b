package testutil

import (
	"fmt"
	"sync"
)

// SequenceIDs generates prefixed sequential IDs: "task-1", "task-2", ...
//
// Unlike pipeline.FixedGenerator, which panics when its preset list
// runs out, SequenceIDs never exhausts. Useful when a test cares about
// determinism but not about the exact number of entities created.
//
// Thread-safety: safe for concurrent use via internal mutex.
type SequenceIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequenceIDs creates a generator with the given prefix.
// An empty prefix defaults to "id".
func NewSequenceIDs(prefix string) *SequenceIDs {
	if prefix == "" {
		prefix = "id"
	}
	return &SequenceIDs{prefix: prefix}
}

// Generate returns the next ID in the sequence.
//
// Implements pipeline.IDGenerator.
func (g *SequenceIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}
