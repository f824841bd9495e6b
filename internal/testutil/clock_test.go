package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeterministicClock(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewDeterministicClock(start)

	assert.True(t, clock.Now().Equal(start))
	assert.True(t, clock.Now().Equal(start), "time must not move on its own")

	clock.Advance(time.Minute)
	assert.True(t, clock.Now().Equal(start.Add(time.Minute)))

	clock.Set(start)
	assert.True(t, clock.Now().Equal(start))
}

func TestSequenceIDs(t *testing.T) {
	gen := NewSequenceIDs("task")
	assert.Equal(t, "task-1", gen.Generate())
	assert.Equal(t, "task-2", gen.Generate())

	def := NewSequenceIDs("")
	assert.Equal(t, "id-1", def.Generate())
}
