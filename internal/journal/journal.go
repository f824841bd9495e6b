// Package journal is the append-only durable log of raw inbound
// messages. Every message is journaled before anything else happens to
// it; the journal is the canonical input for replay.
//
// Records are write-once. Re-appending a record that already exists
// with an identical payload is a no-op (retries are safe); re-appending
// with a different payload is corruption and fails loudly.
package journal

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors shared by all Journal implementations.
var (
	// ErrNotFound is returned when no record exists at the given ref.
	ErrNotFound = errors.New("journal record not found")

	// ErrPayloadMismatch is returned when an append collides with an
	// existing record whose payload differs. The log never overwrites.
	ErrPayloadMismatch = errors.New("journal payload mismatch")
)

// Ref identifies a journal record. Refs are opaque to callers and only
// meaningful to the implementation that produced them.
type Ref string

// Record is one journaled message.
type Record struct {
	Ref       Ref
	Namespace string
	MessageID string
	Timestamp time.Time
	Payload   []byte
}

// Journal is the durable log contract.
//
// List pages ascending by record timestamp. The returned cursor is the
// ref of the last record; passing it back as `after` resumes the
// iteration, even across process restarts. An empty cursor means the
// iteration is complete.
type Journal interface {
	// Append journals a message. Write-once per (ns, messageID); see
	// the package comment for collision semantics.
	Append(ctx context.Context, ns, messageID string, ts time.Time, payload []byte) (Ref, error)

	// Get reads one record by ref.
	Get(ctx context.Context, ref Ref) (Record, error)

	// List returns records in ns with from <= timestamp <= to,
	// ascending. Zero bounds are open.
	List(ctx context.Context, ns string, from, to time.Time, after Ref, limit int) ([]Record, Ref, error)

	// Close releases underlying resources.
	Close() error
}
