package store

import (
	"context"
	"errors"

	"github.com/jkeller/secondbrain/internal/entity"
)

// Sentinel errors shared by all Store implementations.
var (
	// ErrNotFound is returned when no record exists at the given key.
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned when a conditional put's expected status
	// did not match the stored record. The caller lost the race.
	ErrConflict = errors.New("status conflict")
)

// Store is the entity store contract.
//
// Query and QueryIndex page through results in ascending key order.
// The returned cursor is opaque to callers; passing it back as `after`
// resumes the iteration exactly where the previous page ended, even
// across process restarts. An empty cursor means the iteration is
// complete.
type Store interface {
	// Put writes a record unconditionally, replacing any existing
	// record at the same key.
	Put(ctx context.Context, rec entity.Record) error

	// PutConditional writes a record only if the stored record's
	// status equals expectedStatus. Returns ErrConflict when the
	// status differs and ErrNotFound when no record exists.
	PutConditional(ctx context.Context, rec entity.Record, expectedStatus string) error

	// Get reads one record by key. Returns ErrNotFound if absent.
	Get(ctx context.Context, ns, sk string) (entity.Record, error)

	// Query returns records in ns whose sort key starts with prefix,
	// ascending by sort key.
	Query(ctx context.Context, ns, prefix, after string, limit int) ([]entity.Record, string, error)

	// QueryIndex returns records whose secondary index partition key
	// equals indexKey, ascending by index sort key.
	QueryIndex(ctx context.Context, indexKey, after string, limit int) ([]entity.Record, string, error)

	// Close releases underlying resources.
	Close() error
}
