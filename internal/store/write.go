package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jkeller/secondbrain/internal/entity"
)

// Put inserts or replaces a record.
// Replacement is whole-record; partial updates don't exist, callers
// always write the full serialized body.
func (s *SQLite) Put(ctx context.Context, rec entity.Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entities
		(pk, sk, type, status, gsi1_pk, gsi1_sk, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(pk, sk) DO UPDATE SET
			type = excluded.type,
			status = excluded.status,
			gsi1_pk = excluded.gsi1_pk,
			gsi1_sk = excluded.gsi1_sk,
			body = excluded.body,
			created_at = excluded.created_at
	`,
		rec.PK,
		rec.SK,
		string(rec.Type),
		rec.Status,
		nullable(rec.GSI1PK),
		nullable(rec.GSI1SK),
		string(rec.Body),
		entity.KeyTimestamp(rec.Created),
	)
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", rec.PK, rec.SK, err)
	}

	return nil
}

// PutConditional replaces a record only when the stored status equals
// expectedStatus. The check and the write are a single UPDATE, so two
// workers racing on the same record see exactly one winner; the loser
// gets ErrConflict.
func (s *SQLite) PutConditional(ctx context.Context, rec entity.Record, expectedStatus string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE entities SET
			type = ?,
			status = ?,
			gsi1_pk = ?,
			gsi1_sk = ?,
			body = ?,
			created_at = ?
		WHERE pk = ? AND sk = ? AND status = ?
	`,
		string(rec.Type),
		rec.Status,
		nullable(rec.GSI1PK),
		nullable(rec.GSI1SK),
		string(rec.Body),
		entity.KeyTimestamp(rec.Created),
		rec.PK,
		rec.SK,
		expectedStatus,
	)
	if err != nil {
		return fmt.Errorf("conditional put %s/%s: %w", rec.PK, rec.SK, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("conditional put %s/%s: %w", rec.PK, rec.SK, err)
	}
	if n > 0 {
		return nil
	}

	// Zero rows updated: distinguish a missing record from a lost race.
	var exists int
	err = s.db.QueryRowContext(ctx,
		`SELECT 1 FROM entities WHERE pk = ? AND sk = ?`, rec.PK, rec.SK,
	).Scan(&exists)
	switch {
	case err == nil:
		return fmt.Errorf("conditional put %s/%s (expected status %q): %w",
			rec.PK, rec.SK, expectedStatus, ErrConflict)
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("conditional put %s/%s: %w", rec.PK, rec.SK, ErrNotFound)
	default:
		return fmt.Errorf("conditional put %s/%s: %w", rec.PK, rec.SK, err)
	}
}

// nullable maps an empty string to NULL so unset index keys stay out of
// the partial index.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
