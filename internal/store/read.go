package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jkeller/secondbrain/internal/entity"
)

// DefaultPageSize bounds a query page when the caller passes limit <= 0.
const DefaultPageSize = 100

// indexCursorSep joins (gsi1_sk, sk) into one opaque cursor for index
// pages. Unit separator never appears in key material.
const indexCursorSep = "\x1f"

// Get reads one record by key.
func (s *SQLite) Get(ctx context.Context, ns, sk string) (entity.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT pk, sk, type, status, gsi1_pk, gsi1_sk, body, created_at
		FROM entities
		WHERE pk = ? AND sk = ?
	`, ns, sk)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return entity.Record{}, fmt.Errorf("get %s/%s: %w", ns, sk, ErrNotFound)
	}
	if err != nil {
		return entity.Record{}, fmt.Errorf("get %s/%s: %w", ns, sk, err)
	}
	return rec, nil
}

// Query pages through records in ns whose sort key starts with prefix,
// ascending by sort key (BINARY collation, so order is deterministic
// and matches the key scheme's chronological layout).
func (s *SQLite) Query(ctx context.Context, ns, prefix, after string, limit int) ([]entity.Record, string, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}

	lower := prefix
	if after != "" {
		lower = after
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT pk, sk, type, status, gsi1_pk, gsi1_sk, body, created_at
		FROM entities
		WHERE pk = ? AND sk > ? AND sk < ?
		ORDER BY sk ASC
		LIMIT ?
	`, ns, lower, prefixUpperBound(prefix), limit)
	if err != nil {
		return nil, "", fmt.Errorf("query %s %s: %w", ns, prefix, err)
	}
	defer rows.Close()

	recs, err := collectRecords(rows)
	if err != nil {
		return nil, "", fmt.Errorf("query %s %s: %w", ns, prefix, err)
	}
	if len(recs) < limit {
		return recs, "", nil
	}
	return recs, recs[len(recs)-1].SK, nil
}

// QueryIndex pages through records whose secondary index partition key
// equals indexKey, ascending by (index sort key, sort key).
func (s *SQLite) QueryIndex(ctx context.Context, indexKey, after string, limit int) ([]entity.Record, string, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}

	afterGSISK, afterSK := "", ""
	if after != "" {
		parts := strings.SplitN(after, indexCursorSep, 2)
		if len(parts) != 2 {
			return nil, "", fmt.Errorf("query index %s: invalid cursor", indexKey)
		}
		afterGSISK, afterSK = parts[0], parts[1]
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT pk, sk, type, status, gsi1_pk, gsi1_sk, body, created_at
		FROM entities
		WHERE gsi1_pk = ? AND (gsi1_sk > ? OR (gsi1_sk = ? AND sk > ?))
		ORDER BY gsi1_sk ASC, sk ASC
		LIMIT ?
	`, indexKey, afterGSISK, afterGSISK, afterSK, limit)
	if err != nil {
		return nil, "", fmt.Errorf("query index %s: %w", indexKey, err)
	}
	defer rows.Close()

	recs, err := collectRecords(rows)
	if err != nil {
		return nil, "", fmt.Errorf("query index %s: %w", indexKey, err)
	}
	if len(recs) < limit {
		return recs, "", nil
	}
	last := recs[len(recs)-1]
	return recs, last.GSI1SK + indexCursorSep + last.SK, nil
}

// prefixUpperBound returns the smallest string greater than every
// string with the given prefix. Keys are ASCII, so bumping the final
// byte is exact.
func prefixUpperBound(prefix string) string {
	if prefix == "" {
		return "\xff"
	}
	b := []byte(prefix)
	b[len(b)-1]++
	return string(b)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (entity.Record, error) {
	var (
		rec             entity.Record
		typ             string
		gsiPK, gsiSK    sql.NullString
		body, createdAt string
	)
	if err := row.Scan(&rec.PK, &rec.SK, &typ, &rec.Status, &gsiPK, &gsiSK, &body, &createdAt); err != nil {
		return entity.Record{}, err
	}
	rec.Type = entity.ItemType(typ)
	rec.GSI1PK = gsiPK.String
	rec.GSI1SK = gsiSK.String
	rec.Body = json.RawMessage(body)

	created, err := entity.ParseKeyTimestamp(createdAt)
	if err != nil {
		return entity.Record{}, fmt.Errorf("parse created_at: %w", err)
	}
	rec.Created = created
	return rec, nil
}

func collectRecords(rows *sql.Rows) ([]entity.Record, error) {
	var recs []entity.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
