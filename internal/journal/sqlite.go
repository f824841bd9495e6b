package journal

import (
	"bytes"
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/jkeller/secondbrain/internal/entity"
)

//go:embed schema.sql
var schemaSQL string

// SQLite is the default Journal implementation.
//
// Refs have the form {ns}/{timestamp}/{message_id}. Namespaces must not
// contain '/'.
type SQLite struct {
	db *sql.DB
}

var _ Journal = (*SQLite)(nil)

// Open creates or opens a SQLite journal at the given path. Applies the
// same pragmas as the entity store (WAL, NORMAL sync, busy timeout) and
// an idempotent schema.
func Open(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the database connection.
func (j *SQLite) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Append journals a message. ON CONFLICT DO NOTHING makes retries
// no-ops; a zero-row insert triggers the payload comparison that
// distinguishes a retry from corruption.
func (j *SQLite) Append(ctx context.Context, ns, messageID string, ts time.Time, payload []byte) (Ref, error) {
	sk := entity.KeyTimestamp(ts) + "#" + messageID
	ref := Ref(ns + "/" + entity.KeyTimestamp(ts) + "/" + messageID)

	res, err := j.db.ExecContext(ctx, `
		INSERT INTO journal_records (pk, sk, message_id, payload, appended_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(pk, sk) DO NOTHING
	`, ns, sk, messageID, payload, entity.KeyTimestamp(ts))
	if err != nil {
		return "", fmt.Errorf("append %s: %w", ref, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("append %s: %w", ref, err)
	}
	if n > 0 {
		return ref, nil
	}

	var existing []byte
	err = j.db.QueryRowContext(ctx,
		`SELECT payload FROM journal_records WHERE pk = ? AND sk = ?`, ns, sk,
	).Scan(&existing)
	if err != nil {
		return "", fmt.Errorf("append %s: verify existing: %w", ref, err)
	}
	if !bytes.Equal(existing, payload) {
		return "", fmt.Errorf("append %s: %w", ref, ErrPayloadMismatch)
	}
	return ref, nil
}

// Get reads one record by ref.
func (j *SQLite) Get(ctx context.Context, ref Ref) (Record, error) {
	ns, sk, err := parseRef(ref)
	if err != nil {
		return Record{}, err
	}

	var (
		messageID string
		payload   []byte
	)
	err = j.db.QueryRowContext(ctx,
		`SELECT message_id, payload FROM journal_records WHERE pk = ? AND sk = ?`, ns, sk,
	).Scan(&messageID, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("get %s: %w", ref, ErrNotFound)
	}
	if err != nil {
		return Record{}, fmt.Errorf("get %s: %w", ref, err)
	}

	ts, err := entity.ParseKeyTimestamp(strings.SplitN(sk, "#", 2)[0])
	if err != nil {
		return Record{}, fmt.Errorf("get %s: %w", ref, err)
	}
	return Record{Ref: ref, Namespace: ns, MessageID: messageID, Timestamp: ts, Payload: payload}, nil
}

// List pages ascending through ns records with from <= ts <= to.
func (j *SQLite) List(ctx context.Context, ns string, from, to time.Time, after Ref, limit int) ([]Record, Ref, error) {
	if limit <= 0 {
		limit = 100
	}

	lower := ""
	if !from.IsZero() {
		lower = entity.KeyTimestamp(from)
	}
	if after != "" {
		_, afterSK, err := parseRef(after)
		if err != nil {
			return nil, "", err
		}
		lower = afterSK + "\x00"
	}
	upper := "\xff"
	if !to.IsZero() {
		// The timestamp prefix is followed by '#'; appending a higher
		// byte keeps records at exactly `to` inside the range.
		upper = entity.KeyTimestamp(to) + "\xff"
	}

	rows, err := j.db.QueryContext(ctx, `
		SELECT sk, message_id, payload FROM journal_records
		WHERE pk = ? AND sk >= ? AND sk < ?
		ORDER BY sk ASC
		LIMIT ?
	`, ns, lower, upper, limit)
	if err != nil {
		return nil, "", fmt.Errorf("list %s: %w", ns, err)
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		var (
			sk, messageID string
			payload       []byte
		)
		if err := rows.Scan(&sk, &messageID, &payload); err != nil {
			return nil, "", fmt.Errorf("list %s: %w", ns, err)
		}
		tsStr := strings.SplitN(sk, "#", 2)[0]
		ts, err := entity.ParseKeyTimestamp(tsStr)
		if err != nil {
			return nil, "", fmt.Errorf("list %s: %w", ns, err)
		}
		recs = append(recs, Record{
			Ref:       Ref(ns + "/" + tsStr + "/" + messageID),
			Namespace: ns,
			MessageID: messageID,
			Timestamp: ts,
			Payload:   payload,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("list %s: %w", ns, err)
	}

	if len(recs) < limit {
		return recs, "", nil
	}
	return recs, recs[len(recs)-1].Ref, nil
}

// parseRef splits {ns}/{timestamp}/{message_id} back into the table
// key.
func parseRef(ref Ref) (ns, sk string, err error) {
	parts := strings.Split(string(ref), "/")
	if len(parts) != 3 {
		return "", "", fmt.Errorf("invalid journal ref %q", ref)
	}
	return parts[0], parts[1] + "#" + parts[2], nil
}
