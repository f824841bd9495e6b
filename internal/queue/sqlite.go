package queue

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/jkeller/secondbrain/internal/entity"
	"github.com/jkeller/secondbrain/internal/pipeline"
)

//go:embed schema.sql
var schemaSQL string

// SQLite is the default Queue implementation: a lease queue on one
// table, claimed with a single-statement UPDATE so concurrent
// consumers never double-claim.
type SQLite struct {
	db           *sql.DB
	clock        pipeline.Clock
	maxReceive   int
	pollInterval time.Duration
}

var _ Queue = (*SQLite)(nil)

// Option configures the SQLite queue.
type Option func(*SQLite)

// WithClock replaces the wall clock. Tests use this to expire leases
// without sleeping.
func WithClock(c pipeline.Clock) Option {
	return func(q *SQLite) { q.clock = c }
}

// WithMaxReceiveCount overrides the delivery budget.
func WithMaxReceiveCount(n int) Option {
	return func(q *SQLite) { q.maxReceive = n }
}

// WithPollInterval overrides how often a blocked Dequeue re-checks.
func WithPollInterval(d time.Duration) Option {
	return func(q *SQLite) { q.pollInterval = d }
}

// Open creates or opens a SQLite work queue at the given path.
func Open(path string, opts ...Option) (*SQLite, error) {
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

	q := &SQLite{
		db:           db,
		clock:        pipeline.SystemClock{},
		maxReceive:   DefaultMaxReceiveCount,
		pollInterval: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q, nil
}

// Close closes the database connection.
func (q *SQLite) Close() error {
	if q.db == nil {
		return nil
	}
	return q.db.Close()
}

// Enqueue adds an item, ignoring duplicates already in flight.
func (q *SQLite) Enqueue(ctx context.Context, item Item) error {
	now := q.clock.Now()
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO work_items (kind, namespace, message_id, sort_key, enqueued_at, visible_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(kind, namespace, message_id) DO NOTHING
	`, item.Kind, item.Namespace, item.MessageID, item.SortKey, entity.KeyTimestamp(now), now.UnixNano())
	if err != nil {
		return fmt.Errorf("enqueue %s %s/%s: %w", item.Kind, item.Namespace, item.MessageID, err)
	}
	return nil
}

// Dequeue blocks until an item of the given kind is claimed or ctx is
// done.
func (q *SQLite) Dequeue(ctx context.Context, kind string, visibility time.Duration) (Lease, error) {
	if visibility <= 0 {
		visibility = DefaultVisibility
	}

	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	for {
		lease, ok, err := q.claim(ctx, kind, visibility)
		if err != nil {
			return Lease{}, err
		}
		if ok {
			return lease, nil
		}

		select {
		case <-ctx.Done():
			return Lease{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// claim attempts one claim. The UPDATE picks the earliest visible row
// and extends its lease atomically; rows that exceed the delivery
// budget are dead-lettered and the claim retries immediately.
func (q *SQLite) claim(ctx context.Context, kind string, visibility time.Duration) (Lease, bool, error) {
	now := q.clock.Now()

	row := q.db.QueryRowContext(ctx, `
		UPDATE work_items SET
			visible_at = ?,
			receive_count = receive_count + 1
		WHERE id = (
			SELECT id FROM work_items
			WHERE dead = 0 AND kind = ? AND visible_at <= ?
			ORDER BY id ASC
			LIMIT 1
		)
		RETURNING id, kind, namespace, message_id, sort_key, receive_count
	`, now.Add(visibility).UnixNano(), kind, now.UnixNano())

	var (
		id           int64
		item         Item
		receiveCount int
	)
	err := row.Scan(&id, &item.Kind, &item.Namespace, &item.MessageID, &item.SortKey, &receiveCount)
	if errors.Is(err, sql.ErrNoRows) {
		return Lease{}, false, nil
	}
	if err != nil {
		return Lease{}, false, fmt.Errorf("claim: %w", err)
	}

	if receiveCount > q.maxReceive {
		if _, err := q.db.ExecContext(ctx,
			`UPDATE work_items SET dead = 1 WHERE id = ?`, id); err != nil {
			return Lease{}, false, fmt.Errorf("dead-letter item %d: %w", id, err)
		}
		return q.claim(ctx, kind, visibility)
	}

	return Lease{
		Item:         item,
		ReceiveCount: receiveCount,
		handle:       strconv.FormatInt(id, 10) + ":" + strconv.Itoa(receiveCount),
	}, true, nil
}

// Ack deletes the leased row. The receive count in the handle fences
// stale acks: a redelivered item has a higher count, so the DELETE
// matches nothing.
func (q *SQLite) Ack(ctx context.Context, lease Lease) error {
	id, count, err := parseHandle(lease.handle)
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx,
		`DELETE FROM work_items WHERE id = ? AND receive_count = ? AND dead = 0`, id, count)
	if err != nil {
		return fmt.Errorf("ack item %d: %w", id, err)
	}
	return nil
}

// DeadLetters lists dead items, oldest first.
func (q *SQLite) DeadLetters(ctx context.Context) ([]DeadLetter, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT kind, namespace, message_id, sort_key, enqueued_at, receive_count
		FROM work_items
		WHERE dead = 1
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("dead letters: %w", err)
	}
	defer rows.Close()

	var dead []DeadLetter
	for rows.Next() {
		var (
			dl         DeadLetter
			enqueuedAt string
		)
		if err := rows.Scan(&dl.Item.Kind, &dl.Item.Namespace, &dl.Item.MessageID, &dl.Item.SortKey, &enqueuedAt, &dl.ReceiveCount); err != nil {
			return nil, fmt.Errorf("dead letters: %w", err)
		}
		ts, err := entity.ParseKeyTimestamp(enqueuedAt)
		if err != nil {
			return nil, fmt.Errorf("dead letters: %w", err)
		}
		dl.EnqueuedAt = ts
		dead = append(dead, dl)
	}
	return dead, rows.Err()
}

func parseHandle(handle string) (id int64, count int, err error) {
	idPart, countPart, ok := strings.Cut(handle, ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid lease handle %q", handle)
	}
	id, err = strconv.ParseInt(idPart, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid lease handle: %w", err)
	}
	count, err = strconv.Atoi(countPart)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid lease handle: %w", err)
	}
	return id, count, nil
}
