package ingress

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jkeller/secondbrain/internal/entity"
	"github.com/jkeller/secondbrain/internal/journal"
	"github.com/jkeller/secondbrain/internal/queue"
	"github.com/jkeller/secondbrain/internal/store"
	"github.com/jkeller/secondbrain/internal/testutil"
)

type fixture struct {
	journal  *journal.SQLite
	store    *store.SQLite
	queue    *queue.SQLite
	clock    *testutil.DeterministicClock
	receiver *Receiver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	j, err := journal.Open(filepath.Join(dir, "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })

	s, err := store.Open(filepath.Join(dir, "entities.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	clock := testutil.NewDeterministicClock(time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC))
	q, err := queue.Open(filepath.Join(dir, "queue.db"), queue.WithClock(clock), queue.WithPollInterval(time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })

	r := NewReceiver(j, s, q,
		WithIDGenerator(testutil.NewSequenceIDs("msg")),
		WithClock(clock),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	return &fixture{journal: j, store: s, queue: q, clock: clock, receiver: r}
}

func TestReceiveJournalsStoresEnqueues(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.receiver.Receive(ctx, "user-1", "remind me to water plants")
	require.NoError(t, err)
	assert.Equal(t, "msg-1", id)

	// Journaled.
	recs, _, err := f.journal.List(ctx, "user-1", time.Time{}, time.Time{}, "", 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	var env Envelope
	require.NoError(t, json.Unmarshal(recs[0].Payload, &env))
	assert.Equal(t, "msg-1", env.MessageID)
	assert.Equal(t, "remind me to water plants", env.Text)

	// Stored as received, pointing at the journal record.
	now := f.clock.Now()
	rec, err := f.store.Get(ctx, "user-1", entity.MessageSortKey(now, "msg-1"))
	require.NoError(t, err)
	msg, err := entity.MessageFromRecord(rec)
	require.NoError(t, err)
	assert.Equal(t, entity.MessageReceived, msg.Status)
	assert.Equal(t, string(recs[0].Ref), msg.LogRef)
	assert.Equal(t, now.Add(entity.DefaultMessageTTL).Unix(), msg.ExpiresAt)

	// Queued for processing.
	lease, err := f.queue.Dequeue(ctx, queue.KindProcess, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, queue.Item{
		Kind:      queue.KindProcess,
		Namespace: "user-1",
		MessageID: "msg-1",
		SortKey:   entity.MessageSortKey(now, "msg-1"),
	}, lease.Item)
}

func TestReceiveRetryIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ts := f.clock.Now()

	_, err := f.receiver.ReceiveAs(ctx, "user-1", "msg-1", ts, "hello")
	require.NoError(t, err)

	// Simulate the worker having moved the message forward.
	sk := entity.MessageSortKey(ts, "msg-1")
	rec, err := f.store.Get(ctx, "user-1", sk)
	require.NoError(t, err)
	msg, err := entity.MessageFromRecord(rec)
	require.NoError(t, err)
	msg.Status = entity.MessageProcessed
	updated, err := msg.Record()
	require.NoError(t, err)
	require.NoError(t, f.store.PutConditional(ctx, updated, "received"))

	// The retried receive must not reset the status.
	_, err = f.receiver.ReceiveAs(ctx, "user-1", "msg-1", ts, "hello")
	require.NoError(t, err)

	rec, err = f.store.Get(ctx, "user-1", sk)
	require.NoError(t, err)
	assert.Equal(t, "processed", rec.Status)

	// And the journal still holds exactly one record.
	recs, _, err := f.journal.List(ctx, "user-1", time.Time{}, time.Time{}, "", 0)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestReceiveFailsWhenJournalRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ts := f.clock.Now()

	_, err := f.receiver.ReceiveAs(ctx, "user-1", "msg-1", ts, "original")
	require.NoError(t, err)

	// Same ID, different text: the log refuses, and the receive fails
	// before touching the store or the queue again.
	_, err = f.receiver.ReceiveAs(ctx, "user-1", "msg-1", ts, "tampered")
	require.Error(t, err)
	assert.True(t, errors.Is(err, journal.ErrPayloadMismatch))

	rec, err := f.store.Get(ctx, "user-1", entity.MessageSortKey(ts, "msg-1"))
	require.NoError(t, err)
	msg, err := entity.MessageFromRecord(rec)
	require.NoError(t, err)
	assert.Equal(t, "original", msg.RawText)
}

func TestReceiveAssignsDistinctIDs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id1, err := f.receiver.Receive(ctx, "user-1", "first")
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	id2, err := f.receiver.Receive(ctx, "user-1", "second")
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)
}
