package queue

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jkeller/secondbrain/internal/testutil"
)

func openTestQueue(t *testing.T, opts ...Option) (*SQLite, *testutil.DeterministicClock) {
	t.Helper()
	clock := testutil.NewDeterministicClock(time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC))
	opts = append([]Option{WithClock(clock), WithPollInterval(time.Millisecond)}, opts...)
	q, err := Open(filepath.Join(t.TempDir(), "queue.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q, clock
}

func TestEnqueueDequeueAck(t *testing.T) {
	q, _ := openTestQueue(t)
	ctx := context.Background()

	item := Item{Kind: KindProcess, Namespace: "user-1", MessageID: "msg-1"}
	require.NoError(t, q.Enqueue(ctx, item))

	lease, err := q.Dequeue(ctx, KindProcess, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, item, lease.Item)
	assert.Equal(t, 1, lease.ReceiveCount)

	require.NoError(t, q.Ack(ctx, lease))

	// Queue is empty; Dequeue must block until ctx is done.
	shortCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = q.Dequeue(shortCtx, KindProcess, time.Minute)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEnqueueDeduplicatesInFlight(t *testing.T) {
	q, _ := openTestQueue(t)
	ctx := context.Background()

	item := Item{Kind: KindProcess, Namespace: "user-1", MessageID: "msg-1"}
	require.NoError(t, q.Enqueue(ctx, item))
	require.NoError(t, q.Enqueue(ctx, item))

	// Same message under a different kind is distinct work.
	require.NoError(t, q.Enqueue(ctx, Item{Kind: KindRespond, Namespace: "user-1", MessageID: "msg-1"}))

	lease, err := q.Dequeue(ctx, KindProcess, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, item, lease.Item)

	// The duplicate enqueue was dropped: no second process item.
	shortCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = q.Dequeue(shortCtx, KindProcess, time.Minute)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	respond, err := q.Dequeue(ctx, KindRespond, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, KindRespond, respond.Item.Kind)
}

func TestLeaseExpiryRedelivers(t *testing.T) {
	q, clock := openTestQueue(t)
	ctx := context.Background()

	item := Item{Kind: KindProcess, Namespace: "user-1", MessageID: "msg-1"}
	require.NoError(t, q.Enqueue(ctx, item))

	lease, err := q.Dequeue(ctx, KindProcess, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, lease.ReceiveCount)

	// Consumer dies; the lease lapses and the item comes back.
	clock.Advance(2 * time.Minute)
	redelivered, err := q.Dequeue(ctx, KindProcess, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, item, redelivered.Item)
	assert.Equal(t, 2, redelivered.ReceiveCount)
}

func TestStaleAckIsNoOp(t *testing.T) {
	q, clock := openTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, Item{Kind: KindProcess, Namespace: "user-1", MessageID: "msg-1"}))

	stale, err := q.Dequeue(ctx, KindProcess, time.Minute)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	fresh, err := q.Dequeue(ctx, KindProcess, time.Minute)
	require.NoError(t, err)

	// The expired lease's ack must not delete the redelivered item.
	require.NoError(t, q.Ack(ctx, stale))
	require.NoError(t, q.Ack(ctx, fresh))

	clock.Advance(2 * time.Minute)
	shortCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = q.Dequeue(shortCtx, KindProcess, time.Minute)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDeadLetterAfterBudget(t *testing.T) {
	q, clock := openTestQueue(t, WithMaxReceiveCount(2))
	ctx := context.Background()

	item := Item{Kind: KindProcess, Namespace: "user-1", MessageID: "msg-1"}
	require.NoError(t, q.Enqueue(ctx, item))

	// Two deliveries, never acked.
	for i := 0; i < 2; i++ {
		lease, err := q.Dequeue(ctx, KindProcess, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, i+1, lease.ReceiveCount)
		clock.Advance(2 * time.Minute)
	}

	// Third claim dead-letters instead of delivering.
	shortCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err := q.Dequeue(shortCtx, KindProcess, time.Minute)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	dead, err := q.DeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, item, dead[0].Item)
	assert.Equal(t, 3, dead[0].ReceiveCount)
}

func TestDequeueOrdersByEnqueue(t *testing.T) {
	q, _ := openTestQueue(t)
	ctx := context.Background()

	for _, id := range []string{"msg-1", "msg-2", "msg-3"} {
		require.NoError(t, q.Enqueue(ctx, Item{Kind: KindProcess, Namespace: "user-1", MessageID: id}))
	}

	for _, want := range []string{"msg-1", "msg-2", "msg-3"} {
		lease, err := q.Dequeue(ctx, KindProcess, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, lease.Item.MessageID)
		require.NoError(t, q.Ack(ctx, lease))
	}
}
