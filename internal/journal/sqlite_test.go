package journal

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestJournal(t *testing.T) *SQLite {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestAppendGetRoundTrip(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	ts := time.Date(2026, 3, 5, 14, 0, 0, 0, time.UTC)

	ref, err := j.Append(ctx, "user-1", "msg-1", ts, []byte(`{"text":"hello"}`))
	require.NoError(t, err)
	require.NotEmpty(t, ref)

	rec, err := j.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "user-1", rec.Namespace)
	assert.Equal(t, "msg-1", rec.MessageID)
	assert.True(t, rec.Timestamp.Equal(ts))
	assert.Equal(t, `{"text":"hello"}`, string(rec.Payload))
}

func TestAppendIdempotent(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	ts := time.Date(2026, 3, 5, 14, 0, 0, 0, time.UTC)
	payload := []byte(`{"text":"hello"}`)

	ref1, err := j.Append(ctx, "user-1", "msg-1", ts, payload)
	require.NoError(t, err)

	// Retrying the identical append is a no-op returning the same ref.
	ref2, err := j.Append(ctx, "user-1", "msg-1", ts, payload)
	require.NoError(t, err)
	assert.Equal(t, ref1, ref2)
}

func TestAppendPayloadMismatch(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	ts := time.Date(2026, 3, 5, 14, 0, 0, 0, time.UTC)

	_, err := j.Append(ctx, "user-1", "msg-1", ts, []byte(`{"text":"hello"}`))
	require.NoError(t, err)

	_, err = j.Append(ctx, "user-1", "msg-1", ts, []byte(`{"text":"tampered"}`))
	assert.ErrorIs(t, err, ErrPayloadMismatch)

	// The original payload survives.
	rec, err := j.Get(ctx, Ref("user-1/"+keyTS(ts)+"/msg-1"))
	require.NoError(t, err)
	assert.Equal(t, `{"text":"hello"}`, string(rec.Payload))
}

func TestGetMissing(t *testing.T) {
	j := openTestJournal(t)
	ts := time.Date(2026, 3, 5, 14, 0, 0, 0, time.UTC)

	_, err := j.Get(context.Background(), Ref("user-1/"+keyTS(ts)+"/nope"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListAscendingWithBounds(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 5, 14, 0, 0, 0, time.UTC)

	// Append out of order; List must come back ascending.
	for _, i := range []int{3, 0, 4, 1, 2} {
		ts := base.Add(time.Duration(i) * time.Hour)
		_, err := j.Append(ctx, "user-1", fmt.Sprintf("msg-%d", i), ts, []byte(fmt.Sprintf(`{"n":%d}`, i)))
		require.NoError(t, err)
	}
	_, err := j.Append(ctx, "user-2", "other", base, []byte(`{}`))
	require.NoError(t, err)

	recs, cursor, err := j.List(ctx, "user-1", time.Time{}, time.Time{}, "", 0)
	require.NoError(t, err)
	assert.Empty(t, cursor)
	require.Len(t, recs, 5)
	for i, rec := range recs {
		assert.Equal(t, fmt.Sprintf("msg-%d", i), rec.MessageID)
	}

	// Inclusive bounds.
	recs, _, err = j.List(ctx, "user-1", base.Add(time.Hour), base.Add(3*time.Hour), "", 0)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "msg-1", recs[0].MessageID)
	assert.Equal(t, "msg-3", recs[2].MessageID)
}

func TestListPaginationRestartable(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 5, 14, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		_, err := j.Append(ctx, "user-1", fmt.Sprintf("msg-%d", i),
			base.Add(time.Duration(i)*time.Minute), []byte(`{}`))
		require.NoError(t, err)
	}

	var all []Record
	var cursor Ref
	for {
		recs, next, err := j.List(ctx, "user-1", time.Time{}, time.Time{}, cursor, 2)
		require.NoError(t, err)
		all = append(all, recs...)
		if next == "" {
			break
		}
		cursor = next
	}

	require.Len(t, all, 5)
	for i, rec := range all {
		assert.Equal(t, fmt.Sprintf("msg-%d", i), rec.MessageID)
	}
}

func keyTS(ts time.Time) string {
	return ts.UTC().Format("2006-01-02T15:04:05.000000000Z")
}
