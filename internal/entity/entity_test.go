package entity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageRecordRoundTrip(t *testing.T) {
	ts := time.Date(2026, 2, 10, 8, 15, 0, 0, time.UTC)
	m := Message{
		Namespace: "user-1",
		ID:        "msg-1",
		Timestamp: ts,
		RawText:   "remind me to call mom tomorrow",
		Status:    MessageReceived,
		LogRef:    "journal/msg-1",
		CreatedAt: ts,
		ExpiresAt: ts.Add(DefaultMessageTTL).Unix(),
	}

	rec, err := m.Record()
	require.NoError(t, err)
	assert.Equal(t, "user-1", rec.PK)
	assert.Equal(t, MessageSortKey(ts, "msg-1"), rec.SK)
	assert.Equal(t, ItemTypeMessage, rec.Type)
	assert.Equal(t, "received", rec.Status)
	assert.Equal(t, StatusIndexKey("received"), rec.GSI1PK)

	got, err := MessageFromRecord(rec)
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestTaskRecordIndexKeys(t *testing.T) {
	ts := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	task := Task{
		Namespace: "user-1",
		ID:        "task-1",
		Title:     "file taxes",
		Status:    TaskPending,
		Priority:  PriorityHigh,
		Category:  "Finance",
		CreatedAt: ts,
	}

	rec, err := task.Record()
	require.NoError(t, err)
	assert.Equal(t, TaskSortKey("task-1"), rec.SK)
	assert.Equal(t, CategoryIndexKey("finance"), rec.GSI1PK)
	assert.Equal(t, KeyTimestamp(ts), rec.GSI1SK)

	got, err := TaskFromRecord(rec)
	require.NoError(t, err)
	assert.Equal(t, task, got)
}

func TestTodoRecordHasNoIndexKeys(t *testing.T) {
	td := Todo{
		Namespace: "user-1",
		ID:        "todo-1",
		Text:      "buy milk",
		Order:     1,
		CreatedAt: time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC),
	}

	rec, err := td.Record()
	require.NoError(t, err)
	assert.Empty(t, rec.GSI1PK)
	assert.Empty(t, rec.GSI1SK)
	assert.Equal(t, "open", rec.Status)

	td.Completed = true
	rec, err = td.Record()
	require.NoError(t, err)
	assert.Equal(t, "done", rec.Status)
}

func TestReminderRecordIndexedByScheduledTime(t *testing.T) {
	due := time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC)
	r := Reminder{
		Namespace:    "user-1",
		ID:           "rem-1",
		Title:        "call mom",
		ScheduledFor: due,
		Status:       ReminderPending,
		Recurrence:   RecurrenceOnce,
		CreatedAt:    due.Add(-24 * time.Hour),
	}

	rec, err := r.Record()
	require.NoError(t, err)
	assert.Equal(t, StatusIndexKey("pending"), rec.GSI1PK)
	assert.Equal(t, KeyTimestamp(due), rec.GSI1SK)

	got, err := ReminderFromRecord(rec)
	require.NoError(t, err)
	assert.Equal(t, r, got)
}

func TestFromRecordRejectsWrongType(t *testing.T) {
	td := Todo{Namespace: "u", ID: "x", Text: "y", CreatedAt: time.Now()}
	rec, err := td.Record()
	require.NoError(t, err)

	_, err = MessageFromRecord(rec)
	assert.Error(t, err)
	_, err = TaskFromRecord(rec)
	assert.Error(t, err)
}
