package entity

import (
	"fmt"
	"strings"
	"time"
)

// keyTimeLayout is a fixed-width RFC 3339 variant. RFC3339Nano trims
// trailing zeros, which breaks lexicographic ordering of sort keys;
// this layout pads to nanosecond precision so string order equals
// chronological order.
const keyTimeLayout = "2006-01-02T15:04:05.000000000Z"

// KeyTimestamp formats a time for use inside a sort or index key.
func KeyTimestamp(t time.Time) string {
	return t.UTC().Format(keyTimeLayout)
}

// ParseKeyTimestamp parses a timestamp produced by KeyTimestamp.
func ParseKeyTimestamp(s string) (time.Time, error) {
	return time.Parse(keyTimeLayout, s)
}

// Sort-key prefixes. A prefix plus "#" bounds a per-type range query.
const (
	PrefixMessage  = "message#"
	PrefixTask     = "task#"
	PrefixTodo     = "todo#"
	PrefixReminder = "reminder#"
)

// MessageSortKey builds message#{timestamp}#{message_id}. The embedded
// timestamp makes per-namespace message ranges time-ordered.
func MessageSortKey(ts time.Time, messageID string) string {
	return PrefixMessage + KeyTimestamp(ts) + "#" + messageID
}

// TaskSortKey builds task#{task_id}.
func TaskSortKey(taskID string) string { return PrefixTask + taskID }

// TodoSortKey builds todo#{todo_id}.
func TodoSortKey(todoID string) string { return PrefixTodo + todoID }

// ReminderSortKey builds reminder#{reminder_id}.
func ReminderSortKey(reminderID string) string { return PrefixReminder + reminderID }

// SortKeyPrefix returns the range-query prefix for an item type.
func SortKeyPrefix(t ItemType) string {
	return string(t) + "#"
}

// ParseMessageSortKey splits message#{timestamp}#{message_id} back into
// its parts.
func ParseMessageSortKey(sk string) (ts time.Time, messageID string, err error) {
	parts := strings.Split(sk, "#")
	if len(parts) != 3 || parts[0]+"#" != PrefixMessage {
		return time.Time{}, "", fmt.Errorf("invalid message sort key: %q", sk)
	}
	ts, err = ParseKeyTimestamp(parts[1])
	if err != nil {
		return time.Time{}, "", fmt.Errorf("invalid timestamp in sort key %q: %w", sk, err)
	}
	return ts, parts[2], nil
}

// ParseIDSortKey splits a two-part key like task#{task_id} and verifies
// the prefix matches the expected type.
func ParseIDSortKey(sk string, t ItemType) (string, error) {
	parts := strings.Split(sk, "#")
	if len(parts) != 2 || parts[0] != string(t) {
		return "", fmt.Errorf("invalid %s sort key: %q", t, sk)
	}
	return parts[1], nil
}

// Secondary-index key builders. The index is keyed by
// (category-or-status, timestamp) and serves cross-type queries.

// StatusIndexKey builds the index partition key for status queries.
func StatusIndexKey(status string) string {
	return "status#" + status
}

// CategoryIndexKey builds the index partition key for category queries.
// The category is normalized so equivalent spellings share a partition.
func CategoryIndexKey(category string) string {
	return "category#" + NormalizeCategory(category)
}
