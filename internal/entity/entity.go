package entity

import (
	"encoding/json"
	"fmt"
	"time"
)

// ItemType discriminates record types within the shared store.
type ItemType string

const (
	ItemTypeMessage  ItemType = "message"
	ItemTypeTask     ItemType = "task"
	ItemTypeTodo     ItemType = "todo"
	ItemTypeReminder ItemType = "reminder"
)

// TaskPriority is the priority level of a task.
type TaskPriority string

const (
	PriorityHigh   TaskPriority = "high"
	PriorityMedium TaskPriority = "medium"
	PriorityLow    TaskPriority = "low"
)

// Recurrence is the repeat pattern of a reminder.
type Recurrence string

const (
	RecurrenceOnce    Recurrence = "once"
	RecurrenceDaily   Recurrence = "daily"
	RecurrenceWeekly  Recurrence = "weekly"
	RecurrenceMonthly Recurrence = "monthly"
)

// DefaultMessageTTL is the retention window after which message rows
// may be expired automatically. Derived entities are never expired.
const DefaultMessageTTL = 30 * 24 * time.Hour

// Record is the storage-level view of an entity: keys, type
// discriminator, status for conditional writes, optional secondary
// index keys, and the serialized body.
//
// Status is duplicated outside the body so a store can perform the
// compare-and-swap on expected status without parsing the payload.
type Record struct {
	PK      string
	SK      string
	Type    ItemType
	Status  string
	GSI1PK  string
	GSI1SK  string
	Body    json.RawMessage
	Created time.Time
}

// Message is a raw inbound message. Immutable except for Status,
// ErrorMessage and ProcessedAt, which only move forward through the
// processing pipeline.
type Message struct {
	Namespace string        `json:"-"`
	ID        string        `json:"message_id"`
	Timestamp time.Time     `json:"timestamp"`
	RawText   string        `json:"raw_content"`
	Status    MessageStatus `json:"status"`

	// LogRef points at the immutable journal record this row was
	// created from. It is the canonical input for replay.
	LogRef string `json:"log_ref"`

	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	ProcessedAt  *time.Time `json:"processed_at,omitempty"`

	// ExpiresAt is a unix timestamp for TTL-based expiry. Zero means
	// no expiry.
	ExpiresAt int64 `json:"ttl,omitempty"`
}

// Task is an actionable item extracted from a message.
type Task struct {
	Namespace   string       `json:"-"`
	ID          string       `json:"task_id"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Status      TaskStatus   `json:"status"`
	DueDate     *time.Time   `json:"due_date,omitempty"`
	Priority    TaskPriority `json:"priority"`
	Category    string       `json:"category"`

	// SourceMessageID is a weak back-reference for traceability, not
	// an ownership edge. Expiring the source message never cascades.
	SourceMessageID string `json:"source_message_id,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Todo is a simple list item without deadline structure.
type Todo struct {
	Namespace       string    `json:"-"`
	ID              string    `json:"todo_id"`
	Text            string    `json:"text"`
	Completed       bool      `json:"completed"`
	Order           int       `json:"order"`
	SourceMessageID string    `json:"source_message_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Reminder is a scheduled notification with optional recurrence.
type Reminder struct {
	Namespace       string         `json:"-"`
	ID              string         `json:"reminder_id"`
	Title           string         `json:"title"`
	ScheduledFor    time.Time      `json:"scheduled_for"`
	Status          ReminderStatus `json:"status"`
	Recurrence      Recurrence     `json:"recurrence"`
	SourceMessageID string         `json:"source_message_id,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	SentAt          *time.Time     `json:"sent_at,omitempty"`
}

// Record converts the message to its storage representation.
func (m Message) Record() (Record, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return Record{}, fmt.Errorf("marshal message: %w", err)
	}
	return Record{
		PK:      m.Namespace,
		SK:      MessageSortKey(m.Timestamp, m.ID),
		Type:    ItemTypeMessage,
		Status:  string(m.Status),
		GSI1PK:  StatusIndexKey(string(m.Status)),
		GSI1SK:  KeyTimestamp(m.Timestamp),
		Body:    body,
		Created: m.CreatedAt,
	}, nil
}

// Record converts the task to its storage representation.
func (t Task) Record() (Record, error) {
	body, err := json.Marshal(t)
	if err != nil {
		return Record{}, fmt.Errorf("marshal task: %w", err)
	}
	return Record{
		PK:      t.Namespace,
		SK:      TaskSortKey(t.ID),
		Type:    ItemTypeTask,
		Status:  string(t.Status),
		GSI1PK:  CategoryIndexKey(t.Category),
		GSI1SK:  KeyTimestamp(t.CreatedAt),
		Body:    body,
		Created: t.CreatedAt,
	}, nil
}

// Record converts the todo to its storage representation.
// Todos carry no secondary index keys.
func (td Todo) Record() (Record, error) {
	body, err := json.Marshal(td)
	if err != nil {
		return Record{}, fmt.Errorf("marshal todo: %w", err)
	}
	status := "open"
	if td.Completed {
		status = "done"
	}
	return Record{
		PK:      td.Namespace,
		SK:      TodoSortKey(td.ID),
		Type:    ItemTypeTodo,
		Status:  status,
		Body:    body,
		Created: td.CreatedAt,
	}, nil
}

// Record converts the reminder to its storage representation. The
// index pair (status, scheduled_for) lets a dispatcher range-scan due
// reminders without a table scan.
func (r Reminder) Record() (Record, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return Record{}, fmt.Errorf("marshal reminder: %w", err)
	}
	return Record{
		PK:      r.Namespace,
		SK:      ReminderSortKey(r.ID),
		Type:    ItemTypeReminder,
		Status:  string(r.Status),
		GSI1PK:  StatusIndexKey(string(r.Status)),
		GSI1SK:  KeyTimestamp(r.ScheduledFor),
		Body:    body,
		Created: r.CreatedAt,
	}, nil
}

// MessageFromRecord deserializes a message from its storage form.
func MessageFromRecord(rec Record) (Message, error) {
	if rec.Type != ItemTypeMessage {
		return Message{}, fmt.Errorf("record %s is %s, not message", rec.SK, rec.Type)
	}
	var m Message
	if err := json.Unmarshal(rec.Body, &m); err != nil {
		return Message{}, fmt.Errorf("unmarshal message %s: %w", rec.SK, err)
	}
	m.Namespace = rec.PK
	return m, nil
}

// TaskFromRecord deserializes a task from its storage form.
func TaskFromRecord(rec Record) (Task, error) {
	if rec.Type != ItemTypeTask {
		return Task{}, fmt.Errorf("record %s is %s, not task", rec.SK, rec.Type)
	}
	var t Task
	if err := json.Unmarshal(rec.Body, &t); err != nil {
		return Task{}, fmt.Errorf("unmarshal task %s: %w", rec.SK, err)
	}
	t.Namespace = rec.PK
	return t, nil
}

// TodoFromRecord deserializes a todo from its storage form.
func TodoFromRecord(rec Record) (Todo, error) {
	if rec.Type != ItemTypeTodo {
		return Todo{}, fmt.Errorf("record %s is %s, not todo", rec.SK, rec.Type)
	}
	var td Todo
	if err := json.Unmarshal(rec.Body, &td); err != nil {
		return Todo{}, fmt.Errorf("unmarshal todo %s: %w", rec.SK, err)
	}
	td.Namespace = rec.PK
	return td, nil
}

// ReminderFromRecord deserializes a reminder from its storage form.
func ReminderFromRecord(rec Record) (Reminder, error) {
	if rec.Type != ItemTypeReminder {
		return Reminder{}, fmt.Errorf("record %s is %s, not reminder", rec.SK, rec.Type)
	}
	var r Reminder
	if err := json.Unmarshal(rec.Body, &r); err != nil {
		return Reminder{}, fmt.Errorf("unmarshal reminder %s: %w", rec.SK, err)
	}
	r.Namespace = rec.PK
	return r, nil
}
