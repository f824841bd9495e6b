package entity

import (
	"fmt"
	"time"
)

// ProposalKind discriminates the variant carried by a Proposal.
type ProposalKind string

const (
	ProposalTask     ProposalKind = "task"
	ProposalTodo     ProposalKind = "todo"
	ProposalReminder ProposalKind = "reminder"
)

// Proposal is an entity the agent proposes to create from a message.
// Exactly one of the variant fields is set, selected by Kind. Proposals
// carry no IDs or namespaces; those are assigned when the proposal is
// persisted.
type Proposal struct {
	Kind     ProposalKind      `json:"kind"`
	Task     *TaskProposal     `json:"task,omitempty"`
	Todo     *TodoProposal     `json:"todo,omitempty"`
	Reminder *ReminderProposal `json:"reminder,omitempty"`
}

// TaskProposal is the agent-supplied portion of a task.
type TaskProposal struct {
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	DueDate     *time.Time   `json:"due_date,omitempty"`
	Priority    TaskPriority `json:"priority"`
	Category    string       `json:"category"`
}

// TodoProposal is the agent-supplied portion of a todo.
type TodoProposal struct {
	Text string `json:"text"`
}

// ReminderProposal is the agent-supplied portion of a reminder.
type ReminderProposal struct {
	Title        string     `json:"title"`
	ScheduledFor time.Time  `json:"scheduled_for"`
	Recurrence   Recurrence `json:"recurrence"`
}

// Validate checks that the proposal is well-formed: the kind is known,
// the matching variant is set and populated, and the others are nil.
func (p Proposal) Validate() error {
	switch p.Kind {
	case ProposalTask:
		if p.Task == nil || p.Todo != nil || p.Reminder != nil {
			return fmt.Errorf("task proposal: wrong variant set")
		}
		if p.Task.Title == "" {
			return fmt.Errorf("task proposal: empty title")
		}
		switch p.Task.Priority {
		case PriorityHigh, PriorityMedium, PriorityLow:
		default:
			return fmt.Errorf("task proposal: unknown priority %q", p.Task.Priority)
		}
	case ProposalTodo:
		if p.Todo == nil || p.Task != nil || p.Reminder != nil {
			return fmt.Errorf("todo proposal: wrong variant set")
		}
		if p.Todo.Text == "" {
			return fmt.Errorf("todo proposal: empty text")
		}
	case ProposalReminder:
		if p.Reminder == nil || p.Task != nil || p.Todo != nil {
			return fmt.Errorf("reminder proposal: wrong variant set")
		}
		if p.Reminder.Title == "" {
			return fmt.Errorf("reminder proposal: empty title")
		}
		if p.Reminder.ScheduledFor.IsZero() {
			return fmt.Errorf("reminder proposal: zero scheduled_for")
		}
		switch p.Reminder.Recurrence {
		case RecurrenceOnce, RecurrenceDaily, RecurrenceWeekly, RecurrenceMonthly:
		default:
			return fmt.Errorf("reminder proposal: unknown recurrence %q", p.Reminder.Recurrence)
		}
	default:
		return fmt.Errorf("unknown proposal kind %q", p.Kind)
	}
	return nil
}

// Summary is a compact view of an existing entity, handed to the agent
// as context alongside the message text.
type Summary struct {
	Type   ItemType `json:"type"`
	ID     string   `json:"id"`
	Title  string   `json:"title"`
	Status string   `json:"status"`
	When   string   `json:"when,omitempty"`
}

// Summarize produces the agent-facing view of a task.
func (t Task) Summarize() Summary {
	s := Summary{Type: ItemTypeTask, ID: t.ID, Title: t.Title, Status: string(t.Status)}
	if t.DueDate != nil {
		s.When = KeyTimestamp(*t.DueDate)
	}
	return s
}

// Summarize produces the agent-facing view of a reminder.
func (r Reminder) Summarize() Summary {
	return Summary{
		Type:   ItemTypeReminder,
		ID:     r.ID,
		Title:  r.Title,
		Status: string(r.Status),
		When:   KeyTimestamp(r.ScheduledFor),
	}
}
