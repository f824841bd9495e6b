package entity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProposalValidate(t *testing.T) {
	due := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	valid := []Proposal{
		{Kind: ProposalTask, Task: &TaskProposal{Title: "t", Priority: PriorityLow, Category: "work"}},
		{Kind: ProposalTodo, Todo: &TodoProposal{Text: "buy milk"}},
		{Kind: ProposalReminder, Reminder: &ReminderProposal{Title: "r", ScheduledFor: due, Recurrence: RecurrenceWeekly}},
	}
	for _, p := range valid {
		assert.NoError(t, p.Validate(), "kind %s", p.Kind)
	}

	invalid := []Proposal{
		{Kind: "note"},
		{Kind: ProposalTask},
		{Kind: ProposalTask, Task: &TaskProposal{Priority: PriorityLow}},
		{Kind: ProposalTask, Task: &TaskProposal{Title: "t", Priority: "urgent"}},
		{Kind: ProposalTodo, Todo: &TodoProposal{}},
		{Kind: ProposalTodo, Todo: &TodoProposal{Text: "x"}, Task: &TaskProposal{Title: "t"}},
		{Kind: ProposalReminder, Reminder: &ReminderProposal{Title: "r", Recurrence: RecurrenceOnce}},
		{Kind: ProposalReminder, Reminder: &ReminderProposal{Title: "r", ScheduledFor: due, Recurrence: "yearly"}},
	}
	for i, p := range invalid {
		assert.Error(t, p.Validate(), "case %d", i)
	}
}

func TestSummarize(t *testing.T) {
	due := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	task := Task{ID: "t1", Title: "file taxes", Status: TaskPending, DueDate: &due}
	s := task.Summarize()
	assert.Equal(t, ItemTypeTask, s.Type)
	assert.Equal(t, KeyTimestamp(due), s.When)

	noDue := Task{ID: "t2", Title: "someday", Status: TaskPending}
	assert.Empty(t, noDue.Summarize().When)

	rem := Reminder{ID: "r1", Title: "call", ScheduledFor: due, Status: ReminderPending}
	assert.Equal(t, KeyTimestamp(due), rem.Summarize().When)
}

func TestNormalizeCategory(t *testing.T) {
	assert.Equal(t, "work", NormalizeCategory("Work"))
	assert.Equal(t, "work", NormalizeCategory("  WORK  "))
	assert.Equal(t, DefaultCategory, NormalizeCategory(""))
	assert.Equal(t, DefaultCategory, NormalizeCategory("   "))
	// Case folding handles non-ASCII.
	assert.Equal(t, NormalizeCategory("Straße"), NormalizeCategory("STRASSE"))
}
