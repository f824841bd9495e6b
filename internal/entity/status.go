package entity

// MessageStatus is the lifecycle state of a message. Transitions are
// monotonic: a message never returns to an earlier state, and the
// terminal branch (processed or failed) is chosen exactly once.
type MessageStatus string

const (
	MessageReceived   MessageStatus = "received"
	MessageProcessing MessageStatus = "processing"
	MessageProcessed  MessageStatus = "processed"
	MessageFailed     MessageStatus = "failed"
	MessageSent       MessageStatus = "sent"
	MessageArchived   MessageStatus = "archived"
)

// messageTransitions is the set of legal forward moves.
var messageTransitions = map[MessageStatus][]MessageStatus{
	MessageReceived:   {MessageProcessing},
	MessageProcessing: {MessageProcessed, MessageFailed},
	MessageProcessed:  {MessageSent, MessageArchived},
	MessageFailed:     {MessageSent, MessageArchived},
	MessageSent:       {MessageArchived},
	MessageArchived:   nil,
}

// CanTransition reports whether from may move directly to to.
func (from MessageStatus) CanTransition(to MessageStatus) bool {
	for _, next := range messageTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions exist from this
// status.
func (s MessageStatus) Terminal() bool {
	return len(messageTransitions[s]) == 0
}

// Valid reports whether s is a known message status.
func (s MessageStatus) Valid() bool {
	_, ok := messageTransitions[s]
	return ok
}

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskCompleted TaskStatus = "completed"
	TaskArchived  TaskStatus = "archived"
)

// Valid reports whether s is a known task status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskPending, TaskCompleted, TaskArchived:
		return true
	}
	return false
}

// ReminderStatus is the lifecycle state of a reminder.
type ReminderStatus string

const (
	ReminderPending   ReminderStatus = "pending"
	ReminderSent      ReminderStatus = "sent"
	ReminderDismissed ReminderStatus = "dismissed"
)

// Valid reports whether s is a known reminder status.
func (s ReminderStatus) Valid() bool {
	switch s {
	case ReminderPending, ReminderSent, ReminderDismissed:
		return true
	}
	return false
}
