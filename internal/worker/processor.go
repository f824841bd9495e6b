// Package worker consumes the work queue: the Processor turns received
// messages into derived entities through the agent, and the Dispatcher
// delivers the outcome back to the user.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jkeller/secondbrain/internal/agent"
	"github.com/jkeller/secondbrain/internal/entity"
	"github.com/jkeller/secondbrain/internal/pipeline"
	"github.com/jkeller/secondbrain/internal/queue"
	"github.com/jkeller/secondbrain/internal/store"
)

// DefaultMaxAttempts is the local retry budget for transient agent
// failures within one message handling: a failing call is retried this
// many times before the message fails. The queue's delivery budget
// bounds retries across handlings.
const DefaultMaxAttempts = 3

// contextLimit caps how many existing entities are summarized for the
// agent.
const contextLimit = 20

// Processor drives received messages through the agent.
type Processor struct {
	store       store.Store
	queue       queue.Queue
	invoker     agent.Invoker
	ids         pipeline.IDGenerator
	clock       pipeline.Clock
	logger      *slog.Logger
	maxAttempts int
	backoff     time.Duration
	visibility  time.Duration
}

// ProcessorOption configures the processor.
type ProcessorOption func(*Processor)

// WithProcessorIDs replaces the entity ID source.
func WithProcessorIDs(g pipeline.IDGenerator) ProcessorOption {
	return func(p *Processor) { p.ids = g }
}

// WithProcessorClock replaces the wall clock.
func WithProcessorClock(c pipeline.Clock) ProcessorOption {
	return func(p *Processor) { p.clock = c }
}

// WithProcessorLogger replaces the logger.
func WithProcessorLogger(l *slog.Logger) ProcessorOption {
	return func(p *Processor) { p.logger = l }
}

// WithMaxAttempts overrides the transient retry budget.
func WithMaxAttempts(n int) ProcessorOption {
	return func(p *Processor) { p.maxAttempts = n }
}

// WithBackoff overrides the base delay between local retries.
func WithBackoff(d time.Duration) ProcessorOption {
	return func(p *Processor) { p.backoff = d }
}

// WithVisibility overrides the lease window used when dequeuing.
func WithVisibility(d time.Duration) ProcessorOption {
	return func(p *Processor) { p.visibility = d }
}

// NewProcessor builds a processor over the store, queue and agent.
func NewProcessor(s store.Store, q queue.Queue, inv agent.Invoker, opts ...ProcessorOption) *Processor {
	p := &Processor{
		store:       s,
		queue:       q,
		invoker:     inv,
		ids:         pipeline.UUIDv7Generator{},
		clock:       pipeline.SystemClock{},
		logger:      slog.Default(),
		maxAttempts: DefaultMaxAttempts,
		backoff:     500 * time.Millisecond,
		visibility:  queue.DefaultVisibility,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run processes items until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	for {
		if err := p.ProcessOne(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			p.logger.Error("process failed", "error", err)
		}
	}
}

// ProcessOne leases one process item, handles it, and acks unless the
// failure is worth a redelivery.
func (p *Processor) ProcessOne(ctx context.Context) error {
	lease, err := p.queue.Dequeue(ctx, queue.KindProcess, p.visibility)
	if err != nil {
		return err
	}

	err = p.Handle(ctx, lease.Item)
	if err != nil && pipeline.IsTransient(err) {
		// No ack: the lease lapses and the item is redelivered, until
		// the queue's budget dead-letters it.
		return err
	}
	if ackErr := p.queue.Ack(ctx, lease); ackErr != nil {
		return errors.Join(err, ackErr)
	}
	return err
}

// Handle runs the processing state machine for one message.
//
// The only coordination with other workers is the status
// compare-and-swap: losing it means someone else owns the message, and
// the loser walks away. Handling is idempotent for terminal messages:
// redelivered items for processed, failed or sent messages ack without
// side effects.
func (p *Processor) Handle(ctx context.Context, item queue.Item) error {
	rec, err := p.store.Get(ctx, item.Namespace, item.SortKey)
	if errors.Is(err, store.ErrNotFound) {
		p.logger.Warn("message missing, dropping work item",
			"namespace", item.Namespace, "message_id", item.MessageID)
		return nil
	}
	if err != nil {
		return pipeline.NewError(pipeline.ErrCodeTransient, "read message", item.MessageID, err)
	}
	msg, err := entity.MessageFromRecord(rec)
	if err != nil {
		return pipeline.NewError(pipeline.ErrCodePermanent, "decode message", item.MessageID, err)
	}

	switch msg.Status {
	case entity.MessageReceived:
		// Ours to claim.
	case entity.MessageProcessing:
		// Another worker owns it, or a crashed run left it claimed.
		// Either way the claim below fails and we walk away.
	default:
		p.logger.Info("message already settled, skipping",
			"namespace", msg.Namespace, "message_id", msg.ID, "status", msg.Status)
		return nil
	}

	if err := p.transition(ctx, &msg, entity.MessageProcessing, ""); err != nil {
		if pipeline.IsConflict(err) {
			p.logger.Info("lost claim, abandoning",
				"namespace", msg.Namespace, "message_id", msg.ID)
			return nil
		}
		return err
	}
	p.logger.Info("message claimed",
		"namespace", msg.Namespace, "message_id", msg.ID)

	proposals, inferErr := p.inferWithRetry(ctx, msg)
	if inferErr != nil {
		if failErr := p.settle(ctx, &msg, entity.MessageFailed, inferErr.Error()); failErr != nil {
			return failErr
		}
		p.logger.Warn("message failed",
			"namespace", msg.Namespace, "message_id", msg.ID, "error", inferErr)
		return p.enqueueRespond(ctx, item)
	}

	if err := p.persistProposals(ctx, msg, proposals); err != nil {
		return err
	}

	if err := p.settle(ctx, &msg, entity.MessageProcessed, ""); err != nil {
		return err
	}
	p.logger.Info("message processed",
		"namespace", msg.Namespace, "message_id", msg.ID, "entities", len(proposals))
	return p.enqueueRespond(ctx, item)
}

// inferWithRetry calls the agent with the namespace's current context.
// maxAttempts is a retry budget, so a message survives that many
// consecutive transient errors when the next call succeeds.
func (p *Processor) inferWithRetry(ctx context.Context, msg entity.Message) ([]entity.Proposal, error) {
	summaries, err := p.contextSummaries(ctx, msg.Namespace)
	if err != nil {
		return nil, pipeline.NewError(pipeline.ErrCodeTransient, "gather context", msg.ID, err)
	}

	var lastErr error
	for retry := 0; retry <= p.maxAttempts; retry++ {
		if retry > 0 {
			select {
			case <-ctx.Done():
				return nil, pipeline.NewError(pipeline.ErrCodeTransient, "infer", msg.ID, ctx.Err())
			case <-time.After(p.backoff * time.Duration(retry)):
			}
		}
		proposals, err := p.invoker.Infer(ctx, msg.RawText, summaries)
		if err == nil {
			return proposals, nil
		}
		if !pipeline.IsTransient(err) {
			return nil, err
		}
		lastErr = err
		p.logger.Warn("agent call failed",
			"namespace", msg.Namespace, "message_id", msg.ID,
			"retries_left", p.maxAttempts-retry, "error", err)
	}
	return nil, pipeline.NewError(pipeline.ErrCodeExhausted, "infer", msg.ID, lastErr)
}

// contextSummaries collects open tasks and pending reminders for the
// agent prompt.
func (p *Processor) contextSummaries(ctx context.Context, ns string) ([]entity.Summary, error) {
	var summaries []entity.Summary

	taskRecs, _, err := p.store.Query(ctx, ns, entity.SortKeyPrefix(entity.ItemTypeTask), "", contextLimit)
	if err != nil {
		return nil, err
	}
	for _, rec := range taskRecs {
		task, err := entity.TaskFromRecord(rec)
		if err != nil {
			return nil, err
		}
		if task.Status == entity.TaskPending {
			summaries = append(summaries, task.Summarize())
		}
	}

	remRecs, _, err := p.store.Query(ctx, ns, entity.SortKeyPrefix(entity.ItemTypeReminder), "", contextLimit)
	if err != nil {
		return nil, err
	}
	for _, rec := range remRecs {
		rem, err := entity.ReminderFromRecord(rec)
		if err != nil {
			return nil, err
		}
		if rem.Status == entity.ReminderPending {
			summaries = append(summaries, rem.Summarize())
		}
	}
	return summaries, nil
}

// persistProposals writes each proposal as a fresh entity tied back to
// the source message.
func (p *Processor) persistProposals(ctx context.Context, msg entity.Message, proposals []entity.Proposal) error {
	now := p.clock.Now()
	for _, prop := range proposals {
		rec, err := p.materialize(ctx, msg, prop, now)
		if err != nil {
			return err
		}
		if err := p.store.Put(ctx, rec); err != nil {
			return pipeline.NewError(pipeline.ErrCodeTransient, "persist entity", msg.ID, err)
		}
	}
	return nil
}

func (p *Processor) materialize(ctx context.Context, msg entity.Message, prop entity.Proposal, now time.Time) (entity.Record, error) {
	switch prop.Kind {
	case entity.ProposalTask:
		task := entity.Task{
			Namespace:       msg.Namespace,
			ID:              p.ids.Generate(),
			Title:           prop.Task.Title,
			Description:     prop.Task.Description,
			Status:          entity.TaskPending,
			DueDate:         prop.Task.DueDate,
			Priority:        prop.Task.Priority,
			Category:        entity.NormalizeCategory(prop.Task.Category),
			SourceMessageID: msg.ID,
			CreatedAt:       now,
		}
		return task.Record()
	case entity.ProposalTodo:
		order, err := p.nextTodoOrder(ctx, msg.Namespace)
		if err != nil {
			return entity.Record{}, pipeline.NewError(pipeline.ErrCodeTransient, "todo order", msg.ID, err)
		}
		todo := entity.Todo{
			Namespace:       msg.Namespace,
			ID:              p.ids.Generate(),
			Text:            prop.Todo.Text,
			Order:           order,
			SourceMessageID: msg.ID,
			CreatedAt:       now,
		}
		return todo.Record()
	case entity.ProposalReminder:
		rem := entity.Reminder{
			Namespace:       msg.Namespace,
			ID:              p.ids.Generate(),
			Title:           prop.Reminder.Title,
			ScheduledFor:    prop.Reminder.ScheduledFor,
			Status:          entity.ReminderPending,
			Recurrence:      prop.Reminder.Recurrence,
			SourceMessageID: msg.ID,
			CreatedAt:       now,
		}
		return rem.Record()
	default:
		return entity.Record{}, pipeline.NewError(pipeline.ErrCodePermanent, "materialize",
			msg.ID, fmt.Errorf("unknown proposal kind %q", prop.Kind))
	}
}

// nextTodoOrder assigns max(existing)+1 within the namespace.
func (p *Processor) nextTodoOrder(ctx context.Context, ns string) (int, error) {
	maxOrder := 0
	after := ""
	for {
		recs, cursor, err := p.store.Query(ctx, ns, entity.SortKeyPrefix(entity.ItemTypeTodo), after, 0)
		if err != nil {
			return 0, err
		}
		for _, rec := range recs {
			todo, err := entity.TodoFromRecord(rec)
			if err != nil {
				return 0, err
			}
			if todo.Order > maxOrder {
				maxOrder = todo.Order
			}
		}
		if cursor == "" {
			return maxOrder + 1, nil
		}
		after = cursor
	}
}

// transition claims the message by CAS from its current stored status.
func (p *Processor) transition(ctx context.Context, msg *entity.Message, to entity.MessageStatus, errMsg string) error {
	if !msg.Status.CanTransition(to) {
		return pipeline.NewError(pipeline.ErrCodeConflict, "transition", msg.ID,
			fmt.Errorf("%s cannot move to %s", msg.Status, to))
	}
	from := msg.Status
	updated := *msg
	updated.Status = to
	updated.ErrorMessage = errMsg
	if to == entity.MessageProcessed || to == entity.MessageFailed {
		at := p.clock.Now()
		updated.ProcessedAt = &at
	}

	rec, err := updated.Record()
	if err != nil {
		return pipeline.NewError(pipeline.ErrCodePermanent, "encode message", msg.ID, err)
	}
	err = p.store.PutConditional(ctx, rec, string(from))
	if errors.Is(err, store.ErrConflict) {
		return pipeline.NewError(pipeline.ErrCodeConflict, "transition", msg.ID, err)
	}
	if err != nil {
		return pipeline.NewError(pipeline.ErrCodeTransient, "transition", msg.ID, err)
	}
	*msg = updated
	return nil
}

// settle moves a claimed message to its terminal processing outcome.
func (p *Processor) settle(ctx context.Context, msg *entity.Message, to entity.MessageStatus, errMsg string) error {
	err := p.transition(ctx, msg, to, errMsg)
	if pipeline.IsConflict(err) {
		// Someone else settled it; their outcome stands.
		p.logger.Info("settle lost to concurrent update",
			"namespace", msg.Namespace, "message_id", msg.ID, "target", to)
		return nil
	}
	return err
}

func (p *Processor) enqueueRespond(ctx context.Context, item queue.Item) error {
	err := p.queue.Enqueue(ctx, queue.Item{
		Kind:      queue.KindRespond,
		Namespace: item.Namespace,
		MessageID: item.MessageID,
		SortKey:   item.SortKey,
	})
	if err != nil {
		return pipeline.NewError(pipeline.ErrCodeTransient, "enqueue respond", item.MessageID, err)
	}
	return nil
}
