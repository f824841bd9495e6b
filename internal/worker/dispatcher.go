package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jkeller/secondbrain/internal/entity"
	"github.com/jkeller/secondbrain/internal/pipeline"
	"github.com/jkeller/secondbrain/internal/queue"
	"github.com/jkeller/secondbrain/internal/store"
)

// Transport delivers the rendered outcome back to the user's channel.
type Transport interface {
	Deliver(ctx context.Context, namespace, messageID, text string) error
}

// LogTransport writes outcomes to the log. It stands in for a real
// delivery channel in local runs and tests.
type LogTransport struct {
	Logger *slog.Logger
}

func (t LogTransport) Deliver(_ context.Context, namespace, messageID, text string) error {
	logger := t.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("outcome delivered",
		"namespace", namespace, "message_id", messageID, "text", text)
	return nil
}

// Dispatcher leases respond items and sends the processing outcome.
type Dispatcher struct {
	store      store.Store
	queue      queue.Queue
	transport  Transport
	logger     *slog.Logger
	visibility time.Duration
}

// DispatcherOption configures the dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger replaces the logger.
func WithDispatcherLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

// WithDispatcherVisibility overrides the lease window used when
// dequeuing.
func WithDispatcherVisibility(v time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.visibility = v }
}

// NewDispatcher builds a dispatcher over the store, queue and
// transport.
func NewDispatcher(s store.Store, q queue.Queue, t Transport, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		store:      s,
		queue:      q,
		transport:  t,
		logger:     slog.Default(),
		visibility: queue.DefaultVisibility,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run dispatches items until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		if err := d.DispatchOne(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			d.logger.Error("dispatch failed", "error", err)
		}
	}
}

// DispatchOne leases one respond item, delivers it, and acks unless the
// failure is worth a redelivery.
func (d *Dispatcher) DispatchOne(ctx context.Context) error {
	lease, err := d.queue.Dequeue(ctx, queue.KindRespond, d.visibility)
	if err != nil {
		return err
	}

	err = d.Handle(ctx, lease.Item)
	if err != nil && pipeline.IsTransient(err) {
		// No ack: the lease lapses and the item is redelivered, until
		// the queue's budget dead-letters it.
		return err
	}
	if ackErr := d.queue.Ack(ctx, lease); ackErr != nil {
		return errors.Join(err, ackErr)
	}
	return err
}

// Handle delivers the outcome of one settled message and marks it sent.
// Redeliveries of already-sent messages ack without side effects, so a
// crash between Deliver and the status write means at most one extra
// delivery, never a lost one.
func (d *Dispatcher) Handle(ctx context.Context, item queue.Item) error {
	rec, err := d.store.Get(ctx, item.Namespace, item.SortKey)
	if errors.Is(err, store.ErrNotFound) {
		d.logger.Warn("message missing, dropping respond item",
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
	case entity.MessageProcessed, entity.MessageFailed:
		// Ready to send.
	case entity.MessageSent, entity.MessageArchived:
		d.logger.Info("outcome already sent, skipping",
			"namespace", msg.Namespace, "message_id", msg.ID, "status", msg.Status)
		return nil
	default:
		// The respond item outran the processor's settle write. Let the
		// lease lapse and retry once the status lands.
		return pipeline.NewError(pipeline.ErrCodeTransient, "dispatch", msg.ID,
			fmt.Errorf("message not settled yet, status %s", msg.Status))
	}

	text, err := d.renderOutcome(ctx, msg)
	if err != nil {
		return err
	}

	if err := d.transport.Deliver(ctx, msg.Namespace, msg.ID, text); err != nil {
		return pipeline.NewError(pipeline.ErrCodeTransient, "deliver", msg.ID, err)
	}

	if err := d.markSent(ctx, msg); err != nil {
		return err
	}
	d.logger.Info("outcome sent",
		"namespace", msg.Namespace, "message_id", msg.ID)
	return nil
}

// renderOutcome summarizes what the message produced: a failure notice,
// or the entities recorded from it.
func (d *Dispatcher) renderOutcome(ctx context.Context, msg entity.Message) (string, error) {
	if msg.Status == entity.MessageFailed {
		if msg.ErrorMessage != "" {
			return fmt.Sprintf("Sorry, I couldn't process your message: %s", msg.ErrorMessage), nil
		}
		return "Sorry, I couldn't process your message.", nil
	}

	derived, err := d.derivedEntities(ctx, msg)
	if err != nil {
		return "", pipeline.NewError(pipeline.ErrCodeTransient, "render outcome", msg.ID, err)
	}
	if len(derived) == 0 {
		return "Noted, nothing to track.", nil
	}

	var b strings.Builder
	b.WriteString("Recorded:")
	for _, line := range derived {
		b.WriteString("\n- ")
		b.WriteString(line)
	}
	return b.String(), nil
}

// derivedEntities lists one line per entity the message produced,
// tasks then todos then reminders.
func (d *Dispatcher) derivedEntities(ctx context.Context, msg entity.Message) ([]string, error) {
	var lines []string

	err := d.scanType(ctx, msg.Namespace, entity.ItemTypeTask, func(rec entity.Record) error {
		task, err := entity.TaskFromRecord(rec)
		if err != nil {
			return err
		}
		if task.SourceMessageID == msg.ID {
			lines = append(lines, fmt.Sprintf("task: %s", task.Title))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = d.scanType(ctx, msg.Namespace, entity.ItemTypeTodo, func(rec entity.Record) error {
		todo, err := entity.TodoFromRecord(rec)
		if err != nil {
			return err
		}
		if todo.SourceMessageID == msg.ID {
			lines = append(lines, fmt.Sprintf("todo: %s", todo.Text))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = d.scanType(ctx, msg.Namespace, entity.ItemTypeReminder, func(rec entity.Record) error {
		rem, err := entity.ReminderFromRecord(rec)
		if err != nil {
			return err
		}
		if rem.SourceMessageID == msg.ID {
			lines = append(lines, fmt.Sprintf("reminder: %s at %s",
				rem.Title, rem.ScheduledFor.Format(time.RFC3339)))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return lines, nil
}

// scanType walks every record of one type in the namespace.
func (d *Dispatcher) scanType(ctx context.Context, ns string, t entity.ItemType, fn func(entity.Record) error) error {
	after := ""
	for {
		recs, cursor, err := d.store.Query(ctx, ns, entity.SortKeyPrefix(t), after, 0)
		if err != nil {
			return err
		}
		for _, rec := range recs {
			if err := fn(rec); err != nil {
				return err
			}
		}
		if cursor == "" {
			return nil
		}
		after = cursor
	}
}

// markSent records the delivery by CAS from the settled status.
func (d *Dispatcher) markSent(ctx context.Context, msg entity.Message) error {
	updated := msg
	updated.Status = entity.MessageSent
	rec, err := updated.Record()
	if err != nil {
		return pipeline.NewError(pipeline.ErrCodePermanent, "encode message", msg.ID, err)
	}
	err = d.store.PutConditional(ctx, rec, string(msg.Status))
	if errors.Is(err, store.ErrConflict) {
		// A concurrent dispatcher won; its delivery stands.
		d.logger.Info("mark sent lost to concurrent update",
			"namespace", msg.Namespace, "message_id", msg.ID)
		return nil
	}
	if err != nil {
		return pipeline.NewError(pipeline.ErrCodeTransient, "mark sent", msg.ID, err)
	}
	return nil
}
