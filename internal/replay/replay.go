// Package replay rebuilds derived state from the journal. It reads raw
// message envelopes in timestamp order and drives them through the same
// processing path the live pipeline uses, against a caller-supplied
// target store. The journal and the live store are never written.
//
// Determinism comes from the caller: a fixed clock, a seeded ID
// generator and a scripted agent make two replays of the same journal
// range produce identical target state.
package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jkeller/secondbrain/internal/agent"
	"github.com/jkeller/secondbrain/internal/entity"
	"github.com/jkeller/secondbrain/internal/ingress"
	"github.com/jkeller/secondbrain/internal/journal"
	"github.com/jkeller/secondbrain/internal/pipeline"
	"github.com/jkeller/secondbrain/internal/queue"
	"github.com/jkeller/secondbrain/internal/store"
	"github.com/jkeller/secondbrain/internal/worker"
)

// listPageSize bounds one journal page during replay.
const listPageSize = 100

// Report summarizes one replay run.
type Report struct {
	Namespace        string    `json:"namespace"`
	From             time.Time `json:"from,omitzero"`
	To               time.Time `json:"to,omitzero"`
	MessagesReplayed int       `json:"messages_replayed"`
	EntitiesCreated  int       `json:"entities_created"`
	TasksCreated     int       `json:"tasks_created"`
	TodosCreated     int       `json:"todos_created"`
	RemindersCreated int       `json:"reminders_created"`
	Failures         int       `json:"failures"`
}

// Engine replays journal ranges into a target store.
type Engine struct {
	journal     journal.Journal
	invoker     agent.Invoker
	ids         pipeline.IDGenerator
	clock       pipeline.Clock
	logger      *slog.Logger
	maxAttempts int
}

// Option configures the engine.
type Option func(*Engine)

// WithIDs replaces the entity ID source.
func WithIDs(g pipeline.IDGenerator) Option {
	return func(e *Engine) { e.ids = g }
}

// WithClock replaces the wall clock.
func WithClock(c pipeline.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLogger replaces the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMaxAttempts overrides the transient retry budget used while
// reprocessing. Replay may run with a different budget than the live
// pipeline.
func WithMaxAttempts(n int) Option {
	return func(e *Engine) { e.maxAttempts = n }
}

// New builds a replay engine over the journal and agent.
func New(j journal.Journal, inv agent.Invoker, opts ...Option) *Engine {
	e := &Engine{
		journal:     j,
		invoker:     inv,
		ids:         pipeline.UUIDv7Generator{},
		clock:       pipeline.SystemClock{},
		logger:      slog.Default(),
		maxAttempts: worker.DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Replay reads the namespace's journal records with from <= ts <= to
// (zero bounds are open) and processes each into target. Failed
// messages are recorded in the report and do not stop the run.
func (e *Engine) Replay(ctx context.Context, ns string, from, to time.Time, target store.Store) (Report, error) {
	report := Report{Namespace: ns, From: from, To: to}

	// Respond items produced by processing have no dispatcher during
	// replay; they fall into a discard queue.
	proc := worker.NewProcessor(target, discardQueue{}, e.invoker,
		worker.WithProcessorIDs(e.ids),
		worker.WithProcessorClock(e.clock),
		worker.WithProcessorLogger(e.logger),
		worker.WithMaxAttempts(e.maxAttempts),
		worker.WithBackoff(0),
	)

	after := journal.Ref("")
	for {
		recs, cursor, err := e.journal.List(ctx, ns, from, to, after, listPageSize)
		if err != nil {
			return report, fmt.Errorf("replay %s: list journal: %w", ns, err)
		}
		for _, rec := range recs {
			failed, err := e.replayOne(ctx, target, proc, rec)
			if err != nil {
				return report, err
			}
			report.MessagesReplayed++
			if failed {
				report.Failures++
			}
		}
		if cursor == "" {
			break
		}
		after = cursor
	}

	if err := e.countDerived(ctx, ns, target, &report); err != nil {
		return report, err
	}

	e.logger.Info("replay complete",
		"namespace", ns,
		"messages", report.MessagesReplayed,
		"failures", report.Failures,
	)
	return report, nil
}

// replayOne synthesizes the received message in target and processes
// it. Returns whether the message settled as failed.
func (e *Engine) replayOne(ctx context.Context, target store.Store, proc *worker.Processor, jrec journal.Record) (bool, error) {
	var env ingress.Envelope
	if err := json.Unmarshal(jrec.Payload, &env); err != nil {
		return false, fmt.Errorf("replay %s/%s: decode envelope: %w", jrec.Namespace, jrec.MessageID, err)
	}

	msg := entity.Message{
		Namespace: env.Namespace,
		ID:        env.MessageID,
		Timestamp: env.Timestamp,
		RawText:   env.Text,
		Status:    entity.MessageReceived,
		LogRef:    string(jrec.Ref),
		CreatedAt: env.Timestamp,
	}
	rec, err := msg.Record()
	if err != nil {
		return false, fmt.Errorf("replay %s/%s: %w", env.Namespace, env.MessageID, err)
	}
	if err := target.Put(ctx, rec); err != nil {
		return false, fmt.Errorf("replay %s/%s: seed target: %w", env.Namespace, env.MessageID, err)
	}

	item := queue.Item{
		Kind:      queue.KindProcess,
		Namespace: env.Namespace,
		MessageID: env.MessageID,
		SortKey:   rec.SK,
	}
	if err := proc.Handle(ctx, item); err != nil {
		return false, fmt.Errorf("replay %s/%s: process: %w", env.Namespace, env.MessageID, err)
	}

	settled, err := target.Get(ctx, env.Namespace, rec.SK)
	if err != nil {
		return false, fmt.Errorf("replay %s/%s: read outcome: %w", env.Namespace, env.MessageID, err)
	}
	return settled.Status == string(entity.MessageFailed), nil
}

// countDerived totals the entities the replay created in target.
func (e *Engine) countDerived(ctx context.Context, ns string, target store.Store, report *Report) error {
	counts := map[entity.ItemType]*int{
		entity.ItemTypeTask:     &report.TasksCreated,
		entity.ItemTypeTodo:     &report.TodosCreated,
		entity.ItemTypeReminder: &report.RemindersCreated,
	}
	for _, t := range []entity.ItemType{entity.ItemTypeTask, entity.ItemTypeTodo, entity.ItemTypeReminder} {
		after := ""
		for {
			recs, cursor, err := target.Query(ctx, ns, entity.SortKeyPrefix(t), after, 0)
			if err != nil {
				return fmt.Errorf("replay %s: count %s: %w", ns, t, err)
			}
			*counts[t] += len(recs)
			if cursor == "" {
				break
			}
			after = cursor
		}
	}
	report.EntitiesCreated = report.TasksCreated + report.TodosCreated + report.RemindersCreated
	return nil
}

// discardQueue swallows the respond items processing emits. Replay has
// no dispatcher; outcomes live in the target store only.
type discardQueue struct{}

var _ queue.Queue = discardQueue{}

func (discardQueue) Enqueue(context.Context, queue.Item) error { return nil }

func (discardQueue) Dequeue(ctx context.Context, _ string, _ time.Duration) (queue.Lease, error) {
	<-ctx.Done()
	return queue.Lease{}, ctx.Err()
}

func (discardQueue) Ack(context.Context, queue.Lease) error { return nil }

func (discardQueue) DeadLetters(context.Context) ([]queue.DeadLetter, error) { return nil, nil }

func (discardQueue) Close() error { return nil }
