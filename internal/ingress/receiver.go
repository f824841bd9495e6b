// Package ingress accepts raw inbound messages and hands them to the
// pipeline: journal first, then the entity store, then the work queue.
// The journal append comes first because it is the one write that must
// never be silently lost; everything after it can be recovered by
// replay.
package ingress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jkeller/secondbrain/internal/entity"
	"github.com/jkeller/secondbrain/internal/journal"
	"github.com/jkeller/secondbrain/internal/pipeline"
	"github.com/jkeller/secondbrain/internal/queue"
	"github.com/jkeller/secondbrain/internal/store"
)

// Envelope is the journaled raw-event payload. Replay parses this back
// out of the journal, so the format is part of the log's contract.
type Envelope struct {
	MessageID string    `json:"message_id"`
	Namespace string    `json:"namespace"`
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text"`
}

// Receiver runs the ingest sequence for one message.
type Receiver struct {
	journal journal.Journal
	store   store.Store
	queue   queue.Queue
	ids     pipeline.IDGenerator
	clock   pipeline.Clock
	logger  *slog.Logger
	ttl     time.Duration
}

// Option configures the receiver.
type Option func(*Receiver)

// WithIDGenerator replaces the message ID source.
func WithIDGenerator(g pipeline.IDGenerator) Option {
	return func(r *Receiver) { r.ids = g }
}

// WithClock replaces the wall clock.
func WithClock(c pipeline.Clock) Option {
	return func(r *Receiver) { r.clock = c }
}

// WithLogger replaces the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Receiver) { r.logger = l }
}

// WithTTL overrides the message retention window. Zero disables
// expiry.
func WithTTL(d time.Duration) Option {
	return func(r *Receiver) { r.ttl = d }
}

// NewReceiver builds a receiver over the three pipeline stores.
func NewReceiver(j journal.Journal, s store.Store, q queue.Queue, opts ...Option) *Receiver {
	r := &Receiver{
		journal: j,
		store:   s,
		queue:   q,
		ids:     pipeline.UUIDv7Generator{},
		clock:   pipeline.SystemClock{},
		logger:  slog.Default(),
		ttl:     entity.DefaultMessageTTL,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Receive ingests one raw message and returns its assigned ID. The
// message is durably journaled, stored as received, and queued for
// processing before Receive returns; actual processing is
// asynchronous.
//
// Every step is idempotent under the assigned ID, so a caller retrying
// a partially failed Receive with ReceiveAs converges without
// duplicating work.
func (r *Receiver) Receive(ctx context.Context, ns, rawText string) (string, error) {
	return r.ReceiveAs(ctx, ns, r.ids.Generate(), r.clock.Now(), rawText)
}

// ReceiveAs is Receive with a caller-chosen message ID and timestamp.
func (r *Receiver) ReceiveAs(ctx context.Context, ns, messageID string, ts time.Time, rawText string) (string, error) {
	ts = ts.UTC()

	payload, err := json.Marshal(Envelope{
		MessageID: messageID,
		Namespace: ns,
		Timestamp: ts,
		Text:      rawText,
	})
	if err != nil {
		return "", fmt.Errorf("receive: marshal envelope: %w", err)
	}

	// Journal failure fails the whole receive. The caller must know
	// the message was not accepted.
	ref, err := r.journal.Append(ctx, ns, messageID, ts, payload)
	if err != nil {
		return "", fmt.Errorf("receive: journal append: %w", err)
	}

	msg := entity.Message{
		Namespace: ns,
		ID:        messageID,
		Timestamp: ts,
		RawText:   rawText,
		Status:    entity.MessageReceived,
		LogRef:    string(ref),
		CreatedAt: ts,
	}
	if r.ttl > 0 {
		msg.ExpiresAt = ts.Add(r.ttl).Unix()
	}
	rec, err := msg.Record()
	if err != nil {
		return "", fmt.Errorf("receive %s: %w", messageID, err)
	}

	// A retried receive must not reset a message a worker has already
	// moved past received; the existing record wins.
	_, err = r.store.Get(ctx, ns, rec.SK)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if err := r.store.Put(ctx, rec); err != nil {
			return "", fmt.Errorf("receive %s: %w", messageID, err)
		}
	case err != nil:
		return "", fmt.Errorf("receive %s: %w", messageID, err)
	}

	if err := r.queue.Enqueue(ctx, queue.Item{
		Kind:      queue.KindProcess,
		Namespace: ns,
		MessageID: messageID,
		SortKey:   rec.SK,
	}); err != nil {
		return "", fmt.Errorf("receive %s: enqueue: %w", messageID, err)
	}

	r.logger.Info("message received",
		"namespace", ns,
		"message_id", messageID,
		"log_ref", string(ref),
	)
	return messageID, nil
}
