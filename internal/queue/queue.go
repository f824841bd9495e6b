// Package queue is the durable work queue between pipeline stages.
// Delivery is at-least-once under a visibility lease: a dequeued item
// is invisible until the lease expires or the consumer acks it. Items
// that keep failing move to a dead-letter area instead of circulating
// forever.
package queue

import (
	"context"
	"time"
)

// Work item kinds.
const (
	// KindProcess drives the processing worker.
	KindProcess = "process"

	// KindRespond drives the response dispatcher.
	KindRespond = "respond"
)

// DefaultMaxReceiveCount is how many deliveries an item gets before it
// is dead-lettered.
const DefaultMaxReceiveCount = 3

// DefaultVisibility is the lease window when the caller passes zero.
const DefaultVisibility = 30 * time.Second

// Item is one unit of work: which stage to run, for which message.
// SortKey addresses the message record directly so consumers don't
// scan for it.
type Item struct {
	Kind      string `json:"kind"`
	Namespace string `json:"namespace"`
	MessageID string `json:"message_id"`
	SortKey   string `json:"sort_key"`
}

// Lease is a claimed item. The handle is opaque and fences the ack:
// once the lease expires and the item is redelivered, the stale handle
// no longer acks.
type Lease struct {
	Item         Item
	ReceiveCount int

	handle string
}

// DeadLetter is an item that exhausted its delivery budget.
type DeadLetter struct {
	Item         Item
	ReceiveCount int
	EnqueuedAt   time.Time
}

// Queue is the work queue contract.
type Queue interface {
	// Enqueue adds an item. Enqueueing an item already in flight for
	// the same (kind, namespace, message) is a no-op.
	Enqueue(ctx context.Context, item Item) error

	// Dequeue blocks until an item of the given kind is available or
	// ctx is done. The returned lease is invisible to other consumers
	// for the visibility window.
	Dequeue(ctx context.Context, kind string, visibility time.Duration) (Lease, error)

	// Ack removes a leased item permanently. Acking an expired lease
	// is a silent no-op; the item has already been redelivered.
	Ack(ctx context.Context, lease Lease) error

	// DeadLetters lists items that exhausted their delivery budget.
	DeadLetters(ctx context.Context) ([]DeadLetter, error)

	// Close releases underlying resources.
	Close() error
}
