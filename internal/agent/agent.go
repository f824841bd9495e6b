// Package agent abstracts the external model that turns a raw message
// into proposed entities. The pipeline only sees the Invoker contract;
// error classification decides whether the worker retries.
package agent

import (
	"context"

	"github.com/jkeller/secondbrain/internal/entity"
)

// Invoker infers proposed entities from a raw message.
//
// existing carries compact summaries of the namespace's current open
// tasks and pending reminders so the model can avoid proposing
// duplicates of what already exists.
//
// Errors must be classified with pipeline error codes: Transient for
// failures worth retrying (throttling, network, server errors),
// Permanent for everything retrying cannot fix.
type Invoker interface {
	Infer(ctx context.Context, text string, existing []entity.Summary) ([]entity.Proposal, error)
}
