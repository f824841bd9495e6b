package agent

import (
	"context"
	"errors"
	"sync"

	"github.com/jkeller/secondbrain/internal/entity"
	"github.com/jkeller/secondbrain/internal/pipeline"
)

// ScriptedInvoker returns predetermined results in order, one per
// Infer call. Tests script the exact sequence of proposals and errors
// a worker will see, including transient failures followed by success.
//
// Thread-safety: safe for concurrent use via internal mutex.
type ScriptedInvoker struct {
	mu    sync.Mutex
	steps []ScriptStep
	idx   int

	// Calls records the message text of every Infer call.
	Calls []string
}

var _ Invoker = (*ScriptedInvoker)(nil)

// ScriptStep is one scripted Infer outcome.
type ScriptStep struct {
	Proposals []entity.Proposal
	Err       error
}

// NewScripted creates an invoker that plays steps in order.
func NewScripted(steps ...ScriptStep) *ScriptedInvoker {
	return &ScriptedInvoker{steps: steps}
}

// Infer returns the next scripted step.
//
// Running past the script fails with a Permanent error rather than
// panicking, so a miscounted test reports through the pipeline it is
// exercising.
func (s *ScriptedInvoker) Infer(_ context.Context, text string, _ []entity.Summary) ([]entity.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Calls = append(s.Calls, text)
	if s.idx >= len(s.steps) {
		return nil, pipeline.NewError(pipeline.ErrCodePermanent, "scripted invoker", "",
			errors.New("script exhausted"))
	}
	step := s.steps[s.idx]
	s.idx++
	return step.Proposals, step.Err
}
