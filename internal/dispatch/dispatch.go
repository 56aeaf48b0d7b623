// Package dispatch hands stage work to a background executor. A chain is
// the dispatcher's primitive: its tasks run strictly sequentially and the
// first failure aborts the remainder, so at most one stage executes at a
// time per run.
package dispatch

import (
	"context"

	"github.com/google/uuid"
)

// StageExecutor runs one stage-invocation task to completion.
type StageExecutor interface {
	RunStage(ctx context.Context, runID uuid.UUID, name string) error
}

// Dispatcher accepts ordered chains of stage tasks for background
// execution. Submission returns once the chain is enqueued; execution is
// asynchronous.
type Dispatcher interface {
	SubmitChain(ctx context.Context, runID uuid.UUID, stages []string) error
}
