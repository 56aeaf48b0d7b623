package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/andronoma-labs/andronoma-go/internal/stage"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// ChainDispatcher executes chains on an in-process worker pool. Each chain
// gets one goroutine that walks its tasks in order and stops at the first
// error; a semaphore bounds how many runs progress in parallel. Everything
// happens inside this process: a deployment that moves stage execution to
// separate workers needs a transport-backed dispatcher instead, and only
// the durable record store is visible across that boundary.
type ChainDispatcher struct {
	exec    StageExecutor
	logger  *slog.Logger
	sem     *semaphore.Weighted
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewChainDispatcher(exec StageExecutor, logger *slog.Logger, maxConcurrentChains int64) *ChainDispatcher {
	if maxConcurrentChains < 1 {
		maxConcurrentChains = 1
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	return &ChainDispatcher{
		exec:    exec,
		logger:  logger,
		sem:     semaphore.NewWeighted(maxConcurrentChains),
		baseCtx: baseCtx,
		cancel:  cancel,
	}
}

// SubmitChain enqueues the chain and returns immediately. The pool bound
// applies to execution, not submission: the chain goroutine waits for its
// slot, so a saturated pool delays the run's first stage rather than the
// caller. The chain runs detached from the submit context so an
// interactive request returning never interrupts stage work.
func (d *ChainDispatcher) SubmitChain(ctx context.Context, runID uuid.UUID, stages []string) error {
	if len(stages) == 0 {
		return errors.New("chain requires at least one stage")
	}

	tasks := make([]string, len(stages))
	copy(tasks, stages)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.sem.Acquire(d.baseCtx, 1); err != nil {
			d.logger.Warn("chain abandoned before start",
				"run_id", runID.String(), "error", err.Error())
			return
		}
		defer d.sem.Release(1)
		d.runChain(runID, tasks)
	}()
	return nil
}

func (d *ChainDispatcher) runChain(runID uuid.UUID, stages []string) {
	for i, name := range stages {
		if err := d.exec.RunStage(d.baseCtx, runID, name); err != nil {
			remaining := len(stages) - i - 1
			if errors.Is(err, stage.ErrRunCancelled) {
				d.logger.Info("chain stopped, run cancelled",
					"run_id", runID.String(), "stage", name, "aborted_tasks", remaining)
				return
			}
			d.logger.Warn("chain aborted",
				"run_id", runID.String(), "stage", name, "aborted_tasks", remaining, "error", err.Error())
			return
		}
	}
	d.logger.Info("chain completed", "run_id", runID.String(), "stages", len(stages))
}

// Shutdown stops accepting work implicitly held by callers, cancels the
// context in-flight tasks observe, and waits for them up to ctx.
func (d *ChainDispatcher) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		return ctx.Err()
	}
}
