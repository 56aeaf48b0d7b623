package stage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/andronoma-labs/andronoma-go/internal/budget"
	"github.com/andronoma-labs/andronoma-go/internal/domain"
	"github.com/andronoma-labs/andronoma-go/internal/logbroker"
	"github.com/andronoma-labs/andronoma-go/internal/pipeline"
	"github.com/andronoma-labs/andronoma-go/internal/repo"
	"github.com/google/uuid"
)

// ErrRunCancelled aborts a chain whose run was cancelled between tasks.
var ErrRunCancelled = errors.New("run cancelled")

// Runner executes one stage-invocation task: it wraps every stage
// identically (pre-flight gate, transition to running, execute, terminal
// transition with telemetry or error notes) and recomputes the run's
// aggregate status afterwards. Errors propagate so the dispatcher aborts
// the remaining chained tasks.
type Runner struct {
	runs     repo.RunRepository
	stages   repo.StageRepository
	emitter  *logbroker.Emitter
	registry *Registry
	assets   AssetSink
	clock    func() time.Time
}

func NewRunner(runs repo.RunRepository, stages repo.StageRepository, emitter *logbroker.Emitter, registry *Registry, assets AssetSink) *Runner {
	return &Runner{
		runs:     runs,
		stages:   stages,
		emitter:  emitter,
		registry: registry,
		assets:   assets,
		clock:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the timestamp source. Tests only.
func (r *Runner) WithClock(clock func() time.Time) *Runner {
	r.clock = clock
	return r
}

func (r *Runner) RunStage(ctx context.Context, runID uuid.UUID, name string) error {
	impl, err := r.registry.Resolve(name)
	if err != nil {
		return err
	}

	run, err := r.runs.Get(ctx, runID)
	if err != nil {
		return fmt.Errorf("load run: %w", err)
	}
	if run.Status == domain.RunCancelled {
		return ErrRunCancelled
	}

	st, err := r.stages.Get(ctx, runID, name)
	if errors.Is(err, repo.ErrNotFound) {
		st = domain.Stage{
			ID:        uuid.New(),
			RunID:     runID,
			Name:      name,
			Status:    domain.StagePending,
			Telemetry: domain.Metadata{},
		}
		if createErr := r.stages.Create(ctx, st); createErr != nil {
			return fmt.Errorf("materialize stage: %w", createErr)
		}
	} else if err != nil {
		return fmt.Errorf("load stage: %w", err)
	}

	// A retried run resumes: stages that already finished are not re-run.
	if st.Status == domain.StageCompleted || st.Status == domain.StageSkipped {
		r.emitter.EmitBestEffort(ctx, runID, domain.LogLevelInfo,
			fmt.Sprintf("Stage %s already %s, resuming past it", name, st.Status), nil)
		return nil
	}

	// Pre-flight gate: the stage never starts and no state is mutated, but
	// the failure still fails the run and aborts the chain.
	if estimator, ok := impl.(CostEstimator); ok {
		if gateErr := budget.Preflight(run.Budgets, name, estimator.EstimatedCost()); gateErr != nil {
			r.emitter.EmitBestEffort(ctx, runID, domain.LogLevelError,
				fmt.Sprintf("Stage %s rejected by budget gate", name),
				domain.Metadata{"error": gateErr.Error()})
			r.failRun(ctx, runID)
			return gateErr
		}
	}

	r.emitter.EmitBestEffort(ctx, runID, domain.LogLevelInfo, "Starting stage: "+name, nil)

	pipeline.Transition(&st, domain.StageRunning, r.clock())
	if st, err = r.stages.Update(ctx, st); err != nil {
		return fmt.Errorf("mark stage running: %w", err)
	}
	if err := r.recomputeRun(ctx, runID, nil); err != nil {
		return err
	}

	ledger := budget.NewLedger(run.Budgets[name], st.BudgetSpent)
	sc := NewContext(name, run, ledger, r.emitter, r.assets)

	telemetry, execErr := impl.Execute(ctx, sc)

	st.BudgetSpent = ledger.Spent()
	if execErr != nil {
		pipeline.Transition(&st, domain.StageFailed, r.clock())
		st.Notes = execErr.Error()
		if _, updateErr := r.stages.Update(ctx, st); updateErr != nil {
			return fmt.Errorf("mark stage failed: %w", updateErr)
		}
		r.emitter.EmitBestEffort(ctx, runID, domain.LogLevelError,
			fmt.Sprintf("Stage %s failed", name),
			domain.Metadata{"error": execErr.Error()})
		r.failRun(ctx, runID)
		return execErr
	}

	if telemetry == nil {
		telemetry = domain.Metadata{}
	}
	pipeline.Transition(&st, domain.StageCompleted, r.clock())
	st.Telemetry = st.Telemetry.Merge(telemetry)
	if _, err := r.stages.Update(ctx, st); err != nil {
		return fmt.Errorf("mark stage completed: %w", err)
	}
	if err := r.recomputeRun(ctx, runID, func(fresh *domain.Run) {
		if fresh.Telemetry == nil {
			fresh.Telemetry = domain.Metadata{}
		}
		fresh.Telemetry[name] = map[string]any(telemetry)
	}); err != nil {
		return err
	}

	r.emitter.EmitBestEffort(ctx, runID, domain.LogLevelInfo, "Completed stage: "+name,
		domain.Metadata{"telemetry": map[string]any(telemetry)})
	return nil
}

// recomputeRun reloads the run, applies the optional mutation, re-derives
// the aggregate status from the full stage set, and writes the record back.
// The write is read-modify-commit with no lock; a concurrent patch may race
// it last-write-wins.
func (r *Runner) recomputeRun(ctx context.Context, runID uuid.UUID, mutate func(*domain.Run)) error {
	run, err := r.runs.Get(ctx, runID)
	if err != nil {
		return fmt.Errorf("reload run: %w", err)
	}
	if mutate != nil {
		mutate(&run)
	}
	stages, err := r.stages.ListByRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("list stages: %w", err)
	}
	if derived, ok := pipeline.DeriveRunStatus(stages); ok {
		run.Status = derived
	}
	run.UpdatedAt = r.clock()
	if _, err := r.runs.Update(ctx, run); err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return nil
}

func (r *Runner) failRun(ctx context.Context, runID uuid.UUID) {
	run, err := r.runs.Get(ctx, runID)
	if err != nil {
		return
	}
	run.Status = domain.RunFailed
	run.UpdatedAt = r.clock()
	_, _ = r.runs.Update(ctx, run)
}
