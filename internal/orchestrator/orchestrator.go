// Package orchestrator is the control surface of the campaign pipeline:
// it creates runs, materializes their stage records, starts and cancels
// runs, applies budget and stage patches, and hands stage chains to the
// dispatcher. Every mutation is a read-modify-commit against the record
// store with no cross-call lock; concurrent writers race last-write-wins
// unless the caller supplies a version precondition.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/andronoma-labs/andronoma-go/internal/budget"
	"github.com/andronoma-labs/andronoma-go/internal/dispatch"
	"github.com/andronoma-labs/andronoma-go/internal/domain"
	"github.com/andronoma-labs/andronoma-go/internal/logbroker"
	"github.com/andronoma-labs/andronoma-go/internal/pipeline"
	"github.com/andronoma-labs/andronoma-go/internal/repo"
	"github.com/google/uuid"
)

type Orchestrator struct {
	runs       repo.RunRepository
	stages     repo.StageRepository
	emitter    *logbroker.Emitter
	dispatcher dispatch.Dispatcher
	baseBudget float64
	clock      func() time.Time
}

func New(runs repo.RunRepository, stages repo.StageRepository, emitter *logbroker.Emitter, dispatcher dispatch.Dispatcher, baseBudget float64) *Orchestrator {
	return &Orchestrator{
		runs:       runs,
		stages:     stages,
		emitter:    emitter,
		dispatcher: dispatcher,
		baseBudget: baseBudget,
		clock:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the timestamp source. Tests only.
func (o *Orchestrator) WithClock(clock func() time.Time) *Orchestrator {
	o.clock = clock
	return o
}

// RunDetail is a run together with its stage records in pipeline order.
type RunDetail struct {
	Run    domain.Run
	Stages []domain.Stage
}

type CreateInput struct {
	OwnerID string
	Config  domain.Metadata
	Budgets map[string]float64
}

// Create registers a new pending run. No stage records exist until the run
// is started. Omitted budgets default to the canonical split of the base
// allocation across the seven stages.
func (o *Orchestrator) Create(ctx context.Context, in CreateInput) (RunDetail, error) {
	budgets := in.Budgets
	if budgets == nil {
		budgets = pipeline.DefaultBudgets(o.baseBudget)
	} else if err := budget.Validate(budgets); err != nil {
		return RunDetail{}, &ValidationError{Reason: err.Error()}
	}

	config := in.Config
	if config == nil {
		config = domain.Metadata{}
	}

	now := o.clock()
	run := domain.Run{
		ID:        uuid.New(),
		OwnerID:   in.OwnerID,
		Status:    domain.RunPending,
		Config:    config,
		Budgets:   budgets,
		Telemetry: domain.Metadata{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.runs.Create(ctx, run); err != nil {
		return RunDetail{}, fmt.Errorf("create run: %w", err)
	}
	return RunDetail{Run: run, Stages: nil}, nil
}

// Start moves a pending or failed run to running, materializes any missing
// stage records, and submits the ordered stage chain to the dispatcher.
// Starting a failed run is the retry path: existing stage records keep
// their status, telemetry, and spend, so the retried run resumes instead
// of restarting from scratch.
func (o *Orchestrator) Start(ctx context.Context, id uuid.UUID, ownerID string) (RunDetail, error) {
	run, err := o.loadOwned(ctx, id, ownerID, ErrForbidden)
	if err != nil {
		return RunDetail{}, err
	}
	if !run.Status.Startable() {
		return RunDetail{}, &StateError{Reason: "Run already active"}
	}

	run.Status = domain.RunRunning
	run.UpdatedAt = o.clock()
	if run, err = o.runs.Update(ctx, run); err != nil {
		return RunDetail{}, fmt.Errorf("update run: %w", err)
	}

	stages, err := o.materializeStages(ctx, run.ID)
	if err != nil {
		return RunDetail{}, err
	}

	if err := o.dispatcher.SubmitChain(ctx, run.ID, pipeline.Order); err != nil {
		return RunDetail{}, fmt.Errorf("submit chain: %w", err)
	}
	o.emitter.EmitBestEffort(ctx, run.ID, domain.LogLevelInfo, "Run started", nil)

	return RunDetail{Run: run, Stages: sortStages(stages)}, nil
}

// Cancel stops a pending or running run. Every stage still pending or
// running is coerced to skipped with its finish time set; this is an
// authoritative bulk operation that bypasses the per-stage transition
// table. Cancellation is cooperative: a stage already executing on a
// worker runs to completion and its completion write may race the
// cancellation's effects on that stage.
func (o *Orchestrator) Cancel(ctx context.Context, id uuid.UUID, ownerID string) (RunDetail, error) {
	run, err := o.loadOwned(ctx, id, ownerID, ErrForbidden)
	if err != nil {
		return RunDetail{}, err
	}
	if !run.Status.Cancellable() {
		return RunDetail{}, &StateError{Reason: fmt.Sprintf("Run is %s and cannot be cancelled", run.Status)}
	}

	now := o.clock()
	run.Status = domain.RunCancelled
	run.UpdatedAt = now
	if run, err = o.runs.Update(ctx, run); err != nil {
		return RunDetail{}, fmt.Errorf("update run: %w", err)
	}

	stages, err := o.stages.ListByRun(ctx, run.ID)
	if err != nil {
		return RunDetail{}, fmt.Errorf("list stages: %w", err)
	}
	for i, st := range stages {
		if st.Status != domain.StagePending && st.Status != domain.StageRunning {
			continue
		}
		st.Status = domain.StageSkipped
		finished := now
		st.FinishedAt = &finished
		updated, err := o.stages.Update(ctx, st)
		if err != nil {
			return RunDetail{}, fmt.Errorf("skip stage %s: %w", st.Name, err)
		}
		stages[i] = updated
	}
	o.emitter.EmitBestEffort(ctx, run.ID, domain.LogLevelWarn, "Run cancelled", nil)

	return RunDetail{Run: run, Stages: sortStages(stages)}, nil
}

// StagePatch is a partial stage update; every field is independently
// optional. BudgetSpent is an absolute administrative correction, distinct
// from the additive accounting stages perform internally. ExpectedVersion,
// when set, must match the stored stage record or the patch is rejected as
// a conflict; omitting it keeps the store's last-write-wins behavior.
type StagePatch struct {
	Status          *domain.StageStatus
	Notes           *string
	Telemetry       domain.Metadata
	BudgetSpent     *float64
	ExpectedVersion *int64
}

func (p StagePatch) validate() error {
	if p.Status != nil && !p.Status.Valid() {
		return &ValidationError{Reason: fmt.Sprintf("unknown status %q", *p.Status)}
	}
	if p.Notes != nil && strings.TrimSpace(*p.Notes) == "" {
		return &ValidationError{Reason: "notes must not be empty"}
	}
	if p.BudgetSpent != nil && *p.BudgetSpent < 0 {
		return &ValidationError{Reason: "budget_spent must be non-negative"}
	}
	return nil
}

// PatchStage applies a partial update to one stage. Status changes go
// through the transition table; an actual change triggers run-status
// recomputation. Telemetry is shallow-merged into the stage and mirrored
// into the run's telemetry under the stage name, replacing the run entry
// wholesale when a prior inconsistent write left it as a non-map.
func (o *Orchestrator) PatchStage(ctx context.Context, id uuid.UUID, ownerID, stageName string, patch StagePatch) (domain.Stage, error) {
	run, err := o.loadOwned(ctx, id, ownerID, ErrForbidden)
	if err != nil {
		return domain.Stage{}, err
	}
	st, err := o.stages.Get(ctx, run.ID, stageName)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Stage{}, ErrNotFound
	} else if err != nil {
		return domain.Stage{}, fmt.Errorf("load stage: %w", err)
	}

	if patch.ExpectedVersion != nil && *patch.ExpectedVersion != st.Version {
		return domain.Stage{}, ErrVersionConflict
	}
	if err := patch.validate(); err != nil {
		return domain.Stage{}, err
	}

	statusChanged := false
	if patch.Status != nil && *patch.Status != st.Status {
		if !pipeline.CanTransition(st.Status, *patch.Status) {
			return domain.Stage{}, &StateError{Reason: "Invalid status transition"}
		}
		pipeline.Transition(&st, *patch.Status, o.clock())
		statusChanged = true
	}

	if patch.Notes != nil {
		st.Notes = *patch.Notes
	}
	if patch.BudgetSpent != nil {
		st.BudgetSpent = *patch.BudgetSpent
	}
	if patch.Telemetry != nil {
		st.Telemetry = st.Telemetry.Merge(patch.Telemetry)
	}

	if st, err = o.stages.Update(ctx, st); err != nil {
		return domain.Stage{}, fmt.Errorf("update stage: %w", err)
	}

	runDirty := false
	if patch.Telemetry != nil {
		if run.Telemetry == nil {
			run.Telemetry = domain.Metadata{}
		}
		existing, ok := run.Telemetry[stageName].(map[string]any)
		if !ok {
			if m, isMeta := run.Telemetry[stageName].(domain.Metadata); isMeta {
				existing, ok = map[string]any(m), true
			}
		}
		if ok {
			run.Telemetry[stageName] = map[string]any(domain.Metadata(existing).Merge(patch.Telemetry))
		} else {
			run.Telemetry[stageName] = map[string]any(patch.Telemetry.Clone())
		}
		runDirty = true
	}
	if statusChanged {
		stages, err := o.stages.ListByRun(ctx, run.ID)
		if err != nil {
			return domain.Stage{}, fmt.Errorf("list stages: %w", err)
		}
		if derived, ok := pipeline.DeriveRunStatus(stages); ok && derived != run.Status {
			run.Status = derived
		}
		runDirty = true
	}
	if runDirty {
		run.UpdatedAt = o.clock()
		if _, err := o.runs.Update(ctx, run); err != nil {
			return domain.Stage{}, fmt.Errorf("update run: %w", err)
		}
	}
	return st, nil
}

// PatchBudgets wholesale-replaces the run's budget map: a partial map
// discards allocations for omitted stage names. A rejected update leaves
// the stored budgets untouched.
func (o *Orchestrator) PatchBudgets(ctx context.Context, id uuid.UUID, ownerID string, budgets map[string]float64, expectedVersion *int64) (RunDetail, error) {
	run, err := o.loadOwned(ctx, id, ownerID, ErrForbidden)
	if err != nil {
		return RunDetail{}, err
	}
	if expectedVersion != nil && *expectedVersion != run.Version {
		return RunDetail{}, ErrVersionConflict
	}
	if budgets == nil {
		return RunDetail{}, &ValidationError{Reason: "budgets map is required"}
	}
	if err := budget.Validate(budgets); err != nil {
		return RunDetail{}, &ValidationError{Reason: err.Error()}
	}

	run.Budgets = budgets
	run.UpdatedAt = o.clock()
	if run, err = o.runs.Update(ctx, run); err != nil {
		return RunDetail{}, fmt.Errorf("update run: %w", err)
	}
	stages, err := o.stages.ListByRun(ctx, run.ID)
	if err != nil {
		return RunDetail{}, fmt.Errorf("list stages: %w", err)
	}
	return RunDetail{Run: run, Stages: sortStages(stages)}, nil
}

// Get is a read-only projection. An ownership mismatch reads as not-found.
func (o *Orchestrator) Get(ctx context.Context, id uuid.UUID, ownerID string) (RunDetail, error) {
	run, err := o.loadOwned(ctx, id, ownerID, ErrNotFound)
	if err != nil {
		return RunDetail{}, err
	}
	stages, err := o.stages.ListByRun(ctx, run.ID)
	if err != nil {
		return RunDetail{}, fmt.Errorf("list stages: %w", err)
	}
	return RunDetail{Run: run, Stages: sortStages(stages)}, nil
}

func (o *Orchestrator) List(ctx context.Context, ownerID string) ([]RunDetail, error) {
	runs, err := o.runs.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	out := make([]RunDetail, 0, len(runs))
	for _, run := range runs {
		stages, err := o.stages.ListByRun(ctx, run.ID)
		if err != nil {
			return nil, fmt.Errorf("list stages: %w", err)
		}
		out = append(out, RunDetail{Run: run, Stages: sortStages(stages)})
	}
	return out, nil
}

// Authorize checks that the run exists and the caller owns it, surfacing
// the supplied error on mismatch. Read paths pass ErrNotFound, mutation
// paths ErrForbidden.
func (o *Orchestrator) Authorize(ctx context.Context, id uuid.UUID, ownerID string, onMismatch error) (domain.Run, error) {
	return o.loadOwned(ctx, id, ownerID, onMismatch)
}

func (o *Orchestrator) loadOwned(ctx context.Context, id uuid.UUID, ownerID string, onMismatch error) (domain.Run, error) {
	run, err := o.runs.Get(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Run{}, ErrNotFound
	} else if err != nil {
		return domain.Run{}, fmt.Errorf("load run: %w", err)
	}
	if run.OwnerID != ownerID {
		return domain.Run{}, onMismatch
	}
	return run, nil
}

// materializeStages creates a pending stage record for every canonical
// stage name the run does not have yet. Existing records, including those
// from a prior failed attempt, are preserved untouched.
func (o *Orchestrator) materializeStages(ctx context.Context, runID uuid.UUID) ([]domain.Stage, error) {
	existing, err := o.stages.ListByRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("list stages: %w", err)
	}
	have := make(map[string]struct{}, len(existing))
	for _, st := range existing {
		have[st.Name] = struct{}{}
	}
	for _, name := range pipeline.Order {
		if _, ok := have[name]; ok {
			continue
		}
		st := domain.Stage{
			ID:        uuid.New(),
			RunID:     runID,
			Name:      name,
			Status:    domain.StagePending,
			Telemetry: domain.Metadata{},
		}
		if err := o.stages.Create(ctx, st); err != nil {
			return nil, fmt.Errorf("materialize stage %s: %w", name, err)
		}
		existing = append(existing, st)
	}
	return existing, nil
}

func sortStages(stages []domain.Stage) []domain.Stage {
	sort.SliceStable(stages, func(i, j int) bool {
		return pipeline.Index(stages[i].Name) < pipeline.Index(stages[j].Name)
	})
	return stages
}
