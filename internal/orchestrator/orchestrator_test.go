package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/andronoma-labs/andronoma-go/internal/domain"
	"github.com/andronoma-labs/andronoma-go/internal/logbroker"
	"github.com/andronoma-labs/andronoma-go/internal/pipeline"
	"github.com/andronoma-labs/andronoma-go/internal/repo/memory"
	"github.com/google/uuid"
)

type recordingDispatcher struct {
	chains [][]string
	runIDs []uuid.UUID
}

func (d *recordingDispatcher) SubmitChain(ctx context.Context, runID uuid.UUID, stages []string) error {
	d.runIDs = append(d.runIDs, runID)
	chain := make([]string, len(stages))
	copy(chain, stages)
	d.chains = append(d.chains, chain)
	return nil
}

type fixture struct {
	orch       *Orchestrator
	runs       *memory.RunStore
	stages     *memory.StageStore
	logs       *memory.LogStore
	dispatcher *recordingDispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	runs := memory.NewRunStore()
	stages := memory.NewStageStore()
	logs := memory.NewLogStore()
	dispatcher := &recordingDispatcher{}
	emitter := logbroker.NewEmitter(logs, logbroker.NewBroker(), nil)
	orch := New(runs, stages, emitter, dispatcher, 1000)
	return &fixture{orch: orch, runs: runs, stages: stages, logs: logs, dispatcher: dispatcher}
}

const owner = "user-1"

func (f *fixture) createRun(t *testing.T) RunDetail {
	t.Helper()
	detail, err := f.orch.Create(context.Background(), CreateInput{OwnerID: owner})
	if err != nil {
		t.Fatalf("Create() err=%v", err)
	}
	return detail
}

func TestCreateDefaultsBudgets(t *testing.T) {
	f := newFixture(t)
	detail := f.createRun(t)

	if detail.Run.Status != domain.RunPending {
		t.Fatalf("status=%s, want pending", detail.Run.Status)
	}
	if len(detail.Stages) != 0 {
		t.Fatalf("create materialized %d stages, want 0", len(detail.Stages))
	}
	want := pipeline.DefaultBudgets(1000)
	for name, amount := range want {
		if detail.Run.Budgets[name] != amount {
			t.Errorf("budget[%s]=%v, want %v", name, detail.Run.Budgets[name], amount)
		}
	}
}

func TestCreateRejectsInvalidBudgets(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.Create(context.Background(), CreateInput{
		OwnerID: owner,
		Budgets: map[string]float64{"deploy": 10},
	})
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("Create() err=%v, want ValidationError", err)
	}
}

func TestStartMaterializesStages(t *testing.T) {
	f := newFixture(t)
	created := f.createRun(t)

	detail, err := f.orch.Start(context.Background(), created.Run.ID, owner)
	if err != nil {
		t.Fatalf("Start() err=%v", err)
	}
	if detail.Run.Status != domain.RunRunning {
		t.Fatalf("status=%s, want running", detail.Run.Status)
	}
	if len(detail.Stages) != len(pipeline.Order) {
		t.Fatalf("materialized %d stages, want %d", len(detail.Stages), len(pipeline.Order))
	}
	for i, st := range detail.Stages {
		if st.Name != pipeline.Order[i] {
			t.Errorf("stage[%d]=%s, want %s", i, st.Name, pipeline.Order[i])
		}
		if st.Status != domain.StagePending {
			t.Errorf("stage %s status=%s, want pending", st.Name, st.Status)
		}
	}
	if len(f.dispatcher.chains) != 1 {
		t.Fatalf("submitted %d chains, want 1", len(f.dispatcher.chains))
	}
}

func TestStartRejectsActiveRun(t *testing.T) {
	f := newFixture(t)
	created := f.createRun(t)
	if _, err := f.orch.Start(context.Background(), created.Run.ID, owner); err != nil {
		t.Fatalf("Start() err=%v", err)
	}

	_, err := f.orch.Start(context.Background(), created.Run.ID, owner)
	var stateErr *StateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("second Start() err=%v, want StateError", err)
	}
}

func TestStartFailedRunPreservesStageRecords(t *testing.T) {
	f := newFixture(t)
	created := f.createRun(t)
	ctx := context.Background()
	if _, err := f.orch.Start(ctx, created.Run.ID, owner); err != nil {
		t.Fatalf("Start() err=%v", err)
	}

	// Simulate one completed stage and a failed run.
	st, err := f.stages.Get(ctx, created.Run.ID, pipeline.StageScrape)
	if err != nil {
		t.Fatalf("Get stage err=%v", err)
	}
	now := time.Now().UTC()
	st.Status = domain.StageCompleted
	st.FinishedAt = &now
	st.BudgetSpent = 42
	if _, err := f.stages.Update(ctx, st); err != nil {
		t.Fatalf("Update stage err=%v", err)
	}
	run, _ := f.runs.Get(ctx, created.Run.ID)
	run.Status = domain.RunFailed
	if _, err := f.runs.Update(ctx, run); err != nil {
		t.Fatalf("Update run err=%v", err)
	}

	detail, err := f.orch.Start(ctx, created.Run.ID, owner)
	if err != nil {
		t.Fatalf("retry Start() err=%v", err)
	}
	for _, got := range detail.Stages {
		if got.Name != pipeline.StageScrape {
			continue
		}
		if got.Status != domain.StageCompleted || got.BudgetSpent != 42 {
			t.Fatalf("retry reset completed stage: %+v", got)
		}
	}
}

func TestCancelSkipsUnfinishedStages(t *testing.T) {
	f := newFixture(t)
	created := f.createRun(t)
	ctx := context.Background()
	if _, err := f.orch.Start(ctx, created.Run.ID, owner); err != nil {
		t.Fatalf("Start() err=%v", err)
	}

	st, _ := f.stages.Get(ctx, created.Run.ID, pipeline.StageScrape)
	st.Status = domain.StageCompleted
	if _, err := f.stages.Update(ctx, st); err != nil {
		t.Fatalf("Update stage err=%v", err)
	}

	detail, err := f.orch.Cancel(ctx, created.Run.ID, owner)
	if err != nil {
		t.Fatalf("Cancel() err=%v", err)
	}
	if detail.Run.Status != domain.RunCancelled {
		t.Fatalf("status=%s, want cancelled", detail.Run.Status)
	}
	for _, got := range detail.Stages {
		if got.Name == pipeline.StageScrape {
			if got.Status != domain.StageCompleted {
				t.Errorf("completed stage coerced to %s", got.Status)
			}
			continue
		}
		if got.Status != domain.StageSkipped {
			t.Errorf("stage %s status=%s, want skipped", got.Name, got.Status)
		}
		if got.FinishedAt == nil {
			t.Errorf("stage %s has no finish time", got.Name)
		}
	}

	_, err = f.orch.Cancel(ctx, created.Run.ID, owner)
	var stateErr *StateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("Cancel() of cancelled run err=%v, want StateError", err)
	}
}

func TestPatchStageStatusTransition(t *testing.T) {
	f := newFixture(t)
	created := f.createRun(t)
	ctx := context.Background()
	if _, err := f.orch.Start(ctx, created.Run.ID, owner); err != nil {
		t.Fatalf("Start() err=%v", err)
	}

	running := domain.StageRunning
	st, err := f.orch.PatchStage(ctx, created.Run.ID, owner, pipeline.StageScrape, StagePatch{Status: &running})
	if err != nil {
		t.Fatalf("PatchStage() err=%v", err)
	}
	if st.Status != domain.StageRunning || st.StartedAt == nil {
		t.Fatalf("patched stage %+v", st)
	}

	pending := domain.StagePending
	_, err = f.orch.PatchStage(ctx, created.Run.ID, owner, pipeline.StageScrape, StagePatch{Status: &pending})
	var stateErr *StateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("illegal transition err=%v, want StateError", err)
	}
}

func TestPatchStageSameStatusStillAppliesFields(t *testing.T) {
	f := newFixture(t)
	created := f.createRun(t)
	ctx := context.Background()
	if _, err := f.orch.Start(ctx, created.Run.ID, owner); err != nil {
		t.Fatalf("Start() err=%v", err)
	}

	pending := domain.StagePending
	notes := "manual annotation"
	st, err := f.orch.PatchStage(ctx, created.Run.ID, owner, pipeline.StageQA, StagePatch{Status: &pending, Notes: &notes})
	if err != nil {
		t.Fatalf("same-status patch err=%v", err)
	}
	if st.Status != domain.StagePending || st.Notes != notes {
		t.Fatalf("patched stage %+v", st)
	}
}

func TestPatchStageTelemetryMirroredIntoRun(t *testing.T) {
	f := newFixture(t)
	created := f.createRun(t)
	ctx := context.Background()
	if _, err := f.orch.Start(ctx, created.Run.ID, owner); err != nil {
		t.Fatalf("Start() err=%v", err)
	}

	_, err := f.orch.PatchStage(ctx, created.Run.ID, owner, pipeline.StageProcess, StagePatch{
		Telemetry: domain.Metadata{"keywords": 12},
	})
	if err != nil {
		t.Fatalf("PatchStage() err=%v", err)
	}
	_, err = f.orch.PatchStage(ctx, created.Run.ID, owner, pipeline.StageProcess, StagePatch{
		Telemetry: domain.Metadata{"tokens": 900},
	})
	if err != nil {
		t.Fatalf("PatchStage() err=%v", err)
	}

	detail, err := f.orch.Get(ctx, created.Run.ID, owner)
	if err != nil {
		t.Fatalf("Get() err=%v", err)
	}
	mirror, ok := detail.Run.Telemetry[pipeline.StageProcess].(map[string]any)
	if !ok {
		t.Fatalf("run telemetry mirror missing: %+v", detail.Run.Telemetry)
	}
	if mirror["keywords"] != 12 || mirror["tokens"] != 900 {
		t.Fatalf("mirror=%+v, want both keys merged", mirror)
	}
}

func TestPatchStageVersionConflict(t *testing.T) {
	f := newFixture(t)
	created := f.createRun(t)
	ctx := context.Background()
	if _, err := f.orch.Start(ctx, created.Run.ID, owner); err != nil {
		t.Fatalf("Start() err=%v", err)
	}

	stale := int64(999)
	_, err := f.orch.PatchStage(ctx, created.Run.ID, owner, pipeline.StageScrape, StagePatch{ExpectedVersion: &stale})
	if !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("stale patch err=%v, want ErrVersionConflict", err)
	}
}

func TestPatchBudgetsReplacesWholesale(t *testing.T) {
	f := newFixture(t)
	created := f.createRun(t)
	ctx := context.Background()

	detail, err := f.orch.PatchBudgets(ctx, created.Run.ID, owner, map[string]float64{pipeline.StageQA: 50}, nil)
	if err != nil {
		t.Fatalf("PatchBudgets() err=%v", err)
	}
	if len(detail.Run.Budgets) != 1 || detail.Run.Budgets[pipeline.StageQA] != 50 {
		t.Fatalf("budgets=%+v, want wholesale replacement", detail.Run.Budgets)
	}

	// A rejected update must leave the stored map untouched.
	_, err = f.orch.PatchBudgets(ctx, created.Run.ID, owner, map[string]float64{"deploy": 1}, nil)
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("invalid budgets err=%v, want ValidationError", err)
	}
	after, err := f.orch.Get(ctx, created.Run.ID, owner)
	if err != nil {
		t.Fatalf("Get() err=%v", err)
	}
	if len(after.Run.Budgets) != 1 || after.Run.Budgets[pipeline.StageQA] != 50 {
		t.Fatalf("budgets mutated by rejected update: %+v", after.Run.Budgets)
	}
}

func TestOwnershipAsymmetry(t *testing.T) {
	f := newFixture(t)
	created := f.createRun(t)
	ctx := context.Background()

	if _, err := f.orch.Get(ctx, created.Run.ID, "intruder"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("read with wrong owner err=%v, want ErrNotFound", err)
	}
	if _, err := f.orch.Start(ctx, created.Run.ID, "intruder"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("mutation with wrong owner err=%v, want ErrForbidden", err)
	}
	if _, err := f.orch.Get(ctx, uuid.New(), owner); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing run err=%v, want ErrNotFound", err)
	}
}
