package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/andronoma-labs/andronoma-go/internal/domain"
	"github.com/andronoma-labs/andronoma-go/internal/logbroker"
	"github.com/andronoma-labs/andronoma-go/internal/orchestrator"
	"github.com/andronoma-labs/andronoma-go/internal/pipeline"
	"github.com/andronoma-labs/andronoma-go/internal/platform/auth"
	"github.com/andronoma-labs/andronoma-go/internal/repo/memory"
)

type noopDispatcher struct {
	chains int
}

func (d *noopDispatcher) SubmitChain(ctx context.Context, runID uuid.UUID, stages []string) error {
	d.chains++
	return nil
}

type apiFixture struct {
	mux        *http.ServeMux
	dispatcher *noopDispatcher
	logs       *memory.LogStore
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	logs := memory.NewLogStore()
	broker := logbroker.NewBroker()
	emitter := logbroker.NewEmitter(logs, broker, logger)
	dispatcher := &noopDispatcher{}
	orch := orchestrator.New(memory.NewRunStore(), memory.NewStageStore(), emitter, dispatcher, 1000)

	api := newCampaignsAPI(logger, orch, logs, memory.NewAssetStore(), nil, broker)
	mux := http.NewServeMux()
	api.register(mux)
	return &apiFixture{mux: mux, dispatcher: dispatcher, logs: logs}
}

func (f *apiFixture) do(t *testing.T, method, path, owner string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, "http://example.test"+path, &buf)
	req = req.WithContext(auth.ContextWithIdentity(req.Context(),
		auth.Identity{Subject: owner, Roles: []string{"admin"}}))
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func decodeRun(t *testing.T, rec *httptest.ResponseRecorder) runResponse {
	t.Helper()
	var run runResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &run); err != nil {
		t.Fatalf("unmarshal run: %v\n%s", err, rec.Body.String())
	}
	return run
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal error body: %v\n%s", err, rec.Body.String())
	}
	code, _ := body["error"].(string)
	return code
}

func TestCreateRunDefaultsBudgets(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/runs", "user-1", map[string]any{
		"config": map[string]any{"urls": []string{"https://example.com"}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status=%d, want 201\n%s", rec.Code, rec.Body.String())
	}

	run := decodeRun(t, rec)
	if run.Status != "pending" {
		t.Fatalf("status=%q, want pending", run.Status)
	}
	if run.OwnerID != "user-1" {
		t.Fatalf("owner=%q, want user-1", run.OwnerID)
	}
	if got := run.Budgets[pipeline.StageScrape]; got != 100 {
		t.Fatalf("scrape budget=%v, want 100", got)
	}
	if got := run.Budgets[pipeline.StageCreatives]; got != 200 {
		t.Fatalf("creatives budget=%v, want 200", got)
	}
	if len(run.Stages) != 0 {
		t.Fatalf("stages=%d, want none before start", len(run.Stages))
	}
}

func TestCreateRunRejectsUnknownBudgetStage(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/runs", "user-1", map[string]any{
		"budgets": map[string]float64{"deploy": 50},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", rec.Code)
	}
	if code := errorCode(t, rec); code != "validation_failed" {
		t.Fatalf("error=%q, want validation_failed", code)
	}
}

func TestCreateRunRejectsMalformedBody(t *testing.T) {
	f := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodPost, "http://example.test/runs", bytes.NewBufferString("{"))
	req = req.WithContext(auth.ContextWithIdentity(req.Context(),
		auth.Identity{Subject: "user-1", Roles: []string{"admin"}}))
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", rec.Code)
	}
	if code := errorCode(t, rec); code != "invalid_json" {
		t.Fatalf("error=%q, want invalid_json", code)
	}

	rec = f.do(t, http.MethodPost, "/runs", "user-1", map[string]any{"unknown_field": 1})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown field status=%d, want 400", rec.Code)
	}
}

func TestStartRunMaterializesStages(t *testing.T) {
	f := newAPIFixture(t)

	created := decodeRun(t, f.do(t, http.MethodPost, "/runs", "user-1", map[string]any{}))
	rec := f.do(t, http.MethodPost, "/runs/"+created.RunID+"/start", "user-1", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status=%d, want 202\n%s", rec.Code, rec.Body.String())
	}

	run := decodeRun(t, rec)
	if run.Status != "running" {
		t.Fatalf("status=%q, want running", run.Status)
	}
	if len(run.Stages) != len(pipeline.Order) {
		t.Fatalf("stages=%d, want %d", len(run.Stages), len(pipeline.Order))
	}
	for i, st := range run.Stages {
		if st.Name != pipeline.Order[i] {
			t.Fatalf("stage[%d]=%q, want %q", i, st.Name, pipeline.Order[i])
		}
		if st.Status != "pending" {
			t.Fatalf("stage %s status=%q, want pending", st.Name, st.Status)
		}
	}
	if f.dispatcher.chains != 1 {
		t.Fatalf("chains=%d, want 1", f.dispatcher.chains)
	}
}

func TestGetRunMalformedID(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/runs/not-a-uuid", "user-1", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d, want 404", rec.Code)
	}
}

func TestOwnershipResponses(t *testing.T) {
	f := newAPIFixture(t)
	created := decodeRun(t, f.do(t, http.MethodPost, "/runs", "user-1", map[string]any{}))

	// Reads by another owner must not reveal the run exists.
	rec := f.do(t, http.MethodGet, "/runs/"+created.RunID, "user-2", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("foreign read status=%d, want 404", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/runs/"+created.RunID+"/start", "user-2", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("foreign mutation status=%d, want 403", rec.Code)
	}
}

func TestPatchStage(t *testing.T) {
	f := newAPIFixture(t)
	created := decodeRun(t, f.do(t, http.MethodPost, "/runs", "user-1", map[string]any{}))
	f.do(t, http.MethodPost, "/runs/"+created.RunID+"/start", "user-1", nil)

	rec := f.do(t, http.MethodPatch, "/runs/"+created.RunID+"/stages/scrape", "user-1", map[string]any{
		"status": "running",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200\n%s", rec.Code, rec.Body.String())
	}
	var st stageResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("unmarshal stage: %v", err)
	}
	if st.Status != "running" || st.StartedAt == nil {
		t.Fatalf("stage=%+v, want running with started_at", st)
	}

	rec = f.do(t, http.MethodPatch, "/runs/"+created.RunID+"/stages/scrape", "user-1", map[string]any{
		"status": "pending",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("illegal transition status=%d, want 400", rec.Code)
	}
	if code := errorCode(t, rec); code != "invalid_state" {
		t.Fatalf("error=%q, want invalid_state", code)
	}
}

func TestPatchBudgetsVersionConflict(t *testing.T) {
	f := newAPIFixture(t)
	created := decodeRun(t, f.do(t, http.MethodPost, "/runs", "user-1", map[string]any{}))

	rec := f.do(t, http.MethodPut, "/runs/"+created.RunID+"/budgets", "user-1", map[string]any{
		"budgets":          map[string]float64{"scrape": 500},
		"expected_version": 999,
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status=%d, want 409\n%s", rec.Code, rec.Body.String())
	}
	if code := errorCode(t, rec); code != "version_conflict" {
		t.Fatalf("error=%q, want version_conflict", code)
	}
}

func TestListRunLogsCursorErrors(t *testing.T) {
	f := newAPIFixture(t)
	created := decodeRun(t, f.do(t, http.MethodPost, "/runs", "user-1", map[string]any{}))

	rec := f.do(t, http.MethodGet, "/runs/"+created.RunID+"/logs?cursor=nope", "user-1", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", rec.Code)
	}
	if code := errorCode(t, rec); code != "invalid_cursor" {
		t.Fatalf("error=%q, want invalid_cursor", code)
	}

	// A well formed cursor that no log of this run owns reads as a
	// reference to a record outside the caller's view.
	rec = f.do(t, http.MethodGet, "/runs/"+created.RunID+"/logs?cursor="+uuid.NewString(), "user-1", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("foreign cursor status=%d, want 404", rec.Code)
	}
	if code := errorCode(t, rec); code != "not_found" {
		t.Fatalf("error=%q, want not_found", code)
	}
}

func (f *apiFixture) appendLog(t *testing.T, runID uuid.UUID, at time.Time, message string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	err := f.logs.Append(context.Background(), domain.LogEntry{
		ID:        id,
		RunID:     runID,
		CreatedAt: at,
		Level:     domain.LogLevelInfo,
		Message:   message,
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	return id
}

func TestListRunLogsPagination(t *testing.T) {
	f := newAPIFixture(t)
	created := decodeRun(t, f.do(t, http.MethodPost, "/runs", "user-1", map[string]any{}))
	runID := uuid.MustParse(created.RunID)

	base := time.Now().UTC()
	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		ids = append(ids, f.appendLog(t, runID, base.Add(time.Duration(i)*time.Millisecond), "line"))
	}

	var page struct {
		Entries []logEntryResponse `json:"entries"`
		Next    *string            `json:"next_cursor"`
	}
	rec := f.do(t, http.MethodGet, "/runs/"+created.RunID+"/logs?limit=2", "user-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200\n%s", rec.Code, rec.Body.String())
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("unmarshal page: %v", err)
	}
	if len(page.Entries) != 2 || page.Entries[0].LogID != ids[0].String() || page.Entries[1].LogID != ids[1].String() {
		t.Fatalf("first page = %+v, want entries 1-2 in order", page.Entries)
	}
	if page.Next == nil || *page.Next != ids[1].String() {
		t.Fatalf("next_cursor = %v, want %s", page.Next, ids[1])
	}

	rec = f.do(t, http.MethodGet, "/runs/"+created.RunID+"/logs?limit=2&cursor="+*page.Next, "user-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("second page status=%d, want 200\n%s", rec.Code, rec.Body.String())
	}
	page.Entries = nil
	page.Next = nil
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("unmarshal second page: %v", err)
	}
	if len(page.Entries) != 1 || page.Entries[0].LogID != ids[2].String() {
		t.Fatalf("second page = %+v, want only entry 3", page.Entries)
	}
	if page.Next != nil {
		t.Fatalf("next_cursor = %v, want null on the final page", *page.Next)
	}
}

func TestDownloadAssetNotFound(t *testing.T) {
	f := newAPIFixture(t)
	created := decodeRun(t, f.do(t, http.MethodPost, "/runs", "user-1", map[string]any{}))

	rec := f.do(t, http.MethodGet, "/runs/"+created.RunID+"/assets/"+uuid.NewString()+"/download", "user-1", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d, want 404", rec.Code)
	}
}
