package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/andronoma-labs/andronoma-go/internal/assets"
	"github.com/andronoma-labs/andronoma-go/internal/domain"
	"github.com/andronoma-labs/andronoma-go/internal/logbroker"
	"github.com/andronoma-labs/andronoma-go/internal/orchestrator"
	"github.com/andronoma-labs/andronoma-go/internal/platform/auth"
	"github.com/andronoma-labs/andronoma-go/internal/repo"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

type campaignsAPI struct {
	logger *slog.Logger
	orch   *orchestrator.Orchestrator
	logs   repo.LogRepository
	assets repo.AssetRepository
	sink   *assets.Sink
	broker *logbroker.Broker
}

func newCampaignsAPI(
	logger *slog.Logger,
	orch *orchestrator.Orchestrator,
	logs repo.LogRepository,
	assetRepo repo.AssetRepository,
	sink *assets.Sink,
	broker *logbroker.Broker,
) *campaignsAPI {
	return &campaignsAPI{
		logger: logger,
		orch:   orch,
		logs:   logs,
		assets: assetRepo,
		sink:   sink,
		broker: broker,
	}
}

func (api *campaignsAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /runs", api.handleListRuns)
	mux.HandleFunc("POST /runs", api.handleCreateRun)
	mux.HandleFunc("GET /runs/{run_id}", api.handleGetRun)
	mux.HandleFunc("POST /runs/{run_id}/start", api.handleStartRun)
	mux.HandleFunc("POST /runs/{run_id}/cancel", api.handleCancelRun)

	mux.HandleFunc("PATCH /runs/{run_id}/stages/{stage_name}", api.handlePatchStage)
	mux.HandleFunc("PUT /runs/{run_id}/budgets", api.handlePatchBudgets)

	mux.HandleFunc("GET /runs/{run_id}/logs", api.handleListRunLogs)
	mux.HandleFunc("GET /runs/{run_id}/logs/stream", api.handleStreamRunLogs)

	mux.HandleFunc("GET /runs/{run_id}/assets", api.handleListRunAssets)
	mux.HandleFunc("GET /runs/{run_id}/assets/{asset_id}/download", api.handleDownloadRunAsset)
}

type stageResponse struct {
	Name        string         `json:"name"`
	Status      string         `json:"status"`
	StartedAt   *time.Time     `json:"started_at"`
	FinishedAt  *time.Time     `json:"finished_at"`
	Telemetry   map[string]any `json:"telemetry"`
	BudgetSpent float64        `json:"budget_spent"`
	Notes       string         `json:"notes,omitempty"`
	Version     int64          `json:"version"`
}

type runResponse struct {
	RunID     string             `json:"run_id"`
	OwnerID   string             `json:"owner_id"`
	Status    string             `json:"status"`
	Config    map[string]any     `json:"config"`
	Budgets   map[string]float64 `json:"budgets"`
	Telemetry map[string]any     `json:"telemetry"`
	Version   int64              `json:"version"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
	Stages    []stageResponse    `json:"stages"`
}

func toStageResponse(st domain.Stage) stageResponse {
	return stageResponse{
		Name:        st.Name,
		Status:      string(st.Status),
		StartedAt:   st.StartedAt,
		FinishedAt:  st.FinishedAt,
		Telemetry:   st.Telemetry,
		BudgetSpent: st.BudgetSpent,
		Notes:       st.Notes,
		Version:     st.Version,
	}
}

func toRunResponse(detail orchestrator.RunDetail) runResponse {
	stages := make([]stageResponse, 0, len(detail.Stages))
	for _, st := range detail.Stages {
		stages = append(stages, toStageResponse(st))
	}
	return runResponse{
		RunID:     detail.Run.ID.String(),
		OwnerID:   detail.Run.OwnerID,
		Status:    string(detail.Run.Status),
		Config:    detail.Run.Config,
		Budgets:   detail.Run.Budgets,
		Telemetry: detail.Run.Telemetry,
		Version:   detail.Run.Version,
		CreatedAt: detail.Run.CreatedAt,
		UpdatedAt: detail.Run.UpdatedAt,
		Stages:    stages,
	}
}

// identitySubject resolves the owner id of the authenticated caller.
func (api *campaignsAPI) identitySubject(w http.ResponseWriter, r *http.Request) (string, bool) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || strings.TrimSpace(identity.Subject) == "" {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return "", false
	}
	return strings.TrimSpace(identity.Subject), true
}

func (api *campaignsAPI) runIDFromPath(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := strings.TrimSpace(r.PathValue("run_id"))
	id, err := uuid.Parse(raw)
	if err != nil {
		api.writeError(w, r, http.StatusNotFound, "not_found")
		return uuid.Nil, false
	}
	return id, true
}

// writeOrchestratorError maps domain failures onto the API's status codes:
// missing or unreadable records are 404, ownership denials on mutations are
// 403, malformed input and illegal state transitions are 400, and stale
// version preconditions are 409.
func (api *campaignsAPI) writeOrchestratorError(w http.ResponseWriter, r *http.Request, err error) {
	var validationErr *orchestrator.ValidationError
	var stateErr *orchestrator.StateError
	switch {
	case errors.Is(err, orchestrator.ErrNotFound):
		api.writeError(w, r, http.StatusNotFound, "not_found")
	case errors.Is(err, orchestrator.ErrForbidden):
		api.writeError(w, r, http.StatusForbidden, "forbidden")
	case errors.Is(err, orchestrator.ErrVersionConflict):
		api.writeError(w, r, http.StatusConflict, "version_conflict")
	case errors.As(err, &validationErr):
		api.writeErrorDetail(w, r, http.StatusBadRequest, "validation_failed", validationErr.Reason)
	case errors.As(err, &stateErr):
		api.writeErrorDetail(w, r, http.StatusBadRequest, "invalid_state", stateErr.Reason)
	default:
		api.logger.Error("request failed",
			"request_id", r.Header.Get("X-Request-Id"),
			"method", r.Method,
			"path", r.URL.Path,
			"error", err.Error(),
		)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("multiple JSON values")
	}
	return nil
}

func (api *campaignsAPI) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(body)
}

func (api *campaignsAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	api.writeJSON(w, status, map[string]any{
		"error":      code,
		"request_id": r.Header.Get("X-Request-Id"),
	})
}

func (api *campaignsAPI) writeErrorDetail(w http.ResponseWriter, r *http.Request, status int, code string, detail string) {
	api.writeJSON(w, status, map[string]any{
		"error":      code,
		"detail":     detail,
		"request_id": r.Header.Get("X-Request-Id"),
	})
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || errors.Is(err, repo.ErrNotFound)
}

func parseIntQuery(r *http.Request, key string, def int) int {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return parsed
}

func clampInt(v int, min int, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
