package main

import (
	"net/http"
	"strings"

	"github.com/andronoma-labs/andronoma-go/internal/domain"
	"github.com/andronoma-labs/andronoma-go/internal/orchestrator"
)

type patchStageRequest struct {
	Status          *string        `json:"status,omitempty"`
	Notes           *string        `json:"notes,omitempty"`
	Telemetry       map[string]any `json:"telemetry,omitempty"`
	BudgetSpent     *float64       `json:"budget_spent,omitempty"`
	ExpectedVersion *int64         `json:"expected_version,omitempty"`
}

func (api *campaignsAPI) handlePatchStage(w http.ResponseWriter, r *http.Request) {
	owner, ok := api.identitySubject(w, r)
	if !ok {
		return
	}
	id, ok := api.runIDFromPath(w, r)
	if !ok {
		return
	}
	stageName := strings.TrimSpace(r.PathValue("stage_name"))
	if stageName == "" {
		api.writeError(w, r, http.StatusNotFound, "not_found")
		return
	}

	var req patchStageRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}

	patch := orchestrator.StagePatch{
		Notes:           req.Notes,
		Telemetry:       req.Telemetry,
		BudgetSpent:     req.BudgetSpent,
		ExpectedVersion: req.ExpectedVersion,
	}
	if req.Status != nil {
		status := domain.StageStatus(strings.ToLower(strings.TrimSpace(*req.Status)))
		patch.Status = &status
	}

	st, err := api.orch.PatchStage(r.Context(), id, owner, stageName, patch)
	if err != nil {
		api.writeOrchestratorError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, toStageResponse(st))
}

type patchBudgetsRequest struct {
	Budgets         map[string]float64 `json:"budgets"`
	ExpectedVersion *int64             `json:"expected_version,omitempty"`
}

func (api *campaignsAPI) handlePatchBudgets(w http.ResponseWriter, r *http.Request) {
	owner, ok := api.identitySubject(w, r)
	if !ok {
		return
	}
	id, ok := api.runIDFromPath(w, r)
	if !ok {
		return
	}

	var req patchBudgetsRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}

	detail, err := api.orch.PatchBudgets(r.Context(), id, owner, req.Budgets, req.ExpectedVersion)
	if err != nil {
		api.writeOrchestratorError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, toRunResponse(detail))
}
