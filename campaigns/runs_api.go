package main

import (
	"net/http"

	"github.com/andronoma-labs/andronoma-go/internal/orchestrator"
)

type createRunRequest struct {
	Config  map[string]any     `json:"config,omitempty"`
	Budgets map[string]float64 `json:"budgets,omitempty"`
}

func (api *campaignsAPI) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	owner, ok := api.identitySubject(w, r)
	if !ok {
		return
	}

	var req createRunRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}

	detail, err := api.orch.Create(r.Context(), orchestrator.CreateInput{
		OwnerID: owner,
		Config:  req.Config,
		Budgets: req.Budgets,
	})
	if err != nil {
		api.writeOrchestratorError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusCreated, toRunResponse(detail))
}

func (api *campaignsAPI) handleListRuns(w http.ResponseWriter, r *http.Request) {
	owner, ok := api.identitySubject(w, r)
	if !ok {
		return
	}

	details, err := api.orch.List(r.Context(), owner)
	if err != nil {
		api.writeOrchestratorError(w, r, err)
		return
	}
	runs := make([]runResponse, 0, len(details))
	for _, detail := range details {
		runs = append(runs, toRunResponse(detail))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (api *campaignsAPI) handleGetRun(w http.ResponseWriter, r *http.Request) {
	owner, ok := api.identitySubject(w, r)
	if !ok {
		return
	}
	id, ok := api.runIDFromPath(w, r)
	if !ok {
		return
	}

	detail, err := api.orch.Get(r.Context(), id, owner)
	if err != nil {
		api.writeOrchestratorError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, toRunResponse(detail))
}

func (api *campaignsAPI) handleStartRun(w http.ResponseWriter, r *http.Request) {
	owner, ok := api.identitySubject(w, r)
	if !ok {
		return
	}
	id, ok := api.runIDFromPath(w, r)
	if !ok {
		return
	}

	detail, err := api.orch.Start(r.Context(), id, owner)
	if err != nil {
		api.writeOrchestratorError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusAccepted, toRunResponse(detail))
}

func (api *campaignsAPI) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	owner, ok := api.identitySubject(w, r)
	if !ok {
		return
	}
	id, ok := api.runIDFromPath(w, r)
	if !ok {
		return
	}

	detail, err := api.orch.Cancel(r.Context(), id, owner)
	if err != nil {
		api.writeOrchestratorError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, toRunResponse(detail))
}
