package main

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/andronoma-labs/andronoma-go/internal/domain"
	"github.com/andronoma-labs/andronoma-go/internal/orchestrator"
	"github.com/google/uuid"
)

type assetResponse struct {
	AssetID    string         `json:"asset_id"`
	RunID      string         `json:"run_id"`
	Stage      string         `json:"stage"`
	Kind       string         `json:"kind"`
	StorageKey string         `json:"storage_key"`
	Extra      map[string]any `json:"extra"`
	CreatedAt  time.Time      `json:"created_at"`
}

func toAssetResponse(asset domain.Asset) assetResponse {
	return assetResponse{
		AssetID:    asset.ID.String(),
		RunID:      asset.RunID.String(),
		Stage:      asset.Stage,
		Kind:       asset.Kind,
		StorageKey: asset.StorageKey,
		Extra:      asset.Extra,
		CreatedAt:  asset.CreatedAt,
	}
}

func (api *campaignsAPI) handleListRunAssets(w http.ResponseWriter, r *http.Request) {
	owner, ok := api.identitySubject(w, r)
	if !ok {
		return
	}
	id, ok := api.runIDFromPath(w, r)
	if !ok {
		return
	}
	if _, err := api.orch.Authorize(r.Context(), id, owner, orchestrator.ErrNotFound); err != nil {
		api.writeOrchestratorError(w, r, err)
		return
	}

	records, err := api.assets.ListByRun(r.Context(), id)
	if err != nil {
		api.writeOrchestratorError(w, r, err)
		return
	}
	out := make([]assetResponse, 0, len(records))
	for _, asset := range records {
		out = append(out, toAssetResponse(asset))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"assets": out})
}

func (api *campaignsAPI) handleDownloadRunAsset(w http.ResponseWriter, r *http.Request) {
	owner, ok := api.identitySubject(w, r)
	if !ok {
		return
	}
	id, ok := api.runIDFromPath(w, r)
	if !ok {
		return
	}
	assetID, err := uuid.Parse(strings.TrimSpace(r.PathValue("asset_id")))
	if err != nil {
		api.writeError(w, r, http.StatusNotFound, "not_found")
		return
	}
	if _, err := api.orch.Authorize(r.Context(), id, owner, orchestrator.ErrNotFound); err != nil {
		api.writeOrchestratorError(w, r, err)
		return
	}

	asset, err := api.assets.Get(r.Context(), id, assetID)
	if err != nil {
		if isNoRows(err) {
			api.writeError(w, r, http.StatusNotFound, "not_found")
			return
		}
		api.writeOrchestratorError(w, r, err)
		return
	}

	obj, err := api.sink.Open(r.Context(), asset.StorageKey)
	if err != nil {
		api.writeOrchestratorError(w, r, err)
		return
	}
	defer func() { _ = obj.Close() }()

	contentType := "application/octet-stream"
	if ct, ok := asset.Extra["content_type"].(string); ok && strings.TrimSpace(ct) != "" {
		contentType = ct
	}
	w.Header().Set("Content-Type", contentType)

	filename := asset.StorageKey
	if idx := strings.LastIndex(filename, "/"); idx >= 0 {
		filename = filename[idx+1:]
	}
	if filename != "" {
		w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, obj)
}
