package main

import (
	"net/http"
	"strings"
	"time"

	"github.com/andronoma-labs/andronoma-go/internal/domain"
	"github.com/andronoma-labs/andronoma-go/internal/orchestrator"
	"github.com/google/uuid"
)

const (
	defaultLogPageSize = 100
	maxLogPageSize     = 500
)

type logEntryResponse struct {
	LogID     string         `json:"log_id"`
	RunID     string         `json:"run_id"`
	CreatedAt time.Time      `json:"created_at"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata"`
}

func toLogEntryResponse(entry domain.LogEntry) logEntryResponse {
	return logEntryResponse{
		LogID:     entry.ID.String(),
		RunID:     entry.RunID.String(),
		CreatedAt: entry.CreatedAt,
		Level:     entry.Level,
		Message:   entry.Message,
		Metadata:  entry.Metadata,
	}
}

func (api *campaignsAPI) handleListRunLogs(w http.ResponseWriter, r *http.Request) {
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

	limit := clampInt(parseIntQuery(r, "limit", defaultLogPageSize), 1, maxLogPageSize)

	var cursor *uuid.UUID
	if raw := strings.TrimSpace(r.URL.Query().Get("cursor")); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			api.writeError(w, r, http.StatusBadRequest, "invalid_cursor")
			return
		}
		cursor = &parsed
	}

	// A cursor naming a log entry this run does not own is not-found, the
	// same as any other reference to a record outside the caller's view.
	page, err := api.logs.List(r.Context(), id, limit, cursor)
	if err != nil {
		if isNoRows(err) {
			api.writeError(w, r, http.StatusNotFound, "not_found")
			return
		}
		api.writeOrchestratorError(w, r, err)
		return
	}

	entries := make([]logEntryResponse, 0, len(page.Entries))
	for _, entry := range page.Entries {
		entries = append(entries, toLogEntryResponse(entry))
	}
	body := map[string]any{
		"entries":     entries,
		"next_cursor": nil,
	}
	if page.NextCursor != nil {
		body["next_cursor"] = page.NextCursor.String()
	}
	api.writeJSON(w, http.StatusOK, body)
}
