package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/andronoma-labs/andronoma-go/internal/orchestrator"
	"github.com/google/uuid"
)

const streamHeartbeatInterval = 15 * time.Second

func writeSSE(w http.ResponseWriter, event string, id string, payload any) error {
	if event != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
			return err
		}
	}
	if id != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", id); err != nil {
			return err
		}
	}
	blob, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", blob); err != nil {
		return err
	}
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}

// handleStreamRunLogs streams a run's log as server-sent events. The
// subscription attaches before the durable backfill is read so entries
// appended during the backfill are not lost; the id-based dedup below
// drops the overlap.
func (api *campaignsAPI) handleStreamRunLogs(w http.ResponseWriter, r *http.Request) {
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

	var cursor *uuid.UUID
	if raw := strings.TrimSpace(r.URL.Query().Get("cursor")); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			api.writeError(w, r, http.StatusBadRequest, "invalid_cursor")
			return
		}
		cursor = &parsed
		// Resolve the cursor before the stream starts so a cursor owned
		// by another run fails as not-found instead of mid-stream.
		if _, err := api.logs.List(r.Context(), id, 1, cursor); err != nil {
			if isNoRows(err) {
				api.writeError(w, r, http.StatusNotFound, "not_found")
				return
			}
			api.writeOrchestratorError(w, r, err)
			return
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		api.writeError(w, r, http.StatusInternalServerError, "streaming_not_supported")
		return
	}

	sub := api.broker.Subscribe(id)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	_ = writeSSE(w, "ready", "", map[string]any{
		"run_id":     id.String(),
		"server_ts":  time.Now().UTC().Unix(),
		"request_id": r.Header.Get("X-Request-Id"),
	})

	seen := make(map[uuid.UUID]struct{})
	for {
		page, err := api.logs.List(r.Context(), id, maxLogPageSize, cursor)
		if err != nil {
			return
		}
		for _, entry := range page.Entries {
			seen[entry.ID] = struct{}{}
			if err := writeSSE(w, "log", entry.ID.String(), toLogEntryResponse(entry)); err != nil {
				return
			}
		}
		if page.NextCursor == nil {
			break
		}
		cursor = page.NextCursor
	}

	heartbeat := time.NewTicker(streamHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case entry, open := <-sub.C:
			if !open {
				return
			}
			if _, dup := seen[entry.ID]; dup {
				continue
			}
			if err := writeSSE(w, "log", entry.ID.String(), toLogEntryResponse(entry)); err != nil {
				return
			}
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
