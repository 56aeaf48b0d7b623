package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/andronoma-labs/andronoma-go/internal/domain"
	"github.com/andronoma-labs/andronoma-go/internal/repo"
	"github.com/google/uuid"
)

type LogStore struct {
	db DB
}

func NewLogStore(db DB) *LogStore {
	if db == nil {
		return nil
	}
	return &LogStore{db: db}
}

func (s *LogStore) Append(ctx context.Context, entry domain.LogEntry) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("log store not initialized")
	}
	if err := entry.Validate(); err != nil {
		return err
	}
	metadataJSON, err := encodeMetadata(entry.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO run_logs (
			log_id,
			run_id,
			created_at,
			level,
			message,
			metadata
		) VALUES ($1,$2,$3,$4,$5,$6)`,
		entry.ID,
		entry.RunID,
		normalizeTime(entry.CreatedAt),
		strings.TrimSpace(entry.Level),
		entry.Message,
		metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("insert log entry: %w", err)
	}
	return nil
}

// List pages the run's log ascending by (created_at, log_id). The cursor is
// the id of the last entry of the previous page and must belong to the run.
func (s *LogStore) List(ctx context.Context, runID uuid.UUID, limit int, after *uuid.UUID) (repo.LogPage, error) {
	if s == nil || s.db == nil {
		return repo.LogPage{}, fmt.Errorf("log store not initialized")
	}
	if limit <= 0 {
		return repo.LogPage{}, fmt.Errorf("limit must be positive")
	}
	query := `SELECT log_id, run_id, created_at, level, message, metadata
	 FROM run_logs
	 WHERE run_id = $1`
	args := []any{runID}
	if after != nil {
		var cursorCreatedAt time.Time
		row := s.db.QueryRowContext(
			ctx,
			`SELECT created_at FROM run_logs WHERE run_id = $1 AND log_id = $2`,
			runID,
			*after,
		)
		if err := row.Scan(&cursorCreatedAt); err != nil {
			return repo.LogPage{}, handleNotFound(err)
		}
		query += ` AND (created_at, log_id) > ($2, $3)`
		args = append(args, cursorCreatedAt.UTC(), *after)
	}
	query += fmt.Sprintf(` ORDER BY created_at ASC, log_id ASC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return repo.LogPage{}, fmt.Errorf("list log entries: %w", err)
	}
	defer rows.Close()
	var page repo.LogPage
	for rows.Next() {
		var entry domain.LogEntry
		var metadataJSON []byte
		if err := rows.Scan(&entry.ID, &entry.RunID, &entry.CreatedAt, &entry.Level, &entry.Message, &metadataJSON); err != nil {
			return repo.LogPage{}, err
		}
		if entry.Metadata, err = decodeMetadata(metadataJSON); err != nil {
			return repo.LogPage{}, fmt.Errorf("decode metadata: %w", err)
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		page.Entries = append(page.Entries, entry)
	}
	if err := rows.Err(); err != nil {
		return repo.LogPage{}, fmt.Errorf("list log entries: %w", err)
	}
	if len(page.Entries) == limit {
		last := page.Entries[len(page.Entries)-1].ID
		page.NextCursor = &last
	}
	return page, nil
}
