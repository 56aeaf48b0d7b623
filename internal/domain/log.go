package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// LogEntry is an append-only record of run progress. Entries are ordered by
// (created_at, id) so pagination stays stable under timestamp collisions.
type LogEntry struct {
	ID        uuid.UUID
	RunID     uuid.UUID
	CreatedAt time.Time
	Level     string
	Message   string
	Metadata  Metadata
}

func (e LogEntry) Validate() error {
	if e.ID == uuid.Nil {
		return errors.New("log id is required")
	}
	if e.RunID == uuid.Nil {
		return errors.New("run id is required")
	}
	if strings.TrimSpace(e.Level) == "" {
		return errors.New("level is required")
	}
	if strings.TrimSpace(e.Message) == "" {
		return errors.New("message is required")
	}
	return nil
}
