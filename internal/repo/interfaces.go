// Package repo declares the persistence interfaces of the orchestration
// engine. The store provides transactional read-modify-commit per call but
// no cross-call locking; concurrent writers race last-write-wins unless a
// caller supplies a version precondition.
package repo

import (
	"context"
	"errors"

	"github.com/andronoma-labs/andronoma-go/internal/domain"
	"github.com/google/uuid"
)

var ErrNotFound = errors.New("not found")

// RunRepository manages run records.
type RunRepository interface {
	Create(ctx context.Context, run domain.Run) error
	Get(ctx context.Context, id uuid.UUID) (domain.Run, error)
	ListByOwner(ctx context.Context, ownerID string) ([]domain.Run, error)
	// Update persists the supplied record wholesale and bumps its version.
	Update(ctx context.Context, run domain.Run) (domain.Run, error)
}

// StageRepository manages the stage records a run owns, keyed by
// (run id, stage name).
type StageRepository interface {
	Create(ctx context.Context, stage domain.Stage) error
	Get(ctx context.Context, runID uuid.UUID, name string) (domain.Stage, error)
	ListByRun(ctx context.Context, runID uuid.UUID) ([]domain.Stage, error)
	Update(ctx context.Context, stage domain.Stage) (domain.Stage, error)
}

// LogPage is one keyset-paginated slice of a run's log history. NextCursor
// is set only when the page was full, meaning more entries may follow.
type LogPage struct {
	Entries    []domain.LogEntry
	NextCursor *uuid.UUID
}

// LogRepository appends and pages the durable run log, ordered ascending by
// (created_at, id).
type LogRepository interface {
	Append(ctx context.Context, entry domain.LogEntry) error
	// List returns up to limit entries after the cursor. A cursor that does
	// not belong to the run fails with ErrNotFound.
	List(ctx context.Context, runID uuid.UUID, limit int, after *uuid.UUID) (LogPage, error)
}

// AssetRepository manages asset records, listed newest first.
type AssetRepository interface {
	Create(ctx context.Context, asset domain.Asset) error
	Get(ctx context.Context, runID, id uuid.UUID) (domain.Asset, error)
	ListByRun(ctx context.Context, runID uuid.UUID) ([]domain.Asset, error)
}
