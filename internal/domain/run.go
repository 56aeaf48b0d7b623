package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RunStatus is the aggregate lifecycle state of a campaign run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

func (s RunStatus) Valid() bool {
	switch s {
	case RunPending, RunRunning, RunCompleted, RunFailed, RunCancelled:
		return true
	}
	return false
}

// Startable reports whether a run may be (re)started. A failed run is
// startable again: that is the retry path, and previously completed stages
// are preserved so the retry resumes rather than restarts.
func (s RunStatus) Startable() bool {
	return s == RunPending || s == RunFailed
}

// Cancellable reports whether a run may be cancelled.
func (s RunStatus) Cancellable() bool {
	return s == RunPending || s == RunRunning
}

// Run is one end-to-end execution of the seven-stage pipeline for one owner.
// Config is an opaque payload supplied by the caller and never interpreted
// by the orchestrator. Telemetry mirrors per-stage results under the stage
// name as stages complete.
type Run struct {
	ID        uuid.UUID
	OwnerID   string
	Status    RunStatus
	Config    Metadata
	Budgets   map[string]float64
	Telemetry Metadata
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (r Run) Validate() error {
	if r.ID == uuid.Nil {
		return errors.New("run id is required")
	}
	if strings.TrimSpace(r.OwnerID) == "" {
		return errors.New("owner id is required")
	}
	if !r.Status.Valid() {
		return errors.New("status is invalid")
	}
	for name, amount := range r.Budgets {
		if strings.TrimSpace(name) == "" {
			return errors.New("budget stage name is required")
		}
		if amount < 0 {
			return errors.New("budget amount must be non-negative")
		}
	}
	return nil
}
