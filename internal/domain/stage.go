package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// StageStatus is the lifecycle state of a single pipeline stage.
type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageRunning   StageStatus = "running"
	StageCompleted StageStatus = "completed"
	StageFailed    StageStatus = "failed"
	StageSkipped   StageStatus = "skipped"
)

func (s StageStatus) Valid() bool {
	switch s {
	case StagePending, StageRunning, StageCompleted, StageFailed, StageSkipped:
		return true
	}
	return false
}

// Terminal reports whether the status ends a stage attempt. A failed stage
// is terminal for the attempt but may transition back to running on retry.
func (s StageStatus) Terminal() bool {
	return s == StageCompleted || s == StageFailed || s == StageSkipped
}

// Stage is one named unit of work within a run's fixed pipeline order.
// StartedAt, once set, is never cleared by a later transition into running;
// FinishedAt is overwritten on every transition into a terminal status.
type Stage struct {
	ID          uuid.UUID
	RunID       uuid.UUID
	Name        string
	Status      StageStatus
	StartedAt   *time.Time
	FinishedAt  *time.Time
	Telemetry   Metadata
	BudgetSpent float64
	Notes       string
	Version     int64
}

func (s Stage) Validate() error {
	if s.ID == uuid.Nil {
		return errors.New("stage id is required")
	}
	if s.RunID == uuid.Nil {
		return errors.New("run id is required")
	}
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("stage name is required")
	}
	if !s.Status.Valid() {
		return errors.New("status is invalid")
	}
	if s.BudgetSpent < 0 {
		return errors.New("budget spent must be non-negative")
	}
	return nil
}
