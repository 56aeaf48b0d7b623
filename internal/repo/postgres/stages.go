package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/andronoma-labs/andronoma-go/internal/domain"
	"github.com/google/uuid"
)

type StageStore struct {
	db DB
}

func NewStageStore(db DB) *StageStore {
	if db == nil {
		return nil
	}
	return &StageStore{db: db}
}

func (s *StageStore) Create(ctx context.Context, stage domain.Stage) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("stage store not initialized")
	}
	if err := stage.Validate(); err != nil {
		return err
	}
	telemetryJSON, err := encodeMetadata(stage.Telemetry)
	if err != nil {
		return fmt.Errorf("encode telemetry: %w", err)
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO run_stages (
			stage_id,
			run_id,
			name,
			status,
			started_at,
			finished_at,
			telemetry,
			budget_spent,
			notes,
			version
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		stage.ID,
		stage.RunID,
		strings.TrimSpace(stage.Name),
		string(stage.Status),
		nullTime(stage.StartedAt),
		nullTime(stage.FinishedAt),
		telemetryJSON,
		stage.BudgetSpent,
		stage.Notes,
		stage.Version,
	)
	if err != nil {
		return fmt.Errorf("insert stage: %w", err)
	}
	return nil
}

func (s *StageStore) Get(ctx context.Context, runID uuid.UUID, name string) (domain.Stage, error) {
	if s == nil || s.db == nil {
		return domain.Stage{}, fmt.Errorf("stage store not initialized")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Stage{}, fmt.Errorf("stage name is required")
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT stage_id, run_id, name, status, started_at, finished_at, telemetry, budget_spent, notes, version
		 FROM run_stages
		 WHERE run_id = $1 AND name = $2`,
		runID,
		name,
	)
	return scanStage(row)
}

func (s *StageStore) ListByRun(ctx context.Context, runID uuid.UUID) ([]domain.Stage, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("stage store not initialized")
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT stage_id, run_id, name, status, started_at, finished_at, telemetry, budget_spent, notes, version
		 FROM run_stages
		 WHERE run_id = $1`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list stages: %w", err)
	}
	defer rows.Close()
	var out []domain.Stage
	for rows.Next() {
		stage, err := scanStage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, stage)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list stages: %w", err)
	}
	return out, nil
}

func (s *StageStore) Update(ctx context.Context, stage domain.Stage) (domain.Stage, error) {
	if s == nil || s.db == nil {
		return domain.Stage{}, fmt.Errorf("stage store not initialized")
	}
	if err := stage.Validate(); err != nil {
		return domain.Stage{}, err
	}
	telemetryJSON, err := encodeMetadata(stage.Telemetry)
	if err != nil {
		return domain.Stage{}, fmt.Errorf("encode telemetry: %w", err)
	}
	row := s.db.QueryRowContext(
		ctx,
		`UPDATE run_stages SET
			status = $2,
			started_at = $3,
			finished_at = $4,
			telemetry = $5,
			budget_spent = $6,
			notes = $7,
			version = version + 1
		 WHERE stage_id = $1
		 RETURNING stage_id, run_id, name, status, started_at, finished_at, telemetry, budget_spent, notes, version`,
		stage.ID,
		string(stage.Status),
		nullTime(stage.StartedAt),
		nullTime(stage.FinishedAt),
		telemetryJSON,
		stage.BudgetSpent,
		stage.Notes,
	)
	return scanStage(row)
}

func scanStage(row rowScanner) (domain.Stage, error) {
	var stage domain.Stage
	var status string
	var startedAt, finishedAt sql.NullTime
	var telemetryJSON []byte
	if err := row.Scan(&stage.ID, &stage.RunID, &stage.Name, &status, &startedAt, &finishedAt,
		&telemetryJSON, &stage.BudgetSpent, &stage.Notes, &stage.Version); err != nil {
		return domain.Stage{}, handleNotFound(err)
	}
	stage.Status = domain.StageStatus(status)
	stage.StartedAt = timePtr(startedAt)
	stage.FinishedAt = timePtr(finishedAt)
	var err error
	if stage.Telemetry, err = decodeMetadata(telemetryJSON); err != nil {
		return domain.Stage{}, fmt.Errorf("decode telemetry: %w", err)
	}
	return stage, nil
}
