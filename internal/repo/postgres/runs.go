package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/andronoma-labs/andronoma-go/internal/domain"
	"github.com/google/uuid"
)

type RunStore struct {
	db DB
}

func NewRunStore(db DB) *RunStore {
	if db == nil {
		return nil
	}
	return &RunStore{db: db}
}

func (s *RunStore) Create(ctx context.Context, run domain.Run) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run store not initialized")
	}
	if err := run.Validate(); err != nil {
		return err
	}
	configJSON, err := encodeMetadata(run.Config)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	budgetsJSON, err := encodeBudgets(run.Budgets)
	if err != nil {
		return fmt.Errorf("encode budgets: %w", err)
	}
	telemetryJSON, err := encodeMetadata(run.Telemetry)
	if err != nil {
		return fmt.Errorf("encode telemetry: %w", err)
	}
	createdAt := normalizeTime(run.CreatedAt)
	updatedAt := normalizeTime(run.UpdatedAt)
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO runs (
			run_id,
			owner_id,
			status,
			config,
			budgets,
			telemetry,
			version,
			created_at,
			updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		run.ID,
		strings.TrimSpace(run.OwnerID),
		string(run.Status),
		configJSON,
		budgetsJSON,
		telemetryJSON,
		run.Version,
		createdAt,
		updatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (s *RunStore) Get(ctx context.Context, id uuid.UUID) (domain.Run, error) {
	if s == nil || s.db == nil {
		return domain.Run{}, fmt.Errorf("run store not initialized")
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT run_id, owner_id, status, config, budgets, telemetry, version, created_at, updated_at
		 FROM runs
		 WHERE run_id = $1`,
		id,
	)
	return scanRun(row)
}

func (s *RunStore) ListByOwner(ctx context.Context, ownerID string) ([]domain.Run, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("run store not initialized")
	}
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, fmt.Errorf("owner id is required")
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT run_id, owner_id, status, config, budgets, telemetry, version, created_at, updated_at
		 FROM runs
		 WHERE owner_id = $1
		 ORDER BY created_at DESC, run_id DESC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	var out []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return out, nil
}

// Update persists the record wholesale and returns it with the version the
// database assigned.
func (s *RunStore) Update(ctx context.Context, run domain.Run) (domain.Run, error) {
	if s == nil || s.db == nil {
		return domain.Run{}, fmt.Errorf("run store not initialized")
	}
	if err := run.Validate(); err != nil {
		return domain.Run{}, err
	}
	configJSON, err := encodeMetadata(run.Config)
	if err != nil {
		return domain.Run{}, fmt.Errorf("encode config: %w", err)
	}
	budgetsJSON, err := encodeBudgets(run.Budgets)
	if err != nil {
		return domain.Run{}, fmt.Errorf("encode budgets: %w", err)
	}
	telemetryJSON, err := encodeMetadata(run.Telemetry)
	if err != nil {
		return domain.Run{}, fmt.Errorf("encode telemetry: %w", err)
	}
	row := s.db.QueryRowContext(
		ctx,
		`UPDATE runs SET
			status = $2,
			config = $3,
			budgets = $4,
			telemetry = $5,
			version = version + 1,
			updated_at = $6
		 WHERE run_id = $1
		 RETURNING run_id, owner_id, status, config, budgets, telemetry, version, created_at, updated_at`,
		run.ID,
		string(run.Status),
		configJSON,
		budgetsJSON,
		telemetryJSON,
		normalizeTime(run.UpdatedAt),
	)
	return scanRun(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (domain.Run, error) {
	var run domain.Run
	var status string
	var configJSON []byte
	var budgetsJSON []byte
	var telemetryJSON []byte
	if err := row.Scan(&run.ID, &run.OwnerID, &status, &configJSON, &budgetsJSON, &telemetryJSON,
		&run.Version, &run.CreatedAt, &run.UpdatedAt); err != nil {
		return domain.Run{}, handleNotFound(err)
	}
	run.Status = domain.RunStatus(status)
	var err error
	if run.Config, err = decodeMetadata(configJSON); err != nil {
		return domain.Run{}, fmt.Errorf("decode config: %w", err)
	}
	if run.Budgets, err = decodeBudgets(budgetsJSON); err != nil {
		return domain.Run{}, fmt.Errorf("decode budgets: %w", err)
	}
	if run.Telemetry, err = decodeMetadata(telemetryJSON); err != nil {
		return domain.Run{}, fmt.Errorf("decode telemetry: %w", err)
	}
	run.CreatedAt = run.CreatedAt.UTC()
	run.UpdatedAt = run.UpdatedAt.UTC()
	return run, nil
}
