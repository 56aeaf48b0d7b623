package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/andronoma-labs/andronoma-go/internal/domain"
	"github.com/google/uuid"
)

type AssetStore struct {
	db DB
}

func NewAssetStore(db DB) *AssetStore {
	if db == nil {
		return nil
	}
	return &AssetStore{db: db}
}

func (s *AssetStore) Create(ctx context.Context, asset domain.Asset) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("asset store not initialized")
	}
	if err := asset.Validate(); err != nil {
		return err
	}
	extraJSON, err := encodeMetadata(asset.Extra)
	if err != nil {
		return fmt.Errorf("encode extra: %w", err)
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO run_assets (
			asset_id,
			run_id,
			stage,
			kind,
			storage_key,
			extra,
			created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		asset.ID,
		asset.RunID,
		strings.TrimSpace(asset.Stage),
		strings.TrimSpace(asset.Kind),
		strings.TrimSpace(asset.StorageKey),
		extraJSON,
		normalizeTime(asset.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert asset: %w", err)
	}
	return nil
}

func (s *AssetStore) Get(ctx context.Context, runID, id uuid.UUID) (domain.Asset, error) {
	if s == nil || s.db == nil {
		return domain.Asset{}, fmt.Errorf("asset store not initialized")
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT asset_id, run_id, stage, kind, storage_key, extra, created_at
		 FROM run_assets
		 WHERE run_id = $1 AND asset_id = $2`,
		runID,
		id,
	)
	return scanAsset(row)
}

func (s *AssetStore) ListByRun(ctx context.Context, runID uuid.UUID) ([]domain.Asset, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("asset store not initialized")
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT asset_id, run_id, stage, kind, storage_key, extra, created_at
		 FROM run_assets
		 WHERE run_id = $1
		 ORDER BY created_at DESC, asset_id DESC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	defer rows.Close()
	var out []domain.Asset
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, asset)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	return out, nil
}

func scanAsset(row rowScanner) (domain.Asset, error) {
	var asset domain.Asset
	var extraJSON []byte
	if err := row.Scan(&asset.ID, &asset.RunID, &asset.Stage, &asset.Kind, &asset.StorageKey,
		&extraJSON, &asset.CreatedAt); err != nil {
		return domain.Asset{}, handleNotFound(err)
	}
	var err error
	if asset.Extra, err = decodeMetadata(extraJSON); err != nil {
		return domain.Asset{}, fmt.Errorf("decode extra: %w", err)
	}
	asset.CreatedAt = asset.CreatedAt.UTC()
	return asset, nil
}
