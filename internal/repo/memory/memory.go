// Package memory provides in-memory repository implementations with the
// same semantics as the postgres stores. They back package tests and local
// development without a database.
package memory

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/andronoma-labs/andronoma-go/internal/domain"
	"github.com/andronoma-labs/andronoma-go/internal/repo"
	"github.com/google/uuid"
)

type RunStore struct {
	mu   sync.Mutex
	runs map[uuid.UUID]domain.Run
}

func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[uuid.UUID]domain.Run)}
}

func (s *RunStore) Create(ctx context.Context, run domain.Run) error {
	if err := run.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if run.Version == 0 {
		run.Version = 1
	}
	s.runs[run.ID] = cloneRun(run)
	return nil
}

func (s *RunStore) Get(ctx context.Context, id uuid.UUID) (domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return domain.Run{}, repo.ErrNotFound
	}
	return cloneRun(run), nil
}

func (s *RunStore) ListByOwner(ctx context.Context, ownerID string) ([]domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Run, 0)
	for _, run := range s.runs {
		if run.OwnerID == ownerID {
			out = append(out, cloneRun(run))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return bytes.Compare(out[i].ID[:], out[j].ID[:]) > 0
	})
	return out, nil
}

func (s *RunStore) Update(ctx context.Context, run domain.Run) (domain.Run, error) {
	if err := run.Validate(); err != nil {
		return domain.Run{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.runs[run.ID]
	if !ok {
		return domain.Run{}, repo.ErrNotFound
	}
	run.CreatedAt = stored.CreatedAt
	run.Version = stored.Version + 1
	s.runs[run.ID] = cloneRun(run)
	return cloneRun(run), nil
}

type StageStore struct {
	mu     sync.Mutex
	stages map[uuid.UUID]map[string]domain.Stage
}

func NewStageStore() *StageStore {
	return &StageStore{stages: make(map[uuid.UUID]map[string]domain.Stage)}
}

func (s *StageStore) Create(ctx context.Context, stage domain.Stage) error {
	if err := stage.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	byName, ok := s.stages[stage.RunID]
	if !ok {
		byName = make(map[string]domain.Stage)
		s.stages[stage.RunID] = byName
	}
	if stage.Version == 0 {
		stage.Version = 1
	}
	byName[stage.Name] = cloneStage(stage)
	return nil
}

func (s *StageStore) Get(ctx context.Context, runID uuid.UUID, name string) (domain.Stage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stage, ok := s.stages[runID][name]
	if !ok {
		return domain.Stage{}, repo.ErrNotFound
	}
	return cloneStage(stage), nil
}

func (s *StageStore) ListByRun(ctx context.Context, runID uuid.UUID) ([]domain.Stage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Stage, 0, len(s.stages[runID]))
	for _, stage := range s.stages[runID] {
		out = append(out, cloneStage(stage))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *StageStore) Update(ctx context.Context, stage domain.Stage) (domain.Stage, error) {
	if err := stage.Validate(); err != nil {
		return domain.Stage{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.stages[stage.RunID][stage.Name]
	if !ok {
		return domain.Stage{}, repo.ErrNotFound
	}
	stage.ID = stored.ID
	stage.Version = stored.Version + 1
	s.stages[stage.RunID][stage.Name] = cloneStage(stage)
	return cloneStage(stage), nil
}

type LogStore struct {
	mu      sync.Mutex
	entries []domain.LogEntry
}

func NewLogStore() *LogStore {
	return &LogStore{}
}

func (s *LogStore) Append(ctx context.Context, entry domain.LogEntry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.Metadata = entry.Metadata.Clone()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *LogStore) List(ctx context.Context, runID uuid.UUID, limit int, after *uuid.UUID) (repo.LogPage, error) {
	if limit < 1 {
		limit = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	run := make([]domain.LogEntry, 0)
	for _, entry := range s.entries {
		if entry.RunID == runID {
			run = append(run, entry)
		}
	}
	sort.Slice(run, func(i, j int) bool {
		if !run[i].CreatedAt.Equal(run[j].CreatedAt) {
			return run[i].CreatedAt.Before(run[j].CreatedAt)
		}
		return bytes.Compare(run[i].ID[:], run[j].ID[:]) < 0
	})

	start := 0
	if after != nil {
		found := false
		for i, entry := range run {
			if entry.ID == *after {
				start = i + 1
				found = true
				break
			}
		}
		if !found {
			return repo.LogPage{}, repo.ErrNotFound
		}
	}

	page := repo.LogPage{Entries: make([]domain.LogEntry, 0, limit)}
	for _, entry := range run[start:] {
		if len(page.Entries) == limit {
			break
		}
		entry.Metadata = entry.Metadata.Clone()
		page.Entries = append(page.Entries, entry)
	}
	if len(page.Entries) == limit {
		cursor := page.Entries[len(page.Entries)-1].ID
		page.NextCursor = &cursor
	}
	return page, nil
}

type AssetStore struct {
	mu     sync.Mutex
	assets []domain.Asset
}

func NewAssetStore() *AssetStore {
	return &AssetStore{}
}

func (s *AssetStore) Create(ctx context.Context, asset domain.Asset) error {
	if err := asset.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	asset.Extra = asset.Extra.Clone()
	s.assets = append(s.assets, asset)
	return nil
}

func (s *AssetStore) Get(ctx context.Context, runID, id uuid.UUID) (domain.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, asset := range s.assets {
		if asset.RunID == runID && asset.ID == id {
			asset.Extra = asset.Extra.Clone()
			return asset, nil
		}
	}
	return domain.Asset{}, repo.ErrNotFound
}

func (s *AssetStore) ListByRun(ctx context.Context, runID uuid.UUID) ([]domain.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Asset, 0)
	for _, asset := range s.assets {
		if asset.RunID == runID {
			asset.Extra = asset.Extra.Clone()
			out = append(out, asset)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return bytes.Compare(out[i].ID[:], out[j].ID[:]) > 0
	})
	return out, nil
}

func cloneRun(run domain.Run) domain.Run {
	run.Config = run.Config.Clone()
	run.Telemetry = run.Telemetry.Clone()
	budgets := make(map[string]float64, len(run.Budgets))
	for k, v := range run.Budgets {
		budgets[k] = v
	}
	run.Budgets = budgets
	return run
}

func cloneStage(stage domain.Stage) domain.Stage {
	stage.Telemetry = stage.Telemetry.Clone()
	if stage.StartedAt != nil {
		t := *stage.StartedAt
		stage.StartedAt = &t
	}
	if stage.FinishedAt != nil {
		t := *stage.FinishedAt
		stage.FinishedAt = &t
	}
	return stage
}
