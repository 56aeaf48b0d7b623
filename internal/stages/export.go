package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/andronoma-labs/andronoma-go/internal/domain"
	"github.com/andronoma-labs/andronoma-go/internal/pipeline"
	"github.com/andronoma-labs/andronoma-go/internal/repo"
	"github.com/andronoma-labs/andronoma-go/internal/stage"
)

const costPerExport = 20.0

// ExportStage packages the run's final deliverables: a manifest of every
// produced asset plus a bundle of the per-stage telemetry, both written to
// the object store as assets of the run itself.
type ExportStage struct {
	assets   repo.AssetRepository
	estimate float64
	clock    func() time.Time
}

func NewExportStage(assets repo.AssetRepository, estimate float64) *ExportStage {
	return &ExportStage{
		assets:   assets,
		estimate: estimate,
		clock:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *ExportStage) Name() string { return pipeline.StageExport }

func (s *ExportStage) EstimatedCost() float64 { return s.estimate }

func (s *ExportStage) Execute(ctx context.Context, sc *stage.Context) (domain.Metadata, error) {
	if err := sc.RecordSpend(costPerExport); err != nil {
		return nil, err
	}

	run := sc.Run()
	produced, err := s.assets.ListByRun(ctx, run.ID)
	if err != nil {
		return nil, fmt.Errorf("list run assets: %w", err)
	}

	countsByKind := make(map[string]int)
	manifestAssets := make([]map[string]any, 0, len(produced))
	for _, asset := range produced {
		countsByKind[asset.Kind]++
		manifestAssets = append(manifestAssets, map[string]any{
			"id":          asset.ID.String(),
			"stage":       asset.Stage,
			"kind":        asset.Kind,
			"storage_key": asset.StorageKey,
			"created_at":  asset.CreatedAt.Format(time.RFC3339),
		})
	}

	generatedAt := s.clock().Truncate(time.Second)
	manifest := map[string]any{
		"run_id":       run.ID.String(),
		"generated_at": generatedAt.Format(time.RFC3339),
		"assets":       manifestAssets,
		"asset_counts": countsByKind,
	}
	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}

	bundle := map[string]any{
		"run_id":       run.ID.String(),
		"generated_at": generatedAt.Format(time.RFC3339),
		"config":       map[string]any(run.Config),
		"telemetry":    map[string]any(run.Telemetry),
		"budgets":      run.Budgets,
	}
	bundleJSON, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode bundle: %w", err)
	}

	manifestAsset, err := sc.SaveAsset(ctx, stage.AssetInput{
		Kind:        "manifest",
		Filename:    "manifest.json",
		ContentType: "application/json",
		Body:        manifestJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("store manifest: %w", err)
	}
	bundleAsset, err := sc.SaveAsset(ctx, stage.AssetInput{
		Kind:        "bundle",
		Filename:    "bundle.json",
		ContentType: "application/json",
		Body:        bundleJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("store bundle: %w", err)
	}

	sc.Log(ctx, domain.LogLevelInfo, "Export packaging finished",
		domain.Metadata{"assets_bundled": len(produced)})

	return domain.Metadata{
		"manifest_key":   manifestAsset.StorageKey,
		"bundle_key":     bundleAsset.StorageKey,
		"assets_bundled": len(produced),
		"asset_counts":   countsByKind,
		"spend":          sc.Spent(),
	}, nil
}
