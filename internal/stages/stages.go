package stages

import (
	"net/http"

	"github.com/andronoma-labs/andronoma-go/internal/pipeline"
	"github.com/andronoma-labs/andronoma-go/internal/repo"
	"github.com/andronoma-labs/andronoma-go/internal/stage"
)

// Built-in minimum cost estimates per stage, overridable through the
// pipeline defaults file.
const (
	defaultScrapeEstimate    = 10.0
	defaultProcessEstimate   = 1.5
	defaultAudiencesEstimate = 30.0
	defaultCreativesEstimate = 200.0
	defaultImagesEstimate    = 50.0
	defaultQAEstimate        = 15.0
	defaultExportEstimate    = 20.0
)

// All assembles the full pipeline in canonical order.
func All(client *http.Client, assets repo.AssetRepository, cfg pipeline.Defaults) []stage.Stage {
	return []stage.Stage{
		NewScrapeStage(client, cfg.Estimate(pipeline.StageScrape, defaultScrapeEstimate)),
		NewProcessStage(cfg.Estimate(pipeline.StageProcess, defaultProcessEstimate)),
		NewAudienceStage(cfg.Estimate(pipeline.StageAudiences, defaultAudiencesEstimate)),
		NewCreativeStage(cfg.Estimate(pipeline.StageCreatives, defaultCreativesEstimate)),
		NewImageStage(cfg.Estimate(pipeline.StageImages, defaultImagesEstimate)),
		NewQAStage(cfg.Estimate(pipeline.StageQA, defaultQAEstimate)),
		NewExportStage(assets, cfg.Estimate(pipeline.StageExport, defaultExportEstimate)),
	}
}
