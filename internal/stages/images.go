package stages

import (
	"context"
	"fmt"
	"html"

	"github.com/andronoma-labs/andronoma-go/internal/domain"
	"github.com/andronoma-labs/andronoma-go/internal/pipeline"
	"github.com/andronoma-labs/andronoma-go/internal/stage"
)

const (
	maxRenders   = 6
	costPerImage = 12.0
)

var palettes = []struct {
	background string
	foreground string
}{
	{"#101418", "#f5f5f0"},
	{"#1d3557", "#f1faee"},
	{"#2b2118", "#eab464"},
}

// ImageStage composites one preview card per creative and stores it as a
// run asset in the object store.
type ImageStage struct {
	estimate float64
}

func NewImageStage(estimate float64) *ImageStage {
	return &ImageStage{estimate: estimate}
}

func (s *ImageStage) Name() string { return pipeline.StageImages }

func (s *ImageStage) EstimatedCost() float64 { return s.estimate }

func (s *ImageStage) Execute(ctx context.Context, sc *stage.Context) (domain.Metadata, error) {
	upstream, ok := sc.Upstream(pipeline.StageCreatives)
	if !ok {
		return nil, fmt.Errorf("creatives telemetry is missing")
	}
	creatives := mapSlice(upstream["creatives"])
	if len(creatives) == 0 {
		return nil, fmt.Errorf("creatives telemetry has no records")
	}

	rendered := 0
	keys := make([]string, 0, maxRenders)
	for i, creative := range creatives {
		if rendered == maxRenders {
			break
		}
		if err := sc.RecordSpend(costPerImage); err != nil {
			return nil, err
		}
		headline, _ := creative["headline"].(string)
		audience, _ := creative["audience"].(string)
		palette := palettes[i%len(palettes)]

		asset, err := sc.SaveAsset(ctx, stage.AssetInput{
			Kind:        "image",
			Filename:    fmt.Sprintf("card-%02d.svg", i+1),
			ContentType: "image/svg+xml",
			Body:        renderCard(headline, audience, palette.background, palette.foreground),
			Extra:       domain.Metadata{"audience": audience},
		})
		if err != nil {
			return nil, fmt.Errorf("render card %d: %w", i+1, err)
		}
		rendered++
		keys = append(keys, asset.StorageKey)
	}

	sc.Log(ctx, domain.LogLevelInfo, "Image rendering finished",
		domain.Metadata{"rendered": rendered})

	return domain.Metadata{
		"image_variations": rendered,
		"style_guides":     len(palettes),
		"storage_keys":     keys,
		"spend":            sc.Spent(),
	}, nil
}

func renderCard(headline, audience, background, foreground string) []byte {
	return []byte(fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" width="1080" height="1080" viewBox="0 0 1080 1080">
  <rect width="1080" height="1080" fill="%s"/>
  <text x="60" y="500" font-family="Helvetica, sans-serif" font-size="56" fill="%s">%s</text>
  <text x="60" y="980" font-family="Helvetica, sans-serif" font-size="32" fill="%s" opacity="0.7">%s</text>
</svg>
`, background, foreground, html.EscapeString(headline), foreground, html.EscapeString(audience)))
}
