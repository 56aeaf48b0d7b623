package stages

import (
	"context"
	"fmt"

	"github.com/andronoma-labs/andronoma-go/internal/domain"
	"github.com/andronoma-labs/andronoma-go/internal/pipeline"
	"github.com/andronoma-labs/andronoma-go/internal/stage"
)

const (
	maxAudiences    = 5
	costPerAudience = 5.0
)

// archetypes frame the synthesized segments; keywords from the process
// stage specialize them.
var archetypes = []struct {
	name   string
	angle  string
	driver string
}{
	{name: "Pragmatic Buyer", angle: "value for money", driver: "price"},
	{name: "Quality Seeker", angle: "craft and durability", driver: "durability"},
	{name: "Trend Follower", angle: "what is new and visible", driver: "style"},
	{name: "Careful Researcher", angle: "proof before purchase", driver: "legitimacy"},
	{name: "Gift Shopper", angle: "easy confident choices", driver: "delivery"},
}

// AudienceStage synthesizes audience records from extracted insights.
type AudienceStage struct {
	estimate float64
}

func NewAudienceStage(estimate float64) *AudienceStage {
	return &AudienceStage{estimate: estimate}
}

func (s *AudienceStage) Name() string { return pipeline.StageAudiences }

func (s *AudienceStage) EstimatedCost() float64 { return s.estimate }

func (s *AudienceStage) Execute(ctx context.Context, sc *stage.Context) (domain.Metadata, error) {
	upstream, ok := sc.Upstream(pipeline.StageProcess)
	if !ok {
		return nil, fmt.Errorf("process telemetry is missing")
	}
	keywords := stringSlice(upstream["keywords"])
	if len(keywords) == 0 {
		return nil, fmt.Errorf("process telemetry has no keywords")
	}

	audiences := make([]map[string]any, 0, maxAudiences)
	for i, arch := range archetypes {
		if i == maxAudiences {
			break
		}
		if err := sc.RecordSpend(costPerAudience); err != nil {
			return nil, err
		}
		traits := keywords[i%len(keywords) : min(i%len(keywords)+3, len(keywords))]
		audiences = append(audiences, map[string]any{
			"name":   arch.name,
			"angle":  arch.angle,
			"driver": arch.driver,
			"traits": traits,
			"hook":   fmt.Sprintf("Speak to %s through %s", arch.name, arch.angle),
		})
	}

	sc.Log(ctx, domain.LogLevelInfo, "Audience synthesis finished",
		domain.Metadata{"audiences": len(audiences)})

	return domain.Metadata{
		"audiences": audiences,
		"count":     len(audiences),
		"spend":     sc.Spent(),
	}, nil
}
