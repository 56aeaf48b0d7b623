package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/andronoma-labs/andronoma-go/internal/domain"
	"github.com/andronoma-labs/andronoma-go/internal/pipeline"
	"github.com/andronoma-labs/andronoma-go/internal/stage"
)

const costPerCreative = 8.0

// creativeBuckets are the concept families every audience gets a take on.
var creativeBuckets = []string{
	"Shock",
	"Proof / Engineering",
	"Emotional Story",
	"Absurd / Surreal",
	"Pure Aesthetic",
}

// CreativeStage templates ad copy per audience and concept bucket, with a
// duplicate guard on headlines.
type CreativeStage struct {
	estimate float64
}

func NewCreativeStage(estimate float64) *CreativeStage {
	return &CreativeStage{estimate: estimate}
}

func (s *CreativeStage) Name() string { return pipeline.StageCreatives }

func (s *CreativeStage) EstimatedCost() float64 { return s.estimate }

func (s *CreativeStage) Execute(ctx context.Context, sc *stage.Context) (domain.Metadata, error) {
	upstream, ok := sc.Upstream(pipeline.StageAudiences)
	if !ok {
		return nil, fmt.Errorf("audiences telemetry is missing")
	}
	audiences := mapSlice(upstream["audiences"])
	if len(audiences) == 0 {
		return nil, fmt.Errorf("audiences telemetry has no records")
	}

	seen := make(map[string]struct{})
	creatives := make([]map[string]any, 0, len(audiences)*len(creativeBuckets))
	duplicates := 0

	for i, audience := range audiences {
		name, _ := audience["name"].(string)
		angle, _ := audience["angle"].(string)
		bucket := creativeBuckets[i%len(creativeBuckets)]

		headline := fmt.Sprintf("%s: %s, no compromise", bucket, angle)
		key := strings.ToLower(headline)
		if _, dup := seen[key]; dup {
			duplicates++
			continue
		}
		seen[key] = struct{}{}

		if err := sc.RecordSpend(costPerCreative); err != nil {
			return nil, err
		}
		creatives = append(creatives, map[string]any{
			"audience": name,
			"bucket":   bucket,
			"headline": headline,
			"body": fmt.Sprintf("Built for the %s. Everything about it answers %s, down to the last detail.",
				strings.ToLower(name), angle),
		})
	}

	sc.Log(ctx, domain.LogLevelInfo, "Creative generation finished",
		domain.Metadata{"creatives": len(creatives), "duplicates_blocked": duplicates})

	return domain.Metadata{
		"creatives":          creatives,
		"count":              len(creatives),
		"duplicates_blocked": duplicates,
		"buckets":            creativeBuckets,
		"spend":              sc.Spent(),
	}, nil
}

func mapSlice(raw any) []map[string]any {
	list, ok := raw.([]any)
	if !ok {
		if typed, ok := raw.([]map[string]any); ok {
			return typed
		}
		return nil
	}
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}
