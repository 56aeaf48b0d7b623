package stages

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/andronoma-labs/andronoma-go/internal/domain"
	"github.com/andronoma-labs/andronoma-go/internal/pipeline"
	"github.com/andronoma-labs/andronoma-go/internal/stage"
)

const (
	maxKeywords      = 25
	costPerKiloToken = 0.002
)

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "a": {}, "an": {}, "is": {}, "to": {}, "of": {},
	"in": {}, "for": {}, "on": {}, "with": {}, "as": {}, "by": {}, "at": {},
	"from": {}, "that": {}, "this": {}, "it": {}, "be": {}, "are": {}, "or": {},
	"we": {}, "you": {}, "our": {}, "their": {}, "your": {}, "they": {},
}

// ProcessStage mines the scraped segments for positioning keywords that
// seed audience synthesis.
type ProcessStage struct {
	estimate float64
}

func NewProcessStage(estimate float64) *ProcessStage {
	return &ProcessStage{estimate: estimate}
}

func (s *ProcessStage) Name() string { return pipeline.StageProcess }

func (s *ProcessStage) EstimatedCost() float64 { return s.estimate }

func (s *ProcessStage) Execute(ctx context.Context, sc *stage.Context) (domain.Metadata, error) {
	upstream, ok := sc.Upstream(pipeline.StageScrape)
	if !ok {
		return nil, fmt.Errorf("scrape telemetry is missing")
	}
	segments := stringSlice(upstream["segments"])
	if len(segments) == 0 {
		return nil, fmt.Errorf("scrape telemetry has no text segments")
	}

	counts := make(map[string]int)
	tokens := 0
	for _, segment := range segments {
		for _, word := range strings.Fields(strings.ToLower(segment)) {
			word = strings.Trim(word, ".,!?:;\"'()[]")
			tokens++
			if len(word) < 4 {
				continue
			}
			if _, skip := stopwords[word]; skip {
				continue
			}
			counts[word]++
		}
	}
	if err := sc.RecordSpend(float64(tokens) * costPerKiloToken); err != nil {
		return nil, err
	}

	type keyword struct {
		word  string
		count int
	}
	ranked := make([]keyword, 0, len(counts))
	for word, count := range counts {
		ranked = append(ranked, keyword{word: word, count: count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].word < ranked[j].word
	})
	if len(ranked) > maxKeywords {
		ranked = ranked[:maxKeywords]
	}

	keywords := make([]string, 0, len(ranked))
	for _, k := range ranked {
		keywords = append(keywords, k.word)
	}

	sc.Log(ctx, domain.LogLevelInfo, "Insight extraction finished",
		domain.Metadata{"tokens": tokens, "keywords": len(keywords)})

	return domain.Metadata{
		"keywords":    keywords,
		"tokens":      tokens,
		"vocabulary":  len(counts),
		"spend":       sc.Spent(),
		"segments_in": len(segments),
	}, nil
}

func stringSlice(raw any) []string {
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
