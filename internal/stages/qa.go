package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/andronoma-labs/andronoma-go/internal/domain"
	"github.com/andronoma-labs/andronoma-go/internal/pipeline"
	"github.com/andronoma-labs/andronoma-go/internal/stage"
)

const (
	maxHeadlineLen = 80
	maxBodyLen     = 300
	costPerCheck   = 0.5
)

var bannedPhrases = []string{
	"guaranteed",
	"risk-free",
	"best ever",
	"miracle",
}

// QAStage is the readiness gate: it runs rule checks over the generated
// creatives and fails the run when any issue is found.
type QAStage struct {
	estimate float64
}

func NewQAStage(estimate float64) *QAStage {
	return &QAStage{estimate: estimate}
}

func (s *QAStage) Name() string { return pipeline.StageQA }

func (s *QAStage) EstimatedCost() float64 { return s.estimate }

func (s *QAStage) Execute(ctx context.Context, sc *stage.Context) (domain.Metadata, error) {
	upstream, ok := sc.Upstream(pipeline.StageCreatives)
	if !ok {
		return nil, fmt.Errorf("creatives telemetry is missing")
	}
	creatives := mapSlice(upstream["creatives"])
	if len(creatives) == 0 {
		return nil, fmt.Errorf("no creatives to check")
	}

	checksRun := 0
	issues := make([]string, 0)
	check := func(ok bool, format string, args ...any) error {
		if err := sc.RecordSpend(costPerCheck); err != nil {
			return err
		}
		checksRun++
		if !ok {
			issues = append(issues, fmt.Sprintf(format, args...))
		}
		return nil
	}

	for i, creative := range creatives {
		headline, _ := creative["headline"].(string)
		body, _ := creative["body"].(string)

		if err := check(len(headline) > 0 && len(headline) <= maxHeadlineLen,
			"creative %d: headline length %d exceeds %d", i+1, len(headline), maxHeadlineLen); err != nil {
			return nil, err
		}
		if err := check(len(body) > 0 && len(body) <= maxBodyLen,
			"creative %d: body length %d exceeds %d", i+1, len(body), maxBodyLen); err != nil {
			return nil, err
		}
		combined := strings.ToLower(headline + " " + body)
		for _, phrase := range bannedPhrases {
			if err := check(!strings.Contains(combined, phrase),
				"creative %d: contains banned phrase %q", i+1, phrase); err != nil {
				return nil, err
			}
		}
	}

	telemetry := domain.Metadata{
		"checks_run":   checksRun,
		"issues_found": len(issues),
		"issues":       issues,
		"spend":        sc.Spent(),
	}
	sc.Log(ctx, domain.LogLevelInfo, "QA gate finished",
		domain.Metadata{"checks_run": checksRun, "issues_found": len(issues)})

	if len(issues) > 0 {
		return nil, fmt.Errorf("QA checks failed: %d issue(s), first: %s", len(issues), issues[0])
	}
	return telemetry, nil
}
