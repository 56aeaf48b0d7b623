// Package stages holds the seven pipeline stage implementations. Each one
// satisfies the stage contract: declare a name and a minimum cost estimate,
// meter spend against the stage allocation while working, emit run logs,
// and return telemetry the next stage can build on.
package stages

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/andronoma-labs/andronoma-go/internal/domain"
	"github.com/andronoma-labs/andronoma-go/internal/pipeline"
	"github.com/andronoma-labs/andronoma-go/internal/stage"
)

const (
	maxPageBytes    = 1 << 20
	maxSegments     = 200
	costPerPage     = 2.0
	scrapeUserAgent = "andronoma-scraper/1.0"
)

// ScrapeStage fetches the brand surfaces named in the run's input config
// and distills them into text segments for the downstream stages.
type ScrapeStage struct {
	client   *http.Client
	estimate float64
}

func NewScrapeStage(client *http.Client, estimate float64) *ScrapeStage {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &ScrapeStage{client: client, estimate: estimate}
}

func (s *ScrapeStage) Name() string { return pipeline.StageScrape }

func (s *ScrapeStage) EstimatedCost() float64 { return s.estimate }

func (s *ScrapeStage) Execute(ctx context.Context, sc *stage.Context) (domain.Metadata, error) {
	urls := configuredURLs(sc.Config())
	if len(urls) == 0 {
		return nil, fmt.Errorf("input config has no urls to scrape")
	}

	segments := make([]string, 0, maxSegments)
	fetched := 0
	totalChars := 0
	sources := make([]string, 0, len(urls))

	for _, target := range urls {
		if err := sc.RecordSpend(costPerPage); err != nil {
			return nil, fmt.Errorf("fetching %s: %w", target, err)
		}
		text, err := s.fetchText(ctx, target)
		if err != nil {
			sc.Log(ctx, domain.LogLevelWarn, "Page fetch failed",
				domain.Metadata{"url": target, "error": err.Error()})
			continue
		}
		fetched++
		sources = append(sources, target)
		for _, segment := range splitSegments(text) {
			if len(segments) == maxSegments {
				break
			}
			segments = append(segments, segment)
			totalChars += len(segment)
		}
	}
	if fetched == 0 {
		return nil, fmt.Errorf("all %d page fetches failed", len(urls))
	}

	sc.Log(ctx, domain.LogLevelInfo, "Scrape finished",
		domain.Metadata{"pages": fetched, "segments": len(segments)})

	return domain.Metadata{
		"pages_fetched": fetched,
		"pages_failed":  len(urls) - fetched,
		"segments":      segments,
		"total_chars":   totalChars,
		"sources":       sources,
		"spend":         sc.Spent(),
	}, nil
}

func (s *ScrapeStage) fetchText(ctx context.Context, target string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", scrapeUserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", err
	}
	return stripMarkup(string(raw)), nil
}

func configuredURLs(config domain.Metadata) []string {
	out := make([]string, 0)
	if raw, ok := config["urls"]; ok {
		if list, ok := raw.([]any); ok {
			for _, item := range list {
				if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
					out = append(out, strings.TrimSpace(s))
				}
			}
		}
		if list, ok := raw.([]string); ok {
			for _, s := range list {
				if strings.TrimSpace(s) != "" {
					out = append(out, strings.TrimSpace(s))
				}
			}
		}
	}
	if base, ok := config["base_url"].(string); ok && strings.TrimSpace(base) != "" {
		out = append(out, strings.TrimSpace(base))
	}
	return out
}

// stripMarkup reduces an HTML payload to visible text. Script and style
// bodies are dropped entirely, remaining tags are replaced by spaces.
func stripMarkup(raw string) string {
	var b strings.Builder
	b.Grow(len(raw) / 2)

	inTag := false
	skipUntil := ""
	lower := strings.ToLower(raw)
	for i := 0; i < len(raw); i++ {
		if skipUntil != "" {
			if strings.HasPrefix(lower[i:], skipUntil) {
				i += len(skipUntil) - 1
				skipUntil = ""
				inTag = false
			}
			continue
		}
		switch {
		case raw[i] == '<':
			inTag = true
			if strings.HasPrefix(lower[i:], "<script") {
				skipUntil = "</script>"
			} else if strings.HasPrefix(lower[i:], "<style") {
				skipUntil = "</style>"
			}
		case raw[i] == '>':
			inTag = false
			b.WriteByte(' ')
		case !inTag:
			b.WriteByte(raw[i])
		}
	}
	return b.String()
}

func splitSegments(text string) []string {
	out := make([]string, 0)
	for _, line := range strings.Split(text, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if len(line) >= 40 {
			out = append(out, line)
		}
	}
	return out
}
