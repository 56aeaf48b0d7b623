// Package stage defines the contract every pluggable pipeline stage
// satisfies and the wrapper that executes a stage on behalf of a run.
package stage

import (
	"context"
	"fmt"

	"github.com/andronoma-labs/andronoma-go/internal/domain"
	"github.com/andronoma-labs/andronoma-go/internal/pipeline"
	"github.com/google/uuid"
)

// Stage is one pluggable unit of pipeline work. Execute returns opaque
// telemetry on success or an error that fails the stage and aborts the
// run's remaining chain.
type Stage interface {
	Name() string
	Execute(ctx context.Context, sc *Context) (domain.Metadata, error)
}

// CostEstimator is the optional pre-flight declaration of a stage's fixed
// minimum cost. A stage implementing it never starts when the run's
// allocation for the stage is below the estimate.
type CostEstimator interface {
	EstimatedCost() float64
}

// AssetInput describes one object a stage wants persisted.
type AssetInput struct {
	Kind        string
	Filename    string
	ContentType string
	Body        []byte
	Extra       domain.Metadata
}

// AssetSink stores stage output objects and records them against the run.
type AssetSink interface {
	Put(ctx context.Context, runID uuid.UUID, stageName string, input AssetInput) (domain.Asset, error)
}

// Registry maps canonical stage names to their implementations. It is
// built once at startup and requires the full pipeline to be registered.
type Registry struct {
	stages map[string]Stage
}

func NewRegistry(stages ...Stage) (*Registry, error) {
	byName := make(map[string]Stage, len(stages))
	for _, s := range stages {
		name := s.Name()
		if !pipeline.Known(name) {
			return nil, fmt.Errorf("unknown stage name %q", name)
		}
		if _, exists := byName[name]; exists {
			return nil, fmt.Errorf("duplicate stage %q", name)
		}
		byName[name] = s
	}
	for _, name := range pipeline.Order {
		if _, ok := byName[name]; !ok {
			return nil, fmt.Errorf("stage %q is not registered", name)
		}
	}
	return &Registry{stages: byName}, nil
}

func (r *Registry) Resolve(name string) (Stage, error) {
	s, ok := r.stages[name]
	if !ok {
		return nil, fmt.Errorf("no stage registered for %q", name)
	}
	return s, nil
}
