package stage

import (
	"context"

	"github.com/andronoma-labs/andronoma-go/internal/budget"
	"github.com/andronoma-labs/andronoma-go/internal/domain"
	"github.com/andronoma-labs/andronoma-go/internal/logbroker"
)

// Context carries everything a stage may touch while executing: a snapshot
// of the run (input config, budgets, upstream telemetry), the spend ledger
// for the stage's own allocation, the run log emitter, and the asset sink.
type Context struct {
	stageName string
	run       domain.Run
	ledger    *budget.Ledger
	emitter   *logbroker.Emitter
	assets    AssetSink
}

func NewContext(stageName string, run domain.Run, ledger *budget.Ledger, emitter *logbroker.Emitter, assets AssetSink) *Context {
	return &Context{
		stageName: stageName,
		run:       run,
		ledger:    ledger,
		emitter:   emitter,
		assets:    assets,
	}
}

func (c *Context) StageName() string { return c.stageName }

func (c *Context) Run() domain.Run { return c.run }

// Config is the caller-supplied input payload, passed through verbatim.
func (c *Context) Config() domain.Metadata {
	return c.run.Config
}

// Allocation is the budget allocated to this stage.
func (c *Context) Allocation() float64 {
	return c.run.Budgets[c.stageName]
}

// Upstream returns the telemetry an earlier stage stored under its name.
// The second return is false when the entry is absent or not a map.
func (c *Context) Upstream(stageName string) (domain.Metadata, bool) {
	raw, ok := c.run.Telemetry[stageName]
	if !ok {
		return nil, false
	}
	switch v := raw.(type) {
	case domain.Metadata:
		return v, true
	case map[string]any:
		return domain.Metadata(v), true
	default:
		return nil, false
	}
}

// RecordSpend meters an additive costed sub-operation against the stage's
// remaining budget, failing at the point the ceiling would be exceeded.
func (c *Context) RecordSpend(amount float64) error {
	return c.ledger.Record(amount)
}

func (c *Context) Spent() float64 { return c.ledger.Spent() }

func (c *Context) Remaining() float64 { return c.ledger.Remaining() }

// Log emits one run log line, durable first, then fanned out live.
func (c *Context) Log(ctx context.Context, level, message string, metadata domain.Metadata) {
	c.emitter.EmitBestEffort(ctx, c.run.ID, level, message, metadata)
}

// SaveAsset persists a produced object and its asset record.
func (c *Context) SaveAsset(ctx context.Context, input AssetInput) (domain.Asset, error) {
	return c.assets.Put(ctx, c.run.ID, c.stageName, input)
}
