// Package pipeline defines the fixed seven-stage campaign pipeline: the
// canonical stage order, the stage-status transition table, and the
// derivation of a run's aggregate status from its stage statuses.
package pipeline

// Canonical stage names, in execution order.
const (
	StageScrape    = "scrape"
	StageProcess   = "process"
	StageAudiences = "audiences"
	StageCreatives = "creatives"
	StageImages    = "images"
	StageQA        = "qa"
	StageExport    = "export"
)

// Order is the fixed execution order. Stage graphs do not branch.
var Order = []string{
	StageScrape,
	StageProcess,
	StageAudiences,
	StageCreatives,
	StageImages,
	StageQA,
	StageExport,
}

var indexByName = func() map[string]int {
	out := make(map[string]int, len(Order))
	for i, name := range Order {
		out[name] = i
	}
	return out
}()

// Known reports whether name is one of the canonical stage names.
func Known(name string) bool {
	_, ok := indexByName[name]
	return ok
}

// Index returns the position of name in the pipeline order, or len(Order)
// for unknown names so they sort last.
func Index(name string) int {
	if i, ok := indexByName[name]; ok {
		return i
	}
	return len(Order)
}

// Budget shares per stage, in canonical order: 10/10/20/20/20/10/10 percent.
var budgetShares = map[string]float64{
	StageScrape:    0.1,
	StageProcess:   0.1,
	StageAudiences: 0.2,
	StageCreatives: 0.2,
	StageImages:    0.2,
	StageQA:        0.1,
	StageExport:    0.1,
}

// DefaultBudgets splits a base allocation across the seven stages.
func DefaultBudgets(base float64) map[string]float64 {
	out := make(map[string]float64, len(Order))
	for _, name := range Order {
		out[name] = base * budgetShares[name]
	}
	return out
}
