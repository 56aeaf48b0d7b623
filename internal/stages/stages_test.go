package stages

import (
	"testing"

	"github.com/google/uuid"

	"github.com/andronoma-labs/andronoma-go/internal/budget"
	"github.com/andronoma-labs/andronoma-go/internal/domain"
	"github.com/andronoma-labs/andronoma-go/internal/logbroker"
	"github.com/andronoma-labs/andronoma-go/internal/repo/memory"
	"github.com/andronoma-labs/andronoma-go/internal/stage"
)

// newStageContext builds an execution context for one stage with the given
// allocation and upstream telemetry, backed by in-memory stores.
func newStageContext(t *testing.T, stageName string, allocation float64, telemetry domain.Metadata) *stage.Context {
	t.Helper()
	run := domain.Run{
		ID:        uuid.New(),
		OwnerID:   "user-1",
		Budgets:   map[string]float64{stageName: allocation},
		Telemetry: telemetry,
	}
	emitter := logbroker.NewEmitter(memory.NewLogStore(), logbroker.NewBroker(), nil)
	return stage.NewContext(stageName, run, budget.NewLedger(allocation, 0), emitter, nil)
}
