// Package budget governs per-stage cost allocations: validating budget
// maps, gating stage execution on a minimum estimate, and metering spend
// against a hard ceiling while a stage runs. The pre-flight gate and the
// spend ledger are deliberately independent checks, not a unified
// reservation system.
package budget

import (
	"errors"
	"fmt"
	"sync"

	"github.com/andronoma-labs/andronoma-go/internal/pipeline"
)

// ErrExceeded is returned by the ledger at the exact point an operation
// would push spend past the allocation.
var ErrExceeded = errors.New("budget exceeded")

// Validate checks a full budget map: every key must be a canonical stage
// name and every amount non-negative. A failed validation must leave the
// caller's stored budgets untouched.
func Validate(budgets map[string]float64) error {
	for name, amount := range budgets {
		if !pipeline.Known(name) {
			return fmt.Errorf("unknown stage name %q", name)
		}
		if amount < 0 {
			return fmt.Errorf("budget for %q must be non-negative (got %v)", name, amount)
		}
	}
	return nil
}

// Preflight is the sanity gate run before a stage starts: it fails when the
// allocated budget for the stage is below the stage's declared minimum
// estimate. It does not consult spend already accumulated.
func Preflight(budgets map[string]float64, stage string, estimate float64) error {
	allocated := budgets[stage]
	if allocated < estimate {
		return fmt.Errorf("stage %s exceeds allocated budget (%v < %v)", stage, allocated, estimate)
	}
	return nil
}

// Ledger meters additive spend for one stage execution against the stage's
// allocation. Record fails precisely when an operation would exceed the
// remaining budget, before the spend is applied.
type Ledger struct {
	mu         sync.Mutex
	allocation float64
	spent      float64
}

// NewLedger starts a ledger at the spend a prior attempt already
// accumulated, so retries meter against what actually remains.
func NewLedger(allocation, spent float64) *Ledger {
	if spent < 0 {
		spent = 0
	}
	return &Ledger{allocation: allocation, spent: spent}
}

func (l *Ledger) Record(amount float64) error {
	if amount < 0 {
		return fmt.Errorf("spend amount must be non-negative (got %v)", amount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.spent+amount > l.allocation {
		return fmt.Errorf("%w: %v + %v > %v", ErrExceeded, l.spent, amount, l.allocation)
	}
	l.spent += amount
	return nil
}

func (l *Ledger) Spent() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.spent
}

func (l *Ledger) Remaining() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allocation - l.spent
}
