package budget

import (
	"errors"
	"testing"

	"github.com/andronoma-labs/andronoma-go/internal/pipeline"
)

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		budgets map[string]float64
		wantErr bool
	}{
		{name: "empty map", budgets: map[string]float64{}},
		{name: "canonical names", budgets: pipeline.DefaultBudgets(1000)},
		{name: "zero amount allowed", budgets: map[string]float64{pipeline.StageQA: 0}},
		{name: "unknown stage", budgets: map[string]float64{"deploy": 10}, wantErr: true},
		{name: "negative amount", budgets: map[string]float64{pipeline.StageScrape: -1}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.budgets)
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() err=%v, wantErr=%v", err, tc.wantErr)
			}
		})
	}
}

func TestPreflight(t *testing.T) {
	budgets := map[string]float64{pipeline.StageCreatives: 200}

	if err := Preflight(budgets, pipeline.StageCreatives, 200); err != nil {
		t.Fatalf("Preflight() at exact allocation err=%v", err)
	}
	if err := Preflight(budgets, pipeline.StageCreatives, 200.01); err == nil {
		t.Fatalf("Preflight() above allocation should fail")
	}
	// A stage absent from the map has a zero allocation.
	if err := Preflight(budgets, pipeline.StageImages, 1); err == nil {
		t.Fatalf("Preflight() for unallocated stage should fail")
	}
	if err := Preflight(budgets, pipeline.StageImages, 0); err != nil {
		t.Fatalf("Preflight() zero estimate err=%v", err)
	}
}

func TestLedgerRecord(t *testing.T) {
	ledger := NewLedger(100, 0)

	if err := ledger.Record(60); err != nil {
		t.Fatalf("Record(60) err=%v", err)
	}
	if err := ledger.Record(40); err != nil {
		t.Fatalf("Record(40) to exact ceiling err=%v", err)
	}
	if got := ledger.Remaining(); got != 0 {
		t.Fatalf("Remaining()=%v, want 0", got)
	}

	err := ledger.Record(0.01)
	if !errors.Is(err, ErrExceeded) {
		t.Fatalf("Record past ceiling err=%v, want ErrExceeded", err)
	}
	if got := ledger.Spent(); got != 100 {
		t.Fatalf("failed Record changed spend: got %v, want 100", got)
	}

	if err := ledger.Record(-1); err == nil {
		t.Fatalf("Record(-1) should fail")
	}
}

func TestLedgerResumesPriorSpend(t *testing.T) {
	ledger := NewLedger(100, 75)
	if got := ledger.Remaining(); got != 25 {
		t.Fatalf("Remaining()=%v, want 25", got)
	}
	if err := ledger.Record(30); !errors.Is(err, ErrExceeded) {
		t.Fatalf("Record(30) err=%v, want ErrExceeded", err)
	}
	if err := ledger.Record(25); err != nil {
		t.Fatalf("Record(25) err=%v", err)
	}
}
