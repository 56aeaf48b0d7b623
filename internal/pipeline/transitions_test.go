package pipeline

import (
	"testing"
	"time"

	"github.com/andronoma-labs/andronoma-go/internal/domain"
)

func TestCanTransition(t *testing.T) {
	allowed := map[[2]domain.StageStatus]bool{
		{domain.StagePending, domain.StageRunning}:   true,
		{domain.StagePending, domain.StageSkipped}:   true,
		{domain.StageRunning, domain.StageCompleted}: true,
		{domain.StageRunning, domain.StageFailed}:    true,
		{domain.StageRunning, domain.StageSkipped}:   true,
		{domain.StageFailed, domain.StageRunning}:    true,
		{domain.StageFailed, domain.StageSkipped}:    true,
	}

	statuses := []domain.StageStatus{
		domain.StagePending,
		domain.StageRunning,
		domain.StageCompleted,
		domain.StageFailed,
		domain.StageSkipped,
	}
	for _, from := range statuses {
		for _, to := range statuses {
			want := allowed[[2]domain.StageStatus{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s)=%v, want %v", from, to, got, want)
			}
		}
	}
}

func TestTransition_StartedAtIdempotent(t *testing.T) {
	first := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	second := first.Add(time.Hour)

	stage := domain.Stage{Status: domain.StagePending}
	Transition(&stage, domain.StageRunning, first)
	if stage.StartedAt == nil || !stage.StartedAt.Equal(first) {
		t.Fatalf("StartedAt=%v, want %v", stage.StartedAt, first)
	}

	Transition(&stage, domain.StageFailed, first)
	Transition(&stage, domain.StageRunning, second)
	if !stage.StartedAt.Equal(first) {
		t.Fatalf("retry overwrote StartedAt: got %v, want %v", stage.StartedAt, first)
	}
}

func TestTransition_FinishedAtOverwritten(t *testing.T) {
	first := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	second := first.Add(time.Hour)

	stage := domain.Stage{Status: domain.StagePending}
	Transition(&stage, domain.StageRunning, first)
	Transition(&stage, domain.StageFailed, first)
	if stage.FinishedAt == nil || !stage.FinishedAt.Equal(first) {
		t.Fatalf("FinishedAt=%v, want %v", stage.FinishedAt, first)
	}

	Transition(&stage, domain.StageRunning, second)
	Transition(&stage, domain.StageCompleted, second)
	if !stage.FinishedAt.Equal(second) {
		t.Fatalf("FinishedAt=%v, want %v after retry", stage.FinishedAt, second)
	}
}
