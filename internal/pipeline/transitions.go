package pipeline

import (
	"time"

	"github.com/andronoma-labs/andronoma-go/internal/domain"
)

// allowedTransitions is the stage-status transition table. Completed and
// skipped are terminal; a failed stage may re-enter running on retry.
var allowedTransitions = map[domain.StageStatus][]domain.StageStatus{
	domain.StagePending: {domain.StageRunning, domain.StageSkipped},
	domain.StageRunning: {domain.StageCompleted, domain.StageFailed, domain.StageSkipped},
	domain.StageFailed:  {domain.StageRunning, domain.StageSkipped},
}

// CanTransition reports whether a stage may move from one status to another.
// A request equal to the current status is not a transition and is handled
// by callers as a no-op.
func CanTransition(from, to domain.StageStatus) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition applies an accepted status change to the stage, including its
// timestamp side effects: entering running sets started-at only if unset,
// entering a terminal status always overwrites finished-at. Callers must
// check CanTransition first; Transition does not re-validate.
func Transition(stage *domain.Stage, to domain.StageStatus, now time.Time) {
	stage.Status = to
	if to == domain.StageRunning && stage.StartedAt == nil {
		t := now
		stage.StartedAt = &t
	}
	if to.Terminal() {
		t := now
		stage.FinishedAt = &t
	}
}
