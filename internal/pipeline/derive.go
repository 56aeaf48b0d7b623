package pipeline

import "github.com/andronoma-labs/andronoma-go/internal/domain"

// DeriveRunStatus computes a run's aggregate status from its stage statuses.
// Precedence is failed > running > completed: any failed stage fails the
// run even when another stage is still running. The run is completed only
// when at least one stage exists and every stage is completed or skipped.
// For any other mix (for example pending stages alongside terminal ones,
// none running or failed) the second return is false and the run's stored
// status is left unchanged.
func DeriveRunStatus(stages []domain.Stage) (domain.RunStatus, bool) {
	anyFailed := false
	anyRunning := false
	allCovered := len(stages) > 0

	for _, stage := range stages {
		switch stage.Status {
		case domain.StageFailed:
			anyFailed = true
		case domain.StageRunning:
			anyRunning = true
		}
		if stage.Status != domain.StageCompleted && stage.Status != domain.StageSkipped {
			allCovered = false
		}
	}

	switch {
	case anyFailed:
		return domain.RunFailed, true
	case anyRunning:
		return domain.RunRunning, true
	case allCovered:
		return domain.RunCompleted, true
	default:
		return "", false
	}
}
