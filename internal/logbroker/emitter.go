package logbroker

import (
	"context"
	"log/slog"
	"time"

	"github.com/andronoma-labs/andronoma-go/internal/domain"
	"github.com/andronoma-labs/andronoma-go/internal/repo"
	"github.com/google/uuid"
)

// Emitter writes a log entry durably and then publishes it to live
// subscribers. The durable write happens first; a publish never fails and
// never blocks the caller.
type Emitter struct {
	logs   repo.LogRepository
	broker *Broker
	logger *slog.Logger
	clock  func() time.Time
}

func NewEmitter(logs repo.LogRepository, broker *Broker, logger *slog.Logger) *Emitter {
	return &Emitter{
		logs:   logs,
		broker: broker,
		logger: logger,
		clock:  func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the timestamp source. Tests only.
func (e *Emitter) WithClock(clock func() time.Time) *Emitter {
	e.clock = clock
	return e
}

func (e *Emitter) Emit(ctx context.Context, runID uuid.UUID, level, message string, metadata domain.Metadata) error {
	if metadata == nil {
		metadata = domain.Metadata{}
	}
	entry := domain.LogEntry{
		ID:        uuid.New(),
		RunID:     runID,
		CreatedAt: e.clock(),
		Level:     level,
		Message:   message,
		Metadata:  metadata,
	}
	if err := e.logs.Append(ctx, entry); err != nil {
		return err
	}
	e.broker.Publish(entry)
	return nil
}

// EmitBestEffort is Emit for callers that must not fail on a log write;
// the error is logged and swallowed.
func (e *Emitter) EmitBestEffort(ctx context.Context, runID uuid.UUID, level, message string, metadata domain.Metadata) {
	if err := e.Emit(ctx, runID, level, message, metadata); err != nil && e.logger != nil {
		e.logger.Warn("run log write failed", "run_id", runID.String(), "error", err.Error())
	}
}
