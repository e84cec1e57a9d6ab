package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/formpulse/formpulse/internal/core"
	"github.com/formpulse/formpulse/internal/storage"
)

// StoreRecorder persists terminal-failure metadata as a final failed run
// record so the audit trail shows why a work unit stopped being retried.
type StoreRecorder struct {
	store  storage.Store
	logger *slog.Logger
}

// NewStoreRecorder creates the recorder.
func NewStoreRecorder(store storage.Store, logger *slog.Logger) *StoreRecorder {
	return &StoreRecorder{store: store, logger: logger}
}

// RecordTerminalFailure implements TerminalRecorder.
func (r *StoreRecorder) RecordTerminalFailure(ctx context.Context, unit *core.WorkUnit, attempt int, failure *core.ClassifiedError) {
	now := time.Now().UTC()
	run := &core.RunRecord{
		WorkUnitID:    unit.ID,
		EventType:     unit.EventType,
		AttemptNumber: attempt,
		Steps: []core.StepResult{{
			StepName:   "terminal_failure",
			Required:   true,
			Status:     core.StepFailure,
			Error:      failure,
			RecordedAt: now,
		}},
		OverallStatus: core.RunFailed,
		StartedAt:     now,
		FinishedAt:    now,
	}
	if err := r.store.SaveRun(ctx, run); err != nil {
		r.logger.Error("failed to persist terminal failure",
			"work_unit", unit.ID, "error", err)
	}
}
