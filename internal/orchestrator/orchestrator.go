package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/formpulse/formpulse/internal/core"
)

// Orchestrator runs the ordered step list for one work unit and aggregates
// the step results into a RunRecord. Steps run strictly sequentially on the
// calling goroutine; there is no intra-run parallelism.
type Orchestrator struct {
	runner *Runner
	logger *slog.Logger
	now    func() time.Time
}

// New creates an Orchestrator.
func New(runner *Runner, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{runner: runner, logger: logger, now: time.Now}
}

// RunWorkflow executes steps in declared order. The first required-step
// failure short-circuits the remaining steps; optional failures do not. The
// returned error is the classified error of the failed required step, which
// the caller (the job/dispatcher boundary) feeds into its outer retry
// policy. The RunRecord is always returned, even on failure.
func (o *Orchestrator) RunWorkflow(ctx context.Context, unit *core.WorkUnit, attempt int, steps []Step) (*core.RunRecord, error) {
	run := &core.RunRecord{
		WorkUnitID:    unit.ID,
		EventType:     unit.EventType,
		AttemptNumber: attempt,
		OverallStatus: core.RunRunning,
		StartedAt:     o.now(),
	}

	o.logger.Info("workflow started",
		"work_unit", unit.ID,
		"event_type", unit.EventType,
		"attempt", attempt,
		"steps", len(steps),
	)

	var abort *core.ClassifiedError
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			abort = core.NewClassifiedError(core.CategoryTimeout, err)
			break
		}

		results := o.runner.RunWithRetry(ctx, step)
		run.Steps = append(run.Steps, results...)

		final := results[len(results)-1]
		if final.Status == core.StepFailure && step.Required {
			abort = final.Error
			break
		}
	}

	run.FinishedAt = o.now()
	run.OverallStatus = core.DeriveRunStatus(run.Steps)

	o.logger.Info("workflow finished",
		"work_unit", unit.ID,
		"status", run.OverallStatus,
		"duration", run.FinishedAt.Sub(run.StartedAt),
	)

	if abort != nil {
		return run, abort
	}
	return run, nil
}
