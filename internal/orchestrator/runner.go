// Package orchestrator sequences the named steps of one workflow run and
// aggregates their outcomes. Step failures are captured as data so sibling
// steps keep running; only a required-step failure aborts the run.
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/formpulse/formpulse/internal/core"
	"github.com/formpulse/formpulse/internal/retry"
)

// StepFn is the body of one step. A skipped step returns Skipped; any error
// is classified and recorded, never propagated to sibling steps.
type StepFn func(ctx context.Context) (StepOutcome, error)

// StepOutcome is what a successful (or skipped) step hands back.
type StepOutcome struct {
	Skipped     bool
	SkipReason  string
	SideEffects map[string]any
}

// Step describes one entry in a workflow's ordered step list.
type Step struct {
	Name     string
	Required bool
	Fn       StepFn
	// Retry, when set, enables inline per-call retries for this step. Each
	// attempt records its own StepResult; this is the inner level of the
	// two-level retry structure, the dispatcher's outer policy being the
	// other.
	Retry *retry.Policy
}

// Runner executes a single step, capturing success or failure without
// aborting the caller.
type Runner struct {
	logger *slog.Logger
	now    func() time.Time
	sleep  func(time.Duration)
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithSleep overrides the inline-retry delay function, for tests.
func WithSleep(sleep func(time.Duration)) RunnerOption {
	return func(r *Runner) { r.sleep = sleep }
}

// NewRunner creates a step runner.
func NewRunner(logger *slog.Logger, opts ...RunnerOption) *Runner {
	r := &Runner{logger: logger, now: time.Now, sleep: time.Sleep}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunWithRetry executes the step, retrying inline per the step's policy.
// One StepResult is recorded per attempt; the last element reflects the
// step's final outcome.
func (r *Runner) RunWithRetry(ctx context.Context, step Step) []core.StepResult {
	var results []core.StepResult
	attempt := 1
	for {
		result := r.Run(ctx, step)
		results = append(results, result)

		if result.Status != core.StepFailure || step.Retry == nil {
			return results
		}
		decision := step.Retry.Evaluate(result.Error.Category, attempt)
		if !decision.ShouldRetry {
			return results
		}

		r.logger.Info("retrying step inline",
			"step", step.Name, "attempt", attempt, "delay", decision.Delay)
		r.sleep(decision.Delay)
		attempt++
	}
}

// Run executes the step and turns its outcome into a StepResult. A panic
// inside the step is recovered and recorded as an unknown-category failure
// so one misbehaving step cannot take down the worker.
func (r *Runner) Run(ctx context.Context, step Step) core.StepResult {
	result := core.StepResult{
		StepName: step.Name,
		Required: step.Required,
	}

	outcome, err := r.invoke(ctx, step)
	result.RecordedAt = r.now()

	switch {
	case err != nil:
		result.Status = core.StepFailure
		result.Error = core.AsClassified(err)
		r.logger.Warn("step failed",
			"step", step.Name,
			"required", step.Required,
			"category", result.Error.Category,
			"error", result.Error.Message,
		)
	case outcome.Skipped:
		result.Status = core.StepSkipped
		if outcome.SkipReason != "" {
			result.SideEffects = map[string]any{"skip_reason": outcome.SkipReason}
		}
		r.logger.Info("step skipped", "step", step.Name, "reason", outcome.SkipReason)
	default:
		result.Status = core.StepSuccess
		result.SideEffects = outcome.SideEffects
	}

	return result
}

func (r *Runner) invoke(ctx context.Context, step Step) (outcome StepOutcome, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = core.Errorf(core.CategoryUnknown, "step %s panicked: %v", step.Name, rec)
		}
	}()

	if step.Fn == nil {
		return StepOutcome{}, core.Errorf(core.CategoryValidation, "step %s has no function", step.Name)
	}
	return step.Fn(ctx)
}

// Skip is a convenience StepOutcome for a silently skipped step.
func Skip(reason string) StepOutcome {
	return StepOutcome{Skipped: true, SkipReason: reason}
}

// Done is a convenience StepOutcome for a successful step.
func Done(sideEffects map[string]any) StepOutcome {
	return StepOutcome{SideEffects: sideEffects}
}
