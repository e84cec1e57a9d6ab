package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formpulse/formpulse/internal/core"
	"github.com/formpulse/formpulse/internal/retry"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestOrchestrator() *Orchestrator {
	runner := NewRunner(testLogger(), WithSleep(func(time.Duration) {}))
	return New(runner, testLogger())
}

func testUnit() *core.WorkUnit {
	return &core.WorkUnit{ID: "resp-1", EventType: core.EventFormCompleted}
}

func okStep(name string, required bool) Step {
	return Step{Name: name, Required: required, Fn: func(context.Context) (StepOutcome, error) {
		return Done(nil), nil
	}}
}

func failStep(name string, required bool, category core.ErrorCategory) Step {
	return Step{Name: name, Required: required, Fn: func(context.Context) (StepOutcome, error) {
		return StepOutcome{}, core.Errorf(category, "%s blew up", name)
	}}
}

func TestRunWorkflow_OptionalFailureContinues(t *testing.T) {
	o := newTestOrchestrator()

	run, err := o.RunWorkflow(context.Background(), testUnit(), 1, []Step{
		okStep("update_analytics", true),
		failStep("trigger_integrations", false, core.CategoryExternalAPI),
		okStep("notify_completion", true),
	})

	require.NoError(t, err, "optional failures never abort the run")
	assert.Equal(t, core.RunPartial, run.OverallStatus)
	assert.Len(t, run.Steps, 3, "the step after the optional failure still ran")

	step, ok := run.StepNamed("trigger_integrations")
	require.True(t, ok)
	assert.Equal(t, core.StepFailure, step.Status)
	assert.Equal(t, core.CategoryExternalAPI, step.Error.Category)
}

func TestRunWorkflow_RequiredFailureShortCircuits(t *testing.T) {
	o := newTestOrchestrator()

	invoked := false
	never := Step{Name: "notify_completion", Required: true, Fn: func(context.Context) (StepOutcome, error) {
		invoked = true
		return Done(nil), nil
	}}

	run, err := o.RunWorkflow(context.Background(), testUnit(), 1, []Step{
		failStep("update_analytics", true, core.CategoryTimeout),
		never,
	})

	require.Error(t, err)
	assert.Equal(t, core.CategoryTimeout, core.AsClassified(err).Category)
	assert.Equal(t, core.RunFailed, run.OverallStatus)
	assert.False(t, invoked, "steps after a required failure must not run")
	assert.Len(t, run.Steps, 1)
}

func TestRunWorkflow_InlineRetryRecordsEveryAttempt(t *testing.T) {
	o := newTestOrchestrator()

	calls := 0
	flaky := Step{
		Name:     "deliver_webhook",
		Required: true,
		Retry: &retry.Policy{
			MaxAttempts:         3,
			BaseDelay:           time.Second,
			Backoff:             retry.BackoffExponential,
			RetryableCategories: []core.ErrorCategory{core.CategoryTimeout},
		},
		Fn: func(context.Context) (StepOutcome, error) {
			calls++
			if calls == 1 {
				return StepOutcome{}, core.Errorf(core.CategoryTimeout, "endpoint timed out")
			}
			return Done(map[string]any{"status_code": 200}), nil
		},
	}

	run, err := o.RunWorkflow(context.Background(), testUnit(), 1, []Step{flaky})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	require.Len(t, run.Steps, 2, "one StepResult per attempt")
	assert.Equal(t, core.StepFailure, run.Steps[0].Status)
	assert.Equal(t, core.StepSuccess, run.Steps[1].Status)
	assert.Equal(t, core.RunCompleted, run.OverallStatus,
		"only the latest attempt per step counts")
}

func TestRunWorkflow_InlineRetryStopsOnFatalCategory(t *testing.T) {
	o := newTestOrchestrator()

	calls := 0
	step := Step{
		Name:     "deliver_webhook",
		Required: false,
		Retry:    &retry.Policy{MaxAttempts: 3, BaseDelay: time.Second, Backoff: retry.BackoffFixed, FatalCategories: []core.ErrorCategory{core.CategoryValidation}},
		Fn: func(context.Context) (StepOutcome, error) {
			calls++
			return StepOutcome{}, core.Errorf(core.CategoryValidation, "endpoint url is malformed")
		},
	}

	run, err := o.RunWorkflow(context.Background(), testUnit(), 1, []Step{step})

	require.NoError(t, err)
	assert.Equal(t, 1, calls, "fatal categories are never retried inline")
	assert.Len(t, run.Steps, 1)
}

func TestRunWorkflow_PanicRecoveredAsFailure(t *testing.T) {
	o := newTestOrchestrator()

	panicking := Step{Name: "update_analytics", Required: true, Fn: func(context.Context) (StepOutcome, error) {
		panic("nil map write")
	}}

	run, err := o.RunWorkflow(context.Background(), testUnit(), 1, []Step{panicking})

	require.Error(t, err)
	assert.Equal(t, core.RunFailed, run.OverallStatus)
	assert.Equal(t, core.CategoryUnknown, core.AsClassified(err).Category)
	assert.Contains(t, err.Error(), "panicked")
}

func TestRunWorkflow_SkippedStepRecordsReason(t *testing.T) {
	o := newTestOrchestrator()

	skipping := Step{Name: "queue_ai_analysis", Required: false, Fn: func(context.Context) (StepOutcome, error) {
		return Skip("insufficient credits"), nil
	}}

	run, err := o.RunWorkflow(context.Background(), testUnit(), 1, []Step{skipping})

	require.NoError(t, err)
	assert.Equal(t, core.RunCompleted, run.OverallStatus)
	step, ok := run.StepNamed("queue_ai_analysis")
	require.True(t, ok)
	assert.Equal(t, core.StepSkipped, step.Status)
	assert.Equal(t, "insufficient credits", step.SideEffects["skip_reason"])
}

func TestRunWorkflow_CancelledContextAborts(t *testing.T) {
	o := newTestOrchestrator()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	invoked := false
	run, err := o.RunWorkflow(ctx, testUnit(), 1, []Step{
		{Name: "update_analytics", Required: true, Fn: func(context.Context) (StepOutcome, error) {
			invoked = true
			return Done(nil), nil
		}},
	})

	require.Error(t, err)
	assert.Equal(t, core.CategoryTimeout, core.AsClassified(err).Category)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, invoked)
	assert.Empty(t, run.Steps)
}

func TestRun_NilStepFunctionIsValidationFailure(t *testing.T) {
	runner := NewRunner(testLogger())

	result := runner.Run(context.Background(), Step{Name: "broken", Required: true})

	assert.Equal(t, core.StepFailure, result.Status)
	assert.Equal(t, core.CategoryValidation, result.Error.Category)
}
