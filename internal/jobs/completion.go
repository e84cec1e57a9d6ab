package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/formpulse/formpulse/internal/core"
	"github.com/formpulse/formpulse/internal/credits"
	"github.com/formpulse/formpulse/internal/formconfig"
	"github.com/formpulse/formpulse/internal/orchestrator"
	"github.com/formpulse/formpulse/internal/retry"
	"github.com/formpulse/formpulse/internal/storage"
)

// CompletionWorkflowJob handles the form_completed event: it updates the
// form's analytics aggregate, fans out integrations and AI analysis as
// follow-up work units, and pushes the completion status event.
type CompletionWorkflowJob struct {
	orch       *orchestrator.Orchestrator
	store      storage.Store
	ledger     *credits.Ledger
	forms      *formconfig.Registry
	dispatcher core.JobDispatcher
	notifier   core.Notifier
	logger     *slog.Logger

	// stepRetry enables inline retries on the fan-out steps.
	stepRetry retry.Policy
}

// NewCompletionWorkflowJob creates the job.
func NewCompletionWorkflowJob(
	orch *orchestrator.Orchestrator,
	store storage.Store,
	ledger *credits.Ledger,
	forms *formconfig.Registry,
	dispatcher core.JobDispatcher,
	notifier core.Notifier,
	logger *slog.Logger,
) *CompletionWorkflowJob {
	return &CompletionWorkflowJob{
		orch:       orch,
		store:      store,
		ledger:     ledger,
		forms:      forms,
		dispatcher: dispatcher,
		notifier:   notifier,
		logger:     logger,
		stepRetry:  retry.Default(),
	}
}

// Run executes the completion workflow for one work unit.
func (j *CompletionWorkflowJob) Run(ctx context.Context, unit *core.WorkUnit, attempt int) (*core.RunRecord, error) {
	if err := ValidatePayload(unit, "form_id"); err != nil {
		return nil, err
	}

	formID := unit.PayloadString("form_id")
	cfg := j.forms.For(formID)

	steps := []orchestrator.Step{
		{
			Name:     "update_analytics",
			Required: cfg.AnalyticsIsRequired(),
			Fn:       j.updateAnalytics(unit, formID),
		},
		{
			Name:     "trigger_integrations",
			Required: false,
			Retry:    &j.stepRetry,
			Fn:       j.triggerIntegrations(unit, cfg),
		},
		{
			Name:     "queue_ai_analysis",
			Required: false,
			Fn:       j.queueAIAnalysis(unit, cfg),
		},
		{
			Name:     "notify_completion",
			Required: false,
			Fn:       j.notifyCompletion(unit),
		},
	}

	run, runErr := j.orch.RunWorkflow(ctx, unit, attempt, steps)
	if err := j.store.SaveRun(ctx, run); err != nil {
		j.logger.Error("failed to persist run record", "work_unit", unit.ID, "error", err)
	}
	return run, runErr
}

func (j *CompletionWorkflowJob) updateAnalytics(unit *core.WorkUnit, formID string) orchestrator.StepFn {
	return func(ctx context.Context) (orchestrator.StepOutcome, error) {
		completionSeconds := payloadFloat(unit, "completion_seconds")
		completedAt := unit.EnqueuedAt

		analytics, err := j.store.UpsertFormAnalytics(ctx, formID, func(a *core.FormAnalytics) {
			a.RecordCompletion(completionSeconds, completedAt)
		})
		if err != nil {
			return orchestrator.StepOutcome{}, fmt.Errorf("failed to update analytics for form %s: %w", formID, err)
		}
		return orchestrator.Done(map[string]any{
			"responses_count": analytics.ResponsesCount,
			"avg_completion":  analytics.AvgCompletionSeconds,
		}), nil
	}
}

func (j *CompletionWorkflowJob) triggerIntegrations(unit *core.WorkUnit, cfg formconfig.FormConfig) orchestrator.StepFn {
	return func(ctx context.Context) (orchestrator.StepOutcome, error) {
		if len(cfg.Integrations) == 0 {
			return orchestrator.Skip("no integrations configured"), nil
		}

		followUp, err := core.NewWorkUnit(unit.ID, core.EventIntegrationTriggered, unit.Payload)
		if err != nil {
			return orchestrator.StepOutcome{}, err
		}
		if err := j.dispatcher.Dispatch(ctx, followUp); err != nil {
			return orchestrator.StepOutcome{}, fmt.Errorf("failed to dispatch integration trigger: %w", err)
		}
		return orchestrator.Done(map[string]any{"integrations": len(cfg.Integrations)}), nil
	}
}

func (j *CompletionWorkflowJob) queueAIAnalysis(unit *core.WorkUnit, cfg formconfig.FormConfig) orchestrator.StepFn {
	return func(ctx context.Context) (orchestrator.StepOutcome, error) {
		if !cfg.AIEnhanced {
			return orchestrator.Skip("form is not ai-enhanced"), nil
		}
		userID := unit.UserID()
		if userID == "" {
			return orchestrator.Skip("no user on the response"), nil
		}

		sufficient, err := j.ledger.HasSufficient(ctx, userID)
		if err != nil {
			return orchestrator.StepOutcome{}, err
		}
		if !sufficient {
			j.logger.Info("skipping ai analysis, insufficient credits",
				"work_unit", unit.ID, "user_id", userID)
			return orchestrator.Skip("insufficient credits"), nil
		}

		followUp, err := core.NewWorkUnit(unit.ID, core.EventResponseAnalyzed, unit.Payload)
		if err != nil {
			return orchestrator.StepOutcome{}, err
		}
		if err := j.dispatcher.Dispatch(ctx, followUp); err != nil {
			return orchestrator.StepOutcome{}, fmt.Errorf("failed to dispatch ai analysis: %w", err)
		}
		return orchestrator.Done(nil), nil
	}
}

func (j *CompletionWorkflowJob) notifyCompletion(unit *core.WorkUnit) orchestrator.StepFn {
	return func(ctx context.Context) (orchestrator.StepOutcome, error) {
		event := core.StatusEvent{
			Type:       "completed",
			WorkUnitID: unit.ID,
			EventType:  unit.EventType,
			Extra:      map[string]any{"completed_at": time.Now().UTC()},
		}
		if err := j.notifier.Notify(ctx, unit.ID, event); err != nil {
			return orchestrator.StepOutcome{}, fmt.Errorf("failed to push completion event: %w", err)
		}
		return orchestrator.Done(nil), nil
	}
}

func payloadFloat(unit *core.WorkUnit, key string) float64 {
	switch v := unit.Payload[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}
