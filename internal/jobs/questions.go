package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/formpulse/formpulse/internal/core"
	"github.com/formpulse/formpulse/internal/credits"
	"github.com/formpulse/formpulse/internal/engine"
	"github.com/formpulse/formpulse/internal/formconfig"
	"github.com/formpulse/formpulse/internal/orchestrator"
	"github.com/formpulse/formpulse/internal/ratelimit"
	"github.com/formpulse/formpulse/internal/storage"
)

// DynamicQuestionGenerationJob handles the dynamic_question_requested event:
// it asks the engine for one follow-up question based on the answers so far.
// An empty or unusable engine reply is a validation failure and is never
// retried: a respondent waiting on a form cannot be helped by a question
// that arrives minutes later.
type DynamicQuestionGenerationJob struct {
	orch     *orchestrator.Orchestrator
	store    storage.Store
	ledger   *credits.Ledger
	forms    *formconfig.Registry
	engine   engine.Engine
	limiter  *ratelimit.Limiter
	notifier core.Notifier
	logger   *slog.Logger
	model    string
}

// NewDynamicQuestionGenerationJob creates the job.
func NewDynamicQuestionGenerationJob(
	orch *orchestrator.Orchestrator,
	store storage.Store,
	ledger *credits.Ledger,
	forms *formconfig.Registry,
	eng engine.Engine,
	limiter *ratelimit.Limiter,
	notifier core.Notifier,
	model string,
	logger *slog.Logger,
) *DynamicQuestionGenerationJob {
	return &DynamicQuestionGenerationJob{
		orch:     orch,
		store:    store,
		ledger:   ledger,
		forms:    forms,
		engine:   eng,
		limiter:  limiter,
		notifier: notifier,
		logger:   logger,
		model:    model,
	}
}

// Run executes the question-generation workflow for one work unit.
func (j *DynamicQuestionGenerationJob) Run(ctx context.Context, unit *core.WorkUnit, attempt int) (*core.RunRecord, error) {
	if err := ValidatePayload(unit, "response_id", "form_id", "user_id"); err != nil {
		return nil, err
	}

	cfg := j.forms.For(unit.PayloadString("form_id"))
	if !j.limiter.TryAcquire(unit.TenantKey(), cfg.RateLimitPerMinute) {
		return nil, core.Errorf(core.CategoryRateLimited,
			"tenant %s exhausted its ai rate window", unit.TenantKey())
	}

	var question *core.DynamicQuestion

	steps := []orchestrator.Step{
		{
			Name:     "generate_question",
			Required: true,
			Fn:       j.generateQuestion(unit, &question),
		},
		{
			Name:     "persist_question",
			Required: true,
			Fn:       j.persistQuestion(&question),
		},
		{
			Name:     "debit_credits",
			Required: false,
			Fn:       j.debitCredits(unit, cfg, &question),
		},
		{
			Name:     "notify_question",
			Required: false,
			Fn:       j.notifyQuestion(unit, &question),
		},
	}

	run, runErr := j.orch.RunWorkflow(ctx, unit, attempt, steps)
	if err := j.store.SaveRun(ctx, run); err != nil {
		j.logger.Error("failed to persist run record", "work_unit", unit.ID, "error", err)
	}
	return run, runErr
}

func (j *DynamicQuestionGenerationJob) generateQuestion(unit *core.WorkUnit, out **core.DynamicQuestion) orchestrator.StepFn {
	return func(ctx context.Context) (orchestrator.StepOutcome, error) {
		userID := unit.UserID()
		sufficient, err := j.ledger.HasSufficient(ctx, userID)
		if err != nil {
			return orchestrator.StepOutcome{}, err
		}
		if !sufficient {
			j.logger.Info("skipping question generation, insufficient credits",
				"work_unit", unit.ID, "user_id", userID)
			return orchestrator.Skip("insufficient credits"), nil
		}

		inputs := map[string]any{
			"FormTitle": formTitle(unit),
			"Answers":   payloadMap(unit, "answers"),
		}
		result, err := j.engine.Execute(ctx, engine.TaskDynamicQuestion, inputs)
		if err != nil {
			return orchestrator.StepOutcome{}, err
		}
		if !result.Success {
			return orchestrator.StepOutcome{}, core.Errorf(core.CategoryExternalAPI,
				"engine reported failure: %s", result.ErrorMessage)
		}

		text, _ := result.Output["question"].(string)
		text = strings.TrimSpace(text)
		if text == "" {
			return orchestrator.StepOutcome{}, core.Errorf(core.CategoryValidation,
				"engine returned no usable question for response %s", unit.PayloadString("response_id"))
		}

		*out = &core.DynamicQuestion{
			ResponseID: unit.PayloadString("response_id"),
			FormID:     unit.PayloadString("form_id"),
			Question:   text,
			Model:      j.model,
			CreatedAt:  time.Now().UTC(),
		}
		return orchestrator.Done(map[string]any{"model": j.model}), nil
	}
}

func (j *DynamicQuestionGenerationJob) persistQuestion(question **core.DynamicQuestion) orchestrator.StepFn {
	return func(ctx context.Context) (orchestrator.StepOutcome, error) {
		if *question == nil {
			return orchestrator.Skip("question generation was skipped"), nil
		}
		if err := j.store.SaveDynamicQuestion(ctx, *question); err != nil {
			return orchestrator.StepOutcome{}, fmt.Errorf("failed to persist question: %w", err)
		}
		return orchestrator.Done(nil), nil
	}
}

func (j *DynamicQuestionGenerationJob) debitCredits(unit *core.WorkUnit, cfg formconfig.FormConfig, question **core.DynamicQuestion) orchestrator.StepFn {
	return func(ctx context.Context) (orchestrator.StepOutcome, error) {
		if *question == nil {
			return orchestrator.Skip("question generation was skipped"), nil
		}
		remaining, err := j.ledger.Debit(ctx, unit.UserID(), cfg.AICreditCost)
		if err != nil {
			return orchestrator.StepOutcome{}, err
		}
		return orchestrator.Done(map[string]any{"remaining_credits": remaining}), nil
	}
}

func (j *DynamicQuestionGenerationJob) notifyQuestion(unit *core.WorkUnit, question **core.DynamicQuestion) orchestrator.StepFn {
	return func(ctx context.Context) (orchestrator.StepOutcome, error) {
		if *question == nil {
			return orchestrator.Skip("question generation was skipped"), nil
		}
		event := core.StatusEvent{
			Type:       "completed",
			WorkUnitID: unit.ID,
			EventType:  unit.EventType,
			Extra:      map[string]any{"question": (*question).Question},
		}
		if err := j.notifier.Notify(ctx, unit.ID, event); err != nil {
			return orchestrator.StepOutcome{}, fmt.Errorf("failed to push question event: %w", err)
		}
		return orchestrator.Done(nil), nil
	}
}
