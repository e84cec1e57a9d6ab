package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/formpulse/formpulse/internal/core"
	"github.com/formpulse/formpulse/internal/credits"
	"github.com/formpulse/formpulse/internal/engine"
	"github.com/formpulse/formpulse/internal/formconfig"
	"github.com/formpulse/formpulse/internal/guard"
	"github.com/formpulse/formpulse/internal/orchestrator"
	"github.com/formpulse/formpulse/internal/ratelimit"
	"github.com/formpulse/formpulse/internal/storage"
)

// ResponseAnalysisJob handles the response_analyzed event: it runs the AI
// analysis workflow for one completed response, gated by the idempotency
// guard, the tenant rate limit, and the user's credit balance.
type ResponseAnalysisJob struct {
	orch     *orchestrator.Orchestrator
	store    storage.Store
	ledger   *credits.Ledger
	forms    *formconfig.Registry
	engine   engine.Engine
	guard    *guard.IdempotencyGuard
	limiter  *ratelimit.Limiter
	notifier core.Notifier
	logger   *slog.Logger
	model    string
}

// NewResponseAnalysisJob creates the job. model names the generator for the
// persisted analysis record.
func NewResponseAnalysisJob(
	orch *orchestrator.Orchestrator,
	store storage.Store,
	ledger *credits.Ledger,
	forms *formconfig.Registry,
	eng engine.Engine,
	idempotency *guard.IdempotencyGuard,
	limiter *ratelimit.Limiter,
	notifier core.Notifier,
	model string,
	logger *slog.Logger,
) *ResponseAnalysisJob {
	return &ResponseAnalysisJob{
		orch:     orch,
		store:    store,
		ledger:   ledger,
		forms:    forms,
		engine:   eng,
		guard:    idempotency,
		limiter:  limiter,
		notifier: notifier,
		logger:   logger,
		model:    model,
	}
}

// Run executes the analysis workflow for one work unit. A rate-limited
// tenant aborts before any step runs; the dispatcher reschedules the unit
// with a mandatory delay without consuming a retry attempt.
func (j *ResponseAnalysisJob) Run(ctx context.Context, unit *core.WorkUnit, attempt int) (*core.RunRecord, error) {
	if err := ValidatePayload(unit, "response_id", "form_id", "user_id"); err != nil {
		return nil, err
	}

	cfg := j.forms.For(unit.PayloadString("form_id"))
	if !j.limiter.TryAcquire(unit.TenantKey(), cfg.RateLimitPerMinute) {
		return nil, core.Errorf(core.CategoryRateLimited,
			"tenant %s exhausted its ai rate window", unit.TenantKey())
	}

	guardKey := unit.ID + ":response_analysis"
	var analysis *core.AnalysisResult

	steps := []orchestrator.Step{
		{
			Name:     "analyze_response",
			Required: true,
			Fn:       j.analyzeResponse(unit, cfg, guardKey, &analysis),
		},
		{
			Name:     "persist_analysis",
			Required: true,
			Fn:       j.persistAnalysis(guardKey, &analysis),
		},
		{
			Name:     "debit_credits",
			Required: false,
			Fn:       j.debitCredits(unit, cfg, &analysis),
		},
		{
			Name:     "notify_analysis",
			Required: false,
			Fn:       j.notifyAnalysis(unit, &analysis),
		},
	}

	run, runErr := j.orch.RunWorkflow(ctx, unit, attempt, steps)
	if err := j.store.SaveRun(ctx, run); err != nil {
		j.logger.Error("failed to persist run record", "work_unit", unit.ID, "error", err)
	}
	return run, runErr
}

func (j *ResponseAnalysisJob) analyzeResponse(unit *core.WorkUnit, cfg formconfig.FormConfig, guardKey string, out **core.AnalysisResult) orchestrator.StepFn {
	return func(ctx context.Context) (orchestrator.StepOutcome, error) {
		if !j.guard.ShouldProcess(guardKey, guard.DefaultWindow) {
			return orchestrator.Skip("response analyzed within the last 5 minutes"), nil
		}

		userID := unit.UserID()
		sufficient, err := j.ledger.HasSufficient(ctx, userID)
		if err != nil {
			return orchestrator.StepOutcome{}, err
		}
		if !sufficient {
			j.logger.Info("skipping analysis, insufficient credits",
				"work_unit", unit.ID, "user_id", userID)
			return orchestrator.Skip("insufficient credits"), nil
		}

		inputs := map[string]any{
			"FormTitle": formTitle(unit),
			"Answers":   payloadMap(unit, "answers"),
		}
		result, err := j.engine.Execute(ctx, engine.TaskResponseAnalysis, inputs)
		if err != nil {
			return orchestrator.StepOutcome{}, err
		}
		if !result.Success {
			return orchestrator.StepOutcome{}, core.Errorf(core.CategoryExternalAPI,
				"engine reported failure: %s", result.ErrorMessage)
		}

		*out = analysisFromOutput(unit, j.model, result.Output)
		return orchestrator.Done(map[string]any{
			"sentiment": (*out).Sentiment,
			"model":     j.model,
		}), nil
	}
}

func (j *ResponseAnalysisJob) persistAnalysis(guardKey string, analysis **core.AnalysisResult) orchestrator.StepFn {
	return func(ctx context.Context) (orchestrator.StepOutcome, error) {
		if *analysis == nil {
			return orchestrator.Skip("analysis was skipped"), nil
		}
		if err := j.store.SaveAnalysisResult(ctx, *analysis); err != nil {
			return orchestrator.StepOutcome{}, fmt.Errorf("failed to persist analysis: %w", err)
		}
		j.guard.MarkProcessed(guardKey, guard.DefaultWindow)
		return orchestrator.Done(nil), nil
	}
}

func (j *ResponseAnalysisJob) debitCredits(unit *core.WorkUnit, cfg formconfig.FormConfig, analysis **core.AnalysisResult) orchestrator.StepFn {
	return func(ctx context.Context) (orchestrator.StepOutcome, error) {
		if *analysis == nil {
			return orchestrator.Skip("analysis was skipped"), nil
		}
		remaining, err := j.ledger.Debit(ctx, unit.UserID(), cfg.AICreditCost)
		if err != nil {
			return orchestrator.StepOutcome{}, err
		}
		return orchestrator.Done(map[string]any{"remaining_credits": remaining}), nil
	}
}

func (j *ResponseAnalysisJob) notifyAnalysis(unit *core.WorkUnit, analysis **core.AnalysisResult) orchestrator.StepFn {
	return func(ctx context.Context) (orchestrator.StepOutcome, error) {
		if *analysis == nil {
			return orchestrator.Skip("analysis was skipped"), nil
		}
		event := core.StatusEvent{
			Type:       "completed",
			WorkUnitID: unit.ID,
			EventType:  unit.EventType,
			Extra: map[string]any{
				"sentiment": (*analysis).Sentiment,
				"score":     (*analysis).Score,
			},
		}
		if err := j.notifier.Notify(ctx, unit.ID, event); err != nil {
			return orchestrator.StepOutcome{}, fmt.Errorf("failed to push analysis event: %w", err)
		}
		return orchestrator.Done(nil), nil
	}
}

func analysisFromOutput(unit *core.WorkUnit, model string, output map[string]any) *core.AnalysisResult {
	result := &core.AnalysisResult{
		ResponseID: unit.PayloadString("response_id"),
		FormID:     unit.PayloadString("form_id"),
		Model:      model,
		UpdatedAt:  time.Now().UTC(),
	}
	if summary, ok := output["summary"].(string); ok {
		result.Summary = summary
	}
	if sentiment, ok := output["sentiment"].(string); ok {
		result.Sentiment = sentiment
	}
	if score, ok := output["score"].(float64); ok {
		result.Score = score
	}
	return result
}

func formTitle(unit *core.WorkUnit) string {
	form := payloadMap(unit, "form")
	if title, ok := form["title"].(string); ok && title != "" {
		return title
	}
	return unit.PayloadString("form_id")
}
