package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/formpulse/formpulse/internal/core"
	"github.com/formpulse/formpulse/internal/formconfig"
	"github.com/formpulse/formpulse/internal/guard"
	"github.com/formpulse/formpulse/internal/integrations"
	"github.com/formpulse/formpulse/internal/orchestrator"
	"github.com/formpulse/formpulse/internal/retry"
	"github.com/formpulse/formpulse/internal/storage"
)

// deliveryWindow suppresses re-delivery of an integration that already
// succeeded for the same work unit, across inline and outer retries.
const deliveryWindow = time.Hour

// IntegrationTriggerJob handles the integration_triggered event: one
// delivery step per enabled integration, each isolated so a failing endpoint
// cannot block the others. Deliveries retry inline per the step policy; a
// 4xx rejection is fatal for that endpoint.
type IntegrationTriggerJob struct {
	orch     *orchestrator.Orchestrator
	store    storage.Store
	forms    *formconfig.Registry
	registry *integrations.Registry
	guard    *guard.IdempotencyGuard
	logger   *slog.Logger

	deliveryRetry retry.Policy
}

// NewIntegrationTriggerJob creates the job.
func NewIntegrationTriggerJob(
	orch *orchestrator.Orchestrator,
	store storage.Store,
	forms *formconfig.Registry,
	registry *integrations.Registry,
	idempotency *guard.IdempotencyGuard,
	logger *slog.Logger,
) *IntegrationTriggerJob {
	return &IntegrationTriggerJob{
		orch:     orch,
		store:    store,
		forms:    forms,
		registry: registry,
		guard:    idempotency,
		logger:   logger,
		deliveryRetry: retry.Policy{
			MaxAttempts: 3,
			BaseDelay:   2 * time.Second,
			Backoff:     retry.BackoffExponential,
			RetryableCategories: []core.ErrorCategory{
				core.CategoryTimeout,
				core.CategoryExternalAPI,
			},
			FatalCategories: []core.ErrorCategory{
				core.CategoryValidation,
			},
		},
	}
}

// Run executes the integration fan-out for one work unit.
func (j *IntegrationTriggerJob) Run(ctx context.Context, unit *core.WorkUnit, attempt int) (*core.RunRecord, error) {
	if err := ValidatePayload(unit, "form_id"); err != nil {
		return nil, err
	}

	cfg := j.forms.For(unit.PayloadString("form_id"))
	payload := j.buildPayload(unit)

	steps := make([]orchestrator.Step, 0, len(cfg.Integrations))
	for _, integration := range cfg.Integrations {
		steps = append(steps, orchestrator.Step{
			Name:     "deliver_" + integration.Key(),
			Required: false,
			Retry:    &j.deliveryRetry,
			Fn:       j.deliver(unit, integration, payload),
		})
	}

	run, runErr := j.orch.RunWorkflow(ctx, unit, attempt, steps)
	if err := j.store.SaveRun(ctx, run); err != nil {
		j.logger.Error("failed to persist run record", "work_unit", unit.ID, "error", err)
	}
	return run, runErr
}

func (j *IntegrationTriggerJob) deliver(unit *core.WorkUnit, cfg integrations.Config, payload integrations.Payload) orchestrator.StepFn {
	return func(ctx context.Context) (orchestrator.StepOutcome, error) {
		deliveryKey := unit.ID + ":" + cfg.Key()
		if !j.guard.ShouldProcess(deliveryKey, deliveryWindow) {
			return orchestrator.Skip("already delivered"), nil
		}

		handler, err := j.registry.HandlerFor(cfg.Type)
		if err != nil {
			return orchestrator.StepOutcome{}, core.NewClassifiedError(core.CategoryValidation, err)
		}

		if err := handler.Deliver(ctx, cfg, payload); err != nil {
			return orchestrator.StepOutcome{}, fmt.Errorf("delivery to %s failed: %w", cfg.Key(), err)
		}

		j.guard.MarkProcessed(deliveryKey, deliveryWindow)
		return orchestrator.Done(map[string]any{"endpoint": cfg.Key()}), nil
	}
}

func (j *IntegrationTriggerJob) buildPayload(unit *core.WorkUnit) integrations.Payload {
	return integrations.Payload{
		Event:     string(unit.EventType),
		Timestamp: time.Now().UTC(),
		Form:      payloadMap(unit, "form"),
		Response:  payloadMap(unit, "response"),
		Answers:   payloadMap(unit, "answers"),
		Metadata:  payloadMap(unit, "metadata"),
	}
}
