package jobs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/formpulse/formpulse/internal/core"
	"github.com/formpulse/formpulse/internal/credits"
	"github.com/formpulse/formpulse/internal/formconfig"
	"github.com/formpulse/formpulse/internal/integrations"
	"github.com/formpulse/formpulse/internal/storage"
	"github.com/formpulse/formpulse/mocks"
)

func completionUnit(t *testing.T) *core.WorkUnit {
	t.Helper()
	unit, err := core.NewWorkUnit("resp-1", core.EventFormCompleted, map[string]any{
		"form_id":            "f-1",
		"user_id":            "user-1",
		"completion_seconds": 42.0,
	})
	require.NoError(t, err)
	return unit
}

func TestCompletionJob_HappyPath(t *testing.T) {
	ctrl := gomock.NewController(t)
	ctx := context.Background()

	store := storage.NewMemoryStore()
	notifier := &stubNotifier{}
	forms := formconfig.NewRegistry(formconfig.FormConfig{
		FormID:       "f-1",
		AIEnhanced:   true,
		AICreditCost: 0.02,
		Integrations: []integrations.Config{
			{Type: integrations.TypeWebhook, Name: "crm", URL: "https://example.com/hook"},
		},
	})

	var dispatched []core.EventType
	dispatcher := mocks.NewMockJobDispatcher(ctrl)
	dispatcher.EXPECT().Dispatch(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, unit *core.WorkUnit) error {
			dispatched = append(dispatched, unit.EventType)
			return nil
		}).Times(2)

	job := NewCompletionWorkflowJob(newTestOrchestrator(), store,
		credits.NewLedger(store, testLogger()), forms, dispatcher, notifier, testLogger())

	run, err := job.Run(ctx, completionUnit(t), 1)

	require.NoError(t, err)
	assert.Equal(t, core.RunCompleted, run.OverallStatus)
	assert.ElementsMatch(t,
		[]core.EventType{core.EventIntegrationTriggered, core.EventResponseAnalyzed},
		dispatched)

	analytics, err := store.FormAnalytics(ctx, "f-1")
	require.NoError(t, err)
	assert.Equal(t, 1, analytics.ResponsesCount)
	assert.Equal(t, 42.0, analytics.AvgCompletionSeconds)

	latest, err := store.LatestRun(ctx, "resp-1")
	require.NoError(t, err)
	assert.Equal(t, core.RunCompleted, latest.OverallStatus)

	events := notifier.all()
	require.Len(t, events, 1)
	assert.Equal(t, "completed", events[0].Type)
	assert.Equal(t, "resp-1", events[0].WorkUnitID)
}

func TestCompletionJob_NoIntegrationsSkipsFanOut(t *testing.T) {
	ctrl := gomock.NewController(t)

	store := storage.NewMemoryStore()
	forms := formconfig.NewRegistry(formconfig.FormConfig{
		FormID: "f-1", AIEnhanced: true, AICreditCost: 0.02,
	})

	dispatcher := mocks.NewMockJobDispatcher(ctrl)
	dispatcher.EXPECT().Dispatch(gomock.Any(), gomock.Any()).Return(nil).Times(1)

	job := NewCompletionWorkflowJob(newTestOrchestrator(), store,
		credits.NewLedger(store, testLogger()), forms, dispatcher, &stubNotifier{}, testLogger())

	run, err := job.Run(context.Background(), completionUnit(t), 1)

	require.NoError(t, err)
	step, ok := run.StepNamed("trigger_integrations")
	require.True(t, ok)
	assert.Equal(t, core.StepSkipped, step.Status)
	assert.Equal(t, "no integrations configured", step.SideEffects["skip_reason"])
}

func TestCompletionJob_AINotEnhancedSkipsAnalysis(t *testing.T) {
	ctrl := gomock.NewController(t)

	store := storage.NewMemoryStore()
	forms := formconfig.NewRegistry(formconfig.FormConfig{FormID: "f-1", AICreditCost: 0.02})

	// No Dispatch expectations: neither follow-up fires.
	dispatcher := mocks.NewMockJobDispatcher(ctrl)

	job := NewCompletionWorkflowJob(newTestOrchestrator(), store,
		credits.NewLedger(store, testLogger()), forms, dispatcher, &stubNotifier{}, testLogger())

	run, err := job.Run(context.Background(), completionUnit(t), 1)

	require.NoError(t, err)
	assert.Equal(t, core.RunCompleted, run.OverallStatus)
	step, ok := run.StepNamed("queue_ai_analysis")
	require.True(t, ok)
	assert.Equal(t, core.StepSkipped, step.Status)
	assert.Equal(t, "form is not ai-enhanced", step.SideEffects["skip_reason"])
}

func TestCompletionJob_InsufficientCreditsSkipsAnalysis(t *testing.T) {
	ctrl := gomock.NewController(t)
	ctx := context.Background()

	store := storage.NewMemoryStore()
	ledger := credits.NewLedger(store, testLogger())
	forms := formconfig.NewRegistry(formconfig.FormConfig{
		FormID: "f-1", AIEnhanced: true, AICreditCost: 0.02,
	})

	// Drain the allowance below the gate.
	_, err := ledger.Debit(ctx, "user-1", storage.DefaultMonthlyCredits)
	require.NoError(t, err)

	dispatcher := mocks.NewMockJobDispatcher(ctrl)

	job := NewCompletionWorkflowJob(newTestOrchestrator(), store, ledger, forms,
		dispatcher, &stubNotifier{}, testLogger())

	run, err := job.Run(ctx, completionUnit(t), 1)

	require.NoError(t, err)
	assert.Equal(t, core.RunCompleted, run.OverallStatus,
		"the credit gate skips, it does not fail the run")
	step, ok := run.StepNamed("queue_ai_analysis")
	require.True(t, ok)
	assert.Equal(t, core.StepSkipped, step.Status)
	assert.Equal(t, "insufficient credits", step.SideEffects["skip_reason"])
}

func TestCompletionJob_FlakyFanOutRetriesInline(t *testing.T) {
	ctrl := gomock.NewController(t)
	ctx := context.Background()

	store := storage.NewMemoryStore()
	forms := formconfig.NewRegistry(formconfig.FormConfig{
		FormID:       "f-1",
		AIEnhanced:   true,
		AICreditCost: 0.02,
		Integrations: []integrations.Config{
			{Type: integrations.TypeWebhook, Name: "crm", URL: "https://example.com/hook"},
		},
	})

	// The first integration fan-out times out; the inline retry succeeds.
	calls := 0
	dispatcher := mocks.NewMockJobDispatcher(ctrl)
	dispatcher.EXPECT().Dispatch(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, unit *core.WorkUnit) error {
			if unit.EventType == core.EventIntegrationTriggered {
				calls++
				if calls == 1 {
					return core.Errorf(core.CategoryTimeout, "queue write timed out")
				}
			}
			return nil
		}).Times(3)

	job := NewCompletionWorkflowJob(newTestOrchestrator(), store,
		credits.NewLedger(store, testLogger()), forms, dispatcher, &stubNotifier{}, testLogger())

	run, err := job.Run(ctx, completionUnit(t), 1)

	require.NoError(t, err)
	assert.Equal(t, core.RunCompleted, run.OverallStatus)
	assert.Equal(t, 2, calls)

	var fanOut []core.StepResult
	for _, step := range run.Steps {
		if step.StepName == "trigger_integrations" {
			fanOut = append(fanOut, step)
		}
	}
	require.Len(t, fanOut, 2, "the failed attempt is retained for audit")
	assert.Equal(t, core.StepFailure, fanOut[0].Status)
	assert.Equal(t, core.CategoryTimeout, fanOut[0].Error.Category)
	assert.Equal(t, core.StepSuccess, fanOut[1].Status)
}

func TestCompletionJob_MissingFormIDIsValidationFailure(t *testing.T) {
	ctrl := gomock.NewController(t)

	store := storage.NewMemoryStore()
	job := NewCompletionWorkflowJob(newTestOrchestrator(), store,
		credits.NewLedger(store, testLogger()), formconfig.NewRegistry(),
		mocks.NewMockJobDispatcher(ctrl), &stubNotifier{}, testLogger())

	unit, err := core.NewWorkUnit("resp-1", core.EventFormCompleted, map[string]any{"user_id": "user-1"})
	require.NoError(t, err)

	run, err := job.Run(context.Background(), unit, 1)

	require.Error(t, err)
	assert.Nil(t, run, "validation failures abort before any step runs")
	assert.Equal(t, core.CategoryValidation, core.AsClassified(err).Category)
}
