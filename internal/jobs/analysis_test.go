package jobs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/formpulse/formpulse/internal/core"
	"github.com/formpulse/formpulse/internal/credits"
	"github.com/formpulse/formpulse/internal/engine"
	"github.com/formpulse/formpulse/internal/formconfig"
	"github.com/formpulse/formpulse/internal/guard"
	"github.com/formpulse/formpulse/internal/ratelimit"
	"github.com/formpulse/formpulse/internal/storage"
	"github.com/formpulse/formpulse/mocks"
)

func analysisUnit(t *testing.T) *core.WorkUnit {
	t.Helper()
	unit, err := core.NewWorkUnit("resp-1", core.EventResponseAnalyzed, map[string]any{
		"response_id": "resp-1",
		"form_id":     "f-1",
		"user_id":     "user-1",
		"form":        map[string]any{"title": "Customer Feedback"},
		"answers":     map[string]any{"q1": "great product"},
	})
	require.NoError(t, err)
	return unit
}

func newAnalysisJob(t *testing.T, eng engine.Engine) (*ResponseAnalysisJob, storage.Store, *stubNotifier) {
	t.Helper()
	store := storage.NewMemoryStore()
	notifier := &stubNotifier{}
	forms := formconfig.NewRegistry(formconfig.FormConfig{
		FormID: "f-1", AIEnhanced: true, AICreditCost: 0.02,
	})
	job := NewResponseAnalysisJob(newTestOrchestrator(), store,
		credits.NewLedger(store, testLogger()), forms, eng,
		guard.New(), ratelimit.New(), notifier, "gemini-2.0-flash", testLogger())
	return job, store, notifier
}

func TestAnalysisJob_HappyPath(t *testing.T) {
	ctrl := gomock.NewController(t)
	ctx := context.Background()

	eng := mocks.NewMockEngine(ctrl)
	eng.EXPECT().Execute(gomock.Any(), engine.TaskResponseAnalysis, gomock.Any()).
		Return(&engine.Result{
			Success: true,
			Output: map[string]any{
				"summary":   "Positive feedback about the product.",
				"sentiment": "positive",
				"score":     0.92,
			},
		}, nil)

	job, store, notifier := newAnalysisJob(t, eng)

	run, err := job.Run(ctx, analysisUnit(t), 1)

	require.NoError(t, err)
	assert.Equal(t, core.RunCompleted, run.OverallStatus)

	analysis, err := store.AnalysisResult(ctx, "resp-1")
	require.NoError(t, err)
	assert.Equal(t, "positive", analysis.Sentiment)
	assert.Equal(t, 0.92, analysis.Score)
	assert.Equal(t, "gemini-2.0-flash", analysis.Model)

	remaining, err := credits.NewLedger(store, testLogger()).Remaining(ctx, "user-1")
	require.NoError(t, err)
	assert.InDelta(t, storage.DefaultMonthlyCredits-0.02, remaining, 1e-9)

	events := notifier.all()
	require.Len(t, events, 1)
	assert.Equal(t, "completed", events[0].Type)
	assert.Equal(t, "positive", events[0].Extra["sentiment"])
}

func TestAnalysisJob_RateLimitedAbortsBeforeSteps(t *testing.T) {
	ctrl := gomock.NewController(t)

	// No Execute expectation: a rate-limited tenant never reaches the engine.
	eng := mocks.NewMockEngine(ctrl)

	store := storage.NewMemoryStore()
	forms := formconfig.NewRegistry(formconfig.FormConfig{
		FormID: "f-1", AIEnhanced: true, AICreditCost: 0.02, RateLimitPerMinute: 1,
	})
	limiter := ratelimit.New()
	require.True(t, limiter.TryAcquire("user-1", 1), "seed the window to its limit")

	job := NewResponseAnalysisJob(newTestOrchestrator(), store,
		credits.NewLedger(store, testLogger()), forms, eng,
		guard.New(), limiter, &stubNotifier{}, "gemini-2.0-flash", testLogger())

	unit := analysisUnit(t)
	unit.Payload["tenant_id"] = "user-1"

	run, err := job.Run(context.Background(), unit, 1)

	require.Error(t, err)
	assert.Nil(t, run)
	assert.Equal(t, core.CategoryRateLimited, core.AsClassified(err).Category)
}

func TestAnalysisJob_EngineFailureFailsRun(t *testing.T) {
	ctrl := gomock.NewController(t)

	eng := mocks.NewMockEngine(ctrl)
	eng.EXPECT().Execute(gomock.Any(), engine.TaskResponseAnalysis, gomock.Any()).
		Return(&engine.Result{Success: false, ErrorMessage: "provider returned 503"}, nil)

	job, store, _ := newAnalysisJob(t, eng)

	run, err := job.Run(context.Background(), analysisUnit(t), 1)

	require.Error(t, err)
	assert.Equal(t, core.RunFailed, run.OverallStatus)
	assert.Equal(t, core.CategoryExternalAPI, core.AsClassified(err).Category)

	_, err = store.AnalysisResult(context.Background(), "resp-1")
	assert.ErrorIs(t, err, storage.ErrNotFound, "nothing is persisted for a failed analysis")
}

func TestAnalysisJob_RecentAnalysisIsSkipped(t *testing.T) {
	ctrl := gomock.NewController(t)

	eng := mocks.NewMockEngine(ctrl)
	eng.EXPECT().Execute(gomock.Any(), engine.TaskResponseAnalysis, gomock.Any()).
		Return(&engine.Result{Success: true, Output: map[string]any{
			"summary": "ok", "sentiment": "neutral", "score": 0.5,
		}}, nil).Times(1)

	job, _, _ := newAnalysisJob(t, eng)

	_, err := job.Run(context.Background(), analysisUnit(t), 1)
	require.NoError(t, err)

	// A second run inside the idempotency window never calls the engine and
	// skips the whole chain.
	run, err := job.Run(context.Background(), analysisUnit(t), 1)
	require.NoError(t, err)
	assert.Equal(t, core.RunCompleted, run.OverallStatus)

	step, ok := run.StepNamed("analyze_response")
	require.True(t, ok)
	assert.Equal(t, core.StepSkipped, step.Status)
	assert.Equal(t, "response analyzed within the last 5 minutes", step.SideEffects["skip_reason"])

	step, ok = run.StepNamed("debit_credits")
	require.True(t, ok)
	assert.Equal(t, core.StepSkipped, step.Status, "skipped analysis costs nothing")
}

func TestAnalysisJob_InsufficientCreditsSkips(t *testing.T) {
	ctrl := gomock.NewController(t)

	eng := mocks.NewMockEngine(ctrl)

	store := storage.NewMemoryStore()
	ledger := credits.NewLedger(store, testLogger())
	_, err := ledger.Debit(context.Background(), "user-1", storage.DefaultMonthlyCredits)
	require.NoError(t, err)

	forms := formconfig.NewRegistry(formconfig.FormConfig{
		FormID: "f-1", AIEnhanced: true, AICreditCost: 0.02,
	})
	job := NewResponseAnalysisJob(newTestOrchestrator(), store, ledger, forms, eng,
		guard.New(), ratelimit.New(), &stubNotifier{}, "gemini-2.0-flash", testLogger())

	run, err := job.Run(context.Background(), analysisUnit(t), 1)

	require.NoError(t, err)
	assert.Equal(t, core.RunCompleted, run.OverallStatus)
	step, ok := run.StepNamed("analyze_response")
	require.True(t, ok)
	assert.Equal(t, core.StepSkipped, step.Status)
	assert.Equal(t, "insufficient credits", step.SideEffects["skip_reason"])
}
