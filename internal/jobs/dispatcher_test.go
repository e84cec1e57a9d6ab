package jobs

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formpulse/formpulse/internal/core"
	"github.com/formpulse/formpulse/internal/retry"
	"github.com/formpulse/formpulse/internal/storage"
)

// captureRecorder collects terminal failures and signals each one.
type captureRecorder struct {
	mu       sync.Mutex
	failures []*core.ClassifiedError
	signal   chan struct{}
}

func newCaptureRecorder() *captureRecorder {
	return &captureRecorder{signal: make(chan struct{}, 8)}
}

func (r *captureRecorder) RecordTerminalFailure(_ context.Context, _ *core.WorkUnit, _ int, failure *core.ClassifiedError) {
	r.mu.Lock()
	r.failures = append(r.failures, failure)
	r.mu.Unlock()
	r.signal <- struct{}{}
}

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func dispatchUnit(t *testing.T, eventType core.EventType) *core.WorkUnit {
	t.Helper()
	unit, err := core.NewWorkUnit("resp-1", eventType, map[string]any{"form_id": "f-1"})
	require.NoError(t, err)
	return unit
}

func TestDispatcher_RunsRegisteredJob(t *testing.T) {
	done := make(chan struct{}, 1)
	job := &stubJob{fn: func(_ context.Context, unit *core.WorkUnit, attempt int) (*core.RunRecord, error) {
		assert.Equal(t, "resp-1", unit.ID)
		assert.Equal(t, 1, attempt)
		done <- struct{}{}
		return &core.RunRecord{WorkUnitID: unit.ID, OverallStatus: core.RunCompleted}, nil
	}}

	d := NewDispatcher(2, &stubNotifier{}, newCaptureRecorder(), testLogger())
	d.Register(core.EventFormCompleted, job, core.QueueDefault, retry.Default())
	d.Start()
	defer d.Stop()

	require.NoError(t, d.Dispatch(context.Background(), dispatchUnit(t, core.EventFormCompleted)))
	waitFor(t, done, "job execution")
}

func TestDispatcher_RetriesThenSucceeds(t *testing.T) {
	var mu sync.Mutex
	var attempts []int
	done := make(chan struct{}, 1)

	job := &stubJob{fn: func(_ context.Context, _ *core.WorkUnit, attempt int) (*core.RunRecord, error) {
		mu.Lock()
		attempts = append(attempts, attempt)
		mu.Unlock()
		if attempt == 1 {
			return nil, core.Errorf(core.CategoryExternalAPI, "provider hiccup")
		}
		done <- struct{}{}
		return &core.RunRecord{OverallStatus: core.RunCompleted}, nil
	}}

	policy := retry.Policy{
		MaxAttempts:         3,
		BaseDelay:           time.Millisecond,
		Backoff:             retry.BackoffFixed,
		RetryableCategories: []core.ErrorCategory{core.CategoryExternalAPI},
	}

	d := NewDispatcher(1, &stubNotifier{}, newCaptureRecorder(), testLogger())
	d.Register(core.EventFormCompleted, job, core.QueueDefault, policy)
	d.Start()
	defer d.Stop()

	require.NoError(t, d.Dispatch(context.Background(), dispatchUnit(t, core.EventFormCompleted)))
	waitFor(t, done, "the retried attempt")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestDispatcher_CircuitOpenReschedulesWithoutConsumingAttempt(t *testing.T) {
	var mu sync.Mutex
	var attempts []int
	done := make(chan struct{}, 1)

	job := &stubJob{fn: func(_ context.Context, _ *core.WorkUnit, attempt int) (*core.RunRecord, error) {
		mu.Lock()
		attempts = append(attempts, attempt)
		calls := len(attempts)
		mu.Unlock()
		if calls == 1 {
			return nil, core.Errorf(core.CategoryCircuitOpen, "circuit for \"llm_workflow\" is open")
		}
		done <- struct{}{}
		return &core.RunRecord{OverallStatus: core.RunCompleted}, nil
	}}

	recorder := newCaptureRecorder()
	d := NewDispatcher(1, &stubNotifier{}, recorder, testLogger())
	d.circuitOpenDelay = time.Millisecond
	d.Register(core.EventResponseAnalyzed, job, core.QueueAIProcessing, retry.Default())
	d.Start()
	defer d.Stop()

	require.NoError(t, d.Dispatch(context.Background(), dispatchUnit(t, core.EventResponseAnalyzed)))
	waitFor(t, done, "the rescheduled run")

	mu.Lock()
	assert.Equal(t, []int{1, 1}, attempts, "rescheduling keeps the attempt number")
	mu.Unlock()

	recorder.mu.Lock()
	assert.Empty(t, recorder.failures, "an open circuit is not a terminal failure")
	recorder.mu.Unlock()
}

func TestDispatcher_RateLimitedReschedulesWithoutConsumingAttempt(t *testing.T) {
	var mu sync.Mutex
	var attempts []int
	done := make(chan struct{}, 1)

	job := &stubJob{fn: func(_ context.Context, _ *core.WorkUnit, attempt int) (*core.RunRecord, error) {
		mu.Lock()
		attempts = append(attempts, attempt)
		calls := len(attempts)
		mu.Unlock()
		if calls == 1 {
			return nil, core.Errorf(core.CategoryRateLimited, "tenant over limit")
		}
		done <- struct{}{}
		return &core.RunRecord{OverallStatus: core.RunCompleted}, nil
	}}

	d := NewDispatcher(1, &stubNotifier{}, newCaptureRecorder(), testLogger())
	d.rateLimitDelay = time.Millisecond
	d.Register(core.EventResponseAnalyzed, job, core.QueueAIProcessing, retry.Default())
	d.Start()
	defer d.Stop()

	require.NoError(t, d.Dispatch(context.Background(), dispatchUnit(t, core.EventResponseAnalyzed)))
	waitFor(t, done, "the rescheduled run")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 1}, attempts)
}

func TestDispatcher_StopCancelsPendingDelays(t *testing.T) {
	d := NewDispatcher(1, &stubNotifier{}, newCaptureRecorder(), testLogger())
	d.Register(core.EventFormCompleted, &stubJob{}, core.QueueDefault, retry.Default())
	d.Start()

	require.NoError(t, d.DispatchAfter(context.Background(), dispatchUnit(t, core.EventFormCompleted), 2, time.Hour))

	start := time.Now()
	d.Stop()
	assert.Less(t, time.Since(start), 5*time.Second,
		"shutdown must not wait out pending backoff timers")
}

func TestDispatcher_TerminalFailureIsRecordedAndNotified(t *testing.T) {
	job := &stubJob{fn: func(context.Context, *core.WorkUnit, int) (*core.RunRecord, error) {
		return nil, core.Errorf(core.CategoryValidation, "payload is missing form_id")
	}}

	notifier := &stubNotifier{}
	recorder := newCaptureRecorder()

	d := NewDispatcher(1, notifier, recorder, testLogger())
	d.Register(core.EventFormCompleted, job, core.QueueDefault, retry.Default())
	d.Start()

	require.NoError(t, d.Dispatch(context.Background(), dispatchUnit(t, core.EventFormCompleted)))
	waitFor(t, recorder.signal, "the terminal failure record")
	d.Stop()

	recorder.mu.Lock()
	require.Len(t, recorder.failures, 1)
	assert.Equal(t, core.CategoryValidation, recorder.failures[0].Category)
	recorder.mu.Unlock()

	events := notifier.all()
	require.Len(t, events, 1)
	assert.Equal(t, "failed", events[0].Type)
	assert.Equal(t, "resp-1", events[0].WorkUnitID)
}

func TestDispatcher_RejectsUnregisteredEventType(t *testing.T) {
	d := NewDispatcher(1, &stubNotifier{}, newCaptureRecorder(), testLogger())
	d.Register(core.EventFormCompleted, &stubJob{}, core.QueueDefault, retry.Default())

	err := d.Dispatch(context.Background(), dispatchUnit(t, core.EventIntegrationTriggered))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no job registered")
}

func TestDispatcher_FullQueueAppliesBackpressure(t *testing.T) {
	// Workers are never started, so the queue only drains on capacity.
	d := NewDispatcher(1, &stubNotifier{}, newCaptureRecorder(), testLogger())
	d.Register(core.EventFormCompleted, &stubJob{}, core.QueueDefault, retry.Default())

	ctx := context.Background()
	for i := 0; i < queueDepth; i++ {
		unit := dispatchUnit(t, core.EventFormCompleted)
		unit.ID = fmt.Sprintf("resp-%d", i)
		require.NoError(t, d.Dispatch(ctx, unit))
	}

	err := d.Dispatch(ctx, dispatchUnit(t, core.EventFormCompleted))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue default is full")
}

func TestDispatcher_StoppedDispatcherRefusesWork(t *testing.T) {
	d := NewDispatcher(1, &stubNotifier{}, newCaptureRecorder(), testLogger())
	d.Register(core.EventFormCompleted, &stubJob{}, core.QueueDefault, retry.Default())
	d.Start()
	d.Stop()

	err := d.Dispatch(context.Background(), dispatchUnit(t, core.EventFormCompleted))
	require.Error(t, err)

	err = d.DispatchAfter(context.Background(), dispatchUnit(t, core.EventFormCompleted), 2, time.Millisecond)
	require.Error(t, err)
}

func TestStoreRecorder_PersistsTerminalFailure(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	recorder := NewStoreRecorder(store, testLogger())

	unit := dispatchUnit(t, core.EventFormCompleted)
	recorder.RecordTerminalFailure(ctx, unit, 3, core.Errorf(core.CategoryTimeout, "gave up"))

	run, err := store.LatestRun(ctx, "resp-1")
	require.NoError(t, err)
	assert.Equal(t, core.RunFailed, run.OverallStatus)
	assert.Equal(t, 3, run.AttemptNumber)

	step, ok := run.StepNamed("terminal_failure")
	require.True(t, ok)
	assert.Equal(t, core.CategoryTimeout, step.Error.Category)
}

func TestValidatePayload(t *testing.T) {
	unit := dispatchUnit(t, core.EventFormCompleted)

	assert.NoError(t, ValidatePayload(unit, "form_id"))

	err := ValidatePayload(unit, "form_id", "user_id")
	require.Error(t, err)
	assert.Equal(t, core.CategoryValidation, core.AsClassified(err).Category)
	assert.Contains(t, err.Error(), "user_id")
}
