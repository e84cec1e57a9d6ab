// Package jobs defines the background workflow jobs and the worker-pool
// dispatcher that executes them.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/formpulse/formpulse/internal/core"
	"github.com/formpulse/formpulse/internal/retry"
)

// RateLimitRequeueDelay is the mandatory backoff applied when a job reports
// a rate-limited tenant. It does not count against the job's retry attempts.
const RateLimitRequeueDelay = 30 * time.Second

// CircuitOpenRequeueDelay reschedules work that hit an open circuit until
// after the breaker cooldown. Like rate limiting, it does not count against
// the job's retry attempts.
const CircuitOpenRequeueDelay = 60 * time.Second

// queueDepth is the buffered capacity of each named queue.
const queueDepth = 100

// item is one queued execution of a work unit.
type item struct {
	unit    *core.WorkUnit
	attempt int
}

// route binds an event type to its job, queue, and outer retry policy.
type route struct {
	job    core.Job
	queue  core.QueueName
	policy retry.Policy
}

// TerminalRecorder persists error metadata for a terminally failed work
// unit. The storage layer satisfies this through the run record itself; the
// dispatcher only needs the hook.
type TerminalRecorder interface {
	RecordTerminalFailure(ctx context.Context, unit *core.WorkUnit, attempt int, failure *core.ClassifiedError)
}

// Dispatcher routes work units onto named queues, each drained by its own
// worker pool, and applies the outer retry policy around whole job runs.
type Dispatcher struct {
	routes   map[core.EventType]route
	queues   map[core.QueueName]chan item
	notifier core.Notifier
	recorder TerminalRecorder
	logger   *slog.Logger

	maxWorkers int
	wg         sync.WaitGroup
	timerWG    sync.WaitGroup
	stopCh     chan struct{}

	// Requeue delays are fields so tests can shrink them.
	rateLimitDelay   time.Duration
	circuitOpenDelay time.Duration

	mu      sync.Mutex
	stopped bool
}

// NewDispatcher initializes a dispatcher with a worker pool per named queue.
// If maxWorkers is 0 or negative, it defaults to 1 per queue.
func NewDispatcher(maxWorkers int, notifier core.Notifier, recorder TerminalRecorder, logger *slog.Logger) *Dispatcher {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	return &Dispatcher{
		routes: make(map[core.EventType]route),
		queues: map[core.QueueName]chan item{
			core.QueueDefault:      make(chan item, queueDepth),
			core.QueueAIProcessing: make(chan item, queueDepth),
			core.QueueIntegrations: make(chan item, queueDepth),
		},
		notifier:         notifier,
		recorder:         recorder,
		logger:           logger,
		maxWorkers:       maxWorkers,
		stopCh:           make(chan struct{}),
		rateLimitDelay:   RateLimitRequeueDelay,
		circuitOpenDelay: CircuitOpenRequeueDelay,
	}
}

// Register binds an event type to a job on a queue with an outer retry
// policy. Must be called before Start.
func (d *Dispatcher) Register(eventType core.EventType, job core.Job, queue core.QueueName, policy retry.Policy) {
	d.routes[eventType] = route{job: job, queue: queue, policy: policy}
}

// Start launches the worker pools.
func (d *Dispatcher) Start() {
	for name, queue := range d.queues {
		for i := range d.maxWorkers {
			d.wg.Add(1)
			go d.startWorker(name, i, queue)
		}
	}
}

// startWorker processes items from one queue until it is closed.
func (d *Dispatcher) startWorker(queue core.QueueName, workerID int, items <-chan item) {
	defer d.wg.Done()
	d.logger.Info("starting worker", "queue", queue, "id", workerID)

	for it := range items {
		d.processItem(queue, workerID, it)
	}

	d.logger.Info("shutting down worker", "queue", queue, "id", workerID)
}

// processItem runs one job execution and applies the outer retry policy to
// its outcome.
func (d *Dispatcher) processItem(queue core.QueueName, workerID int, it item) {
	rt, ok := d.routes[it.unit.EventType]
	if !ok {
		d.logger.Error("no job registered for event type",
			"event_type", it.unit.EventType, "work_unit", it.unit.ID)
		return
	}

	d.logger.Info("worker processing job",
		"queue", queue,
		"worker_id", workerID,
		"work_unit", it.unit.ID,
		"event_type", it.unit.EventType,
		"attempt", it.attempt,
	)

	_, err := rt.job.Run(context.Background(), it.unit, it.attempt)
	if err == nil {
		return
	}

	failure := core.AsClassified(err)

	// Rate-limited and circuit-open runs are rescheduled with a mandatory
	// delay and do not consume a retry attempt.
	switch failure.Category {
	case core.CategoryRateLimited:
		d.reschedule(it, d.rateLimitDelay, "rate limited")
		return
	case core.CategoryCircuitOpen:
		d.reschedule(it, d.circuitOpenDelay, "circuit open")
		return
	}

	decision := rt.policy.Evaluate(failure.Category, it.attempt)
	if decision.ShouldRetry {
		d.logger.Warn("job failed, scheduling retry",
			"work_unit", it.unit.ID,
			"attempt", it.attempt,
			"category", failure.Category,
			"delay", decision.Delay,
		)
		if err := d.DispatchAfter(context.Background(), it.unit, it.attempt+1, decision.Delay); err != nil {
			d.logger.Error("failed to schedule retry", "work_unit", it.unit.ID, "error", err)
			d.terminal(it, failure)
		}
		return
	}

	d.terminal(it, failure)
}

// reschedule re-enqueues a throttled run after delay, keeping the same
// attempt number.
func (d *Dispatcher) reschedule(it item, delay time.Duration, reason string) {
	d.logger.Info("work unit rescheduled",
		"work_unit", it.unit.ID, "reason", reason, "delay", delay)
	if err := d.DispatchAfter(context.Background(), it.unit, it.attempt, delay); err != nil {
		d.logger.Error("failed to reschedule work unit",
			"work_unit", it.unit.ID, "reason", reason, "error", err)
	}
}

// terminal records and surfaces a failure that will not be retried.
func (d *Dispatcher) terminal(it item, failure *core.ClassifiedError) {
	d.logger.Error("job failed terminally",
		"work_unit", it.unit.ID,
		"event_type", it.unit.EventType,
		"attempt", it.attempt,
		"category", failure.Category,
		"error", failure.Message,
	)

	if d.recorder != nil {
		d.recorder.RecordTerminalFailure(context.Background(), it.unit, it.attempt, failure)
	}

	if d.notifier != nil {
		event := core.StatusEvent{
			Type:       "failed",
			WorkUnitID: it.unit.ID,
			EventType:  it.unit.EventType,
			Error:      failure.Error(),
		}
		if err := d.notifier.Notify(context.Background(), it.unit.ID, event); err != nil {
			d.logger.Error("failed to notify terminal failure", "work_unit", it.unit.ID, "error", err)
		}
	}
}

// Dispatch queues a work unit for its first attempt.
func (d *Dispatcher) Dispatch(ctx context.Context, unit *core.WorkUnit) error {
	return d.enqueue(ctx, unit, 1)
}

// DispatchAfter schedules a work unit onto its queue after the delay. The
// worker is not blocked: a timer goroutine performs the enqueue.
func (d *Dispatcher) DispatchAfter(_ context.Context, unit *core.WorkUnit, attempt int, delay time.Duration) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return fmt.Errorf("dispatcher is stopped, cannot schedule work unit %s", unit.ID)
	}
	d.timerWG.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.timerWG.Done()
		if delay > 0 {
			timer := time.NewTimer(delay)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-d.stopCh:
				d.logger.Info("dropping delayed work unit, dispatcher stopping",
					"work_unit", unit.ID, "attempt", attempt)
				return
			}
		}
		if err := d.enqueue(context.Background(), unit, attempt); err != nil {
			d.logger.Error("failed to enqueue delayed work unit", "work_unit", unit.ID, "error", err)
		}
	}()
	return nil
}

func (d *Dispatcher) enqueue(_ context.Context, unit *core.WorkUnit, attempt int) error {
	if err := unit.Validate(); err != nil {
		return err
	}
	rt, ok := d.routes[unit.EventType]
	if !ok {
		return fmt.Errorf("no job registered for event type %q", unit.EventType)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return fmt.Errorf("dispatcher is stopped, cannot accept work unit %s", unit.ID)
	}

	select {
	case d.queues[rt.queue] <- item{unit: unit, attempt: attempt}:
		d.logger.Info("queued work unit",
			"work_unit", unit.ID, "event_type", unit.EventType, "queue", rt.queue, "attempt", attempt)
		return nil
	default:
		return fmt.Errorf("queue %s is full, cannot accept work unit %s", rt.queue, unit.ID)
	}
}

// Stop gracefully shuts down the dispatcher, cancelling pending delay timers
// and waiting for in-flight jobs to finish.
func (d *Dispatcher) Stop() {
	d.logger.Info("stopping dispatcher and waiting for jobs to finish")

	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	d.mu.Unlock()

	close(d.stopCh)
	d.timerWG.Wait()
	for _, queue := range d.queues {
		close(queue)
	}
	d.wg.Wait()
	d.logger.Info("all jobs have finished")
}
