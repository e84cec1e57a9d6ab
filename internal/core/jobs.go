package core

import (
	"context"
	"time"
)

// QueueName routes a work unit onto one of the named worker pools.
type QueueName string

const (
	QueueDefault      QueueName = "default"
	QueueAIProcessing QueueName = "ai_processing"
	QueueIntegrations QueueName = "integrations"
)

// JobDispatcher defines the contract for a system that can accept and queue
// background work units for asynchronous processing. This interface decouples
// the event source (e.g., a webhook handler) from the job execution mechanism.
type JobDispatcher interface {
	// Dispatch accepts a WorkUnit and queues it for processing. It returns
	// an error if the job cannot be queued, for example if the queue is
	// full, providing a mechanism for backpressure.
	Dispatch(ctx context.Context, unit *WorkUnit) error

	// DispatchAfter schedules a WorkUnit for processing after the delay.
	// Used for rate-limit backoff and retry rescheduling; the caller
	// returns immediately, nothing blocks a worker.
	DispatchAfter(ctx context.Context, unit *WorkUnit, attempt int, delay time.Duration) error
}

// Job represents a single, executable unit of work processed by the
// dispatcher. Each job is triggered by a WorkUnit and runs one workflow,
// producing a RunRecord. attempt starts at 1 and increments on each outer
// retry of the same WorkUnit.
type Job interface {
	Run(ctx context.Context, unit *WorkUnit, attempt int) (*RunRecord, error)
}

// StatusEvent is the stable shape pushed to live clients when a run reaches
// a terminal state.
type StatusEvent struct {
	Type       string         `json:"type"` // "completed" or "failed"
	WorkUnitID string         `json:"workUnitId"`
	EventType  EventType      `json:"eventType"`
	Error      string         `json:"error,omitempty"`
	Extra      map[string]any `json:"extra,omitempty"`
}

// Notifier pushes status events toward live clients. The transport is an
// external collaborator; implementations must not block job workers.
type Notifier interface {
	Notify(ctx context.Context, channelKey string, event StatusEvent) error
}
