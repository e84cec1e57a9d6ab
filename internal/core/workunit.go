package core

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType identifies the domain event that triggered an orchestration run.
type EventType string

const (
	EventFormCompleted            EventType = "form_completed"
	EventResponseAnalyzed         EventType = "response_analyzed"
	EventDynamicQuestionRequested EventType = "dynamic_question_requested"
	EventIntegrationTriggered     EventType = "integration_triggered"
)

// KnownEventTypes lists every event type the dispatcher routes.
var KnownEventTypes = []EventType{
	EventFormCompleted,
	EventResponseAnalyzed,
	EventDynamicQuestionRequested,
	EventIntegrationTriggered,
}

// Valid reports whether t is a routable event type.
func (t EventType) Valid() bool {
	for _, known := range KnownEventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// WorkUnit identifies one orchestration invocation. It is immutable once
// created; retries reuse the same WorkUnit with an incremented attempt number
// carried by the dispatcher, never a mutated copy.
type WorkUnit struct {
	// ID is an opaque key, typically the form response identifier.
	ID        string
	EventType EventType
	// Payload carries the opaque event data: form, response, answers,
	// tenant and user identifiers.
	Payload    map[string]any
	EnqueuedAt time.Time
}

// NewWorkUnit builds a WorkUnit for an incoming domain event. When id is
// empty a fresh UUID is assigned so the unit can still be tracked.
func NewWorkUnit(id string, eventType EventType, payload map[string]any) (*WorkUnit, error) {
	if !eventType.Valid() {
		return nil, Errorf(CategoryValidation, "unknown event type: %q", eventType)
	}
	if id == "" {
		id = uuid.NewString()
	}
	if payload == nil {
		payload = map[string]any{}
	}
	return &WorkUnit{
		ID:         id,
		EventType:  eventType,
		Payload:    payload,
		EnqueuedAt: time.Now().UTC(),
	}, nil
}

// PayloadString returns a string payload field, or "" when absent.
func (w *WorkUnit) PayloadString(key string) string {
	if v, ok := w.Payload[key].(string); ok {
		return v
	}
	return ""
}

// TenantKey returns the rate-limit scope for this unit. Falls back to the
// work unit id so unscoped events still get per-unit limiting.
func (w *WorkUnit) TenantKey() string {
	if tenant := w.PayloadString("tenant_id"); tenant != "" {
		return tenant
	}
	return w.ID
}

// UserID returns the credit-account owner for this unit.
func (w *WorkUnit) UserID() string {
	return w.PayloadString("user_id")
}

// Validate ensures the unit carries everything the orchestrator needs.
func (w *WorkUnit) Validate() error {
	if w == nil {
		return Errorf(CategoryValidation, "work unit cannot be nil")
	}
	if w.ID == "" {
		return Errorf(CategoryValidation, "work unit id cannot be empty")
	}
	if !w.EventType.Valid() {
		return fmt.Errorf("invalid work unit: %w", Errorf(CategoryValidation, "unknown event type %q", w.EventType))
	}
	return nil
}
