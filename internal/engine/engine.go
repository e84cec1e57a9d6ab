// Package engine wraps the LLM workflow collaborator behind a small
// contract: execute a named task with opaque inputs, get back a success flag
// and an output map. Calls are guarded by the llm_workflow circuit breaker
// and a request-level timeout; retries are the caller's responsibility.
package engine

import (
	"context"
	"time"
)

// DependencyKey is the circuit-breaker key for the LLM workflow call path.
const DependencyKey = "llm_workflow"

// DefaultTimeout bounds one engine call.
const DefaultTimeout = 30 * time.Second

// Task names one workflow the engine can run.
type Task string

const (
	TaskResponseAnalysis Task = "response_analysis"
	TaskDynamicQuestion  Task = "dynamic_question"
)

// Result is the engine's stable output shape.
type Result struct {
	Success      bool
	Output       map[string]any
	ErrorMessage string
	ErrorType    string
}

// Engine executes LLM workflows. Implementations classify transport and
// provider failures into the error categories the retry policies understand.
type Engine interface {
	Execute(ctx context.Context, task Task, inputs map[string]any) (*Result, error)
}
