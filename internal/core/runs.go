package core

import (
	"time"
)

// StepStatus is the outcome of one named step within a run.
type StepStatus string

const (
	StepSuccess StepStatus = "success"
	StepFailure StepStatus = "failure"
	StepSkipped StepStatus = "skipped"
)

// StepResult records the outcome of a single step execution. Results are
// never mutated after creation; a retry produces a new StepResult and old
// ones are retained for audit.
type StepResult struct {
	StepName string
	Required bool
	Status   StepStatus
	// Error is set only for failed steps.
	Error *ClassifiedError
	// SideEffects carries optional structured data produced by the step,
	// such as dispatch counts or engine token usage.
	SideEffects map[string]any
	RecordedAt  time.Time
}

// RunStatus is the aggregated outcome of one orchestration run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunPartial   RunStatus = "partial"
	RunFailed    RunStatus = "failed"
)

// RunRecord aggregates all StepResults for one WorkUnit execution. The
// overall status is always derived from the step results, never set
// independently.
type RunRecord struct {
	WorkUnitID    string
	EventType     EventType
	AttemptNumber int
	Steps         []StepResult
	OverallStatus RunStatus
	StartedAt     time.Time
	FinishedAt    time.Time
}

// DeriveRunStatus computes the overall status as a pure function of the step
// results and each step's required flag: failed when any required step
// failed, partial when only optional steps failed, completed otherwise.
// Inline retries append one StepResult per attempt for the same step name;
// only the latest result per step counts toward the overall status, earlier
// attempts are audit data.
func DeriveRunStatus(steps []StepResult) RunStatus {
	latest := make(map[string]StepResult, len(steps))
	order := make([]string, 0, len(steps))
	for _, s := range steps {
		if _, seen := latest[s.StepName]; !seen {
			order = append(order, s.StepName)
		}
		latest[s.StepName] = s
	}

	status := RunCompleted
	for _, name := range order {
		s := latest[name]
		if s.Status != StepFailure {
			continue
		}
		if s.Required {
			return RunFailed
		}
		status = RunPartial
	}
	return status
}

// FirstError returns the error of the first failed step, or nil.
func (r *RunRecord) FirstError() *ClassifiedError {
	for _, s := range r.Steps {
		if s.Status == StepFailure && s.Error != nil {
			return s.Error
		}
	}
	return nil
}

// StepNamed returns the most recent result recorded for a step name.
func (r *RunRecord) StepNamed(name string) (StepResult, bool) {
	for i := len(r.Steps) - 1; i >= 0; i-- {
		if r.Steps[i].StepName == name {
			return r.Steps[i], true
		}
	}
	return StepResult{}, false
}
