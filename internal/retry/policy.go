// Package retry implements declarative backoff and attempt-limit rules keyed
// by error category. Policies are evaluated per step; the dispatcher applies
// them as the outer retry loop around a whole workflow run.
package retry

import (
	"time"

	"github.com/formpulse/formpulse/internal/core"
)

// Backoff selects the delay growth formula.
type Backoff string

const (
	BackoffFixed       Backoff = "fixed"
	BackoffExponential Backoff = "exponential"
	BackoffPolynomial  Backoff = "polynomial"
)

// Policy configures retry behavior for one step or job.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Backoff     Backoff
	// RetryableCategories limits which categories are retried. Empty means
	// "retry anything not fatal".
	RetryableCategories []core.ErrorCategory
	// FatalCategories are never retried, regardless of attempt count.
	FatalCategories []core.ErrorCategory
}

// Decision is the outcome of evaluating a policy for one failure.
type Decision struct {
	ShouldRetry bool
	Delay       time.Duration
}

// Default mirrors the platform's stock job annotations: three attempts with
// exponential backoff. Validation and not-found failures are discarded;
// circuit_open is fatal for inline retries only, the dispatcher reschedules
// such runs after the breaker cooldown instead.
func Default() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   5 * time.Second,
		Backoff:     BackoffExponential,
		FatalCategories: []core.ErrorCategory{
			core.CategoryValidation,
			core.CategoryNotFound,
			core.CategoryCircuitOpen,
		},
	}
}

// Evaluate decides whether a failure with the given category should be
// retried at the given attempt number (1-based). Fatal categories always win:
// they are never retried even when attempts remain.
func (p Policy) Evaluate(category core.ErrorCategory, attempt int) Decision {
	for _, fatal := range p.FatalCategories {
		if category == fatal {
			return Decision{ShouldRetry: false}
		}
	}

	if attempt >= p.MaxAttempts {
		return Decision{ShouldRetry: false}
	}

	if len(p.RetryableCategories) > 0 {
		retryable := false
		for _, c := range p.RetryableCategories {
			if category == c {
				retryable = true
				break
			}
		}
		if !retryable {
			return Decision{ShouldRetry: false}
		}
	}

	return Decision{ShouldRetry: true, Delay: p.DelayFor(attempt)}
}

// DelayFor computes the deterministic backoff delay for an attempt number
// (1-based). Exponential doubles the base per attempt, so attempts 1..3 with
// a 5s base yield 5s, 10s, 20s. Polynomial: baseDelay * attempt^2.
func (p Policy) DelayFor(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	switch p.Backoff {
	case BackoffExponential:
		return p.BaseDelay * time.Duration(1<<(attempt-1))
	case BackoffPolynomial:
		return p.BaseDelay * time.Duration(attempt*attempt)
	default:
		return p.BaseDelay
	}
}
