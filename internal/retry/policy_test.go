package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/formpulse/formpulse/internal/core"
)

func TestDelayFor(t *testing.T) {
	testCases := []struct {
		name     string
		policy   Policy
		attempt  int
		expected time.Duration
	}{
		{"exponential first attempt", Policy{BaseDelay: 5 * time.Second, Backoff: BackoffExponential}, 1, 5 * time.Second},
		{"exponential second attempt", Policy{BaseDelay: 5 * time.Second, Backoff: BackoffExponential}, 2, 10 * time.Second},
		{"exponential third attempt", Policy{BaseDelay: 5 * time.Second, Backoff: BackoffExponential}, 3, 20 * time.Second},
		{"polynomial first attempt", Policy{BaseDelay: 2 * time.Second, Backoff: BackoffPolynomial}, 1, 2 * time.Second},
		{"polynomial second attempt", Policy{BaseDelay: 2 * time.Second, Backoff: BackoffPolynomial}, 2, 8 * time.Second},
		{"polynomial third attempt", Policy{BaseDelay: 2 * time.Second, Backoff: BackoffPolynomial}, 3, 18 * time.Second},
		{"fixed ignores attempt", Policy{BaseDelay: 3 * time.Second, Backoff: BackoffFixed}, 7, 3 * time.Second},
		{"attempt below one is clamped", Policy{BaseDelay: 5 * time.Second, Backoff: BackoffExponential}, 0, 5 * time.Second},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.policy.DelayFor(tc.attempt))
		})
	}
}

func TestEvaluate_FatalCategoriesNeverRetry(t *testing.T) {
	policy := Default()

	for _, category := range []core.ErrorCategory{
		core.CategoryValidation,
		core.CategoryNotFound,
		core.CategoryCircuitOpen,
	} {
		// Fatal wins at every attempt number, including well below the limit.
		for attempt := 1; attempt <= policy.MaxAttempts+5; attempt++ {
			decision := policy.Evaluate(category, attempt)
			assert.False(t, decision.ShouldRetry,
				"category %s attempt %d must not retry", category, attempt)
		}
	}
}

func TestEvaluate_AttemptLimit(t *testing.T) {
	policy := Default()

	decision := policy.Evaluate(core.CategoryExternalAPI, 1)
	assert.True(t, decision.ShouldRetry)
	assert.Equal(t, 5*time.Second, decision.Delay)

	decision = policy.Evaluate(core.CategoryExternalAPI, 2)
	assert.True(t, decision.ShouldRetry)
	assert.Equal(t, 10*time.Second, decision.Delay)

	// The third attempt is the last; nothing is left to retry with.
	decision = policy.Evaluate(core.CategoryExternalAPI, 3)
	assert.False(t, decision.ShouldRetry)
}

func TestEvaluate_RetryableAllowList(t *testing.T) {
	policy := Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Backoff:     BackoffExponential,
		RetryableCategories: []core.ErrorCategory{
			core.CategoryTimeout,
			core.CategoryExternalAPI,
		},
		FatalCategories: []core.ErrorCategory{core.CategoryValidation},
	}

	assert.True(t, policy.Evaluate(core.CategoryTimeout, 1).ShouldRetry)
	assert.True(t, policy.Evaluate(core.CategoryExternalAPI, 2).ShouldRetry)
	assert.False(t, policy.Evaluate(core.CategoryUnknown, 1).ShouldRetry,
		"categories outside the allow list are not retried")
	assert.False(t, policy.Evaluate(core.CategoryValidation, 1).ShouldRetry)
}
