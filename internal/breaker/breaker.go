// Package breaker implements a per-dependency circuit breaker. After a run of
// consecutive failures the breaker opens and short-circuits calls for a
// cool-down period, then allows a single trial call before closing again.
package breaker

import (
	"log/slog"
	"sync"
	"time"

	"github.com/formpulse/formpulse/internal/core"
)

// State is the breaker position for one dependency.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// circuit holds the mutable breaker state for a single dependency key.
type circuit struct {
	state               State
	consecutiveFailures int
	openedAt            time.Time
}

// Breaker guards calls to external dependencies, keyed by dependency name.
// It is shared across concurrent runs; all state transitions happen under a
// single mutex at increment granularity.
type Breaker struct {
	threshold int
	cooldown  time.Duration
	logger    *slog.Logger

	mu       sync.Mutex
	circuits map[string]*circuit

	now func() time.Time
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// New creates a Breaker. threshold is the consecutive-failure count that
// opens a circuit; cooldown is how long an open circuit rejects calls before
// allowing a trial.
func New(threshold int, cooldown time.Duration, logger *slog.Logger, opts ...Option) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 60 * time.Second
	}
	b := &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		logger:    logger,
		circuits:  make(map[string]*circuit),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Call invokes fn guarded by the circuit for dependencyKey. When the circuit
// is open and the cooldown has not elapsed, fn is not invoked and a
// circuit_open error is returned immediately. fn's own error is returned
// unchanged on failure.
func Call[T any](b *Breaker, dependencyKey string, fn func() (T, error)) (T, error) {
	var zero T

	if err := b.Allow(dependencyKey); err != nil {
		return zero, err
	}

	result, err := fn()
	if err != nil {
		b.RecordFailure(dependencyKey)
		return zero, err
	}

	b.RecordSuccess(dependencyKey)
	return result, nil
}

// Allow reports whether a call to dependencyKey may proceed right now. An
// open circuit whose cooldown elapsed moves to half_open and admits exactly
// one trial call; everyone else is rejected until RecordSuccess or
// RecordFailure resolves the trial.
func (b *Breaker) Allow(dependencyKey string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuit(dependencyKey)
	switch c.state {
	case StateOpen:
		if b.now().Sub(c.openedAt) < b.cooldown {
			return core.Errorf(core.CategoryCircuitOpen,
				"circuit for %q is open, retry after cooldown", dependencyKey)
		}
		c.state = StateHalfOpen
		b.logger.Info("circuit half-open, allowing trial call", "dependency", dependencyKey)
		return nil
	case StateHalfOpen:
		// The trial call is still in flight.
		return core.Errorf(core.CategoryCircuitOpen,
			"circuit for %q is half-open, trial call pending", dependencyKey)
	default:
		return nil
	}
}

// RecordSuccess resets the circuit for dependencyKey to closed.
func (b *Breaker) RecordSuccess(dependencyKey string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuit(dependencyKey)
	if c.state != StateClosed {
		b.logger.Info("circuit closed after successful call", "dependency", dependencyKey)
	}
	c.state = StateClosed
	c.consecutiveFailures = 0
}

// RecordFailure counts a failure for dependencyKey. The circuit opens when
// the consecutive-failure count reaches the threshold, and re-opens
// immediately on a failed half-open trial.
func (b *Breaker) RecordFailure(dependencyKey string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuit(dependencyKey)
	c.consecutiveFailures++

	if c.state == StateHalfOpen || c.consecutiveFailures >= b.threshold {
		c.state = StateOpen
		c.openedAt = b.now()
		b.logger.Warn("circuit opened",
			"dependency", dependencyKey,
			"consecutive_failures", c.consecutiveFailures,
			"cooldown", b.cooldown,
		)
	}
}

// StateOf returns the current state for a dependency, for inspection.
func (b *Breaker) StateOf(dependencyKey string) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.circuit(dependencyKey).state
}

func (b *Breaker) circuit(key string) *circuit {
	c, ok := b.circuits[key]
	if !ok {
		c = &circuit{state: StateClosed}
		b.circuits[key] = c
	}
	return c
}
