// Package guard provides best-effort duplicate suppression for work units.
// It is not a distributed lock: concurrent duplicate invocations within the
// window can both pass the check in a race. It only suppresses the common
// case of the same unit being re-enqueued shortly after it was processed.
package guard

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// DefaultWindow mirrors the platform's re-analysis suppression: a response
// analyzed within the last five minutes is not analyzed again.
const DefaultWindow = 5 * time.Minute

// IdempotencyGuard tracks time-stamped markers keyed by work unit + step.
type IdempotencyGuard struct {
	markers *gocache.Cache
	now     func() time.Time
}

// Option configures an IdempotencyGuard.
type Option func(*IdempotencyGuard)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(g *IdempotencyGuard) { g.now = now }
}

// New creates a guard with markers held in a TTL cache.
func New(opts ...Option) *IdempotencyGuard {
	g := &IdempotencyGuard{
		markers: gocache.New(DefaultWindow, 10*time.Minute),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ShouldProcess reports whether the key has no marker younger than window.
func (g *IdempotencyGuard) ShouldProcess(key string, window time.Duration) bool {
	v, ok := g.markers.Get(key)
	if !ok {
		return true
	}
	markedAt := v.(time.Time)
	return g.now().Sub(markedAt) > window
}

// MarkProcessed records that the key was processed now. The marker is kept
// for the window duration plus slack so ShouldProcess can compare ages with
// the injected clock rather than relying on cache eviction alone.
func (g *IdempotencyGuard) MarkProcessed(key string, window time.Duration) {
	g.markers.Set(key, g.now(), window+time.Minute)
}
