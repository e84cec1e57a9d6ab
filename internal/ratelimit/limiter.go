// Package ratelimit bounds external calls per tenant with a rolling
// fixed-window counter: the window starts at the first acquisition for a
// tenant and expires 60 seconds later, not at a clock-minute boundary.
package ratelimit

import (
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// DefaultLimit is the stock per-tenant allowance when no override is set.
const DefaultLimit = 10

// window is one tenant's counter for the current rolling window.
type window struct {
	mu      sync.Mutex
	started time.Time
	count   int
}

// Limiter is a rolling-window rate limiter shared across concurrent runs.
// Windows are held in a TTL cache so idle tenants cost nothing.
type Limiter struct {
	windowLen time.Duration
	windows   *gocache.Cache

	mu        sync.Mutex
	overrides map[string]int

	now func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a Limiter with 60-second rolling windows.
func New(opts ...Option) *Limiter {
	l := &Limiter{
		windowLen: time.Minute,
		windows:   gocache.New(time.Minute, 5*time.Minute),
		overrides: make(map[string]int),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SetLimit installs a per-tenant override for the window allowance.
func (l *Limiter) SetLimit(tenantKey string, limit int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.overrides[tenantKey] = limit
}

// LimitFor returns the effective allowance for a tenant.
func (l *Limiter) LimitFor(tenantKey string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limit, ok := l.overrides[tenantKey]; ok {
		return limit
	}
	return DefaultLimit
}

// TryAcquire consumes one slot from the tenant's current window. It returns
// false once the window's allowance is exhausted; the caller must back off
// and reschedule. A window expires windowLen after its first acquisition,
// after which the next call starts a fresh one.
func (l *Limiter) TryAcquire(tenantKey string, limit int) bool {
	if limit <= 0 {
		limit = l.LimitFor(tenantKey)
	}

	w := l.windowFor(tenantKey)
	w.mu.Lock()
	defer w.mu.Unlock()

	if l.now().Sub(w.started) >= l.windowLen {
		w.started = l.now()
		w.count = 0
	}

	if w.count >= limit {
		return false
	}
	w.count++
	return true
}

func (l *Limiter) windowFor(tenantKey string) *window {
	if v, ok := l.windows.Get(tenantKey); ok {
		return v.(*window)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	// Re-check under the lock so two first-callers share one window.
	if v, ok := l.windows.Get(tenantKey); ok {
		return v.(*window)
	}
	w := &window{started: l.now()}
	l.windows.Set(tenantKey, w, gocache.DefaultExpiration)
	return w
}
