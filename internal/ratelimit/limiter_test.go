package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTryAcquire_ExhaustsWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := New(WithClock(func() time.Time { return now }))

	for i := 0; i < DefaultLimit; i++ {
		assert.True(t, l.TryAcquire("tenant-a", 0), "acquisition %d should succeed", i+1)
	}
	assert.False(t, l.TryAcquire("tenant-a", 0), "the 11th acquisition must be rejected")

	// A full window after the first acquisition, the counter resets.
	now = now.Add(time.Minute)
	assert.True(t, l.TryAcquire("tenant-a", 0))
}

func TestTryAcquire_WindowRollsFromFirstCall(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)
	l := New(WithClock(func() time.Time { return now }))

	// The window starts at the first acquisition, not at the clock minute.
	assert.True(t, l.TryAcquire("tenant-a", 2))
	now = now.Add(45 * time.Second)
	assert.True(t, l.TryAcquire("tenant-a", 2))
	assert.False(t, l.TryAcquire("tenant-a", 2))

	// 15 more seconds completes the 60s window measured from the first call.
	now = now.Add(15 * time.Second)
	assert.True(t, l.TryAcquire("tenant-a", 2))
}

func TestTryAcquire_TenantsAreIsolated(t *testing.T) {
	l := New()

	for i := 0; i < DefaultLimit; i++ {
		assert.True(t, l.TryAcquire("tenant-a", 0))
	}
	assert.False(t, l.TryAcquire("tenant-a", 0))
	assert.True(t, l.TryAcquire("tenant-b", 0), "another tenant has its own window")
}

func TestLimitOverrides(t *testing.T) {
	l := New()

	assert.Equal(t, DefaultLimit, l.LimitFor("tenant-a"))
	l.SetLimit("tenant-a", 2)
	assert.Equal(t, 2, l.LimitFor("tenant-a"))

	assert.True(t, l.TryAcquire("tenant-a", 0))
	assert.True(t, l.TryAcquire("tenant-a", 0))
	assert.False(t, l.TryAcquire("tenant-a", 0))
}

func TestTryAcquire_ExplicitLimitWins(t *testing.T) {
	l := New()

	assert.True(t, l.TryAcquire("tenant-a", 1))
	assert.False(t, l.TryAcquire("tenant-a", 1))
}
