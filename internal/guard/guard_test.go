package guard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShouldProcess(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g := New(WithClock(func() time.Time { return now }))

	assert.True(t, g.ShouldProcess("resp-1:analysis", DefaultWindow),
		"an unmarked key is always processed")

	g.MarkProcessed("resp-1:analysis", DefaultWindow)
	assert.False(t, g.ShouldProcess("resp-1:analysis", DefaultWindow),
		"a fresh marker suppresses reprocessing")

	// Still inside the five-minute window.
	now = now.Add(5 * time.Minute)
	assert.False(t, g.ShouldProcess("resp-1:analysis", DefaultWindow))

	// One second past the window the marker no longer binds.
	now = now.Add(time.Second)
	assert.True(t, g.ShouldProcess("resp-1:analysis", DefaultWindow))
}

func TestShouldProcess_KeysAreIndependent(t *testing.T) {
	g := New()

	g.MarkProcessed("resp-1:analysis", DefaultWindow)
	assert.False(t, g.ShouldProcess("resp-1:analysis", DefaultWindow))
	assert.True(t, g.ShouldProcess("resp-2:analysis", DefaultWindow),
		"markers are scoped to their key")
	assert.True(t, g.ShouldProcess("resp-1:question", DefaultWindow))
}

func TestShouldProcess_CustomWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g := New(WithClock(func() time.Time { return now }))

	g.MarkProcessed("delivery", time.Hour)
	now = now.Add(30 * time.Minute)
	assert.False(t, g.ShouldProcess("delivery", time.Hour))

	now = now.Add(31 * time.Minute)
	assert.True(t, g.ShouldProcess("delivery", time.Hour))
}
