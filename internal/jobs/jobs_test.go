package jobs

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/formpulse/formpulse/internal/core"
	"github.com/formpulse/formpulse/internal/orchestrator"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestOrchestrator() *orchestrator.Orchestrator {
	runner := orchestrator.NewRunner(testLogger(), orchestrator.WithSleep(func(time.Duration) {}))
	return orchestrator.New(runner, testLogger())
}

// stubNotifier collects status events for assertions.
type stubNotifier struct {
	mu     sync.Mutex
	events []core.StatusEvent
}

func (n *stubNotifier) Notify(_ context.Context, _ string, event core.StatusEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *stubNotifier) all() []core.StatusEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]core.StatusEvent(nil), n.events...)
}

// stubJob runs a caller-supplied function, for dispatcher tests.
type stubJob struct {
	fn func(ctx context.Context, unit *core.WorkUnit, attempt int) (*core.RunRecord, error)
}

func (j *stubJob) Run(ctx context.Context, unit *core.WorkUnit, attempt int) (*core.RunRecord, error) {
	return j.fn(ctx, unit, attempt)
}
