// Package notify pushes run status events toward live clients. The in-process
// hub fans events out to subscriber channels; the HTTP layer exposes them as
// server-sent events. Publishing never blocks a job worker: slow subscribers
// drop events.
package notify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/formpulse/formpulse/internal/core"
)

// subscriberBuffer is the per-subscriber channel depth before drops.
const subscriberBuffer = 16

// Hub is an in-process publish/subscribe notifier.
type Hub struct {
	logger *slog.Logger

	mu   sync.Mutex
	subs map[string]map[chan core.StatusEvent]struct{}
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger: logger,
		subs:   make(map[string]map[chan core.StatusEvent]struct{}),
	}
}

// Notify publishes an event on a channel key. Implements core.Notifier.
func (h *Hub) Notify(_ context.Context, channelKey string, event core.StatusEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subs[channelKey] {
		select {
		case ch <- event:
		default:
			h.logger.Warn("dropping status event for slow subscriber",
				"channel", channelKey, "work_unit", event.WorkUnitID)
		}
	}
	return nil
}

// Subscribe returns a channel of events for a channel key and a cancel
// function that must be called when the subscriber goes away.
func (h *Hub) Subscribe(channelKey string) (<-chan core.StatusEvent, func()) {
	ch := make(chan core.StatusEvent, subscriberBuffer)

	h.mu.Lock()
	if h.subs[channelKey] == nil {
		h.subs[channelKey] = make(map[chan core.StatusEvent]struct{})
	}
	h.subs[channelKey][ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if set, ok := h.subs[channelKey]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(h.subs, channelKey)
			}
		}
		close(ch)
	}
	return ch, cancel
}
