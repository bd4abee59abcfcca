package scheduler

import (
	"sync"

	"github.com/openwire/newswire/pkg/models"
)

// History keeps a bounded ring of recent run summaries and fans each new
// summary out to subscribers. Slow subscribers are skipped, never blocked
// on; a missed summary costs nothing because the ring still has it.
type History struct {
	mu      sync.Mutex
	ring    []models.RunSummary
	next    int
	full    bool
	subs    map[chan models.RunSummary]struct{}
	subSize int
}

// NewHistory creates a ring holding the latest size summaries.
func NewHistory(size int) *History {
	if size <= 0 {
		size = 50
	}
	return &History{
		ring:    make([]models.RunSummary, size),
		subs:    make(map[chan models.RunSummary]struct{}),
		subSize: 16,
	}
}

// Add records a summary and notifies subscribers.
func (h *History) Add(s models.RunSummary) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.ring[h.next] = s
	h.next = (h.next + 1) % len(h.ring)
	if h.next == 0 {
		h.full = true
	}
	for ch := range h.subs {
		select {
		case ch <- s:
		default:
		}
	}
}

// Recent returns the stored summaries, newest first.
func (h *History) Recent() []models.RunSummary {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := h.next
	if h.full {
		n = len(h.ring)
	}
	out := make([]models.RunSummary, 0, n)
	for i := 0; i < n; i++ {
		idx := h.next - 1 - i
		if idx < 0 {
			idx += len(h.ring)
		}
		out = append(out, h.ring[idx])
	}
	return out
}

// Subscribe registers a channel that receives every summary added after
// this call. The caller must Unsubscribe when done.
func (h *History) Subscribe() chan models.RunSummary {
	ch := make(chan models.RunSummary, h.subSize)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a channel returned by Subscribe.
func (h *History) Unsubscribe(ch chan models.RunSummary) {
	h.mu.Lock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
	h.mu.Unlock()
}
