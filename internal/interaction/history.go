package interaction

import (
	"sync"

	"github.com/sauti-health/sauti/pkg/voice"
)

// history is the ordered, append-only in-memory record of completed turns.
// Results are immutable once appended; the list is cleared only by a session
// reset.
type history struct {
	mu    sync.Mutex
	turns []voice.TurnResult
}

func (h *history) append(res voice.TurnResult) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = append(h.turns, res)
}

// all returns a copy so callers can iterate without holding the lock.
func (h *history) all() []voice.TurnResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]voice.TurnResult, len(h.turns))
	copy(out, h.turns)
	return out
}

func (h *history) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.turns)
}

func (h *history) clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = nil
}
