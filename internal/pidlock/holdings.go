package pidlock

import "sync"

// Holdings is the in-memory collection of box identifiers the current
// broker invocation has acquired. It is consulted by the signal harness's
// fatal-signal goroutine, so every mutation is synchronized.
type Holdings struct {
	mu    sync.Mutex
	boxes []int
}

// NewHoldings returns an empty holdings set.
func NewHoldings() *Holdings {
	return &Holdings{}
}

// Add records box b as held, in acquisition order.
func (h *Holdings) Add(b int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.boxes = append(h.boxes, b)
}

// Remove drops box b from the held set, if present.
func (h *Holdings) Remove(b int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, held := range h.boxes {
		if held == b {
			h.boxes = append(h.boxes[:i], h.boxes[i+1:]...)
			return
		}
	}
}

// Snapshot returns a copy of the currently held box identifiers, in
// acquisition order.
func (h *Holdings) Snapshot() []int {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]int, len(h.boxes))
	copy(out, h.boxes)
	return out
}

// Len reports how many boxes are currently held.
func (h *Holdings) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.boxes)
}
