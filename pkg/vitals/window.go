package vitals

import (
	"math"
	"sort"
)

const interactionWindowSize = 10

// Interaction is one user interaction tracked for INP.
type Interaction struct {
	InteractionID string
	Latency       float64
	StartTime     float64
}

// InteractionWindow is a FIFO of the most recent interactions. It is not
// safe for concurrent use; the Aggregator guards it.
type InteractionWindow struct {
	capacity int
	items    []Interaction
}

func NewInteractionWindow(capacity int) *InteractionWindow {
	if capacity <= 0 {
		capacity = interactionWindowSize
	}
	return &InteractionWindow{
		capacity: capacity,
		items:    make([]Interaction, 0, capacity+1),
	}
}

// Push appends it and evicts the oldest entries beyond capacity.
func (w *InteractionWindow) Push(it Interaction) {
	w.items = append(w.items, it)
	if over := len(w.items) - w.capacity; over > 0 {
		w.items = append(w.items[:0], w.items[over:]...)
	}
}

// Items returns a copy of the window in arrival order.
func (w *InteractionWindow) Items() []Interaction {
	out := make([]Interaction, len(w.items))
	copy(out, w.items)
	return out
}

func (w *InteractionWindow) Len() int { return len(w.items) }

// Percentile returns sorted[floor(n*p)] over the window latencies, clamped to
// the last element. It returns 0 for an empty window.
func (w *InteractionWindow) Percentile(p float64) float64 {
	n := len(w.items)
	if n == 0 {
		return 0
	}
	latencies := make([]float64, n)
	for i, it := range w.items {
		latencies[i] = it.Latency
	}
	sort.Float64s(latencies)
	idx := int(math.Floor(float64(n) * p))
	if idx >= n {
		idx = n - 1
	}
	if idx < 0 {
		idx = 0
	}
	return latencies[idx]
}

// INP is the 98th percentile latency of the window.
func (w *InteractionWindow) INP() float64 {
	return w.Percentile(0.98)
}

func (w *InteractionWindow) Reset() {
	w.items = w.items[:0]
}
