package vitals

import (
	"sync"

	"github.com/saveenergy/pagevitals/pkg/types"
)

// ReportBuffer is a bounded, thread-safe sample buffer. Append never blocks;
// the caller flushes once it reports the buffer is full.
type ReportBuffer struct {
	mu       sync.Mutex
	samples  []types.MetricSample
	capacity int
}

func NewReportBuffer(capacity int) *ReportBuffer {
	if capacity <= 0 {
		capacity = DefaultBufferSize
	}
	return &ReportBuffer{
		samples:  make([]types.MetricSample, 0, capacity),
		capacity: capacity,
	}
}

// Append adds s and reports whether the buffer reached capacity.
func (b *ReportBuffer) Append(s types.MetricSample) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.samples = append(b.samples, s)
	return len(b.samples) >= b.capacity
}

// Swap empties the buffer and returns its previous contents.
func (b *ReportBuffer) Swap() []types.MetricSample {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.samples) == 0 {
		return nil
	}
	out := b.samples
	b.samples = make([]types.MetricSample, 0, b.capacity)
	return out
}

func (b *ReportBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.samples)
}

func (b *ReportBuffer) Cap() int { return b.capacity }
