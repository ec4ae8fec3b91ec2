package loader

import (
	"math"
	"sync"
)

// sizeBoundaries are the upper bounds of the SizeHistogram buckets (16B to 4GB).
var sizeBoundaries = []int{
	16, 64, 256, 1024, 4096, // bytes
	16384, 65536, 262144, 1048576, // KB
	4194304, 16777216, 67108864, // MB
	268435456, 1073741824, 4294967296, // GB
}

// SizeHistogram tracks the size distribution of loaded values with
// exponential buckets.
//
// Thread-safe: All methods are safe for concurrent use
type SizeHistogram struct {
	mu      sync.RWMutex
	buckets []int64 // one bucket per boundary plus one for larger values
	count   int64
	sum     int64
}

// NewSizeHistogram creates an empty histogram.
func NewSizeHistogram() *SizeHistogram {
	return &SizeHistogram{buckets: make([]int64, len(sizeBoundaries)+1)}
}

// AddSample records a value size in bytes.
func (h *SizeHistogram) AddSample(size int) {
	idx := len(sizeBoundaries)
	for i, b := range sizeBoundaries {
		if size <= b {
			idx = i
			break
		}
	}

	h.mu.Lock()
	h.buckets[idx]++
	h.count++
	h.sum += int64(size)
	h.mu.Unlock()
}

// Count returns the number of samples.
func (h *SizeHistogram) Count() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Average returns the average sample size.
func (h *SizeHistogram) Average() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.count == 0 {
		return 0
	}
	return int(h.sum / h.count)
}

// Percentile estimates the given percentile (0-100) from the bucket the
// percentile falls into.
func (h *SizeHistogram) Percentile(p int) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.count == 0 || p < 0 || p > 100 {
		return 0
	}

	target := int64(math.Ceil(float64(h.count) * float64(p) / 100.0))
	var cumulative int64
	for i, n := range h.buckets {
		cumulative += n
		if cumulative < target {
			continue
		}
		switch {
		case i == 0:
			return sizeBoundaries[0] / 2
		case i < len(sizeBoundaries):
			return (sizeBoundaries[i-1] + sizeBoundaries[i]) / 2
		default:
			return sizeBoundaries[len(sizeBoundaries)-1] * 2
		}
	}
	return int(h.sum / h.count)
}

// Reset drops all samples.
func (h *SizeHistogram) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count = 0
	h.sum = 0
	for i := range h.buckets {
		h.buckets[i] = 0
	}
}
