package heap

import "time"

// usageHistory is a fixed-capacity ring buffer of used-memory samples taken at
// a bounded rate.
type usageHistory struct {
	samples        []int
	head           int
	count          int
	sampleInterval time.Duration
	lastSample     time.Time
	hasSample      bool
}

func newUsageHistory(capacity int, sampleInterval time.Duration) usageHistory {
	return usageHistory{
		samples:        make([]int, capacity),
		sampleInterval: sampleInterval,
	}
}

func (h *usageHistory) record(now time.Time, usedBytes int) bool {
	if h.hasSample && now.Sub(h.lastSample) < h.sampleInterval {
		return false
	}

	h.samples[(h.head+h.count)%len(h.samples)] = usedBytes
	if h.count < len(h.samples) {
		h.count++
	} else {
		h.head = (h.head + 1) % len(h.samples)
	}

	h.lastSample = now
	h.hasSample = true
	return true
}

func (h *usageHistory) chronological() []int {
	out := make([]int, h.count)
	for i := 0; i < h.count; i++ {
		out[i] = h.samples[(h.head+i)%len(h.samples)]
	}
	return out
}

// UpdateMemoryHistory samples the allocator's used memory at the provided
// time. Samples arriving before HistorySampleInterval has elapsed since the
// last retained sample are skipped, bounding the sampling rate regardless of
// how often this is called. It returns true when a sample was retained.
func (a *Allocator) UpdateMemoryHistory(now time.Time) bool {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	return a.history.record(now, a.usedMemoryAfterLock())
}

// UsageHistory returns the retained used-memory samples in chronological
// order, oldest first, regardless of ring wrap-around. The returned slice is
// an owned copy.
func (a *Allocator) UsageHistory() []int {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	return a.history.chronological()
}
