package common

// HistoryRing keeps the most recent values of a scalar stream. It holds at
// most its capacity; once full, each push overwrites the oldest value.
// Not safe for concurrent use.
type HistoryRing struct {
	buffer   []float64
	size     int
	writePos int
	count    int
	sum      float64
}

// NewHistoryRing creates a history ring of the given capacity (minimum 1)
func NewHistoryRing(size int) *HistoryRing {
	size = max(size, 1)
	return &HistoryRing{
		buffer: make([]float64, size),
		size:   size,
	}
}

// Push appends a value, evicting the oldest one when full
func (h *HistoryRing) Push(v float64) {
	if h.count == h.size {
		h.sum -= h.buffer[h.writePos]
	} else {
		h.count++
	}
	h.buffer[h.writePos] = v
	h.sum += v
	h.writePos = (h.writePos + 1) % h.size
}

// Len returns the number of stored values
func (h *HistoryRing) Len() int {
	return h.count
}

// Cap returns the capacity fixed at construction
func (h *HistoryRing) Cap() int {
	return h.size
}

// Mean returns the mean of the stored values (0 when empty). The running sum
// is rebuilt on every wrap of the write position to bound rounding drift.
func (h *HistoryRing) Mean() float64 {
	if h.count == 0 {
		return 0.0
	}
	if h.writePos == 0 {
		h.sum = 0
		for i := range h.count {
			h.sum += h.buffer[i]
		}
	}
	return h.sum / float64(h.count)
}

// CopyTo writes the stored values oldest-first into dst and returns dst
// resliced to Len(). dst is grown only if its capacity is too small.
func (h *HistoryRing) CopyTo(dst []float64) []float64 {
	if cap(dst) < h.count {
		dst = make([]float64, h.count)
	}
	dst = dst[:h.count]

	start := (h.writePos - h.count + h.size) % h.size
	n := copy(dst, h.buffer[start:min(start+h.count, h.size)])
	copy(dst[n:], h.buffer[:h.count-n])
	return dst
}

// Reset empties the ring without releasing memory
func (h *HistoryRing) Reset() {
	h.writePos = 0
	h.count = 0
	h.sum = 0
	clear(h.buffer)
}
