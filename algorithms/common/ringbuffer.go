package common

import (
	"sync/atomic"
)

const minRingCapacity = 256

// RingBuffer is a single-producer / single-consumer lock-free queue of mono
// float32 samples.
//
// Exactly one goroutine may push (the audio callback) and exactly one may
// pop (the analysis worker). Multiple producers or multiple consumers are not
// supported. The write cursor is published with an atomic store after the
// samples are written, so a consumer that observes the new cursor also
// observes the samples behind it; the read cursor is published the same way
// so the producer never overwrites unread data.
type RingBuffer struct {
	data     []float32
	capacity uint64
	mask     uint64

	writePos atomic.Uint64
	readPos  atomic.Uint64
	dropped  atomic.Uint64
}

// NewRingBuffer creates a ring buffer holding at least capacity samples.
// The capacity is rounded up to a power of two, minimum 256.
func NewRingBuffer(capacity int) *RingBuffer {
	c := uint64(NextPowerOfTwo(max(capacity, minRingCapacity)))
	return &RingBuffer{
		data:     make([]float32, c),
		capacity: c,
		mask:     c - 1,
	}
}

// Capacity returns the size of the backing array. At most Capacity()-1
// samples can be queued at once.
func (rb *RingBuffer) Capacity() int {
	return int(rb.capacity)
}

// Size returns the number of queued samples. The read cursor is loaded
// first so a third goroutine never observes it ahead of the write cursor.
func (rb *RingBuffer) Size() int {
	r := rb.readPos.Load()
	w := rb.writePos.Load()
	return int(w - r)
}

// FreeSpace returns how many samples can be pushed without dropping
func (rb *RingBuffer) FreeSpace() int {
	return int(rb.capacity) - 1 - rb.Size()
}

// DroppedSamples returns the total number of samples rejected because the
// buffer was full.
func (rb *RingBuffer) DroppedSamples() uint64 {
	return rb.dropped.Load()
}

// Clear discards all queued samples. Only the consumer may call it.
func (rb *RingBuffer) Clear() {
	rb.readPos.Store(rb.writePos.Load())
}

// PushPlanar averages numChannels planar channels to mono, applies gain and
// queues up to numSamples samples. Samples that do not fit are dropped and
// counted. Returns the number of samples written.
func (rb *RingBuffer) PushPlanar(planar [][]float32, numSamples int, gain float32) int {
	numCh := len(planar)
	if numCh == 0 || numSamples <= 0 {
		return 0
	}
	for _, ch := range planar {
		if len(ch) < numSamples {
			numSamples = len(ch)
		}
	}
	if numSamples == 0 {
		return 0
	}

	w := rb.writePos.Load()
	r := rb.readPos.Load()
	free := int(rb.capacity - 1 - (w - r))
	toWrite := min(numSamples, free)

	scale := gain / float32(numCh)
	for i := range toWrite {
		var s float32
		for c := range numCh {
			s += planar[c][i]
		}
		rb.data[(w+uint64(i))&rb.mask] = s * scale
	}

	rb.writePos.Store(w + uint64(toWrite))

	if dropped := numSamples - toWrite; dropped > 0 {
		rb.dropped.Add(uint64(dropped))
	}
	return toWrite
}

// Push queues mono samples with unity gain. Same overflow policy as PushPlanar.
func (rb *RingBuffer) Push(mono []float32) int {
	if len(mono) == 0 {
		return 0
	}

	w := rb.writePos.Load()
	r := rb.readPos.Load()
	free := int(rb.capacity - 1 - (w - r))
	toWrite := min(len(mono), free)

	// Copy in at most two runs around the wrap point
	start := w & rb.mask
	first := min(uint64(toWrite), rb.capacity-start)
	copy(rb.data[start:start+first], mono[:first])
	copy(rb.data, mono[first:toWrite])

	rb.writePos.Store(w + uint64(toWrite))

	if dropped := len(mono) - toWrite; dropped > 0 {
		rb.dropped.Add(uint64(dropped))
	}
	return toWrite
}

// Pop copies up to len(dst) queued samples into dst in FIFO order and returns
// how many were copied. Returns 0 when the buffer is empty.
func (rb *RingBuffer) Pop(dst []float32) int {
	if len(dst) == 0 {
		return 0
	}

	r := rb.readPos.Load()
	w := rb.writePos.Load()
	toRead := min(int(w-r), len(dst))
	if toRead == 0 {
		return 0
	}

	start := r & rb.mask
	first := min(uint64(toRead), rb.capacity-start)
	copy(dst[:first], rb.data[start:start+first])
	copy(dst[first:toRead], rb.data)

	rb.readPos.Store(r + uint64(toRead))
	return toRead
}

// NextPowerOfTwo rounds n up to the next power of 2 (1 for n <= 1)
func NextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
