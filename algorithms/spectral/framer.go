package spectral

import (
	"github.com/RyanBlaney/sonido-live/algorithms/common"
	"github.com/RyanBlaney/sonido-live/algorithms/windowing"
)

// Framer turns an arbitrarily chunked sample stream into Hann-windowed
// magnitude spectra of fixed size, advancing by hop samples per frame.
// Size-hop samples carry over between frames. Not safe for concurrent use.
type Framer struct {
	size int
	hop  int

	window *windowing.Hann
	fft    *RealFFT

	overlap  []float32
	filled   int
	frame    []float64
	spectrum []float64
}

// NewFramer creates a framer. size is rounded up to a power of two (minimum
// 2) and hop is limited to [1, size-1].
func NewFramer(size, hop int) *Framer {
	size = common.NextPowerOfTwo(max(size, 2))
	hop = min(max(hop, 1), size-1)

	fft := NewRealFFT(size)
	return &Framer{
		size:     size,
		hop:      hop,
		window:   windowing.NewHann(size, false),
		fft:      fft,
		overlap:  make([]float32, size),
		frame:    make([]float64, size),
		spectrum: make([]float64, fft.Bins()),
	}
}

// Size returns the frame length in samples
func (f *Framer) Size() int {
	return f.size
}

// Hop returns the frame advance in samples
func (f *Framer) Hop() int {
	return f.hop
}

// Bins returns the length of the magnitude slices passed to Process callbacks
func (f *Framer) Bins() int {
	return f.fft.Bins()
}

// Process appends samples to the overlap buffer and calls onFrame once per
// completed frame, in order. mag is owned by the framer and is only valid
// for the duration of the callback. Leftover samples are kept for the next
// call.
func (f *Framer) Process(samples []float32, onFrame func(mag []float64)) {
	for len(samples) > 0 {
		n := copy(f.overlap[f.filled:], samples)
		f.filled += n
		samples = samples[n:]

		if f.filled < f.size {
			return
		}

		f.window.ApplyTo(f.frame, f.overlap)
		f.fft.Magnitudes(f.frame, f.spectrum)
		if onFrame != nil {
			onFrame(f.spectrum)
		}

		copy(f.overlap, f.overlap[f.hop:])
		f.filled = f.size - f.hop
	}
}

// Reset drops all buffered samples
func (f *Framer) Reset() {
	f.filled = 0
	clear(f.overlap)
}
