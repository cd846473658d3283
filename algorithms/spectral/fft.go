package spectral

import (
	"math"

	"github.com/RyanBlaney/sonido-live/algorithms/common"
	"github.com/mjibson/go-dsp/fft"
	"gonum.org/v1/gonum/dsp/fourier"
)

// RealFFT computes magnitude spectra of fixed-size real frames with gonum.
// All buffers are allocated once so the per-frame path does not allocate.
// Not safe for concurrent use.
type RealFFT struct {
	size   int
	plan   *fourier.FFT
	coeffs []complex128
}

// NewRealFFT creates a real FFT of the given size
func NewRealFFT(size int) *RealFFT {
	size = max(size, 2)
	return &RealFFT{
		size:   size,
		plan:   fourier.NewFFT(size),
		coeffs: make([]complex128, size/2+1),
	}
}

// Size returns the transform length
func (r *RealFFT) Size() int {
	return r.size
}

// Bins returns the number of non-negative frequency bins (Size()/2 + 1)
func (r *RealFFT) Bins() int {
	return r.size/2 + 1
}

// Magnitudes transforms frame (length Size()) and writes |X[k]| for
// k = 0..Size()/2 into dst, which must hold Bins() values.
func (r *RealFFT) Magnitudes(frame, dst []float64) {
	r.coeffs = r.plan.Coefficients(r.coeffs, frame)
	for i, c := range r.coeffs {
		dst[i] = math.Hypot(real(c), imag(c))
	}
}

// FFT wraps go-dsp for transforms whose length changes between calls, such
// as autocorrelation over a growing onset history.
type FFT struct {
	padded []float64
}

// NewFFT creates a new FFT calculator
func NewFFT() *FFT {
	return &FFT{}
}

// Compute computes the forward transform of a real signal using go-dsp
func (f *FFT) Compute(x []float64) []complex128 {
	if len(x) == 0 {
		return []complex128{}
	}
	return fft.FFTReal(x)
}

// Autocorrelate writes the linear (non-circular) autocorrelation of x for
// lags 0..maxLag into dst and returns it resliced to maxLag+1. Lags at or
// beyond len(x) are zero. The signal is zero-padded to a power of two of at
// least twice its length and correlated through the power spectrum.
// The result is unnormalized; divide by dst[0] for a normalized ACF.
func (f *FFT) Autocorrelate(x []float64, maxLag int, dst []float64) []float64 {
	if maxLag < 0 {
		return dst[:0]
	}
	if cap(dst) < maxLag+1 {
		dst = make([]float64, maxLag+1)
	}
	dst = dst[:maxLag+1]
	clear(dst)

	n := len(x)
	if n == 0 {
		return dst
	}

	size := common.NextPowerOfTwo(2 * n)
	if cap(f.padded) < size {
		f.padded = make([]float64, size)
	}
	padded := f.padded[:size]
	copy(padded, x)
	clear(padded[n:])

	spectrum := f.Compute(padded)
	for i, c := range spectrum {
		spectrum[i] = complex(real(c)*real(c)+imag(c)*imag(c), 0)
	}
	r := fft.IFFT(spectrum)

	for lag := range min(maxLag+1, n) {
		dst[lag] = real(r[lag])
	}
	return dst
}
