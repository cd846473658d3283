package windowing

import (
	"github.com/mjibson/go-dsp/window"
)

// Hann represents a Hann window function
type Hann struct {
	size         int
	symmetric    bool
	coefficients []float64
}

// NewHann creates a new Hann window. A periodic window (symmetric == false)
// is what overlap-add spectral framing wants; a symmetric one is for filter
// design.
func NewHann(size int, symmetric bool) *Hann {
	h := &Hann{
		size:      max(size, 1),
		symmetric: symmetric,
	}
	h.generate()
	return h
}

// generate creates Hann window coefficients. go-dsp produces the symmetric
// form; the periodic form is the first size points of a size+1 window.
func (h *Hann) generate() {
	if h.symmetric || h.size == 1 {
		h.coefficients = window.Hann(h.size)
		return
	}
	h.coefficients = window.Hann(h.size + 1)[:h.size]
}

// ApplyTo writes the windowed float32 samples into dst as float64. Only
// the overlap of the window, dst and src is written.
func (h *Hann) ApplyTo(dst []float64, src []float32) {
	n := min(h.size, len(dst), len(src))
	for i := range n {
		dst[i] = float64(src[i]) * h.coefficients[i]
	}
}
