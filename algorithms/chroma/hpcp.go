package chroma

import (
	"math"

	"github.com/RyanBlaney/sonido-live/algorithms/common"
	"github.com/RyanBlaney/sonido-live/algorithms/harmonic"
	"gonum.org/v1/gonum/floats"
)

// NumPitchClasses is the size of a chroma vector (C, C#, ..., B)
const NumPitchClasses = 12

// HPCPParams holds parameters for streaming HPCP computation
type HPCPParams struct {
	ReferenceFreq      float64 `json:"reference_freq" yaml:"reference_freq"`             // Frequency of A4
	MinFreq            float64 `json:"min_freq" yaml:"min_freq"`                         // Peaks below are ignored
	MaxFreq            float64 `json:"max_freq" yaml:"max_freq"`                         // Peaks above are ignored
	KernelWidth        float64 `json:"kernel_width" yaml:"kernel_width"`                 // Raised-cosine width in semitones
	TuningDecaySeconds float64 `json:"tuning_decay_seconds" yaml:"tuning_decay_seconds"` // EMA time constant for tuning
	ChromaDecaySeconds float64 `json:"chroma_decay_seconds" yaml:"chroma_decay_seconds"` // EMA time constant for chroma
}

// DefaultHPCPParams returns the parameters used for key detection
func DefaultHPCPParams() HPCPParams {
	return HPCPParams{
		ReferenceFreq:      440.0,
		MinFreq:            55.0,
		MaxFreq:            5000.0,
		KernelWidth:        0.75,
		TuningDecaySeconds: 12.0,
		ChromaDecaySeconds: 6.0,
	}
}

// HPCP accumulates a harmonic pitch class profile from per-frame spectral
// peaks. Each frame it tracks the tuning offset of the input, spreads every
// peak over the nearest pitch classes, L2-normalizes the frame chroma and
// blends it into a smoothed chroma. Not safe for concurrent use.
type HPCP struct {
	params HPCPParams

	tuningAlpha float64
	chromaAlpha float64

	tuningCents float64
	frame       [NumPitchClasses]float64
	smoothed    [NumPitchClasses]float64
}

// NewHPCP creates a streaming HPCP for frames spaced hopSeconds apart
func NewHPCP(params HPCPParams, hopSeconds float64) *HPCP {
	if params.ReferenceFreq <= 0 {
		params.ReferenceFreq = 440.0
	}
	if params.KernelWidth <= 0 {
		params.KernelWidth = 0.75
	}
	return &HPCP{
		params:      params,
		tuningAlpha: common.EMACoefficient(hopSeconds, params.TuningDecaySeconds, 0.01, 0.2),
		chromaAlpha: common.EMACoefficient(hopSeconds, params.ChromaDecaySeconds, 0.02, 0.25),
	}
}

// midi converts a frequency to a fractional MIDI note number
func (h *HPCP) midi(hz float64) float64 {
	return 69.0 + 12.0*math.Log2(hz/h.params.ReferenceFreq)
}

// PitchClass maps a frequency to a fractional C-based pitch class in
// [0, 12), after removing the current tuning offset.
func (h *HPCP) PitchClass(hz float64) float64 {
	pc := math.Mod(h.midi(hz)-h.tuningCents/100.0, NumPitchClasses)
	if pc < 0 {
		pc += NumPitchClasses
	}
	return pc
}

// Update folds one frame of peaks into the profile
func (h *HPCP) Update(peaks []harmonic.SpectralPeak) {
	h.updateTuning(peaks)

	clear(h.frame[:])
	for _, p := range peaks {
		if p.Frequency < h.params.MinFreq || p.Frequency > h.params.MaxFreq {
			continue
		}
		pc := h.PitchClass(p.Frequency)
		center := math.Floor(pc + 0.5)
		for off := -1.0; off <= 1.0; off++ {
			w := h.kernel(pc - center - off)
			if w <= 0 {
				continue
			}
			idx := (int(center+off) + NumPitchClasses) % NumPitchClasses
			h.frame[idx] += p.Magnitude * w
		}
	}

	floats.Scale(common.SafeDiv(1, floats.Norm(h.frame[:], 2)), h.frame[:])

	a := h.chromaAlpha
	for i := range h.smoothed {
		h.smoothed[i] = (1-a)*h.smoothed[i] + a*h.frame[i]
	}
}

// updateTuning blends the mean deviation (in cents) of the peaks from the
// nearest equal-tempered semitone into the tuning estimate.
func (h *HPCP) updateTuning(peaks []harmonic.SpectralPeak) {
	sum, n := 0.0, 0
	for _, p := range peaks {
		if p.Frequency <= 0 {
			continue
		}
		m := h.midi(p.Frequency)
		cents := (m - math.Round(m)) * 100.0
		if math.IsNaN(cents) || math.IsInf(cents, 0) {
			continue
		}
		sum += cents
		n++
	}
	if n == 0 {
		return
	}
	h.tuningCents = (1-h.tuningAlpha)*h.tuningCents + h.tuningAlpha*sum/float64(n)
}

// kernel is a raised cosine of the semitone distance d, zero beyond the
// kernel width
func (h *HPCP) kernel(d float64) float64 {
	x := math.Abs(d) / h.params.KernelWidth
	if x >= 1 {
		return 0
	}
	return 0.5 * (1 + math.Cos(math.Pi*x))
}

// Frame returns the L2-normalized chroma of the last frame
func (h *HPCP) Frame() [NumPitchClasses]float64 {
	return h.frame
}

// Smoothed returns the exponentially smoothed chroma
func (h *HPCP) Smoothed() [NumPitchClasses]float64 {
	return h.smoothed
}

// TuningCents returns the current tuning offset estimate
func (h *HPCP) TuningCents() float64 {
	return h.tuningCents
}

// Reset clears tuning and chroma history
func (h *HPCP) Reset() {
	h.tuningCents = 0
	clear(h.frame[:])
	clear(h.smoothed[:])
}
