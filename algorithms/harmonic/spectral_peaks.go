package harmonic

import (
	"math"

	"github.com/RyanBlaney/sonido-live/algorithms/common"
)

// SpectralPeak represents a detected spectral peak
type SpectralPeak struct {
	Frequency float64 // Refined peak frequency in Hz
	Magnitude float64 // Interpolated peak magnitude
	BinIndex  int     // Original FFT bin index
}

// PeakPicker finds local maxima in a magnitude spectrum whose values lie
// above a threshold relative to the spectrum's full scale. A bin qualifies
// when it strictly exceeds both neighbours on each side (±1 and ±2 bins).
// Frequency and magnitude are refined by parabolic interpolation over the
// ±1 bins. Peaks are collected from low to high frequency, at most maxPeaks
// per frame; the backing array is reused between calls.
type PeakPicker struct {
	sampleRate float64
	fftSize    int
	threshold  float64
	maxPeaks   int
	peaks      []SpectralPeak
}

// NewPeakPicker creates a peak picker for spectra of an fftSize-point
// transform. thresholdDB is relative to 1.0 (e.g. -36 keeps bins above
// about 0.016), so the spectrum is expected to be normalized to a peak of 1.
func NewPeakPicker(sampleRate float64, fftSize int, thresholdDB float64, maxPeaks int) *PeakPicker {
	maxPeaks = max(maxPeaks, 1)
	return &PeakPicker{
		sampleRate: sampleRate,
		fftSize:    max(fftSize, 1),
		threshold:  math.Pow(10, thresholdDB/20),
		maxPeaks:   maxPeaks,
		peaks:      make([]SpectralPeak, 0, maxPeaks),
	}
}

// DetectPeaks returns the peaks of magnitudeSpectrum in ascending frequency.
// The returned slice is owned by the picker and valid until the next call.
func (pp *PeakPicker) DetectPeaks(magnitudeSpectrum []float64) []SpectralPeak {
	pp.peaks = pp.peaks[:0]
	binHz := pp.sampleRate / float64(pp.fftSize)

	for k := 2; k < len(magnitudeSpectrum)-2; k++ {
		m := magnitudeSpectrum[k]
		if m < pp.threshold {
			continue
		}
		if m <= magnitudeSpectrum[k-1] || m <= magnitudeSpectrum[k+1] ||
			m <= magnitudeSpectrum[k-2] || m <= magnitudeSpectrum[k+2] {
			continue
		}

		left, right := magnitudeSpectrum[k-1], magnitudeSpectrum[k+1]
		offset := common.ParabolicOffset(left, m, right)
		pp.peaks = append(pp.peaks, SpectralPeak{
			Frequency: (float64(k) + offset) * binHz,
			Magnitude: common.ParabolicPeak(left, m, right, offset),
			BinIndex:  k,
		})
		if len(pp.peaks) == pp.maxPeaks {
			break
		}
	}

	return pp.peaks
}
