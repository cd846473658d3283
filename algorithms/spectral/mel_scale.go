package spectral

import (
	"math"
)

// MelScale provides mel frequency conversion utilities (HTK formula)
type MelScale struct{}

// NewMelScale creates a new mel scale converter
func NewMelScale() *MelScale {
	return &MelScale{}
}

// HzToMel converts frequency in Hz to mel scale
func (ms *MelScale) HzToMel(hz float64) float64 {
	return 2595.0 * math.Log10(1.0+hz/700.0)
}

// MelToHz converts mel scale to frequency in Hz
func (ms *MelScale) MelToHz(mel float64) float64 {
	return 700.0 * (math.Pow(10.0, mel/2595.0) - 1.0)
}

// melBand is a triangular weighting over spectrum bins [start, start+len(weights))
type melBand struct {
	start   int
	weights []float64
	sum     float64
}

// MelBands is a small bank of mel-spaced triangular bands. Each band output
// is the weighted mean of the magnitudes under its triangle, so bands of
// different widths are comparable. Built once; Apply does not allocate.
type MelBands struct {
	bands []melBand
}

// NewMelBands creates numBands triangular bands over a spectrum of
// fftSize/2+1 bins. Band centres are equally spaced on the mel scale
// strictly between lowFreq and highFreq (highFreq is capped just below
// Nyquist); each band spans max(2, centre/3) bins either side of its centre.
func NewMelBands(numBands, fftSize int, sampleRate, lowFreq, highFreq float64) *MelBands {
	numBands = max(numBands, 1)
	fftSize = max(fftSize, 8)
	nyquist := sampleRate / 2
	highFreq = math.Min(highFreq, nyquist-1)
	lowFreq = math.Max(0, math.Min(lowFreq, highFreq))

	ms := NewMelScale()
	lowMel := ms.HzToMel(lowFreq)
	highMel := ms.HzToMel(highFreq)
	lastBin := fftSize / 2

	mb := &MelBands{bands: make([]melBand, numBands)}
	for b := range numBands {
		mel := lowMel + (highMel-lowMel)*float64(b+1)/float64(numBands+1)
		center := int(math.Round(ms.MelToHz(mel) * float64(fftSize) / sampleRate))
		center = min(max(center, 1), lastBin-1)

		half := max(2, center/3)
		left := min(max(center-half, 1), lastBin-1)
		right := min(max(center+half, 2), lastBin)

		band := melBand{start: left, weights: make([]float64, right-left+1)}
		for k := left; k <= right; k++ {
			w := triangleWeight(k, left, center, right)
			band.weights[k-left] = w
			band.sum += w
		}
		mb.bands[b] = band
	}
	return mb
}

func triangleWeight(k, left, center, right int) float64 {
	switch {
	case k == center:
		return 1.0
	case k < center && center > left:
		return float64(k-left) / float64(center-left)
	case k > center && right > center:
		return float64(right-k) / float64(right-center)
	}
	return 0.0
}

// NumBands returns the number of bands
func (mb *MelBands) NumBands() int {
	return len(mb.bands)
}

// Apply writes each band's weighted mean magnitude into dst, which must hold
// NumBands() values.
func (mb *MelBands) Apply(spectrum, dst []float64) {
	for i, band := range mb.bands {
		acc := 0.0
		for j, w := range band.weights {
			if k := band.start + j; k < len(spectrum) {
				acc += w * spectrum[k]
			}
		}
		if band.sum > 0 {
			dst[i] = acc / band.sum
		} else {
			dst[i] = 0
		}
	}
}
