package spectral

// SpectralFlux computes streaming positive spectral flux: the sum of the
// energy increases between consecutive frames. The first frame after
// construction or Reset yields 0.
type SpectralFlux struct {
	prev    []float64
	hasPrev bool
}

// NewSpectralFlux creates a flux calculator for frames of size values
func NewSpectralFlux(size int) *SpectralFlux {
	return &SpectralFlux{prev: make([]float64, max(size, 0))}
}

// Next returns the positive flux of frame against the previous one and
// remembers frame. Only the first len(prev) values are compared.
func (sf *SpectralFlux) Next(frame []float64) float64 {
	n := min(len(frame), len(sf.prev))
	sum := 0.0
	if sf.hasPrev {
		for i := range n {
			// Only positive changes (energy increases)
			if diff := frame[i] - sf.prev[i]; diff > 0 {
				sum += diff
			}
		}
	}
	copy(sf.prev, frame[:n])
	sf.hasPrev = true
	return sum
}

// Reset forgets the previous frame
func (sf *SpectralFlux) Reset() {
	clear(sf.prev)
	sf.hasPrev = false
}
