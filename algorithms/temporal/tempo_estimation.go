package temporal

import (
	"fmt"
	"math"
	"slices"
	"sync/atomic"

	"github.com/RyanBlaney/sonido-live/algorithms/common"
	"github.com/RyanBlaney/sonido-live/algorithms/spectral"
	"github.com/RyanBlaney/sonido-live/logging"
)

// TempoConfig holds the tunables of the tempo estimator
type TempoConfig struct {
	FrameSize         int     `json:"frame_size" yaml:"frame_size"`                   // STFT size (power of two)
	HopSize           int     `json:"hop_size" yaml:"hop_size"`                       // Envelope rate is sampleRate/HopSize
	NumBands          int     `json:"num_bands" yaml:"num_bands"`                     // Mel bands used for flux
	MinBandHz         float64 `json:"min_band_hz" yaml:"min_band_hz"`                 // Lower edge of the band bank
	MaxBandHz         float64 `json:"max_band_hz" yaml:"max_band_hz"`                 // Upper edge (capped at Nyquist)
	LogCompression    float64 `json:"log_compression" yaml:"log_compression"`         // λ in log1p(λ·m)
	ThresholdK        float64 `json:"threshold_k" yaml:"threshold_k"`                 // Adaptive threshold = mean + k·std
	ThresholdSeconds  float64 `json:"threshold_seconds" yaml:"threshold_seconds"`     // Adaptive threshold window
	WhiteningSeconds  float64 `json:"whitening_seconds" yaml:"whitening_seconds"`     // Moving average for whitening
	FluxSmoothing     float64 `json:"flux_smoothing" yaml:"flux_smoothing"`           // Envelope EMA coefficient
	MinBPM            float64 `json:"min_bpm" yaml:"min_bpm"`                         // Lowest reportable tempo
	MaxBPM            float64 `json:"max_bpm" yaml:"max_bpm"`                         // Highest reportable tempo
	PreferredMinBPM   float64 `json:"preferred_min_bpm" yaml:"preferred_min_bpm"`     // Octave folding range, low end
	PreferredMaxBPM   float64 `json:"preferred_max_bpm" yaml:"preferred_max_bpm"`     // Octave folding range, high end
	AnalysisSeconds   float64 `json:"analysis_seconds" yaml:"analysis_seconds"`       // Envelope history length
	MinHistorySeconds float64 `json:"min_history_seconds" yaml:"min_history_seconds"` // History needed before estimating
	ReestimateSeconds float64 `json:"reestimate_seconds" yaml:"reestimate_seconds"`   // Stream time between estimates
	TopPeaks          int     `json:"top_peaks" yaml:"top_peaks"`                     // ACF peaks considered
	HistoryLength     int     `json:"history_length" yaml:"history_length"`           // Median debounce length
}

// DefaultTempoConfig returns the default tempo estimator configuration
func DefaultTempoConfig() *TempoConfig {
	return &TempoConfig{
		FrameSize:         2048,
		HopSize:           512,
		NumBands:          6,
		MinBandHz:         30.0,
		MaxBandHz:         8000.0,
		LogCompression:    1.0,
		ThresholdK:        1.0,
		ThresholdSeconds:  1.5,
		WhiteningSeconds:  0.8,
		FluxSmoothing:     0.25,
		MinBPM:            60.0,
		MaxBPM:            200.0,
		PreferredMinBPM:   80.0,
		PreferredMaxBPM:   160.0,
		AnalysisSeconds:   10.0,
		MinHistorySeconds: 2.5,
		ReestimateSeconds: 0.25,
		TopPeaks:          5,
		HistoryLength:     8,
	}
}

// Validate reports the first tunable that is out of range
func (c *TempoConfig) Validate() error {
	switch {
	case c.FrameSize < 64:
		return fmt.Errorf("frame_size must be at least 64, got %d", c.FrameSize)
	case c.HopSize <= 0 || c.HopSize >= c.FrameSize:
		return fmt.Errorf("hop_size must be in [1, frame_size), got %d", c.HopSize)
	case c.NumBands < 1:
		return fmt.Errorf("num_bands must be positive, got %d", c.NumBands)
	case c.MinBandHz < 0 || c.MaxBandHz <= c.MinBandHz:
		return fmt.Errorf("band range [%g, %g] Hz is empty", c.MinBandHz, c.MaxBandHz)
	case c.FluxSmoothing <= 0 || c.FluxSmoothing > 1:
		return fmt.Errorf("flux_smoothing must be in (0, 1], got %g", c.FluxSmoothing)
	case c.MinBPM <= 0 || c.MaxBPM <= c.MinBPM:
		return fmt.Errorf("bpm range [%g, %g] is invalid", c.MinBPM, c.MaxBPM)
	case c.PreferredMinBPM > c.PreferredMaxBPM:
		return fmt.Errorf("preferred bpm range [%g, %g] is invalid", c.PreferredMinBPM, c.PreferredMaxBPM)
	case c.AnalysisSeconds <= 0 || c.MinHistorySeconds > c.AnalysisSeconds:
		return fmt.Errorf("min_history_seconds (%g) must not exceed analysis_seconds (%g)", c.MinHistorySeconds, c.AnalysisSeconds)
	case c.ReestimateSeconds <= 0:
		return fmt.Errorf("reestimate_seconds must be positive, got %g", c.ReestimateSeconds)
	case c.TopPeaks < 1:
		return fmt.Errorf("top_peaks must be positive, got %d", c.TopPeaks)
	case c.HistoryLength < 1:
		return fmt.Errorf("history_length must be positive, got %d", c.HistoryLength)
	}
	return nil
}

// TempoEstimate is a debounced tempo reading. A BPM of 0 means no estimate
// has been made yet.
type TempoEstimate struct {
	BPM        float64 `json:"bpm"`
	Confidence float64 `json:"confidence"`
}

// Category classifies the tempo into broad categories
func (e TempoEstimate) Category() string {
	switch {
	case e.BPM <= 0:
		return "unknown"
	case e.BPM < 60:
		return "very_slow"
	case e.BPM < 90:
		return "slow"
	case e.BPM < 120:
		return "moderate"
	case e.BPM < 150:
		return "fast"
	default:
		return "very_fast"
	}
}

func packTempo(e TempoEstimate) uint64 {
	return uint64(math.Float32bits(float32(e.BPM)))<<32 | uint64(math.Float32bits(float32(e.Confidence)))
}

func unpackTempo(v uint64) TempoEstimate {
	return TempoEstimate{
		BPM:        float64(math.Float32frombits(uint32(v >> 32))),
		Confidence: float64(math.Float32frombits(uint32(v))),
	}
}

type lagPeak struct {
	lag   int
	value float64
}

// combWeightSum normalizes the comb score so a perfect periodic ACF scores 1
const combWeightSum = 1.0 + 0.5 + 0.33

// TempoEstimator tracks the tempo of a mono stream.
//
// Per frame it bands a log-compressed spectrum into mel bands, takes the
// positive band flux and feeds it into an OnsetEnvelope. Every
// ReestimateSeconds of stream time it autocorrelates the envelope, scores
// the strongest periodicities with a harmonic comb, corrects octave errors,
// folds the result into the preferred range and debounces it with a median.
//
// Process must be called from a single goroutine. Estimate, BPM and
// Confidence may be called from any goroutine.
type TempoEstimator struct {
	config       TempoConfig
	sampleRate   float64
	envelopeRate float64
	minLag       int
	maxLag       int

	framer   *spectral.Framer
	bands    *spectral.MelBands
	flux     *spectral.SpectralFlux
	envelope *OnsetEnvelope
	fft      *spectral.FFT

	logMag     []float64
	bandMag    []float64
	envScratch []float64
	acf        []float64
	candidates []lagPeak
	medScratch []float64

	framesSinceEstimate int
	history             *common.HistoryRing

	snapshot atomic.Uint64
	logger   logging.Logger
}

// NewTempoEstimator creates a tempo estimator for the given sample rate.
// A nil config selects DefaultTempoConfig; a non-positive sample rate
// selects 44100 Hz.
func NewTempoEstimator(sampleRate float64, cfg *TempoConfig) *TempoEstimator {
	if cfg == nil {
		cfg = DefaultTempoConfig()
	}
	if sampleRate <= 0 {
		sampleRate = 44100.0
	}
	c := sanitizeTempoConfig(*cfg)

	framer := spectral.NewFramer(c.FrameSize, c.HopSize)
	envelopeRate := sampleRate / float64(framer.Hop())

	te := &TempoEstimator{
		config:       c,
		sampleRate:   sampleRate,
		envelopeRate: envelopeRate,
		framer:       framer,
		bands:        spectral.NewMelBands(c.NumBands, framer.Size(), sampleRate, c.MinBandHz, c.MaxBandHz),
		flux:         spectral.NewSpectralFlux(c.NumBands),
		envelope:     NewOnsetEnvelope(envelopeRate, &c),
		fft:          spectral.NewFFT(),
		logMag:       make([]float64, framer.Bins()),
		bandMag:      make([]float64, c.NumBands),
		history:      common.NewHistoryRing(c.HistoryLength),
		logger:       logging.Component("tempo"),
	}

	te.minLag = max(1, te.bpmToLag(c.MaxBPM))
	te.maxLag = max(te.minLag+1, te.bpmToLag(c.MinBPM))
	te.envScratch = make([]float64, 0, te.envelope.Capacity())
	te.acf = make([]float64, 3*te.maxLag+2)
	te.candidates = make([]lagPeak, 0, te.maxLag-te.minLag+1)
	te.medScratch = make([]float64, max(te.maxLag-te.minLag+1, c.HistoryLength))

	return te
}

// sanitizeTempoConfig replaces out-of-range tunables with defaults
func sanitizeTempoConfig(c TempoConfig) TempoConfig {
	d := DefaultTempoConfig()
	if c.FrameSize < 64 {
		c.FrameSize = d.FrameSize
	}
	if c.HopSize <= 0 || c.HopSize >= c.FrameSize {
		c.HopSize = c.FrameSize / 4
	}
	if c.NumBands < 1 {
		c.NumBands = d.NumBands
	}
	if c.MaxBandHz <= c.MinBandHz || c.MinBandHz < 0 {
		c.MinBandHz, c.MaxBandHz = d.MinBandHz, d.MaxBandHz
	}
	if c.LogCompression <= 0 {
		c.LogCompression = d.LogCompression
	}
	if c.ThresholdSeconds <= 0 {
		c.ThresholdSeconds = d.ThresholdSeconds
	}
	if c.WhiteningSeconds <= 0 {
		c.WhiteningSeconds = d.WhiteningSeconds
	}
	if c.FluxSmoothing <= 0 || c.FluxSmoothing > 1 {
		c.FluxSmoothing = d.FluxSmoothing
	}
	if c.MinBPM <= 0 || c.MaxBPM <= c.MinBPM {
		c.MinBPM, c.MaxBPM = d.MinBPM, d.MaxBPM
	}
	if c.PreferredMinBPM > c.PreferredMaxBPM {
		c.PreferredMinBPM, c.PreferredMaxBPM = c.MinBPM, c.MaxBPM
	}
	if c.AnalysisSeconds <= 0 {
		c.AnalysisSeconds = d.AnalysisSeconds
	}
	c.MinHistorySeconds = common.Clamp(c.MinHistorySeconds, 0, c.AnalysisSeconds)
	if c.ReestimateSeconds <= 0 {
		c.ReestimateSeconds = d.ReestimateSeconds
	}
	if c.TopPeaks < 1 {
		c.TopPeaks = d.TopPeaks
	}
	if c.HistoryLength < 1 {
		c.HistoryLength = d.HistoryLength
	}
	return c
}

func (te *TempoEstimator) bpmToLag(bpm float64) int {
	return int(math.Round(60.0 * te.envelopeRate / bpm))
}

// SampleRate returns the sample rate the estimator is bound to
func (te *TempoEstimator) SampleRate() float64 {
	return te.sampleRate
}

// EnvelopeRate returns the onset envelope rate in frames per second
func (te *TempoEstimator) EnvelopeRate() float64 {
	return te.envelopeRate
}

// Process feeds mono samples of any length
func (te *TempoEstimator) Process(samples []float32) {
	if len(samples) == 0 {
		return
	}
	te.framer.Process(samples, te.processFrame)
}

func (te *TempoEstimator) processFrame(mag []float64) {
	for i, m := range mag {
		te.logMag[i] = math.Log1p(te.config.LogCompression * m)
	}
	te.bands.Apply(te.logMag, te.bandMag)
	te.envelope.Push(te.flux.Next(te.bandMag))

	te.framesSinceEstimate++
	if float64(te.framesSinceEstimate) >= te.config.ReestimateSeconds*te.envelopeRate {
		te.framesSinceEstimate = 0
		te.estimate()
	}
}

// estimate runs one autocorrelation pass over the envelope history.
// It leaves the published estimate untouched when no tempo can be derived.
func (te *TempoEstimator) estimate() {
	n := te.envelope.Len()
	if float64(n) < te.config.MinHistorySeconds*te.envelopeRate || n < 3 {
		return
	}

	// Demean, keeping only above-average onset strength
	x := te.envelope.Snapshot(te.envScratch)
	mean := common.Mean(x)
	for i := range x {
		x[i] = math.Max(0, x[i]-mean)
	}
	te.envScratch = x

	acf := te.fft.Autocorrelate(x, 3*te.maxLag+1, te.acf)
	te.acf = acf
	energy := acf[0]
	if energy < common.Epsilon {
		return
	}
	for i := range acf {
		acf[i] /= energy
	}

	candidates := te.candidates[:0]
	for lag := te.minLag; lag <= te.maxLag; lag++ {
		v := acf[lag]
		if v > acf[lag-1] && v >= acf[lag+1] {
			candidates = append(candidates, lagPeak{lag: lag, value: v})
		}
	}
	te.candidates = candidates
	if len(candidates) == 0 {
		return
	}
	slices.SortFunc(candidates, func(a, b lagPeak) int {
		switch {
		case a.value > b.value:
			return -1
		case a.value < b.value:
			return 1
		}
		return a.lag - b.lag
	})
	candidates = candidates[:min(len(candidates), te.config.TopPeaks)]

	bestLag, bestScore := candidates[0].lag, math.Inf(-1)
	for _, c := range candidates {
		lag, score := te.correctOctave(c.lag)
		if score > bestScore {
			bestLag, bestScore = lag, score
		}
	}

	offset := common.ParabolicOffset(acf[bestLag-1], acf[bestLag], acf[bestLag+1])
	bpm := te.foldBPM(60.0 * te.envelopeRate / (float64(bestLag) + offset))

	confidence := 0.0
	if bestScore > 0 {
		med := common.Median(acf[te.minLag:te.maxLag+1], te.medScratch)
		confidence = common.Clamp(common.SafeDiv(bestScore-med, bestScore+med), 0, 1)
	}

	te.history.Push(bpm)
	smoothed := common.Median(te.history.CopyTo(te.medScratch), te.medScratch)
	te.snapshot.Store(packTempo(TempoEstimate{BPM: smoothed, Confidence: confidence}))

	te.logger.Debug("tempo estimate", logging.Fields{
		"lag":        bestLag,
		"raw_bpm":    bpm,
		"bpm":        smoothed,
		"confidence": confidence,
	})
}

// combScore weighs the ACF at a lag and its second and third multiples
func (te *TempoEstimator) combScore(lag int) float64 {
	at := func(i int) float64 {
		if i < 0 || i >= len(te.acf) {
			return 0
		}
		return te.acf[i]
	}
	return (at(lag) + 0.5*at(2*lag) + 0.33*at(3*lag)) / combWeightSum
}

// correctOctave moves a candidate lag to its double or half when the comb
// score there is clearly stronger, damping the switched score
func (te *TempoEstimator) correctOctave(lag int) (int, float64) {
	best, score := lag, te.combScore(lag)

	if double := min(2*lag, te.maxLag); double != lag {
		if s := te.combScore(double); s-score > 0.1 {
			best, score = double, s*0.95
		}
	}
	if half := max(lag/2, te.minLag); half != lag {
		if s := te.combScore(half); s-score > 0.08 {
			best, score = half, s*0.92
		}
	}
	return best, score
}

// foldBPM limits bpm to [MinBPM, MaxBPM] and moves it by octaves into the
// preferred range where that stays within the limits
func (te *TempoEstimator) foldBPM(bpm float64) float64 {
	c := &te.config
	bpm = common.Clamp(bpm, c.MinBPM, c.MaxBPM)
	for bpm < c.PreferredMinBPM && bpm*2 <= c.MaxBPM {
		bpm *= 2
	}
	for bpm > c.PreferredMaxBPM && bpm/2 >= c.MinBPM {
		bpm /= 2
	}
	return bpm
}

// Estimate returns the latest published estimate
func (te *TempoEstimator) Estimate() TempoEstimate {
	return unpackTempo(te.snapshot.Load())
}

// BPM returns the latest published tempo, 0 when none
func (te *TempoEstimator) BPM() float64 {
	return te.Estimate().BPM
}

// Confidence returns the confidence of the latest published tempo
func (te *TempoEstimator) Confidence() float64 {
	return te.Estimate().Confidence
}

// Reset clears all analysis state and the published estimate
func (te *TempoEstimator) Reset() {
	te.framer.Reset()
	te.flux.Reset()
	te.envelope.Reset()
	te.history.Reset()
	te.framesSinceEstimate = 0
	te.snapshot.Store(0)
}
