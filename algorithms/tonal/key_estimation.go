package tonal

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/RyanBlaney/sonido-live/algorithms/chroma"
	"github.com/RyanBlaney/sonido-live/algorithms/common"
	"github.com/RyanBlaney/sonido-live/algorithms/harmonic"
	"github.com/RyanBlaney/sonido-live/algorithms/spectral"
	"github.com/RyanBlaney/sonido-live/logging"
	"gonum.org/v1/gonum/floats"
)

// KeyConfig holds the tunables of the key classifier
type KeyConfig struct {
	// Framing
	FFTSize int `json:"fft_size" yaml:"fft_size"`
	HopSize int `json:"hop_size" yaml:"hop_size"`

	// Peaks and HPCP
	MinHz              float64 `json:"min_hz" yaml:"min_hz"`
	MaxHz              float64 `json:"max_hz" yaml:"max_hz"`
	ReferenceFreq      float64 `json:"reference_freq" yaml:"reference_freq"`       // A4
	Gamma              float64 `json:"gamma" yaml:"gamma"`                         // Magnitude compression exponent
	PeakThresholdDB    float64 `json:"peak_threshold_db" yaml:"peak_threshold_db"` // Relative to the frame peak
	MaxPeaks           int     `json:"max_peaks" yaml:"max_peaks"`
	KernelWidth        float64 `json:"kernel_width" yaml:"kernel_width"` // Semitones
	ChromaDecaySeconds float64 `json:"chroma_decay_seconds" yaml:"chroma_decay_seconds"`
	TuningDecaySeconds float64 `json:"tuning_decay_seconds" yaml:"tuning_decay_seconds"`

	// Tracking and publishing
	PublishIntervalSeconds float64 `json:"publish_interval_seconds" yaml:"publish_interval_seconds"`
	DwellSeconds           float64 `json:"dwell_seconds" yaml:"dwell_seconds"`
	MarginThreshold        float64 `json:"margin_threshold" yaml:"margin_threshold"` // Leader minus runner-up
	StayBias               float64 `json:"stay_bias" yaml:"stay_bias"`
	NeighborBonus          float64 `json:"neighbor_bonus" yaml:"neighbor_bonus"`
	TransitionPenalty      float64 `json:"transition_penalty" yaml:"transition_penalty"`
}

// DefaultKeyConfig returns the default key classifier configuration
func DefaultKeyConfig() *KeyConfig {
	return &KeyConfig{
		FFTSize:                4096,
		HopSize:                2048,
		MinHz:                  55.0,
		MaxHz:                  5000.0,
		ReferenceFreq:          440.0,
		Gamma:                  0.67,
		PeakThresholdDB:        -36.0,
		MaxPeaks:               64,
		KernelWidth:            0.75,
		ChromaDecaySeconds:     6.0,
		TuningDecaySeconds:     12.0,
		PublishIntervalSeconds: 0.5,
		DwellSeconds:           2.5,
		MarginThreshold:        0.08,
		StayBias:               0.04,
		NeighborBonus:          0.02,
		TransitionPenalty:      0.04,
	}
}

// Validate reports the first tunable that is out of range
func (c *KeyConfig) Validate() error {
	switch {
	case c.FFTSize < 256:
		return fmt.Errorf("fft_size must be at least 256, got %d", c.FFTSize)
	case c.HopSize <= 0 || c.HopSize >= c.FFTSize:
		return fmt.Errorf("hop_size must be in [1, fft_size), got %d", c.HopSize)
	case c.MinHz <= 0 || c.MaxHz <= c.MinHz:
		return fmt.Errorf("frequency range [%g, %g] Hz is invalid", c.MinHz, c.MaxHz)
	case c.ReferenceFreq <= 0:
		return fmt.Errorf("reference_freq must be positive, got %g", c.ReferenceFreq)
	case c.Gamma <= 0:
		return fmt.Errorf("gamma must be positive, got %g", c.Gamma)
	case c.PeakThresholdDB >= 0:
		return fmt.Errorf("peak_threshold_db must be negative, got %g", c.PeakThresholdDB)
	case c.MaxPeaks < 1:
		return fmt.Errorf("max_peaks must be positive, got %d", c.MaxPeaks)
	case c.KernelWidth <= 0:
		return fmt.Errorf("kernel_width must be positive, got %g", c.KernelWidth)
	case c.DwellSeconds < 0 || c.PublishIntervalSeconds < 0:
		return fmt.Errorf("dwell_seconds and publish_interval_seconds must not be negative")
	case c.MarginThreshold < 0:
		return fmt.Errorf("margin_threshold must not be negative, got %g", c.MarginThreshold)
	}
	return nil
}

// KeyResult is a published key decision. Key is the C-based pitch class of
// the tonic, or -1 when no key has been published.
type KeyResult struct {
	Key        int     `json:"key"`
	Minor      bool    `json:"minor"`
	Confidence float64 `json:"confidence"`
}

// Mode returns the mode of the key
func (r KeyResult) Mode() KeyMode {
	if r.Minor {
		return KeyModeMinor
	}
	return KeyModeMajor
}

// Name renders the key, e.g. "A minor", or "unknown"
func (r KeyResult) Name() string {
	return GetKeyName(r.Key, r.Mode())
}

// noKey is the result before the first publication
var noKey = KeyResult{Key: -1}

// packKey stores key+1 in the top byte, the mode in the next and the
// confidence as float32 bits in the low word. Zero decodes to noKey.
func packKey(r KeyResult) uint64 {
	v := uint64(uint8(r.Key+1))<<40 | uint64(math.Float32bits(float32(r.Confidence)))
	if r.Minor {
		v |= 1 << 32
	}
	return v
}

func unpackKey(v uint64) KeyResult {
	return KeyResult{
		Key:        int(uint8(v>>40)) - 1,
		Minor:      v&(1<<32) != 0,
		Confidence: float64(math.Float32frombits(uint32(v))),
	}
}

// KeyClassifier estimates the musical key of a mono stream.
//
// Each frame's magnitude spectrum is normalized to its peak and gamma
// compressed; its peaks feed a streaming HPCP whose smoothed chroma is
// correlated with major and minor key templates. A Viterbi accumulator
// provides the tracked key, and a publish gate on the instantaneous scores
// decides when a key is stable enough to report.
//
// Process, Scores and TrackedKey must be called from a single goroutine.
// Last and Publications may be called from any goroutine.
type KeyClassifier struct {
	config     KeyConfig
	sampleRate float64

	framer    *spectral.Framer
	peaks     *harmonic.PeakPicker
	hpcp      *chroma.HPCP
	templates *keyTemplates
	tracker   *keyTracker
	gate      *publishGate

	mag    []float64
	scores [NumKeys]float64
	frames int64

	last         atomic.Uint64
	publications atomic.Uint64
	logger       logging.Logger
}

// NewKeyClassifier creates a key classifier for the given sample rate.
// A nil config selects DefaultKeyConfig; a non-positive sample rate
// selects 44100 Hz.
func NewKeyClassifier(sampleRate float64, cfg *KeyConfig) *KeyClassifier {
	if cfg == nil {
		cfg = DefaultKeyConfig()
	}
	if sampleRate <= 0 {
		sampleRate = 44100.0
	}
	c := sanitizeKeyConfig(*cfg)

	framer := spectral.NewFramer(c.FFTSize, c.HopSize)
	hopSeconds := float64(framer.Hop()) / sampleRate

	kc := &KeyClassifier{
		config:     c,
		sampleRate: sampleRate,
		framer:     framer,
		peaks:      harmonic.NewPeakPicker(sampleRate, framer.Size(), c.PeakThresholdDB, c.MaxPeaks),
		hpcp: chroma.NewHPCP(chroma.HPCPParams{
			ReferenceFreq:      c.ReferenceFreq,
			MinFreq:            c.MinHz,
			MaxFreq:            c.MaxHz,
			KernelWidth:        c.KernelWidth,
			TuningDecaySeconds: c.TuningDecaySeconds,
			ChromaDecaySeconds: c.ChromaDecaySeconds,
		}, hopSeconds),
		templates: newKeyTemplates(),
		tracker:   newKeyTracker(c.StayBias, c.NeighborBonus, c.TransitionPenalty),
		gate:      newPublishGate(c.DwellSeconds, c.MarginThreshold, c.PublishIntervalSeconds, c.StayBias),
		mag:       make([]float64, framer.Bins()),
		logger:    logging.Component("key"),
	}
	kc.last.Store(packKey(noKey))
	return kc
}

// sanitizeKeyConfig replaces out-of-range tunables with defaults
func sanitizeKeyConfig(c KeyConfig) KeyConfig {
	d := DefaultKeyConfig()
	if c.FFTSize < 256 {
		c.FFTSize = d.FFTSize
	}
	if c.HopSize <= 0 || c.HopSize >= c.FFTSize {
		c.HopSize = c.FFTSize / 2
	}
	if c.MinHz <= 0 || c.MaxHz <= c.MinHz {
		c.MinHz, c.MaxHz = d.MinHz, d.MaxHz
	}
	if c.ReferenceFreq <= 0 {
		c.ReferenceFreq = d.ReferenceFreq
	}
	if c.Gamma <= 0 {
		c.Gamma = d.Gamma
	}
	if c.PeakThresholdDB >= 0 {
		c.PeakThresholdDB = d.PeakThresholdDB
	}
	if c.MaxPeaks < 1 {
		c.MaxPeaks = d.MaxPeaks
	}
	if c.KernelWidth <= 0 {
		c.KernelWidth = d.KernelWidth
	}
	c.DwellSeconds = math.Max(0, c.DwellSeconds)
	c.PublishIntervalSeconds = math.Max(0, c.PublishIntervalSeconds)
	c.MarginThreshold = math.Max(0, c.MarginThreshold)
	return c
}

// SampleRate returns the sample rate the classifier is bound to
func (kc *KeyClassifier) SampleRate() float64 {
	return kc.sampleRate
}

// Process feeds mono samples of any length
func (kc *KeyClassifier) Process(samples []float32) {
	if len(samples) == 0 {
		return
	}
	kc.framer.Process(samples, kc.processFrame)
}

// streamTime returns the stream position, in seconds, at which the current
// frame completed
func (kc *KeyClassifier) streamTime() float64 {
	consumed := kc.framer.Size() + int(kc.frames-1)*kc.framer.Hop()
	return float64(consumed) / kc.sampleRate
}

func (kc *KeyClassifier) processFrame(raw []float64) {
	kc.frames++

	peak := 0.0
	for _, m := range raw {
		peak = math.Max(peak, m)
	}
	if peak < common.Epsilon {
		// Silent frame: no evidence, state unchanged
		return
	}
	for i, m := range raw {
		kc.mag[i] = math.Pow(m/peak, kc.config.Gamma)
	}

	kc.hpcp.Update(kc.peaks.DetectPeaks(kc.mag))
	if frame := kc.hpcp.Frame(); floats.Max(frame[:]) <= 0 {
		// No pitched energy in range: nothing to track or publish
		return
	}
	if !kc.templates.score(kc.hpcp.Smoothed(), &kc.scores) {
		return
	}
	tracked := kc.tracker.step(&kc.scores)

	leader, margin, ok := kc.gate.offer(kc.streamTime(), &kc.scores, tracked)
	if !ok {
		return
	}

	key, mode := keyOf(leader)
	result := KeyResult{Key: key, Minor: mode == KeyModeMinor, Confidence: common.Clamp(margin, 0, 1)}
	kc.last.Store(packKey(result))
	kc.publications.Add(1)

	kc.logger.Debug("key published", logging.Fields{
		"key":          result.Name(),
		"confidence":   result.Confidence,
		"tracked":      GetKeyName(keyOf(tracked)),
		"tuning_cents": kc.hpcp.TuningCents(),
	})
}

// Last returns the most recently published key
func (kc *KeyClassifier) Last() KeyResult {
	return unpackKey(kc.last.Load())
}

// Publications returns the number of key publications so far. Callers can
// compare it between polls to detect a new publication.
func (kc *KeyClassifier) Publications() uint64 {
	return kc.publications.Load()
}

// TrackedKey returns the accumulator's current best state (0-23), or -1
// before the first analysed frame
func (kc *KeyClassifier) TrackedKey() int {
	return kc.tracker.current
}

// Scores returns the instantaneous scores of the last analysed frame
func (kc *KeyClassifier) Scores() [NumKeys]float64 {
	return kc.scores
}

// TuningCents returns the current tuning offset estimate
func (kc *KeyClassifier) TuningCents() float64 {
	return kc.hpcp.TuningCents()
}

// Reset clears all analysis state and the published key. The publication
// counter keeps counting so pollers never see it move backwards.
func (kc *KeyClassifier) Reset() {
	kc.framer.Reset()
	kc.hpcp.Reset()
	kc.tracker.reset()
	kc.gate.reset()
	clear(kc.scores[:])
	kc.frames = 0
	kc.last.Store(packKey(noKey))
}
