package temporal

import (
	"math"

	"github.com/RyanBlaney/sonido-live/algorithms/common"
)

// OnsetEnvelope turns a stream of spectral flux values (one per frame) into
// a smoothed onset-strength envelope and keeps a bounded history of it.
//
// Each flux value is gated by an adaptive threshold (mean + k·stddev over a
// short window), whitened by subtracting half of a longer moving average,
// clamped at zero and smoothed with a one-pole EMA.
type OnsetEnvelope struct {
	threshK  float64
	emaAlpha float64

	recent  *common.HistoryRing // adaptive threshold window
	trend   *common.HistoryRing // whitening moving average
	history *common.HistoryRing // envelope used for tempo analysis
	scratch []float64

	ema float64
}

// NewOnsetEnvelope creates an envelope for flux values arriving at
// envelopeRate per second
func NewOnsetEnvelope(envelopeRate float64, cfg *TempoConfig) *OnsetEnvelope {
	trendLen := max(3, int(math.Round(cfg.WhiteningSeconds*envelopeRate)))
	recentLen := max(trendLen, int(math.Round(cfg.ThresholdSeconds*envelopeRate)))
	historyLen := max(int(math.Round(cfg.AnalysisSeconds*envelopeRate)), trendLen+1)

	return &OnsetEnvelope{
		threshK:  cfg.ThresholdK,
		emaAlpha: cfg.FluxSmoothing,
		recent:   common.NewHistoryRing(recentLen),
		trend:    common.NewHistoryRing(trendLen),
		history:  common.NewHistoryRing(historyLen),
		scratch:  make([]float64, 0, recentLen),
	}
}

// Push folds one flux value into the envelope and returns the new envelope
// sample
func (oe *OnsetEnvelope) Push(flux float64) float64 {
	oe.recent.Push(flux)
	oe.scratch = oe.recent.CopyTo(oe.scratch)
	mean, std := common.MeanStdDev(oe.scratch)
	onset := math.Max(0, flux-(mean+oe.threshK*std))

	oe.trend.Push(flux)
	onset = math.Max(0, onset-0.5*oe.trend.Mean())

	oe.ema = (1-oe.emaAlpha)*oe.ema + oe.emaAlpha*onset
	oe.history.Push(oe.ema)
	return oe.ema
}

// Len returns the number of envelope samples held
func (oe *OnsetEnvelope) Len() int {
	return oe.history.Len()
}

// Capacity returns the maximum number of envelope samples held
func (oe *OnsetEnvelope) Capacity() int {
	return oe.history.Cap()
}

// Snapshot copies the envelope history oldest-first into dst
func (oe *OnsetEnvelope) Snapshot(dst []float64) []float64 {
	return oe.history.CopyTo(dst)
}

// Reset clears all history and smoothing state
func (oe *OnsetEnvelope) Reset() {
	oe.recent.Reset()
	oe.trend.Reset()
	oe.history.Reset()
	oe.ema = 0
}
