package live

import (
	"github.com/RyanBlaney/sonido-live/algorithms/temporal"
	"github.com/RyanBlaney/sonido-live/algorithms/tonal"
	"github.com/RyanBlaney/sonido-live/config"
	"github.com/RyanBlaney/sonido-live/logging"
)

// Result is the outcome of an offline analysis
type Result struct {
	Tempo           temporal.TempoEstimate `json:"tempo"`
	Key             tonal.KeyResult        `json:"key"`
	KeyPublications uint64                 `json:"key_publications"`
	DurationSeconds float64                `json:"duration_seconds"`
}

// Analyze runs fresh estimators over a mono signal synchronously, in
// chunks of the configured size, and returns the final readings. A nil
// config selects config.Default().
func Analyze(samples []float32, sampleRate float64, cfg *config.Config) Result {
	if cfg == nil {
		cfg = config.Default()
	}
	chunk := 1024
	if cfg.Analyzer != nil && cfg.Analyzer.ChunkSize > 0 {
		chunk = cfg.Analyzer.ChunkSize
	}

	tempo := temporal.NewTempoEstimator(sampleRate, cfg.Tempo)
	key := tonal.NewKeyClassifier(sampleRate, cfg.Key)

	for off := 0; off < len(samples); off += chunk {
		block := samples[off:min(off+chunk, len(samples))]
		tempo.Process(block)
		key.Process(block)
	}

	result := Result{
		Tempo:           tempo.Estimate(),
		Key:             key.Last(),
		KeyPublications: key.Publications(),
		DurationSeconds: float64(len(samples)) / tempo.SampleRate(),
	}

	logging.Component("live").Debug("Batch analysis complete", logging.Fields{
		"samples":    len(samples),
		"bpm":        result.Tempo.BPM,
		"confidence": result.Tempo.Confidence,
		"key":        result.Key.Name(),
	})
	return result
}
