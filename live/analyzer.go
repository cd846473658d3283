package live

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RyanBlaney/sonido-live/algorithms/common"
	"github.com/RyanBlaney/sonido-live/algorithms/temporal"
	"github.com/RyanBlaney/sonido-live/algorithms/tonal"
	"github.com/RyanBlaney/sonido-live/config"
	"github.com/RyanBlaney/sonido-live/logging"
)

// State is the lifecycle state of an Analyzer
type State int32

const (
	StateIdle State = iota
	StateWaitingForSampleRate
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaitingForSampleRate:
		return "waiting_for_sample_rate"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ErrAlreadyRunning is returned by Start when the worker is active
var ErrAlreadyRunning = errors.New("analyzer already running")

// TempoFunc receives the displayed tempo at the update rate
type TempoFunc func(bpm, confidence float64)

// KeyFunc receives each new key publication. Key is 0..11 from C.
type KeyFunc func(key int, minor bool, confidence float64)

// Option configures an Analyzer
type Option func(*Analyzer)

// WithTempoCallback sets the tempo callback
func WithTempoCallback(fn TempoFunc) Option {
	return func(a *Analyzer) { a.onTempo = fn }
}

// WithKeyCallback sets the key callback
func WithKeyCallback(fn KeyFunc) Option {
	return func(a *Analyzer) { a.onKey = fn }
}

// WithLogger replaces the component logger
func WithLogger(logger logging.Logger) Option {
	return func(a *Analyzer) { a.logger = logger }
}

// Analyzer runs the tempo estimator and key classifier on a worker
// goroutine fed by a lock-free ring.
//
// Write, SetSampleRate and Ring belong to a single producer goroutine.
// Callbacks run synchronously on the worker. Everything else may be called
// from any goroutine.
type Analyzer struct {
	cfg     *config.Config
	ring    *common.RingBuffer
	gain    float32
	onTempo TempoFunc
	onKey   KeyFunc
	logger  logging.Logger

	sampleRate     atomic.Uint64 // float64 bits, written by the producer
	boundRate      atomic.Uint64 // float64 bits, written by the worker
	resetRequested atomic.Bool
	running        atomic.Bool
	worker         atomic.Uint64 // goroutine id of the active worker, 0 when none
	state          atomic.Int32
	lastTempo      atomic.Pointer[temporal.TempoEstimate]
	lastKey        atomic.Pointer[tonal.KeyResult]

	mu   sync.Mutex
	done chan struct{}

	// Worker-owned
	tempo       *temporal.TempoEstimator
	key         *tonal.KeyClassifier
	displayBPM  float64
	keyPubsSeen uint64
}

// New creates an idle analyzer. A nil config selects config.Default().
func New(cfg *config.Config, opts ...Option) (*Analyzer, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if cfg.Tempo == nil || cfg.Key == nil || cfg.Analyzer == nil {
		d := config.Default()
		merged := *cfg
		if merged.Tempo == nil {
			merged.Tempo = d.Tempo
		}
		if merged.Key == nil {
			merged.Key = d.Key
		}
		if merged.Analyzer == nil {
			merged.Analyzer = d.Analyzer
		}
		cfg = &merged
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid analyzer config: %w", err)
	}

	a := &Analyzer{
		cfg:    cfg,
		ring:   common.NewRingBuffer(cfg.Analyzer.RingCapacity),
		gain:   float32(cfg.Analyzer.InputGain),
		logger: logging.Component("live"),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.clearResults()
	return a, nil
}

// Start launches the worker. It returns ErrAlreadyRunning while a previous
// worker is active; a stopped analyzer can be started again.
func (a *Analyzer) Start() error {
	if a.onWorker() {
		return errors.New("analyzer cannot be restarted from its own callback")
	}
	for {
		a.mu.Lock()
		if a.running.Load() {
			a.mu.Unlock()
			return ErrAlreadyRunning
		}
		prev := a.done
		if prev == nil || isClosed(prev) {
			break
		}
		a.mu.Unlock()
		// A worker stopped from its own callback may still be unwinding
		<-prev
	}
	defer a.mu.Unlock()

	a.running.Store(true)
	a.state.Store(int32(StateWaitingForSampleRate))
	a.done = make(chan struct{})
	go a.run(a.done)

	a.logger.Info("Analyzer started", logging.Fields{
		"ring_capacity": a.ring.Capacity(),
		"chunk_size":    a.cfg.Analyzer.ChunkSize,
	})
	return nil
}

func isClosed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// Stop signals the worker and waits for it to exit. It is idempotent. When
// called from a callback, which runs on the worker itself, it returns
// without waiting and the worker exits once the callback returns.
func (a *Analyzer) Stop() {
	a.mu.Lock()
	done := a.done
	wasRunning := a.running.Swap(false)
	a.mu.Unlock()

	if wasRunning {
		a.logger.Info("Analyzer stopping")
	}
	if done == nil || a.onWorker() {
		return
	}
	<-done
}

// onWorker reports whether the caller is the worker goroutine
func (a *Analyzer) onWorker() bool {
	id := a.worker.Load()
	return id != 0 && id == goroutineID()
}

// RequestReset asks the worker to clear both estimators at its next loop
// boundary
func (a *Analyzer) RequestReset() {
	a.resetRequested.Store(true)
}

// Write stores the producer's sample rate and queues a planar block. It
// never blocks; samples that do not fit are dropped and counted. Returns
// the number of samples queued.
func (a *Analyzer) Write(planar [][]float32, numSamples int, sampleRate float64) int {
	if sampleRate > 0 {
		a.SetSampleRate(sampleRate)
	}
	return a.ring.PushPlanar(planar, numSamples, a.gain)
}

// SetSampleRate publishes the producer's current sample rate
func (a *Analyzer) SetSampleRate(sampleRate float64) {
	a.sampleRate.Store(math.Float64bits(sampleRate))
}

// Ring exposes the ingestion buffer for producers that push directly
func (a *Analyzer) Ring() *common.RingBuffer {
	return a.ring
}

// State returns the lifecycle state
func (a *Analyzer) State() State {
	return State(a.state.Load())
}

// SampleRate returns the rate the estimators are bound to, 0 before binding
func (a *Analyzer) SampleRate() float64 {
	return math.Float64frombits(a.boundRate.Load())
}

// LastTempo returns the most recent displayed tempo
func (a *Analyzer) LastTempo() temporal.TempoEstimate {
	return *a.lastTempo.Load()
}

// LastKey returns the most recent key publication; Key is -1 before any
func (a *Analyzer) LastKey() tonal.KeyResult {
	return *a.lastKey.Load()
}

// DroppedSamples returns the number of samples the ring rejected
func (a *Analyzer) DroppedSamples() uint64 {
	return a.ring.DroppedSamples()
}

func (a *Analyzer) producerRate() float64 {
	return math.Float64frombits(a.sampleRate.Load())
}

func (a *Analyzer) clearResults() {
	a.lastTempo.Store(&temporal.TempoEstimate{})
	a.lastKey.Store(&tonal.KeyResult{Key: -1})
}

func (a *Analyzer) run(done chan struct{}) {
	defer close(done)
	defer a.state.Store(int32(StateStopped))
	defer a.worker.Store(0)
	a.worker.Store(goroutineID())

	cfg := a.cfg.Analyzer
	rate := a.waitForSampleRate()
	if !a.running.Load() {
		return
	}
	a.bind(rate)
	a.state.Store(int32(StateRunning))

	buf := make([]float32, cfg.ChunkSize)
	period := cfg.UpdatePeriod()
	idle := cfg.IdleSleepDuration()
	lastUpdate := time.Now()

	for a.running.Load() {
		if r := a.producerRate(); r >= cfg.MinSampleRate && math.Abs(r-a.SampleRate()) > cfg.SampleRateTolerance {
			a.logger.Info("Sample rate changed, rebuilding estimators", logging.Fields{
				"from": a.SampleRate(),
				"to":   r,
			})
			a.bind(r)
		}

		if a.resetRequested.Swap(false) {
			a.tempo.Reset()
			a.key.Reset()
			a.displayBPM = 0
			a.keyPubsSeen = a.key.Publications()
			a.clearResults()
			a.logger.Info("Analysis reset")
		}

		if n := a.ring.Pop(buf); n > 0 {
			a.tempo.Process(buf[:n])
			a.key.Process(buf[:n])
		} else {
			time.Sleep(idle)
		}

		if now := time.Now(); now.Sub(lastUpdate) >= period {
			lastUpdate = now
			a.publish()
		}
	}

	a.tempo, a.key = nil, nil
	a.logger.Info("Analyzer stopped", logging.Fields{
		"dropped_samples": a.ring.DroppedSamples(),
	})
}

// waitForSampleRate polls the producer's rate until it reaches the floor,
// falling back to the default after the configured number of tries
func (a *Analyzer) waitForSampleRate() float64 {
	cfg := a.cfg.Analyzer
	interval := cfg.WaitIntervalDuration()
	for range cfg.SampleRateWaitTries {
		if !a.running.Load() {
			return 0
		}
		if r := a.producerRate(); r >= cfg.MinSampleRate {
			return r
		}
		time.Sleep(interval)
	}
	if r := a.producerRate(); r >= cfg.MinSampleRate {
		return r
	}

	a.logger.Warn("No sample rate from producer, using default", logging.Fields{
		"default_sample_rate": cfg.DefaultSampleRate,
	})
	return cfg.DefaultSampleRate
}

// bind builds fresh estimators for the sample rate
func (a *Analyzer) bind(rate float64) {
	a.tempo = temporal.NewTempoEstimator(rate, a.cfg.Tempo)
	a.key = tonal.NewKeyClassifier(rate, a.cfg.Key)
	a.displayBPM = 0
	a.keyPubsSeen = 0
	a.boundRate.Store(math.Float64bits(rate))
	a.clearResults()

	a.logger.Info("Estimators bound to sample rate", logging.Fields{
		"sample_rate":   rate,
		"envelope_rate": a.tempo.EnvelopeRate(),
	})
}

// publish smooths the tempo for display and delivers callbacks
func (a *Analyzer) publish() {
	est := a.tempo.Estimate()
	if est.BPM > 0 {
		if a.displayBPM <= 0 {
			a.displayBPM = est.BPM
		} else {
			s := a.cfg.Analyzer.BPMSmoothing
			a.displayBPM = s*a.displayBPM + (1-s)*est.BPM
		}
		shown := temporal.TempoEstimate{BPM: a.displayBPM, Confidence: est.Confidence}
		a.lastTempo.Store(&shown)
		if a.onTempo != nil && a.running.Load() {
			a.onTempo(shown.BPM, shown.Confidence)
		}
	}

	if pubs := a.key.Publications(); pubs != a.keyPubsSeen {
		a.keyPubsSeen = pubs
		result := a.key.Last()
		a.lastKey.Store(&result)
		a.logger.Debug("Key published", logging.Fields{
			"key":        result.Name(),
			"confidence": result.Confidence,
		})
		if a.onKey != nil && a.running.Load() {
			a.onKey(result.Key, result.Minor, result.Confidence)
		}
	}
}
