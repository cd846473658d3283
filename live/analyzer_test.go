package live

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/RyanBlaney/sonido-live/config"
)

const testSampleRate = 44100.0

func clickTrack(bpm, seconds float64) []float32 {
	n := int(seconds * testSampleRate)
	period := 60.0 / bpm * testSampleRate
	out := make([]float32, n)
	for k := 0; ; k++ {
		i := int(math.Round(float64(k) * period))
		if i >= n {
			break
		}
		out[i] = 1
	}
	return out
}

// triad renders a root-position major triad with the root doubled in three
// octaves
func triad(root int, seconds float64) []float32 {
	notes := []int{root - 12, root, root + 12, root + 4, root + 16, root + 7, root + 19}
	out := make([]float32, int(seconds*testSampleRate))
	for _, n := range notes {
		w := 2 * math.Pi * 440 * math.Pow(2, float64(n-69)/12) / testSampleRate
		for i := range out {
			out[i] += float32(0.1 * math.Sin(w*float64(i)))
		}
	}
	return out
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Analyzer.UpdateHz = 50
	cfg.Analyzer.SampleRateWaitTries = 20
	cfg.Analyzer.SampleRateWaitInterval = 0.001
	return cfg
}

// produce writes mono samples as a stereo planar stream, waiting for free
// space instead of dropping. It gives up once the analyzer stops.
func produce(a *Analyzer, mono []float32, sampleRate float64) {
	const block = 512
	for off := 0; off < len(mono); off += block {
		ch := mono[off:min(off+block, len(mono))]
		for a.Ring().FreeSpace() < len(ch) {
			if a.State() == StateStopped {
				return
			}
			time.Sleep(time.Millisecond)
		}
		a.Write([][]float32{ch, ch}, len(ch), sampleRate)
	}
}

// waitFor polls cond until it holds or the timeout expires
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func drained(a *Analyzer) func() bool {
	return func() bool { return a.Ring().Size() == 0 }
}

func TestAnalyzerLifecycle(t *testing.T) {
	a, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.State() != StateIdle {
		t.Fatalf("State() = %s, want idle", a.State())
	}
	a.Stop()
	if a.State() != StateIdle {
		t.Errorf("Stop on an idle analyzer changed state to %s", a.State())
	}

	a.SetSampleRate(48000)
	if err := a.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := a.Start(); err != ErrAlreadyRunning {
		t.Errorf("second Start = %v, want ErrAlreadyRunning", err)
	}
	waitFor(t, time.Second, "running state", func() bool { return a.State() == StateRunning })
	if a.SampleRate() != 48000 {
		t.Errorf("SampleRate() = %v, want 48000", a.SampleRate())
	}

	a.Stop()
	if a.State() != StateStopped {
		t.Errorf("State() after Stop = %s, want stopped", a.State())
	}
	a.Stop()

	if err := a.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	waitFor(t, time.Second, "running after restart", func() bool { return a.State() == StateRunning })
	a.Stop()
}

func TestAnalyzerFallbackSampleRate(t *testing.T) {
	a, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer a.Stop()

	waitFor(t, time.Second, "fallback binding", func() bool { return a.State() == StateRunning })
	if a.SampleRate() != 44100 {
		t.Errorf("SampleRate() = %v, want default 44100", a.SampleRate())
	}
}

func TestAnalyzerRebuildsOnRateChange(t *testing.T) {
	a, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a.SetSampleRate(44100)
	if err := a.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer a.Stop()
	waitFor(t, time.Second, "initial binding", func() bool { return a.SampleRate() == 44100 })

	// Drift within tolerance keeps the binding
	a.SetSampleRate(44100.5)
	time.Sleep(20 * time.Millisecond)
	if a.SampleRate() != 44100 {
		t.Errorf("rebound on %v Hz drift", 0.5)
	}

	a.SetSampleRate(48000)
	waitFor(t, time.Second, "rebinding to 48 kHz", func() bool { return a.SampleRate() == 48000 })
}

func TestAnalyzerTempoCallback(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
		last  float64
	)
	a, err := New(testConfig(), WithTempoCallback(func(bpm, confidence float64) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		last = bpm
	}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer a.Stop()

	produce(a, clickTrack(120, 12), testSampleRate)
	waitFor(t, 5*time.Second, "ring to drain", drained(a))
	// Let the display smoothing settle on the final estimate
	time.Sleep(400 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if calls == 0 {
		t.Fatal("tempo callback never invoked")
	}
	if math.Abs(last-120) > 3 {
		t.Errorf("last callback BPM = %.2f, want 120 ± 3", last)
	}
	if got := a.LastTempo(); math.Abs(got.BPM-120) > 3 || got.Confidence <= 0 {
		t.Errorf("LastTempo() = %+v", got)
	}
	if a.DroppedSamples() != 0 {
		t.Errorf("DroppedSamples() = %d with a paced producer", a.DroppedSamples())
	}
}

func TestAnalyzerKeyCallback(t *testing.T) {
	type keyCall struct {
		key   int
		minor bool
	}
	var (
		mu    sync.Mutex
		calls []keyCall
	)
	a, err := New(testConfig(), WithKeyCallback(func(key int, minor bool, confidence float64) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, keyCall{key, minor})
	}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer a.Stop()

	produce(a, triad(67, 6), testSampleRate)
	waitFor(t, 5*time.Second, "ring to drain", drained(a))
	waitFor(t, time.Second, "a key publication", func() bool { return a.LastKey().Key >= 0 })

	if got := a.LastKey(); got.Key != 7 || got.Minor {
		t.Errorf("LastKey() = %s, want G major", got.Name())
	}
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(calls) == 0 {
		t.Fatal("key callback never invoked")
	}
	if c := calls[len(calls)-1]; c.key != 7 || c.minor {
		t.Errorf("last callback reported key %d minor=%v, want G major", c.key, c.minor)
	}
}

func TestAnalyzerStopFromCallback(t *testing.T) {
	var a *Analyzer
	stopped := make(chan struct{})
	var once sync.Once

	a, err := New(testConfig(), WithTempoCallback(func(float64, float64) {
		once.Do(func() {
			a.Stop()
			close(stopped)
		})
	}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	go produce(a, clickTrack(120, 8), testSampleRate)

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("tempo callback never ran")
	}
	waitFor(t, time.Second, "worker exit", func() bool { return a.State() == StateStopped })
	a.Stop()
}

func TestAnalyzerStopDuringCallbackJoinsWorker(t *testing.T) {
	entered := make(chan struct{})
	var once sync.Once

	a, err := New(testConfig(), WithTempoCallback(func(float64, float64) {
		once.Do(func() {
			close(entered)
			time.Sleep(300 * time.Millisecond)
		})
	}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	go produce(a, clickTrack(120, 8), testSampleRate)

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("tempo callback never ran")
	}

	// Called from this goroutine while the worker sleeps inside the callback
	a.Stop()
	if got := a.State(); got != StateStopped {
		t.Fatalf("State() after Stop = %s, want stopped", got)
	}

	if err := a.Start(); err != nil {
		t.Fatalf("restart after Stop: %v", err)
	}
	a.Stop()
}

func TestGoroutineIDDistinguishesCallers(t *testing.T) {
	own := goroutineID()
	if own == 0 {
		t.Fatal("goroutineID() = 0")
	}
	other := make(chan uint64)
	go func() { other <- goroutineID() }()
	if id := <-other; id == own || id == 0 {
		t.Errorf("goroutineID() in another goroutine = %d, own = %d", id, own)
	}
	if goroutineID() != own {
		t.Error("goroutineID() is not stable within a goroutine")
	}
}

func TestAnalyzerReset(t *testing.T) {
	a, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer a.Stop()

	produce(a, clickTrack(120, 6), testSampleRate)
	waitFor(t, 5*time.Second, "ring to drain", drained(a))
	waitFor(t, time.Second, "a tempo reading", func() bool { return a.LastTempo().BPM > 0 })

	a.RequestReset()
	waitFor(t, time.Second, "reset", func() bool { return a.LastTempo().BPM == 0 })
	time.Sleep(50 * time.Millisecond)
	if got := a.LastTempo(); got.BPM != 0 {
		t.Errorf("LastTempo() after reset = %+v, want zero with no new input", got)
	}
	if got := a.LastKey(); got.Key != -1 {
		t.Errorf("LastKey() after reset = %+v, want unknown", got)
	}
}

func TestAnalyzerDropsWhenFull(t *testing.T) {
	cfg := testConfig()
	cfg.Analyzer.RingCapacity = 1024
	cfg.Analyzer.InputGain = 0.5
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	block := make([]float32, 2048)
	for i := range block {
		block[i] = 1
	}
	written := a.Write([][]float32{block}, len(block), testSampleRate)
	if written != 1023 {
		t.Errorf("Write queued %d samples, want 1023", written)
	}
	if a.DroppedSamples() != 1025 {
		t.Errorf("DroppedSamples() = %d, want 1025", a.DroppedSamples())
	}

	out := make([]float32, 4)
	a.Ring().Pop(out)
	if out[0] != 0.5 {
		t.Errorf("gain not applied: got %v", out[0])
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Analyzer.UpdateHz = 0
	if _, err := New(cfg); err == nil {
		t.Error("New accepted update_hz = 0")
	}

	a, err := New(&config.Config{})
	if err != nil {
		t.Fatalf("New with empty sections: %v", err)
	}
	if a.LastKey().Key != -1 {
		t.Errorf("LastKey() = %+v before any input", a.LastKey())
	}
}
