package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/RyanBlaney/sonido-live/algorithms/temporal"
	"github.com/RyanBlaney/sonido-live/algorithms/tonal"
	"gopkg.in/yaml.v3"
)

// Config aggregates the tunables of both estimators and the orchestrator
type Config struct {
	Tempo    *temporal.TempoConfig `json:"tempo" yaml:"tempo"`
	Key      *tonal.KeyConfig      `json:"key" yaml:"key"`
	Analyzer *AnalyzerConfig       `json:"analyzer" yaml:"analyzer"`
}

// AnalyzerConfig holds the orchestrator settings
type AnalyzerConfig struct {
	// Sample rate binding
	MinSampleRate          float64 `json:"min_sample_rate" yaml:"min_sample_rate"` // Rates below this mean "not yet known"
	DefaultSampleRate      float64 `json:"default_sample_rate" yaml:"default_sample_rate"`
	SampleRateWaitTries    int     `json:"sample_rate_wait_tries" yaml:"sample_rate_wait_tries"`
	SampleRateWaitInterval float64 `json:"sample_rate_wait_interval" yaml:"sample_rate_wait_interval"` // Seconds
	SampleRateTolerance    float64 `json:"sample_rate_tolerance" yaml:"sample_rate_tolerance"`         // Hz of drift before a rebuild

	// Worker loop
	RingCapacity int     `json:"ring_capacity" yaml:"ring_capacity"` // Samples, rounded up to a power of two
	ChunkSize    int     `json:"chunk_size" yaml:"chunk_size"`
	IdleSleep    float64 `json:"idle_sleep" yaml:"idle_sleep"` // Seconds
	InputGain    float64 `json:"input_gain" yaml:"input_gain"`

	// Publishing
	UpdateHz     float64 `json:"update_hz" yaml:"update_hz"`
	BPMSmoothing float64 `json:"bpm_smoothing" yaml:"bpm_smoothing"` // Weight of the previous displayed BPM

	LogLevel string `json:"log_level" yaml:"log_level"`
}

// DefaultAnalyzerConfig returns the default orchestrator configuration
func DefaultAnalyzerConfig() *AnalyzerConfig {
	return &AnalyzerConfig{
		MinSampleRate:          8000,
		DefaultSampleRate:      44100,
		SampleRateWaitTries:    200,
		SampleRateWaitInterval: 0.005,
		SampleRateTolerance:    1.0,
		RingCapacity:           1 << 18,
		ChunkSize:              1024,
		IdleSleep:              0.002,
		InputGain:              1.0,
		UpdateHz:               2.0,
		BPMSmoothing:           0.7,
		LogLevel:               "info",
	}
}

// Default returns a fully populated configuration
func Default() *Config {
	return &Config{
		Tempo:    temporal.DefaultTempoConfig(),
		Key:      tonal.DefaultKeyConfig(),
		Analyzer: DefaultAnalyzerConfig(),
	}
}

// Load reads a JSON or YAML file (chosen by extension) on top of the
// defaults, so a file only needs the keys it changes.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg := Default()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		err = json.Unmarshal(data, cfg)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		return nil, fmt.Errorf("unsupported config format %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.fillMissing()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// fillMissing restores sections a file set to null
func (c *Config) fillMissing() {
	if c.Tempo == nil {
		c.Tempo = temporal.DefaultTempoConfig()
	}
	if c.Key == nil {
		c.Key = tonal.DefaultKeyConfig()
	}
	if c.Analyzer == nil {
		c.Analyzer = DefaultAnalyzerConfig()
	}
}

// Validate reports the first invalid tunable. Nil sections are treated as
// defaults.
func (c *Config) Validate() error {
	if c.Tempo != nil {
		if err := c.Tempo.Validate(); err != nil {
			return fmt.Errorf("tempo: %w", err)
		}
	}
	if c.Key != nil {
		if err := c.Key.Validate(); err != nil {
			return fmt.Errorf("key: %w", err)
		}
	}
	if c.Analyzer != nil {
		if err := c.Analyzer.Validate(); err != nil {
			return fmt.Errorf("analyzer: %w", err)
		}
	}
	return nil
}

// Validate reports the first orchestrator setting that is out of range
func (a *AnalyzerConfig) Validate() error {
	switch {
	case a.MinSampleRate <= 0:
		return fmt.Errorf("min_sample_rate must be positive, got %g", a.MinSampleRate)
	case a.DefaultSampleRate < a.MinSampleRate:
		return fmt.Errorf("default_sample_rate (%g) is below min_sample_rate (%g)", a.DefaultSampleRate, a.MinSampleRate)
	case a.SampleRateWaitTries < 0 || a.SampleRateWaitInterval < 0:
		return fmt.Errorf("sample rate wait must not be negative")
	case a.SampleRateTolerance < 0:
		return fmt.Errorf("sample_rate_tolerance must not be negative, got %g", a.SampleRateTolerance)
	case a.RingCapacity < a.ChunkSize:
		return fmt.Errorf("ring_capacity (%d) must hold at least one chunk (%d)", a.RingCapacity, a.ChunkSize)
	case a.ChunkSize <= 0:
		return fmt.Errorf("chunk_size must be positive, got %d", a.ChunkSize)
	case a.IdleSleep < 0:
		return fmt.Errorf("idle_sleep must not be negative, got %g", a.IdleSleep)
	case a.UpdateHz <= 0:
		return fmt.Errorf("update_hz must be positive, got %g", a.UpdateHz)
	case a.BPMSmoothing < 0 || a.BPMSmoothing >= 1:
		return fmt.Errorf("bpm_smoothing must be in [0, 1), got %g", a.BPMSmoothing)
	}
	return nil
}

// UpdatePeriod returns the interval between result callbacks
func (a *AnalyzerConfig) UpdatePeriod() time.Duration {
	return seconds(1 / a.UpdateHz)
}

// IdleSleepDuration returns how long the worker sleeps on an empty ring
func (a *AnalyzerConfig) IdleSleepDuration() time.Duration {
	return seconds(a.IdleSleep)
}

// WaitIntervalDuration returns the sample rate polling interval
func (a *AnalyzerConfig) WaitIntervalDuration() time.Duration {
	return seconds(a.SampleRateWaitInterval)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
