package live

import (
	"math"
	"testing"

	"github.com/RyanBlaney/sonido-live/config"
)

func TestAnalyzeClickTrack(t *testing.T) {
	res := Analyze(clickTrack(120, 12), testSampleRate, nil)
	if math.Abs(res.Tempo.BPM-120) > 2 {
		t.Errorf("BPM = %.2f, want 120 ± 2", res.Tempo.BPM)
	}
	if math.Abs(res.DurationSeconds-12) > 1e-6 {
		t.Errorf("DurationSeconds = %v, want 12", res.DurationSeconds)
	}
}

func TestAnalyzeTriad(t *testing.T) {
	res := Analyze(triad(60, 5), testSampleRate, config.Default())
	if res.Key.Key != 0 || res.Key.Minor {
		t.Errorf("Key = %s, want C major", res.Key.Name())
	}
	if res.KeyPublications == 0 {
		t.Error("no key publications")
	}
}

func TestAnalyzeShortAndEmpty(t *testing.T) {
	tests := []struct {
		name    string
		samples []float32
	}{
		{"nil", nil},
		{"one second", clickTrack(120, 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Analyze(tt.samples, testSampleRate, nil)
			if res.Tempo.BPM != 0 {
				t.Errorf("BPM = %v, want 0 without enough history", res.Tempo.BPM)
			}
			if res.Key.Key != -1 {
				t.Errorf("Key = %s, want unknown", res.Key.Name())
			}
		})
	}
}
