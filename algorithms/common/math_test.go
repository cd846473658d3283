package common

import (
	"math"
	"testing"
)

func TestMeanStdDev(t *testing.T) {
	tests := []struct {
		name     string
		data     []float64
		wantMean float64
		wantStd  float64
	}{
		{"empty", nil, 0, 0},
		{"single", []float64{4}, 4, 0},
		{"pair", []float64{1, 3}, 2, math.Sqrt2},
		{"constant", []float64{5, 5, 5, 5}, 5, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mean, std := MeanStdDev(tt.data)
			if math.Abs(mean-tt.wantMean) > 1e-12 || math.Abs(std-tt.wantStd) > 1e-12 {
				t.Errorf("MeanStdDev = (%v, %v), want (%v, %v)", mean, std, tt.wantMean, tt.wantStd)
			}
		})
	}
}

func TestMedian(t *testing.T) {
	tests := []struct {
		data []float64
		want float64
	}{
		{nil, 0},
		{[]float64{3}, 3},
		{[]float64{3, 1, 2}, 2},
		{[]float64{4, 1, 3, 2}, 2.5},
		{[]float64{120, 121, 119, 240, 120}, 120},
	}
	for _, tt := range tests {
		orig := append([]float64(nil), tt.data...)
		if got := Median(tt.data, nil); got != tt.want {
			t.Errorf("Median(%v) = %v, want %v", tt.data, got, tt.want)
		}
		for i := range orig {
			if orig[i] != tt.data[i] {
				t.Fatalf("Median modified its input: %v", tt.data)
			}
		}
	}
}

func TestEMACoefficient(t *testing.T) {
	hop := 2048.0 / 44100.0
	if got := EMACoefficient(hop, 6.0, 0.02, 0.25); got != 0.02 {
		t.Errorf("slow decay should clamp to the floor, got %v", got)
	}
	if got := EMACoefficient(hop, 0.5, 0.02, 0.25); math.Abs(got-hop/0.5) > 1e-12 {
		t.Errorf("EMACoefficient = %v, want %v", got, hop/0.5)
	}
	if got := EMACoefficient(hop, 0, 0.02, 0.25); got != 0.25 {
		t.Errorf("zero decay should use the ceiling, got %v", got)
	}
}

func TestParabolicOffset(t *testing.T) {
	// Samples of y = -(x-0.3)^2 at x = -1, 0, 1
	f := func(x float64) float64 { return -(x - 0.3) * (x - 0.3) }
	off := ParabolicOffset(f(-1), f(0), f(1))
	if math.Abs(off-0.3) > 1e-9 {
		t.Errorf("ParabolicOffset = %v, want 0.3", off)
	}
	if peak := ParabolicPeak(f(-1), f(0), f(1), off); math.Abs(peak) > 1e-9 {
		t.Errorf("ParabolicPeak = %v, want 0", peak)
	}
	if ParabolicOffset(1, 1, 1) != 0 {
		t.Error("flat neighbourhood should give zero offset")
	}
}

func TestSafeDiv(t *testing.T) {
	if SafeDiv(1, 0) != 0 {
		t.Error("SafeDiv by zero should be 0")
	}
	if SafeDiv(1, 4) != 0.25 {
		t.Error("SafeDiv(1, 4) != 0.25")
	}
}
