package windowing

import (
	"math"
	"testing"
)

func TestHannCoefficients(t *testing.T) {
	tests := []struct {
		name      string
		size      int
		symmetric bool
		want      []float64
	}{
		{"periodic", 4, false, []float64{0, 0.5, 1, 0.5}},
		{"symmetric", 5, true, []float64{0, 0.5, 1, 0.5, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewHann(tt.size, tt.symmetric).coefficients
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.want))
			}
			for i := range tt.want {
				if math.Abs(got[i]-tt.want[i]) > 1e-12 {
					t.Errorf("coef[%d] = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestHannApplyTo(t *testing.T) {
	h := NewHann(4, false)
	dst := make([]float64, 4)
	h.ApplyTo(dst, []float32{2, 2, 2, 2})

	want := []float64{0, 1, 2, 1}
	for i := range want {
		if math.Abs(dst[i]-want[i]) > 1e-12 {
			t.Errorf("dst[%d] = %v, want %v", i, dst[i], want[i])
		}
	}
}

func TestHannApplyToShortSlices(t *testing.T) {
	h := NewHann(8, false)
	dst := []float64{-1, -1, -1, -1, -1}
	h.ApplyTo(dst, []float32{1, 1, 1, 1})
	if dst[4] != -1 {
		t.Errorf("ApplyTo wrote past the shorter input: dst[4] = %v", dst[4])
	}
	if math.Abs(dst[2]-0.5) > 1e-12 {
		t.Errorf("dst[2] = %v, want 0.5", dst[2])
	}
}
