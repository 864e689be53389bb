package spectrum

import (
	"math"
	"testing"
)

func tone(n, bin int) ([]float32, []float32) {
	re := make([]float32, n)
	im := make([]float32, n)
	for i := 0; i < n; i++ {
		phase := 2 * math.Pi * float64(bin*i) / float64(n)
		re[i] = float32(math.Cos(phase))
		im[i] = float32(math.Sin(phase))
	}
	return re, im
}

func TestHamming(t *testing.T) {
	w := Hamming(5)
	if math.Abs(w[0]-0.08) > 1e-9 || math.Abs(w[2]-1) > 1e-9 || math.Abs(w[4]-0.08) > 1e-9 {
		t.Errorf("Hamming(5) = %v", w)
	}
	if w := Hamming(1); w[0] != 1 {
		t.Errorf("Hamming(1) = %v", w)
	}
}

func TestPowerDBFSTone(t *testing.T) {
	const n = 64
	re, im := tone(n, 8)
	dbfs := PowerDBFS(re, im)
	if len(dbfs) != n {
		t.Fatalf("len = %d, expected %d", len(dbfs), n)
	}

	bin, level := Peak(dbfs)
	if bin != n/2+8 {
		t.Errorf("peak at bin %d, expected %d", bin, n/2+8)
	}
	if math.Abs(level) > 0.01 {
		t.Errorf("full-scale tone at %.3f dBFS, expected 0", level)
	}
}

func TestPowerDBFSSilence(t *testing.T) {
	dbfs := PowerDBFS(make([]float32, 8), make([]float32, 8))
	for i, v := range dbfs {
		if !math.IsInf(v, -1) {
			t.Errorf("bin %d = %f, expected -Inf", i, v)
		}
	}
	if len(PowerDBFS(nil, nil)) != 0 {
		t.Errorf("empty input gave bins")
	}
}

func TestBinFrequency(t *testing.T) {
	tests := []struct {
		bin      int
		expected int64
	}{
		{512, 100000000},
		{0, 99000000},
		{768, 100500000},
	}
	for _, tt := range tests {
		if got := BinFrequency(tt.bin, 1024, 100000000, 2000000); got != tt.expected {
			t.Errorf("BinFrequency(%d) = %d, expected %d", tt.bin, got, tt.expected)
		}
	}
}
