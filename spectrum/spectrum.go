// Package spectrum computes power spectra of converted IQ samples.
package spectrum

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Hamming returns an n-point Hamming window.
func Hamming(n int) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	for i := range w {
		w[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return w
}

// PowerDBFS returns the windowed power spectrum of re/im in dB relative
// to full scale, with DC in the middle bin. Empty bins are -Inf.
func PowerDBFS(re, im []float32) []float64 {
	n := len(re)
	if len(im) < n {
		n = len(im)
	}
	if n == 0 {
		return []float64{}
	}

	win := Hamming(n)
	sum := 0.0
	in := make([]complex128, n)
	for i := range in {
		in[i] = complex(float64(re[i])*win[i], float64(im[i])*win[i])
		sum += win[i]
	}
	coeff := fourier.NewCmplxFFT(n).Coefficients(nil, in)

	dbfs := make([]float64, n)
	half := n / 2
	for i, v := range coeff {
		mag := cmplx.Abs(v) / sum
		j := (i + n - half) % n
		if mag == 0 {
			dbfs[j] = math.Inf(-1)
			continue
		}
		dbfs[j] = 20 * math.Log10(mag)
	}
	return dbfs
}

// Peak returns the strongest bin and its level.
func Peak(dbfs []float64) (int, float64) {
	bin, level := -1, math.Inf(-1)
	for i, v := range dbfs {
		if bin < 0 || v > level {
			bin, level = i, v
		}
	}
	return bin, level
}

// BinFrequency maps a shifted bin of an n-point spectrum to an absolute
// frequency around center.
func BinFrequency(bin, n int, center int64, rate int) int64 {
	if n == 0 {
		return center
	}
	return center + int64(bin-n/2)*int64(rate)/int64(n)
}
