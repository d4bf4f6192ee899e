package spectral

import (
	"github.com/mjibson/go-dsp/fft"
)

// FFT wraps mjibson/go-dsp. It holds no state and is safe for concurrent use.
type FFT struct{}

// NewFFT creates a new FFT calculator
func NewFFT() *FFT {
	return &FFT{}
}

// Compute returns the full complex spectrum of a real signal.
// go-dsp handles any length, power of two or not.
func (f *FFT) Compute(x []float64) []complex128 {
	if len(x) == 0 {
		return []complex128{}
	}
	return fft.FFTReal(x)
}

// ComputeComplex returns the spectrum of a complex signal.
func (f *FFT) ComputeComplex(x []complex128) []complex128 {
	if len(x) == 0 {
		return []complex128{}
	}
	return fft.FFT(x)
}

// ComputeSplit transforms x and writes the first len(re) bins of the
// spectrum into re and im. re and im must have equal length <= len(x).
// Split storage lets callers run real-valued SIMD dot products.
func (f *FFT) ComputeSplit(x []float64, re, im []float64) {
	spectrum := f.Compute(x)
	for i := range re {
		re[i] = real(spectrum[i])
		im[i] = imag(spectrum[i])
	}
}
