package cqt

import (
	"math"
	"math/cmplx"
	"sort"

	"github.com/RyanBlaney/sonido-chroma/algorithms/common"
	"github.com/RyanBlaney/sonido-chroma/algorithms/spectral"
	"github.com/RyanBlaney/sonido-chroma/algorithms/windowing"
)

// filterBank holds the frequency-domain kernels of one octave.
//
// Each kernel is a Hann-windowed complex exponential centred in an nFFT
// frame, L1-normalised, transformed, and cut down to the contiguous band
// [lo, hi) of the non-negative half spectrum that carries its energy. The
// spectra are pre-divided by nFFT so a dot product against a frame spectrum
// gives the time-domain inner product directly.
type filterBank struct {
	nFFT    int
	freqs   []float64
	lengths []float64
	lo      []int
	re      [][]float64
	im      [][]float64
}

// qFactor returns the constant ratio of centre frequency to bandwidth.
func qFactor(filterScale float64, binsPerOctave int) float64 {
	return filterScale / (math.Pow(2, 1/float64(binsPerOctave)) - 1)
}

// filterLengths returns the filter length in samples for each frequency.
func filterLengths(freqs []float64, sampleRate, filterScale float64, binsPerOctave int) []float64 {
	q := qFactor(filterScale, binsPerOctave)
	lengths := make([]float64, len(freqs))
	for k, f := range freqs {
		lengths[k] = q * sampleRate / f
	}
	return lengths
}

// fftSizeFor picks the frame size for a set of filters: the next power of
// two above the longest filter, and never less than twice the hop rounded up
// to a power of two.
func fftSizeFor(lengths []float64, hopLength int) int {
	maxLen := 0.0
	for _, l := range lengths {
		maxLen = math.Max(maxLen, l)
	}
	nFFT := common.NextPowerOfTwo(int(math.Ceil(maxLen)))
	if minFFT := 2 * common.NextPowerOfTwo(hopLength); nFFT < minFFT {
		nFFT = minFFT
	}
	return nFFT
}

// newFilterBank builds kernels for freqs at the given sample rate.
func newFilterBank(freqs []float64, sampleRate, filterScale float64, binsPerOctave, hopLength int, sparsity float64) *filterBank {
	lengths := filterLengths(freqs, sampleRate, filterScale, binsPerOctave)
	nFFT := fftSizeFor(lengths, hopLength)
	half := nFFT/2 + 1

	bank := &filterBank{
		nFFT:    nFFT,
		freqs:   freqs,
		lengths: lengths,
		lo:      make([]int, len(freqs)),
		re:      make([][]float64, len(freqs)),
		im:      make([][]float64, len(freqs)),
	}

	fft := spectral.NewFFT()
	for k, freq := range freqs {
		spectrum := fft.ComputeComplex(kernel(freq, lengths[k], sampleRate, nFFT))[:half]

		lo, hi := sparseBand(spectrum, sparsity)
		bank.lo[k] = lo
		bank.re[k] = make([]float64, hi-lo)
		bank.im[k] = make([]float64, hi-lo)
		for i := lo; i < hi; i++ {
			c := spectrum[i] / complex(float64(nFFT), 0)
			bank.re[k][i-lo] = real(c)
			bank.im[k][i-lo] = imag(c)
		}
	}

	return bank
}

// kernel returns the time-domain filter for freq, padded to nFFT with the
// filter centre at nFFT/2.
func kernel(freq, length, sampleRate float64, nFFT int) []complex128 {
	window := windowing.FractionalHann(length)
	n := len(window)
	start := math.Floor(-length / 2)

	sig := make([]complex128, n)
	l1 := 0.0
	for j := range n {
		phase := 2 * math.Pi * freq * (start + float64(j)) / sampleRate
		sig[j] = complex(window[j], 0) * cmplx.Exp(complex(0, phase))
		l1 += cmplx.Abs(sig[j])
	}

	padded := make([]complex128, nFFT)
	lpad := (nFFT - n) / 2
	for j, v := range sig {
		if l1 > 0 {
			v /= complex(l1, 0)
		}
		padded[lpad+j] = v
	}
	return padded
}

// sparseBand finds the smallest contiguous range that keeps every
// coefficient surviving a sparsity cut: coefficients are dropped in order
// of increasing magnitude while their cumulative magnitude stays below
// sparsity times the row's L1 norm. Dropped coefficients inside the returned
// band are zeroed in place.
func sparseBand(spectrum []complex128, sparsity float64) (int, int) {
	n := len(spectrum)
	if n == 0 {
		return 0, 0
	}

	mags := make([]float64, n)
	total := 0.0
	for i, c := range spectrum {
		mags[i] = cmplx.Abs(c)
		total += mags[i]
	}
	if total == 0 || sparsity <= 0 {
		return 0, n
	}

	sorted := append([]float64(nil), mags...)
	sort.Float64s(sorted)

	threshold := sorted[n-1]
	cum := 0.0
	for _, m := range sorted {
		cum += m
		if cum/total >= sparsity {
			threshold = m
			break
		}
	}

	lo, hi := n, 0
	for i, m := range mags {
		if m >= threshold {
			lo = min(lo, i)
			hi = max(hi, i+1)
		}
	}
	for i := lo; i < hi; i++ {
		if mags[i] < threshold {
			spectrum[i] = 0
		}
	}
	return lo, hi
}
