package cqt

import (
	"fmt"
	"math"
	"sync"

	resampler "github.com/tphakala/go-audio-resampler"
	"github.com/tphakala/simd/f64"
	"gonum.org/v1/gonum/floats"

	"github.com/RyanBlaney/sonido-chroma/algorithms/common"
	"github.com/RyanBlaney/sonido-chroma/algorithms/spectral"
)

// Params configures a constant-Q transform.
type Params struct {
	SampleRate    int
	HopLength     int
	FMin          float64
	NBins         int
	BinsPerOctave int
	FilterScale   float64
	// Sparsity is the fraction of each kernel's L1 mass that may be
	// discarded. Zero keeps every coefficient.
	Sparsity float64
}

// DefaultParams returns the parameters used for one harmonic of the chroma
// features: six octaves at 36 bins per octave from C0.
func DefaultParams() Params {
	return Params{
		SampleRate:    22050,
		HopLength:     256,
		FMin:          32.7 / 2,
		NBins:         216,
		BinsPerOctave: 36,
		FilterScale:   1,
		Sparsity:      0.01,
	}
}

// Octaves returns the number of octaves the bins span.
func (p Params) Octaves() int {
	return (p.NBins + p.BinsPerOctave - 1) / p.BinsPerOctave
}

// Validate checks the parameters can be realised by the multirate transform.
func (p Params) Validate() error {
	switch {
	case p.SampleRate <= 0:
		return fmt.Errorf("sample rate must be positive, got %d", p.SampleRate)
	case p.HopLength <= 0:
		return fmt.Errorf("hop length must be positive, got %d", p.HopLength)
	case p.FMin <= 0:
		return fmt.Errorf("fmin must be positive, got %g", p.FMin)
	case p.NBins <= 0:
		return fmt.Errorf("number of bins must be positive, got %d", p.NBins)
	case p.BinsPerOctave <= 0:
		return fmt.Errorf("bins per octave must be positive, got %d", p.BinsPerOctave)
	case p.FilterScale <= 0:
		return fmt.Errorf("filter scale must be positive, got %g", p.FilterScale)
	case p.Sparsity < 0 || p.Sparsity >= 1:
		return fmt.Errorf("sparsity must be in [0, 1), got %g", p.Sparsity)
	}

	if shift := p.Octaves() - 1; p.HopLength%(1<<shift) != 0 {
		return fmt.Errorf("hop length %d must be divisible by 2^%d for %d octaves",
			p.HopLength, shift, p.Octaves())
	}

	freqs := Frequencies(p.NBins, p.FMin, p.BinsPerOctave)
	if nyquist := float64(p.SampleRate) / 2; freqs[len(freqs)-1] >= nyquist {
		return fmt.Errorf("highest bin %.1f Hz is above nyquist %.1f Hz", freqs[len(freqs)-1], nyquist)
	}

	return nil
}

// Spectrogram is a constant-Q magnitude spectrogram. Magnitude is indexed
// [bin][frame] with bins in ascending frequency.
type Spectrogram struct {
	Magnitude  [][]float64
	SampleRate int
	HopLength  int
	FMin       float64
	// BinsPerOctave is kept so callers can rebuild the frequency axis.
	BinsPerOctave int
}

// NBins returns the number of frequency bins.
func (s *Spectrogram) NBins() int {
	return len(s.Magnitude)
}

// NFrames returns the number of time frames.
func (s *Spectrogram) NFrames() int {
	if len(s.Magnitude) == 0 {
		return 0
	}
	return len(s.Magnitude[0])
}

// Times returns the centre time of every frame in seconds.
func (s *Spectrogram) Times() []float64 {
	return FramesToTime(s.NFrames(), s.SampleRate, s.HopLength)
}

// Transform computes a multirate constant-Q transform.
//
// The filters of the top octave are built once at the native rate. Lower
// octaves reuse the same kernels on a signal decimated by two per octave
// with the hop halved to keep frames aligned. Magnitudes are scaled by the
// square root of each bin's native filter length.
//
// A Transform is immutable after construction and safe for concurrent use.
type Transform struct {
	params  Params
	bank    *filterBank
	lengths []float64
	fft     *spectral.FFT
}

// NewTransform validates p and builds the top-octave filter bank.
func NewTransform(p Params) (*Transform, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	freqs := Frequencies(p.NBins, p.FMin, p.BinsPerOctave)
	sr := float64(p.SampleRate)

	nFilters := min(p.BinsPerOctave, p.NBins)
	top := freqs[len(freqs)-nFilters:]

	return &Transform{
		params:  p,
		bank:    newFilterBank(top, sr, p.FilterScale, p.BinsPerOctave, p.HopLength, p.Sparsity),
		lengths: filterLengths(freqs, sr, p.FilterScale, p.BinsPerOctave),
		fft:     spectral.NewFFT(),
	}, nil
}

// Params returns the parameters the transform was built with.
func (t *Transform) Params() Params {
	return t.params
}

// Frequencies returns the centre frequency of every bin.
func (t *Transform) Frequencies() []float64 {
	return Frequencies(t.params.NBins, t.params.FMin, t.params.BinsPerOctave)
}

// Lengths returns the native-rate filter length of every bin in samples.
func (t *Transform) Lengths() []float64 {
	return append([]float64(nil), t.lengths...)
}

// WindowLength returns the analysis frame size in samples. Shorter input
// is rejected by Compute.
func (t *Transform) WindowLength() int {
	return t.bank.nFFT
}

// Compute returns the magnitude spectrogram of y.
func (t *Transform) Compute(y []float64) (*Spectrogram, error) {
	if len(y) == 0 {
		return nil, fmt.Errorf("%w: empty waveform", common.ErrInvalidAudio)
	}
	if len(y) < t.bank.nFFT {
		return nil, fmt.Errorf("%w: %d samples is shorter than the %d-sample analysis window",
			common.ErrInvalidAudio, len(y), t.bank.nFFT)
	}
	if !common.AllFinite(y) {
		return nil, fmt.Errorf("%w: waveform contains non-finite samples", common.ErrInvalidAudio)
	}

	nOctaves := t.params.Octaves()
	octaves := make([][][]float64, nOctaves)

	signal := y
	hop := t.params.HopLength
	rate := float64(t.params.SampleRate)
	for o := range nOctaves {
		if o > 0 {
			var err error
			signal, err = halveRate(signal, rate)
			if err != nil {
				return nil, fmt.Errorf("octave %d: %w", o, err)
			}
			rate /= 2
			hop /= 2
		}
		octaves[o] = t.response(signal, hop)
	}

	nFrames := len(octaves[0][0])
	for _, resp := range octaves[1:] {
		nFrames = min(nFrames, len(resp[0]))
	}

	// Stack lowest octave first; the bottom octave may be partial.
	stacked := make([][]float64, 0, nOctaves*len(t.bank.freqs))
	for o := nOctaves - 1; o >= 0; o-- {
		for _, row := range octaves[o] {
			stacked = append(stacked, row[:nFrames])
		}
	}
	magnitude := stacked[len(stacked)-t.params.NBins:]

	for b, row := range magnitude {
		f64.Scale(row, row, math.Sqrt(t.lengths[b]))
	}

	return &Spectrogram{
		Magnitude:     magnitude,
		SampleRate:    t.params.SampleRate,
		HopLength:     t.params.HopLength,
		FMin:          t.params.FMin,
		BinsPerOctave: t.params.BinsPerOctave,
	}, nil
}

// response correlates every centred frame of y with the filter bank.
func (t *Transform) response(y []float64, hop int) [][]float64 {
	bank := t.bank
	nFFT := bank.nFFT
	nFrames := 1 + len(y)/hop
	padded := reflectPad(y, nFFT/2)

	out := make([][]float64, len(bank.freqs))
	for k := range out {
		out[k] = make([]float64, nFrames)
	}

	half := nFFT/2 + 1
	re := make([]float64, half)
	im := make([]float64, half)
	for m := range nFrames {
		t.fft.ComputeSplit(padded[m*hop:m*hop+nFFT], re, im)

		for k := range bank.freqs {
			lo := bank.lo[k]
			hi := lo + len(bank.re[k])
			kr, ki := bank.re[k], bank.im[k]
			xr, xi := re[lo:hi], im[lo:hi]

			// x · conj(k)
			realPart := f64.DotProduct(xr, kr) + f64.DotProduct(xi, ki)
			imagPart := f64.DotProduct(xi, kr) - f64.DotProduct(xr, ki)
			out[k][m] = math.Hypot(realPart, imagPart)
		}
	}

	return out
}

// halveRate decimates y by two and fixes the output to ceil(len(y)/2)
// samples. Output sample i lines up with input sample 2i.
func halveRate(y []float64, rate float64) ([]float64, error) {
	delay, err := decimationDelay(rate)
	if err != nil {
		return nil, err
	}

	in := y
	if delay > 0 {
		in = make([]float64, 2*delay+len(y))
		copy(in[2*delay:], y)
	}

	out, err := resampler.ResampleMono(in, rate, rate/2, resampler.QualityHigh)
	if err != nil {
		return nil, fmt.Errorf("failed to decimate %d samples at %.1f Hz: %w", len(y), rate, err)
	}
	if delay < 0 {
		out = out[min(-delay, len(out)):]
	}

	want := (len(y) + 1) / 2
	if len(out) >= want {
		return out[:want], nil
	}
	fixed := make([]float64, want)
	copy(fixed, out)
	return fixed, nil
}

// delays caches decimationDelay per input rate.
var delays sync.Map

// decimationDelay returns how many output samples the resampler moves a
// signal earlier when halving rate. It is measured once per rate from the
// peak of a narrow Gaussian pulse.
func decimationDelay(rate float64) (int, error) {
	if d, ok := delays.Load(rate); ok {
		return d.(int), nil
	}

	const n, centre, width = 4096, 2048, 8.0
	pulse := make([]float64, n)
	for i := range pulse {
		x := float64(i-centre) / width
		pulse[i] = math.Exp(-x * x / 2)
	}

	out, err := resampler.ResampleMono(pulse, rate, rate/2, resampler.QualityHigh)
	if err != nil {
		return 0, fmt.Errorf("failed to measure decimation delay at %.1f Hz: %w", rate, err)
	}
	if len(out) == 0 {
		return 0, fmt.Errorf("resampler returned no samples at %.1f Hz", rate)
	}

	d := centre/2 - floats.MaxIdx(out)
	delays.Store(rate, d)
	return d, nil
}

// reflectPad mirrors y about its end samples, excluding the edge, on both
// sides. Padding wider than the signal keeps reflecting.
func reflectPad(y []float64, pad int) []float64 {
	n := len(y)
	out := make([]float64, n+2*pad)
	if n == 1 {
		for i := range out {
			out[i] = y[0]
		}
		return out
	}

	period := 2 * (n - 1)
	for i := range out {
		j := (i - pad) % period
		if j < 0 {
			j += period
		}
		if j >= n {
			j = period - j
		}
		out[i] = y[j]
	}
	return out
}
