package features

import (
	"context"
	"fmt"
	"time"

	"github.com/RyanBlaney/sonido-chroma/algorithms/binning"
	"github.com/RyanBlaney/sonido-chroma/algorithms/common"
	"github.com/RyanBlaney/sonido-chroma/algorithms/cqt"
	"github.com/RyanBlaney/sonido-chroma/logging"
	"github.com/RyanBlaney/sonido-chroma/npz"
	"github.com/RyanBlaney/sonido-chroma/transcode"
)

// Array names in the persisted feature archive.
const (
	KeyPitch     = "f_pitch"
	KeyPitchTime = "f_pitch_ax_time"
	KeyPitchFreq = "f_pitch_ax_freq"
)

// DefaultFeatureRate is the output frame rate in frames per second.
const DefaultFeatureRate = 25.0

// HCQT is the log-compressed harmonic stack at the native frame rate.
type HCQT struct {
	Tensor *common.Tensor // (harmonic, bin, frame)
	Times  []float64
	Freqs  []float64
}

// Features is the median-binned stack on a uniform time grid.
type Features struct {
	Pitch  *common.Tensor // (harmonic, bin, frame)
	AxTime []float64
	AxFreq []float64
}

// NFrames returns the number of time frames.
func (f *Features) NFrames() int {
	return f.Pitch.Shape[2]
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(e *Extractor) {
		e.logger = logger
	}
}

// WithEmptyBinPolicy sets how median binning treats empty intervals.
func WithEmptyBinPolicy(policy binning.EmptyBinPolicy) Option {
	return func(e *Extractor) {
		e.policy = policy
	}
}

// WithLoader replaces the audio loader used by ComputeFile.
func WithLoader(loader transcode.Loader) Option {
	return func(e *Extractor) {
		e.loader = loader
	}
}

// Extractor runs the feature pipeline: one constant-Q transform per
// harmonic, truncation to a common length, log compression and median
// binning onto a uniform grid.
//
// The transforms are built once from the configuration; every call works
// on its own buffers, so an Extractor may be shared between goroutines.
type Extractor struct {
	cfg        HCQTConfig
	transforms []*cqt.Transform
	minSamples int
	policy     binning.EmptyBinPolicy
	loader     transcode.Loader
	logger     logging.Logger
}

// NewExtractor validates cfg and builds the per-harmonic transforms.
func NewExtractor(cfg HCQTConfig, opts ...Option) (*Extractor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid hcqt config: %w", err)
	}
	cfg.Harmonics = cfg.HarmonicList()

	e := &Extractor{
		cfg:    cfg,
		policy: binning.EmptyBinFail,
		logger: logging.WithFields(logging.Fields{
			"component": "hcqt_extractor",
		}),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.loader == nil {
		decoderConfig := transcode.DefaultDecoderConfig()
		decoderConfig.TargetSampleRate = cfg.SampleRate
		e.loader = &transcode.AutoLoader{
			WAV:    transcode.NewWAVLoader(cfg.SampleRate),
			FFmpeg: transcode.NewDecoder(decoderConfig),
		}
	}

	for _, h := range cfg.Harmonics {
		t, err := cqt.NewTransform(cfg.Params(h))
		if err != nil {
			return nil, fmt.Errorf("harmonic %g: %w", h, err)
		}
		e.transforms = append(e.transforms, t)
		e.minSamples = max(e.minSamples, t.WindowLength())
	}

	e.logger.Debug("Extractor ready", logging.Fields{
		"harmonics":   cfg.Harmonics,
		"n_bins":      cfg.NBins(),
		"min_samples": e.minSamples,
	})

	return e, nil
}

// Config returns a copy of the extractor configuration.
func (e *Extractor) Config() HCQTConfig {
	cfg := e.cfg
	cfg.Harmonics = e.cfg.HarmonicList()
	return cfg
}

// ComputeHCQT computes the log-compressed harmonic stack of a waveform at
// the configured sample rate.
func (e *Extractor) ComputeHCQT(y []float64) (*HCQT, error) {
	if len(y) == 0 {
		return nil, fmt.Errorf("%w: empty waveform", common.ErrInvalidAudio)
	}
	if len(y) < e.minSamples {
		return nil, fmt.Errorf("%w: %d samples is shorter than one %d-sample analysis window",
			common.ErrInvalidAudio, len(y), e.minSamples)
	}

	specs := make([]*cqt.Spectrogram, len(e.transforms))
	for i, t := range e.transforms {
		spec, err := t.Compute(y)
		if err != nil {
			return nil, fmt.Errorf("harmonic %g: %w", e.cfg.Harmonics[i], err)
		}
		specs[i] = spec
	}

	nFrames, err := ReconcileFrames(specs)
	if err != nil {
		return nil, err
	}
	for i, s := range specs {
		if s.NFrames() != nFrames {
			e.logger.Debug("Truncating harmonic", logging.Fields{
				"harmonic": e.cfg.Harmonics[i],
				"frames":   s.NFrames(),
				"keep":     nFrames,
			})
		}
	}

	tensor := StackHarmonics(specs, nFrames)
	LogCompress(tensor, e.cfg.Amin, e.cfg.TopDB)

	return &HCQT{
		Tensor: tensor,
		Times:  cqt.FramesToTime(nFrames, e.cfg.SampleRate, e.cfg.HopLength),
		Freqs:  e.cfg.Frequencies(),
	}, nil
}

// ComputeMedian computes the harmonic stack and median-bins it to rate
// frames per second.
func (e *Extractor) ComputeMedian(y []float64, rate float64) (*Features, error) {
	if rate <= 0 {
		return nil, fmt.Errorf("feature rate must be positive, got %g", rate)
	}

	h, err := e.ComputeHCQT(y)
	if err != nil {
		return nil, err
	}

	grid := binning.UniformGrid(h.Times[0], h.Times[len(h.Times)-1], rate)
	pitch, times, err := binning.MedianBin(h.Tensor, 2, h.Times, grid, e.policy)
	if err != nil {
		return nil, fmt.Errorf("median binning at %g fps: %w", rate, err)
	}

	return &Features{
		Pitch:  pitch,
		AxTime: times,
		AxFreq: h.Freqs,
	}, nil
}

// ComputeFile decodes path and returns its median-binned features.
func (e *Extractor) ComputeFile(ctx context.Context, path string, rate float64) (*Features, error) {
	logger := e.logger.WithFields(logging.Fields{
		"function": "ComputeFile",
		"input":    path,
	})

	start := time.Now()
	audio, err := e.loader.Load(ctx, path)
	if err != nil {
		return nil, inputError(path, "decode", err)
	}
	if audio.SampleRate != e.cfg.SampleRate {
		return nil, inputError(path, "decode", fmt.Errorf("%w: decoded at %d Hz, expected %d Hz",
			common.ErrInvalidAudio, audio.SampleRate, e.cfg.SampleRate))
	}
	decoded := time.Since(start)

	features, err := e.ComputeMedian(audio.PCM, rate)
	if err != nil {
		return nil, inputError(path, "features", err)
	}

	logger.Debug("Features computed", logging.Fields{
		"duration_s":  audio.Duration.Seconds(),
		"frames":      features.NFrames(),
		"decode_time": decoded.Seconds(),
		"total_time":  time.Since(start).Seconds(),
	})

	return features, nil
}

// ComputeAndSave computes features for path and writes them to out.
func (e *Extractor) ComputeAndSave(ctx context.Context, path, out string, rate float64) (*Features, error) {
	features, err := e.ComputeFile(ctx, path, rate)
	if err != nil {
		return nil, err
	}
	if err := SaveFeatures(out, features); err != nil {
		return nil, inputError(path, "save", err)
	}
	return features, nil
}

// SaveFeatures writes features as an npz archive. The file appears at path
// only once it is complete.
func SaveFeatures(path string, f *Features) error {
	return npz.WriteFile(path, func(w *npz.Writer) error {
		shape := f.Pitch.Shape
		if err := w.WriteFloat64(KeyPitch, shape[:], f.Pitch.Data); err != nil {
			return err
		}
		if err := w.WriteFloat64(KeyPitchTime, []int{len(f.AxTime)}, f.AxTime); err != nil {
			return err
		}
		return w.WriteFloat64(KeyPitchFreq, []int{len(f.AxFreq)}, f.AxFreq)
	})
}

// LoadFeatures reads an archive written by SaveFeatures.
func LoadFeatures(path string) (*Features, error) {
	r, err := npz.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	shape, data, err := r.ReadFloat64(KeyPitch)
	if err != nil {
		return nil, err
	}
	if len(shape) != 3 {
		return nil, fmt.Errorf("%w: %s has %d dimensions, expected 3", common.ErrShapeMismatch, KeyPitch, len(shape))
	}
	pitch, err := common.TensorFrom([3]int{shape[0], shape[1], shape[2]}, data)
	if err != nil {
		return nil, err
	}

	_, times, err := r.ReadFloat64(KeyPitchTime)
	if err != nil {
		return nil, err
	}
	_, freqs, err := r.ReadFloat64(KeyPitchFreq)
	if err != nil {
		return nil, err
	}

	if len(times) != shape[2] || len(freqs) != shape[1] {
		return nil, fmt.Errorf("%w: axes (%d, %d) do not match %s shape %v",
			common.ErrShapeMismatch, len(freqs), len(times), KeyPitch, shape)
	}

	return &Features{Pitch: pitch, AxTime: times, AxFreq: freqs}, nil
}
