package features

import (
	"errors"
	"fmt"

	"github.com/RyanBlaney/sonido-chroma/algorithms/cqt"
)

// HCQTConfig describes the harmonic constant-Q stack. It is passed by value
// into every pipeline call; nothing in the package keeps a global copy.
type HCQTConfig struct {
	// Frequency layout
	BinsPerOctave int       `json:"bins_per_octave" yaml:"bins_per_octave" mapstructure:"bins_per_octave"`
	NOctaves      int       `json:"n_octaves" yaml:"n_octaves" mapstructure:"n_octaves"`
	Harmonics     []float64 `json:"harmonics" yaml:"harmonics" mapstructure:"harmonics"`
	FMin          float64   `json:"fmin" yaml:"fmin" mapstructure:"fmin"` // Hz, for harmonic 1

	// Framing
	SampleRate int `json:"sample_rate" yaml:"sample_rate" mapstructure:"sample_rate"`
	HopLength  int `json:"hop_length" yaml:"hop_length" mapstructure:"hop_length"`

	// Filter design
	FilterScale float64 `json:"filter_scale" yaml:"filter_scale" mapstructure:"filter_scale"`
	Sparsity    float64 `json:"sparsity" yaml:"sparsity" mapstructure:"sparsity"`

	// Log compression
	Amin  float64 `json:"amin" yaml:"amin" mapstructure:"amin"`
	TopDB float64 `json:"top_db" yaml:"top_db" mapstructure:"top_db"` // 0 disables clipping
}

// MachineEpsilon is the spacing between 1.0 and the next float64.
const MachineEpsilon = 2.220446049250313e-16

// DefaultHCQTConfig returns the configuration the scorers were trained on.
func DefaultHCQTConfig() HCQTConfig {
	return HCQTConfig{
		BinsPerOctave: 36,
		NOctaves:      6,
		Harmonics:     []float64{0.5, 1, 2, 3, 4, 5},
		FMin:          32.7,
		SampleRate:    22050,
		HopLength:     256,
		FilterScale:   1,
		Sparsity:      0.01,
		Amin:          MachineEpsilon,
	}
}

// NBins returns the number of frequency bins per harmonic.
func (c HCQTConfig) NBins() int {
	return c.BinsPerOctave * c.NOctaves
}

// HarmonicList returns a copy of the harmonic multipliers.
func (c HCQTConfig) HarmonicList() []float64 {
	return append([]float64(nil), c.Harmonics...)
}

// Params returns the transform parameters for harmonic h.
func (c HCQTConfig) Params(h float64) cqt.Params {
	return cqt.Params{
		SampleRate:    c.SampleRate,
		HopLength:     c.HopLength,
		FMin:          c.FMin * h,
		NBins:         c.NBins(),
		BinsPerOctave: c.BinsPerOctave,
		FilterScale:   c.FilterScale,
		Sparsity:      c.Sparsity,
	}
}

// Frequencies returns the frequency axis of the stack, which is the axis of
// harmonic 1.
func (c HCQTConfig) Frequencies() []float64 {
	return cqt.Frequencies(c.NBins(), c.FMin, c.BinsPerOctave)
}

// Validate checks the configuration and every per-harmonic transform.
func (c HCQTConfig) Validate() error {
	if c.NOctaves <= 0 {
		return fmt.Errorf("n_octaves must be positive, got %d", c.NOctaves)
	}
	if len(c.Harmonics) == 0 {
		return errors.New("at least one harmonic is required")
	}
	if c.Amin <= 0 {
		return fmt.Errorf("amin must be positive, got %g", c.Amin)
	}
	if c.TopDB < 0 {
		return fmt.Errorf("top_db must be non-negative, got %g", c.TopDB)
	}

	for _, h := range c.Harmonics {
		if h <= 0 {
			return fmt.Errorf("harmonic %g must be positive", h)
		}
		if err := c.Params(h).Validate(); err != nil {
			return fmt.Errorf("harmonic %g: %w", h, err)
		}
	}

	return nil
}
