package configs

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/RyanBlaney/sonido-chroma/algorithms/binning"
	"github.com/RyanBlaney/sonido-chroma/features"
	"github.com/RyanBlaney/sonido-chroma/logging"
	"github.com/RyanBlaney/sonido-chroma/model"
)

// EnvPrefix prefixes every environment override, e.g. SONIDO_CHROMA_WORKERS.
const EnvPrefix = "SONIDO_CHROMA"

// Config represents the application configuration
type Config struct {
	LogLevel string `mapstructure:"log_level"`

	// Batch settings
	FeatureRate float64 `mapstructure:"feature_rate"`
	InputDir    string  `mapstructure:"input_dir"`
	Pattern     string  `mapstructure:"pattern"`
	OutputDir   string  `mapstructure:"output_dir"`
	Workers     int     `mapstructure:"workers"`
	Mode        string  `mapstructure:"mode"`
	Overwrite   bool    `mapstructure:"overwrite"`
	LedgerPath  string  `mapstructure:"ledger_path"`
	ReportPath  string  `mapstructure:"report_path"`

	// SkipCompleted also skips inputs the ledger records as done.
	SkipCompleted bool `mapstructure:"skip_completed"`

	EmptyBinPolicy string `mapstructure:"empty_bin_policy"`

	// Scorer settings
	ModelID  string      `mapstructure:"model_id"`
	ModelDir string      `mapstructure:"model_dir"`
	Apply    ApplyConfig `mapstructure:"apply"`

	// Feature transform
	HCQT features.HCQTConfig `mapstructure:"hcqt"`

	// Decoder settings
	Decoder DecoderConfig `mapstructure:"decoder"`
}

// ApplyConfig holds the settings that differ for the apply command. The
// pretrained models were trained on features clipped 80 dB below the peak
// with a 1e-5 floor, and on unit-length pitch vectors.
type ApplyConfig struct {
	OutputDir     string  `mapstructure:"output_dir"`
	Normalization string  `mapstructure:"normalization"`
	Amin          float64 `mapstructure:"amin"`
	TopDB         float64 `mapstructure:"top_db"`
}

// DecoderConfig contains ffmpeg decoding settings
type DecoderConfig struct {
	FFmpegPath      string `mapstructure:"ffmpeg_path"`
	FFprobePath     string `mapstructure:"ffprobe_path"`
	ResampleQuality string `mapstructure:"resample_quality"`
	MaxDurationSec  int    `mapstructure:"max_duration_s"`
}

// New returns a viper instance with defaults and env overrides applied.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// LoadConfig decodes v into a Config and validates it.
func LoadConfig(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}
	return config, nil
}

// ValidateConfig checks values that would otherwise fail late in a batch.
func ValidateConfig(config *Config) error {
	if config.FeatureRate <= 0 {
		return fmt.Errorf("feature_rate must be positive, got %g", config.FeatureRate)
	}
	if config.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", config.Workers)
	}
	if _, err := features.ParseMode(config.Mode); err != nil {
		return err
	}
	if _, err := binning.ParseEmptyBinPolicy(config.EmptyBinPolicy); err != nil {
		return err
	}
	if _, err := model.ParseNormalization(config.Apply.Normalization); err != nil {
		return err
	}
	if config.Apply.OutputDir != "" && filepath.Clean(config.Apply.OutputDir) == filepath.Clean(config.OutputDir) {
		return fmt.Errorf("apply.output_dir must differ from output_dir %q", config.OutputDir)
	}
	if _, err := logging.ParseLevel(config.LogLevel); err != nil {
		return err
	}
	if config.ModelID != "" {
		if err := model.ValidateID(config.ModelID); err != nil {
			return err
		}
	}
	if err := config.HCQT.Validate(); err != nil {
		return err
	}
	if err := config.ApplyHCQT().Validate(); err != nil {
		return fmt.Errorf("apply: %w", err)
	}
	return nil
}

// BatchMode returns the parsed run mode.
func (c *Config) BatchMode() features.Mode {
	mode, _ := features.ParseMode(c.Mode)
	return mode
}

// BinPolicy returns the parsed empty-bin policy.
func (c *Config) BinPolicy() binning.EmptyBinPolicy {
	policy, _ := binning.ParseEmptyBinPolicy(c.EmptyBinPolicy)
	return policy
}

// InputNormalization returns the parsed scorer input normalization.
func (c *Config) InputNormalization() model.Normalization {
	norm, _ := model.ParseNormalization(c.Apply.Normalization)
	return norm
}

// ApplyHCQT returns the transform config used by apply: HCQT with the
// apply log floor and clipping.
func (c *Config) ApplyHCQT() features.HCQTConfig {
	hcqt := c.HCQT
	hcqt.Harmonics = c.HCQT.HarmonicList()
	hcqt.Amin = c.Apply.Amin
	hcqt.TopDB = c.Apply.TopDB
	return hcqt
}
