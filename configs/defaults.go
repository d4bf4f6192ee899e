package configs

import (
	"time"

	"github.com/spf13/viper"

	"github.com/RyanBlaney/sonido-chroma/features"
	"github.com/RyanBlaney/sonido-chroma/ledger"
	"github.com/RyanBlaney/sonido-chroma/transcode"
)

// Output directories of extract and apply. They differ so that an apply run
// never treats extracted features as finished chroma.
const (
	DefaultOutputDir      = "features"
	DefaultApplyOutputDir = "chroma"
)

// Log compression the pretrained models were trained with.
const (
	DefaultApplyAmin  = 1e-5
	DefaultApplyTopDB = 80.0
)

// setDefaults sets default configuration values for all components
func setDefaults(v *viper.Viper) {
	// Application defaults
	if !v.IsSet("log_level") {
		v.SetDefault("log_level", "info")
	}

	// Batch defaults
	if !v.IsSet("feature_rate") {
		v.SetDefault("feature_rate", features.DefaultFeatureRate)
	}
	if !v.IsSet("input_dir") {
		v.SetDefault("input_dir", ".")
	}
	if !v.IsSet("pattern") {
		v.SetDefault("pattern", "*.wav")
	}
	if !v.IsSet("output_dir") {
		v.SetDefault("output_dir", DefaultOutputDir)
	}
	if !v.IsSet("workers") {
		v.SetDefault("workers", features.DefaultWorkers)
	}
	if !v.IsSet("mode") {
		v.SetDefault("mode", string(features.ModeProduction))
	}
	if !v.IsSet("overwrite") {
		v.SetDefault("overwrite", false)
	}
	if !v.IsSet("skip_completed") {
		v.SetDefault("skip_completed", false)
	}
	if !v.IsSet("ledger_path") {
		v.SetDefault("ledger_path", ledger.DefaultPath)
	}
	if !v.IsSet("empty_bin_policy") {
		v.SetDefault("empty_bin_policy", "fail")
	}

	// Scorer defaults
	if !v.IsSet("model_dir") {
		v.SetDefault("model_dir", "models")
	}
	if !v.IsSet("apply.output_dir") {
		v.SetDefault("apply.output_dir", DefaultApplyOutputDir)
	}
	if !v.IsSet("apply.normalization") {
		v.SetDefault("apply.normalization", "pitch")
	}
	if !v.IsSet("apply.amin") {
		v.SetDefault("apply.amin", DefaultApplyAmin)
	}
	if !v.IsSet("apply.top_db") {
		v.SetDefault("apply.top_db", DefaultApplyTopDB)
	}

	// Feature transform defaults
	hcqt := features.DefaultHCQTConfig()
	if !v.IsSet("hcqt.bins_per_octave") {
		v.SetDefault("hcqt.bins_per_octave", hcqt.BinsPerOctave)
	}
	if !v.IsSet("hcqt.n_octaves") {
		v.SetDefault("hcqt.n_octaves", hcqt.NOctaves)
	}
	if !v.IsSet("hcqt.harmonics") {
		v.SetDefault("hcqt.harmonics", hcqt.Harmonics)
	}
	if !v.IsSet("hcqt.fmin") {
		v.SetDefault("hcqt.fmin", hcqt.FMin)
	}
	if !v.IsSet("hcqt.sample_rate") {
		v.SetDefault("hcqt.sample_rate", hcqt.SampleRate)
	}
	if !v.IsSet("hcqt.hop_length") {
		v.SetDefault("hcqt.hop_length", hcqt.HopLength)
	}
	if !v.IsSet("hcqt.filter_scale") {
		v.SetDefault("hcqt.filter_scale", hcqt.FilterScale)
	}
	if !v.IsSet("hcqt.sparsity") {
		v.SetDefault("hcqt.sparsity", hcqt.Sparsity)
	}
	if !v.IsSet("hcqt.amin") {
		v.SetDefault("hcqt.amin", hcqt.Amin)
	}
	if !v.IsSet("hcqt.top_db") {
		v.SetDefault("hcqt.top_db", hcqt.TopDB)
	}

	// Decoder defaults
	decoder := transcode.DefaultDecoderConfig()
	if !v.IsSet("decoder.ffmpeg_path") {
		v.SetDefault("decoder.ffmpeg_path", decoder.FFmpegPath)
	}
	if !v.IsSet("decoder.ffprobe_path") {
		v.SetDefault("decoder.ffprobe_path", decoder.FFprobePath)
	}
	if !v.IsSet("decoder.resample_quality") {
		v.SetDefault("decoder.resample_quality", decoder.ResampleQuality)
	}
	if !v.IsSet("decoder.max_duration_s") {
		v.SetDefault("decoder.max_duration_s", int(decoder.MaxDuration.Seconds()))
	}
}

// DecoderFor builds a transcode decoder config from c at the given rate.
func (c *Config) DecoderFor(sampleRate int) *transcode.DecoderConfig {
	dc := transcode.DefaultDecoderConfig()
	dc.TargetSampleRate = sampleRate
	if c.Decoder.FFmpegPath != "" {
		dc.FFmpegPath = c.Decoder.FFmpegPath
	}
	if c.Decoder.FFprobePath != "" {
		dc.FFprobePath = c.Decoder.FFprobePath
	}
	if c.Decoder.ResampleQuality != "" {
		dc.ResampleQuality = c.Decoder.ResampleQuality
	}
	if c.Decoder.MaxDurationSec > 0 {
		dc.MaxDuration = time.Duration(c.Decoder.MaxDurationSec) * time.Second
	}
	return dc
}
