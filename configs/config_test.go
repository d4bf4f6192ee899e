package configs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RyanBlaney/sonido-chroma/algorithms/binning"
	"github.com/RyanBlaney/sonido-chroma/features"
	"github.com/RyanBlaney/sonido-chroma/model"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(New())
	require.NoError(t, err)

	assert.Equal(t, 25.0, cfg.FeatureRate)
	assert.Equal(t, "*.wav", cfg.Pattern)
	assert.Equal(t, 16, cfg.Workers)
	assert.Equal(t, features.ModeProduction, cfg.BatchMode())
	assert.Equal(t, binning.EmptyBinFail, cfg.BinPolicy())
	assert.Equal(t, features.DefaultHCQTConfig(), cfg.HCQT)
	assert.Empty(t, cfg.ModelID)
}

func TestLoadConfig_ApplyDefaults(t *testing.T) {
	cfg, err := LoadConfig(New())
	require.NoError(t, err)

	assert.Equal(t, "features", cfg.OutputDir)
	assert.Equal(t, "chroma", cfg.Apply.OutputDir)
	assert.Equal(t, model.NormPitch, cfg.InputNormalization())

	hcqt := cfg.ApplyHCQT()
	assert.Equal(t, 1e-5, hcqt.Amin)
	assert.Equal(t, 80.0, hcqt.TopDB)
	assert.Equal(t, cfg.HCQT.NBins(), hcqt.NBins())

	// extract keeps its own log compression
	assert.Equal(t, features.MachineEpsilon, cfg.HCQT.Amin)
	assert.Zero(t, cfg.HCQT.TopDB)

	hcqt.Harmonics[0] = 99
	assert.Equal(t, 0.5, cfg.HCQT.Harmonics[0])
}

func TestLoadConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sonido-chroma.yaml")
	yaml := `
feature_rate: 50
workers: 4
mode: develop
empty_bin_policy: skip
apply:
  normalization: frame
  top_db: 60
model_id: v2_ctc_train123valid4
hcqt:
  top_db: 80
decoder:
  max_duration_s: 30
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	v := New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	cfg, err := LoadConfig(v)
	require.NoError(t, err)
	assert.Equal(t, 50.0, cfg.FeatureRate)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, features.ModeDevelop, cfg.BatchMode())
	assert.Equal(t, binning.EmptyBinSkip, cfg.BinPolicy())
	assert.Equal(t, model.NormFrame, cfg.InputNormalization())
	assert.Equal(t, 60.0, cfg.ApplyHCQT().TopDB)
	assert.Equal(t, 1e-5, cfg.ApplyHCQT().Amin, "unset apply keys keep defaults")
	assert.Equal(t, 80.0, cfg.HCQT.TopDB)
	assert.Equal(t, 36, cfg.HCQT.BinsPerOctave, "unset nested keys keep defaults")

	dc := cfg.DecoderFor(22050)
	assert.Equal(t, 30*time.Second, dc.MaxDuration)
	assert.Equal(t, "ffmpeg", dc.FFmpegPath)
}

func TestLoadConfig_Env(t *testing.T) {
	t.Setenv("SONIDO_CHROMA_WORKERS", "3")
	t.Setenv("SONIDO_CHROMA_FEATURE_RATE", "10")

	cfg, err := LoadConfig(New())
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, 10.0, cfg.FeatureRate)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value any
	}{
		{"zero rate", "feature_rate", 0},
		{"no workers", "workers", 0},
		{"bad mode", "mode", "staging"},
		{"bad policy", "empty_bin_policy", "interpolate"},
		{"bad normalization", "apply.normalization", "global"},
		{"bad apply floor", "apply.amin", 0},
		{"shared output dir", "apply.output_dir", "features"},
		{"bad level", "log_level", "chatty"},
		{"unknown model", "model_id", "v9_nope"},
		{"bad hcqt", "hcqt.n_octaves", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := New()
			v.Set(tt.key, tt.value)
			_, err := LoadConfig(v)
			assert.Error(t, err)
		})
	}
}
