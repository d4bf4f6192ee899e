package features

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RyanBlaney/sonido-chroma/algorithms/binning"
	"github.com/RyanBlaney/sonido-chroma/algorithms/common"
	"github.com/RyanBlaney/sonido-chroma/algorithms/cqt"
	"github.com/RyanBlaney/sonido-chroma/logging"
	"github.com/RyanBlaney/sonido-chroma/transcode"
)

// fakeLoader synthesises audio instead of reading files.
type fakeLoader struct {
	mu      sync.Mutex
	calls   []string
	fail    map[string]error
	seconds float64
	freq    float64
}

func (f *fakeLoader) Load(ctx context.Context, path string) (*transcode.AudioData, error) {
	f.mu.Lock()
	f.calls = append(f.calls, path)
	f.mu.Unlock()

	if err, ok := f.fail[filepath.Base(path)]; ok {
		return nil, err
	}

	n := int(f.seconds * transcode.TargetSampleRate)
	pcm := make([]float64, n)
	if f.freq > 0 {
		for i := range pcm {
			pcm[i] = 0.5 * math.Sin(2*math.Pi*f.freq*float64(i)/transcode.TargetSampleRate)
		}
	}
	return &transcode.AudioData{PCM: pcm, SampleRate: transcode.TargetSampleRate, Channels: 1, Source: path}, nil
}

func newTestExtractor(t *testing.T, loader transcode.Loader) *Extractor {
	t.Helper()
	e, err := NewExtractor(DefaultHCQTConfig(),
		WithLoader(loader),
		WithLogger(&logging.NoOpLogger{}),
	)
	require.NoError(t, err)
	return e
}

func TestDefaultHCQTConfig(t *testing.T) {
	cfg := DefaultHCQTConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 216, cfg.NBins())

	freqs := cfg.Frequencies()
	require.Len(t, freqs, 216)
	assert.InDelta(t, 32.7, freqs[0], 1e-12)
	for i := 1; i < len(freqs); i++ {
		assert.Greater(t, freqs[i], freqs[i-1])
	}

	p := cfg.Params(0.5)
	assert.InDelta(t, 16.35, p.FMin, 1e-12)
	assert.Equal(t, 216, p.NBins)
}

func TestHCQTConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *HCQTConfig)
	}{
		{name: "no harmonics", modify: func(c *HCQTConfig) { c.Harmonics = nil }},
		{name: "negative harmonic", modify: func(c *HCQTConfig) { c.Harmonics = []float64{1, -2} }},
		{name: "top harmonic above nyquist", modify: func(c *HCQTConfig) { c.Harmonics = []float64{1, 6} }},
		{name: "zero amin", modify: func(c *HCQTConfig) { c.Amin = 0 }},
		{name: "hop not halvable", modify: func(c *HCQTConfig) { c.HopLength = 100 }},
		{name: "zero octaves", modify: func(c *HCQTConfig) { c.NOctaves = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultHCQTConfig()
			tt.modify(&cfg)
			assert.Error(t, cfg.Validate())

			_, err := NewExtractor(cfg)
			assert.Error(t, err)
		})
	}
}

func TestReconcileFrames(t *testing.T) {
	frames := []int{100, 100, 99, 100, 100, 98}
	specs := make([]*cqt.Spectrogram, len(frames))
	for i, n := range frames {
		mag := make([][]float64, 216)
		for b := range mag {
			mag[b] = make([]float64, n)
			for k := range mag[b] {
				mag[b][k] = float64(i*1000 + k)
			}
		}
		specs[i] = &cqt.Spectrogram{Magnitude: mag}
	}

	n, err := ReconcileFrames(specs)
	require.NoError(t, err)
	assert.Equal(t, 98, n)

	stacked := StackHarmonics(specs, n)
	assert.Equal(t, [3]int{6, 216, 98}, stacked.Shape)
	assert.Equal(t, 3097.0, stacked.At(3, 10, 97), "trailing frames are dropped, leading frames kept")

	_, err = ReconcileFrames(nil)
	assert.ErrorIs(t, err, common.ErrShapeMismatch)

	specs[2] = &cqt.Spectrogram{Magnitude: make([][]float64, 12)}
	_, err = ReconcileFrames(specs)
	assert.ErrorIs(t, err, common.ErrShapeMismatch)

	empty := []*cqt.Spectrogram{{Magnitude: [][]float64{{}}}}
	_, err = ReconcileFrames(empty)
	assert.ErrorIs(t, err, common.ErrShapeMismatch)
}

func TestLogCompress(t *testing.T) {
	tensor, err := common.TensorFrom([3]int{1, 1, 3}, []float64{1, 0.1, 0})
	require.NoError(t, err)
	LogCompress(tensor, 1e-5, 0)
	assert.InDeltaSlice(t, []float64{1, 0.75, -0.25}, tensor.Data, 1e-12)

	tensor, err = common.TensorFrom([3]int{1, 1, 3}, []float64{2, 0.2, 0})
	require.NoError(t, err)
	LogCompress(tensor, 1e-5, 80)
	assert.InDeltaSlice(t, []float64{1, 0.75, 0}, tensor.Data, 1e-12)

	silent := common.NewTensor(2, 3, 4)
	LogCompress(silent, MachineEpsilon, 0)
	for _, v := range silent.Data {
		assert.Equal(t, 1.0, v)
	}
}

func TestComputeMedian_Silence(t *testing.T) {
	e := newTestExtractor(t, &fakeLoader{})

	f, err := e.ComputeMedian(make([]float64, 22050), DefaultFeatureRate)
	require.NoError(t, err)

	assert.Equal(t, 6, f.Pitch.Shape[0])
	assert.Equal(t, 216, f.Pitch.Shape[1])
	assert.InDelta(t, 25, f.NFrames(), 1)
	assert.Len(t, f.AxTime, f.NFrames())
	assert.Len(t, f.AxFreq, 216)

	for _, v := range f.Pitch.Data {
		require.False(t, math.IsNaN(v) || math.IsInf(v, 0))
		require.Equal(t, 1.0, v)
	}
}

func TestComputeHCQT_Axes(t *testing.T) {
	e := newTestExtractor(t, &fakeLoader{})

	y := make([]float64, 3*22050)
	for i := range y {
		y[i] = math.Sin(2 * math.Pi * 440 * float64(i) / 22050)
	}
	h, err := e.ComputeHCQT(y)
	require.NoError(t, err)

	assert.Len(t, h.Times, h.Tensor.Shape[2])
	step := 256.0 / 22050
	for i := 1; i < len(h.Times); i++ {
		assert.InDelta(t, step, h.Times[i]-h.Times[i-1], 1e-12)
	}

	silent, err := e.ComputeHCQT(make([]float64, 22050))
	require.NoError(t, err)
	assert.Equal(t, h.Freqs, silent.Freqs, "frequency axis does not depend on content")

	assert.LessOrEqual(t, h.Tensor.Max(), 1.0)

	// 440 Hz sits 3 octaves + 9 semitones above C1 (32.7 Hz) in harmonic 1.
	mid := h.Tensor.Shape[2] / 2
	best, bestBin := math.Inf(-1), -1
	for b := range 216 {
		if v := h.Tensor.At(1, b, mid); v > best {
			best, bestBin = v, b
		}
	}
	assert.InDelta(t, 3*36+27, bestBin, 1)
}

func TestComputeHCQT_InvalidAudio(t *testing.T) {
	e := newTestExtractor(t, &fakeLoader{})

	_, err := e.ComputeHCQT(nil)
	assert.ErrorIs(t, err, common.ErrInvalidAudio)

	_, err = e.ComputeHCQT(make([]float64, 4095))
	assert.ErrorIs(t, err, common.ErrInvalidAudio)

	_, err = e.ComputeMedian(make([]float64, 22050), 0)
	assert.Error(t, err)
}

func TestComputeMedian_EmptyBinPolicy(t *testing.T) {
	y := make([]float64, 22050)

	e := newTestExtractor(t, &fakeLoader{})
	_, err := e.ComputeMedian(y, 200)
	assert.ErrorIs(t, err, common.ErrEmptyBin, "200 fps outruns the 86 fps native rate")

	skip, err := NewExtractor(DefaultHCQTConfig(), WithEmptyBinPolicy(binning.EmptyBinSkip), WithLogger(&logging.NoOpLogger{}))
	require.NoError(t, err)
	f, err := skip.ComputeMedian(y, 200)
	require.NoError(t, err)
	assert.Len(t, f.AxTime, f.NFrames())
	assert.Less(t, f.NFrames(), 200)
}

func TestComputeAndSave_RoundTrip(t *testing.T) {
	loader := &fakeLoader{seconds: 2, freq: 220}
	e := newTestExtractor(t, loader)

	out := filepath.Join(t.TempDir(), "nested", "song.npz")
	f, err := e.ComputeAndSave(context.Background(), "song.wav", out, DefaultFeatureRate)
	require.NoError(t, err)

	loaded, err := LoadFeatures(out)
	require.NoError(t, err)
	assert.Equal(t, f.Pitch.Shape, loaded.Pitch.Shape)
	assert.Equal(t, f.Pitch.Data, loaded.Pitch.Data)
	assert.Equal(t, f.AxTime, loaded.AxTime)
	assert.Equal(t, f.AxFreq, loaded.AxFreq)

	assert.NoFileExists(t, out+".partial")
}

func TestComputeFile_InputError(t *testing.T) {
	loader := &fakeLoader{fail: map[string]error{
		"broken.mp3": errors.Join(common.ErrInvalidAudio, errors.New("truncated frame")),
	}}
	e := newTestExtractor(t, loader)

	_, err := e.ComputeFile(context.Background(), "/music/broken.mp3", DefaultFeatureRate)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrInvalidAudio)

	var inErr *InputError
	require.ErrorAs(t, err, &inErr)
	assert.Equal(t, "/music/broken.mp3", inErr.Path)
	assert.Equal(t, "decode", inErr.Stage)
	assert.Contains(t, err.Error(), "/music/broken.mp3")

	loader.seconds = 0.1
	_, err = e.ComputeFile(context.Background(), "short.wav", DefaultFeatureRate)
	assert.ErrorIs(t, err, common.ErrInvalidAudio)
	require.ErrorAs(t, err, &inErr)
	assert.Equal(t, "features", inErr.Stage)
}
