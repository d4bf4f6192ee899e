package features

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RyanBlaney/sonido-chroma/algorithms/common"
)

type memRecorder struct {
	mu      sync.Mutex
	results []Result
}

func (m *memRecorder) Record(ctx context.Context, r Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, r)
	return nil
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("develop")
	require.NoError(t, err)
	assert.Equal(t, ModeDevelop, m)

	m, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeProduction, m)

	_, err = ParseMode("staging")
	assert.Error(t, err)
}

func TestFindInputsAndPlanJobs(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.wav", "a.wav", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}

	inputs, err := FindInputs(dir, "*.wav")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.wav"), filepath.Join(dir, "b.wav")}, inputs)

	jobs := PlanJobs(inputs, "/out")
	assert.Equal(t, filepath.Join("/out", "a.npz"), jobs[0].Output)

	_, err = FindInputs(filepath.Join(dir, "missing"), "*.wav")
	assert.Error(t, err)
}

func TestBatch_IsolatesFailuresAndSkipsExisting(t *testing.T) {
	loader := &fakeLoader{
		seconds: 1,
		freq:    330,
		fail:    map[string]error{"bad.wav": common.ErrInvalidAudio},
	}
	e := newTestExtractor(t, loader)

	outDir := t.TempDir()
	jobs := PlanJobs([]string{"/in/a.wav", "/in/bad.wav", "/in/c.wav", "/in/done.wav"}, outDir)
	require.NoError(t, os.WriteFile(jobs[3].Output, []byte("existing"), 0o644))

	rec := &memRecorder{}
	var progress []int
	b := NewBatch(e, DefaultFeatureRate,
		WithWorkers(2),
		WithRecorder(rec),
		WithProgress(func(done, total int, r Result) {
			progress = append(progress, done)
			assert.Equal(t, 4, total)
		}),
	)

	summary, err := b.Run(context.Background(), jobs)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Results, 4)

	bad := summary.Results[1]
	assert.ErrorIs(t, bad.Err, common.ErrInvalidAudio)
	var inErr *InputError
	require.True(t, errors.As(bad.Err, &inErr))
	assert.Equal(t, "/in/bad.wav", inErr.Path)
	assert.Len(t, summary.Errors(), 1)

	assert.True(t, summary.Results[3].Skipped)
	assert.Positive(t, summary.Results[0].Frames)
	assert.FileExists(t, jobs[0].Output)
	assert.FileExists(t, jobs[2].Output)
	assert.NoFileExists(t, jobs[1].Output)

	assert.Len(t, rec.results, 4)
	assert.ElementsMatch(t, []int{1, 2, 3, 4}, progress)
	assert.NotContains(t, loader.calls, "/in/done.wav", "existing outputs are not decoded")
}

func TestBatch_DevelopModeRunsFirstOnly(t *testing.T) {
	loader := &fakeLoader{seconds: 1}
	e := newTestExtractor(t, loader)

	jobs := PlanJobs([]string{"/in/a.wav", "/in/b.wav", "/in/c.wav"}, t.TempDir())
	summary, err := NewBatch(e, DefaultFeatureRate, WithMode(ModeDevelop)).Run(context.Background(), jobs)
	require.NoError(t, err)

	require.Len(t, summary.Results, 1)
	assert.Equal(t, "/in/a.wav", summary.Results[0].Input)
	assert.Equal(t, []string{"/in/a.wav"}, loader.calls)
}

func TestBatch_CancelledContext(t *testing.T) {
	loader := &fakeLoader{seconds: 1}
	e := newTestExtractor(t, loader)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	jobs := PlanJobs([]string{"/in/a.wav", "/in/b.wav"}, t.TempDir())
	summary, err := NewBatch(e, DefaultFeatureRate).Run(ctx, jobs)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, summary.Results)
	assert.Empty(t, loader.calls)
}

func TestBatch_Overwrite(t *testing.T) {
	loader := &fakeLoader{seconds: 1}
	e := newTestExtractor(t, loader)

	jobs := PlanJobs([]string{"/in/a.wav"}, t.TempDir())
	require.NoError(t, os.WriteFile(jobs[0].Output, []byte("stale"), 0o644))

	summary, err := NewBatch(e, DefaultFeatureRate, WithOverwrite(true)).Run(context.Background(), jobs)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)

	_, err = LoadFeatures(jobs[0].Output)
	assert.NoError(t, err)
}
