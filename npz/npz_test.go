package npz

import (
	"errors"
	"math"
	"path/filepath"
	"testing"

	npyz "github.com/sbinet/npyio/npz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "features.npz")

	pitch := make([]float64, 2*3*4)
	for i := range pitch {
		pitch[i] = math.Sin(float64(i)) * 1e-3
	}
	pitch[5] = math.SmallestNonzeroFloat64
	chroma := []float64{1, 2, 3, 4, 5, 6}
	axis := []float64{0, 0.04, 0.08, 0.12}

	w, err := Create(path)
	require.NoError(t, err)
	require.NoError(t, w.WriteFloat64("f_pitch", []int{2, 3, 4}, pitch))
	require.NoError(t, w.WriteFloat64("chroma", []int{2, 3}, chroma))
	require.NoError(t, w.WriteFloat64("f_pitch_ax_time", []int{4}, axis))
	require.NoError(t, w.Close())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	assert.True(t, r.Has("f_pitch"))
	assert.False(t, r.Has("f_pitch.npy"))

	shape, data, err := r.ReadFloat64("f_pitch")
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 4}, shape)
	require.Len(t, data, len(pitch))
	for i := range pitch {
		assert.Equal(t, math.Float64bits(pitch[i]), math.Float64bits(data[i]), "element %d", i)
	}

	shape, data, err = r.ReadFloat64("chroma")
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, shape)
	assert.Equal(t, chroma, data)

	shape, data, err = r.ReadFloat64("f_pitch_ax_time")
	require.NoError(t, err)
	assert.Equal(t, []int{4}, shape)
	assert.Equal(t, axis, data)

	_, _, err = r.ReadFloat64("missing")
	assert.Error(t, err)
}

func TestWriteFloat64_ShapeCheck(t *testing.T) {
	w, err := Create(filepath.Join(t.TempDir(), "bad.npz"))
	require.NoError(t, err)
	defer w.Close()

	assert.Error(t, w.WriteFloat64("x", []int{2, 2}, []float64{1}))
}

func TestReadFloat64_Float32(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weights.npz")

	w, err := npyz.Create(path)
	require.NoError(t, err)
	require.NoError(t, w.Write("eps_pool/bias", []float32{0.5, -2}))
	require.NoError(t, w.Close())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	shape, data, err := r.ReadFloat64("eps_pool/bias")
	require.NoError(t, err)
	assert.Equal(t, []int{2}, shape)
	assert.Equal(t, []float64{0.5, -2}, data)
}

func TestWriteFile_Atomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "song.npz")

	require.NoError(t, WriteFile(path, func(w *Writer) error {
		return w.WriteFloat64("time_ax", []int{2}, []float64{0, 0.04})
	}))
	assert.FileExists(t, path)
	assert.NoFileExists(t, path+".partial")

	err := WriteFile(path, func(w *Writer) error {
		if err := w.WriteFloat64("time_ax", []int{1}, []float64{9}); err != nil {
			return err
		}
		return errors.New("scorer failed")
	})
	require.EqualError(t, err, "scorer failed")
	assert.NoFileExists(t, path+".partial")

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()
	_, data, err := r.ReadFloat64("time_ax")
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0.04}, data, "earlier file is untouched")

	fresh := filepath.Join(filepath.Dir(path), "fresh.npz")
	require.Error(t, WriteFile(fresh, func(w *Writer) error {
		return w.WriteFloat64("x", []int{3}, []float64{1})
	}))
	assert.NoFileExists(t, fresh)
	assert.NoFileExists(t, fresh+".partial")
}
