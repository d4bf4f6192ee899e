package features

import (
	"fmt"
	"math"

	"github.com/RyanBlaney/sonido-chroma/algorithms/common"
	"github.com/RyanBlaney/sonido-chroma/algorithms/cqt"
)

// ReconcileFrames returns the frame count every harmonic is truncated to:
// the minimum across transforms. Bin counts must agree.
func ReconcileFrames(specs []*cqt.Spectrogram) (int, error) {
	if len(specs) == 0 {
		return 0, fmt.Errorf("%w: no transforms to reconcile", common.ErrShapeMismatch)
	}

	nBins := specs[0].NBins()
	nFrames := specs[0].NFrames()
	for i, s := range specs[1:] {
		if s.NBins() != nBins {
			return 0, fmt.Errorf("%w: transform %d has %d bins, expected %d",
				common.ErrShapeMismatch, i+1, s.NBins(), nBins)
		}
		nFrames = min(nFrames, s.NFrames())
	}

	if nFrames == 0 {
		return 0, fmt.Errorf("%w: no frames in common", common.ErrShapeMismatch)
	}
	return nFrames, nil
}

// StackHarmonics copies the first nFrames frames of every transform into a
// (harmonic, bin, frame) tensor.
func StackHarmonics(specs []*cqt.Spectrogram, nFrames int) *common.Tensor {
	if len(specs) == 0 {
		return common.NewTensor(0, 0, nFrames)
	}

	t := common.NewTensor(len(specs), specs[0].NBins(), nFrames)
	for h, s := range specs {
		for b, row := range s.Magnitude {
			copy(t.Row(h, b), row[:nFrames])
		}
	}
	return t
}

// LogCompress converts magnitudes to decibels relative to the tensor
// maximum, optionally clips to topDB below the peak, and maps the result
// through db/80 + 1. Values are floored at amin before the log so silence
// compresses to exactly 1.
func LogCompress(t *common.Tensor, amin, topDB float64) {
	ref := 20 * math.Log10(math.Max(amin, t.Max()))

	peak := math.Inf(-1)
	for i, v := range t.Data {
		db := 20*math.Log10(math.Max(amin, math.Abs(v))) - ref
		t.Data[i] = db
		peak = math.Max(peak, db)
	}

	floor := peak - topDB
	for i, db := range t.Data {
		if topDB > 0 && db < floor {
			db = floor
		}
		t.Data[i] = db/80 + 1
	}
}
