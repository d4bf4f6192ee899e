package model

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/RyanBlaney/sonido-chroma/algorithms/common"
	"github.com/RyanBlaney/sonido-chroma/npz"
)

// Normalization selects which slices of the scorer input get unit L2 norm.
type Normalization int

const (
	// NormFrame normalises each time frame over all pitches and harmonics.
	NormFrame Normalization = iota
	// NormPitch normalises each (frame, harmonic) pitch vector separately.
	NormPitch
)

// ParseNormalization converts a config string. Empty means frame.
func ParseNormalization(s string) (Normalization, error) {
	switch s {
	case "", "frame":
		return NormFrame, nil
	case "pitch":
		return NormPitch, nil
	default:
		return NormFrame, fmt.Errorf("unknown input normalization %q", s)
	}
}

// PrepareInput turns a (harmonic, pitch, time) feature tensor into the
// (time, pitch, harmonic) scorer input and L2-normalises it. All-zero
// slices become uniform unit vectors.
func PrepareInput(pitch *common.Tensor, norm Normalization) (*common.Tensor, error) {
	x, err := pitch.Transpose([3]int{2, 1, 0})
	if err != nil {
		return nil, err
	}

	frames, pitches, harmonics := x.Shape[0], x.Shape[1], x.Shape[2]
	switch norm {
	case NormPitch:
		vec := make([]float64, pitches)
		for t := range frames {
			for h := range harmonics {
				for p := range pitches {
					vec[p] = x.At(t, p, h)
				}
				common.L2NormalizeInPlace(vec, true)
				for p := range pitches {
					x.Set(t, p, h, vec[p])
				}
			}
		}
	default:
		size := pitches * harmonics
		for t := range frames {
			common.L2NormalizeInPlace(x.Data[t*size:(t+1)*size], true)
		}
	}

	return x, nil
}

// Chroma drops the no-pitch class from (time, 13) probabilities and returns
// a (12, time) chroma with every frame L2-normalised.
func Chroma(probs *mat.Dense) (*mat.Dense, error) {
	frames, classes := probs.Dims()
	if classes != NumClasses {
		return nil, fmt.Errorf("%w: %d classes, expected %d", common.ErrShapeMismatch, classes, NumClasses)
	}

	chroma := mat.NewDense(12, frames, nil)
	col := make([]float64, 12)
	for t := range frames {
		for c := range 12 {
			col[c] = probs.At(t, c)
		}
		common.L2NormalizeInPlace(col, true)
		chroma.SetCol(t, col)
	}
	return chroma, nil
}

// Array names in a chroma archive.
const (
	KeyChroma = "chroma"
	KeyTime   = "time_ax"
)

// SaveChroma writes a (12, time) chroma and its time axis to path.
func SaveChroma(path string, chroma *mat.Dense, times []float64) error {
	rows, cols := chroma.Dims()
	if cols != len(times) {
		return fmt.Errorf("%w: %d chroma frames, %d time stamps", common.ErrShapeMismatch, cols, len(times))
	}

	// Copy out of a possibly strided view.
	data := mat.DenseCopyOf(chroma).RawMatrix().Data
	return npz.WriteFile(path, func(w *npz.Writer) error {
		if err := w.WriteFloat64(KeyChroma, []int{rows, cols}, data); err != nil {
			return err
		}
		return w.WriteFloat64(KeyTime, []int{len(times)}, times)
	})
}

// LoadChroma reads an archive written by SaveChroma.
func LoadChroma(path string) (*mat.Dense, []float64, error) {
	r, err := npz.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer r.Close()

	shape, data, err := r.ReadFloat64(KeyChroma)
	if err != nil {
		return nil, nil, err
	}
	if len(shape) != 2 {
		return nil, nil, fmt.Errorf("%w: chroma has shape %v", common.ErrShapeMismatch, shape)
	}
	_, times, err := r.ReadFloat64(KeyTime)
	if err != nil {
		return nil, nil, err
	}
	return mat.NewDense(shape[0], shape[1], data), times, nil
}
