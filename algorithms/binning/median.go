package binning

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/RyanBlaney/sonido-chroma/algorithms/common"
)

// EmptyBinPolicy decides what MedianBin does with an interval that holds no
// native frames.
type EmptyBinPolicy int

const (
	// EmptyBinFail returns common.ErrEmptyBin.
	EmptyBinFail EmptyBinPolicy = iota
	// EmptyBinSkip drops the interval and its target time.
	EmptyBinSkip
	// EmptyBinZero emits an all-zero frame.
	EmptyBinZero
)

func (p EmptyBinPolicy) String() string {
	switch p {
	case EmptyBinFail:
		return "fail"
	case EmptyBinSkip:
		return "skip"
	case EmptyBinZero:
		return "zero"
	default:
		return fmt.Sprintf("EmptyBinPolicy(%d)", int(p))
	}
}

// ParseEmptyBinPolicy converts a config string. Empty means fail.
func ParseEmptyBinPolicy(s string) (EmptyBinPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fail", "error":
		return EmptyBinFail, nil
	case "skip":
		return EmptyBinSkip, nil
	case "zero":
		return EmptyBinZero, nil
	default:
		return EmptyBinFail, fmt.Errorf("unknown empty bin policy %q", s)
	}
}

// UniformGrid returns target times from first to last inclusive, spaced
// 1/rate apart, with numpy arange arithmetic: the length is
// ceil((stop-first)/step) and element i is first + i*delta, where delta is
// the spacing of the first two elements. A machine epsilon is added to last
// so a grid point landing exactly on it is kept.
func UniformGrid(first, last, rate float64) []float64 {
	if rate <= 0 || last < first {
		return []float64{}
	}

	step := 1 / rate
	stop := last + math.Nextafter(1, 2) - 1
	n := int(math.Ceil((stop - first) / step))
	grid := make([]float64, n)
	if n == 0 {
		return grid
	}

	grid[0] = first
	if n > 1 {
		grid[1] = first + step
	}
	delta := grid[min(1, n-1)] - first
	for i := 2; i < n; i++ {
		grid[i] = first + float64(i)*delta
	}
	return grid
}

// Boundaries maps every target time to the first native index at or after
// it and closes the final interval at len(oldTimes). Interval i is
// [b[i], b[i+1]). oldTimes must be sorted.
func Boundaries(oldTimes, newTimes []float64) []int {
	bounds := make([]int, len(newTimes)+1)
	for i, t := range newTimes {
		bounds[i] = sort.SearchFloat64s(oldTimes, t)
	}
	bounds[len(newTimes)] = len(oldTimes)
	return bounds
}

// MedianBin resamples t along axis onto newTimes. Each output frame is the
// element-wise median of the native frames in its interval; native frames
// before newTimes[0] are discarded.
//
// The returned time axis equals newTimes unless EmptyBinSkip removed
// intervals.
func MedianBin(t *common.Tensor, axis int, oldTimes, newTimes []float64, policy EmptyBinPolicy) (*common.Tensor, []float64, error) {
	if axis < 0 || axis > 2 {
		return nil, nil, fmt.Errorf("axis %d out of range for a 3D tensor", axis)
	}
	if t.Shape[axis] != len(oldTimes) {
		return nil, nil, fmt.Errorf("%w: axis %d has %d frames but time axis has %d",
			common.ErrShapeMismatch, axis, t.Shape[axis], len(oldTimes))
	}
	if len(newTimes) == 0 {
		return nil, nil, fmt.Errorf("%w: empty target grid", common.ErrEmptyBin)
	}

	bounds := Boundaries(oldTimes, newTimes)

	type interval struct{ start, end int }
	kept := make([]interval, 0, len(newTimes))
	times := make([]float64, 0, len(newTimes))
	for i := range newTimes {
		start, end := bounds[i], bounds[i+1]
		if end <= start {
			switch policy {
			case EmptyBinSkip:
				continue
			case EmptyBinZero:
				end = start
			default:
				return nil, nil, fmt.Errorf("%w: target %.4fs (frame %d of %d)",
					common.ErrEmptyBin, newTimes[i], i, len(newTimes))
			}
		}
		kept = append(kept, interval{start, end})
		times = append(times, newTimes[i])
	}
	if len(kept) == 0 {
		return nil, nil, fmt.Errorf("%w: every interval is empty", common.ErrEmptyBin)
	}

	// Work with the resampled axis last so each row is contiguous.
	perm := lastAxisPerm(axis)
	src, err := t.Transpose(perm)
	if err != nil {
		return nil, nil, err
	}

	out := common.NewTensor(src.Shape[0], src.Shape[1], len(kept))
	scratch := make([]float64, 0, 64)
	for i := 0; i < src.Shape[0]; i++ {
		for j := 0; j < src.Shape[1]; j++ {
			row := src.Row(i, j)
			dst := out.Row(i, j)
			for k, iv := range kept {
				if iv.end == iv.start {
					dst[k] = 0
					continue
				}
				scratch = append(scratch[:0], row[iv.start:iv.end]...)
				dst[k] = common.MedianInPlace(scratch)
			}
		}
	}

	result, err := out.Transpose(inversePerm(perm))
	if err != nil {
		return nil, nil, err
	}
	return result, times, nil
}

func lastAxisPerm(axis int) [3]int {
	switch axis {
	case 0:
		return [3]int{1, 2, 0}
	case 1:
		return [3]int{0, 2, 1}
	default:
		return [3]int{0, 1, 2}
	}
}

func inversePerm(perm [3]int) [3]int {
	var inv [3]int
	for i, p := range perm {
		inv[p] = i
	}
	return inv
}
