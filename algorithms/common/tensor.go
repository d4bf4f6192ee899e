package common

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// Tensor is a dense, row-major 3D array of float64.
//
// The HCQT uses the layout (harmonic, frequency bin, time frame); the scorer
// input uses (time frame, frequency bin, harmonic).
type Tensor struct {
	Shape [3]int
	Data  []float64
}

// NewTensor allocates a zero-filled tensor.
func NewTensor(d0, d1, d2 int) *Tensor {
	return &Tensor{
		Shape: [3]int{d0, d1, d2},
		Data:  make([]float64, d0*d1*d2),
	}
}

// TensorFrom wraps data without copying. len(data) must match the shape.
func TensorFrom(shape [3]int, data []float64) (*Tensor, error) {
	if shape[0]*shape[1]*shape[2] != len(data) {
		return nil, fmt.Errorf("tensor shape %v does not hold %d values", shape, len(data))
	}
	return &Tensor{Shape: shape, Data: data}, nil
}

// Strides returns the element strides of each axis.
func (t *Tensor) Strides() [3]int {
	return [3]int{t.Shape[1] * t.Shape[2], t.Shape[2], 1}
}

// Index returns the flat offset of element (i, j, k).
func (t *Tensor) Index(i, j, k int) int {
	return (i*t.Shape[1]+j)*t.Shape[2] + k
}

// At returns element (i, j, k).
func (t *Tensor) At(i, j, k int) float64 {
	return t.Data[t.Index(i, j, k)]
}

// Set writes element (i, j, k).
func (t *Tensor) Set(i, j, k int, v float64) {
	t.Data[t.Index(i, j, k)] = v
}

// Row returns the contiguous last-axis slice at (i, j). It aliases Data.
func (t *Tensor) Row(i, j int) []float64 {
	off := t.Index(i, j, 0)
	return t.Data[off : off+t.Shape[2]]
}

// Max returns the largest element, or 0 for an empty tensor.
func (t *Tensor) Max() float64 {
	if len(t.Data) == 0 {
		return 0
	}
	return floats.Max(t.Data)
}

// Transpose returns a new tensor whose axis i is the receiver's axis perm[i].
func (t *Tensor) Transpose(perm [3]int) (*Tensor, error) {
	seen := [3]bool{}
	for _, p := range perm {
		if p < 0 || p > 2 || seen[p] {
			return nil, fmt.Errorf("invalid axis permutation %v", perm)
		}
		seen[p] = true
	}

	src := t.Strides()
	out := NewTensor(t.Shape[perm[0]], t.Shape[perm[1]], t.Shape[perm[2]])

	n := 0
	for i := 0; i < out.Shape[0]; i++ {
		for j := 0; j < out.Shape[1]; j++ {
			base := i*src[perm[0]] + j*src[perm[1]]
			for k := 0; k < out.Shape[2]; k++ {
				out.Data[n] = t.Data[base+k*src[perm[2]]]
				n++
			}
		}
	}
	return out, nil
}
