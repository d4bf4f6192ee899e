package common

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// Tiny is the smallest positive normal float64. Vectors whose norm falls
// below it are treated as zero.
const Tiny = 2.2250738585072014e-308

// Median returns the median of data without modifying it. An even count
// averages the two middle values. Empty input returns NaN.
func Median(data []float64) float64 {
	if len(data) == 0 {
		return math.NaN()
	}
	sorted := make([]float64, len(data))
	copy(sorted, data)
	return MedianInPlace(sorted)
}

// MedianInPlace sorts data and returns its median. Callers reuse a scratch
// buffer across calls to avoid allocating per element.
func MedianInPlace(data []float64) float64 {
	n := len(data)
	if n == 0 {
		return math.NaN()
	}
	if n == 1 {
		return data[0]
	}
	sort.Float64s(data)
	mid := n / 2
	if n%2 == 1 {
		return data[mid]
	}
	return 0.5 * (data[mid-1] + data[mid])
}

// L2NormalizeInPlace scales vec to unit Euclidean norm. A zero vector is
// left untouched unless fill is set, in which case every element becomes
// 1/sqrt(len(vec)) so the result still has unit norm.
func L2NormalizeInPlace(vec []float64, fill bool) {
	if len(vec) == 0 {
		return
	}
	norm := floats.Norm(vec, 2)
	if norm < Tiny {
		if fill {
			v := 1.0 / math.Sqrt(float64(len(vec)))
			for i := range vec {
				vec[i] = v
			}
		}
		return
	}
	floats.Scale(1.0/norm, vec)
}

// NextPowerOfTwo returns the smallest power of two >= n.
func NextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	power := 1
	for power < n {
		power <<= 1
	}
	return power
}

// AllFinite reports whether data holds no NaN or infinite values.
func AllFinite(data []float64) bool {
	for _, v := range data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
