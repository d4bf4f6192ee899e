package binning

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RyanBlaney/sonido-chroma/algorithms/common"
)

func TestUniformGrid_Length(t *testing.T) {
	tests := []struct {
		name        string
		first, last float64
		rate        float64
	}{
		{name: "one second of 256-hop frames", first: 0, last: 86 * 256.0 / 22050, rate: 25},
		{name: "offset start", first: 0.3, last: 7.77, rate: 10},
		{name: "single point", first: 1.5, last: 1.5, rate: 25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			grid := UniformGrid(tt.first, tt.last, tt.rate)
			want := int(math.Floor((tt.last-tt.first)*tt.rate)) + 1
			assert.Len(t, grid, want)
			assert.Equal(t, tt.first, grid[0])
			for i := 1; i < len(grid); i++ {
				assert.InDelta(t, 1/tt.rate, grid[i]-grid[i-1], 1e-12)
			}
		})
	}

	assert.Empty(t, UniformGrid(0, 1, 0))
}

func TestUniformGrid_LongAxisMatchesArange(t *testing.T) {
	const rate = 25.0
	step := 1 / rate

	grid := UniformGrid(0, 512, rate)
	require.Len(t, grid, 12800)
	for i, v := range grid {
		if !assert.Equal(t, math.Float64bits(float64(i)*step), math.Float64bits(v), "index %d", i) {
			break
		}
	}
	// float64(12160)/25 would give 486.4
	assert.Equal(t, 486.40000000000003, grid[12160])

	offset := UniformGrid(0.3, 600.3, rate)
	delta := (0.3 + step) - 0.3
	assert.Equal(t, 0.3+step, offset[1])
	assert.Equal(t, 0.3+float64(14000)*delta, offset[14000])
}

func TestBoundaries(t *testing.T) {
	old := []float64{0, 0.1, 0.2, 0.3, 0.4, 0.5}
	assert.Equal(t, []int{0, 3, 6}, Boundaries(old, []float64{0, 0.25}))
	assert.Equal(t, []int{1, 3, 6}, Boundaries(old, []float64{0.05, 0.3}))
}

func TestMedianBin_Identity(t *testing.T) {
	const rate = 25.0
	n := 10
	times := make([]float64, n)
	for i := range times {
		times[i] = float64(i) * (1 / rate)
	}

	in := common.NewTensor(2, 3, n)
	for i := range in.Data {
		in.Data[i] = float64(i*7%11) - 3
	}

	grid := UniformGrid(times[0], times[n-1], rate)
	require.Len(t, grid, n)

	out, outTimes, err := MedianBin(in, 2, times, grid, EmptyBinFail)
	require.NoError(t, err)
	assert.Equal(t, in.Shape, out.Shape)
	assert.Equal(t, in.Data, out.Data)
	assert.Equal(t, grid, outTimes)
}

func TestMedianBin_Aggregates(t *testing.T) {
	old := []float64{0, 0.1, 0.2, 0.3, 0.4, 0.5}
	in, err := common.TensorFrom([3]int{1, 1, 6}, []float64{9, 1, 5, 2, 8, 4})
	require.NoError(t, err)

	out, _, err := MedianBin(in, 2, old, []float64{0.05, 0.3}, EmptyBinFail)
	require.NoError(t, err)

	// [0.1, 0.2] -> {1, 5}; [0.3, 0.5] -> {2, 8, 4}. Frame 0 precedes the grid.
	assert.Equal(t, []float64{3, 4}, out.Data)
}

func TestMedianBin_OtherAxis(t *testing.T) {
	in := common.NewTensor(4, 2, 1)
	for i := range in.Data {
		in.Data[i] = float64(i)
	}

	out, _, err := MedianBin(in, 0, []float64{0, 1, 2, 3}, []float64{0, 2}, EmptyBinFail)
	require.NoError(t, err)
	assert.Equal(t, [3]int{2, 2, 1}, out.Shape)
	assert.Equal(t, 1.0, out.At(0, 0, 0))
	assert.Equal(t, 5.0, out.At(1, 0, 0))
	assert.Equal(t, 6.0, out.At(1, 1, 0))
}

func TestMedianBin_EmptyBins(t *testing.T) {
	old := []float64{0, 0.1, 0.2}
	grid := []float64{0, 0.04, 0.08, 0.12}
	in, err := common.TensorFrom([3]int{1, 1, 3}, []float64{1, 2, 3})
	require.NoError(t, err)

	_, _, err = MedianBin(in, 2, old, grid, EmptyBinFail)
	assert.ErrorIs(t, err, common.ErrEmptyBin)

	out, times, err := MedianBin(in, 2, old, grid, EmptyBinSkip)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, out.Data)
	assert.Equal(t, []float64{0, 0.08, 0.12}, times)

	out, times, err = MedianBin(in, 2, old, grid, EmptyBinZero)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0, 2, 3}, out.Data)
	assert.Equal(t, grid, times)
}

func TestMedianBin_ShapeMismatch(t *testing.T) {
	in := common.NewTensor(1, 1, 3)
	_, _, err := MedianBin(in, 2, []float64{0, 1}, []float64{0}, EmptyBinFail)
	assert.ErrorIs(t, err, common.ErrShapeMismatch)
}

func TestParseEmptyBinPolicy(t *testing.T) {
	p, err := ParseEmptyBinPolicy("SKIP")
	require.NoError(t, err)
	assert.Equal(t, EmptyBinSkip, p)

	p, err = ParseEmptyBinPolicy("")
	require.NoError(t, err)
	assert.Equal(t, EmptyBinFail, p)

	_, err = ParseEmptyBinPolicy("interpolate")
	assert.Error(t, err)
	assert.Equal(t, "zero", EmptyBinZero.String())
}
