package model

import (
	"context"
	"fmt"
	"math"
	"runtime"

	"github.com/tphakala/simd/f64"
	"golang.org/x/sync/errgroup"

	"github.com/RyanBlaney/sonido-chroma/algorithms/common"
)

// Activation is applied element-wise after a layer's bias.
type Activation int

const (
	Linear Activation = iota
	LeakyReLU
	Sigmoid
)

// leakyAlpha is the negative slope of LeakyReLU.
const leakyAlpha = 0.3

func (a Activation) apply(x float64) float64 {
	switch a {
	case LeakyReLU:
		if x < 0 {
			return leakyAlpha * x
		}
		return x
	case Sigmoid:
		return 1 / (1 + math.Exp(-x))
	default:
		return x
	}
}

// Conv2D is a stride-1 convolution with "same" padding over a
// (height, width, channel) tensor.
type Conv2D struct {
	Name       string
	KH, KW     int
	In, Out    int
	Activation Activation

	// weights[o] holds the (kh, kw, in) filter of output channel o, flattened.
	weights [][]float64
	bias    []float64
}

// NewConv2D builds a layer from a kernel laid out (kh, kw, in, out) and one
// bias per output channel.
func NewConv2D(name string, shape []int, kernel, bias []float64, act Activation) (*Conv2D, error) {
	if len(shape) != 4 {
		return nil, fmt.Errorf("%s: kernel must be 4-D, got shape %v", name, shape)
	}
	kh, kw, in, out := shape[0], shape[1], shape[2], shape[3]
	if len(kernel) != kh*kw*in*out {
		return nil, fmt.Errorf("%s: kernel shape %v does not hold %d values", name, shape, len(kernel))
	}
	if len(bias) != out {
		return nil, fmt.Errorf("%s: %d biases for %d output channels", name, len(bias), out)
	}

	patch := kh * kw * in
	weights := make([][]float64, out)
	for o := range weights {
		weights[o] = make([]float64, patch)
		for i := range patch {
			weights[o][i] = kernel[i*out+o]
		}
	}

	return &Conv2D{
		Name:       name,
		KH:         kh,
		KW:         kw,
		In:         in,
		Out:        out,
		Activation: act,
		weights:    weights,
		bias:       append([]float64(nil), bias...),
	}, nil
}

// Forward convolves x. Rows of the output are computed in parallel.
func (c *Conv2D) Forward(ctx context.Context, x *common.Tensor) (*common.Tensor, error) {
	h, w, in := x.Shape[0], x.Shape[1], x.Shape[2]
	if in != c.In {
		return nil, fmt.Errorf("%w: %s expects %d input channels, got %d",
			common.ErrShapeMismatch, c.Name, c.In, in)
	}

	// An even kernel puts the extra padding after the data.
	padTop := (c.KH - 1) / 2
	padLeft := (c.KW - 1) / 2

	out := common.NewTensor(h, w, c.Out)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for row := range h {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			patch := make([]float64, c.KH*c.KW*c.In)
			for col := range w {
				clear(patch)
				for dy := range c.KH {
					y := row + dy - padTop
					if y < 0 || y >= h {
						continue
					}
					for dx := range c.KW {
						xx := col + dx - padLeft
						if xx < 0 || xx >= w {
							continue
						}
						copy(patch[(dy*c.KW+dx)*c.In:], x.Row(y, xx))
					}
				}

				dst := out.Row(row, col)
				for o, filter := range c.weights {
					dst[o] = c.Activation.apply(f64.DotProduct(patch, filter) + c.bias[o])
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// softmaxRows normalises every row of a row-major (rows, cols) matrix.
func softmaxRows(data []float64, cols int) {
	for start := 0; start+cols <= len(data); start += cols {
		row := data[start : start+cols]
		peak := math.Inf(-1)
		for _, v := range row {
			peak = math.Max(peak, v)
		}
		sum := 0.0
		for i, v := range row {
			row[i] = math.Exp(v - peak)
			sum += row[i]
		}
		f64.Scale(row, row, 1/sum)
	}
}
