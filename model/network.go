package model

import (
	"context"
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/mat"

	"github.com/RyanBlaney/sonido-chroma/algorithms/common"
	"github.com/RyanBlaney/sonido-chroma/npz"
)

const (
	// NumPitches is the frequency axis length the scorers were trained on.
	NumPitches = 216
	// NumHarmonics is the number of input channels.
	NumHarmonics = 6
	// NumClasses is 12 pitch classes plus the no-pitch class.
	NumClasses = 13
)

// convSpec describes one convolution of the scorer.
type convSpec struct {
	name   string
	kh, kw int
	out    int
	act    Activation
}

var convStack = []convSpec{
	{name: "bendy1", kh: 3, kw: 3, out: 64, act: LeakyReLU},
	{name: "bendy2", kh: 3, kw: 3, out: 32, act: LeakyReLU},
	{name: "smoothy1", kh: 3, kw: 3, out: 32, act: LeakyReLU},
	{name: "smoothy2", kh: 3, kw: 3, out: 32, act: LeakyReLU},
	{name: "distribute", kh: 3, kw: 42, out: 8, act: LeakyReLU},
	{name: "squishy", kh: 1, kw: 1, out: 1, act: Sigmoid},
}

// Weights is a source of named arrays, satisfied by *npz.Reader.
type Weights interface {
	Has(name string) bool
	ReadFloat64(name string) ([]int, []float64, error)
}

// Network is a loaded scorer. It is read-only after construction and safe
// for concurrent use.
type Network struct {
	ID    string
	convs []*Conv2D

	// chromaPool is (NumPitches, 12); epsPool is (NumPitches, 1).
	chromaPool *mat.Dense
	epsPool    *mat.Dense
	epsBias    float64
}

// Load validates id and reads model_<id>.npz from dir.
func Load(dir, id string) (*Network, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}

	path := BundlePath(dir, id)
	r, err := npz.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open weights for %s: %w", id, err)
	}
	defer r.Close()

	net, err := NewNetwork(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	net.ID = id
	return net, nil
}

// NewNetwork builds the scorer from w. chroma_pool/kernel is optional and
// defaults to OctaveFolding.
func NewNetwork(w Weights) (*Network, error) {
	net := &Network{}

	in := NumHarmonics
	for _, spec := range convStack {
		shape, kernel, err := w.ReadFloat64(spec.name + "/kernel")
		if err != nil {
			return nil, err
		}
		_, bias, err := w.ReadFloat64(spec.name + "/bias")
		if err != nil {
			return nil, err
		}

		want := []int{spec.kh, spec.kw, in, spec.out}
		if !slices.Equal(shape, want) {
			return nil, fmt.Errorf("%w: %s kernel is %v, expected %v",
				common.ErrShapeMismatch, spec.name, shape, want)
		}

		conv, err := NewConv2D(spec.name, shape, kernel, bias, spec.act)
		if err != nil {
			return nil, err
		}
		net.convs = append(net.convs, conv)
		in = spec.out
	}

	net.chromaPool = OctaveFolding()
	if w.Has("chroma_pool/kernel") {
		shape, data, err := w.ReadFloat64("chroma_pool/kernel")
		if err != nil {
			return nil, err
		}
		if !slices.Equal(shape, []int{NumPitches, 12}) {
			return nil, fmt.Errorf("%w: chroma_pool kernel is %v", common.ErrShapeMismatch, shape)
		}
		net.chromaPool = mat.NewDense(NumPitches, 12, data)
	}

	shape, data, err := w.ReadFloat64("eps_pool/kernel")
	if err != nil {
		return nil, err
	}
	if !slices.Equal(shape, []int{NumPitches, 1}) {
		return nil, fmt.Errorf("%w: eps_pool kernel is %v", common.ErrShapeMismatch, shape)
	}
	net.epsPool = mat.NewDense(NumPitches, 1, data)

	_, bias, err := w.ReadFloat64("eps_pool/bias")
	if err != nil {
		return nil, err
	}
	if len(bias) != 1 {
		return nil, fmt.Errorf("%w: eps_pool has %d biases", common.ErrShapeMismatch, len(bias))
	}
	net.epsBias = bias[0]

	return net, nil
}

// OctaveFolding returns the fixed (NumPitches, 12) projection summing every
// pitch bin into its pitch class. Bins run at three per semitone from C, so
// bin p belongs to semitone round(p/3).
func OctaveFolding() *mat.Dense {
	m := mat.NewDense(NumPitches, 12, nil)
	for p := range NumPitches {
		pc := int(math.Round(float64(p)/3)) % 12
		m.Set(p, pc, 1)
	}
	return m
}

// Predict scores a (time, pitch, harmonic) input and returns (time, 13)
// class probabilities, the no-pitch class last.
func (n *Network) Predict(ctx context.Context, x *common.Tensor) (*mat.Dense, error) {
	if x.Shape[1] != NumPitches || x.Shape[2] != NumHarmonics {
		return nil, fmt.Errorf("%w: input is %v, expected (time, %d, %d)",
			common.ErrShapeMismatch, x.Shape, NumPitches, NumHarmonics)
	}
	if x.Shape[0] == 0 {
		return nil, fmt.Errorf("%w: input has no frames", common.ErrShapeMismatch)
	}

	act := x
	for _, conv := range n.convs {
		var err error
		act, err = conv.Forward(ctx, act)
		if err != nil {
			return nil, err
		}
	}

	// squishy has one channel, so the data is already (time, pitch).
	frames := act.Shape[0]
	salience := mat.NewDense(frames, NumPitches, act.Data)

	var chroma, eps mat.Dense
	chroma.Mul(salience, n.chromaPool)
	eps.Mul(salience, n.epsPool)

	logits := mat.NewDense(frames, NumClasses, nil)
	for t := range frames {
		for c := range 12 {
			logits.Set(t, c, chroma.At(t, c))
		}
		logits.Set(t, 12, eps.At(t, 0)+n.epsBias)
	}

	softmaxRows(logits.RawMatrix().Data, NumClasses)
	return logits, nil
}
