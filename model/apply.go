package model

import (
	"context"

	"gonum.org/v1/gonum/mat"

	"github.com/RyanBlaney/sonido-chroma/features"
	"github.com/RyanBlaney/sonido-chroma/logging"
)

// Applier turns audio files into chroma with one scorer.
type Applier struct {
	extractor *features.Extractor
	network   *Network
	rate      float64
	norm      Normalization
	logger    logging.Logger
}

// NewApplier creates an applier scoring features computed at rate.
func NewApplier(extractor *features.Extractor, network *Network, rate float64, norm Normalization) *Applier {
	return &Applier{
		extractor: extractor,
		network:   network,
		rate:      rate,
		norm:      norm,
		logger: logging.WithFields(logging.Fields{
			"component": "chroma_applier",
			"model_id":  network.ID,
		}),
	}
}

// ChromaFromFeatures scores precomputed features.
func (a *Applier) ChromaFromFeatures(ctx context.Context, f *features.Features) (*mat.Dense, error) {
	x, err := PrepareInput(f.Pitch, a.norm)
	if err != nil {
		return nil, err
	}
	probs, err := a.network.Predict(ctx, x)
	if err != nil {
		return nil, err
	}
	return Chroma(probs)
}

// ChromaFile computes the (12, time) chroma of an audio file and its time
// axis.
func (a *Applier) ChromaFile(ctx context.Context, path string) (*mat.Dense, []float64, error) {
	f, err := a.extractor.ComputeFile(ctx, path, a.rate)
	if err != nil {
		return nil, nil, err
	}

	chroma, err := a.ChromaFromFeatures(ctx, f)
	if err != nil {
		return nil, nil, &features.InputError{Path: path, Stage: "score", Err: err}
	}
	return chroma, f.AxTime, nil
}

// Task adapts the applier to a feature batch: every job's output becomes a
// chroma archive.
func (a *Applier) Task(ctx context.Context, job features.Job) (int, error) {
	chroma, times, err := a.ChromaFile(ctx, job.Input)
	if err != nil {
		return 0, err
	}
	if err := SaveChroma(job.Output, chroma, times); err != nil {
		return 0, &features.InputError{Path: job.Input, Stage: "save", Err: err}
	}

	a.logger.Debug("Chroma saved", logging.Fields{
		"input":  job.Input,
		"output": job.Output,
		"frames": len(times),
	})
	return len(times), nil
}
