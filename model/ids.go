// Package model runs the pretrained chroma scorers on harmonic CQT features.
//
// A scorer is a small fully convolutional network over (time, pitch) with
// the harmonics as input channels. Its sigmoid activation map is pooled
// into 12 pitch classes plus one no-pitch class and normalised with a
// softmax. Weights come from npz bundles named model_<id>.npz.
package model

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
)

// ErrUnknownModelID is returned for identifiers outside IDs.
var ErrUnknownModelID = errors.New("unknown model identifier")

// IDs lists the supported scorer identifiers. The name encodes the training
// objective (ctc, linear, strong) and the dataset folds used for training
// and validation.
var IDs = []string{
	"v1_ctc_train1234valid5",
	"v1_ctc_train123valid4",
	"v1_ctc_train2345valid1",
	"v1_ctc_train234valid5",
	"v1_ctc_train3451valid2",
	"v1_ctc_train345valid1",
	"v1_ctc_train4512valid3",
	"v1_ctc_train451valid2",
	"v1_ctc_train5123valid4",
	"v1_ctc_train512valid3",
	"v2_ctc_train123valid4",
	"v2_ctc_train234valid5",
	"v2_ctc_train345valid1",
	"v2_ctc_train451valid2",
	"v2_ctc_train512valid3",
	"v2_linear_train123valid4",
	"v2_linear_train234valid5",
	"v2_linear_train345valid1",
	"v2_linear_train451valid2",
	"v2_linear_train512valid3",
	"v2_strong_train123valid4",
	"v2_strong_train234valid5",
	"v2_strong_train345valid1",
	"v2_strong_train451valid2",
	"v2_strong_train512valid3",
}

// ValidateID checks id against IDs.
func ValidateID(id string) error {
	if !slices.Contains(IDs, id) {
		return fmt.Errorf("%w: %q", ErrUnknownModelID, id)
	}
	return nil
}

// BundlePath returns the weights bundle location for id inside dir.
func BundlePath(dir, id string) string {
	return filepath.Join(dir, "model_"+id+".npz")
}
