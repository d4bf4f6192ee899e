package common

import "errors"

// Pipeline error sentinels. Stages wrap them with fmt.Errorf("%w: ...") so
// callers can match with errors.Is regardless of the detail message.
var (
	// ErrInvalidAudio marks input that cannot be decoded or is degenerate
	// (empty, or shorter than one analysis window of the lowest harmonic).
	ErrInvalidAudio = errors.New("invalid audio")

	// ErrShapeMismatch marks per-harmonic transforms that cannot be
	// reconciled to a common, non-zero time length.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrEmptyBin marks a resampling interval holding zero native frames.
	ErrEmptyBin = errors.New("empty resampling bin")
)
