package transcode

import (
	"context"
	"path/filepath"
	"strings"
	"time"
)

// TargetSampleRate is the rate every loader delivers.
const TargetSampleRate = 22050

// AudioData is a decoded mono waveform.
type AudioData struct {
	PCM        []float64     `json:"-"`
	SampleRate int           `json:"sample_rate"`
	Channels   int           `json:"channels"`
	Duration   time.Duration `json:"duration"`
	Source     string        `json:"source"`
	Codec      string        `json:"codec,omitempty"`
}

// Loader decodes an audio file into a mono waveform at TargetSampleRate.
type Loader interface {
	Load(ctx context.Context, path string) (*AudioData, error)
}

// AutoLoader decodes .wav files natively and hands everything else to
// ffmpeg.
type AutoLoader struct {
	WAV    *WAVLoader
	FFmpeg *Decoder
}

// NewAutoLoader creates a loader with default WAV and ffmpeg settings.
func NewAutoLoader() *AutoLoader {
	return &AutoLoader{
		WAV:    NewWAVLoader(TargetSampleRate),
		FFmpeg: NewDecoder(nil),
	}
}

// Load dispatches on the file extension.
func (a *AutoLoader) Load(ctx context.Context, path string) (*AudioData, error) {
	if isWAV(path) {
		return a.WAV.Load(ctx, path)
	}
	return a.FFmpeg.Load(ctx, path)
}

// Preflight checks that ffmpeg is available when any of paths needs it, so
// a batch of compressed files fails once instead of once per file.
func (a *AutoLoader) Preflight(ctx context.Context, paths []string) error {
	for _, p := range paths {
		if !isWAV(p) {
			return a.FFmpeg.CheckAvailability(ctx)
		}
	}
	return nil
}

func isWAV(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".wav")
}

func samplesDuration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(sampleRate)
}
