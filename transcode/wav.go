package transcode

import (
	"context"
	"fmt"
	"os"

	"github.com/go-audio/wav"
	resampler "github.com/tphakala/go-audio-resampler"

	"github.com/RyanBlaney/sonido-chroma/algorithms/common"
	"github.com/RyanBlaney/sonido-chroma/logging"
)

// WAVLoader decodes PCM WAV files without external tools. Channels are
// averaged to mono and the result is resampled to the target rate when the
// file rate differs.
type WAVLoader struct {
	targetRate int
	quality    resampler.QualityPreset
	logger     logging.Logger
}

// NewWAVLoader creates a loader producing audio at targetRate.
func NewWAVLoader(targetRate int) *WAVLoader {
	return &WAVLoader{
		targetRate: targetRate,
		quality:    resampler.QualityHigh,
		logger: logging.WithFields(logging.Fields{
			"component": "wav_loader",
		}),
	}
}

// Load decodes path.
func (w *WAVLoader) Load(ctx context.Context, path string) (*AudioData, error) {
	logger := w.logger.WithFields(logging.Fields{
		"function": "Load",
		"filename": path,
	})

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open %s: %w", common.ErrInvalidAudio, path, err)
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		return nil, fmt.Errorf("%w: invalid WAV file: %s", common.ErrInvalidAudio, path)
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read PCM from %s: %v", common.ErrInvalidAudio, path, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	channels := buf.Format.NumChannels
	rate := buf.Format.SampleRate
	bitDepth := int(decoder.BitDepth)
	if channels <= 0 || rate <= 0 || bitDepth <= 0 {
		return nil, fmt.Errorf("%w: bad WAV format in %s (%d ch, %d Hz, %d bit)",
			common.ErrInvalidAudio, path, channels, rate, bitDepth)
	}

	logger.Debug("WAV format detected", logging.Fields{
		"input_sample_rate": rate,
		"input_channels":    channels,
		"bit_depth":         bitDepth,
	})

	pcm := downmix(buf.Data, channels, bitDepth)
	if len(pcm) == 0 {
		return nil, fmt.Errorf("%w: no samples in %s", common.ErrInvalidAudio, path)
	}

	if rate != w.targetRate {
		pcm, err = resampler.ResampleMono(pcm, float64(rate), float64(w.targetRate), w.quality)
		if err != nil {
			return nil, fmt.Errorf("failed to resample %s from %d Hz: %w", path, rate, err)
		}
		logger.Debug("Resampled", logging.Fields{
			"from": rate,
			"to":   w.targetRate,
		})
	}

	return &AudioData{
		PCM:        pcm,
		SampleRate: w.targetRate,
		Channels:   1,
		Duration:   samplesDuration(len(pcm), w.targetRate),
		Source:     path,
		Codec:      fmt.Sprintf("pcm_s%dle", bitDepth),
	}, nil
}

// downmix scales interleaved integer PCM to [-1, 1) and averages channels.
func downmix(data []int, channels, bitDepth int) []float64 {
	scale := 1.0 / float64(int64(1)<<(bitDepth-1))
	frames := len(data) / channels

	out := make([]float64, frames)
	for i := range frames {
		sum := 0
		for c := range channels {
			sum += data[i*channels+c]
		}
		out[i] = float64(sum) * scale / float64(channels)
	}
	return out
}
