package audio

import (
	"context"
	"fmt"
	"strconv"
)

// FFmpeg drives an ffmpeg binary over stdin/stdout pipes.
type FFmpeg struct {
	Binary string
	runner *Runner
}

// NewFFmpeg returns an FFmpeg using binary, defaulting to "ffmpeg" on PATH.
func NewFFmpeg(binary string, runner *Runner) *FFmpeg {
	if binary == "" {
		binary = "ffmpeg"
	}
	if runner == nil {
		runner = NewRunner(0)
	}
	return &FFmpeg{Binary: binary, runner: runner}
}

// EncodeMP3 converts a WAV stream to 192k MP3 at sampleRate.
func (f *FFmpeg) EncodeMP3(ctx context.Context, wavData []byte, sampleRate int) ([]byte, error) {
	out, err := f.runner.Run(ctx, wavData, f.Binary,
		"-hide_banner", "-loglevel", "error",
		"-i", "pipe:0",
		"-f", "mp3",
		"-ab", "192k",
		"-ar", strconv.Itoa(sampleRate),
		"pipe:1",
	)
	if err != nil {
		return nil, fmt.Errorf("mp3 encoding failed: %w", err)
	}
	return out, nil
}

// Atempo time-stretches a by factor without changing pitch. ffmpeg's
// atempo filter accepts 0.5 to 2.0 in a single stage. Output is read back as
// raw s16le so no container header has to survive the pipe.
func (f *FFmpeg) Atempo(ctx context.Context, a Audio, factor float64) (Audio, error) {
	in, err := EncodeWAV(a)
	if err != nil {
		return Audio{}, err
	}
	out, err := f.runner.Run(ctx, in, f.Binary,
		"-hide_banner", "-loglevel", "error",
		"-i", "pipe:0",
		"-filter:a", "atempo="+strconv.FormatFloat(factor, 'f', 3, 64),
		"-f", "s16le",
		"-ac", "1",
		"-ar", strconv.Itoa(a.SampleRate),
		"pipe:1",
	)
	if err != nil {
		return Audio{}, fmt.Errorf("time-stretch failed: %w", err)
	}
	return Audio{SampleRate: a.SampleRate, Samples: BytesToFloat32(out)}, nil
}
