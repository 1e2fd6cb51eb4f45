package audio

import (
	"context"
	"fmt"
)

// Encoder renders buffers into HTTP response formats.
type Encoder struct {
	ffmpeg *FFmpeg
}

// NewEncoder returns an Encoder; ff is required only for mp3.
func NewEncoder(ff *FFmpeg) *Encoder {
	return &Encoder{ffmpeg: ff}
}

// Encode returns a encoded as format.
func (e *Encoder) Encode(ctx context.Context, a Audio, format Format) ([]byte, error) {
	wavData, err := EncodeWAV(a)
	if err != nil {
		return nil, err
	}
	switch format {
	case FormatWAV:
		return wavData, nil
	case FormatMP3:
		if e.ffmpeg == nil {
			return nil, fmt.Errorf("%w: mp3 requires ffmpeg", ErrUnsupportedFormat)
		}
		return e.ffmpeg.EncodeMP3(ctx, wavData, a.SampleRate)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}
