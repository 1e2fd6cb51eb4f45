package audio

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrEmptyAudio indicates a buffer with no samples
	ErrEmptyAudio = errors.New("audio has no samples")

	// ErrInvalidSampleRate indicates a non-positive sample rate
	ErrInvalidSampleRate = errors.New("invalid sample rate")

	// ErrUnsupportedFormat indicates a response format that cannot be encoded
	ErrUnsupportedFormat = errors.New("unsupported audio format")
)

// Audio is mono PCM audio with samples normalized to [-1, 1].
type Audio struct {
	SampleRate int
	Samples    []float32
}

// Duration returns the playback length of the buffer.
func (a Audio) Duration() time.Duration {
	if a.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(a.Samples)) * time.Second / time.Duration(a.SampleRate)
}

// Validate checks that the buffer can be encoded.
func (a Audio) Validate() error {
	if a.SampleRate <= 0 {
		return ErrInvalidSampleRate
	}
	if len(a.Samples) == 0 {
		return ErrEmptyAudio
	}
	return nil
}

// Silence returns d worth of zero samples at the given rate.
func Silence(sampleRate int, d time.Duration) Audio {
	n := int(int64(sampleRate) * int64(d) / int64(time.Second))
	if n < 0 {
		n = 0
	}
	return Audio{SampleRate: sampleRate, Samples: make([]float32, n)}
}

// Format is an HTTP response encoding.
type Format string

const (
	FormatWAV Format = "wav"
	FormatMP3 Format = "mp3"
)

// ContentType returns the MIME type served for the format.
func (f Format) ContentType() string {
	switch f {
	case FormatMP3:
		return "audio/mpeg"
	default:
		return "audio/wav"
	}
}

// ParseFormat maps a request value to a Format. Empty means wav.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "", "wav":
		return FormatWAV, nil
	case "mp3":
		return FormatMP3, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
}
