package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrInvalidWAV indicates bytes that do not decode as a PCM WAV stream.
var ErrInvalidWAV = errors.New("invalid wav data")

// WAVInfo describes a decoded WAV header.
type WAVInfo struct {
	SampleRate int
	Channels   int
	BitDepth   int
	Duration   time.Duration
}

// EncodeWAV renders a as a 16-bit mono PCM WAV file.
func EncodeWAV(a Audio) ([]byte, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}

	data := make([]int, len(a.Samples))
	for i, s := range a.Samples {
		clamped := math.Max(-1.0, math.Min(1.0, float64(s)))
		data[i] = int(clamped * math.MaxInt16)
	}

	out := &seekBuffer{}
	enc := wav.NewEncoder(out, a.SampleRate, 16, 1, 1)
	buf := &goaudio.IntBuffer{
		Data:           data,
		Format:         &goaudio.Format{SampleRate: a.SampleRate, NumChannels: 1},
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("failed to encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize wav: %w", err)
	}
	return out.Bytes(), nil
}

// DecodeWAV parses a PCM WAV stream, downmixing to mono.
func DecodeWAV(data []byte) (Audio, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return Audio{}, ErrInvalidWAV
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Audio{}, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
	}

	channels := int(dec.NumChans)
	if channels <= 0 {
		channels = 1
	}
	bitDepth := int(dec.BitDepth)
	if bitDepth <= 0 {
		bitDepth = 16
	}
	scale := float32(int64(1) << (bitDepth - 1))

	frames := len(buf.Data) / channels
	samples := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += float32(buf.Data[i*channels+c]) / scale
		}
		samples[i] = sum / float32(channels)
	}

	return Audio{SampleRate: int(dec.SampleRate), Samples: samples}, nil
}

// ProbeWAV validates data as a playable WAV file and reports its header.
// Files without samples or with a zero sample rate are rejected.
func ProbeWAV(data []byte) (WAVInfo, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return WAVInfo{}, ErrInvalidWAV
	}
	info := WAVInfo{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   int(dec.BitDepth),
	}
	if info.SampleRate <= 0 || info.Channels <= 0 {
		return info, fmt.Errorf("%w: %v", ErrInvalidWAV, ErrInvalidSampleRate)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return info, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
	}
	frames := len(buf.Data) / info.Channels
	if frames == 0 {
		return info, fmt.Errorf("%w: %v", ErrInvalidWAV, ErrEmptyAudio)
	}
	info.Duration = time.Duration(frames) * time.Second / time.Duration(info.SampleRate)
	return info, nil
}

// seekBuffer is an in-memory io.WriteSeeker; the wav encoder seeks back to
// patch chunk sizes on Close.
type seekBuffer struct {
	buf []byte
	pos int
}

func (b *seekBuffer) Write(p []byte) (int, error) {
	end := b.pos + len(p)
	if end > len(b.buf) {
		if end > cap(b.buf) {
			grown := make([]byte, end, 2*end)
			copy(grown, b.buf)
			b.buf = grown
		} else {
			b.buf = b.buf[:end]
		}
	}
	copy(b.buf[b.pos:], p)
	b.pos = end
	return len(p), nil
}

func (b *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(b.pos) + offset
	case io.SeekEnd:
		abs = int64(len(b.buf)) + offset
	default:
		return 0, errors.New("invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("negative position")
	}
	b.pos = int(abs)
	return abs, nil
}

func (b *seekBuffer) Bytes() []byte {
	return b.buf
}
