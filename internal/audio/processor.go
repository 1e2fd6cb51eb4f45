package audio

import (
	"context"
	"fmt"
	"math"
)

// Processor applies post-synthesis adjustments. Speed changes are delegated
// to ffmpeg; resampling is linear interpolation over the buffer.
type Processor struct {
	ffmpeg *FFmpeg
}

// NewProcessor returns a Processor using ff for time-stretching.
func NewProcessor(ff *FFmpeg) *Processor {
	return &Processor{ffmpeg: ff}
}

// TimeStretch changes playback speed by factor. A factor of 1 returns a.
func (p *Processor) TimeStretch(ctx context.Context, a Audio, factor float64) (Audio, error) {
	if factor == 1.0 {
		return a, nil
	}
	if factor < 0.5 || factor > 2.0 {
		return a, fmt.Errorf("speed %.2f outside 0.5-2.0", factor)
	}
	if p.ffmpeg == nil {
		return a, fmt.Errorf("time-stretch unavailable: no ffmpeg configured")
	}
	out, err := p.ffmpeg.Atempo(ctx, a, factor)
	if err != nil {
		return a, err
	}
	if len(out.Samples) == 0 {
		return a, ErrEmptyAudio
	}
	return out, nil
}

// Resample converts a to targetRate.
func (p *Processor) Resample(a Audio, targetRate int) (Audio, error) {
	return Resample(a, targetRate)
}

// Resample converts a to targetRate using linear interpolation.
func Resample(a Audio, targetRate int) (Audio, error) {
	if targetRate <= 0 || a.SampleRate <= 0 {
		return a, ErrInvalidSampleRate
	}
	if targetRate == a.SampleRate || len(a.Samples) == 0 {
		return Audio{SampleRate: targetRate, Samples: a.Samples}, nil
	}

	ratio := float64(a.SampleRate) / float64(targetRate)
	n := int(math.Round(float64(len(a.Samples)) / ratio))
	out := make([]float32, n)
	last := len(a.Samples) - 1
	for i := range out {
		pos := float64(i) * ratio
		j := int(pos)
		if j >= last {
			out[i] = a.Samples[last]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = a.Samples[j]*(1-frac) + a.Samples[j+1]*frac
	}
	return Audio{SampleRate: targetRate, Samples: out}, nil
}
