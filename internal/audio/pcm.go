package audio

import "math"

// Float32ToInt16 converts float32 samples in [-1, 1] to PCM int16, clamping.
func Float32ToInt16(in []float32) []int16 {
	out := make([]int16, len(in))
	for i, s := range in {
		if s > 1.0 {
			s = 1.0
		} else if s < -1.0 {
			s = -1.0
		}
		out[i] = int16(s * math.MaxInt16)
	}
	return out
}

// BytesToFloat32 decodes little-endian s16 PCM into float32 samples.
func BytesToFloat32(b []byte) []float32 {
	n := len(b) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		s := int16(b[2*i]) | int16(b[2*i+1])<<8
		out[i] = float32(s) / math.MaxInt16
	}
	return out
}

// Float32ToBytes encodes float32 samples as little-endian s16 PCM.
func Float32ToBytes(in []float32) []byte {
	pcm := Float32ToInt16(in)
	out := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		out[2*i] = byte(s)
		out[2*i+1] = byte(s >> 8)
	}
	return out
}
