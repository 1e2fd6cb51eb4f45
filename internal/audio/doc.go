// Package audio holds the sample buffer type shared by engines and the HTTP
// layer, WAV and MP3 encoding, and the degrade-safe post-processing steps
// (time-stretch and resampling) applied after synthesis.
package audio
