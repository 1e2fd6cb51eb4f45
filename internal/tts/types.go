package tts

import (
	"context"
	"time"

	"github.com/voicenexus/voicenexus/internal/audio"
	"github.com/voicenexus/voicenexus/internal/voice"
)

// EmotionAuto asks the controller to classify the text's sentiment.
const EmotionAuto = "auto"

// SynthesisParams is a single call into the compute resource.
type SynthesisParams struct {
	Text              string
	Reference         string // absolute path of the reference audio
	Speed             float64
	Temperature       float64
	TopP              float64
	TopK              int
	RepetitionPenalty float64
}

// Synthesizer is the compute resource. Callers guarantee at most one
// concurrent Synthesize call.
type Synthesizer interface {
	Synthesize(ctx context.Context, params SynthesisParams) (audio.Audio, error)
	Name() string
}

// Classifier maps text to an emotion label. It never fails; every error
// path resolves to the default label.
type Classifier interface {
	Classify(ctx context.Context, text string) string
}

// PostProcessor adjusts synthesized audio. Failures leave audio unchanged.
type PostProcessor interface {
	TimeStretch(ctx context.Context, a audio.Audio, speed float64) (audio.Audio, error)
	Resample(a audio.Audio, targetRate int) (audio.Audio, error)
}

// Resolver finds reference audio for a voice/emotion pair.
type Resolver interface {
	Resolve(voiceID, emotion string) (voice.Asset, error)
}

// Request is a synthesis request as received from a client.
type Request struct {
	ID                string
	CorrelationID     string // caller-supplied, logged only; never queued
	Text              string
	Voice             string
	Emotion           string
	Speed             float64
	Temperature       float64
	TopP              float64
	TopK              int
	RepetitionPenalty float64
}

// Result is a completed synthesis.
type Result struct {
	RequestID string
	Audio     audio.Audio
	Asset     voice.Asset
	Emotion   string // emotion actually requested from the resolver
	Position  int    // queue position at admission
	Trace     Trace
	Waited    time.Duration // time spent waiting for the executor
	Elapsed   time.Duration // total time in the controller
}
