package engines

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicenexus/voicenexus/internal/tts"
)

func TestMockEngine_Synthesize(t *testing.T) {
	e := NewMockEngine(MockConfig{SampleRate: 16000})

	a, err := e.Synthesize(context.Background(), tts.SynthesisParams{Text: "hello", Reference: "/ref.wav"})
	require.NoError(t, err)
	assert.Equal(t, 16000, a.SampleRate)
	assert.Equal(t, 500*time.Millisecond, a.Duration())
	assert.Equal(t, 1, e.CallCount())
	assert.Equal(t, "/ref.wav", e.LastParams().Reference)
	assert.Equal(t, "mock", e.Name())
}

func TestMockEngine_Delay(t *testing.T) {
	e := NewMockEngine(MockConfig{Delay: 50 * time.Millisecond})

	start := time.Now()
	_, err := e.Synthesize(context.Background(), tts.SynthesisParams{Text: "a"})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	e.SetDelay(time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = e.Synthesize(ctx, tts.SynthesisParams{Text: "a"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMockEngine_ScriptedFailure(t *testing.T) {
	e := NewMockEngine(MockConfig{})
	boom := errors.New("cuda out of memory")
	e.SetFailure(boom)

	_, err := e.Synthesize(context.Background(), tts.SynthesisParams{Text: "a"})
	assert.ErrorIs(t, err, boom)

	e.SetFailure(nil)
	_, err = e.Synthesize(context.Background(), tts.SynthesisParams{Text: "a"})
	assert.NoError(t, err)

	e.SetPanic(true)
	assert.Panics(t, func() {
		_, _ = e.Synthesize(context.Background(), tts.SynthesisParams{Text: "a"})
	})
}

func TestMockEngine_DefaultSampleRate(t *testing.T) {
	e := NewMockEngine(MockConfig{})
	a, err := e.Synthesize(context.Background(), tts.SynthesisParams{Text: "ab"})
	require.NoError(t, err)
	assert.Equal(t, 24000, a.SampleRate)
	assert.Len(t, a.Samples, 4800)
}

func TestNew(t *testing.T) {
	e, err := New(Config{Engine: "mock"})
	require.NoError(t, err)
	assert.Equal(t, "mock", e.Name())

	_, err = New(Config{Engine: "piper"})
	assert.Error(t, err)

	_, err = New(Config{Engine: "command"})
	assert.Error(t, err, "command without a binary")

	_, err = New(Config{Engine: "command", Command: CommandConfig{Binary: "definitely-not-installed-xyz"}})
	assert.Error(t, err)
}
