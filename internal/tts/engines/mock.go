package engines

import (
	"context"
	"sync"
	"time"

	"github.com/voicenexus/voicenexus/internal/audio"
	"github.com/voicenexus/voicenexus/internal/tts"
)

// MockEngine implements tts.Synthesizer without a model. It sleeps for a
// fixed delay and returns 0.1s of silence per input character.
type MockEngine struct {
	// Configuration
	delay      time.Duration
	sampleRate int

	// Control for testing
	mu           sync.Mutex
	shouldFail   bool
	failureError error
	shouldPanic  bool
	hook         func(tts.SynthesisParams)

	// State
	callCount int
	last      tts.SynthesisParams
}

// MockConfig holds configuration for the mock engine.
type MockConfig struct {
	Delay      time.Duration
	SampleRate int
}

// NewMockEngine creates a mock engine.
func NewMockEngine(config MockConfig) *MockEngine {
	if config.SampleRate <= 0 {
		config.SampleRate = 24000
	}
	return &MockEngine{
		delay:      config.Delay,
		sampleRate: config.SampleRate,
	}
}

// Name returns the engine name.
func (e *MockEngine) Name() string {
	return "mock"
}

// Synthesize returns silence sized to the text after the configured delay.
func (e *MockEngine) Synthesize(ctx context.Context, params tts.SynthesisParams) (audio.Audio, error) {
	e.mu.Lock()
	e.callCount++
	e.last = params
	fail, failErr, panics, hook, delay := e.shouldFail, e.failureError, e.shouldPanic, e.hook, e.delay
	e.mu.Unlock()

	if hook != nil {
		hook(params)
	}
	if panics {
		panic("mock engine panic")
	}
	if fail {
		return audio.Audio{}, failErr
	}

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return audio.Audio{}, ctx.Err()
		}
	}

	n := len([]rune(params.Text))
	return audio.Silence(e.sampleRate, time.Duration(n)*100*time.Millisecond), nil
}

// Validate always succeeds.
func (e *MockEngine) Validate() error {
	return nil
}

// SetFailure configures the engine to fail every call with err.
func (e *MockEngine) SetFailure(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.shouldFail = err != nil
	e.failureError = err
}

// SetPanic makes every call panic.
func (e *MockEngine) SetPanic(panics bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.shouldPanic = panics
}

// SetHook registers fn to run at the start of every call.
func (e *MockEngine) SetHook(fn func(tts.SynthesisParams)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hook = fn
}

// SetDelay changes the simulated processing time.
func (e *MockEngine) SetDelay(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.delay = d
}

// CallCount returns the number of Synthesize calls.
func (e *MockEngine) CallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.callCount
}

// LastParams returns the arguments of the most recent call.
func (e *MockEngine) LastParams() tts.SynthesisParams {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}
