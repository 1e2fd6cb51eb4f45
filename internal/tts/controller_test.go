package tts

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicenexus/voicenexus/internal/audio"
	"github.com/voicenexus/voicenexus/internal/queue"
	"github.com/voicenexus/voicenexus/internal/voice"
)

type fakeEngine struct {
	calls atomic.Int32
	fn    func(ctx context.Context, p SynthesisParams) (audio.Audio, error)
}

func (f *fakeEngine) Name() string { return "fake" }

func (f *fakeEngine) Synthesize(ctx context.Context, p SynthesisParams) (audio.Audio, error) {
	f.calls.Add(1)
	if f.fn != nil {
		return f.fn(ctx, p)
	}
	return audio.Silence(24000, 100*time.Millisecond), nil
}

type classifierFunc func(ctx context.Context, text string) string

func (f classifierFunc) Classify(ctx context.Context, text string) string { return f(ctx, text) }

type fakePost struct {
	stretchErr  error
	resampleErr error
	stretched   atomic.Int32
}

func (p *fakePost) TimeStretch(_ context.Context, a audio.Audio, speed float64) (audio.Audio, error) {
	p.stretched.Add(1)
	if p.stretchErr != nil {
		return audio.Audio{}, p.stretchErr
	}
	n := int(float64(len(a.Samples)) / speed)
	return audio.Audio{SampleRate: a.SampleRate, Samples: make([]float32, n)}, nil
}

func (p *fakePost) Resample(a audio.Audio, rate int) (audio.Audio, error) {
	if p.resampleErr != nil {
		return audio.Audio{}, p.resampleErr
	}
	return audio.Resample(a, rate)
}

type fixture struct {
	queue    *queue.AdmissionQueue
	engine   *fakeEngine
	resolver *voice.Resolver
	presets  string
	ctrl     *Controller
}

func newFixture(t *testing.T, maxSize int, cfg ControllerConfig, opts ...Option) *fixture {
	t.Helper()
	base := t.TempDir()
	presets, err := voice.NewFileStore(filepath.Join(base, "presets"))
	require.NoError(t, err)
	personas, err := voice.NewFileStore(filepath.Join(base, "personas"))
	require.NoError(t, err)

	for _, rel := range []string{"alice/default.wav", "alice/happy.wav"} {
		path := filepath.Join(presets.Root(), filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("RIFF"), 0o644))
	}

	f := &fixture{
		queue:    queue.New(maxSize),
		engine:   &fakeEngine{},
		resolver: voice.NewResolver(presets, personas, []string{".wav"}),
		presets:  presets.Root(),
	}
	f.ctrl, err = NewController(cfg, f.queue, f.resolver, f.engine, opts...)
	require.NoError(t, err)
	return f
}

func traceOf(t *testing.T, err error) []State {
	t.Helper()
	var te *TTSError
	require.True(t, errors.As(err, &te))
	tr, ok := te.Context["trace"].(Trace)
	require.True(t, ok, "error context has no trace")
	return tr.States()
}

func TestController_Completes(t *testing.T) {
	f := newFixture(t, 2, ControllerConfig{})

	res, err := f.ctrl.Synthesize(context.Background(), Request{ID: "r1", Text: "hello", Voice: "alice", Emotion: "happy"})
	require.NoError(t, err)

	assert.Equal(t, "r1", res.RequestID)
	assert.Equal(t, 1, res.Position)
	assert.Equal(t, filepath.Join(f.presets, "alice", "happy.wav"), res.Asset.Path)
	assert.Equal(t, "happy", res.Emotion)
	assert.Equal(t, []State{
		StateCreated, StateAdmissionPending, StateAdmitted, StateResolving, StateResolved,
		StateQueued, StateProcessing, StateCompleted, StateReleased,
	}, res.Trace.States())
	assert.Equal(t, 0, f.queue.Size())
	assert.Equal(t, int64(1), f.ctrl.Stats().Completed)
	assert.Equal(t, "fake", f.ctrl.EngineName())
}

func TestController_GeneratesRequestID(t *testing.T) {
	f := newFixture(t, 1, ControllerConfig{})
	res, err := f.ctrl.Synthesize(context.Background(), Request{Text: "hi", Voice: "alice"})
	require.NoError(t, err)
	assert.Len(t, res.RequestID, 36)
}

func TestController_PassesSamplingParameters(t *testing.T) {
	f := newFixture(t, 1, ControllerConfig{})
	var got SynthesisParams
	f.engine.fn = func(_ context.Context, p SynthesisParams) (audio.Audio, error) {
		got = p
		return audio.Silence(24000, 10*time.Millisecond), nil
	}

	_, err := f.ctrl.Synthesize(context.Background(), Request{
		Text: "hi", Voice: "alice", Temperature: 0.7, TopP: 0.9, TopK: 50, RepetitionPenalty: 1.2,
	})
	require.NoError(t, err)
	assert.Equal(t, SynthesisParams{
		Text:              "hi",
		Reference:         filepath.Join(f.presets, "alice", "default.wav"),
		Speed:             1.0,
		Temperature:       0.7,
		TopP:              0.9,
		TopK:              50,
		RepetitionPenalty: 1.2,
	}, got)
}

// Three concurrent requests against a queue of two: exactly one is rejected.
func TestController_AdmissionRejectsOverflow(t *testing.T) {
	f := newFixture(t, 2, ControllerConfig{})
	gate := make(chan struct{})
	f.engine.fn = func(context.Context, SynthesisParams) (audio.Audio, error) {
		<-gate
		return audio.Silence(24000, 10*time.Millisecond), nil
	}

	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		go func() {
			_, err := f.ctrl.Synthesize(context.Background(), Request{Text: "hi", Voice: "alice"})
			errs <- err
		}()
	}

	first := <-errs
	require.Error(t, first)
	assert.True(t, errors.Is(first, ErrAdmissionRejected))
	assert.Equal(t, []State{StateCreated, StateAdmissionPending, StateRejected}, traceOf(t, first))

	var te *TTSError
	require.True(t, errors.As(first, &te))
	assert.NotEmpty(t, te.RequestID())
	snap, ok := te.Context["queue"].(queue.Snapshot)
	require.True(t, ok)
	assert.Equal(t, 2, snap.Length)
	assert.False(t, snap.CanSubmit)

	close(gate)
	assert.NoError(t, <-errs)
	assert.NoError(t, <-errs)

	assert.Equal(t, 0, f.queue.Size())
	assert.Equal(t, int64(1), f.ctrl.Stats().Rejected)
	assert.Equal(t, int32(2), f.engine.calls.Load())
}

// Requests reusing an id that already holds a slot are refused and never
// release the holder's slot.
func TestController_DuplicateIDRefused(t *testing.T) {
	f := newFixture(t, 2, ControllerConfig{})
	gate := make(chan struct{})
	f.engine.fn = func(context.Context, SynthesisParams) (audio.Audio, error) {
		<-gate
		return audio.Silence(24000, 10*time.Millisecond), nil
	}

	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		go func() {
			_, err := f.ctrl.Synthesize(context.Background(), Request{ID: "same", Text: "hi", Voice: "alice"})
			errs <- err
		}()
	}

	for i := 0; i < 2; i++ {
		err := <-errs
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidRequest))
		assert.False(t, errors.Is(err, ErrAdmissionRejected))
		assert.True(t, errors.Is(err, queue.ErrDuplicateID))
		assert.Equal(t, []State{StateCreated, StateAdmissionPending, StateRejected}, traceOf(t, err))
	}
	assert.Equal(t, 1, f.queue.Size(), "refused duplicates must not free the slot")
	assert.Equal(t, 1, f.queue.Position("same"))

	close(gate)
	assert.NoError(t, <-errs)

	stats := f.queue.Stats()
	assert.Equal(t, 0, stats.CurrentSize)
	assert.Equal(t, 1, stats.PeakSize)
	assert.Equal(t, int64(1), stats.TotalAdmitted)
	assert.Equal(t, int64(2), stats.TotalDuplicates)
	assert.Equal(t, int64(2), f.ctrl.Stats().Invalid)
	assert.Equal(t, int32(1), f.engine.calls.Load())
}

func TestController_CorrelationIDIsNotQueued(t *testing.T) {
	f := newFixture(t, 2, ControllerConfig{})
	gate := make(chan struct{})
	f.engine.fn = func(context.Context, SynthesisParams) (audio.Audio, error) {
		<-gate
		return audio.Silence(24000, 10*time.Millisecond), nil
	}

	results := make(chan *Result, 2)
	for i := 0; i < 2; i++ {
		go func() {
			res, err := f.ctrl.Synthesize(context.Background(), Request{CorrelationID: "client-1", Text: "hi", Voice: "alice"})
			assert.NoError(t, err)
			results <- res
		}()
	}
	require.Eventually(t, func() bool { return f.queue.Size() == 2 }, time.Second, time.Millisecond)
	close(gate)

	a, b := <-results, <-results
	require.NotNil(t, a)
	require.NotNil(t, b)
	assert.NotEqual(t, a.RequestID, b.RequestID)
	assert.NotEqual(t, "client-1", a.RequestID)
}

func TestController_AutoEmotionClassifierTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	slow := classifierFunc(func(context.Context, string) string {
		<-block // ignores its context entirely
		return "happy"
	})
	f := newFixture(t, 1, ControllerConfig{ClassifierTimeout: 50 * time.Millisecond}, WithClassifier(slow))

	start := time.Now()
	res, err := f.ctrl.Synthesize(context.Background(), Request{Text: "hi", Voice: "alice", Emotion: EmotionAuto})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, "default", res.Emotion)
	assert.Equal(t, filepath.Join(f.presets, "alice", "default.wav"), res.Asset.Path)
	assert.Equal(t, int64(1), f.ctrl.Stats().ClassifierFallback)
}

func TestController_AutoEmotionClassified(t *testing.T) {
	var seen string
	c := classifierFunc(func(_ context.Context, text string) string {
		seen = text
		return "happy"
	})
	f := newFixture(t, 1, ControllerConfig{}, WithClassifier(c))

	res, err := f.ctrl.Synthesize(context.Background(), Request{Text: "what a day", Voice: "alice", Emotion: EmotionAuto})
	require.NoError(t, err)
	assert.Equal(t, "what a day", seen)
	assert.Equal(t, "happy", res.Emotion)
	assert.Equal(t, voice.FallbackNone, res.Asset.Fallback)
}

func TestController_AutoEmotionWithoutClassifier(t *testing.T) {
	f := newFixture(t, 1, ControllerConfig{})
	res, err := f.ctrl.Synthesize(context.Background(), Request{Text: "hi", Voice: "alice", Emotion: EmotionAuto})
	require.NoError(t, err)
	assert.Equal(t, "default", res.Emotion)
}

func TestController_ClassifierPanicDegrades(t *testing.T) {
	c := classifierFunc(func(context.Context, string) string { panic("bad client") })
	f := newFixture(t, 1, ControllerConfig{}, WithClassifier(c))

	res, err := f.ctrl.Synthesize(context.Background(), Request{Text: "hi", Voice: "alice", Emotion: EmotionAuto})
	require.NoError(t, err)
	assert.Equal(t, "default", res.Emotion)
}

func TestController_ResolutionFailureSkipsExecutor(t *testing.T) {
	f := newFixture(t, 1, ControllerConfig{})

	_, err := f.ctrl.Synthesize(context.Background(), Request{ID: "r1", Text: "hi", Voice: "nobody", Emotion: "sad"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAssetNotFound))
	assert.Equal(t, []State{
		StateCreated, StateAdmissionPending, StateAdmitted, StateResolving, StateResolutionFailed, StateReleased,
	}, traceOf(t, err))

	var te *TTSError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "r1", te.RequestID())
	assert.Len(t, te.Context["attempted_paths"], 3)

	assert.Equal(t, int32(0), f.engine.calls.Load())
	assert.Equal(t, int64(0), f.ctrl.Executor().Stats().Runs)
	assert.Equal(t, -1, f.queue.Position("r1"))
}

// A synthesis call that panics mid-flight leaves no trace in the queue.
func TestController_PanicReleasesQueueSlot(t *testing.T) {
	f := newFixture(t, 1, ControllerConfig{})
	f.engine.fn = func(context.Context, SynthesisParams) (audio.Audio, error) {
		panic("device lost")
	}

	_, err := f.ctrl.Synthesize(context.Background(), Request{ID: "r1", Text: "hi", Voice: "alice"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSynthesisFailed))

	snap := f.queue.Snapshot()
	assert.Equal(t, 0, snap.Length)
	assert.False(t, snap.IsProcessing)
	assert.Equal(t, -1, f.queue.Position("r1"))
	assert.Equal(t, []State{
		StateCreated, StateAdmissionPending, StateAdmitted, StateResolving, StateResolved,
		StateQueued, StateProcessing, StateSynthesisFailed, StateReleased,
	}, traceOf(t, err))

	// the service keeps working
	f.engine.fn = nil
	_, err = f.ctrl.Synthesize(context.Background(), Request{Text: "hi", Voice: "alice"})
	assert.NoError(t, err)
}

func TestController_EngineErrorIsSynthesisFailed(t *testing.T) {
	f := newFixture(t, 1, ControllerConfig{})
	boom := errors.New("out of memory")
	f.engine.fn = func(context.Context, SynthesisParams) (audio.Audio, error) {
		return audio.Audio{}, boom
	}

	_, err := f.ctrl.Synthesize(context.Background(), Request{Text: "hi", Voice: "alice"})
	assert.True(t, errors.Is(err, ErrSynthesisFailed))
	assert.True(t, errors.Is(err, boom))
	assert.Equal(t, 0, f.queue.Size())
	assert.Equal(t, int64(1), f.ctrl.Stats().Failed)
}

func TestController_EmptyAudioIsSynthesisFailed(t *testing.T) {
	f := newFixture(t, 1, ControllerConfig{})
	f.engine.fn = func(context.Context, SynthesisParams) (audio.Audio, error) {
		return audio.Audio{SampleRate: 24000}, nil
	}
	_, err := f.ctrl.Synthesize(context.Background(), Request{Text: "hi", Voice: "alice"})
	assert.True(t, errors.Is(err, ErrSynthesisFailed))
}

func TestController_SynthesisTimeout(t *testing.T) {
	f := newFixture(t, 1, ControllerConfig{SynthesisTimeout: 20 * time.Millisecond})
	f.engine.fn = func(ctx context.Context, _ SynthesisParams) (audio.Audio, error) {
		<-ctx.Done()
		return audio.Audio{}, ctx.Err()
	}

	_, err := f.ctrl.Synthesize(context.Background(), Request{Text: "hi", Voice: "alice"})
	assert.True(t, errors.Is(err, ErrSynthesisFailed))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

// A caller that gives up while waiting for the executor frees its slot.
func TestController_CancelWhileQueued(t *testing.T) {
	f := newFixture(t, 2, ControllerConfig{})
	started := make(chan struct{})
	gate := make(chan struct{})
	f.engine.fn = func(context.Context, SynthesisParams) (audio.Audio, error) {
		close(started)
		<-gate
		return audio.Silence(24000, 10*time.Millisecond), nil
	}

	firstDone := make(chan error, 1)
	go func() {
		_, err := f.ctrl.Synthesize(context.Background(), Request{ID: "first", Text: "hi", Voice: "alice"})
		firstDone <- err
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	secondDone := make(chan error, 1)
	go func() {
		_, err := f.ctrl.Synthesize(ctx, Request{ID: "second", Text: "hi", Voice: "alice"})
		secondDone <- err
	}()
	require.Eventually(t, func() bool { return f.ctrl.Executor().Waiting() == 1 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, 2, f.queue.Position("second"))
	assert.Equal(t, "first", f.queue.Snapshot().ProcessingID)

	cancel()
	err := <-secondDone
	assert.True(t, errors.Is(err, ErrCanceled))
	assert.Contains(t, traceOf(t, err), StateCanceled)
	assert.Equal(t, -1, f.queue.Position("second"))
	assert.Equal(t, 1, f.queue.Size())

	close(gate)
	require.NoError(t, <-firstDone)
	assert.Equal(t, 0, f.queue.Size())
	assert.Equal(t, int32(1), f.engine.calls.Load())
}

func TestController_PostProcessing(t *testing.T) {
	post := &fakePost{}
	f := newFixture(t, 1, ControllerConfig{SampleRate: 16000}, WithPostProcessor(post))

	res, err := f.ctrl.Synthesize(context.Background(), Request{Text: "hi", Voice: "alice", Speed: 2.0})
	require.NoError(t, err)
	assert.Equal(t, int32(1), post.stretched.Load())
	assert.Equal(t, 16000, res.Audio.SampleRate)
	// 100ms at 24k, halved by speed 2, resampled to 16k
	assert.Len(t, res.Audio.Samples, 800)
}

func TestController_PostProcessingDegrades(t *testing.T) {
	post := &fakePost{stretchErr: errors.New("no ffmpeg"), resampleErr: errors.New("bad rate")}
	f := newFixture(t, 1, ControllerConfig{SampleRate: 16000}, WithPostProcessor(post))

	res, err := f.ctrl.Synthesize(context.Background(), Request{Text: "hi", Voice: "alice", Speed: 1.5})
	require.NoError(t, err)
	assert.Equal(t, 24000, res.Audio.SampleRate)
	assert.Len(t, res.Audio.Samples, 2400)
}

func TestController_InvalidRequestNeverAdmitted(t *testing.T) {
	f := newFixture(t, 1, ControllerConfig{MaxTextLength: 5})

	_, err := f.ctrl.Synthesize(context.Background(), Request{ID: "r1", Text: "too long text", Voice: "alice"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidRequest))
	assert.Equal(t, int64(0), f.queue.Stats().TotalAdmitted)

	var te *TTSError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "r1", te.RequestID())
}

func TestController_SerializesConcurrentRequests(t *testing.T) {
	f := newFixture(t, 20, ControllerConfig{})
	var active, peak int32
	f.engine.fn = func(context.Context, SynthesisParams) (audio.Audio, error) {
		n := atomic.AddInt32(&active, 1)
		if n > atomic.LoadInt32(&peak) {
			atomic.StoreInt32(&peak, n)
		}
		time.Sleep(2 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		return audio.Silence(24000, 10*time.Millisecond), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.ctrl.Synthesize(context.Background(), Request{Text: "hi", Voice: "alice"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&peak))
	assert.Equal(t, 0, f.queue.Size())
}

func TestNewController_Validation(t *testing.T) {
	q := queue.New(1)
	r := voice.NewResolver(nil, nil, nil)
	e := &fakeEngine{}

	_, err := NewController(ControllerConfig{}, nil, r, e)
	assert.Error(t, err)
	_, err = NewController(ControllerConfig{}, q, nil, e)
	assert.Error(t, err)
	_, err = NewController(ControllerConfig{}, q, r, nil)
	assert.Error(t, err)
}
