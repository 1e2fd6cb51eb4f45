package tts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/voicenexus/voicenexus/internal/audio"
	"github.com/voicenexus/voicenexus/internal/queue"
	"github.com/voicenexus/voicenexus/internal/voice"
)

// DefaultClassifierTimeout bounds a sentiment call when none is configured.
const DefaultClassifierTimeout = 10 * time.Second

// ControllerConfig holds controller tunables.
type ControllerConfig struct {
	// SampleRate is the output rate; audio at any other rate is resampled.
	// Zero keeps the engine's rate.
	SampleRate int

	// MaxTextLength caps the input in characters.
	MaxTextLength int

	// SynthesisTimeout bounds the exclusive section. Zero means no limit.
	SynthesisTimeout time.Duration

	// ClassifierTimeout bounds the sentiment call for emotion "auto".
	ClassifierTimeout time.Duration
}

// Controller drives a request through admission, classification,
// resolution and exclusive synthesis, always giving the queue slot back.
type Controller struct {
	queue      *queue.AdmissionQueue
	executor   *Executor
	resolver   Resolver
	engine     Synthesizer
	classifier Classifier
	post       PostProcessor

	config ControllerConfig
	logger *log.Logger
	now    func() time.Time

	stats   ControllerStats
	statsMu sync.RWMutex
}

// ControllerStats tracks controller outcomes
type ControllerStats struct {
	Requests           int64         `json:"requests"`
	Rejected           int64         `json:"rejected"`
	Invalid            int64         `json:"invalid"`
	NotFound           int64         `json:"not_found"`
	Failed             int64         `json:"failed"`
	Canceled           int64         `json:"canceled"`
	Completed          int64         `json:"completed"`
	ClassifierFallback int64         `json:"classifier_fallback"`
	AudioGenerated     time.Duration `json:"audio_generated_ns"`
	LastActivity       time.Time     `json:"last_activity"`
}

// Option configures a Controller.
type Option func(*Controller)

// WithClassifier sets the classifier used for emotion "auto".
func WithClassifier(c Classifier) Option {
	return func(ctrl *Controller) { ctrl.classifier = c }
}

// WithPostProcessor sets the speed and resample stage.
func WithPostProcessor(p PostProcessor) Option {
	return func(ctrl *Controller) { ctrl.post = p }
}

// WithExecutor shares an executor between controllers.
func WithExecutor(e *Executor) Option {
	return func(ctrl *Controller) { ctrl.executor = e }
}

// NewController returns a controller over its collaborators.
func NewController(config ControllerConfig, q *queue.AdmissionQueue, resolver Resolver, engine Synthesizer, opts ...Option) (*Controller, error) {
	if q == nil {
		return nil, fmt.Errorf("queue cannot be nil")
	}
	if resolver == nil {
		return nil, fmt.Errorf("resolver cannot be nil")
	}
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if config.MaxTextLength <= 0 {
		config.MaxTextLength = DefaultMaxTextLength
	}
	if config.ClassifierTimeout <= 0 {
		config.ClassifierTimeout = DefaultClassifierTimeout
	}

	c := &Controller{
		queue:    q,
		executor: NewExecutor(),
		resolver: resolver,
		engine:   engine,
		config:   config,
		logger:   log.WithPrefix("controller"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Queue returns the admission queue.
func (c *Controller) Queue() *queue.AdmissionQueue {
	return c.queue
}

// Executor returns the exclusive executor.
func (c *Controller) Executor() *Executor {
	return c.executor
}

// EngineName returns the name of the synthesis engine.
func (c *Controller) EngineName() string {
	return c.engine.Name()
}

// Synthesize runs req through the pipeline. A queue slot, once admitted, is
// released on every path. The state trace is attached to the Result, or to
// the error context under "trace".
func (c *Controller) Synthesize(ctx context.Context, req Request) (res *Result, err error) {
	started := c.now()
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	logger := c.logger.With("request_id", req.ID)
	if req.CorrelationID != "" {
		logger = logger.With("correlation_id", req.CorrelationID)
	}

	c.record(func(s *ControllerStats) { s.Requests++ })

	req.ApplyDefaults()
	if err := req.Validate(Limits{MaxTextLength: c.config.MaxTextLength}); err != nil {
		c.record(func(s *ControllerStats) { s.Invalid++ })
		return nil, withRequest(err, req.ID)
	}

	lc := newLifecycle(c.now)
	c.transition(lc, StateAdmissionPending, logger)

	position, qerr := c.queue.Admit(req.ID)
	if errors.Is(qerr, queue.ErrDuplicateID) {
		// the slot belongs to the request already holding this id
		c.transition(lc, StateRejected, logger)
		c.record(func(s *ControllerStats) { s.Invalid++ })
		logger.Warn("Request rejected, id already in flight")
		return nil, NewTTSError(ErrorCodeInvalidRequest, "request id already in flight", qerr).
			WithContext("request_id", req.ID).
			WithContext("trace", lc.trace)
	}
	if qerr != nil {
		c.transition(lc, StateRejected, logger)
		c.record(func(s *ControllerStats) { s.Rejected++ })
		snap := c.queue.Snapshot()
		logger.Warn("Request rejected, queue full", "queue_length", snap.Length, "max_queue_size", snap.Capacity)
		return nil, NewTTSError(ErrorCodeAdmissionRejected, "queue is full, retry later", nil).
			WithContext("request_id", req.ID).
			WithContext("queue", snap).
			WithContext("trace", lc.trace)
	}
	c.transition(lc, StateAdmitted, logger)
	logger.Info("Request admitted", "position", position, "voice", req.Voice, "emotion", req.Emotion)

	defer func() {
		c.queue.Remove(req.ID)
		c.transition(lc, StateReleased, logger)
		if res != nil {
			res.Trace = lc.trace
		}
		var te *TTSError
		if errors.As(err, &te) {
			te.WithContext("trace", lc.trace)
		}
	}()

	emotion := req.Emotion
	if emotion == EmotionAuto {
		emotion = c.classify(ctx, req.Text, logger)
	}

	c.transition(lc, StateResolving, logger)
	asset, rerr := c.resolver.Resolve(req.Voice, emotion)
	if rerr != nil {
		c.transition(lc, StateResolutionFailed, logger)
		c.record(func(s *ControllerStats) { s.NotFound++ })
		te := NewTTSError(ErrorCodeAssetNotFound, "reference audio not found", rerr).
			WithContext("request_id", req.ID).
			WithContext("voice", req.Voice).
			WithContext("emotion", emotion)
		var nf *voice.NotFoundError
		if errors.As(rerr, &nf) {
			te.WithContext("attempted_paths", nf.Attempted)
		}
		logger.Error("Reference audio not found", "voice", req.Voice, "emotion", emotion, "error", rerr)
		return nil, te
	}
	c.transition(lc, StateResolved, logger)

	c.transition(lc, StateQueued, logger)
	queuedAt := c.now()
	params := SynthesisParams{
		Text:              req.Text,
		Reference:         asset.Path,
		Speed:             req.Speed,
		Temperature:       req.Temperature,
		TopP:              req.TopP,
		TopK:              req.TopK,
		RepetitionPenalty: req.RepetitionPenalty,
	}

	var out audio.Audio
	var waited time.Duration
	xerr := c.executor.RunExclusive(ctx, func(ctx context.Context) error {
		waited = c.now().Sub(queuedAt)
		c.queue.SetProcessing(req.ID)
		c.transition(lc, StateProcessing, logger)
		logger.Info("Synthesis started", "engine", c.engine.Name(), "reference", asset.Rel, "waited", waited)

		if c.config.SynthesisTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.config.SynthesisTimeout)
			defer cancel()
		}

		a, err := c.engine.Synthesize(ctx, params)
		if err != nil {
			return err
		}
		if err := a.Validate(); err != nil {
			return fmt.Errorf("engine returned unusable audio: %w", err)
		}
		out = c.postProcess(ctx, a, req.Speed, logger)
		return nil
	})

	if xerr != nil {
		if CodeOf(xerr) == ErrorCodeCanceled {
			c.transition(lc, StateCanceled, logger)
			c.record(func(s *ControllerStats) { s.Canceled++ })
			logger.Warn("Request canceled while waiting for the engine", "error", xerr)
			return nil, withRequest(xerr, req.ID)
		}
		c.transition(lc, StateSynthesisFailed, logger)
		c.record(func(s *ControllerStats) { s.Failed++ })
		logger.Error("Synthesis failed", "error", xerr)
		return nil, withRequest(xerr, req.ID).WithContext("queue", c.queue.Snapshot())
	}

	c.transition(lc, StateCompleted, logger)
	elapsed := c.now().Sub(started)
	c.record(func(s *ControllerStats) {
		s.Completed++
		s.AudioGenerated += out.Duration()
	})
	logger.Info("Synthesis completed", "duration", out.Duration(), "elapsed", elapsed)

	return &Result{
		RequestID: req.ID,
		Audio:     out,
		Asset:     asset,
		Emotion:   emotion,
		Position:  position,
		Waited:    waited,
		Elapsed:   elapsed,
	}, nil
}

// classify resolves emotion "auto". The call is bounded by the classifier
// timeout even if the classifier ignores its context.
func (c *Controller) classify(ctx context.Context, text string, logger *log.Logger) string {
	if c.classifier == nil {
		c.record(func(s *ControllerStats) { s.ClassifierFallback++ })
		logger.Warn("No sentiment classifier configured, using default emotion")
		return voice.DefaultEmotion
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.ClassifierTimeout)
	defer cancel()

	result := make(chan string, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				result <- ""
			}
		}()
		result <- c.classifier.Classify(ctx, text)
	}()

	select {
	case label := <-result:
		if label == "" || label == EmotionAuto {
			label = voice.DefaultEmotion
		}
		if label == voice.DefaultEmotion {
			c.record(func(s *ControllerStats) { s.ClassifierFallback++ })
		}
		logger.Info("Sentiment classified", "emotion", label)
		return label
	case <-ctx.Done():
		c.record(func(s *ControllerStats) { s.ClassifierFallback++ })
		logger.Warn("Sentiment classification degraded, using default emotion",
			"error", fmt.Errorf("%w: %v", ErrClassifierDegraded, ctx.Err()))
		return voice.DefaultEmotion
	}
}

// postProcess applies speed and sample rate adjustments. Each step that
// fails keeps the audio it was given.
func (c *Controller) postProcess(ctx context.Context, a audio.Audio, speed float64, logger *log.Logger) audio.Audio {
	if c.post == nil {
		return a
	}
	if speed != 1.0 {
		stretched, err := c.post.TimeStretch(ctx, a, speed)
		if err != nil {
			logger.Warn("Speed adjustment failed, returning original audio", "speed", speed, "error", err)
		} else {
			a = stretched
		}
	}
	if c.config.SampleRate > 0 && a.SampleRate != c.config.SampleRate {
		resampled, err := c.post.Resample(a, c.config.SampleRate)
		if err != nil {
			logger.Warn("Resampling failed, returning original audio", "from", a.SampleRate, "to", c.config.SampleRate, "error", err)
		} else {
			a = resampled
		}
	}
	return a
}

func (c *Controller) transition(lc *lifecycle, next State, logger *log.Logger) {
	if err := lc.to(next); err != nil {
		logger.Error("State machine violation", "error", err, "trace", lc.trace.String())
		return
	}
	logger.Debug("State", "state", next)
}

func (c *Controller) record(fn func(*ControllerStats)) {
	c.statsMu.Lock()
	fn(&c.stats)
	c.stats.LastActivity = c.now()
	c.statsMu.Unlock()
}

// Stats returns a copy of the controller statistics
func (c *Controller) Stats() ControllerStats {
	c.statsMu.RLock()
	defer c.statsMu.RUnlock()
	return c.stats
}

// withRequest attaches the request id to err, wrapping non-TTSErrors.
func withRequest(err error, id string) *TTSError {
	var te *TTSError
	if !errors.As(err, &te) {
		te = NewTTSError(CodeOf(err), err.Error(), err)
	}
	return te.WithContext("request_id", id)
}
