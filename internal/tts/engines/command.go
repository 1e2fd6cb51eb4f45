package engines

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/charmbracelet/log"

	"github.com/voicenexus/voicenexus/internal/audio"
	"github.com/voicenexus/voicenexus/internal/tts"
)

// CommandEngine runs an external inference program once per call. The
// request is written to stdin as JSON and a WAV stream is read from stdout.
type CommandEngine struct {
	binary string
	args   []string
	runner *audio.Runner
	logger *log.Logger
}

// CommandConfig holds configuration for the command engine.
type CommandConfig struct {
	// Binary is the program to run (required).
	Binary string

	// Args are passed to every invocation.
	Args []string

	// Timeout bounds one invocation (defaults to 10 minutes).
	Timeout time.Duration
}

// commandRequest is the stdin payload.
type commandRequest struct {
	Text              string  `json:"text"`
	Reference         string  `json:"reference"`
	Speed             float64 `json:"speed"`
	Temperature       float64 `json:"temperature"`
	TopP              float64 `json:"top_p"`
	TopK              int     `json:"top_k"`
	RepetitionPenalty float64 `json:"repetition_penalty"`
}

// NewCommandEngine creates a command engine.
func NewCommandEngine(config CommandConfig) (*CommandEngine, error) {
	if config.Binary == "" {
		return nil, errors.New("command engine requires a binary")
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Minute
	}
	return &CommandEngine{
		binary: config.Binary,
		args:   config.Args,
		runner: audio.NewRunner(config.Timeout),
		logger: log.WithPrefix("engine"),
	}, nil
}

// Name returns the engine name.
func (e *CommandEngine) Name() string {
	return "command"
}

// Synthesize runs the program and decodes its WAV output.
func (e *CommandEngine) Synthesize(ctx context.Context, params tts.SynthesisParams) (audio.Audio, error) {
	payload, err := json.Marshal(commandRequest{
		Text:              params.Text,
		Reference:         params.Reference,
		Speed:             params.Speed,
		Temperature:       params.Temperature,
		TopP:              params.TopP,
		TopK:              params.TopK,
		RepetitionPenalty: params.RepetitionPenalty,
	})
	if err != nil {
		return audio.Audio{}, fmt.Errorf("failed to encode request: %w", err)
	}

	start := time.Now()
	out, err := e.runner.Run(ctx, payload, e.binary, e.args...)
	if err != nil {
		return audio.Audio{}, err
	}
	e.logger.Debug("Inference command finished", "binary", e.binary, "bytes", len(out), "elapsed", time.Since(start))

	a, err := audio.DecodeWAV(out)
	if err != nil {
		return audio.Audio{}, fmt.Errorf("inference output is not wav: %w", err)
	}
	return a, nil
}

// Validate checks that the binary can be found.
func (e *CommandEngine) Validate() error {
	if _, err := exec.LookPath(e.binary); err != nil {
		return fmt.Errorf("%s not found: %w", e.binary, err)
	}
	return nil
}
