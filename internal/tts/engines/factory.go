package engines

import (
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/voicenexus/voicenexus/internal/tts"
)

// Engine is a synthesizer that can check its own readiness.
type Engine interface {
	tts.Synthesizer
	Validate() error
}

// Config selects and configures an engine.
type Config struct {
	Engine  string
	Mock    MockConfig
	Command CommandConfig
}

// New builds and validates the engine named by config.Engine.
func New(config Config) (Engine, error) {
	var (
		engine Engine
		err    error
	)
	switch config.Engine {
	case "", "mock":
		engine = NewMockEngine(config.Mock)
	case "command":
		engine, err = NewCommandEngine(config.Command)
	default:
		return nil, fmt.Errorf("unknown engine %q (supported: mock, command)", config.Engine)
	}
	if err != nil {
		return nil, err
	}

	if err := engine.Validate(); err != nil {
		return nil, fmt.Errorf("engine %s failed validation: %w", engine.Name(), err)
	}
	log.Info("Synthesis engine loaded", "engine", engine.Name())
	return engine, nil
}
