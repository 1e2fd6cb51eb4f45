package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/charmbracelet/x/editor"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultConfig = `# HTTP listener. PORT, BACKEND_PORT and HOST in the environment win.
server:
  host: "0.0.0.0"
  port: 5050
  # largest accepted voice upload
  max_upload_size: "50MiB"

# on-disk trees; '~' is expanded
paths:
  presets: "./presets"
  personas: "./personas"
  outputs: "./outputs"
  logs: "./logs"

# admission: requests beyond this many are rejected with 503
queue:
  max_size: 50

audio:
  # output sample rate; other rates are resampled
  sample_rate: 24000
  max_text_length: 5000
  # reference audio extensions, most preferred first
  asset_extensions: [".wav"]
  # used for mp3 encoding and speed changes
  ffmpeg: "ffmpeg"

tts:
  # mock or command
  engine: "mock"
  # bound on one synthesis, 0 for none
  synthesis_timeout: "0s"
  mock:
    delay: "500ms"
  command:
    # reads a JSON request on stdin, writes WAV on stdout
    # binary: "/usr/local/bin/synthesize"
    args: []
    timeout: "10m"

# emotion "auto" asks a chat-completions endpoint for a label
sentiment:
  enabled: true
  base_url: "https://generativelanguage.googleapis.com/v1beta/openai/"
  # api_key: "your-api-key-here"
  model: "gemini-1.5-flash"
  labels: ["happy", "sad", "angry", "fear", "surprise", "neutral", "default"]
  timeout: "10s"
  requests_per_minute: 60
  # texts remembered with their label, -1 disables
  cache_size: 1024

# saved outputs (save_audio: true)
outputs:
  capacity: "1GiB"
  # zstd level, 0 disables compression
  compression_level: 3

cluster:
  instances: 2
  base_port: 8080
  # each instance loads its own engine; give it time
  stagger: "30s"
  grace_period: "10s"
  poll_interval: "1s"
  with_proxy: false
  proxy_port: 8000
  proxy_timeout: "300s"

log:
  # debug, info, warn or error
  level: "info"
  # text, json or logfmt
  format: "text"
  # file: "~/.local/state/voicenexus/voicenexus.log"
`

var configCmd = &cobra.Command{
	Use:     "config",
	Hidden:  false,
	Short:   "Edit the voicenexus config file",
	Long:    paragraph(fmt.Sprintf("\n%s the voicenexus config file. We’ll use EDITOR to determine which editor to use. If the config file doesn't exist, it will be created.", keyword("Edit"))),
	Example: paragraph("voicenexus config\nvoicenexus config --config path/to/config.yml"),
	Args:    cobra.NoArgs,
	// the file is being edited, it need not be valid yet
	PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	RunE: func(*cobra.Command, []string) error {
		if err := ensureConfigFile(); err != nil {
			return err
		}

		c, err := editor.Cmd("VoiceNexus", configFile)
		if err != nil {
			return fmt.Errorf("unable to set config file: %w", err)
		}
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("unable to run command: %w", err)
		}

		fmt.Println("Wrote config file to:", configFile)
		return nil
	},
}

func ensureConfigFile() error {
	if configFile == "" {
		configFile = viper.GetViper().ConfigFileUsed()
	}
	if configFile == "" {
		configFile = defaultConfigPath
	}

	if ext := path.Ext(configFile); ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("'%s' is not a supported configuration type: use '%s' or '%s'", ext, ".yaml", ".yml")
	}

	if _, err := os.Stat(configFile); errors.Is(err, fs.ErrNotExist) {
		// File doesn't exist yet, create all necessary directories and
		// write the default config file
		if err := os.MkdirAll(filepath.Dir(configFile), 0o700); err != nil {
			return fmt.Errorf("unable create directory: %w", err)
		}

		if err := os.WriteFile(configFile, []byte(defaultConfig), 0o600); err != nil {
			return fmt.Errorf("unable to write config file: %w", err)
		}
	} else if err != nil { // some other error occurred
		return fmt.Errorf("unable to stat config file: %w", err)
	}
	return nil
}
