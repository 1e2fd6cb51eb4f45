package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config is the complete service configuration.
type Config struct {
	Server    ServerConfig
	Paths     PathsConfig
	Queue     QueueConfig
	Audio     AudioConfig
	TTS       TTSConfig
	Sentiment SentimentConfig
	Outputs   OutputsConfig
	Cluster   ClusterConfig
	Log       LogConfig
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host          string
	Port          int
	MaxUploadSize int64
}

// PathsConfig locates the on-disk trees.
type PathsConfig struct {
	Presets  string
	Personas string
	Outputs  string
	Logs     string
}

// QueueConfig configures admission.
type QueueConfig struct {
	MaxSize int
}

// AudioConfig configures input limits and output audio.
type AudioConfig struct {
	SampleRate      int
	MaxTextLength   int
	AssetExtensions []string
	FFmpeg          string
}

// TTSConfig selects and configures the synthesis engine.
type TTSConfig struct {
	Engine           string
	SynthesisTimeout time.Duration
	Mock             MockConfig
	Command          CommandConfig
}

// MockConfig configures the mock engine.
type MockConfig struct {
	Delay time.Duration
}

// CommandConfig configures the external command engine.
type CommandConfig struct {
	Binary  string
	Args    []string
	Timeout time.Duration
}

// SentimentConfig configures the emotion classifier.
type SentimentConfig struct {
	Enabled           bool
	BaseURL           string
	APIKey            string
	Model             string
	Labels            []string
	Timeout           time.Duration
	RequestsPerMinute int
	CacheSize         int
}

// OutputsConfig configures the saved output store.
type OutputsConfig struct {
	Capacity         int64
	CompressionLevel int
}

// ClusterConfig configures the cluster supervisor and its dispatcher.
type ClusterConfig struct {
	Instances    int
	BasePort     int
	Stagger      time.Duration
	GracePeriod  time.Duration
	PollInterval time.Duration
	WithProxy    bool
	ProxyPort    int
	ProxyTimeout time.Duration
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string
	Format string
	File   string
}

// EnvOverrides are the process-level variables a supervisor sets for each
// instance. They take precedence over the configuration file.
type EnvOverrides struct {
	Host        string `env:"HOST"`
	Port        int    `env:"PORT"`
	BackendPort int    `env:"BACKEND_PORT"`
}

// DefaultConfig returns a Config with every default filled in.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Host:          "0.0.0.0",
			Port:          5050,
			MaxUploadSize: 50 << 20,
		},
		Paths: PathsConfig{
			Presets:  "./presets",
			Personas: "./personas",
			Outputs:  "./outputs",
			Logs:     "./logs",
		},
		Queue: QueueConfig{MaxSize: 50},
		Audio: AudioConfig{
			SampleRate:      24000,
			MaxTextLength:   5000,
			AssetExtensions: []string{".wav"},
			FFmpeg:          "ffmpeg",
		},
		TTS: TTSConfig{
			Engine:  "mock",
			Mock:    MockConfig{Delay: 500 * time.Millisecond},
			Command: CommandConfig{Timeout: 10 * time.Minute},
		},
		Sentiment: SentimentConfig{
			Enabled:           true,
			BaseURL:           "https://generativelanguage.googleapis.com/v1beta/openai/",
			Model:             "gemini-1.5-flash",
			Labels:            []string{"happy", "sad", "angry", "fear", "surprise", "neutral", "default"},
			Timeout:           10 * time.Second,
			RequestsPerMinute: 60,
			CacheSize:         1024,
		},
		Outputs: OutputsConfig{
			Capacity:         1 << 30,
			CompressionLevel: 3,
		},
		Cluster: ClusterConfig{
			Instances:    2,
			BasePort:     8080,
			Stagger:      30 * time.Second,
			GracePeriod:  10 * time.Second,
			PollInterval: time.Second,
			ProxyPort:    8000,
			ProxyTimeout: 300 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// SetDefaults registers every default with v so that IsSet, env lookups
// and config files all see the same key set.
func SetDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.max_upload_size", d.Server.MaxUploadSize)

	v.SetDefault("paths.presets", d.Paths.Presets)
	v.SetDefault("paths.personas", d.Paths.Personas)
	v.SetDefault("paths.outputs", d.Paths.Outputs)
	v.SetDefault("paths.logs", d.Paths.Logs)

	v.SetDefault("queue.max_size", d.Queue.MaxSize)

	v.SetDefault("audio.sample_rate", d.Audio.SampleRate)
	v.SetDefault("audio.max_text_length", d.Audio.MaxTextLength)
	v.SetDefault("audio.asset_extensions", d.Audio.AssetExtensions)
	v.SetDefault("audio.ffmpeg", d.Audio.FFmpeg)

	v.SetDefault("tts.engine", d.TTS.Engine)
	v.SetDefault("tts.synthesis_timeout", d.TTS.SynthesisTimeout)
	v.SetDefault("tts.mock.delay", d.TTS.Mock.Delay)
	v.SetDefault("tts.command.binary", d.TTS.Command.Binary)
	v.SetDefault("tts.command.args", d.TTS.Command.Args)
	v.SetDefault("tts.command.timeout", d.TTS.Command.Timeout)

	v.SetDefault("sentiment.enabled", d.Sentiment.Enabled)
	v.SetDefault("sentiment.base_url", d.Sentiment.BaseURL)
	v.SetDefault("sentiment.api_key", d.Sentiment.APIKey)
	v.SetDefault("sentiment.model", d.Sentiment.Model)
	v.SetDefault("sentiment.labels", d.Sentiment.Labels)
	v.SetDefault("sentiment.timeout", d.Sentiment.Timeout)
	v.SetDefault("sentiment.requests_per_minute", d.Sentiment.RequestsPerMinute)
	v.SetDefault("sentiment.cache_size", d.Sentiment.CacheSize)

	v.SetDefault("outputs.capacity", d.Outputs.Capacity)
	v.SetDefault("outputs.compression_level", d.Outputs.CompressionLevel)

	v.SetDefault("cluster.instances", d.Cluster.Instances)
	v.SetDefault("cluster.base_port", d.Cluster.BasePort)
	v.SetDefault("cluster.stagger", d.Cluster.Stagger)
	v.SetDefault("cluster.grace_period", d.Cluster.GracePeriod)
	v.SetDefault("cluster.poll_interval", d.Cluster.PollInterval)
	v.SetDefault("cluster.with_proxy", d.Cluster.WithProxy)
	v.SetDefault("cluster.proxy_port", d.Cluster.ProxyPort)
	v.SetDefault("cluster.proxy_timeout", d.Cluster.ProxyTimeout)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", d.Log.File)
}

// LoadFromViper builds a Config from v, applies environment overrides,
// expands '~' in paths and validates the result.
func LoadFromViper(v *viper.Viper) (Config, error) {
	cfg := DefaultConfig()

	cfg.Server.Host = v.GetString("server.host")
	cfg.Server.Port = v.GetInt("server.port")
	size, err := byteSize(v, "server.max_upload_size")
	if err != nil {
		return cfg, err
	}
	cfg.Server.MaxUploadSize = size

	cfg.Paths.Presets = v.GetString("paths.presets")
	cfg.Paths.Personas = v.GetString("paths.personas")
	cfg.Paths.Outputs = v.GetString("paths.outputs")
	cfg.Paths.Logs = v.GetString("paths.logs")

	cfg.Queue.MaxSize = v.GetInt("queue.max_size")

	cfg.Audio.SampleRate = v.GetInt("audio.sample_rate")
	cfg.Audio.MaxTextLength = v.GetInt("audio.max_text_length")
	cfg.Audio.AssetExtensions = v.GetStringSlice("audio.asset_extensions")
	cfg.Audio.FFmpeg = v.GetString("audio.ffmpeg")

	cfg.TTS.Engine = strings.ToLower(strings.TrimSpace(v.GetString("tts.engine")))
	cfg.TTS.SynthesisTimeout = v.GetDuration("tts.synthesis_timeout")
	cfg.TTS.Mock.Delay = v.GetDuration("tts.mock.delay")
	cfg.TTS.Command.Binary = v.GetString("tts.command.binary")
	cfg.TTS.Command.Args = v.GetStringSlice("tts.command.args")
	cfg.TTS.Command.Timeout = v.GetDuration("tts.command.timeout")

	cfg.Sentiment.Enabled = v.GetBool("sentiment.enabled")
	cfg.Sentiment.BaseURL = v.GetString("sentiment.base_url")
	cfg.Sentiment.APIKey = v.GetString("sentiment.api_key")
	cfg.Sentiment.Model = v.GetString("sentiment.model")
	cfg.Sentiment.Labels = v.GetStringSlice("sentiment.labels")
	cfg.Sentiment.Timeout = v.GetDuration("sentiment.timeout")
	cfg.Sentiment.RequestsPerMinute = v.GetInt("sentiment.requests_per_minute")
	cfg.Sentiment.CacheSize = v.GetInt("sentiment.cache_size")

	capacity, err := byteSize(v, "outputs.capacity")
	if err != nil {
		return cfg, err
	}
	cfg.Outputs.Capacity = capacity
	cfg.Outputs.CompressionLevel = v.GetInt("outputs.compression_level")

	cfg.Cluster.Instances = v.GetInt("cluster.instances")
	cfg.Cluster.BasePort = v.GetInt("cluster.base_port")
	cfg.Cluster.Stagger = v.GetDuration("cluster.stagger")
	cfg.Cluster.GracePeriod = v.GetDuration("cluster.grace_period")
	cfg.Cluster.PollInterval = v.GetDuration("cluster.poll_interval")
	cfg.Cluster.WithProxy = v.GetBool("cluster.with_proxy")
	cfg.Cluster.ProxyPort = v.GetInt("cluster.proxy_port")
	cfg.Cluster.ProxyTimeout = v.GetDuration("cluster.proxy_timeout")

	cfg.Log.Level = v.GetString("log.level")
	cfg.Log.Format = v.GetString("log.format")
	cfg.Log.File = v.GetString("log.file")

	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}
	if err := cfg.ExpandPaths(); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ApplyEnv applies HOST, PORT and BACKEND_PORT. BACKEND_PORT wins over PORT.
func (c *Config) ApplyEnv() error {
	o, err := env.ParseAs[EnvOverrides]()
	if err != nil {
		return fmt.Errorf("error parsing environment: %w", err)
	}
	if o.Host != "" {
		c.Server.Host = o.Host
	}
	switch {
	case o.BackendPort != 0:
		c.Server.Port = o.BackendPort
	case o.Port != 0:
		c.Server.Port = o.Port
	}
	return nil
}

// ExpandPaths expands a leading '~' in every configured path.
func (c *Config) ExpandPaths() error {
	for _, p := range []*string{
		&c.Paths.Presets,
		&c.Paths.Personas,
		&c.Paths.Outputs,
		&c.Paths.Logs,
		&c.Log.File,
		&c.TTS.Command.Binary,
	} {
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("unable to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks every value for range and consistency.
func (c *Config) Validate() error {
	if err := validPort("server.port", c.Server.Port); err != nil {
		return err
	}
	if c.Server.MaxUploadSize <= 0 {
		return fmt.Errorf("server.max_upload_size must be positive, got %d", c.Server.MaxUploadSize)
	}
	if c.Paths.Presets == "" || c.Paths.Personas == "" || c.Paths.Outputs == "" || c.Paths.Logs == "" {
		return fmt.Errorf("paths.presets, paths.personas, paths.outputs and paths.logs must be set")
	}
	if c.Queue.MaxSize < 1 {
		return fmt.Errorf("queue.max_size must be at least 1, got %d", c.Queue.MaxSize)
	}
	if c.Audio.SampleRate < 8000 || c.Audio.SampleRate > 192000 {
		return fmt.Errorf("audio.sample_rate must be between 8000 and 192000, got %d", c.Audio.SampleRate)
	}
	if c.Audio.MaxTextLength < 1 {
		return fmt.Errorf("audio.max_text_length must be at least 1, got %d", c.Audio.MaxTextLength)
	}
	if len(c.Audio.AssetExtensions) == 0 {
		return fmt.Errorf("audio.asset_extensions cannot be empty")
	}

	switch c.TTS.Engine {
	case "mock":
	case "command":
		if c.TTS.Command.Binary == "" {
			return fmt.Errorf("tts.command.binary is required for the command engine")
		}
	default:
		return fmt.Errorf("invalid tts.engine %q: must be one of [mock command]", c.TTS.Engine)
	}
	if c.TTS.SynthesisTimeout < 0 || c.TTS.Mock.Delay < 0 || c.TTS.Command.Timeout < 0 {
		return fmt.Errorf("tts timeouts and delays cannot be negative")
	}

	if c.Sentiment.Timeout <= 0 {
		return fmt.Errorf("sentiment.timeout must be positive, got %s", c.Sentiment.Timeout)
	}
	if c.Sentiment.RequestsPerMinute < 1 {
		return fmt.Errorf("sentiment.requests_per_minute must be at least 1, got %d", c.Sentiment.RequestsPerMinute)
	}

	if c.Outputs.Capacity <= 0 {
		return fmt.Errorf("outputs.capacity must be positive, got %d", c.Outputs.Capacity)
	}
	if c.Outputs.CompressionLevel < 0 || c.Outputs.CompressionLevel > 22 {
		return fmt.Errorf("outputs.compression_level must be between 0 and 22, got %d", c.Outputs.CompressionLevel)
	}

	if c.Cluster.Instances < 1 {
		return fmt.Errorf("cluster.instances must be at least 1, got %d", c.Cluster.Instances)
	}
	if err := validPort("cluster.base_port", c.Cluster.BasePort); err != nil {
		return err
	}
	if last := c.Cluster.BasePort + c.Cluster.Instances - 1; last > 65535 {
		return fmt.Errorf("cluster.base_port %d leaves no room for %d instances", c.Cluster.BasePort, c.Cluster.Instances)
	}
	if err := validPort("cluster.proxy_port", c.Cluster.ProxyPort); err != nil {
		return err
	}
	if c.Cluster.Stagger < 0 || c.Cluster.GracePeriod < 0 {
		return fmt.Errorf("cluster.stagger and cluster.grace_period cannot be negative")
	}
	if c.Cluster.PollInterval <= 0 {
		return fmt.Errorf("cluster.poll_interval must be positive, got %s", c.Cluster.PollInterval)
	}

	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log.level %q: %w", c.Log.Level, err)
	}
	switch c.Log.Format {
	case "text", "json", "logfmt":
	default:
		return fmt.Errorf("invalid log.format %q: must be one of [text json logfmt]", c.Log.Format)
	}
	return nil
}

// Addr returns the listen address of the server.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func validPort(key string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s must be between 1 and 65535, got %d", key, port)
	}
	return nil
}

// byteSize reads key as either a number of bytes or a humanized size such
// as "50MiB".
func byteSize(v *viper.Viper, key string) (int64, error) {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return int64(n), nil //nolint:gosec
}
