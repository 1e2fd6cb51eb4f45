package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv unsets the override variables for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"HOST", "PORT", "BACKEND_PORT"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func newViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	return v
}

func TestLoadFromViper_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadFromViper(newViper())
	require.NoError(t, err)

	assert.Empty(t, cfg.TTS.Command.Args)
	cfg.TTS.Command.Args = nil
	assert.Equal(t, DefaultConfig(), cfg)
	assert.Equal(t, "0.0.0.0:5050", cfg.Addr())
	assert.Equal(t, int64(50<<20), cfg.Server.MaxUploadSize)
	assert.Equal(t, 50, cfg.Queue.MaxSize)
	assert.Equal(t, 10*time.Second, cfg.Sentiment.Timeout)
	assert.Equal(t, 30*time.Second, cfg.Cluster.Stagger)
}

func TestLoadFromViper_File(t *testing.T) {
	clearEnv(t)

	yml := `
server:
  port: 6000
  max_upload_size: 10MiB
queue:
  max_size: 3
audio:
  asset_extensions: [".wav", ".flac"]
tts:
  engine: Command
  command:
    binary: /usr/bin/indextts
    args: ["--fp16"]
    timeout: 2m
outputs:
  capacity: 2GB
cluster:
  instances: 4
  stagger: 5s
log:
  level: debug
  format: json
`
	v := newViper()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(yml)))

	cfg, err := LoadFromViper(v)
	require.NoError(t, err)

	assert.Equal(t, 6000, cfg.Server.Port)
	assert.Equal(t, int64(10<<20), cfg.Server.MaxUploadSize)
	assert.Equal(t, 3, cfg.Queue.MaxSize)
	assert.Equal(t, []string{".wav", ".flac"}, cfg.Audio.AssetExtensions)
	assert.Equal(t, "command", cfg.TTS.Engine)
	assert.Equal(t, "/usr/bin/indextts", cfg.TTS.Command.Binary)
	assert.Equal(t, []string{"--fp16"}, cfg.TTS.Command.Args)
	assert.Equal(t, 2*time.Minute, cfg.TTS.Command.Timeout)
	assert.Equal(t, int64(2_000_000_000), cfg.Outputs.Capacity)
	assert.Equal(t, 4, cfg.Cluster.Instances)
	assert.Equal(t, 5*time.Second, cfg.Cluster.Stagger)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromViper_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "8081")
	t.Setenv("HOST", "127.0.0.1")

	cfg, err := LoadFromViper(newViper())
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8081", cfg.Addr())

	t.Setenv("BACKEND_PORT", "8082")
	cfg, err = LoadFromViper(newViper())
	require.NoError(t, err)
	assert.Equal(t, 8082, cfg.Server.Port)
}

func TestLoadFromViper_BadEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "not-a-port")

	_, err := LoadFromViper(newViper())
	assert.Error(t, err)
}

func TestLoadFromViper_BadSize(t *testing.T) {
	clearEnv(t)
	v := newViper()
	v.Set("server.max_upload_size", "lots")

	_, err := LoadFromViper(v)
	assert.ErrorContains(t, err, "server.max_upload_size")
}

func TestExpandPaths(t *testing.T) {
	home, err := homedir.Dir()
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Paths.Presets = "~/voices"
	cfg.Log.File = "~/voicenexus.log"
	require.NoError(t, cfg.ExpandPaths())

	assert.Equal(t, filepath.Join(home, "voices"), cfg.Paths.Presets)
	assert.Equal(t, filepath.Join(home, "voicenexus.log"), cfg.Log.File)
	assert.Equal(t, "./outputs", cfg.Paths.Outputs)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"defaults", func(*Config) {}, ""},
		{"port zero", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"queue empty", func(c *Config) { c.Queue.MaxSize = 0 }, "queue.max_size"},
		{"sample rate", func(c *Config) { c.Audio.SampleRate = 100 }, "audio.sample_rate"},
		{"no extensions", func(c *Config) { c.Audio.AssetExtensions = nil }, "audio.asset_extensions"},
		{"unknown engine", func(c *Config) { c.TTS.Engine = "piper" }, "tts.engine"},
		{"command without binary", func(c *Config) { c.TTS.Engine = "command" }, "tts.command.binary"},
		{"negative timeout", func(c *Config) { c.TTS.SynthesisTimeout = -time.Second }, "negative"},
		{"sentiment rpm", func(c *Config) { c.Sentiment.RequestsPerMinute = 0 }, "requests_per_minute"},
		{"compression", func(c *Config) { c.Outputs.CompressionLevel = 30 }, "compression_level"},
		{"no instances", func(c *Config) { c.Cluster.Instances = 0 }, "cluster.instances"},
		{"port overflow", func(c *Config) { c.Cluster.BasePort = 65535; c.Cluster.Instances = 2 }, "leaves no room"},
		{"poll interval", func(c *Config) { c.Cluster.PollInterval = 0 }, "poll_interval"},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
