package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTestConfig() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Loader:  LoaderConfig{MaxRetries: 3, RetryDelay: time.Second},
		Buffer: BufferConfig{
			MinBuffer:    15 * time.Second,
			MaxBuffer:    30 * time.Second,
			Contribution: 16 * MB,
		},
		Sim: SimConfig{
			StreamDuration:  30 * time.Second,
			ChunkDuration:   2 * time.Second,
			SamplesPerChunk: 48,
			TickInterval:    10 * time.Millisecond,
		},
	}
}

func TestLoad_Defaults(t *testing.T) {
	// Load without config file should use defaults
	cfg, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// Logging defaults
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	// Loader defaults
	assert.Equal(t, 3, cfg.Loader.MaxRetries)
	assert.Equal(t, time.Second, cfg.Loader.RetryDelay)

	// Buffer defaults
	assert.Equal(t, 15*time.Second, cfg.Buffer.MinBuffer)
	assert.Equal(t, 30*time.Second, cfg.Buffer.MaxBuffer)
	assert.Equal(t, 16*MB, cfg.Buffer.Contribution)

	// Sim defaults
	assert.Equal(t, 30*time.Second, cfg.Sim.StreamDuration)
	assert.Equal(t, 2*time.Second, cfg.Sim.ChunkDuration)
	assert.Equal(t, 48, cfg.Sim.SamplesPerChunk)
	assert.Equal(t, 10*time.Millisecond, cfg.Sim.TickInterval)
	assert.Equal(t, 0, cfg.Sim.FailEveryN)
	assert.False(t, cfg.Sim.InitChunk)
}

func TestFromViper_SeesBoundFlagValues(t *testing.T) {
	// The CLI binds command flags to a shared viper instance; loading from
	// that instance must pick the flag values up.
	v := viper.New()
	SetDefaults(v)

	flags := pflag.NewFlagSet("run", pflag.ContinueOnError)
	flags.Int("fail-every-n", 0, "")
	flags.Duration("stream-duration", 0, "")
	require.NoError(t, v.BindPFlag("sim.fail_every_n", flags.Lookup("fail-every-n")))
	require.NoError(t, v.BindPFlag("sim.stream_duration", flags.Lookup("stream-duration")))
	require.NoError(t, flags.Parse([]string{"--fail-every-n=7", "--stream-duration=8s"}))

	cfg, err := FromViper(v)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Sim.FailEveryN)
	assert.Equal(t, 8*time.Second, cfg.Sim.StreamDuration)
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
logging:
  level: debug
  format: text
loader:
  max_retries: 5
  retry_delay: 250ms
buffer:
  min_buffer: 5s
  max_buffer: 10s
sim:
  stream_duration: 8s
  fail_every_n: 4
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, 5, cfg.Loader.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.Loader.RetryDelay)
	assert.Equal(t, 5*time.Second, cfg.Buffer.MinBuffer)
	assert.Equal(t, 10*time.Second, cfg.Buffer.MaxBuffer)
	assert.Equal(t, 8*time.Second, cfg.Sim.StreamDuration)
	assert.Equal(t, 4, cfg.Sim.FailEveryN)
	// Unset keys keep their defaults.
	assert.Equal(t, 48, cfg.Sim.SamplesPerChunk)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("CHUNKSTREAM_BUFFER_MAX_BUFFER", "45s")
	t.Setenv("CHUNKSTREAM_LOGGING_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, cfg.Buffer.MaxBuffer)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoad_InvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging: [not a map"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, true},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, true},
		{"negative retries", func(c *Config) { c.Loader.MaxRetries = -1 }, true},
		{"zero min buffer", func(c *Config) { c.Buffer.MinBuffer = 0 }, true},
		{"min above max", func(c *Config) { c.Buffer.MinBuffer = time.Minute }, true},
		{"negative contribution", func(c *Config) { c.Buffer.Contribution = -1 }, true},
		{"zero chunk duration", func(c *Config) { c.Sim.ChunkDuration = 0 }, true},
		{"zero samples per chunk", func(c *Config) { c.Sim.SamplesPerChunk = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
