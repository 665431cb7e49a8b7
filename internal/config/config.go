// Package config provides configuration management for chunkstream using
// Viper. It supports configuration from files, environment variables, and
// defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultLoaderMaxRetries   = 3
	defaultLoaderRetryDelay   = time.Second
	defaultMinBuffer          = 15 * time.Second
	defaultMaxBuffer          = 30 * time.Second
	defaultBufferBytes        = 16 * 1024 * 1024 // 16MB
	defaultSimStreamDuration  = 30 * time.Second
	defaultSimChunkDuration   = 2 * time.Second
	defaultSimSamplesPerChunk = 48
	defaultSimTickInterval    = 10 * time.Millisecond
)

// Config holds all configuration for the application.
type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Loader  LoaderConfig  `mapstructure:"loader"`
	Buffer  BufferConfig  `mapstructure:"buffer"`
	Sim     SimConfig     `mapstructure:"sim"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// LoaderConfig holds fetch executor configuration.
type LoaderConfig struct {
	// MaxRetries is how many times a failed load is retried before the
	// error becomes fatal.
	MaxRetries int `mapstructure:"max_retries"`
	// RetryDelay is the pause before a retry attempt.
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

// BufferConfig holds buffering and admission configuration.
type BufferConfig struct {
	// MinBuffer is the buffered duration below which loading always
	// resumes.
	MinBuffer time.Duration `mapstructure:"min_buffer"`
	// MaxBuffer is the buffered duration above which loading pauses.
	MaxBuffer time.Duration `mapstructure:"max_buffer"`
	// Contribution is the track's share of the shared buffer pool.
	// Supports human-readable values like "16MB" or raw byte counts.
	Contribution ByteSize `mapstructure:"contribution"`
}

// SimConfig holds playback-simulation configuration.
type SimConfig struct {
	// StreamDuration is the total length of the synthetic stream.
	StreamDuration time.Duration `mapstructure:"stream_duration"`
	// ChunkDuration is the media time covered by each synthetic chunk.
	ChunkDuration time.Duration `mapstructure:"chunk_duration"`
	// SamplesPerChunk is how many samples each chunk contributes.
	SamplesPerChunk int `mapstructure:"samples_per_chunk"`
	// TickInterval is how often the simulated player ticks.
	TickInterval time.Duration `mapstructure:"tick_interval"`
	// FailEveryN makes every Nth chunk load fail once, exercising the
	// recovery paths. Zero disables injected failures.
	FailEveryN int `mapstructure:"fail_every_n"`
	// InitChunk makes the synthetic source hand out an initialization
	// chunk before the first media chunk.
	InitChunk bool `mapstructure:"init_chunk"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration and are
// prefixed with CHUNKSTREAM_, using underscores for nesting.
// Example: CHUNKSTREAM_BUFFER_MAX_BUFFER=45s.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/chunkstream")
		v.AddConfigPath("$HOME/.chunkstream")
	}

	v.SetEnvPrefix("CHUNKSTREAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}

	return FromViper(v)
}

// FromViper unmarshals and validates a Config from an already-populated
// viper instance. The CLI binds its flags to the global instance, so
// commands must load through that instance for the bindings to apply.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file.
func SetDefaults(v *viper.Viper) {
	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Loader defaults
	v.SetDefault("loader.max_retries", defaultLoaderMaxRetries)
	v.SetDefault("loader.retry_delay", defaultLoaderRetryDelay)

	// Buffer defaults
	v.SetDefault("buffer.min_buffer", defaultMinBuffer)
	v.SetDefault("buffer.max_buffer", defaultMaxBuffer)
	v.SetDefault("buffer.contribution", defaultBufferBytes)

	// Sim defaults
	v.SetDefault("sim.stream_duration", defaultSimStreamDuration)
	v.SetDefault("sim.chunk_duration", defaultSimChunkDuration)
	v.SetDefault("sim.samples_per_chunk", defaultSimSamplesPerChunk)
	v.SetDefault("sim.tick_interval", defaultSimTickInterval)
	v.SetDefault("sim.fail_every_n", 0)
	v.SetDefault("sim.init_chunk", false)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid logging.format %q", c.Logging.Format)
	}
	if c.Loader.MaxRetries < 0 {
		return fmt.Errorf("loader.max_retries must not be negative")
	}
	if c.Buffer.MinBuffer <= 0 || c.Buffer.MaxBuffer <= 0 {
		return fmt.Errorf("buffer watermarks must be positive")
	}
	if c.Buffer.MinBuffer > c.Buffer.MaxBuffer {
		return fmt.Errorf("buffer.min_buffer %s exceeds buffer.max_buffer %s",
			c.Buffer.MinBuffer, c.Buffer.MaxBuffer)
	}
	if c.Buffer.Contribution < 0 {
		return fmt.Errorf("buffer.contribution must not be negative")
	}
	if c.Sim.ChunkDuration <= 0 || c.Sim.StreamDuration <= 0 {
		return fmt.Errorf("sim durations must be positive")
	}
	if c.Sim.SamplesPerChunk <= 0 {
		return fmt.Errorf("sim.samples_per_chunk must be positive")
	}
	return nil
}
