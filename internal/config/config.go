// Package config provides the configuration schema, loader, and provider
// registry for the Auricle voice bridge. Configuration is environment-first:
// every field has a default, an optional YAML file can override the defaults,
// and environment variables override both.
package config

import (
	"errors"
	"fmt"

	"github.com/MrWong99/auricle/internal/segment"
	"github.com/MrWong99/auricle/pkg/audio"
)

// LogLevel controls log verbosity for the server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure. Construct with Default, then
// layer Load and FromEnv on top.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	DB        DBConfig        `yaml:"db"`
	Audio     AudioConfig     `yaml:"audio"`
	LLM       LLMConfig       `yaml:"llm"`
	Providers ProvidersConfig `yaml:"providers"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// Host is the interface to bind; empty means all interfaces.
	Host string `yaml:"host"`

	// Port is the TCP port the HTTP server listens on.
	Port int `yaml:"port"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DBConfig locates the SQLite database.
type DBConfig struct {
	// Path is the database file path; ":memory:" runs without persistence.
	Path string `yaml:"path"`
}

// AudioConfig holds the wire audio format and segmentation windows.
type AudioConfig struct {
	// SampleRate of the PCM stream in Hz.
	SampleRate int `yaml:"sample_rate"`

	// Channels of the PCM stream; the wire format is mono.
	Channels int `yaml:"channels"`

	// SilenceMs is the trailing-silence run that closes an utterance.
	SilenceMs int `yaml:"silence_ms"`

	// MaxRecordingMs caps a single utterance.
	MaxRecordingMs int `yaml:"max_recording_ms"`
}

// LLMConfig tunes the chat engine.
type LLMConfig struct {
	// FastModel answers routine turns.
	FastModel string `yaml:"fast_model"`

	// DeepModel answers long or analytical turns.
	DeepModel string `yaml:"deep_model"`

	// MaxTokens bounds each completion.
	MaxTokens int `yaml:"max_tokens"`

	// Concurrency is the process-wide cap on in-flight model requests.
	Concurrency int `yaml:"concurrency"`

	// MaxToolRounds caps tool-call loops within one turn.
	MaxToolRounds int `yaml:"max_tool_rounds"`

	// HistoryMax is the number of history messages kept per session.
	HistoryMax int `yaml:"history_max"`

	// APIKey authenticates against the model provider. Usually set via the
	// LLM_API_KEY environment variable rather than the file.
	APIKey string `yaml:"api_key"`
}

// ProvidersConfig declares which implementation serves each pipeline stage.
// Each field selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	LLM        ProviderEntry `yaml:"llm"`
	STT        ProviderEntry `yaml:"stt"`
	TTS        ProviderEntry `yaml:"tts"`
	VAD        ProviderEntry `yaml:"vad"`
	Embeddings ProviderEntry `yaml:"embeddings"`
}

// ProviderEntry is the common configuration block shared by all provider
// types. The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "whisper",
	// "kokoro", "silero").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API, if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by
	// the standard fields above (e.g., a model file path).
	Options map[string]any `yaml:"options"`
}

// Default returns the configuration used when nothing else is specified.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:     "",
			Port:     8000,
			LogLevel: LogInfo,
		},
		DB: DBConfig{Path: "auricle.db"},
		Audio: AudioConfig{
			SampleRate:     audio.SampleRate,
			Channels:       audio.Channels,
			SilenceMs:      segment.DefaultSilenceMs,
			MaxRecordingMs: segment.DefaultMaxRecordingMs,
		},
		LLM: LLMConfig{
			FastModel:     "gpt-4o-mini",
			DeepModel:     "gpt-4o",
			MaxTokens:     1024,
			Concurrency:   3,
			MaxToolRounds: 5,
			HistoryMax:    20,
		},
		Providers: ProvidersConfig{
			LLM: ProviderEntry{Name: "openai"},
			STT: ProviderEntry{Name: "whisper"},
			TTS: ProviderEntry{Name: "kokoro"},
			VAD: ProviderEntry{Name: "energy"},
		},
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing every validation failure found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range [1, 65535]", cfg.Server.Port))
	}
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.DB.Path == "" {
		errs = append(errs, errors.New("db.path is required (use \":memory:\" for no persistence)"))
	}

	if cfg.Audio.SampleRate != audio.SampleRate {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is unsupported; the wire format is %d Hz", cfg.Audio.SampleRate, audio.SampleRate))
	}
	if cfg.Audio.Channels != audio.Channels {
		errs = append(errs, fmt.Errorf("audio.channels %d is unsupported; the wire format is mono", cfg.Audio.Channels))
	}
	if cfg.Audio.SilenceMs <= 0 {
		errs = append(errs, fmt.Errorf("audio.silence_ms %d must be positive", cfg.Audio.SilenceMs))
	}
	if cfg.Audio.MaxRecordingMs <= cfg.Audio.SilenceMs {
		errs = append(errs, fmt.Errorf("audio.max_recording_ms %d must exceed silence_ms %d", cfg.Audio.MaxRecordingMs, cfg.Audio.SilenceMs))
	}

	if cfg.LLM.FastModel == "" {
		errs = append(errs, errors.New("llm.fast_model is required"))
	}
	if cfg.LLM.DeepModel == "" {
		errs = append(errs, errors.New("llm.deep_model is required"))
	}
	if cfg.LLM.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("llm.max_tokens %d must be positive", cfg.LLM.MaxTokens))
	}
	if cfg.LLM.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("llm.concurrency %d must be positive", cfg.LLM.Concurrency))
	}
	if cfg.LLM.MaxToolRounds <= 0 {
		errs = append(errs, fmt.Errorf("llm.max_tool_rounds %d must be positive", cfg.LLM.MaxToolRounds))
	}
	if cfg.LLM.HistoryMax <= 0 {
		errs = append(errs, fmt.Errorf("llm.history_max %d must be positive", cfg.LLM.HistoryMax))
	}

	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("vad", cfg.Providers.VAD.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)

	return errors.Join(errs...)
}
