package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt":        {"whisper", "whisper-native"},
	"tts":        {"kokoro", "coqui"},
	"vad":        {"silero", "energy"},
	"embeddings": {"openai", "ollama"},
}

// Load reads the YAML configuration file at path, layers it over the
// defaults, and returns the result after applying environment overrides and
// validation.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r over the defaults, applies
// environment overrides, and validates the result. Useful in tests where
// configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv builds a configuration from defaults plus environment variables,
// without a file.
func FromEnv() (*Config, error) {
	cfg := Default()
	applyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays recognised environment variables onto cfg. Unset and
// empty variables leave the existing value untouched; unparsable numeric
// values are logged and skipped.
func applyEnv(cfg *Config) {
	envString("HOST", &cfg.Server.Host)
	envInt("PORT", &cfg.Server.Port)
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Server.LogLevel = LogLevel(v)
	}
	envString("DB_PATH", &cfg.DB.Path)

	envInt("SAMPLE_RATE", &cfg.Audio.SampleRate)
	envInt("CHANNELS", &cfg.Audio.Channels)
	envInt("SILENCE_MS", &cfg.Audio.SilenceMs)
	envInt("MAX_RECORDING_MS", &cfg.Audio.MaxRecordingMs)

	envString("LLM_FAST_MODEL", &cfg.LLM.FastModel)
	envString("LLM_DEEP_MODEL", &cfg.LLM.DeepModel)
	envInt("LLM_MAX_TOKENS", &cfg.LLM.MaxTokens)
	envInt("LLM_CONCURRENCY", &cfg.LLM.Concurrency)
	envInt("LLM_MAX_TOOL_ROUNDS", &cfg.LLM.MaxToolRounds)
	envInt("LLM_HISTORY_MAX", &cfg.LLM.HistoryMax)
	envString("LLM_API_KEY", &cfg.LLM.APIKey)

	envString("LLM_PROVIDER", &cfg.Providers.LLM.Name)
	envString("STT_PROVIDER", &cfg.Providers.STT.Name)
	envString("STT_BASE_URL", &cfg.Providers.STT.BaseURL)
	envString("TTS_PROVIDER", &cfg.Providers.TTS.Name)
	envString("TTS_BASE_URL", &cfg.Providers.TTS.BaseURL)
	envString("VAD_PROVIDER", &cfg.Providers.VAD.Name)
	envString("VAD_MODEL_PATH", &cfg.Providers.VAD.Model)
	envString("EMBEDDINGS_PROVIDER", &cfg.Providers.Embeddings.Name)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("config: ignoring unparsable environment variable", "key", key, "value", v)
		return
	}
	*dst = n
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
