// Command auricle is the main entry point for the Auricle voice bridge.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/auricle/internal/app"
	"github.com/MrWong99/auricle/internal/chat"
	"github.com/MrWong99/auricle/internal/config"
	"github.com/MrWong99/auricle/internal/hotctx"
	"github.com/MrWong99/auricle/internal/observe"
	"github.com/MrWong99/auricle/internal/recall"
	"github.com/MrWong99/auricle/internal/resilience"
	"github.com/MrWong99/auricle/internal/store"
	"github.com/MrWong99/auricle/internal/tier"
	"github.com/MrWong99/auricle/internal/tools"
	"github.com/MrWong99/auricle/internal/tools/expensetool"
	"github.com/MrWong99/auricle/internal/tools/healthtool"
	"github.com/MrWong99/auricle/internal/tools/insighttool"
	"github.com/MrWong99/auricle/internal/tools/mcpserve"
	"github.com/MrWong99/auricle/internal/transcript"
	"github.com/MrWong99/auricle/internal/transcript/phonetic"
	"github.com/MrWong99/auricle/pkg/provider/embeddings"
	ollamaembed "github.com/MrWong99/auricle/pkg/provider/embeddings/ollama"
	oaembed "github.com/MrWong99/auricle/pkg/provider/embeddings/openai"
	"github.com/MrWong99/auricle/pkg/provider/llm"
	"github.com/MrWong99/auricle/pkg/provider/llm/anyllm"
	oaillm "github.com/MrWong99/auricle/pkg/provider/llm/openai"
	"github.com/MrWong99/auricle/pkg/provider/stt"
	"github.com/MrWong99/auricle/pkg/provider/stt/whisper"
	"github.com/MrWong99/auricle/pkg/provider/tts"
	"github.com/MrWong99/auricle/pkg/provider/tts/coqui"
	"github.com/MrWong99/auricle/pkg/provider/tts/kokoro"
	"github.com/MrWong99/auricle/pkg/provider/vad"
	"github.com/MrWong99/auricle/pkg/provider/vad/energy"
	"github.com/MrWong99/auricle/pkg/provider/vad/silero"
)

// version is stamped via -ldflags at release time.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	// Configuration is environment-first: a missing file is fine, the
	// defaults plus environment variables carry a full setup.
	fileLoaded := true
	cfg, err := config.Load(*configPath)
	if errors.Is(err, os.ErrNotExist) {
		fileLoaded = false
		cfg, err = config.FromEnv()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "auricle: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("auricle starting",
		"version", version,
		"config", *configPath,
		"config_file_loaded", fileLoaded,
		"listen_addr", cfg.Server.Addr(),
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Store (closed last, after everything that writes to it) ──────────────
	st, err := store.Open(ctx, cfg.DB.Path)
	if err != nil {
		slog.Error("failed to open store", "path", cfg.DB.Path, "err", err)
		return 1
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Warn("store close error", "err", err)
		}
	}()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "auricle",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}
	applyResilience(cfg, reg, providers)

	// ── Chat engine ───────────────────────────────────────────────────────────
	chat.SetConcurrency(int64(cfg.LLM.Concurrency))

	toolReg, err := tools.NewRegistry(
		healthtool.NewTools(st),
		expensetool.NewTools(st),
		insighttool.NewTools(st),
	)
	if err != nil {
		slog.Error("failed to build tool registry", "err", err)
		return 1
	}

	var recaller *recall.Recaller
	var hcOpts []hotctx.Option
	if providers.Embeddings != nil {
		recaller = recall.New(st, providers.Embeddings)
		hcOpts = append(hcOpts, hotctx.WithRecall(recaller))
		slog.Info("embedding recall enabled", "provider", cfg.Providers.Embeddings.Name)
	}
	assembler := hotctx.New(st, hcOpts...)

	engineOpts := []chat.Option{
		chat.WithArchiver(st),
		chat.WithObserver(turnObserver{metrics: metrics}),
		chat.WithMaxTokens(cfg.LLM.MaxTokens),
		chat.WithMaxRounds(cfg.LLM.MaxToolRounds),
		chat.WithHistoryLimit(cfg.LLM.HistoryMax),
	}
	if recaller != nil {
		engineOpts = append(engineOpts, chat.WithIndexer(recaller))
	}
	engine, err := chat.New(tier.NewSelector(providers.Fast, providers.Deep), toolReg, assembler, engineOpts...)
	if err != nil {
		slog.Error("failed to build chat engine", "err", err)
		return 1
	}

	// ── Application ───────────────────────────────────────────────────────────
	norm := transcript.NewNormalizer(phonetic.New(), transcript.DefaultVocabulary())

	application, err := app.New(cfg, st, engine, app.Providers{
		STT: providers.STT,
		TTS: providers.TTS,
		VAD: providers.VAD,
	},
		app.WithNormalizer(norm),
		app.WithMetrics(metrics),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Optional MCP tool server ──────────────────────────────────────────────
	mcpAddr := os.Getenv("MCP_LISTEN")
	if mcpAddr != "" {
		mcpSrv, err := mcpserve.New(toolReg, version)
		if err != nil {
			slog.Error("failed to build mcp server", "err", err)
			return 1
		}
		mcpHTTP := &http.Server{Addr: mcpAddr, Handler: mcpserve.Handler(mcpSrv)}
		go func() {
			slog.Info("mcp tool server listening", "addr", mcpAddr)
			if err := mcpHTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("mcp server error", "err", err)
			}
		}()
		defer func() {
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := mcpHTTP.Shutdown(shutCtx); err != nil {
				slog.Warn("mcp server shutdown error", "err", err)
			}
		}()
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg, mcpAddr)
	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// anyLLMProviders are the backends reachable through any-llm-go. "openai" is
// deliberately absent: it is registered against the direct openai-go client
// below, which supports the full tool-calling surface the chat engine needs.
var anyLLMProviders = []string{
	"anthropic", "gemini", "ollama",
	"deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		return oaillm.New(entry.APIKey, entry.Model, opts...)
	})

	for _, providerName := range anyLLMProviders {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("kokoro", func(entry config.ProviderEntry) (tts.Synthesizer, error) {
		var opts []kokoro.Option
		if entry.Model != "" {
			opts = append(opts, kokoro.WithModel(entry.Model))
		}
		if entry.APIKey != "" {
			opts = append(opts, kokoro.WithAPIKey(entry.APIKey))
		}
		if voice := optString(entry.Options, "voice"); voice != "" {
			opts = append(opts, kokoro.WithVoice(voice))
		}
		return kokoro.New(entry.BaseURL, opts...)
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Synthesizer, error) {
		var opts []coqui.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := optString(entry.Options, "api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("silero", func(entry config.ProviderEntry) (vad.Engine, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		return silero.New(modelPath)
	})

	reg.RegisterVAD("energy", func(entry config.ProviderEntry) (vad.Engine, error) {
		return energy.New(), nil
	})

	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		return ollamaembed.New(entry.BaseURL, entry.Model)
	})
}

// bridgeProviders holds the instantiated pipeline engines. Fast and Deep are
// the two model tiers built from the single configured LLM backend.
type bridgeProviders struct {
	Fast       llm.Provider
	Deep       llm.Provider
	STT        stt.Transcriber
	TTS        tts.Synthesizer
	VAD        vad.Engine
	Embeddings embeddings.Provider
}

// buildProviders instantiates every provider named in cfg. STT, TTS, VAD, and
// both LLM tiers are required; embeddings stay nil unless configured.
func buildProviders(cfg *config.Config, reg *config.Registry) (*bridgeProviders, error) {
	ps := &bridgeProviders{}

	fastEntry := llmEntry(cfg, cfg.LLM.FastModel)
	fast, err := reg.CreateLLM(fastEntry)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q (fast tier): %w", fastEntry.Name, err)
	}
	ps.Fast = fast
	slog.Info("provider created", "kind", "llm", "name", fastEntry.Name, "model", fastEntry.Model, "tier", "fast")

	deepEntry := llmEntry(cfg, cfg.LLM.DeepModel)
	deep, err := reg.CreateLLM(deepEntry)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q (deep tier): %w", deepEntry.Name, err)
	}
	ps.Deep = deep
	slog.Info("provider created", "kind", "llm", "name", deepEntry.Name, "model", deepEntry.Model, "tier", "deep")

	ps.STT, err = reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", cfg.Providers.STT.Name, err)
	}
	slog.Info("provider created", "kind", "stt", "name", cfg.Providers.STT.Name)

	ps.TTS, err = reg.CreateTTS(cfg.Providers.TTS)
	if err != nil {
		return nil, fmt.Errorf("create tts provider %q: %w", cfg.Providers.TTS.Name, err)
	}
	slog.Info("provider created", "kind", "tts", "name", cfg.Providers.TTS.Name)

	ps.VAD, err = reg.CreateVAD(cfg.Providers.VAD)
	if err != nil {
		return nil, fmt.Errorf("create vad provider %q: %w", cfg.Providers.VAD.Name, err)
	}
	slog.Info("provider created", "kind", "vad", "name", cfg.Providers.VAD.Name)

	if name := cfg.Providers.Embeddings.Name; name != "" {
		ps.Embeddings, err = reg.CreateEmbeddings(cfg.Providers.Embeddings)
		if err != nil {
			return nil, fmt.Errorf("create embeddings provider %q: %w", name, err)
		}
		slog.Info("provider created", "kind", "embeddings", "name", name)
	}

	return ps, nil
}

// llmEntry derives the provider entry for one model tier. The entry's own
// model field, when set, pins both tiers to the same model; the top-level
// API key fills in when the entry carries none.
func llmEntry(cfg *config.Config, model string) config.ProviderEntry {
	entry := cfg.Providers.LLM
	if entry.Model == "" {
		entry.Model = model
	}
	if entry.APIKey == "" {
		entry.APIKey = cfg.LLM.APIKey
	}
	return entry
}

// applyResilience wraps the pipeline providers in circuit-breaker fallback
// groups. Secondary engines are attached from environment variables:
//
//	LLM_FALLBACK_PROVIDER / LLM_FALLBACK_MODEL / LLM_FALLBACK_BASE_URL
//	STT_FALLBACK_URL  (whisper HTTP server)
//	TTS_FALLBACK_URL  (coqui server)
//
// A provider with no configured secondary still gets a breaker, so a flapping
// backend is shed quickly instead of stalling every turn for a full timeout.
func applyResilience(cfg *config.Config, reg *config.Registry, ps *bridgeProviders) {
	fbCfg := resilience.FallbackConfig{}

	fast := resilience.NewLLMFallback(ps.Fast, cfg.Providers.LLM.Name, fbCfg)
	deep := resilience.NewLLMFallback(ps.Deep, cfg.Providers.LLM.Name, fbCfg)
	if name := os.Getenv("LLM_FALLBACK_PROVIDER"); name != "" {
		entry := config.ProviderEntry{
			Name:    name,
			Model:   os.Getenv("LLM_FALLBACK_MODEL"),
			BaseURL: os.Getenv("LLM_FALLBACK_BASE_URL"),
		}
		p, err := reg.CreateLLM(entry)
		if err != nil {
			slog.Warn("llm fallback not attached", "name", name, "err", err)
		} else {
			fast.AddFallback(name, p)
			deep.AddFallback(name, p)
			slog.Info("llm fallback attached", "name", name, "model", entry.Model)
		}
	}
	ps.Fast, ps.Deep = fast, deep

	sttGroup := resilience.NewSTTFallback(ps.STT, cfg.Providers.STT.Name, fbCfg)
	if url := os.Getenv("STT_FALLBACK_URL"); url != "" {
		p, err := whisper.New(url)
		if err != nil {
			slog.Warn("stt fallback not attached", "url", url, "err", err)
		} else {
			sttGroup.AddFallback("whisper", p)
			slog.Info("stt fallback attached", "name", "whisper", "url", url)
		}
	}
	ps.STT = sttGroup

	ttsGroup := resilience.NewTTSFallback(ps.TTS, cfg.Providers.TTS.Name, fbCfg)
	if url := os.Getenv("TTS_FALLBACK_URL"); url != "" {
		p, err := coqui.New(url)
		if err != nil {
			slog.Warn("tts fallback not attached", "url", url, "err", err)
		} else {
			ttsGroup.AddFallback("coqui", p)
			slog.Info("tts fallback attached", "name", "coqui", "url", url)
		}
	}
	ps.TTS = ttsGroup
}

// ── Turn metrics ──────────────────────────────────────────────────────────────

// turnObserver feeds completed-turn metrics from the chat engine into the
// OTel instruments. Stage latencies for STT and TTS are recorded by the
// session layer; here the model-side numbers land.
type turnObserver struct {
	metrics *observe.Metrics
}

func (o turnObserver) ObserveTurn(t chat.TurnMetrics) {
	ctx := context.Background()
	o.metrics.RecordTurn(ctx, t.Model)
	if t.FirstSentence > 0 {
		o.metrics.LLMDuration.Record(ctx, t.FirstSentence.Seconds())
	}
	if t.ToolTime > 0 {
		o.metrics.ToolExecutionDuration.Record(ctx, t.ToolTime.Seconds())
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, mcpAddr string) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         Auricle — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("LLM fast", cfg.Providers.LLM.Name, cfg.LLM.FastModel)
	printProvider("LLM deep", cfg.Providers.LLM.Name, cfg.LLM.DeepModel)
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printProvider("VAD", cfg.Providers.VAD.Name, "")
	printProvider("Embeddings", cfg.Providers.Embeddings.Name, cfg.Providers.Embeddings.Model)
	printField("Database", cfg.DB.Path)
	if mcpAddr != "" {
		printField("MCP server", mcpAddr)
	} else {
		printField("MCP server", "(disabled)")
	}
	printField("Listen addr", cfg.Server.Addr())
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	printField(kind, value)
}

func printField(kind, value string) {
	if len([]rune(value)) > 19 {
		value = string([]rune(value)[:16]) + "…"
	}
	fmt.Printf("║  %-12s   : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}
