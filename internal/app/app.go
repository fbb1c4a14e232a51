// Package app assembles the HTTP surface of the bridge: the /ws/audio
// WebSocket endpoint, health and readiness probes, the status endpoint, and
// the Prometheus metrics scrape.
//
// An App owns the HTTP server lifecycle. Construct with New, start with Run,
// and stop by cancelling the context passed to Run; Run drains live sessions
// before returning.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/auricle/internal/config"
	"github.com/MrWong99/auricle/internal/health"
	"github.com/MrWong99/auricle/internal/observe"
	"github.com/MrWong99/auricle/internal/segment"
	"github.com/MrWong99/auricle/internal/session"
	"github.com/MrWong99/auricle/internal/store"
	"github.com/MrWong99/auricle/internal/transcript"
	"github.com/MrWong99/auricle/pkg/provider/stt"
	"github.com/MrWong99/auricle/pkg/provider/tts"
	"github.com/MrWong99/auricle/pkg/provider/vad"
)

// shutdownTimeout bounds graceful HTTP shutdown and session draining.
const shutdownTimeout = 15 * time.Second

// Providers holds the engines every session shares. All three are required.
type Providers struct {
	STT stt.Transcriber
	TTS tts.Synthesizer
	VAD vad.Engine
}

// App serves the bridge's HTTP surface and spawns one session pipeline per
// accepted WebSocket connection.
type App struct {
	cfg       *config.Config
	store     *store.Store
	engine    session.Responder
	providers Providers

	norm       *transcript.Normalizer
	metrics    *observe.Metrics
	counters   SessionCounters
	sessionOpt []session.Option

	mu       sync.Mutex
	listener net.Listener
	sessions sync.WaitGroup
}

// Option configures an App.
type Option func(*App)

// WithNormalizer runs transcripts through a vocabulary normalizer before the
// chat engine sees them.
func WithNormalizer(n *transcript.Normalizer) Option {
	return func(a *App) { a.norm = n }
}

// WithMetrics wires OTel instruments into sessions and the HTTP middleware.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithSessionOptions passes extra options to every session pipeline.
func WithSessionOptions(opts ...session.Option) Option {
	return func(a *App) { a.sessionOpt = opts }
}

// New creates an App. The config, store, chat engine, and all three providers
// are required.
func New(cfg *config.Config, st *store.Store, engine session.Responder, providers Providers, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config must not be nil")
	}
	if st == nil {
		return nil, errors.New("app: store must not be nil")
	}
	if engine == nil {
		return nil, errors.New("app: engine must not be nil")
	}
	if providers.STT == nil || providers.TTS == nil || providers.VAD == nil {
		return nil, errors.New("app: stt, tts, and vad providers are required")
	}

	a := &App{
		cfg:       cfg,
		store:     st,
		engine:    engine,
		providers: providers,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Handler builds the full route table.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /ws/audio", a.handleAudio)
	mux.HandleFunc("GET /api/status", a.handleStatus)
	mux.Handle("GET /metrics", promhttp.Handler())

	checker := health.New(
		health.Checker{Name: "database", Check: a.pingStore},
	)
	checker.Register(mux)

	if a.metrics != nil {
		return observe.Middleware(a.metrics)(mux)
	}
	return mux
}

// Run serves HTTP on the configured address until ctx is cancelled, then
// shuts down gracefully: the listener closes first, live sessions are
// cancelled through their request contexts and drained, all within
// shutdownTimeout.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:        a.cfg.Server.Addr(),
		Handler:     a.Handler(),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", srv.Addr, err)
	}
	a.mu.Lock()
	a.listener = ln
	a.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()
	slog.Info("app: listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("app: shutting down", "active_sessions", a.counters.Active())
	shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutCtx); err != nil {
		slog.Warn("app: shutdown incomplete", "err", err)
	}

	drained := make(chan struct{})
	go func() {
		a.sessions.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-shutCtx.Done():
		slog.Warn("app: sessions still draining at deadline")
	}
	return <-errCh
}

// Addr returns the bound listen address, once Run has opened it.
func (a *App) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// handleAudio upgrades to WebSocket and runs one session pipeline to
// completion. Each connection gets its own segmenter; the chat engine, store,
// and providers are shared.
func (a *App) handleAudio(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("app: websocket accept failed", "err", err)
		return
	}

	seg, err := segment.New(a.providers.VAD, segment.Config{
		SampleRate:     a.cfg.Audio.SampleRate,
		SilenceMs:      a.cfg.Audio.SilenceMs,
		MaxRecordingMs: a.cfg.Audio.MaxRecordingMs,
	})
	if err != nil {
		slog.Error("app: segmenter setup failed", "err", err)
		conn.Close(websocket.StatusInternalError, "audio setup failed")
		return
	}

	sess, err := session.New(conn, session.Deps{
		Engine:      a.engine,
		Transcriber: a.providers.STT,
		Synthesizer: a.providers.TTS,
		Segmenter:   seg,
		Normalizer:  a.norm,
		Metrics:     a.metrics,
	}, a.sessionOpt...)
	if err != nil {
		slog.Error("app: session setup failed", "err", err)
		conn.Close(websocket.StatusInternalError, "session setup failed")
		return
	}

	release := a.counters.Begin()
	if a.metrics != nil {
		a.metrics.ActiveSessions.Add(r.Context(), 1)
	}
	a.sessions.Add(1)
	defer func() {
		a.sessions.Done()
		if a.metrics != nil {
			a.metrics.ActiveSessions.Add(context.Background(), -1)
		}
		release()
	}()

	slog.Info("app: session connected", "remote", r.RemoteAddr)
	if err := sess.Run(r.Context()); err != nil {
		slog.Warn("app: session ended with error", "remote", r.RemoteAddr, "err", err)
	} else {
		slog.Info("app: session closed", "remote", r.RemoteAddr)
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

// statusResponse is the /api/status body.
type statusResponse struct {
	Connections   int64   `json:"connections"`
	TotalRequests int64   `json:"total_requests"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
}

// handleStatus reports live connections from the session counters and
// turn totals from the conversation archive.
func (a *App) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := a.store.Stats(r.Context())
	if err != nil {
		slog.Error("app: status query failed", "err", err)
		http.Error(w, `{"error":"status unavailable"}`, http.StatusInternalServerError)
		return
	}

	resp := statusResponse{
		Connections:   a.counters.Active(),
		TotalRequests: stats.TotalTurns,
		AvgLatencyMs:  stats.AvgLatencyMs,
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Warn("app: status encode failed", "err", err)
	}
}

// pingStore is the readiness check for the database.
func (a *App) pingStore(ctx context.Context) error {
	_, err := a.store.Stats(ctx)
	return err
}
