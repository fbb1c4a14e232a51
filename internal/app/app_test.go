package app_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/auricle/internal/app"
	"github.com/MrWong99/auricle/internal/chat"
	"github.com/MrWong99/auricle/internal/config"
	"github.com/MrWong99/auricle/internal/hotctx"
	"github.com/MrWong99/auricle/internal/store"
	"github.com/MrWong99/auricle/internal/tier"
	"github.com/MrWong99/auricle/internal/tools"
	llmmock "github.com/MrWong99/auricle/pkg/provider/llm/mock"
	sttmock "github.com/MrWong99/auricle/pkg/provider/stt/mock"
	ttsmock "github.com/MrWong99/auricle/pkg/provider/tts/mock"
	"github.com/MrWong99/auricle/pkg/provider/vad/energy"
)

func testStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), store.MemoryPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func testApp(t *testing.T, st *store.Store) *app.App {
	t.Helper()

	reg, err := tools.NewRegistry()
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	prov := &llmmock.Provider{}
	engine, err := chat.New(tier.NewSelector(prov, prov), reg, hotctx.New(st))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	a, err := app.New(config.Default(), st, engine, app.Providers{
		STT: &sttmock.Transcriber{},
		TTS: &ttsmock.Synthesizer{},
		VAD: energy.New(),
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return a
}

func TestNew_ValidatesDependencies(t *testing.T) {
	t.Parallel()
	st := testStore(t)

	if _, err := app.New(nil, st, nil, app.Providers{}); err == nil {
		t.Error("nil config accepted")
	}
	if _, err := app.New(config.Default(), st, nil, app.Providers{}); err == nil {
		t.Error("nil engine accepted")
	}
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(testApp(t, testStore(t)).Handler())
	t.Cleanup(srv.Close)

	for _, path := range []string{"/health", "/healthz", "/readyz"} {
		resp, err := srv.Client().Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d, want 200 (body %s)", path, resp.StatusCode, body)
		}
	}
}

func TestStatusEndpoint(t *testing.T) {
	t.Parallel()
	st := testStore(t)

	// Seed one exchange so total_requests and avg_latency_ms are non-zero.
	ctx := context.Background()
	if _, err := st.RecordConversation(ctx, store.Conversation{
		Role: store.RoleUser, Content: "log 8 hours of sleep",
	}); err != nil {
		t.Fatalf("record user turn: %v", err)
	}
	if _, err := st.RecordConversation(ctx, store.Conversation{
		Role: store.RoleAssistant, Content: "Done.", ModelUsed: "fast-model", LatencyMs: 420,
	}); err != nil {
		t.Fatalf("record assistant turn: %v", err)
	}

	srv := httptest.NewServer(testApp(t, st).Handler())
	t.Cleanup(srv.Close)

	resp, err := srv.Client().Get(srv.URL + "/api/status")
	if err != nil {
		t.Fatalf("GET /api/status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		Connections   int64   `json:"connections"`
		TotalRequests int64   `json:"total_requests"`
		AvgLatencyMs  float64 `json:"avg_latency_ms"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Connections != 0 {
		t.Errorf("connections = %d, want 0", body.Connections)
	}
	if body.TotalRequests != 1 {
		t.Errorf("total_requests = %d, want 1", body.TotalRequests)
	}
	if body.AvgLatencyMs != 420 {
		t.Errorf("avg_latency_ms = %v, want 420", body.AvgLatencyMs)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(testApp(t, testStore(t)).Handler())
	t.Cleanup(srv.Close)

	resp, err := srv.Client().Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestAudioEndpoint_HandshakeAndPing(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	srv := httptest.NewServer(testApp(t, st).Handler())
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/audio", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read handshake: %v", err)
	}
	var handshake map[string]any
	if err := json.Unmarshal(data, &handshake); err != nil {
		t.Fatalf("decode handshake %q: %v", data, err)
	}
	if handshake["type"] != "connected" {
		t.Fatalf("first message type = %v, want connected", handshake["type"])
	}

	// While the socket is open the status endpoint counts one connection.
	resp, err := srv.Client().Get(srv.URL + "/api/status")
	if err != nil {
		t.Fatalf("GET /api/status: %v", err)
	}
	var body struct {
		Connections int64 `json:"connections"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	if body.Connections != 1 {
		t.Errorf("connections = %d, want 1", body.Connections)
	}

	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	_, data, err = conn.Read(ctx)
	if err != nil {
		t.Fatalf("read pong: %v", err)
	}
	if !strings.Contains(string(data), `"pong"`) {
		t.Errorf("reply = %s, want pong", data)
	}
}
