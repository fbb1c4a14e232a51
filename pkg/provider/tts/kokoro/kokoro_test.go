package kokoro

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/auricle/pkg/audio"
	"github.com/MrWong99/auricle/pkg/provider/tts"
)

func mustNew(t *testing.T, baseURL string, opts ...Option) *Provider {
	t.Helper()
	p, err := New(baseURL, opts...)
	if err != nil {
		t.Fatalf("New(%q): unexpected error: %v", baseURL, err)
	}
	return p
}

// tonePCM returns n little-endian int16 samples of a recognisable ramp.
func tonePCM(n int) []byte {
	pcm := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := int16(i % 1000)
		pcm[i*2] = byte(v)
		pcm[i*2+1] = byte(v >> 8)
	}
	return pcm
}

func TestNew(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		p := mustNew(t, "http://localhost:8880")
		if p.model != defaultModel {
			t.Errorf("model = %q, want %q", p.model, defaultModel)
		}
		if p.voice != defaultVoice {
			t.Errorf("voice = %q, want %q", p.voice, defaultVoice)
		}
		if p.httpClient.Timeout != defaultTimeout {
			t.Errorf("timeout = %v, want %v", p.httpClient.Timeout, defaultTimeout)
		}
	})

	t.Run("trims trailing slash", func(t *testing.T) {
		p := mustNew(t, "http://localhost:8880/")
		if p.baseURL != "http://localhost:8880" {
			t.Errorf("baseURL = %q, want trailing slash stripped", p.baseURL)
		}
	})

	t.Run("empty URL", func(t *testing.T) {
		if _, err := New(""); err == nil {
			t.Fatal("expected error for empty baseURL, got nil")
		}
	})
}

func TestSynthesize_PostsAndDecodes(t *testing.T) {
	t.Parallel()

	want := tonePCM(1600) // 100 ms at 16 kHz

	var gotReq speechRequest
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/audio/speech" {
			t.Errorf("request = %s %s, want POST /v1/audio/speech", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Write(audio.EncodeWAV(want, 16000, 1))
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL,
		WithModel("kokoro"),
		WithVoice("am_adam"),
		WithSpeed(1.2),
		WithAPIKey("sk-test"),
	)

	got, err := p.Synthesize(context.Background(), "Hello there.")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("pcm mismatch: got %d bytes, want %d", len(got), len(want))
	}
	if gotReq.Model != "kokoro" || gotReq.Voice != "am_adam" || gotReq.Input != "Hello there." {
		t.Errorf("request body = %+v, want model/voice/input forwarded", gotReq)
	}
	if gotReq.ResponseFormat != "wav" {
		t.Errorf("response_format = %q, want wav", gotReq.ResponseFormat)
	}
	if gotReq.Speed != 1.2 {
		t.Errorf("speed = %v, want 1.2", gotReq.Speed)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("Authorization = %q, want Bearer sk-test", gotAuth)
	}
}

func TestSynthesize_ResamplesToWireRate(t *testing.T) {
	t.Parallel()

	// One second at the model's native 24 kHz must come back as one second
	// at 16 kHz.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(audio.EncodeWAV(tonePCM(24000), 24000, 1))
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL)
	got, err := p.Synthesize(context.Background(), "One second of speech.")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(got) != 16000*2 {
		t.Errorf("pcm = %d bytes, want %d (1 s at 16 kHz)", len(got), 16000*2)
	}
}

func TestSynthesize_EmptyTextSkipsRequest(t *testing.T) {
	t.Parallel()

	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL)
	for _, text := range []string{"", "   ", "\n\t"} {
		pcm, err := p.Synthesize(context.Background(), text)
		if err != nil {
			t.Errorf("Synthesize(%q): %v", text, err)
		}
		if pcm != nil {
			t.Errorf("Synthesize(%q) = %d bytes, want nil", text, len(pcm))
		}
	}
	if n := requests.Load(); n != 0 {
		t.Errorf("server received %d requests, want 0", n)
	}
}

func TestSynthesize_ServerErrorWrapsErrTTS(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "voice not found", http.StatusBadRequest)
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL)
	_, err := p.Synthesize(context.Background(), "Hello.")
	if !errors.Is(err, tts.ErrTTS) {
		t.Errorf("err = %v, want ErrTTS", err)
	}
}

func TestSynthesize_BadWAVWrapsErrTTS(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("this is not a WAV file"))
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL)
	_, err := p.Synthesize(context.Background(), "Hello.")
	if !errors.Is(err, tts.ErrTTS) {
		t.Errorf("err = %v, want ErrTTS", err)
	}
}

func TestSynthesize_CancelledContext(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.Write(audio.EncodeWAV(tonePCM(160), 16000, 1))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := mustNew(t, srv.URL)
	_, err := p.Synthesize(ctx, "Hello.")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if errors.Is(err, tts.ErrTTS) {
		t.Errorf("cancellation must not classify as ErrTTS, got %v", err)
	}
}
