package whisper_test

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"

	"github.com/MrWong99/auricle/pkg/audio"
	"github.com/MrWong99/auricle/pkg/provider/stt"
	"github.com/MrWong99/auricle/pkg/provider/stt/whisper"
)

// speechPCM builds ms milliseconds of loud 16 kHz mono PCM (a square wave
// well above any silence threshold).
func speechPCM(ms int) []byte {
	samples := 16000 * ms / 1000
	pcm := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := int16(8000)
		if i%2 == 0 {
			v = -8000
		}
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}
	return pcm
}

func silencePCM(ms int) []byte {
	return make([]byte, 16000*ms/1000*2)
}

func TestTranscribe_PostsWAVAndReturnsText(t *testing.T) {
	t.Parallel()

	var gotLanguage, gotModel string
	var gotWAV []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			t.Errorf("request = %s %s, want POST /inference", r.Method, r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		gotLanguage = r.FormValue("language")
		gotModel = r.FormValue("model")
		f, _, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer f.Close()
		buf := make([]byte, 1<<20)
		n, _ := f.Read(buf)
		gotWAV = buf[:n]

		json.NewEncoder(w).Encode(map[string]string{"text": "  Hello world.  "})
	}))
	defer srv.Close()

	p, err := whisper.New(srv.URL, whisper.WithLanguage("en"), whisper.WithModel("base.en"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	text, err := p.Transcribe(context.Background(), speechPCM(500))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "Hello world." {
		t.Errorf("text = %q, want %q (trimmed)", text, "Hello world.")
	}
	if gotLanguage != "en" || gotModel != "base.en" {
		t.Errorf("hint fields = language %q model %q, want en/base.en", gotLanguage, gotModel)
	}

	info, err := audio.ParseWAV(gotWAV)
	if err != nil {
		t.Fatalf("uploaded file is not valid WAV: %v", err)
	}
	if info.SampleRate != 16000 || info.Channels != 1 {
		t.Errorf("WAV format = %d Hz %d ch, want 16000 Hz mono", info.SampleRate, info.Channels)
	}
}

func TestTranscribe_ShortUtteranceSkipsInference(t *testing.T) {
	t.Parallel()

	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		json.NewEncoder(w).Encode(map[string]string{"text": "ghost"})
	}))
	defer srv.Close()

	p, err := whisper.New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// 100 ms of loud audio is below the utterance floor.
	text, err := p.Transcribe(context.Background(), speechPCM(100))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "" {
		t.Errorf("text = %q, want empty for short utterance", text)
	}
	if n := requests.Load(); n != 0 {
		t.Errorf("server received %d requests, want 0", n)
	}
}

func TestTranscribe_SilenceSkipsInference(t *testing.T) {
	t.Parallel()

	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		json.NewEncoder(w).Encode(map[string]string{"text": "hallucinated"})
	}))
	defer srv.Close()

	p, err := whisper.New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	text, err := p.Transcribe(context.Background(), silencePCM(500))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "" {
		t.Errorf("text = %q, want empty for silence", text)
	}
	if n := requests.Load(); n != 0 {
		t.Errorf("server received %d requests, want 0", n)
	}
}

func TestTranscribe_ServerErrorWrapsErrSTT(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model crashed", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, err := whisper.New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = p.Transcribe(context.Background(), speechPCM(500))
	if !errors.Is(err, stt.ErrSTT) {
		t.Errorf("err = %v, want ErrSTT", err)
	}
}

func TestTranscribe_BadJSONWrapsErrSTT(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json at all"))
	}))
	defer srv.Close()

	p, err := whisper.New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = p.Transcribe(context.Background(), speechPCM(500))
	if !errors.Is(err, stt.ErrSTT) {
		t.Errorf("err = %v, want ErrSTT", err)
	}
}

func TestTranscribe_CancelledContext(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"text": "late"})
	}))
	defer srv.Close()

	p, err := whisper.New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = p.Transcribe(ctx, speechPCM(500))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if errors.Is(err, stt.ErrSTT) {
		t.Errorf("cancellation must not classify as ErrSTT, got %v", err)
	}
}

func TestNew_EmptyURL(t *testing.T) {
	t.Parallel()

	if _, err := whisper.New(""); err == nil {
		t.Fatal("expected error for empty serverURL, got nil")
	}
}

func TestNew_TrimsTrailingSlash(t *testing.T) {
	t.Parallel()

	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewEncoder(w).Encode(map[string]string{"text": "ok"})
	}))
	defer srv.Close()

	p, err := whisper.New(srv.URL + "/")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Transcribe(context.Background(), speechPCM(500)); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if gotPath != "/inference" {
		t.Errorf("request path = %q, want /inference", gotPath)
	}
}

// --- native provider -------------------------------------------------------

// testModelPath returns the path to a whisper model for integration tests.
// It reads from the WHISPER_MODEL_PATH environment variable; if unset the
// test is skipped.
func testModelPath(t *testing.T) string {
	t.Helper()
	p := os.Getenv("WHISPER_MODEL_PATH")
	if p == "" {
		t.Skip("WHISPER_MODEL_PATH not set; skipping native whisper test")
	}
	return p
}

func TestNewNative_EmptyPath(t *testing.T) {
	if _, err := whisper.NewNative(""); err == nil {
		t.Fatal("expected error for empty model path, got nil")
	}
}

func TestNewNative_InvalidPath(t *testing.T) {
	if _, err := whisper.NewNative("/nonexistent/path/to/model.bin"); err == nil {
		t.Fatal("expected error for invalid model path, got nil")
	}
}

func TestNativeTranscribe_Integration(t *testing.T) {
	p, err := whisper.NewNative(testModelPath(t), whisper.WithNativeLanguage("en"))
	if err != nil {
		t.Fatalf("NewNative: %v", err)
	}
	defer p.Close()

	// Silence must short-circuit to "" without running inference.
	text, err := p.Transcribe(context.Background(), silencePCM(500))
	if err != nil {
		t.Fatalf("Transcribe silence: %v", err)
	}
	if text != "" {
		t.Errorf("silence transcribed to %q, want empty", text)
	}

	// A synthetic square wave is not speech; whatever the model hears, the
	// call itself must succeed.
	if _, err := p.Transcribe(context.Background(), speechPCM(1000)); err != nil {
		t.Errorf("Transcribe tone: %v", err)
	}
}
