// Package whisper provides whisper.cpp-backed speech-to-text.
//
// Two implementations share the package: Provider talks to a running
// whisper-server binary over its REST API (POST /inference), and
// NativeProvider links whisper.cpp directly through its CGO bindings,
// avoiding HTTP overhead entirely. Both transcribe one complete utterance per call; the
// segmenter upstream decides where utterances end.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8080", whisper.WithLanguage("en"))
//	text, err := p.Transcribe(ctx, utterancePCM)
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/auricle/pkg/audio"
	"github.com/MrWong99/auricle/pkg/provider/stt"
)

const (
	defaultLanguage   = "en"
	defaultSampleRate = 16000

	// defaultRMSThreshold is the energy level (in 16-bit PCM units, max
	// 32767) below which an utterance is treated as silence. Whisper tends
	// to hallucinate text on silent input, so gating here is cheaper and
	// more reliable than filtering the result.
	defaultRMSThreshold = 300.0
)

// Compile-time assertion that Provider implements stt.Transcriber.
var _ stt.Transcriber = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the whisper-server
// (e.g., "base.en", "small"). When empty the server uses whichever model it
// was started with.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the language code sent to the server (e.g., "en", "de").
// Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithSampleRate sets the PCM sample rate in Hz. Must match the audio
// handed to Transcribe. Defaults to 16000.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		if rate > 0 {
			p.sampleRate = rate
		}
	}
}

// WithSilenceThreshold overrides the RMS level below which utterances are
// treated as silence and skipped.
func WithSilenceThreshold(rms float64) Option {
	return func(p *Provider) {
		if rms >= 0 {
			p.rmsThreshold = rms
		}
	}
}

// WithHTTPClient overrides the HTTP client, e.g. to adjust timeouts.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		if c != nil {
			p.httpClient = c
		}
	}
}

// Provider implements stt.Transcriber against a whisper-server REST API.
// Safe for concurrent use; each Transcribe call is an independent request.
type Provider struct {
	serverURL    string
	model        string
	language     string
	sampleRate   int
	rmsThreshold float64
	httpClient   *http.Client
}

// New creates a Provider that connects to the whisper-server at serverURL
// (e.g., "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:    strings.TrimRight(serverURL, "/"),
		language:     defaultLanguage,
		sampleRate:   defaultSampleRate,
		rmsThreshold: defaultRMSThreshold,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe encodes the utterance as WAV and POSTs it to the /inference
// endpoint. Returns "" for silence or utterances shorter than
// stt.MinUtteranceMs; engine and transport failures wrap stt.ErrSTT.
func (p *Provider) Transcribe(ctx context.Context, pcm []byte) (string, error) {
	if p.tooQuiet(pcm) {
		return "", nil
	}

	wav := audio.EncodeWAV(pcm, p.sampleRate, 1)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("%w: create form file: %v", stt.ErrSTT, err)
	}
	if _, err := fw.Write(wav); err != nil {
		return "", fmt.Errorf("%w: write wav data: %v", stt.ErrSTT, err)
	}
	if p.language != "" {
		if err := mw.WriteField("language", p.language); err != nil {
			return "", fmt.Errorf("%w: write language field: %v", stt.ErrSTT, err)
		}
	}
	if p.model != "" {
		if err := mw.WriteField("model", p.model); err != nil {
			return "", fmt.Errorf("%w: write model field: %v", stt.ErrSTT, err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("%w: close multipart writer: %v", stt.ErrSTT, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("%w: create request: %v", stt.ErrSTT, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("whisper: %w", ctx.Err())
		}
		return "", fmt.Errorf("%w: http request: %v", stt.ErrSTT, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: server returned HTTP %d", stt.ErrSTT, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read response body: %v", stt.ErrSTT, err)
	}
	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("%w: parse JSON response: %v", stt.ErrSTT, err)
	}
	return strings.TrimSpace(result.Text), nil
}

// tooQuiet reports whether pcm is below the speech floor, either too short
// or too low-energy.
func (p *Provider) tooQuiet(pcm []byte) bool {
	minBytes := stt.MinUtteranceMs * p.sampleRate * audio.BytesPerSample / 1000
	if len(pcm) < minBytes {
		return true
	}
	return audio.RMS(pcm) < p.rmsThreshold
}
