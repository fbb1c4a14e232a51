// Package kokoro provides a Synthesizer backed by an OpenAI-compatible
// speech endpoint, such as a local Kokoro-FastAPI server or the hosted
// OpenAI audio API. Synthesis is one POST /v1/audio/speech call per
// sentence; the WAV reply is decoded and normalized to the 16 kHz mono
// wire format regardless of the model's native rate.
//
// Typical usage against a local server:
//
//	p, err := kokoro.New("http://localhost:8880",
//	    kokoro.WithVoice("af_bella"),
//	    kokoro.WithSpeed(1.1),
//	)
package kokoro

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/auricle/pkg/audio"
	"github.com/MrWong99/auricle/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Synthesizer = (*Provider)(nil)

const (
	speechEndpoint = "/v1/audio/speech"
	defaultModel   = "kokoro"
	defaultVoice   = "af_bella"
	defaultTimeout = 30 * time.Second
)

// Option is a functional option for configuring a kokoro Provider.
type Option func(*Provider)

// WithModel sets the model field sent in the request body (e.g. "kokoro",
// "tts-1"). Defaults to "kokoro".
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithVoice sets the voice identifier (e.g. "af_bella", "am_adam", "alloy").
// Defaults to "af_bella".
func WithVoice(voice string) Option {
	return func(p *Provider) {
		p.voice = voice
	}
}

// WithSpeed sets the speaking-rate multiplier (0.5–2.0, 1.0 = default).
// Values <= 0 are ignored.
func WithSpeed(speed float64) Option {
	return func(p *Provider) {
		if speed > 0 {
			p.speed = speed
		}
	}
}

// WithAPIKey sets a bearer token for hosted endpoints that require one.
// Local servers typically don't.
func WithAPIKey(key string) Option {
	return func(p *Provider) {
		p.apiKey = key
	}
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// WithHTTPClient replaces the HTTP client, e.g. for a shared transport.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements tts.Synthesizer against an OpenAI-compatible speech
// API. It is safe for concurrent use; each Synthesize call is an
// independent HTTP request.
type Provider struct {
	baseURL    string
	model      string
	voice      string
	speed      float64
	apiKey     string
	httpClient *http.Client
}

// New creates a Provider targeting the speech API at baseURL (e.g.
// "http://localhost:8880"). baseURL must be non-empty.
func New(baseURL string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("kokoro: baseURL must not be empty")
	}
	p := &Provider{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   defaultModel,
		voice:   defaultVoice,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// speechRequest is the JSON body for POST /v1/audio/speech.
type speechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format"`
	Speed          float64 `json:"speed,omitempty"`
}

// Synthesize posts text to the speech endpoint and returns the reply
// decoded to 16 kHz 16-bit mono PCM. Empty or whitespace-only text
// returns (nil, nil) without a request.
func (p *Provider) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	body, err := json.Marshal(speechRequest{
		Model:          p.model,
		Input:          text,
		Voice:          p.voice,
		ResponseFormat: "wav",
		Speed:          p.speed,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", tts.ErrTTS, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+speechEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", tts.ErrTTS, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/wav")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("kokoro: %w", ctx.Err())
		}
		return nil, fmt.Errorf("%w: POST %s: %v", tts.ErrTTS, speechEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: POST %s returned status %d", tts.ErrTTS, speechEndpoint, resp.StatusCode)
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("kokoro: %w", ctx.Err())
		}
		return nil, fmt.Errorf("%w: read response: %v", tts.ErrTTS, err)
	}

	pcm, err := audio.DecodeWAV(wav, audio.Wire)
	if err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", tts.ErrTTS, err)
	}
	return pcm, nil
}
