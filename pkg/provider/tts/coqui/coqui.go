// Package coqui provides a Synthesizer backed by a locally-running Coqui
// TTS server, via its REST API. It implements the tts.Synthesizer
// interface.
//
// Two API modes are supported:
//
//   - APIModeStandard (default): targets the standard Coqui TTS server
//     (ghcr.io/coqui-ai/tts-cpu). Synthesis is performed via GET /api/tts
//     with URL query parameters.
//
//   - APIModeXTTS: targets the Coqui XTTS v2 API server. Synthesis is
//     performed via POST /tts_to_audio/ with a JSON body and requires a
//     speaker reference (WithSpeaker).
//
// Both servers return a WAV file per request; the payload is decoded and
// normalized to the 16 kHz mono wire format whatever the model's native
// rate (the standard server commonly emits 22 050 Hz).
package coqui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrWong99/auricle/pkg/audio"
	"github.com/MrWong99/auricle/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Synthesizer = (*Provider)(nil)

const (
	defaultLanguage = "en"
	defaultTimeout  = 30 * time.Second
	ttsEndpoint     = "/tts_to_audio/"
	apiTTSEndpoint  = "/api/tts"
)

// APIMode selects which Coqui server API the provider will target.
type APIMode string

const (
	// APIModeXTTS targets the Coqui XTTS v2 API server (/tts_to_audio/).
	APIModeXTTS APIMode = "xtts"

	// APIModeStandard targets the standard Coqui TTS server (/api/tts).
	// This is the default mode.
	APIModeStandard APIMode = "standard"
)

// Option is a functional option for configuring a Coqui Provider.
type Option func(*Provider)

// WithLanguage sets the language code sent to the TTS server (e.g. "en",
// "de", "fr"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// WithAPIMode sets the server API mode. Use APIModeStandard (default) for
// the standard Coqui TTS Docker image or APIModeXTTS for the XTTS v2 API
// server.
func WithAPIMode(mode APIMode) Option {
	return func(p *Provider) {
		p.apiMode = mode
	}
}

// WithSpeaker sets the voice: a speaker ID for multi-speaker standard
// models, or the speaker reference for XTTS. Required in XTTS mode;
// optional for single-speaker standard models.
func WithSpeaker(id string) Option {
	return func(p *Provider) {
		p.speaker = id
	}
}

// Provider implements tts.Synthesizer backed by a Coqui TTS server. It is
// safe for concurrent use; each Synthesize call is an independent HTTP
// request.
type Provider struct {
	serverURL  string
	language   string
	speaker    string
	apiMode    APIMode
	httpClient *http.Client
}

// New creates a Provider targeting the TTS server at serverURL (e.g.
// "http://localhost:5002"). serverURL must be non-empty, and XTTS mode
// requires a speaker.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	p := &Provider{
		serverURL: strings.TrimRight(serverURL, "/"),
		language:  defaultLanguage,
		apiMode:   APIModeStandard,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
	for _, o := range opts {
		o(p)
	}
	if p.apiMode == APIModeXTTS && p.speaker == "" {
		return nil, errors.New("coqui: XTTS mode requires a speaker (use WithSpeaker)")
	}
	return p, nil
}

// ttsRequest is the JSON body sent to POST /tts_to_audio/ (XTTS mode).
type ttsRequest struct {
	Text       string `json:"text"`
	SpeakerWav string `json:"speaker_wav"`
	Language   string `json:"language"`
}

// Synthesize sends text to the Coqui server and returns the reply decoded
// to 16 kHz 16-bit mono PCM. Empty or whitespace-only text returns
// (nil, nil) without a request.
func (p *Provider) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	if p.apiMode == APIModeStandard {
		return p.synthesizeStandard(ctx, text)
	}
	return p.synthesizeXTTS(ctx, text)
}

// synthesizeXTTS performs a single POST /tts_to_audio/ call (XTTS v2 mode).
func (p *Provider) synthesizeXTTS(ctx context.Context, text string) ([]byte, error) {
	data, err := json.Marshal(ttsRequest{
		Text:       text,
		SpeakerWav: p.speaker,
		Language:   p.language,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", tts.ErrTTS, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+ttsEndpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", tts.ErrTTS, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/wav")

	return p.do(ctx, req, ttsEndpoint)
}

// synthesizeStandard performs a single GET /api/tts request (standard
// server mode) using URL query parameters.
func (p *Provider) synthesizeStandard(ctx context.Context, text string) ([]byte, error) {
	params := url.Values{}
	params.Set("text", text)
	if p.speaker != "" {
		params.Set("speaker_id", p.speaker)
	}
	if p.language != "" {
		params.Set("language_id", p.language)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+apiTTSEndpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", tts.ErrTTS, err)
	}
	req.Header.Set("Accept", "audio/wav")

	return p.do(ctx, req, apiTTSEndpoint)
}

// do executes the prepared request and decodes the WAV reply to the wire
// format.
func (p *Provider) do(ctx context.Context, req *http.Request, endpoint string) ([]byte, error) {
	resp, err := p.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("coqui: %w", ctx.Err())
		}
		return nil, fmt.Errorf("%w: %s %s: %v", tts.ErrTTS, req.Method, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s %s returned status %d", tts.ErrTTS, req.Method, endpoint, resp.StatusCode)
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("coqui: %w", ctx.Err())
		}
		return nil, fmt.Errorf("%w: read response: %v", tts.ErrTTS, err)
	}

	pcm, err := audio.DecodeWAV(wav, audio.Wire)
	if err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", tts.ErrTTS, err)
	}
	return pcm, nil
}
