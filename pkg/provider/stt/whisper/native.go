// This file contains the NativeProvider implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/auricle/pkg/audio"
	"github.com/MrWong99/auricle/pkg/provider/stt"
)

// Compile-time assertion that NativeProvider satisfies stt.Transcriber.
var _ stt.Transcriber = (*NativeProvider)(nil)

// NativeProvider implements stt.Transcriber using the whisper.cpp Go
// bindings (CGO). The model is loaded once at startup and shared across all
// calls; each inference gets its own whisper context because contexts are
// not thread-safe.
type NativeProvider struct {
	model        whisperlib.Model
	language     string
	sampleRate   int
	rmsThreshold float64

	// Serialises inference. Contexts are cheap but the underlying compute
	// saturates the CPU; overlapping inferences only slow each other down.
	mu sync.Mutex
}

// NativeOption is a functional option for configuring a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the transcription language code (e.g., "en",
// "de"). Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// WithNativeSampleRate sets the PCM sample rate in Hz. Must match the audio
// handed to Transcribe. Defaults to 16000.
func WithNativeSampleRate(rate int) NativeOption {
	return func(p *NativeProvider) {
		if rate > 0 {
			p.sampleRate = rate
		}
	}
}

// WithNativeSilenceThreshold overrides the RMS level below which utterances
// are treated as silence and skipped.
func WithNativeSilenceThreshold(rms float64) NativeOption {
	return func(p *NativeProvider) {
		if rms >= 0 {
			p.rmsThreshold = rms
		}
	}
}

// NewNative creates a NativeProvider that loads the whisper.cpp model from
// the given file path. The caller must call Close when the provider is no
// longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	p := &NativeProvider{
		model:        model,
		language:     defaultLanguage,
		sampleRate:   defaultSampleRate,
		rmsThreshold: defaultRMSThreshold,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model.
func (p *NativeProvider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// Transcribe runs whisper.cpp inference on the utterance. Returns "" for
// silence or utterances shorter than stt.MinUtteranceMs; inference failures
// wrap stt.ErrSTT.
func (p *NativeProvider) Transcribe(ctx context.Context, pcm []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("whisper: %w", err)
	}

	minBytes := stt.MinUtteranceMs * p.sampleRate * audio.BytesPerSample / 1000
	if len(pcm) < minBytes || audio.RMS(pcm) < p.rmsThreshold {
		return "", nil
	}

	samples := pcmToFloat32(pcm)

	p.mu.Lock()
	defer p.mu.Unlock()

	wctx, err := p.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("%w: create context: %v", stt.ErrSTT, err)
	}
	if err := wctx.SetLanguage(p.language); err != nil {
		slog.Warn("whisper: failed to set language, using default",
			"language", p.language, "error", err)
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("%w: process audio: %v", stt.ErrSTT, err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("%w: read segment: %v", stt.ErrSTT, err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}
