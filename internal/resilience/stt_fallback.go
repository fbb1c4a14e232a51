package resilience

import (
	"context"

	"github.com/MrWong99/auricle/pkg/provider/stt"
)

// STTFallback implements [stt.Transcriber] with automatic failover across
// multiple STT backends. Each backend has its own circuit breaker.
type STTFallback struct {
	group *FallbackGroup[stt.Transcriber]
}

// Compile-time interface assertion.
var _ stt.Transcriber = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Transcriber, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional transcriber as a fallback.
func (f *STTFallback) AddFallback(name string, t stt.Transcriber) {
	f.group.AddFallback(name, t)
}

// Transcribe runs the utterance through the first healthy transcriber. If the
// primary fails, subsequent fallbacks are tried with the same audio.
func (f *STTFallback) Transcribe(ctx context.Context, pcm []byte) (string, error) {
	return ExecuteWithResult(f.group, func(t stt.Transcriber) (string, error) {
		return t.Transcribe(ctx, pcm)
	})
}
