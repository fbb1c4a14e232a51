package resilience

import (
	"context"

	"github.com/MrWong99/auricle/pkg/provider/tts"
)

// TTSFallback implements [tts.Synthesizer] with automatic failover across
// multiple TTS backends. Each backend has its own circuit breaker.
type TTSFallback struct {
	group *FallbackGroup[tts.Synthesizer]
}

// Compile-time interface assertion.
var _ tts.Synthesizer = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Synthesizer, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional synthesizer as a fallback.
func (f *TTSFallback) AddFallback(name string, s tts.Synthesizer) {
	f.group.AddFallback(name, s)
}

// Synthesize renders the sentence with the first healthy synthesizer. If the
// primary fails, subsequent fallbacks are tried with the same text.
func (f *TTSFallback) Synthesize(ctx context.Context, text string) ([]byte, error) {
	return ExecuteWithResult(f.group, func(s tts.Synthesizer) ([]byte, error) {
		return s.Synthesize(ctx, text)
	})
}
