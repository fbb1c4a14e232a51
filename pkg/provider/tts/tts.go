// Package tts defines the synthesis contract for text-to-speech backends.
//
// A Synthesizer turns one reply sentence into raw PCM in the wire format the
// session streams to the client: 16 kHz, 16-bit little-endian, mono. Callers
// hand over complete sentences (the chat engine already splits its output),
// so implementations are batch HTTP clients rather than streaming sockets —
// one request per call, the whole clip in the reply.
package tts

import (
	"context"
	"errors"
)

// ErrTTS marks a synthesis failure in the engine or the transport to it.
// Callers match it with errors.Is and degrade to a text-only reply for the
// current turn; the next turn retries the provider from scratch.
var ErrTTS = errors.New("tts: synthesis failed")

// Synthesizer is the abstraction over any text-to-speech backend.
//
// Implementations must be safe for concurrent use.
type Synthesizer interface {
	// Synthesize renders text as 16 kHz 16-bit little-endian mono PCM.
	// Empty or whitespace-only text returns (nil, nil) without contacting
	// the backend. Failures wrap ErrTTS; if ctx ends first the context
	// error is returned unwrapped so callers can tell a cancelled turn
	// from a broken engine.
	Synthesize(ctx context.Context, text string) ([]byte, error)
}
