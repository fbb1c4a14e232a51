// Package stt defines the Transcriber interface for speech-to-text backends.
//
// Transcription is batch-per-utterance: the segmenter hands over one complete
// utterance of PCM audio and the transcriber returns its text in one call.
// Silence handling is part of the contract — an utterance that is too short
// or too quiet to carry speech transcribes to "" without error, so callers
// can skip the rest of the turn instead of reasoning about noise.
package stt

import (
	"context"
	"errors"
)

// ErrSTT marks a transcription engine failure. It is recoverable per turn:
// the session tells the user it did not catch that and returns to listening.
var ErrSTT = errors.New("stt: transcription failed")

// MinUtteranceMs is the floor below which an utterance cannot plausibly
// contain speech. Transcribers return "" for shorter input without invoking
// the engine.
const MinUtteranceMs = 300

// Transcriber converts one complete utterance into text.
//
// Implementations must be safe for concurrent use and must respect context
// cancellation. Input is 16-bit signed little-endian mono PCM at the sample
// rate the implementation was configured with.
type Transcriber interface {
	// Transcribe returns the text of the utterance, or "" (with a nil error)
	// when the audio is silence or too short to carry speech. Engine
	// failures wrap ErrSTT.
	Transcribe(ctx context.Context, pcm []byte) (string, error)
}
