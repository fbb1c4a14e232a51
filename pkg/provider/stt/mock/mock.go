// Package mock provides a test double for the stt.Transcriber interface.
//
// Configure Text/Err for a fixed response, or OnTranscribe to script
// per-call behaviour. Every call is recorded for inspection.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/auricle/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Transcribe.
type TranscribeCall struct {
	// PCM is a copy of the audio bytes passed to Transcribe.
	PCM []byte
}

// Transcriber is a mock implementation of stt.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// OnTranscribe, if non-nil, is consulted on every call instead of
	// Text/Err. call is 1-based.
	OnTranscribe func(call int, pcm []byte) (string, error)

	// Text is returned by Transcribe when OnTranscribe is nil.
	Text string

	// Err, if non-nil, is returned by Transcribe when OnTranscribe is nil.
	Err error

	// TranscribeCalls records every invocation in order.
	TranscribeCalls []TranscribeCall
}

// Transcribe records the call and returns the scripted result.
func (t *Transcriber) Transcribe(_ context.Context, pcm []byte) (string, error) {
	t.mu.Lock()
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	t.TranscribeCalls = append(t.TranscribeCalls, TranscribeCall{PCM: cp})
	call := len(t.TranscribeCalls)
	hook := t.OnTranscribe
	text, err := t.Text, t.Err
	t.mu.Unlock()

	if hook != nil {
		return hook(call, pcm)
	}
	return text, err
}

// TranscribeCallCount returns the number of Transcribe calls. Thread-safe.
func (t *Transcriber) TranscribeCallCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.TranscribeCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (t *Transcriber) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.TranscribeCalls = nil
}

// Compile-time assertion that Transcriber implements stt.Transcriber.
var _ stt.Transcriber = (*Transcriber)(nil)
