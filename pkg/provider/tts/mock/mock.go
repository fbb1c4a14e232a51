// Package mock provides a test double for the tts.Synthesizer interface.
//
// Use Synthesizer to feed controlled PCM to consumers and to verify the
// text each turn sends to synthesis:
//
//	m := &mock.Synthesizer{PCM: make([]byte, 3200)}
//	pcm, err := m.Synthesize(ctx, "Hello there.")
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/auricle/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Text is the text passed to Synthesize.
	Text string
}

// Synthesizer is a mock implementation of tts.Synthesizer.
type Synthesizer struct {
	mu sync.Mutex

	// PCM is returned from Synthesize when OnSynthesize is nil. The caller
	// receives a copy.
	PCM []byte

	// Err, if non-nil, is returned from Synthesize when OnSynthesize is nil.
	Err error

	// OnSynthesize, when set, overrides PCM/Err. call is 1-based.
	OnSynthesize func(call int, text string) ([]byte, error)

	// SynthesizeCalls records every call to Synthesize in order.
	SynthesizeCalls []SynthesizeCall
}

// Synthesize records the call and returns the configured PCM or error.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	s.mu.Lock()
	s.SynthesizeCalls = append(s.SynthesizeCalls, SynthesizeCall{Text: text})
	call := len(s.SynthesizeCalls)
	hook := s.OnSynthesize
	pcm, err := s.PCM, s.Err
	s.mu.Unlock()

	if hook != nil {
		return hook(call, text)
	}
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(pcm))
	copy(out, pcm)
	return out, nil
}

// SynthesizeCallCount returns the number of recorded Synthesize calls.
func (s *Synthesizer) SynthesizeCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.SynthesizeCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (s *Synthesizer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SynthesizeCalls = nil
}

// Ensure Synthesizer implements tts.Synthesizer at compile time.
var _ tts.Synthesizer = (*Synthesizer)(nil)
