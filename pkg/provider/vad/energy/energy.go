// Package energy implements the vad.Engine interface with a simple RMS
// energy gate. It has no model dependency and runs anywhere, which makes it
// the fallback detector when no Silero model file is configured.
//
// The detector maps the frame's RMS amplitude to a pseudo-probability and
// applies the session's speech/silence thresholds with hysteresis: speech
// starts when the probability reaches SpeechThreshold and ends only once it
// drops to SilenceThreshold.
package energy

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/auricle/pkg/audio"
	"github.com/MrWong99/auricle/pkg/provider/vad"
)

// defaultReferenceRMS is the RMS amplitude (16-bit PCM units) that maps to a
// speech probability of 0.5. Normal speech at typical microphone gain sits
// well above this.
const defaultReferenceRMS = 300.0

var _ vad.Engine = (*Engine)(nil)

// Engine creates energy-gate VAD sessions.
type Engine struct {
	referenceRMS float64
}

// Option configures an Engine.
type Option func(*Engine)

// WithReferenceRMS overrides the RMS amplitude that maps to probability 0.5.
func WithReferenceRMS(ref float64) Option {
	return func(e *Engine) {
		if ref > 0 {
			e.referenceRMS = ref
		}
	}
}

// New returns an energy-gate Engine.
func New(opts ...Option) *Engine {
	e := &Engine{referenceRMS: defaultReferenceRMS}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewSession validates cfg and returns a fresh session.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("energy: invalid sample rate %d", cfg.SampleRate)
	}
	speech := cfg.SpeechThreshold
	if speech <= 0 || speech > 1 {
		speech = 0.5
	}
	silence := cfg.SilenceThreshold
	if silence <= 0 || silence > speech {
		silence = speech * 0.7
	}
	return &session{
		reference: e.referenceRMS,
		speechAt:  speech,
		silenceAt: silence,
	}, nil
}

// session applies the energy gate to one stream.
type session struct {
	mu        sync.Mutex
	reference float64
	speechAt  float64
	silenceAt float64
	speaking  bool
	closed    bool
}

var _ vad.SessionHandle = (*session)(nil)

// ProcessFrame classifies one PCM frame by its RMS amplitude.
func (s *session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vad.VADEvent{}, errors.New("energy: session is closed")
	}
	if len(frame) == 0 || len(frame)%2 != 0 {
		return vad.VADEvent{}, fmt.Errorf("energy: invalid frame length %d", len(frame))
	}

	prob := audio.RMS(frame) / (2 * s.reference)
	if prob > 1 {
		prob = 1
	}

	switch {
	case !s.speaking && prob >= s.speechAt:
		s.speaking = true
		return vad.VADEvent{Type: vad.VADSpeechStart, Probability: prob}, nil
	case s.speaking && prob <= s.silenceAt:
		s.speaking = false
		return vad.VADEvent{Type: vad.VADSpeechEnd, Probability: prob}, nil
	case s.speaking:
		return vad.VADEvent{Type: vad.VADSpeechContinue, Probability: prob}, nil
	default:
		return vad.VADEvent{Type: vad.VADSilence, Probability: prob}, nil
	}
}

// Reset returns the session to the non-speaking state.
func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.speaking = false
}

// Close marks the session closed. Calling it more than once is safe.
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
