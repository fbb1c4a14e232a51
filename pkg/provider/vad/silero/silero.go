// Package silero implements the vad.Engine interface using the Silero VAD
// ONNX model via the silero-vad-go bindings.
//
// The Silero detector consumes fixed windows of 512 samples at 16 kHz (256 at
// 8 kHz), so each session buffers incoming frames internally and runs the
// model whenever a full window is available. Callers may therefore feed
// frames of any size, including the 10 ms transport chunks the session layer
// produces.
package silero

import (
	"errors"
	"fmt"
	"sync"

	"github.com/streamer45/silero-vad-go/speech"

	"github.com/MrWong99/auricle/pkg/provider/vad"
)

// speechPadMs is the padding the detector keeps around detected speech so
// soft onsets are not clipped.
const speechPadMs = 100

// Compile-time assertion that Engine satisfies vad.Engine.
var _ vad.Engine = (*Engine)(nil)

// Engine creates Silero-backed VAD sessions. Each session owns its own
// detector instance because detector state is per audio stream.
type Engine struct {
	modelPath string
}

// New returns an Engine that loads the Silero ONNX model from modelPath for
// every session it creates.
func New(modelPath string) (*Engine, error) {
	if modelPath == "" {
		return nil, errors.New("silero: model path must not be empty")
	}
	return &Engine{modelPath: modelPath}, nil
}

// NewSession creates a detector for one audio stream.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate != 8000 && cfg.SampleRate != 16000 {
		return nil, fmt.Errorf("silero: unsupported sample rate %d (want 8000 or 16000)", cfg.SampleRate)
	}
	threshold := cfg.SpeechThreshold
	if threshold <= 0 || threshold > 1 {
		threshold = 0.5
	}

	det, err := speech.NewDetector(speech.DetectorConfig{
		ModelPath:   e.modelPath,
		SampleRate:  cfg.SampleRate,
		Threshold:   float32(threshold),
		SpeechPadMs: speechPadMs,
	})
	if err != nil {
		return nil, fmt.Errorf("silero: create detector: %w", err)
	}

	window := 512
	if cfg.SampleRate == 8000 {
		window = 256
	}
	return &session{
		det:     det,
		window:  window,
		pending: make([]float32, 0, window*2),
	}, nil
}

// session wraps one speech.Detector. Not safe for concurrent use, matching
// the vad.SessionHandle contract.
type session struct {
	mu       sync.Mutex
	det      *speech.Detector
	window   int
	pending  []float32
	speaking bool
	closed   bool
}

var _ vad.SessionHandle = (*session)(nil)

// ProcessFrame buffers the frame and runs the detector on every complete
// window it can fill. The Silero model does not expose a per-frame
// probability, so Probability is reported as 1 during speech and 0 otherwise.
func (s *session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vad.VADEvent{}, errors.New("silero: session is closed")
	}
	if len(frame)%2 != 0 {
		return vad.VADEvent{}, fmt.Errorf("silero: odd frame length %d", len(frame))
	}

	for i := 0; i+1 < len(frame); i += 2 {
		sample := int16(frame[i]) | int16(frame[i+1])<<8
		s.pending = append(s.pending, float32(sample)/32768)
	}

	started, ended := false, false
	for len(s.pending) >= s.window {
		segments, err := s.det.Detect(s.pending[:s.window])
		if err != nil {
			return vad.VADEvent{}, fmt.Errorf("silero: detect: %w", err)
		}
		s.pending = s.pending[:copy(s.pending, s.pending[s.window:])]
		for _, seg := range segments {
			if seg.SpeechStartAt >= 0 && !s.speaking {
				s.speaking = true
				started = true
			}
			if seg.SpeechEndAt > 0 && s.speaking {
				s.speaking = false
				ended = true
			}
		}
	}

	switch {
	case started && s.speaking:
		return vad.VADEvent{Type: vad.VADSpeechStart, Probability: 1}, nil
	case ended && !s.speaking:
		return vad.VADEvent{Type: vad.VADSpeechEnd, Probability: 0}, nil
	case s.speaking:
		return vad.VADEvent{Type: vad.VADSpeechContinue, Probability: 1}, nil
	default:
		return vad.VADEvent{Type: vad.VADSilence, Probability: 0}, nil
	}
}

// Reset clears the detector state and the sample buffer.
func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if err := s.det.Reset(); err != nil {
		// Reset failures leave the detector usable; nothing to surface here.
		return
	}
	s.pending = s.pending[:0]
	s.speaking = false
}

// Close destroys the detector. Safe to call more than once.
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.det.Destroy(); err != nil {
		return fmt.Errorf("silero: destroy detector: %w", err)
	}
	return nil
}
