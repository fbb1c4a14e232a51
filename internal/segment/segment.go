// Package segment turns a continuous PCM stream into discrete utterances.
//
// A Segmenter sits between the WebSocket inbound path and the transcriber. It
// feeds fixed-duration frames to a VAD session and watches for a trailing
// silence run long enough to close the utterance. Leading silence is not
// recorded; only audio from speech onset onward ends up in the completed
// utterance.
//
// The segmenter starts armed: even a stream that never contains speech
// produces one (empty) utterance once the silence window elapses, so the
// session can report an idle turn instead of hanging. After each completed
// utterance it disarms and discards audio until the detector reports speech
// again.
package segment

import (
	"fmt"
	"log/slog"

	"github.com/MrWong99/auricle/pkg/audio"
	"github.com/MrWong99/auricle/pkg/provider/vad"
)

// Defaults for Config fields left zero.
const (
	DefaultFrameMs        = 10
	DefaultSilenceMs      = 500
	DefaultMaxRecordingMs = 10000
)

// Config parametrizes a Segmenter.
type Config struct {
	// SampleRate of the incoming PCM. Defaults to the wire rate (16 kHz).
	SampleRate int

	// FrameMs is the duration of the frames handed to the VAD.
	FrameMs int

	// SilenceMs is the trailing-silence run that closes an utterance.
	SilenceMs int

	// MaxRecordingMs caps a single utterance; when reached the utterance is
	// closed even while speech continues.
	MaxRecordingMs int

	// SpeechThreshold and SilenceThreshold are passed through to the VAD
	// session; zero values pick the engine's defaults.
	SpeechThreshold  float64
	SilenceThreshold float64
}

func (c *Config) applyDefaults() {
	if c.SampleRate == 0 {
		c.SampleRate = audio.SampleRate
	}
	if c.FrameMs == 0 {
		c.FrameMs = DefaultFrameMs
	}
	if c.SilenceMs == 0 {
		c.SilenceMs = DefaultSilenceMs
	}
	if c.MaxRecordingMs == 0 {
		c.MaxRecordingMs = DefaultMaxRecordingMs
	}
}

// Segmenter accumulates one utterance at a time. Not safe for concurrent use;
// the session pipeline owns exactly one per connection and drives it from the
// receive loop.
type Segmenter struct {
	vad        vad.SessionHandle
	frameBytes int
	frameMs    int
	silenceMs  int
	maxMs      int

	carry     []byte // bytes not yet forming a full frame
	utterance []byte // speech audio of the in-progress utterance
	armed     bool
	inSpeech  bool
	quietMs   int // trailing silence accumulated while armed
}

// New creates a Segmenter backed by a fresh VAD session from engine.
func New(engine vad.Engine, cfg Config) (*Segmenter, error) {
	cfg.applyDefaults()
	if cfg.SilenceMs < cfg.FrameMs {
		return nil, fmt.Errorf("segment: silence window %dms shorter than frame %dms", cfg.SilenceMs, cfg.FrameMs)
	}
	if cfg.MaxRecordingMs <= cfg.SilenceMs {
		return nil, fmt.Errorf("segment: max recording %dms must exceed silence window %dms", cfg.MaxRecordingMs, cfg.SilenceMs)
	}

	sess, err := engine.NewSession(vad.Config{
		SampleRate:       cfg.SampleRate,
		FrameSizeMs:      cfg.FrameMs,
		SpeechThreshold:  cfg.SpeechThreshold,
		SilenceThreshold: cfg.SilenceThreshold,
	})
	if err != nil {
		return nil, fmt.Errorf("segment: create vad session: %w", err)
	}

	format := audio.Format{SampleRate: cfg.SampleRate, Channels: audio.Channels}
	return &Segmenter{
		vad:        sess,
		frameBytes: audio.ChunkBytes(format, cfg.FrameMs),
		frameMs:    cfg.FrameMs,
		silenceMs:  cfg.SilenceMs,
		maxMs:      cfg.MaxRecordingMs,
		armed:      true,
	}, nil
}

// Push feeds one chunk of PCM (any size) into the segmenter. When the chunk
// completes an utterance, done is true and pcm holds the utterance audio
// (possibly empty for a silence-only stream). Bytes following a completion
// within the same chunk are retained and processed by the next Push.
func (s *Segmenter) Push(chunk []byte) (done bool, pcm []byte, err error) {
	s.carry = append(s.carry, chunk...)

	for len(s.carry) >= s.frameBytes {
		frame := s.carry[:s.frameBytes]
		ev, err := s.vad.ProcessFrame(frame)
		if err != nil {
			return false, nil, fmt.Errorf("segment: vad: %w", err)
		}

		completed := s.consume(frame, ev)
		s.carry = s.carry[:copy(s.carry, s.carry[s.frameBytes:])]
		if completed != nil {
			return true, completed.pcm, nil
		}
	}
	return false, nil, nil
}

type completion struct{ pcm []byte }

// consume applies one frame's VAD verdict to the state machine and returns a
// non-nil completion when the utterance closed on this frame.
func (s *Segmenter) consume(frame []byte, ev vad.VADEvent) *completion {
	speech := ev.Type == vad.VADSpeechStart || ev.Type == vad.VADSpeechContinue

	if speech {
		s.armed = true
		s.inSpeech = true
		s.quietMs = 0
		s.utterance = append(s.utterance, frame...)
		if s.durationMs() >= s.maxMs {
			slog.Warn("segment: utterance hit recording cap", "ms", s.durationMs())
			return s.complete()
		}
		return nil
	}

	// Silence frame.
	if !s.armed {
		return nil
	}
	if s.inSpeech {
		// Trailing silence is part of the utterance until it closes it.
		s.utterance = append(s.utterance, frame...)
		if s.durationMs() >= s.maxMs {
			slog.Warn("segment: utterance hit recording cap", "ms", s.durationMs())
			return s.complete()
		}
	}
	s.quietMs += s.frameMs
	if s.quietMs >= s.silenceMs {
		return s.complete()
	}
	return nil
}

// Flush force-closes the in-progress utterance, returning its audio. Used for
// the end_of_speech control message. The returned slice may be empty.
func (s *Segmenter) Flush() []byte {
	c := s.complete()
	s.carry = s.carry[:0]
	return c.pcm
}

// complete snapshots the utterance and disarms until speech re-arms.
func (s *Segmenter) complete() *completion {
	pcm := make([]byte, len(s.utterance))
	copy(pcm, s.utterance)
	s.utterance = s.utterance[:0]
	s.armed = false
	s.inSpeech = false
	s.quietMs = 0
	s.vad.Reset()
	return &completion{pcm: pcm}
}

// Reset discards all buffered audio and re-arms, as if the stream had just
// started.
func (s *Segmenter) Reset() {
	s.carry = s.carry[:0]
	s.utterance = s.utterance[:0]
	s.armed = true
	s.inSpeech = false
	s.quietMs = 0
	s.vad.Reset()
}

// Buffered reports how much utterance audio is currently held, in bytes.
func (s *Segmenter) Buffered() int {
	return len(s.utterance) + len(s.carry)
}

// Close releases the underlying VAD session.
func (s *Segmenter) Close() error {
	return s.vad.Close()
}

// durationMs is the length of the in-progress utterance in milliseconds.
func (s *Segmenter) durationMs() int {
	return len(s.utterance) / s.frameBytes * s.frameMs
}
