// Package vad defines the Engine interface for voice activity detection
// backends.
//
// The segmenter feeds every inbound client frame through a VAD session to
// find utterance boundaries: where speech starts, and the silence run that
// ends a turn. ProcessFrame is synchronous so the detection sits directly in
// the websocket read loop without adding latency.
//
// An Engine may serve many sessions at once; each session carries its own
// smoothing state so concurrent voice connections do not bleed into each
// other. A single SessionHandle belongs to one goroutine.
package vad

// Config holds the parameters for one VAD session.
type Config struct {
	// SampleRate is the PCM sample rate in Hz of the frames passed to
	// ProcessFrame. The bridge's canonical rate is 16000.
	SampleRate int

	// FrameSizeMs is the fixed frame duration in milliseconds. ProcessFrame
	// rejects frames of any other size.
	FrameSizeMs int

	// SpeechThreshold is the probability at or above which a frame counts
	// as speech. Raising it trades missed soft speech starts for fewer
	// false triggers. Typical: 0.5.
	SpeechThreshold float64

	// SilenceThreshold is the probability below which a frame counts as
	// silence, ending an active utterance. Must not exceed
	// SpeechThreshold. Typical: 0.35.
	SilenceThreshold float64
}

// SessionHandle is the per-stream detection state. It is an interface so
// tests can script detection sequences without a live model.
type SessionHandle interface {
	// ProcessFrame classifies one frame of raw little-endian PCM at the
	// configured rate and size. It must not block; the caller is the
	// session's audio loop.
	ProcessFrame(frame []byte) (VADEvent, error)

	// Reset drops accumulated smoothing state without closing the session.
	// Called when the client resets mid-utterance so stale state cannot
	// leak into the next turn.
	Reset()

	// Close releases the session's resources. Closing twice is safe and
	// returns nil.
	Close() error
}

// Engine creates VAD sessions. Safe for concurrent use; every voice
// connection opens its own session.
type Engine interface {
	// NewSession returns a session ready to classify frames, or an error
	// when cfg is invalid for the backend.
	NewSession(cfg Config) (SessionHandle, error)
}
