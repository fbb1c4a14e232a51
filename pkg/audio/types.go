package audio

import "time"

// Wire format constants for the voice session. The browser client and every
// provider adapter normalize to this format before audio crosses a package
// boundary.
const (
	// SampleRate is the canonical pipeline sample rate in Hz.
	SampleRate = 16000

	// Channels is the canonical channel count (mono).
	Channels = 1

	// BytesPerSample for 16-bit signed little-endian PCM.
	BytesPerSample = 2

	// ChunkMs is the duration of one transport chunk in milliseconds.
	ChunkMs = 10
)

// Frame represents a single chunk of PCM audio flowing through the pipeline.
// Frames are the atomic unit of audio transport — received from the websocket,
// fed to VAD and segmentation, and paced back out during playback.
type Frame struct {
	// PCM audio data, 16-bit signed little-endian.
	Data []byte

	// SampleRate in Hz (e.g., 16000 for the wire format, 24000 for raw TTS output).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// Timestamp marks when this frame was received, relative to session start.
	Timestamp time.Duration
}

// Duration returns the playback duration of the frame's PCM payload.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	samples := len(f.Data) / (BytesPerSample * f.Channels)
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}
