package vad

// VADEvent is the detection result for one audio frame.
type VADEvent struct {
	// Type classifies the frame.
	Type VADEventType

	// Probability is the model's speech score for the frame, 0.0 to 1.0.
	Probability float64
}

// VADEventType enumerates what a frame meant for the utterance in progress.
type VADEventType int

const (
	// VADSpeechStart marks the first speech frame after silence.
	VADSpeechStart VADEventType = iota

	// VADSpeechContinue marks a speech frame inside an utterance.
	VADSpeechContinue

	// VADSpeechEnd marks the frame on which the utterance ended.
	VADSpeechEnd

	// VADSilence marks a frame with no speech, outside any utterance.
	VADSilence
)
