package segment_test

import (
	"bytes"
	"testing"

	"github.com/MrWong99/auricle/internal/segment"
	"github.com/MrWong99/auricle/pkg/provider/vad"
	"github.com/MrWong99/auricle/pkg/provider/vad/mock"
)

const frameBytes = 320 // 10 ms at 16 kHz mono s16le

func newSegmenter(t *testing.T, sess *mock.Session) *segment.Segmenter {
	t.Helper()
	seg, err := segment.New(&mock.Engine{Session: sess}, segment.Config{
		SilenceMs:      500,
		MaxRecordingMs: 10000,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { seg.Close() })
	return seg
}

// pushMs feeds n milliseconds of zeroed audio in 10 ms frames and returns the
// first completion, if any.
func pushMs(t *testing.T, seg *segment.Segmenter, ms int) (bool, []byte) {
	t.Helper()
	for i := 0; i < ms/10; i++ {
		done, pcm, err := seg.Push(make([]byte, frameBytes))
		if err != nil {
			t.Fatalf("Push: %v", err)
		}
		if done {
			return true, pcm
		}
	}
	return false, nil
}

func TestSilenceOnlyCompletesExactlyOnce(t *testing.T) {
	t.Parallel()
	sess := &mock.Session{EventResult: vad.VADEvent{Type: vad.VADSilence}}
	seg := newSegmenter(t, sess)

	done, pcm := pushMs(t, seg, 500)
	if !done {
		t.Fatal("expected completion after 500ms of silence")
	}
	if len(pcm) != 0 {
		t.Fatalf("silence-only utterance has %d bytes, want 0", len(pcm))
	}

	// Disarmed: further silence must not complete again.
	if done, _ := pushMs(t, seg, 3000); done {
		t.Fatal("disarmed segmenter completed on silence")
	}
}

func TestSpeechThenSilenceCompletes(t *testing.T) {
	t.Parallel()
	sess := &mock.Session{EventResult: vad.VADEvent{Type: vad.VADSpeechContinue, Probability: 0.9}}
	seg := newSegmenter(t, sess)

	if done, _ := pushMs(t, seg, 300); done {
		t.Fatal("completed during speech")
	}

	sess.EventResult = vad.VADEvent{Type: vad.VADSilence}
	done, pcm := pushMs(t, seg, 500)
	if !done {
		t.Fatal("expected completion after trailing silence")
	}
	if len(pcm) < 300/10*frameBytes {
		t.Fatalf("utterance has %d bytes, want at least the 300ms of speech", len(pcm))
	}
}

func TestSpeechReArmsAfterCompletion(t *testing.T) {
	t.Parallel()
	sess := &mock.Session{EventResult: vad.VADEvent{Type: vad.VADSilence}}
	seg := newSegmenter(t, sess)

	if done, _ := pushMs(t, seg, 500); !done {
		t.Fatal("expected initial silence completion")
	}

	sess.EventResult = vad.VADEvent{Type: vad.VADSpeechContinue, Probability: 0.9}
	if done, _ := pushMs(t, seg, 100); done {
		t.Fatal("completed during speech")
	}
	sess.EventResult = vad.VADEvent{Type: vad.VADSilence}
	done, pcm := pushMs(t, seg, 500)
	if !done {
		t.Fatal("expected completion of second utterance")
	}
	if len(pcm) == 0 {
		t.Fatal("second utterance is empty")
	}
}

func TestRecordingCapClosesMidSpeech(t *testing.T) {
	t.Parallel()
	sess := &mock.Session{EventResult: vad.VADEvent{Type: vad.VADSpeechContinue, Probability: 0.9}}
	seg := newSegmenter(t, sess)

	done, pcm := pushMs(t, seg, 10000)
	if !done {
		t.Fatal("expected completion at the recording cap")
	}
	if got := len(pcm); got != 10000/10*frameBytes {
		t.Fatalf("capped utterance has %d bytes, want %d", got, 10000/10*frameBytes)
	}

	// The cap completion disarms like any other; speech starts a new one.
	if done, _ := pushMs(t, seg, 100); done {
		t.Fatal("completed immediately after cap")
	}
}

func TestFlushReturnsBufferedAudio(t *testing.T) {
	t.Parallel()
	sess := &mock.Session{EventResult: vad.VADEvent{Type: vad.VADSpeechContinue, Probability: 0.9}}
	seg := newSegmenter(t, sess)

	pushMs(t, seg, 200)
	pcm := seg.Flush()
	if got := len(pcm); got != 200/10*frameBytes {
		t.Fatalf("Flush returned %d bytes, want %d", got, 200/10*frameBytes)
	}
	if seg.Buffered() != 0 {
		t.Fatalf("Buffered() = %d after Flush, want 0", seg.Buffered())
	}
}

func TestPartialChunksAreCarried(t *testing.T) {
	t.Parallel()
	sess := &mock.Session{EventResult: vad.VADEvent{Type: vad.VADSpeechContinue, Probability: 0.9}}
	seg := newSegmenter(t, sess)

	// 100-byte pushes never align with the 320-byte frame size.
	total := 0
	for total < 5*frameBytes {
		chunk := bytes.Repeat([]byte{1, 0}, 50)
		if _, _, err := seg.Push(chunk); err != nil {
			t.Fatalf("Push: %v", err)
		}
		total += len(chunk)
	}

	pcm := seg.Flush()
	if len(pcm) < 4*frameBytes {
		t.Fatalf("carried audio lost: got %d bytes", len(pcm))
	}
	if len(sess.ProcessFrameCalls) == 0 {
		t.Fatal("vad never saw a full frame")
	}
	for _, call := range sess.ProcessFrameCalls {
		if len(call.Frame) != frameBytes {
			t.Fatalf("vad frame size %d, want %d", len(call.Frame), frameBytes)
		}
	}
}

func TestResetReArmsAndClearsState(t *testing.T) {
	t.Parallel()
	sess := &mock.Session{EventResult: vad.VADEvent{Type: vad.VADSpeechContinue, Probability: 0.9}}
	seg := newSegmenter(t, sess)

	pushMs(t, seg, 200)
	seg.Reset()
	if seg.Buffered() != 0 {
		t.Fatalf("Buffered() = %d after Reset, want 0", seg.Buffered())
	}
	if sess.ResetCallCount == 0 {
		t.Fatal("vad session was not reset")
	}

	// Re-armed: pure silence completes once more.
	sess.EventResult = vad.VADEvent{Type: vad.VADSilence}
	if done, _ := pushMs(t, seg, 500); !done {
		t.Fatal("expected silence completion after Reset")
	}
}

func TestConfigValidation(t *testing.T) {
	t.Parallel()
	eng := &mock.Engine{}

	if _, err := segment.New(eng, segment.Config{SilenceMs: 5}); err == nil {
		t.Fatal("silence window below frame size: want error")
	}
	if _, err := segment.New(eng, segment.Config{SilenceMs: 500, MaxRecordingMs: 400}); err == nil {
		t.Fatal("cap below silence window: want error")
	}
}
