// Package session runs the per-connection voice pipeline: inbound PCM is
// segmented into utterances, transcribed, answered by the chat engine, and
// the reply is synthesized and streamed back in paced wire-size chunks.
//
// One Session owns one WebSocket connection. The receive path and the send
// path run concurrently so a slow client cannot stall inbound reads, but at
// most one utterance is in flight at a time; audio arriving mid-turn is
// buffered for the next utterance.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/auricle/internal/chat"
	"github.com/MrWong99/auricle/internal/observe"
	"github.com/MrWong99/auricle/internal/segment"
	"github.com/MrWong99/auricle/internal/transcript"
	"github.com/MrWong99/auricle/pkg/audio"
	"github.com/MrWong99/auricle/pkg/provider/stt"
	"github.com/MrWong99/auricle/pkg/provider/tts"
)

// ErrTransport marks a WebSocket failure. The session is over when it occurs;
// there is no per-turn recovery from a broken transport.
var ErrTransport = errors.New("session: transport failure")

const (
	// defaultChunkMs is the advisory outbound chunk duration (320 bytes at
	// the wire format).
	defaultChunkMs = 10

	// defaultCallTimeout is the soft deadline on a single STT, LLM, or TTS
	// call within a turn.
	defaultCallTimeout = 30 * time.Second

	// fallbackReply is spoken when a turn fails before a reply exists.
	fallbackReply = "I didn't catch that. Please try again."
)

// Responder drives one reasoning turn per utterance. *chat.Engine satisfies it.
type Responder interface {
	Chat(ctx context.Context, userText string) *chat.Turn
	Reset()
	FullResponse() string
}

// Deps are the collaborators a Session needs. Engine, Transcriber,
// Synthesizer, and Segmenter are required; Normalizer and Metrics are
// optional.
type Deps struct {
	Engine      Responder
	Transcriber stt.Transcriber
	Synthesizer tts.Synthesizer
	Segmenter   *segment.Segmenter
	Normalizer  *transcript.Normalizer
	Metrics     *observe.Metrics
}

// Session is the pipeline for one WebSocket connection. Create with New, then
// call Run once; the zero value is not usable.
type Session struct {
	send    *sender
	conn    *websocket.Conn
	spk     *speaker
	inbox   *inbox
	seg     *segment.Segmenter
	conv    *audio.FormatConverter
	engine  Responder
	stt     stt.Transcriber
	tts     tts.Synthesizer
	norm    *transcript.Normalizer
	metrics *observe.Metrics

	format      audio.Format
	chunkMs     int
	callTimeout time.Duration
	chunkGap    time.Duration
	inboxCap    int

	ctrl chan string

	turnMu     sync.Mutex
	turnCancel context.CancelFunc
}

// Option configures a Session.
type Option func(*Session)

// WithChunkGap sets the sleep between outbound audio chunks. The default is
// the chunk duration itself (real-time pacing); zero disables pacing.
func WithChunkGap(d time.Duration) Option {
	return func(s *Session) {
		if d >= 0 {
			s.chunkGap = d
		}
	}
}

// WithCallTimeout sets the soft deadline for provider calls within a turn.
func WithCallTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.callTimeout = d
		}
	}
}

// WithInboxCap overrides the soft cap on buffered inbound audio, in bytes.
func WithInboxCap(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.inboxCap = n
		}
	}
}

// WithFormat sets the format of inbound client audio. Anything other than
// the 16 kHz mono default is converted before segmentation.
func WithFormat(f audio.Format) Option {
	return func(s *Session) {
		if f.SampleRate > 0 && f.Channels > 0 {
			s.format = f
		}
	}
}

// New creates a Session over an accepted WebSocket connection.
func New(conn *websocket.Conn, deps Deps, opts ...Option) (*Session, error) {
	if conn == nil {
		return nil, errors.New("session: conn must not be nil")
	}
	if deps.Engine == nil {
		return nil, errors.New("session: engine must not be nil")
	}
	if deps.Transcriber == nil {
		return nil, errors.New("session: transcriber must not be nil")
	}
	if deps.Synthesizer == nil {
		return nil, errors.New("session: synthesizer must not be nil")
	}
	if deps.Segmenter == nil {
		return nil, errors.New("session: segmenter must not be nil")
	}

	s := &Session{
		conn:        conn,
		seg:         deps.Segmenter,
		engine:      deps.Engine,
		stt:         deps.Transcriber,
		tts:         deps.Synthesizer,
		norm:        deps.Normalizer,
		metrics:     deps.Metrics,
		format:      audio.Wire,
		chunkMs:     defaultChunkMs,
		callTimeout: defaultCallTimeout,
		chunkGap:    -1,
		ctrl:        make(chan string, 4),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.chunkGap < 0 {
		s.chunkGap = time.Duration(s.chunkMs) * time.Millisecond
	}

	if s.format != audio.Wire {
		s.conv = &audio.FormatConverter{Target: audio.Wire}
	}

	// Outbound audio is always the canonical wire format regardless of what
	// the client sends; the handshake advertises it.
	s.send = newSender(conn)
	s.spk = newSpeaker(s.send, audio.Wire, s.chunkMs, s.chunkGap)
	s.inbox = newInbox(s.inboxCap)
	return s, nil
}

// Run drives the session until the client disconnects or ctx ends. It sends
// the connected handshake, then runs the receive loop and the pipeline loop
// concurrently. A clean client close returns nil.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.seg.Close()

	handshake := connectedMsg{
		Type:        "connected",
		SampleRate:  audio.Wire.SampleRate,
		ChunkSizeMs: s.chunkMs,
	}
	if err := s.send.sendJSON(ctx, handshake); err != nil {
		return err
	}

	go s.spk.run(ctx)

	readErr := make(chan error, 1)
	go func() { readErr <- s.readLoop(ctx) }()

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		s.loop(ctx)
	}()

	var err error
	select {
	case err = <-readErr:
	case <-ctx.Done():
		err = ctx.Err()
	}
	cancel()
	s.cancelTurn()
	<-loopDone

	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return nil
	case isClientClose(err):
		return nil
	default:
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
}

// isClientClose reports whether err is a deliberate client-side close.
func isClientClose(err error) bool {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return false
}

// readLoop pulls frames off the WebSocket as fast as they arrive. Binary
// frames are buffered for the pipeline; text frames are control messages.
func (s *Session) readLoop(ctx context.Context) error {
	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			return err
		}
		switch typ {
		case websocket.MessageBinary:
			s.inbox.push(data)
		case websocket.MessageText:
			s.handleControl(ctx, data)
		}
	}
}

// handleControl reacts to one client JSON message. Ping is answered inline;
// reset and end_of_speech are forwarded to the pipeline loop. Reset also
// cancels the in-flight turn so the pipeline frees up promptly.
func (s *Session) handleControl(ctx context.Context, data []byte) {
	var msg controlMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Warn("session: unparsable control message", "err", err)
		return
	}
	switch msg.Type {
	case msgPing:
		if err := s.send.sendJSON(ctx, pongMsg{Type: "pong"}); err != nil {
			slog.Debug("session: pong failed", "err", err)
		}
	case msgReset:
		s.cancelTurn()
		s.forward(msg.Type)
	case msgEndOfSpeech:
		s.forward(msg.Type)
	default:
		slog.Warn("session: unknown control message", "type", msg.Type)
	}
}

func (s *Session) forward(typ string) {
	select {
	case s.ctrl <- typ:
	default:
		slog.Warn("session: control queue full, message dropped", "type", typ)
	}
}

// loop is the pipeline side: it drains buffered audio through the segmenter
// and runs one turn per completed utterance. Control messages interleave with
// audio at chunk granularity so a reset never waits behind a full buffer.
func (s *Session) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-s.ctrl:
			s.handleCtrl(ctx, c)
		case <-s.inbox.wait():
			chunk := s.inbox.pop()
			if chunk == nil {
				continue
			}
			utteranceDone, pcm, err := s.seg.Push(s.toWire(chunk))
			if err != nil {
				slog.Warn("session: segmenter error, chunk dropped", "err", err)
				continue
			}
			if utteranceDone {
				s.runTurn(ctx, pcm)
			}
		}
	}
}

// handleCtrl applies a forwarded control message on the pipeline side.
func (s *Session) handleCtrl(ctx context.Context, typ string) {
	switch typ {
	case msgReset:
		s.inbox.drop()
		s.seg.Reset()
		s.engine.Reset()
		s.sendStatus(ctx, stateIdle)
	case msgEndOfSpeech:
		// Feed audio still buffered before forcing the close, so the
		// utterance contains everything the client sent ahead of the marker.
		s.drainAudio(ctx)
		s.runTurn(ctx, s.seg.Flush())
	}
}

// drainAudio pushes every buffered chunk through the segmenter, running turns
// for any utterances that complete naturally along the way.
func (s *Session) drainAudio(ctx context.Context) {
	for ctx.Err() == nil {
		chunk := s.inbox.pop()
		if chunk == nil {
			return
		}
		utteranceDone, pcm, err := s.seg.Push(s.toWire(chunk))
		if err != nil {
			slog.Warn("session: segmenter error, chunk dropped", "err", err)
			continue
		}
		if utteranceDone {
			s.runTurn(ctx, pcm)
		}
	}
}

// toWire converts an inbound chunk from the negotiated client format to the
// canonical pipeline format. A pass-through when the client speaks 16 kHz mono.
func (s *Session) toWire(chunk []byte) []byte {
	if s.conv == nil {
		return chunk
	}
	out := s.conv.Convert(audio.Frame{
		Data:       chunk,
		SampleRate: s.format.SampleRate,
		Channels:   s.format.Channels,
	})
	return out.Data
}

// runTurn executes one utterance end to end: transcribe, reason, speak. It
// returns with the session back in the listening state, or silently when the
// turn was cancelled.
func (s *Session) runTurn(ctx context.Context, pcm []byte) {
	if ctx.Err() != nil {
		return
	}
	turnCtx, cancel := context.WithCancel(ctx)
	s.setTurnCancel(cancel)
	defer func() {
		s.setTurnCancel(nil)
		cancel()
	}()

	turnCtx, span := observe.StartSpan(turnCtx, "session.turn")
	defer span.End()

	start := time.Now()

	// A silence-only utterance has no audio left after leading-silence
	// discard; report an idle turn without touching the providers.
	if len(pcm) == 0 {
		s.sendStatus(ctx, stateIdle)
		return
	}

	s.sendStatus(ctx, stateTranscribing)
	userText, sttDur, err := s.transcribe(turnCtx, pcm)
	if err != nil {
		if turnCtx.Err() != nil {
			return
		}
		slog.Error("session: transcription failed", "err", err)
		s.failTurn(ctx, codeSTTFailed)
		return
	}
	if userText == "" {
		s.sendStatus(ctx, stateIdle)
		return
	}

	if s.norm != nil {
		normalized, corrections := s.norm.Normalize(userText)
		for _, c := range corrections {
			slog.Debug("session: transcript corrected",
				"from", c.Original, "to", c.Corrected, "confidence", c.Confidence)
		}
		userText = normalized
	}

	s.sendStatus(ctx, stateReasoning)
	llmStart := time.Now()
	turn := s.engine.Chat(turnCtx, userText)

	var llmDur, ttsDur time.Duration
	speaking := false
	ttsFailed := false
	for sentence := range turn.Sentences() {
		llmDur = time.Since(llmStart) - ttsDur
		if turnCtx.Err() != nil || ttsFailed {
			continue // drain so the engine can finish the turn
		}
		if !speaking {
			s.sendStatus(ctx, stateSpeaking)
			speaking = true
		}
		clip, d, err := s.synthesize(turnCtx, sentence)
		ttsDur += d
		if err != nil {
			if turnCtx.Err() != nil {
				continue
			}
			slog.Error("session: synthesis failed, degrading to text", "err", err)
			ttsFailed = true
			continue
		}
		if err := s.spk.enqueue(turnCtx, clip); err != nil {
			continue
		}
	}

	if err := turn.Err(); err != nil {
		if turnCtx.Err() != nil || errors.Is(err, context.Canceled) {
			return
		}
		slog.Error("session: reasoning failed", "err", err)
		s.failTurn(ctx, codeLLMFailed)
		return
	}
	if turnCtx.Err() != nil {
		return
	}

	if ttsFailed {
		// The reply exists but cannot be spoken; report the degradation and
		// hand the reply over as text.
		if err := s.send.sendJSON(ctx, errorMsg{
			Type:    "error",
			Message: "Speech synthesis failed; replying as text.",
			Code:    codeTTSFailed,
		}); err != nil {
			slog.Debug("session: tts error report failed", "err", err)
		}
		if err := s.send.sendJSON(ctx, textMsg{Type: "text", Text: s.engine.FullResponse()}); err != nil {
			slog.Debug("session: text fallback failed", "err", err)
		}
		s.sendStatus(ctx, stateListening)
		return
	}

	if err := s.spk.flush(turnCtx); err != nil {
		return
	}

	total := time.Since(start)
	if s.metrics != nil {
		s.metrics.TurnDuration.Record(ctx, total.Seconds())
	}
	s.send.sendJSON(ctx, doneMsg{
		Type: "done",
		Latency: latency{
			STTMs:   sttDur.Milliseconds(),
			LLMMs:   llmDur.Milliseconds(),
			TTSMs:   ttsDur.Milliseconds(),
			TotalMs: total.Milliseconds(),
		},
	})
	slog.Info("session: turn complete",
		"stt_ms", sttDur.Milliseconds(),
		"llm_ms", llmDur.Milliseconds(),
		"tts_ms", ttsDur.Milliseconds(),
		"total_ms", total.Milliseconds())
	s.sendStatus(ctx, stateListening)
}

// transcribe runs STT under the call timeout and records its latency.
func (s *Session) transcribe(ctx context.Context, pcm []byte) (string, time.Duration, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	start := time.Now()
	userText, err := s.stt.Transcribe(callCtx, pcm)
	d := time.Since(start)
	if s.metrics != nil {
		s.metrics.STTDuration.Record(ctx, d.Seconds())
	}
	return userText, d, err
}

// synthesize runs TTS under the call timeout and records its latency.
func (s *Session) synthesize(ctx context.Context, sentence string) ([]byte, time.Duration, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	start := time.Now()
	clip, err := s.tts.Synthesize(callCtx, sentence)
	d := time.Since(start)
	if s.metrics != nil {
		s.metrics.TTSDuration.Record(ctx, d.Seconds())
	}
	return clip, d, err
}

// failTurn delivers the per-turn failure pattern: a spoken apology when
// synthesis still works, a JSON error either way, and back to listening.
func (s *Session) failTurn(ctx context.Context, code string) {
	clip, _, err := s.synthesize(ctx, fallbackReply)
	if err == nil && len(clip) > 0 {
		if err := s.spk.enqueue(ctx, clip); err == nil {
			s.spk.flush(ctx)
		}
	}
	s.send.sendJSON(ctx, errorMsg{Type: "error", Message: fallbackReply, Code: code})
	s.sendStatus(ctx, stateListening)
}

func (s *Session) sendStatus(ctx context.Context, state string) {
	if err := s.send.sendJSON(ctx, statusMsg{Type: "status", State: state}); err != nil {
		slog.Debug("session: status send failed", "state", state, "err", err)
	}
}

func (s *Session) setTurnCancel(cancel context.CancelFunc) {
	s.turnMu.Lock()
	s.turnCancel = cancel
	s.turnMu.Unlock()
}

// cancelTurn aborts the in-flight turn, if any. Safe from any goroutine.
func (s *Session) cancelTurn() {
	s.turnMu.Lock()
	cancel := s.turnCancel
	s.turnMu.Unlock()
	if cancel != nil {
		cancel()
	}
}
