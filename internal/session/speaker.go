package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/auricle/pkg/audio"
)

// sender serializes all writes to the WebSocket. Once a write fails the
// connection is considered gone and every further write is absorbed, so the
// pipeline can finish its turn without checking the transport at each step.
type sender struct {
	mu   sync.Mutex
	conn *websocket.Conn
	dead bool
}

func newSender(conn *websocket.Conn) *sender {
	return &sender{conn: conn}
}

// sendJSON marshals v and writes it as a text frame.
func (s *sender) sendJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("session: encode message: %w", err)
	}
	return s.write(ctx, websocket.MessageText, data)
}

// sendBinary writes one PCM chunk as a binary frame.
func (s *sender) sendBinary(ctx context.Context, pcm []byte) error {
	return s.write(ctx, websocket.MessageBinary, pcm)
}

func (s *sender) write(ctx context.Context, typ websocket.MessageType, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dead {
		return nil
	}
	if err := s.conn.Write(ctx, typ, data); err != nil {
		s.dead = true
		slog.Debug("session: write failed, absorbing further sends", "err", err)
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return nil
}

// outFrame is one unit of work for the speaker goroutine: either a PCM chunk
// to send, or a flush marker whose channel is closed once every frame queued
// before it has gone out.
type outFrame struct {
	pcm     []byte
	flushed chan struct{}
}

// speaker paces outbound TTS audio to real time. The producer blocks on a
// bounded channel so a slow client limits synthesis instead of growing an
// unbounded queue.
type speaker struct {
	send    *sender
	frames  chan outFrame
	chunkSz int
	gap     time.Duration
}

// speakerDepth bounds how many chunks may be queued ahead of the client.
const speakerDepth = 8

func newSpeaker(send *sender, format audio.Format, chunkMs int, gap time.Duration) *speaker {
	return &speaker{
		send:    send,
		frames:  make(chan outFrame, speakerDepth),
		chunkSz: audio.ChunkBytes(format, chunkMs),
		gap:     gap,
	}
}

// run drains the frame queue until ctx ends. Post-disconnect send errors are
// absorbed by the sender, so pacing continues and flush markers still fire.
func (sp *speaker) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-sp.frames:
			if f.flushed != nil {
				close(f.flushed)
				continue
			}
			if err := sp.send.sendBinary(ctx, f.pcm); err != nil {
				continue
			}
			if sp.gap > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(sp.gap):
				}
			}
		}
	}
}

// enqueue splits pcm into wire-size chunks and queues them for paced sending.
// It blocks when the queue is full and returns early when ctx ends.
func (sp *speaker) enqueue(ctx context.Context, pcm []byte) error {
	for _, chunk := range audio.Split(pcm, sp.chunkSz) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sp.frames <- outFrame{pcm: chunk}:
		}
	}
	return nil
}

// flush blocks until every chunk queued so far has been written.
func (sp *speaker) flush(ctx context.Context) error {
	mark := make(chan struct{})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case sp.frames <- outFrame{flushed: mark}:
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-mark:
		return nil
	}
}
