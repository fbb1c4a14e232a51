package session

import (
	"log/slog"
	"sync"
)

// defaultInboxCap is the soft cap on buffered inbound PCM: about ten seconds
// at 16 kHz 16-bit mono.
const defaultInboxCap = 320 << 10

// inbox buffers inbound PCM chunks between the WebSocket receive loop and the
// pipeline. The receive loop pushes eagerly so the transport never stalls;
// the pipeline drains between turns. When the buffered total exceeds the cap,
// the oldest chunks are trimmed and the partial utterance they belonged to is
// considered abandoned.
type inbox struct {
	mu    sync.Mutex
	queue [][]byte
	bytes int
	cap   int

	// ready carries one token while the queue is non-empty.
	ready chan struct{}
}

func newInbox(capBytes int) *inbox {
	if capBytes <= 0 {
		capBytes = defaultInboxCap
	}
	return &inbox{
		cap:   capBytes,
		ready: make(chan struct{}, 1),
	}
}

// push appends a chunk, trimming the oldest entries when the soft cap is
// exceeded. Safe for concurrent use with pop.
func (b *inbox) push(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	c := make([]byte, len(chunk))
	copy(c, chunk)

	b.mu.Lock()
	b.queue = append(b.queue, c)
	b.bytes += len(c)

	trimmed := 0
	for b.bytes > b.cap && len(b.queue) > 1 {
		trimmed += len(b.queue[0])
		b.bytes -= len(b.queue[0])
		b.queue[0] = nil
		b.queue = b.queue[1:]
	}
	b.mu.Unlock()

	if trimmed > 0 {
		slog.Warn("session: inbound buffer over cap, oldest audio dropped",
			"dropped_bytes", trimmed, "cap_bytes", b.cap)
	}
	b.signal()
}

// pop removes and returns the oldest chunk, or nil when the inbox is empty.
func (b *inbox) pop() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		return nil
	}
	c := b.queue[0]
	b.queue[0] = nil
	b.queue = b.queue[1:]
	b.bytes -= len(c)
	if len(b.queue) > 0 {
		b.signal()
	}
	return c
}

// wait returns a channel that receives a token when the inbox has data.
func (b *inbox) wait() <-chan struct{} { return b.ready }

// drop discards everything currently buffered.
func (b *inbox) drop() {
	b.mu.Lock()
	b.queue = nil
	b.bytes = 0
	b.mu.Unlock()
}

func (b *inbox) signal() {
	select {
	case b.ready <- struct{}{}:
	default:
	}
}
