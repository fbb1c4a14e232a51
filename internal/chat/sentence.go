package chat

import "strings"

// sentenceScanner splits streamed LLM text into complete sentences as deltas
// arrive. A sentence ends at '.', '!', or '?' immediately followed by a
// whitespace character, which keeps decimals ("$3.50") and terminator runs
// ("Wait...", "Really?!") intact. Text still pending when the stream ends is
// recovered with flush.
//
// The scanner resumes boundary detection where the previous feed stopped, so
// each byte of the stream is examined once regardless of delta sizing.
type sentenceScanner struct {
	pending []byte
	scanned int // pending[:scanned] is known to hold no boundary
}

// feed appends delta to the pending text and returns any sentences it
// completed, in order. The returned strings keep their terminators; the
// whitespace between sentences is consumed.
func (s *sentenceScanner) feed(delta string) []string {
	if delta == "" {
		return nil
	}
	s.pending = append(s.pending, delta...)

	var out []string
	for {
		idx := s.boundary()
		if idx < 0 {
			return out
		}
		out = append(out, string(s.pending[:idx+1]))
		rest := strings.TrimLeft(string(s.pending[idx+1:]), " \t\n\r")
		s.pending = append(s.pending[:0], rest...)
		s.scanned = 0
	}
}

// flush returns whatever partial sentence remains and resets the scanner.
// Returns "" when nothing meaningful is pending.
func (s *sentenceScanner) flush() string {
	rest := strings.TrimSpace(string(s.pending))
	s.reset()
	return rest
}

// reset discards all pending text.
func (s *sentenceScanner) reset() {
	s.pending = s.pending[:0]
	s.scanned = 0
}

// boundary returns the index of the first terminator immediately followed by
// whitespace, or -1 when pending holds no complete sentence yet. The final
// pending byte is never a boundary: whether it ends a sentence depends on
// text that has not arrived.
func (s *sentenceScanner) boundary() int {
	for i := s.scanned; i < len(s.pending)-1; i++ {
		switch s.pending[i] {
		case '.', '!', '?':
			switch s.pending[i+1] {
			case ' ', '\t', '\n', '\r':
				return i
			}
		}
	}
	if n := len(s.pending) - 1; n > 0 {
		s.scanned = n
	}
	return -1
}
