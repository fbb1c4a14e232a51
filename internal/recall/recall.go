// Package recall gives conversations long-term memory. Every archived user
// turn is embedded and stored; later turns retrieve the most similar past
// snippets by cosine similarity so the assistant can refer back to things the
// user said days ago.
//
// The corpus lives in the embeddings table and is scanned in full on each
// query. At voice-assistant scale (a few thousand turns) a linear scan is
// well under a millisecond and avoids an index dependency.
package recall

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/MrWong99/auricle/internal/chat"
	"github.com/MrWong99/auricle/internal/hotctx"
	"github.com/MrWong99/auricle/internal/store"
	"github.com/MrWong99/auricle/pkg/provider/embeddings"
)

// minScore filters out matches with no meaningful similarity; below this the
// snippet is more likely to confuse the model than help it.
const minScore = 0.3

var (
	_ chat.Indexer    = (*Recaller)(nil)
	_ hotctx.Recaller = (*Recaller)(nil)
)

// Recaller indexes turns and retrieves relevant past snippets.
type Recaller struct {
	store    *store.Store
	provider embeddings.Provider
}

// New constructs a Recaller over the shared store and an embedding backend.
func New(st *store.Store, p embeddings.Provider) *Recaller {
	return &Recaller{store: st, provider: p}
}

// IndexTurn embeds the user text of an archived turn and stores the vector
// keyed to its conversation row.
func (r *Recaller) IndexTurn(ctx context.Context, conversationID int64, text string) error {
	if text == "" {
		return nil
	}
	vec, err := r.provider.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("recall: embed turn: %w", err)
	}
	_, err = r.store.StoreEmbedding(ctx, store.Embedding{
		ConversationID: conversationID,
		TextContent:    text,
		Vector:         EncodeVector(vec),
		Metadata:       r.provider.ModelID(),
	})
	if err != nil {
		return fmt.Errorf("recall: store embedding: %w", err)
	}
	return nil
}

// Relevant returns up to k past snippets ranked by cosine similarity to text,
// most similar first. Snippets scoring below the relevance floor are dropped,
// so the result may be shorter than k or empty.
func (r *Recaller) Relevant(ctx context.Context, text string, k int) ([]string, error) {
	if text == "" || k <= 0 {
		return nil, nil
	}
	query, err := r.provider.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("recall: embed query: %w", err)
	}
	corpus, err := r.store.AllEmbeddings(ctx)
	if err != nil {
		return nil, fmt.Errorf("recall: load corpus: %w", err)
	}

	type scored struct {
		text  string
		score float64
	}
	matches := make([]scored, 0, len(corpus))
	for _, e := range corpus {
		vec, err := DecodeVector(e.Vector)
		if err != nil || len(vec) != len(query) {
			slog.Warn("recall: skipping malformed embedding", "id", e.ID, "error", err)
			continue
		}
		if score := cosine(query, vec); score >= minScore {
			matches = append(matches, scored{text: e.TextContent, score: score})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].score > matches[j].score })
	if len(matches) > k {
		matches = matches[:k]
	}
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.text
	}
	return out, nil
}

// EncodeVector serialises an embedding as little-endian float32s.
func EncodeVector(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// DecodeVector parses a blob written by EncodeVector.
func DecodeVector(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("recall: vector blob length %d not a multiple of 4", len(blob))
	}
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec, nil
}

// cosine computes cosine similarity; zero-magnitude vectors score 0.
func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
