package recall_test

import (
	"context"
	"testing"

	"github.com/MrWong99/auricle/internal/recall"
	"github.com/MrWong99/auricle/internal/store"
	"github.com/MrWong99/auricle/pkg/provider/embeddings/mock"
)

func testStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), store.MemoryPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func recordTurn(t *testing.T, st *store.Store, content string) int64 {
	t.Helper()
	id, err := st.RecordConversation(context.Background(), store.Conversation{
		Role:    store.RoleUser,
		Content: content,
	})
	if err != nil {
		t.Fatalf("record conversation: %v", err)
	}
	return id
}

// seedEmbedding stores a snippet with a hand-picked vector, bypassing the
// provider so each snippet can have a distinct embedding.
func seedEmbedding(t *testing.T, st *store.Store, text string, vec []float32) {
	t.Helper()
	id := recordTurn(t, st, text)
	_, err := st.StoreEmbedding(context.Background(), store.Embedding{
		ConversationID: id,
		TextContent:    text,
		Vector:         recall.EncodeVector(vec),
	})
	if err != nil {
		t.Fatalf("store embedding: %v", err)
	}
}

func TestVectorRoundTrip(t *testing.T) {
	t.Parallel()
	in := []float32{0.25, -1, 3.5, 0}
	out, err := recall.DecodeVector(recall.EncodeVector(in))
	if err != nil {
		t.Fatalf("DecodeVector: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("got %d floats, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("element %d: got %v, want %v", i, out[i], in[i])
		}
	}

	if _, err := recall.DecodeVector([]byte{1, 2, 3}); err == nil {
		t.Fatal("truncated blob: want error")
	}
}

func TestIndexTurnStoresVector(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	p := &mock.Provider{EmbedResult: []float32{1, 0, 0}, ModelIDValue: "test-embed"}
	r := recall.New(st, p)

	id := recordTurn(t, st, "I spent 40 euros on groceries")
	if err := r.IndexTurn(context.Background(), id, "I spent 40 euros on groceries"); err != nil {
		t.Fatalf("IndexTurn: %v", err)
	}

	embs, err := st.RetrieveEmbeddings(context.Background(), id)
	if err != nil {
		t.Fatalf("RetrieveEmbeddings: %v", err)
	}
	if len(embs) != 1 {
		t.Fatalf("got %d embeddings, want 1", len(embs))
	}
	if embs[0].Metadata != "test-embed" {
		t.Fatalf("metadata = %q, want model id", embs[0].Metadata)
	}
	vec, err := recall.DecodeVector(embs[0].Vector)
	if err != nil || len(vec) != 3 {
		t.Fatalf("stored vector decode: %v (len %d)", err, len(vec))
	}
}

func TestIndexTurnSkipsEmptyText(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	p := &mock.Provider{}
	r := recall.New(st, p)

	if err := r.IndexTurn(context.Background(), 1, ""); err != nil {
		t.Fatalf("IndexTurn: %v", err)
	}
	if len(p.EmbedCalls) != 0 {
		t.Fatal("empty text must not reach the provider")
	}
}

func TestRelevantRanksBySimilarity(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	seedEmbedding(t, st, "exact match", []float32{1, 0, 0})
	seedEmbedding(t, st, "close match", []float32{0.9, 0.1, 0})
	seedEmbedding(t, st, "orthogonal", []float32{0, 0, 1})

	p := &mock.Provider{EmbedResult: []float32{1, 0, 0}}
	r := recall.New(st, p)

	got, err := r.Relevant(context.Background(), "what did I buy", 5)
	if err != nil {
		t.Fatalf("Relevant: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d snippets %v, want 2 (orthogonal filtered)", len(got), got)
	}
	if got[0] != "exact match" || got[1] != "close match" {
		t.Fatalf("ranking wrong: %v", got)
	}
}

func TestRelevantHonorsK(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	seedEmbedding(t, st, "a", []float32{1, 0, 0})
	seedEmbedding(t, st, "b", []float32{0.9, 0.1, 0})
	seedEmbedding(t, st, "c", []float32{0.8, 0.2, 0})

	p := &mock.Provider{EmbedResult: []float32{1, 0, 0}}
	r := recall.New(st, p)

	got, err := r.Relevant(context.Background(), "query", 1)
	if err != nil {
		t.Fatalf("Relevant: %v", err)
	}
	if len(got) != 1 || got[0] != "a" {
		t.Fatalf("got %v, want [a]", got)
	}
}

func TestRelevantSkipsMismatchedDimensions(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	seedEmbedding(t, st, "wrong dims", []float32{1, 0})
	seedEmbedding(t, st, "right dims", []float32{1, 0, 0})

	p := &mock.Provider{EmbedResult: []float32{1, 0, 0}}
	r := recall.New(st, p)

	got, err := r.Relevant(context.Background(), "query", 5)
	if err != nil {
		t.Fatalf("Relevant: %v", err)
	}
	if len(got) != 1 || got[0] != "right dims" {
		t.Fatalf("got %v, want [right dims]", got)
	}
}

func TestRelevantEmptyInputs(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	p := &mock.Provider{EmbedResult: []float32{1, 0, 0}}
	r := recall.New(st, p)

	if got, err := r.Relevant(context.Background(), "", 5); err != nil || got != nil {
		t.Fatalf("empty text: got %v, %v", got, err)
	}
	if got, err := r.Relevant(context.Background(), "query", 0); err != nil || got != nil {
		t.Fatalf("k=0: got %v, %v", got, err)
	}
}
