// Package embeddings defines the Provider interface for text-embedding
// backends.
//
// The recall layer embeds archived user turns and, later, the incoming
// utterance, then ranks past conversations by cosine similarity so the
// assistant can surface "you mentioned this last week" context. Any service
// that maps text to fixed-length float32 vectors can back it.
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Provider is the abstraction over a text-embedding backend.
//
// Every vector a single Provider returns has the same length, reported by
// Dimensions. Vectors from different providers (or different models behind
// the same provider) live in different spaces and must not be compared.
type Provider interface {
	// Embed returns the vector for one text, of length Dimensions. The
	// text is passed to the backend verbatim; any model-specific prefixing
	// is the caller's job.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds texts in one backend call; the i-th vector
	// corresponds to texts[i]. On error no partial results are returned.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions is the fixed vector length for this provider's model.
	Dimensions() int

	// ModelID names the underlying embedding model, for logs and for
	// refusing to mix vector spaces across restarts.
	ModelID() string
}
