// Package vector implements the embedding and vector-index substrate:
// pluggable embedding providers, compression adapters, and the vector
// service contract used by the query pipeline's candidate producer and
// the capture pipeline's auto-embed step.
package vector

import "context"

// Embedder is the pluggable embedding-provider contract (spec.md §4.6).
// The core never assumes a specific dimensionality beyond what a
// compression adapter declares.
type Embedder interface {
	IsAvailable(ctx context.Context) bool
	Embed(ctx context.Context, text string) (Embedding, error)
	EmbedBatch(ctx context.Context, texts []string) ([]Embedding, error)
}

// Embedding is one embedding result.
type Embedding struct {
	Vector []float32
	Model  string
	Tokens int
}

// NullEmbedder is always unavailable; used when no provider is configured
// so the query pipeline's vector stage degrades gracefully instead of the
// caller needing a nil check everywhere.
type NullEmbedder struct{}

func (NullEmbedder) IsAvailable(context.Context) bool { return false }

func (NullEmbedder) Embed(context.Context, string) (Embedding, error) {
	return Embedding{}, errUnavailable
}

func (NullEmbedder) EmbedBatch(context.Context, []string) ([]Embedding, error) {
	return nil, errUnavailable
}
