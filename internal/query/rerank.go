package query

import "context"

// Reranker is an optional cross-encoder-style scoring hook applied after
// fusion. Pipeline.Rerank may be nil; Run treats a nil Reranker (or
// RerankDisabled) as a deterministic pass-through that preserves fused
// order, per spec.md §4.2.4.
type Reranker interface {
	Rerank(ctx context.Context, queryText string, cands []Fused) []Fused
}

func (p *Pipeline) rerank(ctx context.Context, req Request, fused []Fused) []Fused {
	if req.RerankDisabled || p.Rerank == nil {
		return fused
	}
	return p.Rerank.Rerank(ctx, req.Text, fused)
}
