// Package query implements the hybrid search pipeline: parse, rewrite,
// candidate generation (lexical ∪ vector ∪ relational), reciprocal-rank
// fusion, rerank, hydrate, and format. Each stage is a separate function
// or method taking the request and the previous stage's output (there is
// no shared context object), so stages are individually testable, per
// spec.md §4.2.
package query

import (
	"context"
	"log/slog"

	"github.com/coccobas/agent-memory/internal/store"
	"github.com/coccobas/agent-memory/internal/vector"
)

// Intent classifies the inferred purpose of a query (spec.md §4.2.1 and
// GLOSSARY).
type Intent string

const (
	IntentLookup    Intent = "lookup"
	IntentHowTo     Intent = "how_to"
	IntentDebug     Intent = "debug"
	IntentExplore   Intent = "explore"
	IntentCompare   Intent = "compare"
	IntentConfigure Intent = "configure"
)

// Flags are the per-request feature toggles from spec.md §4.2.1.
type Flags struct {
	EnableExpansion     bool
	EnableHyDE          bool
	EnableDecomposition bool
	DisableRewrite      bool
}

// Request is the caller-supplied query.
type Request struct {
	Text            string
	Scope           store.Scope
	Inherit         bool
	Kinds           []store.EntryKind
	Limit           int
	Flags           Flags
	RerankDisabled  bool
	TagOrEntryID    string
	RelationalDepth int
}

// Result is what the query pipeline returns to the boundary.
type Result struct {
	Items     []ResultItem
	Degraded  bool
	Strategy  string
	Intent    Intent
	FromCache bool
}

// ResultItem is one hydrated, fused, formatted hit.
type ResultItem struct {
	Kind        store.EntryKind
	Entry       *store.Entry
	Tags        []string
	Score       float64
	LexicalRank int
}

// Pipeline wires together the stages and owns the shared dependencies:
// the store, an optional embedder/vector service pair, and the result
// cache.
type Pipeline struct {
	Store    *store.Store
	Embedder vector.Embedder
	Vectors  *vector.Service
	Cache    *Cache
	Logger   *slog.Logger
	Rerank   Reranker // optional; nil preserves fused order (deterministic)
}

// New builds a Pipeline. logger must not be nil; pass slog.Default() if
// the caller has no dedicated logger.
func New(s *store.Store, embedder vector.Embedder, vecSvc *vector.Service, cache *Cache, logger *slog.Logger) *Pipeline {
	return &Pipeline{Store: s, Embedder: embedder, Vectors: vecSvc, Cache: cache, Logger: logger}
}

// Run executes the full stage sequence for req.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	fp := Fingerprint(req)
	if p.Cache != nil {
		if cached, ok := p.Cache.Get(fp); ok {
			r := cached
			r.FromCache = true
			return &r, nil
		}
	}

	rw := Rewrite(req)

	chain := []store.Scope{req.Scope}
	if req.Inherit {
		chain = store.GetScopeChain(req.Scope)
	}

	cands, degraded, err := p.generateCandidates(ctx, req, rw, chain)
	if err != nil {
		return nil, err
	}

	fused := Fuse(cands)
	ranked := p.rerank(ctx, req, fused)

	items, err := p.hydrate(ctx, req, ranked)
	if err != nil {
		return nil, err
	}

	limit := req.Limit
	if limit <= 0 || limit > len(items) {
		limit = len(items)
	}
	result := &Result{Items: items[:limit], Degraded: degraded, Strategy: rw.Strategy, Intent: rw.Intent}

	if p.Cache != nil {
		p.Cache.Set(fp, *result)
	}
	return result, nil
}
