package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/orsinium-labs/stopwords"

	"github.com/coccobas/agent-memory/internal/apperr"
	"github.com/coccobas/agent-memory/internal/store"
)

// enStopwords filters common English function words out of lexical
// queries before they reach FTS5 — GoKitt's scanner/discovery registry
// dependency, reused here for the same purpose (reducing MATCH noise)
// instead of entity-term filtering.
var enStopwords = stopwords.MustGet("en")

// candidatesPerProducerFactor is the k in "limit * k" from spec.md §4.2.2.
const candidatesPerProducerFactor = 4

// vectorWeightThreshold is the minimum per-query weight required before a
// SearchQuery is embedded and searched (spec.md §4.2.2).
const vectorWeightThreshold = 0.3

// Candidate is one (id, kind) hit from a single producer, before fusion.
type Candidate struct {
	ID       string
	Kind     store.EntryKind
	Producer string // lexical | vector | relational
	Rank     int     // 1-based rank within its producer; 0 when only a score is meaningful
	Score    float64 // bm25 rank (lower better) for lexical; cosine similarity for vector
	Weight   float64 // originating SearchQuery.Weight (query weight), per spec.md §4.2.3
}

func defaultKinds(req Request) []store.EntryKind {
	if len(req.Kinds) > 0 {
		return req.Kinds
	}
	return []store.EntryKind{store.KindTool, store.KindGuideline, store.KindKnowledge, store.KindExperience}
}

// generateCandidates runs the three producers and returns their raw,
// per-producer ranked lists plus a degraded flag set when a stage fails
// in a way the pipeline tolerates (embedding unavailable, FTS error).
func (p *Pipeline) generateCandidates(ctx context.Context, req Request, rw RewriteResult, chain []store.Scope) ([]Candidate, bool, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = 20
	}
	bound := limit * candidatesPerProducerFactor
	kinds := defaultKinds(req)

	var all []Candidate
	degraded := false

	lex, err := p.lexicalCandidates(ctx, rw.Queries, kinds, chain, bound)
	if err != nil {
		degraded = true
		p.logf("lexical candidate generation failed: %v", err)
	} else {
		all = append(all, lex...)
	}

	if p.Embedder != nil && p.Embedder.IsAvailable(ctx) && p.Vectors != nil {
		vec, err := p.vectorCandidates(ctx, rw.Queries, kinds, chain, bound)
		if err != nil {
			degraded = true
			p.logf("vector candidate generation failed: %v", err)
		} else {
			all = append(all, vec...)
		}
	} else {
		degraded = true
	}

	if req.TagOrEntryID != "" {
		rel, err := p.relationalCandidates(ctx, req, kinds, chain, bound)
		if err != nil {
			p.logf("relational candidate generation failed: %v", err)
		} else {
			all = append(all, rel...)
		}
	}

	return all, degraded, nil
}

func (p *Pipeline) logf(format string, args ...any) {
	if p.Logger != nil {
		p.Logger.Warn(fmt.Sprintf(format, args...))
	}
}

func scopeWhereClause(chain []store.Scope) (string, []any) {
	parts := make([]string, 0, len(chain))
	args := make([]any, 0, len(chain)*2)
	for _, sc := range chain {
		parts = append(parts, "(scope_type = ? AND scope_id IS ?)")
		if sc.ID == "" {
			args = append(args, sc.Type, nil)
		} else {
			args = append(args, sc.Type, sc.ID)
		}
	}
	return "(" + strings.Join(parts, " OR ") + ")", args
}

func kindsPlaceholders(kinds []store.EntryKind) (string, []any) {
	ph := make([]string, len(kinds))
	args := make([]any, len(kinds))
	for i, k := range kinds {
		ph[i] = "?"
		args[i] = k
	}
	return strings.Join(ph, ","), args
}

// lexicalCandidates queries FTS5 with bm25() ranking per query variant.
func (p *Pipeline) lexicalCandidates(ctx context.Context, queries []SearchQuery, kinds []store.EntryKind, chain []store.Scope, bound int) ([]Candidate, error) {
	if len(queries) == 0 {
		return nil, nil
	}
	kindPh, kindArgs := kindsPlaceholders(kinds)
	scopeSQL, scopeArgs := scopeWhereClause(chain)

	var out []Candidate
	for _, q := range queries {
		text := strings.TrimSpace(q.Text)
		if text == "" {
			continue
		}
		sqlText := fmt.Sprintf(`
			SELECT e.id, e.kind, bm25(entries_fts) AS rank
			FROM entries_fts
			JOIN entries e ON e.rowid = entries_fts.rowid
			WHERE entries_fts MATCH ? AND e.is_current = 1 AND e.is_active = 1
			  AND e.kind IN (%s) AND %s
			ORDER BY rank LIMIT ?
		`, kindPh, scopeSQL)
		args := append([]any{ftsQuery(text)}, kindArgs...)
		args = append(args, scopeArgs...)
		args = append(args, bound)

		rows, err := p.Store.DB().QueryContext(ctx, sqlText, args...)
		if err != nil {
			return nil, apperr.New(apperr.CodeDatabaseError, "lexical search").Wrap(err)
		}
		rank := 0
		for rows.Next() {
			rank++
			var id string
			var kind store.EntryKind
			var bm25 float64
			if err := rows.Scan(&id, &kind, &bm25); err != nil {
				rows.Close()
				return nil, apperr.New(apperr.CodeDatabaseError, "scan lexical hit").Wrap(err)
			}
			out = append(out, Candidate{ID: id, Kind: kind, Producer: "lexical", Rank: rank, Score: bm25, Weight: q.Weight})
		}
		rows.Close()
	}
	return out, nil
}

// ftsQuery escapes a free-text query into an FTS5 MATCH expression: each
// token becomes a quoted phrase ORed together so punctuation in the
// source text can't be interpreted as FTS5 query syntax.
func ftsQuery(text string) string {
	fields := strings.Fields(text)
	quoted := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(fields) > 1 && enStopwords.Contains(strings.ToLower(f)) {
			continue
		}
		f = strings.ReplaceAll(f, `"`, `""`)
		quoted = append(quoted, `"`+f+`"`)
	}
	if len(quoted) == 0 {
		// every term was a stopword (or the query was a single stopword):
		// fall back to the original terms rather than matching nothing.
		for _, f := range fields {
			f = strings.ReplaceAll(f, `"`, `""`)
			quoted = append(quoted, `"`+f+`"`)
		}
	}
	return strings.Join(quoted, " OR ")
}

// vectorCandidates embeds every query whose weight clears the threshold
// and searches the per-kind ANN index, post-filtered to the scope chain.
func (p *Pipeline) vectorCandidates(ctx context.Context, queries []SearchQuery, kinds []store.EntryKind, chain []store.Scope, bound int) ([]Candidate, error) {
	var out []Candidate
	for _, q := range queries {
		if q.Weight < vectorWeightThreshold {
			continue
		}
		emb, err := p.Embedder.Embed(ctx, q.Text)
		if err != nil {
			return nil, err
		}
		for _, kind := range kinds {
			allowed, err := scopeFilterIDs(ctx, p.Store, kind, chain)
			if err != nil {
				return nil, err
			}
			hits, err := p.Vectors.Search(ctx, kind, emb.Vector, bound, allowed)
			if err != nil {
				return nil, err
			}
			for i, h := range hits {
				out = append(out, Candidate{ID: h.ID, Kind: kind, Producer: "vector", Rank: i + 1, Score: h.Similarity, Weight: q.Weight})
			}
		}
	}
	return out, nil
}

// scopeFilterIDs returns the set of currently-active ids of kind visible
// within chain, used by the vector and relational producers' post-filters.
func scopeFilterIDs(ctx context.Context, s *store.Store, kind store.EntryKind, chain []store.Scope) (map[string]bool, error) {
	scopeSQL, scopeArgs := scopeWhereClause(chain)
	q := fmt.Sprintf(`SELECT id FROM entries WHERE kind = ? AND is_current = 1 AND is_active = 1 AND %s`, scopeSQL)
	args := append([]any{kind}, scopeArgs...)
	rows, err := s.DB().QueryContext(ctx, q, args...)
	if err != nil {
		return nil, apperr.New(apperr.CodeDatabaseError, "compute scope filter").Wrap(err)
	}
	defer rows.Close()
	out := map[string]bool{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.New(apperr.CodeDatabaseError, "scan scope filter id").Wrap(err)
		}
		out[id] = true
	}
	return out, nil
}

// relationalCandidates resolves req.TagOrEntryID as either a tag name or
// an entry id and returns linked entries within depth, per spec.md
// §4.2.2's relational producer.
func (p *Pipeline) relationalCandidates(ctx context.Context, req Request, kinds []store.EntryKind, chain []store.Scope, bound int) ([]Candidate, error) {
	depth := req.RelationalDepth
	if depth <= 0 {
		depth = 1
	}
	allowedKind := map[store.EntryKind]bool{}
	for _, k := range kinds {
		allowedKind[k] = true
	}

	var refs []store.NodeRef
	byTag, err := store.ForTag(ctx, p.Store, req.TagOrEntryID)
	if err == nil {
		refs = append(refs, byTag...)
	}

	relRepo := store.NewRelationRepository(p.Store)
	for _, k := range kinds {
		expanded, err := relRepo.Expand(ctx, k, req.TagOrEntryID, depth)
		if err != nil {
			continue
		}
		refs = append(refs, expanded...)
	}

	scopeIDs := map[store.EntryKind]map[string]bool{}
	var out []Candidate
	rank := 0
	for _, ref := range refs {
		if !allowedKind[ref.Kind] {
			continue
		}
		allowed, ok := scopeIDs[ref.Kind]
		if !ok {
			allowed, err = scopeFilterIDs(ctx, p.Store, ref.Kind, chain)
			if err != nil {
				continue
			}
			scopeIDs[ref.Kind] = allowed
		}
		if !allowed[ref.ID] {
			continue
		}
		rank++
		// The relational producer isn't driven by a rewritten SearchQuery
		// variant, so it carries the full (unweighted) query weight.
		out = append(out, Candidate{ID: ref.ID, Kind: ref.Kind, Producer: "relational", Rank: rank, Weight: 1.0})
		if rank >= bound {
			break
		}
	}
	return out, nil
}
