package query

import (
	"context"

	"github.com/coccobas/agent-memory/internal/store"
)

// hydrate batch-loads the current entries for the fused hits, one
// round-trip per kind, then each found entry's tags with one lookup per
// entry, and assembles ResultItems preserving fused order, per spec.md
// §4.2.5.
func (p *Pipeline) hydrate(ctx context.Context, req Request, fused []Fused) ([]ResultItem, error) {
	byKind := map[store.EntryKind][]string{}
	for _, f := range fused {
		ids, ok := byKind[f.Kind]
		if !ok {
			ids = getIDSlice()
		}
		byKind[f.Kind] = append(ids, f.ID)
	}
	defer func() {
		for _, ids := range byKind {
			putIDSlice(ids)
		}
	}()

	entries := map[string]*store.Entry{}
	tags := map[string][]string{}
	tagRepo := store.NewTagRepository(p.Store)

	for kind, ids := range byKind {
		repo := store.NewEntryRepository(p.Store, kind)
		found, err := repo.GetByIDs(ctx, ids)
		if err != nil {
			return nil, err
		}
		for id, e := range found {
			entries[id] = e
			t, err := tagRepo.ForEntry(ctx, kind, id)
			if err == nil {
				tags[id] = t
			}
		}
	}

	out := make([]ResultItem, 0, len(fused))
	for _, f := range fused {
		e, ok := entries[f.ID]
		if !ok {
			continue // entry was deactivated/removed between candidate generation and hydrate
		}
		out = append(out, ResultItem{
			Kind:        f.Kind,
			Entry:       e,
			Tags:        tags[f.ID],
			Score:       f.Score,
			LexicalRank: f.LexicalRank,
		})
	}
	return out, nil
}
