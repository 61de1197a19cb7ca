package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/coccobas/agent-memory/internal/apperr"
)

// RelationRepository stores the directed, typed edges between entries.
// Per spec.md §9's design note, edges live in their own table rather than
// being embedded in entity rows, and carry their own first-class scope
// rather than inheriting one from an endpoint (the §9 Open Question
// decision recorded in DESIGN.md).
type RelationRepository struct {
	store *Store
}

func NewRelationRepository(s *Store) *RelationRepository { return &RelationRepository{store: s} }

// Link creates a directed edge (fromKind, fromID) -> (toKind, toID).
func (r *RelationRepository) Link(ctx context.Context, scope Scope, fromKind EntryKind, fromID string, toKind EntryKind, toID, relationType string) (*EntryRelation, error) {
	rel := &EntryRelation{
		ID:           uuid.NewString(),
		FromKind:     fromKind,
		FromID:       fromID,
		ToKind:       toKind,
		ToID:         toID,
		RelationType: relationType,
		ScopeType:    scope.Type,
		ScopeID:      scope.ID,
		CreatedAt:    time.Now().UnixMilli(),
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	_, err := r.store.db.ExecContext(ctx, `
		INSERT INTO entry_relations (id, from_kind, from_id, to_kind, to_id, relation_type, scope_type, scope_id, created_at)
		VALUES (?,?,?,?,?,?,?,?,?)
	`, rel.ID, rel.FromKind, rel.FromID, rel.ToKind, rel.ToID, rel.RelationType, rel.ScopeType, nullable(rel.ScopeID), rel.CreatedAt)
	if err != nil {
		return nil, apperr.New(apperr.CodeDatabaseError, "insert relation").Wrap(err)
	}
	return rel, nil
}

// Unlink removes a specific edge by id.
func (r *RelationRepository) Unlink(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	_, err := r.store.db.ExecContext(ctx, `DELETE FROM entry_relations WHERE id = ?`, id)
	if err != nil {
		return apperr.New(apperr.CodeDatabaseError, "delete relation").Wrap(err)
	}
	return nil
}

// NodeRef is a (kind, id) pair used by the BFS frontier and relational
// candidate producer.
type NodeRef struct {
	Kind EntryKind
	ID   string
}

// Expand walks outward from (kind, id) up to depth hops (both directions),
// returning every reachable (kind, id) pair with a visited set to guard
// against cycles, per spec.md §9's "depth-bounded with a visited set" note.
func (r *RelationRepository) Expand(ctx context.Context, kind EntryKind, id string, depth int) ([]NodeRef, error) {
	if depth < 0 {
		depth = 0
	}
	visited := map[NodeRef]bool{{Kind: kind, ID: id}: true}
	frontier := []NodeRef{{Kind: kind, ID: id}}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	for hop := 0; hop < depth; hop++ {
		var next []NodeRef
		for _, n := range frontier {
			neighbors, err := r.neighborsLocked(ctx, n)
			if err != nil {
				return nil, err
			}
			for _, nb := range neighbors {
				if !visited[nb] {
					visited[nb] = true
					next = append(next, nb)
				}
			}
		}
		if len(next) == 0 {
			break
		}
		frontier = next
	}

	out := make([]NodeRef, 0, len(visited))
	for n := range visited {
		if n.Kind == kind && n.ID == id {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

func (r *RelationRepository) neighborsLocked(ctx context.Context, n NodeRef) ([]NodeRef, error) {
	rows, err := r.store.db.QueryContext(ctx, `
		SELECT to_kind, to_id FROM entry_relations WHERE from_kind = ? AND from_id = ?
		UNION
		SELECT from_kind, from_id FROM entry_relations WHERE to_kind = ? AND to_id = ?
	`, n.Kind, n.ID, n.Kind, n.ID)
	if err != nil {
		return nil, apperr.New(apperr.CodeDatabaseError, "walk relation graph").Wrap(err)
	}
	defer rows.Close()
	var out []NodeRef
	for rows.Next() {
		var nb NodeRef
		if err := rows.Scan(&nb.Kind, &nb.ID); err != nil {
			return nil, apperr.New(apperr.CodeDatabaseError, "scan neighbor").Wrap(err)
		}
		out = append(out, nb)
	}
	return out, nil
}

// ForTag returns every (kind, id) pair tagged with tagName, used by the
// query pipeline's relational candidate producer.
func ForTag(ctx context.Context, s *Store, tagName string) ([]NodeRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `
		SELECT et.entry_kind, et.entry_id FROM entry_tags et
		JOIN tags t ON t.id = et.tag_id WHERE t.name = ?
	`, tagName)
	if err != nil {
		return nil, apperr.New(apperr.CodeDatabaseError, "lookup tag entries").Wrap(err)
	}
	defer rows.Close()
	var out []NodeRef
	for rows.Next() {
		var nb NodeRef
		if err := rows.Scan(&nb.Kind, &nb.ID); err != nil {
			return nil, apperr.New(apperr.CodeDatabaseError, "scan tagged entry").Wrap(err)
		}
		out = append(out, nb)
	}
	return out, nil
}
