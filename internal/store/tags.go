package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/coccobas/agent-memory/internal/apperr"
)

// TagRepository manages the global tag dictionary and its many-to-many
// link to entries, mirroring the teacher's Entity/Edge CRUD shape
// (internal/store/sqlite_store.go's UpsertEntity family) generalized to
// tags.
type TagRepository struct {
	store *Store
}

func NewTagRepository(s *Store) *TagRepository { return &TagRepository{store: s} }

// EnsureTag returns the tag row for name, creating it if absent.
func (r *TagRepository) EnsureTag(ctx context.Context, name string) (*Tag, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var t Tag
	err := r.store.db.QueryRowContext(ctx, `SELECT id, name FROM tags WHERE name = ?`, name).Scan(&t.ID, &t.Name)
	if err == nil {
		return &t, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.CodeDatabaseError, "lookup tag").Wrap(err)
	}
	t = Tag{ID: uuid.NewString(), Name: name}
	if _, err := r.store.db.ExecContext(ctx, `INSERT INTO tags (id, name) VALUES (?, ?)`, t.ID, t.Name); err != nil {
		return nil, apperr.New(apperr.CodeDatabaseError, "insert tag").Wrap(err)
	}
	return &t, nil
}

// Attach links tag name to (kind, entryID), creating the tag if needed.
func (r *TagRepository) Attach(ctx context.Context, kind EntryKind, entryID, name string) error {
	t, err := r.EnsureTag(ctx, name)
	if err != nil {
		return err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	_, err = r.store.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO entry_tags (entry_kind, entry_id, tag_id) VALUES (?, ?, ?)
	`, kind, entryID, t.ID)
	if err != nil {
		return apperr.New(apperr.CodeDatabaseError, "attach tag").Wrap(err)
	}
	return nil
}

// Detach removes the link between tag name and (kind, entryID).
func (r *TagRepository) Detach(ctx context.Context, kind EntryKind, entryID, name string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	_, err := r.store.db.ExecContext(ctx, `
		DELETE FROM entry_tags WHERE entry_kind = ? AND entry_id = ?
		AND tag_id = (SELECT id FROM tags WHERE name = ?)
	`, kind, entryID, name)
	if err != nil {
		return apperr.New(apperr.CodeDatabaseError, "detach tag").Wrap(err)
	}
	return nil
}

// ForEntry lists every tag name attached to (kind, entryID).
func (r *TagRepository) ForEntry(ctx context.Context, kind EntryKind, entryID string) ([]string, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	rows, err := r.store.db.QueryContext(ctx, `
		SELECT t.name FROM tags t
		JOIN entry_tags et ON et.tag_id = t.id
		WHERE et.entry_kind = ? AND et.entry_id = ?
		ORDER BY t.name
	`, kind, entryID)
	if err != nil {
		return nil, apperr.New(apperr.CodeDatabaseError, "list entry tags").Wrap(err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, apperr.New(apperr.CodeDatabaseError, "scan tag").Wrap(err)
		}
		out = append(out, name)
	}
	return out, nil
}

// PruneOrphans deletes tags with no remaining entry_tags rows; used by the
// maintenance runner's periodic cleanup (spec.md §3 ownership rules:
// "orphaned tags are pruned by maintenance").
func (r *TagRepository) PruneOrphans(ctx context.Context) (int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	res, err := r.store.db.ExecContext(ctx, `
		DELETE FROM tags WHERE id NOT IN (SELECT DISTINCT tag_id FROM entry_tags)
	`)
	if err != nil {
		return 0, apperr.New(apperr.CodeDatabaseError, "prune orphan tags").Wrap(err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
