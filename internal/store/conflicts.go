package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/coccobas/agent-memory/internal/apperr"
)

// ConflictRepository persists deferred-resolution records. The resolution
// state enum is the supplemented feature documented in SPEC_FULL.md,
// grounded on steveyegge-beads' internal/jira/conflict.go shape.
type ConflictRepository struct {
	store *Store
}

func NewConflictRepository(s *Store) *ConflictRepository { return &ConflictRepository{store: s} }

func (r *ConflictRepository) Record(ctx context.Context, kind EntryKind, involved []string, reason string) (*Conflict, error) {
	c := &Conflict{ID: uuid.NewString(), EntryKind: kind, InvolvedIDs: involved, Reason: reason, State: ConflictDetected, CreatedAt: time.Now().UnixMilli()}
	ids, _ := json.Marshal(involved)
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	_, err := r.store.db.ExecContext(ctx, `
		INSERT INTO conflicts (id, entry_kind, involved_ids, reason, state, resolved_by, resolved_at, created_at)
		VALUES (?,?,?,?,?,NULL,NULL,?)
	`, c.ID, c.EntryKind, string(ids), c.Reason, c.State, c.CreatedAt)
	if err != nil {
		return nil, apperr.New(apperr.CodeDatabaseError, "record conflict").Wrap(err)
	}
	return c, nil
}

// Transition moves a conflict to a new state, recording who resolved it
// when leaving ConflictDetected/ConflictAcknowledged into a terminal
// state.
func (r *ConflictRepository) Transition(ctx context.Context, id string, to ConflictState, resolvedBy string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var resolvedAt any
	if to == ConflictResolved || to == ConflictDismissed {
		resolvedAt = time.Now().UnixMilli()
	}
	res, err := r.store.db.ExecContext(ctx, `
		UPDATE conflicts SET state = ?, resolved_by = ?, resolved_at = ? WHERE id = ?
	`, to, nullable(resolvedBy), resolvedAt, id)
	if err != nil {
		return apperr.New(apperr.CodeDatabaseError, "transition conflict").Wrap(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("conflict", id)
	}
	return nil
}

func (r *ConflictRepository) Get(ctx context.Context, id string) (*Conflict, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var c Conflict
	var reason, resolvedBy sql.NullString
	var resolvedAt sql.NullInt64
	var ids string
	err := r.store.db.QueryRowContext(ctx, `
		SELECT id, entry_kind, involved_ids, reason, state, resolved_by, resolved_at, created_at
		FROM conflicts WHERE id = ?
	`, id).Scan(&c.ID, &c.EntryKind, &ids, &reason, &c.State, &resolvedBy, &resolvedAt, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("conflict", id)
	}
	if err != nil {
		return nil, apperr.New(apperr.CodeDatabaseError, "load conflict").Wrap(err)
	}
	c.Reason = reason.String
	c.ResolvedBy = resolvedBy.String
	_ = json.Unmarshal([]byte(ids), &c.InvolvedIDs)
	if resolvedAt.Valid {
		v := resolvedAt.Int64
		c.ResolvedAt = &v
	}
	return &c, nil
}

// ListByState returns conflicts in a given state, newest first.
func (r *ConflictRepository) ListByState(ctx context.Context, state ConflictState) ([]*Conflict, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	rows, err := r.store.db.QueryContext(ctx, `
		SELECT id, entry_kind, involved_ids, reason, state, resolved_by, resolved_at, created_at
		FROM conflicts WHERE state = ? ORDER BY created_at DESC
	`, state)
	if err != nil {
		return nil, apperr.New(apperr.CodeDatabaseError, "list conflicts").Wrap(err)
	}
	defer rows.Close()
	var out []*Conflict
	for rows.Next() {
		var c Conflict
		var reason, resolvedBy sql.NullString
		var resolvedAt sql.NullInt64
		var ids string
		if err := rows.Scan(&c.ID, &c.EntryKind, &ids, &reason, &c.State, &resolvedBy, &resolvedAt, &c.CreatedAt); err != nil {
			return nil, apperr.New(apperr.CodeDatabaseError, "scan conflict").Wrap(err)
		}
		c.Reason = reason.String
		c.ResolvedBy = resolvedBy.String
		_ = json.Unmarshal([]byte(ids), &c.InvolvedIDs)
		if resolvedAt.Valid {
			v := resolvedAt.Int64
			c.ResolvedAt = &v
		}
		out = append(out, &c)
	}
	return out, nil
}
