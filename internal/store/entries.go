package store

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/coccobas/agent-memory/internal/apperr"
)

// EntryRepository is the per-kind scoped, versioned repository described in
// spec.md §4.1. One instance is constructed per entry kind; all four share
// this implementation because the temporal envelope is identical — only
// the JSON-encoded Content payload differs, which callers decode
// themselves.
type EntryRepository struct {
	store *Store
	kind  EntryKind
}

// NewEntryRepository builds the repository for one entry kind.
func NewEntryRepository(s *Store, kind EntryKind) *EntryRepository {
	return &EntryRepository{store: s, kind: kind}
}

// CreateInput carries everything create() needs; Content must already be
// the kind-appropriate JSON payload.
type CreateInput struct {
	Scope       Scope
	IdentityKey string
	Category    string
	Priority    int
	Level       ExperienceLevel
	Content     []byte
	CreatedBy   string
}

// Create inserts a new entry at version 1. Fails CONFLICT if an active
// entry already exists at (scope, identity), VALIDATION on missing
// required fields.
func (r *EntryRepository) Create(ctx context.Context, in CreateInput) (*Entry, error) {
	if in.IdentityKey == "" {
		return nil, apperr.Validation("identityKey", "identity key is required")
	}
	if len(in.Content) == 0 {
		return nil, apperr.Validation("content", "content is required")
	}
	if in.Scope.Type != ScopeGlobal && in.Scope.ID == "" {
		return nil, apperr.Validation("scope", "scopeId is required for non-global scope")
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var exists int
	err := r.store.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM entries
		WHERE kind = ? AND scope_type = ? AND scope_id IS ? AND identity_key = ?
		  AND is_current = 1 AND is_active = 1
	`, r.kind, in.Scope.Type, nullable(in.Scope.ID), in.IdentityKey).Scan(&exists)
	if err != nil {
		return nil, apperr.New(apperr.CodeDatabaseError, "check existing identity").Wrap(err)
	}
	if exists > 0 {
		return nil, apperr.Conflict(string(r.kind), in.IdentityKey, "an active entry already exists at this scope and identity")
	}

	now := time.Now().UnixMilli()
	e := &Entry{
		ID:          uuid.NewString(),
		Version:     1,
		Kind:        r.kind,
		ScopeType:   in.Scope.Type,
		ScopeID:     in.Scope.ID,
		IdentityKey: in.IdentityKey,
		Category:    in.Category,
		Priority:    in.Priority,
		Level:       in.Level,
		Content:     in.Content,
		IsActive:    true,
		IsCurrent:   true,
		ValidFrom:   now,
		CreatedAt:   now,
		UpdatedAt:   now,
		CreatedBy:   in.CreatedBy,
	}

	if err := r.insert(ctx, e); err != nil {
		return nil, apperr.New(apperr.CodeDatabaseError, "insert entry").Wrap(err)
	}
	return e, nil
}

func (r *EntryRepository) insert(ctx context.Context, e *Entry) error {
	_, err := r.store.db.ExecContext(ctx, `
		INSERT INTO entries (
			id, version, kind, scope_type, scope_id, identity_key, category, priority, level,
			use_count, success_count, last_used_at, promoted_to_tool_id, promoted_from_id,
			content, is_active, is_current, valid_from, valid_to, created_at, updated_at,
			created_by, change_reason
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
	`, e.ID, e.Version, e.Kind, e.ScopeType, nullable(e.ScopeID), e.IdentityKey, e.Category, e.Priority, e.Level,
		e.UseCount, e.SuccessCount, e.LastUsedAt, e.PromotedToToolID, e.PromotedFromID,
		string(e.Content), boolToInt(e.IsActive), boolToInt(e.IsCurrent), e.ValidFrom, e.ValidTo,
		e.CreatedAt, e.UpdatedAt, e.CreatedBy, e.ChangeReason)
	return err
}

// Patch carries the mutable fields update() may change; nil/zero fields
// are left untouched except Content, which always replaces the prior
// version's payload when non-nil.
type Patch struct {
	Content        []byte
	Category       *string
	Priority       *int
	Level          *ExperienceLevel // experience promotion target
	UseCount       *int
	SuccessCount   *int
	LastUsedAt     *int64
	PromotedToToolID *string
	ChangeReason   string
	ExpectedVersion int // optimistic-concurrency check; 0 disables the check
}

// Update creates a new version row and repoints current atomically,
// retrying on serialization conflicts with bounded, randomized exponential
// backoff (steveyegge-beads' backoff/v4 dependency), surfacing
// CONFLICT on exhaustion or on expected-version mismatch.
func (r *EntryRepository) Update(ctx context.Context, id string, patch Patch, agent string) (*Entry, error) {
	var result *Entry
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx)

	op := func() error {
		r.store.mu.Lock()
		defer r.store.mu.Unlock()

		cur, err := r.getCurrentLocked(ctx, id)
		if err != nil {
			return backoff.Permanent(err)
		}
		if patch.ExpectedVersion != 0 && patch.ExpectedVersion != cur.Version {
			return backoff.Permanent(apperr.Conflict(string(r.kind), id, "expected_version mismatch"))
		}
		if locked, err := r.isFileLockedLocked(ctx, cur.IdentityKey); err != nil {
			return backoff.Permanent(err)
		} else if locked {
			return backoff.Permanent(apperr.New(apperr.CodeFileLocked, "entry references a locked file").WithIdentifier(id))
		}

		now := time.Now().UnixMilli()
		next := *cur
		next.Version = cur.Version + 1
		next.ValidFrom = now
		next.ValidTo = nil
		next.UpdatedAt = now
		next.CreatedBy = agent
		next.ChangeReason = patch.ChangeReason
		if patch.Content != nil {
			next.Content = patch.Content
		}
		if patch.Category != nil {
			next.Category = *patch.Category
		}
		if patch.Priority != nil {
			next.Priority = *patch.Priority
		}
		if patch.Level != nil {
			next.Level = *patch.Level
		}
		if patch.UseCount != nil {
			next.UseCount = *patch.UseCount
		}
		if patch.SuccessCount != nil {
			next.SuccessCount = *patch.SuccessCount
		}
		if patch.LastUsedAt != nil {
			next.LastUsedAt = patch.LastUsedAt
		}
		if patch.PromotedToToolID != nil {
			next.PromotedToToolID = patch.PromotedToToolID
		}

		tx, err := r.store.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		res, err := tx.ExecContext(ctx, `
			UPDATE entries SET valid_to = ?, is_current = 0
			WHERE id = ? AND version = ? AND is_current = 1
		`, now, id, cur.Version)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			// Someone else closed this version first: retryable conflict.
			return apperr.New(apperr.CodeConflict, "concurrent update detected").WithIdentifier(id)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO entries (
				id, version, kind, scope_type, scope_id, identity_key, category, priority, level,
				use_count, success_count, last_used_at, promoted_to_tool_id, promoted_from_id,
				content, is_active, is_current, valid_from, valid_to, created_at, updated_at,
				created_by, change_reason
			) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		`, next.ID, next.Version, next.Kind, next.ScopeType, nullable(next.ScopeID), next.IdentityKey,
			next.Category, next.Priority, next.Level, next.UseCount, next.SuccessCount, next.LastUsedAt,
			next.PromotedToToolID, next.PromotedFromID, string(next.Content), boolToInt(next.IsActive),
			boolToInt(true), next.ValidFrom, next.ValidTo, next.CreatedAt, next.UpdatedAt,
			next.CreatedBy, next.ChangeReason); err != nil {
			return err
		}

		if err := tx.Commit(); err != nil {
			return err
		}
		result = &next
		return nil
	}

	if err := backoff.Retry(op, bo); err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) {
			return nil, ae
		}
		return nil, apperr.New(apperr.CodeRetryExhausted, "update retries exhausted").Wrap(err).WithIdentifier(id)
	}
	return result, nil
}

func (r *EntryRepository) getCurrentLocked(ctx context.Context, id string) (*Entry, error) {
	row := r.store.db.QueryRowContext(ctx, entrySelect+" WHERE id = ? AND is_current = 1", id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound(string(r.kind), id)
	}
	if err != nil {
		return nil, apperr.New(apperr.CodeDatabaseError, "load current entry").Wrap(err)
	}
	return e, nil
}

func (r *EntryRepository) isFileLockedLocked(ctx context.Context, path string) (bool, error) {
	var n int
	err := r.store.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM file_locks WHERE file_path = ? AND expires_at > ?
	`, path, time.Now().UnixMilli()).Scan(&n)
	if err != nil {
		return false, apperr.New(apperr.CodeDatabaseError, "check file lock").Wrap(err)
	}
	return n > 0, nil
}

const entrySelect = `SELECT id, version, kind, scope_type, scope_id, identity_key, category, priority, level,
	use_count, success_count, last_used_at, promoted_to_tool_id, promoted_from_id, content,
	is_active, is_current, valid_from, valid_to, created_at, updated_at, created_by, change_reason
	FROM entries`

func scanEntry(row *sql.Row) (*Entry, error) {
	var e Entry
	var scopeID, category, promotedTo, promotedFrom, createdBy, reason sql.NullString
	var level sql.NullString
	var lastUsed, validTo sql.NullInt64
	var content string
	var isActive, isCurrent int
	err := row.Scan(&e.ID, &e.Version, &e.Kind, &e.ScopeType, &scopeID, &e.IdentityKey, &category,
		&e.Priority, &level, &e.UseCount, &e.SuccessCount, &lastUsed, &promotedTo, &promotedFrom,
		&content, &isActive, &isCurrent, &e.ValidFrom, &validTo, &e.CreatedAt, &e.UpdatedAt,
		&createdBy, &reason)
	if err != nil {
		return nil, err
	}
	e.ScopeID = scopeID.String
	e.Category = category.String
	e.Level = ExperienceLevel(level.String)
	e.Content = []byte(content)
	e.IsActive = isActive != 0
	e.IsCurrent = isCurrent != 0
	e.CreatedBy = createdBy.String
	e.ChangeReason = reason.String
	if lastUsed.Valid {
		v := lastUsed.Int64
		e.LastUsedAt = &v
	}
	if validTo.Valid {
		v := validTo.Int64
		e.ValidTo = &v
	}
	if promotedTo.Valid {
		v := promotedTo.String
		e.PromotedToToolID = &v
	}
	if promotedFrom.Valid {
		v := promotedFrom.String
		e.PromotedFromID = &v
	}
	return &e, nil
}

func scanEntryRows(rows *sql.Rows) (*Entry, error) {
	var e Entry
	var scopeID, category, promotedTo, promotedFrom, createdBy, reason sql.NullString
	var level sql.NullString
	var lastUsed, validTo sql.NullInt64
	var content string
	var isActive, isCurrent int
	err := rows.Scan(&e.ID, &e.Version, &e.Kind, &e.ScopeType, &scopeID, &e.IdentityKey, &category,
		&e.Priority, &level, &e.UseCount, &e.SuccessCount, &lastUsed, &promotedTo, &promotedFrom,
		&content, &isActive, &isCurrent, &e.ValidFrom, &validTo, &e.CreatedAt, &e.UpdatedAt,
		&createdBy, &reason)
	if err != nil {
		return nil, err
	}
	e.ScopeID = scopeID.String
	e.Category = category.String
	e.Level = ExperienceLevel(level.String)
	e.Content = []byte(content)
	e.IsActive = isActive != 0
	e.IsCurrent = isCurrent != 0
	e.CreatedBy = createdBy.String
	e.ChangeReason = reason.String
	if lastUsed.Valid {
		v := lastUsed.Int64
		e.LastUsedAt = &v
	}
	if validTo.Valid {
		v := validTo.Int64
		e.ValidTo = &v
	}
	if promotedTo.Valid {
		v := promotedTo.String
		e.PromotedToToolID = &v
	}
	if promotedFrom.Valid {
		v := promotedFrom.String
		e.PromotedFromID = &v
	}
	return &e, nil
}

// GetByID fetches the current version of an entry; a deactivated entry is
// returned only when includeInactive is set.
func (r *EntryRepository) GetByID(ctx context.Context, id string, includeInactive bool) (*Entry, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	row := r.store.db.QueryRowContext(ctx, entrySelect+" WHERE id = ? AND is_current = 1", id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound(string(r.kind), id)
	}
	if err != nil {
		return nil, apperr.New(apperr.CodeDatabaseError, "load entry").Wrap(err)
	}
	if !e.IsActive && !includeInactive {
		return nil, apperr.NotFound(string(r.kind), id)
	}
	return e, nil
}

// GetByIDs batch-loads the current versions of ids, used by the query
// pipeline's hydrate stage to fetch one kind's hits in a single
// round-trip. Missing ids are silently omitted.
func (r *EntryRepository) GetByIDs(ctx context.Context, ids []string) (map[string]*Entry, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	out := map[string]*Entry{}
	if len(ids) == 0 {
		return out, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	q := entrySelect + " WHERE id IN (" + strings.Join(placeholders, ",") + ") AND is_current = 1"
	rows, err := r.store.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, apperr.New(apperr.CodeDatabaseError, "batch load entries").Wrap(err)
	}
	defer rows.Close()
	for rows.Next() {
		e, err := scanEntryRows(rows)
		if err != nil {
			return nil, apperr.New(apperr.CodeDatabaseError, "scan batch entry").Wrap(err)
		}
		out[e.ID] = e
	}
	return out, nil
}

// GetByIdentity fetches the current active entry at (scope, identityKey).
func (r *EntryRepository) GetByIdentity(ctx context.Context, scope Scope, identityKey string) (*Entry, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	row := r.store.db.QueryRowContext(ctx, entrySelect+` WHERE kind = ? AND scope_type = ? AND scope_id IS ?
		AND identity_key = ? AND is_current = 1 AND is_active = 1`,
		r.kind, scope.Type, nullable(scope.ID), identityKey)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound(string(r.kind), identityKey)
	}
	if err != nil {
		return nil, apperr.New(apperr.CodeDatabaseError, "load entry by identity").Wrap(err)
	}
	return e, nil
}

// ListFilter narrows List(); zero-value Scope.Type means "all scopes."
type ListFilter struct {
	Scope           Scope
	Inherit         bool
	IncludeInactive bool
	Category        string
	Limit           int
}

// List returns entries of this kind matching filter. When Inherit is set,
// results from the scope chain are concatenated and identity collisions
// resolved per spec.md §4.1's tie-break rule (narrower-active wins;
// narrower-inactive never shadows broader-active — the Open Question
// resolution recorded in DESIGN.md).
func (r *EntryRepository) List(ctx context.Context, filter ListFilter) ([]*Entry, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	chain := []Scope{filter.Scope}
	if filter.Inherit {
		chain = scopeChain(filter.Scope)
	}

	byIdentity := map[string]*Entry{}
	order := []string{}
	for _, sc := range chain {
		q := entrySelect + " WHERE kind = ? AND scope_type = ? AND scope_id IS ?"
		args := []any{r.kind, sc.Type, nullable(sc.ID)}
		if !filter.IncludeInactive {
			q += " AND is_active = 1"
		}
		q += " AND is_current = 1"
		if filter.Category != "" {
			q += " AND category = ?"
			args = append(args, filter.Category)
		}
		rows, err := r.store.db.QueryContext(ctx, q, args...)
		if err != nil {
			return nil, apperr.New(apperr.CodeDatabaseError, "list entries").Wrap(err)
		}
		for rows.Next() {
			e, err := scanEntryRows(rows)
			if err != nil {
				rows.Close()
				return nil, apperr.New(apperr.CodeDatabaseError, "scan entry").Wrap(err)
			}
			existing, seen := byIdentity[e.IdentityKey]
			if !seen {
				byIdentity[e.IdentityKey] = e
				order = append(order, e.IdentityKey)
				continue
			}
			// The narrower entry (existing) was enumerated first and wins,
			// unless it is inactive and the broader entry (e) is active: a
			// narrower-inactive row never shadows a broader-active one, and
			// that case is logged as a warning.
			if !existing.IsActive && e.IsActive {
				slog.Warn("store: inactive narrower entry does not shadow active broader entry", "kind", r.kind, "identity", e.IdentityKey)
				byIdentity[e.IdentityKey] = e
			}
		}
		rows.Close()
	}

	out := make([]*Entry, 0, len(order))
	for _, k := range order {
		out = append(out, byIdentity[k])
	}
	sortEntries(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// sortEntries applies §4.1's tie-break chain: narrower scope first (any
// non-global scope before global, matching scopeChain), then priority/confidence/
// lastUsedAt depending on kind, then newer updatedAt.
func sortEntries(entries []*Entry) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && less(entries[j], entries[j-1]); j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
}

func less(a, b *Entry) bool {
	if ag, bg := a.ScopeType == ScopeGlobal, b.ScopeType == ScopeGlobal; ag != bg {
		return bg
	}
	rank := func(e *Entry) float64 {
		switch e.Kind {
		case KindGuideline:
			return float64(e.Priority)
		case KindKnowledge:
			return e.Confidence()
		case KindExperience:
			if e.LastUsedAt != nil {
				return float64(*e.LastUsedAt)
			}
			return 0
		default:
			return 0
		}
	}
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return ra > rb
	}
	return a.UpdatedAt > b.UpdatedAt
}

// GetHistory returns every version of id, oldest first.
func (r *EntryRepository) GetHistory(ctx context.Context, id string) ([]*Entry, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	rows, err := r.store.db.QueryContext(ctx, entrySelect+" WHERE id = ? ORDER BY version ASC", id)
	if err != nil {
		return nil, apperr.New(apperr.CodeDatabaseError, "load history").Wrap(err)
	}
	defer rows.Close()
	var out []*Entry
	for rows.Next() {
		e, err := scanEntryRows(rows)
		if err != nil {
			return nil, apperr.New(apperr.CodeDatabaseError, "scan history row").Wrap(err)
		}
		out = append(out, e)
	}
	if len(out) == 0 {
		return nil, apperr.NotFound(string(r.kind), id)
	}
	return out, nil
}

// Deactivate soft-deletes the current version of id.
func (r *EntryRepository) Deactivate(ctx context.Context, id string) error {
	return r.setActive(ctx, id, false)
}

// Reactivate restores a soft-deleted entry. Per spec.md §3, reactivating
// with an identity that collides with another active entry at the same
// scope requires the conflict workflow; we surface CONFLICT rather than
// silently reactivating into a collision.
func (r *EntryRepository) Reactivate(ctx context.Context, id string) error {
	r.store.mu.Lock()
	cur, err := r.getCurrentLocked(ctx, id)
	r.store.mu.Unlock()
	if err != nil {
		return err
	}
	var conflicting int
	err = r.store.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM entries
		WHERE kind = ? AND scope_type = ? AND scope_id IS ? AND identity_key = ?
		  AND is_current = 1 AND is_active = 1 AND id != ?
	`, r.kind, cur.ScopeType, nullable(cur.ScopeID), cur.IdentityKey, id).Scan(&conflicting)
	if err != nil {
		return apperr.New(apperr.CodeDatabaseError, "check reactivation collision").Wrap(err)
	}
	if conflicting > 0 {
		return apperr.Conflict(string(r.kind), id, "an active entry already occupies this identity; resolve via the conflict workflow")
	}
	return r.setActive(ctx, id, true)
}

func (r *EntryRepository) setActive(ctx context.Context, id string, active bool) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	res, err := r.store.db.ExecContext(ctx, `
		UPDATE entries SET is_active = ?, updated_at = ? WHERE id = ? AND is_current = 1
	`, boolToInt(active), time.Now().UnixMilli(), id)
	if err != nil {
		return apperr.New(apperr.CodeDatabaseError, "toggle active").Wrap(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound(string(r.kind), id)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
