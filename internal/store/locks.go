package store

import (
	"context"
	"time"

	"github.com/coccobas/agent-memory/internal/apperr"
)

// LockRepository guards exclusive access to a file path; at most one
// active (non-expired) lock per path, per spec.md §3.
type LockRepository struct {
	store *Store
}

func NewLockRepository(s *Store) *LockRepository { return &LockRepository{store: s} }

// Acquire takes the lock on path for lockedBy until expiresAt, failing
// FILE_LOCKED if another agent holds a non-expired lock.
func (r *LockRepository) Acquire(ctx context.Context, path, lockedBy string, expiresAt int64) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	now := time.Now().UnixMilli()
	var holder string
	var exp int64
	err := r.store.db.QueryRowContext(ctx, `SELECT locked_by, expires_at FROM file_locks WHERE file_path = ?`, path).Scan(&holder, &exp)
	if err == nil && exp > now && holder != lockedBy {
		return apperr.New(apperr.CodeFileLocked, "file is locked by another agent").WithField(path).With("lockedBy", holder)
	}
	_, err = r.store.db.ExecContext(ctx, `
		INSERT INTO file_locks (file_path, locked_by, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(file_path) DO UPDATE SET locked_by = excluded.locked_by, expires_at = excluded.expires_at
	`, path, lockedBy, expiresAt)
	if err != nil {
		return apperr.New(apperr.CodeDatabaseError, "acquire file lock").Wrap(err)
	}
	return nil
}

// Release drops the lock on path if held by lockedBy.
func (r *LockRepository) Release(ctx context.Context, path, lockedBy string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	_, err := r.store.db.ExecContext(ctx, `DELETE FROM file_locks WHERE file_path = ? AND locked_by = ?`, path, lockedBy)
	if err != nil {
		return apperr.New(apperr.CodeDatabaseError, "release file lock").Wrap(err)
	}
	return nil
}

// IsLocked reports whether path currently carries a non-expired lock.
func (r *LockRepository) IsLocked(ctx context.Context, path string) (bool, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var n int
	err := r.store.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM file_locks WHERE file_path = ? AND expires_at > ?`, path, time.Now().UnixMilli()).Scan(&n)
	if err != nil {
		return false, apperr.New(apperr.CodeDatabaseError, "check file lock").Wrap(err)
	}
	return n > 0, nil
}
