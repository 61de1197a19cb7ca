// Package backup implements the createDatabaseBackup/restoreFromBackup/
// listBackups/cleanupBackups invariants a hosting service can build a
// boundary tool or scheduled job around; it is not itself wired into one,
// since backup/import-export services are an out-of-scope external
// collaborator — this package carries only the invariants they must
// uphold.
package backup

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/coccobas/agent-memory/internal/apperr"
	"github.com/coccobas/agent-memory/internal/store"
)

var safeNamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

const preRestoreSafetyName = "pre-restore-safety"

// Info describes one backup file on disk.
type Info struct {
	Name      string
	Path      string
	SizeBytes int64
	CreatedAt time.Time
}

// Manager creates, lists, restores, and prunes backups of one Store's
// primary database file.
type Manager struct {
	store *store.Store
	dir   string
}

func NewManager(s *store.Store, dir string) *Manager { return &Manager{store: s, dir: dir} }

// Create makes a new backup. A blank name gets a
// memory-backup-YYYY-MM-DDTHH-MM-SS.db timestamp name; a non-blank name
// must match [A-Za-z0-9._-]+ and must not contain "..", and is rejected
// otherwise.
//
// It first attempts an engine-level VACUUM INTO, which SQLite performs
// atomically and safely against a WAL-mode database. If that fails it
// falls back to a WAL checkpoint followed by a plain file copy. Either
// way the result is opened fresh and integrity-checked; a failed check
// deletes the file rather than returning a corrupt backup.
func (m *Manager) Create(ctx context.Context, name string) (*Info, error) {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return nil, apperr.New(apperr.CodeDatabaseError, "create backup directory").Wrap(err)
	}
	filename, err := backupFilename(name)
	if err != nil {
		return nil, err
	}
	dest := filepath.Join(m.dir, filename)

	if err := m.vacuumInto(ctx, dest); err != nil {
		if err := m.checkpointAndCopy(ctx, dest); err != nil {
			return nil, apperr.New(apperr.CodeDatabaseError, "backup failed").Wrap(err)
		}
	}

	if err := verifyIntegrity(dest); err != nil {
		os.Remove(dest)
		return nil, apperr.New(apperr.CodeDatabaseError, "backup failed integrity check").Wrap(err)
	}

	fi, err := os.Stat(dest)
	if err != nil {
		return nil, apperr.New(apperr.CodeDatabaseError, "stat backup file").Wrap(err)
	}
	return &Info{Name: filename, Path: dest, SizeBytes: fi.Size(), CreatedAt: fi.ModTime()}, nil
}

func backupFilename(name string) (string, error) {
	if name == "" {
		return "memory-backup-" + time.Now().UTC().Format("2006-01-02T15-04-05") + ".db", nil
	}
	if !safeNamePattern.MatchString(name) {
		return "", apperr.Validation("name", "backup name must match [A-Za-z0-9._-]+")
	}
	if strings.Contains(name, "..") {
		return "", apperr.Validation("name", "backup name must not contain \"..\"")
	}
	if filepath.Ext(name) != ".db" {
		name += ".db"
	}
	return name, nil
}

func (m *Manager) vacuumInto(ctx context.Context, dest string) error {
	_, err := m.store.DB().ExecContext(ctx, "VACUUM INTO ?", dest)
	return err
}

func (m *Manager) checkpointAndCopy(ctx context.Context, dest string) error {
	if _, err := m.store.DB().ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return err
	}
	return copyFile(m.store.Path(), dest)
}

func verifyIntegrity(path string) error {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return err
	}
	defer db.Close()
	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return err
	}
	if result != "ok" {
		return errors.New("integrity check reported: " + result)
	}
	return nil
}

// Restore copies a previously-created backup over the primary database
// file. filename must be a bare name (no directory components, no ".."),
// which rules out path traversal outside the backup directory. Before
// overwriting, the current primary is itself backed up under a fixed
// "pre-restore-safety" name so a bad restore is itself recoverable.
func (m *Manager) Restore(ctx context.Context, filename string) error {
	if err := validateRestoreFilename(filename); err != nil {
		return err
	}
	src := filepath.Join(m.dir, filename)
	if _, err := os.Stat(src); err != nil {
		return apperr.NotFound("backup", filename)
	}
	if _, err := m.Create(ctx, preRestoreSafetyName); err != nil {
		return apperr.New(apperr.CodeDatabaseError, "create pre-restore safety backup").Wrap(err)
	}
	if _, err := m.store.DB().ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return apperr.New(apperr.CodeDatabaseError, "checkpoint before restore").Wrap(err)
	}
	if err := copyFile(src, m.store.Path()); err != nil {
		return apperr.New(apperr.CodeDatabaseError, "restore from backup").Wrap(err)
	}
	return nil
}

func validateRestoreFilename(filename string) error {
	if filename == "" || filename != filepath.Base(filename) || filepath.IsAbs(filename) {
		return apperr.Validation("filename", "backup filename must be a bare file name")
	}
	for _, r := range filename {
		if r == 0 {
			return apperr.Validation("filename", "backup filename contains a null byte")
		}
	}
	if cleaned := filepath.Clean(filename); cleaned != filename || strings.Contains(filename, "..") {
		return apperr.Validation("filename", "backup filename must not contain path traversal")
	}
	return nil
}

// List returns every backup file in the backup directory, newest first.
func (m *Manager) List() ([]Info, error) {
	entries, err := os.ReadDir(m.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.New(apperr.CodeDatabaseError, "list backup directory").Wrap(err)
	}
	var out []Info
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".db" {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Info{Name: e.Name(), Path: filepath.Join(m.dir, e.Name()), SizeBytes: fi.Size(), CreatedAt: fi.ModTime()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Cleanup keeps the keep newest backups and deletes the rest. Deletion
// errors for individual files are collected but don't stop the sweep;
// keep <= 0 deletes every backup.
func (m *Manager) Cleanup(keep int) error {
	if keep < 0 {
		keep = 0
	}
	all, err := m.List()
	if err != nil {
		return err
	}
	if len(all) <= keep {
		return nil
	}
	var firstErr error
	for _, info := range all[keep:] {
		if err := os.Remove(info.Path); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return apperr.New(apperr.CodeDatabaseError, "cleanup backups").Wrap(firstErr)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
