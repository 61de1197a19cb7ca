package backup

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/coccobas/agent-memory/internal/store"
)

func newFileStore(t *testing.T) (*store.Store, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "memory.db")
	s, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, dbPath
}

func seedEntry(t *testing.T, s *store.Store) {
	t.Helper()
	repo := store.NewEntryRepository(s, store.KindTool)
	content, err := json.Marshal(store.ToolContent{Description: "backup me"})
	if err != nil {
		t.Fatalf("marshal content: %v", err)
	}
	if _, err := repo.Create(context.Background(), store.CreateInput{
		Scope:       store.Scope{Type: store.ScopeGlobal},
		IdentityKey: "seed",
		Content:     content,
		CreatedBy:   "agent-1",
	}); err != nil {
		t.Fatalf("seed entry: %v", err)
	}
}

func TestCreateDefaultName(t *testing.T) {
	s, _ := newFileStore(t)
	seedEntry(t, s)
	mgr := NewManager(s, t.TempDir())

	info, err := mgr.Create(context.Background(), "")
	if err != nil {
		t.Fatalf("create backup: %v", err)
	}
	if _, err := os.Stat(info.Path); err != nil {
		t.Fatalf("backup file missing: %v", err)
	}
	if filepath.Ext(info.Name) != ".db" {
		t.Errorf("expected .db extension, got %q", info.Name)
	}
}

func TestCreateRejectsUnsafeName(t *testing.T) {
	s, _ := newFileStore(t)
	mgr := NewManager(s, t.TempDir())

	for _, name := range []string{"../escape", "a/b", "..", "bad name"} {
		if _, err := mgr.Create(context.Background(), name); err == nil {
			t.Errorf("expected %q to be rejected", name)
		}
	}
}

func TestListNewestFirst(t *testing.T) {
	s, _ := newFileStore(t)
	mgr := NewManager(s, t.TempDir())

	if _, err := mgr.Create(context.Background(), "first"); err != nil {
		t.Fatalf("create first: %v", err)
	}
	if _, err := mgr.Create(context.Background(), "second"); err != nil {
		t.Fatalf("create second: %v", err)
	}

	list, err := mgr.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 backups, got %d", len(list))
	}
	if list[0].CreatedAt.Before(list[1].CreatedAt) {
		t.Errorf("expected newest-first ordering, got %+v", list)
	}
}

func TestCleanupKeepsNewest(t *testing.T) {
	s, _ := newFileStore(t)
	mgr := NewManager(s, t.TempDir())

	for _, name := range []string{"a", "b", "c", "d"} {
		if _, err := mgr.Create(context.Background(), name); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
	}
	if err := mgr.Cleanup(2); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	list, err := mgr.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 backups to remain, got %d", len(list))
	}
}

func TestCleanupZeroDeletesAll(t *testing.T) {
	s, _ := newFileStore(t)
	mgr := NewManager(s, t.TempDir())
	if _, err := mgr.Create(context.Background(), "only"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := mgr.Cleanup(0); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	list, err := mgr.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("expected no backups to remain, got %d", len(list))
	}
}

func TestCleanupKeepMoreThanExisting(t *testing.T) {
	s, _ := newFileStore(t)
	mgr := NewManager(s, t.TempDir())
	if _, err := mgr.Create(context.Background(), "only"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := mgr.Cleanup(5); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	list, err := mgr.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("expected the existing backup to survive, got %d", len(list))
	}
}

func TestRestoreRejectsPathTraversal(t *testing.T) {
	s, _ := newFileStore(t)
	mgr := NewManager(s, t.TempDir())

	for _, name := range []string{"../escape.db", "/etc/passwd", "sub/dir.db"} {
		if err := mgr.Restore(context.Background(), name); err == nil {
			t.Errorf("expected %q to be rejected", name)
		}
	}
}

func TestBackupRestoreRoundTrip(t *testing.T) {
	s, dbPath := newFileStore(t)
	seedEntry(t, s)
	backupDir := t.TempDir()
	mgr := NewManager(s, backupDir)

	info, err := mgr.Create(context.Background(), "snapshot")
	if err != nil {
		t.Fatalf("create backup: %v", err)
	}

	repo := store.NewEntryRepository(s, store.KindTool)
	if _, err := repo.Create(context.Background(), store.CreateInput{
		Scope:       store.Scope{Type: store.ScopeGlobal},
		IdentityKey: "seed-after-backup",
		Content:     []byte(`{"description":"added after backup"}`),
		CreatedBy:   "agent-1",
	}); err != nil {
		t.Fatalf("create post-backup entry: %v", err)
	}

	if err := mgr.Restore(context.Background(), info.Name); err != nil {
		t.Fatalf("restore: %v", err)
	}

	restored, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("reopen restored store: %v", err)
	}
	defer restored.Close()
	entries, err := store.NewEntryRepository(restored, store.KindTool).List(context.Background(), store.ListFilter{Scope: store.Scope{Type: store.ScopeGlobal}})
	if err != nil {
		t.Fatalf("list restored entries: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected the restored db to only have the pre-backup entry, got %d", len(entries))
	}

	list, err := mgr.List()
	if err != nil {
		t.Fatalf("list backups: %v", err)
	}
	foundSafety := false
	for _, b := range list {
		if b.Name == preRestoreSafetyName+".db" {
			foundSafety = true
		}
	}
	if !foundSafety {
		t.Errorf("expected a pre-restore-safety backup to have been created, got %+v", list)
	}
}
