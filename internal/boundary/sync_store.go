package boundary

import (
	"context"
	"encoding/json"

	"github.com/coccobas/agent-memory/internal/apperr"
	"github.com/coccobas/agent-memory/internal/store"
)

// SyncedTaskContent is the Tool-entry payload a synced remote item decodes
// to. Decision recorded in DESIGN.md: remote tracker items become Tool
// entries (category "synced-task") rather than a new EntryKind, since a
// tracked task is, from the memory service's point of view, an
// externally-sourced actionable item of the same shape a Tool already
// has — this avoids a fifth entry kind for one boundary feature.
type SyncedTaskContent struct {
	Title        string         `json:"title"`
	Status       string         `json:"status"`
	RemotePageID string         `json:"remotePageId"`
	LastEditedAt int64          `json:"lastEditedAt"`
	Fields       map[string]any `json:"fields,omitempty"`
}

const syncedTaskCategory = "synced-task"

// StoreSyncWriter implements SyncWriter over an EntryRepository scoped to
// KindTool, keyed by the remote page id as the entry's identity key so
// FindByRemoteID is a single GetByIdentity lookup.
type StoreSyncWriter struct {
	Repo      *store.EntryRepository
	Scope     store.Scope
	CreatedBy string
}

func NewStoreSyncWriter(repo *store.EntryRepository, scope store.Scope, createdBy string) *StoreSyncWriter {
	return &StoreSyncWriter{Repo: repo, Scope: scope, CreatedBy: createdBy}
}

func (w *StoreSyncWriter) FindByRemoteID(ctx context.Context, remotePageID string) (string, bool, error) {
	e, err := w.Repo.GetByIdentity(ctx, w.Scope, remotePageID)
	if err != nil {
		if apperr.CodeOf(err) == apperr.CodeNotFound {
			return "", false, nil
		}
		return "", false, err
	}
	return e.ID, true, nil
}

func (w *StoreSyncWriter) Create(ctx context.Context, item RemoteItem, status TaskStatus) (string, error) {
	content, err := json.Marshal(SyncedTaskContent{
		Title:        item.Title,
		Status:       string(status),
		RemotePageID: item.RemotePageID,
		LastEditedAt: item.LastEditedAt,
		Fields:       item.Fields,
	})
	if err != nil {
		return "", err
	}
	e, err := w.Repo.Create(ctx, store.CreateInput{
		Scope:       w.Scope,
		IdentityKey: item.RemotePageID,
		Category:    syncedTaskCategory,
		Content:     content,
		CreatedBy:   w.CreatedBy,
	})
	if err != nil {
		return "", err
	}
	return e.ID, nil
}

func (w *StoreSyncWriter) Update(ctx context.Context, localID string, item RemoteItem, status TaskStatus) error {
	content, err := json.Marshal(SyncedTaskContent{
		Title:        item.Title,
		Status:       string(status),
		RemotePageID: item.RemotePageID,
		LastEditedAt: item.LastEditedAt,
		Fields:       item.Fields,
	})
	if err != nil {
		return err
	}
	_, err = w.Repo.Update(ctx, localID, store.Patch{
		Content:      content,
		ChangeReason: "external sync",
	}, w.CreatedBy)
	return err
}

// SoftDeleteAbsent deactivates every synced-task entry in scope whose
// remote page id was not present in this pass's fetch.
func (w *StoreSyncWriter) SoftDeleteAbsent(ctx context.Context, seenRemoteIDs map[string]bool) (int, error) {
	entries, err := w.Repo.List(ctx, store.ListFilter{Scope: w.Scope, Category: syncedTaskCategory})
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if seenRemoteIDs[e.IdentityKey] {
			continue
		}
		if err := w.Repo.Deactivate(ctx, e.ID); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
