package boundary

import (
	"context"
	"strconv"
)

// MemoryAdapter is a reference SyncAdapter backed by an in-process slice,
// used by tests. Grounded on the same mockTracker double this contract was
// modeled from: a fixed fixture list. QueryAllPages returns it whole, or
// only the items edited at or after filter.Since when that is set;
// QueryDatabase pages through it 50 items at a time.
type MemoryAdapter struct {
	Items []RemoteItem
}

func (m *MemoryAdapter) QueryAllPages(ctx context.Context, filter QueryFilter) ([]RemoteItem, error) {
	if filter.Since == nil {
		return m.Items, nil
	}
	cutoff := filter.Since.UnixMilli()
	out := make([]RemoteItem, 0, len(m.Items))
	for _, it := range m.Items {
		if it.LastEditedAt >= cutoff {
			out = append(out, it)
		}
	}
	return out, nil
}

func (m *MemoryAdapter) QueryDatabase(ctx context.Context, cursor string) ([]RemoteItem, string, error) {
	const pageSize = 50
	start := 0
	if cursor != "" {
		for i, it := range m.Items {
			if it.RemotePageID == cursor {
				start = i + 1
				break
			}
		}
	}
	end := start + pageSize
	if end > len(m.Items) {
		end = len(m.Items)
	}
	page := m.Items[start:end]
	next := ""
	if end < len(m.Items) {
		next = m.Items[end-1].RemotePageID
	}
	return page, next, nil
}

// MemoryWriter is a reference SyncWriter for tests, avoiding a real store.
type MemoryWriter struct {
	byRemote map[string]string
	records  map[string]RemoteItem
	statuses map[string]TaskStatus
	nextID   int
}

func NewMemoryWriter() *MemoryWriter {
	return &MemoryWriter{byRemote: map[string]string{}, records: map[string]RemoteItem{}, statuses: map[string]TaskStatus{}}
}

func (w *MemoryWriter) FindByRemoteID(ctx context.Context, remotePageID string) (string, bool, error) {
	id, ok := w.byRemote[remotePageID]
	return id, ok, nil
}

func (w *MemoryWriter) Create(ctx context.Context, item RemoteItem, status TaskStatus) (string, error) {
	w.nextID++
	id := strconv.Itoa(w.nextID)
	w.byRemote[item.RemotePageID] = id
	w.records[id] = item
	w.statuses[id] = status
	return id, nil
}

func (w *MemoryWriter) Update(ctx context.Context, localID string, item RemoteItem, status TaskStatus) error {
	w.records[localID] = item
	w.statuses[localID] = status
	return nil
}

func (w *MemoryWriter) SoftDeleteAbsent(ctx context.Context, seenRemoteIDs map[string]bool) (int, error) {
	n := 0
	for remoteID, localID := range w.byRemote {
		if seenRemoteIDs[remoteID] {
			continue
		}
		delete(w.records, localID)
		delete(w.statuses, localID)
		delete(w.byRemote, remoteID)
		n++
	}
	return n, nil
}
