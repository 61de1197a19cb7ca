package boundary

import (
	"context"
	"time"
)

// RemoteStatus is the free-text status string an external tracker
// returns; StatusMapping below normalizes it to TaskStatus.
type RemoteStatus string

// TaskStatus is the memory service's normalized task status.
type TaskStatus string

const (
	StatusDone       TaskStatus = "done"
	StatusInProgress TaskStatus = "in_progress"
	StatusBlocked    TaskStatus = "blocked"
	StatusReview     TaskStatus = "review"
	StatusBacklog    TaskStatus = "backlog"
	StatusWontDo     TaskStatus = "wont_do"
	StatusOpen       TaskStatus = "open"
)

// MapStatus applies spec.md §4.7's fixed remote-status enum mapping.
func MapStatus(remote RemoteStatus) TaskStatus {
	switch remote {
	case "Done":
		return StatusDone
	case "In Progress":
		return StatusInProgress
	case "Blocked":
		return StatusBlocked
	case "Review":
		return StatusReview
	case "Backlog":
		return StatusBacklog
	case "Cancelled":
		return StatusWontDo
	default:
		return StatusOpen
	}
}

// RemoteItem is one page fetched from an external tracker, prior to field
// mapping.
type RemoteItem struct {
	RemotePageID   string
	Title          string
	Status         RemoteStatus
	LastEditedAt   int64
	Fields         map[string]any
}

// FieldMapping names which remote field maps to which local concept; the
// adapter owns interpreting Fields using it.
type FieldMapping struct {
	TitleField  string
	StatusField string
}

// QueryFilter narrows queryAllPages; Since is nil for a full resync.
type QueryFilter struct {
	Since *time.Time
}

// SyncAdapter is the pluggable external-tracker contract, per spec.md
// §4.7. Grounded on steveyegge-beads' IssueTracker interface shape
// (internal/tracker/registry_test.go's mockTracker): FetchIssues-style
// pagination plus a cursor-based incremental fetch, generalized to this
// spec's queryAllPages/queryDatabase naming.
type SyncAdapter interface {
	QueryAllPages(ctx context.Context, filter QueryFilter) ([]RemoteItem, error)
	QueryDatabase(ctx context.Context, cursor string) ([]RemoteItem, string, error)
}

// EvidenceRecord is emitted once per sync pass, including on error, per
// spec.md's "emits an evidence record per sync pass" requirement.
type EvidenceRecord struct {
	StartedAt   int64
	FinishedAt  int64
	ItemsSeen   int
	Created     int
	Updated     int
	SoftDeleted int
	DryRun      bool
	Errors      []string
}

// SyncResult is one sync pass's machine-readable outcome.
type SyncResult struct {
	Evidence EvidenceRecord
}

// Syncer drives one SyncAdapter against the local store; only the
// decision logic (map/create/update/soft-delete) lives here, the actual
// persistence is delegated to a Writer so this stays storage-agnostic and
// testable with an in-memory Writer.
type Syncer struct {
	Adapter SyncAdapter
	Mapping FieldMapping
	Writer  SyncWriter
}

// SyncWriter is the minimal persistence contract a Syncer needs: look up
// a local item by remote page id, create from a RemoteItem, update an
// existing one, or soft-delete items absent from the current fetch.
type SyncWriter interface {
	FindByRemoteID(ctx context.Context, remotePageID string) (localID string, found bool, err error)
	Create(ctx context.Context, item RemoteItem, status TaskStatus) (localID string, err error)
	Update(ctx context.Context, localID string, item RemoteItem, status TaskStatus) error
	SoftDeleteAbsent(ctx context.Context, seenRemoteIDs map[string]bool) (int, error)
}

// Run executes one sync pass. When lastSyncTimestamp is nil, a full
// resync runs and any local item no longer present remotely is
// soft-deleted; an incremental sync (lastSyncTimestamp set) never
// soft-deletes, since an incremental page set can't prove absence.
func (s *Syncer) Run(ctx context.Context, lastSyncTimestamp *time.Time, dryRun bool) SyncResult {
	ev := EvidenceRecord{StartedAt: time.Now().UnixMilli(), DryRun: dryRun}

	items, err := s.Adapter.QueryAllPages(ctx, QueryFilter{Since: lastSyncTimestamp})
	if err != nil {
		ev.Errors = append(ev.Errors, err.Error())
		ev.FinishedAt = time.Now().UnixMilli()
		return SyncResult{Evidence: ev}
	}

	seen := map[string]bool{}
	for _, item := range items {
		ev.ItemsSeen++
		seen[item.RemotePageID] = true
		status := MapStatus(item.Status)

		localID, found, err := s.Writer.FindByRemoteID(ctx, item.RemotePageID)
		if err != nil {
			ev.Errors = append(ev.Errors, err.Error())
			continue
		}
		if dryRun {
			if found {
				ev.Updated++
			} else {
				ev.Created++
			}
			continue
		}
		if found {
			if err := s.Writer.Update(ctx, localID, item, status); err != nil {
				ev.Errors = append(ev.Errors, err.Error())
				continue
			}
			ev.Updated++
		} else {
			if _, err := s.Writer.Create(ctx, item, status); err != nil {
				ev.Errors = append(ev.Errors, err.Error())
				continue
			}
			ev.Created++
		}
	}

	if lastSyncTimestamp == nil && !dryRun {
		n, err := s.Writer.SoftDeleteAbsent(ctx, seen)
		if err != nil {
			ev.Errors = append(ev.Errors, err.Error())
		} else {
			ev.SoftDeleted = n
		}
	}

	ev.FinishedAt = time.Now().UnixMilli()
	return SyncResult{Evidence: ev}
}
