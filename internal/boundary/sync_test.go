package boundary

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMapStatusKnownValues(t *testing.T) {
	cases := map[RemoteStatus]TaskStatus{
		"Done":        StatusDone,
		"In Progress": StatusInProgress,
		"Blocked":     StatusBlocked,
		"Review":      StatusReview,
		"Backlog":     StatusBacklog,
		"Cancelled":   StatusWontDo,
		"Something":   StatusOpen,
		"":            StatusOpen,
	}
	for remote, want := range cases {
		require.Equalf(t, want, MapStatus(remote), "MapStatus(%q)", remote)
	}
}

func TestSyncerFullResyncCreatesAndSoftDeletes(t *testing.T) {
	adapter := &MemoryAdapter{Items: []RemoteItem{
		{RemotePageID: "p1", Title: "first", Status: "Done"},
		{RemotePageID: "p2", Title: "second", Status: "Backlog"},
	}}
	writer := NewMemoryWriter()
	s := &Syncer{Adapter: adapter, Writer: writer}

	result := s.Run(t.Context(), nil, false)
	require.Equal(t, 2, result.Evidence.Created)
	require.Empty(t, result.Evidence.Errors)

	adapter.Items = adapter.Items[:1] // p2 is now absent
	result = s.Run(t.Context(), nil, false)
	require.Equal(t, 1, result.Evidence.Updated)
	require.Equal(t, 1, result.Evidence.SoftDeleted)
}

func TestSyncerIncrementalNeverSoftDeletes(t *testing.T) {
	adapter := &MemoryAdapter{Items: []RemoteItem{{RemotePageID: "p1", Title: "first", Status: "Done"}}}
	writer := NewMemoryWriter()
	s := &Syncer{Adapter: adapter, Writer: writer}

	s.Run(t.Context(), nil, false)
	adapter.Items = nil
	ts := time.Now()
	result := s.Run(t.Context(), &ts, false)
	require.Zero(t, result.Evidence.SoftDeleted, "incremental sync must never soft-delete")
}

func TestSyncerDryRunPerformsNoWrites(t *testing.T) {
	adapter := &MemoryAdapter{Items: []RemoteItem{{RemotePageID: "p1", Title: "first", Status: "Done"}}}
	writer := NewMemoryWriter()
	s := &Syncer{Adapter: adapter, Writer: writer}

	result := s.Run(t.Context(), nil, true)
	require.Equal(t, 1, result.Evidence.Created, "dry-run still counts a would-be create")
	_, found, _ := writer.FindByRemoteID(t.Context(), "p1")
	require.False(t, found, "dry-run must not persist a write")
}
