package store

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func toolContent(t *testing.T, desc string) []byte {
	t.Helper()
	b, err := json.Marshal(ToolContent{Description: desc})
	if err != nil {
		t.Fatalf("marshal tool content: %v", err)
	}
	return b
}

// Scenario 1: create + list (global scope).
func TestCreateAndListGlobalScope(t *testing.T) {
	s := newTestStore(t)
	repo := NewEntryRepository(s, KindTool)
	ctx := context.Background()

	_, err := repo.Create(ctx, CreateInput{
		Scope:       Scope{Type: ScopeGlobal},
		IdentityKey: "foo",
		Content:     toolContent(t, "bar"),
		CreatedBy:   "agent-1",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	entries, err := repo.List(ctx, ListFilter{Scope: Scope{Type: ScopeGlobal}})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.IdentityKey != "foo" || e.Version != 1 || !e.IsActive {
		t.Errorf("unexpected entry: %+v", e)
	}
}

// Scenario 2: scope inheritance — narrower wins on identity collision.
func TestScopeInheritanceNarrowerWins(t *testing.T) {
	s := newTestStore(t)
	repo := NewEntryRepository(s, KindGuideline)
	ctx := context.Background()

	gc := func(content string) []byte {
		b, _ := json.Marshal(GuidelineContent{Content: content})
		return b
	}

	if _, err := repo.Create(ctx, CreateInput{
		Scope: Scope{Type: ScopeGlobal}, IdentityKey: "x", Priority: 50,
		Content: gc("global guideline"), CreatedBy: "agent-1",
	}); err != nil {
		t.Fatalf("create global: %v", err)
	}
	if _, err := repo.Create(ctx, CreateInput{
		Scope: Scope{Type: ScopeProject, ID: "P"}, IdentityKey: "x", Priority: 80,
		Content: gc("project guideline"), CreatedBy: "agent-1",
	}); err != nil {
		t.Fatalf("create project: %v", err)
	}

	entries, err := repo.List(ctx, ListFilter{Scope: Scope{Type: ScopeProject, ID: "P"}, Inherit: true})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly 1 entry (narrower wins), got %d", len(entries))
	}
	if entries[0].ScopeType != ScopeProject || entries[0].Priority != 80 {
		t.Errorf("expected the project-scoped entry to win, got %+v", entries[0])
	}
}

// Scenario 3: optimistic update conflict — exactly one of two concurrent
// updates succeeds with version 2; the other surfaces CONFLICT.
func TestOptimisticUpdateConflict(t *testing.T) {
	s := newTestStore(t)
	repo := NewEntryRepository(s, KindKnowledge)
	ctx := context.Background()

	kc := func(content string) []byte {
		b, _ := json.Marshal(KnowledgeContent{Content: content, Confidence: 0.5})
		return b
	}

	created, err := repo.Create(ctx, CreateInput{
		Scope: Scope{Type: ScopeGlobal}, IdentityKey: "k1",
		Content: kc("v1"), CreatedBy: "agent-1",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := repo.Update(ctx, created.ID, Patch{
				Content:         kc("updated"),
				ExpectedVersion: 1,
				ChangeReason:    "test",
			}, "agent-1")
			results[i] = err
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly 1 successful update, got %d (errs=%v)", succeeded, results)
	}

	final, err := repo.GetByID(ctx, created.ID, false)
	if err != nil {
		t.Fatalf("get final: %v", err)
	}
	if final.Version != 2 {
		t.Errorf("expected final version 2, got %d", final.Version)
	}
}

func TestDeactivateHidesFromDefaultList(t *testing.T) {
	s := newTestStore(t)
	repo := NewEntryRepository(s, KindTool)
	ctx := context.Background()

	e, err := repo.Create(ctx, CreateInput{Scope: Scope{Type: ScopeGlobal}, IdentityKey: "t1", Content: toolContent(t, "d"), CreatedBy: "a"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.Deactivate(ctx, e.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	entries, err := repo.List(ctx, ListFilter{Scope: Scope{Type: ScopeGlobal}})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected inactive entry hidden by default, got %d", len(entries))
	}

	entries, err = repo.List(ctx, ListFilter{Scope: Scope{Type: ScopeGlobal}, IncludeInactive: true})
	if err != nil {
		t.Fatalf("list includeInactive: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry with includeInactive, got %d", len(entries))
	}
}
