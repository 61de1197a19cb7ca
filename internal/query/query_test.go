package query

import (
	"testing"
	"time"

	"github.com/coccobas/agent-memory/internal/store"
)

func TestRewriteDirectOnDisabled(t *testing.T) {
	req := Request{Text: "how to configure retries", Flags: Flags{DisableRewrite: true}}
	rw := Rewrite(req)
	if len(rw.Queries) != 1 || rw.Queries[0].Source != "original" {
		t.Fatalf("expected single original query, got %+v", rw.Queries)
	}
	if rw.Strategy != "direct" {
		t.Fatalf("expected direct strategy, got %s", rw.Strategy)
	}
	if rw.Intent != IntentHowTo {
		t.Fatalf("expected how_to intent (checked before configure), got %s", rw.Intent)
	}
}

func TestRewriteHybridStrategy(t *testing.T) {
	req := Request{Text: "database connection error", Flags: Flags{EnableExpansion: true, EnableHyDE: true}}
	rw := Rewrite(req)
	if rw.Strategy != "hybrid" {
		t.Fatalf("expected hybrid strategy, got %s", rw.Strategy)
	}
	if len(rw.Queries) != 3 {
		t.Fatalf("expected original+expansion+hyde, got %d", len(rw.Queries))
	}
	if rw.Intent != IntentDebug {
		t.Fatalf("expected debug intent, got %s", rw.Intent)
	}
}

func TestFuseReciprocalRankSumsAcrossProducers(t *testing.T) {
	cands := []Candidate{
		{ID: "a", Kind: store.KindTool, Producer: "lexical", Rank: 1},
		{ID: "b", Kind: store.KindTool, Producer: "vector", Rank: 1},
		{ID: "a", Kind: store.KindTool, Producer: "vector", Rank: 2},
	}
	fused := Fuse(cands)
	if len(fused) != 2 {
		t.Fatalf("expected 2 fused results, got %d", len(fused))
	}
	// "a" appears in both producers so it should outrank "b" (single hit).
	if fused[0].ID != "a" {
		t.Fatalf("expected a to rank first, got %s", fused[0].ID)
	}
}

func TestFuseTieBreaksByProducerPriority(t *testing.T) {
	cands := []Candidate{
		{ID: "a", Kind: store.KindTool, Producer: "relational", Rank: 1},
		{ID: "b", Kind: store.KindTool, Producer: "lexical", Rank: 1},
	}
	fused := Fuse(cands)
	if fused[0].ID != "b" {
		t.Fatalf("expected lexical-sourced candidate to win the tie, got %s", fused[0].ID)
	}
}

func TestCacheGetSetAndExpiry(t *testing.T) {
	c := NewCache(8, 10*time.Millisecond)
	req := Request{Text: "q", Scope: store.Scope{Type: store.ScopeGlobal}}
	fp := Fingerprint(req)

	if _, ok := c.Get(fp); ok {
		t.Fatal("expected cache miss before Set")
	}
	c.Set(fp, Result{Strategy: "direct"})
	if v, ok := c.Get(fp); !ok || v.Strategy != "direct" {
		t.Fatalf("expected cache hit, got %+v ok=%v", v, ok)
	}

	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get(fp); ok {
		t.Fatal("expected cache entry to expire")
	}
}

func TestCacheInvalidateScope(t *testing.T) {
	c := NewCache(8, time.Minute)
	req := Request{Text: "q", Scope: store.Scope{Type: store.ScopeProject, ID: "p1"}}
	fp := Fingerprint(req)
	c.Set(fp, Result{Strategy: "direct"})

	c.InvalidateScope(store.Scope{Type: store.ScopeProject, ID: "p1"})
	if _, ok := c.Get(fp); ok {
		t.Fatal("expected scope invalidation to drop the cached entry")
	}
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewCache(2, time.Minute)
	c.Set("a", Result{Strategy: "a"})
	c.Set("b", Result{Strategy: "b"})
	c.Get("a") // touch a, making b the LRU candidate
	c.Set("c", Result{Strategy: "c"})

	if _, ok := c.Get("b"); ok {
		t.Fatal("expected b to be evicted as least recently used")
	}
	if _, ok := c.Get("a"); !ok {
		t.Fatal("expected a to survive eviction")
	}
}
