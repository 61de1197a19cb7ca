package capture

import (
	"context"
	"testing"

	"github.com/coccobas/agent-memory/internal/store"
)

func TestDetectorUserCorrection(t *testing.T) {
	d, err := NewDetector(0.5)
	if err != nil {
		t.Fatalf("new detector: %v", err)
	}
	window := []Message{
		{SessionID: "s1", Role: "assistant", Content: "I added the import for you."},
		{SessionID: "s1", Role: "user", Content: "No, actually I meant the other file."},
	}
	dets := d.Detect(window)
	found := false
	for _, det := range dets {
		if det.Type == TriggerUserCorrection {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected USER_CORRECTION detection, got %+v", dets)
	}
}

func TestDetectorEnthusiasmSuppressedByQuestion(t *testing.T) {
	d, err := NewDetector(0.5)
	if err != nil {
		t.Fatalf("new detector: %v", err)
	}
	window := []Message{
		{SessionID: "s1", Role: "user", Content: "is this perfect?"},
	}
	dets := d.Detect(window)
	for _, det := range dets {
		if det.Type == TriggerEnthusiasm {
			t.Fatalf("expected enthusiasm to be suppressed by question marker, got %+v", det)
		}
	}
}

func TestDetectorErrorRecovery(t *testing.T) {
	d, err := NewDetector(0.5)
	if err != nil {
		t.Fatalf("new detector: %v", err)
	}
	window := []Message{
		{SessionID: "s1", Role: "assistant", Content: "that failed", HasError: true},
		{SessionID: "s1", Role: "user", Content: "that worked, thanks"},
	}
	dets := d.Detect(window)
	found := false
	for _, det := range dets {
		if det.Type == TriggerErrorRecovery {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected ERROR_RECOVERY detection, got %+v", dets)
	}
}

func TestExtractGuidelineRule(t *testing.T) {
	suggestions := Extract("Always use TypeScript strict mode", TriggerUserCorrection)
	if len(suggestions) != 1 {
		t.Fatalf("expected exactly one suggestion, got %d", len(suggestions))
	}
	if suggestions[0].Type != SuggestGuideline {
		t.Fatalf("expected guideline suggestion, got %s", suggestions[0].Type)
	}
	if suggestions[0].Confidence < regexAutoStoreThreshold {
		t.Fatalf("expected confidence to clear the auto-store threshold, got %f", suggestions[0].Confidence)
	}
}

func TestBoostDiminishingReturns(t *testing.T) {
	s := Suggestion{Type: SuggestGuideline, Confidence: 0.5}
	text := "We decided to always use retries because tests confirm it reduces flakiness"
	boosted := Boost(s, text)
	if boosted.Confidence <= s.Confidence {
		t.Fatalf("expected boosted confidence to exceed original, got %f", boosted.Confidence)
	}
	if boosted.Confidence > 0.98 {
		t.Fatalf("expected boosted confidence to respect maxConfidence cap, got %f", boosted.Confidence)
	}
}

func TestQueueDropsOldestWhenFull(t *testing.T) {
	q := NewQueue(2, false, nil)
	id1 := q.Enqueue("first", "")
	_ = q.Enqueue("second", "")
	_ = q.Enqueue("third", "")

	if q.Len() != 2 {
		t.Fatalf("expected queue length capped at 2, got %d", q.Len())
	}
	item := q.Next()
	if item == nil || item.ID == id1 {
		t.Fatalf("expected oldest item to have been evicted, got %+v", item)
	}
}

func TestObserveCooldownSuppressesForwarding(t *testing.T) {
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer s.Close()

	detector, err := NewDetector(0.5)
	if err != nil {
		t.Fatalf("new detector: %v", err)
	}
	p := NewPipeline(s, store.Scope{Type: store.ScopeGlobal}, detector, nil, NewQueue(10, true, nil), nil, 60000)

	observe := func(content string) {
		window := []Message{
			{SessionID: "s1", Role: "assistant", Content: "I'll use loose mode."},
			{SessionID: "s1", Role: "user", Content: content},
		}
		p.Observe(context.Background(), window)
	}

	// Each message both trips the correction detector ("instead" is a
	// correction phrase) and matches the guideline extraction rule
	// (leading "Always "), clearing the auto-store threshold directly.
	observe("Always use TypeScript strict mode instead")
	observe("Always use ESLint strict mode instead") // different hash, same session, still within cooldown

	entries, err := store.NewEntryRepository(s, store.KindGuideline).List(context.Background(), store.ListFilter{Scope: store.Scope{Type: store.ScopeGlobal}})
	if err != nil {
		t.Fatalf("list guideline entries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected cooldown to suppress the second forward, got %d entries", len(entries))
	}

	p.nowFunc = func() int64 { return p.lastForward["s1"] + 60001 }
	observe("Always use Prettier strict mode instead")

	entries, err = store.NewEntryRepository(s, store.KindGuideline).List(context.Background(), store.ListFilter{Scope: store.Scope{Type: store.ScopeGlobal}})
	if err != nil {
		t.Fatalf("list guideline entries after cooldown: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected a forward once the cooldown window elapsed, got %d entries", len(entries))
	}
}

func TestQueueDisabledEnqueueIsNoOp(t *testing.T) {
	q := NewQueue(10, true, nil)
	if id := q.Enqueue("text", ""); id != "" {
		t.Fatalf("expected disabled queue to return empty id, got %q", id)
	}
}
