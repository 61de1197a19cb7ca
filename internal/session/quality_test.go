package session

import (
	"testing"

	"github.com/coccobas/agent-memory/internal/store"
)

func TestScoreAllFactorsPresent(t *testing.T) {
	events := []*store.Event{{SemanticSummary: "did a thing"}}
	score := 0.9
	messages := []*store.ConversationMessage{{RelevanceScore: &score}}
	c := Completion{HasExperiences: true, NameEnriched: true}

	got, factors := Score(events, messages, c)
	if got != 100 {
		t.Fatalf("expected a perfect score of 100, got %d (%v)", got, factors)
	}
}

func TestScoreNoSignals(t *testing.T) {
	got, _ := Score(nil, nil, Completion{})
	if got != 0 {
		t.Fatalf("expected 0 with no signals, got %d", got)
	}
}

func TestScorePartialCredit(t *testing.T) {
	events := []*store.Event{{ToolName: "search"}} // no semantic summary
	got, factors := Score(events, nil, Completion{})
	if got != 25 {
		t.Fatalf("expected only hasEvents share (25), got %d (%v)", got, factors)
	}
}

func TestBucketThresholds(t *testing.T) {
	cases := map[float64]RelevanceBucket{
		0.95: RelevanceHigh,
		0.8:  RelevanceHigh,
		0.6:  RelevanceMedium,
		0.5:  RelevanceMedium,
		0.1:  RelevanceLow,
	}
	for score, want := range cases {
		if got := Bucket(score); got != want {
			t.Errorf("Bucket(%v) = %s, want %s", score, got, want)
		}
	}
}
