// Package capture implements the autonomous learning loop: a trigger
// detector over conversation traffic, a hybrid regex/classifier extractor,
// a bounded classification queue, and the confidence router and booster
// that decide what becomes a durable memory entry, per spec.md §4.3.
package capture

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/coccobas/agent-memory/internal/store"
)

// TriggerType is one of the four signals the detector recognizes.
type TriggerType string

const (
	TriggerUserCorrection  TriggerType = "USER_CORRECTION"
	TriggerEnthusiasm      TriggerType = "ENTHUSIASM"
	TriggerErrorRecovery   TriggerType = "ERROR_RECOVERY"
	TriggerRepeatedRequest TriggerType = "REPEATED_REQUEST"
)

// ConfidenceLevel buckets a Detection's score for display/filtering.
type ConfidenceLevel string

const (
	ConfidenceLow    ConfidenceLevel = "low"
	ConfidenceMedium ConfidenceLevel = "medium"
	ConfidenceHigh   ConfidenceLevel = "high"
)

func levelFor(score float64) ConfidenceLevel {
	switch {
	case score >= 0.75:
		return ConfidenceHigh
	case score >= 0.45:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// Detection is one trigger firing, emitted only when score clears the
// detector's minConfidenceScore.
type Detection struct {
	Type             TriggerType
	Confidence       ConfidenceLevel
	Score            float64
	Reason           string
	ExtractedContent string
}

// Message is one turn of conversation traffic fed to the detector and
// extractor; a thin projection of store.ConversationMessage plus the
// derived flags the trigger rules need.
type Message struct {
	SessionID   string
	Role        store.MessageRole
	Content     string
	Timestamp   int64
	HasError    bool
	ToolSuccess bool
}

// SuggestionType is the kind of entry a Suggestion would become; "none"
// means the classifier found nothing worth keeping.
type SuggestionType string

const (
	SuggestGuideline SuggestionType = "guideline"
	SuggestKnowledge SuggestionType = "knowledge"
	SuggestTool      SuggestionType = "tool"
	SuggestExperience SuggestionType = "experience"
	SuggestNone      SuggestionType = "none"
)

// Suggestion is a candidate memory entry produced by either the regex
// extractor or the classifier, before the confidence router decides its
// fate.
type Suggestion struct {
	Type       SuggestionType
	Title      string
	Content    string
	Confidence float64
	Trigger    TriggerType
	Hash       string
}

// Kind maps a SuggestionType to the store.EntryKind it would be written
// as; panics are impossible since callers only reach this after checking
// Type != SuggestNone.
func (t SuggestionType) Kind() store.EntryKind {
	switch t {
	case SuggestGuideline:
		return store.KindGuideline
	case SuggestKnowledge:
		return store.KindKnowledge
	case SuggestTool:
		return store.KindTool
	case SuggestExperience:
		return store.KindExperience
	default:
		return ""
	}
}

// ContentHash derives the at-most-once dedupe key for a suggestion: the
// same (type, trimmed content) never produces two suggestions.
func ContentHash(suggType SuggestionType, content string) string {
	sum := sha256.Sum256([]byte(string(suggType) + "|" + content))
	return hex.EncodeToString(sum[:])
}
