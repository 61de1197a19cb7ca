package capture

import (
	"regexp"
	"strings"
)

// extractionRule is one regex-based pattern the hybrid extractor tries
// before falling back to the classifier queue, adapted from the teacher's
// ParseResponse/filterResult tolerant-parsing idiom (trim, validate,
// default confidence) but driven by regex match instead of LLM JSON.
type extractionRule struct {
	re         *regexp.Regexp
	suggType   SuggestionType
	confidence float64
	titleWords int // how many leading words of the trimmed input text become the title
}

var extractionRules = []extractionRule{
	{
		re:         regexp.MustCompile(`(?i)^(always|never|don't|do not|must|should)\s+(.+)`),
		suggType:   SuggestGuideline,
		confidence: 0.9,
		titleWords: 8,
	},
	{
		re:         regexp.MustCompile(`(?i)\b(the fix was|turns out|root cause was|the issue was)\b\s*(.+)`),
		suggType:   SuggestExperience,
		confidence: 0.75,
		titleWords: 8,
	},
	{
		re:         regexp.MustCompile(`(?i)\b([\w.-]+)\s+(is used to|is for|works by|requires)\b\s*(.+)`),
		suggType:   SuggestKnowledge,
		confidence: 0.6,
		titleWords: 6,
	},
}

// Extract runs every regex rule against text and returns zero or more
// suggestions, deduped by ContentHash within this single call, per
// spec.md §4.3.2.
func Extract(text string, trigger TriggerType) []Suggestion {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	seen := map[string]bool{}
	var out []Suggestion
	for _, rule := range extractionRules {
		m := rule.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		content := strings.TrimSpace(text)
		hash := ContentHash(rule.suggType, content)
		if seen[hash] {
			continue
		}
		seen[hash] = true
		out = append(out, Suggestion{
			Type:       rule.suggType,
			Title:      title(content, rule.titleWords),
			Content:    content,
			Confidence: rule.confidence,
			Trigger:    trigger,
			Hash:       hash,
		})
	}
	return out
}

func title(content string, words int) string {
	fields := strings.Fields(content)
	if len(fields) > words {
		fields = fields[:words]
	}
	t := strings.Join(fields, " ")
	if len(t) > 80 {
		t = t[:80]
	}
	return t
}
