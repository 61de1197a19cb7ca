package capture

import (
	"regexp"
	"sort"
)

// signalPattern is one entry in the confidence-booster catalog, per
// spec.md §4.3.6.
type signalPattern struct {
	name       string
	re         *regexp.Regexp
	appliesTo  map[SuggestionType]bool
	boost      float64
	maxConfidence float64
}

func applies(types ...SuggestionType) map[SuggestionType]bool {
	m := map[SuggestionType]bool{}
	for _, t := range types {
		m[t] = true
	}
	return m
}

var signalCatalog = []signalPattern{
	{
		name:          "decision-explicit",
		re:            regexp.MustCompile(`(?i)\bwe (decided|chose|will use|are using)\b`),
		appliesTo:     applies(SuggestGuideline, SuggestKnowledge),
		boost:         0.1,
		maxConfidence: 0.98,
	},
	{
		name:          "rule-imperative",
		re:            regexp.MustCompile(`(?i)^(always|never|must|don't|do not)\b`),
		appliesTo:     applies(SuggestGuideline),
		boost:         0.08,
		maxConfidence: 0.98,
	},
	{
		name:          "comparison-performance",
		re:            regexp.MustCompile(`(?i)\b(faster|slower|more reliable|better than|worse than)\b`),
		appliesTo:     applies(SuggestKnowledge, SuggestExperience),
		boost:         0.07,
		maxConfidence: 0.95,
	},
	{
		name:          "preference-with-reason",
		re:            regexp.MustCompile(`(?i)\b(because|since|so that)\b`),
		appliesTo:     applies(SuggestGuideline, SuggestKnowledge, SuggestExperience),
		boost:         0.05,
		maxConfidence: 0.95,
	},
	{
		name:          "evidence-tests",
		re:            regexp.MustCompile(`(?i)\b(tests? (pass|confirm|show)|verified|reproduced)\b`),
		appliesTo:     applies(SuggestExperience, SuggestKnowledge),
		boost:         0.1,
		maxConfidence: 0.97,
	},
}

// Boost applies the signal catalog to s using text as the source the
// patterns scan, with diminishing returns across matches: for n matches
// with boosts b_1..b_n sorted descending,
// adjusted = min(maxConfidence, original + Σ b_i · 0.6^(i-1)).
func Boost(s Suggestion, text string) Suggestion {
	var matched []signalPattern
	for _, sig := range signalCatalog {
		if !sig.appliesTo[s.Type] {
			continue
		}
		if sig.re.MatchString(text) {
			matched = append(matched, sig)
		}
	}
	if len(matched) == 0 {
		return s
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].boost > matched[j].boost })

	maxConf := matched[0].maxConfidence
	adjusted := s.Confidence
	factor := 1.0
	for _, sig := range matched {
		adjusted += sig.boost * factor
		factor *= 0.6
		if sig.maxConfidence < maxConf {
			maxConf = sig.maxConfidence
		}
	}
	if adjusted > maxConf {
		adjusted = maxConf
	}
	s.Confidence = adjusted
	return s
}
