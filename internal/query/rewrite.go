package query

import "strings"

// SearchQuery is one rewritten query variant to feed candidate generation.
type SearchQuery struct {
	Text   string
	Weight float64
	Source string // original | expansion | hyde | decomposition
}

// RewriteResult is the rewrite stage's output.
type RewriteResult struct {
	Queries  []SearchQuery
	Intent   Intent
	Strategy string
}

// intentPhrases is the fixed keyword table spec.md §4.2.1 and the
// GLOSSARY reference for intent inference. Checked in this priority order
// since a query can match more than one category.
var intentPhrases = []struct {
	intent  Intent
	phrases []string
}{
	{IntentDebug, []string{"error", "exception", "stack trace", "fails", "failing", "bug", "crash", "traceback"}},
	{IntentHowTo, []string{"how to", "how do i", "how can i", "steps to", "guide"}},
	{IntentCompare, []string{"vs", "versus", "compare", "difference between", "better than"}},
	{IntentConfigure, []string{"configure", "setup", "set up", "install", "settings"}},
	{IntentExplore, []string{"what are", "explore", "overview", "options for", "alternatives"}},
}

// Rewrite produces the ordered SearchQuery list and inferred intent for a
// request. Early return per spec: disabled rewrite or an empty query
// yields only the original at weight 1.0 with no rewrite record beyond
// strategy "direct".
func Rewrite(req Request) RewriteResult {
	text := strings.TrimSpace(req.Text)
	if req.Flags.DisableRewrite || text == "" {
		return RewriteResult{
			Queries:  []SearchQuery{{Text: text, Weight: 1.0, Source: "original"}},
			Intent:   inferIntent(text),
			Strategy: "direct",
		}
	}

	queries := []SearchQuery{{Text: text, Weight: 1.0, Source: "original"}}
	if req.Flags.EnableExpansion {
		queries = append(queries, SearchQuery{Text: expand(text), Weight: 0.7, Source: "expansion"})
	}
	if req.Flags.EnableHyDE {
		queries = append(queries, SearchQuery{Text: hyde(text), Weight: 0.6, Source: "hyde"})
	}
	if req.Flags.EnableDecomposition {
		for _, sub := range decompose(text) {
			queries = append(queries, SearchQuery{Text: sub, Weight: 0.5, Source: "decomposition"})
		}
	}

	strategy := "direct"
	switch {
	case req.Flags.EnableHyDE && req.Flags.EnableExpansion:
		strategy = "hybrid"
	case req.Flags.EnableHyDE:
		strategy = "hyde"
	case req.Flags.EnableExpansion:
		strategy = "expansion"
	case req.Flags.EnableDecomposition:
		strategy = "decomposition"
	}

	return RewriteResult{Queries: queries, Intent: inferIntent(text), Strategy: strategy}
}

func inferIntent(text string) Intent {
	lower := strings.ToLower(text)
	for _, bucket := range intentPhrases {
		for _, phrase := range bucket.phrases {
			if strings.Contains(lower, phrase) {
				return bucket.intent
			}
		}
	}
	return IntentLookup
}

// expand appends a small set of query-expansion synonyms; deterministic
// and dependency-free so the pipeline's determinism guarantee holds
// without a live expansion service.
func expand(text string) string {
	return text + " " + synonymHint(text)
}

func synonymHint(text string) string {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "error"):
		return "failure exception issue"
	case strings.Contains(lower, "config"):
		return "configuration settings setup"
	default:
		return ""
	}
}

// hyde produces a hypothetical-document-style expansion: a templated
// sentence that restates the query as an answer, the standard HyDE trick
// of searching with the *shape* of an answer rather than the question.
func hyde(text string) string {
	return "Documentation describing " + text + " and how it is used in practice."
}

// decompose splits a compound query on commas and semicolons into
// sub-queries, returning nil when there is only one part.
func decompose(text string) []string {
	parts := strings.FieldsFunc(text, func(r rune) bool {
		return r == ',' || r == ';'
	})
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) <= 1 {
		return nil
	}
	return out
}
