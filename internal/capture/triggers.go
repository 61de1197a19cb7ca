package capture

import (
	"strings"
	"unicode"

	"github.com/coregx/ahocorasick"
)

// correctionPhrases are surface forms of a user walking back something the
// assistant just did, per spec.md §4.3.1.
var correctionPhrases = []string{
	"no", "actually", "i meant", "wrong", "that's not right", "not quite",
	"incorrect", "that's wrong", "i said", "instead",
}

// enthusiasmPhrases are positive-reaction surface forms.
var enthusiasmPhrases = []string{
	"perfect", "great", "love it", "awesome", "excellent", "nice work",
	"exactly", "that's it", "works great", "amazing",
}

// negationPhrases suppress an enthusiasm match when found in the 30-char
// look-back window before the matched phrase.
var negationPhrases = []string{"not", "n't", "never", "hardly"}

// successPhrases are verbal confirmations that follow a prior error,
// recognized alongside a ToolSuccess flag for ERROR_RECOVERY.
var successPhrases = []string{
	"that worked", "fixed it", "works now", "all good now", "resolved",
}

// Detector builds a single Aho-Corasick automaton over every phrase table,
// the same dual-purpose dictionary-and-scanner shape the teacher's
// implicit-matcher uses. Each rule runs its own scan of the message it
// inspects; the enthusiasm rule locates its phrase with strings.Index.
type Detector struct {
	MinConfidenceScore float64
	RepeatedThreshold  float64
	RepeatedMinHits     int

	ac         *ahocorasick.Automaton
	categories []string // parallel to pattern order; "correction" | "enthusiasm" | "success"

	history map[string][]string // sessionID -> recent canonicalized user messages
}

// NewDetector compiles the phrase automaton. minConfidenceScore gates which
// detections the orchestrator forwards.
func NewDetector(minConfidenceScore float64) (*Detector, error) {
	d := &Detector{
		MinConfidenceScore: minConfidenceScore,
		RepeatedThreshold:  0.85,
		RepeatedMinHits:    2,
		history:            map[string][]string{},
	}

	var patterns []string
	add := func(category string, phrases []string) {
		for _, p := range phrases {
			patterns = append(patterns, canonicalize(p))
			d.categories = append(d.categories, category)
		}
	}
	add("correction", correctionPhrases)
	add("enthusiasm", enthusiasmPhrases)
	add("success", successPhrases)

	ac, err := ahocorasick.NewBuilder().
		AddStrings(patterns).
		SetMatchKind(ahocorasick.LeftmostLongest).
		SetPrefilter(true).
		Build()
	if err != nil {
		return nil, err
	}
	d.ac = ac
	return d, nil
}

// canonicalize lowercases and collapses whitespace, the minimal
// normalization the phrase tables need (a narrower pass than the entity
// canonicalizer since trigger phrases are plain English, not names).
func canonicalize(s string) string {
	var b strings.Builder
	lastSpace := true
	for _, r := range s {
		r = unicode.ToLower(r)
		if unicode.IsSpace(r) {
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
			continue
		}
		b.WriteRune(r)
		lastSpace = false
	}
	return strings.TrimSpace(b.String())
}

func (d *Detector) scan(text string) map[string]bool {
	hit := map[string]bool{}
	if d.ac == nil {
		return hit
	}
	canon := canonicalize(text)
	for _, m := range d.ac.FindAllOverlapping([]byte(canon)) {
		if m.PatternID >= 0 && m.PatternID < len(d.categories) {
			hit[d.categories[m.PatternID]] = true
		}
	}
	return hit
}

// containsNegationNear reports whether any negation phrase appears within
// lookback characters before idx in text.
func containsNegationNear(text string, idx, lookback int) bool {
	start := idx - lookback
	if start < 0 {
		start = 0
	}
	window := canonicalize(text[start:idx])
	for _, n := range negationPhrases {
		if strings.Contains(window, n) {
			return true
		}
	}
	return false
}

// Detect runs every rule over window, the recent messages for one session
// ending in the newest message, and returns every detection clearing
// MinConfidenceScore.
func (d *Detector) Detect(window []Message) []Detection {
	if len(window) == 0 {
		return nil
	}
	var out []Detection
	latest := window[len(window)-1]

	if latest.Role == "user" {
		if det, ok := d.detectCorrection(window, latest); ok {
			out = append(out, det)
		}
		if det, ok := d.detectEnthusiasm(latest); ok {
			out = append(out, det)
		}
		if det, ok := d.detectRepeated(latest); ok {
			out = append(out, det)
		}
	}
	if det, ok := d.detectErrorRecovery(window, latest); ok {
		out = append(out, det)
	}

	d.recordHistory(latest)
	return filterByThreshold(out, d.MinConfidenceScore)
}

func filterByThreshold(dets []Detection, min float64) []Detection {
	out := dets[:0]
	for _, d := range dets {
		if d.Score >= min {
			out = append(out, d)
		}
	}
	return out
}

func (d *Detector) detectCorrection(window []Message, latest Message) (Detection, bool) {
	if len(window) < 2 {
		return Detection{}, false
	}
	prior := window[len(window)-2]
	if prior.Role != "assistant" {
		return Detection{}, false
	}
	hits := d.scan(latest.Content)
	if !hits["correction"] {
		return Detection{}, false
	}
	return Detection{
		Type:             TriggerUserCorrection,
		Score:            0.8,
		Confidence:       levelFor(0.8),
		Reason:           "user message follows an assistant turn and contains a correction phrase",
		ExtractedContent: latest.Content,
	}, true
}

func (d *Detector) detectEnthusiasm(latest Message) (Detection, bool) {
	canon := canonicalize(latest.Content)
	idx := -1
	matchedPhrase := ""
	for _, p := range enthusiasmPhrases {
		cp := canonicalize(p)
		if i := strings.Index(canon, cp); i >= 0 {
			idx = i
			matchedPhrase = cp
			break
		}
	}
	if idx < 0 {
		return Detection{}, false
	}
	if containsNegationNear(canon, idx, 30) {
		return Detection{}, false
	}
	if strings.Contains(canon, "?") {
		return Detection{}, false
	}

	score := 0.5
	score += 0.1 * float64(strings.Count(latest.Content, "!"))
	// End-of-message position boosts confidence: the phrase is the payoff,
	// not an aside.
	if idx+len(matchedPhrase) >= len(canon)-3 {
		score += 0.15
	}
	if score > 1 {
		score = 1
	}
	return Detection{
		Type:             TriggerEnthusiasm,
		Score:            score,
		Confidence:       levelFor(score),
		Reason:           "positive phrase detected without negation or question markers",
		ExtractedContent: latest.Content,
	}, true
}

func (d *Detector) detectErrorRecovery(window []Message, latest Message) (Detection, bool) {
	if len(window) < 2 {
		return Detection{}, false
	}
	prior := window[len(window)-2]
	if !prior.HasError {
		return Detection{}, false
	}
	hits := d.scan(latest.Content)
	if latest.ToolSuccess || hits["success"] {
		return Detection{
			Type:             TriggerErrorRecovery,
			Score:            0.75,
			Confidence:       levelFor(0.75),
			Reason:           "prior message flagged an error, followed by success signal",
			ExtractedContent: latest.Content,
		}, true
	}
	return Detection{}, false
}

func (d *Detector) detectRepeated(latest Message) (Detection, bool) {
	hist := d.history[latest.SessionID]
	canon := canonicalize(latest.Content)
	if canon == "" {
		return Detection{}, false
	}
	hits := 0
	for _, h := range hist {
		if jaccardSimilarity(canon, h) >= d.RepeatedThreshold {
			hits++
		}
	}
	if hits < d.RepeatedMinHits {
		return Detection{}, false
	}
	score := 0.5 + 0.1*float64(hits)
	if score > 1 {
		score = 1
	}
	return Detection{
		Type:             TriggerRepeatedRequest,
		Score:            score,
		Confidence:       levelFor(score),
		Reason:           "message closely matches multiple prior requests this session",
		ExtractedContent: latest.Content,
	}, true
}

func (d *Detector) recordHistory(latest Message) {
	if latest.Role != "user" {
		return
	}
	canon := canonicalize(latest.Content)
	if canon == "" {
		return
	}
	hist := d.history[latest.SessionID]
	hist = append(hist, canon)
	if len(hist) > 50 {
		hist = hist[len(hist)-50:]
	}
	d.history[latest.SessionID] = hist
}

// jaccardSimilarity compares two strings by their word-set overlap, a
// lightweight, dependency-free stand-in for the "configurable similarity
// threshold" spec.md §4.3.1 leaves unspecified in implementation.
func jaccardSimilarity(a, b string) float64 {
	setA := wordSet(a)
	setB := wordSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	inter := 0
	for w := range setA {
		if setB[w] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func wordSet(s string) map[string]bool {
	out := map[string]bool{}
	for _, w := range strings.Fields(s) {
		out[w] = true
	}
	return out
}
