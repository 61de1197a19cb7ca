package capture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coccobas/agent-memory/internal/apperr"
	"github.com/coccobas/agent-memory/internal/store"
)

// ErrPendingSuggestionNotFound is returned by ApproveSuggestion for an
// unknown or already-resolved id.
var ErrPendingSuggestionNotFound = errors.New("capture: pending suggestion not found")

// errUnknownEntryKind guards encodeContent against a SuggestionType with
// no corresponding store.EntryKind (SuggestNone never reaches here).
var errUnknownEntryKind = errors.New("capture: unknown entry kind")

// Default routing thresholds, per spec.md §4.3.2. queueThreshold has no
// named default in the text; 0.3 keeps genuinely marginal extractions out
// of the classifier queue while still giving the classifier a shot at
// anything the regex pass found plausible.
const (
	regexAutoStoreThreshold = 0.85
	queueThreshold          = 0.3
	minNonTrivialLength     = 20
)

// PendingSuggestion is a suggest-path item awaiting operator review.
type PendingSuggestion struct {
	ID         string
	Suggestion Suggestion
	CreatedAt  int64
}

// Pipeline wires the trigger detector, extractor, confidence booster,
// classification queue, and confidence router into the end-to-end capture
// flow described in spec.md §4.3.
type Pipeline struct {
	Store      *store.Store
	Scope      store.Scope
	Detector   *Detector
	Classifier Classifier
	Queue      *Queue
	Logger     *slog.Logger

	// CooldownMs is the per-session suppression window from spec.md
	// §4.3.1: if Observe forwarded a session's triggers within the last
	// CooldownMs, a subsequent call still detects but does not forward.
	// Zero disables cooldown entirely.
	CooldownMs int64

	mu           sync.Mutex
	pending      map[string]PendingSuggestion
	seen         map[string]bool  // content hashes already routed, at-most-once per fragment
	lastForward  map[string]int64 // sessionID -> unix-milli of last forwarded Observe call
	nowFunc      func() int64     // overridable for tests; defaults to time.Now().UnixMilli
}

// NewPipeline builds a capture Pipeline. classifier may be a
// *HTTPClassifier with an empty BaseURL, which behaves as "unavailable".
// cooldownMs is spec.md §4.3.1's per-session forward-suppression window.
func NewPipeline(s *store.Store, scope store.Scope, detector *Detector, classifier Classifier, queue *Queue, logger *slog.Logger, cooldownMs int64) *Pipeline {
	return &Pipeline{
		Store:       s,
		Scope:       scope,
		Detector:    detector,
		Classifier:  classifier,
		Queue:       queue,
		Logger:      logger,
		CooldownMs:  cooldownMs,
		pending:     map[string]PendingSuggestion{},
		seen:        map[string]bool{},
		lastForward: map[string]int64{},
		nowFunc:     func() int64 { return time.Now().UnixMilli() },
	}
}

// Observe runs the full detector -> extractor -> booster -> router chain
// over a sliding window ending in the newest message. Detection always
// runs; forwarding to extraction/routing is suppressed while the
// session's cooldown window (spec.md §4.3.1) is still active. Errors are
// logged (no error count is kept) and never propagated to the caller, per spec.md's
// "capture pipeline errors never break the caller" invariant.
func (p *Pipeline) Observe(ctx context.Context, window []Message) {
	detections := p.Detector.Detect(window)
	if len(detections) == 0 {
		return
	}

	sessionID := ""
	if len(window) > 0 {
		sessionID = window[len(window)-1].SessionID
	}
	if !p.allowForward(sessionID) {
		return
	}

	for _, det := range detections {
		suggestions := Extract(det.ExtractedContent, det.Type)
		for _, s := range suggestions {
			boosted := Boost(s, det.ExtractedContent)
			if err := p.route(ctx, boosted); err != nil {
				p.logf("route suggestion: %v", err)
			}
		}
	}
}

// allowForward reports whether sessionID's cooldown window has elapsed
// and, if so, records this call as the new last-forwarded time.
func (p *Pipeline) allowForward(sessionID string) bool {
	if p.CooldownMs <= 0 {
		return true
	}
	now := p.nowFunc()
	p.mu.Lock()
	defer p.mu.Unlock()
	if last, ok := p.lastForward[sessionID]; ok && now-last < p.CooldownMs {
		return false
	}
	p.lastForward[sessionID] = now
	return true
}

func (p *Pipeline) logf(format string, args ...any) {
	if p.Logger != nil {
		p.Logger.Warn(fmt.Sprintf(format, args...))
	}
}

// route applies spec.md §4.3.2's routing rule to one suggestion.
func (p *Pipeline) route(ctx context.Context, s Suggestion) error {
	p.mu.Lock()
	if p.seen[s.Hash] {
		p.mu.Unlock()
		return nil
	}
	p.seen[s.Hash] = true
	p.mu.Unlock()

	switch {
	case s.Confidence >= regexAutoStoreThreshold:
		return p.autoStore(ctx, s)
	case len(strings.TrimSpace(s.Content)) >= minNonTrivialLength && s.Confidence >= queueThreshold:
		id := p.Queue.Enqueue(s.Content, string(s.Trigger))
		if id == "" {
			return nil // queue disabled
		}
		go p.classifyAndRoute(ctx, id, s)
		return nil
	default:
		return nil // discard
	}
}

// classifyAndRoute drains one enqueued item through the classifier and
// applies its own autoStore/suggest verdict, independent of the regex
// pass's thresholds.
func (p *Pipeline) classifyAndRoute(ctx context.Context, id string, s Suggestion) {
	item := p.Queue.Next()
	if item == nil || item.ID != id {
		return
	}
	result, err := p.Classifier.Classify(ctx, s.Content)
	p.Queue.Complete(item, result, err)
	if err != nil {
		p.logf("classify: %v", err)
		return
	}
	if result.Type == SuggestNone || result.Confidence == 0 {
		return
	}
	classified := Suggestion{
		Type:       result.Type,
		Title:      s.Title,
		Content:    s.Content,
		Confidence: result.Confidence,
		Trigger:    s.Trigger,
		Hash:       s.Hash,
	}
	if result.AutoStore {
		if err := p.autoStore(ctx, classified); err != nil {
			p.logf("auto-store classified suggestion: %v", err)
		}
		return
	}
	if result.Suggest {
		p.addPending(classified)
	}
}

func (p *Pipeline) addPending(s Suggestion) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := uuid.NewString()
	p.pending[id] = PendingSuggestion{ID: id, Suggestion: s, CreatedAt: time.Now().UnixMilli()}
	return id
}

// ApproveSuggestion commits a pending suggestion as a repository write.
func (p *Pipeline) ApproveSuggestion(ctx context.Context, id string) error {
	p.mu.Lock()
	ps, ok := p.pending[id]
	if ok {
		delete(p.pending, id)
	}
	p.mu.Unlock()
	if !ok {
		return ErrPendingSuggestionNotFound
	}
	return p.autoStore(ctx, ps.Suggestion)
}

// RejectSuggestion discards a pending suggestion.
func (p *Pipeline) RejectSuggestion(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.pending, id)
}

// ClearSuggestions discards every pending suggestion.
func (p *Pipeline) ClearSuggestions() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = map[string]PendingSuggestion{}
}

// PendingSuggestions lists every suggestion awaiting operator review.
func (p *Pipeline) PendingSuggestions() []PendingSuggestion {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PendingSuggestion, 0, len(p.pending))
	for _, ps := range p.pending {
		out = append(out, ps)
	}
	return out
}

// autoStore writes s as a new entry at p.Scope, using its content hash as
// the identity key prefix since captured suggestions have no operator-
// assigned name.
func (p *Pipeline) autoStore(ctx context.Context, s Suggestion) error {
	kind := s.Type.Kind()
	if kind == "" {
		return nil
	}
	content, err := encodeContent(kind, s)
	if err != nil {
		return err
	}
	repo := store.NewEntryRepository(p.Store, kind)
	_, err = repo.Create(ctx, store.CreateInput{
		Scope:       p.Scope,
		IdentityKey: s.Hash[:16],
		Category:    "captured",
		Content:     content,
		CreatedBy:   "capture-pipeline",
	})
	if err != nil && apperr.CodeOf(err) == apperr.CodeConflict {
		// Already captured by a concurrent path for this identity: not an
		// error, the at-most-once guarantee held.
		return nil
	}
	return err
}

func encodeContent(kind store.EntryKind, s Suggestion) ([]byte, error) {
	switch kind {
	case store.KindTool:
		return json.Marshal(store.ToolContent{Description: s.Content})
	case store.KindGuideline:
		return json.Marshal(store.GuidelineContent{Content: s.Content})
	case store.KindKnowledge:
		return json.Marshal(store.KnowledgeContent{Content: s.Content, Confidence: s.Confidence})
	case store.KindExperience:
		return json.Marshal(store.ExperienceContent{Scenario: s.Title, Content: s.Content})
	default:
		return nil, errUnknownEntryKind
	}
}
