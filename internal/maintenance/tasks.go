package maintenance

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math"
	"strings"

	"github.com/coccobas/agent-memory/internal/config"
	"github.com/coccobas/agent-memory/internal/store"
	"github.com/coccobas/agent-memory/internal/vector"
)

// Deps is the shared dependency bag every task closes over: the data
// layer, the vector substrate, the maintenance audit/output repository,
// and the runner's configured thresholds.
type Deps struct {
	Store   *store.Store
	Vector  *vector.Service
	Repo    *store.MaintenanceRepository
	Config  config.MaintenanceConfig
}

func notExecuted() Result { return Result{Executed: false} }

// ExtractionQualityTask analyzes captured experiences for value signal,
// per spec.md §4.4's extractionQuality row. Precondition: at least
// MinSessions completed sessions exist for the scope.
type ExtractionQualityTask struct {
	Deps
	MinSessions int
}

func (t *ExtractionQualityTask) Name() string { return "extractionQuality" }

func (t *ExtractionQualityTask) Run(ctx context.Context, tc TaskContext) (Result, error) {
	sessions := store.NewSessionRepository(t.Store)
	n, err := sessions.CountCompletedSessions(ctx)
	if err != nil {
		return Result{}, err
	}
	if n < t.MinSessions {
		return notExecuted(), nil
	}

	experiences := store.NewEntryRepository(t.Store, store.KindExperience)
	entries, err := experiences.List(ctx, store.ListFilter{Scope: tc.Scope, IncludeInactive: false})
	if err != nil {
		return Result{}, err
	}

	var highValue, lowValue, created int
	for _, e := range entries {
		var content store.ExperienceContent
		if err := json.Unmarshal(e.Content, &content); err != nil {
			continue
		}
		if e.Category == "captured" {
			created++
		}
		// High-value signal: a recorded outcome plus a non-trivial
		// trajectory. Weak captures (no outcome, short content) are
		// counted as low-value for the feedback loop to act on.
		if content.Outcome != "" && len(content.Trajectory) > 0 {
			highValue++
		} else {
			lowValue++
		}
	}

	return Result{
		Executed: true,
		Summary: map[string]any{
			"highValuePatternsFound": highValue,
			"lowValuePatternsFound":  lowValue,
			"experiencesCreated":     created,
		},
	}, nil
}

// DuplicateRefinementTask finds near-duplicate entries by embedding
// similarity and proposes threshold adjustments. Precondition: the vector
// substrate (embedding + vector index) is available.
type DuplicateRefinementTask struct {
	Deps
}

func (t *DuplicateRefinementTask) Name() string { return "duplicateRefinement" }

func (t *DuplicateRefinementTask) Run(ctx context.Context, tc TaskContext) (Result, error) {
	if t.Vector == nil {
		return notExecuted(), nil
	}

	kinds := []store.EntryKind{store.KindKnowledge, store.KindExperience, store.KindGuideline, store.KindTool}
	analyzed, duplicates, adjustments := 0, 0, 0
	for _, kind := range kinds {
		repo := store.NewEntryRepository(t.Store, kind)
		entries, err := repo.List(ctx, store.ListFilter{Scope: tc.Scope})
		if err != nil {
			continue
		}
		vectors := make(map[string][]float32, len(entries))
		for _, e := range entries {
			v, err := t.Vector.StoredVector(ctx, kind, e.ID)
			if err != nil {
				continue
			}
			vectors[e.ID] = v
		}
		ids := make([]string, 0, len(vectors))
		for id := range vectors {
			ids = append(ids, id)
		}
		for i := 0; i < len(ids); i++ {
			for j := i + 1; j < len(ids); j++ {
				analyzed++
				sim := cosineSimilarity(vectors[ids[i]], vectors[ids[j]])
				if sim >= t.Config.EmbeddingSimilarityThreshold {
					duplicates++
				}
			}
		}
	}
	if analyzed > 0 && float64(duplicates)/float64(analyzed) > 0.25 {
		adjustments = 1
		if !tc.DryRun && t.Repo != nil {
			_ = t.Repo.SaveDecision(ctx, &store.ImprovementDecision{
				TaskName: t.Name(), ScopeType: tc.Scope.Type, ScopeID: tc.Scope.ID,
				DecisionType: "threshold_adjustment",
				Detail:       map[string]any{"suggestedThreshold": t.Config.EmbeddingSimilarityThreshold + 0.05},
				Confidence:   0.6,
			})
		}
	}

	return Result{
		Executed: true,
		Summary: map[string]any{
			"candidatesAnalyzed":   analyzed,
			"duplicatesIdentified": duplicates,
			"thresholdAdjustments": adjustments,
		},
	}, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// CategoryAccuracyTask flags knowledge entries whose free-text content
// doesn't match their assigned category against a small keyword-based
// classifier, and stores the discovered mismatch pattern for operator
// review. Precondition: at least one knowledge entry exists.
type CategoryAccuracyTask struct {
	Deps
}

func (t *CategoryAccuracyTask) Name() string { return "categoryAccuracy" }

// categoryKeywords is a minimal heuristic catalog; a production deployment
// would plug in the classifier service instead, but the task's contract
// (analyze, tally, propose) doesn't depend on which backend supplies the
// verdict.
var categoryKeywords = map[string][]string{
	"architecture": {"architecture", "design pattern", "module", "layer"},
	"performance":  {"latency", "throughput", "faster", "benchmark"},
	"security":     {"auth", "credential", "vulnerability", "encrypt"},
}

func (t *CategoryAccuracyTask) Run(ctx context.Context, tc TaskContext) (Result, error) {
	repo := store.NewEntryRepository(t.Store, store.KindKnowledge)
	entries, err := repo.List(ctx, store.ListFilter{Scope: tc.Scope})
	if err != nil {
		return Result{}, err
	}
	if len(entries) == 0 {
		return notExecuted(), nil
	}

	analyzed, miscategorized := 0, 0
	patternsStored := 0
	for _, e := range entries {
		if e.Category == "" {
			continue
		}
		analyzed++
		var content store.KnowledgeContent
		if err := json.Unmarshal(e.Content, &content); err != nil {
			continue
		}
		keywords, ok := categoryKeywords[e.Category]
		if !ok {
			continue
		}
		if !containsAny(content.Content, keywords) {
			miscategorized++
		}
	}

	rate := 0.0
	if analyzed > 0 {
		rate = float64(miscategorized) / float64(analyzed)
	}
	if rate > 0.2 && !tc.DryRun && t.Repo != nil {
		_ = t.Repo.SaveDecision(ctx, &store.ImprovementDecision{
			TaskName: t.Name(), ScopeType: tc.Scope.Type, ScopeID: tc.Scope.ID,
			DecisionType: "category_rule_update",
			Detail:       map[string]any{"miscategorizationRate": rate},
			Confidence:   0.55,
		})
		patternsStored = 1
	}

	return Result{
		Executed: true,
		Summary: map[string]any{
			"entriesAnalyzed":         analyzed,
			"miscategorizationsFound": miscategorized,
			"patternsStored":          patternsStored,
		},
	}, nil
}

func containsAny(haystack string, needles []string) bool {
	lower := strings.ToLower(haystack)
	for _, n := range needles {
		if strings.Contains(lower, strings.ToLower(n)) {
			return true
		}
	}
	return false
}

// RelevanceCalibrationTask examines the relationship between an entry's
// recorded use/success counters and derives an adjustment curve, per
// spec.md's relevanceCalibration row. Precondition: at least one entry
// carries use/success counts.
type RelevanceCalibrationTask struct {
	Deps
}

func (t *RelevanceCalibrationTask) Name() string { return "relevanceCalibration" }

func (t *RelevanceCalibrationTask) Run(ctx context.Context, tc TaskContext) (Result, error) {
	kinds := []store.EntryKind{store.KindTool, store.KindGuideline, store.KindKnowledge, store.KindExperience}
	type bucket struct{ used, observed float64 }
	buckets := map[string]*bucket{}
	totalAdjustment, n := 0.0, 0

	for _, kind := range kinds {
		repo := store.NewEntryRepository(t.Store, kind)
		entries, err := repo.List(ctx, store.ListFilter{Scope: tc.Scope})
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.UseCount == 0 {
				continue
			}
			n++
			successRate := float64(e.SuccessCount) / float64(e.UseCount)
			key := bucketKey(e.UseCount)
			b, ok := buckets[key]
			if !ok {
				b = &bucket{}
				buckets[key] = b
			}
			b.used++
			b.observed += successRate
			totalAdjustment += successRate - 0.5 // deviation from a neutral prior
		}
	}
	if n == 0 {
		return notExecuted(), nil
	}

	avgAdjustment := totalAdjustment / float64(n)
	curve := map[string]float64{}
	for k, b := range buckets {
		if b.used > 0 {
			curve[k] = b.observed / b.used
		}
	}
	stored := false
	if math.Abs(avgAdjustment) > 0.15 {
		if !tc.DryRun && t.Repo != nil {
			curveJSON, _ := json.Marshal(curve)
			_ = t.Repo.SaveDecision(ctx, &store.ImprovementDecision{
				TaskName: t.Name(), ScopeType: tc.Scope.Type, ScopeID: tc.Scope.ID,
				DecisionType: "calibration_curve",
				Detail:       map[string]any{"curve": json.RawMessage(curveJSON), "averageAdjustment": avgAdjustment},
				Confidence:   0.6,
			})
		}
		stored = true
	}

	return Result{
		Executed: true,
		Summary: map[string]any{
			"bucketsComputed":        len(buckets),
			"averageAdjustment":      avgAdjustment,
			"calibrationCurveStored": stored,
		},
	}, nil
}

func bucketKey(useCount int) string {
	switch {
	case useCount < 5:
		return "low"
	case useCount < 25:
		return "medium"
	default:
		return "high"
	}
}

// MessageRelevanceScoringTask buckets unscored session messages into
// high/medium/low relevance tiers. Precondition: an extraction/scoring
// service is available.
type MessageRelevanceScoringTask struct {
	Deps
	Scorer MessageScorer
}

// MessageScorer scores a single message's relevance. Its Score method
// matches internal/session.Scorer; this task buckets the scores itself,
// with the same 0.8/0.5 thresholds.
type MessageScorer interface {
	Score(ctx context.Context, m *store.ConversationMessage) (float64, error)
	IsAvailable() bool
}

func (t *MessageRelevanceScoringTask) Name() string { return "messageRelevanceScoring" }

func (t *MessageRelevanceScoringTask) Run(ctx context.Context, tc TaskContext) (Result, error) {
	if t.Scorer == nil || !t.Scorer.IsAvailable() {
		return notExecuted(), nil
	}
	sessions := store.NewSessionRepository(t.Store)
	// Scope.ID doubles as the session id for a session-scoped run; broader
	// scopes have no single session to target and are intentionally a
	// no-op for this task (it operates per-session by design).
	if tc.Scope.Type != store.ScopeSession || tc.Scope.ID == "" {
		return notExecuted(), nil
	}
	messages, err := sessions.MessagesForSession(ctx, tc.Scope.ID)
	if err != nil {
		return Result{}, err
	}
	counts := map[string]int{"high": 0, "medium": 0, "low": 0}
	for _, m := range messages {
		if m.RelevanceScore != nil {
			continue
		}
		score, err := t.Scorer.Score(ctx, m)
		if err != nil {
			return Result{Executed: true, Errors: []string{err.Error()}}, nil
		}
		if !tc.DryRun {
			if err := sessions.SetMessageRelevance(ctx, m.ID, score); err != nil {
				return Result{Executed: true, Errors: []string{err.Error()}}, nil
			}
		}
		switch {
		case score >= 0.8:
			counts["high"]++
		case score >= 0.5:
			counts["medium"]++
		default:
			counts["low"]++
		}
	}
	return Result{Executed: true, Summary: map[string]any{"messagesScored": counts}}, nil
}

// ExperienceTitleImprovementTask rewrites low-signal experience titles
// (e.g. a truncated verbatim fragment) into a short descriptive phrase.
// Precondition: an extraction service is available to produce the
// improved title.
type ExperienceTitleImprovementTask struct {
	Deps
	Titler TitleImprover
}

// TitleImprover proposes a better title for an experience scenario.
type TitleImprover interface {
	ImproveTitle(ctx context.Context, scenario, content string) (string, error)
	IsAvailable() bool
}

func (t *ExperienceTitleImprovementTask) Name() string { return "experienceTitleImprovement" }

func (t *ExperienceTitleImprovementTask) Run(ctx context.Context, tc TaskContext) (Result, error) {
	if t.Titler == nil || !t.Titler.IsAvailable() {
		return notExecuted(), nil
	}
	repo := store.NewEntryRepository(t.Store, store.KindExperience)
	entries, err := repo.List(ctx, store.ListFilter{Scope: tc.Scope})
	if err != nil {
		return Result{}, err
	}
	improved := 0
	for _, e := range entries {
		var content store.ExperienceContent
		if err := json.Unmarshal(e.Content, &content); err != nil {
			continue
		}
		if len(content.Scenario) > 60 || content.Scenario == "" {
			title, err := t.Titler.ImproveTitle(ctx, content.Scenario, content.Content)
			if err != nil || title == "" {
				continue
			}
			if !tc.DryRun {
				content.Scenario = title
				payload, _ := json.Marshal(content)
				if _, err := repo.Update(ctx, e.ID, store.Patch{Content: payload, ChangeReason: "experienceTitleImprovement"}, "maintenance-runner"); err != nil {
					continue
				}
			}
			improved++
		}
	}
	return Result{Executed: true, Summary: map[string]any{"titlesImproved": improved}}, nil
}

// MessageInsightExtractionTask mines episode message transcripts for
// standalone knowledge fragments. Precondition: an extraction service is
// available and at least one episode has ≥ MinMessages linked messages.
type MessageInsightExtractionTask struct {
	Deps
	MinMessages int
	Extractor   InsightExtractor
}

// InsightExtractor pulls knowledge-worthy fragments out of a message
// transcript.
type InsightExtractor interface {
	ExtractInsights(ctx context.Context, messages []*store.ConversationMessage) ([]string, error)
	IsAvailable() bool
}

func (t *MessageInsightExtractionTask) Name() string { return "messageInsightExtraction" }

func (t *MessageInsightExtractionTask) Run(ctx context.Context, tc TaskContext) (Result, error) {
	if t.Extractor == nil || !t.Extractor.IsAvailable() {
		return notExecuted(), nil
	}
	sessions := store.NewSessionRepository(t.Store)
	episodeIDs, err := sessions.EpisodesWithMinMessages(ctx, t.MinMessages)
	if err != nil {
		return Result{}, err
	}
	if len(episodeIDs) == 0 {
		return notExecuted(), nil
	}

	knowledge := store.NewEntryRepository(t.Store, store.KindKnowledge)
	relations := store.NewRelationRepository(t.Store)
	insights, created, linked := 0, 0, 0
	for _, epID := range episodeIDs {
		messages, err := sessions.MessagesForEpisode(ctx, epID)
		if err != nil {
			continue
		}
		fragments, err := t.Extractor.ExtractInsights(ctx, messages)
		if err != nil {
			continue
		}
		insights += len(fragments)
		if tc.DryRun {
			continue
		}
		var createdIDs []string
		for _, f := range fragments {
			payload, _ := json.Marshal(store.KnowledgeContent{Content: f, Source: "episode:" + epID, Confidence: 0.5})
			e, err := knowledge.Create(ctx, store.CreateInput{
				Scope: tc.Scope, IdentityKey: insightIdentityKey(epID, f), Category: "derived",
				Content: payload, CreatedBy: "maintenance-runner",
			})
			if err != nil {
				continue
			}
			created++
			createdIDs = append(createdIDs, e.ID)
		}
		// Knowledge entries mined from one episode are linked to the first
		// of them (same-episode siblings form one relational cluster the
		// query pipeline's relational producer can traverse), since
		// episodes themselves aren't an EntryKind the relation table can
		// address.
		for i := 1; i < len(createdIDs); i++ {
			if _, err := relations.Link(ctx, tc.Scope, store.KindKnowledge, createdIDs[0], store.KindKnowledge, createdIDs[i], "co-extracted"); err == nil {
				linked++
			}
		}
	}
	return Result{
		Executed: true,
		Summary: map[string]any{
			"insightsExtracted":       insights,
			"knowledgeEntriesCreated": created,
			"relationsCreated":        linked,
		},
	}, nil
}

func insightIdentityKey(episodeID, fragment string) string {
	sum := sha256.Sum256([]byte(fragment))
	return episodeID + "-" + hex.EncodeToString(sum[:8])
}
