package maintenance

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/coccobas/agent-memory/internal/store"
)

// Pattern-detector output, per spec.md §4.4's Librarian pipeline.
type PatternGroup struct {
	Experiences          []*store.Entry
	Exemplar             *store.Entry
	EmbeddingSimilarity  float64
	TrajectorySimilarity float64
	Confidence           float64 // quality-gate adjusted confidence
	SuggestedPattern      string
	CommonActions        []string
	SuccessRate          float64
}

// LibrarianTask runs the pattern detector, quality gate, and recommender
// stages over a scope's experiences. Precondition: at least MinExperiences
// experiences exist for the scope.
type LibrarianTask struct {
	Deps
	MinExperiences  int
	MaxExperiences  int
	ExpirationDays  int
}

func (t *LibrarianTask) Name() string { return "librarian" }

func (t *LibrarianTask) Run(ctx context.Context, tc TaskContext) (Result, error) {
	repo := store.NewEntryRepository(t.Store, store.KindExperience)
	entries, err := repo.List(ctx, store.ListFilter{Scope: tc.Scope, Limit: t.MaxExperiences})
	if err != nil {
		return Result{}, err
	}
	if len(entries) < t.MinExperiences {
		return notExecuted(), nil
	}

	groups := t.detectPatterns(ctx, entries)
	gated := make([]PatternGroup, 0, len(groups))
	autoPromoted, reviewed, rejected := 0, 0, 0
	recommendations := 0

	for _, g := range groups {
		adjusted, disposition := t.qualityGate(g)
		g.Confidence = adjusted
		gated = append(gated, g)

		switch disposition {
		case "auto_promote":
			autoPromoted++
		case "review":
			reviewed++
			if !tc.DryRun && t.Repo != nil {
				rec := t.buildRecommendation(g, tc)
				if err := t.Repo.SaveRecommendation(ctx, rec); err == nil {
					recommendations++
				}
			} else if tc.DryRun {
				recommendations++
			}
		default:
			rejected++
		}
	}

	return Result{
		Executed: true,
		Summary: map[string]any{
			"patternGroupsFound": len(gated),
			"autoPromoted":       autoPromoted,
			"review":             reviewed,
			"rejected":           rejected,
			"recommendations":    recommendations,
		},
	}, nil
}

// detectPatterns pairs up experiences by embedding similarity and
// trajectory similarity, co-clustering pairs that exceed both
// thresholds, then discards clusters smaller than MinPatternSize.
func (t *LibrarianTask) detectPatterns(ctx context.Context, entries []*store.Entry) []PatternGroup {
	contents := make([]store.ExperienceContent, len(entries))
	for i, e := range entries {
		_ = json.Unmarshal(e.Content, &contents[i])
	}

	n := len(entries)
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		if parent[x] != x {
			parent[x] = find(parent[x])
		}
		return parent[x]
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[ra] = rb
		}
	}

	embedSim := make(map[[2]int]float64)
	trajSim := make(map[[2]int]float64)

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			es := t.embeddingSimilarity(ctx, entries[i].ID, entries[j].ID)
			ts := trajectorySimilarity(contents[i].Trajectory, contents[j].Trajectory)
			embedSim[[2]int{i, j}] = es
			trajSim[[2]int{i, j}] = ts
			if es >= t.Config.EmbeddingSimilarityThreshold && ts >= t.Config.TrajectorySimilarityThreshold {
				union(i, j)
			}
		}
	}

	clusters := map[int][]int{}
	for i := 0; i < n; i++ {
		root := find(i)
		clusters[root] = append(clusters[root], i)
	}

	var groups []PatternGroup
	for _, members := range clusters {
		if len(members) < t.Config.MinPatternSize {
			continue
		}
		groups = append(groups, t.buildGroup(entries, contents, members, embedSim, trajSim))
	}
	return groups
}

func (t *LibrarianTask) embeddingSimilarity(ctx context.Context, idA, idB string) float64 {
	va, errA := t.Vector.StoredVector(ctx, store.KindExperience, idA)
	vb, errB := t.Vector.StoredVector(ctx, store.KindExperience, idB)
	if errA != nil || errB != nil {
		return 0
	}
	return cosineSimilarity(va, vb)
}

// trajectorySimilarity computes a normalized longest-common-subsequence
// similarity over the (action, tool) tuple sequence, per spec.md.
func trajectorySimilarity(a, b []store.TrajectoryStep) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	lcs := lcsLength(a, b)
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	return float64(lcs) / float64(longest)
}

func lcsLength(a, b []store.TrajectoryStep) int {
	dp := make([][]int, len(a)+1)
	for i := range dp {
		dp[i] = make([]int, len(b)+1)
	}
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1].Action == b[j-1].Action && a[i-1].Tool == b[j-1].Tool {
				dp[i][j] = dp[i-1][j-1] + 1
			} else if dp[i-1][j] >= dp[i][j-1] {
				dp[i][j] = dp[i-1][j]
			} else {
				dp[i][j] = dp[i][j-1]
			}
		}
	}
	return dp[len(a)][len(b)]
}

func (t *LibrarianTask) buildGroup(entries []*store.Entry, contents []store.ExperienceContent, members []int,
	embedSim, trajSim map[[2]int]float64) PatternGroup {
	var es, ts, successes float64
	var outcomeCount int
	pairs := 0
	actionCounts := map[string]int{}
	groupEntries := make([]*store.Entry, 0, len(members))

	for _, idx := range members {
		groupEntries = append(groupEntries, entries[idx])
		for _, step := range contents[idx].Trajectory {
			actionCounts[step.Action]++
		}
		if contents[idx].Outcome != "" {
			outcomeCount++
			if contents[idx].Outcome == "success" {
				successes++
			}
		}
	}
	for i := 0; i < len(members); i++ {
		for j := i + 1; j < len(members); j++ {
			a, b := members[i], members[j]
			key := [2]int{a, b}
			if a > b {
				key = [2]int{b, a}
			}
			es += embedSim[key]
			ts += trajSim[key]
			pairs++
		}
	}
	if pairs > 0 {
		es /= float64(pairs)
		ts /= float64(pairs)
	}

	successRate := 0.0
	if outcomeCount > 0 {
		successRate = successes / float64(outcomeCount)
	}

	var common []string
	threshold := len(members) / 2
	for action, count := range actionCounts {
		if count > threshold {
			common = append(common, action)
		}
	}
	sort.Strings(common)

	exemplar := groupEntries[0]
	for _, e := range groupEntries {
		if e.UpdatedAt > exemplar.UpdatedAt {
			exemplar = e
		}
	}

	return PatternGroup{
		Experiences:          groupEntries,
		Exemplar:             exemplar,
		EmbeddingSimilarity:  es,
		TrajectorySimilarity: ts,
		SuggestedPattern:      exemplar.IdentityKey,
		CommonActions:        common,
		SuccessRate:          successRate,
	}
}

// qualityGate computes the weighted adjusted confidence and the
// disposition (auto_promote / review / reject), per spec.md's exact
// 0.40/0.20/0.25/0.15 weighting.
func (t *LibrarianTask) qualityGate(g PatternGroup) (float64, string) {
	similarity := (g.EmbeddingSimilarity + g.TrajectorySimilarity) / 2
	patternSize := float64(len(g.Experiences)) / float64(t.MaxExperiences)
	if patternSize > 1 {
		patternSize = 1
	}
	outcomeConsistency := 0.7
	hasOutcomes := false
	for _, e := range g.Experiences {
		var c store.ExperienceContent
		if json.Unmarshal(e.Content, &c) == nil && c.Outcome != "" {
			hasOutcomes = true
			break
		}
	}
	if hasOutcomes {
		outcomeConsistency = g.SuccessRate
	}
	contentQuality := contentQualityScore(g.Experiences)

	adjusted := similarity*0.40 + patternSize*0.20 + outcomeConsistency*0.25 + contentQuality*0.15

	switch {
	case adjusted >= t.Config.AutoPromoteThreshold && len(g.Experiences) >= t.Config.MinPatternSize:
		return adjusted, "auto_promote"
	case adjusted >= t.Config.ReviewThreshold:
		return adjusted, "review"
	default:
		return adjusted, "reject"
	}
}

// contentQualityScore is a length/non-emptiness heuristic: experiences
// with substantive recorded content score higher, capped at 1.
func contentQualityScore(entries []*store.Entry) float64 {
	if len(entries) == 0 {
		return 0
	}
	total := 0.0
	for _, e := range entries {
		var c store.ExperienceContent
		_ = json.Unmarshal(e.Content, &c)
		score := 0.0
		if len(c.Content) > 40 {
			score += 0.6
		}
		if len(c.Trajectory) > 0 {
			score += 0.4
		}
		total += score
	}
	return total / float64(len(entries))
}

func (t *LibrarianTask) buildRecommendation(g PatternGroup, tc TaskContext) *store.Recommendation {
	ids := make([]string, len(g.Experiences))
	for i, e := range g.Experiences {
		ids[i] = e.ID
	}
	expires := time.Now().AddDate(0, 0, t.ExpirationDays).UnixMilli()
	return &store.Recommendation{
		ScopeType:           tc.Scope.Type,
		ScopeID:             tc.Scope.ID,
		Type:                "pattern",
		Title:               "Recurring pattern: " + g.SuggestedPattern,
		Pattern:             g.SuggestedPattern,
		Applicability:       strings.Join(g.CommonActions, ", "),
		Rationale:           "detected across experiences with similar embeddings and trajectories",
		Confidence:          g.Confidence,
		SourceExperienceIDs: ids,
		AnalysisRunID:       tc.RunID,
		CreatedBy:           "librarian",
		ExpiresAt:           &expires,
	}
}

