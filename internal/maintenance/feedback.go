package maintenance

import (
	"context"
	"math"

	"github.com/coccobas/agent-memory/internal/store"
)

// FeedbackLoopTask consumes the most recent run of every other task and
// proposes policy changes per spec.md §4.4's four decision rules.
// Precondition: at least one other task has executed for this scope.
type FeedbackLoopTask struct {
	Deps
	MinConfidenceForApplication float64
}

func (t *FeedbackLoopTask) Name() string { return "feedbackLoop" }

func (t *FeedbackLoopTask) Run(ctx context.Context, tc TaskContext) (Result, error) {
	if t.Repo == nil {
		return notExecuted(), nil
	}

	executed := false
	improvements, policyUpdates, thresholdUpdates, decisionsStored := 0, 0, 0, 0

	if run := t.latestScopedRun(ctx, "extractionQuality", tc.Scope); run != nil {
		executed = true
		lowValue, _ := run.Summary["lowValuePatternsFound"].(float64)
		highValue, _ := run.Summary["highValuePatternsFound"].(float64)
		if lowValue > 2*highValue && highValue >= 0 {
			d := &store.ImprovementDecision{
				TaskName: t.Name(), ScopeType: tc.Scope.Type, ScopeID: tc.Scope.ID,
				DecisionType: "extraction_policy_weight_down",
				Detail:       map[string]any{"lowValue": lowValue, "highValue": highValue},
				Confidence:   0.65,
			}
			if t.store(ctx, d, tc) {
				policyUpdates++
				improvements++
			}
			decisionsStored++
		}
	}

	if run := t.latestScopedRun(ctx, "duplicateRefinement", tc.Scope); run != nil {
		executed = true
		adjustments, _ := run.Summary["thresholdAdjustments"].(float64)
		if adjustments > 0 && t.Config.LLMMaintenanceTasksEnabled {
			d := &store.ImprovementDecision{
				TaskName: t.Name(), ScopeType: tc.Scope.Type, ScopeID: tc.Scope.ID,
				DecisionType: "duplicate_threshold_update",
				Detail:       map[string]any{"thresholdAdjustments": adjustments},
				Confidence:   0.6,
			}
			if t.store(ctx, d, tc) {
				thresholdUpdates++
				improvements++
			}
			decisionsStored++
		}
	}

	if run := t.latestScopedRun(ctx, "categoryAccuracy", tc.Scope); run != nil {
		executed = true
		analyzed, _ := run.Summary["entriesAnalyzed"].(float64)
		miscategorized, _ := run.Summary["miscategorizationsFound"].(float64)
		if analyzed > 0 && miscategorized/analyzed > 0.2 {
			d := &store.ImprovementDecision{
				TaskName: t.Name(), ScopeType: tc.Scope.Type, ScopeID: tc.Scope.ID,
				DecisionType: "category_rule_update",
				Detail:       map[string]any{"miscategorizationRate": miscategorized / analyzed},
				Confidence:   0.55,
			}
			if t.store(ctx, d, tc) {
				policyUpdates++
				improvements++
			}
			decisionsStored++
		}
	}

	if run := t.latestScopedRun(ctx, "relevanceCalibration", tc.Scope); run != nil {
		executed = true
		avgAdjustment, _ := run.Summary["averageAdjustment"].(float64)
		if math.Abs(avgAdjustment) > 0.15 {
			d := &store.ImprovementDecision{
				TaskName: t.Name(), ScopeType: tc.Scope.Type, ScopeID: tc.Scope.ID,
				DecisionType: "calibration_curve_publish",
				Detail:       map[string]any{"averageAdjustment": avgAdjustment},
				Confidence:   0.6,
			}
			if t.store(ctx, d, tc) {
				improvements++
			}
			decisionsStored++
		}
	}

	if !executed {
		return notExecuted(), nil
	}

	return Result{
		Executed: true,
		Summary: map[string]any{
			"improvementsApplied": improvements,
			"policyUpdates":       policyUpdates,
			"thresholdUpdates":    thresholdUpdates,
			"decisionsStored":     decisionsStored,
		},
	}, nil
}

// latestScopedRun returns the most recent recorded run of taskName
// matching scope, or nil if none exists yet.
func (t *FeedbackLoopTask) latestScopedRun(ctx context.Context, taskName string, scope store.Scope) *store.MaintenanceRun {
	runs, err := t.Repo.RecentRuns(ctx, taskName, 10)
	if err != nil {
		return nil
	}
	for _, r := range runs {
		if r.ScopeType == scope.Type && r.ScopeID == scope.ID && r.Executed {
			return r
		}
	}
	return nil
}

// store persists an improvement decision, marking it applied only when its
// confidence clears minConfidenceForApplication and the run isn't dry.
// Decisions below threshold are still stored (per spec.md), just not
// counted as "applied".
func (t *FeedbackLoopTask) store(ctx context.Context, d *store.ImprovementDecision, tc TaskContext) bool {
	apply := d.Confidence >= t.MinConfidenceForApplication
	d.Applied = apply && !tc.DryRun
	if !tc.DryRun {
		_ = t.Repo.SaveDecision(ctx, d)
	}
	return d.Applied
}
