package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/coccobas/agent-memory/internal/apperr"
)

// RecommendationStatus is a Recommendation's review-workflow state.
type RecommendationStatus string

const (
	RecommendationPending  RecommendationStatus = "pending"
	RecommendationAccepted RecommendationStatus = "accepted"
	RecommendationRejected RecommendationStatus = "rejected"
	RecommendationExpired  RecommendationStatus = "expired"
)

// Recommendation is a librarian-task output surfaced for operator review,
// per spec.md §4.4's Librarian pipeline recommender stage.
type Recommendation struct {
	ID                  string
	ScopeType           ScopeType
	ScopeID             string
	Type                string
	Title               string
	Pattern             string
	Applicability       string
	Rationale           string
	Confidence          float64
	SourceExperienceIDs []string
	Status              RecommendationStatus
	AnalysisRunID       string
	CreatedBy           string
	CreatedAt           int64
	ExpiresAt           *int64
}

// ImprovementDecision is a feedback-loop task's proposed policy change,
// per spec.md §4.4's feedback-loop rules table.
type ImprovementDecision struct {
	ID           string
	TaskName     string
	ScopeType    ScopeType
	ScopeID      string
	DecisionType string
	Detail       map[string]any
	Confidence   float64
	Applied      bool
	CreatedAt    int64
}

// MaintenanceRun is one scheduled task execution's audit record.
type MaintenanceRun struct {
	ID         string
	TaskName   string
	ScopeType  ScopeType
	ScopeID    string
	DryRun     bool
	Executed   bool
	DurationMs int64
	Errors     []string
	Summary    map[string]any
	StartedAt  int64
}

// MaintenanceRepository persists the maintenance runner's audit trail and
// the librarian/feedback-loop tasks' durable outputs. Grounded on the same
// store.mu-guarded, plain-SQL pattern as SessionRepository — the runner
// has no bespoke concurrency needs beyond what Store already serializes.
type MaintenanceRepository struct {
	store *Store
}

func NewMaintenanceRepository(s *Store) *MaintenanceRepository { return &MaintenanceRepository{store: s} }

// RecordRun persists one task execution's result.
func (r *MaintenanceRepository) RecordRun(ctx context.Context, run *MaintenanceRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt == 0 {
		run.StartedAt = time.Now().UnixMilli()
	}
	errs, _ := json.Marshal(run.Errors)
	summary, _ := json.Marshal(run.Summary)
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	_, err := r.store.db.ExecContext(ctx, `
		INSERT INTO maintenance_runs (id, task_name, scope_type, scope_id, dry_run, executed, duration_ms, errors, summary, started_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)
	`, run.ID, run.TaskName, run.ScopeType, nullable(run.ScopeID), boolToInt(run.DryRun), boolToInt(run.Executed),
		run.DurationMs, string(errs), string(summary), run.StartedAt)
	if err != nil {
		return apperr.New(apperr.CodeDatabaseError, "record maintenance run").Wrap(err)
	}
	return nil
}

// RecentRuns lists the most recent runs for a task name, newest first,
// used by downstream tasks (e.g. feedbackLoop) that consume other tasks'
// signals.
func (r *MaintenanceRepository) RecentRuns(ctx context.Context, taskName string, limit int) ([]*MaintenanceRun, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	rows, err := r.store.db.QueryContext(ctx, `
		SELECT id, task_name, scope_type, scope_id, dry_run, executed, duration_ms, errors, summary, started_at
		FROM maintenance_runs WHERE task_name = ? ORDER BY started_at DESC LIMIT ?
	`, taskName, limit)
	if err != nil {
		return nil, apperr.New(apperr.CodeDatabaseError, "list maintenance runs").Wrap(err)
	}
	defer rows.Close()
	var out []*MaintenanceRun
	for rows.Next() {
		run, err := scanMaintenanceRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, nil
}

func scanMaintenanceRun(rows *sql.Rows) (*MaintenanceRun, error) {
	var run MaintenanceRun
	var scopeID sql.NullString
	var dryRun, executed int
	var errs, summary string
	if err := rows.Scan(&run.ID, &run.TaskName, &run.ScopeType, &scopeID, &dryRun, &executed,
		&run.DurationMs, &errs, &summary, &run.StartedAt); err != nil {
		return nil, apperr.New(apperr.CodeDatabaseError, "scan maintenance run").Wrap(err)
	}
	run.ScopeID = scopeID.String
	run.DryRun = dryRun != 0
	run.Executed = executed != 0
	_ = json.Unmarshal([]byte(errs), &run.Errors)
	run.Summary = map[string]any{}
	_ = json.Unmarshal([]byte(summary), &run.Summary)
	return &run, nil
}

// SaveRecommendation persists a librarian recommendation, skipped entirely
// in dry-run mode by the caller (spec.md: "persisted unless dryRun").
func (r *MaintenanceRepository) SaveRecommendation(ctx context.Context, rec *Recommendation) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt == 0 {
		rec.CreatedAt = time.Now().UnixMilli()
	}
	if rec.Status == "" {
		rec.Status = RecommendationPending
	}
	ids, _ := json.Marshal(rec.SourceExperienceIDs)
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	_, err := r.store.db.ExecContext(ctx, `
		INSERT INTO recommendations (id, scope_type, scope_id, rec_type, title, pattern, applicability, rationale,
			confidence, source_experience_ids, status, analysis_run_id, created_by, created_at, expires_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
	`, rec.ID, rec.ScopeType, nullable(rec.ScopeID), rec.Type, rec.Title, rec.Pattern, rec.Applicability, rec.Rationale,
		rec.Confidence, string(ids), rec.Status, rec.AnalysisRunID, rec.CreatedBy, rec.CreatedAt, rec.ExpiresAt)
	if err != nil {
		return apperr.New(apperr.CodeDatabaseError, "save recommendation").Wrap(err)
	}
	return nil
}

// ListRecommendations lists recommendations for a scope, optionally
// filtered to pending ones.
func (r *MaintenanceRepository) ListRecommendations(ctx context.Context, scope Scope, pendingOnly bool) ([]*Recommendation, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	q := `SELECT id, scope_type, scope_id, rec_type, title, pattern, applicability, rationale, confidence,
		source_experience_ids, status, analysis_run_id, created_by, created_at, expires_at
		FROM recommendations WHERE scope_type = ? AND scope_id IS ?`
	args := []any{scope.Type, nullable(scope.ID)}
	if pendingOnly {
		q += " AND status = ?"
		args = append(args, RecommendationPending)
	}
	q += " ORDER BY created_at DESC"
	rows, err := r.store.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, apperr.New(apperr.CodeDatabaseError, "list recommendations").Wrap(err)
	}
	defer rows.Close()
	var out []*Recommendation
	for rows.Next() {
		var rec Recommendation
		var scopeID, pattern, applicability, rationale, analysisRunID, createdBy sql.NullString
		var ids string
		var expiresAt sql.NullInt64
		if err := rows.Scan(&rec.ID, &rec.ScopeType, &scopeID, &rec.Type, &rec.Title, &pattern, &applicability,
			&rationale, &rec.Confidence, &ids, &rec.Status, &analysisRunID, &createdBy, &rec.CreatedAt, &expiresAt); err != nil {
			return nil, apperr.New(apperr.CodeDatabaseError, "scan recommendation").Wrap(err)
		}
		rec.ScopeID, rec.Pattern, rec.Applicability, rec.Rationale = scopeID.String, pattern.String, applicability.String, rationale.String
		rec.AnalysisRunID, rec.CreatedBy = analysisRunID.String, createdBy.String
		_ = json.Unmarshal([]byte(ids), &rec.SourceExperienceIDs)
		if expiresAt.Valid {
			v := expiresAt.Int64
			rec.ExpiresAt = &v
		}
		out = append(out, &rec)
	}
	return out, nil
}

// ResolveRecommendation marks a recommendation accepted or rejected.
func (r *MaintenanceRepository) ResolveRecommendation(ctx context.Context, id string, status RecommendationStatus) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	res, err := r.store.db.ExecContext(ctx, `UPDATE recommendations SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return apperr.New(apperr.CodeDatabaseError, "resolve recommendation").Wrap(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("recommendation", id)
	}
	return nil
}

// SaveDecision persists a feedback-loop proposed policy change.
func (r *MaintenanceRepository) SaveDecision(ctx context.Context, d *ImprovementDecision) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt == 0 {
		d.CreatedAt = time.Now().UnixMilli()
	}
	detail, _ := json.Marshal(d.Detail)
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	_, err := r.store.db.ExecContext(ctx, `
		INSERT INTO improvement_decisions (id, task_name, scope_type, scope_id, decision_type, detail, confidence, applied, created_at)
		VALUES (?,?,?,?,?,?,?,?,?)
	`, d.ID, d.TaskName, d.ScopeType, nullable(d.ScopeID), d.DecisionType, string(detail), d.Confidence, boolToInt(d.Applied), d.CreatedAt)
	if err != nil {
		return apperr.New(apperr.CodeDatabaseError, "save improvement decision").Wrap(err)
	}
	return nil
}
