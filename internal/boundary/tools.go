package boundary

import (
	"context"
	"encoding/json"

	"github.com/coccobas/agent-memory/internal/apperr"
	"github.com/coccobas/agent-memory/internal/capture"
	"github.com/coccobas/agent-memory/internal/maintenance"
	"github.com/coccobas/agent-memory/internal/query"
	"github.com/coccobas/agent-memory/internal/store"
)

// SearchTool exposes the hybrid query pipeline as a single-action tool.
// Grounded on the teacher's MCP tool shape (one Tool per capability,
// params decoded from the raw JSON the registry hands it).
type SearchTool struct {
	Pipeline *query.Pipeline
}

func (t *SearchTool) Name() string           { return "memory_search" }
func (t *SearchTool) Description() string    { return "Hybrid lexical/vector/relational search over memory entries" }
func (t *SearchTool) ValidActions() []string { return nil }

type searchParams struct {
	Query   string            `json:"query"`
	Scope   string            `json:"scope"`
	ScopeID string            `json:"scopeId"`
	Inherit bool              `json:"inherit"`
	Kinds   []store.EntryKind `json:"kinds"`
	Limit   int               `json:"limit"`
}

func (t *SearchTool) Execute(ctx context.Context, _ string, params json.RawMessage) (any, error) {
	var p searchParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, apperr.Validation("params", "malformed search params").Wrap(err)
	}
	if p.Query == "" {
		return nil, apperr.Validation("query", "query is required")
	}
	req := query.Request{
		Text:    p.Query,
		Scope:   store.Scope{Type: store.ScopeType(p.Scope), ID: p.ScopeID},
		Inherit: p.Inherit,
		Kinds:   p.Kinds,
		Limit:   p.Limit,
	}
	return t.Pipeline.Run(ctx, req)
}

// EntriesTool is the action-based CRUD surface over one entry kind's
// repository: add/get/update/deactivate/list, each a distinct action per
// spec.md §6's contractual tool-family names (memory_tool, memory_guideline,
// memory_knowledge). Experience entries get their own ExperienceTool below
// since their action set (learn/promote) differs.
type EntriesTool struct {
	Kind store.EntryKind
	Repo *store.EntryRepository
}

func (t *EntriesTool) Name() string { return "memory_" + string(t.Kind) }
func (t *EntriesTool) Description() string {
	return "Add, read, update, and deactivate " + string(t.Kind) + " entries"
}
func (t *EntriesTool) ValidActions() []string {
	return []string{"add", "get", "update", "deactivate", "list"}
}

type entriesParams struct {
	ID          string          `json:"id"`
	Scope       string          `json:"scope"`
	ScopeID     string          `json:"scopeId"`
	IdentityKey string          `json:"identityKey"`
	Category    string          `json:"category"`
	Priority    int             `json:"priority"`
	Level       string          `json:"level"`
	Content     json.RawMessage `json:"content"`
	Inherit     bool            `json:"inherit"`
	Agent       string          `json:"agent"`
}

func (t *EntriesTool) Execute(ctx context.Context, action string, params json.RawMessage) (any, error) {
	var p entriesParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, apperr.Validation("params", "malformed entry params").Wrap(err)
		}
	}
	scope := store.Scope{Type: store.ScopeType(p.Scope), ID: p.ScopeID}

	switch action {
	case "add":
		return t.Repo.Create(ctx, store.CreateInput{
			Scope:       scope,
			IdentityKey: p.IdentityKey,
			Category:    p.Category,
			Priority:    p.Priority,
			Level:       store.ExperienceLevel(p.Level),
			Content:     p.Content,
			CreatedBy:   p.Agent,
		})
	case "get":
		return t.Repo.GetByID(ctx, p.ID, false)
	case "update":
		return t.Repo.Update(ctx, p.ID, store.Patch{Content: p.Content}, p.Agent)
	case "deactivate":
		return nil, t.Repo.Deactivate(ctx, p.ID)
	case "list":
		return t.Repo.List(ctx, store.ListFilter{Scope: scope, Inherit: p.Inherit, Category: p.Category})
	default:
		return nil, apperr.New(apperr.CodeInvalidAction, "unreachable action "+action)
	}
}

// ProjectTool registers and manages the project identifiers scopeId values
// refer to, per spec.md §6's memory_project tool family.
type ProjectTool struct {
	Repo *store.ProjectRepository
}

func (t *ProjectTool) Name() string           { return "memory_project" }
func (t *ProjectTool) Description() string    { return "Register and manage project identifiers used as scope ids" }
func (t *ProjectTool) ValidActions() []string { return []string{"create", "list", "get", "update"} }

type projectParams struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (t *ProjectTool) Execute(ctx context.Context, action string, params json.RawMessage) (any, error) {
	var p projectParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, apperr.Validation("params", "malformed project params").Wrap(err)
		}
	}
	switch action {
	case "create":
		return t.Repo.Create(ctx, p.ID, p.Name, p.Description)
	case "list":
		return t.Repo.List(ctx)
	case "get":
		return t.Repo.Get(ctx, p.ID)
	case "update":
		return t.Repo.Update(ctx, p.ID, p.Name, p.Description)
	default:
		return nil, apperr.New(apperr.CodeInvalidAction, "unreachable action "+action)
	}
}

// ingestWindowSize bounds how many of a session's trailing messages are
// replayed through the capture pipeline on every ingest call, per
// spec.md §4.3's sliding-window detection.
const ingestWindowSize = 20

// IngestTool is the one write path that feeds conversation traffic into
// the capture pipeline: it persists the message, then hands the trailing
// window of that session's messages to Pipeline.Observe.
type IngestTool struct {
	Sessions *store.SessionRepository
	Pipeline *capture.Pipeline
}

func (t *IngestTool) Name() string { return "memory_ingest" }
func (t *IngestTool) Description() string {
	return "Append a conversation message and run it through the capture pipeline"
}
func (t *IngestTool) ValidActions() []string { return nil }

type ingestParams struct {
	SessionID   string `json:"sessionId"`
	Role        string `json:"role"`
	Content     string `json:"content"`
	HasError    bool   `json:"hasError"`
	ToolSuccess bool   `json:"toolSuccess"`
}

func (t *IngestTool) Execute(ctx context.Context, _ string, params json.RawMessage) (any, error) {
	var p ingestParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, apperr.Validation("params", "malformed ingest params").Wrap(err)
	}
	if p.SessionID == "" || p.Content == "" {
		return nil, apperr.Validation("sessionId/content", "both are required")
	}

	msg := &store.ConversationMessage{
		SessionID: p.SessionID,
		Role:      store.MessageRole(p.Role),
		Content:   p.Content,
	}
	if err := t.Sessions.AppendMessage(ctx, msg); err != nil {
		return nil, err
	}

	history, err := t.Sessions.MessagesForSession(ctx, p.SessionID)
	if err != nil {
		return nil, err
	}
	if len(history) > ingestWindowSize {
		history = history[len(history)-ingestWindowSize:]
	}
	window := make([]capture.Message, len(history))
	for i, m := range history {
		window[i] = capture.Message{
			SessionID: m.SessionID,
			Role:      m.Role,
			Content:   m.Content,
			Timestamp: m.Timestamp,
		}
	}
	window[len(window)-1].HasError = p.HasError
	window[len(window)-1].ToolSuccess = p.ToolSuccess

	t.Pipeline.Observe(ctx, window)
	return map[string]string{"messageId": msg.ID}, nil
}

// experienceLevelOrder is the promotion ladder memory_experience{promote}
// advances one rung at a time; a principle is already at the top and
// promoting it is a no-op.
var experienceLevelOrder = []store.ExperienceLevel{store.LevelCase, store.LevelPattern, store.LevelPrinciple}

// ExperienceTool is memory_experience's narrower action set: experiences
// are learned (captured as a case) and promoted (case -> pattern ->
// principle) rather than freely added/updated like the other three kinds,
// per spec.md §6's contractual tool-family list.
type ExperienceTool struct {
	Repo *store.EntryRepository
}

func (t *ExperienceTool) Name() string        { return "memory_experience" }
func (t *ExperienceTool) Description() string { return "Learn, inspect, and promote experience entries" }
func (t *ExperienceTool) ValidActions() []string {
	return []string{"learn", "list", "get", "promote"}
}

type experienceParams struct {
	ID       string          `json:"id"`
	Scope    string          `json:"scope"`
	ScopeID  string          `json:"scopeId"`
	Scenario string          `json:"scenario"`
	Content  json.RawMessage `json:"content"`
	Inherit  bool            `json:"inherit"`
	Agent    string          `json:"agent"`
}

func (t *ExperienceTool) Execute(ctx context.Context, action string, params json.RawMessage) (any, error) {
	var p experienceParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, apperr.Validation("params", "malformed experience params").Wrap(err)
		}
	}
	scope := store.Scope{Type: store.ScopeType(p.Scope), ID: p.ScopeID}

	switch action {
	case "learn":
		return t.Repo.Create(ctx, store.CreateInput{
			Scope:       scope,
			IdentityKey: p.Scenario,
			Level:       store.LevelCase,
			Content:     p.Content,
			CreatedBy:   p.Agent,
		})
	case "get":
		return t.Repo.GetByID(ctx, p.ID, false)
	case "list":
		return t.Repo.List(ctx, store.ListFilter{Scope: scope, Inherit: p.Inherit})
	case "promote":
		cur, err := t.Repo.GetByID(ctx, p.ID, false)
		if err != nil {
			return nil, err
		}
		next := nextExperienceLevel(cur.Level)
		if next == cur.Level {
			return cur, nil // already at the top rung
		}
		return t.Repo.Update(ctx, p.ID, store.Patch{Level: &next, ChangeReason: "promote"}, p.Agent)
	default:
		return nil, apperr.New(apperr.CodeInvalidAction, "unreachable action "+action)
	}
}

func nextExperienceLevel(level store.ExperienceLevel) store.ExperienceLevel {
	for i, l := range experienceLevelOrder {
		if l == level && i+1 < len(experienceLevelOrder) {
			return experienceLevelOrder[i+1]
		}
	}
	return level
}

// ConflictTool exposes detected-entry-conflict records (spec.md §3's
// Conflict entity, its resolution-state enum supplemented in DESIGN.md).
type ConflictTool struct {
	Repo *store.ConflictRepository
}

func (t *ConflictTool) Name() string           { return "memory_conflict" }
func (t *ConflictTool) Description() string    { return "Inspect and resolve detected entry conflicts" }
func (t *ConflictTool) ValidActions() []string { return []string{"list", "get", "resolve"} }

type conflictParams struct {
	ID         string `json:"id"`
	State      string `json:"state"`
	ResolveTo  string `json:"resolveTo"`
	ResolvedBy string `json:"resolvedBy"`
}

func (t *ConflictTool) Execute(ctx context.Context, action string, params json.RawMessage) (any, error) {
	var p conflictParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, apperr.Validation("params", "malformed conflict params").Wrap(err)
		}
	}
	switch action {
	case "list":
		state := store.ConflictState(p.State)
		if state == "" {
			state = store.ConflictDetected
		}
		return t.Repo.ListByState(ctx, state)
	case "get":
		return t.Repo.Get(ctx, p.ID)
	case "resolve":
		to := store.ConflictState(p.ResolveTo)
		if to == "" {
			to = store.ConflictResolved
		}
		return nil, t.Repo.Transition(ctx, p.ID, to, p.ResolvedBy)
	default:
		return nil, apperr.New(apperr.CodeInvalidAction, "unreachable action "+action)
	}
}

// GraphNodeTool wraps the tag repository: a "node" in the relational
// producer's graph is an entry labeled by zero or more tags.
type GraphNodeTool struct {
	Repo *store.TagRepository
}

func (t *GraphNodeTool) Name() string        { return "graph_node" }
func (t *GraphNodeTool) Description() string { return "Attach, detach, and list tags on a memory entry" }
func (t *GraphNodeTool) ValidActions() []string {
	return []string{"tag", "untag", "tags"}
}

type graphNodeParams struct {
	Kind    store.EntryKind `json:"kind"`
	EntryID string          `json:"entryId"`
	Tag     string          `json:"tag"`
}

func (t *GraphNodeTool) Execute(ctx context.Context, action string, params json.RawMessage) (any, error) {
	var p graphNodeParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, apperr.Validation("params", "malformed graph node params").Wrap(err)
	}
	switch action {
	case "tag":
		return nil, t.Repo.Attach(ctx, p.Kind, p.EntryID, p.Tag)
	case "untag":
		return nil, t.Repo.Detach(ctx, p.Kind, p.EntryID, p.Tag)
	case "tags":
		return t.Repo.ForEntry(ctx, p.Kind, p.EntryID)
	default:
		return nil, apperr.New(apperr.CodeInvalidAction, "unreachable action "+action)
	}
}

// GraphEdgeTool wraps the relation repository: a typed, scoped directed
// edge between two entries.
type GraphEdgeTool struct {
	Repo *store.RelationRepository
}

func (t *GraphEdgeTool) Name() string        { return "graph_edge" }
func (t *GraphEdgeTool) Description() string { return "Link, unlink, and expand relations between memory entries" }
func (t *GraphEdgeTool) ValidActions() []string {
	return []string{"link", "unlink", "expand"}
}

type graphEdgeParams struct {
	ID           string          `json:"id"`
	Scope        string          `json:"scope"`
	ScopeID      string          `json:"scopeId"`
	FromKind     store.EntryKind `json:"fromKind"`
	FromID       string          `json:"fromId"`
	ToKind       store.EntryKind `json:"toKind"`
	ToID         string          `json:"toId"`
	RelationType string          `json:"relationType"`
	Depth        int             `json:"depth"`
}

func (t *GraphEdgeTool) Execute(ctx context.Context, action string, params json.RawMessage) (any, error) {
	var p graphEdgeParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, apperr.Validation("params", "malformed graph edge params").Wrap(err)
	}
	switch action {
	case "link":
		scope := store.Scope{Type: store.ScopeType(p.Scope), ID: p.ScopeID}
		return t.Repo.Link(ctx, scope, p.FromKind, p.FromID, p.ToKind, p.ToID, p.RelationType)
	case "unlink":
		return nil, t.Repo.Unlink(ctx, p.ID)
	case "expand":
		depth := p.Depth
		if depth <= 0 {
			depth = 1
		}
		return t.Repo.Expand(ctx, p.FromKind, p.FromID, depth)
	default:
		return nil, apperr.New(apperr.CodeInvalidAction, "unreachable action "+action)
	}
}

// TaskTool triggers an on-demand maintenance run, independent of the
// scheduler's cron firing, per spec.md §6's memory_task tool family.
type TaskTool struct {
	Scheduler *maintenance.Scheduler
}

func (t *TaskTool) Name() string        { return "memory_task" }
func (t *TaskTool) Description() string { return "Run the maintenance task catalog on demand" }
func (t *TaskTool) ValidActions() []string { return []string{"run"} }

type taskParams struct {
	Scope   string `json:"scope"`
	ScopeID string `json:"scopeId"`
	DryRun  bool   `json:"dryRun"`
}

func (t *TaskTool) Execute(ctx context.Context, action string, params json.RawMessage) (any, error) {
	if action != "run" {
		return nil, apperr.New(apperr.CodeInvalidAction, "unreachable action "+action)
	}
	var p taskParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, apperr.Validation("params", "malformed task params").Wrap(err)
		}
	}
	scope := store.Scope{Type: store.ScopeType(p.Scope), ID: p.ScopeID}
	if scope.Type == "" {
		scope.Type = store.ScopeGlobal
	}
	return t.Scheduler.RunAll(ctx, scope, p.DryRun), nil
}

// EvidenceTool lists the maintenance runner's recorded evidence
// (maintenance_runs rows), per spec.md §6's memory_evidence tool family.
type EvidenceTool struct {
	Repo *store.MaintenanceRepository
}

func (t *EvidenceTool) Name() string        { return "memory_evidence" }
func (t *EvidenceTool) Description() string { return "List recent maintenance-run evidence" }
func (t *EvidenceTool) ValidActions() []string { return nil }

type evidenceParams struct {
	TaskName string `json:"taskName"`
	Limit    int    `json:"limit"`
}

func (t *EvidenceTool) Execute(ctx context.Context, _ string, params json.RawMessage) (any, error) {
	var p evidenceParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, apperr.Validation("params", "malformed evidence params").Wrap(err)
		}
	}
	limit := p.Limit
	if limit <= 0 {
		limit = 20
	}
	return t.Repo.RecentRuns(ctx, p.TaskName, limit)
}

// HealthTool is the liveness/readiness probe every tool listing leads
// with, per spec.md §6's memory_health tool family.
type HealthTool struct {
	Store *store.Store
}

func (t *HealthTool) Name() string           { return "memory_health" }
func (t *HealthTool) Description() string    { return "Report service liveness" }
func (t *HealthTool) ValidActions() []string { return nil }

func (t *HealthTool) Execute(ctx context.Context, _ string, _ json.RawMessage) (any, error) {
	if err := t.Store.DB().PingContext(ctx); err != nil {
		return nil, apperr.New(apperr.CodeServiceUnavailable, "database unreachable").Wrap(err)
	}
	return map[string]string{"status": "ok"}, nil
}

// SuggestTool exposes the capture pipeline's pending-suggestion review
// queue (spec.md §4.3's suggest path), per spec.md §6's memory_suggest
// tool family.
type SuggestTool struct {
	Pipeline *capture.Pipeline
}

func (t *SuggestTool) Name() string        { return "memory_suggest" }
func (t *SuggestTool) Description() string { return "Review, approve, or reject queued capture suggestions" }
func (t *SuggestTool) ValidActions() []string {
	return []string{"list", "approve", "reject", "clear"}
}

type suggestParams struct {
	ID string `json:"id"`
}

func (t *SuggestTool) Execute(ctx context.Context, action string, params json.RawMessage) (any, error) {
	var p suggestParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, apperr.Validation("params", "malformed suggest params").Wrap(err)
		}
	}
	switch action {
	case "list":
		return t.Pipeline.PendingSuggestions(), nil
	case "approve":
		return nil, t.Pipeline.ApproveSuggestion(ctx, p.ID)
	case "reject":
		t.Pipeline.RejectSuggestion(p.ID)
		return nil, nil
	case "clear":
		t.Pipeline.ClearSuggestions()
		return nil, nil
	default:
		return nil, apperr.New(apperr.CodeInvalidAction, "unreachable action "+action)
	}
}

// RememberTool is a direct, caller-asserted write: unlike IngestTool
// (which only detects and may discard), memory_remember always creates
// an entry of the given kind, bypassing capture.Detector and the
// classifier entirely, per spec.md §6's memory_remember tool family.
type RememberTool struct {
	Repo map[store.EntryKind]*store.EntryRepository
}

type rememberParams struct {
	Kind        store.EntryKind `json:"kind"`
	Scope       string          `json:"scope"`
	ScopeID     string          `json:"scopeId"`
	IdentityKey string          `json:"identityKey"`
	Content     json.RawMessage `json:"content"`
	Agent       string          `json:"agent"`
}

func (t *RememberTool) Name() string        { return "memory_remember" }
func (t *RememberTool) Description() string { return "Directly record a memory entry of a given kind" }
func (t *RememberTool) ValidActions() []string { return nil }

func (t *RememberTool) Execute(ctx context.Context, _ string, params json.RawMessage) (any, error) {
	var p rememberParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, apperr.Validation("params", "malformed remember params").Wrap(err)
	}
	repo, ok := t.Repo[p.Kind]
	if !ok {
		return nil, apperr.Validation("kind", "unknown entry kind "+string(p.Kind))
	}
	return repo.Create(ctx, store.CreateInput{
		Scope:       store.Scope{Type: store.ScopeType(p.Scope), ID: p.ScopeID},
		IdentityKey: p.IdentityKey,
		Content:     p.Content,
		CreatedBy:   p.Agent,
	})
}
