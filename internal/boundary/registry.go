// Package boundary is the outermost collaborator layer described in
// spec.md §4.7: the tool dispatcher/registry, the auth policy gating
// writes, and the HTTP façade that exposes both over the wire. Grounded
// on the teacher's internal/mcp package (Registry/Tool/HTTPServer), but
// generalized from MCP's JSON-RPC envelope to the spec's {tool, params}
// dispatch contract with its own error taxonomy.
package boundary

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/coccobas/agent-memory/internal/apperr"
)

// Tool is one dispatchable operation. Simple tools (InputSchema only,
// ValidActions empty) ignore the action field entirely; action-based
// tools require an action present in ValidActions, taken from the
// dispatch envelope's top-level "action" field (or, for DispatchNamed,
// passed in by the caller), never from Params.
type Tool interface {
	Name() string
	Description() string
	ValidActions() []string // empty for simple, non-action-based tools
	Execute(ctx context.Context, action string, params json.RawMessage) (any, error)
}

// Registry holds every registered tool, keyed by name, grounded on the
// teacher's mcp.Registry (same register-once, lookup-by-name, stable
// registration-order listing shape).
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool; panics on a duplicate name, since that is always
// a wiring bug caught at startup, never a runtime condition.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := t.Name()
	if _, exists := r.tools[name]; exists {
		panic(fmt.Sprintf("boundary: tool %q already registered", name))
	}
	r.tools[name] = t
	r.order = append(r.order, name)
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names lists every registered tool name in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Definitions returns a stable, name-sorted listing for documentation
// endpoints (the HTTP façade's GET /v1/tools listing).
func (r *Registry) Definitions() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]ToolDefinition, 0, len(r.tools))
	for _, name := range r.order {
		t := r.tools[name]
		actions := t.ValidActions()
		defs = append(defs, ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Category:    toolCategory(t.Name()),
			HasActions:  len(actions) > 0,
			Actions:     actions,
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// toolCategory groups tools by their family prefix (the part of the name
// before the first underscore, e.g. "memory", "graph") for dashboard
// consumption, per SPEC_FULL.md's tool-registry-introspection supplement.
func toolCategory(name string) string {
	if i := strings.Index(name, "_"); i > 0 {
		return name[:i]
	}
	return name
}

// ToolDefinition is the documentation-facing shape of a registered tool,
// matching spec.md §6's list() entry shape
// `{name, description, hasActions, actions?}` plus the supplemented
// category field.
type ToolDefinition struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	HasActions  bool     `json:"hasActions"`
	Actions     []string `json:"actions,omitempty"`
}

// dispatchRequest is the {tool, params} envelope spec.md §4.7 names.
type dispatchRequest struct {
	Tool   string          `json:"tool"`
	Action json.RawMessage `json:"action,omitempty"`
	Params json.RawMessage `json:"params"`
}

// Dispatcher resolves and executes one tool call, enforcing spec.md's
// exact action-validation error taxonomy.
type Dispatcher struct {
	Registry *Registry
}

func NewDispatcher(r *Registry) *Dispatcher { return &Dispatcher{Registry: r} }

// actionInput is the three states an action field can arrive in: absent,
// present-but-malformed, or a decoded string — kept distinct so
// dispatchTool can reproduce spec.md §4.7's three-way error taxonomy
// regardless of which entry point (JSON envelope or URL path) it came
// from.
type actionInput struct {
	present   bool
	malformed bool
	value     string
}

// Dispatch resolves req.Tool and validates its action per spec.md §4.7:
//   - unknown tool                 -> NOT_FOUND
//   - action-based tool, no action -> MISSING_ACTION with validActions
//   - action field present but not a JSON string -> INVALID_ACTION_TYPE
//   - action not in validActions   -> INVALID_ACTION with providedAction + validActions
func (d *Dispatcher) Dispatch(ctx context.Context, req json.RawMessage) (any, error) {
	var parsed dispatchRequest
	if err := json.Unmarshal(req, &parsed); err != nil {
		return nil, apperr.Validation("request", "malformed dispatch envelope").Wrap(err)
	}

	in := actionInput{present: len(parsed.Action) > 0}
	if in.present {
		if err := json.Unmarshal(parsed.Action, &in.value); err != nil {
			in.malformed = true
		}
	}
	return d.dispatchTool(ctx, parsed.Tool, in, parsed.Params)
}

// DispatchNamed is the `POST /v1/tools/:name` entry point, per spec.md
// §6's `execute(name, params)`: the tool name comes from the URL path
// rather than the JSON body, and action (when the tool is action-based)
// is an already-decoded string, e.g. from a query parameter, so it can
// never be "malformed" the way a JSON envelope's action field can.
func (d *Dispatcher) DispatchNamed(ctx context.Context, name, action string, actionProvided bool, params json.RawMessage) (any, error) {
	return d.dispatchTool(ctx, name, actionInput{present: actionProvided, value: action}, params)
}

// dispatchTool resolves name and validates its action per spec.md §4.7.
func (d *Dispatcher) dispatchTool(ctx context.Context, name string, action actionInput, params json.RawMessage) (any, error) {
	tool, ok := d.Registry.Get(name)
	if !ok {
		return nil, apperr.NotFound("tool", name)
	}

	validActions := tool.ValidActions()
	if len(validActions) == 0 {
		// Simple tool: action is ignored entirely.
		return tool.Execute(ctx, "", params)
	}

	if !action.present {
		return nil, apperr.New(apperr.CodeMissingAction, "action is required for tool "+name).
			WithValidActions(validActions)
	}
	if action.malformed {
		return nil, apperr.New(apperr.CodeInvalidActionType, "action must be a string").
			WithValidActions(validActions)
	}
	if !containsAction(validActions, action.value) {
		return nil, apperr.New(apperr.CodeInvalidAction, "unrecognized action "+action.value).
			With("providedAction", action.value).WithValidActions(validActions)
	}

	return tool.Execute(ctx, action.value, params)
}

func containsAction(valid []string, action string) bool {
	for _, v := range valid {
		if v == action {
			return true
		}
	}
	return false
}
