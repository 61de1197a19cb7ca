package store

// scopeChain returns the ordered list of scopes from narrowest (s itself)
// to broadest (global), the walk spec.md §4.1's getScopeChain describes.
//
// This is a deliberate two-level simplification of the five-level
// {global, organization, project, agent, session} set spec.md §3
// describes: every non-global scope chains directly to [requested,
// global], never through intermediate organization/project/agent
// levels. Only `global` and `project` (via the registered `Project`
// entity) exist as first-class scope entities in this repository;
// there is no organization or agent registry an entry's scopeId could
// resolve a parent link through, so a session- or agent-scoped entry
// has no broader non-global scope to inherit from. See DESIGN.md's
// Open Question decisions for the full disclosure.
func scopeChain(s Scope) []Scope {
	if s.Type == ScopeGlobal {
		return []Scope{{Type: ScopeGlobal}}
	}
	return []Scope{s, {Type: ScopeGlobal}}
}

// GetScopeChain exposes scopeChain for callers (the query pipeline) that
// need it outside a specific entry kind's repository.
func GetScopeChain(s Scope) []Scope { return scopeChain(s) }
