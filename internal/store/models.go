// Package store provides the scoped, versioned repository for the memory
// service: tools, guidelines, knowledge, experiences, and the supporting
// entities (tags, relations, sessions, episodes, messages, file locks,
// conflicts) that sit alongside them.
package store

import "encoding/json"

// ScopeType is one of the five levels a memory entry or session can live
// under, narrowest to broadest being the reverse of this list.
type ScopeType string

const (
	ScopeGlobal       ScopeType = "global"
	ScopeOrganization ScopeType = "organization"
	ScopeProject      ScopeType = "project"
	ScopeAgent        ScopeType = "agent"
	ScopeSession      ScopeType = "session"
)

// Scope identifies a single scope instance: global has a nil/empty ID.
type Scope struct {
	Type ScopeType
	ID   string
}

// EntryKind is one of the four versioned entity kinds.
type EntryKind string

const (
	KindTool       EntryKind = "tool"
	KindGuideline  EntryKind = "guideline"
	KindKnowledge  EntryKind = "knowledge"
	KindExperience EntryKind = "experience"
)

// ExperienceLevel classifies an experience's generality.
type ExperienceLevel string

const (
	LevelCase      ExperienceLevel = "case"
	LevelPattern   ExperienceLevel = "pattern"
	LevelPrinciple ExperienceLevel = "principle"
)

// ToolContent is the current-version payload for a Tool entry.
type ToolContent struct {
	Description string   `json:"description"`
	Parameters  string   `json:"parameters,omitempty"` // JSON-schema-shaped, stored as text
	Examples    []string `json:"examples,omitempty"`
}

// GuidelineContent is the current-version payload for a Guideline entry.
type GuidelineContent struct {
	Content   string `json:"content"`
	Rationale string `json:"rationale,omitempty"`
}

// KnowledgeContent is the current-version payload for a Knowledge entry.
type KnowledgeContent struct {
	Content    string  `json:"content"`
	Source     string  `json:"source,omitempty"`
	Confidence float64 `json:"confidence"`
}

// TrajectoryStep is one step of an experience's recorded action sequence.
type TrajectoryStep struct {
	Action string `json:"action"`
	Tool   string `json:"tool,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// ExperienceContent is the current-version payload for an Experience entry.
type ExperienceContent struct {
	Scenario   string           `json:"scenario"`
	Content    string           `json:"content"`
	Outcome    string           `json:"outcome,omitempty"`
	Trajectory []TrajectoryStep `json:"trajectory,omitempty"`
}

// Entry is the generalized envelope for all four entry kinds: the temporal
// versioning fields (version, is_current, valid_from/valid_to) are shared
// verbatim across kinds, following the teacher's notes-table shape; the
// kind-specific payload lives in Content as raw JSON plus a handful of
// promoted columns (category, priority, level, use counters)
// that every list/sort path needs without decoding JSON.
type Entry struct {
	ID          string
	Version     int
	Kind        EntryKind
	ScopeType   ScopeType
	ScopeID     string
	IdentityKey string // name (tool/guideline) or title (knowledge/experience)

	Category string
	Priority int             // guideline only, 0-100
	Level    ExperienceLevel // experience only

	UseCount           int
	SuccessCount       int
	LastUsedAt         *int64
	PromotedToToolID   *string
	PromotedFromID     *string

	Content json.RawMessage

	IsActive  bool
	IsCurrent bool

	ValidFrom int64
	ValidTo   *int64

	CreatedAt    int64
	UpdatedAt    int64
	CreatedBy    string
	ChangeReason string
}

// Confidence extracts the KnowledgeContent confidence, used by list
// tie-breaking; returns 0 for non-knowledge kinds or decode failure.
func (e *Entry) Confidence() float64 {
	if e.Kind != KindKnowledge {
		return 0
	}
	var kc KnowledgeContent
	if err := json.Unmarshal(e.Content, &kc); err != nil {
		return 0
	}
	return kc.Confidence
}

// Tag is a global, deduplicated label.
type Tag struct {
	ID   string
	Name string
}

// EntryTag links a tag to an entry (by kind + id), many-to-many.
type EntryTag struct {
	EntryKind EntryKind
	EntryID   string
	TagID     string
}

// EntryRelation is a directed, typed edge between two entries. Edges are
// first-class with their own scope (see DESIGN.md Open Question decision),
// independent of either endpoint's scope.
type EntryRelation struct {
	ID           string
	FromKind     EntryKind
	FromID       string
	ToKind       EntryKind
	ToID         string
	RelationType string
	ScopeType    ScopeType
	ScopeID      string
	CreatedAt    int64
}

// Project is the registered unit a project-scoped memory entry's scopeId
// refers to; it carries no behavior of its own beyond a name/description,
// but registering one lets memory_project {list|get} surface what project
// scopes are in use without scanning entries.
type Project struct {
	ID          string
	Name        string
	Description string
	CreatedAt   int64
	UpdatedAt   int64
}

// SessionStatus is a Session's lifecycle state.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionEnded     SessionStatus = "ended"
)

// Session is the top-level conversational container.
type Session struct {
	ID        string
	ProjectID string
	Name      string
	Status    SessionStatus
	StartedAt int64
	EndedAt   *int64
}

// EpisodeStatus is an Episode's lifecycle state (see §4.5 state machine).
type EpisodeStatus string

const (
	EpisodePending   EpisodeStatus = "pending"
	EpisodeRunning   EpisodeStatus = "running"
	EpisodeCompleted EpisodeStatus = "completed"
	EpisodeFailed    EpisodeStatus = "failed"
)

// Episode is a unit of work within a session, scored on completion.
type Episode struct {
	ID            string
	SessionID     string
	Name          string
	ScopeType     ScopeType
	ScopeID       string
	TriggerType   string
	Status        EpisodeStatus
	Outcome       string
	QualityScore  int
	QualityFactors map[string]float64
	Metadata      map[string]any
	CreatedAt     int64
	UpdatedAt     int64
}

// EventType enumerates the kinds of episode events.
type EventType string

const (
	EventCheckpoint EventType = "checkpoint"
	EventDecision   EventType = "decision"
	EventCompleted  EventType = "completed"
	EventError      EventType = "error"
)

// Event is one ordered entry in an episode's timeline.
type Event struct {
	ID              string
	EpisodeID       string
	EventType       EventType
	ToolName        string
	Action          string
	EntryName       string
	SemanticSummary string
	Data            map[string]any
	CreatedAt       int64
	Sequence        int
}

// Description returns the event's durable description per §4.5: the
// semantic summary when present, else a derived phrase.
func (e *Event) Description() string {
	if e.SemanticSummary != "" {
		return e.SemanticSummary
	}
	if e.EntryName != "" {
		return e.Action + ": " + e.EntryName
	}
	return "Tool " + e.ToolName + " with action " + e.Action
}

// MessageRole is a ConversationMessage's speaker.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
	RoleTool      MessageRole = "tool"
)

// ConversationMessage is one message appended to a session.
type ConversationMessage struct {
	ID             string
	SessionID      string
	Role           MessageRole
	Content        string
	Timestamp      int64
	EpisodeID      *string
	RelevanceScore *float64
	Metadata       map[string]any
}

// FileLock guards exclusive access to a file path.
type FileLock struct {
	FilePath  string
	LockedBy  string
	ExpiresAt int64
}

// ConflictState is a Conflict's resolution-workflow state. Enumerated per
// DESIGN.md's supplemented-feature decision (spec.md left the full set
// unspecified).
type ConflictState string

const (
	ConflictDetected     ConflictState = "detected"
	ConflictAcknowledged ConflictState = "acknowledged"
	ConflictResolved     ConflictState = "resolved"
	ConflictDismissed    ConflictState = "dismissed"
)

// Conflict is a deferred-resolution record surfaced by the store or
// maintenance runner when two writes or two entries collide.
type Conflict struct {
	ID             string
	EntryKind      EntryKind
	InvolvedIDs    []string
	Reason         string
	State          ConflictState
	ResolvedBy     string
	ResolvedAt     *int64
	CreatedAt      int64
}
