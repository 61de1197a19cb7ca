package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/coccobas/agent-memory/internal/apperr"
)

// SessionRepository persists Session/Episode/Event/ConversationMessage,
// the conversational trace entities, grounded on the teacher's
// Thread/ThreadMessage CRUD shape (internal/store/sqlite_store.go) but
// generalized to this spec's session/episode/event hierarchy.
type SessionRepository struct {
	store *Store
}

func NewSessionRepository(s *Store) *SessionRepository { return &SessionRepository{store: s} }

func (r *SessionRepository) CreateSession(ctx context.Context, projectID, name string) (*Session, error) {
	s := &Session{ID: uuid.NewString(), ProjectID: projectID, Name: name, Status: SessionActive, StartedAt: time.Now().UnixMilli()}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	_, err := r.store.db.ExecContext(ctx, `
		INSERT INTO sessions (id, project_id, name, status, started_at, ended_at) VALUES (?,?,?,?,?,NULL)
	`, s.ID, s.ProjectID, s.Name, s.Status, s.StartedAt)
	if err != nil {
		return nil, apperr.New(apperr.CodeDatabaseError, "insert session").Wrap(err)
	}
	return s, nil
}

func (r *SessionRepository) EndSession(ctx context.Context, id string, status SessionStatus) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	now := time.Now().UnixMilli()
	res, err := r.store.db.ExecContext(ctx, `UPDATE sessions SET status = ?, ended_at = ? WHERE id = ?`, status, now, id)
	if err != nil {
		return apperr.New(apperr.CodeDatabaseError, "end session").Wrap(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("session", id)
	}
	return nil
}

func (r *SessionRepository) GetSession(ctx context.Context, id string) (*Session, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var s Session
	var projectID sql.NullString
	var endedAt sql.NullInt64
	err := r.store.db.QueryRowContext(ctx, `
		SELECT id, project_id, name, status, started_at, ended_at FROM sessions WHERE id = ?
	`, id).Scan(&s.ID, &projectID, &s.Name, &s.Status, &s.StartedAt, &endedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("session", id)
	}
	if err != nil {
		return nil, apperr.New(apperr.CodeDatabaseError, "load session").Wrap(err)
	}
	s.ProjectID = projectID.String
	if endedAt.Valid {
		v := endedAt.Int64
		s.EndedAt = &v
	}
	return &s, nil
}

// CreateEpisode inserts a new episode in the pending state.
func (r *SessionRepository) CreateEpisode(ctx context.Context, sessionID, name string, scope Scope, triggerType string) (*Episode, error) {
	now := time.Now().UnixMilli()
	e := &Episode{
		ID: uuid.NewString(), SessionID: sessionID, Name: name, ScopeType: scope.Type, ScopeID: scope.ID,
		TriggerType: triggerType, Status: EpisodePending, Metadata: map[string]any{}, CreatedAt: now, UpdatedAt: now,
	}
	meta, _ := json.Marshal(e.Metadata)
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	_, err := r.store.db.ExecContext(ctx, `
		INSERT INTO episodes (id, session_id, name, scope_type, scope_id, trigger_type, status, outcome,
			quality_score, quality_factors, metadata, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
	`, e.ID, e.SessionID, e.Name, e.ScopeType, nullable(e.ScopeID), e.TriggerType, e.Status, "", 0, "{}", string(meta), e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return nil, apperr.New(apperr.CodeDatabaseError, "insert episode").Wrap(err)
	}
	return e, nil
}

// StartEpisode transitions pending -> running.
func (r *SessionRepository) StartEpisode(ctx context.Context, id string) error {
	return r.transitionEpisode(ctx, id, EpisodePending, EpisodeRunning)
}

func (r *SessionRepository) transitionEpisode(ctx context.Context, id string, from, to EpisodeStatus) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	res, err := r.store.db.ExecContext(ctx, `
		UPDATE episodes SET status = ?, updated_at = ? WHERE id = ? AND status = ?
	`, to, time.Now().UnixMilli(), id, from)
	if err != nil {
		return apperr.New(apperr.CodeDatabaseError, "transition episode").Wrap(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.CodeValidation, "episode is not in the expected state for this transition").WithIdentifier(id)
	}
	return nil
}

// GetEpisode fetches an episode by id.
func (r *SessionRepository) GetEpisode(ctx context.Context, id string) (*Episode, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return r.getEpisodeLocked(ctx, id)
}

func (r *SessionRepository) getEpisodeLocked(ctx context.Context, id string) (*Episode, error) {
	var e Episode
	var scopeID, outcome sql.NullString
	var qf, meta string
	err := r.store.db.QueryRowContext(ctx, `
		SELECT id, session_id, name, scope_type, scope_id, trigger_type, status, outcome,
			quality_score, quality_factors, metadata, created_at, updated_at
		FROM episodes WHERE id = ?
	`, id).Scan(&e.ID, &e.SessionID, &e.Name, &e.ScopeType, &scopeID, &e.TriggerType, &e.Status, &outcome,
		&e.QualityScore, &qf, &meta, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("episode", id)
	}
	if err != nil {
		return nil, apperr.New(apperr.CodeDatabaseError, "load episode").Wrap(err)
	}
	e.ScopeID = scopeID.String
	e.Outcome = outcome.String
	e.QualityFactors = map[string]float64{}
	_ = json.Unmarshal([]byte(qf), &e.QualityFactors)
	e.Metadata = map[string]any{}
	_ = json.Unmarshal([]byte(meta), &e.Metadata)
	return &e, nil
}

// SetEpisodeMetadata merges keys into an episode's metadata (e.g. the
// nameEnriched flag an enrichment pass sets per spec.md §4.5).
func (r *SessionRepository) SetEpisodeMetadata(ctx context.Context, id string, updates map[string]any) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	ep, err := r.getEpisodeLocked(ctx, id)
	if err != nil {
		return err
	}
	for k, v := range updates {
		ep.Metadata[k] = v
	}
	meta, _ := json.Marshal(ep.Metadata)
	_, err = r.store.db.ExecContext(ctx, `UPDATE episodes SET metadata = ?, updated_at = ? WHERE id = ?`, string(meta), time.Now().UnixMilli(), id)
	if err != nil {
		return apperr.New(apperr.CodeDatabaseError, "update episode metadata").Wrap(err)
	}
	return nil
}

// CompleteEpisode transitions running -> completed|failed, persisting the
// already-computed quality score and factors (internal/session owns the
// formula; this method just writes the result transactionally).
func (r *SessionRepository) CompleteEpisode(ctx context.Context, id, outcome string, status EpisodeStatus, score int, factors map[string]float64) error {
	qf, _ := json.Marshal(factors)
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	res, err := r.store.db.ExecContext(ctx, `
		UPDATE episodes SET status = ?, outcome = ?, quality_score = ?, quality_factors = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, status, outcome, score, string(qf), time.Now().UnixMilli(), id, EpisodeRunning)
	if err != nil {
		return apperr.New(apperr.CodeDatabaseError, "complete episode").Wrap(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.CodeValidation, "episode is not running").WithIdentifier(id)
	}
	return nil
}

// AppendEvent adds the next ordered event to an episode.
func (r *SessionRepository) AppendEvent(ctx context.Context, ev *Event) error {
	data, _ := json.Marshal(ev.Data)
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var maxSeq sql.NullInt64
	if err := r.store.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM events WHERE episode_id = ?`, ev.EpisodeID).Scan(&maxSeq); err != nil {
		return apperr.New(apperr.CodeDatabaseError, "compute next sequence").Wrap(err)
	}
	ev.Sequence = int(maxSeq.Int64) + 1
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt == 0 {
		ev.CreatedAt = time.Now().UnixMilli()
	}
	_, err := r.store.db.ExecContext(ctx, `
		INSERT INTO events (id, episode_id, event_type, tool_name, action, entry_name, semantic_summary, data, created_at, sequence)
		VALUES (?,?,?,?,?,?,?,?,?,?)
	`, ev.ID, ev.EpisodeID, ev.EventType, ev.ToolName, ev.Action, ev.EntryName, ev.SemanticSummary, string(data), ev.CreatedAt, ev.Sequence)
	if err != nil {
		return apperr.New(apperr.CodeDatabaseError, "insert event").Wrap(err)
	}
	return nil
}

// ListEvents returns an episode's events in sequence order.
func (r *SessionRepository) ListEvents(ctx context.Context, episodeID string) ([]*Event, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	rows, err := r.store.db.QueryContext(ctx, `
		SELECT id, episode_id, event_type, tool_name, action, entry_name, semantic_summary, data, created_at, sequence
		FROM events WHERE episode_id = ? ORDER BY sequence ASC
	`, episodeID)
	if err != nil {
		return nil, apperr.New(apperr.CodeDatabaseError, "list events").Wrap(err)
	}
	defer rows.Close()
	var out []*Event
	for rows.Next() {
		var ev Event
		var toolName, action, entryName, summary sql.NullString
		var data string
		if err := rows.Scan(&ev.ID, &ev.EpisodeID, &ev.EventType, &toolName, &action, &entryName, &summary, &data, &ev.CreatedAt, &ev.Sequence); err != nil {
			return nil, apperr.New(apperr.CodeDatabaseError, "scan event").Wrap(err)
		}
		ev.ToolName, ev.Action, ev.EntryName, ev.SemanticSummary = toolName.String, action.String, entryName.String, summary.String
		ev.Data = map[string]any{}
		_ = json.Unmarshal([]byte(data), &ev.Data)
		out = append(out, &ev)
	}
	return out, nil
}

// AppendMessage records a conversation message in session order.
func (r *SessionRepository) AppendMessage(ctx context.Context, m *ConversationMessage) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp == 0 {
		m.Timestamp = time.Now().UnixMilli()
	}
	meta, _ := json.Marshal(m.Metadata)
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	_, err := r.store.db.ExecContext(ctx, `
		INSERT INTO conversation_messages (id, session_id, role, content, timestamp, episode_id, relevance_score, metadata)
		VALUES (?,?,?,?,?,?,?,?)
	`, m.ID, m.SessionID, m.Role, m.Content, m.Timestamp, m.EpisodeID, m.RelevanceScore, string(meta))
	if err != nil {
		return apperr.New(apperr.CodeDatabaseError, "insert message").Wrap(err)
	}
	return nil
}

// SetMessageRelevance annotates a message with a relevance score (the
// messageRelevanceScoring maintenance task's write path).
func (r *SessionRepository) SetMessageRelevance(ctx context.Context, id string, score float64) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	_, err := r.store.db.ExecContext(ctx, `UPDATE conversation_messages SET relevance_score = ? WHERE id = ?`, score, id)
	if err != nil {
		return apperr.New(apperr.CodeDatabaseError, "set message relevance").Wrap(err)
	}
	return nil
}

// MessagesForEpisode lists the messages linked to an episode, used by the
// quality-score's messagesLinked/messagesScored factors.
func (r *SessionRepository) MessagesForEpisode(ctx context.Context, episodeID string) ([]*ConversationMessage, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	rows, err := r.store.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, timestamp, episode_id, relevance_score, metadata
		FROM conversation_messages WHERE episode_id = ? ORDER BY timestamp ASC
	`, episodeID)
	if err != nil {
		return nil, apperr.New(apperr.CodeDatabaseError, "list episode messages").Wrap(err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]*ConversationMessage, error) {
	var out []*ConversationMessage
	for rows.Next() {
		var m ConversationMessage
		var episodeID sql.NullString
		var relevance sql.NullFloat64
		var meta string
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.Timestamp, &episodeID, &relevance, &meta); err != nil {
			return nil, apperr.New(apperr.CodeDatabaseError, "scan message").Wrap(err)
		}
		if episodeID.Valid {
			v := episodeID.String
			m.EpisodeID = &v
		}
		if relevance.Valid {
			v := relevance.Float64
			m.RelevanceScore = &v
		}
		m.Metadata = map[string]any{}
		_ = json.Unmarshal([]byte(meta), &m.Metadata)
		out = append(out, &m)
	}
	return out, nil
}

// CountCompletedSessions reports how many sessions have reached a
// terminal status, used by the extractionQuality maintenance task's
// precondition check.
func (r *SessionRepository) CountCompletedSessions(ctx context.Context) (int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var n int
	err := r.store.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE status IN (?, ?)`, SessionCompleted, SessionEnded).Scan(&n)
	if err != nil {
		return 0, apperr.New(apperr.CodeDatabaseError, "count completed sessions").Wrap(err)
	}
	return n, nil
}

// CountEpisodesWithMinMessages counts episodes whose linked-message count
// is at least min, used by the messageInsightExtraction task's
// precondition check.
func (r *SessionRepository) CountEpisodesWithMinMessages(ctx context.Context, min int) (int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var n int
	err := r.store.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM (
			SELECT episode_id, COUNT(*) AS c FROM conversation_messages
			WHERE episode_id IS NOT NULL GROUP BY episode_id HAVING c >= ?
		)
	`, min).Scan(&n)
	if err != nil {
		return 0, apperr.New(apperr.CodeDatabaseError, "count episodes with min messages").Wrap(err)
	}
	return n, nil
}

// EpisodesWithMinMessages lists episode ids meeting the same threshold,
// for the task to actually operate over.
func (r *SessionRepository) EpisodesWithMinMessages(ctx context.Context, min int) ([]string, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	rows, err := r.store.db.QueryContext(ctx, `
		SELECT episode_id FROM conversation_messages
		WHERE episode_id IS NOT NULL GROUP BY episode_id HAVING COUNT(*) >= ?
	`, min)
	if err != nil {
		return nil, apperr.New(apperr.CodeDatabaseError, "list episodes with min messages").Wrap(err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.New(apperr.CodeDatabaseError, "scan episode id").Wrap(err)
		}
		out = append(out, id)
	}
	return out, nil
}

// MessagesForSession lists a session's messages in arrival order.
func (r *SessionRepository) MessagesForSession(ctx context.Context, sessionID string) ([]*ConversationMessage, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	rows, err := r.store.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, timestamp, episode_id, relevance_score, metadata
		FROM conversation_messages WHERE session_id = ? ORDER BY timestamp ASC
	`, sessionID)
	if err != nil {
		return nil, apperr.New(apperr.CodeDatabaseError, "list session messages").Wrap(err)
	}
	defer rows.Close()
	return scanMessages(rows)
}
