package store

// schema generalizes the teacher's single `notes` temporal table into one
// shared `entries` table covering all four entry kinds, plus the
// supporting tables spec.md §3 enumerates. The composite (id, version)
// primary key, the `is_current` partial index, and the valid_from/valid_to
// range are carried over verbatim from GoKitt's notes table.
const schema = `
CREATE TABLE IF NOT EXISTS entries (
    id TEXT NOT NULL,
    version INTEGER NOT NULL DEFAULT 1,
    kind TEXT NOT NULL,
    scope_type TEXT NOT NULL,
    scope_id TEXT,
    identity_key TEXT NOT NULL,
    category TEXT,
    priority INTEGER DEFAULT 0,
    level TEXT,
    use_count INTEGER DEFAULT 0,
    success_count INTEGER DEFAULT 0,
    last_used_at INTEGER,
    promoted_to_tool_id TEXT,
    promoted_from_id TEXT,
    content TEXT NOT NULL,
    is_active INTEGER NOT NULL DEFAULT 1,
    is_current INTEGER NOT NULL DEFAULT 1,
    valid_from INTEGER NOT NULL,
    valid_to INTEGER,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    created_by TEXT,
    change_reason TEXT,
    PRIMARY KEY (id, version)
);

CREATE INDEX IF NOT EXISTS idx_entries_current ON entries(kind, scope_type, scope_id, identity_key) WHERE is_current = 1;
CREATE UNIQUE INDEX IF NOT EXISTS idx_entries_identity_active
    ON entries(kind, scope_type, scope_id, identity_key) WHERE is_current = 1 AND is_active = 1;
CREATE INDEX IF NOT EXISTS idx_entries_history ON entries(id, valid_from);
CREATE INDEX IF NOT EXISTS idx_entries_scope ON entries(scope_type, scope_id) WHERE is_current = 1;

-- FTS5 over the current row of every kind; external-content table keyed by
-- entries' implicit rowid, matching the per-kind virtual-table approach the
-- teacher uses (one shared table here since the envelope is shared).
CREATE VIRTUAL TABLE IF NOT EXISTS entries_fts USING fts5(
    identity_key, searchable_text,
    content='entries', content_rowid='rowid', tokenize='porter unicode61'
);

CREATE TRIGGER IF NOT EXISTS entries_fts_ai AFTER INSERT ON entries BEGIN
    INSERT INTO entries_fts(rowid, identity_key, searchable_text)
    VALUES (new.rowid, new.identity_key, new.identity_key || ' ' || new.content);
END;
CREATE TRIGGER IF NOT EXISTS entries_fts_ad AFTER DELETE ON entries BEGIN
    INSERT INTO entries_fts(entries_fts, rowid, identity_key, searchable_text)
    VALUES ('delete', old.rowid, old.identity_key, old.identity_key || ' ' || old.content);
END;
CREATE TRIGGER IF NOT EXISTS entries_fts_au AFTER UPDATE ON entries BEGIN
    INSERT INTO entries_fts(entries_fts, rowid, identity_key, searchable_text)
    VALUES ('delete', old.rowid, old.identity_key, old.identity_key || ' ' || old.content);
    INSERT INTO entries_fts(rowid, identity_key, searchable_text)
    VALUES (new.rowid, new.identity_key, new.identity_key || ' ' || new.content);
END;

CREATE TABLE IF NOT EXISTS tags (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS entry_tags (
    entry_kind TEXT NOT NULL,
    entry_id TEXT NOT NULL,
    tag_id TEXT NOT NULL,
    PRIMARY KEY (entry_kind, entry_id, tag_id)
);
CREATE INDEX IF NOT EXISTS idx_entry_tags_tag ON entry_tags(tag_id);

CREATE TABLE IF NOT EXISTS entry_relations (
    id TEXT PRIMARY KEY,
    from_kind TEXT NOT NULL,
    from_id TEXT NOT NULL,
    to_kind TEXT NOT NULL,
    to_id TEXT NOT NULL,
    relation_type TEXT NOT NULL,
    scope_type TEXT NOT NULL,
    scope_id TEXT,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_relations_from ON entry_relations(from_kind, from_id);
CREATE INDEX IF NOT EXISTS idx_relations_to ON entry_relations(to_kind, to_id);

CREATE TABLE IF NOT EXISTS projects (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    project_id TEXT,
    name TEXT,
    status TEXT NOT NULL,
    started_at INTEGER NOT NULL,
    ended_at INTEGER
);

CREATE TABLE IF NOT EXISTS episodes (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    name TEXT,
    scope_type TEXT NOT NULL,
    scope_id TEXT,
    trigger_type TEXT,
    status TEXT NOT NULL,
    outcome TEXT,
    quality_score INTEGER DEFAULT 0,
    quality_factors TEXT,
    metadata TEXT,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_episodes_session ON episodes(session_id);

CREATE TABLE IF NOT EXISTS events (
    id TEXT PRIMARY KEY,
    episode_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    tool_name TEXT,
    action TEXT,
    entry_name TEXT,
    semantic_summary TEXT,
    data TEXT,
    created_at INTEGER NOT NULL,
    sequence INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_episode ON events(episode_id, sequence);

CREATE TABLE IF NOT EXISTS conversation_messages (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    timestamp INTEGER NOT NULL,
    episode_id TEXT,
    relevance_score REAL,
    metadata TEXT
);
CREATE INDEX IF NOT EXISTS idx_messages_session_ts ON conversation_messages(session_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_messages_episode ON conversation_messages(episode_id);

CREATE TABLE IF NOT EXISTS file_locks (
    file_path TEXT PRIMARY KEY,
    locked_by TEXT NOT NULL,
    expires_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS conflicts (
    id TEXT PRIMARY KEY,
    entry_kind TEXT NOT NULL,
    involved_ids TEXT NOT NULL,
    reason TEXT,
    state TEXT NOT NULL,
    resolved_by TEXT,
    resolved_at INTEGER,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS vectors (
    kind TEXT NOT NULL,
    entry_id TEXT NOT NULL,
    dim INTEGER NOT NULL,
    method TEXT NOT NULL,
    norm REAL,
    data BLOB NOT NULL,
    PRIMARY KEY (kind, entry_id)
);

-- Maintenance runner bookkeeping: one row per scheduled task execution,
-- plus the two kinds of durable output the task catalog produces
-- (librarian recommendations, and feedback-loop policy decisions).
CREATE TABLE IF NOT EXISTS maintenance_runs (
    id TEXT PRIMARY KEY,
    task_name TEXT NOT NULL,
    scope_type TEXT NOT NULL,
    scope_id TEXT,
    dry_run INTEGER NOT NULL DEFAULT 0,
    executed INTEGER NOT NULL DEFAULT 0,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    errors TEXT,
    summary TEXT,
    started_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_maintenance_runs_task ON maintenance_runs(task_name, started_at);

CREATE TABLE IF NOT EXISTS recommendations (
    id TEXT PRIMARY KEY,
    scope_type TEXT NOT NULL,
    scope_id TEXT,
    rec_type TEXT NOT NULL,
    title TEXT NOT NULL,
    pattern TEXT,
    applicability TEXT,
    rationale TEXT,
    confidence REAL NOT NULL,
    source_experience_ids TEXT,
    status TEXT NOT NULL DEFAULT 'pending',
    analysis_run_id TEXT,
    created_by TEXT,
    created_at INTEGER NOT NULL,
    expires_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_recommendations_scope ON recommendations(scope_type, scope_id, status);

CREATE TABLE IF NOT EXISTS improvement_decisions (
    id TEXT PRIMARY KEY,
    task_name TEXT NOT NULL,
    scope_type TEXT NOT NULL,
    scope_id TEXT,
    decision_type TEXT NOT NULL,
    detail TEXT,
    confidence REAL NOT NULL,
    applied INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_improvement_decisions_task ON improvement_decisions(task_name, created_at);
`
