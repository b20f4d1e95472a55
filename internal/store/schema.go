package store

import (
	"database/sql"
	"fmt"
)

const baseSchemaSQL = `
CREATE TABLE IF NOT EXISTS sessions (
    session_id           TEXT PRIMARY KEY,
    project              TEXT NOT NULL,
    file_path            TEXT NOT NULL,
    started_at           TEXT NOT NULL,
    ended_at             TEXT NOT NULL,
    duration_seconds     INTEGER NOT NULL,
    model                TEXT,
    total_input_tokens   INTEGER NOT NULL DEFAULT 0,
    total_output_tokens  INTEGER NOT NULL DEFAULT 0,
    estimated_cost       REAL NOT NULL DEFAULT 0,
    tool_names           TEXT,
    cache_hits           INTEGER NOT NULL DEFAULT 0,
    cache_misses         INTEGER NOT NULL DEFAULT 0,
    content_hash         TEXT NOT NULL DEFAULT '',
    synced_at            TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS raw_messages (
    id                     INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id             TEXT NOT NULL REFERENCES sessions(session_id) ON DELETE CASCADE,
    seq                    INTEGER NOT NULL,
    role                   TEXT NOT NULL,
    content                TEXT,
    timestamp              TEXT NOT NULL,
    input_tokens           INTEGER NOT NULL DEFAULT 0,
    output_tokens          INTEGER NOT NULL DEFAULT 0,
    tool_call              TEXT,
    tool_result            TEXT,
    cache_hits             INTEGER NOT NULL DEFAULT 0,
    cache_misses           INTEGER NOT NULL DEFAULT 0,
    duration_ms            INTEGER NOT NULL DEFAULT 0,
    checkpoint_id          TEXT,
    subagent_id            TEXT,
    background_task_id     TEXT,
    vscode_integration_id  TEXT,
    is_rewind_trigger      INTEGER NOT NULL DEFAULT 0,
    autonomy_level         INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS session_metrics (
    session_id       TEXT PRIMARY KEY REFERENCES sessions(session_id) ON DELETE CASCADE,
    metric_date      TEXT NOT NULL,
    hour             INTEGER NOT NULL,
    weekday          INTEGER NOT NULL,
    iso_week         INTEGER NOT NULL,
    month            INTEGER NOT NULL,
    year             INTEGER NOT NULL,
    total_tokens     INTEGER NOT NULL DEFAULT 0,
    input_tokens     INTEGER NOT NULL DEFAULT 0,
    output_tokens    INTEGER NOT NULL DEFAULT 0,
    estimated_cost   REAL NOT NULL DEFAULT 0,
    duration_seconds INTEGER NOT NULL DEFAULT 0,
    message_count    INTEGER NOT NULL DEFAULT 0,
    tool_count       INTEGER NOT NULL DEFAULT 0,
    cache_efficiency REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS sync_metadata (
    sync_key           TEXT PRIMARY KEY,
    last_sync_time     TEXT,
    files_processed    INTEGER NOT NULL DEFAULT 0,
    sessions_processed INTEGER NOT NULL DEFAULT 0,
    status             TEXT NOT NULL,
    error_message      TEXT,
    started_at         TEXT NOT NULL,
    updated_at         TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at);
CREATE INDEX IF NOT EXISTS idx_sessions_project ON sessions(project);
CREATE INDEX IF NOT EXISTS idx_messages_session ON raw_messages(session_id);
CREATE INDEX IF NOT EXISTS idx_metrics_date ON session_metrics(metric_date);
`

const featureTablesSQL = `
CREATE TABLE IF NOT EXISTS checkpoints (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id    TEXT NOT NULL REFERENCES sessions(session_id) ON DELETE CASCADE,
    checkpoint_id TEXT NOT NULL,
    created_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS background_tasks (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL REFERENCES sessions(session_id) ON DELETE CASCADE,
    task_id    TEXT NOT NULL,
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS subagents (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id  TEXT NOT NULL REFERENCES sessions(session_id) ON DELETE CASCADE,
    subagent_id TEXT NOT NULL,
    created_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS vscode_integrations (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id     TEXT NOT NULL REFERENCES sessions(session_id) ON DELETE CASCADE,
    integration_id TEXT NOT NULL,
    created_at     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_checkpoints_session ON checkpoints(session_id);
CREATE INDEX IF NOT EXISTS idx_bg_tasks_session ON background_tasks(session_id);
CREATE INDEX IF NOT EXISTS idx_subagents_session ON subagents(session_id);
CREATE INDEX IF NOT EXISTS idx_vscode_session ON vscode_integrations(session_id);
`

// extendedSessionColumns are added to sessions under the extended schema.
var extendedSessionColumns = []struct{ name, ddl string }{
	{"is_extended_session", "INTEGER NOT NULL DEFAULT 0"},
	{"session_type", "TEXT NOT NULL DEFAULT 'standard'"},
	{"autonomy_level", "INTEGER NOT NULL DEFAULT 0"},
	{"has_background_tasks", "INTEGER NOT NULL DEFAULT 0"},
	{"has_subagents", "INTEGER NOT NULL DEFAULT 0"},
	{"has_vscode_integration", "INTEGER NOT NULL DEFAULT 0"},
}

// extendedMetricColumns are added to session_metrics under the extended schema.
var extendedMetricColumns = []struct{ name, ddl string }{
	{"checkpoint_count", "INTEGER NOT NULL DEFAULT 0"},
	{"rewind_count", "INTEGER NOT NULL DEFAULT 0"},
	{"background_task_count", "INTEGER NOT NULL DEFAULT 0"},
	{"subagent_count", "INTEGER NOT NULL DEFAULT 0"},
	{"vscode_event_count", "INTEGER NOT NULL DEFAULT 0"},
	{"autonomy_score", "REAL NOT NULL DEFAULT 0"},
	{"parallel_efficiency", "REAL NOT NULL DEFAULT 0"},
}

// applyExtendedSchema creates the feature tables and adds the extended
// columns. SQLite has no ADD COLUMN IF NOT EXISTS, so each column is checked
// against pragma_table_info first.
func (s *Store) applyExtendedSchema() error {
	if _, err := s.db.Exec(featureTablesSQL); err != nil {
		return err
	}

	for _, col := range extendedSessionColumns {
		if err := ensureColumn(s.db, "sessions", col.name, col.ddl); err != nil {
			return err
		}
	}
	for _, col := range extendedMetricColumns {
		if err := ensureColumn(s.db, "session_metrics", col.name, col.ddl); err != nil {
			return err
		}
	}
	return nil
}

func ensureColumn(db *sql.DB, table, column, ddl string) error {
	var n int
	err := db.QueryRow(
		"SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?", table, column,
	).Scan(&n)
	if err != nil {
		return fmt.Errorf("probing %s.%s: %w", table, column, err)
	}
	if n > 0 {
		return nil
	}
	_, err = db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, ddl))
	if err != nil {
		return fmt.Errorf("adding %s.%s: %w", table, column, err)
	}
	return nil
}
