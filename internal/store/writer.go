package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jswensen/logsync/internal/model"
)

// DefaultMessageBatchSize is the bulk-insert batch size for messages.
const DefaultMessageBatchSize = 100

// Writer performs transactional, idempotent upserts of parsed session
// bundles. The write path branches once on the store's extended-schema flag.
type Writer struct {
	store     *Store
	batchSize int
}

// NewWriter returns a writer using the given message batch size (0 means
// DefaultMessageBatchSize).
func NewWriter(s *Store, batchSize int) *Writer {
	if batchSize <= 0 {
		batchSize = DefaultMessageBatchSize
	}
	return &Writer{store: s, batchSize: batchSize}
}

// InsertSession writes one bundle inside a single transaction: session
// upsert, message replacement, metrics write, and feature rows all commit or
// roll back together. Any sub-step failure returns the error to the caller.
func (w *Writer) InsertSession(bundle *model.SessionBundle) (model.InsertionResult, error) {
	var res model.InsertionResult

	tx, err := w.store.db.Begin()
	if err != nil {
		return res, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err = w.insertBundleTx(tx, bundle)
	if err != nil {
		return model.InsertionResult{}, err
	}

	if err := tx.Commit(); err != nil {
		return model.InsertionResult{}, fmt.Errorf("commit: %w", err)
	}
	return res, nil
}

// InsertSessions writes a batch with one transaction per session, so one
// session's failure cannot roll back previously committed sessions.
// Failures are collected into the result, never raised.
func (w *Writer) InsertSessions(bundles []*model.SessionBundle) model.BatchInsertResult {
	var batch model.BatchInsertResult

	for _, b := range bundles {
		res, err := w.InsertSession(b)
		if err != nil {
			batch.Errors = append(batch.Errors, model.InsertError{
				SessionID: b.Session.SessionID,
				Message:   err.Error(),
			})
			continue
		}
		if res.SessionInserted {
			batch.SessionsInserted++
		} else {
			batch.DuplicatesSkipped++
		}
		batch.MessagesInserted += res.MessagesInserted
	}

	return batch
}

func (w *Writer) insertBundleTx(tx *sql.Tx, bundle *model.SessionBundle) (model.InsertionResult, error) {
	var res model.InsertionResult
	s := bundle.Session

	// Existence check first so the result can distinguish a fresh insert
	// from a conflict update.
	var exists int
	err := tx.QueryRow("SELECT COUNT(*) FROM sessions WHERE session_id = ?", s.SessionID).Scan(&exists)
	if err != nil {
		return res, fmt.Errorf("checking session %s: %w", s.SessionID, err)
	}
	res.SessionInserted = exists == 0

	if err := w.upsertSession(tx, s); err != nil {
		return res, fmt.Errorf("upserting session %s: %w", s.SessionID, err)
	}

	n, err := w.replaceMessages(tx, s.SessionID, bundle.Messages)
	if err != nil {
		return res, fmt.Errorf("replacing messages for %s: %w", s.SessionID, err)
	}
	res.MessagesInserted = n

	if err := w.writeMetrics(tx, bundle.Metrics); err != nil {
		return res, fmt.Errorf("writing metrics for %s: %w", s.SessionID, err)
	}
	res.MetricsWritten = true

	if w.store.HasExtendedSchema() {
		fn, err := w.replaceFeatureRows(tx, bundle)
		if err != nil {
			return res, fmt.Errorf("writing feature rows for %s: %w", s.SessionID, err)
		}
		res.FeatureRows = fn
	}

	return res, nil
}

func (w *Writer) upsertSession(tx *sql.Tx, s model.Session) error {
	toolNames, err := json.Marshal(s.ToolNames)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)

	if !w.store.HasExtendedSchema() {
		_, err = tx.Exec(`INSERT INTO sessions
			(session_id, project, file_path, started_at, ended_at, duration_seconds,
			 model, total_input_tokens, total_output_tokens, estimated_cost,
			 tool_names, cache_hits, cache_misses, content_hash, synced_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(session_id) DO UPDATE SET
			 project = excluded.project,
			 file_path = excluded.file_path,
			 started_at = excluded.started_at,
			 ended_at = excluded.ended_at,
			 duration_seconds = excluded.duration_seconds,
			 model = excluded.model,
			 total_input_tokens = excluded.total_input_tokens,
			 total_output_tokens = excluded.total_output_tokens,
			 estimated_cost = excluded.estimated_cost,
			 tool_names = excluded.tool_names,
			 cache_hits = excluded.cache_hits,
			 cache_misses = excluded.cache_misses,
			 content_hash = excluded.content_hash,
			 synced_at = excluded.synced_at`,
			s.SessionID, s.Project, s.FilePath,
			s.StartedAt.UTC().Format(time.RFC3339), s.EndedAt.UTC().Format(time.RFC3339),
			s.DurationSec, s.Model, s.TotalInputTokens, s.TotalOutputTokens,
			s.EstimatedCost, string(toolNames), s.CacheHits, s.CacheMisses,
			s.ContentHash(), now,
		)
		return err
	}

	_, err = tx.Exec(`INSERT INTO sessions
		(session_id, project, file_path, started_at, ended_at, duration_seconds,
		 model, total_input_tokens, total_output_tokens, estimated_cost,
		 tool_names, cache_hits, cache_misses, content_hash, synced_at,
		 is_extended_session, session_type, autonomy_level,
		 has_background_tasks, has_subagents, has_vscode_integration)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
		 project = excluded.project,
		 file_path = excluded.file_path,
		 started_at = excluded.started_at,
		 ended_at = excluded.ended_at,
		 duration_seconds = excluded.duration_seconds,
		 model = excluded.model,
		 total_input_tokens = excluded.total_input_tokens,
		 total_output_tokens = excluded.total_output_tokens,
		 estimated_cost = excluded.estimated_cost,
		 tool_names = excluded.tool_names,
		 cache_hits = excluded.cache_hits,
		 cache_misses = excluded.cache_misses,
		 content_hash = excluded.content_hash,
		 synced_at = excluded.synced_at,
		 is_extended_session = excluded.is_extended_session,
		 session_type = excluded.session_type,
		 autonomy_level = excluded.autonomy_level,
		 has_background_tasks = excluded.has_background_tasks,
		 has_subagents = excluded.has_subagents,
		 has_vscode_integration = excluded.has_vscode_integration`,
		s.SessionID, s.Project, s.FilePath,
		s.StartedAt.UTC().Format(time.RFC3339), s.EndedAt.UTC().Format(time.RFC3339),
		s.DurationSec, s.Model, s.TotalInputTokens, s.TotalOutputTokens,
		s.EstimatedCost, string(toolNames), s.CacheHits, s.CacheMisses,
		s.ContentHash(), now,
		boolInt(s.IsExtendedSession), string(s.Type), s.AutonomyLevel,
		boolInt(s.HasBackgroundTasks), boolInt(s.HasSubagents), boolInt(s.HasVSCode),
	)
	return err
}

// replaceMessages deletes the session's existing messages and bulk-inserts
// the new set in fixed-size batches. Delete and re-insert share the caller's
// transaction, so re-processing the same file is idempotent and a crash
// never leaves a half-replaced message set visible.
func (w *Writer) replaceMessages(tx *sql.Tx, sessionID string, messages []model.RawMessage) (int, error) {
	if _, err := tx.Exec("DELETE FROM raw_messages WHERE session_id = ?", sessionID); err != nil {
		return 0, err
	}

	const cols = 18
	inserted := 0
	for start := 0; start < len(messages); start += w.batchSize {
		end := start + w.batchSize
		if end > len(messages) {
			end = len(messages)
		}
		chunk := messages[start:end]

		var sb strings.Builder
		sb.WriteString(`INSERT INTO raw_messages
			(session_id, seq, role, content, timestamp, input_tokens, output_tokens,
			 tool_call, tool_result, cache_hits, cache_misses, duration_ms,
			 checkpoint_id, subagent_id, background_task_id, vscode_integration_id,
			 is_rewind_trigger, autonomy_level) VALUES `)

		args := make([]any, 0, len(chunk)*cols)
		for i, m := range chunk {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
			args = append(args,
				sessionID, m.Seq, string(m.Role), m.Content,
				m.Timestamp.UTC().Format(time.RFC3339),
				m.InputTokens, m.OutputTokens,
				m.ToolCall, m.ToolResult,
				m.CacheHits, m.CacheMisses, m.DurationMs,
				m.CheckpointID, m.SubagentID, m.BackgroundTaskID, m.VSCodeIntegrationID,
				boolInt(m.IsRewindTrigger), m.AutonomyLevel,
			)
		}

		if _, err := tx.Exec(sb.String(), args...); err != nil {
			return inserted, err
		}
		inserted += len(chunk)
	}

	return inserted, nil
}

func (w *Writer) writeMetrics(tx *sql.Tx, m model.Metrics) error {
	if !w.store.HasExtendedSchema() {
		_, err := tx.Exec(`INSERT OR REPLACE INTO session_metrics
			(session_id, metric_date, hour, weekday, iso_week, month, year,
			 total_tokens, input_tokens, output_tokens, estimated_cost,
			 duration_seconds, message_count, tool_count, cache_efficiency)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.SessionID, m.Date, m.Hour, m.Weekday, m.ISOWeek, m.Month, m.Year,
			m.TotalTokens, m.InputTokens, m.OutputTokens, m.EstimatedCost,
			m.DurationSec, m.MessageCount, m.ToolCount, m.CacheEfficiency,
		)
		return err
	}

	_, err := tx.Exec(`INSERT OR REPLACE INTO session_metrics
		(session_id, metric_date, hour, weekday, iso_week, month, year,
		 total_tokens, input_tokens, output_tokens, estimated_cost,
		 duration_seconds, message_count, tool_count, cache_efficiency,
		 checkpoint_count, rewind_count, background_task_count,
		 subagent_count, vscode_event_count, autonomy_score, parallel_efficiency)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.SessionID, m.Date, m.Hour, m.Weekday, m.ISOWeek, m.Month, m.Year,
		m.TotalTokens, m.InputTokens, m.OutputTokens, m.EstimatedCost,
		m.DurationSec, m.MessageCount, m.ToolCount, m.CacheEfficiency,
		m.CheckpointCount, m.RewindCount, m.BackgroundTaskCount,
		m.SubagentCount, m.VSCodeEventCount, m.AutonomyScore, m.ParallelEfficiency,
	)
	return err
}

func (w *Writer) replaceFeatureRows(tx *sql.Tx, bundle *model.SessionBundle) (int, error) {
	sid := bundle.Session.SessionID
	for _, table := range featureTables {
		if _, err := tx.Exec(fmt.Sprintf("DELETE FROM %s WHERE session_id = ?", table), sid); err != nil {
			return 0, err
		}
	}

	n := 0
	for _, c := range bundle.Checkpoints {
		if _, err := tx.Exec(
			"INSERT INTO checkpoints (session_id, checkpoint_id, created_at) VALUES (?, ?, ?)",
			c.SessionID, c.CheckpointID, c.CreatedAt.UTC().Format(time.RFC3339),
		); err != nil {
			return n, err
		}
		n++
	}
	for _, b := range bundle.BackgroundTasks {
		if _, err := tx.Exec(
			"INSERT INTO background_tasks (session_id, task_id, created_at) VALUES (?, ?, ?)",
			b.SessionID, b.TaskID, b.CreatedAt.UTC().Format(time.RFC3339),
		); err != nil {
			return n, err
		}
		n++
	}
	for _, a := range bundle.Subagents {
		if _, err := tx.Exec(
			"INSERT INTO subagents (session_id, subagent_id, created_at) VALUES (?, ?, ?)",
			a.SessionID, a.SubagentID, a.CreatedAt.UTC().Format(time.RFC3339),
		); err != nil {
			return n, err
		}
		n++
	}
	for _, v := range bundle.VSCodeEvents {
		if _, err := tx.Exec(
			"INSERT INTO vscode_integrations (session_id, integration_id, created_at) VALUES (?, ?, ?)",
			v.SessionID, v.IntegrationID, v.CreatedAt.UTC().Format(time.RFC3339),
		); err != nil {
			return n, err
		}
		n++
	}

	return n, nil
}

// ConflictPlan partitions incoming bundles by comparing their content hash
// against the stored row: absent means insert, identical means skip,
// different means update. This is the de-duplication path for idempotent
// re-sync that must avoid redundant writes.
type ConflictPlan struct {
	ToInsert []*model.SessionBundle
	ToUpdate []*model.SessionBundle
	ToSkip   []*model.SessionBundle
}

// ResolveConflicts builds a ConflictPlan for the given bundles.
func (w *Writer) ResolveConflicts(bundles []*model.SessionBundle) (ConflictPlan, error) {
	var plan ConflictPlan

	stored := make(map[string]string, len(bundles))
	rows, err := w.store.db.Query("SELECT session_id, content_hash FROM sessions")
	if err != nil {
		return plan, fmt.Errorf("loading stored hashes: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var id, hash string
		if err := rows.Scan(&id, &hash); err != nil {
			return plan, err
		}
		stored[id] = hash
	}
	if err := rows.Err(); err != nil {
		return plan, err
	}

	for _, b := range bundles {
		hash, ok := stored[b.Session.SessionID]
		switch {
		case !ok:
			plan.ToInsert = append(plan.ToInsert, b)
		case hash == b.Session.ContentHash():
			plan.ToSkip = append(plan.ToSkip, b)
		default:
			plan.ToUpdate = append(plan.ToUpdate, b)
		}
	}

	return plan, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
