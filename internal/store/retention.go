package store

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jswensen/logsync/internal/config"
)

// TableStats describes one table's retention posture.
type TableStats struct {
	Total     int64
	Eligible  int64
	Oldest    time.Time
	Newest    time.Time
	SizeBytes int64 // estimate, apportioned from the database file size
}

// RetentionStats is the per-table report returned by Stats.
type RetentionStats struct {
	Cutoff            time.Time
	Tables            map[string]TableStats
	DatabaseSizeBytes int64
}

// Retention sweeps aged rows across dependent tables in bounded batches.
type Retention struct {
	store  *Store
	logger *slog.Logger
}

// NewRetention returns a retention manager over the given store.
func NewRetention(s *Store, logger *slog.Logger) *Retention {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retention{store: s, logger: logger}
}

// retentionTable describes one sweep target: a display name, a time column
// pair for oldest/newest, and the batched-delete selector. Deletion order is
// fixed: dependent tables first, sessions last, auxiliary metadata after
// that, so referential integrity never depends on cascading deletes.
type retentionTable struct {
	name string
	// countSQL takes the cutoff (RFC3339 for timestamp columns, YYYY-MM-DD
	// for date columns) and returns total, eligible, oldest, newest.
	statsSQL string
	// deleteSQL deletes one batch: args are cutoff, batch size.
	deleteSQL string
	extended  bool
}

var retentionTables = []retentionTable{
	{
		name: "raw_messages",
		statsSQL: `SELECT COUNT(*),
			 COALESCE(SUM(CASE WHEN s.started_at < ?1 THEN 1 ELSE 0 END), 0),
			 COALESCE(MIN(m.timestamp), ''), COALESCE(MAX(m.timestamp), '')
			FROM raw_messages m JOIN sessions s ON s.session_id = m.session_id`,
		deleteSQL: `DELETE FROM raw_messages WHERE rowid IN (
			SELECT m.rowid FROM raw_messages m
			JOIN sessions s ON s.session_id = m.session_id
			WHERE s.started_at < ?1 LIMIT ?2)`,
	},
	{
		name: "session_metrics",
		statsSQL: `SELECT COUNT(*),
			 COALESCE(SUM(CASE WHEN metric_date < ?1 THEN 1 ELSE 0 END), 0),
			 COALESCE(MIN(metric_date), ''), COALESCE(MAX(metric_date), '')
			FROM session_metrics`,
		deleteSQL: `DELETE FROM session_metrics WHERE rowid IN (
			SELECT rowid FROM session_metrics WHERE metric_date < ?1 LIMIT ?2)`,
	},
	{
		name: "checkpoints",
		statsSQL: `SELECT COUNT(*),
			 COALESCE(SUM(CASE WHEN s.started_at < ?1 THEN 1 ELSE 0 END), 0),
			 COALESCE(MIN(c.created_at), ''), COALESCE(MAX(c.created_at), '')
			FROM checkpoints c JOIN sessions s ON s.session_id = c.session_id`,
		deleteSQL: `DELETE FROM checkpoints WHERE rowid IN (
			SELECT c.rowid FROM checkpoints c
			JOIN sessions s ON s.session_id = c.session_id
			WHERE s.started_at < ?1 LIMIT ?2)`,
		extended: true,
	},
	{
		name: "background_tasks",
		statsSQL: `SELECT COUNT(*),
			 COALESCE(SUM(CASE WHEN s.started_at < ?1 THEN 1 ELSE 0 END), 0),
			 COALESCE(MIN(b.created_at), ''), COALESCE(MAX(b.created_at), '')
			FROM background_tasks b JOIN sessions s ON s.session_id = b.session_id`,
		deleteSQL: `DELETE FROM background_tasks WHERE rowid IN (
			SELECT b.rowid FROM background_tasks b
			JOIN sessions s ON s.session_id = b.session_id
			WHERE s.started_at < ?1 LIMIT ?2)`,
		extended: true,
	},
	{
		name: "subagents",
		statsSQL: `SELECT COUNT(*),
			 COALESCE(SUM(CASE WHEN s.started_at < ?1 THEN 1 ELSE 0 END), 0),
			 COALESCE(MIN(a.created_at), ''), COALESCE(MAX(a.created_at), '')
			FROM subagents a JOIN sessions s ON s.session_id = a.session_id`,
		deleteSQL: `DELETE FROM subagents WHERE rowid IN (
			SELECT a.rowid FROM subagents a
			JOIN sessions s ON s.session_id = a.session_id
			WHERE s.started_at < ?1 LIMIT ?2)`,
		extended: true,
	},
	{
		name: "vscode_integrations",
		statsSQL: `SELECT COUNT(*),
			 COALESCE(SUM(CASE WHEN s.started_at < ?1 THEN 1 ELSE 0 END), 0),
			 COALESCE(MIN(v.created_at), ''), COALESCE(MAX(v.created_at), '')
			FROM vscode_integrations v JOIN sessions s ON s.session_id = v.session_id`,
		deleteSQL: `DELETE FROM vscode_integrations WHERE rowid IN (
			SELECT v.rowid FROM vscode_integrations v
			JOIN sessions s ON s.session_id = v.session_id
			WHERE s.started_at < ?1 LIMIT ?2)`,
		extended: true,
	},
	{
		name: "sessions",
		statsSQL: `SELECT COUNT(*),
			 COALESCE(SUM(CASE WHEN started_at < ?1 THEN 1 ELSE 0 END), 0),
			 COALESCE(MIN(started_at), ''), COALESCE(MAX(started_at), '')
			FROM sessions`,
		deleteSQL: `DELETE FROM sessions WHERE rowid IN (
			SELECT rowid FROM sessions WHERE started_at < ?1 LIMIT ?2)`,
	},
	{
		name: "sync_metadata",
		statsSQL: `SELECT COUNT(*),
			 COALESCE(SUM(CASE WHEN updated_at < ?1 AND status != 'in_progress' THEN 1 ELSE 0 END), 0),
			 COALESCE(MIN(updated_at), ''), COALESCE(MAX(updated_at), '')
			FROM sync_metadata`,
		deleteSQL: `DELETE FROM sync_metadata WHERE rowid IN (
			SELECT rowid FROM sync_metadata
			WHERE updated_at < ?1 AND status != 'in_progress' LIMIT ?2)`,
	},
}

// cutoffArg returns the comparison value for a table's date/time column.
func cutoffArg(table string, cutoff time.Time) string {
	if table == "session_metrics" {
		return cutoff.UTC().Format("2006-01-02")
	}
	return cutoff.UTC().Format(time.RFC3339)
}

func (r *Retention) sweepTargets() []retentionTable {
	extended := r.store.HasExtendedSchema()
	out := make([]retentionTable, 0, len(retentionTables))
	for _, t := range retentionTables {
		if t.extended && !extended {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Stats reports per-table totals, rows eligible for deletion under the
// retention window, oldest/newest row times, and an estimated size.
func (r *Retention) Stats(cfg config.RetentionConfig) (RetentionStats, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -cfg.Days)
	stats := RetentionStats{
		Cutoff: cutoff,
		Tables: make(map[string]TableStats),
	}

	if fi, err := os.Stat(r.store.path); err == nil {
		stats.DatabaseSizeBytes = fi.Size()
	}

	var totalRows int64
	for _, t := range r.sweepTargets() {
		ts, err := r.tableStats(t, cutoff)
		if err != nil {
			return stats, fmt.Errorf("stats for %s: %w", t.name, err)
		}
		stats.Tables[t.name] = ts
		totalRows += ts.Total
	}

	// Apportion the file size by row count. Rough, but enough to show
	// where the space lives without requiring the dbstat virtual table.
	if totalRows > 0 {
		for name, ts := range stats.Tables {
			ts.SizeBytes = stats.DatabaseSizeBytes * ts.Total / totalRows
			stats.Tables[name] = ts
		}
	}

	return stats, nil
}

func (r *Retention) tableStats(t retentionTable, cutoff time.Time) (TableStats, error) {
	var (
		ts             TableStats
		oldest, newest string
	)
	err := r.store.db.QueryRow(t.statsSQL, cutoffArg(t.name, cutoff)).
		Scan(&ts.Total, &ts.Eligible, &oldest, &newest)
	if err != nil {
		return ts, err
	}
	if oldest != "" {
		ts.Oldest = parseStoredTime(oldest)
	}
	if newest != "" {
		ts.Newest = parseStoredTime(newest)
	}
	return ts, nil
}

func parseStoredTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	t, _ := time.Parse("2006-01-02", s)
	return t
}

// Cleanup deletes rows older than the retention window. Each table is swept
// in fixed-size batches with a short pause between batches so table locks
// are never held continuously. The loop stops when the pre-counted eligible
// total is exhausted or a batch deletes zero rows, whichever comes first.
// With dryRun set, the would-be-deleted counts are returned with zero
// mutation. After a real cleanup that removed rows, VACUUM reclaims storage.
func (r *Retention) Cleanup(cfg config.RetentionConfig, dryRun bool) (map[string]int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -cfg.Days)
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 500
	}

	deleted := make(map[string]int64)
	var totalDeleted int64

	for _, t := range r.sweepTargets() {
		ts, err := r.tableStats(t, cutoff)
		if err != nil {
			return deleted, fmt.Errorf("counting %s: %w", t.name, err)
		}

		if dryRun {
			deleted[t.name] = ts.Eligible
			continue
		}

		n, err := r.sweepTable(t, cutoff, ts.Eligible, batchSize, cfg.Pause())
		deleted[t.name] = n
		totalDeleted += n
		if err != nil {
			return deleted, fmt.Errorf("sweeping %s: %w", t.name, err)
		}
		if n > 0 {
			r.logger.Info("retention sweep", "table", t.name, "deleted", n)
		}
	}

	if !dryRun && totalDeleted > 0 {
		if _, err := r.store.db.Exec("VACUUM"); err != nil {
			return deleted, fmt.Errorf("vacuum: %w", err)
		}
	}

	return deleted, nil
}

func (r *Retention) sweepTable(t retentionTable, cutoff time.Time, eligible int64, batchSize int, pause time.Duration) (int64, error) {
	var deleted int64
	arg := cutoffArg(t.name, cutoff)

	for deleted < eligible {
		res, err := r.store.db.Exec(t.deleteSQL, arg, batchSize)
		if err != nil {
			return deleted, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return deleted, err
		}
		if n == 0 {
			// The pre-count promised more rows than exist; the zero-row
			// batch is the termination safety net.
			break
		}
		deleted += n

		if deleted < eligible && pause > 0 {
			time.Sleep(pause)
		}
	}

	return deleted, nil
}
