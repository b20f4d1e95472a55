package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jswensen/logsync/internal/model"
)

// DefaultSyncKey is the sync_metadata key used by the orchestrator.
const DefaultSyncKey = "session_sync"

// staleClaimAge is how old an in_progress row must be before another run may
// take it over. A killed process leaves a stale in_progress checkpoint; the
// takeover window keeps that from wedging sync forever.
const staleClaimAge = time.Hour

// ErrSyncInProgress is returned when another run holds the checkpoint claim.
var ErrSyncInProgress = errors.New("sync already in progress")

// ClaimSync marks the checkpoint in_progress via a compare-and-set on the
// status column. Two concurrent orchestrators cannot both win: the update
// only applies when no fresh in_progress row exists.
func (s *Store) ClaimSync(key string) error {
	now := time.Now().UTC()
	stale := now.Add(-staleClaimAge).Format(time.RFC3339)

	res, err := s.db.Exec(`INSERT INTO sync_metadata
		(sync_key, status, files_processed, sessions_processed, started_at, updated_at)
		VALUES (?, ?, 0, 0, ?, ?)
		ON CONFLICT(sync_key) DO UPDATE SET
		 status = excluded.status,
		 error_message = NULL,
		 started_at = excluded.started_at,
		 updated_at = excluded.updated_at
		WHERE sync_metadata.status != ? OR sync_metadata.updated_at < ?`,
		key, model.SyncInProgress,
		now.Format(time.RFC3339), now.Format(time.RFC3339),
		model.SyncInProgress, stale,
	)
	if err != nil {
		return fmt.Errorf("claiming sync checkpoint: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("claiming sync checkpoint: %w", err)
	}
	if n == 0 {
		return ErrSyncInProgress
	}
	return nil
}

// CompleteSync records a successful run: terminal status, new watermark,
// and the run's counters.
func (s *Store) CompleteSync(key string, filesProcessed, sessionsProcessed int, watermark time.Time) error {
	_, err := s.db.Exec(`UPDATE sync_metadata SET
		 status = ?,
		 last_sync_time = ?,
		 files_processed = ?,
		 sessions_processed = ?,
		 error_message = NULL,
		 updated_at = ?
		WHERE sync_key = ?`,
		model.SyncCompleted,
		watermark.UTC().Format(time.RFC3339),
		filesProcessed, sessionsProcessed,
		time.Now().UTC().Format(time.RFC3339),
		key,
	)
	if err != nil {
		return fmt.Errorf("completing sync checkpoint: %w", err)
	}
	return nil
}

// FailSync records a failed run. The previous watermark is preserved so the
// next incremental sync re-covers the failed window.
func (s *Store) FailSync(key, message string) error {
	_, err := s.db.Exec(`UPDATE sync_metadata SET
		 status = ?,
		 error_message = ?,
		 updated_at = ?
		WHERE sync_key = ?`,
		model.SyncFailed, message,
		time.Now().UTC().Format(time.RFC3339),
		key,
	)
	if err != nil {
		return fmt.Errorf("failing sync checkpoint: %w", err)
	}
	return nil
}

// LastCheckpoint returns the checkpoint row for key, or nil when no sync has
// ever run.
func (s *Store) LastCheckpoint(key string) (*model.SyncCheckpoint, error) {
	row := s.db.QueryRow(`SELECT
		 sync_key, last_sync_time, files_processed, sessions_processed,
		 status, error_message, started_at, updated_at
		FROM sync_metadata WHERE sync_key = ?`, key)

	var (
		cp                 model.SyncCheckpoint
		lastSync, errMsg   sql.NullString
		startedAt, updated string
		status             string
	)
	err := row.Scan(&cp.Key, &lastSync, &cp.FilesProcessed, &cp.SessionsProcessed,
		&status, &errMsg, &startedAt, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading sync checkpoint: %w", err)
	}

	cp.Status = model.SyncStatus(status)
	if lastSync.Valid && lastSync.String != "" {
		cp.LastSyncTime, _ = time.Parse(time.RFC3339, lastSync.String)
	}
	if errMsg.Valid {
		cp.ErrorMessage = errMsg.String
	}
	cp.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
	cp.UpdatedAt, _ = time.Parse(time.RFC3339, updated)

	return &cp, nil
}
