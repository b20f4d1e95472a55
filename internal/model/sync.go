package model

import "time"

// SyncStatus is the lifecycle state of a sync run.
type SyncStatus string

// Sync statuses recorded in sync_metadata.
const (
	SyncInProgress SyncStatus = "in_progress"
	SyncCompleted  SyncStatus = "completed"
	SyncFailed     SyncStatus = "failed"
)

// SyncCheckpoint is the durable watermark row in sync_metadata. It is created
// on first sync and updated (never deleted) by each orchestrator run.
type SyncCheckpoint struct {
	Key               string
	LastSyncTime      time.Time
	FilesProcessed    int
	SessionsProcessed int
	Status            SyncStatus
	ErrorMessage      string
	StartedAt         time.Time
	UpdatedAt         time.Time
}

// InsertionResult reports the outcome of writing one session bundle.
type InsertionResult struct {
	SessionInserted  bool // false means the existing row was updated
	MessagesInserted int
	MetricsWritten   bool
	FeatureRows      int
}

// BatchInsertResult accumulates per-session outcomes across a batch.
// Failures are collected, not raised, so one session cannot roll back
// previously committed sessions.
type BatchInsertResult struct {
	SessionsInserted  int
	DuplicatesSkipped int // existing sessions that were updated, not inserted
	MessagesInserted  int
	Errors            []InsertError
}

// Progress is the event emitted after each file in a sync run. An external
// transport delivers it; the core only produces the values.
type Progress struct {
	RunID             string     `json:"run_id"`
	Status            SyncStatus `json:"status"`
	ProgressPercent   float64    `json:"progress_percent"`
	CurrentFile       string     `json:"current_file"`
	TotalFiles        int        `json:"total_files"`
	ProcessedFiles    int        `json:"processed_files"`
	SessionsProcessed int        `json:"sessions_processed"`
	MessagesProcessed int        `json:"messages_processed"`
	Errors            int        `json:"errors"`
	StartTime         time.Time  `json:"start_time"`

	// Milliseconds, not a time.Duration: the wire contract is an integer
	// millisecond count and a Duration would serialize as nanoseconds.
	EstimatedRemainingMs int64 `json:"estimated_time_remaining_ms"`
}

// SyncResult is the structured summary returned by every sync operation,
// regardless of partial failure. Success is true only when both error lists
// are empty; callers decide whether "some errors" is acceptable.
type SyncResult struct {
	RunID             string
	DryRun            bool
	FilesDiscovered   int
	FilesProcessed    int
	SessionsProcessed int
	SessionsInserted  int
	DuplicatesSkipped int
	MessagesProcessed int
	ParseErrors       []IngestError
	InsertErrors      []InsertError
	StartTime         time.Time
	Duration          time.Duration
}

// Success reports whether the run finished with zero collected errors.
func (r SyncResult) Success() bool {
	return len(r.ParseErrors) == 0 && len(r.InsertErrors) == 0
}
