// Package model defines domain types for logsync sessions, metrics, and sync state.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Role identifies who (or what) produced a message.
type Role string

// Message roles found in session logs.
const (
	RoleUser           Role = "user"
	RoleAssistant      Role = "assistant"
	RoleTool           Role = "tool"
	RoleSubagent       Role = "subagent"
	RoleBackgroundTask Role = "background-task"
)

// SessionType classifies a session by duration and observed autonomy.
type SessionType string

// Session type classifications.
const (
	SessionStandard   SessionType = "standard"
	SessionExtended   SessionType = "extended"
	SessionAutonomous SessionType = "autonomous"
)

// RawMessage is one normalized line from a JSONL session log.
// All optional fields carry documented defaults after parsing: token counts
// default to 0, autonomy level to 0, the rewind flag to false.
type RawMessage struct {
	Seq          int
	Role         Role
	Content      string
	Timestamp    time.Time
	InputTokens  int64
	OutputTokens int64
	ToolCall     string // raw JSON of the first tool call, empty when none
	ToolResult   string // raw JSON of tool results, empty when none
	CacheHits    int64
	CacheMisses  int64
	DurationMs   int64

	// Extended feature markers.
	CheckpointID        string
	SubagentID          string
	BackgroundTaskID    string
	VSCodeIntegrationID string
	IsRewindTrigger     bool
	AutonomyLevel       int
}

// Session is the aggregate derived from one file's sorted message stream.
type Session struct {
	SessionID   string
	Project     string
	FilePath    string
	StartedAt   time.Time
	EndedAt     time.Time
	DurationSec int64
	Model       string

	TotalInputTokens  int64
	TotalOutputTokens int64
	EstimatedCost     float64
	ToolNames         []string
	CacheHits         int64
	CacheMisses       int64

	// Extended schema fields.
	IsExtendedSession  bool
	Type               SessionType
	AutonomyLevel      int // max observed across messages
	HasBackgroundTasks bool
	HasSubagents       bool
	HasVSCode          bool
}

// ContentHash digests the mutable numeric and time fields of the session.
// Two sessions parsed from identical file content hash identically, which is
// what the conflict resolver compares against the stored row.
func (s Session) ContentHash() string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%d|%d|%d|%d|%.6f|%d|%d|%d",
		s.StartedAt.UnixMilli(), s.EndedAt.UnixMilli(), s.DurationSec,
		s.TotalInputTokens, s.TotalOutputTokens, s.EstimatedCost,
		s.CacheHits, s.CacheMisses, s.AutonomyLevel)
	return hex.EncodeToString(h.Sum(nil))
}

// Checkpoint is a saved restorable state within a session (distinct from the
// sync checkpoint in sync_metadata).
type Checkpoint struct {
	SessionID    string
	CheckpointID string
	CreatedAt    time.Time
}

// BackgroundTask records one background task event within a session.
type BackgroundTask struct {
	SessionID string
	TaskID    string
	CreatedAt time.Time
}

// Subagent records one subagent event within a session.
type Subagent struct {
	SessionID  string
	SubagentID string
	CreatedAt  time.Time
}

// VSCodeIntegration records one editor-integration event within a session.
type VSCodeIntegration struct {
	SessionID     string
	IntegrationID string
	CreatedAt     time.Time
}

// SessionBundle is everything parsed from a single session file: the session
// aggregate, its ordered messages, the derived metrics row, and any feature
// sub-entities detected under the extended schema.
type SessionBundle struct {
	Session         Session
	Messages        []RawMessage
	Metrics         Metrics
	Checkpoints     []Checkpoint
	BackgroundTasks []BackgroundTask
	Subagents       []Subagent
	VSCodeEvents    []VSCodeIntegration
}
