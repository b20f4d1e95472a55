package model

import "time"

// Metrics is the one-per-session analytics row: time-bucket decomposition of
// the session start plus token, cost, and duration rollups.
type Metrics struct {
	SessionID string

	Date    string // YYYY-MM-DD of StartedAt
	Hour    int
	Weekday int // 0 = Sunday
	ISOWeek int
	Month   int
	Year    int

	TotalTokens   int64
	InputTokens   int64
	OutputTokens  int64
	EstimatedCost float64
	DurationSec   int64
	MessageCount  int
	ToolCount     int

	// CacheEfficiency is hits / (hits + misses), 0 when the denominator is 0.
	CacheEfficiency float64

	// Extended schema fields.
	CheckpointCount     int
	RewindCount         int
	BackgroundTaskCount int
	SubagentCount       int
	VSCodeEventCount    int
	AutonomyScore       float64 // mean autonomy level across messages
	ParallelEfficiency  float64
}

// BucketsFrom fills the time-bucket fields from a session start time.
func (m *Metrics) BucketsFrom(startedAt time.Time) {
	t := startedAt.UTC()
	m.Date = t.Format("2006-01-02")
	m.Hour = t.Hour()
	m.Weekday = int(t.Weekday())
	_, m.ISOWeek = t.ISOWeek()
	m.Month = int(t.Month())
	m.Year = t.Year()
}
