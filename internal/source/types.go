package source

import "encoding/json"

// rawLine mirrors one JSON object in a session log file. Producers disagree
// on field names across schema generations, so most fields have an alternate
// spelling; normalization resolves the pairs.
type rawLine struct {
	Role      string `json:"role"`
	Content   string `json:"content,omitempty"`
	Text      string `json:"text,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
	Model     string `json:"model,omitempty"`

	Tokens       *rawTokens `json:"tokens,omitempty"`
	InputTokens  int64      `json:"input_tokens,omitempty"`
	OutputTokens int64      `json:"output_tokens,omitempty"`

	ToolCalls   json.RawMessage `json:"tool_calls,omitempty"`
	ToolResults json.RawMessage `json:"tool_results,omitempty"`

	CacheStats *rawCache `json:"cache_stats,omitempty"`
	Cache      *rawCache `json:"cache,omitempty"`

	ProcessingTimeMs int64 `json:"processing_time_ms,omitempty"`
	DurationMs       int64 `json:"duration_ms,omitempty"`

	// Extended-schema fields. Rewind flag and autonomy level are kept raw
	// because producers emit them with the wrong JSON type often enough
	// that a typed field would reject the whole line.
	CheckpointID        string          `json:"checkpoint_id,omitempty"`
	SubagentID          string          `json:"subagent_id,omitempty"`
	BackgroundTaskID    string          `json:"background_task_id,omitempty"`
	VSCodeIntegrationID string          `json:"vscode_integration_id,omitempty"`
	IsRewindTrigger     json.RawMessage `json:"is_rewind_trigger,omitempty"`
	AutonomyLevel       json.RawMessage `json:"autonomy_level,omitempty"`
}

// rawTokens is the nested token-count form.
type rawTokens struct {
	Input  int64 `json:"input"`
	Output int64 `json:"output"`
}

// rawCache covers both cache statistic shapes: hit/miss counters and
// creation/read token counts.
type rawCache struct {
	Hits           int64 `json:"hits"`
	Misses         int64 `json:"misses"`
	CreationTokens int64 `json:"creation_tokens"`
	ReadTokens     int64 `json:"read_tokens"`
}

// hitsMisses collapses either cache shape to hit/miss counts. Read tokens
// count as hits, creation tokens as misses.
func (c *rawCache) hitsMisses() (hits, misses int64) {
	if c == nil {
		return 0, 0
	}
	hits = c.Hits
	misses = c.Misses
	if hits == 0 && misses == 0 {
		hits = c.ReadTokens
		misses = c.CreationTokens
	}
	return hits, misses
}

// rawToolCall is the minimal tool-call envelope we care about.
type rawToolCall struct {
	Name string `json:"name"`
}
