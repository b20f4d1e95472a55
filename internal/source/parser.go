package source

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/jswensen/logsync/internal/config"
	"github.com/jswensen/logsync/internal/model"
)

// Parser converts JSONL session files into session bundles. Thresholds and
// pricing come from configuration so classification and cost estimates are
// consistent across the process.
type Parser struct {
	extendedThreshold time.Duration
	autonomyThreshold int
	pricing           config.PriceTable
	now               func() time.Time
}

// NewParser returns a parser using the given session classification config
// and pricing overrides.
func NewParser(cfg config.SessionConfig, pricing config.PricingOverrides) *Parser {
	return &Parser{
		extendedThreshold: time.Duration(cfg.ExtendedThresholdHours) * time.Hour,
		autonomyThreshold: cfg.AutonomyThreshold,
		pricing:           pricing.Table(),
		now:               time.Now,
	}
}

// ParseFile reads one session log and folds it into a SessionBundle.
// Per-line failures are collected, never thrown: a malformed line costs one
// error and the file continues. The bundle is nil only when the file is
// unreadable or yields zero parseable messages.
func (p *Parser) ParseFile(path string) (*model.SessionBundle, []model.IngestError) {
	f, err := os.Open(path)
	if err != nil {
		kind := model.ErrFileAccess
		return nil, []model.IngestError{{Kind: kind, File: path, Message: err.Error()}}
	}
	defer func() { _ = f.Close() }()

	var (
		messages  []model.RawMessage
		errs      []model.IngestError
		modelName string
		lineNo    int
	)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 256*1024), 2*1024*1024)

	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		msg, lineModel, perr := p.normalizeLine(line, path, lineNo)
		if perr != nil {
			errs = append(errs, *perr)
			continue
		}
		if modelName == "" && lineModel != "" {
			modelName = lineModel
		}
		messages = append(messages, msg)
	}

	if err := scanner.Err(); err != nil {
		errs = append(errs, model.IngestError{
			Kind: model.ErrFileAccess, File: path, Message: err.Error(),
		})
		return nil, errs
	}

	if len(messages) == 0 {
		errs = append(errs, model.IngestError{
			Kind: model.ErrInvalidData, File: path,
			Message: "no parseable messages",
		})
		return nil, errs
	}

	bundle := p.fold(path, modelName, messages)
	return bundle, errs
}

// normalizeLine parses one JSON line into a fully-typed RawMessage with
// documented defaults: absent token counts are 0, an absent timestamp is the
// current time, an invalid autonomy level is 0, a non-boolean rewind flag is
// false.
func (p *Parser) normalizeLine(line []byte, path string, lineNo int) (model.RawMessage, string, *model.IngestError) {
	var raw rawLine
	if err := json.Unmarshal(line, &raw); err != nil {
		return model.RawMessage{}, "", &model.IngestError{
			Kind: model.ErrMalformedJSON, File: path, Line: lineNo,
			Message: err.Error(),
		}
	}

	if raw.Role == "" {
		return model.RawMessage{}, "", &model.IngestError{
			Kind: model.ErrMissingField, File: path, Line: lineNo,
			Message: "role is required",
		}
	}
	role := model.Role(raw.Role)
	switch role {
	case model.RoleUser, model.RoleAssistant, model.RoleTool,
		model.RoleSubagent, model.RoleBackgroundTask:
	default:
		return model.RawMessage{}, "", &model.IngestError{
			Kind: model.ErrInvalidData, File: path, Line: lineNo,
			Message: fmt.Sprintf("unknown role %q", raw.Role),
		}
	}

	msg := model.RawMessage{
		Role:    role,
		Content: raw.Content,
	}
	if msg.Content == "" {
		msg.Content = raw.Text
	}

	tsField := raw.Timestamp
	if tsField == "" {
		tsField = raw.CreatedAt
	}
	switch {
	case tsField == "":
		msg.Timestamp = p.now().UTC()
	default:
		ts, err := time.Parse(time.RFC3339Nano, tsField)
		if err != nil {
			return model.RawMessage{}, "", &model.IngestError{
				Kind: model.ErrInvalidData, File: path, Line: lineNo,
				Message: fmt.Sprintf("unparseable timestamp %q", tsField),
			}
		}
		msg.Timestamp = ts.UTC()
	}

	if raw.Tokens != nil {
		msg.InputTokens = raw.Tokens.Input
		msg.OutputTokens = raw.Tokens.Output
	} else {
		msg.InputTokens = raw.InputTokens
		msg.OutputTokens = raw.OutputTokens
	}

	if len(raw.ToolCalls) > 0 {
		msg.ToolCall = firstToolCall(raw.ToolCalls)
	}
	if len(raw.ToolResults) > 0 {
		msg.ToolResult = string(raw.ToolResults)
	}

	cache := raw.CacheStats
	if cache == nil {
		cache = raw.Cache
	}
	msg.CacheHits, msg.CacheMisses = cache.hitsMisses()

	msg.DurationMs = raw.ProcessingTimeMs
	if msg.DurationMs == 0 {
		msg.DurationMs = raw.DurationMs
	}

	msg.CheckpointID = raw.CheckpointID
	msg.SubagentID = raw.SubagentID
	msg.BackgroundTaskID = raw.BackgroundTaskID
	msg.VSCodeIntegrationID = raw.VSCodeIntegrationID
	msg.IsRewindTrigger = parseLenientBool(raw.IsRewindTrigger)
	msg.AutonomyLevel = parseLenientLevel(raw.AutonomyLevel)

	return msg, raw.Model, nil
}

// firstToolCall returns the raw JSON of the first element of a tool_calls
// array, or the whole payload when it isn't an array.
func firstToolCall(calls json.RawMessage) string {
	var arr []json.RawMessage
	if err := json.Unmarshal(calls, &arr); err != nil || len(arr) == 0 {
		return string(calls)
	}
	return string(arr[0])
}

// toolName extracts the tool name from a raw tool-call payload.
func toolName(call string) string {
	var tc rawToolCall
	if err := json.Unmarshal([]byte(call), &tc); err != nil {
		return ""
	}
	return tc.Name
}

// parseLenientBool maps anything that isn't a JSON true to false.
func parseLenientBool(raw json.RawMessage) bool {
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return false
	}
	return b
}

// parseLenientLevel maps absent, non-numeric, or negative autonomy levels to 0.
func parseLenientLevel(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}
	n, err := strconv.ParseFloat(string(bytes.TrimSpace(raw)), 64)
	if err != nil || n < 0 {
		return 0
	}
	return int(n)
}

// fold sorts messages by timestamp and aggregates them into a bundle in one
// pass. Source order is not trusted: start/end time, duration, and every
// bucket field derive from the sorted sequence.
func (p *Parser) fold(path, modelName string, messages []model.RawMessage) *model.SessionBundle {
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Timestamp.Before(messages[j].Timestamp)
	})
	for i := range messages {
		messages[i].Seq = i
	}

	sessionID := SessionIDFromPath(path)
	start := messages[0].Timestamp
	end := messages[len(messages)-1].Timestamp

	s := model.Session{
		SessionID:   sessionID,
		Project:     ProjectFromPath(path),
		FilePath:    path,
		StartedAt:   start,
		EndedAt:     end,
		DurationSec: int64(end.Sub(start).Seconds()),
		Model:       modelName,
	}

	bundle := &model.SessionBundle{}

	var (
		toolSet     = make(map[string]struct{})
		toolNames   []string
		autonomySum int
		rewinds     int
	)

	for i := range messages {
		m := &messages[i]
		s.TotalInputTokens += m.InputTokens
		s.TotalOutputTokens += m.OutputTokens
		s.CacheHits += m.CacheHits
		s.CacheMisses += m.CacheMisses

		if m.ToolCall != "" {
			if name := toolName(m.ToolCall); name != "" {
				if _, seen := toolSet[name]; !seen {
					toolSet[name] = struct{}{}
					toolNames = append(toolNames, name)
				}
			}
		}

		autonomySum += m.AutonomyLevel
		if m.AutonomyLevel > s.AutonomyLevel {
			s.AutonomyLevel = m.AutonomyLevel
		}
		if m.IsRewindTrigger {
			rewinds++
		}

		if m.CheckpointID != "" {
			bundle.Checkpoints = append(bundle.Checkpoints, model.Checkpoint{
				SessionID: sessionID, CheckpointID: m.CheckpointID, CreatedAt: m.Timestamp,
			})
		}
		if m.SubagentID != "" {
			bundle.Subagents = append(bundle.Subagents, model.Subagent{
				SessionID: sessionID, SubagentID: m.SubagentID, CreatedAt: m.Timestamp,
			})
		}
		if m.BackgroundTaskID != "" {
			bundle.BackgroundTasks = append(bundle.BackgroundTasks, model.BackgroundTask{
				SessionID: sessionID, TaskID: m.BackgroundTaskID, CreatedAt: m.Timestamp,
			})
		}
		if m.VSCodeIntegrationID != "" {
			bundle.VSCodeEvents = append(bundle.VSCodeEvents, model.VSCodeIntegration{
				SessionID: sessionID, IntegrationID: m.VSCodeIntegrationID, CreatedAt: m.Timestamp,
			})
		}
	}

	s.ToolNames = toolNames
	s.EstimatedCost = p.pricing.Cost(modelName, s.TotalInputTokens, s.TotalOutputTokens)

	// Classification uses the max autonomy level; the metrics score below
	// uses the mean. The two are deliberately different signals.
	duration := end.Sub(start)
	s.IsExtendedSession = duration >= p.extendedThreshold
	switch {
	case !s.IsExtendedSession:
		s.Type = model.SessionStandard
	case s.AutonomyLevel >= p.autonomyThreshold:
		s.Type = model.SessionAutonomous
	default:
		s.Type = model.SessionExtended
	}
	s.HasBackgroundTasks = len(bundle.BackgroundTasks) > 0
	s.HasSubagents = len(bundle.Subagents) > 0
	s.HasVSCode = len(bundle.VSCodeEvents) > 0

	bundle.Session = s
	bundle.Messages = messages
	bundle.Metrics = p.buildMetrics(s, messages, bundle, autonomySum, rewinds)
	return bundle
}

func (p *Parser) buildMetrics(s model.Session, messages []model.RawMessage, b *model.SessionBundle, autonomySum, rewinds int) model.Metrics {
	m := model.Metrics{
		SessionID:     s.SessionID,
		TotalTokens:   s.TotalInputTokens + s.TotalOutputTokens,
		InputTokens:   s.TotalInputTokens,
		OutputTokens:  s.TotalOutputTokens,
		EstimatedCost: s.EstimatedCost,
		DurationSec:   s.DurationSec,
		MessageCount:  len(messages),
		ToolCount:     len(s.ToolNames),
	}
	m.BucketsFrom(s.StartedAt)

	if denom := s.CacheHits + s.CacheMisses; denom > 0 {
		m.CacheEfficiency = float64(s.CacheHits) / float64(denom)
	}

	m.CheckpointCount = len(b.Checkpoints)
	m.RewindCount = rewinds
	m.BackgroundTaskCount = len(b.BackgroundTasks)
	m.SubagentCount = len(b.Subagents)
	m.VSCodeEventCount = len(b.VSCodeEvents)
	m.AutonomyScore = float64(autonomySum) / float64(len(messages))

	// Parallel development efficiency: share of messages that fanned out to
	// a subagent or background task, clamped to [0,1].
	parallel := float64(m.SubagentCount+m.BackgroundTaskCount) / float64(len(messages))
	if parallel > 1 {
		parallel = 1
	}
	m.ParallelEfficiency = parallel

	return m
}
