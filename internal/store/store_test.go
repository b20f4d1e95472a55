package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/jswensen/logsync/internal/model"
)

func openTestStore(t *testing.T, extended bool) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "test.db"), Options{ExtendedSchema: extended})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// testBundle builds a minimal consistent bundle for write-path tests.
func testBundle(id string, start time.Time, messages int) *model.SessionBundle {
	end := start.Add(time.Duration(messages) * time.Minute)
	b := &model.SessionBundle{
		Session: model.Session{
			SessionID:         id,
			Project:           "demo",
			FilePath:          "/logs/demo/" + id + ".jsonl",
			StartedAt:         start,
			EndedAt:           end,
			DurationSec:       int64(end.Sub(start).Seconds()),
			Model:             "claude-sonnet-4-5",
			TotalInputTokens:  int64(messages * 100),
			TotalOutputTokens: int64(messages * 10),
			EstimatedCost:     0.5,
			ToolNames:         []string{"bash"},
			Type:              model.SessionStandard,
		},
	}
	for i := 0; i < messages; i++ {
		b.Messages = append(b.Messages, model.RawMessage{
			Seq:          i,
			Role:         model.RoleUser,
			Content:      "msg",
			Timestamp:    start.Add(time.Duration(i) * time.Minute),
			InputTokens:  100,
			OutputTokens: 10,
		})
	}
	b.Metrics = model.Metrics{
		SessionID:    id,
		InputTokens:  b.Session.TotalInputTokens,
		OutputTokens: b.Session.TotalOutputTokens,
		TotalTokens:  b.Session.TotalInputTokens + b.Session.TotalOutputTokens,
		DurationSec:  b.Session.DurationSec,
		MessageCount: messages,
	}
	b.Metrics.BucketsFrom(start)
	return b
}

func countRows(t *testing.T, st *Store, table string) int {
	t.Helper()
	var n int
	if err := st.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("counting %s: %v", table, err)
	}
	return n
}

func TestOpenCreatesSchema(t *testing.T) {
	st := openTestStore(t, false)
	if n := countRows(t, st, "sessions"); n != 0 {
		t.Fatalf("fresh sessions table has %d rows", n)
	}
	if n := countRows(t, st, "sync_metadata"); n != 0 {
		t.Fatalf("fresh sync_metadata table has %d rows", n)
	}
}

func TestTrackedFilePaths(t *testing.T) {
	st := openTestStore(t, true)
	w := NewWriter(st, 0)

	b := testBundle("s1", time.Now().UTC(), 2)
	if _, err := w.InsertSession(b); err != nil {
		t.Fatal(err)
	}

	paths, err := st.TrackedFilePaths()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := paths[b.Session.FilePath]; !ok || len(paths) != 1 {
		t.Fatalf("paths = %v, want exactly %q", paths, b.Session.FilePath)
	}
}
