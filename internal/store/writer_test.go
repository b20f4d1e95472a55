package store

import (
	"testing"
	"time"

	"github.com/jswensen/logsync/internal/model"
)

func TestInsertSessionIdempotent(t *testing.T) {
	st := openTestStore(t, true)
	w := NewWriter(st, 0)
	start := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	res, err := w.InsertSession(testBundle("s1", start, 3))
	if err != nil {
		t.Fatal(err)
	}
	if !res.SessionInserted {
		t.Error("first insert should report SessionInserted")
	}
	if res.MessagesInserted != 3 {
		t.Errorf("MessagesInserted = %d, want 3", res.MessagesInserted)
	}
	if !res.MetricsWritten {
		t.Error("metrics not written")
	}

	res, err = w.InsertSession(testBundle("s1", start, 3))
	if err != nil {
		t.Fatal(err)
	}
	if res.SessionInserted {
		t.Error("re-insert should report update, not insert")
	}

	if n := countRows(t, st, "sessions"); n != 1 {
		t.Errorf("sessions = %d, want 1", n)
	}
	if n := countRows(t, st, "raw_messages"); n != 3 {
		t.Errorf("raw_messages = %d, want 3", n)
	}
	if n := countRows(t, st, "session_metrics"); n != 1 {
		t.Errorf("session_metrics = %d, want 1", n)
	}
}

func TestInsertSessionReplacesMessages(t *testing.T) {
	st := openTestStore(t, true)
	w := NewWriter(st, 2) // small batch to exercise chunking
	start := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	if _, err := w.InsertSession(testBundle("s1", start, 5)); err != nil {
		t.Fatal(err)
	}
	if _, err := w.InsertSession(testBundle("s1", start, 2)); err != nil {
		t.Fatal(err)
	}

	if n := countRows(t, st, "raw_messages"); n != 2 {
		t.Errorf("raw_messages = %d after shrink, want 2", n)
	}
}

func TestInsertSessionsCountsDuplicates(t *testing.T) {
	st := openTestStore(t, true)
	w := NewWriter(st, 0)
	start := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	bundles := []*model.SessionBundle{
		testBundle("s1", start, 1),
		testBundle("s2", start, 1),
	}

	batch := w.InsertSessions(bundles)
	if batch.SessionsInserted != 2 || batch.DuplicatesSkipped != 0 {
		t.Fatalf("first pass = %d inserted / %d skipped, want 2/0",
			batch.SessionsInserted, batch.DuplicatesSkipped)
	}

	batch = w.InsertSessions(bundles)
	if batch.SessionsInserted != 0 || batch.DuplicatesSkipped != 2 {
		t.Fatalf("second pass = %d inserted / %d skipped, want 0/2",
			batch.SessionsInserted, batch.DuplicatesSkipped)
	}
	if len(batch.Errors) != 0 {
		t.Errorf("unexpected errors: %v", batch.Errors)
	}
}

func TestInsertSessionLegacySchema(t *testing.T) {
	st := openTestStore(t, false)
	w := NewWriter(st, 0)

	b := testBundle("s1", time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC), 2)
	b.Checkpoints = []model.Checkpoint{{SessionID: "s1", CheckpointID: "cp-1", CreatedAt: b.Session.StartedAt}}

	res, err := w.InsertSession(b)
	if err != nil {
		t.Fatal(err)
	}
	if !res.SessionInserted {
		t.Error("insert failed on legacy schema")
	}
	// Legacy stores have no feature tables; those rows are dropped.
	if res.FeatureRows != 0 {
		t.Errorf("FeatureRows = %d on legacy schema, want 0", res.FeatureRows)
	}
}

func TestInsertSessionFeatureRows(t *testing.T) {
	st := openTestStore(t, true)
	w := NewWriter(st, 0)
	start := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	b := testBundle("s1", start, 1)
	b.Checkpoints = []model.Checkpoint{{SessionID: "s1", CheckpointID: "cp-1", CreatedAt: start}}
	b.Subagents = []model.Subagent{{SessionID: "s1", SubagentID: "sa-1", CreatedAt: start}}
	b.BackgroundTasks = []model.BackgroundTask{{SessionID: "s1", TaskID: "bg-1", CreatedAt: start}}
	b.VSCodeEvents = []model.VSCodeIntegration{{SessionID: "s1", IntegrationID: "vs-1", CreatedAt: start}}

	res, err := w.InsertSession(b)
	if err != nil {
		t.Fatal(err)
	}
	if res.FeatureRows != 4 {
		t.Errorf("FeatureRows = %d, want 4", res.FeatureRows)
	}

	// Re-insert with fewer feature rows replaces, never accumulates.
	b2 := testBundle("s1", start, 1)
	b2.Checkpoints = []model.Checkpoint{{SessionID: "s1", CheckpointID: "cp-2", CreatedAt: start}}
	if _, err := w.InsertSession(b2); err != nil {
		t.Fatal(err)
	}
	if n := countRows(t, st, "checkpoints"); n != 1 {
		t.Errorf("checkpoints = %d, want 1", n)
	}
	if n := countRows(t, st, "subagents"); n != 0 {
		t.Errorf("subagents = %d, want 0", n)
	}
}

func TestResolveConflicts(t *testing.T) {
	st := openTestStore(t, true)
	w := NewWriter(st, 0)
	start := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	stored := testBundle("s1", start, 2)
	if _, err := w.InsertSession(stored); err != nil {
		t.Fatal(err)
	}

	unchanged := testBundle("s1", start, 2)
	changed := testBundle("s1", start, 2)
	changed.Session.TotalInputTokens += 500
	fresh := testBundle("s2", start, 1)

	plan, err := w.ResolveConflicts([]*model.SessionBundle{unchanged, changed, fresh})
	if err != nil {
		t.Fatal(err)
	}

	if len(plan.ToSkip) != 1 || plan.ToSkip[0] != unchanged {
		t.Errorf("ToSkip = %d, want the unchanged bundle", len(plan.ToSkip))
	}
	if len(plan.ToUpdate) != 1 || plan.ToUpdate[0] != changed {
		t.Errorf("ToUpdate = %d, want the changed bundle", len(plan.ToUpdate))
	}
	if len(plan.ToInsert) != 1 || plan.ToInsert[0] != fresh {
		t.Errorf("ToInsert = %d, want the fresh bundle", len(plan.ToInsert))
	}
}
