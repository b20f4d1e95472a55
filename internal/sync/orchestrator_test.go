package sync

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jswensen/logsync/internal/config"
	"github.com/jswensen/logsync/internal/model"
	"github.com/jswensen/logsync/internal/store"
)

func testSetup(t *testing.T) (*Orchestrator, *store.Store, string) {
	t.Helper()

	logsDir := t.TempDir()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), store.Options{ExtendedSchema: true})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })

	cfg := config.DefaultConfig()
	cfg.General.LogsDir = logsDir
	return New(st, cfg, nil), st, logsDir
}

func writeLog(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func validLog(t *testing.T, dir, name string) string {
	t.Helper()
	return writeLog(t, dir, name,
		`{"role":"user","timestamp":"2025-06-01T10:00:00Z","input_tokens":10,"output_tokens":0}`,
		`{"role":"assistant","timestamp":"2025-06-01T10:00:30Z","input_tokens":5,"output_tokens":20}`,
	)
}

// backdate moves a file's mtime well behind any watermark the test records.
// The watermark has second precision, so a file written in the same second
// as the sync start would otherwise straddle it.
func backdate(t *testing.T, path string) {
	t.Helper()
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatal(err)
	}
}

func TestSyncAll(t *testing.T) {
	orch, st, logsDir := testSetup(t)
	validLog(t, logsDir, "a.jsonl")
	validLog(t, logsDir, "b.jsonl")

	result, err := orch.SyncAll(Options{})
	if err != nil {
		t.Fatal(err)
	}

	if !result.Success() {
		t.Fatalf("result not successful: parse=%v insert=%v", result.ParseErrors, result.InsertErrors)
	}
	if result.FilesProcessed != 2 || result.SessionsInserted != 2 {
		t.Errorf("files/inserted = %d/%d, want 2/2", result.FilesProcessed, result.SessionsInserted)
	}
	if result.MessagesProcessed != 4 {
		t.Errorf("MessagesProcessed = %d, want 4", result.MessagesProcessed)
	}

	n, err := st.SessionCount()
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("stored sessions = %d, want 2", n)
	}

	cp, err := st.LastCheckpoint(store.DefaultSyncKey)
	if err != nil {
		t.Fatal(err)
	}
	if cp == nil || cp.Status != model.SyncCompleted {
		t.Fatalf("checkpoint = %+v, want completed", cp)
	}
	if cp.FilesProcessed != 2 {
		t.Errorf("checkpoint files = %d, want 2", cp.FilesProcessed)
	}
}

func TestSyncIncrementalWithoutCheckpointIsFullSync(t *testing.T) {
	orch, _, logsDir := testSetup(t)
	validLog(t, logsDir, "a.jsonl")

	result, err := orch.SyncAll(Options{Incremental: true})
	if err != nil {
		t.Fatal(err)
	}
	if result.FilesProcessed != 1 || result.SessionsInserted != 1 {
		t.Errorf("files/inserted = %d/%d, want 1/1", result.FilesProcessed, result.SessionsInserted)
	}
}

func TestSyncIncrementalProcessesOnlyChanges(t *testing.T) {
	orch, _, logsDir := testSetup(t)
	backdate(t, validLog(t, logsDir, "a.jsonl"))

	if _, err := orch.SyncAll(Options{}); err != nil {
		t.Fatal(err)
	}

	// Nothing changed since the watermark.
	result, err := orch.SyncIncremental(Options{})
	if err != nil {
		t.Fatal(err)
	}
	if result.FilesProcessed != 0 {
		t.Errorf("unchanged tree processed %d files, want 0", result.FilesProcessed)
	}

	// A file added after the watermark is picked up as new.
	validLog(t, logsDir, "b.jsonl")
	result, err = orch.SyncIncremental(Options{})
	if err != nil {
		t.Fatal(err)
	}
	if result.FilesProcessed != 1 || result.SessionsInserted != 1 {
		t.Errorf("files/inserted = %d/%d, want 1/1", result.FilesProcessed, result.SessionsInserted)
	}
}

func TestDryRunWritesNothing(t *testing.T) {
	orch, st, logsDir := testSetup(t)
	validLog(t, logsDir, "a.jsonl")

	result, err := orch.SyncAll(Options{DryRun: true})
	if err != nil {
		t.Fatal(err)
	}

	if result.SessionsInserted != 1 || result.FilesProcessed != 1 {
		t.Errorf("dry run counters = %d inserted / %d files, want 1/1",
			result.SessionsInserted, result.FilesProcessed)
	}

	n, err := st.SessionCount()
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("dry run stored %d sessions", n)
	}
	cp, err := st.LastCheckpoint(store.DefaultSyncKey)
	if err != nil {
		t.Fatal(err)
	}
	if cp != nil {
		t.Errorf("dry run wrote a checkpoint: %+v", cp)
	}
}

func TestDryRunCountsDuplicates(t *testing.T) {
	orch, _, logsDir := testSetup(t)
	validLog(t, logsDir, "a.jsonl")

	if _, err := orch.SyncAll(Options{}); err != nil {
		t.Fatal(err)
	}

	result, err := orch.SyncAll(Options{DryRun: true})
	if err != nil {
		t.Fatal(err)
	}
	if result.DuplicatesSkipped != 1 || result.SessionsInserted != 0 {
		t.Errorf("dry run = %d skipped / %d inserted, want 1/0",
			result.DuplicatesSkipped, result.SessionsInserted)
	}
}

func TestSyncCollectsParseErrors(t *testing.T) {
	orch, st, logsDir := testSetup(t)
	validLog(t, logsDir, "good.jsonl")
	writeLog(t, logsDir, "bad.jsonl", "not json")

	result, err := orch.SyncAll(Options{})
	if err != nil {
		t.Fatal(err)
	}

	if result.Success() {
		t.Error("result with parse errors should not be successful")
	}
	if result.FilesProcessed != 2 {
		t.Errorf("FilesProcessed = %d, want 2 (bad file still counted)", result.FilesProcessed)
	}
	if result.SessionsInserted != 1 {
		t.Errorf("SessionsInserted = %d, want 1", result.SessionsInserted)
	}
	if len(result.ParseErrors) == 0 {
		t.Error("parse errors not collected")
	}

	// Errors never block the terminal checkpoint.
	cp, err := st.LastCheckpoint(store.DefaultSyncKey)
	if err != nil {
		t.Fatal(err)
	}
	if cp == nil || cp.Status != model.SyncCompleted {
		t.Fatalf("checkpoint = %+v, want completed despite parse errors", cp)
	}
}

func TestSyncFilesTargeted(t *testing.T) {
	orch, _, logsDir := testSetup(t)
	a := validLog(t, logsDir, "a.jsonl")
	validLog(t, logsDir, "b.jsonl")

	result, err := orch.SyncFiles([]string{a}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if result.FilesProcessed != 1 || result.SessionsInserted != 1 {
		t.Errorf("files/inserted = %d/%d, want 1/1", result.FilesProcessed, result.SessionsInserted)
	}
}

func TestSyncSkipExistingAndMaxFiles(t *testing.T) {
	orch, _, logsDir := testSetup(t)
	validLog(t, logsDir, "a.jsonl")
	validLog(t, logsDir, "b.jsonl")
	validLog(t, logsDir, "c.jsonl")

	result, err := orch.SyncAll(Options{MaxFiles: 2})
	if err != nil {
		t.Fatal(err)
	}
	if result.FilesProcessed != 2 {
		t.Fatalf("MaxFiles pass processed %d files, want 2", result.FilesProcessed)
	}

	result, err = orch.SyncAll(Options{SkipExisting: true})
	if err != nil {
		t.Fatal(err)
	}
	if result.FilesProcessed != 1 || result.SessionsInserted != 1 {
		t.Errorf("SkipExisting pass = %d files / %d inserted, want 1/1",
			result.FilesProcessed, result.SessionsInserted)
	}
}

func TestSyncClaimConflict(t *testing.T) {
	orch, st, logsDir := testSetup(t)
	validLog(t, logsDir, "a.jsonl")

	if err := st.ClaimSync(store.DefaultSyncKey); err != nil {
		t.Fatal(err)
	}

	_, err := orch.SyncAll(Options{})
	if !errors.Is(err, store.ErrSyncInProgress) {
		t.Fatalf("err = %v, want ErrSyncInProgress", err)
	}
}

func TestProgressEvents(t *testing.T) {
	orch, _, logsDir := testSetup(t)
	validLog(t, logsDir, "a.jsonl")
	validLog(t, logsDir, "b.jsonl")

	var events []model.Progress
	orch.OnProgress(func(p model.Progress) { events = append(events, p) })

	if _, err := orch.SyncAll(Options{}); err != nil {
		t.Fatal(err)
	}

	// One event per file plus the terminal event.
	if len(events) != 3 {
		t.Fatalf("events = %d, want 3", len(events))
	}
	last := events[len(events)-1]
	if last.Status != model.SyncCompleted {
		t.Errorf("terminal status = %s, want %s", last.Status, model.SyncCompleted)
	}
	if last.ProgressPercent != 100 {
		t.Errorf("terminal percent = %v, want 100", last.ProgressPercent)
	}
	if last.CurrentFile != "" {
		t.Errorf("terminal CurrentFile = %q, want empty", last.CurrentFile)
	}
	for _, e := range events {
		if e.RunID == "" {
			t.Fatal("event missing run id")
		}
	}
}

func TestPreviewIncrementalSync(t *testing.T) {
	orch, _, logsDir := testSetup(t)
	backdate(t, validLog(t, logsDir, "a.jsonl"))

	preview, err := orch.PreviewIncrementalSync()
	if err != nil {
		t.Fatal(err)
	}
	if !preview.Watermark.IsZero() {
		t.Errorf("watermark = %v before first sync, want zero", preview.Watermark)
	}
	if preview.TotalFiles != 1 || len(preview.NewFiles) != 1 {
		t.Errorf("preview = %d total / %d new, want 1/1", preview.TotalFiles, len(preview.NewFiles))
	}

	if _, err := orch.SyncAll(Options{}); err != nil {
		t.Fatal(err)
	}

	preview, err = orch.PreviewIncrementalSync()
	if err != nil {
		t.Fatal(err)
	}
	if preview.Watermark.IsZero() {
		t.Error("watermark still zero after a completed sync")
	}
	if len(preview.NewFiles) != 0 || len(preview.UpdatedFiles) != 0 {
		t.Errorf("preview changed = %d new / %d updated, want 0/0",
			len(preview.NewFiles), len(preview.UpdatedFiles))
	}
}
