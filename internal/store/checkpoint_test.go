package store

import (
	"errors"
	"testing"
	"time"

	"github.com/jswensen/logsync/internal/model"
)

func TestLastCheckpointEmpty(t *testing.T) {
	st := openTestStore(t, true)
	cp, err := st.LastCheckpoint(DefaultSyncKey)
	if err != nil {
		t.Fatal(err)
	}
	if cp != nil {
		t.Fatalf("checkpoint = %+v, want nil before first sync", cp)
	}
}

func TestClaimSyncExcludesConcurrentRuns(t *testing.T) {
	st := openTestStore(t, true)

	if err := st.ClaimSync(DefaultSyncKey); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if err := st.ClaimSync(DefaultSyncKey); !errors.Is(err, ErrSyncInProgress) {
		t.Fatalf("second claim = %v, want ErrSyncInProgress", err)
	}

	watermark := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if err := st.CompleteSync(DefaultSyncKey, 4, 3, watermark); err != nil {
		t.Fatal(err)
	}

	// A completed checkpoint releases the claim.
	if err := st.ClaimSync(DefaultSyncKey); err != nil {
		t.Fatalf("claim after completion: %v", err)
	}
}

func TestClaimSyncTakesOverStaleClaim(t *testing.T) {
	st := openTestStore(t, true)

	if err := st.ClaimSync(DefaultSyncKey); err != nil {
		t.Fatal(err)
	}

	// Age the in_progress row past the takeover window, as a killed
	// process would have left it.
	old := time.Now().UTC().Add(-2 * time.Hour).Format(time.RFC3339)
	if _, err := st.db.Exec(
		"UPDATE sync_metadata SET updated_at = ? WHERE sync_key = ?", old, DefaultSyncKey,
	); err != nil {
		t.Fatal(err)
	}

	if err := st.ClaimSync(DefaultSyncKey); err != nil {
		t.Fatalf("stale claim should be taken over, got %v", err)
	}
}

func TestCompleteSyncRecordsWatermark(t *testing.T) {
	st := openTestStore(t, true)

	if err := st.ClaimSync(DefaultSyncKey); err != nil {
		t.Fatal(err)
	}
	watermark := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if err := st.CompleteSync(DefaultSyncKey, 7, 5, watermark); err != nil {
		t.Fatal(err)
	}

	cp, err := st.LastCheckpoint(DefaultSyncKey)
	if err != nil {
		t.Fatal(err)
	}
	if cp == nil {
		t.Fatal("checkpoint missing after completion")
	}
	if cp.Status != model.SyncCompleted {
		t.Errorf("Status = %s, want %s", cp.Status, model.SyncCompleted)
	}
	if !cp.LastSyncTime.Equal(watermark) {
		t.Errorf("LastSyncTime = %v, want %v", cp.LastSyncTime, watermark)
	}
	if cp.FilesProcessed != 7 || cp.SessionsProcessed != 5 {
		t.Errorf("counters = %d/%d, want 7/5", cp.FilesProcessed, cp.SessionsProcessed)
	}
	if cp.ErrorMessage != "" {
		t.Errorf("ErrorMessage = %q, want empty", cp.ErrorMessage)
	}
}

func TestFailSyncPreservesWatermark(t *testing.T) {
	st := openTestStore(t, true)

	if err := st.ClaimSync(DefaultSyncKey); err != nil {
		t.Fatal(err)
	}
	watermark := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if err := st.CompleteSync(DefaultSyncKey, 1, 1, watermark); err != nil {
		t.Fatal(err)
	}

	if err := st.ClaimSync(DefaultSyncKey); err != nil {
		t.Fatal(err)
	}
	if err := st.FailSync(DefaultSyncKey, "disk full"); err != nil {
		t.Fatal(err)
	}

	cp, err := st.LastCheckpoint(DefaultSyncKey)
	if err != nil {
		t.Fatal(err)
	}
	if cp.Status != model.SyncFailed {
		t.Errorf("Status = %s, want %s", cp.Status, model.SyncFailed)
	}
	if cp.ErrorMessage != "disk full" {
		t.Errorf("ErrorMessage = %q", cp.ErrorMessage)
	}
	// The next incremental sync must re-cover the failed window.
	if !cp.LastSyncTime.Equal(watermark) {
		t.Errorf("LastSyncTime = %v, want preserved %v", cp.LastSyncTime, watermark)
	}
}
