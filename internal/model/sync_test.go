package model

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestProgressWireUnitsAreMilliseconds(t *testing.T) {
	p := Progress{
		RunID:                "run-1",
		Status:               SyncInProgress,
		EstimatedRemainingMs: (1500 * time.Millisecond).Milliseconds(),
	}

	data, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"estimated_time_remaining_ms":1500`) {
		t.Errorf("payload = %s, want estimated_time_remaining_ms of 1500", data)
	}
}

func TestSyncResultSuccess(t *testing.T) {
	if !(SyncResult{}).Success() {
		t.Error("empty result should be successful")
	}
	r := SyncResult{ParseErrors: []IngestError{{Kind: ErrMalformedJSON}}}
	if r.Success() {
		t.Error("result with parse errors should not be successful")
	}
	r = SyncResult{InsertErrors: []InsertError{{SessionID: "s1"}}}
	if r.Success() {
		t.Error("result with insert errors should not be successful")
	}
}
