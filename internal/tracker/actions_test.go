package tracker

import (
	"testing"
	"time"
)

func TestActionLogDropKeepsLaterActions(t *testing.T) {
	t.Parallel()
	var log ActionLog
	for _, typ := range []string{"enter-page", "onclick", "onclick"} {
		log.Append(Action{Type: typ, Timestamp: time.Unix(0, 0)})
	}

	snap := log.Snapshot()
	log.Append(Action{Type: "onsubmit"})
	log.Drop(len(snap))

	if log.Len() != 1 || !log.Contains("onsubmit") || log.Contains("onclick") {
		t.Fatalf("log after drop = %+v", log.actions)
	}

	log.Drop(10)
	if log.Len() != 0 {
		t.Errorf("len = %d after dropping everything", log.Len())
	}
}

func TestActionLogSnapshotIsDeep(t *testing.T) {
	t.Parallel()
	props := map[string]any{"nested": map[string]any{"k": "v"}}
	var log ActionLog
	log.Append(Action{Type: "custom", Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 6e6, time.UTC), Properties: props})

	snap := log.Snapshot()
	snap[0].Properties["nested"].(map[string]any)["k"] = "changed"

	again := log.Snapshot()
	if again[0].Properties["nested"].(map[string]any)["k"] != "v" {
		t.Error("snapshot shares properties with the log")
	}
	if again[0].Timestamp != "2026-01-02T03:04:05.006Z" {
		t.Errorf("timestamp = %q", again[0].Timestamp)
	}
}
