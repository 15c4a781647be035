package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestRecordAndRecent(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	for i, state := range []string{"done", "failed", "done"} {
		err := j.Record(ctx, Entry{
			TaskID:       "task-" + string(rune('a'+i)),
			ResourceType: "website",
			Operation:    "update",
			Target:       "example.com",
			State:        state,
			Attempts:     1,
			FinishedAt:   time.Date(2026, 1, 1, 12, i, 0, 0, time.UTC),
		})
		if err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	entries, err := j.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].TaskID != "task-c" {
		t.Errorf("newest first: got %q, want task-c", entries[0].TaskID)
	}
	if entries[0].FinishedAt.Minute() != 2 {
		t.Errorf("timestamp not round-tripped: %v", entries[0].FinishedAt)
	}
}

func TestFailCount(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	record := func(target, state string) {
		t.Helper()
		if err := j.Record(ctx, Entry{
			TaskID: "t", ResourceType: "database", Operation: "create",
			Target: target, State: state, Attempts: 3,
		}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	record("db1", "failed")
	record("db1", "failed")
	record("db1", "done")
	record("db2", "failed")

	n, err := j.FailCount(ctx, "database", "db1")
	if err != nil {
		t.Fatalf("FailCount: %v", err)
	}
	if n != 2 {
		t.Errorf("got %d failures for db1, want 2", n)
	}

	n, err = j.FailCount(ctx, "website", "db1")
	if err != nil {
		t.Fatalf("FailCount: %v", err)
	}
	if n != 0 {
		t.Errorf("got %d failures for wrong resource type, want 0", n)
	}
}
