package analytics

import (
	"testing"
	"time"

	"github.com/lucasnoah/maestro/internal/db"
	"github.com/lucasnoah/maestro/internal/runner"
)

func testDB(t *testing.T) *db.DB {
	t.Helper()
	d, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := d.Migrate(); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func record(t *testing.T, d *db.DB, task, stage string, durationMs int) {
	t.Helper()
	now := time.Now().UTC()
	err := d.RecordStageResult("run-"+task, &runner.Result{
		Task: task, Stage: stage, ExitCode: 0, DurationMs: durationMs,
		StartedAt: now, FinishedAt: now,
	})
	if err != nil {
		t.Fatalf("RecordStageResult: %v", err)
	}
}

func TestQueryStageDurationsEmpty(t *testing.T) {
	d := testDB(t)
	stats, err := QueryStageDurations(d, "")
	if err != nil {
		t.Fatalf("QueryStageDurations: %v", err)
	}
	if len(stats) != 0 {
		t.Errorf("stats = %v, want empty", stats)
	}
}

func TestQueryStageDurations(t *testing.T) {
	d := testDB(t)
	record(t, d, "t1", "plan", 1000)
	record(t, d, "t2", "plan", 3000)
	record(t, d, "t1", "code", 10000)

	stats, err := QueryStageDurations(d, "")
	if err != nil {
		t.Fatalf("QueryStageDurations: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("len(stats) = %d, want 2", len(stats))
	}

	// Sorted by stage name: code before plan.
	if stats[0].Stage != "code" || stats[1].Stage != "plan" {
		t.Fatalf("stages = (%q, %q), want (code, plan)", stats[0].Stage, stats[1].Stage)
	}

	plan := stats[1]
	if plan.Count != 2 {
		t.Errorf("plan.Count = %d, want 2", plan.Count)
	}
	if plan.Avg != 2 {
		t.Errorf("plan.Avg = %v, want 2 seconds", plan.Avg)
	}
	if plan.P95 != 3 {
		t.Errorf("plan.P95 = %v, want 3 seconds", plan.P95)
	}

	code := stats[0]
	if code.Count != 1 || code.Avg != 10 {
		t.Errorf("code = %+v, want single 10s result", code)
	}
}

func TestQueryStageDurationsSince(t *testing.T) {
	d := testDB(t)
	record(t, d, "t1", "plan", 2000)

	// A cutoff in the far future excludes everything.
	stats, err := QueryStageDurations(d, "2999-01-01 00:00:00")
	if err != nil {
		t.Fatalf("QueryStageDurations: %v", err)
	}
	if len(stats) != 0 {
		t.Errorf("stats = %v, want empty past the cutoff", stats)
	}

	stats, err = QueryStageDurations(d, "2000-01-01 00:00:00")
	if err != nil {
		t.Fatalf("QueryStageDurations: %v", err)
	}
	if len(stats) != 1 {
		t.Errorf("len(stats) = %d, want 1 within the window", len(stats))
	}
}
