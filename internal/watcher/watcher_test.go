package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type staticSource struct {
	reqs []Request
	err  error
}

func (s *staticSource) Discover() ([]Request, error) {
	return s.reqs, s.err
}

func loadSet(t *testing.T) *ProcessedSet {
	t.Helper()
	ps, err := LoadProcessedSet(filepath.Join(t.TempDir(), "processed.log"))
	if err != nil {
		t.Fatalf("LoadProcessedSet: %v", err)
	}
	t.Cleanup(func() { ps.Close() })
	return ps
}

func requests(ids ...string) []Request {
	var reqs []Request
	for _, id := range ids {
		reqs = append(reqs, Request{TaskID: id, Path: "/issues/" + id + ".md"})
	}
	return reqs
}

func TestSweepRunsNewTasksOnce(t *testing.T) {
	ps := loadSet(t)
	runs := map[string]int{}
	run := func(ctx context.Context, id string) (bool, error) {
		runs[id]++
		return true, nil
	}

	w := New(&staticSource{reqs: requests("a", "b")}, ps, run, time.Second, 5)
	w.Sweep(context.Background())
	w.Sweep(context.Background())
	w.Sweep(context.Background())

	if runs["a"] != 1 || runs["b"] != 1 {
		t.Errorf("runs = %v, want exactly one per task", runs)
	}
	if !ps.Contains("a") || !ps.Contains("b") {
		t.Error("successful tasks missing from processed set")
	}
}

func TestSweepFailedTaskNotRecorded(t *testing.T) {
	ps := loadSet(t)
	runs := 0
	run := func(ctx context.Context, id string) (bool, error) {
		runs++
		return runs >= 3, nil // succeed on the third attempt
	}

	w := New(&staticSource{reqs: requests("flaky")}, ps, run, time.Second, 5)

	w.Sweep(context.Background())
	if ps.Contains("flaky") {
		t.Fatal("failed task was recorded as processed")
	}

	w.Sweep(context.Background())
	w.Sweep(context.Background())
	if runs != 3 {
		t.Errorf("runs = %d, want 3 (retried until success)", runs)
	}
	if !ps.Contains("flaky") {
		t.Error("task missing from processed set after success")
	}

	// No further runs once processed.
	w.Sweep(context.Background())
	if runs != 3 {
		t.Errorf("runs = %d, want no re-run after success", runs)
	}
}

func TestSweepRetryCap(t *testing.T) {
	ps := loadSet(t)
	runs := 0
	run := func(ctx context.Context, id string) (bool, error) {
		runs++
		return false, errors.New("always broken")
	}

	w := New(&staticSource{reqs: requests("doomed")}, ps, run, time.Second, 2)
	for i := 0; i < 5; i++ {
		w.Sweep(context.Background())
	}

	if runs != 2 {
		t.Errorf("runs = %d, want capped at 2", runs)
	}
	if ps.Contains("doomed") {
		t.Error("failed task must never enter the processed set")
	}
}

func TestSweepUnlimitedRetriesWhenZero(t *testing.T) {
	ps := loadSet(t)
	runs := 0
	run := func(ctx context.Context, id string) (bool, error) {
		runs++
		return false, nil
	}

	w := New(&staticSource{reqs: requests("doomed")}, ps, run, time.Second, 0)
	for i := 0; i < 7; i++ {
		w.Sweep(context.Background())
	}
	if runs != 7 {
		t.Errorf("runs = %d, want 7 (no cap)", runs)
	}
}

func TestSweepSkipsProcessedFromDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "processed.log")

	ps, err := LoadProcessedSet(path)
	if err != nil {
		t.Fatalf("LoadProcessedSet: %v", err)
	}
	if err := ps.Add("done"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	ps.Close()

	// A fresh watcher process rebuilds the set from disk.
	ps2, err := LoadProcessedSet(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	defer ps2.Close()

	runs := 0
	run := func(ctx context.Context, id string) (bool, error) {
		runs++
		return true, nil
	}
	w := New(&staticSource{reqs: requests("done", "new")}, ps2, run, time.Second, 5)
	w.Sweep(context.Background())

	if runs != 1 {
		t.Errorf("runs = %d, want only the new task", runs)
	}
}

func TestSweepStopsOnCancel(t *testing.T) {
	ps := loadSet(t)
	ctx, cancel := context.WithCancel(context.Background())

	runs := 0
	run := func(ctx context.Context, id string) (bool, error) {
		runs++
		cancel() // cancel mid-sweep after the first task
		return true, nil
	}

	w := New(&staticSource{reqs: requests("a", "b", "c")}, ps, run, time.Second, 5)
	w.Sweep(ctx)

	if runs != 1 {
		t.Errorf("runs = %d, want sweep to stop after cancellation", runs)
	}
}

func TestRunReturnsOnCancel(t *testing.T) {
	ps := loadSet(t)
	w := New(&staticSource{}, ps, func(ctx context.Context, id string) (bool, error) {
		return true, nil
	}, 10*time.Millisecond, 5)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestProcessedSetAddIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "processed.log")
	ps, err := LoadProcessedSet(path)
	if err != nil {
		t.Fatalf("LoadProcessedSet: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := ps.Add("task-1"); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	if ps.Len() != 1 {
		t.Errorf("Len = %d, want 1", ps.Len())
	}
	ps.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "task-1\n" {
		t.Errorf("log = %q, want a single line", data)
	}
}

func TestProcessedSetDedupOnLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "processed.log")
	if err := os.WriteFile(path, []byte("a\nb\na\n\nb\n"), 0644); err != nil {
		t.Fatal(err)
	}

	ps, err := LoadProcessedSet(path)
	if err != nil {
		t.Fatalf("LoadProcessedSet: %v", err)
	}
	defer ps.Close()

	if ps.Len() != 2 {
		t.Errorf("Len = %d, want 2", ps.Len())
	}
	if !ps.Contains("a") || !ps.Contains("b") {
		t.Error("identifiers lost during dedup")
	}
}

func TestDirSource(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"beta.md", "alpha.md", ".hidden", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "subdir"), 0755); err != nil {
		t.Fatal(err)
	}

	s := &DirSource{Dir: dir}
	reqs, err := s.Discover()
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}

	want := []string{"alpha", "beta", "notes"}
	if len(reqs) != len(want) {
		t.Fatalf("Discover = %v, want %d requests", reqs, len(want))
	}
	for i, id := range want {
		if reqs[i].TaskID != id {
			t.Errorf("reqs[%d].TaskID = %q, want %q", i, reqs[i].TaskID, id)
		}
	}
}

func TestDirSourceMissingDir(t *testing.T) {
	s := &DirSource{Dir: filepath.Join(t.TempDir(), "absent")}
	reqs, err := s.Discover()
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(reqs) != 0 {
		t.Errorf("Discover = %v, want empty", reqs)
	}
}
