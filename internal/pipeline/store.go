package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/lucasnoah/maestro/internal/runner"
)

// Store manages task state and artifacts on disk.
//
// Layout under baseDir:
//
//	tasks/<task_id>/task.json
//	tasks/<task_id>/handoff/    plan.json, spec.md, changes.diff
//	tasks/<task_id>/logs/       <task_id>.<stage>.log, <task_id>.<check>.out
//	tasks/<task_id>/reports/    qa.json
type Store struct {
	baseDir string // defaults to ~/.maestro
}

// NewStore creates a Store rooted at baseDir.
func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// DefaultStore returns a Store at ~/.maestro, creating the directory if needed.
func DefaultStore() (*Store, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("get home dir: %w", err)
	}
	dir := filepath.Join(home, ".maestro")
	if err := os.MkdirAll(filepath.Join(dir, "tasks"), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return &Store{baseDir: dir}, nil
}

// BaseDir returns the store's root directory.
func (s *Store) BaseDir() string {
	return s.baseDir
}

// TaskDir returns the directory for a given task.
func (s *Store) TaskDir(taskID string) string {
	return filepath.Join(s.baseDir, "tasks", taskID)
}

// HandoffDir returns the inter-stage artifact directory for a task.
func (s *Store) HandoffDir(taskID string) string {
	return filepath.Join(s.TaskDir(taskID), "handoff")
}

// LogsDir returns the captured-output directory for a task.
func (s *Store) LogsDir(taskID string) string {
	return filepath.Join(s.TaskDir(taskID), "logs")
}

// ReportsDir returns the QA report directory for a task.
func (s *Store) ReportsDir(taskID string) string {
	return filepath.Join(s.TaskDir(taskID), "reports")
}

// StageLogPath returns the log file path for a (task, stage) pair.
func (s *Store) StageLogPath(taskID, stage string) string {
	return filepath.Join(s.LogsDir(taskID), fmt.Sprintf("%s.%s.log", taskID, stage))
}

// CheckOutPath returns the raw output file path for a verify check.
func (s *Store) CheckOutPath(taskID, check string) string {
	return filepath.Join(s.LogsDir(taskID), fmt.Sprintf("%s.%s.out", taskID, check))
}

// QAReportPath returns the qa.json path for a task.
func (s *Store) QAReportPath(taskID string) string {
	return filepath.Join(s.ReportsDir(taskID), "qa.json")
}

func (s *Store) taskPath(taskID string) string {
	return filepath.Join(s.TaskDir(taskID), "task.json")
}

// Create initialises a new task on disk. Creating a task that already
// exists is an error; use Get/Update for existing tasks.
func (s *Store) Create(taskID, requestPath, firstStage string) (*TaskState, error) {
	dir := s.TaskDir(taskID)
	if _, err := os.Stat(s.taskPath(taskID)); err == nil {
		return nil, fmt.Errorf("task %q already exists", taskID)
	}

	for _, sub := range []string{"handoff", "logs", "reports"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("mkdir %s: %w", sub, err)
		}
	}

	now := time.Now().UTC().Format(time.RFC3339)
	ts := &TaskState{
		TaskID:       taskID,
		RequestPath:  requestPath,
		CurrentStage: firstStage,
		Status:       StatusPending,
		StageResults: make(map[string]*runner.Result),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := WriteJSON(s.taskPath(taskID), ts); err != nil {
		return nil, fmt.Errorf("write task.json: %w", err)
	}
	return ts, nil
}

// GetOrCreate returns the existing task state, creating it when absent.
func (s *Store) GetOrCreate(taskID, requestPath, firstStage string) (*TaskState, error) {
	ts, err := s.Get(taskID)
	if err == nil {
		return ts, nil
	}
	return s.Create(taskID, requestPath, firstStage)
}

// Get reads the task state for a task identifier.
func (s *Store) Get(taskID string) (*TaskState, error) {
	var ts TaskState
	if err := ReadJSON(s.taskPath(taskID), &ts); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("task %q not found", taskID)
		}
		return nil, err
	}
	return &ts, nil
}

// Update performs a read-modify-write of the task state.
func (s *Store) Update(taskID string, fn func(*TaskState)) error {
	ts, err := s.Get(taskID)
	if err != nil {
		return err
	}
	fn(ts)
	ts.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	return WriteJSON(s.taskPath(taskID), ts)
}

// SaveStageResult records the result for a (task, stage) pair, replacing any
// result from a prior run of the same stage.
func (s *Store) SaveStageResult(taskID string, res *runner.Result) error {
	return s.Update(taskID, func(ts *TaskState) {
		if ts.StageResults == nil {
			ts.StageResults = make(map[string]*runner.Result)
		}
		ts.StageResults[res.Stage] = res
	})
}

// ResetArtifacts clears handoff/, logs/, and reports/ for a task so a re-run
// starts from a clean slate. Latest inputs win; nothing accumulates.
func (s *Store) ResetArtifacts(taskID string) error {
	for _, sub := range []string{"handoff", "logs", "reports"} {
		dir := filepath.Join(s.TaskDir(taskID), sub)
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("remove %s: %w", dir, err)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	return s.Update(taskID, func(ts *TaskState) {
		ts.StageResults = make(map[string]*runner.Result)
		ts.FailedStage = ""
		ts.FailReason = ""
	})
}

// List returns all tasks, optionally filtered by status.
// Pass "" for statusFilter to return all tasks.
func (s *Store) List(statusFilter string) ([]TaskState, error) {
	entries, err := os.ReadDir(filepath.Join(s.baseDir, "tasks"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read tasks dir: %w", err)
	}

	var tasks []TaskState
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		ts, err := s.Get(entry.Name())
		if err != nil {
			continue // skip broken entries
		}
		if statusFilter == "" || ts.Status == statusFilter {
			tasks = append(tasks, *ts)
		}
	}

	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].TaskID < tasks[j].TaskID
	})
	return tasks, nil
}
