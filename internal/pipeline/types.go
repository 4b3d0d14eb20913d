package pipeline

import "github.com/lucasnoah/maestro/internal/runner"

// Task statuses.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// TaskState is the top-level persisted state for a single task pipeline.
// Tasks are created when a request file is discovered and never deleted;
// re-running a task replaces its stage results and artifacts wholesale.
type TaskState struct {
	TaskID       string                    `json:"task_id"`
	RequestPath  string                    `json:"request_path"`
	CurrentStage string                    `json:"current_stage"`
	Status       string                    `json:"status"` // "pending", "in_progress", "completed", "failed"
	RunID        string                    `json:"run_id,omitempty"`
	FailedStage  string                    `json:"failed_stage,omitempty"`
	FailReason   string                    `json:"fail_reason,omitempty"`
	StageResults map[string]*runner.Result `json:"stage_results"`
	CreatedAt    string                    `json:"created_at"`
	UpdatedAt    string                    `json:"updated_at"`
}
