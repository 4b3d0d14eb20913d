package qa

import (
	"fmt"
	"strconv"
	"time"
)

// Report is the machine-checkable quality verdict for one task. It is
// derived deterministically from verify-stage results and never hand-edited.
type Report struct {
	TaskID         string   `json:"task_id"`
	TestsRun       int      `json:"tests_run"`
	Passed         int      `json:"passed"`
	Failed         int      `json:"failed"`
	Coverage       float64  `json:"coverage"`
	LintErrors     int      `json:"lint_errors"`
	TypeErrors     int      `json:"type_errors"`
	Status         string   `json:"status"` // "pass" or "fail"
	NextActions    []string `json:"next_actions"`
	TimestampStart string   `json:"timestamp_start"`
	TimestampEnd   string   `json:"timestamp_end"`
	ElapsedSec     float64  `json:"elapsed_sec"`
}

// ToolOutput is the captured result of one verify check.
type ToolOutput struct {
	ExitCode int
	Output   string
}

// Thresholds holds the configured quality limits.
type Thresholds struct {
	MinCoverage   float64
	MaxLintErrors int
	MaxTypeErrors int
}

// Synthesize derives a Report from the three verify outputs. The pass
// criterion: lint errors and type errors within limits, zero test failures,
// and coverage at or above the minimum. Each violated criterion appends a
// specific next-action; ordering is fixed: lint, types, tests, coverage.
func Synthesize(taskID string, lint, types, tests ToolOutput, start, end time.Time, th Thresholds) *Report {
	r := &Report{
		TaskID:         taskID,
		LintErrors:     CountErrorLines(lint.Output, lint.ExitCode),
		TypeErrors:     CountErrorLines(types.Output, types.ExitCode),
		Coverage:       ParseCoverage(tests.Output),
		TimestampStart: start.UTC().Format(time.RFC3339),
		TimestampEnd:   end.UTC().Format(time.RFC3339),
		ElapsedSec:     end.Sub(start).Seconds(),
		NextActions:    []string{},
	}
	r.Passed, r.Failed = ParseTestCounts(tests.Output, tests.ExitCode)
	r.TestsRun = r.Passed + r.Failed

	if r.LintErrors > th.MaxLintErrors {
		r.NextActions = append(r.NextActions, fmt.Sprintf("fix %d lint errors", r.LintErrors))
	}
	if r.TypeErrors > th.MaxTypeErrors {
		r.NextActions = append(r.NextActions, fmt.Sprintf("fix %d type errors", r.TypeErrors))
	}
	if r.Failed > 0 {
		r.NextActions = append(r.NextActions, fmt.Sprintf("fix %d failing tests", r.Failed))
	}
	if r.Coverage < th.MinCoverage {
		r.NextActions = append(r.NextActions,
			fmt.Sprintf("raise coverage to at least %s%%", strconv.FormatFloat(th.MinCoverage, 'f', -1, 64)))
	}

	if len(r.NextActions) == 0 {
		r.Status = "pass"
	} else {
		r.Status = "fail"
	}
	return r
}
