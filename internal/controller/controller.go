package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/lucasnoah/maestro/internal/artifact"
	"github.com/lucasnoah/maestro/internal/broadcast"
	"github.com/lucasnoah/maestro/internal/command"
	"github.com/lucasnoah/maestro/internal/config"
	"github.com/lucasnoah/maestro/internal/db"
	"github.com/lucasnoah/maestro/internal/pipeline"
	"github.com/lucasnoah/maestro/internal/qa"
	"github.com/lucasnoah/maestro/internal/runner"
)

// Controller drives one task through the fixed stage sequence, applying
// fail-fast and the artifact contracts between stages.
type Controller struct {
	cfg       *config.PipelineConfig
	store     *pipeline.Store
	runner    *runner.Runner
	validator *artifact.Validator
	hub       *broadcast.Hub // optional
	db        *db.DB         // optional
	progress  io.Writer      // live progress output; nil = silent
}

// New creates a Controller. hub and database may be nil; event emission and
// DB logging are best-effort observability, never load-bearing.
func New(cfg *config.PipelineConfig, store *pipeline.Store, run *runner.Runner, hub *broadcast.Hub, database *db.DB) *Controller {
	return &Controller{
		cfg:       cfg,
		store:     store,
		runner:    run,
		validator: artifact.NewValidator(cfg.Pipeline.Limits.MaxDiffLines),
		hub:       hub,
		db:        database,
	}
}

// SetProgress sets a writer for live progress output (e.g. os.Stderr).
func (c *Controller) SetProgress(w io.Writer) {
	c.progress = w
}

func (c *Controller) logf(format string, args ...interface{}) {
	if c.progress != nil {
		fmt.Fprintf(c.progress, "  → "+format+"\n", args...)
	}
}

// RunSummary describes the terminal outcome of a controller run.
type RunSummary struct {
	Task        string   `json:"task"`
	RunID       string   `json:"run_id"`
	Status      string   `json:"status"` // "completed" or "failed"
	FailedStage string   `json:"failed_stage,omitempty"`
	Reason      string   `json:"reason,omitempty"`
	GateStatus  string   `json:"gate_status,omitempty"` // "pass" or "fail"
	NextActions []string `json:"next_actions,omitempty"`
}

// Succeeded reports whether the run completed with a passing gate.
func (s *RunSummary) Succeeded() bool {
	return s.Status == pipeline.StatusCompleted
}

// Run executes the full stage sequence for a task. Artifacts and logs from
// any prior run are replaced before the first stage starts; re-execution is
// idempotent. The returned error is non-nil only when the pipeline could
// not start at all (broken config, unreadable state); stage failures are a
// failed summary, not an error.
func (c *Controller) Run(ctx context.Context, taskID string) (*RunSummary, error) {
	requestPath := c.requestPath(taskID)

	ts, err := c.store.GetOrCreate(taskID, requestPath, pipeline.StagePlan)
	if err != nil {
		return nil, fmt.Errorf("init task %q: %w", taskID, err)
	}

	// Latest inputs win: clear every artifact of the prior run up front so
	// nothing can leak into the new QA report.
	if err := c.store.ResetArtifacts(taskID); err != nil {
		return nil, fmt.Errorf("reset artifacts: %w", err)
	}

	runID := uuid.NewString()
	summary := &RunSummary{Task: taskID, RunID: runID}

	_ = c.store.Update(taskID, func(ts *pipeline.TaskState) {
		ts.Status = pipeline.StatusInProgress
		ts.RunID = runID
		ts.CurrentStage = pipeline.StagePlan
	})
	c.logEvent(taskID, runID, "run_started", "", ts.RequestPath)
	c.publish(broadcast.Event{Type: "pipeline_start", Task: taskID, RunID: runID, Status: "running"})

	for i, stage := range pipeline.StageOrder {
		_ = c.store.Update(taskID, func(ts *pipeline.TaskState) {
			ts.CurrentStage = stage
		})
		c.publish(broadcast.Event{Type: "stage_start", Stage: stage, Task: taskID, RunID: runID, Status: "running", Progress: "0%"})
		c.logEvent(taskID, runID, "stage_started", stage, "")
		c.logf("task %s: running stage %q", taskID, stage)

		// Artifacts consumed by this stage must exist and satisfy their
		// constraints before it starts. A violation aborts here, charged to
		// this stage: a contract failure, not a tool failure.
		if i > 0 {
			if reason := c.validateStage(taskID, pipeline.StageOrder[i-1]); reason != "" {
				c.failTask(taskID, runID, stage, reason)
				c.publish(broadcast.Event{Type: "stage_end", Stage: stage, Task: taskID, RunID: runID, Status: "failed"})
				c.publish(broadcast.Event{Type: "pipeline_end", Task: taskID, RunID: runID, Status: "failed"})
				summary.Status = pipeline.StatusFailed
				summary.FailedStage = stage
				summary.Reason = reason
				return summary, nil
			}
		}

		failReason, err := c.runStage(ctx, taskID, runID, stage, summary)
		if err != nil {
			// Configuration error: fatal, the pipeline never really started.
			c.failTask(taskID, runID, stage, err.Error())
			c.publish(broadcast.Event{Type: "stage_end", Stage: stage, Task: taskID, RunID: runID, Status: "failed"})
			return nil, err
		}
		if failReason != "" {
			// Fail-fast: later stages never run.
			c.failTask(taskID, runID, stage, failReason)
			c.publish(broadcast.Event{Type: "stage_end", Stage: stage, Task: taskID, RunID: runID, Status: "failed"})
			c.publish(broadcast.Event{Type: "pipeline_end", Task: taskID, RunID: runID, Status: "failed"})
			summary.Status = pipeline.StatusFailed
			summary.FailedStage = stage
			summary.Reason = failReason
			return summary, nil
		}

		c.publish(broadcast.Event{Type: "stage_end", Stage: stage, Task: taskID, RunID: runID, Status: "completed", Progress: "100%"})
		c.logEvent(taskID, runID, "stage_completed", stage, "")
		c.logf("stage %q completed", stage)
	}

	_ = c.store.Update(taskID, func(ts *pipeline.TaskState) {
		ts.Status = pipeline.StatusCompleted
	})
	c.logEvent(taskID, runID, "completed", pipeline.StageGate, "")
	c.publish(broadcast.Event{Type: "pipeline_end", Task: taskID, RunID: runID, Status: "completed", Progress: "100%"})

	summary.Status = pipeline.StatusCompleted
	summary.GateStatus = "pass"
	return summary, nil
}

// RunStage executes a single stage for a task without touching the others.
// Used by the per-stage subcommands; the full-sequence semantics (artifact
// reset, processed-set) live in Run.
func (c *Controller) RunStage(ctx context.Context, taskID, stage string) (*RunSummary, error) {
	if !pipeline.IsStage(stage) {
		return nil, fmt.Errorf("unknown stage %q", stage)
	}

	ts, err := c.store.GetOrCreate(taskID, c.requestPath(taskID), stage)
	if err != nil {
		return nil, fmt.Errorf("init task %q: %w", taskID, err)
	}
	runID := ts.RunID
	if runID == "" {
		runID = uuid.NewString()
		_ = c.store.Update(taskID, func(ts *pipeline.TaskState) { ts.RunID = runID })
	}

	summary := &RunSummary{Task: taskID, RunID: runID}
	failReason, err := c.runStage(ctx, taskID, runID, stage, summary)
	if err != nil {
		return nil, err
	}
	if failReason == "" {
		failReason = c.validateStage(taskID, stage)
	}
	if failReason != "" {
		summary.Status = pipeline.StatusFailed
		summary.FailedStage = stage
		summary.Reason = failReason
		return summary, nil
	}
	summary.Status = pipeline.StatusCompleted
	return summary, nil
}

// runStage dispatches one stage and validates its artifact contracts.
// It returns (failReason, nil) for stage-local failures that should
// fail-fast the run, and a non-nil error for configuration errors.
func (c *Controller) runStage(ctx context.Context, taskID, runID, stage string, summary *RunSummary) (string, error) {
	switch {
	case pipeline.IsCommandStage(stage):
		if reason, err := c.runCommandStage(ctx, taskID, runID, stage); reason != "" || err != nil {
			return reason, err
		}
	case stage == pipeline.StageVerify:
		if reason, err := c.runVerify(ctx, taskID, runID); reason != "" || err != nil {
			return reason, err
		}
	case stage == pipeline.StageReport:
		if err := c.runReport(taskID); err != nil {
			return fmt.Sprintf("report synthesis: %v", err), nil
		}
	case stage == pipeline.StageGate:
		return c.runGate(taskID, summary), nil
	}
	return "", nil
}

// validateStage checks the artifact contracts of a completed stage,
// returning "" when they hold or the fail reason when violated.
func (c *Controller) validateStage(taskID, stage string) string {
	err := c.validator.Validate(c.store.TaskDir(taskID), taskID, stage, c.verifyChecks())
	if err == nil {
		return ""
	}
	var missing *artifact.MissingArtifactError
	var oversized *artifact.OversizedArtifactError
	switch {
	case errors.As(err, &missing):
		return fmt.Sprintf("artifact contract violated: %v", missing)
	case errors.As(err, &oversized):
		return fmt.Sprintf("artifact contract violated: %v", oversized)
	default:
		return fmt.Sprintf("artifact validation: %v", err)
	}
}

// runCommandStage executes an external tool stage (plan, code, integrate).
func (c *Controller) runCommandStage(ctx context.Context, taskID, runID, stage string) (string, error) {
	stageCfg := c.cfg.Pipeline.Stages[stage]
	tmpl, err := command.Parse(stageCfg.Command)
	if err != nil {
		return "", &runner.ConfigurationError{Stage: stage, Cmd: stageCfg.Command, Err: err}
	}

	res, err := c.runner.Run(ctx, runner.Spec{
		Task:     taskID,
		Stage:    stage,
		Template: tmpl,
		Vars:     c.templateVars(taskID),
		Dir:      c.cfg.Pipeline.Workspace,
		LogPath:  c.store.StageLogPath(taskID, stage),
		Timeout:  config.ParseDuration(stageCfg.Timeout, 2*time.Minute),
	})
	if err != nil {
		return "", err
	}
	c.recordResult(taskID, runID, res)

	if res.TimedOut {
		return fmt.Sprintf("timeout: stage %q exceeded %s", stage, stageCfg.Timeout), nil
	}
	if res.ExitCode != 0 {
		return fmt.Sprintf("tool failure: stage %q exited %d (log: %s)", stage, res.ExitCode, res.LogPath), nil
	}
	return "", nil
}

// runVerify executes the configured checks, capturing each raw output.
// Check commands may exit non-zero without failing the stage; their exit
// codes feed the QA report. Only a timeout or configuration error fails
// verify itself.
func (c *Controller) runVerify(ctx context.Context, taskID, runID string) (string, error) {
	for _, name := range c.verifyChecks() {
		chk := c.cfg.Pipeline.Checks[name]
		tmpl, err := command.Parse(chk.Command)
		if err != nil {
			return "", &runner.ConfigurationError{Stage: pipeline.StageVerify, Cmd: chk.Command, Err: err}
		}

		res, err := c.runner.Run(ctx, runner.Spec{
			Task:     taskID,
			Stage:    pipeline.StageVerify + ":" + name,
			Template: tmpl,
			Vars:     c.templateVars(taskID),
			Dir:      c.cfg.Pipeline.Workspace,
			LogPath:  c.store.CheckOutPath(taskID, name),
			Timeout:  config.ParseDuration(chk.Timeout, 2*time.Minute),
		})
		if err != nil {
			return "", err
		}
		c.recordResult(taskID, runID, res)

		if res.TimedOut {
			return fmt.Sprintf("timeout: check %q exceeded %s", name, chk.Timeout), nil
		}
		c.logf("check %q finished (exit %d)", name, res.ExitCode)
	}
	return "", nil
}

// runReport synthesizes the QA report from the verify outputs and writes
// reports/qa.json. Reports are derived, never hand-edited.
func (c *Controller) runReport(taskID string) error {
	ts, err := c.store.Get(taskID)
	if err != nil {
		return err
	}

	outputs := map[string]qa.ToolOutput{}
	start := time.Now().UTC()
	end := start
	for _, name := range c.verifyChecks() {
		chk := c.cfg.Pipeline.Checks[name]
		// Every check output must land in a consumed report slot. A parser
		// outside the set would drop the check's results on the floor, which
		// could turn a failing tool into a passing gate.
		switch chk.Parser {
		case "lint", "types", "tests":
		default:
			return fmt.Errorf("check %q has parser %q, which feeds no report field", name, chk.Parser)
		}
		out := qa.ToolOutput{ExitCode: 1} // fail-closed when a check never ran
		if res, ok := ts.StageResults[pipeline.StageVerify+":"+name]; ok {
			out.ExitCode = res.ExitCode
			if data, err := os.ReadFile(c.store.CheckOutPath(taskID, name)); err == nil {
				out.Output = string(data)
			}
			if res.StartedAt.Before(start) {
				start = res.StartedAt
			}
			if res.FinishedAt.After(end) {
				end = res.FinishedAt
			}
		}
		outputs[chk.Parser] = out
	}

	report := qa.Synthesize(taskID, outputs["lint"], outputs["types"], outputs["tests"], start, end, qa.Thresholds{
		MinCoverage:   c.cfg.Pipeline.Limits.CoverageFloor(),
		MaxLintErrors: c.cfg.Pipeline.Limits.MaxLintErrors,
		MaxTypeErrors: c.cfg.Pipeline.Limits.MaxTypeErrors,
	})
	return pipeline.WriteJSON(c.store.QAReportPath(taskID), report)
}

// runGate reads the QA report and returns "" on pass or the fail reason.
// A QA fail is a legitimate terminal outcome with next-actions, not a
// system error. Passing the gate still requires out-of-band human
// acknowledgment before any downstream merge action.
func (c *Controller) runGate(taskID string, summary *RunSummary) string {
	var report qa.Report
	if err := pipeline.ReadJSON(c.store.QAReportPath(taskID), &report); err != nil {
		return fmt.Sprintf("gate: read qa report: %v", err)
	}

	summary.GateStatus = report.Status
	summary.NextActions = report.NextActions
	if report.Status != "pass" {
		return fmt.Sprintf("qa failed: %d lint, %d type, %d test failures, coverage %.0f%%",
			report.LintErrors, report.TypeErrors, report.Failed, report.Coverage)
	}
	return ""
}

// --- Helpers ---

func (c *Controller) requestPath(taskID string) string {
	return filepath.Join(c.cfg.Pipeline.Workspace, c.cfg.Pipeline.RequestDir, taskID+".md")
}

func (c *Controller) verifyChecks() []string {
	return c.cfg.Pipeline.Stages[pipeline.StageVerify].Checks
}

func (c *Controller) templateVars(taskID string) command.Vars {
	return command.Vars{
		"task":        taskID,
		"issue_file":  c.requestPath(taskID),
		"workspace":   c.cfg.Pipeline.Workspace,
		"handoff_dir": c.store.HandoffDir(taskID),
		"logs_dir":    c.store.LogsDir(taskID),
		"reports_dir": c.store.ReportsDir(taskID),
	}
}

func (c *Controller) recordResult(taskID, runID string, res *runner.Result) {
	_ = c.store.SaveStageResult(taskID, res)
	if c.db != nil {
		_ = c.db.RecordStageResult(runID, res)
	}
}

func (c *Controller) failTask(taskID, runID, stage, reason string) {
	_ = c.store.Update(taskID, func(ts *pipeline.TaskState) {
		ts.Status = pipeline.StatusFailed
		ts.FailedStage = stage
		ts.FailReason = reason
	})
	c.logEvent(taskID, runID, "failed", stage, reason)
	c.logf("task %s failed at %q: %s", taskID, stage, reason)
}

func (c *Controller) logEvent(taskID, runID, event, stage, detail string) {
	if c.db != nil {
		_ = c.db.LogPipelineEvent(taskID, runID, event, stage, detail)
	}
}

func (c *Controller) publish(ev broadcast.Event) {
	if c.hub != nil {
		c.hub.Publish(ev)
	}
}
