package controller

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lucasnoah/maestro/internal/config"
	"github.com/lucasnoah/maestro/internal/pipeline"
	"github.com/lucasnoah/maestro/internal/qa"
	"github.com/lucasnoah/maestro/internal/runner"
)

const validPlan = `{
  "task_id": "demo",
  "goal": "add a widget",
  "acceptance_criteria": ["widget renders"],
  "files_to_touch": ["app.py"],
  "test_plan": "unit tests for the widget"
}`

// scriptProc plays back scripted tool behavior keyed by executable base name.
type scriptProc struct {
	behaviors map[string]func(argv []string, logw *os.File) int
	block     map[string]bool
	invoked   []string
}

func (p *scriptProc) Run(ctx context.Context, dir string, argv []string, logw *os.File) (int, error) {
	name := filepath.Base(argv[0])
	p.invoked = append(p.invoked, name)
	if p.block[name] {
		<-ctx.Done()
		return runner.TimeoutExitCode, nil
	}
	if fn, ok := p.behaviors[name]; ok {
		return fn(argv, logw), nil
	}
	return 0, nil
}

type harness struct {
	ctrl  *Controller
	store *pipeline.Store
	proc  *scriptProc
	cfg   *config.PipelineConfig
}

// newHarness builds a controller over temp dirs with fake tool binaries and
// a happy-path script: plan writes its documents, code writes a small diff,
// every check passes with 82% coverage.
func newHarness(t *testing.T) *harness {
	t.Helper()

	toolsDir := t.TempDir()
	tools := []string{"planner", "coder", "integrator", "ruff", "mypy", "pytest"}
	for _, name := range tools {
		if err := os.WriteFile(filepath.Join(toolsDir, name), []byte("#!/bin/sh\n"), 0755); err != nil {
			t.Fatal(err)
		}
	}
	tool := func(name string) string { return filepath.Join(toolsDir, name) }

	workspace := t.TempDir()
	if err := os.MkdirAll(filepath.Join(workspace, "issues"), 0755); err != nil {
		t.Fatal(err)
	}

	cfg := &config.PipelineConfig{Pipeline: config.Pipeline{
		Name:       "test",
		Workspace:  workspace,
		RequestDir: "issues",
		Limits: config.Limits{
			MaxDiffLines: 1000,
		},
		Stages: map[string]config.Stage{
			pipeline.StagePlan:      {Command: tool("planner") + " {task} {handoff_dir}", Timeout: "5s"},
			pipeline.StageCode:      {Command: tool("coder") + " {handoff_dir}", Timeout: "5s"},
			pipeline.StageIntegrate: {Command: tool("integrator") + " {handoff_dir}", Timeout: "5s"},
			pipeline.StageVerify:    {Checks: []string{"lint", "types", "tests"}},
			pipeline.StageReport:    {},
			pipeline.StageGate:      {},
		},
		Checks: map[string]config.Check{
			"lint":  {Command: tool("ruff") + " check", Parser: "lint", Timeout: "5s"},
			"types": {Command: tool("mypy") + " .", Parser: "types", Timeout: "5s"},
			"tests": {Command: tool("pytest") + " --cov", Parser: "tests", Timeout: "5s"},
		},
	}}

	proc := &scriptProc{
		block: map[string]bool{},
		behaviors: map[string]func(argv []string, logw *os.File) int{
			"planner": func(argv []string, logw *os.File) int {
				handoff := argv[2]
				os.WriteFile(filepath.Join(handoff, "plan.json"), []byte(validPlan), 0644)
				os.WriteFile(filepath.Join(handoff, "spec.md"), []byte("# Spec\n"), 0644)
				return 0
			},
			"coder": func(argv []string, logw *os.File) int {
				diff := strings.Repeat("+line\n", 20)
				os.WriteFile(filepath.Join(argv[1], "changes.diff"), []byte(diff), 0644)
				return 0
			},
			"pytest": func(argv []string, logw *os.File) int {
				logw.WriteString("===== 12 passed in 2.0s =====\nTOTAL  100  18  82%\n")
				return 0
			},
		},
	}

	store := pipeline.NewStore(t.TempDir())
	ctrl := New(cfg, store, runner.NewRunner(proc), nil, nil)
	return &harness{ctrl: ctrl, store: store, proc: proc, cfg: cfg}
}

func TestRunHappyPath(t *testing.T) {
	h := newHarness(t)

	summary, err := h.ctrl.Run(context.Background(), "demo")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !summary.Succeeded() {
		t.Fatalf("summary = %+v, want success", summary)
	}
	if summary.GateStatus != "pass" {
		t.Errorf("GateStatus = %q, want pass", summary.GateStatus)
	}
	if summary.RunID == "" {
		t.Error("RunID should be set")
	}

	ts, err := h.store.Get("demo")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ts.Status != pipeline.StatusCompleted {
		t.Errorf("Status = %q, want completed", ts.Status)
	}

	var report qa.Report
	if err := pipeline.ReadJSON(h.store.QAReportPath("demo"), &report); err != nil {
		t.Fatalf("read qa.json: %v", err)
	}
	if report.Status != "pass" {
		t.Errorf("report.Status = %q, want pass", report.Status)
	}
	if report.Coverage != 82 {
		t.Errorf("report.Coverage = %v, want 82", report.Coverage)
	}
	if len(report.NextActions) != 0 {
		t.Errorf("report.NextActions = %v, want empty", report.NextActions)
	}

	want := []string{"planner", "coder", "integrator", "ruff", "mypy", "pytest"}
	if len(h.proc.invoked) != len(want) {
		t.Fatalf("invoked = %v, want %v", h.proc.invoked, want)
	}
	for i, name := range want {
		if h.proc.invoked[i] != name {
			t.Errorf("invoked[%d] = %q, want %q", i, h.proc.invoked[i], name)
		}
	}
}

func TestRunIsIdempotent(t *testing.T) {
	h := newHarness(t)

	first, err := h.ctrl.Run(context.Background(), "demo")
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	second, err := h.ctrl.Run(context.Background(), "demo")
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}

	if !first.Succeeded() || !second.Succeeded() {
		t.Fatalf("runs = (%+v, %+v), want both successful", first, second)
	}
	if first.RunID == second.RunID {
		t.Error("RunID should differ between runs")
	}

	// Artifacts are replaced wholesale, never accumulated.
	ts, err := h.store.Get("demo")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ts.RunID != second.RunID {
		t.Errorf("RunID = %q, want latest run %q", ts.RunID, second.RunID)
	}
	if len(h.proc.invoked) != 12 {
		t.Errorf("invoked %d tools, want 12 (6 per run)", len(h.proc.invoked))
	}
}

func TestRunFailFastOnToolFailure(t *testing.T) {
	h := newHarness(t)
	h.proc.behaviors["coder"] = func(argv []string, logw *os.File) int {
		logw.WriteString("coder blew up\n")
		return 1
	}

	summary, err := h.ctrl.Run(context.Background(), "demo")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.Succeeded() {
		t.Fatal("summary succeeded, want failure")
	}
	if summary.FailedStage != pipeline.StageCode {
		t.Errorf("FailedStage = %q, want code", summary.FailedStage)
	}
	if !strings.Contains(summary.Reason, "exited 1") {
		t.Errorf("Reason = %q, want tool failure", summary.Reason)
	}

	// Later stages never ran.
	for _, name := range h.proc.invoked {
		if name == "integrator" || name == "ruff" {
			t.Errorf("stage after the failure was invoked: %v", h.proc.invoked)
		}
	}

	ts, _ := h.store.Get("demo")
	if ts.Status != pipeline.StatusFailed {
		t.Errorf("Status = %q, want failed", ts.Status)
	}
	if ts.FailedStage != pipeline.StageCode {
		t.Errorf("FailedStage = %q, want code", ts.FailedStage)
	}
}

func TestRunMissingPlanFailsNextStage(t *testing.T) {
	h := newHarness(t)
	h.proc.behaviors["planner"] = func(argv []string, logw *os.File) int {
		return 0 // exits clean but writes nothing
	}

	summary, err := h.ctrl.Run(context.Background(), "demo")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.Succeeded() {
		t.Fatal("summary succeeded, want failure")
	}
	if summary.FailedStage != pipeline.StageCode {
		t.Errorf("FailedStage = %q, want code (the consumer)", summary.FailedStage)
	}
	if !strings.Contains(summary.Reason, "missing artifact") {
		t.Errorf("Reason = %q, want missing artifact", summary.Reason)
	}
	for _, name := range h.proc.invoked {
		if name == "coder" {
			t.Error("code stage ran despite broken plan contract")
		}
	}
}

func TestRunOversizedDiffFailsIntegrate(t *testing.T) {
	h := newHarness(t)
	h.proc.behaviors["coder"] = func(argv []string, logw *os.File) int {
		diff := strings.Repeat("+line\n", 1500)
		os.WriteFile(filepath.Join(argv[1], "changes.diff"), []byte(diff), 0644)
		return 0
	}

	summary, err := h.ctrl.Run(context.Background(), "demo")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.Succeeded() {
		t.Fatal("summary succeeded, want failure")
	}
	if summary.FailedStage != pipeline.StageIntegrate {
		t.Errorf("FailedStage = %q, want integrate (the consumer)", summary.FailedStage)
	}
	if !strings.Contains(summary.Reason, "oversized artifact") {
		t.Errorf("Reason = %q, want oversized artifact", summary.Reason)
	}
	if !strings.Contains(summary.Reason, "1500") {
		t.Errorf("Reason = %q, want the line count", summary.Reason)
	}
	for _, name := range h.proc.invoked {
		if name == "integrator" {
			t.Error("integrate stage ran despite oversized diff")
		}
	}
}

func TestRunStageTimeout(t *testing.T) {
	h := newHarness(t)
	h.proc.block["planner"] = true
	s := h.cfg.Pipeline.Stages[pipeline.StagePlan]
	s.Timeout = "30ms"
	h.cfg.Pipeline.Stages[pipeline.StagePlan] = s

	summary, err := h.ctrl.Run(context.Background(), "demo")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.Succeeded() {
		t.Fatal("summary succeeded, want failure")
	}
	if summary.FailedStage != pipeline.StagePlan {
		t.Errorf("FailedStage = %q, want plan", summary.FailedStage)
	}
	if !strings.Contains(summary.Reason, "timeout") {
		t.Errorf("Reason = %q, want timeout", summary.Reason)
	}
	if len(h.proc.invoked) != 1 {
		t.Errorf("invoked = %v, want only the planner", h.proc.invoked)
	}

	ts, _ := h.store.Get("demo")
	res := ts.StageResults[pipeline.StagePlan]
	if res == nil || !res.TimedOut {
		t.Errorf("StageResults[plan] = %+v, want recorded timeout", res)
	}
	if res != nil && res.ExitCode != runner.TimeoutExitCode {
		t.Errorf("ExitCode = %d, want %d", res.ExitCode, runner.TimeoutExitCode)
	}
}

func TestRunFailingCheckReachesGate(t *testing.T) {
	h := newHarness(t)
	// lint exits non-zero: verify must still complete and the failure must
	// surface as a QA verdict at the gate, not a verify-stage abort.
	h.proc.behaviors["ruff"] = func(argv []string, logw *os.File) int {
		logw.WriteString("app.py:3:1: error: unused import\n")
		return 1
	}
	h.proc.behaviors["pytest"] = func(argv []string, logw *os.File) int {
		logw.WriteString("===== 12 passed in 2.0s =====\nTOTAL  100  45  55%\n")
		return 0
	}

	summary, err := h.ctrl.Run(context.Background(), "demo")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.Succeeded() {
		t.Fatal("summary succeeded, want gate failure")
	}
	if summary.FailedStage != pipeline.StageGate {
		t.Errorf("FailedStage = %q, want gate", summary.FailedStage)
	}
	if summary.GateStatus != "fail" {
		t.Errorf("GateStatus = %q, want fail", summary.GateStatus)
	}

	// All three checks ran despite the lint failure.
	checks := 0
	for _, name := range h.proc.invoked {
		if name == "ruff" || name == "mypy" || name == "pytest" {
			checks++
		}
	}
	if checks != 3 {
		t.Errorf("ran %d checks, want 3", checks)
	}

	wantActions := []string{"fix 1 lint errors", "raise coverage to at least 70%"}
	if len(summary.NextActions) != len(wantActions) {
		t.Fatalf("NextActions = %v, want %v", summary.NextActions, wantActions)
	}
	for i, a := range wantActions {
		if summary.NextActions[i] != a {
			t.Errorf("NextActions[%d] = %q, want %q", i, summary.NextActions[i], a)
		}
	}
}

func TestRunLowCoverageFailsGate(t *testing.T) {
	h := newHarness(t)
	h.proc.behaviors["pytest"] = func(argv []string, logw *os.File) int {
		logw.WriteString("===== 12 passed in 2.0s =====\nTOTAL  100  45  55%\n")
		return 0
	}

	summary, err := h.ctrl.Run(context.Background(), "demo")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.FailedStage != pipeline.StageGate {
		t.Errorf("FailedStage = %q, want gate", summary.FailedStage)
	}
	want := []string{"raise coverage to at least 70%"}
	if len(summary.NextActions) != 1 || summary.NextActions[0] != want[0] {
		t.Errorf("NextActions = %v, want %v", summary.NextActions, want)
	}
}

func TestRunUnmappedCheckParserFailsReport(t *testing.T) {
	h := newHarness(t)
	// A check whose parser feeds no report field must fail the report stage
	// rather than let its results vanish: here a lint tool exits 1 with
	// error output, which an unmapped parser would otherwise turn into
	// lint_errors=0 and a passing gate.
	chk := h.cfg.Pipeline.Checks["lint"]
	chk.Parser = "generic"
	h.cfg.Pipeline.Checks["lint"] = chk
	h.proc.behaviors["ruff"] = func(argv []string, logw *os.File) int {
		logw.WriteString("app.py:1:1: error: broken\n")
		return 1
	}

	summary, err := h.ctrl.Run(context.Background(), "demo")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.Succeeded() {
		t.Fatal("summary succeeded, want failure for unmapped check parser")
	}
	if summary.FailedStage != pipeline.StageReport {
		t.Errorf("FailedStage = %q, want report", summary.FailedStage)
	}
	if !strings.Contains(summary.Reason, "feeds no report field") {
		t.Errorf("Reason = %q, want the unmapped-parser reason", summary.Reason)
	}
}

func TestRunMissingExecutableIsError(t *testing.T) {
	h := newHarness(t)
	s := h.cfg.Pipeline.Stages[pipeline.StagePlan]
	s.Command = filepath.Join(t.TempDir(), "absent") + " {task}"
	h.cfg.Pipeline.Stages[pipeline.StagePlan] = s

	_, err := h.ctrl.Run(context.Background(), "demo")
	if err == nil {
		t.Fatal("Run succeeded, want configuration error")
	}

	ts, getErr := h.store.Get("demo")
	if getErr != nil {
		t.Fatalf("Get: %v", getErr)
	}
	if ts.Status != pipeline.StatusFailed {
		t.Errorf("Status = %q, want failed", ts.Status)
	}
}

func TestRunStageSingle(t *testing.T) {
	h := newHarness(t)

	summary, err := h.ctrl.RunStage(context.Background(), "demo", pipeline.StagePlan)
	if err != nil {
		t.Fatalf("RunStage: %v", err)
	}
	if summary.Status != pipeline.StatusCompleted {
		t.Fatalf("summary = %+v, want completed", summary)
	}

	// Only the planner ran; its contracted artifacts exist.
	if len(h.proc.invoked) != 1 || h.proc.invoked[0] != "planner" {
		t.Errorf("invoked = %v, want only planner", h.proc.invoked)
	}
	if _, err := os.Stat(filepath.Join(h.store.HandoffDir("demo"), "plan.json")); err != nil {
		t.Errorf("plan.json missing: %v", err)
	}
}

func TestRunStageUnknown(t *testing.T) {
	h := newHarness(t)
	if _, err := h.ctrl.RunStage(context.Background(), "demo", "deploy"); err == nil {
		t.Fatal("RunStage accepted unknown stage")
	}
}

func TestRunStageValidatesOwnContracts(t *testing.T) {
	h := newHarness(t)
	h.proc.behaviors["planner"] = func(argv []string, logw *os.File) int { return 0 }

	summary, err := h.ctrl.RunStage(context.Background(), "demo", pipeline.StagePlan)
	if err != nil {
		t.Fatalf("RunStage: %v", err)
	}
	if summary.Status != pipeline.StatusFailed {
		t.Fatalf("summary = %+v, want failed on missing artifacts", summary)
	}
	if !strings.Contains(summary.Reason, "missing artifact") {
		t.Errorf("Reason = %q, want missing artifact", summary.Reason)
	}
}
