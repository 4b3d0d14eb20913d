package runner

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/lucasnoah/maestro/internal/command"
)

// TimeoutExitCode is the distinguished exit code reported when a stage
// exceeds its wall-clock budget. External tools report 0-255, so -1 can
// never collide with a real tool exit code.
const TimeoutExitCode = -1

// ConfigurationError means the stage could not start at all: the executable
// is unresolvable or the command template is broken. It is fatal and never
// retried within a run.
type ConfigurationError struct {
	Stage string
	Cmd   string
	Err   error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("stage %s: configuration: %s: %v", e.Stage, e.Cmd, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Result captures one external tool invocation for one (task, stage) pair.
// Re-running the stage replaces the previous result wholesale.
type Result struct {
	Task       string    `json:"task"`
	Stage      string    `json:"stage"`
	Command    string    `json:"command"`
	ExitCode   int       `json:"exit_code"`
	TimedOut   bool      `json:"timed_out"`
	LogPath    string    `json:"log_path"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	DurationMs int       `json:"duration_ms"`
}

// Success reports whether the tool ran to completion with exit code 0.
func (r *Result) Success() bool {
	return !r.TimedOut && r.ExitCode == 0
}

// ProcessRunner abstracts process execution for testability.
type ProcessRunner interface {
	// Run starts argv in dir, streaming combined output to logw, and
	// returns the exit code. A context deadline kills the whole process
	// group. A non-nil error means the process could not be started.
	Run(ctx context.Context, dir string, argv []string, logw *os.File) (exitCode int, err error)
}

// ExecRunner implements ProcessRunner with real OS processes. Children are
// placed in their own process group so a timeout kill reaches the full tree.
type ExecRunner struct{}

func (e *ExecRunner) Run(ctx context.Context, dir string, argv []string, logw *os.File) (int, error) {
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Stdout = logw
	cmd.Stderr = logw
	configureProcess(cmd)

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start %s: %w", argv[0], err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		terminateProcess(cmd)
		<-done
		return TimeoutExitCode, nil
	case err := <-done:
		if err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				return exitErr.ExitCode(), nil
			}
			return TimeoutExitCode, fmt.Errorf("wait %s: %w", argv[0], err)
		}
		return 0, nil
	}
}

// Runner executes pipeline stages as supervised external processes.
type Runner struct {
	proc ProcessRunner
}

// NewRunner creates a Runner with the given process runner.
func NewRunner(proc ProcessRunner) *Runner {
	return &Runner{proc: proc}
}

// Spec describes one stage invocation.
type Spec struct {
	Task     string
	Stage    string
	Template *command.Template
	Vars     command.Vars
	Dir      string        // working directory for the tool
	LogPath  string        // per-(task, stage) log, overwritten on re-run
	Timeout  time.Duration
}

// Run resolves the command template, starts the tool, and blocks until it
// completes or the timeout expires. The returned error is non-nil only for
// configuration failures; tool failures and timeouts are reported on the
// Result.
func (r *Runner) Run(ctx context.Context, spec Spec) (*Result, error) {
	argv, err := spec.Template.Resolve(spec.Vars)
	if err != nil {
		return nil, &ConfigurationError{Stage: spec.Stage, Cmd: spec.Template.String(), Err: err}
	}

	// Resolve the executable before starting anything; a missing tool is a
	// configuration error, not a tool failure.
	if !strings.ContainsRune(argv[0], os.PathSeparator) {
		if _, err := exec.LookPath(argv[0]); err != nil {
			return nil, &ConfigurationError{Stage: spec.Stage, Cmd: argv[0], Err: err}
		}
	} else if _, err := os.Stat(argv[0]); err != nil {
		return nil, &ConfigurationError{Stage: spec.Stage, Cmd: argv[0], Err: err}
	}

	if err := os.MkdirAll(filepath.Dir(spec.LogPath), 0o755); err != nil {
		return nil, &ConfigurationError{Stage: spec.Stage, Cmd: argv[0], Err: err}
	}
	logw, err := os.OpenFile(spec.LogPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, &ConfigurationError{Stage: spec.Stage, Cmd: argv[0], Err: err}
	}
	defer logw.Close()

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now().UTC()
	exitCode, runErr := r.proc.Run(runCtx, spec.Dir, argv, logw)
	end := time.Now().UTC()

	result := &Result{
		Task:       spec.Task,
		Stage:      spec.Stage,
		Command:    strings.Join(argv, " "),
		ExitCode:   exitCode,
		LogPath:    spec.LogPath,
		StartedAt:  start,
		FinishedAt: end,
		DurationMs: int(end.Sub(start).Milliseconds()),
	}

	if runCtx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
		result.ExitCode = TimeoutExitCode
		return result, nil
	}
	if runErr != nil {
		return nil, &ConfigurationError{Stage: spec.Stage, Cmd: argv[0], Err: runErr}
	}
	return result, nil
}
