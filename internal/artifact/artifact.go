package artifact

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lucasnoah/maestro/internal/pipeline"
)

// MissingArtifactError means a stage completed without producing a required
// artifact. It is a pipeline failure, not a tool failure: the tool exited
// cleanly but broke its output contract.
type MissingArtifactError struct {
	Name string
	Path string
}

func (e *MissingArtifactError) Error() string {
	return fmt.Sprintf("missing artifact %q: expected at %s", e.Name, e.Path)
}

// OversizedArtifactError means a size-bounded artifact exceeded its ceiling.
type OversizedArtifactError struct {
	Name  string
	Lines int
	Limit int
}

func (e *OversizedArtifactError) Error() string {
	return fmt.Sprintf("oversized artifact %q: %d lines exceeds limit of %d", e.Name, e.Lines, e.Limit)
}

// Contract describes one required output of a stage.
type Contract struct {
	Name           string   // e.g. "plan document", "change patch"
	RelPath        string   // relative to the task directory
	Stage          string   // producing stage
	MaxLines       int      // 0 = unbounded
	RequiredFields []string // top-level JSON keys that must be present
}

// planRequiredFields are the minimum fields of the plan document.
var planRequiredFields = []string{
	"task_id",
	"goal",
	"acceptance_criteria",
	"files_to_touch",
	"test_plan",
}

// Validator checks stage output contracts against the filesystem.
type Validator struct {
	maxDiffLines int
}

// NewValidator creates a Validator with the configured diff ceiling.
func NewValidator(maxDiffLines int) *Validator {
	return &Validator{maxDiffLines: maxDiffLines}
}

// ContractsFor returns the artifact contracts for the just-completed stage.
// checks is the verify stage's configured check list (its raw output logs
// are themselves contracted artifacts).
func (v *Validator) ContractsFor(taskID, stage string, checks []string) []Contract {
	switch stage {
	case pipeline.StagePlan:
		return []Contract{
			{Name: "plan document", RelPath: filepath.Join("handoff", "plan.json"), Stage: stage, RequiredFields: planRequiredFields},
			{Name: "spec document", RelPath: filepath.Join("handoff", "spec.md"), Stage: stage},
		}
	case pipeline.StageCode:
		return []Contract{
			{Name: "change patch", RelPath: filepath.Join("handoff", "changes.diff"), Stage: stage, MaxLines: v.maxDiffLines},
		}
	case pipeline.StageVerify:
		var cs []Contract
		for _, chk := range checks {
			cs = append(cs, Contract{
				Name:    chk + " output",
				RelPath: filepath.Join("logs", fmt.Sprintf("%s.%s.out", taskID, chk)),
				Stage:   stage,
			})
		}
		return cs
	case pipeline.StageReport:
		return []Contract{
			{Name: "quality report", RelPath: filepath.Join("reports", "qa.json"), Stage: stage},
		}
	default:
		return nil
	}
}

// Validate checks every contract of the just-completed stage. It runs
// synchronously after a successful stage result; the first violation aborts
// the pipeline.
func (v *Validator) Validate(taskDir, taskID, stage string, checks []string) error {
	for _, c := range v.ContractsFor(taskID, stage, checks) {
		if err := v.check(taskDir, c); err != nil {
			return err
		}
	}
	return nil
}

func (v *Validator) check(taskDir string, c Contract) error {
	path := filepath.Join(taskDir, c.RelPath)
	info, err := os.Stat(path)
	if err != nil {
		return &MissingArtifactError{Name: c.Name, Path: path}
	}
	if info.IsDir() {
		return &MissingArtifactError{Name: c.Name, Path: path}
	}

	if c.MaxLines > 0 {
		lines, err := countLines(path)
		if err != nil {
			return fmt.Errorf("count lines of %s: %w", path, err)
		}
		if lines > c.MaxLines {
			return &OversizedArtifactError{Name: c.Name, Lines: lines, Limit: c.MaxLines}
		}
	}

	if len(c.RequiredFields) > 0 {
		if err := checkRequiredFields(path, c); err != nil {
			return err
		}
	}
	return nil
}

// checkRequiredFields parses a JSON artifact and verifies its top-level keys.
// An unparsable document fails the same way as a missing one.
func checkRequiredFields(path string, c Contract) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &MissingArtifactError{Name: c.Name, Path: path}
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return &MissingArtifactError{Name: c.Name + " (not valid JSON)", Path: path}
	}
	for _, field := range c.RequiredFields {
		if _, ok := doc[field]; !ok {
			return &MissingArtifactError{Name: fmt.Sprintf("%s field %q", c.Name, field), Path: path}
		}
	}
	return nil
}

func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	n := 0
	for sc.Scan() {
		n++
	}
	return n, sc.Err()
}
