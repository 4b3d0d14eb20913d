package config

import (
	"fmt"
	"time"

	"github.com/lucasnoah/maestro/internal/pipeline"
)

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// recognizedParsers is the set of valid parser names for verify checks.
// Every check output feeds exactly one slot of the QA report; a parser
// outside this set would have its results silently dropped, so none is
// accepted.
var recognizedParsers = map[string]bool{
	"lint":  true,
	"types": true,
	"tests": true,
}

// Validate checks a PipelineConfig for structural and semantic errors.
// It returns a slice of all validation errors found (empty if valid).
// Any validation error is fatal: the pipeline never starts on a broken config.
func Validate(cfg *PipelineConfig) []ValidationError {
	var errs []ValidationError
	p := cfg.Pipeline

	if p.Name == "" {
		errs = append(errs, ValidationError{Field: "pipeline.name", Message: "is required"})
	}

	// Stage keys must be known stages; command stages need a command,
	// verify needs checks, report/gate take neither.
	for id, s := range p.Stages {
		prefix := fmt.Sprintf("pipeline.stages.%s", id)

		if !pipeline.IsStage(id) {
			errs = append(errs, ValidationError{
				Field:   prefix,
				Message: fmt.Sprintf("unknown stage %q (stages are fixed: %v)", id, pipeline.StageOrder),
			})
			continue
		}

		switch {
		case pipeline.IsCommandStage(id):
			if s.Command == "" {
				errs = append(errs, ValidationError{Field: prefix + ".command", Message: "is required"})
			}
			if len(s.Checks) > 0 {
				errs = append(errs, ValidationError{Field: prefix + ".checks", Message: "only the verify stage takes checks"})
			}
		case id == pipeline.StageVerify:
			if len(s.Checks) == 0 {
				errs = append(errs, ValidationError{Field: prefix + ".checks", Message: "verify stage must list its checks"})
			}
			if s.Command != "" {
				errs = append(errs, ValidationError{Field: prefix + ".command", Message: "verify runs checks, not a command"})
			}
		default: // report, gate
			if s.Command != "" || len(s.Checks) > 0 {
				errs = append(errs, ValidationError{
					Field:   prefix,
					Message: fmt.Sprintf("stage %q is synthesized internally and takes no command or checks", id),
				})
			}
		}

		if s.Timeout != "" {
			if d, err := time.ParseDuration(s.Timeout); err != nil || d <= 0 {
				errs = append(errs, ValidationError{
					Field:   prefix + ".timeout",
					Message: fmt.Sprintf("invalid duration %q", s.Timeout),
				})
			}
		}
	}

	// Every command stage must be configured.
	for _, id := range pipeline.StageOrder {
		if pipeline.IsCommandStage(id) {
			if _, ok := p.Stages[id]; !ok {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("pipeline.stages.%s", id),
					Message: "is required",
				})
			}
		}
	}
	if _, ok := p.Stages[pipeline.StageVerify]; !ok {
		errs = append(errs, ValidationError{Field: "pipeline.stages.verify", Message: "is required"})
	}

	// Verify check references and parser names.
	if verify, ok := p.Stages[pipeline.StageVerify]; ok {
		for _, name := range verify.Checks {
			if _, defined := p.Checks[name]; !defined {
				errs = append(errs, ValidationError{
					Field:   "pipeline.stages.verify.checks",
					Message: fmt.Sprintf("references undefined check %q", name),
				})
			}
		}
	}
	for name, check := range p.Checks {
		prefix := fmt.Sprintf("pipeline.checks.%s", name)
		if check.Command == "" {
			errs = append(errs, ValidationError{Field: prefix + ".command", Message: "is required"})
		}
		if check.Parser == "" {
			errs = append(errs, ValidationError{Field: prefix + ".parser", Message: "is required"})
		} else if !recognizedParsers[check.Parser] {
			errs = append(errs, ValidationError{
				Field:   prefix + ".parser",
				Message: fmt.Sprintf("unrecognized parser %q", check.Parser),
			})
		}
		if check.Timeout != "" {
			if d, err := time.ParseDuration(check.Timeout); err != nil || d <= 0 {
				errs = append(errs, ValidationError{
					Field:   prefix + ".timeout",
					Message: fmt.Sprintf("invalid duration %q", check.Timeout),
				})
			}
		}
	}

	// Limits must stay sane.
	if p.Limits.MaxDiffLines < 0 {
		errs = append(errs, ValidationError{Field: "pipeline.limits.max_diff_lines", Message: "must not be negative"})
	}
	if mc := p.Limits.MinCoverage; mc != nil && (*mc < 0 || *mc > 100) {
		errs = append(errs, ValidationError{Field: "pipeline.limits.min_coverage", Message: "must be between 0 and 100"})
	}
	if p.Limits.MaxLintErrors < 0 {
		errs = append(errs, ValidationError{Field: "pipeline.limits.max_lint_errors", Message: "must not be negative"})
	}
	if p.Limits.MaxTypeErrors < 0 {
		errs = append(errs, ValidationError{Field: "pipeline.limits.max_type_errors", Message: "must not be negative"})
	}
	if p.MaxTaskRetries != nil && *p.MaxTaskRetries < 0 {
		errs = append(errs, ValidationError{Field: "pipeline.max_task_retries", Message: "must not be negative (0 = retry forever)"})
	}
	if p.PollInterval != "" {
		if d, err := time.ParseDuration(p.PollInterval); err != nil || d <= 0 {
			errs = append(errs, ValidationError{
				Field:   "pipeline.poll_interval",
				Message: fmt.Sprintf("invalid duration %q", p.PollInterval),
			})
		}
	}

	return errs
}
