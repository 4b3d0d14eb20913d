package config

// PipelineConfig is the top-level configuration structure parsed from maestro YAML.
type PipelineConfig struct {
	Pipeline Pipeline `yaml:"pipeline"`
}

// Pipeline defines the full pipeline: metadata, defaults, limits, stages, and checks.
// MaxTaskRetries is a pointer so an explicit 0 (retry forever) survives
// defaulting; unset means 5.
type Pipeline struct {
	Name           string           `yaml:"name"`
	Workspace      string           `yaml:"workspace"`
	RequestDir     string           `yaml:"request_dir"`
	StateDir       string           `yaml:"state_dir"`
	PollInterval   string           `yaml:"poll_interval"`
	MaxTaskRetries *int             `yaml:"max_task_retries"`
	Defaults       StageDefaults    `yaml:"defaults"`
	Limits         Limits           `yaml:"limits"`
	Stages         map[string]Stage `yaml:"stages"`
	Checks         map[string]Check `yaml:"checks"`
}

// RetryCap returns the watcher retry cap: the configured value, or 5 when
// unset. 0 means unlimited.
func (p *Pipeline) RetryCap() int {
	if p.MaxTaskRetries == nil {
		return 5
	}
	return *p.MaxTaskRetries
}

// StageDefaults holds default values applied to stages that don't specify their own.
type StageDefaults struct {
	Timeout string `yaml:"timeout"`
}

// Limits holds the quality ceilings and floors enforced by artifact
// validation and QA synthesis. MinCoverage is a pointer so an explicit 0
// (no coverage floor) survives defaulting; unset means 70.
type Limits struct {
	MaxDiffLines  int      `yaml:"max_diff_lines"`
	MinCoverage   *float64 `yaml:"min_coverage"`
	MaxLintErrors int      `yaml:"max_lint_errors"`
	MaxTypeErrors int      `yaml:"max_type_errors"`
}

// CoverageFloor returns the minimum coverage percentage: the configured
// value, or 70 when unset.
func (l *Limits) CoverageFloor() float64 {
	if l.MinCoverage == nil {
		return 70
	}
	return *l.MinCoverage
}

// Stage defines the configuration for one fixed pipeline stage.
// plan/code/integrate take a command template; verify takes a checks list;
// report and gate are synthesized internally and take neither.
type Stage struct {
	Command string   `yaml:"command"`
	Timeout string   `yaml:"timeout"`
	Checks  []string `yaml:"checks"`
}

// Check defines one verification command whose raw output feeds the QA report.
type Check struct {
	Command string `yaml:"command"`
	Parser  string `yaml:"parser"`
	Timeout string `yaml:"timeout"`
}
