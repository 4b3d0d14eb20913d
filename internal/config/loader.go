package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads and parses a pipeline configuration from the given YAML file path.
// After parsing, it applies defaults to stages that don't specify their own values.
func Load(path string) (*PipelineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg PipelineConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault searches for a pipeline config in standard locations and loads
// the first one found. Search order: ./maestro.yaml, $MAESTRO_CONFIG,
// ~/.maestro/config.yaml
func LoadDefault() (*PipelineConfig, error) {
	candidates := []string{"maestro.yaml"}

	if p := os.Getenv("MAESTRO_CONFIG"); p != "" {
		candidates = append(candidates, p)
	}
	home, err := os.UserHomeDir()
	if err == nil {
		candidates = append(candidates, filepath.Join(home, ".maestro", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	return nil, fmt.Errorf("no maestro config found (searched: %v)", candidates)
}

// applyDefaults merges pipeline-level defaults into stages that don't set
// their own values and fills the documented fallbacks for optional fields.
func applyDefaults(cfg *PipelineConfig) {
	p := &cfg.Pipeline

	if p.Workspace == "" {
		p.Workspace = "."
	}
	if p.RequestDir == "" {
		p.RequestDir = "issues"
	}
	if p.PollInterval == "" {
		p.PollInterval = "10s"
	}
	if p.Defaults.Timeout == "" {
		p.Defaults.Timeout = "120s"
	}
	if p.Limits.MaxDiffLines == 0 {
		p.Limits.MaxDiffLines = 1000
	}
	// MaxTaskRetries and MinCoverage default through their accessors: an
	// explicit 0 is a meaningful setting, not an absent one.

	for id, s := range p.Stages {
		if s.Timeout == "" {
			s.Timeout = p.Defaults.Timeout
			p.Stages[id] = s
		}
	}
	for name, c := range p.Checks {
		if c.Timeout == "" {
			c.Timeout = p.Defaults.Timeout
			p.Checks[name] = c
		}
	}
}

// StateDirOrDefault returns the configured state dir, or ~/.maestro when unset.
// $MAESTRO_HOME overrides both.
func (p *Pipeline) StateDirOrDefault() (string, error) {
	if h := os.Getenv("MAESTRO_HOME"); h != "" {
		return h, nil
	}
	if p.StateDir != "" {
		return p.StateDir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".maestro"), nil
}

// ParseDuration parses a config duration string, falling back to def when
// the string is empty or malformed.
func ParseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
