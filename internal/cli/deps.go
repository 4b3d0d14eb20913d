package cli

import (
	"fmt"

	"github.com/lucasnoah/maestro/internal/broadcast"
	"github.com/lucasnoah/maestro/internal/config"
	"github.com/lucasnoah/maestro/internal/controller"
	"github.com/lucasnoah/maestro/internal/db"
	"github.com/lucasnoah/maestro/internal/pipeline"
	"github.com/lucasnoah/maestro/internal/runner"
)

// loadPipelineConfig loads and validates the pipeline config. A broken
// config is a ConfigurationError: the pipeline never starts.
func loadPipelineConfig() (*config.PipelineConfig, error) {
	var cfg *config.PipelineConfig
	var err error
	if configPath != "" {
		cfg, err = config.Load(configPath)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return nil, err
	}

	if errs := config.Validate(cfg); len(errs) > 0 {
		for _, e := range errs {
			fmt.Println("config:", e)
		}
		return nil, fmt.Errorf("invalid config: %d error(s)", len(errs))
	}
	return cfg, nil
}

// openStore returns the task store rooted at the configured state dir.
func openStore(cfg *config.PipelineConfig) (*pipeline.Store, error) {
	dir, err := cfg.Pipeline.StateDirOrDefault()
	if err != nil {
		return nil, fmt.Errorf("state dir: %w", err)
	}
	return pipeline.NewStore(dir), nil
}

// newController wires a controller with the real process runner and the
// event log. hub may be nil for one-shot commands. The returned config is
// the one the controller was wired with; callers must not re-load it. The
// returned cleanup closes the database.
func newController(hub *broadcast.Hub) (*controller.Controller, *config.PipelineConfig, *pipeline.Store, func(), error) {
	cfg, err := loadPipelineConfig()
	if err != nil {
		return nil, nil, nil, nil, err
	}

	store, err := openStore(cfg)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	dbPath, err := db.DefaultDBPath()
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("db path: %w", err)
	}
	database, err := db.Open(dbPath)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("open db: %w", err)
	}
	if err := database.Migrate(); err != nil {
		database.Close()
		return nil, nil, nil, nil, fmt.Errorf("migrate: %w", err)
	}

	ctrl := controller.New(cfg, store, runner.NewRunner(&runner.ExecRunner{}), hub, database)
	cleanup := func() { database.Close() }
	return ctrl, cfg, store, cleanup, nil
}
