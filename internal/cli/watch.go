package cli

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/maestro/internal/broadcast"
	"github.com/lucasnoah/maestro/internal/config"
	"github.com/lucasnoah/maestro/internal/watcher"
	"github.com/lucasnoah/maestro/internal/web"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the request directory and run new tasks",
	Long: `Poll the request directory on an interval, deduplicate against the
processed set, and run the full pipeline for each new task sequentially.
A task is recorded as processed only after a successful run; failed tasks
are retried on later cycles up to the configured cap.

The live event channel is served from the same process so dashboard
subscribers observe stage transitions as they happen.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetInt("port")

		hub := broadcast.NewHub()
		ctrl, cfg, store, cleanup, err := newController(hub)
		if err != nil {
			return err
		}
		defer cleanup()
		p := cfg.Pipeline

		processed, err := watcher.LoadProcessedSet(filepath.Join(store.BaseDir(), "processed.log"))
		if err != nil {
			return fmt.Errorf("load processed set: %w", err)
		}
		defer processed.Close()

		run := func(ctx context.Context, taskID string) (bool, error) {
			summary, err := ctrl.Run(ctx, taskID)
			if err != nil {
				return false, err
			}
			return summary.Succeeded(), nil
		}

		w := watcher.New(
			&watcher.DirSource{Dir: filepath.Join(p.Workspace, p.RequestDir)},
			processed,
			run,
			config.ParseDuration(p.PollInterval, 10*time.Second),
			p.RetryCap(),
		)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		go func() {
			if err := web.NewServer(store, hub, port).Start(); err != nil {
				log.Printf("event server: %v", err)
			}
		}()

		log.Printf("watching %s every %s (%d processed)",
			filepath.Join(p.Workspace, p.RequestDir), p.PollInterval, processed.Len())
		err = w.Run(ctx)
		if err == context.Canceled {
			return nil
		}
		return err
	},
}

func init() {
	watchCmd.Flags().Int("port", 8765, "Port for the live event channel")
}
