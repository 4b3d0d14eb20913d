package cli

import (
	"github.com/spf13/cobra"

	"github.com/lucasnoah/maestro/internal/broadcast"
	"github.com/lucasnoah/maestro/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the status endpoint standalone",
	Long: `Start the HTTP endpoints without a watcher. /status reflects task state
from disk; /events only carries live traffic when the pipeline runs in the
same process, so under "maestro watch" the channel is served there instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetInt("port")

		cfg, err := loadPipelineConfig()
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}

		return web.NewServer(store, broadcast.NewHub(), port).Start()
	},
}

func init() {
	serveCmd.Flags().Int("port", 8765, "Port to listen on")
}
