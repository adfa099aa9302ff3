package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/canvaspal/internal/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the HTTP API with scheduled refreshes",
		Long: `Starts the refresh workers, the cron schedule and the HTTP API
(/v1/assignments, /overlay, /feed.rss, /v1/completions). The last stored
snapshot is served until the first refresh finishes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			app, err := server.Build(cmd.Context(), rt.cfg, rt.logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			return app.Run(cmd.Context())
		},
	}
}
