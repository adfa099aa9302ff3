package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/canvaspal/internal/assignment"
	"github.com/JakeFAU/canvaspal/internal/render"
	"github.com/JakeFAU/canvaspal/internal/server"
)

// newScrapeCmd creates the 'scrape' subcommand, which runs one refresh and
// prints the ranked assignments.
func newScrapeCmd() *cobra.Command {
	var (
		format string
		level  string
		all    bool
	)
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Scrapes Canvas once and prints the ranked assignments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, err := render.ParseFormat(format)
			if err != nil {
				return err
			}
			lvl, err := parseLevel(level)
			if err != nil {
				return err
			}
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			app, err := server.BuildCore(cmd.Context(), rt.cfg, rt.logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			defer func() {
				if cerr := app.Close(cmd.Context()); cerr != nil {
					rt.logger.Warn("close failed", zap.Error(cerr))
				}
			}()

			snap, err := app.Refresh(cmd.Context())
			if err != nil {
				return fmt.Errorf("scrape: %w", err)
			}
			snap.Assignments = render.Visible(snap.Assignments, lvl, all)
			return render.Write(cmd.OutOrStdout(), out, snap, app.Clock().Now(), app.Location())
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", string(render.FormatText), "output format: text, json or yaml")
	cmd.Flags().StringVar(&level, "level", "", "only show one priority level: high, medium or low")
	cmd.Flags().BoolVar(&all, "all", false, "include assignments marked complete")
	return cmd
}

func parseLevel(s string) (assignment.Level, error) {
	switch lvl := assignment.Level(strings.ToLower(strings.TrimSpace(s))); lvl {
	case "", assignment.LevelHigh, assignment.LevelMedium, assignment.LevelLow:
		return lvl, nil
	default:
		return "", fmt.Errorf("invalid level %q", s)
	}
}
