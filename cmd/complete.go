package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/canvaspal/internal/server"
)

// newCompleteCmd builds 'complete' or, when completed is false, 'uncomplete'.
// Both update the completion store and the stored latest snapshot.
func newCompleteCmd(completed bool) *cobra.Command {
	use, short := "complete <url>", "Marks an assignment as completed"
	if !completed {
		use, short = "uncomplete <url>", "Clears the completed flag of an assignment"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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

			snapshots := app.Snapshots()
			if _, err := snapshots.LoadLatest(cmd.Context()); err != nil {
				rt.logger.Warn("stored snapshot unavailable; only the flag is updated", zap.Error(err))
			}
			key, found, err := snapshots.SetCompleted(cmd.Context(), args[0], completed)
			if err != nil {
				return err
			}
			state := "completed"
			if !completed {
				state = "pending"
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\tin_snapshot=%t\n", state, key, found)
			return err
		},
	}
}
