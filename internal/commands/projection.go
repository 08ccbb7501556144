package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newProjectionCommand(run runFunc) *cobra.Command {
	projCmd := &cobra.Command{
		Use:   "projection",
		Short: "Maintain the party payment projection",
	}
	projCmd.AddCommand(&cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild party payments from the ledger",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
			n, err := a.projection.Rebuild(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rebuilt %d party payments\n", n)
			a.commit("projection: rebuild party payments")
			return nil
		}),
	})
	return projCmd
}
