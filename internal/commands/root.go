package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/haulbook-dev/haulbook/internal/buildinfo"
)

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand() *cobra.Command {
	var dir string

	rootCmd := &cobra.Command{
		Use:     "haulbook",
		Short:   "Ledger-driven payment allocation for haulage orders",
		Version: buildinfo.String(),
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&dir, "dir", ".", "haulbook data directory")

	run := func(fn func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			root, err := resolveRoot(dir)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			a, err := openApp(ctx, root)
			if err != nil {
				return err
			}
			defer a.Close()
			return fn(ctx, cmd, a, args)
		}
	}

	rootCmd.AddCommand(
		newInitCommand(),
		newCounterpartyCommand(run),
		newLedgerCommand(run),
		newOrderCommand(run),
		newReconcileCommand(run),
		newReportCommand(run),
		newProjectionCommand(run),
		newLogCommand(run),
		newServeCommand(run),
	)

	return rootCmd
}

// runFunc adapts a command body that needs the wired app.
type runFunc func(fn func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error
