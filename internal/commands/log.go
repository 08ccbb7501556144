package commands

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/haulbook-dev/haulbook/internal/allocationlog"
)

func newLogCommand(run runFunc) *cobra.Command {
	var unresolved bool
	var limit int
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show the allocation log",
		Args:  cobra.NoArgs,
		RunE: run(func(_ context.Context, cmd *cobra.Command, a *app, _ []string) error {
			entries, err := allocationlog.Read(a.root)
			if err != nil {
				return err
			}
			if unresolved {
				entries = allocationlog.Unresolved(entries)
			}
			if limit > 0 && len(entries) > limit {
				entries = entries[len(entries)-limit:]
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tOP\tENTRY\tORDER\tSTATUS\tBEFORE\tAFTER\tERROR")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					e.Timestamp.Format("2006-01-02 15:04:05"), e.Op, e.LedgerEntryID, e.OrderID,
					e.Status, e.Before.StringFixed(2), e.After.StringFixed(2), e.Error)
			}
			return tw.Flush()
		}),
	}
	cmd.Flags().BoolVar(&unresolved, "unresolved", false, "only failed writes not since applied")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "show at most this many rows (0 for all)")
	return cmd
}
