package commands

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/haulbook-dev/haulbook/internal/model"
)

func newCounterpartyCommand(run runFunc) *cobra.Command {
	cpCmd := &cobra.Command{
		Use:     "counterparty",
		Aliases: []string{"cp"},
		Short:   "Manage the supplier and party directory",
	}
	cpCmd.AddCommand(newCounterpartyAddCommand(run), newCounterpartyListCommand(run))
	return cpCmd
}

func newCounterpartyAddCommand(run runFunc) *cobra.Command {
	var kind, phone, notes string
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a supplier or party",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(_ context.Context, cmd *cobra.Command, a *app, args []string) error {
			k := model.CounterpartyKind(kind)
			if k != model.KindSupplier && k != model.KindParty {
				return fmt.Errorf("unknown kind %q (want supplier or party)", kind)
			}
			cp := model.Counterparty{Name: args[0], Kind: k, Phone: phone, Notes: notes}
			if !a.directory.Add(cp) {
				return fmt.Errorf("%s %q already exists", k, cp.Name)
			}
			if err := a.directory.Save(a.root); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %s %s\n", k, cp.Name)
			a.commit(fmt.Sprintf("directory: add %s %s", k, cp.Name))
			return nil
		}),
	}
	cmd.Flags().StringVar(&kind, "kind", "", "supplier or party")
	cmd.Flags().StringVar(&phone, "phone", "", "phone number")
	cmd.Flags().StringVar(&notes, "notes", "", "notes")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}

func newCounterpartyListCommand(run runFunc) *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List suppliers and parties",
		Args:  cobra.NoArgs,
		RunE: run(func(_ context.Context, cmd *cobra.Command, a *app, _ []string) error {
			kinds := []model.CounterpartyKind{model.KindSupplier, model.KindParty}
			if kind != "" {
				kinds = []model.CounterpartyKind{model.CounterpartyKind(kind)}
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KIND\tNAME\tPHONE\tNOTES")
			for _, k := range kinds {
				for _, cp := range a.directory.ByKind(k) {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", cp.Kind, cp.Name, cp.Phone, cp.Notes)
				}
			}
			return tw.Flush()
		}),
	}
	cmd.Flags().StringVar(&kind, "kind", "", "only this kind")
	return cmd
}
