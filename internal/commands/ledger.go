package commands

import (
	"context"
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/haulbook-dev/haulbook/internal/model"
	"github.com/haulbook-dev/haulbook/internal/store"
)

type entryFlags struct {
	entryType string
	amount    string
	date      string
	supplier  string
	party     string
	note      string
}

func (f *entryFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.entryType, "type", "", "credit (received) or debit (paid)")
	cmd.Flags().StringVar(&f.amount, "amount", "", "amount")
	cmd.Flags().StringVar(&f.date, "date", "", "date as YYYY-MM-DD (default today)")
	cmd.Flags().StringVar(&f.supplier, "supplier", "", "supplier name")
	cmd.Flags().StringVar(&f.party, "party", "", "party name")
	cmd.Flags().StringVar(&f.note, "note", "", "note")
}

// apply copies every flag the user set onto e.
func (f *entryFlags) apply(cmd *cobra.Command, e *model.LedgerEntry) error {
	changed := cmd.Flags().Changed
	if changed("type") {
		e.Type = model.EntryType(f.entryType)
	}
	if changed("amount") {
		amt, err := parseAmount(f.amount)
		if err != nil {
			return err
		}
		e.Amount = amt
	}
	if changed("date") || e.Date.IsZero() {
		d, err := parseDate(f.date, time.Now())
		if err != nil {
			return err
		}
		e.Date = d
	}
	// An entry has one counterparty, so setting one name clears the other.
	switch {
	case changed("supplier") && changed("party"):
		e.Supplier = f.supplier
		e.PartyName = f.party
	case changed("supplier"):
		e.Supplier = f.supplier
		e.PartyName = ""
	case changed("party"):
		e.PartyName = f.party
		e.Supplier = ""
	}
	if changed("note") {
		e.Note = f.note
	}
	return nil
}

func newLedgerCommand(run runFunc) *cobra.Command {
	ledgerCmd := &cobra.Command{
		Use:   "ledger",
		Short: "Record and change ledger entries",
	}
	ledgerCmd.AddCommand(
		newLedgerAddCommand(run),
		newLedgerEditCommand(run),
		newLedgerVoidCommand(run),
		newLedgerDeleteCommand(run),
		newLedgerRedistributeCommand(run),
		newLedgerListCommand(run),
	)
	return ledgerCmd
}

func newLedgerAddCommand(run runFunc) *cobra.Command {
	var flags entryFlags
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a ledger entry and allocate it to orders",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
			var entry model.LedgerEntry
			if err := flags.apply(cmd, &entry); err != nil {
				return err
			}
			out, err := a.coordinator.Create(ctx, entry)
			if err != nil {
				return err
			}
			printOutcome(cmd.OutOrStdout(), "added", out)
			a.commit("ledger: add " + out.Entry.ID)
			return nil
		}),
	}
	flags.register(cmd)
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func newLedgerEditCommand(run runFunc) *cobra.Command {
	var flags entryFlags
	var unvoid bool
	cmd := &cobra.Command{
		Use:   "edit <entry-id>",
		Short: "Change a ledger entry and bring its allocations in line",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			entry, err := a.coordinator.Get(ctx, args[0])
			if err != nil {
				return err
			}
			if err := flags.apply(cmd, &entry); err != nil {
				return err
			}
			if unvoid {
				entry.Voided = false
			}
			out, err := a.coordinator.Update(ctx, entry)
			if err != nil {
				return err
			}
			printOutcome(cmd.OutOrStdout(), "updated", out)
			a.commit("ledger: edit " + out.Entry.ID)
			return nil
		}),
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&unvoid, "unvoid", false, "restore a voided entry")
	return cmd
}

func newLedgerVoidCommand(run runFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "void <entry-id>",
		Short: "Void a ledger entry and remove its order payments",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			out, err := a.coordinator.Void(ctx, args[0])
			if err != nil {
				return err
			}
			printOutcome(cmd.OutOrStdout(), "voided", out)
			a.commit("ledger: void " + out.Entry.ID)
			return nil
		}),
	}
}

func newLedgerDeleteCommand(run runFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <entry-id>",
		Short: "Delete a ledger entry and remove its order payments",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			out, err := a.coordinator.Delete(ctx, args[0])
			if err != nil {
				return err
			}
			printOutcome(cmd.OutOrStdout(), "deleted", out)
			a.commit("ledger: delete " + out.Entry.ID)
			return nil
		}),
	}
}

func newLedgerRedistributeCommand(run runFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "redistribute <entry-id>",
		Short: "Re-run a ledger entry's allocation, keeping payments already in place",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			out, err := a.coordinator.Retry(ctx, args[0])
			if err != nil {
				return err
			}
			printOutcome(cmd.OutOrStdout(), "redistributed", out)
			a.commit("ledger: redistribute " + out.Entry.ID)
			return nil
		}),
	}
}

func newLedgerListCommand(run runFunc) *cobra.Command {
	var supplier, party string
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List ledger entries",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
			kind, name, err := counterpartyFlag(supplier, party)
			if err != nil {
				return err
			}
			entries, err := a.ledger.List(ctx, store.Filter(model.CounterpartyFilter(kind, name)))
			if err != nil {
				return fmt.Errorf("reading ledger: %w", err)
			}
			sort.SliceStable(entries, func(i, j int) bool {
				if !entries[i].Date.Equal(entries[j].Date) {
					return entries[i].Date.Before(entries[j].Date)
				}
				return entries[i].CreatedAt.Before(entries[j].CreatedAt)
			})

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tDATE\tTYPE\tAMOUNT\tCOUNTERPARTY\tVOIDED\tNOTE")
			for _, e := range entries {
				if e.Voided && !all {
					continue
				}
				k, n := e.Counterparty()
				cp := "-"
				if k != model.KindNone {
					cp = fmt.Sprintf("%s:%s", k, n)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					e.ID, e.Date.Format(dateLayout), e.Type, e.Amount.StringFixed(2), cp, yesNo(e.Voided), e.Note)
			}
			return tw.Flush()
		}),
	}
	cmd.Flags().StringVar(&supplier, "supplier", "", "only entries for this supplier")
	cmd.Flags().StringVar(&party, "party", "", "only entries for this party")
	cmd.Flags().BoolVar(&all, "all", false, "include voided entries")
	return cmd
}
