package commands

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/haulbook-dev/haulbook/internal/allocationlog"
	"github.com/haulbook-dev/haulbook/internal/model"
	"github.com/haulbook-dev/haulbook/internal/reconcile"
)

func newReconcileCommand(run runFunc) *cobra.Command {
	var supplier, party, side string
	var repair bool
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Remove order payments no longer backed by the ledger",
		Long: "Remove ledger-derived order payments whose ledger entry was deleted, voided or\n" +
			"moved to another counterparty, and report entries whose allocations drifted.\n" +
			"Without --supplier or --party every counterparty is checked. With --repair, entries\n" +
			"whose order writes failed are re-allocated first.",
		Args: cobra.NoArgs,
		RunE: run(func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
			kind, name, err := counterpartyFlag(supplier, party)
			if err != nil {
				return err
			}

			repaired := 0
			if repair {
				if repaired, err = repairUnresolved(ctx, cmd.OutOrStdout(), a); err != nil {
					return err
				}
			}

			var reports []reconcile.Report
			if kind == model.KindNone {
				reports, err = a.reconciler.ReconcileAll(ctx)
				if err != nil {
					return err
				}
			} else {
				sides := []model.Side{model.SideExpense, model.SideRevenue}
				if side != "" {
					s, err := parseSide(side)
					if err != nil {
						return err
					}
					sides = []model.Side{s}
				}
				for _, s := range sides {
					r, err := a.reconciler.ReconcileCounterparty(ctx, kind, name, s)
					if err != nil {
						return err
					}
					reports = append(reports, r)
				}
			}

			removed := printReports(cmd.OutOrStdout(), reports)
			if removed > 0 || repaired > 0 {
				a.commit(fmt.Sprintf("reconcile: repair %d entries, remove %d orphaned payments", repaired, removed))
			}
			return nil
		}),
	}
	cmd.Flags().StringVar(&supplier, "supplier", "", "reconcile one supplier")
	cmd.Flags().StringVar(&party, "party", "", "reconcile one party")
	cmd.Flags().StringVar(&side, "side", "", "with --supplier or --party, only this side")
	cmd.Flags().BoolVar(&repair, "repair", false, "re-allocate entries with failed order writes in the allocation log")
	return cmd
}

// repairUnresolved re-allocates every entry with an unresolved row in the
// allocation log and marks the rows it settled. It returns the number of
// entries repaired.
func repairUnresolved(ctx context.Context, w io.Writer, a *app) (int, error) {
	rows, err := allocationlog.Read(a.root)
	if err != nil {
		return 0, err
	}
	unresolved := allocationlog.Unresolved(rows)
	if len(unresolved) == 0 {
		fmt.Fprintln(w, "nothing to repair")
		return 0, nil
	}

	repairs, err := a.reconciler.Repair(ctx, unresolved)
	if err != nil {
		return 0, err
	}
	repaired := 0
	for _, r := range repairs {
		switch {
		case r.Err != nil:
			fmt.Fprintf(w, "repair %s failed: %v\n", r.LedgerEntryID, r.Err)
		case r.Missing:
			fmt.Fprintf(w, "repair %s: entry no longer exists\n", r.LedgerEntryID)
		case !r.Resolved():
			fmt.Fprintf(w, "repair %s incomplete: %d order writes failed\n", r.LedgerEntryID, len(r.Result.Failed))
		default:
			fmt.Fprintf(w, "repaired %s\n", r.LedgerEntryID)
			repaired++
		}
	}
	if err := allocationlog.MarkRepaired(a.root, reconcile.ResolvedRows(unresolved, repairs), time.Now()); err != nil {
		return repaired, fmt.Errorf("marking repaired rows: %w", err)
	}
	return repaired, nil
}

func printReports(w io.Writer, reports []reconcile.Report) int {
	removed := 0
	for _, r := range reports {
		removed += r.OrphansRemoved()
		if r.Clean() {
			continue
		}
		fmt.Fprintf(w, "%s %s (%s)\n", r.CounterpartyKind, r.Counterparty, r.Side)
		for _, o := range r.Orphans {
			fmt.Fprintf(w, "  removed %s from %s: %s (entry %s)\n", o.PaymentID, o.OrderID, o.Amount.StringFixed(2), o.LedgerEntryID)
		}
		for _, f := range r.Failed {
			fmt.Fprintf(w, "  failed to write %s: %v\n", f.OrderID, f.Err)
		}
		for _, d := range r.Drift {
			fmt.Fprintf(w, "  drift: entry %s is %s but %s is allocated\n", d.LedgerEntryID, d.Amount.StringFixed(2), d.Tagged.StringFixed(2))
		}
	}
	fmt.Fprintf(w, "checked %d, removed %d orphaned payments\n", len(reports), removed)
	return removed
}
