package commands

import (
	"context"
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/haulbook-dev/haulbook/internal/id"
	"github.com/haulbook-dev/haulbook/internal/lifecycle"
	"github.com/haulbook-dev/haulbook/internal/model"
	"github.com/haulbook-dev/haulbook/internal/store"
)

func newOrderCommand(run runFunc) *cobra.Command {
	orderCmd := &cobra.Command{
		Use:   "order",
		Short: "Manage orders and their payments",
	}
	orderCmd.AddCommand(
		newOrderAddCommand(run),
		newOrderListCommand(run),
		newOrderShowCommand(run),
		newOrderPayCommand(run),
		newOrderEditPaymentCommand(run),
		newOrderRemovePaymentCommand(run),
	)
	return orderCmd
}

func newOrderAddCommand(run runFunc) *cobra.Command {
	var orderID, date, supplier, party, originalTotal, total string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add an order",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
			d, err := parseDate(date, time.Now())
			if err != nil {
				return err
			}
			o := model.Order{
				ID:        orderID,
				Date:      d,
				Supplier:  supplier,
				PartyName: party,
				CreatedAt: time.Now().UTC(),
			}
			if o.OriginalTotal, err = parseAmount(originalTotal); err != nil {
				return err
			}
			if o.Total, err = parseAmount(total); err != nil {
				return err
			}
			if o.ID == "" {
				o.ID = id.NewOrderID(d)
			}
			if o.Supplier != "" && !a.directory.Exists(model.KindSupplier, o.Supplier) {
				return fmt.Errorf("unknown supplier %q (add it with haulbook counterparty add)", o.Supplier)
			}
			if !a.directory.Exists(model.KindParty, o.PartyName) {
				return fmt.Errorf("unknown party %q (add it with haulbook counterparty add)", o.PartyName)
			}
			if _, exists, err := a.orders.Get(ctx, o.ID); err != nil {
				return fmt.Errorf("reading order %s: %w", o.ID, err)
			} else if exists {
				return fmt.Errorf("order %s already exists", o.ID)
			}
			if err := a.orders.Put(ctx, o); err != nil {
				return fmt.Errorf("writing order %s: %w", o.ID, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %s\n", o.ID)
			a.commit("order: add " + o.ID)
			return nil
		}),
	}
	cmd.Flags().StringVar(&orderID, "id", "", "order ID (default generated)")
	cmd.Flags().StringVar(&date, "date", "", "order date as YYYY-MM-DD (default today)")
	cmd.Flags().StringVar(&supplier, "supplier", "", "supplier name")
	cmd.Flags().StringVar(&party, "party", "", "party name (required)")
	cmd.Flags().StringVar(&originalTotal, "original-total", "0", "amount owed to the supplier")
	cmd.Flags().StringVar(&total, "total", "0", "amount owed by the party")
	_ = cmd.MarkFlagRequired("party")
	return cmd
}

func newOrderListCommand(run runFunc) *cobra.Command {
	var supplier, party string
	var unpaid bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List orders with their paid state",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
			kind, name, err := counterpartyFlag(supplier, party)
			if err != nil {
				return err
			}
			orders, err := a.orders.List(ctx, store.Filter(model.CounterpartyFilter(kind, name)))
			if err != nil {
				return fmt.Errorf("reading orders: %w", err)
			}
			sort.SliceStable(orders, func(i, j int) bool { return orders[i].Date.Before(orders[j].Date) })

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tDATE\tSUPPLIER\tPARTY\tORIGINAL TOTAL\tEXPENSE PAID\tTOTAL\tREVENUE PAID")
			for _, o := range orders {
				expensePaid := a.evaluator.IsExpensePaid(o)
				revenuePaid := a.evaluator.IsRevenuePaid(o)
				if unpaid && expensePaid && revenuePaid {
					continue
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					o.ID, o.Date.Format(dateLayout), o.Supplier, o.PartyName,
					o.OriginalTotal.StringFixed(2), yesNo(expensePaid),
					o.Total.StringFixed(2), yesNo(revenuePaid))
			}
			return tw.Flush()
		}),
	}
	cmd.Flags().StringVar(&supplier, "supplier", "", "only orders from this supplier")
	cmd.Flags().StringVar(&party, "party", "", "only orders for this party")
	cmd.Flags().BoolVar(&unpaid, "unpaid", false, "only orders with an unpaid side")
	return cmd
}

func newOrderShowCommand(run runFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "show <order-id>",
		Short: "Show an order and its payment records",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			o, ok, err := a.orders.Get(ctx, args[0])
			if err != nil {
				return fmt.Errorf("reading order %s: %w", args[0], err)
			}
			if !ok {
				return fmt.Errorf("%w: %s", lifecycle.ErrOrderNotFound, args[0])
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Order %s  %s\n", o.ID, o.Date.Format(dateLayout))
			for _, side := range []model.Side{model.SideExpense, model.SideRevenue} {
				_, name := o.CounterpartyFor(side)
				payments := o.Payments(side)
				fmt.Fprintf(w, "\n%s (%s): total %s, paid %s, settled %s\n",
					side, name, o.TotalFor(side).StringFixed(2),
					model.SumPayments(payments).StringFixed(2), yesNo(a.evaluator.IsPaid(o, side)))
				for _, p := range payments {
					fmt.Fprintf(w, "  %s  %s  %12s  %-28s %s\n",
						p.ID, p.Date.Format(dateLayout), p.Amount.StringFixed(2), p.Origin, p.Note)
				}
			}
			return nil
		}),
	}
}

func newOrderPayCommand(run runFunc) *cobra.Command {
	var side, amount, date, note string
	var manual bool
	cmd := &cobra.Command{
		Use:   "pay <order-id>",
		Short: "Record a payment against an order",
		Long: "Record a payment against an order. By default a ledger entry is created for\n" +
			"the order's supplier (expense) or party (revenue); anything beyond what the\n" +
			"order owes spreads to the counterparty's other orders. With --manual the\n" +
			"payment is written to the order only.",
		Args: cobra.ExactArgs(1),
		RunE: run(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			s, err := parseSide(side)
			if err != nil {
				return err
			}
			amt, err := parseAmount(amount)
			if err != nil {
				return err
			}
			d, err := parseDate(date, time.Now())
			if err != nil {
				return err
			}
			params := lifecycle.OrderPaymentParams{OrderID: args[0], Side: s, Amount: amt, Date: d, Note: note}

			if manual {
				rec, err := a.coordinator.AddManualPayment(ctx, params)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "added %s to %s\n", rec.ID, args[0])
				a.commit(fmt.Sprintf("order: manual payment %s on %s", rec.ID, args[0]))
				return nil
			}

			out, err := a.coordinator.RecordOrderPayment(ctx, params)
			if err != nil {
				return err
			}
			printOutcome(cmd.OutOrStdout(), "added", out)
			a.commit(fmt.Sprintf("order: payment %s on %s", out.Entry.ID, args[0]))
			return nil
		}),
	}
	cmd.Flags().StringVar(&side, "side", "", "expense (to the supplier) or revenue (from the party)")
	cmd.Flags().StringVar(&amount, "amount", "", "amount")
	cmd.Flags().StringVar(&date, "date", "", "date as YYYY-MM-DD (default today)")
	cmd.Flags().StringVar(&note, "note", "", "note")
	cmd.Flags().BoolVar(&manual, "manual", false, "record on the order only, without a ledger entry")
	_ = cmd.MarkFlagRequired("side")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func newOrderEditPaymentCommand(run runFunc) *cobra.Command {
	var side, amount string
	cmd := &cobra.Command{
		Use:   "edit-payment <order-id> <payment-id>",
		Short: "Change the amount of a payment record",
		Args:  cobra.ExactArgs(2),
		RunE: run(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			s, err := parseSide(side)
			if err != nil {
				return err
			}
			amt, err := parseAmount(amount)
			if err != nil {
				return err
			}
			out, err := a.coordinator.EditOrderPayment(ctx, args[0], s, args[1], amt)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "updated %s on %s\n", args[1], args[0])
			printWarnings(cmd.OutOrStdout(), out)
			a.commit(fmt.Sprintf("order: edit payment %s on %s", args[1], args[0]))
			return nil
		}),
	}
	cmd.Flags().StringVar(&side, "side", "", "expense or revenue")
	cmd.Flags().StringVar(&amount, "amount", "", "new amount")
	_ = cmd.MarkFlagRequired("side")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func newOrderRemovePaymentCommand(run runFunc) *cobra.Command {
	var side string
	cmd := &cobra.Command{
		Use:   "remove-payment <order-id> <payment-id>",
		Short: "Remove a payment record from an order",
		Args:  cobra.ExactArgs(2),
		RunE: run(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			s, err := parseSide(side)
			if err != nil {
				return err
			}
			out, err := a.coordinator.RemoveOrderPayment(ctx, args[0], s, args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s from %s\n", args[1], args[0])
			printWarnings(cmd.OutOrStdout(), out)
			a.commit(fmt.Sprintf("order: remove payment %s on %s", args[1], args[0]))
			return nil
		}),
	}
	cmd.Flags().StringVar(&side, "side", "", "expense or revenue")
	_ = cmd.MarkFlagRequired("side")
	return cmd
}
