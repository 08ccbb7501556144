// Package report builds the outstanding-balance workbook.
package report

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/haulbook-dev/haulbook/internal/model"
	"github.com/haulbook-dev/haulbook/internal/paid"
	"github.com/haulbook-dev/haulbook/internal/store"
)

// Sheet names.
const (
	SheetSummary  = "Summary"
	SheetOrders   = "Outstanding"
	SheetPayments = "Party Payments"
)

// Row is one side of one order.
type Row struct {
	OrderID      string
	Date         string
	Side         model.Side
	Counterparty string
	Total        decimal.Decimal
	Paid         decimal.Decimal
	Outstanding  decimal.Decimal
	Settled      bool
}

// Balance totals the open amount owed to or by one counterparty.
type Balance struct {
	Side         model.Side
	Counterparty string
	Orders       int
	Outstanding  decimal.Decimal
}

// Report is the data behind the workbook.
type Report struct {
	Rows          []Row
	Balances      []Balance
	PartyPayments []model.PartyPayment
}

// Build computes rows for every order side with a positive total and
// per-counterparty balances over the unsettled ones.
func Build(orders []model.Order, payments []model.PartyPayment, ev paid.Evaluator) Report {
	var r Report
	balances := make(map[[2]string]*Balance)

	for _, o := range orders {
		for _, side := range []model.Side{model.SideExpense, model.SideRevenue} {
			total := o.TotalFor(side)
			if !total.IsPositive() {
				continue
			}
			_, name := o.CounterpartyFor(side)
			row := Row{
				OrderID:      o.ID,
				Date:         o.Date.Format("2006-01-02"),
				Side:         side,
				Counterparty: name,
				Total:        total,
				Paid:         model.SumPayments(o.Payments(side)),
				Outstanding:  paid.Outstanding(total, o.Payments(side)),
				Settled:      ev.IsPaid(o, side),
			}
			r.Rows = append(r.Rows, row)
			if row.Settled {
				continue
			}

			k := [2]string{string(side), name}
			b, ok := balances[k]
			if !ok {
				b = &Balance{Side: side, Counterparty: name, Outstanding: decimal.Zero}
				balances[k] = b
			}
			b.Orders++
			b.Outstanding = b.Outstanding.Add(row.Outstanding)
		}
	}

	for _, b := range balances {
		r.Balances = append(r.Balances, *b)
	}
	sort.Slice(r.Balances, func(i, j int) bool {
		if r.Balances[i].Side != r.Balances[j].Side {
			return r.Balances[i].Side < r.Balances[j].Side
		}
		return r.Balances[i].Counterparty < r.Balances[j].Counterparty
	})
	sort.SliceStable(r.Rows, func(i, j int) bool { return r.Rows[i].Date < r.Rows[j].Date })

	r.PartyPayments = append(r.PartyPayments, payments...)
	sort.Slice(r.PartyPayments, func(i, j int) bool {
		return r.PartyPayments[i].Date.Before(r.PartyPayments[j].Date)
	})
	return r
}

// Collect reads orders and party payments and builds the report.
func Collect(ctx context.Context, orders store.Store[model.Order], payments store.Store[model.PartyPayment], ev paid.Evaluator) (Report, error) {
	all, err := orders.List(ctx, nil)
	if err != nil {
		return Report{}, fmt.Errorf("reading orders: %w", err)
	}
	ps, err := payments.List(ctx, nil)
	if err != nil {
		return Report{}, fmt.Errorf("reading party payments: %w", err)
	}
	return Build(all, ps, ev), nil
}

// Write renders the report as an XLSX workbook.
func (r Report) Write(w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		return fmt.Errorf("naming summary sheet: %w", err)
	}
	for _, name := range []string{SheetOrders, SheetPayments} {
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("creating sheet %s: %w", name, err)
		}
	}

	summary := [][]any{{"Side", "Counterparty", "Open orders", "Outstanding"}}
	for _, b := range r.Balances {
		summary = append(summary, []any{string(b.Side), b.Counterparty, b.Orders, b.Outstanding.InexactFloat64()})
	}
	if err := writeRows(f, SheetSummary, summary); err != nil {
		return err
	}

	rows := [][]any{{"Order", "Date", "Side", "Counterparty", "Total", "Paid", "Outstanding", "Status"}}
	for _, row := range r.Rows {
		status := "open"
		if row.Settled {
			status = "paid"
		}
		rows = append(rows, []any{
			row.OrderID, row.Date, string(row.Side), row.Counterparty,
			row.Total.InexactFloat64(), row.Paid.InexactFloat64(), row.Outstanding.InexactFloat64(), status,
		})
	}
	if err := writeRows(f, SheetOrders, rows); err != nil {
		return err
	}

	pays := [][]any{{"Ledger entry", "Party", "Date", "Amount", "Note"}}
	for _, p := range r.PartyPayments {
		pays = append(pays, []any{p.LedgerEntryID, p.PartyName, p.Date.Format("2006-01-02"), p.Amount.InexactFloat64(), p.Note})
	}
	if err := writeRows(f, SheetPayments, pays); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("writing %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}
