package lifecycle

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/haulbook-dev/haulbook/internal/allocation"
	"github.com/haulbook-dev/haulbook/internal/model"
	"github.com/haulbook-dev/haulbook/internal/paid"
)

// OrderPaymentParams describes a payment entered against one order.
type OrderPaymentParams struct {
	OrderID string
	Side    model.Side
	Amount  decimal.Decimal
	Date    time.Time
	Note    string
}

// RecordOrderPayment books a payment received on, or made for, a specific
// order. It creates a ledger entry for the order's counterparty, pins as
// much as the order still owes onto that order, and distributes any excess
// across the counterparty's other orders.
func (c *Coordinator) RecordOrderPayment(ctx context.Context, params OrderPaymentParams) (Outcome, error) {
	if !params.Side.Valid() {
		return Outcome{}, fmt.Errorf("unknown side %q", params.Side)
	}
	order, err := c.getOrder(ctx, params.OrderID)
	if err != nil {
		return Outcome{}, err
	}
	kind, name := order.CounterpartyFor(params.Side)
	if name == "" {
		return Outcome{}, fmt.Errorf("order %s has no %s to pay", order.ID, kind)
	}

	entry := model.LedgerEntry{
		ID:        c.newEntryID(params.Date),
		Type:      params.Side.EntryType(),
		Amount:    params.Amount,
		Date:      params.Date,
		Note:      params.Note,
		CreatedAt: c.now(),
	}
	if kind == model.KindSupplier {
		entry.Supplier = name
	} else {
		entry.PartyName = name
	}
	if entry.Note == "" {
		entry.Note = "Payment for order " + order.ID
	}
	if err := c.validate(entry); err != nil {
		return Outcome{Entry: entry}, err
	}

	if err := c.ledger.Put(ctx, entry); err != nil {
		return Outcome{Entry: entry}, fmt.Errorf("writing ledger entry %s: %w", entry.ID, err)
	}
	c.project(ctx, entry)

	out := Outcome{Entry: entry}
	pinned, err := c.pin(ctx, order.ID, entry)
	if err != nil {
		c.fail(&out, entry.ID, "pin", err)
	}
	if pinned.LessThan(entry.Amount) {
		c.run(ctx, &out, "redistribute", func() (allocation.Result, error) {
			return c.engine.Redistribute(ctx, entry.ID, entry.Date)
		})
	}
	c.notify(ctx, out.Warnings)
	return out, nil
}

// pin writes the entry's record onto the order, capped at what it owes.
func (c *Coordinator) pin(ctx context.Context, orderID string, entry model.LedgerEntry) (decimal.Decimal, error) {
	kind, name := entry.Counterparty()
	unlock := c.engine.Lock(ctx, kind, name)
	defer unlock()

	order, err := c.getOrder(ctx, orderID)
	if err != nil {
		return decimal.Zero, err
	}
	side := entry.Side()
	amount := decimal.Min(entry.Amount, paid.Outstanding(order.TotalFor(side), order.Payments(side)))
	if !amount.IsPositive() {
		return decimal.Zero, nil
	}

	payments := append(slices.Clone(order.Payments(side)), model.PaymentRecord{
		ID:        c.newID(),
		Amount:    amount,
		Date:      entry.Date,
		Note:      allocation.DefaultNote,
		Origin:    model.LedgerDerived(entry.ID),
		CreatedAt: c.now(),
	})
	if err := c.orders.Put(ctx, order.WithPayments(side, payments)); err != nil {
		return decimal.Zero, fmt.Errorf("writing order %s: %w", order.ID, err)
	}
	return amount, nil
}

// AddManualPayment appends a payment that is not tied to any ledger entry.
// The allocation engine never touches it.
func (c *Coordinator) AddManualPayment(ctx context.Context, params OrderPaymentParams) (model.PaymentRecord, error) {
	if !params.Side.Valid() {
		return model.PaymentRecord{}, fmt.Errorf("unknown side %q", params.Side)
	}
	if !params.Amount.IsPositive() {
		return model.PaymentRecord{}, fmt.Errorf("amount %s must be greater than zero", params.Amount)
	}
	order, err := c.getOrder(ctx, params.OrderID)
	if err != nil {
		return model.PaymentRecord{}, err
	}

	rec := model.PaymentRecord{
		ID:        c.newID(),
		Amount:    params.Amount,
		Date:      params.Date,
		Note:      params.Note,
		Origin:    model.Manual(),
		CreatedAt: c.now(),
	}
	payments := append(slices.Clone(order.Payments(params.Side)), rec)
	if err := c.orders.Put(ctx, order.WithPayments(params.Side, payments)); err != nil {
		return model.PaymentRecord{}, fmt.Errorf("writing order %s: %w", order.ID, err)
	}
	return rec, nil
}

// EditOrderPayment changes the amount of one payment record. A record
// owned by a ledger entry triggers a redistribution of that entry, which
// keeps the edited amount where it fits. Money freed by a downward edit
// goes to other outstanding orders or is reported as PartialDistribution.
// If the entry can no longer cover its records an
// UnderfundedRedistribution warning is returned and nothing else changes.
func (c *Coordinator) EditOrderPayment(ctx context.Context, orderID string, side model.Side, paymentID string, amount decimal.Decimal) (Outcome, error) {
	if !amount.IsPositive() {
		return Outcome{}, fmt.Errorf("amount %s must be greater than zero", amount)
	}
	return c.changePayment(ctx, orderID, side, paymentID, func(p model.PaymentRecord) *model.PaymentRecord {
		p.Amount = amount
		return &p
	})
}

// RemoveOrderPayment deletes one payment record. For a record owned by a
// ledger entry the freed amount is redistributed across the
// counterparty's eligible orders.
func (c *Coordinator) RemoveOrderPayment(ctx context.Context, orderID string, side model.Side, paymentID string) (Outcome, error) {
	return c.changePayment(ctx, orderID, side, paymentID, func(model.PaymentRecord) *model.PaymentRecord {
		return nil
	})
}

func (c *Coordinator) changePayment(ctx context.Context, orderID string, side model.Side, paymentID string, change func(model.PaymentRecord) *model.PaymentRecord) (Outcome, error) {
	if !side.Valid() {
		return Outcome{}, fmt.Errorf("unknown side %q", side)
	}
	order, err := c.getOrder(ctx, orderID)
	if err != nil {
		return Outcome{}, err
	}

	var (
		payments []model.PaymentRecord
		found    *model.PaymentRecord
	)
	for _, p := range order.Payments(side) {
		if p.ID != paymentID {
			payments = append(payments, p)
			continue
		}
		p := p
		found = &p
		if next := change(p); next != nil {
			payments = append(payments, *next)
		}
	}
	if found == nil {
		return Outcome{}, fmt.Errorf("%w: %s on order %s", ErrPaymentNotFound, paymentID, orderID)
	}

	if err := c.orders.Put(ctx, order.WithPayments(side, payments)); err != nil {
		return Outcome{}, fmt.Errorf("writing order %s: %w", order.ID, err)
	}

	entryID, derived := found.Origin.LedgerEntryID()
	if !derived {
		return Outcome{}, nil
	}

	entry, err := c.Get(ctx, entryID)
	if err != nil {
		out := Outcome{}
		c.fail(&out, entryID, "redistribute", err)
		c.notify(ctx, out.Warnings)
		return out, nil
	}
	out := Outcome{Entry: entry}
	c.run(ctx, &out, "redistribute", func() (allocation.Result, error) {
		return c.engine.Redistribute(ctx, entryID, entry.Date)
	})
	c.notify(ctx, out.Warnings)
	return out, nil
}

func (c *Coordinator) getOrder(ctx context.Context, orderID string) (model.Order, error) {
	o, ok, err := c.orders.Get(ctx, orderID)
	if err != nil {
		return model.Order{}, fmt.Errorf("reading order %s: %w", orderID, err)
	}
	if !ok {
		return model.Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return o, nil
}
