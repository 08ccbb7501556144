package allocation

import (
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/haulbook-dev/haulbook/internal/model"
	"github.com/haulbook-dev/haulbook/internal/paid"
)

// Planner computes allocation plans. It performs no I/O.
type Planner struct {
	Evaluator paid.Evaluator
	Note      string
	NewID     func() string
	Now       func() time.Time
}

// DistributeParams identifies a ledger entry and the orders it settles.
type DistributeParams struct {
	LedgerEntryID    string
	Amount           decimal.Decimal
	CounterpartyKind model.CounterpartyKind
	Counterparty     string
	AsOf             time.Time
	Side             model.Side
}

// ParamsFor builds DistributeParams from a ledger entry.
func ParamsFor(e model.LedgerEntry) DistributeParams {
	kind, name := e.Counterparty()
	return DistributeParams{
		LedgerEntryID:    e.ID,
		Amount:           e.Amount,
		CounterpartyKind: kind,
		Counterparty:     name,
		AsOf:             e.Date,
		Side:             e.Side(),
	}
}

// candidate is an order viewed without the payments of the entry being
// allocated. Candidates are kept oldest first.
type candidate struct {
	order     model.Order
	owned     []model.PaymentRecord
	others    []model.PaymentRecord
	remaining decimal.Decimal
	eligible  bool
}

func (p Planner) candidates(orders []model.Order, side model.Side, ledgerEntryID string) []candidate {
	out := make([]candidate, 0, len(orders))
	for _, o := range orders {
		total := o.TotalFor(side)
		owned, others := model.SplitByEntry(o.Payments(side), ledgerEntryID)
		remaining := paid.Outstanding(total, others)
		out = append(out, candidate{
			order:     o,
			owned:     owned,
			others:    others,
			remaining: remaining,
			eligible:  remaining.IsPositive() && !p.Evaluator.IsSettled(total, others),
		})
	}
	slices.SortStableFunc(out, oldestFirst)
	return out
}

// oldestFirst orders by order date, then creation time, then ID.
func oldestFirst(a, b candidate) int {
	if c := a.order.Date.Compare(b.order.Date); c != 0 {
		return c
	}
	if c := a.order.CreatedAt.Compare(b.order.CreatedAt); c != 0 {
		return c
	}
	switch {
	case a.order.ID < b.order.ID:
		return -1
	case a.order.ID > b.order.ID:
		return 1
	}
	return 0
}

// Distribute plans a full allocation of the entry's amount, oldest order
// first. Any earlier records of the same entry are replaced, or removed
// from orders that receive nothing this time.
func (p Planner) Distribute(orders []model.Order, params DistributeParams) Plan {
	plan := Plan{
		Op:               OpDistribute,
		LedgerEntryID:    params.LedgerEntryID,
		Side:             params.Side,
		CounterpartyKind: params.CounterpartyKind,
		Counterparty:     params.Counterparty,
		Amount:           params.Amount,
		Placed:           decimal.Zero,
	}

	if len(orders) == 0 {
		plan.Warnings = append(plan.Warnings, p.warn(plan, NoEligibleOrders,
			fmt.Sprintf("no orders found for %s %q", params.CounterpartyKind, params.Counterparty)))
		return plan
	}

	cands := p.candidates(orders, params.Side, params.LedgerEntryID)
	var eligible []*candidate
	for i := range cands {
		if cands[i].eligible {
			eligible = append(eligible, &cands[i])
		}
	}

	allocated := make(map[string]decimal.Decimal)
	left := params.Amount
	for _, c := range eligible {
		if !left.IsPositive() {
			break
		}
		amt := decimal.Min(left, c.remaining)
		allocated[c.order.ID] = amt
		left = left.Sub(amt)
		plan.Placed = plan.Placed.Add(amt)
		plan.Allocations = append(plan.Allocations, Allocation{OrderID: c.order.ID, OrderDate: c.order.Date, Amount: amt})
	}

	for _, c := range cands {
		var rec *model.PaymentRecord
		if amt, ok := allocated[c.order.ID]; ok {
			r := p.record(params.LedgerEntryID, amt, params.AsOf, c.owned)
			rec = &r
		}
		p.addWrite(&plan, c.order, params.Side, replaceOwned(c.order.Payments(params.Side), params.LedgerEntryID, rec))
	}

	if left.IsPositive() {
		plan.Warnings = append(plan.Warnings, p.warn(plan, PartialDistribution,
			fmt.Sprintf("placed %s of %s; %s has no further outstanding orders",
				plan.Placed.StringFixed(2), plan.Amount.StringFixed(2), params.Counterparty)))
	}
	return plan
}

// Redistribute plans a preserve-first reallocation of an entry whose
// amount or date changed. Existing records of the entry stay on orders
// that still have unmet demand (clamped to that demand). The uncovered
// remainder goes to eligible orders without such a record, oldest first.
// Preserved records never grow; money left over is reported as
// PartialDistribution. If the preserved total already exceeds the amount,
// the plan is empty and carries UnderfundedRedistribution.
func (p Planner) Redistribute(orders []model.Order, entry model.LedgerEntry, asOf time.Time) Plan {
	params := ParamsFor(entry)
	plan := Plan{
		Op:               OpRedistribute,
		LedgerEntryID:    entry.ID,
		Side:             params.Side,
		CounterpartyKind: params.CounterpartyKind,
		Counterparty:     params.Counterparty,
		Amount:           entry.Amount,
		Placed:           decimal.Zero,
	}

	if len(orders) == 0 {
		plan.Warnings = append(plan.Warnings, p.warn(plan, NoEligibleOrders,
			fmt.Sprintf("no orders found for %s %q", params.CounterpartyKind, params.Counterparty)))
		return plan
	}

	cands := p.candidates(orders, params.Side, entry.ID)
	preserved := make(map[string]decimal.Decimal)
	total := decimal.Zero
	for _, c := range cands {
		if len(c.owned) == 0 || !c.eligible {
			continue
		}
		amt := decimal.Min(model.SumPayments(c.owned), c.remaining)
		if !amt.IsPositive() {
			continue
		}
		preserved[c.order.ID] = amt
		total = total.Add(amt)
	}

	if total.GreaterThan(entry.Amount) {
		plan.Placed = total
		plan.Warnings = append(plan.Warnings, p.warn(plan, UnderfundedRedistribution,
			fmt.Sprintf("existing allocations total %s but the entry is now %s; reduce an order's payment first",
				total.StringFixed(2), entry.Amount.StringFixed(2))))
		return plan
	}

	added := make(map[string]decimal.Decimal)
	left := entry.Amount.Sub(total)
	for _, c := range cands {
		if !left.IsPositive() {
			break
		}
		if _, ok := preserved[c.order.ID]; ok || !c.eligible {
			continue
		}
		amt := decimal.Min(left, c.remaining)
		added[c.order.ID] = amt
		left = left.Sub(amt)
	}

	for _, c := range cands {
		var rec *model.PaymentRecord
		if amt, ok := preserved[c.order.ID]; ok {
			r := c.owned[0]
			r.Amount = amt
			rec = &r
		} else if amt, ok := added[c.order.ID]; ok {
			r := p.record(entry.ID, amt, asOf, nil)
			rec = &r
		}
		if rec != nil {
			plan.Placed = plan.Placed.Add(rec.Amount)
			plan.Allocations = append(plan.Allocations, Allocation{OrderID: c.order.ID, OrderDate: c.order.Date, Amount: rec.Amount})
		}
		p.addWrite(&plan, c.order, params.Side, replaceOwned(c.order.Payments(params.Side), entry.ID, rec))
	}

	if left.IsPositive() {
		plan.Warnings = append(plan.Warnings, p.warn(plan, PartialDistribution,
			fmt.Sprintf("placed %s of %s; %s has no other outstanding orders and existing allocations are kept as they are",
				plan.Placed.StringFixed(2), plan.Amount.StringFixed(2), params.Counterparty)))
	}
	return plan
}

// Revert plans the removal of every record owned by the entry.
func (p Planner) Revert(orders []model.Order, ledgerEntryID string, side model.Side) Plan {
	plan := Plan{Op: OpRevert, LedgerEntryID: ledgerEntryID, Side: side, Placed: decimal.Zero}
	for _, c := range p.candidates(orders, side, ledgerEntryID) {
		p.addWrite(&plan, c.order, side, c.others)
	}
	return plan
}

func (p Planner) addWrite(plan *Plan, o model.Order, side model.Side, after []model.PaymentRecord) {
	before := o.Payments(side)
	if samePayments(before, after) {
		return
	}
	plan.Writes = append(plan.Writes, OrderWrite{
		OrderID: o.ID,
		Order:   o.WithPayments(side, after),
		Before:  before,
		After:   after,
	})
}

// record builds the entry's record for one order, reusing the identity of
// a record it replaces.
func (p Planner) record(ledgerEntryID string, amount decimal.Decimal, asOf time.Time, replaced []model.PaymentRecord) model.PaymentRecord {
	note := p.Note
	if note == "" {
		note = DefaultNote
	}
	r := model.PaymentRecord{
		Amount: amount,
		Date:   asOf,
		Note:   note,
		Origin: model.LedgerDerived(ledgerEntryID),
	}
	if len(replaced) > 0 {
		r.ID = replaced[0].ID
		r.CreatedAt = replaced[0].CreatedAt
		return r
	}
	r.ID = p.NewID()
	r.CreatedAt = p.Now()
	return r
}

func (p Planner) warn(plan Plan, kind WarningKind, msg string) Warning {
	return Warning{
		Kind:             kind,
		LedgerEntryID:    plan.LedgerEntryID,
		CounterpartyKind: plan.CounterpartyKind,
		Counterparty:     plan.Counterparty,
		Amount:           plan.Amount,
		Placed:           plan.Placed,
		Message:          msg,
	}
}

// replaceOwned swaps the entry's records for rec, keeping rec at the
// position of the first replaced record. A nil rec removes them.
func replaceOwned(payments []model.PaymentRecord, ledgerEntryID string, rec *model.PaymentRecord) []model.PaymentRecord {
	var out []model.PaymentRecord
	placed := false
	for _, pr := range payments {
		if !pr.Origin.DerivedFrom(ledgerEntryID) {
			out = append(out, pr)
			continue
		}
		if rec != nil && !placed {
			out = append(out, *rec)
			placed = true
		}
	}
	if rec != nil && !placed {
		out = append(out, *rec)
	}
	return out
}

func samePayments(a, b []model.PaymentRecord) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		x, y := a[i], b[i]
		if x.ID != y.ID || x.Note != y.Note || x.Origin != y.Origin ||
			!x.Amount.Equal(y.Amount) || !x.Date.Equal(y.Date) || !x.CreatedAt.Equal(y.CreatedAt) {
			return false
		}
	}
	return true
}
