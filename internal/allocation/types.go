package allocation

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/haulbook-dev/haulbook/internal/model"
)

// Op names an engine operation.
type Op string

const (
	OpDistribute   Op = "distribute"
	OpRedistribute Op = "redistribute"
	OpRevert       Op = "revert"
	OpReconcile    Op = "reconcile"
)

// DefaultNote is written on payment records created from a ledger entry.
const DefaultNote = "From ledger entry"

// WarningKind classifies non-fatal allocation conditions.
type WarningKind string

const (
	// PartialDistribution: the entry's amount exceeded what the
	// counterparty's outstanding orders could absorb.
	PartialDistribution WarningKind = "partial_distribution"
	// NoEligibleOrders: the counterparty has no orders at all.
	NoEligibleOrders WarningKind = "no_eligible_orders"
	// UnderfundedRedistribution: the entry's amount is below the
	// allocations that would be preserved. Nothing was changed.
	UnderfundedRedistribution WarningKind = "underfunded_redistribution"
	// OrderWriteFailure: one order could not be written.
	OrderWriteFailure WarningKind = "order_write_failure"
	// AllocationFailed: an engine call returned an error, typically a
	// failed read. The ledger mutation that triggered it still succeeded.
	AllocationFailed WarningKind = "allocation_failed"
	// OrphanPayment: a tagged payment referenced an invalid ledger entry
	// and was removed by reconciliation.
	OrphanPayment WarningKind = "orphan_payment"
)

// Warning describes a condition the caller should surface but which does
// not fail the ledger mutation.
type Warning struct {
	Kind             WarningKind
	LedgerEntryID    string
	CounterpartyKind model.CounterpartyKind
	Counterparty     string
	OrderID          string
	Amount           decimal.Decimal
	Placed           decimal.Decimal
	Message          string
}

func (w Warning) String() string {
	return fmt.Sprintf("%s [%s]: %s", w.Kind, w.LedgerEntryID, w.Message)
}

// Allocation is the amount of a ledger entry sitting on one order once a
// plan is applied.
type Allocation struct {
	OrderID   string
	OrderDate time.Time
	Amount    decimal.Decimal
}

// OrderWrite is one planned order update. Order is the full document to
// persist; Before and After are the affected side's payment lists.
type OrderWrite struct {
	OrderID string
	Order   model.Order
	Before  []model.PaymentRecord
	After   []model.PaymentRecord
}

// Plan is the complete set of order writes for one operation, computed
// before anything is written.
type Plan struct {
	Op               Op
	LedgerEntryID    string
	Side             model.Side
	CounterpartyKind model.CounterpartyKind
	Counterparty     string
	Amount           decimal.Decimal
	Placed           decimal.Decimal
	Allocations      []Allocation
	Writes           []OrderWrite
	Warnings         []Warning
}

// Unplaced returns the part of Amount not allocated to any order.
func (p Plan) Unplaced() decimal.Decimal {
	rest := p.Amount.Sub(p.Placed)
	if rest.IsNegative() {
		return decimal.Zero
	}
	return rest
}

// AllocationFor returns the planned allocation on orderID, or zero.
func (p Plan) AllocationFor(orderID string) decimal.Decimal {
	for _, a := range p.Allocations {
		if a.OrderID == orderID {
			return a.Amount
		}
	}
	return decimal.Zero
}

// HasWarning reports whether the plan carries a warning of the given kind.
func (p Plan) HasWarning(kind WarningKind) bool {
	for _, w := range p.Warnings {
		if w.Kind == kind {
			return true
		}
	}
	return false
}

// WriteFailure records an order that could not be written.
type WriteFailure struct {
	OrderID string
	Err     error
}

// Result is the outcome of applying a Plan.
type Result struct {
	Plan     Plan
	Applied  []string
	Failed   []WriteFailure
	Warnings []Warning
}

// Placed returns the amount the plan allocated.
func (r Result) Placed() decimal.Decimal {
	return r.Plan.Placed
}

// Unplaced returns the amount the plan could not allocate.
func (r Result) Unplaced() decimal.Decimal {
	return r.Plan.Unplaced()
}

// Complete reports whether every planned write succeeded.
func (r Result) Complete() bool {
	return len(r.Failed) == 0
}

// HasWarning reports whether a warning of the given kind was raised.
func (r Result) HasWarning(kind WarningKind) bool {
	for _, w := range r.Warnings {
		if w.Kind == kind {
			return true
		}
	}
	return false
}
