// Package paid decides whether one side of an order is settled.
package paid

import (
	"github.com/shopspring/decimal"

	"github.com/haulbook-dev/haulbook/internal/model"
)

// DefaultTolerance is the largest unpaid gap, in currency units, at which
// an order still counts as paid.
var DefaultTolerance = decimal.NewFromInt(100)

// Evaluator applies a fixed tolerance to paid checks.
type Evaluator struct {
	Tolerance decimal.Decimal
}

// NewEvaluator returns an Evaluator. A negative tolerance is treated as zero.
func NewEvaluator(tolerance decimal.Decimal) Evaluator {
	if tolerance.IsNegative() {
		tolerance = decimal.Zero
	}
	return Evaluator{Tolerance: tolerance}
}

// Default returns an Evaluator using DefaultTolerance.
func Default() Evaluator {
	return NewEvaluator(DefaultTolerance)
}

// IsSettled reports whether total - sum(payments) <= tolerance. Nothing
// is settled against a non-positive total.
func (e Evaluator) IsSettled(total decimal.Decimal, payments []model.PaymentRecord) bool {
	if !total.IsPositive() {
		return false
	}
	return total.Sub(model.SumPayments(payments)).LessThanOrEqual(e.Tolerance)
}

// IsExpensePaid reports whether the supplier side of the order is paid.
func (e Evaluator) IsExpensePaid(o model.Order) bool {
	return e.IsSettled(o.OriginalTotal, o.PartialPayments)
}

// IsRevenuePaid reports whether the party side of the order is paid.
func (e Evaluator) IsRevenuePaid(o model.Order) bool {
	return e.IsSettled(o.Total, o.CustomerPayments)
}

// IsPaid dispatches on side.
func (e Evaluator) IsPaid(o model.Order, side model.Side) bool {
	if side == model.SideRevenue {
		return e.IsRevenuePaid(o)
	}
	return e.IsExpensePaid(o)
}

// Outstanding returns max(0, total - sum(payments)).
func Outstanding(total decimal.Decimal, payments []model.PaymentRecord) decimal.Decimal {
	rem := total.Sub(model.SumPayments(payments))
	if rem.IsNegative() {
		return decimal.Zero
	}
	return rem
}
