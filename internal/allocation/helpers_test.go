package allocation

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/haulbook-dev/haulbook/internal/model"
	"github.com/haulbook-dev/haulbook/internal/paid"
)

func date(y, m, d int) time.Time {
	return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDec(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), append([]any{"want %s, got %s", want, got.String()}, msgAndArgs...)...)
}

func supplierOrder(id string, d time.Time, total string, payments ...model.PaymentRecord) model.Order {
	return model.Order{
		ID:              id,
		Date:            d,
		Supplier:        "Acme",
		PartyName:       "Bolt Co",
		OriginalTotal:   dec(total),
		Total:           dec(total),
		PartialPayments: payments,
		CreatedAt:       d,
	}
}

func tagged(id, entryID, amount string) model.PaymentRecord {
	return model.PaymentRecord{ID: id, Amount: dec(amount), Date: date(2024, 1, 2), Note: DefaultNote, Origin: model.LedgerDerived(entryID)}
}

func manual(id, amount string) model.PaymentRecord {
	return model.PaymentRecord{ID: id, Amount: dec(amount), Date: date(2024, 1, 2), Note: "cash", Origin: model.Manual()}
}

func debit(id, amount string, d time.Time) model.LedgerEntry {
	return model.LedgerEntry{ID: id, Type: model.EntryDebit, Amount: dec(amount), Date: d, Supplier: "Acme", CreatedAt: d}
}

func seqIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("PR-%d", n)
	}
}

func testPlanner() Planner {
	return Planner{
		Evaluator: paid.Default(),
		NewID:     seqIDs(),
		Now:       func() time.Time { return date(2024, 2, 1) },
	}
}

// taggedSum returns the amount of entryID's records on o's expense side.
func taggedSum(o model.Order, entryID string) decimal.Decimal {
	owned, _ := model.SplitByEntry(o.PartialPayments, entryID)
	return model.SumPayments(owned)
}
