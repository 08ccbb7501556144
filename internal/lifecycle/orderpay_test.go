package lifecycle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haulbook-dev/haulbook/internal/allocation"
	"github.com/haulbook-dev/haulbook/internal/model"
)

func TestRecordOrderPayment_PinsThenSpreadsExcess(t *testing.T) {
	h := newHarness(t, acme()...)
	ctx := context.Background()

	out, err := h.coord.RecordOrderPayment(ctx, OrderPaymentParams{
		OrderID: "B",
		Side:    model.SideExpense,
		Amount:  dec("700"),
		Date:    date(2024, 1, 20),
	})
	require.NoError(t, err)

	e := out.Entry
	assert.Equal(t, model.EntryDebit, e.Type)
	assert.Equal(t, "Acme", e.Supplier)
	assert.Equal(t, "Payment for order B", e.Note)
	assert.True(t, tagSum(h.order(t, "B"), model.SideExpense, e.ID).Equal(dec("500")))
	assert.True(t, tagSum(h.order(t, "A"), model.SideExpense, e.ID).Equal(dec("200")))
}

func TestRecordOrderPayment_RevenueSide(t *testing.T) {
	h := newHarness(t, acme()...)
	ctx := context.Background()

	out, err := h.coord.RecordOrderPayment(ctx, OrderPaymentParams{
		OrderID: "B",
		Side:    model.SideRevenue,
		Amount:  dec("300"),
		Date:    date(2024, 1, 20),
	})
	require.NoError(t, err)

	assert.Equal(t, model.EntryCredit, out.Entry.Type)
	assert.Equal(t, "Bolt Co", out.Entry.PartyName)
	assert.True(t, tagSum(h.order(t, "B"), model.SideRevenue, out.Entry.ID).Equal(dec("300")))
	assert.Empty(t, h.order(t, "A").CustomerPayments)

	_, ok, err := h.payments.Get(ctx, out.Entry.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRecordOrderPayment_UnknownOrder(t *testing.T) {
	h := newHarness(t)
	_, err := h.coord.RecordOrderPayment(context.Background(), OrderPaymentParams{
		OrderID: "nope", Side: model.SideExpense, Amount: dec("1"), Date: date(2024, 1, 1),
	})
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestManualPaymentEditAndRemove(t *testing.T) {
	h := newHarness(t, acme()...)
	ctx := context.Background()

	rec, err := h.coord.AddManualPayment(ctx, OrderPaymentParams{
		OrderID: "A", Side: model.SideExpense, Amount: dec("100"), Date: date(2024, 1, 2), Note: "cash",
	})
	require.NoError(t, err)
	assert.True(t, rec.Origin.IsManual())

	out, err := h.coord.EditOrderPayment(ctx, "A", model.SideExpense, rec.ID, dec("150"))
	require.NoError(t, err)
	assert.Empty(t, out.Results, "manual edits do not involve the engine")
	require.Len(t, h.order(t, "A").PartialPayments, 1)
	assert.True(t, h.order(t, "A").PartialPayments[0].Amount.Equal(dec("150")))

	_, err = h.coord.RemoveOrderPayment(ctx, "A", model.SideExpense, rec.ID)
	require.NoError(t, err)
	assert.Empty(t, h.order(t, "A").PartialPayments)

	_, err = h.coord.RemoveOrderPayment(ctx, "A", model.SideExpense, rec.ID)
	assert.ErrorIs(t, err, ErrPaymentNotFound)
}

func TestEditTaggedPayment_Underfunded(t *testing.T) {
	h := newHarness(t, acme()...)
	ctx := context.Background()
	out, err := h.coord.Create(ctx, acmeDebit())
	require.NoError(t, err)
	b := h.order(t, "B")
	require.Len(t, b.PartialPayments, 1)

	res, err := h.coord.EditOrderPayment(ctx, "B", model.SideExpense, b.PartialPayments[0].ID, dec("400"))
	require.NoError(t, err)

	require.Len(t, res.Warnings, 1)
	assert.Equal(t, allocation.UnderfundedRedistribution, res.Warnings[0].Kind)
	assert.True(t, tagSum(h.order(t, "B"), model.SideExpense, out.Entry.ID).Equal(dec("400")), "left for manual resolution")
}

func TestEditTaggedPayment_DownwardEditSticks(t *testing.T) {
	tests := []struct {
		name         string
		order        string
		amount       string
		wantA, wantB string
	}{
		{name: "older order", order: "A", amount: "800", wantA: "800", wantB: "200"},
		{name: "newer order", order: "B", amount: "100", wantA: "1000", wantB: "100"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, acme()...)
			ctx := context.Background()
			out, err := h.coord.Create(ctx, acmeDebit())
			require.NoError(t, err)
			o := h.order(t, tt.order)
			require.Len(t, o.PartialPayments, 1)

			res, err := h.coord.EditOrderPayment(ctx, tt.order, model.SideExpense, o.PartialPayments[0].ID, dec(tt.amount))
			require.NoError(t, err)

			require.Len(t, res.Warnings, 1)
			assert.Equal(t, allocation.PartialDistribution, res.Warnings[0].Kind)
			assert.True(t, tagSum(h.order(t, "A"), model.SideExpense, out.Entry.ID).Equal(dec(tt.wantA)))
			assert.True(t, tagSum(h.order(t, "B"), model.SideExpense, out.Entry.ID).Equal(dec(tt.wantB)))
		})
	}
}

func TestRemoveTaggedPayment_Redistributes(t *testing.T) {
	orders := acme()
	orders[1].OriginalTotal = dec("1000")
	h := newHarness(t, orders...)
	ctx := context.Background()
	e := acmeDebit()
	e.Amount = dec("1000")
	out, err := h.coord.Create(ctx, e)
	require.NoError(t, err)
	a := h.order(t, "A")
	require.Len(t, a.PartialPayments, 1)

	res, err := h.coord.RemoveOrderPayment(ctx, "A", model.SideExpense, a.PartialPayments[0].ID)
	require.NoError(t, err)

	require.Len(t, res.Results, 1)
	total := tagSum(h.order(t, "A"), model.SideExpense, out.Entry.ID).
		Add(tagSum(h.order(t, "B"), model.SideExpense, out.Entry.ID))
	assert.True(t, total.Equal(dec("1000")), "entry amount is conserved")
}
