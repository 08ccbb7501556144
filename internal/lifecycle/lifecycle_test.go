package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haulbook-dev/haulbook/internal/allocation"
	"github.com/haulbook-dev/haulbook/internal/counterparty"
	"github.com/haulbook-dev/haulbook/internal/ledger"
	"github.com/haulbook-dev/haulbook/internal/lock"
	"github.com/haulbook-dev/haulbook/internal/model"
	"github.com/haulbook-dev/haulbook/internal/paid"
	"github.com/haulbook-dev/haulbook/internal/store"
	"github.com/haulbook-dev/haulbook/internal/store/memory"
)

func date(y, m, d int) time.Time {
	return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type captureNotifier struct {
	warnings []allocation.Warning
}

func (c *captureNotifier) Notify(_ context.Context, w allocation.Warning) error {
	c.warnings = append(c.warnings, w)
	return nil
}

// brokenOrders fails every List once broken is set.
type brokenOrders struct {
	store.Store[model.Order]
	broken bool
}

func (b *brokenOrders) List(ctx context.Context, f store.Filter) ([]model.Order, error) {
	if b.broken {
		return nil, errors.New("orders unavailable")
	}
	return b.Store.List(ctx, f)
}

type harness struct {
	ledger   *memory.Store[model.LedgerEntry]
	orders   *brokenOrders
	payments *memory.Store[model.PartyPayment]
	notifier *captureNotifier
	coord    *Coordinator
}

func newHarness(t *testing.T, orders ...model.Order) *harness {
	t.Helper()
	logger, _ := test.NewNullLogger()
	h := &harness{
		ledger:   memory.New[model.LedgerEntry](),
		orders:   &brokenOrders{Store: memory.New[model.Order]()},
		payments: memory.New[model.PartyPayment](),
		notifier: &captureNotifier{},
	}
	for _, o := range orders {
		require.NoError(t, h.orders.Put(context.Background(), o))
	}

	n := 0
	engine := allocation.NewEngine(allocation.Options{
		Orders:    h.orders,
		Ledger:    h.ledger,
		Evaluator: paid.Default(),
		Logger:    logger,
		Locker:    lock.NewLocal(),
	})
	directory := counterparty.NewService([]model.Counterparty{
		{Name: "Acme", Kind: model.KindSupplier},
		{Name: "Zenith", Kind: model.KindSupplier},
		{Name: "Bolt Co", Kind: model.KindParty},
	})
	h.coord = NewCoordinator(Options{
		Ledger:     h.ledger,
		Orders:     h.orders,
		Engine:     engine,
		Projection: NewProjection(h.ledger, h.payments, logger),
		Validator:  ledger.NewValidator(directory),
		Notifier:   h.notifier,
		Logger:     logger,
		NewEntryID: func(time.Time) string {
			n++
			return fmt.Sprintf("le-%d", n)
		},
	})
	return h
}

func (h *harness) order(t *testing.T, id string) model.Order {
	t.Helper()
	o, ok, err := h.orders.Get(context.Background(), id)
	require.NoError(t, err)
	require.True(t, ok)
	return o
}

func tagSum(o model.Order, side model.Side, entryID string) decimal.Decimal {
	owned, _ := model.SplitByEntry(o.Payments(side), entryID)
	return model.SumPayments(owned)
}

func acme() []model.Order {
	return []model.Order{
		{ID: "A", Date: date(2024, 1, 1), Supplier: "Acme", PartyName: "Bolt Co", OriginalTotal: dec("1000"), Total: dec("1400")},
		{ID: "B", Date: date(2024, 1, 10), Supplier: "Acme", PartyName: "Bolt Co", OriginalTotal: dec("500"), Total: dec("700")},
	}
}

func acmeDebit() model.LedgerEntry {
	return model.LedgerEntry{Type: model.EntryDebit, Amount: dec("1200"), Date: date(2024, 1, 15), Supplier: "Acme"}
}

func TestCreate_DistributesAcrossOrders(t *testing.T) {
	h := newHarness(t, acme()...)

	out, err := h.coord.Create(context.Background(), acmeDebit())
	require.NoError(t, err)

	assert.Equal(t, "le-1", out.Entry.ID)
	assert.False(t, out.Entry.CreatedAt.IsZero())
	assert.Empty(t, out.Warnings)

	a, b := h.order(t, "A"), h.order(t, "B")
	assert.True(t, tagSum(a, model.SideExpense, "le-1").Equal(dec("1000")))
	assert.True(t, tagSum(b, model.SideExpense, "le-1").Equal(dec("200")))
	assert.True(t, paid.Default().IsExpensePaid(a))
	assert.False(t, paid.Default().IsExpensePaid(b))

	stored, err := h.coord.Get(context.Background(), "le-1")
	require.NoError(t, err)
	assert.True(t, stored.Amount.Equal(dec("1200")))
}

func TestCreate_InvalidEntryIsRejected(t *testing.T) {
	h := newHarness(t, acme()...)
	e := acmeDebit()
	e.Supplier = "Unknown Quarry"

	_, err := h.coord.Create(context.Background(), e)

	var verrs ledger.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	all, err := h.ledger.List(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCreate_PartialDistributionNotifies(t *testing.T) {
	h := newHarness(t, acme()...)
	e := acmeDebit()
	e.Amount = dec("2000")

	out, err := h.coord.Create(context.Background(), e)
	require.NoError(t, err)

	require.Len(t, out.Warnings, 1)
	assert.Equal(t, allocation.PartialDistribution, out.Warnings[0].Kind)
	assert.Equal(t, out.Warnings, h.notifier.warnings)
}

func TestUpdate_EditDownRederives(t *testing.T) {
	h := newHarness(t, acme()...)
	ctx := context.Background()
	out, err := h.coord.Create(ctx, acmeDebit())
	require.NoError(t, err)

	e := out.Entry
	e.Amount = dec("1000")
	out, err = h.coord.Update(ctx, e)
	require.NoError(t, err)

	assert.Empty(t, out.Warnings)
	assert.True(t, tagSum(h.order(t, "A"), model.SideExpense, e.ID).Equal(dec("1000")))
	assert.Empty(t, h.order(t, "B").PartialPayments)
}

func TestUpdate_AmountIncreasePreserves(t *testing.T) {
	h := newHarness(t, acme()...)
	ctx := context.Background()
	e := acmeDebit()
	e.Amount = dec("600")
	out, err := h.coord.Create(ctx, e)
	require.NoError(t, err)
	recID := h.order(t, "A").PartialPayments[0].ID

	e = out.Entry
	e.Amount = dec("1100")
	_, err = h.coord.Update(ctx, e)
	require.NoError(t, err)

	a := h.order(t, "A")
	assert.Equal(t, recID, a.PartialPayments[0].ID)
	assert.True(t, tagSum(a, model.SideExpense, e.ID).Equal(dec("600")))
	assert.True(t, tagSum(h.order(t, "B"), model.SideExpense, e.ID).Equal(dec("500")))
}

func TestUpdate_CounterpartyChange(t *testing.T) {
	orders := append(acme(), model.Order{ID: "Z", Date: date(2024, 1, 3), Supplier: "Zenith", OriginalTotal: dec("800")})
	h := newHarness(t, orders...)
	ctx := context.Background()
	out, err := h.coord.Create(ctx, acmeDebit())
	require.NoError(t, err)

	e := out.Entry
	e.Supplier = "Zenith"
	out, err = h.coord.Update(ctx, e)
	require.NoError(t, err)

	assert.Empty(t, h.order(t, "A").PartialPayments)
	assert.Empty(t, h.order(t, "B").PartialPayments)
	assert.True(t, tagSum(h.order(t, "Z"), model.SideExpense, e.ID).Equal(dec("800")))
	assert.Len(t, out.Results, 2)
}

func TestUpdate_CounterpartyRemovedAndRestored(t *testing.T) {
	h := newHarness(t, acme()...)
	ctx := context.Background()
	out, err := h.coord.Create(ctx, acmeDebit())
	require.NoError(t, err)

	e := out.Entry
	e.Supplier = ""
	_, err = h.coord.Update(ctx, e)
	require.NoError(t, err)
	assert.Empty(t, h.order(t, "A").PartialPayments)

	e.Supplier = "Acme"
	_, err = h.coord.Update(ctx, e)
	require.NoError(t, err)
	assert.True(t, tagSum(h.order(t, "A"), model.SideExpense, e.ID).Equal(dec("1000")))
}

func TestVoidAndUnvoid(t *testing.T) {
	h := newHarness(t, acme()...)
	ctx := context.Background()
	out, err := h.coord.Create(ctx, acmeDebit())
	require.NoError(t, err)

	_, err = h.coord.Void(ctx, out.Entry.ID)
	require.NoError(t, err)
	assert.Empty(t, h.order(t, "A").PartialPayments)
	assert.Empty(t, h.order(t, "B").PartialPayments)

	again, err := h.coord.Void(ctx, out.Entry.ID)
	require.NoError(t, err)
	assert.Empty(t, again.Results)

	e, err := h.coord.Get(ctx, out.Entry.ID)
	require.NoError(t, err)
	e.Voided = false
	_, err = h.coord.Update(ctx, e)
	require.NoError(t, err)
	assert.True(t, tagSum(h.order(t, "B"), model.SideExpense, e.ID).Equal(dec("200")))
}

func TestDelete_RestoresOrders(t *testing.T) {
	h := newHarness(t, acme()...)
	ctx := context.Background()
	out, err := h.coord.Create(ctx, acmeDebit())
	require.NoError(t, err)

	_, err = h.coord.Delete(ctx, out.Entry.ID)
	require.NoError(t, err)

	for _, id := range []string{"A", "B"} {
		o := h.order(t, id)
		assert.Empty(t, o.PartialPayments)
		assert.False(t, paid.Default().IsExpensePaid(o))
	}
	_, err = h.coord.Get(ctx, out.Entry.ID)
	assert.ErrorIs(t, err, ErrEntryNotFound)

	_, err = h.coord.Delete(ctx, out.Entry.ID)
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestCreate_AllocationFailureIsAWarning(t *testing.T) {
	h := newHarness(t, acme()...)
	h.orders.broken = true

	out, err := h.coord.Create(context.Background(), acmeDebit())
	require.NoError(t, err)

	require.Len(t, out.Warnings, 1)
	assert.Equal(t, allocation.AllocationFailed, out.Warnings[0].Kind)
	_, err = h.coord.Get(context.Background(), out.Entry.ID)
	assert.NoError(t, err, "entry is stored regardless")
}

func TestProjection_FollowsPartyCredits(t *testing.T) {
	h := newHarness(t, acme()...)
	ctx := context.Background()

	out, err := h.coord.Create(ctx, model.LedgerEntry{Type: model.EntryCredit, Amount: dec("1500"), Date: date(2024, 2, 1), PartyName: "Bolt Co"})
	require.NoError(t, err)

	pp, ok, err := h.payments.Get(ctx, out.Entry.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Bolt Co", pp.PartyName)
	assert.Equal(t, out.Entry.ID, pp.LedgerEntryID)
	assert.True(t, tagSum(h.order(t, "A"), model.SideRevenue, out.Entry.ID).Equal(dec("1400")))

	_, err = h.coord.Void(ctx, out.Entry.ID)
	require.NoError(t, err)
	_, ok, err = h.payments.Get(ctx, out.Entry.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	debitOut, err := h.coord.Create(ctx, acmeDebit())
	require.NoError(t, err)
	_, ok, err = h.payments.Get(ctx, debitOut.Entry.ID)
	require.NoError(t, err)
	assert.False(t, ok, "debits are not projected")
}
