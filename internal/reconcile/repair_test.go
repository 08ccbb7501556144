package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haulbook-dev/haulbook/internal/allocation"
	"github.com/haulbook-dev/haulbook/internal/allocationlog"
	"github.com/haulbook-dev/haulbook/internal/model"
	"github.com/haulbook-dev/haulbook/internal/paid"
	"github.com/haulbook-dev/haulbook/internal/store"
	"github.com/haulbook-dev/haulbook/internal/store/memory"
)

// failingOrders fails Put for the listed order IDs.
type failingOrders struct {
	store.Store[model.Order]
	failOn map[string]bool
}

func (f *failingOrders) Put(ctx context.Context, o model.Order) error {
	if f.failOn[o.ID] {
		return errors.New("connection reset")
	}
	return f.Store.Put(ctx, o)
}

type repairEnv struct {
	root    string
	orders  *failingOrders
	ledger  *memory.Store[model.LedgerEntry]
	engine  *allocation.Engine
	service *Service
}

func newRepairEnv(t *testing.T) *repairEnv {
	t.Helper()
	ctx := context.Background()
	logger, _ := test.NewNullLogger()
	e := &repairEnv{
		root:   t.TempDir(),
		orders: &failingOrders{Store: memory.New[model.Order](), failOn: map[string]bool{}},
		ledger: memory.New[model.LedgerEntry](),
	}
	for _, o := range []model.Order{
		{ID: "A", Date: date(2024, 1, 1), Supplier: "Acme", OriginalTotal: dec("1000")},
		{ID: "B", Date: date(2024, 1, 10), Supplier: "Acme", OriginalTotal: dec("500")},
	} {
		require.NoError(t, e.orders.Store.Put(ctx, o))
	}
	e.engine = allocation.NewEngine(allocation.Options{
		Orders:    e.orders,
		Ledger:    e.ledger,
		Evaluator: paid.Default(),
		Logger:    logger,
		Recorder:  allocationlog.NewRecorder(e.root),
	})
	e.service = NewService(e.orders, e.ledger, e.engine, logger)
	return e
}

// distributeWithFailure distributes a 1200 Acme debit while writes to B fail.
func (e *repairEnv) distributeWithFailure(t *testing.T) model.LedgerEntry {
	t.Helper()
	entry := model.LedgerEntry{ID: "E1", Type: model.EntryDebit, Amount: dec("1200"), Date: date(2024, 1, 15), Supplier: "Acme"}
	require.NoError(t, e.ledger.Put(context.Background(), entry))

	e.orders.failOn["B"] = true
	res, err := e.engine.Distribute(context.Background(), allocation.ParamsFor(entry))
	require.NoError(t, err)
	require.False(t, res.Complete())
	e.orders.failOn["B"] = false
	return entry
}

func (e *repairEnv) unresolved(t *testing.T) []allocationlog.Entry {
	t.Helper()
	rows, err := allocationlog.Read(e.root)
	require.NoError(t, err)
	return allocationlog.Unresolved(rows)
}

func (e *repairEnv) tagged(t *testing.T, orderID string) string {
	t.Helper()
	o, ok, err := e.orders.Get(context.Background(), orderID)
	require.NoError(t, err)
	require.True(t, ok)
	owned, _ := model.SplitByEntry(o.PartialPayments, "E1")
	return model.SumPayments(owned).StringFixed(2)
}

func TestRepair_FinishesFailedWrites(t *testing.T) {
	e := newRepairEnv(t)
	ctx := context.Background()
	e.distributeWithFailure(t)

	unresolved := e.unresolved(t)
	require.Len(t, unresolved, 1)
	assert.Equal(t, "B", unresolved[0].OrderID)

	for i := 0; i < 2; i++ {
		r, err := e.service.ReconcileCounterparty(ctx, model.KindSupplier, "Acme", model.SideExpense)
		require.NoError(t, err)
		require.Len(t, r.Drift, 1, "reconciliation alone does not add records")
		assert.Equal(t, "1000.00", r.Drift[0].Tagged.StringFixed(2))
	}

	repairs, err := e.service.Repair(ctx, unresolved)
	require.NoError(t, err)
	require.Len(t, repairs, 1)
	assert.True(t, repairs[0].Resolved())
	assert.Equal(t, []string{"B"}, repairs[0].Result.Applied)

	assert.Equal(t, "1000.00", e.tagged(t, "A"))
	assert.Equal(t, "200.00", e.tagged(t, "B"))
	assert.Empty(t, e.unresolved(t))

	r, err := e.service.ReconcileCounterparty(ctx, model.KindSupplier, "Acme", model.SideExpense)
	require.NoError(t, err)
	assert.True(t, r.Clean())
}

func TestRepair_Outcomes(t *testing.T) {
	tests := []struct {
		name         string
		prepare      func(t *testing.T, e *repairEnv)
		wantResolved bool
		wantMissing  bool
	}{
		{
			name:         "store recovered",
			prepare:      func(*testing.T, *repairEnv) {},
			wantResolved: true,
		},
		{
			name: "store still failing",
			prepare: func(_ *testing.T, e *repairEnv) {
				e.orders.failOn["B"] = true
			},
		},
		{
			name: "entry deleted since",
			prepare: func(t *testing.T, e *repairEnv) {
				require.NoError(t, e.ledger.Delete(context.Background(), "E1"))
			},
			wantResolved: true,
			wantMissing:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newRepairEnv(t)
			e.distributeWithFailure(t)
			unresolved := e.unresolved(t)
			tt.prepare(t, e)

			// Duplicate rows for one entry are repaired once.
			repairs, err := e.service.Repair(context.Background(), append(unresolved, unresolved...))
			require.NoError(t, err)
			require.Len(t, repairs, 1)
			assert.Equal(t, tt.wantResolved, repairs[0].Resolved())
			assert.Equal(t, tt.wantMissing, repairs[0].Missing)

			rows := ResolvedRows(unresolved, repairs)
			if tt.wantResolved {
				assert.Len(t, rows, 1)
			} else {
				assert.Empty(t, rows)
			}

			require.NoError(t, allocationlog.MarkRepaired(e.root, rows, time.Now()))
			assert.Equal(t, !tt.wantResolved, len(e.unresolved(t)) > 0)
		})
	}
}

func TestRepair_CancelledContext(t *testing.T) {
	e := newRepairEnv(t)
	e.distributeWithFailure(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	repairs, err := e.service.Repair(ctx, e.unresolved(t))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, repairs)
}
