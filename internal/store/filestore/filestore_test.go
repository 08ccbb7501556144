package filestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haulbook-dev/haulbook/internal/model"
	"github.com/haulbook-dev/haulbook/internal/store"
)

func TestPutCreatesFile(t *testing.T) {
	dir := t.TempDir()
	s, err := New[model.Order](dir, "orders")
	require.NoError(t, err)

	o := model.Order{
		ID:            "OR-20240101-a",
		Date:          time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Supplier:      "Acme",
		OriginalTotal: decimal.NewFromInt(1000),
		PartialPayments: []model.PaymentRecord{
			{ID: "p1", Amount: decimal.NewFromInt(200), Origin: model.LedgerDerived("LE-1")},
		},
	}
	require.NoError(t, s.Put(context.Background(), o))

	data, err := os.ReadFile(filepath.Join(dir, "data", "orders", "OR-20240101-a.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"ledgerEntryId": "LE-1"`)
	assert.Contains(t, string(data), `"supplier": "Acme"`)
}

func TestGetListDelete(t *testing.T) {
	ctx := context.Background()
	s, err := New[model.Order](t.TempDir(), "orders")
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, model.Order{ID: "b", Supplier: "Acme"}))
	require.NoError(t, s.Put(ctx, model.Order{ID: "a", Supplier: "Acme"}))
	require.NoError(t, s.Put(ctx, model.Order{ID: "c", Supplier: "Zed"}))

	got, ok, err := s.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Acme", got.Supplier)

	acme, err := s.List(ctx, store.Filter{"supplier": "Acme"})
	require.NoError(t, err)
	require.Len(t, acme, 2)
	assert.Equal(t, "a", acme[0].ID)

	require.NoError(t, s.Delete(ctx, "a"))
	_, ok, err = s.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.ErrorIs(t, s.Delete(ctx, "a"), store.ErrNotFound)
}

func TestInvalidIDs(t *testing.T) {
	ctx := context.Background()
	s, err := New[model.Order](t.TempDir(), "orders")
	require.NoError(t, err)

	for _, id := range []string{"", "../escape", "a/b", ".hidden"} {
		assert.Error(t, s.Put(ctx, model.Order{ID: id}), "id %q", id)
	}

	_, err = New[model.Order](t.TempDir(), "../orders")
	assert.Error(t, err)
}

func TestSubscribe(t *testing.T) {
	ctx := context.Background()
	s, err := New[model.LedgerEntry](t.TempDir(), "ledger_entries")
	require.NoError(t, err)

	var ids []string
	unsub, err := s.Subscribe(ctx, store.Filter{"partyName": "Bolt"}, func(c store.Change[model.LedgerEntry]) {
		ids = append(ids, string(c.Kind)+":"+c.ID)
	})
	require.NoError(t, err)
	defer unsub()

	require.NoError(t, s.Put(ctx, model.LedgerEntry{ID: "e1", PartyName: "Bolt"}))
	require.NoError(t, s.Put(ctx, model.LedgerEntry{ID: "e2", Supplier: "Acme"}))
	require.NoError(t, s.Delete(ctx, "e1"))

	assert.Equal(t, []string{"put:e1", "delete:e1"}, ids)
}
