package ledger

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haulbook-dev/haulbook/internal/counterparty"
	"github.com/haulbook-dev/haulbook/internal/model"
)

func validEntry() model.LedgerEntry {
	return model.LedgerEntry{
		ID:       "le-1",
		Type:     model.EntryDebit,
		Amount:   decimal.RequireFromString("1200.50"),
		Date:     time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		Supplier: "Acme",
	}
}

func directory() *counterparty.Service {
	return counterparty.NewService([]model.Counterparty{
		{Name: "Acme", Kind: model.KindSupplier},
		{Name: "Bolt Co", Kind: model.KindParty},
	})
}

func TestValidate_Valid(t *testing.T) {
	v := NewValidator(directory())
	assert.NoError(t, v.Validate(validEntry()))

	noCounterparty := validEntry()
	noCounterparty.Supplier = ""
	assert.NoError(t, v.Validate(noCounterparty))
}

func TestValidate_Rules(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*model.LedgerEntry)
		rule   Rule
	}{
		{"bad type", func(e *model.LedgerEntry) { e.Type = "transfer" }, RuleField},
		{"missing date", func(e *model.LedgerEntry) { e.Date = time.Time{} }, RuleField},
		{"zero amount", func(e *model.LedgerEntry) { e.Amount = decimal.Zero }, RulePositive},
		{"negative amount", func(e *model.LedgerEntry) { e.Amount = decimal.NewFromInt(-5) }, RulePositive},
		{"sub-cent amount", func(e *model.LedgerEntry) { e.Amount = decimal.RequireFromString("10.005") }, RuleCents},
		{"unknown supplier", func(e *model.LedgerEntry) { e.Supplier = "Nobody" }, RuleCounterparty},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := validEntry()
			tt.mutate(&e)

			err := NewValidator(directory()).Validate(e)
			require.Error(t, err)

			var verrs ValidationErrors
			require.True(t, errors.As(err, &verrs))
			var rules []Rule
			for _, ve := range verrs {
				rules = append(rules, ve.Rule)
			}
			assert.Contains(t, rules, tt.rule)
		})
	}
}

func TestValidate_NilDirectoryAcceptsAnyName(t *testing.T) {
	e := validEntry()
	e.Supplier = "Nobody"
	assert.NoError(t, NewValidator(nil).Validate(e))
}

func TestValidationErrors_Message(t *testing.T) {
	e := validEntry()
	e.Amount = decimal.Zero
	e.Supplier = "Nobody"

	err := NewValidator(directory()).Validate(e)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "positive_amount")
	assert.Contains(t, err.Error(), `unknown supplier "Nobody"`)
}
