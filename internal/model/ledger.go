package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntryType classifies a ledger entry as income or expense.
type EntryType string

const (
	EntryCredit EntryType = "credit"
	EntryDebit  EntryType = "debit"
)

// Side maps the entry type onto the order side it settles.
// Debits pay suppliers (expense side), credits come from parties (revenue side).
func (t EntryType) Side() Side {
	if t == EntryCredit {
		return SideRevenue
	}
	return SideExpense
}

// CounterpartyKind identifies who a ledger entry or order is with.
type CounterpartyKind string

const (
	KindNone     CounterpartyKind = ""
	KindSupplier CounterpartyKind = "supplier"
	KindParty    CounterpartyKind = "party"
)

// LedgerEntry is one credit or debit transaction in the unified ledger.
type LedgerEntry struct {
	ID        string          `json:"id"`
	Type      EntryType       `json:"type" validate:"required,oneof=credit debit"`
	Amount    decimal.Decimal `json:"amount"`
	Date      time.Time       `json:"date" validate:"required"`
	Supplier  string          `json:"supplier,omitempty" validate:"max=200"`
	PartyName string          `json:"partyName,omitempty" validate:"max=200"`
	Note      string          `json:"note,omitempty" validate:"max=2000"`
	Voided    bool            `json:"voided"`
	CreatedAt time.Time       `json:"createdAt"`
}

// DocID implements store.Document.
func (e LedgerEntry) DocID() string { return e.ID }

// Counterparty returns the entry's counterparty. A supplier takes
// precedence over a party name when both are present.
func (e LedgerEntry) Counterparty() (CounterpartyKind, string) {
	switch {
	case e.Supplier != "":
		return KindSupplier, e.Supplier
	case e.PartyName != "":
		return KindParty, e.PartyName
	default:
		return KindNone, ""
	}
}

// HasCounterparty reports whether the entry is tied to a supplier or party.
func (e LedgerEntry) HasCounterparty() bool {
	kind, _ := e.Counterparty()
	return kind != KindNone
}

// Side returns the order side this entry is allocated against.
func (e LedgerEntry) Side() Side {
	return e.Type.Side()
}

// Active reports whether the entry should carry allocations.
func (e LedgerEntry) Active() bool {
	return !e.Voided && e.HasCounterparty()
}

// CounterpartyFilter returns the store filter selecting documents that
// belong to the named counterparty of the given kind.
func CounterpartyFilter(kind CounterpartyKind, name string) map[string]any {
	switch kind {
	case KindSupplier:
		return map[string]any{"supplier": name}
	case KindParty:
		return map[string]any{"partyName": name}
	default:
		return nil
	}
}
