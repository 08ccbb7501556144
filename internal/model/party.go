package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PartyPayment is the read-side projection of a credit ledger entry
// received from a party. It carries no state of its own.
type PartyPayment struct {
	ID            string          `json:"id"`
	PartyName     string          `json:"partyName"`
	Amount        decimal.Decimal `json:"amount"`
	Date          time.Time       `json:"date"`
	Note          string          `json:"note,omitempty"`
	LedgerEntryID string          `json:"ledgerEntryId"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// DocID implements store.Document.
func (p PartyPayment) DocID() string { return p.ID }

// Counterparty is a supplier or party in the directory.
type Counterparty struct {
	Name  string
	Kind  CounterpartyKind
	Phone string
	Notes string
}
