package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side selects which payment list of an order a ledger entry settles.
type Side string

const (
	// SideExpense is the supplier side: OriginalTotal against PartialPayments.
	SideExpense Side = "expense"
	// SideRevenue is the party side: Total against CustomerPayments.
	SideRevenue Side = "revenue"
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool {
	return s == SideExpense || s == SideRevenue
}

// EntryType returns the ledger entry type reconciled against this side.
func (s Side) EntryType() EntryType {
	if s == SideRevenue {
		return EntryCredit
	}
	return EntryDebit
}

// Order is a delivery or materials order. OriginalTotal is owed to the
// supplier, Total is owed by the party.
type Order struct {
	ID               string          `json:"id"`
	Date             time.Time       `json:"date"`
	Supplier         string          `json:"supplier,omitempty"`
	PartyName        string          `json:"partyName"`
	OriginalTotal    decimal.Decimal `json:"originalTotal"`
	Total            decimal.Decimal `json:"total"`
	PartialPayments  []PaymentRecord `json:"partialPayments,omitempty"`
	CustomerPayments []PaymentRecord `json:"customerPayments,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
}

// DocID implements store.Document.
func (o Order) DocID() string { return o.ID }

// TotalFor returns the amount owed on the given side.
func (o Order) TotalFor(side Side) decimal.Decimal {
	if side == SideRevenue {
		return o.Total
	}
	return o.OriginalTotal
}

// Payments returns the payment list for the given side.
func (o Order) Payments(side Side) []PaymentRecord {
	if side == SideRevenue {
		return o.CustomerPayments
	}
	return o.PartialPayments
}

// WithPayments returns a copy of the order with the side's payment list replaced.
func (o Order) WithPayments(side Side, payments []PaymentRecord) Order {
	if side == SideRevenue {
		o.CustomerPayments = payments
	} else {
		o.PartialPayments = payments
	}
	return o
}

// CounterpartyName returns the order's supplier or party name.
func (o Order) CounterpartyName(kind CounterpartyKind) string {
	switch kind {
	case KindSupplier:
		return o.Supplier
	case KindParty:
		return o.PartyName
	default:
		return ""
	}
}

// CounterpartyFor returns the counterparty that settles the given side
// of this order.
func (o Order) CounterpartyFor(side Side) (CounterpartyKind, string) {
	if side == SideRevenue {
		return KindParty, o.PartyName
	}
	return KindSupplier, o.Supplier
}
