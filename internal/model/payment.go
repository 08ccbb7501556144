package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentOrigin distinguishes payments entered directly on an order from
// payments derived from a ledger entry by the allocation engine.
type PaymentOrigin struct {
	ledgerEntryID string
}

// Manual returns the origin of a directly entered payment.
func Manual() PaymentOrigin { return PaymentOrigin{} }

// LedgerDerived returns the origin of a payment owned by a ledger entry.
func LedgerDerived(ledgerEntryID string) PaymentOrigin {
	return PaymentOrigin{ledgerEntryID: ledgerEntryID}
}

// IsManual reports whether the payment was entered directly.
func (o PaymentOrigin) IsManual() bool { return o.ledgerEntryID == "" }

// LedgerEntryID returns the owning ledger entry, if any.
func (o PaymentOrigin) LedgerEntryID() (string, bool) {
	return o.ledgerEntryID, o.ledgerEntryID != ""
}

// DerivedFrom reports whether the payment is owned by the given ledger entry.
func (o PaymentOrigin) DerivedFrom(ledgerEntryID string) bool {
	return o.ledgerEntryID != "" && o.ledgerEntryID == ledgerEntryID
}

func (o PaymentOrigin) String() string {
	if o.IsManual() {
		return "manual"
	}
	return "ledger:" + o.ledgerEntryID
}

// PaymentRecord is a single payment against one side of an order.
type PaymentRecord struct {
	ID        string
	Amount    decimal.Decimal
	Date      time.Time
	Note      string
	Origin    PaymentOrigin
	CreatedAt time.Time
}

// paymentRecordJSON is the persisted shape; origin flattens to ledgerEntryId.
type paymentRecordJSON struct {
	ID            string          `json:"id"`
	Amount        decimal.Decimal `json:"amount"`
	Date          time.Time       `json:"date"`
	Note          string          `json:"note,omitempty"`
	LedgerEntryID string          `json:"ledgerEntryId,omitempty"`
	CreatedAt     *time.Time      `json:"createdAt,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (p PaymentRecord) MarshalJSON() ([]byte, error) {
	out := paymentRecordJSON{
		ID:            p.ID,
		Amount:        p.Amount,
		Date:          p.Date,
		Note:          p.Note,
		LedgerEntryID: p.Origin.ledgerEntryID,
	}
	if !p.CreatedAt.IsZero() {
		created := p.CreatedAt
		out.CreatedAt = &created
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *PaymentRecord) UnmarshalJSON(data []byte) error {
	var in paymentRecordJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*p = PaymentRecord{
		ID:     in.ID,
		Amount: in.Amount,
		Date:   in.Date,
		Note:   in.Note,
		Origin: PaymentOrigin{ledgerEntryID: in.LedgerEntryID},
	}
	if in.CreatedAt != nil {
		p.CreatedAt = *in.CreatedAt
	}
	return nil
}

// SumPayments returns the total amount of the given payments.
func SumPayments(payments []PaymentRecord) decimal.Decimal {
	total := decimal.Zero
	for _, p := range payments {
		total = total.Add(p.Amount)
	}
	return total
}

// SplitByEntry partitions payments into those owned by the ledger entry
// and all others, preserving order.
func SplitByEntry(payments []PaymentRecord, ledgerEntryID string) (owned, others []PaymentRecord) {
	for _, p := range payments {
		if p.Origin.DerivedFrom(ledgerEntryID) {
			owned = append(owned, p)
		} else {
			others = append(others, p)
		}
	}
	return owned, others
}
