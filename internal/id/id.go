package id

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Prefixes for document identifiers.
const (
	PrefixLedgerEntry = "LE"
	PrefixOrder       = "OR"
	PrefixPayment     = "PR"
)

const dateLayout = "20060102"

// Format returns an ID like "LE-20240115-1a2b3c4d" from a prefix, date and
// random suffix.
func Format(prefix string, date time.Time, suffix string) string {
	return fmt.Sprintf("%s-%s-%s", prefix, date.Format(dateLayout), suffix)
}

// NewLedgerEntryID returns a fresh ledger entry ID dated at date.
func NewLedgerEntryID(date time.Time) string {
	return Format(PrefixLedgerEntry, date, shortUUID())
}

// NewOrderID returns a fresh order ID dated at date.
func NewOrderID(date time.Time) string {
	return Format(PrefixOrder, date, shortUUID())
}

// NewPaymentID returns a fresh payment record ID.
func NewPaymentID() string {
	return PrefixPayment + "-" + uuid.NewString()
}

// Parse splits "LE-20240115-1a2b3c4d" into prefix, date and suffix.
func Parse(s string) (prefix string, date time.Time, suffix string, err error) {
	parts := strings.SplitN(s, "-", 3)
	if len(parts) != 3 {
		return "", time.Time{}, "", fmt.Errorf("invalid ID format: %q", s)
	}
	if parts[0] == "" || parts[2] == "" {
		return "", time.Time{}, "", fmt.Errorf("invalid ID format: %q", s)
	}

	date, err = time.Parse(dateLayout, parts[1])
	if err != nil {
		return "", time.Time{}, "", fmt.Errorf("invalid date in ID %q: %w", s, err)
	}
	return parts[0], date, parts[2], nil
}

// HasPrefix reports whether s is an ID with the given prefix.
func HasPrefix(s, prefix string) bool {
	return strings.HasPrefix(s, prefix+"-")
}

func shortUUID() string {
	u := uuid.New()
	return strings.ReplaceAll(u.String(), "-", "")[:8]
}
