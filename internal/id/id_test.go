package id

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormat(t *testing.T) {
	tests := []struct {
		prefix string
		date   time.Time
		suffix string
		want   string
	}{
		{PrefixLedgerEntry, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), "abc", "LE-20240115-abc"},
		{PrefixOrder, time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC), "0001", "OR-20241201-0001"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Format(tt.prefix, tt.date, tt.suffix))
	}
}

func TestNewLedgerEntryID(t *testing.T) {
	d := time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC)
	a := NewLedgerEntryID(d)
	b := NewLedgerEntryID(d)

	assert.NotEqual(t, a, b)
	assert.True(t, HasPrefix(a, PrefixLedgerEntry))

	prefix, date, suffix, err := Parse(a)
	require.NoError(t, err)
	assert.Equal(t, PrefixLedgerEntry, prefix)
	assert.Equal(t, "2024-01-15", date.Format("2006-01-02"))
	assert.Len(t, suffix, 8)
}

func TestNewPaymentID(t *testing.T) {
	p := NewPaymentID()
	assert.True(t, HasPrefix(p, PrefixPayment))
	assert.NotEqual(t, p, NewPaymentID())
}

func TestParse_Errors(t *testing.T) {
	badInputs := []string{
		"",
		"LE",
		"LE-20240115",
		"LE-2024xx15-abc",
		"-20240115-abc",
	}
	for _, input := range badInputs {
		_, _, _, err := Parse(input)
		assert.Error(t, err, "expected error for input: %s", input)
	}
}
