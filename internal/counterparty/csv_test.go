package counterparty

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haulbook-dev/haulbook/internal/model"
)

func TestRoundTrip(t *testing.T) {
	cps := []model.Counterparty{
		{Name: "Acme Aggregates", Kind: model.KindSupplier, Phone: "555-0100", Notes: "gravel, sand"},
		{Name: "Bolt Co", Kind: model.KindParty},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteCounterparties(&buf, cps))

	got, err := ReadCounterparties(&buf)
	require.NoError(t, err)
	assert.Equal(t, cps, got)
}

func TestReadCounterparties_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"unknown kind", "name,kind,phone,notes\nAcme,vendor,,\n"},
		{"missing name", "name,kind,phone,notes\n,supplier,,\n"},
		{"wrong field count", "name,kind,phone,notes\nAcme,supplier\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadCounterparties(strings.NewReader(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestReadCounterparties_Empty(t *testing.T) {
	got, err := ReadCounterparties(strings.NewReader(""))
	require.NoError(t, err)
	assert.Nil(t, got)
}
