package counterparty

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/haulbook-dev/haulbook/internal/model"
)

const (
	numFields = 4
	colName   = 0
	colKind   = 1
	colPhone  = 2
	colNotes  = 3
)

// ReadCounterparties reads counterparties.csv.
func ReadCounterparties(r io.Reader) ([]model.Counterparty, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = numFields

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading counterparties CSV: %w", err)
	}

	if len(records) == 0 {
		return nil, nil
	}

	var out []model.Counterparty
	for i, rec := range records[1:] {
		cp, err := UnmarshalCounterparty(rec)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		out = append(out, cp)
	}
	return out, nil
}

// WriteCounterparties writes counterparties.csv.
func WriteCounterparties(w io.Writer, cps []model.Counterparty) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	if err := cw.Write([]string{"name", "kind", "phone", "notes"}); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	for i, cp := range cps {
		if err := cw.Write(MarshalCounterparty(cp)); err != nil {
			return fmt.Errorf("writing row %d: %w", i+2, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// MarshalCounterparty converts a Counterparty to a CSV row.
func MarshalCounterparty(cp model.Counterparty) []string {
	row := make([]string, numFields)
	row[colName] = cp.Name
	row[colKind] = string(cp.Kind)
	row[colPhone] = cp.Phone
	row[colNotes] = cp.Notes
	return row
}

// UnmarshalCounterparty converts a CSV row to a Counterparty.
func UnmarshalCounterparty(record []string) (model.Counterparty, error) {
	if len(record) != numFields {
		return model.Counterparty{}, fmt.Errorf("expected %d fields, got %d", numFields, len(record))
	}
	if record[colName] == "" {
		return model.Counterparty{}, fmt.Errorf("name is required")
	}

	kind := model.CounterpartyKind(record[colKind])
	if kind != model.KindSupplier && kind != model.KindParty {
		return model.Counterparty{}, fmt.Errorf("unknown kind %q", record[colKind])
	}

	return model.Counterparty{
		Name:  record[colName],
		Kind:  kind,
		Phone: record[colPhone],
		Notes: record[colNotes],
	}, nil
}
