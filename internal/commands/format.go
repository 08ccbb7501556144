package commands

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/haulbook-dev/haulbook/internal/lifecycle"
	"github.com/haulbook-dev/haulbook/internal/model"
)

const dateLayout = "2006-01-02"

// parseDate parses YYYY-MM-DD; an empty string means today.
func parseDate(s string, now time.Time) (time.Time, error) {
	if s == "" {
		y, m, d := now.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD): %w", s, err)
	}
	return t, nil
}

func parseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.ReplaceAll(s, ",", ""))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return d, nil
}

func parseSide(s string) (model.Side, error) {
	side := model.Side(s)
	if !side.Valid() {
		return "", fmt.Errorf("unknown side %q (want expense or revenue)", s)
	}
	return side, nil
}

// counterpartyFlag returns the kind and name selected by --supplier or
// --party. At most one may be set.
func counterpartyFlag(supplier, party string) (model.CounterpartyKind, string, error) {
	switch {
	case supplier != "" && party != "":
		return model.KindNone, "", fmt.Errorf("use --supplier or --party, not both")
	case supplier != "":
		return model.KindSupplier, supplier, nil
	case party != "":
		return model.KindParty, party, nil
	default:
		return model.KindNone, "", nil
	}
}

func printOutcome(w io.Writer, verb string, out lifecycle.Outcome) {
	fmt.Fprintf(w, "%s %s\n", verb, out.Entry.ID)
	for _, r := range out.Results {
		for _, a := range r.Plan.Allocations {
			fmt.Fprintf(w, "  %-8s %s  %s\n", r.Plan.Op, a.OrderID, a.Amount.StringFixed(2))
		}
	}
	printWarnings(w, out)
}

func printWarnings(w io.Writer, out lifecycle.Outcome) {
	for _, warn := range out.Warnings {
		fmt.Fprintf(w, "warning: %s: %s\n", warn.Kind, warn.Message)
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
