// Package ledger validates ledger entries before they are stored.
package ledger

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/haulbook-dev/haulbook/internal/model"
)

// Rule names a ledger entry check.
type Rule string

const (
	RuleField        Rule = "field"
	RulePositive     Rule = "positive_amount"
	RuleCents        Rule = "two_decimals"
	RuleCounterparty Rule = "known_counterparty"
)

// ValidationError describes a single rule violation.
type ValidationError struct {
	Rule        Rule
	EntryID     string
	Field       string
	Description string
}

func (e ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s [%s] %s: %s", e.Rule, e.EntryID, e.Field, e.Description)
	}
	return fmt.Sprintf("%s [%s]: %s", e.Rule, e.EntryID, e.Description)
}

// ValidationErrors is every violation found on one entry.
type ValidationErrors []ValidationError

func (errs ValidationErrors) Error() string {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return "invalid ledger entry: " + strings.Join(msgs, "; ")
}

// CounterpartyChecker tests whether a supplier or party is known.
type CounterpartyChecker interface {
	Exists(kind model.CounterpartyKind, name string) bool
}

// Validator checks ledger entries. A nil directory accepts any
// counterparty name.
type Validator struct {
	validate  *validator.Validate
	directory CounterpartyChecker
}

// NewValidator creates a Validator.
func NewValidator(directory CounterpartyChecker) *Validator {
	return &Validator{validate: validator.New(), directory: directory}
}

var hundred = decimal.NewFromInt(100)

// Validate returns nil or a ValidationErrors listing every problem.
func (v *Validator) Validate(e model.LedgerEntry) error {
	var errs ValidationErrors

	if err := v.validate.Struct(e); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("validating ledger entry: %w", err)
		}
		for _, fe := range fieldErrs {
			errs = append(errs, ValidationError{
				Rule:        RuleField,
				EntryID:     e.ID,
				Field:       fe.Field(),
				Description: fmt.Sprintf("failed %q check", fe.Tag()),
			})
		}
	}

	if !e.Amount.IsPositive() {
		errs = append(errs, ValidationError{
			Rule:        RulePositive,
			EntryID:     e.ID,
			Field:       "Amount",
			Description: fmt.Sprintf("amount %s must be greater than zero", e.Amount),
		})
	}

	if !e.Amount.Mul(hundred).Equal(e.Amount.Mul(hundred).Floor()) {
		errs = append(errs, ValidationError{
			Rule:        RuleCents,
			EntryID:     e.ID,
			Field:       "Amount",
			Description: fmt.Sprintf("amount %s has more than 2 decimal places", e.Amount),
		})
	}

	if kind, name := e.Counterparty(); v.directory != nil && kind != model.KindNone && !v.directory.Exists(kind, name) {
		errs = append(errs, ValidationError{
			Rule:        RuleCounterparty,
			EntryID:     e.ID,
			Description: fmt.Sprintf("unknown %s %q", kind, name),
		})
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}
