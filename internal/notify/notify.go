// Package notify delivers allocation warnings to logs and Kafka.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/haulbook-dev/haulbook/internal/allocation"
)

// Notifier receives allocation warnings.
type Notifier interface {
	Notify(ctx context.Context, w allocation.Warning) error
}

// Event is the published form of a warning.
type Event struct {
	Kind             string          `json:"kind"`
	LedgerEntryID    string          `json:"ledgerEntryId"`
	CounterpartyKind string          `json:"counterpartyKind,omitempty"`
	Counterparty     string          `json:"counterparty,omitempty"`
	OrderID          string          `json:"orderId,omitempty"`
	Amount           decimal.Decimal `json:"amount"`
	Placed           decimal.Decimal `json:"placed"`
	Message          string          `json:"message"`
	At               time.Time       `json:"at"`
}

// NewEvent converts w into an Event stamped at.
func NewEvent(w allocation.Warning, at time.Time) Event {
	return Event{
		Kind:             string(w.Kind),
		LedgerEntryID:    w.LedgerEntryID,
		CounterpartyKind: string(w.CounterpartyKind),
		Counterparty:     w.Counterparty,
		OrderID:          w.OrderID,
		Amount:           w.Amount,
		Placed:           w.Placed,
		Message:          w.Message,
		At:               at,
	}
}

// Log writes warnings to a logger.
type Log struct {
	logger logrus.FieldLogger
}

// NewLog creates a Log notifier.
func NewLog(logger logrus.FieldLogger) *Log {
	return &Log{logger: logger.WithField("module", "notify")}
}

// Notify implements Notifier.
func (l *Log) Notify(_ context.Context, w allocation.Warning) error {
	l.logger.WithFields(logrus.Fields{
		"kind":          w.Kind,
		"ledgerEntryId": w.LedgerEntryID,
		"counterparty":  w.Counterparty,
		"orderId":       w.OrderID,
		"amount":        w.Amount.String(),
		"placed":        w.Placed.String(),
	}).Warn(w.Message)
	return nil
}

// Multi fans a warning out to several notifiers.
type Multi []Notifier

// Notify implements Notifier. Every notifier is tried; errors are joined.
func (m Multi) Notify(ctx context.Context, w allocation.Warning) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, w); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
