package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/haulbook-dev/haulbook/internal/model"
	"github.com/haulbook-dev/haulbook/internal/store"
)

// Projection maintains the party_payments collection: one document per
// active credit entry received from a party, keyed by the entry's ID.
// It is derived entirely from the ledger and can be rebuilt at any time.
type Projection struct {
	ledger   store.Store[model.LedgerEntry]
	payments store.Store[model.PartyPayment]
	logger   logrus.FieldLogger
	now      func() time.Time
}

// NewProjection creates a Projection.
func NewProjection(ledger store.Store[model.LedgerEntry], payments store.Store[model.PartyPayment], logger logrus.FieldLogger) *Projection {
	return &Projection{
		ledger:   ledger,
		payments: payments,
		logger:   logger.WithField("module", "projection"),
		now:      time.Now,
	}
}

// projects reports whether e belongs in the projection.
func projects(e model.LedgerEntry) bool {
	kind, _ := e.Counterparty()
	return !e.Voided && e.Type == model.EntryCredit && kind == model.KindParty
}

func (p *Projection) paymentFor(e model.LedgerEntry) model.PartyPayment {
	return model.PartyPayment{
		ID:            e.ID,
		PartyName:     e.PartyName,
		Amount:        e.Amount,
		Date:          e.Date,
		Note:          e.Note,
		LedgerEntryID: e.ID,
		UpdatedAt:     p.now(),
	}
}

// Sync upserts or removes the projection of e.
func (p *Projection) Sync(ctx context.Context, e model.LedgerEntry) error {
	if !projects(e) {
		return p.Remove(ctx, e.ID)
	}
	if err := p.payments.Put(ctx, p.paymentFor(e)); err != nil {
		return fmt.Errorf("writing party payment %s: %w", e.ID, err)
	}
	return nil
}

// Remove deletes the projection of an entry, if any.
func (p *Projection) Remove(ctx context.Context, entryID string) error {
	err := p.payments.Delete(ctx, entryID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("deleting party payment %s: %w", entryID, err)
	}
	return nil
}

// Rebuild recomputes the collection from the ledger, removing documents
// with no backing entry. It returns the number of projected payments.
func (p *Projection) Rebuild(ctx context.Context) (int, error) {
	entries, err := p.ledger.List(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("reading ledger entries: %w", err)
	}
	existing, err := p.payments.List(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("reading party payments: %w", err)
	}

	keep := make(map[string]bool)
	for _, e := range entries {
		if !projects(e) {
			continue
		}
		keep[e.ID] = true
		if err := p.payments.Put(ctx, p.paymentFor(e)); err != nil {
			return 0, fmt.Errorf("writing party payment %s: %w", e.ID, err)
		}
	}
	for _, pp := range existing {
		if keep[pp.ID] {
			continue
		}
		if err := p.Remove(ctx, pp.ID); err != nil {
			return 0, err
		}
	}
	return len(keep), nil
}

// Watch follows ledger changes made by other processes and keeps the
// projection current until ctx is done or the returned function is called.
func (p *Projection) Watch(ctx context.Context) (func(), error) {
	return p.ledger.Subscribe(ctx, nil, func(ch store.Change[model.LedgerEntry]) {
		var err error
		switch ch.Kind {
		case store.ChangePut:
			err = p.Sync(ctx, ch.Doc)
		case store.ChangeDelete:
			err = p.Remove(ctx, ch.ID)
		}
		if err != nil {
			p.logger.WithError(err).WithField("ledgerEntryId", ch.ID).Warn("applying ledger change to projection")
		}
	})
}
