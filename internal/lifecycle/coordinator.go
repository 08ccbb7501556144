// Package lifecycle keeps order payments and the party-payment projection
// in step with ledger entry create, edit, void and delete.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/haulbook-dev/haulbook/internal/allocation"
	"github.com/haulbook-dev/haulbook/internal/id"
	"github.com/haulbook-dev/haulbook/internal/model"
	"github.com/haulbook-dev/haulbook/internal/store"
)

var (
	ErrEntryNotFound   = allocation.ErrEntryNotFound
	ErrOrderNotFound   = errors.New("order not found")
	ErrPaymentNotFound = errors.New("payment not found")
)

// EntryValidator checks an entry before it is stored.
type EntryValidator interface {
	Validate(e model.LedgerEntry) error
}

// Notifier receives allocation warnings.
type Notifier interface {
	Notify(ctx context.Context, w allocation.Warning) error
}

// Options configures a Coordinator. Ledger, Orders and Engine are required.
type Options struct {
	Ledger     store.Store[model.LedgerEntry]
	Orders     store.Store[model.Order]
	Engine     *allocation.Engine
	Projection *Projection
	Validator  EntryValidator
	Notifier   Notifier
	Logger     logrus.FieldLogger
	Now        func() time.Time
	NewEntryID func(date time.Time) string
	NewID      func() string
}

// Coordinator maps ledger mutations onto allocation engine calls.
type Coordinator struct {
	ledger     store.Store[model.LedgerEntry]
	orders     store.Store[model.Order]
	engine     *allocation.Engine
	projection *Projection
	validator  EntryValidator
	notifier   Notifier
	logger     logrus.FieldLogger
	now        func() time.Time
	newEntryID func(time.Time) string
	newID      func() string
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(opts Options) *Coordinator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewEntryID == nil {
		opts.NewEntryID = id.NewLedgerEntryID
	}
	if opts.NewID == nil {
		opts.NewID = id.NewPaymentID
	}
	if opts.Logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		opts.Logger = l
	}
	return &Coordinator{
		ledger:     opts.Ledger,
		orders:     opts.Orders,
		engine:     opts.Engine,
		projection: opts.Projection,
		validator:  opts.Validator,
		notifier:   opts.Notifier,
		logger:     opts.Logger.WithField("module", "lifecycle"),
		now:        opts.Now,
		newEntryID: opts.NewEntryID,
		newID:      opts.NewID,
	}
}

// Outcome is what a ledger mutation did. Warnings collect every
// allocation warning raised on the way; the mutation itself succeeded.
type Outcome struct {
	Entry    model.LedgerEntry
	Results  []allocation.Result
	Warnings []allocation.Warning
}

func (o *Outcome) add(r allocation.Result) {
	o.Results = append(o.Results, r)
	o.Warnings = append(o.Warnings, r.Warnings...)
}

// Get returns a ledger entry.
func (c *Coordinator) Get(ctx context.Context, entryID string) (model.LedgerEntry, error) {
	e, ok, err := c.ledger.Get(ctx, entryID)
	if err != nil {
		return model.LedgerEntry{}, fmt.Errorf("reading ledger entry %s: %w", entryID, err)
	}
	if !ok {
		return model.LedgerEntry{}, fmt.Errorf("%w: %s", ErrEntryNotFound, entryID)
	}
	return e, nil
}

// Create validates and stores a new entry, then distributes it if it has
// a counterparty. An empty ID is assigned.
func (c *Coordinator) Create(ctx context.Context, entry model.LedgerEntry) (Outcome, error) {
	if entry.ID == "" {
		entry.ID = c.newEntryID(entry.Date)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = c.now()
	}
	if err := c.validate(entry); err != nil {
		return Outcome{Entry: entry}, err
	}

	if _, exists, err := c.ledger.Get(ctx, entry.ID); err != nil {
		return Outcome{Entry: entry}, fmt.Errorf("reading ledger entry %s: %w", entry.ID, err)
	} else if exists {
		return Outcome{Entry: entry}, fmt.Errorf("ledger entry %s already exists", entry.ID)
	}

	if err := c.ledger.Put(ctx, entry); err != nil {
		return Outcome{Entry: entry}, fmt.Errorf("writing ledger entry %s: %w", entry.ID, err)
	}
	c.project(ctx, entry)

	out := Outcome{Entry: entry}
	if entry.Active() {
		c.run(ctx, &out, "distribute", func() (allocation.Result, error) {
			return c.engine.Distribute(ctx, allocation.ParamsFor(entry))
		})
	}
	c.notify(ctx, out.Warnings)
	return out, nil
}

// Update stores a changed entry and brings its allocations in line:
// distribute when a counterparty appears or the entry is un-voided,
// revert when it disappears or the entry is voided, revert-then-distribute
// when the counterparty or side changes, and redistribute when only the
// amount or date changed.
func (c *Coordinator) Update(ctx context.Context, entry model.LedgerEntry) (Outcome, error) {
	prev, err := c.Get(ctx, entry.ID)
	if err != nil {
		return Outcome{Entry: entry}, err
	}
	entry.CreatedAt = prev.CreatedAt
	if err := c.validate(entry); err != nil {
		return Outcome{Entry: entry}, err
	}

	if err := c.ledger.Put(ctx, entry); err != nil {
		return Outcome{Entry: entry}, fmt.Errorf("writing ledger entry %s: %w", entry.ID, err)
	}
	c.project(ctx, entry)

	out := Outcome{Entry: entry}
	pk, pn := prev.Counterparty()
	nk, nn := entry.Counterparty()

	switch {
	case !prev.Active() && !entry.Active():
	case !prev.Active():
		c.distribute(ctx, &out, entry)
	case !entry.Active():
		c.revert(ctx, &out, prev)
	case pk != nk || pn != nn || prev.Side() != entry.Side():
		c.revert(ctx, &out, prev)
		c.distribute(ctx, &out, entry)
	case !prev.Amount.Equal(entry.Amount) || !prev.Date.Equal(entry.Date):
		c.redistribute(ctx, &out, entry)
	}

	c.notify(ctx, out.Warnings)
	return out, nil
}

// Delete removes an entry and every payment record derived from it. An
// entry without a counterparty is swept from all orders.
func (c *Coordinator) Delete(ctx context.Context, entryID string) (Outcome, error) {
	prev, err := c.Get(ctx, entryID)
	if err != nil {
		return Outcome{}, err
	}
	if err := c.ledger.Delete(ctx, entryID); err != nil {
		return Outcome{Entry: prev}, fmt.Errorf("deleting ledger entry %s: %w", entryID, err)
	}
	c.unproject(ctx, entryID)

	out := Outcome{Entry: prev}
	if prev.HasCounterparty() {
		c.revert(ctx, &out, prev)
	} else {
		c.run(ctx, &out, "revert everywhere", func() (allocation.Result, error) {
			return c.engine.RevertEverywhere(ctx, entryID, prev.Side())
		})
	}
	c.notify(ctx, out.Warnings)
	return out, nil
}

// Void marks an entry voided and removes its payment records. Voiding a
// voided entry does nothing.
func (c *Coordinator) Void(ctx context.Context, entryID string) (Outcome, error) {
	entry, err := c.Get(ctx, entryID)
	if err != nil {
		return Outcome{}, err
	}
	if entry.Voided {
		return Outcome{Entry: entry}, nil
	}
	entry.Voided = true
	return c.Update(ctx, entry)
}

// Retry re-runs a preserve-first redistribution of an existing entry.
// Records already in place stay and writes that failed earlier are
// planned again.
func (c *Coordinator) Retry(ctx context.Context, entryID string) (Outcome, error) {
	entry, err := c.Get(ctx, entryID)
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{Entry: entry}
	c.run(ctx, &out, "redistribute", func() (allocation.Result, error) {
		return c.engine.Redistribute(ctx, entryID, entry.Date)
	})
	c.notify(ctx, out.Warnings)
	return out, nil
}

func (c *Coordinator) distribute(ctx context.Context, out *Outcome, entry model.LedgerEntry) {
	c.run(ctx, out, "distribute", func() (allocation.Result, error) {
		return c.engine.Distribute(ctx, allocation.ParamsFor(entry))
	})
}

func (c *Coordinator) revert(ctx context.Context, out *Outcome, entry model.LedgerEntry) {
	c.run(ctx, out, "revert", func() (allocation.Result, error) {
		return c.engine.RevertEntry(ctx, entry)
	})
}

func (c *Coordinator) redistribute(ctx context.Context, out *Outcome, entry model.LedgerEntry) {
	c.run(ctx, out, "redistribute", func() (allocation.Result, error) {
		return c.engine.Reallocate(ctx, entry.ID)
	})
}

// run executes one engine call. Errors become warnings so the ledger
// mutation still succeeds.
func (c *Coordinator) run(ctx context.Context, out *Outcome, op string, fn func() (allocation.Result, error)) {
	res, err := fn()
	if err != nil {
		c.fail(out, out.Entry.ID, op, err)
		if len(res.Applied) == 0 && len(res.Failed) == 0 {
			return
		}
	}
	out.add(res)
}

func (c *Coordinator) fail(out *Outcome, entryID, op string, err error) {
	c.logger.WithError(err).WithFields(logrus.Fields{
		"ledgerEntryId": entryID,
		"op":            op,
	}).Error("allocation failed")
	out.Warnings = append(out.Warnings, allocation.Warning{
		Kind:          allocation.AllocationFailed,
		LedgerEntryID: entryID,
		Message:       fmt.Sprintf("%s: %v", op, err),
	})
}

func (c *Coordinator) validate(e model.LedgerEntry) error {
	if c.validator == nil {
		return nil
	}
	return c.validator.Validate(e)
}

func (c *Coordinator) project(ctx context.Context, e model.LedgerEntry) {
	if c.projection == nil {
		return
	}
	if err := c.projection.Sync(ctx, e); err != nil {
		c.logger.WithError(err).WithField("ledgerEntryId", e.ID).Warn("updating party payment projection")
	}
}

func (c *Coordinator) unproject(ctx context.Context, entryID string) {
	if c.projection == nil {
		return
	}
	if err := c.projection.Remove(ctx, entryID); err != nil {
		c.logger.WithError(err).WithField("ledgerEntryId", entryID).Warn("removing party payment projection")
	}
}

func (c *Coordinator) notify(ctx context.Context, warnings []allocation.Warning) {
	if c.notifier == nil {
		return
	}
	for _, w := range warnings {
		if err := c.notifier.Notify(ctx, w); err != nil {
			c.logger.WithError(err).WithField("kind", w.Kind).Warn("sending allocation warning")
		}
	}
}
