// Package reconcile removes payment records whose ledger entry no longer
// backs them and reports entries whose allocations have drifted.
package reconcile

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/haulbook-dev/haulbook/internal/allocation"
	"github.com/haulbook-dev/haulbook/internal/model"
	"github.com/haulbook-dev/haulbook/internal/paid"
	"github.com/haulbook-dev/haulbook/internal/store"
)

// Orphan is a removed payment record.
type Orphan struct {
	OrderID       string
	PaymentID     string
	LedgerEntryID string
	Amount        decimal.Decimal
}

// Drift is an active entry whose tagged records do not add up to its
// amount. Tagged below Amount is only reported while the counterparty
// still has outstanding orders.
type Drift struct {
	LedgerEntryID string
	Amount        decimal.Decimal
	Tagged        decimal.Decimal
}

// Report summarises one counterparty/side reconciliation.
type Report struct {
	CounterpartyKind model.CounterpartyKind
	Counterparty     string
	Side             model.Side
	Orphans          []Orphan
	OrdersUpdated    []string
	Failed           []allocation.WriteFailure
	Drift            []Drift
}

// OrphansRemoved returns the number of records stripped.
func (r Report) OrphansRemoved() int {
	return len(r.Orphans)
}

// Clean reports whether nothing was found.
func (r Report) Clean() bool {
	return len(r.Orphans) == 0 && len(r.Failed) == 0 && len(r.Drift) == 0
}

// Service reconciles orders against the ledger.
type Service struct {
	orders    store.Store[model.Order]
	ledger    store.Store[model.LedgerEntry]
	engine    *allocation.Engine
	evaluator paid.Evaluator
	logger    logrus.FieldLogger
}

// NewService creates a reconciliation Service. Writes go through engine so
// they are locked, logged and recorded like any allocation.
func NewService(orders store.Store[model.Order], ledger store.Store[model.LedgerEntry], engine *allocation.Engine, logger logrus.FieldLogger) *Service {
	return &Service{
		orders:    orders,
		ledger:    ledger,
		engine:    engine,
		evaluator: engine.Evaluator(),
		logger:    logger.WithField("module", "reconcile"),
	}
}

// ReconcileCounterparty strips tagged payment records on the given side of
// the counterparty's orders that are not backed by an active ledger entry
// of that side and counterparty. It never adds records, so a second run
// finds nothing.
func (s *Service) ReconcileCounterparty(ctx context.Context, kind model.CounterpartyKind, name string, side model.Side) (Report, error) {
	report := Report{CounterpartyKind: kind, Counterparty: name, Side: side}
	f := model.CounterpartyFilter(kind, name)
	if f == nil || name == "" {
		return report, fmt.Errorf("reconciling: counterparty is required")
	}

	unlock := s.engine.Lock(ctx, kind, name)
	defer unlock()

	orders, err := s.orders.List(ctx, store.Filter(f))
	if err != nil {
		return report, fmt.Errorf("reading orders for %s %q: %w", kind, name, err)
	}

	entries := newEntryCache(s.ledger)
	plan := allocation.Plan{
		Op:               allocation.OpReconcile,
		Side:             side,
		CounterpartyKind: kind,
		Counterparty:     name,
	}
	for _, o := range orders {
		var keep []model.PaymentRecord
		changed := false
		for _, p := range o.Payments(side) {
			entryID, derived := p.Origin.LedgerEntryID()
			if !derived {
				keep = append(keep, p)
				continue
			}
			valid, err := entries.backs(ctx, entryID, o, side)
			if err != nil {
				return report, err
			}
			if valid {
				keep = append(keep, p)
				continue
			}
			changed = true
			report.Orphans = append(report.Orphans, Orphan{
				OrderID:       o.ID,
				PaymentID:     p.ID,
				LedgerEntryID: entryID,
				Amount:        p.Amount,
			})
		}
		if changed {
			plan.Writes = append(plan.Writes, allocation.OrderWrite{
				OrderID: o.ID,
				Order:   o.WithPayments(side, keep),
				Before:  o.Payments(side),
				After:   keep,
			})
		}
	}

	for _, orphan := range report.Orphans {
		plan.Warnings = append(plan.Warnings, allocation.Warning{
			Kind:             allocation.OrphanPayment,
			LedgerEntryID:    orphan.LedgerEntryID,
			CounterpartyKind: kind,
			Counterparty:     name,
			OrderID:          orphan.OrderID,
			Amount:           orphan.Amount,
			Message:          fmt.Sprintf("removed payment %s on order %s", orphan.PaymentID, orphan.OrderID),
		})
	}

	if len(plan.Writes) > 0 {
		res, err := s.engine.Apply(ctx, plan)
		report.OrdersUpdated = res.Applied
		report.Failed = res.Failed
		if err != nil {
			return report, err
		}
		orders = applyWrites(orders, plan.Writes, res.Applied)
	}

	drift, err := s.drift(ctx, kind, name, side, orders)
	if err != nil {
		return report, err
	}
	report.Drift = drift
	return report, nil
}

// drift compares each active entry of the counterparty with what is tagged
// on its orders.
func (s *Service) drift(ctx context.Context, kind model.CounterpartyKind, name string, side model.Side, orders []model.Order) ([]Drift, error) {
	all, err := s.ledger.List(ctx, store.Filter(model.CounterpartyFilter(kind, name)))
	if err != nil {
		return nil, fmt.Errorf("reading ledger entries for %s %q: %w", kind, name, err)
	}

	tagged := make(map[string]decimal.Decimal)
	outstanding := false
	for _, o := range orders {
		for _, p := range o.Payments(side) {
			if id, ok := p.Origin.LedgerEntryID(); ok {
				tagged[id] = tagged[id].Add(p.Amount)
			}
		}
		if total := o.TotalFor(side); total.IsPositive() && !s.evaluator.IsSettled(total, o.Payments(side)) {
			outstanding = true
		}
	}

	var out []Drift
	for _, e := range all {
		if !ownedBy(e, kind, name, side) {
			continue
		}
		sum := tagged[e.ID]
		if sum.GreaterThan(e.Amount) || (sum.LessThan(e.Amount) && outstanding) {
			out = append(out, Drift{LedgerEntryID: e.ID, Amount: e.Amount, Tagged: sum})
		}
	}
	return out, nil
}

// ReconcileAll reconciles every counterparty that appears on an order or
// an active ledger entry, on both sides.
func (s *Service) ReconcileAll(ctx context.Context) ([]Report, error) {
	orders, err := s.orders.List(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("reading orders: %w", err)
	}
	entries, err := s.ledger.List(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("reading ledger entries: %w", err)
	}

	targets := make(map[target]bool)
	for _, o := range orders {
		for _, kind := range []model.CounterpartyKind{model.KindSupplier, model.KindParty} {
			name := o.CounterpartyName(kind)
			if name == "" {
				continue
			}
			for _, side := range []model.Side{model.SideExpense, model.SideRevenue} {
				targets[target{kind, name, side}] = true
			}
		}
	}
	for _, e := range entries {
		if e.Active() {
			kind, name := e.Counterparty()
			targets[target{kind, name, e.Side()}] = true
		}
	}

	sorted := make([]target, 0, len(targets))
	for t := range targets {
		sorted = append(sorted, t)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].less(sorted[j]) })

	var reports []Report
	for _, t := range sorted {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		r, err := s.ReconcileCounterparty(ctx, t.kind, t.name, t.side)
		if err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"kind":         t.kind,
				"counterparty": t.name,
				"side":         t.side,
			}).Error("reconciling counterparty")
			continue
		}
		reports = append(reports, r)
	}
	return reports, nil
}

type target struct {
	kind model.CounterpartyKind
	name string
	side model.Side
}

func (t target) less(o target) bool {
	if t.kind != o.kind {
		return t.kind < o.kind
	}
	if t.name != o.name {
		return t.name < o.name
	}
	return t.side < o.side
}

// ownedBy reports whether e is an active entry of the counterparty on side.
func ownedBy(e model.LedgerEntry, kind model.CounterpartyKind, name string, side model.Side) bool {
	if !e.Active() || e.Side() != side {
		return false
	}
	k, n := e.Counterparty()
	return k == kind && n == name
}

// entryCache answers whether a ledger entry still backs a record.
type entryCache struct {
	ledger  store.Store[model.LedgerEntry]
	entries map[string]*model.LedgerEntry
}

func newEntryCache(ledger store.Store[model.LedgerEntry]) *entryCache {
	return &entryCache{ledger: ledger, entries: make(map[string]*model.LedgerEntry)}
}

// backs reports whether entryID is active, on side, and names a
// counterparty of order o.
func (c *entryCache) backs(ctx context.Context, entryID string, o model.Order, side model.Side) (bool, error) {
	e, seen := c.entries[entryID]
	if !seen {
		got, ok, err := c.ledger.Get(ctx, entryID)
		if err != nil {
			return false, fmt.Errorf("reading ledger entry %s: %w", entryID, err)
		}
		if ok {
			e = &got
		}
		c.entries[entryID] = e
	}
	if e == nil || !e.Active() || e.Side() != side {
		return false, nil
	}
	kind, name := e.Counterparty()
	return o.CounterpartyName(kind) == name, nil
}

// applyWrites returns orders with successfully written updates applied.
func applyWrites(orders []model.Order, writes []allocation.OrderWrite, applied []string) []model.Order {
	ok := make(map[string]bool, len(applied))
	for _, id := range applied {
		ok[id] = true
	}
	byID := make(map[string]model.Order, len(writes))
	for _, w := range writes {
		if ok[w.OrderID] {
			byID[w.OrderID] = w.Order
		}
	}
	out := make([]model.Order, len(orders))
	for i, o := range orders {
		if w, found := byID[o.ID]; found {
			o = w
		}
		out[i] = o
	}
	return out
}
