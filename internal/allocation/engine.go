package allocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/haulbook-dev/haulbook/internal/id"
	"github.com/haulbook-dev/haulbook/internal/lock"
	"github.com/haulbook-dev/haulbook/internal/logging"
	"github.com/haulbook-dev/haulbook/internal/model"
	"github.com/haulbook-dev/haulbook/internal/paid"
	"github.com/haulbook-dev/haulbook/internal/store"
)

// ErrEntryNotFound is returned when an operation names a ledger entry
// that does not exist.
var ErrEntryNotFound = errors.New("ledger entry not found")

// Recorder receives the outcome of every applied plan.
type Recorder interface {
	Record(ctx context.Context, r Result) error
}

// Options configures an Engine. Orders and Ledger are required. The zero
// Evaluator has no tolerance; most callers want paid.Default().
type Options struct {
	Orders    store.Store[model.Order]
	Ledger    store.Store[model.LedgerEntry]
	Evaluator paid.Evaluator
	Logger    logrus.FieldLogger
	Recorder  Recorder
	Locker    lock.Locker
	Note      string
	Now       func() time.Time
	NewID     func() string
}

// Engine distributes ledger entries across orders and keeps the derived
// payment records in step with the ledger.
type Engine struct {
	orders   store.Store[model.Order]
	ledger   store.Store[model.LedgerEntry]
	planner  Planner
	logger   logrus.FieldLogger
	recorder Recorder
	locker   lock.Locker
}

// NewEngine creates an Engine.
func NewEngine(opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = id.NewPaymentID
	}
	if opts.Logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		opts.Logger = l
	}
	return &Engine{
		orders: opts.Orders,
		ledger: opts.Ledger,
		planner: Planner{
			Evaluator: opts.Evaluator,
			Note:      opts.Note,
			NewID:     opts.NewID,
			Now:       opts.Now,
		},
		logger:   opts.Logger.WithField("module", "allocation"),
		recorder: opts.Recorder,
		locker:   opts.Locker,
	}
}

// Evaluator returns the paid evaluator the engine plans with.
func (e *Engine) Evaluator() paid.Evaluator {
	return e.planner.Evaluator
}

// RevertParams identifies the records to remove.
type RevertParams struct {
	LedgerEntryID    string
	CounterpartyKind model.CounterpartyKind
	Counterparty     string
	Side             model.Side
}

// Distribute allocates the entry's amount across the counterparty's
// outstanding orders, oldest first.
func (e *Engine) Distribute(ctx context.Context, params DistributeParams) (Result, error) {
	unlock := e.Lock(ctx, params.CounterpartyKind, params.Counterparty)
	defer unlock()

	plan, err := e.BuildDistributePlan(ctx, params)
	if err != nil {
		return Result{Plan: plan}, err
	}
	return e.Apply(ctx, plan)
}

// BuildDistributePlan reads the counterparty's orders and plans a
// distribution without writing anything.
func (e *Engine) BuildDistributePlan(ctx context.Context, params DistributeParams) (Plan, error) {
	if params.AsOf.IsZero() {
		params.AsOf = e.planner.Now()
	}
	if params.CounterpartyKind == model.KindNone || params.Counterparty == "" {
		plan := Plan{
			Op:            OpDistribute,
			LedgerEntryID: params.LedgerEntryID,
			Side:          params.Side,
			Amount:        params.Amount,
		}
		plan.Warnings = append(plan.Warnings, e.planner.warn(plan, NoEligibleOrders, "entry has no counterparty"))
		return plan, nil
	}

	orders, err := e.ordersFor(ctx, params.CounterpartyKind, params.Counterparty)
	if err != nil {
		return Plan{Op: OpDistribute, LedgerEntryID: params.LedgerEntryID}, err
	}
	return e.planner.Distribute(orders, params), nil
}

// Redistribute reconciles an existing entry's records with its current
// amount and date, preserving records that still fit. A voided entry or
// one without a counterparty has its records removed instead.
func (e *Engine) Redistribute(ctx context.Context, ledgerEntryID string, asOf time.Time) (Result, error) {
	entry, ok, err := e.ledger.Get(ctx, ledgerEntryID)
	if err != nil {
		return Result{}, fmt.Errorf("reading ledger entry %s: %w", ledgerEntryID, err)
	}
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrEntryNotFound, ledgerEntryID)
	}

	if !entry.Active() {
		return e.RevertEntry(ctx, entry)
	}

	kind, name := entry.Counterparty()
	unlock := e.Lock(ctx, kind, name)
	defer unlock()

	plan, err := e.BuildRedistributePlan(ctx, entry, asOf)
	if err != nil {
		return Result{Plan: plan}, err
	}
	return e.Apply(ctx, plan)
}

// Reallocate brings an entry's records in line after its amount or date
// changed. It plans a preserve-first redistribution and applies it when
// the entry covers the preserved records exactly; otherwise the entry is
// re-derived with a full distribution, since the ledger amount wins over
// earlier per-order adjustments.
func (e *Engine) Reallocate(ctx context.Context, ledgerEntryID string) (Result, error) {
	entry, ok, err := e.ledger.Get(ctx, ledgerEntryID)
	if err != nil {
		return Result{}, fmt.Errorf("reading ledger entry %s: %w", ledgerEntryID, err)
	}
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrEntryNotFound, ledgerEntryID)
	}

	if !entry.Active() {
		return e.RevertEntry(ctx, entry)
	}

	kind, name := entry.Counterparty()
	unlock := e.Lock(ctx, kind, name)
	defer unlock()

	orders, err := e.ordersFor(ctx, kind, name)
	if err != nil {
		return Result{Plan: Plan{Op: OpRedistribute, LedgerEntryID: entry.ID}}, err
	}
	plan := e.planner.Redistribute(orders, entry, entry.Date)
	if plan.HasWarning(UnderfundedRedistribution) || plan.HasWarning(PartialDistribution) {
		e.logger.WithFields(logrus.Fields{
			"ledgerEntryId": entry.ID,
			"amount":        entry.Amount.String(),
			"placed":        plan.Placed.String(),
		}).Info("entry no longer matches its allocations, re-deriving")
		plan = e.planner.Distribute(orders, ParamsFor(entry))
	}
	return e.Apply(ctx, plan)
}

// BuildRedistributePlan plans a preserve-first redistribution of entry.
func (e *Engine) BuildRedistributePlan(ctx context.Context, entry model.LedgerEntry, asOf time.Time) (Plan, error) {
	if asOf.IsZero() {
		asOf = entry.Date
	}
	kind, name := entry.Counterparty()
	orders, err := e.ordersFor(ctx, kind, name)
	if err != nil {
		return Plan{Op: OpRedistribute, LedgerEntryID: entry.ID}, err
	}
	return e.planner.Redistribute(orders, entry, asOf), nil
}

// Revert removes every record of the entry from the counterparty's orders.
func (e *Engine) Revert(ctx context.Context, params RevertParams) (Result, error) {
	if params.CounterpartyKind == model.KindNone || params.Counterparty == "" {
		return Result{Plan: Plan{Op: OpRevert, LedgerEntryID: params.LedgerEntryID, Side: params.Side}}, nil
	}

	unlock := e.Lock(ctx, params.CounterpartyKind, params.Counterparty)
	defer unlock()

	plan, err := e.BuildRevertPlan(ctx, params)
	if err != nil {
		return Result{Plan: plan}, err
	}
	return e.Apply(ctx, plan)
}

// RevertEntry reverts entry using its own counterparty and side.
func (e *Engine) RevertEntry(ctx context.Context, entry model.LedgerEntry) (Result, error) {
	kind, name := entry.Counterparty()
	return e.Revert(ctx, RevertParams{
		LedgerEntryID:    entry.ID,
		CounterpartyKind: kind,
		Counterparty:     name,
		Side:             entry.Side(),
	})
}

// BuildRevertPlan plans the removal of the entry's records.
func (e *Engine) BuildRevertPlan(ctx context.Context, params RevertParams) (Plan, error) {
	orders, err := e.ordersFor(ctx, params.CounterpartyKind, params.Counterparty)
	if err != nil {
		return Plan{Op: OpRevert, LedgerEntryID: params.LedgerEntryID}, err
	}
	plan := e.planner.Revert(orders, params.LedgerEntryID, params.Side)
	plan.CounterpartyKind = params.CounterpartyKind
	plan.Counterparty = params.Counterparty
	return plan, nil
}

// RevertEverywhere removes the entry's records from every order. It is
// used when the entry's counterparty is no longer known.
func (e *Engine) RevertEverywhere(ctx context.Context, ledgerEntryID string, side model.Side) (Result, error) {
	orders, err := e.orders.List(ctx, nil)
	if err != nil {
		return Result{}, fmt.Errorf("reading orders: %w", err)
	}
	return e.Apply(ctx, e.planner.Revert(orders, ledgerEntryID, side))
}

// Apply writes the plan's orders one at a time. A failed write is logged,
// recorded in the result and does not stop the remaining writes. The
// context is checked between writes; on cancellation the partial result
// is returned with the context error.
func (e *Engine) Apply(ctx context.Context, plan Plan) (Result, error) {
	res := Result{
		Plan:     plan,
		Warnings: append([]Warning(nil), plan.Warnings...),
	}

	var ctxErr error
	for _, w := range plan.Writes {
		if err := ctx.Err(); err != nil {
			ctxErr = err
			break
		}
		if err := e.orders.Put(ctx, w.Order); err != nil {
			logging.LogError(e.logger, "allocation", "Apply", "writing order", map[string]string{
				"op":            string(plan.Op),
				"ledgerEntryId": plan.LedgerEntryID,
				"orderId":       w.OrderID,
			}, err)
			res.Failed = append(res.Failed, WriteFailure{OrderID: w.OrderID, Err: err})
			res.Warnings = append(res.Warnings, Warning{
				Kind:             OrderWriteFailure,
				LedgerEntryID:    plan.LedgerEntryID,
				CounterpartyKind: plan.CounterpartyKind,
				Counterparty:     plan.Counterparty,
				OrderID:          w.OrderID,
				Amount:           plan.Amount,
				Placed:           plan.Placed,
				Message:          fmt.Sprintf("writing order %s: %v", w.OrderID, err),
			})
			continue
		}
		res.Applied = append(res.Applied, w.OrderID)
	}

	for _, w := range res.Warnings {
		e.logger.WithFields(logrus.Fields{
			"kind":          w.Kind,
			"ledgerEntryId": w.LedgerEntryID,
			"counterparty":  w.Counterparty,
		}).Debug(w.Message)
	}

	if e.recorder != nil && len(plan.Writes) > 0 {
		if err := e.recorder.Record(ctx, res); err != nil {
			e.logger.WithError(err).Warn("recording allocation result")
		}
	}
	return res, ctxErr
}

func (e *Engine) ordersFor(ctx context.Context, kind model.CounterpartyKind, name string) ([]model.Order, error) {
	f := model.CounterpartyFilter(kind, name)
	if f == nil {
		return nil, nil
	}
	orders, err := e.orders.List(ctx, store.Filter(f))
	if err != nil {
		return nil, fmt.Errorf("reading orders for %s %q: %w", kind, name, err)
	}
	return orders, nil
}

// Lock takes the counterparty lock when a locker is configured and returns
// its release function. Failure to lock is logged and the caller continues
// unlocked.
func (e *Engine) Lock(ctx context.Context, kind model.CounterpartyKind, name string) func() {
	if e.locker == nil || kind == model.KindNone {
		return func() {}
	}
	key := lock.Key(string(kind), name)
	unlock, err := e.locker.Lock(ctx, key)
	if err != nil {
		e.logger.WithError(err).WithField("key", key).Warn("proceeding without counterparty lock")
		return func() {}
	}
	return unlock
}
