package reconcile

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/haulbook-dev/haulbook/internal/allocation"
	"github.com/haulbook-dev/haulbook/internal/allocationlog"
)

// Repair is the outcome of re-running one ledger entry's allocation.
type Repair struct {
	LedgerEntryID string
	// Missing is set when the entry no longer exists. Its records are
	// orphans and are stripped by the next reconciliation.
	Missing bool
	Result  allocation.Result
	Err     error
}

// Resolved reports whether the entry's allocation is now complete.
func (r Repair) Resolved() bool {
	return r.Err == nil && (r.Missing || r.Result.Complete())
}

// Repair re-runs a preserve-first redistribution for every ledger entry
// named by an unresolved allocation log row. Records that were written
// stay put and the writes that failed are planned again. Per-entry errors
// are kept in the returned Repair; only a cancelled context stops the run.
func (s *Service) Repair(ctx context.Context, unresolved []allocationlog.Entry) ([]Repair, error) {
	seen := make(map[string]bool)
	var ids []string
	for _, e := range unresolved {
		if e.LedgerEntryID == "" || seen[e.LedgerEntryID] {
			continue
		}
		seen[e.LedgerEntryID] = true
		ids = append(ids, e.LedgerEntryID)
	}
	sort.Strings(ids)

	var out []Repair
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		r := Repair{LedgerEntryID: id}
		res, err := s.engine.Redistribute(ctx, id, time.Time{})
		switch {
		case errors.Is(err, allocation.ErrEntryNotFound):
			r.Missing = true
		case err != nil:
			r.Err = err
		default:
			r.Result = res
		}

		fields := logrus.Fields{"ledgerEntryId": id, "resolved": r.Resolved()}
		if r.Err != nil {
			s.logger.WithError(r.Err).WithFields(fields).Warn("repairing allocation")
		} else {
			s.logger.WithFields(fields).Info("repaired allocation")
		}
		out = append(out, r)
	}
	return out, nil
}

// ResolvedRows returns the unresolved rows whose ledger entry was repaired.
func ResolvedRows(unresolved []allocationlog.Entry, repairs []Repair) []allocationlog.Entry {
	done := make(map[string]bool, len(repairs))
	for _, r := range repairs {
		if r.Resolved() {
			done[r.LedgerEntryID] = true
		}
	}
	var out []allocationlog.Entry
	for _, e := range unresolved {
		if done[e.LedgerEntryID] {
			out = append(out, e)
		}
	}
	return out
}
