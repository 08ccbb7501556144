package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// DefaultSchedule runs reconciliation every quarter hour.
const DefaultSchedule = "@every 15m"

// Reconciler is the part of Service the scheduler drives.
type Reconciler interface {
	ReconcileAll(ctx context.Context) ([]Report, error)
}

// Scheduler runs ReconcileAll on a cron schedule. Overlapping runs are
// skipped.
type Scheduler struct {
	cron       *cron.Cron
	reconciler Reconciler
	logger     logrus.FieldLogger
	timeout    time.Duration

	mu      sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewScheduler registers the reconcile job. spec is any robfig/cron
// expression, including descriptors such as "@every 15m".
func NewScheduler(reconciler Reconciler, spec string, logger logrus.FieldLogger) (*Scheduler, error) {
	if spec == "" {
		spec = DefaultSchedule
	}
	s := &Scheduler{
		cron:       cron.New(cron.WithLocation(time.UTC)),
		reconciler: reconciler,
		logger:     logger.WithField("module", "reconcile"),
		timeout:    10 * time.Minute,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	if _, err := s.cron.AddFunc(spec, s.RunOnce); err != nil {
		return nil, fmt.Errorf("parsing reconcile schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start begins running the job in the background.
func (s *Scheduler) Start() {
	s.logger.Info("reconcile scheduler started")
	s.cron.Start()
}

// Stop cancels any run in progress and waits for it to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info("reconcile scheduler stopped")
}

// RunOnce runs a single reconciliation and logs its summary.
func (s *Scheduler) RunOnce() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Warn("previous reconcile still running, skipping")
		return
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	start := time.Now()
	reports, err := s.reconciler.ReconcileAll(ctx)
	if err != nil {
		s.logger.WithError(err).Error("reconcile run failed")
		return
	}

	var orphans, drift, failed int
	for _, r := range reports {
		orphans += r.OrphansRemoved()
		drift += len(r.Drift)
		failed += len(r.Failed)
		for _, d := range r.Drift {
			s.logger.WithFields(logrus.Fields{
				"ledgerEntryId": d.LedgerEntryID,
				"amount":        d.Amount.String(),
				"tagged":        d.Tagged.String(),
			}).Warn("allocation drift")
		}
	}
	s.logger.WithFields(logrus.Fields{
		"counterparties": len(reports),
		"orphans":        orphans,
		"drift":          drift,
		"failedWrites":   failed,
		"elapsed":        time.Since(start).String(),
	}).Info("reconcile run complete")
}
