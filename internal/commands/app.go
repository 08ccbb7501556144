package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/haulbook-dev/haulbook/internal/allocation"
	"github.com/haulbook-dev/haulbook/internal/allocationlog"
	"github.com/haulbook-dev/haulbook/internal/config"
	"github.com/haulbook-dev/haulbook/internal/counterparty"
	"github.com/haulbook-dev/haulbook/internal/gitops"
	"github.com/haulbook-dev/haulbook/internal/ledger"
	"github.com/haulbook-dev/haulbook/internal/lifecycle"
	"github.com/haulbook-dev/haulbook/internal/lock"
	"github.com/haulbook-dev/haulbook/internal/logging"
	"github.com/haulbook-dev/haulbook/internal/model"
	"github.com/haulbook-dev/haulbook/internal/notify"
	"github.com/haulbook-dev/haulbook/internal/paid"
	"github.com/haulbook-dev/haulbook/internal/reconcile"
	"github.com/haulbook-dev/haulbook/internal/store"
	"github.com/haulbook-dev/haulbook/internal/store/filestore"
	"github.com/haulbook-dev/haulbook/internal/store/memory"
	"github.com/haulbook-dev/haulbook/internal/store/postgres"
)

// Collection names shared by every storage backend.
const (
	collectionOrders        = "orders"
	collectionLedger        = "ledger_entries"
	collectionPartyPayments = "party_payments"
)

// app holds everything a command needs, wired from haulbook.yaml.
type app struct {
	root   string
	cfg    *config.Config
	logger *logrus.Logger

	orders   store.Store[model.Order]
	ledger   store.Store[model.LedgerEntry]
	payments store.Store[model.PartyPayment]

	directory   *counterparty.Service
	evaluator   paid.Evaluator
	engine      *allocation.Engine
	projection  *lifecycle.Projection
	coordinator *lifecycle.Coordinator
	reconciler  *reconcile.Service

	closers []func()
}

// openApp loads the data directory at root and wires the stack.
func openApp(ctx context.Context, root string) (*app, error) {
	cfg, err := config.Load(filepath.Join(root, config.FileName))
	if err != nil {
		return nil, err
	}
	if err := config.ApplyEnv(cfg, filepath.Join(root, ".env")); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", config.FileName, err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}
	a := &app{root: root, cfg: cfg, logger: logger}

	if err := a.openStores(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.directory, err = counterparty.Load(root)
	if err != nil {
		a.Close()
		return nil, err
	}

	tolerance, err := cfg.Tolerance()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.evaluator = paid.NewEvaluator(tolerance)

	locker, err := a.openLocker(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.engine = allocation.NewEngine(allocation.Options{
		Orders:    a.orders,
		Ledger:    a.ledger,
		Evaluator: a.evaluator,
		Logger:    logger,
		Recorder:  allocationlog.NewRecorder(root),
		Locker:    locker,
		Note:      cfg.Allocation.Note,
	})
	a.projection = lifecycle.NewProjection(a.ledger, a.payments, logger)
	a.coordinator = lifecycle.NewCoordinator(lifecycle.Options{
		Ledger:     a.ledger,
		Orders:     a.orders,
		Engine:     a.engine,
		Projection: a.projection,
		Validator:  ledger.NewValidator(a.directory),
		Notifier:   a.notifier(),
		Logger:     logger,
	})
	a.reconciler = reconcile.NewService(a.orders, a.ledger, a.engine, logger)
	return a, nil
}

func (a *app) openStores(ctx context.Context) error {
	switch a.cfg.Storage.Backend {
	case config.BackendMemory:
		a.orders = memory.New[model.Order]()
		a.ledger = memory.New[model.LedgerEntry]()
		a.payments = memory.New[model.PartyPayment]()
	case config.BackendPostgres:
		pool, err := postgres.Connect(ctx, a.cfg.Storage.PostgresDSN)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, pool.Close)
		a.orders = postgres.New[model.Order](pool, collectionOrders, a.logger)
		a.ledger = postgres.New[model.LedgerEntry](pool, collectionLedger, a.logger)
		a.payments = postgres.New[model.PartyPayment](pool, collectionPartyPayments, a.logger)
	default:
		orders, err := filestore.New[model.Order](a.root, collectionOrders)
		if err != nil {
			return err
		}
		entries, err := filestore.New[model.LedgerEntry](a.root, collectionLedger)
		if err != nil {
			return err
		}
		payments, err := filestore.New[model.PartyPayment](a.root, collectionPartyPayments)
		if err != nil {
			return err
		}
		a.orders, a.ledger, a.payments = orders, entries, payments
	}
	return nil
}

func (a *app) openLocker(ctx context.Context) (lock.Locker, error) {
	if a.cfg.Lock.Backend != config.LockRedis {
		return lock.NewLocal(), nil
	}
	ttl, err := a.cfg.LockTTL()
	if err != nil {
		return nil, err
	}
	locker, rdb, err := lock.NewRedis(ctx, lock.RedisOptions{
		Addr:     a.cfg.Lock.RedisAddr,
		Password: a.cfg.Lock.RedisPassword,
		DB:       a.cfg.Lock.RedisDB,
		TTL:      ttl,
	}, a.logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = rdb.Close() })
	return locker, nil
}

func (a *app) notifier() lifecycle.Notifier {
	n := notify.Multi{notify.NewLog(a.logger)}
	if len(a.cfg.Notify.KafkaBrokers) > 0 {
		k := notify.NewKafka(a.cfg.Notify.KafkaBrokers, a.cfg.Notify.KafkaTopic)
		a.closers = append(a.closers, func() {
			if err := k.Close(); err != nil {
				a.logger.WithError(err).Warn("closing kafka writer")
			}
		})
		n = append(n, k)
	}
	return n
}

// Close releases connections in reverse order of opening.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// commit records the data directory in git when auto_commit is on.
func (a *app) commit(message string) {
	if !a.cfg.Git.AutoCommit || !gitops.IsRepo(a.root) {
		return
	}
	hash, err := gitops.CommitAll(a.root, message, a.cfg.Git.AuthorName, a.cfg.Git.AuthorEmail)
	if err != nil {
		if errors.Is(err, gitops.ErrNothingToCommit) {
			return
		}
		a.logger.WithError(err).Warn("auto-commit failed")
		return
	}
	a.logger.WithField("commit", hash).Debug("auto-committed")
}

// resolveRoot returns the absolute data directory and checks it has been
// initialised.
func resolveRoot(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}
	if _, err := os.Stat(filepath.Join(abs, config.FileName)); err != nil {
		return "", fmt.Errorf("%s is not a haulbook directory (run haulbook init): %w", abs, err)
	}
	return abs, nil
}
