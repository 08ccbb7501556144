package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/haulbook-dev/haulbook/internal/reconcile"
)

func newServeCommand(run runFunc) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run scheduled reconciliation and keep the party payment projection current",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, _ *cobra.Command, a *app, _ []string) error {
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			if _, err := a.projection.Rebuild(ctx); err != nil {
				return err
			}
			unwatch, err := a.projection.Watch(ctx)
			if err != nil {
				return err
			}
			defer unwatch()

			sched, err := reconcile.NewScheduler(a.reconciler, a.cfg.Reconcile.Schedule, a.logger)
			if err != nil {
				return err
			}
			sched.RunOnce()
			if once {
				return nil
			}

			sched.Start()
			a.logger.WithField("schedule", a.cfg.Reconcile.Schedule).Info("haulbook serving")
			<-ctx.Done()
			a.logger.Info("shutting down")
			sched.Stop()
			return nil
		}),
	}
	cmd.Flags().BoolVar(&once, "once", false, "reconcile once and exit")
	return cmd
}
