// SPDX-License-Identifier: MIT

package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/genscene/genscene/internal/config"
	"github.com/genscene/genscene/internal/dispatch"
)

// App owns the long-lived runtime lifecycle (config watcher, reload wiring,
// job workers, maintenance scheduler) and delegates server management to
// Manager.
type App struct {
	logger       zerolog.Logger
	manager      Manager
	cfgHolder    *config.Holder
	dispatcher   *dispatch.Manager
	scheduler    *cron.Cron
	reloadSignal os.Signal
}

// NewApp creates a new App orchestrator. Holder, dispatcher and scheduler
// are optional; nil skips the corresponding subsystem.
func NewApp(logger zerolog.Logger, manager Manager, cfgHolder *config.Holder, dispatcher *dispatch.Manager, scheduler *cron.Cron) *App {
	return &App{
		logger:       logger,
		manager:      manager,
		cfgHolder:    cfgHolder,
		dispatcher:   dispatcher,
		scheduler:    scheduler,
		reloadSignal: syscall.SIGHUP,
	}
}

// Run starts all owned background subsystems and blocks until ctx is
// cancelled or a fatal error occurs.
func (a *App) Run(ctx context.Context) error {
	if a.manager == nil {
		return ErrMissingManager
	}

	g, ctx := errgroup.WithContext(ctx)

	// Config watcher is best-effort: startup should not fail if the watcher
	// cannot be started.
	if a.cfgHolder != nil {
		if err := a.cfgHolder.StartWatcher(ctx); err != nil {
			a.logger.Warn().Err(err).Str("event", "config.watcher_start_failed").Msg("failed to start config watcher")
		}
	}

	// SIGHUP trigger for manual reload.
	if a.cfgHolder != nil && a.reloadSignal != nil {
		g.Go(func() error {
			hupChan := make(chan os.Signal, 1)
			signal.Notify(hupChan, a.reloadSignal)
			defer signal.Stop(hupChan)

			for {
				select {
				case <-ctx.Done():
					return nil
				case <-hupChan:
					a.logger.Info().
						Str("event", "config.reload_signal").
						Str("signal", a.reloadSignal.String()).
						Msg("received reload signal, reloading config")

					if err := a.cfgHolder.Reload(context.Background()); err != nil {
						a.logger.Warn().
							Err(err).
							Str("event", "config.reload_failed").
							Msg("config reload failed")
					}
				}
			}
		})
	}

	// Crash recovery runs before workers pick up jobs: unfinished work is
	// re-queued and refunds a crash swallowed are issued. A failed refund
	// sweep is not fatal, the next start retries it.
	if a.dispatcher != nil {
		requeued, err := a.dispatcher.Recover(ctx)
		if err != nil {
			return fmt.Errorf("recover unfinished jobs: %w", err)
		}
		if requeued > 0 {
			a.logger.Info().
				Str("event", "dispatch.recovered").
				Int("requeued", requeued).
				Msg("re-queued unfinished jobs")
		}

		refunded, err := a.dispatcher.Reconcile(ctx)
		if err != nil {
			a.logger.Warn().
				Err(err).
				Str("event", "dispatch.reconcile_failed").
				Msg("refund reconciliation failed")
		} else if refunded > 0 {
			a.logger.Info().
				Str("event", "dispatch.reconciled").
				Int("refunded", refunded).
				Msg("issued refunds for terminal failures")
		}

		g.Go(func() error {
			return a.dispatcher.Run(ctx)
		})
	}

	// Maintenance scheduler (owned by the daemon; stops via ctx, waiting
	// for running entries to finish).
	if a.scheduler != nil {
		a.scheduler.Start()
		g.Go(func() error {
			<-ctx.Done()
			<-a.scheduler.Stop().Done()
			return nil
		})
	}

	// Main server lifecycle.
	g.Go(func() error {
		err := a.manager.Start(ctx)
		if err != nil {
			_ = a.manager.Shutdown(context.Background())
		}
		return err
	})

	return g.Wait()
}
