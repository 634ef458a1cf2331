package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/example/notification-pipeline/internal/httpapi"
)

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Consume domain events and serve the diagnostics API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to HTTP_ADDR)")
	return cmd
}

func serve(ctx context.Context, addr string) error {
	a, err := loadApp(true)
	if err != nil {
		return err
	}
	defer a.close()

	log := a.log
	fail := func(stage string, err error) error {
		log.Error().Err(err).Str("stage", stage).Msg("notifyd stopped")
		return err
	}

	if addr == "" {
		addr = a.cfg.App.HTTPAddr
	}

	srv, err := httpapi.New(httpapi.Dependencies{
		Notifier:  a.notifier,
		Metrics:   a.metrics,
		Audit:     a.audit,
		Providers: a.manager,
		Bus:       a.bus,
		Gatherer:  a.registry,
		Logger:    log,
	})
	if err != nil {
		return fail("http", err)
	}

	a.manager.StartHealthChecks(ctx, a.cfg.Health.Interval)
	defer a.manager.StopHealthChecks()
	a.audit.StartCleanup(ctx, a.cfg.Observability.AuditCleanupInterval)
	defer a.audit.Stop()

	log.Info().
		Str("bus", a.cfg.Bus.Backend).
		Str("store", a.cfg.Store.Backend).
		Str("primary_provider", a.cfg.Providers.Primary).
		Msg("notifyd started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.bus.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fail("bus", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := srv.Run(gctx, addr); err != nil {
			return fail("http", err)
		}
		return nil
	})

	err = g.Wait()
	log.Info().Msg("notifyd shutting down")
	return err
}
