package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/example/notification-pipeline/internal/config"
	"github.com/example/notification-pipeline/internal/events"
	"github.com/example/notification-pipeline/internal/events/kafka"
	"github.com/example/notification-pipeline/internal/logger"
	"github.com/example/notification-pipeline/internal/notifier"
	"github.com/example/notification-pipeline/internal/observability"
	"github.com/example/notification-pipeline/internal/pipeline"
	"github.com/example/notification-pipeline/internal/providers/factory"
	"github.com/example/notification-pipeline/internal/providers/manager"
	"github.com/example/notification-pipeline/internal/repository"
	"github.com/example/notification-pipeline/internal/retry"
	"github.com/example/notification-pipeline/internal/store"
	"github.com/example/notification-pipeline/internal/store/natskv"
	"github.com/example/notification-pipeline/internal/tasks"
	"github.com/example/notification-pipeline/internal/templating"
)

// app holds the wired service. close releases everything in reverse order.
type app struct {
	cfg      *config.Config
	log      zerolog.Logger
	registry *prometheus.Registry
	manager  *manager.Manager
	metrics  *observability.Metrics
	audit    *observability.AuditLog
	tasks    *tasks.Runner
	bus      events.Bus
	notifier *notifier.Notifier

	closers []func() error
}

// loadApp reads configuration and wires the service. withBus controls
// whether an event bus is dialled.
func loadApp(withBus bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	base, err := logger.New(cfg.App.Env, cfg.App.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("logger init: %w", err)
	}
	log := logger.Service(*base, "notifyd", Version)
	return buildApp(cfg, log, withBus)
}

func buildApp(cfg *config.Config, log zerolog.Logger, withBus bool) (*app, error) {
	a := &app{cfg: cfg, log: log, registry: prometheus.NewRegistry()}

	st, err := a.openStore()
	if err != nil {
		return nil, err
	}
	templates := repository.NewTemplateRepository(st, log)
	logs := repository.NewLogRepository(st, log)

	a.manager = manager.New(log, manager.WithCheckTimeout(cfg.Health.CheckTimeout))
	if err := factory.Register(a.manager, cfg.Providers, log); err != nil {
		a.close()
		return nil, fmt.Errorf("register providers: %w", err)
	}

	a.metrics, err = observability.NewMetrics(
		observability.WithLatencyWindow(cfg.Observability.LatencyWindow),
		observability.WithRegisterer(a.registry),
	)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("metrics init: %w", err)
	}
	a.audit = observability.NewAuditLog(log,
		observability.WithMaxEntries(cfg.Observability.AuditMaxEntries),
		observability.WithRetention(cfg.Observability.AuditRetention),
	)
	a.tasks = tasks.NewRunner(cfg.Tasks.Concurrency, tasks.WithTimeout(cfg.Tasks.Timeout), tasks.WithLogger(log))

	engine := templating.New(
		templating.WithLogger(log),
		templating.WithLocale(cfg.App.Locale),
		templating.WithCurrencySuffix(cfg.App.CurrencySuffix),
	)
	branding := pipeline.Branding{
		Name:         cfg.App.BrandName,
		SupportEmail: cfg.App.SupportEmail,
		FromName:     cfg.Providers.SMTP.FromName,
	}

	p, err := pipeline.New(pipeline.Dependencies{
		Templates:     templates,
		Usage:         templates,
		Logs:          logs,
		Router:        a.manager,
		Metrics:       a.metrics,
		Audit:         a.audit,
		Tasks:         a.tasks,
		Engine:        engine,
		Transactional: retry.New("transactional", retryConfig(cfg.Retry.Transactional, cfg.Retry)),
		Branding:      branding,
		SendTimeout:   cfg.Providers.Timeout,
		Logger:        log,
	})
	if err != nil {
		a.close()
		return nil, err
	}

	a.notifier, err = notifier.New(notifier.Dependencies{
		Pipeline:  p,
		Templates: templates,
		Logs:      logs,
		Providers: a.manager,
		Metrics:   a.metrics,
		Engine:    engine,
		Marketing: retry.New("marketing", retryConfig(cfg.Retry.Marketing, cfg.Retry)),
		Branding:  branding,
		BulkDelay: cfg.Providers.BulkSendDelay,
		Logger:    log,
	})
	if err != nil {
		a.close()
		return nil, err
	}

	if withBus {
		if err := a.openBus(); err != nil {
			a.close()
			return nil, err
		}
	}
	return a, nil
}

func (a *app) openStore() (store.EntityStore, error) {
	if a.cfg.Store.Backend != config.BackendNATS {
		return store.NewMemory(), nil
	}
	buckets := map[string]string{
		store.CollectionTemplates: a.cfg.Store.TemplatesBucket,
		store.CollectionLogs:      a.cfg.Store.LogsBucket,
	}
	st, closeConn, err := natskv.Connect(a.cfg.Store.NATSURL, buckets, a.log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error {
		closeConn()
		return nil
	})
	a.log.Info().Str("url", a.cfg.Store.NATSURL).Msg("using nats key-value store")
	return st, nil
}

func (a *app) openBus() error {
	switch a.cfg.Bus.Backend {
	case config.BackendKafka:
		bus, err := kafka.Dial(a.cfg.Bus.Brokers, a.cfg.Bus.EventsTopic, a.cfg.Bus.ConsumerGroup, a.cfg.Bus.CommitOnSuccessOnly, a.log)
		if err != nil {
			return fmt.Errorf("kafka bus: %w", err)
		}
		a.bus = bus
	default:
		a.bus = events.NewMemoryBus(a.log)
	}
	a.closers = append(a.closers, a.bus.Close)

	if _, err := a.notifier.Subscribe(a.bus); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	return nil
}

func (a *app) close() {
	if a.tasks != nil {
		ctx, cancel := waitTimeout(a.cfg.Tasks.Timeout)
		if err := a.tasks.Wait(ctx); err != nil {
			a.log.Warn().Err(err).Msg("background tasks still running at shutdown")
		}
		cancel()
		_ = a.tasks.Close(context.Background())
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Error().Err(err).Msg("shutdown step failed")
		}
	}
	a.closers = nil
}

func retryConfig(p config.RetryPolicyConfig, shared config.RetryConfig) retry.Config {
	return retry.Config{
		MaxRetries: p.MaxRetries,
		BaseDelay:  p.BaseDelay,
		MaxDelay:   p.MaxDelay,
		Multiplier: shared.Multiplier,
		Jitter:     shared.Jitter,
	}
}

func waitTimeout(d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = 10 * time.Second
	}
	return context.WithTimeout(context.Background(), d)
}
