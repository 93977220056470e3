// Package app assembles the ledger from configuration. The server and the
// operator CLI build the same graph so both see identical business rules.
package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"paysa/internal/config"
	"paysa/internal/handlers"
	"paysa/internal/metrics"
	"paysa/internal/repositories"
	"paysa/internal/repositories/cache"
	"paysa/internal/services/events"
	"paysa/internal/services/fx"
	"paysa/internal/services/kyc"
	"paysa/internal/services/limits"
	"paysa/internal/services/reconcile"
	"paysa/internal/services/settlement"
	"paysa/internal/services/transaction"
	"paysa/internal/services/wallet"
)

// App is the wired ledger.
type App struct {
	Config     config.Config
	Ledger     *transaction.Service
	Store      wallet.Store
	Connectors *settlement.Registry
	Reconciler *reconcile.Worker
	Metrics    *metrics.Prometheus
	Checks     map[string]handlers.Check

	closers []func() error
	logger  *slog.Logger
}

// Build connects every backend named in cfg. Close releases them.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	a := &App{
		Config:  cfg,
		Metrics: metrics.NewPrometheus(),
		Checks:  map[string]handlers.Check{},
		logger:  logger,
	}
	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Config

	var kycProvider kyc.Provider
	switch cfg.Store {
	case "memory":
		a.logger.Warn("using in-memory store; balances are lost on restart")
		a.Store = wallet.NewMemoryStore()
		kycProvider = kyc.NewStaticProvider(nil)
	case "postgres":
		db, err := repositories.Open(cfg.Database)
		if err != nil {
			return err
		}
		a.onClose(func() error { return repositories.Close(db) })
		if err := repositories.Migrate(db); err != nil {
			return err
		}
		a.Store = wallet.NewGormStore(repositories.NewWalletRepository(db))
		kycProvider = kyc.NewGormProvider(db)
		a.Checks["database"] = func(context.Context) error { return repositories.Ping(db) }
		a.logger.Info("postgres store ready")
	default:
		return fmt.Errorf("unknown store %q", cfg.Store)
	}

	var (
		txCache  transaction.Cache
		rateHits fx.Cache
	)
	if cfg.Redis.Enabled {
		client := cache.NewRedisClient(&cache.RedisConfig{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		svc := cache.NewCacheService(client, cfg.Redis.TTL)
		a.onClose(svc.Close)
		if err := svc.HealthCheck(ctx); err != nil {
			a.logger.Warn("redis unavailable, continuing without cache", "error", err)
		} else {
			txCache = cache.NewTransactionCache(svc, cfg.Redis.TTL, a.logger)
			rateHits = svc
			a.logger.Info("redis cache ready", "host", cfg.Redis.Host)
		}
		a.Checks["redis"] = svc.HealthCheck
	}

	rates, err := loadRates(cfg.Ledger.FXRatesFile, a.logger)
	if err != nil {
		return err
	}
	var rateSource fx.RateSource = rates
	if rateHits != nil {
		rateSource = fx.NewCachedSource(rates, rateHits, cfg.Redis.TTL, a.logger)
	}

	a.Connectors = connectors(cfg, a.logger)

	publisher, err := a.publisher(cfg)
	if err != nil {
		return err
	}

	perCurrency := make(map[string]limits.Caps, len(cfg.Ledger.CurrencyLimits))
	for cur, l := range cfg.Ledger.CurrencyLimits {
		perCurrency[cur] = limits.Caps{Daily: l.Daily, Monthly: l.Monthly}
	}
	tracker := limits.NewTracker(limits.Config{
		Default:     limits.Caps{Daily: cfg.Ledger.DailyLimit, Monthly: cfg.Ledger.MonthlyLimit},
		PerCurrency: perCurrency,
		Location:    cfg.Ledger.LimitLocation,
	})

	a.Ledger = transaction.NewService(transaction.Deps{
		Store:      a.Store,
		Limits:     tracker,
		Rates:      rateSource,
		Connectors: a.Connectors,
		KYC:        kycProvider,
		Events:     publisher,
		Cache:      txCache,
		Metrics:    a.Metrics,
		Logger:     a.logger,
	}, transaction.Config{
		Currencies:         cfg.Ledger.Currencies,
		CashMethods:        cfg.Ledger.CashMethods,
		FXMarkup:           cfg.Ledger.FXMarkup,
		CashFees:           cfg.Ledger.CashFees,
		CashOutMinTier:     cfg.Ledger.CashOutMinTier,
		SettlementTimeout:  cfg.Ledger.SettlementTimeout,
		MaxConflictRetries: cfg.Ledger.MaxConflictRetries,
	})

	a.Reconciler = reconcile.NewWorker(a.Store, a.Connectors, a.Ledger, reconcile.Config{
		Interval:  cfg.Ledger.ReconcileInterval,
		Grace:     cfg.Ledger.ReconcileGrace,
		BatchSize: cfg.Ledger.ReconcileBatchSize,
		Timeout:   cfg.Ledger.SettlementTimeout,
	}, a.Metrics, a.logger)
	return nil
}

// loadRates reads the rate table. A missing file leaves only same-currency transfers possible.
func loadRates(path string, logger *slog.Logger) (*fx.StaticSource, error) {
	if path == "" {
		return fx.NewStaticSource(), nil
	}
	rates, err := fx.LoadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Warn("fx rate table not found; cross-currency transfers will be rejected", "path", path)
			return fx.NewStaticSource(), nil
		}
		return nil, err
	}
	return rates, nil
}

// connectors routes Stripe methods to Stripe. Outside production every other
// method falls back to the simulated rail.
func connectors(cfg config.Config, logger *slog.Logger) *settlement.Registry {
	var fallback settlement.Connector
	if cfg.Env != "production" {
		fallback = settlement.NewSimulated()
	}
	registry := settlement.NewRegistry(fallback)
	if cfg.Stripe.SecretKey != "" {
		stripe := settlement.NewStripeConnector(cfg.Stripe.SecretKey)
		rps := cfg.Stripe.RPS
		if rps <= 0 {
			rps = 20
		}
		registry.Register(settlement.NewRateLimited(stripe, float64(rps), rps), cfg.Stripe.Methods...)
		logger.Info("stripe connector registered", "methods", cfg.Stripe.Methods)
	}
	return registry
}

func (a *App) publisher(cfg config.Config) (events.Publisher, error) {
	var next events.Publisher = events.NewLogPublisher(a.logger)
	if cfg.RabbitMQ.Enabled {
		rabbit, err := events.NewRabbitMQPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange)
		if err != nil {
			return nil, err
		}
		a.onClose(rabbit.Close)
		next = events.Fanout{rabbit, next}
		a.logger.Info("rabbitmq publisher ready", "exchange", cfg.RabbitMQ.Exchange)
	}
	async := events.NewAsyncPublisher(next, cfg.Ledger.EventQueueSize, cfg.Ledger.EventWorkers, a.logger, a.Metrics)
	// Drain queued events before the broker connection closes.
	a.onClose(func() error { async.Close(); return nil })
	return async, nil
}

func (a *App) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("shutdown step failed", "error", err)
		}
	}
	a.closers = nil
}
