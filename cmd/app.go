package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/CameronXie/payment-lifecycle/internal/api/rest"
	"github.com/CameronXie/payment-lifecycle/internal/api/rest/handlers"
	"github.com/CameronXie/payment-lifecycle/internal/api/rest/middlewares"
	"github.com/CameronXie/payment-lifecycle/internal/config"
	"github.com/CameronXie/payment-lifecycle/internal/decisionmaker/casbin"
	"github.com/CameronXie/payment-lifecycle/internal/events"
	"github.com/CameronXie/payment-lifecycle/internal/events/natsstan"
	"github.com/CameronXie/payment-lifecycle/internal/keyfetcher"
	"github.com/CameronXie/payment-lifecycle/internal/lifecycle"
	"github.com/CameronXie/payment-lifecycle/internal/orders"
	"github.com/CameronXie/payment-lifecycle/internal/payments"
	"github.com/CameronXie/payment-lifecycle/internal/provider"
	"github.com/CameronXie/payment-lifecycle/internal/provider/dev"
	"github.com/CameronXie/payment-lifecycle/internal/provider/stripe"
	"github.com/CameronXie/payment-lifecycle/internal/repository"
	"github.com/CameronXie/payment-lifecycle/internal/repository/memory"
	"github.com/CameronXie/payment-lifecycle/internal/repository/postgres"
	"github.com/CameronXie/payment-lifecycle/internal/repository/sqlite"
	"github.com/CameronXie/payment-lifecycle/internal/reservation"
)

// schemaStore is a store that can create its own tables.
type schemaStore interface {
	EnsureSchema(ctx context.Context) error
}

// app holds the components shared by every command.
type app struct {
	cfg          *config.Config
	logger       *slog.Logger
	store        repository.Store
	machine      *lifecycle.Machine
	provider     provider.Provider
	catalog      *provider.Catalog
	reservations *reservation.Manager
	closers      []func() error
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	a.store = store

	publisher, err := a.newPublisher()
	if err != nil {
		a.Close()
		return nil, err
	}

	a.provider = newProvider(cfg.Provider, logger)
	a.catalog = provider.NewCatalog(a.provider.Name())
	a.reservations = reservation.NewManager(cfg.Reservation.TTL, reservation.WithGrace(cfg.Reservation.Grace))
	a.machine = lifecycle.NewMachine(store, publisher, logger)
	return a, nil
}

// Close releases connections in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

func (a *app) openStore(ctx context.Context) (repository.Store, error) {
	cfg := a.cfg.Store
	a.logger.Info("store_opening", "driver", cfg.Driver)

	switch cfg.Driver {
	case config.StorePostgres:
		pool, err := pgxpool.New(ctx, cfg.Postgres.DSN())
		if err != nil {
			return nil, fmt.Errorf("create_pool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ping_db: %w", err)
		}
		a.closers = append(a.closers, func() error {
			pool.Close()
			return nil
		})
		return postgres.NewOrderRepository(pool), nil
	case config.StoreSQLite:
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		return sqlite.NewOrderRepository(db), nil
	default:
		return memory.NewOrderStore(), nil
	}
}

func (a *app) newPublisher() (events.Publisher, error) {
	logPublisher := events.NewLogPublisher(a.logger)
	if a.cfg.Events.Driver != config.EventsStan {
		return logPublisher, nil
	}

	stanPublisher, err := natsstan.Connect(stanConfig(a.cfg.Events.Stan))
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, stanPublisher.Close)
	a.logger.Info("events_connected", "url", a.cfg.Events.Stan.URL, "subject", a.cfg.Events.Stan.Subject)
	return events.Multi{logPublisher, stanPublisher}, nil
}

func stanConfig(cfg config.StanConfig) natsstan.Config {
	return natsstan.Config{
		ClusterID: cfg.ClusterID,
		ClientID:  cfg.ClientID,
		URL:       cfg.URL,
		Subject:   cfg.Subject,
		Durable:   cfg.Durable,
	}
}

// newProvider picks the live Stripe provider when a secret key is configured.
func newProvider(cfg config.ProviderConfig, logger *slog.Logger) provider.Provider {
	if cfg.Live() {
		logger.Info("provider_selected", "provider", stripe.Name)
		return stripe.New(stripe.Config{
			SecretKey:     cfg.Stripe.SecretKey,
			WebhookSecret: cfg.Stripe.WebhookSecret,
			Timeout:       cfg.Timeout,
			MaxRetries:    cfg.Stripe.MaxRetries,
		}, logger)
	}

	logger.Warn("provider_selected", "provider", dev.Name, "reason", "no stripe secret key configured")
	if cfg.Dev.WebhookSecret == config.DefaultDevWebhookSecret {
		logger.Warn("default_dev_webhook_secret", "key", "provider.dev.webhook_secret")
	}
	return dev.New(cfg.Dev.WebhookSecret)
}

func (a *app) sweeper() *lifecycle.Sweeper {
	return lifecycle.NewSweeper(
		a.store,
		a.machine,
		a.reservations,
		a.logger,
		lifecycle.WithInterval(a.cfg.Reservation.SweepInterval),
		lifecycle.WithBatch(a.cfg.Reservation.SweepBatch),
	)
}

// migrate creates the store schema and seeds persisted casbin policy.
func (a *app) migrate(ctx context.Context) error {
	if s, ok := a.store.(schemaStore); ok {
		if err := s.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure_schema: %w", err)
		}
		a.logger.Info("store_migrated", "driver", a.cfg.Store.Driver)
	}

	if a.cfg.Authz.Engine != config.EngineCasbin || a.cfg.Authz.MySQLDSN == "" {
		return nil
	}

	adapter, err := casbin.NewMySQLAdapter(a.cfg.Authz.MySQLDSN)
	if err != nil {
		return err
	}
	added, err := casbin.Seed(casbin.Model, adapter, casbin.DefaultRules)
	if err != nil {
		return fmt.Errorf("seed_policy: %w", err)
	}
	a.logger.Info("policy_seeded", "added", added)
	return nil
}

func (a *app) router() (http.Handler, error) {
	e, err := newEnforcer(a.cfg.Authz, a.logger)
	if err != nil {
		return nil, err
	}

	orderService := orders.NewService(
		a.store,
		a.machine,
		a.logger,
		orders.WithDefaultCurrency(a.cfg.DefaultCurrency),
	)
	timeout := a.cfg.Provider.Timeout

	return rest.NewRouter(&rest.RouterConfig{
		OrderHandler: handlers.NewOrderHandler(orderService, e, a.logger),
		PaymentHandler: handlers.NewPaymentHandler(
			orderService,
			payments.NewSessionService(a.store, a.machine, a.provider, a.catalog, a.reservations, timeout, a.logger),
			payments.NewConfirmationService(a.store, a.machine, a.provider, timeout, a.logger),
			a.catalog,
			e,
			a.logger,
		),
		WebhookHandler: handlers.NewWebhookHandler(
			payments.NewWebhookReconciler(a.store, a.machine, a.provider, a.logger),
			a.logger,
		),
		AuthenticationMiddleware: middlewares.NewJWTAuthenticationMiddleware(middlewares.JWTConfig{
			KeyFetcher: keyfetcher.CachedPublicKey(publicKeyFetcher(a.cfg.JWT)),
			Issuer:     a.cfg.JWT.Issuer,
			Audience:   a.cfg.JWT.Audience,
			ClockSkew:  a.cfg.JWT.ClockSkew,
		}, a.logger),
		RequestLogger: middlewares.NewRequestLogger(a.logger),
	}), nil
}

func publicKeyFetcher(cfg config.JWTConfig) keyfetcher.PublicKeyFetcher {
	if cfg.PublicKeyFile != "" {
		return keyfetcher.FromFile(cfg.PublicKeyFile)
	}
	return keyfetcher.FromBase64(cfg.PublicKey)
}

func privateKeyFetcher(cfg config.JWTConfig) keyfetcher.PrivateKeyFetcher {
	if cfg.PrivateKeyFile != "" {
		return keyfetcher.FromFile(cfg.PrivateKeyFile)
	}
	return keyfetcher.FromBase64(cfg.PrivateKey)
}
