// Package runtime builds the marketplace process from configuration and
// manages the HTTP server lifecycle.
package runtime

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/nats-io/nats.go"

	app "github.com/devbridge/marketplace/internal/app"
	"github.com/devbridge/marketplace/internal/app/httpapi"
	"github.com/devbridge/marketplace/internal/app/storage/memory"
	"github.com/devbridge/marketplace/internal/app/storage/postgres"
	"github.com/devbridge/marketplace/internal/config"
	"github.com/devbridge/marketplace/internal/database"
	"github.com/devbridge/marketplace/internal/idempotency"
	"github.com/devbridge/marketplace/internal/middleware"
	"github.com/devbridge/marketplace/internal/notify"
	"github.com/devbridge/marketplace/internal/payments"
	"github.com/devbridge/marketplace/internal/platform/migrations"
	"github.com/devbridge/marketplace/pkg/logger"
)

const limiterIdle = 10 * time.Minute

// Application wires core dependencies and manages the HTTP server lifecycle.
type Application struct {
	cfg    *config.Config
	log    *logger.Logger
	app    *app.Application
	server *http.Server

	limiter *middleware.RateLimiter
	db      *sql.DB
	redis   *redis.Client
	nats    *nats.Conn
}

// NewApplication constructs the process from cfg.
func NewApplication(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.New(cfg.Logging)
	}
	a := &Application{cfg: cfg, log: log}

	stores, err := a.buildStores(ctx)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("configure stores: %w", err)
	}
	calc, err := cfg.Engine.Calculator()
	if err != nil {
		a.close()
		return nil, fmt.Errorf("configure calculator: %w", err)
	}
	notifier, err := a.buildNotifier()
	if err != nil {
		a.close()
		return nil, fmt.Errorf("configure notifications: %w", err)
	}
	idem, err := a.buildIdempotency(ctx)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("configure idempotency: %w", err)
	}

	a.app, err = app.New(stores, app.Options{
		Calculator:        calc,
		LeadCapacity:      cfg.Engine.LeadCapacity,
		MatchLimit:        cfg.Engine.MatchLimit,
		PoolStatsSchedule: cfg.Engine.PoolStatsSchedule,
		Gateway:           buildGateway(cfg.Payments, log),
		Notifier:          notifier,
	}, log)
	if err != nil {
		a.close()
		return nil, err
	}

	a.limiter = middleware.NewRateLimiter(cfg.Auth.ClaimRatePerSecond, cfg.Auth.ClaimBurst, log)
	handler := httpapi.NewHandler(httpapi.Dependencies{
		Leads:          a.app.Leads,
		Escrow:         a.app.Escrow,
		Matching:       a.app.Matching,
		Calculator:     a.app.Calculator,
		Audit:          a.app.Audit,
		Idempotency:    idem,
		IdempotencyTTL: cfg.Engine.IdempotencyTTL,
		JWTSecret:      []byte(cfg.Auth.JWTSecret),
		CallbackSecret: []byte(cfg.Payments.CallbackSecret),
		ClaimLimiter:   a.limiter,
		CORSOrigins:    cfg.Server.AllowedOrigins(),
		Log:            log,
	})
	a.server = &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}
	return a, nil
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *Application) Handler() http.Handler { return a.server.Handler }

// Run starts background services and the HTTP server and blocks until ctx
// is cancelled or the server fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.app.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}
	a.limiter.StartCleanup(ctx, limiterIdle)

	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("HTTP server listening on %s", a.cfg.Server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown drains the HTTP server, stops background services and closes
// connections.
func (a *Application) Shutdown(ctx context.Context) error {
	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var errs []error
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http server: %w", err))
	}
	if err := a.app.Stop(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	a.close()
	return stderrors.Join(errs...)
}

func (a *Application) close() {
	if a.nats != nil {
		if err := a.nats.Drain(); err != nil {
			a.log.WithError(err).Warn("error draining nats connection")
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.WithError(err).Warn("error closing redis client")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
	}
}

func (a *Application) buildStores(ctx context.Context) (app.Stores, error) {
	var stores app.Stores
	switch a.cfg.Store.Backend {
	case config.BackendPostgres:
		store, db, err := openPostgres(ctx, a.cfg.Database)
		if err != nil {
			return stores, err
		}
		a.db = db
		if a.cfg.Database.AutoMigrate {
			if err := migrations.Up(db); err != nil {
				return stores, err
			}
			a.log.Info("database migrations applied")
		}
		stores.Primary = store
	default:
		a.log.Warn("STORE_BACKEND=memory; state is lost on restart")
		stores.Primary = memory.New()
	}

	if a.cfg.Store.LeadStore == config.LeadStoreSupabase {
		client, err := database.NewClient(database.Config{
			URL:        a.cfg.Supabase.URL,
			ServiceKey: a.cfg.Supabase.ServiceKey,
			Timeout:    a.cfg.Supabase.Timeout,
		})
		if err != nil {
			return stores, err
		}
		repo := database.NewRepository(client)
		stores.Leads = repo
		stores.Developers = repo
		stores.Audit = repo
	}
	return stores, nil
}

func openPostgres(ctx context.Context, cfg config.DatabaseConfig) (*postgres.Store, *sql.DB, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	store, db, err := postgres.Open(connectCtx, cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return store, db, nil
}

func (a *Application) buildNotifier() (notify.Notifier, error) {
	notifiers := notify.Multi{notify.NewLogNotifier(a.log)}
	if url := a.cfg.NATS.URL; url != "" {
		conn, err := notify.ConnectNATS(url, "marketplace", a.log)
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		a.nats = conn
		notifiers = append(notifiers, notify.NewNATSNotifier(conn, a.cfg.NATS.SubjectPrefix))
	}
	if url := a.cfg.Webhook.URL; url != "" {
		notifiers = append(notifiers, notify.NewWebhookNotifier(url, a.cfg.Webhook.Token, a.cfg.Webhook.Timeout))
	}
	return notifiers, nil
}

func (a *Application) buildIdempotency(ctx context.Context) (idempotency.Store, error) {
	if a.cfg.Redis.Addr == "" {
		a.log.Warn("REDIS_ADDR not set; idempotency keys are kept in process memory")
		return idempotency.NewMemoryStore(), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	a.redis = client
	return idempotency.NewRedisStore(client, ""), nil
}

func buildGateway(cfg config.PaymentsConfig, log *logger.Logger) payments.Gateway {
	if cfg.Sandbox() {
		return payments.SandboxGateway{}
	}
	return payments.NewHTTPGateway(payments.Config{
		BaseURL:     cfg.BaseURL,
		APIKey:      cfg.APIKey,
		Currency:    cfg.Currency,
		CallbackURL: cfg.CallbackURL,
		Timeout:     cfg.Timeout,
		MaxRetries:  2,
	}, log)
}
