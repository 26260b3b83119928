// Package bootstrap wires configuration into the running services.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/prn-tf/premium-keys/internal/auth"
	"github.com/prn-tf/premium-keys/internal/cache/memory"
	"github.com/prn-tf/premium-keys/internal/config"
	"github.com/prn-tf/premium-keys/internal/domain"
	"github.com/prn-tf/premium-keys/internal/handler"
	"github.com/prn-tf/premium-keys/internal/keystore"
	"github.com/prn-tf/premium-keys/internal/lock"
	"github.com/prn-tf/premium-keys/internal/metrics"
	"github.com/prn-tf/premium-keys/internal/platform"
	"github.com/prn-tf/premium-keys/internal/repository"
	"github.com/prn-tf/premium-keys/internal/repository/postgres"
	"github.com/prn-tf/premium-keys/internal/repository/sqlite"
	"github.com/prn-tf/premium-keys/internal/service"
	"github.com/prn-tf/premium-keys/internal/storage"
	"github.com/prn-tf/premium-keys/internal/storage/filesystem"
	"github.com/prn-tf/premium-keys/internal/storage/redisstore"
	"github.com/prn-tf/premium-keys/internal/storage/s3store"
)

// MetricsNamespace prefixes every exported metric.
const MetricsNamespace = "premium_keys"

// App holds the wired services of one process.
type App struct {
	Config  *config.Config
	Logger  zerolog.Logger
	Metrics *metrics.Metrics

	Store    *keystore.Store
	Backend  storage.Backend
	Repos    *repository.Repositories
	Platform platform.Client
	Notifier *platform.Notifier
	Locker   *lock.MemoryLocker

	Keys       *service.KeyService
	Sync       *service.SyncService
	Reconciler *service.Reconciler

	authCache   *memory.Cache
	redisClient *redis.Client
	closers     []io.Closer
}

// Option customizes New.
type Option func(*options)

type options struct {
	platform platform.Client
	clock    domain.Clock
	backend  storage.Backend
}

// WithPlatform replaces the configured platform client.
func WithPlatform(client platform.Client) Option {
	return func(o *options) { o.platform = client }
}

// WithClock replaces the system clock.
func WithClock(clock domain.Clock) Option {
	return func(o *options) { o.clock = clock }
}

// WithBackend replaces the configured snapshot backend.
func WithBackend(backend storage.Backend) Option {
	return func(o *options) { o.backend = backend }
}

// New builds every service from cfg and loads the key store.
// A failed snapshot load is logged and the store starts empty.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	app := &App{
		Config: cfg,
		Logger: logger,
		Locker: lock.NewMemoryLocker(),
	}
	if cfg.Metrics.Enabled {
		app.Metrics = metrics.New(MetricsNamespace)
	}

	ok := false
	defer func() {
		if !ok {
			_ = app.Close()
		}
	}()

	backend := o.backend
	if backend == nil {
		var err error
		if backend, err = app.openBackend(ctx); err != nil {
			return nil, err
		}
	}
	app.Backend = backend

	storeOpts := []keystore.Option{keystore.WithMetrics(app.Metrics)}
	if o.clock != nil {
		storeOpts = append(storeOpts, keystore.WithClock(o.clock))
	}
	app.Store = keystore.New(storage.NewJSONStore(backend), logger, storeOpts...)
	if err := app.Store.Load(ctx); err != nil {
		logger.Warn().Err(err).Str("backend", backend.Name()).Msg("Continuing with an empty key store")
	}

	if cfg.Database.Enabled() {
		repos, err := OpenDatabase(ctx, cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		app.Repos = repos
		app.closers = append(app.closers, repos)
	}

	app.Platform = o.platform
	if app.Platform == nil {
		app.Platform = NewPlatform(cfg.Platform, logger)
	}
	app.Notifier = platform.NewNotifier(app.Platform, cfg.Platform.LogChannelID, cfg.Platform.StatusChannelID, app.Metrics, logger)

	revoker := service.NewRoleRevoker(app.Store, app.Platform, cfg.Platform.PremiumRoleID, app.Metrics, logger)

	keysCfg := service.DefaultKeyServiceConfig()
	keysCfg.PremiumRoleID = cfg.Platform.PremiumRoleID
	keysCfg.RoleGrantTimeout = cfg.Keys.RoleGrantTimeout
	if app.Repos != nil {
		app.Sync = service.NewSyncService(app.Store, app.Repos.Keys, app.Metrics, logger)
	}
	app.Keys = service.NewKeyService(app.Store, app.Platform, revoker, app.Sync, app.Locker, app.Notifier, app.Metrics, logger, keysCfg)

	reconcilerCfg := service.DefaultReconcilerConfig()
	reconcilerCfg.Interval = cfg.Reconciler.Interval
	app.Reconciler = service.NewReconciler(app.Store, app.Sync, revoker, app.Platform, app.Notifier, app.Locker, app.Metrics, logger, reconcilerCfg)

	app.authCache = memory.NewCache(auth.DefaultVerifiedTTL)

	ok = true
	return app, nil
}

func (a *App) openBackend(ctx context.Context) (storage.Backend, error) {
	cfg := a.Config.Store
	switch cfg.Backend {
	case "file":
		return filesystem.NewBackend(filesystem.Config{Path: cfg.Path}, a.Logger)

	case "redis":
		rc := a.Config.Redis
		a.redisClient = redis.NewClient(&redis.Options{
			Addr:        rc.Addr(),
			Password:    rc.Password,
			DB:          rc.DB,
			PoolSize:    rc.PoolSize,
			DialTimeout: rc.DialTimeout,
		})
		backend := redisstore.NewBackend(a.redisClient, cfg.RedisKey, a.Logger)
		// An unreachable redis degrades the store instead of stopping startup.
		// The client reconnects on its own and health reports the outage.
		if err := backend.Ping(ctx); err != nil {
			a.Logger.Warn().Err(err).Str("addr", rc.Addr()).Msg("Redis is unreachable, starting degraded")
		}
		return backend, nil

	case "s3":
		client, err := s3store.NewClient(ctx, s3store.Config{
			Bucket:          cfg.S3.Bucket,
			Key:             cfg.S3.Key,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			UsePathStyle:    cfg.S3.UsePathStyle,
		})
		if err != nil {
			return nil, err
		}
		return s3store.NewBackend(client, cfg.S3.Bucket, cfg.S3.Key, a.Logger)

	default:
		return nil, fmt.Errorf("unsupported store backend: %q", cfg.Backend)
	}
}

// OpenDatabase connects to the configured secondary store and applies pending migrations.
func OpenDatabase(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (*repository.Repositories, error) {
	switch cfg.Driver {
	case "sqlite":
		return sqlite.Open(ctx, sqliteConfig(cfg), logger)
	case "postgres":
		return postgres.Open(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported database driver: %q", cfg.Driver)
	}
}

// OpenMigrator connects to the configured secondary store without migrating.
// The returned closer releases the connection.
func OpenMigrator(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (repository.Migrator, io.Closer, error) {
	switch cfg.Driver {
	case "sqlite":
		db, err := sqlite.NewDB(ctx, sqliteConfig(cfg), logger)
		if err != nil {
			return nil, nil, err
		}
		m, err := db.Migrator()
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return m, db, nil

	case "postgres":
		db, err := postgres.NewDB(ctx, cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		m, err := db.Migrator()
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return m, db, nil

	default:
		return nil, nil, fmt.Errorf("unsupported database driver: %q", cfg.Driver)
	}
}

func sqliteConfig(cfg config.DatabaseConfig) sqlite.Config {
	c := sqlite.DefaultConfig(cfg.Path)
	if cfg.JournalMode != "" {
		c.JournalMode = cfg.JournalMode
	}
	if cfg.BusyTimeout > 0 {
		c.BusyTimeout = cfg.BusyTimeout
	}
	if cfg.SynchronousMode != "" {
		c.SynchronousMode = cfg.SynchronousMode
	}
	if cfg.ConnMaxLifetime > 0 {
		c.ConnMaxLifetime = cfg.ConnMaxLifetime
	}
	return c
}

// NewPlatform builds the configured platform client.
func NewPlatform(cfg config.PlatformConfig, logger zerolog.Logger) platform.Client {
	if cfg.Driver == "discord" {
		return platform.NewDiscordClient(platform.DiscordConfig{
			Token:    cfg.Token,
			APIBase:  cfg.APIBase,
			GuildIDs: cfg.GuildIDs,
			Timeout:  cfg.RequestTimeout,
			RetryMax: cfg.RetryMax,
		}, logger)
	}
	logger.Warn().Msg("Using the log-only platform driver, no roles will be changed remotely")
	return platform.NewMemoryClient(cfg.GuildIDs, logger)
}

// Handler builds the HTTP API.
func (a *App) Handler() http.Handler {
	checks := map[string]handler.HealthChecker{
		"store": handler.HealthCheckFunc(func(context.Context) error { return a.Keys.PersistError() }),
	}
	if a.Repos != nil {
		checks["database"] = a.Repos.Database
	}
	if rb, ok := a.Backend.(*redisstore.Backend); ok {
		checks["redis"] = handler.HealthCheckFunc(rb.Ping)
	}

	return handler.NewRouter(handler.Dependencies{
		Keys:       a.Keys,
		Sync:       a.Sync,
		Reconciler: a.Reconciler,
		Metrics:    a.Metrics,
		AuthMiddleware: auth.Middleware(auth.Config{
			TokenHash: a.Config.Auth.AdminTokenHash,
			Cache:     a.authCache,
		}, a.Logger),
		HealthChecks: checks,
		MaxBodySize:  a.Config.Server.MaxBodySize,
		Logger:       a.Logger,
	})
}

// MetricsServer builds the metrics server, or returns nil when metrics are disabled.
func (a *App) MetricsServer() *metrics.Server {
	if a.Metrics == nil {
		return nil
	}
	return metrics.NewServer(a.Config.Server.Host, a.Config.Metrics.Port, a.Config.Metrics.Path, a.Metrics, a.Logger)
}

// Close releases every resource held by the app.
func (a *App) Close() error {
	if a.Reconciler != nil {
		a.Reconciler.Stop()
	}
	if a.Locker != nil {
		a.Locker.Stop()
	}
	if a.authCache != nil {
		a.authCache.Stop()
	}

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	a.redisClient = nil
	return errors.Join(errs...)
}
