package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/pricebook/pricebook/internal/observability"
	"github.com/pricebook/pricebook/internal/platform/cache"
	"github.com/pricebook/pricebook/internal/platform/db"
	"github.com/pricebook/pricebook/internal/pricing"
	"github.com/pricebook/pricebook/internal/pricing/memstore"
	"github.com/pricebook/pricebook/internal/rbac"
	"github.com/pricebook/pricebook/internal/shared"
	"github.com/pricebook/pricebook/internal/sqlitestore"
	"github.com/pricebook/pricebook/internal/users"
	"github.com/pricebook/pricebook/migrations"
)

// cacheNamespace prefixes every cached read result.
const cacheNamespace = "pricebook:records"

// Container holds the services shared by the API server and the worker.
type Container struct {
	Config  *Config
	Logger  *slog.Logger
	Metrics *observability.Metrics

	Pool   *pgxpool.Pool
	SQLite *sqlitestore.DB
	Redis  *redis.Client

	Store       pricing.Store
	Users       *users.Service
	Router      *pricing.Router
	Ingestor    *pricing.Ingestor
	Editor      *pricing.Editor
	Notifier    pricing.Notifier
	Subscriber  pricing.Subscriber
	Idempotency pricing.IdempotencyChecker
	// IdempotencyStore is set for the postgres driver, whose keys need periodic cleanup.
	IdempotencyStore *shared.IdempotencyStore
	RBAC             rbac.Middleware

	closers []func()
}

// Build opens the configured store and Redis, then wires the pricing services.
// Redis is optional: without it reads are not cached and change events stay in process.
func Build(ctx context.Context, cfg *Config, logger *slog.Logger) (*Container, error) {
	c := &Container{Config: cfg, Logger: logger, Metrics: observability.NewMetrics()}

	var (
		userRepo users.RepositoryPort
		audit    pricing.AuditPort = shared.NewLogAuditLogger(logger)
	)
	switch cfg.StoreDriver {
	case DriverPostgres:
		pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns})
		if err != nil {
			return nil, err
		}
		c.addCloser(pool.Close)
		if cfg.PGMigrate {
			if err := db.Migrate(ctx, pool, migrations.FS); err != nil {
				c.Close()
				return nil, err
			}
		}
		c.Pool = pool
		c.Store = pricing.NewRepository(pool)
		userRepo = users.NewRepository(pool)
		audit = shared.NewAuditLogger(pool)
		c.IdempotencyStore = shared.NewIdempotencyStore(pool)
		c.Idempotency = c.IdempotencyStore
	case DriverSQLite:
		sqlite, err := sqlitestore.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		c.addCloser(func() { _ = sqlite.Close() })
		c.SQLite = sqlite
		c.Store = sqlite.Records()
		userRepo = sqlite.Users()
	case DriverMemory:
		c.Store = memstore.New()
		userRepo = users.NewMemoryRepository()
	default:
		return nil, fmt.Errorf("app: unsupported store driver %q", cfg.StoreDriver)
	}

	var readCache pricing.ReadCache
	redisClient, err := c.connectRedis(ctx)
	if err != nil {
		logger.Warn("redis unavailable, running without cache", slog.Any("error", err))
	}
	if redisClient == nil {
		local := pricing.NewLocalNotifier()
		c.Notifier, c.Subscriber = local, local
	} else {
		c.addCloser(func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		})
		c.Redis = redisClient
		versioned := cache.NewVersioned(redisClient, cacheNamespace, cfg.CacheTTL)
		readCache = versioned
		notifier := pricing.NewRedisNotifier(redisClient, versioned, logger)
		c.Notifier, c.Subscriber = notifier, notifier
		if c.Idempotency == nil {
			c.Idempotency = shared.NewRedisIdempotencyStore(redisClient, cfg.IdempotencyRetention)
		}
	}

	c.Users = users.NewService(userRepo)
	if err := c.Users.EnsureAdmin(ctx, cfg.BootstrapAdminUID, cfg.BootstrapAdminEmail); err != nil {
		c.Close()
		return nil, fmt.Errorf("app: bootstrap admin: %w", err)
	}

	deps := pricing.IngestDeps{
		Notifier: c.Notifier,
		Audit:    audit,
		Metrics:  c.Metrics.Jobs(),
		Logger:   logger,
	}
	c.Router = pricing.NewRouter(c.Store, readCache, logger)
	c.Ingestor = pricing.NewIngestor(c.Store, deps, pricing.IngestConfig{
		BatchSize: cfg.ImportBatchSize,
		MaxRows:   cfg.ImportMaxRows,
	})
	c.Editor = pricing.NewEditor(c.Store, deps)
	c.RBAC = rbac.Middleware{
		Identity:    c.Users,
		Logger:      logger,
		UIDHeader:   cfg.IdentityUIDHeader,
		EmailHeader: cfg.IdentityEmailHeader,
	}
	return c, nil
}

func (c *Container) connectRedis(ctx context.Context) (*redis.Client, error) {
	if c.Config.RedisAddr == "" {
		return nil, nil
	}
	return cache.New(ctx, cache.Options{Addr: c.Config.RedisAddr, Password: c.Config.RedisPassword, DB: c.Config.RedisDB})
}

func (c *Container) addCloser(fn func()) {
	c.closers = append(c.closers, fn)
}

// Close releases connections in reverse order of acquisition.
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}
