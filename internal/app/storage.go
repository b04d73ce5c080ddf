package app

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/autoparts/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/autoparts/internal/health"
	"github.com/vladislavdragonenkov/autoparts/internal/storage/memory"
	"github.com/vladislavdragonenkov/autoparts/internal/storage/mongo"
	"github.com/vladislavdragonenkov/autoparts/internal/storage/postgres"
	"github.com/vladislavdragonenkov/autoparts/internal/storage/redis"
)

// runtimeDependencies — репозитории выбранного драйвера и их проверки готовности.
type runtimeDependencies struct {
	repo            domain.OrderRepository
	catalog         domain.CatalogStore
	timelineRepo    domain.TimelineRepository
	outboxRepo      domain.OutboxRepository
	idempotencyRepo domain.IdempotencyRepository

	checkers map[string]healthcheck.Checker
	closers  []func(context.Context) error
}

func (d *runtimeDependencies) addCloser(fn func(context.Context) error) {
	d.closers = append(d.closers, fn)
}

// Close закрывает подключения в обратном порядке открытия.
func (d *runtimeDependencies) Close(ctx context.Context) error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	deps := &runtimeDependencies{checkers: make(map[string]healthcheck.Checker)}

	var err error
	switch cfg.StorageDriver {
	case "", StorageDriverMemory:
		initMemory(deps)
	case StorageDriverPostgres:
		err = initPostgres(ctx, cfg, deps, logger)
	case StorageDriverMongo:
		err = initMongo(ctx, cfg, deps, logger)
	default:
		err = fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
	if err != nil {
		_ = deps.Close(context.WithoutCancel(ctx))
		return nil, err
	}

	if cfg.RedisAddr != "" {
		client, err := redis.NewClient(ctx, cfg.RedisAddr)
		if err != nil {
			_ = deps.Close(context.WithoutCancel(ctx))
			return nil, err
		}
		deps.idempotencyRepo = redis.NewIdempotencyRepository(client)
		deps.checkers["redis"] = healthcheck.NewPingChecker("redis", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
		deps.addCloser(func(context.Context) error { return closeRedis(client) })
		logger.WithField("addr", cfg.RedisAddr).Info("idempotency keys stored in redis")
	}
	return deps, nil
}

func initMemory(deps *runtimeDependencies) {
	deps.repo = memory.NewOrderRepository()
	deps.catalog = memory.NewCatalogStore()
	deps.timelineRepo = memory.NewTimelineRepository()
	deps.outboxRepo = memory.NewOutboxRepository()
	deps.idempotencyRepo = memory.NewIdempotencyRepository()
}

func initPostgres(ctx context.Context, cfg Config, deps *runtimeDependencies, logger *log.Entry) error {
	if cfg.PostgresDSN == "" {
		return errors.New("postgres storage requires postgres dsn")
	}
	store, err := postgres.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		return err
	}
	deps.addCloser(func(context.Context) error { return store.Close() })
	store.SetLogger(logger.WithField("component", "postgres"))

	if cfg.PostgresAutoMigrate {
		if err := store.MigrateUp(ctx, 0); err != nil {
			return fmt.Errorf("apply postgres migrations: %w", err)
		}
		logger.Info("postgres migrations applied")
	}

	deps.repo = postgres.NewOrderRepository(store)
	deps.catalog = postgres.NewCatalogStore(store)
	deps.timelineRepo = postgres.NewTimelineRepository(store)
	deps.outboxRepo = postgres.NewOutboxRepository(store)
	deps.idempotencyRepo = postgres.NewIdempotencyRepository(store)
	deps.checkers["postgres"] = healthcheck.NewPingChecker("postgres", store.Ping)
	logger.Info("postgres storage initialized")
	return nil
}

// initMongo: ключи идемпотентности в Mongo не хранятся; без Redis они живут в памяти процесса.
func initMongo(ctx context.Context, cfg Config, deps *runtimeDependencies, logger *log.Entry) error {
	store, err := mongo.Open(ctx, mongo.Config{URI: cfg.MongoURI, Database: cfg.MongoDatabase})
	if err != nil {
		return err
	}
	deps.addCloser(store.Close)

	deps.repo = mongo.NewOrderRepository(store)
	deps.catalog = mongo.NewCatalogStore(store)
	deps.timelineRepo = mongo.NewTimelineRepository(store)
	deps.outboxRepo = mongo.NewOutboxRepository(store)
	deps.idempotencyRepo = memory.NewIdempotencyRepository()
	deps.checkers["mongo"] = healthcheck.NewPingChecker("mongo", store.Ping)
	logger.WithField("database", cfg.MongoDatabase).Info("mongo storage initialized")
	return nil
}

func closeRedis(client *goredis.Client) error {
	if err := client.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
		return err
	}
	return nil
}
